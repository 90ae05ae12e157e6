// Package config handles configuration loading for rollcall-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Every unset value gets a default, and the result is validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ROLLCALL_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/rollcall/gateway.yaml
//  3. ~/.config/rollcall/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	twilio:
//	  auth_token: "${TWILIO_AUTH_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	backend:
//	  url: "https://attendance.example.edu/api"
//	  timeout: "30s"
//	  max_attempts: 3
//	  retry_delay: "1s"
//
//	sessions:
//	  ttl: "30m"
//	  sweep_interval: "1m"
//	  lock_wait: "5s"
//
//	bot:
//	  message_deadline: "12s"   # must stay under Twilio's 15s webhook timeout
//	  max_reply_length: 1600
//
//	login:
//	  min_interval: "5s"
//	  max_attempts: 5
//	  lockout: "15m"
//
//	dedupe:
//	  ttl: "10m"
//	  max_size: 10000
//
//	database:
//	  path: "/var/lib/rollcall/ledger.db"   # empty disables the ledger
//
//	auth:
//	  jwt_secret: "${ROLLCALL_JWT_SECRET}"  # protects /api and /debug
//
//	twilio:
//	  account_sid: "${TWILIO_ACCOUNT_SID}"
//	  auth_token: "${TWILIO_AUTH_TOKEN}"
//	  from_number: "whatsapp:+14155238886"
//	  public_url: "https://rollcall.example.ts.net/webhook/twilio"
//	  validate_signature: true
//	  reply_mode: "twiml"   # twiml, rest
//
//	tailscale:
//	  enabled: false
//	  hostname: "rollcall"
//	  funnel: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
