// Package gateway orchestrates the rollcall-gateway server components.
//
// # Overview
//
// The gateway owns the session store, the dialogue service, the optional
// SQLite ledger, the reply dedupe cache and the HTTP server. Transports only
// translate between their envelope and conversation.Inbound/Reply.
//
// # HTTP API
//
// Public:
//
//	GET  /health          liveness, version and uptime
//	GET  /health/ready    active session count; 503 while draining
//	POST /webhook/twilio  Twilio messaging webhook (form in, TwiML out)
//
// Bearer token required when auth.jwt_secret is set:
//
//	POST /api/message     {"user_id","text","message_id"} -> {"reply_text"}
//	GET  /debug/sessions  sanitized session dump, tokens masked
//	GET  /debug/ledger    recorded exchanges (?user_id=&limit=&since=)
//	GET  /debug/commits   confirmed attendance writes (?class_session_id=&limit=)
//	GET  /debug/stream    Server-Sent Events of exchanges as they happen
//
// # Reply Modes
//
// With twilio.reply_mode "twiml" the webhook blocks on the dialogue service
// and returns the reply inline. With "rest" it acknowledges with an empty
// TwiML document at once and sends the reply through the REST API when it is
// ready. A redelivered MessageSid is never answered twice.
//
// # Listeners
//
// Without Tailscale the server listens on server.http_addr. With
// tailscale.enabled it joins the tailnet through tsnet, and tailscale.funnel
// exposes the webhook over public HTTPS on :443.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown stops accepting requests, waits for background replies, then
// closes the tailnet node and the ledger.
package gateway
