// ABOUTME: Interactive config file creation for rollcall-gateway
// ABOUTME: Prompts for each section and writes a validated YAML config

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/rollcall-gateway/internal/config"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), opts.configPath)
		},
	}
}

func runInit(in io.Reader, out io.Writer, defaultConfigPath string) error {
	reader := bufio.NewReader(in)
	p := prompter{reader: reader, out: out}

	fmt.Fprintln(out, "rollcall-gateway configuration setup")
	fmt.Fprintln(out, "====================================")
	fmt.Fprintln(out)

	outputFile := p.ask("Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !p.confirm("File exists. Overwrite?", false) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg := config.Default()

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = p.ask("HTTP address", "localhost:8080")

	fmt.Fprintln(out, "\n--- Attendance Backend ---")
	cfg.Backend.URL = p.ask("Backend API base URL", "http://localhost:5000/api")
	cfg.Backend.MaxAttempts = p.askInt("Attempts per backend call", cfg.Backend.MaxAttempts)

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	cfg.Database.Path = p.ask("SQLite ledger path (empty to disable)", filepath.Join(getDataPath(), "gateway.db"))

	fmt.Fprintln(out, "\n--- Twilio Configuration ---")
	cfg.Twilio.AccountSID = p.ask("Account SID (leave empty for inline replies only)", "")
	if cfg.Twilio.AccountSID != "" {
		cfg.Twilio.AuthToken = p.ask("Auth token", "")
		cfg.Twilio.FromNumber = p.ask("WhatsApp sender", "whatsapp:+14155238886")
		cfg.Twilio.ReplyMode = p.ask("Reply mode (twiml/rest)", config.ReplyModeTwiML)
		cfg.Twilio.PublicURL = p.ask("Public webhook URL (for signature checks)", "")
		cfg.Twilio.ValidateSignature = cfg.Twilio.PublicURL != "" && p.confirm("Validate webhook signatures?", true)
	}

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	cfg.Tailscale.Enabled = p.confirm("Enable Tailscale?", false)
	if cfg.Tailscale.Enabled {
		cfg.Tailscale.Hostname = p.ask("Tailscale hostname", "rollcall")
		cfg.Tailscale.AuthKey = p.ask("Tailscale auth key (leave empty for interactive)", "")
		cfg.Tailscale.Ephemeral = p.confirm("Ephemeral node?", false)
		cfg.Tailscale.Funnel = p.confirm("Enable Funnel (public HTTPS for Twilio)?", true)
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	cfg.Logging.Level = p.ask("Log level (debug/info/warn/error)", "info")
	cfg.Logging.Format = p.ask("Log format (text/json)", "text")

	secret, err := generateSecret()
	if err != nil {
		return err
	}
	cfg.Auth.JWTSecret = secret

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	header := "# rollcall-gateway configuration\n# Generated by rollcall-gateway init\n\n"

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the signing secret and Twilio credentials.
	if err := os.WriteFile(outputFile, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  rollcall-gateway token --name matrix-bridge   # token for the JSON API")
	fmt.Fprintln(out, "  rollcall-gateway serve")

	return nil
}

// generateSecret returns a random base64 signing secret.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
}

func (p prompter) ask(question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}

	input, err := p.reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// EOF keeps the default
		fmt.Fprintln(p.out)
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}

func (p prompter) confirm(question string, defaultVal bool) bool {
	def := "no"
	if defaultVal {
		def = "yes"
	}
	switch strings.ToLower(p.ask(question, def)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return defaultVal
	}
}

func (p prompter) askInt(question string, defaultVal int) int {
	raw := p.ask(question, strconv.Itoa(defaultVal))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultVal
	}
	return n
}
