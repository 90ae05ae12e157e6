// ABOUTME: Operator subcommands that talk to a running gateway or to Twilio
// ABOUTME: token, health, sessions and send

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/rollcall-gateway/internal/auth"
	"github.com/2389/rollcall-gateway/internal/config"
	"github.com/2389/rollcall-gateway/internal/gateway"
	"github.com/2389/rollcall-gateway/internal/twilio"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// baseURL resolves where the running gateway listens.
func (o *rootOptions) baseURL(cfg *config.Config) string {
	if o.gatewayURL != "" {
		return strings.TrimSuffix(o.gatewayURL, "/")
	}
	// A tsnet gateway has no local listener.
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.Funnel && cfg.Twilio.PublicURL != "" {
			if u, err := url.Parse(cfg.Twilio.PublicURL); err == nil && u.Host != "" {
				return u.Scheme + "://" + u.Host
			}
		}
		return "http://" + cfg.Tailscale.Hostname
	}
	host, port, err := net.SplitHostPort(cfg.Server.HTTPAddr)
	if err != nil {
		return "http://" + cfg.Server.HTTPAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// tokenFile is where token writes and the API commands read the bearer token.
func (o *rootOptions) tokenFile() string {
	if o.tokenPath != "" {
		return o.tokenPath
	}
	return filepath.Join(filepath.Dir(o.configPath), "token")
}

// bearerToken returns ROLLCALL_TOKEN or the saved token file, or "" when neither exists.
func (o *rootOptions) bearerToken() string {
	if t := os.Getenv("ROLLCALL_TOKEN"); t != "" {
		return t
	}
	data, err := os.ReadFile(o.tokenFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var name string
	var ttl time.Duration
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the JSON and debug API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runToken(cmd.OutOrStdout(), cfg, opts.tokenFile(), name, ttl, printOnly)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "token subject, e.g. matrix-bridge (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime, 0 for no expiry")
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the token instead of saving it")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runToken(out io.Writer, cfg *config.Config, tokenPath, name string, ttl time.Duration, printOnly bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("token name cannot be empty or whitespace only")
	}
	if len(name) > 100 {
		return errors.New("token name exceeds maximum length of 100 characters")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(name, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	if printOnly {
		fmt.Fprintln(out, token)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(tokenPath), 0755); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	expires := "never"
	if ttl > 0 {
		expires = time.Now().Add(ttl).UTC().Format("Jan 02, 2006")
	}
	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Saved token: %s\n", tokenPath)
	fmt.Fprintf(out, "  Subject: %s\n", name)
	fmt.Fprintf(out, "  Expires: %s\n", expires)
	return nil
}

// getJSON fetches path from the gateway and decodes the JSON body into v.
func getJSON(ctx context.Context, base, path, token string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			var health gateway.HealthResponse
			if err := getJSON(cmd.Context(), opts.baseURL(cfg), "/health", "", &health); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (version %s, up %s)\n", health.Status, health.Version, health.Uptime)
			return nil
		},
	}
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active conversation sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			var resp gateway.SessionsResponse
			if err := getJSON(cmd.Context(), opts.baseURL(cfg), "/debug/sessions", opts.bearerToken(), &resp); err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func printSessions(out io.Writer, resp gateway.SessionsResponse) {
	if resp.ActiveSessions == 0 {
		fmt.Fprintln(out, "no active sessions")
		return
	}

	users := make([]string, 0, len(resp.Sessions))
	for id := range resp.Sessions {
		users = append(users, id)
	}
	sort.Strings(users)

	fmt.Fprintf(out, "%d active session(s)\n", resp.ActiveSessions)
	for _, id := range users {
		v := resp.Sessions[id]
		who := v.UserName
		if who == "" {
			who = "-"
		}
		fmt.Fprintf(out, "  %-24s %-22s %s\n", id, v.State, who)
	}
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var to, text string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a WhatsApp message through the configured Twilio account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			sender := twilio.NewSender(twilio.SenderOptions{
				AccountSID: cfg.Twilio.AccountSID,
				AuthToken:  cfg.Twilio.AuthToken,
				From:       cfg.Twilio.FromNumber,
				Logger:     setupLogger(cfg.Logging, cmd.ErrOrStderr()),
			})
			sid, err := sender.Send(cmd.Context(), to, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sid)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient, e.g. +15551234567 (required)")
	cmd.Flags().StringVar(&text, "text", "", "message body (required)")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
