// ABOUTME: Gateway orchestrator that wires the dialogue service to its HTTP surface
// ABOUTME: Manages the session sweeper, ledger, listeners and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/rollcall-gateway/internal/auth"
	"github.com/2389/rollcall-gateway/internal/backend"
	"github.com/2389/rollcall-gateway/internal/config"
	"github.com/2389/rollcall-gateway/internal/conversation"
	"github.com/2389/rollcall-gateway/internal/dedupe"
	"github.com/2389/rollcall-gateway/internal/session"
	"github.com/2389/rollcall-gateway/internal/store"
	"github.com/2389/rollcall-gateway/internal/twilio"
)

// Version is reported by /health. Set at build time with -ldflags.
var Version = "dev"

// sendTimeout bounds the REST send that follows a background reply.
const sendTimeout = 10 * time.Second

// messageSender delivers a reply outside the webhook response.
type messageSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Gateway orchestrates the rollcall-gateway server components.
type Gateway struct {
	config      *config.Config
	sessions    *session.Store
	service     *conversation.Service
	ledger      store.Ledger // nil when the ledger is disabled
	replies     *dedupe.Cache
	broadcaster *conversation.Broadcaster
	sender      messageSender
	verifier    *auth.JWTVerifier // nil when auth is disabled
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
	now         func() time.Time
	startedAt   time.Time

	// background tracks replies sent over REST after the webhook returned
	background sync.WaitGroup
	draining   atomic.Bool
}

// initStore opens the ledger, or returns nil when database.path is empty.
func initStore(cfg *config.Config) (store.Ledger, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("ROLLCALL_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return nil, nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newBackendClient creates the attendance service client from config.
func newBackendClient(cfg *config.Config, logger *slog.Logger) *backend.HTTPClient {
	return backend.NewHTTPClient(cfg.Backend.URL, backend.HTTPClientOptions{
		Timeout: cfg.Backend.Timeout,
		Retry: backend.RetryPolicy{
			MaxAttempts: cfg.Backend.MaxAttempts,
			BaseDelay:   cfg.Backend.RetryDelay,
		},
		Logger: logger,
	})
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	ledger, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := newGateway(cfg, newBackendClient(cfg, logger), ledger, logger)
	if err != nil {
		if ledger != nil {
			_ = ledger.Close()
		}
		return nil, err
	}
	return gw, nil
}

// newGateway assembles a Gateway around an already built client and ledger.
// ledger may be nil.
func newGateway(cfg *config.Config, client backend.Client, ledger store.Ledger, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sessions := session.NewStore(session.Options{
		TTL:           cfg.Sessions.TTL,
		SweepInterval: cfg.Sessions.SweepInterval,
		LockWait:      cfg.Sessions.LockWait,
		Logger:        logger,
	})
	replies := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	broadcaster := conversation.NewBroadcaster(logger)

	service := conversation.New(conversation.Options{
		Sessions: sessions,
		Client:   client,
		Limiter: auth.Limiter{
			MinInterval: cfg.Login.MinInterval,
			MaxAttempts: cfg.Login.MaxAttempts,
			Lockout:     cfg.Login.Lockout,
		},
		Ledger:         ledger,
		Replies:        replies,
		Broadcaster:    broadcaster,
		Deadline:       cfg.Bot.MessageDeadline,
		MaxReplyLength: cfg.Bot.MaxReplyLength,
		Logger:         logger,
	})

	gw := &Gateway{
		config:      cfg,
		sessions:    sessions,
		service:     service,
		ledger:      ledger,
		replies:     replies,
		broadcaster: broadcaster,
		sender: twilio.NewSender(twilio.SenderOptions{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			From:       cfg.Twilio.FromNumber,
			Logger:     logger,
		}),
		logger:    logger.With("component", "gateway"),
		now:       time.Now,
		startedAt: time.Now(),
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			replies.Close()
			broadcaster.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		gw.verifier = verifier
		gw.logger.Info("HTTP auth middleware enabled")
	} else {
		gw.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
	if ledger == nil {
		gw.logger.Warn("ledger disabled - no database.path configured")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Service returns the dialogue service.
func (g *Gateway) Service() *conversation.Service {
	return g.service
}

// setupTCPListener creates the standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and the session sweeper and blocks until the
// context is canceled. Returns nil on graceful shutdown, or an error if
// the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go g.sessions.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The original context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Bot.MessageDeadline+sendTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "rollcall-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it. With funnel
// enabled the listener is public HTTPS, which is what Twilio needs to reach
// the webhook.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs the node address and the webhook URL Twilio should call.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	if dnsName != "" && g.config.Tailscale.Funnel {
		webhook := "https://" + dnsName + webhookPath
		if g.config.Twilio.PublicURL != "" && g.config.Twilio.PublicURL != webhook {
			g.logger.Warn("twilio.public_url does not match the funnel address; signatures will fail",
				"public_url", g.config.Twilio.PublicURL, "funnel_url", webhook)
		}
		g.logger.Info("point the Twilio webhook here", "url", webhook)
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// waitBackground waits for in-flight REST replies or until ctx is done.
func (g *Gateway) waitBackground(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pending replies: %w", ctx.Err())
	}
}

// Shutdown gracefully stops the HTTP server, waits for background replies
// and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.draining.Store(true)

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "background replies", g.waitBackground(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.ledger != nil {
		errs = appendCloseError(errs, "store close", g.ledger.Close())
	}

	g.replies.Close()
	g.broadcaster.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
