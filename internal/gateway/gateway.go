// ABOUTME: Gateway orchestrator that coordinates the HTTP server and reconciliation loop
// ABOUTME: Wires the ledger, subscription service, runtime client, and history store

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
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/agentgate/internal/agentruntime"
	"github.com/2389/agentgate/internal/auth"
	"github.com/2389/agentgate/internal/config"
	"github.com/2389/agentgate/internal/dedupe"
	"github.com/2389/agentgate/internal/reconcile"
	"github.com/2389/agentgate/internal/store"
	"github.com/2389/agentgate/internal/subscription"
)

const (
	idempotencyTTL     = 24 * time.Hour
	idempotencyMaxKeys = 100_000
)

// Gateway orchestrates the agentgate server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	ledger        *subscription.FileStore
	subscriptions *subscription.Service
	runtime       *agentruntime.Client
	loop          *reconcile.Loop
	idempotency   *dedupe.Cache[storedResponse]
	resolver      *auth.Resolver
	httpServer    *http.Server
	tsnetServer   *tsnet.Server
	logger        *slog.Logger
}

// initStore opens the history store. AGENTGATE_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AGENTGATE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newResolver picks JWT or header identities depending on auth config.
func newResolver(cfg *config.Config, logger *slog.Logger) *auth.Resolver {
	if cfg.Auth.JWTSecret != "" {
		logger.Info("identities resolved from bearer tokens")
		return auth.NewResolver(auth.NewTokens([]byte(cfg.Auth.JWTSecret)), cfg.Auth.IdentityHeader)
	}
	header := cfg.Auth.IdentityHeader
	if header == "" {
		header = auth.DefaultIdentityHeader
	}
	logger.Warn("no jwt_secret configured - trusting identity header", "header", header)
	return auth.NewResolver(nil, header)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := newGateway(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func newGateway(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	ledger := subscription.NewFileStore(cfg.Ledger.Path, logger)
	if err := ledger.Init(); err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}

	subs := subscription.NewService(ledger,
		subscription.WithPeriod(cfg.Subscription.Period),
		subscription.WithUnitCost(cfg.Subscription.UnitCost, cfg.Subscription.Currency),
		subscription.WithObserver(newHistoryObserver(s, logger)),
		subscription.WithLogger(logger),
	)

	rt, err := agentruntime.NewClient(agentruntime.Config{
		BaseURL: cfg.Runtime.BaseURL,
		Timeout: cfg.Runtime.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating runtime client: %w", err)
	}

	loop, err := reconcile.New(reconcile.Config{
		Runtime:  rt,
		Ledger:   ledger,
		History:  s,
		Interval: cfg.Reconcile.Interval,
		Timeout:  cfg.Runtime.Timeout,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating reconciliation loop: %w", err)
	}

	gw := &Gateway{
		config:        cfg,
		store:         s,
		ledger:        ledger,
		subscriptions: subs,
		runtime:       rt,
		loop:          loop,
		idempotency:   dedupe.New[storedResponse](idempotencyTTL, idempotencyMaxKeys),
		resolver:      newResolver(cfg, logger),
		logger:        logger.With("component", "gateway"),
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

// Loop returns the reconciliation loop.
func (g *Gateway) Loop() *reconcile.Loop {
	return g.loop
}

// Run starts the HTTP server and the reconciliation loop and blocks until the
// context is canceled or a server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, err := g.setupListener(ctx)
	if err != nil {
		_ = g.closeResources()
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if g.config.Reconcile.Enabled {
		eg.Go(func() error {
			return g.loop.Run(egCtx)
		})
	} else {
		g.logger.Warn("reconciliation loop disabled")
	}

	// Stopping the HTTP server unblocks Serve once the context ends, whichever side ended it.
	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	serverErr := eg.Wait()
	closeErr := g.closeResources()
	if serverErr != nil {
		return serverErr
	}
	return closeErr
}

// gracefulShutdown stops the HTTP server with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
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
	return filepath.Join(homeDir, ".local", "share", "agentgate", "tailscale"), nil
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

// setupTailscaleListener joins the tailnet and listens on :80 there.
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

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeResources releases the tailnet node and the history store.
func (g *Gateway) closeResources() error {
	g.idempotency.Close()

	var errs []error
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and releases resources.
// Used when the gateway was never Run or is stopped from outside Run.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if err := g.closeResources(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
