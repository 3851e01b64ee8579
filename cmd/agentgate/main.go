// ABOUTME: Entry point for the agentgate subscription gateway
// ABOUTME: Serves the HTTP API and runs one-shot maintenance commands

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/agentgate/internal/auth"
	"github.com/2389/agentgate/internal/config"
	"github.com/2389/agentgate/internal/gateway"
	"github.com/2389/agentgate/internal/subscription"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _              _
  __ _  __ _  ___ _ __ | |_ __ _  __ _| |_ ___
 / _' |/ _' |/ _ \ '_ \| __/ _' |/ _' | __/ _ \
| (_| | (_| |  __/ | | | || (_| | (_| | ||  __/
 \__,_|\__, |\___|_| |_|\__\__, |\__,_|\__\___|
       |___/               |___/
`

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(args, os.Stdout)
	case "status":
		err = runStatus(ctx, args, os.Stdout)
	case "sweep":
		err = runSweep(ctx, os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: agentgate <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                       Start the gateway server")
	fmt.Fprintln(w, "  init                        Create a new config file interactively")
	fmt.Fprintln(w, "  health                      Check gateway health")
	fmt.Fprintln(w, "  token --identity ID         Issue a bearer token for an identity")
	fmt.Fprintln(w, "  status --identity ID        Show an identity's subscription")
	fmt.Fprintln(w, "  sweep                       Run one reconciliation sweep and exit")
	fmt.Fprintln(w, "  version                     Print the version")
}

func loadConfig() (*config.Config, string, error) {
	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	gateway.Version = version

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:    %s\n", cfg.Ledger.Path)
	green.Print("    ▶ ")
	fmt.Printf("Runtime:   %s\n", cfg.Runtime.BaseURL)
	green.Print("    ▶ ")
	if cfg.Reconcile.Enabled {
		fmt.Printf("Sweep:     every %s\n", cfg.Reconcile.Interval)
	} else {
		fmt.Print("Sweep:     ")
		yellow.Println("disabled")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Printf("    ! identities are trusted from the %s header\n", cfg.Auth.IdentityHeader)
	}

	fmt.Println()

	logger.Info("starting agentgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"ledger", cfg.Ledger.Path,
		"runtime", cfg.Runtime.BaseURL,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runToken issues a bearer token signed with the configured jwt_secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	identity := fs.String("identity", "", "identity to embed in the sub claim")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *identity == "" {
		return fmt.Errorf("--identity is required")
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s", configPath)
	}

	return issueToken(out, cfg.Auth.JWTSecret, *identity, *ttl)
}

func issueToken(out io.Writer, secret, identity string, ttl time.Duration) error {
	token, err := auth.NewTokens([]byte(secret)).Issue(identity, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// runStatus reads the ledger directly, so it works while the server is down.
func runStatus(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	identity := fs.String("identity", "", "identity to look up")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *identity == "" {
		return fmt.Errorf("--identity is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	ledger := subscription.NewFileStore(cfg.Ledger.Path, logger)
	svc := subscription.NewService(ledger, subscription.WithPeriod(cfg.Subscription.Period))

	st, err := svc.Status(ctx, *identity)
	if err != nil {
		return err
	}
	printStatus(out, st)
	return nil
}

func printStatus(out io.Writer, st *subscription.Status) {
	fmt.Fprintf(out, "Identity:  %s\n", st.Identity)
	switch {
	case st.Active:
		fmt.Fprintf(out, "Status:    %s\n", color.GreenString("active"))
		fmt.Fprintf(out, "Expires:   %s (%s left)\n", st.Expiry.UTC().Format(time.RFC3339), st.Remaining.Truncate(time.Second))
	case st.Subscribed:
		fmt.Fprintf(out, "Status:    %s\n", color.RedString("expired"))
		fmt.Fprintf(out, "Expired:   %s\n", st.Expiry.UTC().Format(time.RFC3339))
	default:
		fmt.Fprintf(out, "Status:    %s\n", color.YellowString("never subscribed"))
	}
}

// runSweep performs a single reconciliation pass with the serve configuration.
func runSweep(ctx context.Context, out io.Writer) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer func() { _ = gw.Shutdown(context.Background()) }()

	res := gw.Loop().Sweep(ctx)
	if res.ListErr != nil {
		return fmt.Errorf("listing agents: %w", res.ListErr)
	}

	fmt.Fprintf(out, "Listed %d, active %d, stopped %d, failed %d (%s)\n",
		res.Listed, res.Active, res.Stopped, res.Failed, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	for _, o := range res.Outcomes {
		owner := o.Owner
		if owner == "" {
			owner = "-"
		}
		switch {
		case o.Err != nil:
			fmt.Fprintf(out, "  %s %s owner=%s: %v\n", color.RedString("✗"), o.AgentID, owner, o.Err)
		case o.Stopped:
			fmt.Fprintf(out, "  %s %s owner=%s stopped\n", color.YellowString("■"), o.AgentID, owner)
		default:
			fmt.Fprintf(out, "  %s %s owner=%s\n", color.GreenString("✓"), o.AgentID, owner)
		}
	}
	return nil
}
