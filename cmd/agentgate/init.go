// ABOUTME: Interactive "agentgate init" command
// ABOUTME: Prompts for settings and writes a YAML config file

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/agentgate/internal/config"
)

// initAnswers holds everything runInit collects.
type initAnswers struct {
	HTTPAddr    string
	DBPath      string
	LedgerPath  string
	RuntimeURL  string
	Period      string
	SweepEvery  string
	JWTSecret   string
	Tailscale   bool
	TSHostname  string
	TSAuthKey   string
	TSEphemeral bool
	LogLevel    string
	LogFormat   string
	MetricsOn   bool
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	defaults := config.Default()

	fmt.Fprintln(out, "agentgate configuration setup")
	fmt.Fprintln(out, "=============================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", config.Path())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, out, "HTTP address", defaults.Server.HTTPAddr)

	fmt.Fprintln(out, "\n--- Storage Configuration ---")
	a.LedgerPath = prompt(reader, out, "Subscription ledger path", defaults.Ledger.Path)
	a.DBPath = prompt(reader, out, "SQLite history database path", defaults.Database.Path)

	fmt.Fprintln(out, "\n--- Agent Runtime ---")
	a.RuntimeURL = prompt(reader, out, "Runtime base URL", defaults.Runtime.BaseURL)
	a.Period = prompt(reader, out, "Billing period", defaults.Subscription.PeriodRaw)
	a.SweepEvery = prompt(reader, out, "Sweep interval", defaults.Reconcile.IntervalRaw)

	fmt.Fprintln(out, "\n--- Authentication ---")
	if yes(prompt(reader, out, "Require signed bearer tokens?", "yes")) {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		a.JWTSecret = secret
	}

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	a.Tailscale = yes(prompt(reader, out, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHostname = prompt(reader, out, "Tailscale hostname", "agentgate")
		a.TSAuthKey = prompt(reader, out, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.TSEphemeral = yes(prompt(reader, out, "Ephemeral node?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", defaults.Logging.Level)
	a.LogFormat = prompt(reader, out, "Log format (text/json)", defaults.Logging.Format)
	a.MetricsOn = yes(prompt(reader, out, "Expose Prometheus metrics?", "yes"))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// 0600: the file may hold the jwt secret and tailscale key
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  agentgate serve")
	return nil
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# agentgate configuration\n")
	cfg.WriteString("# Generated by agentgate init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n", a.DBPath)
	cfg.WriteString("\n")

	cfg.WriteString("ledger:\n")
	fmt.Fprintf(&cfg, "  path: %q\n", a.LedgerPath)
	cfg.WriteString("\n")

	cfg.WriteString("subscription:\n")
	fmt.Fprintf(&cfg, "  period: %q\n", a.Period)
	cfg.WriteString("\n")

	cfg.WriteString("runtime:\n")
	fmt.Fprintf(&cfg, "  base_url: %q\n", a.RuntimeURL)
	cfg.WriteString("\n")

	cfg.WriteString("reconcile:\n")
	cfg.WriteString("  enabled: true\n")
	fmt.Fprintf(&cfg, "  interval: %q\n", a.SweepEvery)
	cfg.WriteString("\n")

	if a.JWTSecret != "" {
		cfg.WriteString("auth:\n")
		fmt.Fprintf(&cfg, "  jwt_secret: %q\n", a.JWTSecret)
		cfg.WriteString("\n")
	}

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TSHostname)
		if a.TSAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", a.TSAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", a.TSEphemeral)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.MetricsOn)
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
