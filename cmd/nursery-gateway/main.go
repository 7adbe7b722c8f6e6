// ABOUTME: Entry point for nursery-gateway, the household tracker's auth and API server
// ABOUTME: Dispatches the serve, init, set-admin-password, token, setup-token and health subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/nursery-gateway/internal/config"
	"github.com/2389/nursery-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                     _
 _ __  _   _ _ __ ___  ___ _ __ _   _    __ _  __ _| |_ _____      ____ _ _   _
| '_ \| | | | '__/ __|/ _ \ '__| | | |  / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | | |_| | |  \__ \  __/ |  | |_| | | (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_| |_|\__,_|_|  |___/\___|_|   \__, |  \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                |___/   |___/                             |___/
`

const usage = `Usage: nursery-gateway <command> [flags]

Commands:
  serve                                Start the gateway server
  init [--force]                       Write a default config with fresh secrets
  set-admin-password [--password PW]   Store the system administrator password
  token [--ttl DURATION]               Print a system administrator token
  setup-token [--family ID] [--ttl D]  Create a one-time family setup token
  health                               Check gateway readiness
`

// getConfigPath returns the path to the gateway config file.
// Priority: NURSERY_CONFIG env var > XDG_CONFIG_HOME/nursery/gateway.yaml > ~/.config/nursery/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("NURSERY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "nursery", "gateway.yaml")
}

// getDataPath returns the nursery data directory.
// Priority: XDG_DATA_HOME/nursery > ~/.local/share/nursery
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "nursery")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return runServe(ctx, out)
	case "init":
		return runInit(rest, out)
	case "set-admin-password":
		return runSetAdminPassword(ctx, rest, in, out)
	case "token":
		return runToken(rest, out)
	case "setup-token":
		return runSetupToken(ctx, rest, out)
	case "health":
		return runHealth(ctx, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func runServe(ctx context.Context, out io.Writer) error {
	configPath := getConfigPath()

	color.New(color.FgCyan).Fprint(out, banner)
	color.New(color.FgHiBlack).Fprintf(out, "    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, out)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:     %s\n", configPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "HTTP:       %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "gRPC:       %s\n", cfg.Server.GRPCAddr)
	}
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Deployment: %s", cfg.Deployment.Mode)
	if cfg.Deployment.MultiTenant() {
		yellow.Fprint(out, " [entitlement enforced]")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out)

	logger.Info("starting nursery-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"mode", cfg.Deployment.Mode,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintln(out, strings.TrimSpace(string(body)))
	return nil
}
