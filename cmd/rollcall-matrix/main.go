// ABOUTME: Entry point for rollcall-matrix bridge
// ABOUTME: Lets teachers take attendance from Matrix rooms through the gateway's JSON API

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
)

const banner = `
    ╭──────────────────────────────────╮
    │                                  │
    │      rollcall  ·  matrix         │
    │      attendance bridge           │
    │                                  │
    ╰──────────────────────────────────╯
`

// getConfigPath returns the path to the matrix bridge config file.
// Priority: ROLLCALL_MATRIX_CONFIG > XDG_CONFIG_HOME/rollcall/matrix-bridge.toml > ~/.config/rollcall/matrix-bridge.toml
func getConfigPath() string {
	if envPath := os.Getenv("ROLLCALL_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "matrix-bridge.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "rollcall", "matrix-bridge.toml")
}

// getDataPath returns the directory holding the crypto store.
// Priority: XDG_DATA_HOME/rollcall > ~/.local/share/rollcall
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "rollcall")
}

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "init" {
		err = runInit(os.Stdin, os.Stdout, getConfigPath())
	} else {
		err = run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()

	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:    %s\n", cfg.Gateway.URL)
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: cross-signed")
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge, err := NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to matrix: %w", err)
	}

	cryptoMgr, err := SetupCrypto(ctx, bridge.matrix, cfg.Matrix.RecoveryKey, getDataPath(), logger)
	if err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	defer cryptoMgr.Close()

	return bridge.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func runInit(in io.Reader, out io.Writer, configPath string) error {
	reader := bufio.NewReader(in)
	ask := func(question, def string) string {
		if def != "" {
			fmt.Fprintf(out, "    %s [%s]: ", question, def)
		} else {
			fmt.Fprintf(out, "    %s: ", question)
		}
		line, _ := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
		return def
	}

	fmt.Fprintln(out, "    rollcall-matrix setup")
	fmt.Fprintln(out, "    ---------------------")

	if _, err := os.Stat(configPath); err == nil {
		if a := strings.ToLower(ask("Config exists at "+configPath+". Overwrite? [y/N]", "")); a != "y" && a != "yes" {
			fmt.Fprintln(out, "    Aborted.")
			return nil
		}
	}

	cfg := Config{
		Matrix: MatrixConfig{
			Homeserver:  ask("Matrix homeserver URL", "https://matrix.org"),
			UserID:      ask("Bot user ID (e.g. @rollcall:school.edu)", ""),
			AccessToken: ask("Bot access token", "${ROLLCALL_MATRIX_TOKEN}"),
			RecoveryKey: ask("Recovery key (optional)", ""),
		},
		Gateway: GatewayConfig{
			URL:   ask("Gateway URL", "http://localhost:8080"),
			Token: ask("Gateway token (from rollcall-gateway token)", ""),
		},
		Bridge: BridgeConfig{
			CommandPrefix:   ask("Command prefix (empty relays every message)", ""),
			TypingIndicator: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}

	var buf strings.Builder
	buf.WriteString("# rollcall-matrix configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\n    Config written to %s\n", configPath)
	return nil
}
