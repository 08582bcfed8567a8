// ABOUTME: Entry point for the burrow-hub agent registry server
// ABOUTME: Issues agent API keys and propagates config-change invalidations

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/ardenone/botburrow-hub/internal/auth"
	"github.com/ardenone/botburrow-hub/internal/cache"
	"github.com/ardenone/botburrow-hub/internal/config"
	"github.com/ardenone/botburrow-hub/internal/hub"
	"github.com/ardenone/botburrow-hub/internal/registry"
	"github.com/ardenone/botburrow-hub/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                                           _           _
| |__  _   _ _ __ _ __ _____      __        | |__  _   _| |__
| '_ \| | | | '__| '__/ _ \ \ /\ / /  _____ | '_ \| | | | '_ \
| |_) | |_| | |  | | | (_) \ V  V /  |_____|| | | | |_| | |_) |
|_.__/ \__,_|_|  |_|  \___/ \_/\_/          |_| |_|\__,_|_.__/
`

// getConfigPath returns the path to the hub config file.
// Priority: BURROW_CONFIG env var > XDG_CONFIG_HOME/burrow/hub.yaml > ~/.config/burrow/hub.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BURROW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hub.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "burrow", "hub.yaml")
}

// getDataPath returns the path to the burrow data directory.
// Priority: XDG_DATA_HOME/burrow > ~/.local/share/burrow
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "burrow")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: burrow-hub <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the hub server")
		fmt.Println("  init    Create a new config file interactively")
		fmt.Println("  health  Check hub health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Cache.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Redis:    %s\n", cfg.Cache.RedisURL)
	}
	fmt.Println()

	logger.Info("starting burrow-hub",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	redisURL := cfg.Cache.RedisURL
	if !cfg.Cache.Enabled {
		redisURL = ""
	}
	c := cache.New(cache.Options{
		RedisURL:        redisURL,
		KeyPrefix:       cfg.Cache.KeyPrefix,
		Channel:         cfg.Cache.Channel,
		TTL:             cfg.Cache.TTL,
		OpTimeout:       cfg.Cache.OpTimeout,
		MaxLocalEntries: cfg.Cache.MaxLocalEntries,
		Logger:          logger,
	})
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connecting cache: %w", err)
	}
	defer c.Close()

	reg := registry.New(st, cfg.Keys.Prefix, cfg.Keys.Length, logger)
	sweeperDone := reg.StartSweeper(ctx, cfg.Keys.SweepInterval)
	defer func() { <-sweeperDone }()

	verifier := auth.NewVerifier(st, cfg.Keys.Prefix, logger)

	srv := hub.New(cfg, reg, verifier, c, logger)
	return srv.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
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

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	answer, err := reader.ReadString('\n')
	if err != nil {
		return defaultValue
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return defaultValue
	}
	return answer
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("burrow-hub configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "hub.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Cache Configuration ---")
	enableCache := prompt(reader, "Enable distributed cache (Redis)?", "yes")
	cacheEnabled := strings.ToLower(enableCache) == "yes" || strings.ToLower(enableCache) == "y"
	redisURL := ""
	if cacheEnabled {
		redisURL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	}

	fmt.Println("\n--- Webhook Configuration ---")
	enableWebhooks := prompt(reader, "Enable CI webhooks?", "no")
	webhooksEnabled := strings.ToLower(enableWebhooks) == "yes" || strings.ToLower(enableWebhooks) == "y"
	webhookSecret := ""
	if webhooksEnabled {
		webhookSecret = prompt(reader, "Webhook HMAC secret", "")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Admin key is generated, shown once, and stored only as a hash
	adminKey, err := auth.GenerateAPIKey("botburrow_admin_", 32)
	if err != nil {
		return fmt.Errorf("generating admin key: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# burrow-hub configuration\n")
	cfg.WriteString("# Generated by burrow-hub init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("admin:\n")
	cfg.WriteString(fmt.Sprintf("  api_key_hash: \"%s\"\n", auth.HashAPIKey(adminKey)))
	cfg.WriteString("\n")

	cfg.WriteString("keys:\n")
	cfg.WriteString(fmt.Sprintf("  prefix: \"%s\"\n", config.DefaultKeyPrefix))
	cfg.WriteString("  default_grace_period: \"24h\"\n")
	cfg.WriteString("  sweep_interval: \"1h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("cache:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", cacheEnabled))
	if cacheEnabled {
		cfg.WriteString(fmt.Sprintf("  redis_url: \"%s\"\n", redisURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("webhook:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", webhooksEnabled))
	if webhooksEnabled {
		cfg.WriteString(fmt.Sprintf("  secret: \"%s\"\n", webhookSecret))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Wrote %s\n", outputFile)
	fmt.Println()
	fmt.Println("Admin API key (shown once, store it now):")
	fmt.Printf("  %s\n", adminKey)
	return nil
}
