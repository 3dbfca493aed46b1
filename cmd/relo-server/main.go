// ABOUTME: Entry point for the relo-server realtime conversation backend
// ABOUTME: Wires config, store, delivery, push, and the WebSocket endpoint

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/reloapp/relo-server/internal/auth"
	"github.com/reloapp/relo-server/internal/config"
	"github.com/reloapp/relo-server/internal/conversation"
	"github.com/reloapp/relo-server/internal/delivery"
	"github.com/reloapp/relo-server/internal/identity"
	"github.com/reloapp/relo-server/internal/media"
	"github.com/reloapp/relo-server/internal/push"
	"github.com/reloapp/relo-server/internal/registry"
	"github.com/reloapp/relo-server/internal/store"
	"github.com/reloapp/relo-server/internal/ws"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _
  _ __ ___| | ___        ___  ___ _ ____   _____ _ __
 | '__/ _ \ |/ _ \ _____/ __|/ _ \ '__\ \ / / _ \ '__|
 | | |  __/ | (_) |_____\__ \  __/ |   \ V /  __/ |
 |_|  \___|_|\___/      |___/\___|_|    \_/ \___|_|
`

// getConfigPath returns the path to the server config file.
// Priority: RELO_CONFIG env var > XDG_CONFIG_HOME/relo/server.yaml > ~/.config/relo/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relo", "server.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: relo-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve              Start the server")
		fmt.Println("  init               Create a new config file interactively")
		fmt.Println("  health             Check server health")
		fmt.Println("  token --user ID    Generate a development bearer token")
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
	case "token":
		err = runToken()
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
	fmt.Printf("Database: %s\n", cfg.Database.Name)
	if cfg.Push.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Push:     %s\n", cfg.Push.ProjectID)
	}
	fmt.Println()

	logger.Info("starting relo-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// Persistence
	st, err := store.NewMongoStore(ctx, cfg.Database.URI, cfg.Database.Name, cfg.Database.MaxPoolSize, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(shutdownCtx); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	dir := identity.NewMongoDirectory(st.Database())

	// Push fallback
	var pusher delivery.Pusher
	if cfg.Push.Enabled {
		credentials, err := os.ReadFile(cfg.Push.CredentialsFile)
		if err != nil {
			return fmt.Errorf("reading push credentials: %w", err)
		}
		fcm, err := push.NewFCM(ctx, dir, credentials, cfg.Push.ProjectID, logger)
		if err != nil {
			return fmt.Errorf("configuring push: %w", err)
		}
		pusher = fcm
	}

	// Live delivery
	reg := registry.New(logger)
	defer reg.Close()

	dispatcher := delivery.New(reg, pusher, cfg.Delivery.Workers, cfg.Delivery.QueueSize, logger)
	defer dispatcher.Close()

	// Orchestrator. The request routing layer that exposes these operations
	// over HTTP lives outside this subsystem; it embeds the service from
	// here. The WS channel below is delivery-only.
	var uploader media.Uploader
	if cfg.Media.UploadURL != "" {
		uploader = media.NewHTTPUploader(cfg.Media.UploadURL)
	}
	app := &application{
		conversations: conversation.New(st, dir, uploader, dispatcher, logger),
		registry:      reg,
		store:         st,
	}

	// Transport
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	wsHandler := ws.New(verifier, reg, cfg.Server.PingInterval, cfg.Server.WriteTimeout, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.HandleFunc("/healthz", app.handleHealthz)

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("relo-server ready", "addr", cfg.Server.HTTPAddr)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// application is the composition root: every component of the subsystem,
// wired in dependency order. The conversation orchestrator is held here for
// the embedding request layer.
type application struct {
	conversations *conversation.Service
	registry      *registry.Registry
	store         *store.MongoStore
}

// handleHealthz reports liveness and verifies the database is still reachable.
func (a *application) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Database().Client().Ping(ctx, nil); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
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

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
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

// runToken generates a short-lived bearer token for local development and
// testing against the WebSocket endpoint.
func runToken() error {
	var userID string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			userID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			userID = strings.TrimPrefix(arg, "--user=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if userID == "" {
		return fmt.Errorf("--user flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(userID, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("relo-server configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
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
	mongoURI := prompt(reader, "MongoDB URI", "mongodb://localhost:27017")
	dbName := prompt(reader, "Database name", "relo")

	fmt.Println("\n--- Push Configuration ---")
	enablePush := prompt(reader, "Enable FCM push?", "no")
	pushEnabled := strings.ToLower(enablePush) == "yes" || strings.ToLower(enablePush) == "y"

	var projectID, credentialsFile string
	if pushEnabled {
		projectID = prompt(reader, "FCM project id", "")
		credentialsFile = prompt(reader, "Service account JSON path", "")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate random JWT secret
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	var cfg strings.Builder
	cfg.WriteString("# relo-server configuration\n")
	cfg.WriteString("# Generated by relo-server init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("  ping_interval: \"30s\"\n")
	cfg.WriteString("  write_timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  uri: \"%s\"\n", mongoURI))
	cfg.WriteString(fmt.Sprintf("  name: \"%s\"\n", dbName))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("\n")

	cfg.WriteString("push:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", pushEnabled))
	if pushEnabled {
		cfg.WriteString(fmt.Sprintf("  project_id: \"%s\"\n", projectID))
		cfg.WriteString(fmt.Sprintf("  credentials_file: \"%s\"\n", credentialsFile))
	}
	cfg.WriteString("\n")

	cfg.WriteString("delivery:\n")
	cfg.WriteString("  workers: 4\n")
	cfg.WriteString("  queue_size: 256\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  relo-server serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
