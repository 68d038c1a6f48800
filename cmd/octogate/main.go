// ABOUTME: Entry point for the octogate MCP gateway
// ABOUTME: Exposes GitHub workflow and pull request tools over the MCP HTTP transport

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
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

	"github.com/octogate/octogate/internal/auth"
	"github.com/octogate/octogate/internal/config"
	"github.com/octogate/octogate/internal/events"
	"github.com/octogate/octogate/internal/gate"
	"github.com/octogate/octogate/internal/github"
	"github.com/octogate/octogate/internal/ledger"
	"github.com/octogate/octogate/internal/mcp"
	"github.com/octogate/octogate/internal/registry"
	"github.com/octogate/octogate/internal/session"
	"github.com/octogate/octogate/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
            _                    _
  ___   ___| |_ ___   __ _  __ _| |_ ___
 / _ \ / __| __/ _ \ / _' |/ _' | __/ _ \
| (_) | (__| || (_) | (_| | (_| | ||  __/
 \___/ \___|\__\___/ \__, |\__,_|\__\___|
                     |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: OCTOGATE_CONFIG env var > XDG_CONFIG_HOME/octogate/octogate.yaml > ~/.config/octogate/octogate.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OCTOGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "octogate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "octogate", "octogate.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: octogate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                          Start the gateway server")
		fmt.Println("  health                         Check gateway health")
		fmt.Println("  tools                          Print the tool catalog")
		fmt.Println("  token --subject NAME [flags]   Mint a scoped access token")
		fmt.Println("  version                        Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "tools":
		err = runTools(ctx)
	case "token":
		err = runToken()
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

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

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
	fmt.Printf("GitHub:   %s\n", cfg.GitHub.APIBase)
	green.Print("    ▶ ")
	fmt.Printf("Protocol: %s\n", cfg.Protocol.Version)
	if cfg.Ledger.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:   %s\n", cfg.Ledger.Path)
	}
	fmt.Println()

	logger.Info("starting octogate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"protocol_version", cfg.Protocol.Version,
	)

	gh, err := github.NewClient(github.Config{
		Token:   cfg.GitHub.Token,
		APIBase: cfg.GitHub.APIBase,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating github client: %w", err)
	}

	notifier := events.NewNotifier(logger)

	if cfg.Ledger.Path != "" {
		eventLedger, err := ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			return fmt.Errorf("opening event ledger: %w", err)
		}
		defer eventLedger.Close()
		notifier.Subscribe(eventLedger.Listener())
	}

	evaluator := gate.NewEvaluator(gh, notifier, logger)
	merger := gate.NewMerger(gh, evaluator, notifier, logger)

	reg, err := registry.New(tools.Catalog(gh, evaluator, merger, notifier)...)
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}

	var verifier auth.ScopeVerifier
	if cfg.Auth.JWTSecret != "" {
		jwtVerifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating token verifier: %w", err)
		}
		verifier = jwtVerifier
	}

	dispatcher, err := mcp.NewDispatcher(mcp.DispatcherConfig{
		Registry:        reg,
		Sessions:        session.NewStore(),
		Logger:          logger,
		ProtocolVersion: cfg.Protocol.Version,
		ServerName:      "octogate",
		ServerVersion:   version,
		RequireScopes:   cfg.Auth.RequireScopes,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	server, err := mcp.NewServer(mcp.ServerConfig{
		Dispatcher:    dispatcher,
		Logger:        logger,
		Verifier:      verifier,
		DefaultScopes: cfg.Auth.DefaultScopes,
	})
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	mcp.NewDocsHandler(reg).RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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

// runTools asks a running gateway for its catalog via tools/list.
func runTools(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/mcp", cfg.Server.HTTPAddr)
	body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("tools listing failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(payload))
	return nil
}

// runToken mints a scoped JWT for a client. Requires auth.jwt_secret in config.
func runToken() error {
	var subject string
	var scopes []string
	expiry := 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--scopes":
			if i+1 >= len(args) {
				return fmt.Errorf("--scopes requires a value")
			}
			scopes = splitScopes(args[i+1])
			i++
		case strings.HasPrefix(arg, "--scopes="):
			scopes = splitScopes(strings.TrimPrefix(arg, "--scopes="))
		case arg == "--expiry":
			if i+1 >= len(args) {
				return fmt.Errorf("--expiry requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid --expiry: %w", err)
			}
			expiry = d
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}

	if len(scopes) == 0 {
		scopes = cfg.Auth.DefaultScopes
	}

	token, err := verifier.Generate(subject, scopes, expiry)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Println("Token generated:")
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("Subject: %s\n", subject)
	fmt.Printf("Scopes:  %s\n", strings.Join(scopes, ", "))
	fmt.Printf("Expires: %s\n", time.Now().Add(expiry).Format(time.RFC3339))
	return nil
}

func splitScopes(s string) []string {
	var scopes []string
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
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
