package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kalambet/cartbot/internal/api"
	"github.com/kalambet/cartbot/internal/catalog"
	"github.com/kalambet/cartbot/internal/completion"
	"github.com/kalambet/cartbot/internal/composer"
	"github.com/kalambet/cartbot/internal/config"
	"github.com/kalambet/cartbot/internal/pipeline"
	"github.com/kalambet/cartbot/internal/resolver"
	"github.com/kalambet/cartbot/internal/session"
	"github.com/kalambet/cartbot/internal/storage"
	"github.com/kalambet/cartbot/internal/syncer"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cartbot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running cartbot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cartbot server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the shopping tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "cartbot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// app is the wired object graph shared by the HTTP server and the MCP
// server.
type app struct {
	gateway   *catalog.Gateway
	sessions  *session.Store
	resolver  *resolver.Resolver
	service   *pipeline.Service
	store     *storage.Store
	publisher syncer.Publisher
	closers   []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
}

func buildApp(cfg config.Config) (*app, error) {
	a := &app{}

	ttl := config.Duration(cfg.Catalog.CacheTTL, catalog.DefaultCacheTTL)
	var cache catalog.Cache = catalog.NewMemoryCache(ttl)
	if cfg.Catalog.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Catalog.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		cache = catalog.NewRedisCache(rdb, ttl)
		slog.Info("catalog cache backed by redis", "addr", cfg.Catalog.RedisAddr)
	}
	a.gateway = catalog.NewGateway(cfg.Catalog.BaseURL, cache, catalog.Options{
		Timeout:       config.Duration(cfg.Catalog.Timeout, 10*time.Second),
		ShopsPageSize: cfg.Catalog.ShopsPageSize,
	})

	completer, err := completion.New(completion.Config{
		Provider: cfg.Completion.Provider,
		Model:    cfg.Completion.Model,
		BaseURL:  cfg.Completion.BaseURL,
		APIKey:   cfg.Completion.APIKey,
		Timeout:  config.Duration(cfg.Completion.Timeout, 30*time.Second),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating completion client: %w", err)
	}

	a.sessions = session.NewStore(cfg.TokenTable())
	a.resolver = resolver.New(cfg.Resolver.Threshold)
	assembler := composer.NewAssembler(a.gateway, a.resolver)

	var outbox pipeline.SyncEnqueuer
	if cfg.Sync.Enabled {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		outbox = syncer.NewOutbox(store, cfg.Completion.Model)

		if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
			kp := syncer.NewKafkaPublisher(brokers, cfg.Sync.KafkaTopic)
			a.closers = append(a.closers, kp.Close)
			a.publisher = kp
		} else {
			a.publisher = syncer.NewWebhookPublisher(cfg.Catalog.BaseURL, cfg.Sync.WebhookSecret)
		}
	}

	a.service = pipeline.NewService(assembler, completer, a.sessions, outbox)
	return a, nil
}

func runServer() error {
	fmt.Fprintf(stderr, "cartbot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("cartbot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("cartbot is already running on %s", addr)
		return fmt.Errorf("server already running on %s", addr)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.store != nil {
		n, err := a.store.RequeueRunningJobs()
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("requeued interrupted sync jobs", "count", n)
		}
		worker := syncer.NewWorker(a.store, a.publisher, 500*time.Millisecond)
		go worker.Run(ctx)
		slog.Info("chat-history sync enabled", "publisher", a.publisher.Name())
	}

	handler := api.NewHandler(api.Deps{
		Chat:                 a.service,
		Catalog:              a.gateway,
		Sessions:             a.sessions,
		CompletionConfigured: cfg.Completion.APIKey != "",
		BackendURL:           a.gateway.BaseURL(),
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("cartbot listening", "addr", addr, "provider", cfg.Completion.Provider, "model", cfg.Completion.Model)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.store != nil {
		go syncer.NewWorker(a.store, a.publisher, 500*time.Millisecond).Run(ctx)
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Catalog:  a.gateway,
		Resolver: a.resolver,
		Chat:     a.service,
		Sessions: a.sessions,
	})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("cartbot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop cartbot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to cartbot (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status               string `json:"status"`
	CompletionConfigured bool   `json:"completion_configured"`
	BackendAPIURL        string `json:"backend_api_url"`
	ActiveSessions       int    `json:"active_sessions"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{baseURL: serverURL(cfg), httpClient: &http.Client{Timeout: 2 * time.Second}}
	health, err := fetchHealth(context.Background(), client)
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "%s on %s", health.Status, client.baseURL)
		printStatus("Completion", "%s", configuredLabel(health.CompletionConfigured))
		printStatus("Active sessions", "%d", health.ActiveSessions)
	}

	printStatus("Backend", "%s", cfg.Catalog.BaseURL)
	printStatus("Provider", "%s (%s)", cfg.Completion.Provider, cfg.Completion.Model)
	if cfg.Catalog.RedisAddr != "" {
		printStatus("Cache", "redis at %s", cfg.Catalog.RedisAddr)
	} else {
		printStatus("Cache", "in-memory, ttl %s", cfg.Catalog.CacheTTL)
	}
	printStatus("Sync", "%s", syncLabel(cfg))

	if cfg.Sync.Enabled {
		if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
			if stats, err := store.JobStats(); err == nil {
				printStatus("Sync queue", "%d pending, %d running, %d completed, %d failed",
					stats.Pending, stats.Running, stats.Completed, stats.Failed)
			}
			store.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchHealth(ctx context.Context, c *apiClient) (healthResponse, error) {
	var h healthResponse
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return h, err
	}
	err = decodeJSON(resp, &h)
	return h, err
}

func configuredLabel(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func syncLabel(cfg config.Config) string {
	switch {
	case !cfg.Sync.Enabled:
		return "disabled"
	case len(cfg.KafkaBrokerList()) > 0:
		return fmt.Sprintf("kafka topic %s", cfg.Sync.KafkaTopic)
	default:
		return fmt.Sprintf("webhook %s/api/chathistory/sync", strings.TrimRight(cfg.Catalog.BaseURL, "/"))
	}
}
