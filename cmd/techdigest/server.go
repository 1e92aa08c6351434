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
	"github.com/spf13/cobra"

	"github.com/kalambet/techdigest/internal/api"
	"github.com/kalambet/techdigest/internal/config"
	"github.com/kalambet/techdigest/internal/embedding"
	"github.com/kalambet/techdigest/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the delivery worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the user commands as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "techdigest.pid")
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

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	slog.Info("starting techdigest", "version", version, "addr", cfg.Server.Addr())

	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + cfg.Server.Addr() + "/health"); err == nil {
		resp.Body.Close()
		return fmt.Errorf("server already running on %s", cfg.Server.Addr())
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewHandler(api.Deps{
			Ingest:        a.pipeline,
			Delivery:      a.tracker,
			Subscriptions: a.svc,
			Store:         a.store,
			Secret:        cfg.Cron.Secret,
		}),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go a.worker().Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves MCP over stdio. Logs go to stderr so stdout stays a clean
// protocol stream. Queued deliveries are processed in-process.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.worker().Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{Subscriptions: a.svc, Version: version})
	stdio := server.NewStdioServer(mcpSrv)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop techdigest (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to techdigest (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + cfg.Server.Addr() + "/health")
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		printStatus("Server", "running on %s", cfg.Server.Addr())
	default:
		resp.Body.Close()
		printStatus("Server", "unhealthy (HTTP %d)", resp.StatusCode)
	}

	printStatus("Embeddings", "%s %s", cfg.Embedding.Provider, cfg.Embedding.Model)
	if cfg.Embedding.Provider == "ollama" {
		if embedding.NewOllama(cfg.Embedding.BaseURL, cfg.Embedding.Model, 0).IsRunning(context.Background()) {
			printStatus("Ollama", "running")
		} else {
			printStatus("Ollama", "not reachable")
		}
	}
	printStatus("Discord token", "%s", configured(cfg.Discord.BotToken))
	printStatus("Sources", "%s", sourcesLabel(cfg.Sources.File))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printStatus("Store", "unavailable: %v", err)
		return nil
	}
	defer store.Close()
	if n, err := store.CountArticles(context.Background()); err == nil {
		printStatus("Articles", "%d", n)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func configured(secret string) string {
	if secret == "" {
		return "not configured"
	}
	return "configured"
}

func sourcesLabel(file string) string {
	if file == "" {
		return "built-in (qiita, zenn, hatena)"
	}
	return file
}
