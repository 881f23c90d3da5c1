package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/kalambet/notebookd/internal/api"
	"github.com/kalambet/notebookd/internal/chat"
	"github.com/kalambet/notebookd/internal/config"
	"github.com/kalambet/notebookd/internal/fetch"
	"github.com/kalambet/notebookd/internal/ingest"
	"github.com/kalambet/notebookd/internal/ocr"
	"github.com/kalambet/notebookd/internal/ollama"
	"github.com/kalambet/notebookd/internal/parser"
	"github.com/kalambet/notebookd/internal/provider"
	"github.com/kalambet/notebookd/internal/retrieval"
	"github.com/kalambet/notebookd/internal/storage"
	"github.com/kalambet/notebookd/internal/transcribe"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the notebookd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running notebookd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show notebookd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "notebookd.pid")
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
	fmt.Fprintf(os.Stderr, "notebookd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Jobs do not survive a restart; fail anything still marked in flight.
	if err := store.FailInFlightSources("interrupted by server restart"); err != nil {
		return fmt.Errorf("sweeping in-flight sources: %w", err)
	}

	embedder := retrieval.NewEmbedder(settings)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	indexer := retrieval.NewIndexer(embedder, vectorStore)
	retriever := retrieval.NewRetriever(embedder, vectorStore)
	streamer := chat.NewStreamer(settings, retriever)

	worker := ingest.NewWorker(ingest.Config{
		Store:       store,
		Parser:      parser.NewSet(ocr.New()),
		Pages:       fetch.NewWebFetcher(),
		Media:       fetch.NewMediaFetcher(),
		Transcriber: transcribe.NewClient(cfg.Transcribe.ServerURL),
		Indexer:     indexer,
		Logger:      slog.Default(),
	})
	worker.Start(ctx)

	handler := api.NewRouter(api.Deps{
		Store:    store,
		Worker:   worker,
		Streamer: streamer,
		Logger:   slog.Default(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Retriever: retriever,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	sseSrv := server.NewSSEServer(mcpSrv)
	go func() {
		if err := sseSrv.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP SSE server error", "error", err)
		}
	}()
	slog.Info("MCP server started", "transports", "stdio, sse", "addr", mcpAddr)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "notebookd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP SSE shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Let in-flight ingestion unwind before the store closes.
	worker.Wait()
	return nil
}

// buildProviders wires the chat and embedding backends from config. When
// Ollama serves either role its models are pulled and warmed first.
func buildProviders(ctx context.Context, cfg config.Config) (provider.Settings, error) {
	var ollamaProv, openaiProv provider.Provider

	if cfg.Provider.Chat == "ollama" || cfg.Provider.Embed == "ollama" {
		client := ollama.New(cfg.Provider.OllamaBaseURL)
		chatModel, embedModel := cfg.Provider.ChatModel, cfg.Provider.EmbedModel
		if cfg.Provider.Chat != "ollama" {
			chatModel = ""
		}
		if cfg.Provider.Embed != "ollama" {
			embedModel = ""
		}
		if err := ollama.EnsureReady(ctx, client, chatModel, embedModel, os.Stderr); err != nil {
			return provider.Settings{}, err
		}
		ollamaProv = provider.NewOllama(client)
	}
	if cfg.Provider.Chat == "openai" || cfg.Provider.Embed == "openai" {
		openaiProv = provider.NewOpenAI(cfg.Provider.OpenAIAPIKey, cfg.Provider.OpenAIBaseURL)
	}

	pick := func(kind string) provider.Provider {
		if kind == "openai" {
			return openaiProv
		}
		return ollamaProv
	}
	return provider.Settings{
		Chat:       pick(cfg.Provider.Chat),
		ChatModel:  cfg.Provider.ChatModel,
		Embed:      pick(cfg.Provider.Embed),
		EmbedModel: cfg.Provider.EmbedModel,
	}, nil
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
		printError("notebookd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop notebookd (PID %d): %v", pid, err)
		os.Remove(pidPath)
		return err
	}

	printSuccess("Sent stop signal to notebookd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Provider.Chat == "ollama" || cfg.Provider.Embed == "ollama" {
		ollamaResp, err := client.Get(cfg.Provider.OllamaBaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Provider.OllamaBaseURL)
		}
	}

	printStatus("Chat model", "%s (%s)", cfg.Provider.ChatModel, cfg.Provider.Chat)
	printStatus("Embed model", "%s (%s)", cfg.Provider.EmbedModel, cfg.Provider.Embed)

	if running {
		c := &apiClient{baseURL: serverURL, httpClient: client}
		statsResp, err := c.get(context.Background(), "/stats")
		if err == nil {
			var st struct {
				Notebooks    int   `json:"notebooks"`
				Sources      int   `json:"sources"`
				Messages     int   `json:"messages"`
				StorageBytes int64 `json:"storage_bytes"`
			}
			if decodeJSON(statsResp, &st) == nil {
				printStatus("Notebooks", "%d", st.Notebooks)
				printStatus("Sources", "%d (%d KB stored)", st.Sources, st.StorageBytes/1024)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
