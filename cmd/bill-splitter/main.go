package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/bill-splitter/internal/bill"
	"github.com/zombor/bill-splitter/internal/logging"
	"github.com/zombor/bill-splitter/internal/metrics"
	"github.com/zombor/bill-splitter/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const metricsNamespace = "bill_splitter"

type config struct {
	port        int
	dbPath      string
	storagePath string
	scannerType string
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string
	openAIKey   string
	openAIURL   string
	openAIModel string
	maxUploadMB int
	authUser    string
	authPass    string
	logLevel    string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("bill-splitter")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "bill-splitter.db", "Database file path")
		storagePath = fs.StringLong("storage", "./bills", "Storage directory for uploaded bills")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'openai'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama vision model name (e.g., llava, qwen2-vl, llama3.2-vision)")
		openAIKey   = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openAIURL   = fs.StringLong("openai-url", "https://api.openai.com", "OpenAI-compatible API base URL")
		openAIModel = fs.StringLong("openai-model", "gpt-4o", "OpenAI vision model name")
		maxUploadMB = fs.IntLong("max-upload-mb", 10, "Maximum bill upload size in megabytes")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILL_SPLITTER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := config{
		port:        *port,
		dbPath:      *dbPath,
		storagePath: *storagePath,
		scannerType: *scannerType,
		geminiKey:   *geminiKey,
		geminiModel: *geminiModel,
		ollamaURL:   *ollamaURL,
		ollamaModel: *ollamaModel,
		openAIKey:   *openAIKey,
		openAIURL:   *openAIURL,
		openAIModel: *openAIModel,
		maxUploadMB: *maxUploadMB,
		authUser:    *authUser,
		authPass:    *authPass,
		logLevel:    *logLevel,
	}

	if err := run(cfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return err
	}
	logging.Setup(level)

	slog.Info("Starting bill-splitter", "version", version)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	slog.Info("Initializing database...", "path", cfg.dbPath)
	db, err := bill.NewBoltDB(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	scanner, err := newScanner(cfg)
	if err != nil {
		return err
	}
	defer scanner.Close()
	scanner = metrics.InstrumentScanner(scanner, cfg.scannerType, metrics.NewScanMetrics(metricsNamespace, registry))

	slog.Info("Initializing storage...", "path", cfg.storagePath)
	store, err := bill.NewLocalStorage(cfg.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	service := bill.NewService(db, scanner, store)
	server := bill.NewServer(service, bill.Options{
		BasicAuth: bill.BasicAuth{
			Username: cfg.authUser,
			Password: cfg.authPass,
		},
		MaxUploadBytes: int64(cfg.maxUploadMB) << 20,
		Metrics:        metrics.NewHTTPMetrics(metricsNamespace, nil, registry),
		Gatherer:       registry,
	})

	addr := fmt.Sprintf(":%d", cfg.port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if cfg.authUser != "" || cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errCh
}

func newScanner(cfg config) (scanning.Scanner, error) {
	switch cfg.scannerType {
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		scanner, err := scanning.NewGemini(apiKey, cfg.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return scanner, nil
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		scanner, err := scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return scanner, nil
	case "openai":
		apiKey := cfg.openAIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI scanner...", "url", cfg.openAIURL, "model", cfg.openAIModel)
		scanner, err := scanning.NewOpenAI(cfg.openAIURL, apiKey, cfg.openAIModel)
		if err != nil {
			return nil, fmt.Errorf("initializing openai: %w", err)
		}
		return scanner, nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q: want gemini, ollama or openai", cfg.scannerType)
	}
}
