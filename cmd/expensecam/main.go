package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"google.golang.org/api/option"

	"github.com/zombor/expensecam/internal/analysis"
	"github.com/zombor/expensecam/internal/notify"
	"github.com/zombor/expensecam/internal/ocr"
	"github.com/zombor/expensecam/internal/pipeline"
	"github.com/zombor/expensecam/internal/record"
	"github.com/zombor/expensecam/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("expensecam")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "expensecam.db", "Database file path")
		blobPath    = fs.StringLong("storage", "./images", "Image storage directory path")
		visionCreds = fs.StringLong("vision-credentials", "", "Google Cloud credentials file for Vision (default: application default credentials)")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key for invoice analysis (or set EXPENSECAM_GEMINI_KEY)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "", "Ollama server URL for invoice analysis without a Gemini key (e.g. http://localhost:11434)")
		ollamaModel = fs.StringLong("ollama-model", "llama3.1", "Ollama model name")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSECAM"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing record store...")
	store, err := record.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize record store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	blobs, err := record.NewLocalBlobStore(*blobPath)
	if err != nil {
		slog.Error("Failed to initialize blob storage", "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing Vision OCR engine...")
	var visionOpts []option.ClientOption
	if *visionCreds != "" {
		visionOpts = append(visionOpts, option.WithCredentialsFile(*visionCreds))
	}
	engine, err := ocr.NewVisionEngine(context.Background(), visionOpts...)
	if err != nil {
		slog.Error("Failed to initialize Vision engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Analysis is optional: without a backend the stage reports
	// ConfigurationError and records still flow through OCR.
	var extractor analysis.Extractor
	switch {
	case *geminiKey != "":
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		gemini, err := analysis.NewGeminiExtractor(*geminiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		extractor = gemini
	case *ollamaURL != "":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		ollama, err := analysis.NewOllamaExtractor(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
		defer ollama.Close()
		extractor = ollama
	default:
		slog.Warn("No analysis backend configured, invoice analysis is unavailable")
	}

	hub := notify.NewHub(func(ctx context.Context, projectID string) ([]*record.ImageRecord, error) {
		return store.ListProject(projectID)
	})

	p := pipeline.NewPipeline(store, blobs, ocr.NewStage(engine), analysis.NewStage(extractor), hub)

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(p, hub, blobs, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
