// Package main is the anonymizer CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unimib-datAI/dave-anonymizer/internal/config"
	"github.com/unimib-datAI/dave-anonymizer/internal/ingest"
	"github.com/unimib-datAI/dave-anonymizer/internal/metrics"
	"github.com/unimib-datAI/dave-anonymizer/internal/models"
	"github.com/unimib-datAI/dave-anonymizer/internal/rewrite"
	"github.com/unimib-datAI/dave-anonymizer/internal/secrets"
	"github.com/unimib-datAI/dave-anonymizer/internal/server"
	"github.com/unimib-datAI/dave-anonymizer/internal/storage"
	"github.com/unimib-datAI/dave-anonymizer/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/dave-anonymizer/config.yaml"

// loadConfig loads config from path. When path is the default, it first
// looks for config.yaml in the current directory (for development); if that
// exists it is used. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// Optional .env for local development (transit token etc.).
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "anonymize":
		runRewrite(rewrite.DirectionAnonymize)
	case "deanonymize":
		runRewrite(rewrite.DirectionDeanonymize)
	case "version", "--version", "-v":
		fmt.Printf("anonymizer version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (per-span skips, transit calls, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	m := metrics.New()
	breaker := secrets.NewBreaker(secrets.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout(),
		HalfOpenMax:      cfg.Breaker.HalfOpenMax,
	}, logger)
	resolver := secrets.WithBreaker(
		secrets.NewTransitClient(cfg.Transit.Address, cfg.Transit.Token, cfg.Transit.Timeout(), logger),
		breaker,
	)
	rewriter := rewrite.NewRewriter(resolver, logger, m)

	srv := server.NewServer(store, rewriter, breaker, &cfg.Server, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if len(cfg.Ingest.Directories) > 0 {
		ing := ingest.NewIngestor(cfg.Ingest.Directories, store, rewriter, cfg.Ingest.AutoAnonymize, logger)
		if err := ing.Start(ctx); err != nil {
			logger.Fatal("Failed to start ingest watcher", zap.Error(err))
		}
		defer ing.Stop()
		logger.Info("ingest watching", zap.Strings("directories", cfg.Ingest.Directories))
	}

	g.Go(srv.Start)
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

// runRewrite runs one pass over a document JSON file and prints the result.
func runRewrite(dir rewrite.Direction) {
	fs := flag.NewFlagSet(string(dir), flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outPath := fs.String("o", "", "output file (default: stdout)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Printf("Usage: anonymizer %s [flags] <document.json>\n", dir)
		os.Exit(1)
	}
	inPath := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	data, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Printf("Failed to read document: %v\n", err)
		os.Exit(1)
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		fmt.Printf("Failed to parse document: %v\n", err)
		os.Exit(1)
	}

	resolver := secrets.NewTransitClient(cfg.Transit.Address, cfg.Transit.Token, cfg.Transit.Timeout(), logger)
	rewriter := rewrite.NewRewriter(resolver, logger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var out *models.Document
	var report *rewrite.Report
	if dir == rewrite.DirectionAnonymize {
		out, report = rewriter.Anonymize(ctx, &doc)
	} else {
		out, report = rewriter.Deanonymize(ctx, &doc)
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Printf("Failed to encode document: %v\n", err)
		os.Exit(1)
	}
	if *outPath != "" {
		if err := os.WriteFile(*outPath, encoded, 0600); err != nil {
			fmt.Printf("Failed to write output: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Println(string(encoded))
	}
	fmt.Fprintf(os.Stderr, "%s: %d spans replaced, %d skipped (%d invalid, %d overlap, %d resolution)\n",
		dir, report.SpansReplaced,
		report.SkippedInvalid+report.SkippedOverlap+report.SkippedResolution,
		report.SkippedInvalid, report.SkippedOverlap, report.SkippedResolution)
}

func printUsage() {
	fmt.Println(`Usage: anonymizer <command> [flags]

Commands:
  server                     run the HTTP API server
  anonymize <document.json>  anonymize a document file
  deanonymize <document.json> de-anonymize a document file
  version                    print version
  help                       show this help`)
}
