// Package main is the Kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/completion"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/engine"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retriever"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/synthesis"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory, so running from the project dir
// picks up the project's config.
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
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "remove":
		runRemove()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// components bundles everything the server command wires together.
type components struct {
	Store    *storage.SQLiteStore
	Embedder embedding.Embedder
	Index    *vector.Index
	Keyword  keyword.Index
	Engine   *engine.Engine
}

// Close releases resources in reverse initialization order.
func (c *components) Close() {
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	client, err := embedding.NewClient(embedding.ClientConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKeyEnv:  cfg.Embedding.APIKeyEnv,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		Timeout:    cfg.Embedding.Timeout(),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	embedder := embedding.NewCachedEmbedder(client, cfg.Embedding.CacheSize)

	completer, err := completion.NewClient(completion.ClientConfig{
		BaseURL:     cfg.Completion.BaseURL,
		APIKeyEnv:   cfg.Completion.APIKeyEnv,
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
		MaxRetries:  cfg.Completion.MaxRetries,
		Timeout:     cfg.Completion.Timeout(),
	})
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize completer: %w", err)
	}

	index, err := vector.NewIndex(cfg.Embedding.Dimensions)
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	ch, err := chunker.NewChunker(chunker.Config{
		Size:     cfg.Chunking.Size,
		Overlap:  cfg.Chunking.OverlapOrDefault(),
		Boundary: cfg.Chunking.BoundaryOrDefault(),
	})
	if err != nil {
		_ = keywordIndex.Close()
		_ = embedder.Close()
		_ = store.Close()
		return nil, err
	}

	ret := retriever.New(embedder, index, cfg.Retrieval,
		retriever.WithKeywordIndex(keywordIndex),
		retriever.WithLogger(logger))
	syn := synthesis.New(completer, synthesis.WithLogger(logger))
	eng := engine.New(store, ch, embedder, index, ret, syn,
		engine.WithKeywordIndex(keywordIndex),
		engine.WithConcurrency(cfg.Retrieval.Concurrency),
		engine.WithLogger(logger))

	return &components{
		Store:    store,
		Embedder: embedder,
		Index:    index,
		Keyword:  keywordIndex,
		Engine:   eng,
	}, nil
}

// restoreVectorIndex loads the persisted index, rebuilding from stored
// embeddings when the file is missing (cold start). A corrupt file is fatal:
// the operator decides whether to delete it and rebuild.
func restoreVectorIndex(ctx context.Context, c *components, path string, logger *zap.Logger) error {
	err := c.Index.Load(path)
	switch {
	case err == nil:
		logger.Info("vector index loaded", zap.String("path", path), zap.Int("vectors", c.Index.Size()))
	case os.IsNotExist(err):
		logger.Info("no vector index file, rebuilding from storage", zap.String("path", path))
		rebuilt, skipped, rebuildErr := c.Engine.RebuildIndex(ctx)
		if rebuildErr != nil {
			return fmt.Errorf("index rebuild failed: %w", rebuildErr)
		}
		logger.Info("vector index rebuilt", zap.Int("rebuilt", rebuilt), zap.Int("skipped", skipped))
	case errors.Is(err, models.ErrIndexCorrupt):
		return fmt.Errorf("vector index at %s is corrupt; delete the file to rebuild from storage: %w", path, err)
	default:
		return fmt.Errorf("failed to load vector index: %w", err)
	}

	if removed, err := c.Engine.Reconcile(ctx); err != nil {
		logger.Warn("reconcile failed", zap.Error(err))
	} else if removed > 0 {
		logger.Info("removed orphaned vectors", zap.Int("count", removed))
	}
	return nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
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
		zap.Bool("debug", debugMode))

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer c.Close()

	startCtx := context.Background()
	if err := restoreVectorIndex(startCtx, c, cfg.Storage.VectorIndexPath, logger); err != nil {
		logger.Fatal("Failed to restore vector index", zap.Error(err))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		eng := c.Engine
		watchSvc = watcher.New(
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			func(path string) {
				text, readErr := os.ReadFile(path)
				if readErr != nil {
					logger.Warn("watch read failed", zap.String("path", path), zap.Error(readErr))
					return
				}
				abs, _ := filepath.Abs(path)
				if _, ingestErr := eng.IngestDocument(context.Background(), fileid.FileDocID(abs), filepath.Base(path), string(text)); ingestErr != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(ingestErr))
				}
			},
			func(path string) {
				abs, _ := filepath.Abs(path)
				if removeErr := eng.RemoveDocument(context.Background(), fileid.FileDocID(abs)); removeErr != nil {
					logger.Warn("watch remove failed", zap.String("path", path), zap.Error(removeErr))
				}
			},
			watcher.WithLogger(logger),
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(c.Engine, c.Store, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	if cfg.Storage.VectorIndexPath != "" {
		if err := c.Index.Save(cfg.Storage.VectorIndexPath); err != nil {
			logger.Warn("vector index save failed",
				zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	docID := fs.String("id", "", "document id (defaults to a stable id derived from the path)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kotae ingest [flags] <file...>")
		os.Exit(1)
	}

	exitCode := 0
	for _, path := range fs.Args() {
		text, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
			exitCode = 1
			continue
		}
		id := *docID
		if id == "" {
			abs, _ := filepath.Abs(path)
			id = fileid.FileDocID(abs)
		}
		doc, err := ingestViaHTTP(*serverURL, id, filepath.Base(path), string(text))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed for %s: %v\n", path, err)
			exitCode = 1
			continue
		}
		fmt.Printf("%s: %s (%d chunks)\n", path, doc.Status, doc.ChunkCount)
	}
	os.Exit(exitCode)
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	maxResults := fs.Int("max-results", 0, "maximum evidence chunks (0 = server default)")
	threshold := fs.Float64("threshold", 0, "similarity threshold (0 = server default)")
	docs := fs.String("documents", "", "comma-separated document ids to restrict the search to")
	asJSON := fs.Bool("json", false, "print the full answer as JSON")
	_ = fs.Parse(os.Args[2:])

	queryStr := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if queryStr == "" {
		fmt.Fprintln(os.Stderr, "Usage: kotae query [flags] <question>")
		os.Exit(1)
	}

	var docIDs []string
	for _, id := range strings.Split(*docs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			docIDs = append(docIDs, id)
		}
	}

	answer, err := queryViaHTTP(*serverURL, &models.QueryRequest{
		Query:               queryStr,
		MaxResults:          *maxResults,
		SimilarityThreshold: *threshold,
		DocumentIDs:         docIDs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(answer)
		return
	}
	fmt.Println(answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Println("\nSources:")
		for i, c := range answer.Citations {
			fmt.Printf("  [%d] %s (doc %s, chars %d-%d, score %.3f)\n",
				i+1, c.ChunkID, c.DocumentID, c.Start, c.End, c.Score)
		}
	}
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kotae remove [flags] <document-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	if err := removeViaHTTP(*serverURL, id); err != nil {
		fmt.Fprintf(os.Stderr, "Remove failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("removed %s\n", id)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	stats, err := statusViaHTTP(*serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("documents: %d\nchunks:    %d\nvectors:   %d\n",
		stats.Documents, stats.Chunks, stats.Vectors)
}

func printUsage() {
	fmt.Println(`kotae - retrieval-augmented question answering over your documents

Usage:
  kotae server [flags]            Start the HTTP server
  kotae ingest [flags] <file...>  Ingest plain-text files
  kotae query [flags] <question>  Ask a question
  kotae remove [flags] <id>       Remove a document
  kotae status [flags]            Show engine status
  kotae version                   Print version

Run "kotae <command> -h" for command flags.`)
}

// HTTP helpers for the client subcommands.

func httpDo(method, url string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func ingestViaHTTP(serverURL, id, filename, text string) (*models.Document, error) {
	var doc models.Document
	err := httpDo(http.MethodPost, serverURL+"/api/v1/documents", map[string]string{
		"id": id, "filename": filename, "text": text,
	}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func queryViaHTTP(serverURL string, req *models.QueryRequest) (*models.Answer, error) {
	var answer models.Answer
	if err := httpDo(http.MethodPost, serverURL+"/api/v1/query", req, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func removeViaHTTP(serverURL, id string) error {
	return httpDo(http.MethodDelete, serverURL+"/api/v1/documents/"+id, nil, nil)
}

func statusViaHTTP(serverURL string) (*engine.Stats, error) {
	var stats engine.Stats
	if err := httpDo(http.MethodGet, serverURL+"/api/v1/status", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
