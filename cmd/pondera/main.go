// Copyright 2026 Pondera Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pondera-systems/pondera"
	"github.com/pondera-systems/pondera/config"
	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/reindex"
	"github.com/pondera-systems/pondera/retrieval"
	"github.com/pondera-systems/pondera/server"
	"github.com/pondera-systems/pondera/storage"
)

func main() {
	app := &cli.App{
		Name:  "pondera",
		Usage: "Knowledge retrieval over podcast feeds and documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				Value:   "pondera.yaml",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API server",
				Action: serveCommand,
			},
			{
				Name:      "sync",
				Usage:     "Register a podcast feed and process its new episodes",
				ArgsUsage: "<feed-url>",
				Action:    syncCommand,
			},
			{
				Name:      "upload",
				Usage:     "Upload a document and process it",
				ArgsUsage: "<file>",
				Action:    uploadCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "doc-type",
						Usage: "Document type label (article, cv, report, ...)",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Query the knowledge base",
				ArgsUsage: "<question>",
				Action:    queryCommand,
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the vector index from completed items",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "purge",
						Usage: "Delete existing points before rescheduling each item",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of items to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N items",
						Value: 100,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openSystem(c *cli.Context) (*pondera.System, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return pondera.Open(c.Context, cfg)
}

func serveCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pick up work interrupted by the previous run before serving
	recovered, err := sys.Pipeline().RecoverJobs(ctx)
	if err != nil {
		return fmt.Errorf("recovering jobs: %w", err)
	}
	if recovered > 0 {
		slog.Info("recovered interrupted jobs", "count", recovered)
	}

	srv, err := server.NewServer(sys.Pipeline(), sys.Engine(), sys.Store(),
		server.WithFallback(sys.Coordinator()),
		server.WithQueryDeadline(sys.Config().Retrieval.QueryDeadline),
	)
	if err != nil {
		return err
	}

	return srv.Start(ctx, sys.Config().Server.Addr)
}

func syncCommand(c *cli.Context) error {
	feedURL := c.Args().First()
	if feedURL == "" {
		return fmt.Errorf("feed URL is required")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	source, err := sys.Pipeline().RegisterFeed(c.Context, feedURL)
	if err != nil {
		return fmt.Errorf("registering feed: %w", err)
	}

	result, err := sys.Pipeline().SyncFeed(c.Context, source.ID)
	if err != nil {
		return fmt.Errorf("syncing feed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Feed: %s\nNew items: %d, known: %d\n",
		source.Key, result.NewItems, result.Known)

	sys.Pipeline().Wait()
	return reportItems(c.Context, sys, source.ID)
}

func uploadCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("file path is required")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	item, err := sys.Pipeline().UploadDocument(c.Context, filepath.Base(path), content, c.String("doc-type"))
	if err != nil {
		return fmt.Errorf("uploading document: %w", err)
	}

	sys.Pipeline().Wait()

	final, err := sys.Store().GetItem(c.Context, item.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Item %s: %s (%d chunks)\n", final.ID, final.Status, len(final.ChunkIDs))
	if final.Status == core.ItemStatusFailed {
		return fmt.Errorf("processing failed: %s", final.LastError)
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	question := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("question is required")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, cancel := context.WithTimeout(c.Context, sys.Config().Retrieval.QueryDeadline)
	defer cancel()

	qc, err := sys.Engine().Query(ctx, question, storage.SearchFilter{})
	if err != nil {
		return err
	}
	qc = sys.Coordinator().Augment(ctx, qc)

	out, err := json.MarshalIndent(queryOutput(qc), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func queryOutput(qc *retrieval.QueryContext) map[string]any {
	passages := make([]map[string]any, 0, len(qc.Passages))
	for _, p := range qc.Passages {
		entry := map[string]any{
			"text":        p.Text,
			"score":       p.Score,
			"attribution": string(p.Attribution),
		}
		if p.ItemTitle != "" {
			entry["title"] = p.ItemTitle
		}
		if p.URL != "" {
			entry["url"] = p.URL
		}
		passages = append(passages, entry)
	}

	out := map[string]any{
		"outcome":  string(qc.Outcome),
		"passages": passages,
	}
	if qc.Note != "" {
		out["note"] = qc.Note
	}
	if len(qc.Candidates) > 0 {
		candidates := make([]map[string]any, 0, len(qc.Candidates))
		for _, cand := range qc.Candidates {
			candidates = append(candidates, map[string]any{
				"item_id":   cand.ItemID,
				"title":     cand.Title,
				"top_score": cand.TopScore,
			})
		}
		out["candidates"] = candidates
	}
	return out
}

func reindexCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	reindexConfig := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		Purge:          c.Bool("purge"),
	}
	if reindexConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reindexConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}

	reindexer, err := reindex.NewReindexer(sys.Store(), sys.Index(), sys.Pipeline(), reindexConfig, os.Stderr)
	if err != nil {
		return err
	}

	result, err := reindexer.Run(c.Context)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	sys.Pipeline().Wait()
	fmt.Fprintf(os.Stderr, "Reindex finished: %d scheduled, %d skipped of %d items\n",
		result.Scheduled, result.Skipped, result.Total)
	return nil
}

func reportItems(ctx context.Context, sys *pondera.System, sourceID string) error {
	items, err := sys.Store().ListItemsBySource(ctx, sourceID)
	if err != nil {
		return err
	}

	failed := 0
	for _, item := range items {
		if item.Status == core.ItemStatusFailed {
			failed++
			fmt.Fprintf(os.Stderr, "  failed: %s (%s)\n", item.Title, item.LastError)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d items failed", failed, len(items))
	}
	fmt.Fprintf(os.Stderr, "All %d items processed\n", len(items))
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
