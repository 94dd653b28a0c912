// Command regraph reads fetched resources as JSON Lines and merges them
// into the content graph.
//
// The store needs the FTS5 variant of go-sqlite3, so always build with
// the tag:
//
//	CGO_ENABLED=1 go build -tags sqlite_fts5 ./cmd/regraph
//
// Ingest usage:
//
//	regraph -config regraph.yaml -resources fetched.jsonl
//
// Search usage:
//
//	regraph -config regraph.yaml -search "pharmacovigilance obligations"
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/regraphio/regraph"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	resourcesPath := flag.String("resources", "-", "JSONL file of fetched resources ('-' for stdin)")
	repair := flag.Bool("repair", false, "Embed chunks missing embeddings instead of ingesting")
	search := flag.String("search", "", "Run a hybrid search against the graph instead of ingesting")
	searchLimit := flag.Int("limit", 10, "Maximum results for -search")
	metricsAddr := flag.String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := regraph.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = regraph.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}

	// Override from environment variables.
	if v := os.Getenv("REGRAPH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("REGRAPH_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("REGRAPH_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("REGRAPH_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("REGRAPH_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	pipeline, err := regraph.New(cfg)
	if err != nil {
		slog.Error("creating pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("metrics listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Cancel on SIGTERM/SIGINT; an in-flight merge still completes.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *search != "" {
		results, err := pipeline.Search(ctx, *search, *searchLimit)
		if err != nil {
			slog.Error("search failed", "error", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				slog.Error("encoding result", "error", err)
				os.Exit(1)
			}
		}
		return
	}

	if *repair {
		n, err := pipeline.RepairEmbeddings(ctx)
		if err != nil {
			slog.Error("repair failed", "repaired", n, "error", err)
			os.Exit(1)
		}
		slog.Info("repair complete", "repaired", n)
		return
	}

	resources, err := readResources(*resourcesPath)
	if err != nil {
		slog.Error("reading resources", "error", err)
		os.Exit(1)
	}
	slog.Info("ingesting", "resources", len(resources), "workers", cfg.Workers)

	results := pipeline.Run(ctx, resources)

	var merged, skipped, failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
		case r.Skipped:
			skipped++
		default:
			merged++
		}
	}

	stats, err := pipeline.Store().GraphStats(ctx)
	if err != nil {
		slog.Error("reading graph stats", "error", err)
		os.Exit(1)
	}
	slog.Info("ingest complete",
		"merged", merged, "skipped", skipped, "failed", failed,
		"nodes", stats.Nodes, "edges", stats.Edges, "embeddings", stats.Embeddings)

	if failed > 0 {
		os.Exit(1)
	}
}

// readResources parses one FetchedResource per line. Bodies are base64 in
// the JSON encoding of []byte.
func readResources(path string) ([]regraph.FetchedResource, error) {
	var in *os.File
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}

	var resources []regraph.FetchedResource
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var res regraph.FetchedResource
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		resources = append(resources, res)
	}
	return resources, scanner.Err()
}
