// Command vectorize turns a raw_extraction artifact into a vector_data
// artifact: page text is extracted, chunked and tagged with the metadata the
// target index deduplicates on.
//
//	vectorize -in raw.json -out vectors.json [-index documentos-informes-vector]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pyfin/internal/artifact"
	"pyfin/internal/cli"
	"pyfin/internal/config"
	"pyfin/internal/htmltext"
	"pyfin/internal/logging"
	"pyfin/internal/metrics"
	"pyfin/internal/pipeline"
	"pyfin/internal/schema"
	"pyfin/pkg/records"
)

type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	newLogger   func(cfg config.Config, verbose bool) (*logging.Logger, error)
	initMetrics func(ctx context.Context, log *logging.Logger, job, backend, tags string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   cli.NewLogger,
		initMetrics: cli.InitMetrics,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("vectorize", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "pipeline config JSON (optional; env vars overlay it)")
	in := fs.String("in", "", "raw_extraction artifact")
	out := fs.String("out", "", "vector_data artifact to write")
	index := fs.String("index", string(schema.DocumentosInformes), "target vector index")
	selector := fs.String("selector", htmltext.DefaultSelector, "CSS selector of the content to extract")
	chunkSize := fs.Int("chunk-size", htmltext.DefaultChunkSize, "chunk size in characters")
	overlap := fs.Int("overlap", htmltext.DefaultOverlap, "overlap between consecutive chunks in characters")
	maxDocs := fs.Int("max-docs", 0, "stop after this many documents (0: runtime.max_documents, or no limit)")
	verbose := fs.Bool("v", false, "enable verbose logs")
	if ok, code := cli.ParseFlags(fs, args, stderr); !ok {
		return code
	}
	if strings.TrimSpace(*in) == "" || strings.TrimSpace(*out) == "" {
		fmt.Fprintln(stderr, "usage: vectorize -in raw.json -out vectors.json [-index name] [-selector css]")
		return cli.ExitUsage
	}
	desc, ok := schema.LookupIndex(*index)
	if !ok {
		fmt.Fprintf(stderr, "unknown index %q (known: %s)\n", *index, strings.Join(schema.IndexNames(), ", "))
		return cli.ExitUsage
	}
	if *chunkSize <= 0 || *overlap < 0 || *overlap >= *chunkSize {
		fmt.Fprintf(stderr, "invalid chunking: chunk-size=%d overlap=%d\n", *chunkSize, *overlap)
		return cli.ExitUsage
	}

	cfg, err := deps.loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return cli.ExitUsage
	}
	if cli.PrintIssues(stderr, config.Validate(cfg)) {
		return cli.ExitUsage
	}
	log, err := deps.newLogger(cfg, *verbose)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return cli.ExitFailure
	}
	defer log.Sync()

	cleanup, err := deps.initMetrics(ctx, log, cfg.Job, cfg.Metrics.Backend, cfg.Metrics.Tags)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return cli.ExitFailure
	}
	defer cleanup()

	start := time.Now()
	raw, md, err := artifact.ReadRaw(*in)
	if err != nil {
		fmt.Fprintf(stderr, "read: %v\n", err)
		return cli.ExitFailure
	}

	limit := *maxDocs
	if limit <= 0 {
		limit = cfg.Runtime.MaxDocuments
	}
	opts := htmltext.Options{
		Selector:  *selector,
		ChunkSize: *chunkSize,
		Overlap:   *overlap,
		IDField:   desc.KeyFields[0],
	}
	vecs, stats := htmltext.Vectorize(raw.Documents, opts, pipeline.NewBudget(limit))
	for _, id := range stats.Failed {
		log.Warn("document not parsed", "id", id)
	}
	if stats.Truncated {
		log.Info("document limit reached", "limit", limit, "documents", len(raw.Documents))
	}

	outMD := artifact.Metadata{RunID: md.RunID, Source: *in}
	if err := artifact.WriteVectors(*out, outMD, map[string][]records.VectorEntry{*index: vecs}); err != nil {
		metrics.RecordStage("vectorize", "failed", time.Since(start))
		fmt.Fprintf(stderr, "write: %v\n", err)
		return cli.ExitFailure
	}
	d := time.Since(start).Truncate(time.Millisecond)
	metrics.RecordStage("vectorize", "ok", d)
	metrics.RecordVectors(*index, "chunked", len(vecs))
	log.Printf("stage=vectorize ok duration=%s", d)

	fmt.Fprintf(stdout, "index=%s documents=%d chunks=%d empty=%d failed=%d truncated=%v out=%s\n",
		*index, stats.Documents, stats.Chunks, stats.Empty, len(stats.Failed), stats.Truncated, *out)
	return cli.ExitOK
}
