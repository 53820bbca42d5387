// Command extract collects report pages from a directory of saved HTML files
// or a list of URLs and writes the first pipeline artifacts:
//
//	extract -dir ./pages -raw raw.json
//	extract -urls urls.txt -raw raw.json -mappings mappings.json -structured structured.json
//
// The raw_extraction artifact feeds cmd/vectorize; the structured_data
// artifact, produced from CSS selector mappings, feeds cmd/load.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pyfin/internal/artifact"
	"pyfin/internal/cli"
	"pyfin/internal/config"
	"pyfin/internal/extract"
	"pyfin/internal/logging"
	"pyfin/internal/metrics"
	"pyfin/internal/pipeline"
	"pyfin/pkg/records"
)

type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	newLogger   func(cfg config.Config, verbose bool) (*logging.Logger, error)
	initMetrics func(ctx context.Context, log *logging.Logger, job, backend, tags string) (func(), error)
	httpClient  *http.Client
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   cli.NewLogger,
		initMetrics: cli.InitMetrics,
		httpClient:  http.DefaultClient,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "pipeline config JSON (optional; env vars overlay it)")
	dir := fs.String("dir", "", "directory of saved .html pages")
	urlsPath := fs.String("urls", "", "file with one URL per line (# comments allowed)")
	rawOut := fs.String("raw", "", "write the raw_extraction artifact here")
	mappingsPath := fs.String("mappings", "", "selector mappings for structured extraction")
	structuredOut := fs.String("structured", "", "write the structured_data artifact here (needs -mappings)")
	timeout := fs.Duration("timeout", 20*time.Second, "per-request timeout for -urls")
	follow := fs.String("follow", "", "with -urls: treat the listed URLs as index pages and fetch the same-host links matched by this selector")
	rpm := fs.Int("rpm", 30, "max requests per minute for -urls (0: unlimited)")
	maxDocs := fs.Int("max-docs", 0, "stop after this many documents (0: runtime.max_documents, or no limit)")
	verbose := fs.Bool("v", false, "enable verbose logs")
	if ok, code := cli.ParseFlags(fs, args, stderr); !ok {
		return code
	}

	switch {
	case (*dir == "") == (*urlsPath == ""):
		fmt.Fprintln(stderr, "usage: extract (-dir pages/ | -urls urls.txt) [-raw raw.json] [-mappings m.json -structured structured.json]")
		return cli.ExitUsage
	case *rawOut == "" && *structuredOut == "":
		fmt.Fprintln(stderr, "nothing to write: pass -raw and/or -structured")
		return cli.ExitUsage
	case *follow != "" && *urlsPath == "":
		fmt.Fprintln(stderr, "-follow needs -urls")
		return cli.ExitUsage
	case (*mappingsPath == "") != (*structuredOut == ""):
		fmt.Fprintln(stderr, "-mappings and -structured go together")
		return cli.ExitUsage
	}

	var mf *extract.MappingFile
	if *mappingsPath != "" {
		var err error
		if mf, err = extract.LoadMappingFile(*mappingsPath); err != nil {
			fmt.Fprintf(stderr, "load mappings: %v\n", err)
			return cli.ExitUsage
		}
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

	limit := *maxDocs
	if limit <= 0 {
		limit = cfg.Runtime.MaxDocuments
	}
	budget := pipeline.NewBudget(limit)

	start := time.Now()
	var (
		docs   []artifact.Document
		failed []string
		source string
	)
	if *dir != "" {
		source = *dir
		docs, err = extract.ReadDir(*dir, budget, log)
	} else {
		source = *urlsPath
		f := extract.NewFetcher(deps.httpClient, *timeout, *rpm)
		var urls []string
		urls, err = readURLs(*urlsPath)
		if err == nil && *follow != "" {
			urls, err = f.ExpandLinks(ctx, urls, *follow, log)
			log.Info("index pages expanded", "links", len(urls))
		}
		if err == nil {
			docs, failed, err = f.FetchAll(ctx, urls, budget, log)
		}
	}
	if err != nil {
		metrics.RecordStage("extract", "failed", time.Since(start))
		fmt.Fprintf(stderr, "collect: %v\n", err)
		return cli.ExitFailure
	}

	md := artifact.Metadata{RunID: artifact.NewRunID(), Source: source}
	if *rawOut != "" {
		md.Counts = map[string]int{"documents": len(docs), "failed": len(failed)}
		if err := artifact.Write(*rawOut, artifact.KindRawExtraction, md, artifact.RawExtraction{Documents: docs}); err != nil {
			fmt.Fprintf(stderr, "write raw: %v\n", err)
			return cli.ExitFailure
		}
	}

	var stats extract.Stats
	if mf != nil {
		var data map[string][]records.Record
		data, stats = extract.Structure(docs, mf)
		if err := artifact.WriteStructured(*structuredOut, artifact.Metadata{RunID: md.RunID, Source: source}, data); err != nil {
			fmt.Fprintf(stderr, "write structured: %v\n", err)
			return cli.ExitFailure
		}
		for table, n := range stats.Records {
			metrics.RecordRecords(table, "extracted", n)
		}
	}

	d := time.Since(start).Truncate(time.Millisecond)
	metrics.RecordStage("extract", "ok", d)
	log.Printf("stage=extract ok duration=%s", d)
	fmt.Fprintf(stdout, "run_id=%s documents=%d failed=%d records=%d limit_reached=%v\n",
		md.RunID, len(docs), len(failed)+len(stats.Failed), total(stats.Records), budget.Exhausted())
	if len(docs) == 0 {
		fmt.Fprintln(stderr, "no documents collected")
		return cli.ExitFailure
	}
	return cli.ExitOK
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%s: no urls", path)
	}
	return urls, nil
}

func total(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
