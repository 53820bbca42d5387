// Command load deduplicates structured records and vector chunks against the
// destination stores and loads what is new.
//
//	load -structured structured.json -vectors vectors.json -out results.json
//
// Exit codes: 0 the run finished (item errors are in the report), 1 the run
// failed, 2 usage or configuration error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pyfin/internal/artifact"
	"pyfin/internal/cli"
	"pyfin/internal/config"
	"pyfin/internal/logging"
	"pyfin/internal/pipeline"
	"pyfin/internal/schema"

	// register every backend; the config picks one.
	_ "pyfin/internal/storage/all"
	_ "pyfin/internal/vectorstore/all"
)

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	newLogger   func(cfg config.Config, verbose bool) (*logging.Logger, error)
	initMetrics func(ctx context.Context, log *logging.Logger, job, backend, tags string) (func(), error)
	open        func(ctx context.Context, cfg config.Config, needs pipeline.Needs, log *logging.Logger) (*pipeline.Runner, error)
	newRunID    func() string
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   cli.NewLogger,
		initMetrics: cli.InitMetrics,
		open:        pipeline.DefaultFactories().Open,
		newRunID:    artifact.NewRunID,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

type options struct {
	cfgPath           string
	structured        string
	vectors           string
	out               string
	resume            string
	ensureTables      bool
	dryRun            bool
	dedupeWithinBatch bool
	verbose           bool
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	var o options
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.StringVar(&o.cfgPath, "config", "", "pipeline config JSON (optional; env vars overlay it)")
	fs.StringVar(&o.structured, "structured", "", "structured_data artifact to load")
	fs.StringVar(&o.vectors, "vectors", "", "vector_data artifact to load")
	fs.StringVar(&o.out, "out", "", "write the loading_results artifact here (default: print to stdout)")
	fs.StringVar(&o.resume, "resume", "", "loading_results artifact of a previous run; cleanly loaded tables/indexes are skipped")
	fs.BoolVar(&o.ensureTables, "ensure-tables", false, "create missing tables before loading (SQL backends)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "run deduplication only; write nothing")
	fs.BoolVar(&o.dedupeWithinBatch, "dedupe-within-batch", false, "collapse repeated natural keys inside the input")
	fs.BoolVar(&o.verbose, "v", false, "enable verbose logs")

	if ok, code := cli.ParseFlags(fs, args, stderr); !ok {
		return code
	}
	if strings.TrimSpace(o.structured) == "" && strings.TrimSpace(o.vectors) == "" {
		fmt.Fprintln(stderr, "usage: load [-config cfg.json] -structured structured.json | -vectors vectors.json [-out results.json]")
		return cli.ExitUsage
	}

	cfg, err := deps.loadConfig(o.cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return cli.ExitUsage
	}
	if cli.PrintIssues(stderr, config.Validate(cfg)) {
		return cli.ExitUsage
	}
	if o.dedupeWithinBatch {
		cfg.Runtime.DedupeWithinBatch = true
	}

	log, err := deps.newLogger(cfg, o.verbose)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return cli.ExitFailure
	}
	defer log.Sync()

	in, runID, err := readInput(o)
	if err != nil {
		fmt.Fprintf(stderr, "read input: %v\n", err)
		return cli.ExitFailure
	}
	if runID == "" {
		runID = deps.newRunID()
	}

	var prev *pipeline.Results
	if o.resume != "" {
		prev = &pipeline.Results{}
		if _, err := artifact.Read(o.resume, artifact.KindLoadingResults, prev); err != nil {
			fmt.Fprintf(stderr, "resume: %v\n", err)
			return cli.ExitFailure
		}
	}

	cleanup, err := deps.initMetrics(ctx, log, cfg.Job, cfg.Metrics.Backend, cfg.Metrics.Tags)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return cli.ExitFailure
	}
	defer cleanup()

	r, err := deps.open(ctx, cfg, pipeline.NeedsFor(in, o.dryRun), log)
	if err != nil {
		fmt.Fprintf(stderr, "open: %v\n", err)
		return cli.ExitCode(err)
	}
	defer r.Close()
	r.Previous = prev
	r.Options.DryRun = o.dryRun

	if o.ensureTables && r.Rel != nil && !o.dryRun {
		if err := r.Rel.EnsureTables(ctx, schema.TableSpecs()); err != nil {
			fmt.Fprintf(stderr, "ensure tables: %v\n", err)
			return cli.ExitFailure
		}
		log.Printf("stage=ddl ok tables=%d", len(schema.TableNames()))
	}

	log.Info("run start", "run_id", runID, "tables", len(in.Records), "indexes", len(in.Vectors), "dry_run", o.dryRun)
	res, runErr := r.Run(ctx, runID, in)

	if werr := writeResults(o, res, stdout); werr != nil {
		fmt.Fprintf(stderr, "write results: %v\n", werr)
		if runErr == nil {
			return cli.ExitFailure
		}
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "run: %v\n", runErr)
		return cli.ExitCode(runErr)
	}
	return cli.ExitOK
}

// readInput loads the artifacts named by o. The run id of the first artifact
// carries over so one run's files share it.
func readInput(o options) (pipeline.Input, string, error) {
	var (
		in    pipeline.Input
		runID string
	)
	if o.structured != "" {
		data, md, err := artifact.ReadStructured(o.structured)
		if err != nil {
			return in, "", err
		}
		in.Records, runID = data, md.RunID
	}
	if o.vectors != "" {
		data, md, err := artifact.ReadVectors(o.vectors)
		if err != nil {
			return in, "", err
		}
		in.Vectors = data
		if runID == "" {
			runID = md.RunID
		}
	}
	return in, runID, nil
}

func writeResults(o options, res pipeline.Results, stdout io.Writer) error {
	if o.out == "" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	md := artifact.Metadata{RunID: res.RunID, Source: sourceOf(o), Counts: res.Counts()}
	if err := artifact.Write(o.out, artifact.KindLoadingResults, md, res); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "status=%s run_id=%s out=%s\n", res.Status, res.RunID, o.out)
	return nil
}

func sourceOf(o options) string {
	var parts []string
	for _, p := range []string{o.structured, o.vectors} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ",")
}
