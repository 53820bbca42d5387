// Command status reports row and vector counts for the destination stores and,
// given artifacts, pre-flights them without loading anything.
//
//	status -tables Emisores,Moneda
//	status -structured structured.json -vectors vectors.json
//
// It prints one JSON document. Exit codes: 0 ok, 1 a validation failed,
// 2 usage or configuration error. An unreachable store is reported in the
// document, not through the exit code.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"pyfin/internal/artifact"
	"pyfin/internal/cli"
	"pyfin/internal/config"
	"pyfin/internal/logging"
	"pyfin/internal/report"
	"pyfin/internal/schema"
	"pyfin/internal/storage"
	"pyfin/internal/vectorstore"
	"pyfin/pkg/records"

	_ "pyfin/internal/storage/all"
	_ "pyfin/internal/vectorstore/all"
)

type appDeps struct {
	loadConfig    func(path string) (config.Config, error)
	newLogger     func(cfg config.Config, verbose bool) (*logging.Logger, error)
	newRelational func(ctx context.Context, cfg storage.Config) (storage.Store, error)
	newVector     func(ctx context.Context, cfg vectorstore.Config) (vectorstore.Store, error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:    config.Load,
		newLogger:     cli.NewLogger,
		newRelational: storage.New,
		newVector:     vectorstore.New,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// output is the document printed by status.
type output struct {
	Status     *report.StatusReport      `json:"status,omitempty"`
	Validation []report.ValidationReport `json:"validation,omitempty"`
	Valid      bool                      `json:"valid"`
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "pipeline config JSON (optional; env vars overlay it)")
	tables := fs.String("tables", "", "comma-separated tables to count (default: all)")
	indexes := fs.String("indexes", "", "comma-separated indexes to describe (default: all)")
	structured := fs.String("structured", "", "structured_data artifact to validate")
	vectors := fs.String("vectors", "", "vector_data artifact to validate")
	skipStores := fs.Bool("no-stores", false, "validate artifacts only; do not contact the stores")
	verbose := fs.Bool("v", false, "enable verbose logs")
	if ok, code := cli.ParseFlags(fs, args, stderr); !ok {
		return code
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
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

	out := output{Valid: true}
	if !*skipStores {
		st := checkStores(ctx, deps, cfg, log, cli.SplitCSV(*tables), cli.SplitCSV(*indexes))
		out.Status = &st
	}

	if *structured != "" || *vectors != "" {
		var (
			data map[string][]records.Record
			vecs map[string][]records.VectorEntry
		)
		if *structured != "" {
			if data, _, err = artifact.ReadStructured(*structured); err != nil {
				fmt.Fprintf(stderr, "read structured: %v\n", err)
				return cli.ExitFailure
			}
		}
		if *vectors != "" {
			if vecs, _, err = artifact.ReadVectors(*vectors); err != nil {
				fmt.Fprintf(stderr, "read vectors: %v\n", err)
				return cli.ExitFailure
			}
		}
		out.Validation, out.Valid = validate(data, vecs, *structured != "")
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "write: %v\n", err)
		return cli.ExitFailure
	}
	if !out.Valid {
		return cli.ExitFailure
	}
	return cli.ExitOK
}

// checkStores opens each store on its own so one bad credential does not hide
// the other store's counts.
func checkStores(ctx context.Context, deps appDeps, cfg config.Config, log *logging.Logger, tables, indexes []string) report.StatusReport {
	r := &report.Reporter{Logger: log}
	var relErr, vecErr error

	if sc, err := cfg.RelationalConfig(); err != nil {
		relErr = err
	} else if st, err := deps.newRelational(ctx, sc); err != nil {
		relErr = fmt.Errorf("relational store (%s): %w", sc.Kind, err)
	} else {
		defer st.Close()
		r.Rel = st
	}
	if vc, err := cfg.VectorConfig(); err != nil {
		vecErr = err
	} else if vs, err := deps.newVector(ctx, vc); err != nil {
		vecErr = fmt.Errorf("vector store (%s): %w", vc.Kind, err)
	} else {
		defer vs.Close()
		r.Vec = vs
	}

	rep := r.CheckStatus(ctx, tables, indexes)
	if relErr != nil {
		log.Warn("relational store unavailable", "error", relErr)
		rep.RelationalError = relErr.Error()
	}
	if vecErr != nil {
		log.Warn("vector store unavailable", "error", vecErr)
		rep.VectorError = vecErr.Error()
	}
	return rep
}

// validate pairs each index with its source table. Without a structured
// artifact only the vector side decides validity.
func validate(data map[string][]records.Record, vecs map[string][]records.VectorEntry, haveRecords bool) ([]report.ValidationReport, bool) {
	var (
		out   []report.ValidationReport
		valid = true
		used  = map[string]bool{}
	)
	add := func(rep report.ValidationReport) {
		out = append(out, rep)
		ok := rep.Valid()
		if !haveRecords && rep.Vectors != nil {
			ok = rep.Vectors.Valid
		}
		valid = valid && ok
	}

	if haveRecords {
		for _, t := range schema.SortByLoadOrder(keysOf(data)) {
			ix := indexFor(t, vecs)
			if ix != "" {
				used[ix] = true
				add(report.Validate(t, data[t], ix, vecs[ix]))
				continue
			}
			add(report.Validate(t, data[t], "", nil))
		}
	}
	for _, ix := range keysOf(vecs) {
		if used[ix] {
			continue
		}
		var source string
		if desc, ok := schema.LookupIndex(ix); ok {
			source = string(desc.Source)
		}
		add(report.Validate(source, data[source], ix, vecs[ix]))
	}
	return out, valid
}

func indexFor(table string, vecs map[string][]records.VectorEntry) string {
	for _, ix := range keysOf(vecs) {
		if desc, ok := schema.LookupIndex(ix); ok && string(desc.Source) == table {
			return ix
		}
	}
	return ""
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
