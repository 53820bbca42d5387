// Package cli holds the start-up plumbing shared by the binaries: metrics
// backend selection, logger construction and exit-code mapping.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"pyfin/internal/config"
	"pyfin/internal/etlerr"
	"pyfin/internal/logging"
	"pyfin/internal/metrics"
	"pyfin/internal/metrics/datadog"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// MetricsBackend is a metrics.Backend that must be closed to flush.
type MetricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams replaced in tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (MetricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = metrics.SetBackend
)

// InitMetrics installs the metrics backend named by backendName ("datadog" or
// "dd"; "" and "none" disable metrics). The returned cleanup is never nil and
// flushes the backend; call it once before exiting.
//
// A backend that fails to initialise is reported as an error so the caller
// can decide whether to run without metrics.
func InitMetrics(ctx context.Context, log *logging.Logger, jobName, backendName, tagsCSV string) (func(), error) {
	noop := func() {}
	if log == nil {
		log = logging.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "nop", "noop":
		log.Debug("metrics disabled", "backend", backendName)
		return noop, nil

	case "datadog", "dd":
		tags := datadog.ParseTagsCSV(tagsCSV)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, err
		}
		log.Info("metrics enabled", "backend", "datadog", "job", jobName, "tags", tags)
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close error", "error", err)
			}
			setMetricsBackend(nil)
		}, nil

	default:
		log.Warn("metrics: unknown backend; metrics disabled", "backend", backendName)
		return noop, nil
	}
}

// NewLogger builds the logger for cfg, honouring -v.
func NewLogger(cfg config.Config, verbose bool) (*logging.Logger, error) {
	return logging.New(cfg.Logging.Mode, verbose)
}

// PrintIssues writes config validation issues to w and reports whether any is
// an error.
func PrintIssues(w io.Writer, issues []config.Issue) bool {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	return config.HasErrors(issues)
}

// ExitCode maps a run error to an exit code: configuration and validation
// errors are usage problems, everything else is a run failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case etlerr.Is(err, etlerr.KindConfiguration), etlerr.Is(err, etlerr.KindValidation):
		return ExitUsage
	default:
		return ExitFailure
	}
}

// ParseFlags parses args with fs, sending flag errors to stderr. It returns
// false with ExitUsage, or false with ExitOK for -h.
func ParseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) (bool, int) {
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, ExitOK
		}
		return false, ExitUsage
	}
	return true, ExitOK
}

// SplitCSV splits a comma-separated flag value, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
