// Package datadog implements a Datadog backend for the internal/metrics package.
//
// NOTE ABOUT FLUSHING:
// A load run can take minutes (embedding calls are rate limited), so metrics
// are buffered in memory, flushed on a ticker (default once per minute) and
// flushed one final time on Close. Dashboards get a time series while the
// run is in progress plus a tail point at shutdown.
//
// Concurrency model:
//   - callers can IncCounter/ObserveHistogram at any time
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush periodically; Close stops the loop
//
// If the process is killed with SIGKILL/OOM, Close won't run.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"pyfin/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "pyfin".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:pyfin"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesDef maps an internal metric name to its Datadog series name and the
// two label keys that become tags. The first label is required; a missing
// second label is tagged "unknown".
type seriesDef struct {
	series string
	keys   [2]string
}

var counterDefs = map[string]seriesDef{
	metrics.StageTotal:      {series: "pyfin.stage.total", keys: [2]string{"stage", "status"}},
	metrics.RecordsTotal:    {series: "pyfin.records.total", keys: [2]string{"table", "outcome"}},
	metrics.VectorsTotal:    {series: "pyfin.vectors.total", keys: [2]string{"index", "outcome"}},
	metrics.BatchesTotal:    {series: "pyfin.batches.total", keys: [2]string{"kind", "status"}},
	metrics.EmbeddingsTotal: {series: "pyfin.embeddings.total", keys: [2]string{"model", "status"}},
}

var histogramDefs = map[string]seriesDef{
	metrics.StageDurationSeconds: {series: "pyfin.stage.duration_seconds", keys: [2]string{"stage", "status"}},
	metrics.EmbedDurationSeconds: {series: "pyfin.embed.duration_seconds", keys: [2]string{"model", "status"}},
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	// metric name -> pairKey(label1, label2) -> value/samples
	counts  map[string]map[string]float64
	samples map[string]map[string][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush.
// Call it once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// NewBackend constructs a Datadog backend using the official client, which
// reads DD_API_KEY / DD_SITE from the environment.
//
// Errors:
//   - JobName must be a valid tag value (no whitespace or commas).
//   - Network errors only occur during Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := strings.TrimSpace(opts.JobName)
	if job == "" {
		job = "pyfin"
	}
	if strings.ContainsAny(job, " \t\n,") {
		return nil, wrapInitErr(fmt.Errorf("invalid job name %q", opts.JobName))
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counts:     make(map[string]map[string]float64),
		samples:    make(map[string]map[string][]float64),
	}

	go b.loop()
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	def, ok := counterDefs[name]
	if !ok {
		return
	}
	k, ok := labelKey(def, labels)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.counts[name]
	if m == nil {
		m = make(map[string]float64)
		b.counts[name] = m
	}
	m[k] += delta
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	def, ok := histogramDefs[name]
	if !ok {
		return
	}
	k, ok := labelKey(def, labels)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.samples[name]
	if m == nil {
		m = make(map[string][]float64)
		b.samples[name] = m
	}
	m[k] = append(m[k], value)
}

func labelKey(def seriesDef, labels metrics.Labels) (string, bool) {
	first := labels[def.keys[0]]
	if first == "" {
		return "", false
	}
	second := labels[def.keys[1]]
	if second == "" {
		second = "unknown"
	}
	return pairKey(first, second), true
}

// snapshot is the detached buffer state used to build one flush payload.
type snapshot struct {
	counts  map[string]map[string]float64
	samples map[string]map[string][]float64
}

// snapshotAndReset grabs current buffered metrics and resets internal buffers.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{counts: b.counts, samples: b.samples}
	b.counts = make(map[string]map[string]float64)
	b.samples = make(map[string]map[string][]float64)
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.counts) == 0 && len(s.samples) == 0
}

// Flush submits buffered metrics and resets local buffers.
//
// Buffers are reset even if submission fails; delivery is at most once.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure: no locks, no network, no clocks.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, 64)

	for _, name := range sortedKeys(s.counts) {
		def := counterDefs[name]
		for _, k := range sortedKeys(s.counts[name]) {
			v := s.counts[name][k]
			if v == 0 {
				continue
			}
			series = append(series, countSeries(def.series, v, b.tagsFor(def, k), nowUnix))
		}
	}

	for _, name := range sortedKeys(s.samples) {
		def := histogramDefs[name]
		for _, k := range sortedKeys(s.samples[name]) {
			addPercentiles(&series, b.tagsFor(def, k), def.series, s.samples[name][k], nowUnix)
		}
	}
	return series
}

func (b *Backend) tagsFor(def seriesDef, key string) []string {
	first, second := splitPairKey(key)
	return withTags(b.baseTags, def.keys[0]+":"+first, def.keys[1]+":"+second)
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for a sample set.
// It sorts a copy; samples is not mutated.
func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, metricPrefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (a, b string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)
var _ metrics.Flusher = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:pyfin".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
