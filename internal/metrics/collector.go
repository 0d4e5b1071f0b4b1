// Package metrics provides Prometheus metrics for dstctl.
//
// All metrics are per process and carry a shard label where it makes sense.
// The collector doubles as a pump observer so line counters need no extra
// plumbing.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/randomizedcoder/dstctl/internal/logging"
)

const namespace = "dstctl"

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Save    string
}

// Collector manages all Prometheus metrics for a dstctl process.
type Collector struct {
	info           *prometheus.GaugeVec
	sessions       prometheus.Counter
	ready          prometheus.Gauge
	readinessSecs  prometheus.Histogram
	lines          *prometheus.CounterVec
	bytes          *prometheus.CounterVec
	problemLines   *prometheus.CounterVec
	writeErrors    *prometheus.CounterVec
	shardUp        *prometheus.GaugeVec
	shardStarts    *prometheus.CounterVec
	shardExits     *prometheus.CounterVec
	shardUptimeSec *prometheus.HistogramVec

	isReady atomic.Bool

	// For the end-of-session summary
	mu        sync.Mutex
	exitCodes map[string]int
	readyIn   time.Duration
}

// NewCollector creates a collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the managed cluster (value always 1)",
		}, []string{"version", "save"}),

		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Server sessions started",
		}),

		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 once a shard has printed the readiness marker",
		}),

		readinessSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readiness_seconds",
			Help:      "Time from spawn to the readiness marker",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8), // 5s .. 640s
		}),

		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_lines_total",
			Help:      "Output lines read from each shard",
		}, []string{"shard"}),

		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_bytes_total",
			Help:      "Output bytes read from each shard",
		}, []string{"shard"}),

		problemLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_problem_lines_total",
			Help:      "Shard lines that look like errors or warnings",
		}, []string{"shard"}),

		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_log_write_errors_total",
			Help:      "Failed appends to the run log",
		}, []string{"shard"}),

		shardUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shard_up",
			Help:      "1 while the shard process is running",
		}, []string{"shard"}),

		shardStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_starts_total",
			Help:      "Shard processes started",
		}, []string{"shard"}),

		shardExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_exits_total",
			Help:      "Shard process exits by category (success, error, signal)",
		}, []string{"shard", "category"}),

		shardUptimeSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shard_uptime_seconds",
			Help:      "Shard process lifetime",
			Buckets:   prometheus.ExponentialBuckets(60, 4, 7), // 1m .. ~68h
		}, []string{"shard"}),

		exitCodes: make(map[string]int),
	}

	registry.MustRegister(
		c.info,
		c.sessions,
		c.ready,
		c.readinessSecs,
		c.lines,
		c.bytes,
		c.problemLines,
		c.writeErrors,
		c.shardUp,
		c.shardStarts,
		c.shardExits,
		c.shardUptimeSec,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Save).Set(1)
	return c
}

// ObserveLine implements pump.Observer.
func (c *Collector) ObserveLine(shard, line string) {
	c.lines.WithLabelValues(shard).Inc()
	c.bytes.WithLabelValues(shard).Add(float64(len(line) + 1))
	if logging.Classify(line) >= logging.ProblemLevel {
		c.problemLines.WithLabelValues(shard).Inc()
	}
}

// ObserveWriteError implements pump.WriteErrorObserver.
func (c *Collector) ObserveWriteError(shard string, _ error) {
	c.writeErrors.WithLabelValues(shard).Inc()
}

// SessionStarted records the start of a session.
func (c *Collector) SessionStarted() {
	c.sessions.Inc()
	c.ready.Set(0)
	c.isReady.Store(false)

	c.mu.Lock()
	c.exitCodes = make(map[string]int)
	c.readyIn = 0
	c.mu.Unlock()
}

// ShardStarted records a shard process start.
func (c *Collector) ShardStarted(shard string) {
	c.shardStarts.WithLabelValues(shard).Inc()
	c.shardUp.WithLabelValues(shard).Set(1)
}

// ShardExited records a shard process exit.
func (c *Collector) ShardExited(shard string, exitCode int, uptime time.Duration) {
	c.shardUp.WithLabelValues(shard).Set(0)
	c.shardExits.WithLabelValues(shard, ExitCategory(exitCode)).Inc()
	c.shardUptimeSec.WithLabelValues(shard).Observe(uptime.Seconds())

	c.mu.Lock()
	c.exitCodes[shard] = exitCode
	c.mu.Unlock()
}

// Ready records that the readiness gate opened after elapsed.
func (c *Collector) Ready(elapsed time.Duration) {
	c.ready.Set(1)
	c.readinessSecs.Observe(elapsed.Seconds())
	c.isReady.Store(true)

	c.mu.Lock()
	c.readyIn = elapsed
	c.mu.Unlock()
}

// SessionStopped clears the readiness state.
func (c *Collector) SessionStopped() {
	c.ready.Set(0)
	c.isReady.Store(false)
}

// IsReady reports whether the current session has reached readiness.
func (c *Collector) IsReady() bool {
	return c.isReady.Load()
}

// ExitCategory buckets an exit code for the exits counter.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// ShardSnapshot holds the counters of one shard.
type ShardSnapshot struct {
	Lines        float64
	Bytes        float64
	ProblemLines float64
	WriteErrors  float64
	Up           bool
}

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	Ready     bool
	ReadyIn   time.Duration
	Shards    map[string]ShardSnapshot
	ExitCodes map[string]int
}

// Snapshot reads the current values for the given shards.
func (c *Collector) Snapshot(shards ...string) Snapshot {
	s := Snapshot{
		Ready:     c.isReady.Load(),
		Shards:    make(map[string]ShardSnapshot, len(shards)),
		ExitCodes: make(map[string]int),
	}
	for _, shard := range shards {
		s.Shards[shard] = ShardSnapshot{
			Lines:        readValue(c.lines.WithLabelValues(shard)),
			Bytes:        readValue(c.bytes.WithLabelValues(shard)),
			ProblemLines: readValue(c.problemLines.WithLabelValues(shard)),
			WriteErrors:  readValue(c.writeErrors.WithLabelValues(shard)),
			Up:           readValue(c.shardUp.WithLabelValues(shard)) == 1,
		}
	}

	c.mu.Lock()
	s.ReadyIn = c.readyIn
	for k, v := range c.exitCodes {
		s.ExitCodes[k] = v
	}
	c.mu.Unlock()
	return s
}

// readValue extracts the value of a counter or gauge.
func readValue(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return 0
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	default:
		return 0
	}
}

// WriteText dumps every dstctl metric family in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
