package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mit-pdos/go-jbd/wal"
)

// journalMetrics is the Prometheus implementation of wal.Metrics.
type journalMetrics struct {
	recoveries       prometheus.Counter
	recoveryDuration prometheus.Histogram
	replayedBlocks   prometheus.Counter
	revokeRecords    prometheus.Counter
	revokeHits       prometheus.Counter

	commits        prometheus.Counter
	commitDuration prometheus.Histogram
	loggedBlocks   prometheus.Counter

	checkpoints        prometheus.Counter
	checkpointDuration prometheus.Histogram
	installedBlocks    prometheus.Counter

	logFree prometheus.Gauge
}

var durationBuckets = []float64{
	0.1,  // 100us
	0.5,  // 500us
	1,    // 1ms
	5,    // 5ms
	10,   // 10ms
	50,   // 50ms
	100,  // 100ms
	500,  // 500ms
	1000, // 1s
}

// NewJournalMetrics returns the Prometheus-backed journal metrics of the
// active registry, registering them on first use. Journals opened against
// one registry share the same collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewJournalMetrics() wal.Metrics {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		return nil
	}
	if journal == nil {
		journal = newJournalMetrics(registry)
	}
	return journal
}

func newJournalMetrics(reg prometheus.Registerer) *journalMetrics {
	f := promauto.With(reg)

	return &journalMetrics{
		recoveries: f.NewCounter(prometheus.CounterOpts{
			Name: "jbd_recoveries_total",
			Help: "Number of journal recoveries that replayed a non-empty log",
		}),
		recoveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jbd_recovery_duration_milliseconds",
			Help:    "Duration of journal recovery in milliseconds",
			Buckets: durationBuckets,
		}),
		replayedBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "jbd_recovery_replayed_blocks_total",
			Help: "Blocks copied from the log to their home location during recovery",
		}),
		revokeRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "jbd_recovery_revoke_records_total",
			Help: "Revoke records read during recovery",
		}),
		revokeHits: f.NewCounter(prometheus.CounterOpts{
			Name: "jbd_recovery_revoke_hits_total",
			Help: "Logged blocks skipped during replay because they were revoked",
		}),
		commits: f.NewCounter(prometheus.CounterOpts{
			Name: "jbd_commits_total",
			Help: "Committed transactions",
		}),
		commitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jbd_commit_duration_milliseconds",
			Help:    "Duration of transaction commits in milliseconds",
			Buckets: durationBuckets,
		}),
		loggedBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "jbd_logged_blocks_total",
			Help: "Log blocks written by commits, metadata included",
		}),
		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Name: "jbd_checkpoints_total",
			Help: "Checkpoints that installed at least the log's tail",
		}),
		checkpointDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jbd_checkpoint_duration_milliseconds",
			Help:    "Duration of checkpoints in milliseconds",
			Buckets: durationBuckets,
		}),
		installedBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "jbd_checkpoint_installed_blocks_total",
			Help: "Blocks installed at their home location by checkpoints",
		}),
		logFree: f.NewGauge(prometheus.GaugeOpts{
			Name: "jbd_log_free_blocks",
			Help: "Unused blocks in the log ring",
		}),
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (m *journalMetrics) ObserveRecovery(info wal.RecoveryInfo, d time.Duration) {
	m.recoveries.Inc()
	m.recoveryDuration.Observe(ms(d))
	m.replayedBlocks.Add(float64(info.NumReplays))
	m.revokeRecords.Add(float64(info.NumRevokes))
	m.revokeHits.Add(float64(info.NumRevokeHits))
}

func (m *journalMetrics) ObserveCommit(logBlocks uint64, d time.Duration) {
	m.commits.Inc()
	m.commitDuration.Observe(ms(d))
	m.loggedBlocks.Add(float64(logBlocks))
}

func (m *journalMetrics) ObserveCheckpoint(installed uint64, d time.Duration) {
	m.checkpoints.Inc()
	m.checkpointDuration.Observe(ms(d))
	m.installedBlocks.Add(float64(installed))
}

func (m *journalMetrics) SetLogFree(free uint64) {
	m.logFree.Set(float64(free))
}
