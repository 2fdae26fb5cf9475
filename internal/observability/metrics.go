package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for NaiVault.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreFatalAborts    *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Mint pipeline ---
	MintRequested    prometheus.Counter
	MintSettlements  *prometheus.CounterVec
	MintPending      prometheus.Gauge
	MintCallDuration *prometheus.HistogramVec
	MintOrphaned     prometheus.Counter
	BorrowEvents     prometheus.Counter

	// --- Channel & Backpressure ---
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates  *prometheus.CounterVec
	IdempotencyTier2Errors prometheus.Counter
	DedupLRUSize           prometheus.Gauge
	DedupLRUEvictions      prometheus.Gauge
	EventSequenceGap       *prometheus.CounterVec
	EventOutOfOrder        *prometheus.CounterVec

	// --- Ingestion ---
	IngestMessages  *prometheus.CounterVec
	IngestThrottled *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_core_events_rejected_total",
			Help: "Events rejected (dedup, ordering, policy, validation)",
		}, []string{"event_type", "reason"}),

		CoreFatalAborts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_core_fatal_aborts_total",
			Help: "Calls aborted by an invariant violation or overflow",
		}, []string{"event_type"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nai_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "nai_core_sequence",
			Help: "Next global sequence number",
		}),

		// Mint pipeline
		MintRequested: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_mint_requested_total",
			Help: "Mint calls recorded by the requestor",
		}),

		MintSettlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_mint_settlements_total",
			Help: "Settled mint calls by resolution (minted, malformed_response, remote_failure)",
		}, []string{"resolution"}),

		MintPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "nai_mint_pending",
			Help: "Mint calls requested but not yet settled",
		}),

		MintCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nai_mint_call_duration_seconds",
			Help:    "Issuer round trip by observed status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"status"}),

		MintOrphaned: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_mint_orphaned_total",
			Help: "Pending mints finalized as failed after a restart",
		}),

		BorrowEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_borrow_events_total",
			Help: "Borrow events emitted",
		}),

		// Channel & Backpressure
		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		IdempotencyTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_idempotency_tier2_errors_total",
			Help: "Event log lookups that failed and were treated as not duplicate",
		}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "nai_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupLRUEvictions: f.NewGauge(prometheus.GaugeOpts{
			Name: "nai_dedup_lru_evictions",
			Help: "Keys evicted from the idempotency LRU since start",
		}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_event_sequence_gap_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_event_out_of_order_total",
			Help: "Out-of-order source sequences detected",
		}, []string{"partition"}),

		// Ingestion
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_ingest_messages_total",
			Help: "Inbound messages by source and result",
		}, []string{"source", "result"}),

		IngestThrottled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_ingest_throttled_total",
			Help: "Inbound gRPC requests rejected by the rate limiter",
		}, []string{"method"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_persist_events_written_total",
			Help: "Events written to event_log.events",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_persist_journals_written_total",
			Help: "Journal rows written to event_log.journal",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nai_persist_batch_size",
			Help:    "Outputs per persistence flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nai_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_persist_errors_total",
			Help: "Persistence errors by kind",
		}, []string{"kind"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_persist_retry_total",
			Help: "Persistence flush retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "nai_persist_last_sequence",
			Help: "Highest sequence committed to the event log",
		}),

		// Projection
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nai_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "nai_projection_sequence",
			Help: "Last sequence applied to projections",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "nai_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "nai_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "nai_replay_events_total",
			Help: "Events replayed from the log at startup",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nai_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nai_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"endpoint"}),
	}
}
