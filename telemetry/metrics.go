package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// CommitPhaseBuckets for individual 3PC phase latencies (prepare/precommit/commit)
	CommitPhaseBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// TxnTotalBuckets for end-to-end distributed transaction latency
	TxnTotalBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// HeartbeatRTTBuckets for peer heartbeat round-trip latency
	HeartbeatRTTBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

	// DeadlockRoundBuckets for a full local-snapshot-to-merge detection round
	DeadlockRoundBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// GatherAckBuckets for the number of acks collected per gather phase
	GatherAckBuckets = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 12, 16}
)

// Cluster Membership Metrics
var (
	// ClusterNodes tracks node count by status (INITIALIZATION, DISABLED, RECOVERY, RECOVERED, ONLINE)
	ClusterNodes GaugeVec = noopGaugeVec{}

	// CliqueSize is the size of the largest clique containing self
	CliqueSize Gauge = NoopStat{}

	// DisabledMaskPopcount is the number of peers currently in disabled_mask
	DisabledMaskPopcount Gauge = NoopStat{}

	// NodeStateTransitionsTotal counts membership state transitions (from -> to)
	NodeStateTransitionsTotal CounterVec = noopCounterVec{}

	// HeartbeatsSentTotal / HeartbeatsMissedTotal count heartbeat traffic
	HeartbeatsSentTotal   Counter = NoopStat{}
	HeartbeatsMissedTotal Counter = NoopStat{}

	// RefereeGrantsTotal counts referee grant decisions by outcome (won, lost)
	RefereeGrantsTotal CounterVec = noopCounterVec{}
)

// 3PC Coordinator Metrics
var (
	// TxnTotal counts coordinated transactions by result (committed, went_offline)
	TxnTotal CounterVec = noopCounterVec{}

	// TxnDurationSeconds measures end-to-end 3PC latency
	TxnDurationSeconds Histogram = NoopStat{}

	// PreparePhaseSeconds / PrecommitPhaseSeconds / CommitPhaseSeconds measure per-phase latency
	PreparePhaseSeconds   Histogram = NoopStat{}
	PrecommitPhaseSeconds Histogram = NoopStat{}
	CommitPhaseSeconds    Histogram = NoopStat{}

	// GatherAcks measures the number of replies collected per gather phase
	GatherAcks HistogramVec = noopHistogramVec{}

	// PrepareFailuresTotal counts prepare-phase failures by cause (local, remote)
	PrepareFailuresTotal CounterVec = noopCounterVec{}

	// CommitBarrierWaitSeconds measures time blocked acquiring the commit barrier
	CommitBarrierWaitSeconds Histogram = NoopStat{}

	// ActiveTransactions tracks currently in-flight coordinated transactions
	ActiveTransactions Gauge = NoopStat{}
)

// Deadlock Detector Metrics
var (
	// WaitForEdges is the local wait-for graph edge count
	WaitForEdges Gauge = NoopStat{}

	// GraphContributionsTotal counts contributions received by the elected detector
	GraphContributionsTotal Counter = NoopStat{}

	// StaleContributionsDroppedTotal counts contributions dropped on recovery_count mismatch
	StaleContributionsDroppedTotal Counter = NoopStat{}

	// CyclesDetectedTotal counts cycles found in the merged wait-for graph
	CyclesDetectedTotal Counter = NoopStat{}

	// VictimsAbortedTotal counts ABORT broadcasts issued after cycle detection
	VictimsAbortedTotal Counter = NoopStat{}

	// DetectionRoundSeconds measures a full snapshot-to-merge detection round
	DetectionRoundSeconds Histogram = NoopStat{}
)

// Resolver Metrics
var (
	// OrphansResolvedTotal counts resolved orphan PREPAREs by outcome (commit, abort)
	OrphansResolvedTotal CounterVec = noopCounterVec{}

	// ResolverPollSeconds measures POLL_STATUS round-trip latency
	ResolverPollSeconds Histogram = NoopStat{}
)

// DMQ Transport Metrics
var (
	// DMQMessagesTotal counts DMQ messages by direction (sent, received) and code
	DMQMessagesTotal CounterVec = noopCounterVec{}

	// DMQDisconnectsTotal counts peer detach notifications observed
	DMQDisconnectsTotal Counter = NoopStat{}

	// DecodeErrorsTotal counts ArbiterMessage decode failures
	DecodeErrorsTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Cluster Membership Metrics
	ClusterNodes = NewGaugeVec(
		"cluster_nodes",
		"Number of nodes in cluster by membership status",
		[]string{"status"},
	)
	CliqueSize = NewGauge(
		"clique_size",
		"Size of the largest clique containing self",
	)
	DisabledMaskPopcount = NewGauge(
		"disabled_mask_popcount",
		"Number of peers currently in disabled_mask",
	)
	NodeStateTransitionsTotal = NewCounterVec(
		"node_state_transitions_total",
		"Membership state transitions",
		[]string{"from", "to"},
	)
	HeartbeatsSentTotal = NewCounter(
		"heartbeats_sent_total",
		"Heartbeats broadcast to peers",
	)
	HeartbeatsMissedTotal = NewCounter(
		"heartbeats_missed_total",
		"Peer heartbeats missed past recv timeout",
	)
	RefereeGrantsTotal = NewCounterVec(
		"referee_grants_total",
		"Referee grant decisions by outcome",
		[]string{"outcome"},
	)

	// 3PC Coordinator Metrics
	TxnTotal = NewCounterVec(
		"txn_total",
		"Coordinated transactions by result",
		[]string{"result"},
	)
	TxnDurationSeconds = NewHistogramWithBuckets(
		"txn_duration_seconds",
		"End-to-end 3PC transaction duration in seconds",
		TxnTotalBuckets,
	)
	PreparePhaseSeconds = NewHistogramWithBuckets(
		"prepare_phase_seconds",
		"PREPARE gather phase duration in seconds",
		CommitPhaseBuckets,
	)
	PrecommitPhaseSeconds = NewHistogramWithBuckets(
		"precommit_phase_seconds",
		"PRECOMMIT gather phase duration in seconds",
		CommitPhaseBuckets,
	)
	CommitPhaseSeconds = NewHistogramWithBuckets(
		"commit_phase_seconds",
		"COMMIT gather phase duration in seconds",
		CommitPhaseBuckets,
	)
	GatherAcks = NewHistogramVec(
		"gather_acks",
		"Number of acks collected per gather phase",
		[]string{"phase"},
		GatherAckBuckets,
	)
	PrepareFailuresTotal = NewCounterVec(
		"prepare_failures_total",
		"Prepare-phase failures by cause",
		[]string{"cause"},
	)
	CommitBarrierWaitSeconds = NewHistogramWithBuckets(
		"commit_barrier_wait_seconds",
		"Time blocked acquiring the commit barrier in seconds",
		CommitPhaseBuckets,
	)
	ActiveTransactions = NewGauge(
		"active_transactions",
		"Number of currently in-flight coordinated transactions",
	)

	// Deadlock Detector Metrics
	WaitForEdges = NewGauge(
		"wait_for_edges",
		"Local wait-for graph edge count",
	)
	GraphContributionsTotal = NewCounter(
		"graph_contributions_total",
		"Wait-for graph contributions received by the elected detector",
	)
	StaleContributionsDroppedTotal = NewCounter(
		"stale_contributions_dropped_total",
		"Contributions dropped due to recovery_count mismatch",
	)
	CyclesDetectedTotal = NewCounter(
		"cycles_detected_total",
		"Cycles found in the merged wait-for graph",
	)
	VictimsAbortedTotal = NewCounter(
		"victims_aborted_total",
		"ABORT broadcasts issued after cycle detection",
	)
	DetectionRoundSeconds = NewHistogramWithBuckets(
		"detection_round_seconds",
		"Snapshot-to-merge detection round duration in seconds",
		DeadlockRoundBuckets,
	)

	// Resolver Metrics
	OrphansResolvedTotal = NewCounterVec(
		"orphans_resolved_total",
		"Orphan PREPAREs resolved by outcome",
		[]string{"outcome"},
	)
	ResolverPollSeconds = NewHistogramWithBuckets(
		"resolver_poll_seconds",
		"POLL_STATUS round-trip latency in seconds",
		CommitPhaseBuckets,
	)

	// DMQ Transport Metrics
	DMQMessagesTotal = NewCounterVec(
		"dmq_messages_total",
		"DMQ messages by direction and code",
		[]string{"direction", "code"},
	)
	DMQDisconnectsTotal = NewCounter(
		"dmq_disconnects_total",
		"Peer detach notifications observed",
	)
	DecodeErrorsTotal = NewCounter(
		"decode_errors_total",
		"ArbiterMessage decode failures",
	)
}
