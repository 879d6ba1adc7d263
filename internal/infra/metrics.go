package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	stepsAdvanced    atomic.Uint64
	ordersSubmitted  atomic.Uint64
	ordersRejected   atomic.Uint64
	tradesExecuted   atomic.Uint64
	volumeTraded     atomic.Uint64
	timeoutsReaped   atomic.Uint64
	agentsSuppressed atomic.Uint64

	// Step latency tracking
	stepLatencySumNs atomic.Int64
	stepLatencyCount atomic.Uint64

	// Gauges
	activeObservers atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordStep records one completed simulation step with its latency.
func (m *Metrics) RecordStep(latencyNs int64) {
	m.stepsAdvanced.Add(1)
	m.stepLatencySumNs.Add(latencyNs)
	m.stepLatencyCount.Add(1)
}

// RecordOrderSubmitted records an accepted order.
func (m *Metrics) RecordOrderSubmitted() {
	m.ordersSubmitted.Add(1)
}

// RecordOrderRejected records an order the book refused.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordTrade records one fill and its share volume.
func (m *Metrics) RecordTrade(qty int) {
	m.tradesExecuted.Add(1)
	m.volumeTraded.Add(uint64(qty))
}

// RecordTimeouts records n orders reaped by the timeout sweep.
func (m *Metrics) RecordTimeouts(n int) {
	m.timeoutsReaped.Add(uint64(n))
}

// RecordSuppressed records an agent silenced by bullying this step.
func (m *Metrics) RecordSuppressed() {
	m.agentsSuppressed.Add(1)
}

// IncrementObservers increments active stream observers by 1.
func (m *Metrics) IncrementObservers() {
	m.activeObservers.Add(1)
}

// DecrementObservers decrements active stream observers by 1.
func (m *Metrics) DecrementObservers() {
	m.activeObservers.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	StepsAdvanced    uint64
	OrdersSubmitted  uint64
	OrdersRejected   uint64
	TradesExecuted   uint64
	VolumeTraded     uint64
	TimeoutsReaped   uint64
	AgentsSuppressed uint64
	AvgStepNs        int64
	ActiveObservers  int32
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgStep int64
	count := m.stepLatencyCount.Load()
	if count > 0 {
		avgStep = m.stepLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		StepsAdvanced:    m.stepsAdvanced.Load(),
		OrdersSubmitted:  m.ordersSubmitted.Load(),
		OrdersRejected:   m.ordersRejected.Load(),
		TradesExecuted:   m.tradesExecuted.Load(),
		VolumeTraded:     m.volumeTraded.Load(),
		TimeoutsReaped:   m.timeoutsReaped.Load(),
		AgentsSuppressed: m.agentsSuppressed.Load(),
		AvgStepNs:        avgStep,
		ActiveObservers:  m.activeObservers.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing and between scenario runs).
func (m *Metrics) Reset() {
	m.stepsAdvanced.Store(0)
	m.ordersSubmitted.Store(0)
	m.ordersRejected.Store(0)
	m.tradesExecuted.Store(0)
	m.volumeTraded.Store(0)
	m.timeoutsReaped.Store(0)
	m.agentsSuppressed.Store(0)
	m.stepLatencySumNs.Store(0)
	m.stepLatencyCount.Store(0)
	m.activeObservers.Store(0)
}
