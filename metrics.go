package ugen

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the submit-to-complete latency histogram buckets
// in nanoseconds, logarithmically spaced from 1us to 10s, the same range
// block I/O latencies live in.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for an open ugen
// Handle: submit (DO_REQUEST), complete (GET_COMPLETED), cancel (CANCEL),
// timeout, and stall.
type Metrics struct {
	// Transfer operation counters
	SubmitOps   atomic.Uint64 // Total submissions (DO_REQUEST, plus synchronous REQUEST fallbacks)
	CompleteOps atomic.Uint64 // Total completions (GET_COMPLETED reaps, plus synchronous REQUEST fallbacks)
	CancelOps   atomic.Uint64 // Total CANCEL calls
	TimeoutOps  atomic.Uint64 // Completions that resolved as timeout
	StallOps    atomic.Uint64 // Completions that resolved as stalled

	// Byte counters
	BytesIn  atomic.Uint64 // Total bytes read from the device
	BytesOut atomic.Uint64 // Total bytes written to the device

	// Per-status completion counters (§3 Request.status taxonomy)
	NormalCompletions    atomic.Uint64
	ShortCompletions     atomic.Uint64
	CancelledCompletions atomic.Uint64
	ErrorCompletions     atomic.Uint64

	// Per-endpoint queue depth statistics (submit queue length at submit time)
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Submit-to-complete latency
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Handle lifecycle
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records one DO_REQUEST call.
func (m *Metrics) RecordSubmit(queueDepth uint32) {
	m.SubmitOps.Add(1)
	m.RecordQueueDepth(queueDepth)
}

// RecordComplete records one reaped completion: bytes moved, submit-to-
// complete latency, and the terminal status it resolved to.
func (m *Metrics) RecordComplete(bytes uint64, isRead bool, latencyNs uint64, status CompletionStatus) {
	m.CompleteOps.Add(1)
	if isRead {
		m.BytesIn.Add(bytes)
	} else {
		m.BytesOut.Add(bytes)
	}
	switch status {
	case CompletionNormal:
		m.NormalCompletions.Add(1)
	case CompletionShort:
		m.ShortCompletions.Add(1)
	case CompletionCancelled:
		m.CancelledCompletions.Add(1)
	case CompletionStalled:
		m.StallOps.Add(1)
		m.ErrorCompletions.Add(1)
	case CompletionTimeout:
		m.TimeoutOps.Add(1)
		m.ErrorCompletions.Add(1)
	case CompletionIOError:
		m.ErrorCompletions.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordCancel records one CANCEL call.
func (m *Metrics) RecordCancel() {
	m.CancelOps.Add(1)
}

// RecordQueueDepth records a submit-queue depth sample.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the Handle as closed.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time read of Metrics with derived statistics.
type MetricsSnapshot struct {
	SubmitOps   uint64
	CompleteOps uint64
	CancelOps   uint64
	TimeoutOps  uint64
	StallOps    uint64

	BytesIn  uint64
	BytesOut uint64

	NormalCompletions    uint64
	ShortCompletions     uint64
	CancelledCompletions uint64
	ErrorCompletions     uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	SubmitRate float64 // submissions per second
	ErrorRate  float64 // percentage of completions that were stalled, timed out or io-error
}

// Snapshot creates a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SubmitOps:            m.SubmitOps.Load(),
		CompleteOps:          m.CompleteOps.Load(),
		CancelOps:            m.CancelOps.Load(),
		TimeoutOps:           m.TimeoutOps.Load(),
		StallOps:             m.StallOps.Load(),
		BytesIn:              m.BytesIn.Load(),
		BytesOut:             m.BytesOut.Load(),
		NormalCompletions:    m.NormalCompletions.Load(),
		ShortCompletions:     m.ShortCompletions.Load(),
		CancelledCompletions: m.CancelledCompletions.Load(),
		ErrorCompletions:     m.ErrorCompletions.Load(),
		MaxQueueDepth:        m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SubmitRate = float64(snap.SubmitOps) / uptimeSeconds
	}

	if snap.CompleteOps > 0 {
		snap.ErrorRate = float64(snap.ErrorCompletions) / float64(snap.CompleteOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter, useful for testing.
func (m *Metrics) Reset() {
	m.SubmitOps.Store(0)
	m.CompleteOps.Store(0)
	m.CancelOps.Store(0)
	m.TimeoutOps.Store(0)
	m.StallOps.Store(0)
	m.BytesIn.Store(0)
	m.BytesOut.Store(0)
	m.NormalCompletions.Store(0)
	m.ShortCompletions.Store(0)
	m.CancelledCompletions.Store(0)
	m.ErrorCompletions.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// CompletionStatus is the metrics-facing reduction of uapi.Status, kept
// distinct from uapi.Status so this package's public surface does not force
// callers to import internal/uapi just to read a snapshot.
type CompletionStatus int

const (
	CompletionNormal CompletionStatus = iota
	CompletionShort
	CompletionCancelled
	CompletionStalled
	CompletionTimeout
	CompletionIOError
)

// Observer allows pluggable metrics collection.
type Observer interface {
	ObserveSubmit(queueDepth uint32)
	ObserveComplete(bytes uint64, isRead bool, latencyNs uint64, status CompletionStatus)
	ObserveCancel()
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(uint32)                                  {}
func (NoOpObserver) ObserveComplete(uint64, bool, uint64, CompletionStatus) {}
func (NoOpObserver) ObserveCancel()                                         {}

// MetricsObserver implements Observer by recording into a *Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an Observer that records to m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(queueDepth uint32) {
	o.metrics.RecordSubmit(queueDepth)
}

func (o *MetricsObserver) ObserveComplete(bytes uint64, isRead bool, latencyNs uint64, status CompletionStatus) {
	o.metrics.RecordComplete(bytes, isRead, latencyNs, status)
}

func (o *MetricsObserver) ObserveCancel() {
	o.metrics.RecordCancel()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
