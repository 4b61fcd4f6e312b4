package credcore

import (
	"sync/atomic"
	"time"
)

// MetricID indexes an Engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshConflict
	// MetricReplayDetected counts refresh tokens presented after revocation.
	MetricReplayDetected
	MetricRefreshRateLimited
	MetricSessionCreated
	// MetricSessionInvalidated counts refresh records revoked by logout-all,
	// replay handling, password change, and status changes.
	MetricSessionInvalidated
	MetricLogout
	MetricLogoutAll
	MetricAccountCreationSuccess
	MetricAccountCreationDuplicate
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld
	MetricPasswordChangeReuseRejected
	MetricPasswordHashUpgraded
	MetricAccountDisabled
	MetricAccountDeleted
	MetricAccountEnabled
	MetricValidateSuccess
	MetricValidateFailure
	MetricKeyRotation
	MetricSessionsPurged
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricEmailVerificationRequest
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	// MetricRecoveryRateLimited counts reset and verification requests
	// refused by the recovery throttle.
	MetricRecoveryRateLimited
	// MetricValidateLatency is the only histogram.
	MetricValidateLatency
	metricIDCount
)

// LatencyBuckets are the inclusive upper bounds of the validation latency
// histogram. Validation is pure CPU, so the range is microseconds; the last
// bucket is unbounded.
var LatencyBuckets = [histBucketCount - 1]time.Duration{
	50 * time.Microsecond,
	100 * time.Microsecond,
	250 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	2500 * time.Microsecond,
	5 * time.Millisecond,
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// paddedCounter keeps each counter on its own cache line so hot counters on
// different cores do not contend.
type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and an optional histogram of access
// token validation latency.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       [histBucketCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters that are no-ops unless cfg.Enabled is set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= MetricValidateLatency || n == 0 {
		return
	}
	m.counters[id].Add(n)
}

// Observe records d for MetricValidateLatency; any other id is ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if id != MetricValidateLatency || !m.LatencyEnabled() {
		return
	}
	m.latency[bucketIndex(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricValidateLatency {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies all counters. A disabled Metrics returns empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < MetricValidateLatency; id++ {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency[i].Load()
		}
		s.Histograms[MetricValidateLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range LatencyBuckets {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
