package identityflow

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricConfirmationIssued counts confirmation tokens handed to the sender.
	MetricConfirmationIssued MetricID = iota
	// MetricConfirmationSuccess counts identities confirmed by a token.
	MetricConfirmationSuccess
	// MetricConfirmationAlreadyConfirmed counts confirmations short-circuited
	// because the identity was already confirmed.
	MetricConfirmationAlreadyConfirmed
	// MetricConfirmationFailure counts confirmations that did not succeed.
	MetricConfirmationFailure
	// MetricRecoveryIssued counts password-reset tokens handed to the sender.
	MetricRecoveryIssued
	// MetricRecoverySuccess counts completed password resets.
	MetricRecoverySuccess
	// MetricRecoveryFailure counts password resets that did not succeed.
	MetricRecoveryFailure
	// MetricRecoveryNotConfirmed counts resets rejected for an unconfirmed identity.
	MetricRecoveryNotConfirmed
	// MetricTokenInvalid counts token checks that failed validation.
	MetricTokenInvalid
	// MetricTokenReplayDetected counts valid-looking tokens that lost the consume race.
	MetricTokenReplayDetected
	// MetricTokensRevoked counts tokens revoked by rotation or credential change.
	MetricTokensRevoked
	MetricRegistrationSuccess
	MetricRegistrationDuplicate
	MetricCredentialChangeSuccess
	MetricCredentialChangeInvalid
	MetricCredentialChangeFailure
	// MetricNotificationFailure counts NotificationSender errors.
	MetricNotificationFailure
	// MetricIssuanceRateLimited counts issuance requests denied by the limiter.
	MetricIssuanceRateLimited
	// MetricCheckTokenLatency is the CheckToken latency histogram.
	MetricCheckTokenLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters for every [MetricID]. A nil or disabled
// Metrics ignores all writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of Metrics. Histogram buckets are
// non-cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds a Metrics from cfg.
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

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d into the histogram id. Only latency metrics accept
// observations.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricCheckTokenLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricCheckTokenLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricCheckTokenLatency].buckets[i])
		}
		s.Histograms[MetricCheckTokenLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
