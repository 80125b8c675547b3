package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording_PhaseAndProvider(t *testing.T) {
	metrics, err := NewMetrics(&MetricsConfig{Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, metrics)

	metrics.RecordPhaseInstance("concept", 100*time.Millisecond)
	metrics.RecordPhaseInstance("write", 200*time.Millisecond)
	metrics.RecordPhaseError("write", "transient")
	metrics.RecordPhaseRetry("write")

	metrics.RecordProviderCall("anthropic", "text", 500*time.Millisecond)
	metrics.RecordProviderTokens("anthropic", 100, 50)
	metrics.RecordProviderError("anthropic", "text", "transient")
}

func TestMetricsRecording_CacheAndWorker(t *testing.T) {
	metrics, err := NewMetrics(&MetricsConfig{Enabled: true})
	require.NoError(t, err)

	metrics.RecordCacheHit("concept")
	metrics.RecordCacheMiss("write")
	metrics.SetWorkerActiveInstances("worker-1", 3)
	metrics.RecordWorkerTick("worker-1")
	metrics.SetQueueDepth("redis", 12)
	metrics.RecordJobCreated("polished")
	metrics.RecordJobFinished("completed")
	metrics.RecordCoverAttempt()
	metrics.RecordCoverRejected("contains_text")
}

func TestNewMetrics_DisabledReturnsNil(t *testing.T) {
	metrics, err := NewMetrics(&MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, metrics)

	metrics, err = NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)
}

func TestNoopMetrics_NeverPanics(t *testing.T) {
	var r Recorder = NoopMetrics{}

	r.RecordPhaseInstance("concept", 10*time.Millisecond)
	r.RecordPhaseError("concept", "policy")
	r.RecordPhaseRetry("concept")
	r.RecordProviderCall("openai", "image", 10*time.Millisecond)
	r.RecordProviderTokens("openai", 1, 1)
	r.RecordProviderError("openai", "image", "capacity")
	r.RecordCacheHit("plan")
	r.RecordCacheMiss("plan")
	r.SetWorkerActiveInstances("owner", 1)
	r.RecordWorkerTick("owner")
	r.SetQueueDepth("memory", 0)
	r.RecordJobCreated("draft")
	r.RecordJobFinished("failed")
	r.RecordCoverAttempt()
	r.RecordCoverRejected("low_quality")
	r.RecordHTTPRequest("GET", "/api/jobs", 200, time.Millisecond, 0, 0)

	resp := NoopMetrics{}.Handler()
	assert.NotNil(t, resp)
}

func TestNilMetricsIsNilSafe(t *testing.T) {
	var metrics *Metrics
	metrics.RecordPhaseInstance("concept", time.Millisecond)
	metrics.RecordCacheHit("concept")
	metrics.SetQueueDepth("redis", 0)
}

func TestManager_DisabledByDefault(t *testing.T) {
	m, err := NewManager(&Config{})
	require.NoError(t, err)
	assert.False(t, m.MetricsEnabled())
	assert.Nil(t, m.Metrics())
}

func TestManager_MetricsEnabled(t *testing.T) {
	m, err := NewManager(&Config{Metrics: MetricsConfig{Enabled: true}})
	require.NoError(t, err)
	assert.True(t, m.MetricsEnabled())
	require.NotNil(t, m.Metrics())
	assert.Equal(t, DefaultMetricsPath, m.MetricsEndpoint())
}

func TestNoopManager(t *testing.T) {
	m := NoopManager()
	assert.False(t, m.MetricsEnabled())
	assert.Nil(t, m.Metrics())
	assert.Equal(t, DefaultMetricsPath, m.MetricsEndpoint())
}
