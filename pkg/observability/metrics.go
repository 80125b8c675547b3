// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the orchestrator.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// Phase instance metrics
	phaseCalls        *prometheus.CounterVec
	phaseCallDuration *prometheus.HistogramVec
	phaseErrors       *prometheus.CounterVec
	phaseRetries      *prometheus.CounterVec

	// Provider token/cost metrics
	providerCalls        *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerTokensInput  *prometheus.CounterVec
	providerTokensOutput *prometheus.CounterVec
	providerErrors       *prometheus.CounterVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Worker/queue metrics
	workerActiveRuns *prometheus.GaugeVec
	workerTicks      *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec

	// Job lifecycle metrics
	jobsCreated  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec

	// Cover subsystem metrics
	coverAttempts *prometheus.CounterVec
	coverRejected *prometheus.CounterVec

	// HTTP metrics
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initPhaseMetrics()
	m.initProviderMetrics()
	m.initCacheMetrics()
	m.initWorkerMetrics()
	m.initJobMetrics()
	m.initCoverMetrics()
	m.initHTTPMetrics()

	return m, nil
}

func (m *Metrics) initPhaseMetrics() {
	m.phaseCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "phase",
			Name:      "instances_total",
			Help:      "Total number of phase instance executions",
		},
		[]string{"phase"},
	)

	m.phaseCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "phase",
			Name:      "instance_duration_seconds",
			Help:      "Phase instance execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to 819s
		},
		[]string{"phase"},
	)

	m.phaseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "phase",
			Name:      "errors_total",
			Help:      "Total number of phase instance failures by error kind",
		},
		[]string{"phase", "kind"},
	)

	m.phaseRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "phase",
			Name:      "retries_total",
			Help:      "Total number of phase instance retry attempts",
		},
		[]string{"phase"},
	)

	m.registry.MustRegister(m.phaseCalls, m.phaseCallDuration, m.phaseErrors, m.phaseRetries)
}

func (m *Metrics) initProviderMetrics() {
	m.providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total number of external provider calls",
		},
		[]string{"provider", "kind"},
	)

	m.providerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to 204s
		},
		[]string{"provider", "kind"},
	)

	m.providerTokensInput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "provider",
			Name:      "tokens_input_total",
			Help:      "Total number of input tokens consumed",
		},
		[]string{"provider"},
	)

	m.providerTokensOutput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "provider",
			Name:      "tokens_output_total",
			Help:      "Total number of output tokens generated",
		},
		[]string{"provider"},
	)

	m.providerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Total number of provider call errors",
		},
		[]string{"provider", "kind", "error_kind"},
	)

	m.registry.MustRegister(m.providerCalls, m.providerCallDuration, m.providerTokensInput,
		m.providerTokensOutput, m.providerErrors)
}

func (m *Metrics) initCacheMetrics() {
	m.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of phase-output cache hits",
		},
		[]string{"phase"},
	)

	m.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of phase-output cache misses",
		},
		[]string{"phase"},
	)

	m.registry.MustRegister(m.cacheHits, m.cacheMisses)
}

func (m *Metrics) initWorkerMetrics() {
	m.workerActiveRuns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "worker",
			Name:      "active_instances",
			Help:      "Number of phase instances currently executing in this worker's batch",
		},
		[]string{"owner"},
	)

	m.workerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "worker",
			Name:      "ticks_total",
			Help:      "Total number of worker loop ticks",
		},
		[]string{"owner"},
	)

	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Approximate number of jobs waiting in the work queue",
		},
		[]string{"backend"},
	)

	m.registry.MustRegister(m.workerActiveRuns, m.workerTicks, m.queueDepth)
}

func (m *Metrics) initJobMetrics() {
	m.jobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "job",
			Name:      "created_total",
			Help:      "Total number of jobs created",
		},
		[]string{"mode"},
	)

	m.jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "job",
			Name:      "finished_total",
			Help:      "Total number of jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	m.registry.MustRegister(m.jobsCreated, m.jobsFinished)
}

func (m *Metrics) initCoverMetrics() {
	m.coverAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "cover",
			Name:      "attempts_total",
			Help:      "Total number of cover generate-and-quality-check attempts",
		},
		[]string{},
	)

	m.coverRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "cover",
			Name:      "rejected_total",
			Help:      "Total number of covers rejected by the quality gate, by reason",
		},
		[]string{"reason"},
	)

	m.registry.MustRegister(m.coverAttempts, m.coverRejected)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
		},
		[]string{"method", "path"},
	)

	m.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpRequestSize, m.httpResponseSize)
}

// =============================================================================
// Phase Metrics
// =============================================================================

// RecordPhaseInstance records one phase instance execution.
func (m *Metrics) RecordPhaseInstance(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.phaseCalls.WithLabelValues(phase).Inc()
	m.phaseCallDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordPhaseError records a phase instance failure by error kind
// ("transient", "policy", "capacity", "consistency").
func (m *Metrics) RecordPhaseError(phase, kind string) {
	if m == nil {
		return
	}
	m.phaseErrors.WithLabelValues(phase, kind).Inc()
}

// RecordPhaseRetry records one retry attempt on a phase instance.
func (m *Metrics) RecordPhaseRetry(phase string) {
	if m == nil {
		return
	}
	m.phaseRetries.WithLabelValues(phase).Inc()
}

// =============================================================================
// Provider Metrics
// =============================================================================

// RecordProviderCall records a call to an external provider ("text",
// "image", "vision", "tts", "object_store").
func (m *Metrics) RecordProviderCall(provider, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, kind).Inc()
	m.providerCallDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
}

// RecordProviderTokens records token usage for a text or vision call.
func (m *Metrics) RecordProviderTokens(provider string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.providerTokensInput.WithLabelValues(provider).Add(float64(inputTokens))
	m.providerTokensOutput.WithLabelValues(provider).Add(float64(outputTokens))
}

// RecordProviderError records a provider call error.
func (m *Metrics) RecordProviderError(provider, kind, errorKind string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, kind, errorKind).Inc()
}

// =============================================================================
// Cache Metrics
// =============================================================================

// RecordCacheHit records a phase-output cache hit.
func (m *Metrics) RecordCacheHit(phase string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(phase).Inc()
}

// RecordCacheMiss records a phase-output cache miss.
func (m *Metrics) RecordCacheMiss(phase string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(phase).Inc()
}

// =============================================================================
// Worker / Queue Metrics
// =============================================================================

// SetWorkerActiveInstances sets the number of phase instances currently
// executing in this worker's batch.
func (m *Metrics) SetWorkerActiveInstances(owner string, count int) {
	if m == nil {
		return
	}
	m.workerActiveRuns.WithLabelValues(owner).Set(float64(count))
}

// RecordWorkerTick records one worker loop tick.
func (m *Metrics) RecordWorkerTick(owner string) {
	if m == nil {
		return
	}
	m.workerTicks.WithLabelValues(owner).Inc()
}

// SetQueueDepth sets the approximate number of jobs waiting in the queue.
func (m *Metrics) SetQueueDepth(backend string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(backend).Set(float64(depth))
}

// =============================================================================
// Job Metrics
// =============================================================================

// RecordJobCreated records a job creation.
func (m *Metrics) RecordJobCreated(mode string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(mode).Inc()
}

// RecordJobFinished records a job reaching a terminal status
// ("completed", "failed", "canceled").
func (m *Metrics) RecordJobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
}

// =============================================================================
// Cover Metrics
// =============================================================================

// RecordCoverAttempt records one cover generate-and-quality-check attempt.
func (m *Metrics) RecordCoverAttempt() {
	if m == nil {
		return
	}
	m.coverAttempts.WithLabelValues().Inc()
}

// RecordCoverRejected records a cover rejected by the quality gate.
func (m *Metrics) RecordCoverRejected(reason string) {
	if m == nil {
		return
	}
	m.coverRejected.WithLabelValues(reason).Inc()
}

// =============================================================================
// HTTP Metrics
// =============================================================================

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	status := statusCodeLabel(statusCode)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if reqSize > 0 {
		m.httpRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	}
	if respSize > 0 {
		m.httpResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}
}

// statusCodeLabel converts a status code to a label string.
func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// =============================================================================
// HTTP Handler
// =============================================================================

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
