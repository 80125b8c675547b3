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
)

// =============================================================================
// No-op Manager
// =============================================================================

// NoopManager returns a no-operation Manager that does nothing.
// Use this when observability is completely disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// =============================================================================
// No-op Metrics
// =============================================================================

// NoopMetrics is a metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordPhaseInstance(_ string, _ time.Duration) {}
func (NoopMetrics) RecordPhaseError(_, _ string)                  {}
func (NoopMetrics) RecordPhaseRetry(_ string)                     {}

func (NoopMetrics) RecordProviderCall(_, _ string, _ time.Duration) {}
func (NoopMetrics) RecordProviderTokens(_ string, _, _ int)         {}
func (NoopMetrics) RecordProviderError(_, _, _ string)              {}

func (NoopMetrics) RecordCacheHit(_ string)  {}
func (NoopMetrics) RecordCacheMiss(_ string) {}

func (NoopMetrics) SetWorkerActiveInstances(_ string, _ int) {}
func (NoopMetrics) RecordWorkerTick(_ string)                {}
func (NoopMetrics) SetQueueDepth(_ string, _ int)            {}

func (NoopMetrics) RecordJobCreated(_ string)  {}
func (NoopMetrics) RecordJobFinished(_ string) {}

func (NoopMetrics) RecordCoverAttempt()          {}
func (NoopMetrics) RecordCoverRejected(_ string) {}

func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration, _, _ int64) {}

// Handler returns a handler that returns 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// =============================================================================
// Recorder Interface
// =============================================================================

// Recorder defines the interface for recording metrics. This allows for
// dependency injection and easier testing; components hold a Recorder
// rather than a concrete *Metrics so a disabled Manager can hand them a
// NoopMetrics{} instead of a nil pointer with guarded call sites.
type Recorder interface {
	RecordPhaseInstance(phase string, duration time.Duration)
	RecordPhaseError(phase, kind string)
	RecordPhaseRetry(phase string)

	RecordProviderCall(provider, kind string, duration time.Duration)
	RecordProviderTokens(provider string, inputTokens, outputTokens int)
	RecordProviderError(provider, kind, errorKind string)

	RecordCacheHit(phase string)
	RecordCacheMiss(phase string)

	SetWorkerActiveInstances(owner string, count int)
	RecordWorkerTick(owner string)
	SetQueueDepth(backend string, depth int)

	RecordJobCreated(mode string)
	RecordJobFinished(status string)

	RecordCoverAttempt()
	RecordCoverRejected(reason string)

	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
