package providers

import (
	"context"
	"time"

	"github.com/inkforge/orchestrator/pkg/observability"
	"github.com/inkforge/orchestrator/pkg/orcherr"
)

// metricsText wraps a TextProvider so every call lands on the domain
// metrics the Job Controller's /metrics endpoint serves, the same way
// textBreaker wraps one for circuit breaking. The two wrap independently
// so a caller can apply either, both, or neither.
type metricsText struct {
	inner    TextProvider
	name     string
	recorder observability.Recorder
}

// WrapTextMetrics wraps inner so its calls record provider latency,
// token counts, and classified errors against name.
func WrapTextMetrics(inner TextProvider, name string, recorder observability.Recorder) TextProvider {
	if recorder == nil {
		recorder = observability.NoopMetrics{}
	}
	return &metricsText{inner: inner, name: name, recorder: recorder}
}

func (m *metricsText) Generate(ctx context.Context, system, user string, maxTokens int) (TextResult, error) {
	start := time.Now()
	out, err := m.inner.Generate(ctx, system, user, maxTokens)
	m.recorder.RecordProviderCall(m.name, "text", time.Since(start))
	if err != nil {
		m.recorder.RecordProviderError(m.name, "text", classifyErrKind(err))
		return out, err
	}
	m.recorder.RecordProviderTokens(m.name, out.InputTokens, out.OutputTokens)
	return out, nil
}

type metricsImage struct {
	inner    ImageProvider
	name     string
	recorder observability.Recorder
}

// WrapImageMetrics wraps inner the way WrapTextMetrics wraps a
// TextProvider.
func WrapImageMetrics(inner ImageProvider, name string, recorder observability.Recorder) ImageProvider {
	if recorder == nil {
		recorder = observability.NoopMetrics{}
	}
	return &metricsImage{inner: inner, name: name, recorder: recorder}
}

func (m *metricsImage) Generate(ctx context.Context, prompt string, width, height int) (ImageResult, error) {
	start := time.Now()
	out, err := m.inner.Generate(ctx, prompt, width, height)
	m.recorder.RecordProviderCall(m.name, "image", time.Since(start))
	if err != nil {
		m.recorder.RecordProviderError(m.name, "image", classifyErrKind(err))
	}
	return out, err
}

type metricsVision struct {
	inner    VisionProvider
	name     string
	recorder observability.Recorder
}

// WrapVisionMetrics wraps inner the way WrapTextMetrics wraps a
// TextProvider.
func WrapVisionMetrics(inner VisionProvider, name string, recorder observability.Recorder) VisionProvider {
	if recorder == nil {
		recorder = observability.NoopMetrics{}
	}
	return &metricsVision{inner: inner, name: name, recorder: recorder}
}

func (m *metricsVision) Inspect(ctx context.Context, image []byte, slopPatterns []string) (VisionResult, error) {
	start := time.Now()
	out, err := m.inner.Inspect(ctx, image, slopPatterns)
	m.recorder.RecordProviderCall(m.name, "vision", time.Since(start))
	if err != nil {
		m.recorder.RecordProviderError(m.name, "vision", classifyErrKind(err))
	}
	return out, err
}

// classifyErrKind labels a provider error for the error counter's "kind"
// label using the same classification the Step Executor applies to
// decide retry behavior, so the metric and the retry decision agree. An
// error not already wrapped by orcherr.Classify reports as "transient",
// matching orcherr.KindOf's own default.
func classifyErrKind(err error) string {
	if err == nil {
		return ""
	}
	return string(orcherr.KindOf(err))
}
