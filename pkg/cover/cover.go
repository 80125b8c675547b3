// Package cover implements the cover subsystem: a compound phase that
// is one instance from the Scheduler's perspective but internally runs
// its own concept -> generate -> qualityCheck -> {retry with variation
// | compose} -> composed state machine.
package cover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inkforge/orchestrator/pkg/config"
	"github.com/inkforge/orchestrator/pkg/executor"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/observability"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/phase"
	"github.com/inkforge/orchestrator/pkg/providers"
)

// Subsystem runs the compound cover phase. It satisfies executor.Runner
// so the Step Executor drives it exactly like any text phase; unlike a
// text phase, a single Run call may invoke the image/vision providers
// several times internally before returning.
type Subsystem struct {
	Images      providers.ImageProvider
	Vision      providers.VisionProvider
	Objects     providers.ObjectStore
	Config      config.CoverConfig
	MaxAttempts int
	Metrics     observability.Recorder
}

var _ executor.Runner = (*Subsystem)(nil)

func (s *Subsystem) metrics() observability.Recorder {
	if s.Metrics == nil {
		return observability.NoopMetrics{}
	}
	return s.Metrics
}

const (
	coverWidth  = 1600
	coverHeight = 2400
)

func (s *Subsystem) Run(ctx context.Context, j *job.Job, spec phase.Spec, index int64, input any) (executor.Result, error) {
	in, ok := input.(phase.CoverInput)
	if !ok {
		return executor.Result{}, fmt.Errorf("cover: unexpected input type %T", input)
	}

	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	var lastRejection error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		prompt := buildPrompt(in, attempt)
		s.metrics().RecordCoverAttempt()

		img, err := s.Images.Generate(ctx, prompt, coverWidth, coverHeight)
		if err != nil {
			return executor.Result{}, fmt.Errorf("cover: generate attempt %d: %w", attempt, err)
		}

		verdict, err := s.Vision.Inspect(ctx, img.Data, s.Config.SlopPatterns)
		if err != nil {
			return executor.Result{}, fmt.Errorf("cover: quality check attempt %d: %w", attempt, err)
		}

		if reason := rejectionReason(verdict, img.Data, s.Config); reason != "" {
			lastRejection = errors.New(reason)
			s.metrics().RecordCoverRejected(reason)
			slog.Warn("cover: quality gate rejected candidate", "job_id", j.ID, "attempt", attempt, "reason", reason)
			continue
		}

		composed, err := compose(img.Data, in.Title, j.Input.Voice)
		if err != nil {
			return executor.Result{}, fmt.Errorf("cover: compose: %w", err)
		}

		location, err := s.Objects.Put(ctx, fmt.Sprintf("covers/%s/%d.png", j.ID, index), composed, "image/png")
		if err != nil {
			return executor.Result{}, fmt.Errorf("cover: store composed image: %w", err)
		}

		payload, err := json.Marshal(phase.CoverOutput{Location: location})
		if err != nil {
			return executor.Result{}, fmt.Errorf("cover: marshal output: %w", err)
		}
		return executor.Result{Payload: payload, TokensIn: 0, TokensOut: 0}, nil
	}

	return executor.Result{}, fmt.Errorf("%w after %d attempts: %v", orcherr.ErrCoverCapExceeded, maxAttempts, lastRejection)
}

func buildPrompt(in phase.CoverInput, attempt int) string {
	palette := []string{"muted autumn", "cool blue dusk", "warm amber", "deep emerald", "stark monochrome"}
	scale := []string{"tight close-up", "medium shot", "wide establishing"}
	variation := fmt.Sprintf("%s palette, %s composition", palette[attempt%len(palette)], scale[attempt%len(scale)])
	return fmt.Sprintf(
		"Book cover illustration for %q, genre %s. Themes: %v. Mood: %s. No text, letters, or numbers anywhere in the image. %s.",
		in.Title, in.Genre, in.Themes, in.Logline, variation,
	)
}
