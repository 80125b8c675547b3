package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/inkforge/orchestrator/pkg/orcherr"
)

// BreakerConfig controls a wrapped provider's circuit breaker.
type BreakerConfig struct {
	Name        string
	MaxFailures uint32
	OpenFor     time.Duration
}

func (c BreakerConfig) settings() gobreaker.Settings {
	maxFailures := c.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openFor := c.OpenFor
	if openFor == 0 {
		openFor = 30 * time.Second
	}
	return gobreaker.Settings{
		Name:        c.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || orcherr.KindOf(err) == orcherr.Policy
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("providers: circuit breaker state change", "provider", name, "from", from, "to", to)
		},
	}
}

// textBreaker wraps a TextProvider so repeated Capacity/Transient
// failures open the circuit instead of continuing to hammer a degraded
// upstream; content-policy (Policy) failures never count toward
// tripping, since those are a property of the prompt, not the provider.
type textBreaker struct {
	inner TextProvider
	cb    *gobreaker.CircuitBreaker
}

// WrapText wraps inner with a circuit breaker under cfg.
func WrapText(inner TextProvider, cfg BreakerConfig) TextProvider {
	return &textBreaker{inner: inner, cb: gobreaker.NewCircuitBreaker(cfg.settings())}
}

func (b *textBreaker) Generate(ctx context.Context, system, user string, maxTokens int) (TextResult, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Generate(ctx, system, user, maxTokens)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return TextResult{}, orcherr.Classify(orcherr.Capacity, fmt.Errorf("providers: circuit open: %w", err))
		}
		return TextResult{}, err
	}
	return out.(TextResult), nil
}

type imageBreaker struct {
	inner ImageProvider
	cb    *gobreaker.CircuitBreaker
}

// WrapImage wraps inner with a circuit breaker under cfg.
func WrapImage(inner ImageProvider, cfg BreakerConfig) ImageProvider {
	return &imageBreaker{inner: inner, cb: gobreaker.NewCircuitBreaker(cfg.settings())}
}

func (b *imageBreaker) Generate(ctx context.Context, prompt string, width, height int) (ImageResult, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Generate(ctx, prompt, width, height)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return ImageResult{}, orcherr.Classify(orcherr.Capacity, fmt.Errorf("providers: circuit open: %w", err))
		}
		return ImageResult{}, err
	}
	return out.(ImageResult), nil
}

type visionBreaker struct {
	inner VisionProvider
	cb    *gobreaker.CircuitBreaker
}

// WrapVision wraps inner with a circuit breaker under cfg, the same way
// WrapText and WrapImage do for the other two per-attempt cover calls.
func WrapVision(inner VisionProvider, cfg BreakerConfig) VisionProvider {
	return &visionBreaker{inner: inner, cb: gobreaker.NewCircuitBreaker(cfg.settings())}
}

func (b *visionBreaker) Inspect(ctx context.Context, image []byte, slopPatterns []string) (VisionResult, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Inspect(ctx, image, slopPatterns)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return VisionResult{}, orcherr.Classify(orcherr.Capacity, fmt.Errorf("providers: circuit open: %w", err))
		}
		return VisionResult{}, err
	}
	return out.(VisionResult), nil
}
