// Package providers declares the external-collaborator interfaces the
// Step Executor calls through: text generation, image generation, and
// object storage for large binary artifacts. Concrete adapters live in
// pkg/providers/llm and pkg/providers/storage; this package also wraps
// any adapter in a circuit breaker so repeated Capacity/Transient
// failures stop hammering a degraded upstream.
package providers

import "context"

// TextResult is one text-generation call's output.
type TextResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// TextProvider generates prose from a system/user prompt pair. Every
// write-phase, concept, constitution, plan, polish and finalize-summary
// call goes through this interface.
type TextProvider interface {
	Generate(ctx context.Context, system, user string, maxTokens int) (TextResult, error)
}

// ImageResult is one image-generation call's output: raw bytes plus a
// content type, ready to hand to an ObjectStore.
type ImageResult struct {
	Data        []byte
	ContentType string
}

// ImageProvider generates a single image from a prompt, used by the
// cover subsystem's generate step.
type ImageProvider interface {
	Generate(ctx context.Context, prompt string, width, height int) (ImageResult, error)
}

// ObjectStore persists large binary artifacts (cover images, polished
// audio, anything too big for a Checkpoint's payload column) by
// reference. Put returns an opaque location string that Get accepts.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (location string, err error)
	Get(ctx context.Context, location string) ([]byte, error)
}

// VisionResult is one quality-check inspection's verdict, consumed by
// the cover subsystem's rejection-gate loop.
type VisionResult struct {
	HasText      bool
	SlopPatterns []string
}

// VisionProvider inspects a generated image for the cover subsystem's
// quality gates: any rendered text/letters/digits, and matches against
// the caller-supplied list of known "slop pattern" phrases.
type VisionProvider interface {
	Inspect(ctx context.Context, image []byte, slopPatterns []string) (VisionResult, error)
}

// TTSResult is one synthesis call's audio output.
type TTSResult struct {
	Audio       []byte
	ContentType string
}

// TTSProvider synthesizes narration audio for a manuscript. No canonical
// phase drives it yet; declared here as the contract a future audio
// phase or CLI command would consume.
type TTSProvider interface {
	Synthesize(ctx context.Context, text, voiceID string) (TTSResult, error)
}
