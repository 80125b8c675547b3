package cover

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkforge/orchestrator/pkg/config"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/phase"
	"github.com/inkforge/orchestrator/pkg/providers"
)

func solidPNG(t *testing.T, c color.Color, subjectFraction float64) []byte {
	t.Helper()
	const w, h = 40, 40
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bg := color.RGBA{20, 20, 20, 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, bg)
		}
	}
	side := int(float64(w) * subjectFraction)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeImages struct {
	data []byte
	err  error
	n    int
}

func (f *fakeImages) Generate(ctx context.Context, prompt string, width, height int) (providers.ImageResult, error) {
	f.n++
	if f.err != nil {
		return providers.ImageResult{}, f.err
	}
	return providers.ImageResult{Data: f.data, ContentType: "image/png"}, nil
}

type fakeVision struct {
	verdicts []providers.VisionResult
	n        int
}

func (f *fakeVision) Inspect(ctx context.Context, image []byte, slopPatterns []string) (providers.VisionResult, error) {
	v := f.verdicts[f.n%len(f.verdicts)]
	f.n++
	return v, nil
}

type fakeObjects struct {
	puts map[string][]byte
}

func (f *fakeObjects) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return "mem://" + key, nil
}

func (f *fakeObjects) Get(ctx context.Context, location string) ([]byte, error) {
	return f.puts[location], nil
}

func testJob() *job.Job {
	return &job.Job{ID: "job-1", Input: job.Input{Voice: "wry"}}
}

func testInput() phase.CoverInput {
	return phase.CoverInput{Title: "The Salt Road", Logline: "a smuggler's last run", Themes: []string{"trust"}, Genre: "thriller"}
}

func TestSubsystem_AcceptsCleanCandidateOnFirstAttempt(t *testing.T) {
	s := &Subsystem{
		Images:      &fakeImages{data: solidPNG(t, color.RGBA{200, 30, 30, 255}, 0.6)},
		Vision:      &fakeVision{verdicts: []providers.VisionResult{{}}},
		Objects:     &fakeObjects{},
		Config:      config.CoverConfig{MinSubjectAreaRatio: 0.15},
		MaxAttempts: 4,
	}

	result, err := s.Run(context.Background(), testJob(), phase.Spec{Name: phase.Cover}, 0, testInput())
	require.NoError(t, err)
	assert.Contains(t, string(result.Payload), "mem://covers/job-1/0.png")
}

func TestSubsystem_RetriesPastTextfulCandidate(t *testing.T) {
	images := &fakeImages{data: solidPNG(t, color.RGBA{200, 30, 30, 255}, 0.6)}
	vision := &fakeVision{verdicts: []providers.VisionResult{
		{HasText: true},
		{},
	}}
	s := &Subsystem{
		Images:      images,
		Vision:      vision,
		Objects:     &fakeObjects{},
		Config:      config.CoverConfig{MinSubjectAreaRatio: 0.15},
		MaxAttempts: 4,
	}

	_, err := s.Run(context.Background(), testJob(), phase.Spec{Name: phase.Cover}, 0, testInput())
	require.NoError(t, err)
	assert.Equal(t, 2, images.n)
}

func TestSubsystem_RejectsUndersizedSubject(t *testing.T) {
	s := &Subsystem{
		Images:      &fakeImages{data: solidPNG(t, color.RGBA{200, 30, 30, 255}, 0.02)},
		Vision:      &fakeVision{verdicts: []providers.VisionResult{{}}},
		Objects:     &fakeObjects{},
		Config:      config.CoverConfig{MinSubjectAreaRatio: 0.15},
		MaxAttempts: 2,
	}

	_, err := s.Run(context.Background(), testJob(), phase.Spec{Name: phase.Cover}, 0, testInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, orcherr.ErrCoverCapExceeded)
}

func TestSubsystem_ExhaustingAttemptsReturnsCapExceeded(t *testing.T) {
	s := &Subsystem{
		Images:      &fakeImages{data: solidPNG(t, color.RGBA{200, 30, 30, 255}, 0.6)},
		Vision:      &fakeVision{verdicts: []providers.VisionResult{{HasText: true}}},
		Objects:     &fakeObjects{},
		Config:      config.CoverConfig{MinSubjectAreaRatio: 0.15},
		MaxAttempts: 3,
	}

	_, err := s.Run(context.Background(), testJob(), phase.Spec{Name: phase.Cover}, 0, testInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, orcherr.ErrCoverCapExceeded)
}
