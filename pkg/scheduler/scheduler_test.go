package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/phase"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestReady_MinimalPrefixBeforePlan(t *testing.T) {
	reg := phase.NewRegistry()
	s := New(reg)
	j := job.New("job-1", "owner-1", job.Input{Prompt: "a story about a dog"}, time.Now())

	ready, complete, err := s.Ready(j.CoverStatus == job.CoverFailed, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, complete)
	require.Len(t, ready, 1)
	assert.Equal(t, phase.Concept, ready[0].Phase)
}

func TestReady_ExpandsFanOutAfterPlan(t *testing.T) {
	reg := phase.NewRegistry()
	s := New(reg)
	j := job.New("job-1", "owner-1", job.Input{Prompt: "a story about a dog"}, time.Now())

	planOut := phase.PlanOutput{
		Title: "Good Boy",
		Chapters: []phase.ChapterPlan{
			{Title: "Ch1", SceneCount: 2},
		},
	}
	checkpoints := []artifact.Checkpoint{
		{JobID: j.ID, Phase: string(phase.Concept), Index: 0, Payload: mustJSON(t, phase.ConceptOutput{Logline: "x", Themes: []string{"loyalty"}})},
		{JobID: j.ID, Phase: string(phase.Constitution), Index: 0, Payload: mustJSON(t, phase.ConstitutionOutput{Characters: []phase.Character{{Name: "Rex"}}, Setting: "a farm"})},
		{JobID: j.ID, Phase: string(phase.Plan), Index: 0, Payload: mustJSON(t, planOut)},
	}

	ready, complete, err := s.Ready(j.CoverStatus == job.CoverFailed, checkpoints, nil, nil)
	require.NoError(t, err)
	assert.False(t, complete)
	// Two write instances (one per scene) plus the cover instance, which
	// only depends on concept+plan and so is ready concurrently with
	// writing.
	require.Len(t, ready, 3)
	assert.Equal(t, phase.Write, ready[0].Phase)
	assert.Equal(t, phase.Write, ready[1].Phase)
	assert.Equal(t, phase.Cover, ready[2].Phase)
	assert.Equal(t, phase.EncodeWriteIndex(0, 0), ready[0].Index)
	assert.Equal(t, phase.EncodeWriteIndex(0, 1), ready[1].Index)
}

func TestReady_RespectsConcurrencySlots(t *testing.T) {
	reg := phase.NewRegistry()
	s := New(reg)
	j := job.New("job-1", "owner-1", job.Input{Prompt: "a story about a dog"}, time.Now())

	planOut := phase.PlanOutput{
		Chapters: []phase.ChapterPlan{{Title: "Ch1", SceneCount: 3}},
	}
	checkpoints := []artifact.Checkpoint{
		{JobID: j.ID, Phase: string(phase.Concept), Index: 0, Payload: mustJSON(t, phase.ConceptOutput{Logline: "x", Themes: []string{"a"}})},
		{JobID: j.ID, Phase: string(phase.Constitution), Index: 0, Payload: mustJSON(t, phase.ConstitutionOutput{Characters: []phase.Character{{Name: "Rex"}}, Setting: "farm"})},
		{JobID: j.ID, Phase: string(phase.Plan), Index: 0, Payload: mustJSON(t, planOut)},
	}

	ready, _, err := s.Ready(j.CoverStatus == job.CoverFailed, checkpoints, nil, map[string]int{"text-large": 1})
	require.NoError(t, err)
	require.Len(t, ready, 1)
}

func TestReady_DeadlockOnUnsatisfiableDeps(t *testing.T) {
	// A broken registry: concept depends on a phase ("nonexistent") that
	// is never declared anywhere in the plan, so it can never become
	// Done or Ready — the exact "artificially broken PhaseSpec" edge
	// case named alongside the scheduler's design.
	broken := []phase.Spec{
		{Name: phase.Concept, Ordinal: 0, DependsOn: []phase.Name{"nonexistent"}},
	}
	reg := phase.NewWithSpecs(broken)
	s := New(reg)
	j := job.New("job-1", "owner-1", job.Input{Prompt: "a story about a dog"}, time.Now())

	_, complete, err := s.Ready(j.CoverStatus == job.CoverFailed, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, orcherr.ErrDeadlock)
	assert.False(t, complete)
}

func TestReady_CompleteWhenAllDone(t *testing.T) {
	reg := phase.NewRegistry()
	s := New(reg)
	j := job.New("job-1", "owner-1", job.Input{Prompt: "a story about a dog"}, time.Now())
	j.CoverStatus = job.CoverFailed

	planOut := phase.PlanOutput{Chapters: []phase.ChapterPlan{{Title: "Ch1", SceneCount: 1}}}
	checkpoints := []artifact.Checkpoint{
		{JobID: j.ID, Phase: string(phase.Concept), Index: 0, Payload: mustJSON(t, phase.ConceptOutput{Logline: "x", Themes: []string{"a"}})},
		{JobID: j.ID, Phase: string(phase.Constitution), Index: 0, Payload: mustJSON(t, phase.ConstitutionOutput{Characters: []phase.Character{{Name: "Rex"}}, Setting: "farm"})},
		{JobID: j.ID, Phase: string(phase.Plan), Index: 0, Payload: mustJSON(t, planOut)},
		{JobID: j.ID, Phase: string(phase.Write), Index: phase.EncodeWriteIndex(0, 0), Payload: mustJSON(t, phase.WriteOutput{Text: "Once upon a time."})},
		{JobID: j.ID, Phase: string(phase.Polish), Index: 0, Payload: mustJSON(t, phase.PolishOutput{Scenes: []string{"Once upon a time, polished."}})},
		{JobID: j.ID, Phase: string(phase.Finalize), Index: 0, Payload: mustJSON(t, phase.FinalizeOutput{WordCount: 4})},
	}

	_, complete, err := s.Ready(j.CoverStatus == job.CoverFailed, checkpoints, nil, nil)
	require.NoError(t, err)
	assert.True(t, complete)
}
