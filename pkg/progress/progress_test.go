package progress

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/phase"
	"github.com/inkforge/orchestrator/pkg/scheduler"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCompute_EmptyJobIsZero(t *testing.T) {
	j := job.New("j1", "owner", job.Input{Prompt: "a dog story"}, time.Now())
	rep := Compute(j, nil, &scheduler.Instance{Phase: phase.Concept, Index: 0})
	assert.Equal(t, 0, rep.Percent)
	assert.Equal(t, phase.HumanLabel(phase.Concept), rep.Label)
}

func TestCompute_WriterScenesDominate(t *testing.T) {
	j := job.New("j1", "owner", job.Input{Prompt: "a dog story"}, time.Now())
	planOut := phase.PlanOutput{Chapters: []phase.ChapterPlan{{Title: "Ch1", SceneCount: 4}}}
	checkpoints := []artifact.Checkpoint{
		{Phase: string(phase.Concept), Index: 0, Payload: mustJSON(t, phase.ConceptOutput{})},
		{Phase: string(phase.Constitution), Index: 0, Payload: mustJSON(t, phase.ConstitutionOutput{})},
		{Phase: string(phase.Plan), Index: 0, Payload: mustJSON(t, planOut)},
		{Phase: string(phase.Write), Index: phase.EncodeWriteIndex(0, 0)},
		{Phase: string(phase.Write), Index: phase.EncodeWriteIndex(0, 1)},
	}
	next := &scheduler.Instance{Phase: phase.Write, Index: phase.EncodeWriteIndex(0, 2)}
	rep := Compute(j, checkpoints, next)

	// concept(5) + constitution(5) + plan(10) + write(60 * 2/4 = 30) = 50
	assert.Equal(t, 50, rep.Percent)
	assert.Equal(t, "Writing Chapter 1, Scene 3", rep.Label)
}

func TestCompute_CompleteJobIsFullAndLabeled(t *testing.T) {
	j := job.New("j1", "owner", job.Input{Prompt: "a dog story"}, time.Now())
	require.NoError(t, j.Transition(job.StateRunning, time.Now()))
	require.NoError(t, j.Transition(job.StateComplete, time.Now()))

	rep := Compute(j, nil, nil)
	assert.Equal(t, 100, rep.Percent)
}

func TestCompute_NeverReports100BeforeStatusIsComplete(t *testing.T) {
	// All per-phase checkpoints exist, including finalize's own, but the
	// Job Controller hasn't yet flipped Status to complete — the window
	// between the last write and the status transition must not read
	// as 100% to a polling client.
	j := job.New("j1", "owner", job.Input{Prompt: "a dog story"}, time.Now())
	require.NoError(t, j.Transition(job.StateRunning, time.Now()))
	planOut := phase.PlanOutput{Chapters: []phase.ChapterPlan{{Title: "Ch1", SceneCount: 1}}}
	checkpoints := []artifact.Checkpoint{
		{Phase: string(phase.Concept), Index: 0},
		{Phase: string(phase.Constitution), Index: 0},
		{Phase: string(phase.Plan), Index: 0, Payload: mustJSON(t, planOut)},
		{Phase: string(phase.Write), Index: phase.EncodeWriteIndex(0, 0)},
		{Phase: string(phase.Polish), Index: 0},
		{Phase: string(phase.Cover), Index: 0},
		{Phase: string(phase.Finalize), Index: 0},
	}
	rep := Compute(j, checkpoints, nil)
	assert.Equal(t, 99, rep.Percent)
}
