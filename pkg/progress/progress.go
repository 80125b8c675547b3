// Package progress implements the Progress Reporter: a pure function
// over a Job and its Checkpoints producing a (percent, label) pair,
// with no access to the scheduler, store, or providers.
package progress

import (
	"encoding/json"
	"fmt"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/phase"
	"github.com/inkforge/orchestrator/pkg/scheduler"
)

// Report is the computed (percent, label) pair.
type Report struct {
	Percent int
	Label   string
}

// Compute derives Report from j and its checkpoints plus the currently
// ready/in-flight instances (so the label can name the next runnable
// step, per §4.H). next is the first instance the scheduler would
// start, in tie-break order; nil once the job is complete or blocked
// pending external state (e.g. deadlock already failed the job).
func Compute(j *job.Job, checkpoints []artifact.Checkpoint, next *scheduler.Instance) Report {
	if j.Status == job.StateComplete {
		return Report{Percent: 100, Label: phase.HumanLabel(phase.Finalize)}
	}

	doneScenes := map[phase.Name]map[int64]bool{}
	for _, cp := range checkpoints {
		name := phase.Name(cp.Phase)
		if doneScenes[name] == nil {
			doneScenes[name] = map[int64]bool{}
		}
		doneScenes[name][cp.Index] = true
	}

	totalSceneCount, totalChapterCount := planShape(checkpoints)

	percent := 0
	for name, weight := range allWeights() {
		switch name {
		case phase.Write:
			if totalSceneCount > 0 {
				percent += weight * len(doneScenes[phase.Write]) / totalSceneCount
			}
		case phase.Polish:
			if totalChapterCount > 0 {
				percent += weight * len(doneScenes[phase.Polish]) / totalChapterCount
			}
		default:
			if len(doneScenes[name]) > 0 {
				percent += weight
			}
		}
	}
	if percent > 99 && j.Status != job.StateComplete {
		// Every phase's checkpoint, finalize's included, can exist before
		// the Job Controller sets Status to complete; hold at 99 until it
		// does, so a polling client never sees 100% early.
		percent = 99
	}

	label := resolveLabel(next)
	return Report{Percent: percent, Label: label}
}

func allWeights() map[phase.Name]int {
	return map[phase.Name]int{
		phase.Concept:      phase.ProgressWeight(phase.Concept),
		phase.Constitution: phase.ProgressWeight(phase.Constitution),
		phase.Plan:         phase.ProgressWeight(phase.Plan),
		phase.Write:        phase.ProgressWeight(phase.Write),
		phase.Polish:       phase.ProgressWeight(phase.Polish),
		phase.Cover:        phase.ProgressWeight(phase.Cover),
		phase.Finalize:     phase.ProgressWeight(phase.Finalize),
	}
}

func planShape(checkpoints []artifact.Checkpoint) (scenes, chapters int) {
	for _, cp := range checkpoints {
		if phase.Name(cp.Phase) != phase.Plan {
			continue
		}
		var out phase.PlanOutput
		if err := json.Unmarshal(cp.Payload, &out); err != nil {
			continue
		}
		chapters = len(out.Chapters)
		for _, ch := range out.Chapters {
			scenes += ch.SceneCount
		}
		return scenes, chapters
	}
	return 0, 0
}

func resolveLabel(next *scheduler.Instance) string {
	if next == nil {
		return phase.HumanLabel(phase.Finalize)
	}
	if next.Phase == phase.Write {
		return phase.WriteLabel(next.Index)
	}
	if next.Phase == phase.Polish {
		return fmt.Sprintf("Polishing Chapter %d", next.Index+1)
	}
	return phase.HumanLabel(next.Phase)
}
