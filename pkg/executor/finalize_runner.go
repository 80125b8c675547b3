package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/manuscript"
	"github.com/inkforge/orchestrator/pkg/phase"
)

// ManuscriptStore is the persistence surface FinalizeRunner writes the
// assembled book to, satisfied by (*store.ManuscriptsRepo).
type ManuscriptStore interface {
	Put(ctx context.Context, m *manuscript.Manuscript) error
}

// FinalizeRunner assembles the terminal Manuscript from every upstream
// checkpoint's text, deterministically — finalize calls no external
// provider.
type FinalizeRunner struct {
	Manuscripts ManuscriptStore
}

var _ Runner = (*FinalizeRunner)(nil)

func (r *FinalizeRunner) Run(ctx context.Context, j *job.Job, spec phase.Spec, index int64, input any) (Result, error) {
	in, ok := input.(phase.FinalizeInput)
	if !ok {
		return Result{}, fmt.Errorf("executor: finalize runner got unexpected input type %T", input)
	}

	m := &manuscript.Manuscript{JobID: j.ID, Title: in.Title}
	for _, chapterPlan := range in.PlanOutput.Chapters {
		ch := manuscript.Chapter{Title: chapterPlan.Title}
		for scene := 0; scene < chapterPlan.SceneCount; scene++ {
			idx := phase.EncodeWriteIndex(len(m.Chapters), scene)
			ch.Sections = append(ch.Sections, manuscript.Section{
				Title: fmt.Sprintf("Scene %d", scene+1),
				Text:  in.Scenes[idx],
			})
		}
		m.Chapters = append(m.Chapters, ch)
	}
	if in.CoverLoc != "" {
		m.Cover = &manuscript.Cover{URL: in.CoverLoc}
	}

	wordCount := m.WordCount()
	m.Stats = manuscript.Stats{
		WordCount:    wordCount,
		ChapterCount: len(m.Chapters),
		SceneCount:   len(in.Scenes),
	}

	if err := r.Manuscripts.Put(ctx, m); err != nil {
		return Result{}, fmt.Errorf("executor: persist manuscript: %w", err)
	}

	payload, err := json.Marshal(phase.FinalizeOutput{WordCount: wordCount})
	if err != nil {
		return Result{}, fmt.Errorf("executor: marshal finalize output: %w", err)
	}
	return Result{Payload: payload}, nil
}
