package executor

import (
	"context"
	"fmt"

	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/phase"
	"github.com/inkforge/orchestrator/pkg/providers"
)

// TextRunner executes concept/constitution/plan/write/polish — every
// phase whose output is LLM prose or structured JSON — against a single
// providers.TextProvider.
type TextRunner struct {
	Provider providers.TextProvider
}

var _ Runner = (*TextRunner)(nil)

func (r *TextRunner) Run(ctx context.Context, j *job.Job, spec phase.Spec, index int64, input any) (Result, error) {
	system, user, maxTokens, err := promptFor(spec.Name, input)
	if err != nil {
		return Result{}, err
	}

	out, err := r.Provider.Generate(ctx, system, user, maxTokens)
	if err != nil {
		return Result{}, fmt.Errorf("executor: %s provider call: %w", spec.Name, err)
	}

	return Result{
		Payload:   []byte(out.Text),
		TokensIn:  out.InputTokens,
		TokensOut: out.OutputTokens,
	}, nil
}
