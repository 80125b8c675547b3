package executor

import (
	"context"

	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/phase"
)

// Result is one Runner invocation's raw output, before validation.
type Result struct {
	Payload      []byte
	TokensIn     int
	TokensOut    int
}

// Runner executes one phase instance against its external collaborator
// (an LLM, the cover subsystem's image pipeline, or — for finalize — no
// collaborator at all). The Step Executor owns the advisory flag,
// fingerprint/cache lookup, validation and checkpoint write; a Runner
// only produces the candidate payload.
type Runner interface {
	Run(ctx context.Context, j *job.Job, spec phase.Spec, index int64, input any) (Result, error)
}
