// Package phase declares the static Phase Registry: the canonical
// literary pipeline (concept, constitution, plan, write, polish, cover,
// finalize) as a data-driven table of PhaseSpecs rather than hand-wired
// sequential calls.
package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/registry"
)

// DeriveFunc computes the set of fan-out indices for a phase from the
// plan checkpoint's decoded payload. Singleton phases have a nil
// DeriveFunc and always run at index 0.
type DeriveFunc func(plan PlanOutput) ([]int64, error)

// InputBuilder is a pure function over (job input, upstream checkpoints)
// producing the phase input for one instance, marshaled to JSON for the
// Checkpoint's fingerprint and for the provider call.
type InputBuilder func(ctx context.Context, j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error)

// OutputValidator reports whether a decoded phase output satisfies the
// phase's structural requirements. A non-nil error is always retriable
// per the numeric/edge policy on output validation.
type OutputValidator func(payload []byte) error

// RetryPolicy bounds how many times a phase instance may be attempted
// and how to classify a failure; actual backoff durations are computed
// by the Step Executor from BaseDelay/MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Classify    func(err error) orcherr.Kind
}

// CacheScope controls whether a phase's outputs may be shared across
// jobs/users in the Cache, per §4.I ("covers are not cached across
// users; concept distillations may be cached globally").
type CacheScope string

const (
	CacheNone   CacheScope = ""
	CacheUser   CacheScope = "user"
	CacheGlobal CacheScope = "global"
)

// Spec is the static declaration of one phase.
type Spec struct {
	Name       Name
	Ordinal    int
	DependsOn  []Name
	Derive     DeriveFunc // nil for singleton phases
	BuildInput InputBuilder
	Validate   OutputValidator
	Timeout    time.Duration
	CostClass  string
	Cache      CacheScope
	Retry      RetryPolicy
}

// Singleton reports whether this phase always runs at index 0.
func (s Spec) Singleton() bool { return s.Derive == nil }

// Registry is the declarative phase table, built once at startup and
// read by the Scheduler and Step Executor for the lifetime of the
// process.
type Registry struct {
	base *registry.BaseRegistry[Spec]
	plan []Name // canonical ordinal order, fixed at construction
}

// NewRegistry builds the canonical literary pipeline registry.
func NewRegistry() *Registry {
	return NewWithSpecs(canonicalSpecs())
}

// NewWithSpecs builds a Registry from an explicit spec list, in the
// order given. Used by tests exercising scheduler edge cases (e.g. an
// artificially unsatisfiable dependency) without disturbing the
// canonical pipeline.
func NewWithSpecs(specs []Spec) *Registry {
	r := &Registry{base: registry.NewBaseRegistry[Spec]()}
	for _, s := range specs {
		if err := r.base.Register(string(s.Name), s); err != nil {
			panic(fmt.Sprintf("phase: duplicate spec %q: %v", s.Name, err))
		}
		r.plan = append(r.plan, s.Name)
	}
	return r
}

// Get looks up a phase's static spec by name.
func (r *Registry) Get(name Name) (Spec, bool) {
	return r.base.Get(string(name))
}

// Plan returns every declared phase in canonical ordinal order.
func (r *Registry) Plan() []Name {
	out := make([]Name, len(r.plan))
	copy(out, r.plan)
	return out
}

// retriableOnShape is the default classifier: output-shape and provider
// failures are retriable until attempts are exhausted. An error the
// provider adapter already classified with a fatal kind (a Policy
// content-policy refusal, a Capacity auth failure) keeps that kind.
func retriableOnShape(err error) orcherr.Kind {
	if k := orcherr.KindOf(err); k.Fatal() {
		return k
	}
	return orcherr.Transient
}

func canonicalSpecs() []Spec {
	defaultRetry := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Classify:    retriableOnShape,
	}

	return []Spec{
		{
			Name:      Concept,
			Ordinal:   0,
			DependsOn: nil,
			BuildInput: func(ctx context.Context, j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error) {
				return ConceptInput{Prompt: j.Input.Prompt, Genre: j.Input.Genre}, nil
			},
			Validate:  validateConcept,
			Timeout:   60 * time.Second,
			CostClass: "text-small",
			Cache:     CacheGlobal,
			Retry:     defaultRetry,
		},
		{
			Name:      Constitution,
			Ordinal:   1,
			DependsOn: []Name{Concept},
			BuildInput: func(ctx context.Context, j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error) {
				concept, err := decodeOne[ConceptOutput](upstream, Concept)
				if err != nil {
					return nil, err
				}
				return ConstitutionInput{Concept: concept}, nil
			},
			Validate:  validateConstitution,
			Timeout:   90 * time.Second,
			CostClass: "text-small",
			Cache:     CacheNone,
			Retry:     defaultRetry,
		},
		{
			Name:      Plan,
			Ordinal:   2,
			DependsOn: []Name{Concept, Constitution},
			BuildInput: func(ctx context.Context, j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error) {
				concept, err := decodeOne[ConceptOutput](upstream, Concept)
				if err != nil {
					return nil, err
				}
				constitution, err := decodeOne[ConstitutionOutput](upstream, Constitution)
				if err != nil {
					return nil, err
				}
				return PlanInput{Concept: concept, Constitution: constitution, TargetWords: j.Input.TargetLengthWords}, nil
			},
			Validate:  validatePlan,
			Timeout:   120 * time.Second,
			CostClass: "text-medium",
			Cache:     CacheNone,
			Retry:     defaultRetry,
		},
		{
			Name:      Write,
			Ordinal:   3,
			DependsOn: []Name{Plan, Constitution},
			Derive:    deriveWriteIndices,
			BuildInput: func(ctx context.Context, j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error) {
				return buildWriteInput(j, index, upstream)
			},
			Validate:  validateWrite,
			Timeout:   180 * time.Second,
			CostClass: "text-large",
			Cache:     CacheNone,
			Retry: RetryPolicy{
				MaxAttempts: 4,
				BaseDelay:   3 * time.Second,
				MaxDelay:    60 * time.Second,
				Classify:    retriableOnShape,
			},
		},
		{
			Name:      Polish,
			Ordinal:   4,
			DependsOn: []Name{Write},
			Derive:    derivePolishIndices,
			BuildInput: func(ctx context.Context, j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error) {
				return buildPolishInput(j, index, upstream)
			},
			Validate:  validatePolish,
			Timeout:   180 * time.Second,
			CostClass: "text-large",
			Cache:     CacheNone,
			Retry:     defaultRetry,
		},
		{
			Name:      Cover,
			Ordinal:   5,
			DependsOn: []Name{Concept, Plan},
			BuildInput: func(ctx context.Context, j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error) {
				concept, err := decodeOne[ConceptOutput](upstream, Concept)
				if err != nil {
					return nil, err
				}
				plan, err := decodeOne[PlanOutput](upstream, Plan)
				if err != nil {
					return nil, err
				}
				return CoverInput{Title: plan.Title, Logline: concept.Logline, Themes: concept.Themes, Genre: j.Input.Genre}, nil
			},
			Validate:  validateCover,
			Timeout:   120 * time.Second,
			CostClass: "image",
			Cache:     CacheUser,
			Retry: RetryPolicy{
				MaxAttempts: 4,
				BaseDelay:   2 * time.Second,
				MaxDelay:    20 * time.Second,
				Classify:    retriableOnShape,
			},
		},
		{
			Name:      Finalize,
			Ordinal:   6,
			DependsOn: []Name{Plan, Write, Polish, Cover},
			BuildInput: func(ctx context.Context, j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error) {
				return buildFinalizeInput(j, upstream)
			},
			Validate:  validateFinalize,
			Timeout:   30 * time.Second,
			CostClass: "none",
			Cache:     CacheNone,
			Retry:     defaultRetry,
		},
	}
}

func decodeOne[T any](upstream map[Name][]artifact.Checkpoint, name Name) (T, error) {
	var zero T
	cps, ok := upstream[name]
	if !ok || len(cps) == 0 {
		return zero, fmt.Errorf("phase: missing upstream checkpoint for %s", name)
	}
	var out T
	if err := json.Unmarshal(cps[0].Payload, &out); err != nil {
		return zero, fmt.Errorf("phase: decode %s checkpoint: %w", name, err)
	}
	return out, nil
}

func deriveWriteIndices(plan PlanOutput) ([]int64, error) {
	if len(plan.Chapters) == 0 {
		return nil, fmt.Errorf("phase: plan has no chapters")
	}
	var out []int64
	for ch, chapter := range plan.Chapters {
		if chapter.SceneCount <= 0 {
			return nil, fmt.Errorf("phase: chapter %d declares no scenes", ch)
		}
		for scene := 0; scene < chapter.SceneCount; scene++ {
			out = append(out, EncodeWriteIndex(ch, scene))
		}
	}
	return out, nil
}

// derivePolishIndices fans out one polish instance per chapter (not
// per scene): the chosen open-question resolution operates on the full
// assembled chapter draft so the polish pass can smooth transitions
// between scenes, which a per-scene pass cannot see.
func derivePolishIndices(plan PlanOutput) ([]int64, error) {
	if len(plan.Chapters) == 0 {
		return nil, fmt.Errorf("phase: plan has no chapters")
	}
	out := make([]int64, len(plan.Chapters))
	for i := range plan.Chapters {
		out[i] = int64(i)
	}
	return out, nil
}

func buildWriteInput(j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error) {
	plan, err := decodeOne[PlanOutput](upstream, Plan)
	if err != nil {
		return nil, err
	}
	constitution, err := decodeOne[ConstitutionOutput](upstream, Constitution)
	if err != nil {
		return nil, err
	}
	chapter, scene := DecomposeWriteIndex(index)
	if chapter < 0 || chapter >= len(plan.Chapters) {
		return nil, fmt.Errorf("phase: write index %d out of chapter range", index)
	}
	cp := plan.Chapters[chapter]
	var beat string
	if scene < len(cp.Beats) {
		beat = cp.Beats[scene]
	}

	in := WriteInput{
		Constitution: constitution,
		ChapterTitle: cp.Title,
		ChapterIndex: chapter,
		SceneIndex:   scene,
		Beat:         beat,
	}
	if scene > 0 {
		prevIdx := EncodeWriteIndex(chapter, scene-1)
		for _, cp := range upstream[Write] {
			if cp.Index == prevIdx {
				var out WriteOutput
				if err := json.Unmarshal(cp.Payload, &out); err == nil {
					in.PrecedingText = out.Text
				}
				break
			}
		}
	}
	return in, nil
}

func buildPolishInput(j *job.Job, index int64, upstream map[Name][]artifact.Checkpoint) (any, error) {
	plan, err := decodeOne[PlanOutput](upstream, Plan)
	if err != nil {
		return nil, err
	}
	constitution, err := decodeOne[ConstitutionOutput](upstream, Constitution)
	if err != nil {
		return nil, err
	}
	chapter := int(index)
	if chapter < 0 || chapter >= len(plan.Chapters) {
		return nil, fmt.Errorf("phase: polish index %d out of chapter range", index)
	}
	scenes := make([]string, plan.Chapters[chapter].SceneCount)
	for _, cp := range upstream[Write] {
		ch, sc := DecomposeWriteIndex(cp.Index)
		if ch != chapter || sc >= len(scenes) {
			continue
		}
		var out WriteOutput
		if err := json.Unmarshal(cp.Payload, &out); err == nil {
			scenes[sc] = out.Text
		}
	}
	return PolishInput{
		ChapterTitle: plan.Chapters[chapter].Title,
		Scenes:       scenes,
		VoiceRules:   constitution.VoiceRules,
	}, nil
}

func buildFinalizeInput(j *job.Job, upstream map[Name][]artifact.Checkpoint) (any, error) {
	plan, err := decodeOne[PlanOutput](upstream, Plan)
	if err != nil {
		return nil, err
	}

	scenes := map[int64]string{}
	for _, cp := range upstream[Write] {
		var out WriteOutput
		if err := json.Unmarshal(cp.Payload, &out); err == nil {
			scenes[cp.Index] = out.Text
		}
	}
	// Polished chapters replace their constituent scene texts in place.
	for _, cp := range upstream[Polish] {
		var out PolishOutput
		if err := json.Unmarshal(cp.Payload, &out); err != nil {
			continue
		}
		chapter := int(cp.Index)
		for scene, text := range out.Scenes {
			scenes[EncodeWriteIndex(chapter, scene)] = text
		}
	}

	var coverLoc string
	if cps, ok := upstream[Cover]; ok && len(cps) > 0 {
		var out CoverOutput
		if err := json.Unmarshal(cps[0].Payload, &out); err == nil {
			coverLoc = out.Location
		}
	}

	return FinalizeInput{Title: plan.Title, PlanOutput: plan, Scenes: scenes, CoverLoc: coverLoc}, nil
}

func validateConcept(payload []byte) error {
	var out ConceptOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("phase: concept output is not valid JSON: %w", err)
	}
	if strings.TrimSpace(out.Logline) == "" {
		return fmt.Errorf("phase: concept output has an empty logline")
	}
	if len(out.Themes) == 0 {
		return fmt.Errorf("phase: concept output declares no themes")
	}
	return nil
}

func validateConstitution(payload []byte) error {
	var out ConstitutionOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("phase: constitution output is not valid JSON: %w", err)
	}
	if len(out.Characters) == 0 {
		return fmt.Errorf("phase: constitution output declares no characters")
	}
	if strings.TrimSpace(out.Setting) == "" {
		return fmt.Errorf("phase: constitution output has an empty setting")
	}
	return nil
}

func validatePlan(payload []byte) error {
	var out PlanOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("phase: plan output is not valid JSON: %w", err)
	}
	if len(out.Chapters) == 0 {
		return fmt.Errorf("phase: plan output declares no chapters")
	}
	for i, ch := range out.Chapters {
		if ch.SceneCount <= 0 {
			return fmt.Errorf("phase: plan chapter %d declares zero scenes", i)
		}
	}
	return nil
}

func validateWrite(payload []byte) error {
	var out WriteOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("phase: write output is not valid JSON: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return fmt.Errorf("phase: write output is whitespace-only")
	}
	return nil
}

func validatePolish(payload []byte) error {
	var out PolishOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("phase: polish output is not valid JSON: %w", err)
	}
	if len(out.Scenes) == 0 {
		return fmt.Errorf("phase: polish output has no scenes")
	}
	for i, s := range out.Scenes {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("phase: polish output scene %d is whitespace-only", i)
		}
	}
	return nil
}

func validateCover(payload []byte) error {
	var out CoverOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("phase: cover output is not valid JSON: %w", err)
	}
	if strings.TrimSpace(out.Location) == "" {
		return fmt.Errorf("phase: cover output has an empty location")
	}
	return nil
}

func validateFinalize(payload []byte) error {
	var out FinalizeOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("phase: finalize output is not valid JSON: %w", err)
	}
	if out.WordCount <= 0 {
		return fmt.Errorf("phase: finalize output has zero word count")
	}
	return nil
}
