// Package scheduler computes, for a Job and its Checkpoints, the set of
// phase instances that are ready to run right now. It holds no state of
// its own and performs no IO: every decision is a pure function of its
// arguments, a small independently testable piece rather than a
// stateful orchestrator object.
package scheduler

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/phase"
)

// Instance identifies one phase instance within a job's plan.
type Instance struct {
	Phase phase.Name
	Index int64
}

func (i Instance) String() string { return fmt.Sprintf("%s[%d]", i.Phase, i.Index) }

// Status classifies one Instance's current state (§4.D step 2).
type Status int

const (
	Blocked Status = iota
	Ready
	InFlight
	Done
)

// Scheduler computes ready sets against a fixed phase.Registry.
type Scheduler struct {
	reg *phase.Registry
}

func New(reg *phase.Registry) *Scheduler {
	return &Scheduler{reg: reg}
}

// Plan determines the active set of phase instances for a job: every
// singleton phase (concept, constitution, plan, cover, finalize) has its
// one instance from the start, and the fan-out phases (write, polish)
// have instances only once the plan phase has produced a Checkpoint,
// expanded against the decoded plan (§4.D step 1).
func (s *Scheduler) Plan(checkpoints []artifact.Checkpoint) ([]Instance, error) {
	var planCP *artifact.Checkpoint
	byPhase := map[phase.Name][]artifact.Checkpoint{}
	for i := range checkpoints {
		cp := checkpoints[i]
		byPhase[phase.Name(cp.Phase)] = append(byPhase[phase.Name(cp.Phase)], cp)
		if phase.Name(cp.Phase) == phase.Plan {
			planCP = &checkpoints[i]
		}
	}

	var out []Instance
	for _, name := range s.reg.Plan() {
		spec, _ := s.reg.Get(name)
		if spec.Singleton() {
			out = append(out, Instance{Phase: name, Index: 0})
			continue
		}
		if planCP == nil {
			// Fan-out phases have no instances until the plan exists.
			continue
		}
		var planOut phase.PlanOutput
		if err := json.Unmarshal(planCP.Payload, &planOut); err != nil {
			return nil, fmt.Errorf("scheduler: decode plan checkpoint: %w", err)
		}
		indices, err := spec.Derive(planOut)
		if err != nil {
			return nil, fmt.Errorf("scheduler: derive %s fan-out: %w", name, err)
		}
		for _, idx := range indices {
			out = append(out, Instance{Phase: name, Index: idx})
		}
	}
	return out, nil
}

// Statuses classifies every instance in plan against the existing
// checkpoints and the set currently in-flight within this tick.
// coverFailed marks the cover instance Done even without a checkpoint,
// since cover is optional for completion (§4.G).
func (s *Scheduler) Statuses(plan []Instance, checkpoints []artifact.Checkpoint, inFlight map[Instance]bool, coverFailed bool) map[Instance]Status {
	doneSet := map[Instance]bool{}
	for _, cp := range checkpoints {
		doneSet[Instance{Phase: phase.Name(cp.Phase), Index: cp.Index}] = true
	}

	statuses := make(map[Instance]Status, len(plan))
	for _, inst := range plan {
		switch {
		case doneSet[inst]:
			statuses[inst] = Done
		case inst.Phase == phase.Cover && coverFailed:
			statuses[inst] = Done
		case inFlight[inst]:
			statuses[inst] = InFlight
		default:
			spec, _ := s.reg.Get(inst.Phase)
			if s.depsMet(spec, inst, plan, statuses, doneSet, coverFailed) {
				statuses[inst] = Ready
			} else {
				statuses[inst] = Blocked
			}
		}
	}
	return statuses
}

// depsMet reports whether every phase inst.Phase depends on has all of
// its plan instances Done (fan-out phases are "done" only once every
// derived instance has a checkpoint).
func (s *Scheduler) depsMet(spec phase.Spec, inst Instance, plan []Instance, statuses map[Instance]Status, doneSet map[Instance]bool, coverFailed bool) bool {
	for _, dep := range spec.DependsOn {
		found := false
		for _, other := range plan {
			if other.Phase != dep {
				continue
			}
			found = true
			if doneSet[other] {
				continue
			}
			if other.Phase == phase.Cover && coverFailed {
				continue
			}
			return false
		}
		if !found {
			// The dependency has no instances in the plan at all, so it
			// can never become Done — an unsatisfiable dependency.
			return false
		}
	}
	return true
}

// Ready computes the bounded, tie-broken ready set for one tick (§4.D
// steps 2-4). slots maps cost class -> remaining concurrency budget;
// the Worker Loop and the Job Controller build it from their
// WriterConcurrency setting, with one slot for "image". No per-provider
// semaphore is consulted. A nil slots map means unbounded; instances of
// class "" or "none" are never bounded, and a class missing from a
// non-nil map gets no slots.
//
// Returns (ready, complete, err): complete is true when every plan
// instance is Done; err is a deadlock diagnostic when the ready set and
// in-flight set are both empty but the plan is incomplete.
//
// coverFailed reports whether the job's cover subsystem has already
// exhausted its quality-gate attempts (job.CoverStatus == job.CoverFailed);
// callers pass this in rather than a *job.Job so the Scheduler stays a
// pure function over plain data with no dependency on the Job Controller's
// package.
func (s *Scheduler) Ready(coverFailed bool, checkpoints []artifact.Checkpoint, inFlight map[Instance]bool, slots map[string]int) ([]Instance, bool, error) {
	plan, err := s.Plan(checkpoints)
	if err != nil {
		return nil, false, err
	}

	statuses := s.Statuses(plan, checkpoints, inFlight, coverFailed)

	var candidates []Instance
	allDone := true
	anyInFlight := false
	for _, inst := range plan {
		switch statuses[inst] {
		case Ready:
			candidates = append(candidates, inst)
			allDone = false
		case InFlight:
			anyInFlight = true
			allDone = false
		case Blocked:
			allDone = false
		}
	}

	if allDone {
		return nil, true, nil
	}

	sortInstances(s.reg, candidates)

	if len(candidates) == 0 {
		if anyInFlight {
			return nil, false, nil
		}
		return nil, false, deadlockError(s.reg, plan, statuses)
	}

	if slots == nil {
		return candidates, false, nil
	}

	remaining := make(map[string]int, len(slots))
	for k, v := range slots {
		remaining[k] = v
	}
	var bounded []Instance
	for _, inst := range candidates {
		spec, _ := s.reg.Get(inst.Phase)
		if spec.CostClass == "" || spec.CostClass == "none" {
			bounded = append(bounded, inst)
			continue
		}
		if remaining[spec.CostClass] > 0 {
			remaining[spec.CostClass]--
			bounded = append(bounded, inst)
		}
	}
	return bounded, false, nil
}

func sortInstances(reg *phase.Registry, instances []Instance) {
	sort.Slice(instances, func(i, j int) bool {
		si, _ := reg.Get(instances[i].Phase)
		sj, _ := reg.Get(instances[j].Phase)
		if si.Ordinal != sj.Ordinal {
			return si.Ordinal < sj.Ordinal
		}
		return instances[i].Index < instances[j].Index
	})
}

// deadlockError builds the diagnostic named in §4.D: an unmet-deps
// blocked instance with nothing in flight is a bug, not a transient
// state, and surfaces as a fatal error.
func deadlockError(reg *phase.Registry, plan []Instance, statuses map[Instance]Status) error {
	var blocked []string
	for _, inst := range plan {
		if statuses[inst] != Blocked {
			continue
		}
		spec, _ := reg.Get(inst.Phase)
		blocked = append(blocked, fmt.Sprintf("%s (needs %v)", inst, spec.DependsOn))
	}
	return orcherr.Classify(orcherr.Consistency, fmt.Errorf("%w: no ready or in-flight instances with unmet dependencies: %v", orcherr.ErrDeadlock, blocked))
}
