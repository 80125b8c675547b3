// Package billing implements the payment-gate stub spec.md §1 names as
// an external collaborator ("payment-gated job creation") without
// implementing billing math itself, an explicit non-goal. It exposes
// only the one contract the Job Controller's create() needs: whether a
// given paymentRef is acceptable for a new Job.
package billing

import "github.com/inkforge/orchestrator/pkg/orcherr"

// Gate decides whether create() may proceed for a given paymentRef. The
// zero value has Enabled false and accepts every request, matching a
// deployment with billing turned off entirely.
type Gate struct {
	Enabled bool
}

// Require validates paymentRef for a create() call. When the gate is
// disabled it always accepts. When enabled, it only checks that a
// reference was supplied at all — verifying the reference actually
// cleared a payment is the job of the real payment webhook producer
// named in spec.md §6, not this stub.
func (g Gate) Require(paymentRef string) error {
	if !g.Enabled {
		return nil
	}
	if paymentRef == "" {
		return orcherr.ErrValidationFailed
	}
	return nil
}
