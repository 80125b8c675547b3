package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inkforge/orchestrator/pkg/orcherr"
)

func TestGate_DisabledAcceptsAnything(t *testing.T) {
	g := Gate{Enabled: false}
	assert.NoError(t, g.Require(""))
	assert.NoError(t, g.Require("ref-123"))
}

func TestGate_EnabledRequiresReference(t *testing.T) {
	g := Gate{Enabled: true}
	assert.ErrorIs(t, g.Require(""), orcherr.ErrValidationFailed)
	assert.NoError(t, g.Require("ref-123"))
}
