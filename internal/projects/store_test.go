package projects

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to models.GenerationStatus
		ok       bool
	}{
		{models.GenerationPending, models.GenerationRunning, true},
		{models.GenerationPending, models.GenerationFailed, true},
		{models.GenerationPending, models.GenerationCompleted, false},
		{models.GenerationRunning, models.GenerationCompleted, true},
		{models.GenerationRunning, models.GenerationFailed, true},
		{models.GenerationRunning, models.GenerationPending, false},
		{models.GenerationCompleted, models.GenerationFailed, false},
		{models.GenerationFailed, models.GenerationRunning, false},
		{"unknown", models.GenerationRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
