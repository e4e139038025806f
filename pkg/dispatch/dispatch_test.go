package dispatch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	locerrors "github.com/kwstx/cool-LOC/pkg/errors"
	"github.com/kwstx/cool-LOC/pkg/models"
)

func TestValidateAcceptsWellFormedResult(t *testing.T) {
	err := Validate(&models.DispatchResult{ConfidenceScore: 0.8, ActualImpact: 3, ExecutionTimeMS: 40})
	assert.NoError(t, err)
}

func TestValidateRejectsNilResult(t *testing.T) {
	err := Validate(nil)
	assert.True(t, locerrors.IsKind(err, locerrors.KindInvalidTask))
}

func TestValidateRejectsNonFiniteConfidence(t *testing.T) {
	assert.Error(t, Validate(&models.DispatchResult{ConfidenceScore: math.NaN()}))
	assert.Error(t, Validate(&models.DispatchResult{ConfidenceScore: math.Inf(1)}))
}

func TestValidateRejectsOutOfRangeConfidence(t *testing.T) {
	assert.Error(t, Validate(&models.DispatchResult{ConfidenceScore: 1.5}))
	assert.Error(t, Validate(&models.DispatchResult{ConfidenceScore: -0.1}))
}

func TestValidateRejectsNegativeImpactOrExecutionTime(t *testing.T) {
	assert.Error(t, Validate(&models.DispatchResult{ConfidenceScore: 0.5, ActualImpact: -1}))
	assert.Error(t, Validate(&models.DispatchResult{ConfidenceScore: 0.5, ExecutionTimeMS: -1}))
}
