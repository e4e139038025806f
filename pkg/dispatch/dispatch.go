// Package dispatch defines the Dispatcher capability contract (spec §6):
// the one external collaborator the core calls into, and the structural
// validation that turns a malformed response into an ordinary dispatch
// failure instead of a crash.
package dispatch

import (
	"context"
	"math"

	locerrors "github.com/kwstx/cool-LOC/pkg/errors"
	"github.com/kwstx/cool-LOC/pkg/models"
)

// Dispatcher takes (agent, task) and returns a structured result or an
// error. It is the only suspension point in the scheduling loop (spec §5).
type Dispatcher interface {
	Dispatch(ctx context.Context, agent *models.Agent, task *models.Task) (*models.DispatchResult, error)
}

// Validate rejects a Dispatcher result that is missing fields or carries
// non-finite numerics, treating it as a dispatch failure rather than a
// successful zero-impact completion (spec §7).
func Validate(result *models.DispatchResult) error {
	if result == nil {
		return locerrors.New(locerrors.KindInvalidTask, "dispatch.Validate", models.ReasonMalformedDispatch)
	}
	if math.IsNaN(result.ConfidenceScore) || math.IsInf(result.ConfidenceScore, 0) {
		return locerrors.New(locerrors.KindInvalidTask, "dispatch.Validate", models.ReasonMalformedDispatch)
	}
	if result.ConfidenceScore < 0 || result.ConfidenceScore > 1 {
		return locerrors.New(locerrors.KindInvalidTask, "dispatch.Validate", models.ReasonMalformedDispatch)
	}
	if math.IsNaN(result.ActualImpact) || math.IsInf(result.ActualImpact, 0) || result.ActualImpact < 0 {
		return locerrors.New(locerrors.KindInvalidTask, "dispatch.Validate", models.ReasonMalformedDispatch)
	}
	if result.ExecutionTimeMS < 0 {
		return locerrors.New(locerrors.KindInvalidTask, "dispatch.Validate", models.ReasonMalformedDispatch)
	}
	return nil
}
