package workflow

import (
	"github.com/stafflane/be-approvals/internal/errors"
)

// CurrentStep returns the step at the cursor, or false when the cursor sits
// past the last step (terminal requests only).
func CurrentStep(req *ApprovalRequest) (*ApprovalStep, bool) {
	if req.CurrentStepIndex < 0 || req.CurrentStepIndex >= len(req.Steps) {
		return nil, false
	}
	return &req.Steps[req.CurrentStepIndex], true
}

// IsTerminal reports whether the request reached a final state.
func IsTerminal(req *ApprovalRequest) bool {
	return req.Status == StatusApproved || req.Status == StatusRejected
}

// Authorize succeeds only when the actor is the current step's approver or
// holds the administrative role. Mandatory before any transition; a retried
// caller whose actor is no longer the current approver fails here rather
// than applying a stale decision.
func Authorize(req *ApprovalRequest, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	step, ok := CurrentStep(req)
	if !ok {
		return errors.Forbidden("approval request has no actionable step")
	}
	if step.Approver.ID != actor.ID {
		return errors.Forbidden("user is not the approver for the current step")
	}
	return nil
}

// CheckInvariants verifies the cursor/step-status relationship: every step
// before the cursor is decided, the step at the cursor (when present) is
// pending, and every step after it is pending.
func CheckInvariants(req *ApprovalRequest) error {
	if req.CurrentStepIndex < 0 || req.CurrentStepIndex > len(req.Steps) {
		return errors.New(errors.ErrCodeInternal, "current step index out of range")
	}
	if req.CurrentStepIndex == len(req.Steps) && !IsTerminal(req) {
		return errors.New(errors.ErrCodeInternal, "cursor past last step on a non-terminal request")
	}
	for i, step := range req.Steps {
		switch {
		case i < req.CurrentStepIndex:
			if step.Status == StepPending {
				return errors.New(errors.ErrCodeInternal, "step before cursor is still pending")
			}
		case i == req.CurrentStepIndex:
			// The rejected current step keeps the cursor in place, so a
			// terminal request may carry a decided step at the cursor.
			if step.Status != StepPending && !IsTerminal(req) {
				return errors.New(errors.ErrCodeInternal, "step at cursor is not pending")
			}
		default:
			if step.Status != StepPending {
				return errors.New(errors.ErrCodeInternal, "step after cursor is not pending")
			}
		}
	}
	for _, entry := range req.History {
		if entry.Status == StepPending {
			return errors.New(errors.ErrCodeInternal, "history records a pending decision")
		}
	}
	return nil
}
