package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/stafflane/be-approvals/internal/errors"
)

// Decision is the outcome applied to the current step by a finalize action.
type Decision string

const (
	DecisionApproved Decision = "Approved"
	DecisionRejected Decision = "Rejected"
)

// NewRequest builds a fresh aggregate from requester-supplied workflow steps.
// Fails with InvalidWorkflow when the step list is empty or any step lacks an
// approver.
func NewRequest(requester UserRef, reqType RequestType, details string, data RequestData, steps []ApprovalStep, now time.Time) (*ApprovalRequest, error) {
	if requester.ID == "" {
		return nil, errors.InvalidInput("requester", "requester id is required")
	}
	if err := validateType(reqType, data); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errors.InvalidWorkflow("workflow must contain at least one step")
	}
	for i := range steps {
		if steps[i].Approver.ID == "" {
			return nil, errors.InvalidWorkflow("every workflow step needs an approver")
		}
		if steps[i].StepName == "" {
			return nil, errors.InvalidWorkflow("every workflow step needs a name")
		}
		steps[i].Status = StepPending
		steps[i].DecisionDate = nil
	}

	return &ApprovalRequest{
		ID:               uuid.NewString(),
		Requester:        requester,
		RequestType:      reqType,
		RequestDetails:   details,
		RequestData:      data,
		Status:           StatusPending,
		CurrentStepIndex: 0,
		Steps:            steps,
		History:          nil,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}, nil
}

// validateType checks that exactly the variant matching the request type is set.
func validateType(reqType RequestType, data RequestData) error {
	set := 0
	if data.Leave != nil {
		set++
	}
	if data.Expense != nil {
		set++
	}
	if data.Appraisal != nil {
		set++
	}
	if data.Other != nil {
		set++
	}
	if set > 1 {
		return errors.InvalidInput("request_data", "only one payload variant may be set")
	}

	switch reqType {
	case TypeLeave:
		if data.Leave == nil {
			return errors.InvalidInput("request_data", "leave payload is required for Leave requests")
		}
	case TypeExpense:
		if data.Expense == nil {
			return errors.InvalidInput("request_data", "expense payload is required for Expense requests")
		}
		if data.Expense.AmountCents <= 0 {
			return errors.InvalidInput("amount_cents", "expense amount must be positive")
		}
		if len(data.Expense.Currency) != 3 {
			return errors.InvalidInput("currency", "currency must be a 3-letter ISO code")
		}
	case TypeAppraisal:
		if data.Appraisal == nil {
			return errors.InvalidInput("request_data", "appraisal payload is required for Appraisal requests")
		}
	case TypeOther:
		// The free-form variant is optional; any other variant is not.
		if set == 1 && data.Other == nil {
			return errors.InvalidInput("request_data", "payload does not match request type Other")
		}
	default:
		return errors.InvalidInput("request_type", "unknown request type")
	}
	return nil
}

// ApplyFinalize marks the current step with the decision, appends the ledger
// entry and either advances the cursor or terminates the request. The
// aggregate is untouched when an error is returned.
func ApplyFinalize(req *ApprovalRequest, actor Actor, decision Decision, comments string, now time.Time) error {
	if decision != DecisionApproved && decision != DecisionRejected {
		return errors.InvalidInput("status", "decision must be Approved or Rejected")
	}
	if IsTerminal(req) {
		return errors.AlreadyTerminal(req.ID)
	}
	if err := Authorize(req, actor); err != nil {
		return err
	}
	step, ok := CurrentStep(req)
	if !ok {
		return errors.Conflict("approval request has no actionable step")
	}

	step.Status = StepStatus(decision)
	step.DecisionDate = &now
	step.Comments = comments
	req.History = append(req.History, HistoryEntry{
		StepName:     step.StepName,
		Approver:     step.Approver,
		Status:       step.Status,
		DecisionDate: now,
		Comments:     comments,
	})

	if decision == DecisionRejected {
		// The rejected step stays at the cursor as the last acted-upon step.
		req.Status = StatusRejected
		return nil
	}

	req.CurrentStepIndex++
	if req.CurrentStepIndex == len(req.Steps) {
		req.Status = StatusApproved
	}
	return nil
}

// ApplyAddStep approves the current step and appends a new pending step bound
// to newApprover before the cursor advances, so the request lands on the
// freshly inserted step. The only way the step list grows after creation.
func ApplyAddStep(req *ApprovalRequest, actor Actor, newApprover UserRef, stepName, comments string, now time.Time) error {
	if newApprover.ID == "" {
		return errors.InvalidWorkflow("add_step requires a new approver id")
	}
	if stepName == "" {
		return errors.InvalidWorkflow("add_step requires a step name")
	}
	if IsTerminal(req) {
		return errors.AlreadyTerminal(req.ID)
	}
	if err := Authorize(req, actor); err != nil {
		return err
	}
	step, ok := CurrentStep(req)
	if !ok {
		return errors.Conflict("approval request has no actionable step")
	}

	step.Status = StepApproved
	step.DecisionDate = &now
	step.Comments = comments
	req.History = append(req.History, HistoryEntry{
		StepName:     step.StepName,
		Approver:     step.Approver,
		Status:       StepApproved,
		DecisionDate: now,
		Comments:     comments,
	})

	inserted := ApprovalStep{
		StepName: stepName,
		Approver: newApprover,
		Status:   StepPending,
	}
	req.Steps = append(req.Steps[:req.CurrentStepIndex+1],
		append([]ApprovalStep{inserted}, req.Steps[req.CurrentStepIndex+1:]...)...)
	req.CurrentStepIndex++
	return nil
}

// ApplyStatusOverride moves a non-terminal request into one of the
// externally-settable administrative states. Admin only, never recorded in
// the ledger.
func ApplyStatusOverride(req *ApprovalRequest, actor Actor, status RequestStatus) error {
	if !actor.IsAdmin() {
		return errors.Forbidden("only administrators can override request status")
	}
	if status != StatusUnderReview && status != StatusEscalated {
		return errors.InvalidInput("status", "override status must be UnderReview or Escalated")
	}
	if IsTerminal(req) {
		return errors.AlreadyTerminal(req.ID)
	}
	req.Status = status
	return nil
}
