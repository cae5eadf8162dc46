package service

import (
	"context"
	"time"

	"github.com/stafflane/be-approvals/internal/client"
	"github.com/stafflane/be-approvals/internal/errors"
	"github.com/stafflane/be-approvals/internal/logger"
	"github.com/stafflane/be-approvals/internal/repository"
	"github.com/stafflane/be-approvals/internal/workflow"
)

// Supported process actions.
const (
	ActionFinalize = "finalize"
	ActionAddStep  = "add_step"
)

// maxConflictRetries bounds how often a lost optimistic-concurrency race is
// retried against fresh state before the conflict surfaces to the caller.
const maxConflictRetries = 3

// Notifier publishes approval events at the notification boundary.
type Notifier interface {
	PublishApprovalEvent(eventType string, req *workflow.ApprovalRequest, actorID string, recipients []string)
}

// ApprovalService orchestrates the approval workflow engine: creation,
// transitions, deletion and the read-side projections. It is stateless;
// all coordination happens through the store's version guard.
type ApprovalService struct {
	store    repository.Store
	notifier Notifier
	log      *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(store repository.Store, notifier Notifier, log *logger.Logger) *ApprovalService {
	return &ApprovalService{
		store:    store,
		notifier: notifier,
		log:      log,
	}
}

// StepInput is one requester-supplied workflow step.
type StepInput struct {
	StepName      string `json:"step_name"`
	ApproverID    string `json:"approver_id"`
	ApproverName  string `json:"approver_name,omitempty"`
	ApproverEmail string `json:"approver_email,omitempty"`
}

// CreateApprovalRequest carries everything needed to open a new request.
type CreateApprovalRequest struct {
	RequestType    string               `json:"request_type"`
	RequestDetails string               `json:"request_details,omitempty"`
	RequestData    workflow.RequestData `json:"request_data"`
	Steps          []StepInput          `json:"workflow"`
}

// ProcessApprovalRequest carries one finalize or add_step action.
type ProcessApprovalRequest struct {
	RequestID        string `json:"request_id"`
	Action           string `json:"action"`
	Status           string `json:"status,omitempty"`
	Comments         string `json:"comments,omitempty"`
	NewApproverID    string `json:"new_approver_id,omitempty"`
	NewApproverName  string `json:"new_approver_name,omitempty"`
	NewApproverEmail string `json:"new_approver_email,omitempty"`
	StepName         string `json:"step_name,omitempty"`
}

// Create opens a new approval request with the actor as requester.
func (s *ApprovalService) Create(ctx context.Context, actor workflow.Actor, req *CreateApprovalRequest) (*workflow.ApprovalRequest, error) {
	steps := make([]workflow.ApprovalStep, 0, len(req.Steps))
	for _, in := range req.Steps {
		steps = append(steps, workflow.ApprovalStep{
			StepName: in.StepName,
			Approver: workflow.UserRef{ID: in.ApproverID, Name: in.ApproverName, Email: in.ApproverEmail},
		})
	}

	agg, err := workflow.NewRequest(
		actor.UserRef,
		workflow.RequestType(req.RequestType),
		req.RequestDetails,
		req.RequestData,
		steps,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, agg); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", agg.ID).
		Str("request_type", string(agg.RequestType)).
		Str("requester_id", agg.Requester.ID).
		Int("step_count", len(agg.Steps)).
		Msg("Approval request created")

	s.notify(client.EventRequestSubmitted, agg, actor.ID)
	return agg, nil
}

// Get returns one request. Visible to its requester, any of its approvers
// and administrators.
func (s *ApprovalService) Get(ctx context.Context, actor workflow.Actor, id string) (*workflow.ApprovalRequest, error) {
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(req, actor) {
		return nil, errors.Forbidden("user has no access to this approval request")
	}
	return req, nil
}

// Process applies one finalize or add_step action. A lost version race is
// retried against freshly read state, re-running authorization each time so
// a stale actor fails rather than applying a stale decision.
func (s *ApprovalService) Process(ctx context.Context, actor workflow.Actor, p *ProcessApprovalRequest) (*workflow.ApprovalRequest, error) {
	if p.RequestID == "" {
		return nil, errors.InvalidInput("request_id", "request id is required")
	}
	switch p.Action {
	case ActionFinalize:
		if p.Status != string(workflow.DecisionApproved) && p.Status != string(workflow.DecisionRejected) {
			return nil, errors.InvalidInput("status", "finalize requires status Approved or Rejected")
		}
	case ActionAddStep:
		if p.NewApproverID == "" || p.StepName == "" {
			return nil, errors.InvalidWorkflow("add_step requires new_approver_id and step_name")
		}
	default:
		return nil, errors.InvalidInput("action", "action must be finalize or add_step")
	}

	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		req, err := s.store.GetByID(ctx, p.RequestID)
		if err != nil {
			return nil, err
		}
		expectedVersion := req.Version
		now := time.Now().UTC()

		switch p.Action {
		case ActionFinalize:
			err = workflow.ApplyFinalize(req, actor, workflow.Decision(p.Status), p.Comments, now)
		case ActionAddStep:
			approver := workflow.UserRef{ID: p.NewApproverID, Name: p.NewApproverName, Email: p.NewApproverEmail}
			err = workflow.ApplyAddStep(req, actor, approver, p.StepName, p.Comments, now)
		}
		if err != nil {
			return nil, err
		}

		err = s.store.Save(ctx, req, expectedVersion)
		if err == nil {
			s.log.Info().
				Str("request_id", req.ID).
				Str("action", p.Action).
				Str("actor_id", actor.ID).
				Str("status", string(req.Status)).
				Int("current_step_index", req.CurrentStepIndex).
				Int("attempt", attempt+1).
				Msg("Approval request processed")
			s.notify(eventFor(p, req), req, actor.ID)
			return req, nil
		}
		if !errors.HasCode(err, errors.ErrCodeVersionConflict) {
			return nil, err
		}
		lastErr = err
		s.log.Warn().
			Str("request_id", p.RequestID).
			Int("attempt", attempt+1).
			Msg("Version conflict, retrying against fresh state")
	}
	return nil, lastErr
}

// OverrideStatus moves a non-terminal request into UnderReview or Escalated.
// Administrative side-channel; no ledger entry is written.
func (s *ApprovalService) OverrideStatus(ctx context.Context, actor workflow.Actor, id string, status workflow.RequestStatus) (*workflow.ApprovalRequest, error) {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		req, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		expectedVersion := req.Version

		if err := workflow.ApplyStatusOverride(req, actor, status); err != nil {
			return nil, err
		}

		err = s.store.Save(ctx, req, expectedVersion)
		if err == nil {
			s.log.Info().
				Str("request_id", req.ID).
				Str("status", string(status)).
				Str("actor_id", actor.ID).
				Msg("Approval request status overridden")
			s.notify(client.EventStatusOverridden, req, actor.ID)
			return req, nil
		}
		if !errors.HasCode(err, errors.ErrCodeVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Delete hard-removes a request. Only the original requester or an admin may
// delete; delete of an already-deleted id returns NotFound.
func (s *ApprovalService) Delete(ctx context.Context, actor workflow.Actor, id string) error {
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if req.Requester.ID != actor.ID && !actor.IsAdmin() {
		return errors.Forbidden("only the requester or an administrator can delete an approval request")
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info().
		Str("request_id", id).
		Str("actor_id", actor.ID).
		Msg("Approval request deleted")

	s.notify(client.EventRequestDeleted, req, actor.ID)
	return nil
}

// ListAll returns every request (optionally only non-terminal ones).
// Admin only.
func (s *ApprovalService) ListAll(ctx context.Context, actor workflow.Actor, pendingOnly bool) ([]*workflow.ApprovalRequest, error) {
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("only administrators can list all approval requests")
	}
	return s.store.ListAll(ctx, pendingOnly)
}

// ListAssigned returns requests currently awaiting the actor's decision.
func (s *ApprovalService) ListAssigned(ctx context.Context, actor workflow.Actor) ([]*workflow.ApprovalRequest, error) {
	return s.store.ListForApprover(ctx, actor.ID)
}

// ListMine returns requests the actor submitted.
func (s *ApprovalService) ListMine(ctx context.Context, actor workflow.Actor) ([]*workflow.ApprovalRequest, error) {
	return s.store.ListForRequester(ctx, actor.ID)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func canView(req *workflow.ApprovalRequest, actor workflow.Actor) bool {
	if actor.IsAdmin() || req.Requester.ID == actor.ID {
		return true
	}
	for _, step := range req.Steps {
		if step.Approver.ID == actor.ID {
			return true
		}
	}
	return false
}

// eventFor maps a processed action onto its notification event type.
func eventFor(p *ProcessApprovalRequest, req *workflow.ApprovalRequest) string {
	if p.Action == ActionAddStep {
		return client.EventStepAdded
	}
	if req.Status == workflow.StatusRejected {
		return client.EventStepRejected
	}
	return client.EventStepApproved
}

// notify fans an event out to the requester and, when present, the next
// approver. Fire and forget.
func (s *ApprovalService) notify(eventType string, req *workflow.ApprovalRequest, actorID string) {
	if s.notifier == nil {
		return
	}
	recipients := []string{req.Requester.ID}
	if step, ok := workflow.CurrentStep(req); ok {
		recipients = append(recipients, step.Approver.ID)
	}
	s.notifier.PublishApprovalEvent(eventType, req, actorID, recipients)
}
