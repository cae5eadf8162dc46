package repository

import (
	"context"
	"sort"

	"github.com/stafflane/be-approvals/internal/workflow"
)

// Store is the durable home of ApprovalRequest aggregates. All mutation after
// creation goes through Save, which enforces optimistic concurrency on the
// aggregate version: step mutations and ledger appends commit atomically or
// not at all.
type Store interface {
	// Create persists a new aggregate. Fails with Conflict when the id exists.
	Create(ctx context.Context, req *workflow.ApprovalRequest) error

	// GetByID returns the aggregate with steps and history loaded.
	// Fails with NotFound.
	GetByID(ctx context.Context, id string) (*workflow.ApprovalRequest, error)

	// Save writes the mutated aggregate if the stored version still equals
	// expectedVersion, bumping req.Version and req.UpdatedAt on success.
	// Fails with VersionConflict when a concurrent writer won, with NotFound
	// when the request was deleted underneath the caller.
	Save(ctx context.Context, req *workflow.ApprovalRequest, expectedVersion int64) error

	// Delete hard-removes the aggregate, its steps and its history.
	// Fails with NotFound. Authority checks are the service's job.
	Delete(ctx context.Context, id string) error

	// ListAll returns every request, newest first. With pendingOnly set only
	// non-terminal requests are returned (the admin "Pending" view).
	ListAll(ctx context.Context, pendingOnly bool) ([]*workflow.ApprovalRequest, error)

	// ListForApprover returns non-terminal requests whose current step is
	// assigned to userID. Terminal requests and requests parked on someone
	// else's step are never returned; this is a security boundary.
	ListForApprover(ctx context.Context, userID string) ([]*workflow.ApprovalRequest, error)

	// ListForRequester returns every request submitted by userID.
	ListForRequester(ctx context.Context, userID string) ([]*workflow.ApprovalRequest, error)

	// Close releases backend resources.
	Close() error
}

// sortNewestFirst orders requests by creation time descending, id as the
// tie-breaker so listings are stable.
func sortNewestFirst(reqs []*workflow.ApprovalRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
}

// pendingFor reports whether req is awaiting a decision from userID.
// Shared by the document-store backends; the postgres backend expresses the
// same predicate in SQL.
func pendingFor(req *workflow.ApprovalRequest, userID string) bool {
	if workflow.IsTerminal(req) {
		return false
	}
	step, ok := workflow.CurrentStep(req)
	return ok && step.Approver.ID == userID
}
