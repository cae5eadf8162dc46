package repository

import (
	"context"
	"sync"
	"time"

	"github.com/stafflane/be-approvals/internal/errors"
	"github.com/stafflane/be-approvals/internal/workflow"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Aggregates are deep-copied on the way in and out so callers can never
// mutate stored state without going through Save.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*workflow.ApprovalRequest
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*workflow.ApprovalRequest)}
}

// Create persists a new aggregate.
func (s *MemoryStore) Create(ctx context.Context, req *workflow.ApprovalRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return errors.Conflict("approval request already exists")
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

// GetByID returns a copy of the stored aggregate.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*workflow.ApprovalRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, errors.NotFound("approval request", id)
	}
	return req.Clone(), nil
}

// Save applies the version-guarded write.
func (s *MemoryStore) Save(ctx context.Context, req *workflow.ApprovalRequest, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return errors.NotFound("approval request", req.ID)
	}
	if stored.Version != expectedVersion {
		return errors.VersionConflict("approval request", req.ID)
	}
	req.Version = expectedVersion + 1
	req.UpdatedAt = time.Now().UTC()
	s.requests[req.ID] = req.Clone()
	return nil
}

// Delete hard-removes the aggregate.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return errors.NotFound("approval request", id)
	}
	delete(s.requests, id)
	return nil
}

// ListAll returns every request, newest first.
func (s *MemoryStore) ListAll(ctx context.Context, pendingOnly bool) ([]*workflow.ApprovalRequest, error) {
	return s.list(ctx, func(req *workflow.ApprovalRequest) bool {
		return !pendingOnly || !workflow.IsTerminal(req)
	})
}

// ListForApprover returns requests awaiting a decision from userID.
func (s *MemoryStore) ListForApprover(ctx context.Context, userID string) ([]*workflow.ApprovalRequest, error) {
	return s.list(ctx, func(req *workflow.ApprovalRequest) bool {
		return pendingFor(req, userID)
	})
}

// ListForRequester returns requests submitted by userID.
func (s *MemoryStore) ListForRequester(ctx context.Context, userID string) ([]*workflow.ApprovalRequest, error) {
	return s.list(ctx, func(req *workflow.ApprovalRequest) bool {
		return req.Requester.ID == userID
	})
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) list(ctx context.Context, keep func(*workflow.ApprovalRequest) bool) ([]*workflow.ApprovalRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.ApprovalRequest
	for _, req := range s.requests {
		if keep(req) {
			out = append(out, req.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}
