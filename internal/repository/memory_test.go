package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stafflane/be-approvals/internal/errors"
	"github.com/stafflane/be-approvals/internal/workflow"
)

func newRequest(t *testing.T, requesterID, approverID string) *workflow.ApprovalRequest {
	t.Helper()
	req, err := workflow.NewRequest(
		workflow.UserRef{ID: requesterID},
		workflow.TypeOther,
		"test request",
		workflow.RequestData{},
		[]workflow.ApprovalStep{{StepName: "Review", Approver: workflow.UserRef{ID: approverID}}},
		time.Now().UTC(),
	)
	require.NoError(t, err)
	return req
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	req := newRequest(t, "u-req", "u-appr")

	require.NoError(t, store.Create(ctx, req))

	got, err := store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, int64(1), got.Version)

	// duplicate create conflicts
	err = store.Create(ctx, req)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	_, err = store.GetByID(ctx, "missing")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	req := newRequest(t, "u-req", "u-appr")
	require.NoError(t, store.Create(ctx, req))

	got, err := store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	got.Steps[0].Status = workflow.StepApproved
	got.Status = workflow.StatusApproved

	fresh, err := store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepPending, fresh.Steps[0].Status)
	assert.Equal(t, workflow.StatusPending, fresh.Status)
}

func TestMemoryStoreSaveVersionGuard(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	req := newRequest(t, "u-req", "u-appr")
	require.NoError(t, store.Create(ctx, req))

	first, err := store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	second, err := store.GetByID(ctx, req.ID)
	require.NoError(t, err)

	actor := workflow.Actor{UserRef: workflow.UserRef{ID: "u-appr"}}
	require.NoError(t, workflow.ApplyFinalize(first, actor, workflow.DecisionApproved, "", time.Now()))
	require.NoError(t, workflow.ApplyFinalize(second, actor, workflow.DecisionRejected, "", time.Now()))

	// exactly one of two concurrent writers with the same read version wins
	require.NoError(t, store.Save(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)

	err = store.Save(ctx, second, 1)
	assert.Equal(t, errors.ErrCodeVersionConflict, errors.CodeOf(err))

	stored, err := store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestMemoryStoreSaveMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	req := newRequest(t, "u-req", "u-appr")

	err := store.Save(ctx, req, 1)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	req := newRequest(t, "u-req", "u-appr")
	require.NoError(t, store.Create(ctx, req))

	require.NoError(t, store.Delete(ctx, req.ID))

	err := store.Delete(ctx, req.ID)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestMemoryStoreListings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	mine := newRequest(t, "u-alice", "u-appr")
	other := newRequest(t, "u-bob", "u-appr2")
	done := newRequest(t, "u-bob", "u-appr")
	require.NoError(t, store.Create(ctx, mine))
	require.NoError(t, store.Create(ctx, other))
	require.NoError(t, store.Create(ctx, done))

	// finalize one request so it becomes terminal
	actor := workflow.Actor{UserRef: workflow.UserRef{ID: "u-appr"}}
	require.NoError(t, workflow.ApplyFinalize(done, actor, workflow.DecisionApproved, "", time.Now()))
	require.NoError(t, store.Save(ctx, done, 1))

	all, err := store.ListAll(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := store.ListAll(ctx, true)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// terminal requests never show in the approver inbox
	inbox, err := store.ListForApprover(ctx, "u-appr")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, mine.ID, inbox[0].ID)

	byRequester, err := store.ListForRequester(ctx, "u-bob")
	require.NoError(t, err)
	assert.Len(t, byRequester, 2)
}

func TestMemoryStoreListForApproverTracksCursor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	req, err := workflow.NewRequest(
		workflow.UserRef{ID: "u-req"},
		workflow.TypeOther,
		"",
		workflow.RequestData{},
		[]workflow.ApprovalStep{
			{StepName: "Manager", Approver: workflow.UserRef{ID: "u1"}},
			{StepName: "Director", Approver: workflow.UserRef{ID: "u2"}},
		},
		time.Now().UTC(),
	)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, req))

	inbox, err := store.ListForApprover(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, inbox, "second approver must not see the request before their step is current")

	require.NoError(t, workflow.ApplyFinalize(req,
		workflow.Actor{UserRef: workflow.UserRef{ID: "u1"}},
		workflow.DecisionApproved, "", time.Now()))
	require.NoError(t, store.Save(ctx, req, 1))

	inbox, err = store.ListForApprover(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	inbox, err = store.ListForApprover(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, inbox)
}
