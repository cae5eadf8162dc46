package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stafflane/be-approvals/internal/errors"
)

var (
	requester = UserRef{ID: "u-req", Name: "Riley Requester", Email: "riley@example.com"}
	manager   = UserRef{ID: "u1", Name: "Morgan Manager"}
	director  = UserRef{ID: "u2", Name: "Dana Director"}
	vp        = UserRef{ID: "u3", Name: "Val VP"}

	managerActor  = Actor{UserRef: manager}
	directorActor = Actor{UserRef: director}
	adminActor    = Actor{UserRef: UserRef{ID: "u-admin"}, Roles: []string{AdminRole}}
)

func leaveData() RequestData {
	return RequestData{Leave: &LeaveData{StartDate: "2026-09-01", EndDate: "2026-09-05", Reason: "vacation"}}
}

func twoStepRequest(t *testing.T) *ApprovalRequest {
	t.Helper()
	req, err := NewRequest(requester, TypeLeave, "a week off", leaveData(), []ApprovalStep{
		{StepName: "Manager", Approver: manager},
		{StepName: "Director", Approver: director},
	}, time.Now())
	require.NoError(t, err)
	return req
}

func TestNewRequest(t *testing.T) {
	req := twoStepRequest(t)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 0, req.CurrentStepIndex)
	assert.Equal(t, int64(1), req.Version)
	require.Len(t, req.Steps, 2)
	for _, s := range req.Steps {
		assert.Equal(t, StepPending, s.Status)
	}
	assert.NoError(t, CheckInvariants(req))
}

func TestNewRequestValidation(t *testing.T) {
	now := time.Now()

	_, err := NewRequest(requester, TypeLeave, "", leaveData(), nil, now)
	assert.Equal(t, errors.ErrCodeInvalidWorkflow, errors.CodeOf(err))

	_, err = NewRequest(requester, TypeLeave, "", leaveData(), []ApprovalStep{
		{StepName: "Manager"},
	}, now)
	assert.Equal(t, errors.ErrCodeInvalidWorkflow, errors.CodeOf(err))

	// payload variant must match the request type
	_, err = NewRequest(requester, TypeExpense, "", leaveData(), []ApprovalStep{
		{StepName: "Manager", Approver: manager},
	}, now)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = NewRequest(requester, TypeExpense, "", RequestData{
		Expense: &ExpenseData{AmountCents: 12500, Currency: "EUR", Category: "travel"},
	}, []ApprovalStep{
		{StepName: "Manager", Approver: manager},
	}, now)
	assert.NoError(t, err)
}

func TestFinalizeApproveAdvancesCursor(t *testing.T) {
	req := twoStepRequest(t)

	require.NoError(t, ApplyFinalize(req, managerActor, DecisionApproved, "lgtm", time.Now()))

	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 1, req.CurrentStepIndex)
	assert.Equal(t, StepApproved, req.Steps[0].Status)
	assert.NotNil(t, req.Steps[0].DecisionDate)
	require.Len(t, req.History, 1)
	assert.Equal(t, StepApproved, req.History[0].Status)
	assert.NoError(t, CheckInvariants(req))
}

func TestFinalizeApproveLastStepTerminates(t *testing.T) {
	req := twoStepRequest(t)
	now := time.Now()

	require.NoError(t, ApplyFinalize(req, managerActor, DecisionApproved, "", now))
	require.NoError(t, ApplyFinalize(req, directorActor, DecisionApproved, "ship it", now))

	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, len(req.Steps), req.CurrentStepIndex)
	assert.True(t, IsTerminal(req))
	assert.Len(t, req.History, 2)
	assert.NoError(t, CheckInvariants(req))
}

func TestFinalizeRejectTerminatesInPlace(t *testing.T) {
	req := twoStepRequest(t)
	now := time.Now()

	require.NoError(t, ApplyFinalize(req, managerActor, DecisionApproved, "", now))
	require.NoError(t, ApplyFinalize(req, directorActor, DecisionRejected, "budget", now))

	assert.Equal(t, StatusRejected, req.Status)
	// The rejected step remains visible as the last acted-upon step.
	assert.Equal(t, 1, req.CurrentStepIndex)
	assert.Equal(t, StepRejected, req.Steps[1].Status)
	require.Len(t, req.History, 2)
	assert.Equal(t, StepApproved, req.History[0].Status)
	assert.Equal(t, StepRejected, req.History[1].Status)
	assert.NoError(t, CheckInvariants(req))

	// no further transitions
	err := ApplyFinalize(req, directorActor, DecisionApproved, "", now)
	assert.Equal(t, errors.ErrCodeAlreadyTerminal, errors.CodeOf(err))
	err = ApplyAddStep(req, directorActor, vp, "VP Review", "", now)
	assert.Equal(t, errors.ErrCodeAlreadyTerminal, errors.CodeOf(err))
}

func TestFinalizeAuthorization(t *testing.T) {
	req := twoStepRequest(t)
	now := time.Now()

	// director is not the current approver yet
	err := ApplyFinalize(req, directorActor, DecisionApproved, "", now)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
	assert.Len(t, req.History, 0)
	assert.Equal(t, StepPending, req.Steps[0].Status)

	// admins may act on any step
	require.NoError(t, ApplyFinalize(req, adminActor, DecisionApproved, "override", now))
	assert.Equal(t, 1, req.CurrentStepIndex)
}

func TestAddStepInsertsAfterCurrent(t *testing.T) {
	req := twoStepRequest(t)
	now := time.Now()

	require.NoError(t, ApplyAddStep(req, managerActor, vp, "VP Review", "needs VP", now))

	require.Len(t, req.Steps, 3)
	assert.Equal(t, 1, req.CurrentStepIndex)
	assert.Equal(t, StepApproved, req.Steps[0].Status)
	assert.Equal(t, "VP Review", req.Steps[1].StepName)
	assert.Equal(t, vp, req.Steps[1].Approver)
	assert.Equal(t, StepPending, req.Steps[1].Status)
	assert.Equal(t, "Director", req.Steps[2].StepName)
	assert.Equal(t, StepPending, req.Steps[2].Status)
	require.Len(t, req.History, 1)
	assert.Equal(t, StepApproved, req.History[0].Status)
	assert.NoError(t, CheckInvariants(req))

	// the original second approver is no longer current
	err := ApplyFinalize(req, directorActor, DecisionApproved, "", now)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	// the inserted approver is
	require.NoError(t, ApplyFinalize(req, Actor{UserRef: vp}, DecisionApproved, "", now))
	assert.Equal(t, 2, req.CurrentStepIndex)
	assert.Equal(t, StatusPending, req.Status)
}

func TestAddStepValidation(t *testing.T) {
	req := twoStepRequest(t)
	now := time.Now()

	err := ApplyAddStep(req, managerActor, UserRef{}, "VP Review", "", now)
	assert.Equal(t, errors.ErrCodeInvalidWorkflow, errors.CodeOf(err))

	err = ApplyAddStep(req, managerActor, vp, "", "", now)
	assert.Equal(t, errors.ErrCodeInvalidWorkflow, errors.CodeOf(err))

	// nothing mutated by the failed attempts
	assert.Len(t, req.Steps, 2)
	assert.Len(t, req.History, 0)
	assert.Equal(t, StepPending, req.Steps[0].Status)
}

func TestLedgerLengthMatchesDecisionCount(t *testing.T) {
	req := twoStepRequest(t)
	now := time.Now()

	require.NoError(t, ApplyAddStep(req, managerActor, vp, "VP Review", "", now))
	require.NoError(t, ApplyFinalize(req, Actor{UserRef: vp}, DecisionApproved, "", now))
	require.NoError(t, ApplyFinalize(req, directorActor, DecisionRejected, "no", now))

	require.Len(t, req.History, 3)
	for _, entry := range req.History {
		assert.NotEqual(t, StepPending, entry.Status)
	}
}

func TestStatusOverride(t *testing.T) {
	req := twoStepRequest(t)

	err := ApplyStatusOverride(req, managerActor, StatusEscalated)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	err = ApplyStatusOverride(req, adminActor, StatusApproved)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	require.NoError(t, ApplyStatusOverride(req, adminActor, StatusEscalated))
	assert.Equal(t, StatusEscalated, req.Status)

	// escalated requests can still be finalized by the current approver
	require.NoError(t, ApplyFinalize(req, managerActor, DecisionApproved, "", time.Now()))
	assert.Equal(t, StatusEscalated, req.Status)
	assert.Equal(t, 1, req.CurrentStepIndex)

	// but never overridden once terminal
	require.NoError(t, ApplyFinalize(req, directorActor, DecisionRejected, "", time.Now()))
	err = ApplyStatusOverride(req, adminActor, StatusUnderReview)
	assert.Equal(t, errors.ErrCodeAlreadyTerminal, errors.CodeOf(err))
}

func TestCurrentStep(t *testing.T) {
	req := twoStepRequest(t)

	step, ok := CurrentStep(req)
	require.True(t, ok)
	assert.Equal(t, "Manager", step.StepName)

	now := time.Now()
	require.NoError(t, ApplyFinalize(req, managerActor, DecisionApproved, "", now))
	require.NoError(t, ApplyFinalize(req, directorActor, DecisionApproved, "", now))

	_, ok = CurrentStep(req)
	assert.False(t, ok)
}
