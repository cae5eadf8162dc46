package workflow

import (
	"time"
)

// RequestStatus is the lifecycle state of an approval request.
type RequestStatus string

const (
	StatusPending     RequestStatus = "Pending"
	StatusUnderReview RequestStatus = "UnderReview"
	StatusApproved    RequestStatus = "Approved"
	StatusRejected    RequestStatus = "Rejected"
	StatusEscalated   RequestStatus = "Escalated"
)

// StepStatus is the state of a single approval step.
type StepStatus string

const (
	StepPending  StepStatus = "Pending"
	StepApproved StepStatus = "Approved"
	StepRejected StepStatus = "Rejected"
)

// RequestType is the closed set of approval request kinds.
type RequestType string

const (
	TypeLeave     RequestType = "Leave"
	TypeExpense   RequestType = "Expense"
	TypeAppraisal RequestType = "Appraisal"
	TypeOther     RequestType = "Other"
)

// AdminRole grants override authority on any request.
const AdminRole = "admin"

// UserRef identifies a user. Immutable once attached to a request or step.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Actor is the authenticated caller of an engine operation. The engine holds
// no session state; identity is passed explicitly into every call.
type Actor struct {
	UserRef
	Roles []string `json:"roles,omitempty"`
}

// IsAdmin reports whether the actor holds the administrative role.
func (a Actor) IsAdmin() bool {
	for _, r := range a.Roles {
		if r == AdminRole {
			return true
		}
	}
	return false
}

// LeaveData is the payload for Leave requests.
type LeaveData struct {
	StartDate string `json:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"end_date"`   // YYYY-MM-DD
	Reason    string `json:"reason,omitempty"`
}

// ExpenseData is the payload for Expense requests. Amounts are in cents.
type ExpenseData struct {
	AmountCents int64   `json:"amount_cents"`
	Currency    string  `json:"currency"`
	Category    string  `json:"category,omitempty"`
	ReceiptURL  *string `json:"receipt_url,omitempty"`
}

// AppraisalData is the payload for Appraisal requests.
type AppraisalData struct {
	Period    string             `json:"period"`
	Responses map[string]string  `json:"responses,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// OtherData is the payload for uncategorized requests.
type OtherData struct {
	Details map[string]any `json:"details,omitempty"`
}

// RequestData is a tagged union keyed by RequestType. Exactly one variant is
// set, and it must match the request's type.
type RequestData struct {
	Leave     *LeaveData     `json:"leave,omitempty"`
	Expense   *ExpenseData   `json:"expense,omitempty"`
	Appraisal *AppraisalData `json:"appraisal,omitempty"`
	Other     *OtherData     `json:"other,omitempty"`
}

// ApprovalStep is one stage in the approval chain, bound to one approver.
type ApprovalStep struct {
	StepName     string     `json:"step_name"`
	Approver     UserRef    `json:"approver"`
	Status       StepStatus `json:"status"`
	DecisionDate *time.Time `json:"decision_date,omitempty"`
	Comments     string     `json:"comments,omitempty"`
}

// HistoryEntry is one immutable record in the decision ledger. Pending is
// never recorded.
type HistoryEntry struct {
	StepName     string     `json:"step_name"`
	Approver     UserRef    `json:"approver"`
	Status       StepStatus `json:"status"`
	DecisionDate time.Time  `json:"decision_date"`
	Comments     string     `json:"comments,omitempty"`
}

// ApprovalRequest is the aggregate root: an ordered step chain with an
// explicit cursor and an append-only history, guarded by an optimistic
// version counter.
type ApprovalRequest struct {
	ID               string         `json:"id"`
	Requester        UserRef        `json:"requester"`
	RequestType      RequestType    `json:"request_type"`
	RequestDetails   string         `json:"request_details,omitempty"`
	RequestData      RequestData    `json:"request_data"`
	Status           RequestStatus  `json:"status"`
	CurrentStepIndex int            `json:"current_step_index"`
	Steps            []ApprovalStep `json:"steps"`
	History          []HistoryEntry `json:"history"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Version          int64          `json:"version"`
}

// Clone returns a deep copy of the aggregate, so stored state can never be
// mutated through a returned reference.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	cp := *r
	cp.Steps = make([]ApprovalStep, len(r.Steps))
	copy(cp.Steps, r.Steps)
	cp.History = make([]HistoryEntry, len(r.History))
	copy(cp.History, r.History)
	return &cp
}
