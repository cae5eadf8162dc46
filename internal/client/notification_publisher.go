package client

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/stafflane/be-approvals/internal/workflow"
)

// Approval event types published to the notification bus.
const (
	EventRequestSubmitted = "request_submitted"
	EventStepApproved     = "step_approved"
	EventStepRejected     = "step_rejected"
	EventStepAdded        = "step_added"
	EventRequestDeleted   = "request_deleted"
	EventStatusOverridden = "status_overridden"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the notification service. Delivery itself happens elsewhere;
// this is strictly the interface boundary.
//
// Subject convention: notifications.approvals.<event_type>
//
// All publish operations are non-fatal. Errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType  string         `json:"event_type"`
	RequestID  string         `json:"request_id"`
	ActorID    string         `json:"actor_id"`
	Recipients []string       `json:"recipients,omitempty"`
	Status     string         `json:"status,omitempty"`
	StepName   string         `json:"step_name,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher connects to NATS. An empty URL returns a disabled
// publisher so callers never need to nil-check.
func NewNotificationPublisher(url string, log zerolog.Logger) (*NotificationPublisher, error) {
	if url == "" {
		return &NotificationPublisher{log: log}, nil
	}
	conn, err := nats.Connect(url, nats.Name("be-approvals"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NotificationPublisher{conn: conn, log: log}, nil
}

// Close drains the underlying connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// PublishApprovalEvent publishes one approval event.
// Subject: notifications.approvals.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(eventType string, req *workflow.ApprovalRequest, actorID string, recipients []string) {
	if p.conn == nil {
		return
	}

	event := &NotificationEvent{
		EventType:  eventType,
		RequestID:  req.ID,
		ActorID:    actorID,
		Recipients: recipients,
		Status:     string(req.Status),
	}
	if step, ok := workflow.CurrentStep(req); ok {
		event.StepName = step.StepName
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", req.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", req.ID).
		Msg("notification: event published")
}
