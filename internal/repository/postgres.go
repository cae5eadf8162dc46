package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stafflane/be-approvals/internal/database"
	"github.com/stafflane/be-approvals/internal/errors"
	"github.com/stafflane/be-approvals/internal/workflow"
)

// PostgresStore persists aggregates across three tables: approval_requests,
// approval_steps and approval_history, keyed by request id and step ordinal.
// Every Save runs as one transaction so steps, status and ledger can never
// diverge.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a PostgresStore on an open connection pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts the request and its initial steps in one transaction.
func (s *PostgresStore) Create(ctx context.Context, req *workflow.ApprovalRequest) error {
	dataJSON, err := json.Marshal(req.RequestData)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "marshal request data")
	}

	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO approval_requests
			    (id, requester_id, requester_name, requester_email,
			     request_type, request_details, request_data,
			     status, current_step_index, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4,
			        $5, $6, $7,
			        $8, $9, $10, $11, $12)
		`
		_, err := tx.Exec(ctx, query,
			req.ID,
			req.Requester.ID,
			req.Requester.Name,
			req.Requester.Email,
			req.RequestType,
			req.RequestDetails,
			dataJSON,
			req.Status,
			req.CurrentStepIndex,
			req.CreatedAt,
			req.UpdatedAt,
			req.Version,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "insert approval request")
		}

		if err := upsertSteps(ctx, tx, req); err != nil {
			return err
		}
		return appendHistory(ctx, tx, req)
	})
}

// GetByID loads the aggregate with steps and history.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*workflow.ApprovalRequest, error) {
	query := `
		SELECT id, requester_id, requester_name, requester_email,
		       request_type, request_details, request_data,
		       status, current_step_index, created_at, updated_at, version
		FROM approval_requests
		WHERE id = $1
	`
	req, err := scanRequest(s.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval request", id)
	} else if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "load approval request")
	}

	if err := s.loadChildren(ctx, []*workflow.ApprovalRequest{req}); err != nil {
		return nil, err
	}
	return req, nil
}

// Save applies the version-guarded write: request row CAS first, then step
// upserts and ledger appends inside the same transaction.
func (s *PostgresStore) Save(ctx context.Context, req *workflow.ApprovalRequest, expectedVersion int64) error {
	dataJSON, err := json.Marshal(req.RequestData)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "marshal request data")
	}

	newVersion := expectedVersion + 1
	now := time.Now().UTC()

	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE approval_requests
			SET status             = $2,
			    current_step_index = $3,
			    request_data       = $4,
			    updated_at         = $5,
			    version            = $6
			WHERE id = $1 AND version = $7
			RETURNING id
		`
		var returnedID string
		err := tx.QueryRow(ctx, query,
			req.ID, req.Status, req.CurrentStepIndex, dataJSON, now, newVersion, expectedVersion,
		).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			// Distinguish a lost race from a deleted request.
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM approval_requests WHERE id = $1)`, req.ID,
			).Scan(&exists); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "check approval request")
			}
			if !exists {
				return errors.NotFound("approval request", req.ID)
			}
			return errors.VersionConflict("approval request", req.ID)
		} else if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "update approval request")
		}

		if err := upsertSteps(ctx, tx, req); err != nil {
			return err
		}
		return appendHistory(ctx, tx, req)
	})
	if err != nil {
		return err
	}

	req.Version = newVersion
	req.UpdatedAt = now
	return nil
}

// Delete removes the request; steps and history go with it via cascade.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM approval_requests WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "delete approval request")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval request", id)
	}
	return nil
}

// ListAll returns every request, newest first.
func (s *PostgresStore) ListAll(ctx context.Context, pendingOnly bool) ([]*workflow.ApprovalRequest, error) {
	query := `
		SELECT id, requester_id, requester_name, requester_email,
		       request_type, request_details, request_data,
		       status, current_step_index, created_at, updated_at, version
		FROM approval_requests
	`
	args := []any{}
	if pendingOnly {
		query += ` WHERE status NOT IN ('Approved', 'Rejected')`
	}
	query += ` ORDER BY created_at DESC, id ASC`
	return s.queryRequests(ctx, query, args...)
}

// ListForApprover returns non-terminal requests whose current step belongs to
// userID. The filter runs in SQL so terminal or foreign requests never leave
// the database.
func (s *PostgresStore) ListForApprover(ctx context.Context, userID string) ([]*workflow.ApprovalRequest, error) {
	query := `
		SELECT r.id, r.requester_id, r.requester_name, r.requester_email,
		       r.request_type, r.request_details, r.request_data,
		       r.status, r.current_step_index, r.created_at, r.updated_at, r.version
		FROM approval_requests r
		JOIN approval_steps s
		  ON s.request_id = r.id AND s.ordinal = r.current_step_index
		WHERE r.status NOT IN ('Approved', 'Rejected')
		  AND s.approver_id = $1
		ORDER BY r.created_at DESC, r.id ASC
	`
	return s.queryRequests(ctx, query, userID)
}

// ListForRequester returns requests submitted by userID.
func (s *PostgresStore) ListForRequester(ctx context.Context, userID string) ([]*workflow.ApprovalRequest, error) {
	query := `
		SELECT id, requester_id, requester_name, requester_email,
		       request_type, request_details, request_data,
		       status, current_step_index, created_at, updated_at, version
		FROM approval_requests
		WHERE requester_id = $1
		ORDER BY created_at DESC, id ASC
	`
	return s.queryRequests(ctx, query, userID)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// ── write helpers ─────────────────────────────────────────────────────────────

// upsertSteps writes every step by ordinal. Step lists only grow and only the
// decided/inserted rows actually change, so an upsert over the full list is
// both correct and simple after an add_step shifts ordinals.
func upsertSteps(ctx context.Context, tx pgx.Tx, req *workflow.ApprovalRequest) error {
	query := `
		INSERT INTO approval_steps
		    (request_id, ordinal, step_name,
		     approver_id, approver_name, approver_email,
		     status, decision_date, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id, ordinal) DO UPDATE
		SET step_name      = EXCLUDED.step_name,
		    approver_id    = EXCLUDED.approver_id,
		    approver_name  = EXCLUDED.approver_name,
		    approver_email = EXCLUDED.approver_email,
		    status         = EXCLUDED.status,
		    decision_date  = EXCLUDED.decision_date,
		    comments       = EXCLUDED.comments
	`
	for i, step := range req.Steps {
		_, err := tx.Exec(ctx, query,
			req.ID, i, step.StepName,
			step.Approver.ID, step.Approver.Name, step.Approver.Email,
			step.Status, step.DecisionDate, step.Comments,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "upsert approval step")
		}
	}
	return nil
}

// appendHistory inserts ledger rows by ordinal. Existing ordinals are left
// untouched (the ledger is append-only; the table enforces it with a trigger).
func appendHistory(ctx context.Context, tx pgx.Tx, req *workflow.ApprovalRequest) error {
	query := `
		INSERT INTO approval_history
		    (request_id, ordinal, step_name,
		     approver_id, approver_name, approver_email,
		     status, decision_date, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id, ordinal) DO NOTHING
	`
	for i, entry := range req.History {
		_, err := tx.Exec(ctx, query,
			req.ID, i, entry.StepName,
			entry.Approver.ID, entry.Approver.Name, entry.Approver.Email,
			entry.Status, entry.DecisionDate, entry.Comments,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "append history entry")
		}
	}
	return nil
}

// ── read helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*workflow.ApprovalRequest, error) {
	req := &workflow.ApprovalRequest{}
	var dataJSON []byte
	err := row.Scan(
		&req.ID,
		&req.Requester.ID,
		&req.Requester.Name,
		&req.Requester.Email,
		&req.RequestType,
		&req.RequestDetails,
		&dataJSON,
		&req.Status,
		&req.CurrentStepIndex,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.Version,
	)
	if err != nil {
		return nil, err
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &req.RequestData); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "unmarshal request data")
		}
	}
	return req, nil
}

func (s *PostgresStore) queryRequests(ctx context.Context, query string, args ...any) ([]*workflow.ApprovalRequest, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "list approval requests")
	}
	defer rows.Close()

	var reqs []*workflow.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan approval request")
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "iterate approval requests")
	}

	if err := s.loadChildren(ctx, reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// loadChildren fills Steps and History for the given requests in two queries.
func (s *PostgresStore) loadChildren(ctx context.Context, reqs []*workflow.ApprovalRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	byID := make(map[string]*workflow.ApprovalRequest, len(reqs))
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		byID[req.ID] = req
		ids = append(ids, req.ID)
	}

	stepQuery := `
		SELECT request_id, step_name,
		       approver_id, approver_name, approver_email,
		       status, decision_date, comments
		FROM approval_steps
		WHERE request_id = ANY($1)
		ORDER BY request_id, ordinal ASC
	`
	rows, err := s.db.Query(ctx, stepQuery, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "load approval steps")
	}
	defer rows.Close()
	for rows.Next() {
		var requestID string
		var step workflow.ApprovalStep
		if err := rows.Scan(
			&requestID, &step.StepName,
			&step.Approver.ID, &step.Approver.Name, &step.Approver.Email,
			&step.Status, &step.DecisionDate, &step.Comments,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "scan approval step")
		}
		if req, ok := byID[requestID]; ok {
			req.Steps = append(req.Steps, step)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "iterate approval steps")
	}

	historyQuery := `
		SELECT request_id, step_name,
		       approver_id, approver_name, approver_email,
		       status, decision_date, comments
		FROM approval_history
		WHERE request_id = ANY($1)
		ORDER BY request_id, ordinal ASC
	`
	hrows, err := s.db.Query(ctx, historyQuery, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "load approval history")
	}
	defer hrows.Close()
	for hrows.Next() {
		var requestID string
		var entry workflow.HistoryEntry
		if err := hrows.Scan(
			&requestID, &entry.StepName,
			&entry.Approver.ID, &entry.Approver.Name, &entry.Approver.Email,
			&entry.Status, &entry.DecisionDate, &entry.Comments,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "scan history entry")
		}
		if req, ok := byID[requestID]; ok {
			req.History = append(req.History, entry)
		}
	}
	if err := hrows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "iterate approval history")
	}
	return nil
}
