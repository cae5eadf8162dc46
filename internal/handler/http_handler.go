package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stafflane/be-approvals/internal/errors"
	"github.com/stafflane/be-approvals/internal/logger"
	"github.com/stafflane/be-approvals/internal/service"
	"github.com/stafflane/be-approvals/internal/workflow"
)

// HTTPHandler exposes the approval engine over REST.
type HTTPHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(service *service.ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// Routes registers all approval endpoints on mux.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approval-requests", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListRequests(w, r)
		case http.MethodPost:
			h.CreateRequest(w, r)
		default:
			writeError(w, errors.New(errors.ErrCodeInvalidInput, "method not allowed"), http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/approval-requests/mine", h.ListMine)
	mux.HandleFunc("/api/v1/approval-requests/assigned", h.ListAssigned)
	mux.HandleFunc("/api/v1/approval-requests/get", h.GetRequest)
	mux.HandleFunc("/api/v1/approval-requests/process", h.ProcessRequest)
	mux.HandleFunc("/api/v1/approval-requests/status", h.OverrideStatus)
	// DELETE /api/v1/approval-requests/{id}
	mux.HandleFunc("/api/v1/approval-requests/", h.DeleteRequest)
}

// CreateRequest handles POST /api/v1/approval-requests.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req service.CreateApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.service.Create(r.Context(), actor, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListRequests handles GET /api/v1/approval-requests (admin; ?pending=true
// narrows to non-terminal requests).
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	pendingOnly := r.URL.Query().Get("pending") == "true"
	requests, err := h.service.ListAll(r.Context(), actor, pendingOnly)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(requests))
}

// ListMine handles GET /api/v1/approval-requests/mine.
func (h *HTTPHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	requests, err := h.service.ListMine(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(requests))
}

// ListAssigned handles GET /api/v1/approval-requests/assigned: the approver
// inbox, requests whose current step awaits the caller.
func (h *HTTPHandler) ListAssigned(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	requests, err := h.service.ListAssigned(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(requests))
}

// GetRequest handles GET /api/v1/approval-requests/get?id=.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "request id is required"), 0)
		return
	}

	req, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ProcessRequest handles PUT /api/v1/approval-requests/process: the finalize
// and add_step actions.
func (h *HTTPHandler) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req service.ProcessApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.Process(r.Context(), actor, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// overrideStatusRequest is the body for the admin status override.
type overrideStatusRequest struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// OverrideStatus handles PUT /api/v1/approval-requests/status: the
// administrative UnderReview/Escalated side-channel.
func (h *HTTPHandler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req overrideStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		writeError(w, errors.InvalidInput("request_id", "request id is required"), 0)
		return
	}

	updated, err := h.service.OverrideStatus(r.Context(), actor, req.RequestID, workflow.RequestStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRequest handles DELETE /api/v1/approval-requests/{id}.
func (h *HTTPHandler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/approval-requests/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, errors.InvalidInput("id", "request id is required"), 0)
		return
	}

	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "approval request deleted"})
}

// ── actor context ─────────────────────────────────────────────────────────────

// actor builds the caller identity from the headers set by the auth layer in
// front of this service. A missing user id means the request never passed
// authentication.
func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	id := r.Header.Get("X-User-Id")
	if id == "" {
		writeError(w, errors.Unauthorized("missing user identity"), 0)
		return workflow.Actor{}, false
	}
	actor := workflow.Actor{
		UserRef: workflow.UserRef{
			ID:    id,
			Name:  r.Header.Get("X-User-Name"),
			Email: r.Header.Get("X-User-Email"),
		},
	}
	if raw := r.Header.Get("X-User-Roles"); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				actor.Roles = append(actor.Roles, role)
			}
		}
	}
	return actor, true
}

// ── response helpers ──────────────────────────────────────────────────────────

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusFor maps machine error codes onto HTTP statuses. Every code in the
// taxonomy gets a distinct, stable mapping so the UI can tell "not the
// approver" apart from "someone finished it first".
func statusFor(code string) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeConflict, errors.ErrCodeAlreadyTerminal, errors.ErrCodeVersionConflict:
		return http.StatusConflict
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidWorkflow:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders a coded error. A zero status derives it from the code.
func writeError(w http.ResponseWriter, err *errors.Error, status int) {
	if status == 0 {
		status = statusFor(err.Code)
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Code: err.Code, Message: err.Message}})
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	if code == errors.ErrCodeInternal {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, statusFor(code), errorResponse{Error: errorBody{Code: code, Message: errors.MessageOf(err)}})
}

func listResponse(requests []*workflow.ApprovalRequest) map[string]any {
	if requests == nil {
		requests = []*workflow.ApprovalRequest{}
	}
	return map[string]any{
		"approval_requests": requests,
		"total":             len(requests),
	}
}
