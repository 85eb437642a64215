package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warden-gate/warden-gate/internal/audit"
	"github.com/warden-gate/warden-gate/internal/platform/httpx"
	"github.com/warden-gate/warden-gate/internal/shared"
)

// HistoryService returns audit entries bounded by a clamped limit.
type HistoryService interface {
	History(ctx context.Context, userID string, limit int) ([]audit.Entry, error)
}

// DecisionMetrics records decision outcomes for observability.
type DecisionMetrics interface {
	ObserveDecision(authorized bool)
}

// Handler exposes the three operations: reconcile-permissions, check-access
// and fetch-history.
type Handler struct {
	logger     *slog.Logger
	reconciler *Reconciler
	decisions  *DecisionEngine
	history    HistoryService
	gate       *Gate
	metrics    DecisionMetrics
	validate   *validator.Validate
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, reconciler *Reconciler, decisions *DecisionEngine, history HistoryService, gate *Gate, metrics DecisionMetrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		reconciler: reconciler,
		decisions:  decisions,
		history:    history,
		gate:       gate,
		metrics:    metrics,
		validate:   validator.New(),
	}
}

// MountRoutes registers the operation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Put("/permissions", h.reconcilePermissions)
	r.Post("/access/check", h.checkAccess)
	r.Get("/history", h.fetchHistory)
}

type reconcileRequest struct {
	RequesterID string   `json:"requester_id"`
	UserID      string   `json:"user_id" validate:"required"`
	Permissions []string `json:"permissions" validate:"required"`
}

type reconcileResponse struct {
	Message string   `json:"message"`
	Granted []string `json:"granted"`
	Revoked []string `json:"revoked"`
}

func (h *Handler) reconcilePermissions(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	requesterID := requesterIdentity(r, req.RequesterID)
	if requesterID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "requester identity missing")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "user_id and permissions are required")
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), ReconcileRequest{
		RequesterID:  requesterID,
		TargetUserID: req.UserID,
		Desired:      req.Permissions,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reconcileResponse{
		Message: fmt.Sprintf("authorization updated for user %s", result.TargetUserID),
		Granted: emptyIfNil(result.Granted),
		Revoked: emptyIfNil(result.Revoked),
	})
}

type checkAccessRequest struct {
	UserID       string `json:"user_id"`
	PermissionID string `json:"permission_id"`
}

type checkAccessResponse struct {
	Authorized bool   `json:"authorized"`
	Message    string `json:"message"`
}

func (h *Handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req checkAccessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}

	// No field validation beyond decoding: a blank or unknown subject is an
	// evaluation that fails closed, and it is still audited.
	decision := h.decisions.Decide(r.Context(), req.UserID, req.PermissionID)
	if h.metrics != nil {
		h.metrics.ObserveDecision(decision.Authorized)
	}
	resp := checkAccessResponse{Authorized: decision.Authorized, Message: "access denied"}
	if decision.Authorized {
		resp.Message = "access granted"
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type historyResponse struct {
	Entries []audit.Entry `json:"entries"`
}

func (h *Handler) fetchHistory(w http.ResponseWriter, r *http.Request) {
	requesterID := requesterIdentity(r, r.URL.Query().Get("requester_id"))
	if requesterID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "requester identity missing")
		return
	}
	targetUserID := r.URL.Query().Get("user")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "limit must be an integer")
			return
		}
		limit = parsed
	}

	if err := h.gate.CanViewHistory(r.Context(), requesterID, targetUserID); err != nil {
		h.respondError(w, err)
		return
	}
	entries, err := h.history.History(r.Context(), targetUserID, limit)
	if err != nil {
		h.logger.Error("fetch history", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "history could not be read")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httpx.JSON(w, http.StatusOK, historyResponse{Entries: entries})
}

type partialApplyResponse struct {
	Message string     `json:"message"`
	Applied []Mutation `json:"applied"`
	Failed  []Mutation `json:"failed"`
}

// respondError maps the taxonomy onto distinct, stable response signals.
// Authorization denials and infrastructure failures never share a shape.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var partial *PartialApplyError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "required fields are missing or malformed")
	case errors.Is(err, ErrSelfModification):
		httpx.Problem(w, http.StatusForbidden, "Self Modification Denied", "you may not reconcile your own permissions")
	case errors.Is(err, ErrInsufficientRole):
		httpx.Problem(w, http.StatusForbidden, "Insufficient Role", "requester is not entitled to this operation")
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "requester may not view this history")
	case errors.Is(err, ErrTargetNotFound):
		httpx.Problem(w, http.StatusNotFound, "Target Not Found", "no user found with this id")
	case errors.Is(err, ErrReconcileInProgress):
		httpx.Problem(w, http.StatusConflict, "Reconciliation In Progress", "another reconciliation for this user is running")
	case errors.As(err, &partial):
		failed := make([]Mutation, 0, len(partial.Failed))
		for _, f := range partial.Failed {
			failed = append(failed, f.Mutation)
		}
		h.logger.Error("partial apply", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, partialApplyResponse{
			Message: "some permission mutations failed; the listed subset was applied",
			Applied: emptyMutationsIfNil(partial.Applied),
			Failed:  failed,
		})
	case errors.Is(err, ErrStore):
		h.logger.Error("store failure", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "the backing store is unavailable")
	default:
		h.logger.Error("unclassified failure", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// requesterIdentity prefers the identity established upstream (header set by
// the authenticating proxy) and falls back to the request payload for
// compatibility with older callers.
func requesterIdentity(r *http.Request, fromPayload string) string {
	if id := shared.RequesterFromContext(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get(shared.RequesterHeader); id != "" {
		return id
	}
	return fromPayload
}

func emptyIfNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func emptyMutationsIfNil(ms []Mutation) []Mutation {
	if ms == nil {
		return []Mutation{}
	}
	return ms
}
