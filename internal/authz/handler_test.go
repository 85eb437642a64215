package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/warden-gate/warden-gate/internal/audit"
	"github.com/warden-gate/warden-gate/internal/shared"
)

type historyStub struct {
	lastUserID string
	lastLimit  int
	entries    []audit.Entry
	err        error
}

func (h *historyStub) History(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	h.lastUserID = userID
	h.lastLimit = audit.ClampLimit(limit)
	return h.entries, h.err
}

func newTestHandler(t *testing.T, st *memoryStore, history *historyStub) (*Handler, *recorderStub) {
	t.Helper()
	gate := NewGate(st, []string{"admin"})
	recorder := &recorderStub{}
	return NewHandler(
		nil,
		NewReconciler(st, gate, nil, nil, 2),
		NewDecisionEngine(st, recorder, nil),
		history,
		gate,
		nil,
	), recorder
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerReconcileSuccess(t *testing.T) {
	st := newMemoryStore()
	st.addUser("alice", "admin")
	st.addUser("u1")
	st.setPermissions("u1", "1", "2")
	h, _ := newTestHandler(t, st, &historyStub{})

	body := `{"user_id":"u1","permissions":["2","3"]}`
	req := httptest.NewRequest(http.MethodPut, "/permissions", strings.NewReader(body))
	req.Header.Set(shared.RequesterHeader, "alice")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp reconcileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Message, "u1")
	require.Equal(t, []string{"3"}, resp.Granted)
	require.Equal(t, []string{"1"}, resp.Revoked)
}

func TestHandlerReconcileSelfForbidden(t *testing.T) {
	st := newMemoryStore()
	st.addUser("alice", "admin")
	h, _ := newTestHandler(t, st, &historyStub{})

	body := `{"user_id":"alice","permissions":["1"]}`
	req := httptest.NewRequest(http.MethodPut, "/permissions", strings.NewReader(body))
	req.Header.Set(shared.RequesterHeader, "alice")
	rec := serve(h, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "Self Modification Denied")
}

func TestHandlerReconcileInsufficientRole(t *testing.T) {
	st := newMemoryStore()
	st.addUser("carol", "viewer")
	st.addUser("u1")
	h, _ := newTestHandler(t, st, &historyStub{})

	body := `{"user_id":"u1","permissions":["1"]}`
	req := httptest.NewRequest(http.MethodPut, "/permissions", strings.NewReader(body))
	req.Header.Set(shared.RequesterHeader, "carol")
	rec := serve(h, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "Insufficient Role")
	require.Zero(t, st.grants)
}

func TestHandlerReconcileTargetNotFound(t *testing.T) {
	st := newMemoryStore()
	st.addUser("alice", "admin")
	h, _ := newTestHandler(t, st, &historyStub{})

	body := `{"user_id":"ghost","permissions":["1"]}`
	req := httptest.NewRequest(http.MethodPut, "/permissions", strings.NewReader(body))
	req.Header.Set(shared.RequesterHeader, "alice")
	rec := serve(h, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerReconcileMissingRequester(t *testing.T) {
	st := newMemoryStore()
	h, _ := newTestHandler(t, st, &historyStub{})

	body := `{"user_id":"u1","permissions":["1"]}`
	req := httptest.NewRequest(http.MethodPut, "/permissions", strings.NewReader(body))
	rec := serve(h, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReconcileMissingPermissionsField(t *testing.T) {
	st := newMemoryStore()
	st.addUser("alice", "admin")
	st.addUser("u1")
	h, _ := newTestHandler(t, st, &historyStub{})

	body := `{"user_id":"u1"}`
	req := httptest.NewRequest(http.MethodPut, "/permissions", strings.NewReader(body))
	req.Header.Set(shared.RequesterHeader, "alice")
	rec := serve(h, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReconcilePartialApply(t *testing.T) {
	st := newMemoryStore()
	st.addUser("alice", "admin")
	st.addUser("u1")
	st.setPermissions("u1", "1")
	st.failGrant["3"] = true
	h, _ := newTestHandler(t, st, &historyStub{})

	body := `{"user_id":"u1","permissions":["3"]}`
	req := httptest.NewRequest(http.MethodPut, "/permissions", strings.NewReader(body))
	req.Header.Set(shared.RequesterHeader, "alice")
	rec := serve(h, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp partialApplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []Mutation{{Op: OpRevoke, PermissionID: "1"}}, resp.Applied)
	require.Equal(t, []Mutation{{Op: OpGrant, PermissionID: "3"}}, resp.Failed)
}

func TestHandlerCheckAccess(t *testing.T) {
	st := newMemoryStore()
	st.addUser("42")
	st.setPermissions("42", "5", "7", "9")
	h, recorder := newTestHandler(t, st, &historyStub{})

	body := `{"user_id":"42","permission_id":"7"}`
	req := httptest.NewRequest(http.MethodPost, "/access/check", strings.NewReader(body))
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp checkAccessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Authorized)
	require.Len(t, recorder.recorded(), 1)
}

func TestHandlerCheckAccessDeniedStillOK(t *testing.T) {
	st := newMemoryStore()
	st.failPermissions = true
	h, recorder := newTestHandler(t, st, &historyStub{})

	body := `{"user_id":"42","permission_id":"7"}`
	req := httptest.NewRequest(http.MethodPost, "/access/check", strings.NewReader(body))
	rec := serve(h, req)

	// A store failure is a fail-closed denial, not an HTTP error.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp checkAccessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Authorized)
	require.Len(t, recorder.recorded(), 1)
}

func TestHandlerHistorySelfViewDefaultLimit(t *testing.T) {
	st := newMemoryStore()
	st.addUser("bob")
	history := &historyStub{entries: []audit.Entry{{ID: "e1", UserID: "bob"}}}
	h, _ := newTestHandler(t, st, history)

	req := httptest.NewRequest(http.MethodGet, "/history?user=bob", nil)
	req.Header.Set(shared.RequesterHeader, "bob")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "bob", history.lastUserID)
	require.Equal(t, audit.DefaultLimit, history.lastLimit)
	var resp historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
}

func TestHandlerHistoryOtherUserForbidden(t *testing.T) {
	st := newMemoryStore()
	st.addUser("carol", "viewer")
	st.addUser("bob")
	h, _ := newTestHandler(t, st, &historyStub{})

	req := httptest.NewRequest(http.MethodGet, "/history?user=bob", nil)
	req.Header.Set(shared.RequesterHeader, "carol")
	rec := serve(h, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerHistoryAllUsersForAdmin(t *testing.T) {
	st := newMemoryStore()
	st.addUser("alice", "admin")
	history := &historyStub{}
	h, _ := newTestHandler(t, st, history)

	req := httptest.NewRequest(http.MethodGet, "/history?limit=5", nil)
	req.Header.Set(shared.RequesterHeader, "alice")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "", history.lastUserID)
	require.Equal(t, 5, history.lastLimit)
}

func TestHandlerHistoryBadLimit(t *testing.T) {
	st := newMemoryStore()
	st.addUser("alice", "admin")
	h, _ := newTestHandler(t, st, &historyStub{})

	req := httptest.NewRequest(http.MethodGet, "/history?limit=lots", nil)
	req.Header.Set(shared.RequesterHeader, "alice")
	rec := serve(h, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
