package rbac

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizkhata/bizkhata/pkg/httputil"
)

func handlerRequest(method, target string, body []byte, actor ActorContext, vars map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(WithActor(req.Context(), actor))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) httputil.Envelope {
	t.Helper()
	var envelope httputil.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestHandlers_CreateRole(t *testing.T) {
	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 1, TenantID: 7}

	t.Run("missing name is a validation error", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewHandlers(env.store, env.checker, env.catalog)

		body, _ := json.Marshal(rolePayload{Slug: "cashier"})
		w := httptest.NewRecorder()
		h.CreateRole(w, handlerRequest(http.MethodPost, "/roles", body, actor, nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		envelope := decodeEnvelope(t, w)
		assert.False(t, envelope.Success)
		assert.Equal(t, "name", envelope.Field)
	})

	t.Run("duplicate slug maps to 409", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewHandlers(env.store, env.checker, env.catalog)

		env.mock.ExpectQuery("SELECT id FROM roles").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

		body, _ := json.Marshal(rolePayload{Name: "Cashier", Slug: "cashier"})
		w := httptest.NewRecorder()
		h.CreateRole(w, handlerRequest(http.MethodPost, "/roles", body, actor, nil))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("created role is returned in the envelope", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewHandlers(env.store, env.checker, env.catalog)

		env.mock.ExpectQuery("SELECT id FROM roles").
			WillReturnError(sql.ErrNoRows)
		env.mock.ExpectExec("INSERT INTO permissions_catalog").
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectBegin()
		env.mock.ExpectQuery("INSERT INTO roles").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
		env.mock.ExpectExec("DELETE FROM role_permissions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		env.mock.ExpectExec("INSERT INTO role_permissions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectCommit()

		body, _ := json.Marshal(rolePayload{
			Name: "Cashier", Slug: "cashier", Permissions: []string{"view_sales"},
		})
		w := httptest.NewRecorder()
		h.CreateRole(w, handlerRequest(http.MethodPost, "/roles", body, actor, nil))

		require.Equal(t, http.StatusCreated, w.Code)
		envelope := decodeEnvelope(t, w)
		assert.True(t, envelope.Success)
		assert.NotEmpty(t, envelope.Message)
	})
}

func TestHandlers_DeleteRole(t *testing.T) {
	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 1, TenantID: 7}

	t.Run("role in use maps to 409", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewHandlers(env.store, env.checker, env.catalog)

		env.mock.ExpectQuery("SELECT id, tenant_id, name, slug").
			WillReturnRows(roleRow(5, 7, "Cashier", "cashier", `[]`))
		env.mock.ExpectQuery("FROM users WHERE role_id").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

		w := httptest.NewRecorder()
		h.DeleteRole(w, handlerRequest(http.MethodDelete, "/roles/5", nil, actor, map[string]string{"id": "5"}))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("protected role maps to 403", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewHandlers(env.store, env.checker, env.catalog)

		env.mock.ExpectQuery("SELECT id, tenant_id, name, slug").
			WillReturnRows(roleRow(5, 7, "Owner", "owner", `[]`))

		w := httptest.NewRecorder()
		h.DeleteRole(w, handlerRequest(http.MethodDelete, "/roles/5", nil, actor, map[string]string{"id": "5"}))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("force delete reassigns and succeeds", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewHandlers(env.store, env.checker, env.catalog)

		env.mock.ExpectQuery("SELECT id, tenant_id, name, slug").
			WillReturnRows(roleRow(5, 7, "Cashier", "cashier", `[]`))
		env.mock.ExpectExec("INSERT INTO permissions_catalog").
			WillReturnResult(sqlmock.NewResult(0, 0))
		env.mock.ExpectBegin()
		env.mock.ExpectQuery("SELECT id FROM roles WHERE slug").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
		env.mock.ExpectExec("UPDATE users SET role_id").
			WillReturnResult(sqlmock.NewResult(0, 2))
		env.mock.ExpectExec("DELETE FROM role_permissions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec("UPDATE roles SET deleted_at").
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectCommit()

		w := httptest.NewRecorder()
		h.DeleteRole(w, handlerRequest(http.MethodDelete, "/roles/5?force=true", nil, actor, map[string]string{"id": "5"}))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decodeEnvelope(t, w).Success)
	})
}

func TestHandlers_ListPermissions(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandlers(env.store, env.checker, env.catalog)

	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 1, TenantID: 7}
	w := httptest.NewRecorder()
	h.ListPermissions(w, handlerRequest(http.MethodGet, "/permissions", nil, actor, nil))

	require.Equal(t, http.StatusOK, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.True(t, envelope.Success)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "groups")
	assert.Contains(t, data, "permissions")
}

func TestHandlers_CurrentPermissions(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandlers(env.store, env.checker, env.catalog)

	expectSlug(env.mock, 5, 7, "cashier")
	expectPermissions(env.mock, 5, "view_sales")

	actor := ActorContext{Authenticated: true, UserID: 2, RoleID: 5, TenantID: 7}
	w := httptest.NewRecorder()
	h.CurrentPermissions(w, handlerRequest(http.MethodGet, "/me/permissions", nil, actor, nil))

	require.Equal(t, http.StatusOK, w.Code)
	envelope := decodeEnvelope(t, w)
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"view_sales"}, data["permissions"])

	labels, ok := data["labels"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "সেল দেখুন", labels["view_sales"])
}
