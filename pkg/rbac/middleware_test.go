package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizkhata/bizkhata/pkg/audit"
	"github.com/bizkhata/bizkhata/pkg/httputil"
)

// recordingAuditLogger captures denial events for assertions.
type recordingAuditLogger struct {
	audit.Logger

	mu      sync.Mutex
	denials []string
}

func newRecordingAuditLogger() *recordingAuditLogger {
	return &recordingAuditLogger{Logger: audit.NopLogger()}
}

func (l *recordingAuditLogger) LogDenial(ctx context.Context, r *http.Request, userID *int64, tenantID *int64, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.denials = append(l.denials, message)
	return nil
}

func newGatedRouter(t *testing.T, env *testEnv, req Requirement) *mux.Router {
	t.Helper()
	r := mux.NewRouter()
	sub := r.NewRoute().Subrouter()
	sub.Use(NewMiddleware(env.checker).Require(req))
	sub.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

func doRequest(router *mux.Router, actor *ActorContext, auditLog audit.Logger, jsonClient bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if jsonClient {
		req.Header.Set("Accept", "application/json")
	}

	ctx := req.Context()
	if actor != nil {
		ctx = WithActor(ctx, *actor)
	}
	if auditLog != nil {
		ctx = audit.WithLogger(ctx, auditLog)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req.WithContext(ctx))
	return w
}

func TestMiddleware_Unauthenticated(t *testing.T) {
	t.Run("api caller gets 401 envelope", func(t *testing.T) {
		env := newTestEnv(t)
		router := newGatedRouter(t, env, AllOf("view_sales"))

		w := doRequest(router, nil, nil, true)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var envelope httputil.Envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		assert.False(t, envelope.Success)
		assert.NotEmpty(t, envelope.Message)
	})

	t.Run("browser is redirected to login", func(t *testing.T) {
		env := newTestEnv(t)
		router := newGatedRouter(t, env, AllOf("view_sales"))

		w := doRequest(router, nil, nil, false)
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/login", w.Header().Get("Location"))
	})
}

func TestMiddleware_Denied(t *testing.T) {
	t.Run("json caller gets 403 envelope and denial is audited", func(t *testing.T) {
		env := newTestEnv(t)
		router := newGatedRouter(t, env, AllOf("export_data"))
		auditLog := newRecordingAuditLogger()

		expectSlug(env.mock, 5, 7, "cashier")
		expectPermissions(env.mock, 5, "view_sales")

		actor := &ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}
		w := doRequest(router, actor, auditLog, true)

		assert.Equal(t, http.StatusForbidden, w.Code)
		var envelope httputil.Envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		assert.False(t, envelope.Success)
		assert.Equal(t, msgPermissionDenied, envelope.Message)
		assert.Len(t, auditLog.denials, 1)
	})

	t.Run("browser gets rendered 403 page", func(t *testing.T) {
		env := newTestEnv(t)
		router := newGatedRouter(t, env, AllOf("export_data"))

		expectSlug(env.mock, 5, 7, "cashier")
		expectPermissions(env.mock, 5, "view_sales")

		actor := &ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}
		w := doRequest(router, actor, nil, false)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "403")
	})
}

func TestMiddleware_Allowed(t *testing.T) {
	env := newTestEnv(t)
	router := newGatedRouter(t, env, AllOf("view_sales"))

	expectSlug(env.mock, 5, 7, "cashier")
	expectPermissions(env.mock, 5, "view_sales")

	actor := &ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}
	w := doRequest(router, actor, nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_StorageFault(t *testing.T) {
	env := newTestEnv(t)
	router := newGatedRouter(t, env, AllOf("view_sales"))

	expectSlug(env.mock, 5, 7, "cashier")
	env.mock.ExpectQuery("SELECT permission_name FROM role_permissions").
		WillReturnError(assert.AnError)

	actor := &ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}
	w := doRequest(router, actor, nil, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMiddleware_RequireRole(t *testing.T) {
	newRouter := func(env *testEnv) *mux.Router {
		r := mux.NewRouter()
		sub := r.NewRoute().Subrouter()
		sub.Use(NewMiddleware(env.checker).RequireRole("owner", "admin"))
		sub.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}).Methods(http.MethodGet)
		return r
	}

	t.Run("listed slug passes", func(t *testing.T) {
		env := newTestEnv(t)
		expectSlug(env.mock, 5, 7, "admin")

		actor := &ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}
		w := doRequest(newRouter(env), actor, nil, true)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("other slug is denied", func(t *testing.T) {
		env := newTestEnv(t)
		expectSlug(env.mock, 5, 7, "cashier")

		actor := &ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}
		w := doRequest(newRouter(env), actor, nil, true)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestMiddleware_OwnerPassesEverywhere(t *testing.T) {
	env := newTestEnv(t)
	router := newGatedRouter(t, env, RoleIn("admin"))

	expectSlug(env.mock, 1, 7, "owner")

	actor := &ActorContext{Authenticated: true, UserID: 1, RoleID: 1, TenantID: 7}
	w := doRequest(router, actor, nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
}
