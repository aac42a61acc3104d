package rbac

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bizkhata/bizkhata/pkg/audit"
	"github.com/bizkhata/bizkhata/pkg/contextkeys"
	"github.com/bizkhata/bizkhata/pkg/httputil"
	"github.com/bizkhata/bizkhata/pkg/observability"
)

// User-facing denial messages. The UI is Bengali-first.
const (
	msgLoginRequired    = "এই পেজ দেখতে লগইন করুন"
	msgPermissionDenied = "এই কাজটি করার অনুমতি আপনার নেই"
	msgCheckFailed      = "অনুমতি যাচাই করা যায়নি, আবার চেষ্টা করুন"
)

// ActorFromContext retrieves the actor placed by the session middleware. The
// zero actor (unauthenticated) is returned when none is set.
func ActorFromContext(ctx context.Context) ActorContext {
	if actor, ok := ctx.Value(contextkeys.ActorKey).(ActorContext); ok {
		return actor
	}
	return ActorContext{}
}

// WithActor stores the actor on the context.
func WithActor(ctx context.Context, actor ActorContext) context.Context {
	return contextkeys.WithActor(ctx, actor)
}

// Middleware gates routes on authorization requirements.
type Middleware struct {
	checker *Checker
}

// NewMiddleware creates route-gating middleware over the checker.
func NewMiddleware(checker *Checker) *Middleware {
	return &Middleware{checker: checker}
}

// Require gates a route on an arbitrary requirement.
func (m *Middleware) Require(req Requirement) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := ActorFromContext(ctx)

			if !actor.Authenticated {
				unauthenticated(w, r)
				return
			}

			decision, err := m.checker.Authorize(ctx, actor, req)
			if err != nil {
				observability.FromContext(ctx).WithError(err).Error("authorization check failed")
				httputil.WriteInternalError(w, msgCheckFailed)
				return
			}
			if !decision.Allowed {
				m.auditDenial(ctx, r, actor, decision.Reason)
				httputil.WriteForbidden(w, r, msgPermissionDenied)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission gates a route on the actor holding every listed permission.
func (m *Middleware) RequirePermission(names ...string) mux.MiddlewareFunc {
	return m.Require(AllOf(names...))
}

// RequireAnyPermission gates a route on the actor holding at least one listed permission.
func (m *Middleware) RequireAnyPermission(names ...string) mux.MiddlewareFunc {
	return m.Require(AnyOf(names...))
}

// RequireRole gates a route on the actor's role slug. Owner passes regardless.
func (m *Middleware) RequireRole(slugs ...string) mux.MiddlewareFunc {
	return m.Require(RoleIn(slugs...))
}

func (m *Middleware) auditDenial(ctx context.Context, r *http.Request, actor ActorContext, reason string) {
	userID := actor.UserID
	tenantID := actor.TenantID
	err := audit.FromContext(ctx).LogDenial(ctx, r, &userID, &tenantID, reason)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("could not record denial audit event")
	}
}

// unauthenticated answers a request with no valid session. API callers get a
// 401 envelope; browser navigation is sent to the login page.
func unauthenticated(w http.ResponseWriter, r *http.Request) {
	if httputil.WantsJSON(r) {
		httputil.WriteUnauthorized(w, msgLoginRequired)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
