package session

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bizkhata/bizkhata/pkg/contextkeys"
	"github.com/bizkhata/bizkhata/pkg/observability"
	"github.com/bizkhata/bizkhata/pkg/rbac"
)

// Middleware resolves the session cookie into an actor context. Requests with
// no cookie, or a dead session, proceed unauthenticated; route gates decide
// what that means.
func Middleware(store *Store, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			cookie, err := r.Cookie(cookieName)
			if err != nil {
				next.ServeHTTP(w, r.WithContext(rbac.WithActor(ctx, rbac.ActorContext{})))
				return
			}

			sess, err := store.Get(ctx, cookie.Value)
			if err != nil {
				if !errors.Is(err, ErrSessionNotFound) {
					observability.FromContext(ctx).WithError(err).Warn("session lookup failed")
				}
				next.ServeHTTP(w, r.WithContext(rbac.WithActor(ctx, rbac.ActorContext{})))
				return
			}

			// Sliding expiration: activity keeps the session alive.
			if _, rerr := store.Refresh(ctx, sess.ID, sess.RoleID); rerr != nil {
				observability.FromContext(ctx).WithError(rerr).Warn("session refresh failed")
			}

			actor := rbac.ActorContext{
				Authenticated: true,
				UserID:        sess.UserID,
				TenantID:      sess.TenantID,
				RoleID:        sess.RoleID,
			}
			ctx = rbac.WithActor(ctx, actor)
			ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(sess.UserID, 10))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
