package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bizkhata/bizkhata/pkg/audit"
	"github.com/bizkhata/bizkhata/pkg/httputil"
	"github.com/bizkhata/bizkhata/pkg/observability"
	"github.com/bizkhata/bizkhata/pkg/rbac"
	"github.com/bizkhata/bizkhata/pkg/users"
)

// Handlers implements login and logout.
type Handlers struct {
	store      *Store
	users      *users.Store
	cookieName string
	secure     bool
}

// NewHandlers creates the auth handler set. secure controls the cookie's
// Secure flag and should be true behind TLS.
func NewHandlers(store *Store, userStore *users.Store, cookieName string, secure bool) *Handlers {
	return &Handlers{store: store, users: userStore, cookieName: cookieName, secure: secure}
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and issues a session cookie.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.FromContext(ctx)

	var payload loginPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httputil.WriteValidationError(w, "", "অনুরোধটি পড়া যায়নি")
		return
	}
	if payload.Email == "" || payload.Password == "" {
		httputil.WriteValidationError(w, "email", "ইমেইল ও পাসওয়ার্ড দিতে হবে")
		return
	}

	user, err := h.users.Authenticate(ctx, payload.Email, payload.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		if aerr := audit.FromContext(ctx).LogAuthentication(ctx, audit.EventTypeAuthLoginFailed,
			nil, nil, audit.EventStatusFailure, payload.Email); aerr != nil {
			log.WithError(aerr).Warn("could not record failed login")
		}
		httputil.WriteUnauthorized(w, "ইমেইল অথবা পাসওয়ার্ড সঠিক নয়")
		return
	}
	if err != nil {
		log.WithError(err).Error("login failed")
		httputil.WriteInternalError(w, "কিছু একটা ভুল হয়েছে, আবার চেষ্টা করুন")
		return
	}

	var roleID int64
	if user.RoleID != nil {
		roleID = *user.RoleID
	}
	sess, err := h.store.Create(ctx, user.ID, user.TenantID, roleID)
	if err != nil {
		log.WithError(err).Error("could not create session")
		httputil.WriteInternalError(w, "কিছু একটা ভুল হয়েছে, আবার চেষ্টা করুন")
		return
	}

	if terr := h.users.TouchLastLogin(ctx, user.ID); terr != nil {
		log.WithError(terr).Warn("could not stamp last login")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	if aerr := audit.FromContext(ctx).LogAuthentication(ctx, audit.EventTypeAuthLogin,
		&user.ID, &user.TenantID, audit.EventStatusSuccess, "logged in"); aerr != nil {
		log.WithError(aerr).Warn("could not record login")
	}

	httputil.WriteSuccess(w, "লগইন সফল হয়েছে", user) //nolint:errcheck
}

// Logout destroys the current session and clears the cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie(h.cookieName)
	if err == nil {
		if derr := h.store.Destroy(ctx, cookie.Value); derr != nil {
			observability.FromContext(ctx).WithError(derr).Warn("could not destroy session")
		}
	}

	if actor := rbac.ActorFromContext(ctx); actor.Authenticated {
		if aerr := audit.FromContext(ctx).LogAuthentication(ctx, audit.EventTypeAuthLogout,
			&actor.UserID, &actor.TenantID, audit.EventStatusSuccess, "logged out"); aerr != nil {
			observability.FromContext(ctx).WithError(aerr).Warn("could not record logout")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	httputil.WriteSuccess(w, "লগআউট হয়েছে", nil) //nolint:errcheck
}
