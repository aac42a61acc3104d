package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/bizkhata/bizkhata/pkg/audit"
	"github.com/bizkhata/bizkhata/pkg/httputil"
	"github.com/bizkhata/bizkhata/pkg/observability"
	"github.com/bizkhata/bizkhata/pkg/rbac"
	"github.com/bizkhata/bizkhata/pkg/tenant"
	"github.com/bizkhata/bizkhata/pkg/users"
)

// auditUser records a user management event; failures are logged, not fatal.
func auditUser(ctx context.Context, actor rbac.ActorContext, eventType audit.EventType, userID int64, message string) {
	actorID := actor.UserID
	tenantID := actor.TenantID
	err := audit.FromContext(ctx).LogMutation(ctx, eventType, &actorID, &tenantID,
		audit.ResourceTypeUser, strconv.FormatInt(userID, 10), message)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("could not record user audit event")
	}
}

// signupHandler provisions a fresh tenant with its reserved roles and owner
// account.
func signupHandler(svc *tenant.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload struct {
			BusinessName string `json:"business_name"`
			Phone        string `json:"phone"`
			OwnerName    string `json:"owner_name"`
			Email        string `json:"email"`
			Password     string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httputil.WriteValidationError(w, "", "অনুরোধটি পড়া যায়নি")
			return
		}
		if payload.BusinessName == "" || payload.OwnerName == "" || payload.Email == "" {
			httputil.WriteValidationError(w, "business_name", "ব্যবসার নাম, মালিকের নাম ও ইমেইল দিতে হবে")
			return
		}
		if len(payload.Password) < 6 {
			httputil.WriteValidationError(w, "password", "পাসওয়ার্ড কমপক্ষে ৬ অক্ষরের হতে হবে")
			return
		}

		t, owner, err := svc.Provision(ctx, tenant.ProvisionParams{
			BusinessName:  payload.BusinessName,
			Phone:         payload.Phone,
			OwnerName:     payload.OwnerName,
			OwnerEmail:    payload.Email,
			OwnerPassword: payload.Password,
		})
		if err != nil {
			observability.FromContext(ctx).WithError(err).Error("tenant provisioning failed")
			httputil.WriteInternalError(w, "অ্যাকাউন্ট খোলা যায়নি, আবার চেষ্টা করুন")
			return
		}

		httputil.WriteCreated(w, "অ্যাকাউন্ট তৈরি হয়েছে", map[string]interface{}{ //nolint:errcheck
			"tenant": t,
			"owner":  owner,
		})
	}
}

// registerTenantRoutes mounts the business profile endpoint. Only the owner
// and admin roles may read it.
func registerTenantRoutes(r *mux.Router, mw *rbac.Middleware, svc *tenant.Service) {
	profile := r.NewRoute().Subrouter()
	profile.Use(mw.RequireRole(rbac.SlugOwner, rbac.SlugAdmin))
	profile.HandleFunc("/tenant", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor := rbac.ActorFromContext(ctx)

		t, err := svc.Get(ctx, actor.TenantID)
		if errors.Is(err, tenant.ErrTenantNotFound) {
			httputil.WriteNotFound(w, "প্রতিষ্ঠান খুঁজে পাওয়া যায়নি")
			return
		}
		if err != nil {
			observability.FromContext(ctx).WithError(err).Error("failed to load tenant")
			httputil.WriteInternalError(w, "কিছু একটা ভুল হয়েছে, আবার চেষ্টা করুন")
			return
		}
		httputil.WriteSuccess(w, "", t) //nolint:errcheck
	}).Methods(http.MethodGet)
}

// registerUserRoutes mounts user management endpoints.
func registerUserRoutes(r *mux.Router, mw *rbac.Middleware, checker *rbac.Checker, store *users.Store) {
	writeUserError := func(w http.ResponseWriter, err error) {
		switch {
		case errors.Is(err, users.ErrUserNotFound):
			httputil.WriteNotFound(w, "ইউজার খুঁজে পাওয়া যায়নি")
		case errors.Is(err, users.ErrDuplicateEmail):
			httputil.WriteConflict(w, "এই ইমেইলে একটি অ্যাকাউন্ট ইতিমধ্যে আছে")
		case errors.Is(err, users.ErrRoleNotInTenant):
			httputil.WriteValidationError(w, "role_id", "রোলটি এই প্রতিষ্ঠানের নয়")
		default:
			httputil.WriteInternalError(w, "কিছু একটা ভুল হয়েছে, আবার চেষ্টা করুন")
		}
	}

	list := r.NewRoute().Subrouter()
	list.Use(mw.RequirePermission("view_users"))
	list.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor := rbac.ActorFromContext(ctx)
		all, err := store.List(ctx, actor.TenantID)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Error("failed to list users")
			writeUserError(w, err)
			return
		}
		if all == nil {
			all = []users.User{}
		}
		httputil.WriteSuccess(w, "", all) //nolint:errcheck
	}).Methods(http.MethodGet)

	create := r.NewRoute().Subrouter()
	create.Use(mw.RequirePermission("create_user"))
	create.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor := rbac.ActorFromContext(ctx)

		var payload struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Phone    string `json:"phone"`
			Password string `json:"password"`
			RoleID   *int64 `json:"role_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httputil.WriteValidationError(w, "", "অনুরোধটি পড়া যায়নি")
			return
		}
		if payload.Name == "" || payload.Email == "" {
			httputil.WriteValidationError(w, "name", "নাম ও ইমেইল দিতে হবে")
			return
		}
		if len(payload.Password) < 6 {
			httputil.WriteValidationError(w, "password", "পাসওয়ার্ড কমপক্ষে ৬ অক্ষরের হতে হবে")
			return
		}

		user := &users.User{
			TenantID: actor.TenantID,
			RoleID:   payload.RoleID,
			Name:     payload.Name,
			Email:    payload.Email,
			Phone:    payload.Phone,
		}
		if err := store.Create(ctx, user, payload.Password); err != nil {
			writeUserError(w, err)
			return
		}
		auditUser(ctx, actor, audit.EventTypeUserCreate, user.ID, "user created")
		httputil.WriteCreated(w, "ইউজার তৈরি হয়েছে", user) //nolint:errcheck
	}).Methods(http.MethodPost)

	// Viewing a single user needs view_users, except for the account's own
	// profile, which is always visible to its owner.
	r.HandleFunc("/users/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor := rbac.ActorFromContext(ctx)
		if !actor.Authenticated {
			httputil.WriteUnauthorized(w, "লগইন করা প্রয়োজন")
			return
		}

		userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "id", "ইউজার আইডি সঠিক নয়")
			return
		}

		if userID != actor.UserID {
			ok, cerr := checker.HasPermission(ctx, actor, "view_users")
			if cerr != nil {
				observability.FromContext(ctx).WithError(cerr).Error("permission check failed")
				httputil.WriteInternalError(w, "অনুমতি যাচাই করা যায়নি")
				return
			}
			if !ok {
				httputil.WriteForbidden(w, r, "এই কাজটি করার অনুমতি আপনার নেই")
				return
			}
		}

		user, err := store.Get(ctx, userID, actor.TenantID)
		if err != nil {
			writeUserError(w, err)
			return
		}
		httputil.WriteSuccess(w, "", user) //nolint:errcheck
	}).Methods(http.MethodGet)

	edit := r.NewRoute().Subrouter()
	edit.Use(mw.RequirePermission("edit_user"))
	edit.HandleFunc("/users/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor := rbac.ActorFromContext(ctx)

		userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "id", "ইউজার আইডি সঠিক নয়")
			return
		}

		var payload struct {
			Name  string `json:"name"`
			Phone string `json:"phone"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httputil.WriteValidationError(w, "", "অনুরোধটি পড়া যায়নি")
			return
		}
		if payload.Name == "" {
			httputil.WriteValidationError(w, "name", "নাম দিতে হবে")
			return
		}

		user := &users.User{
			ID:       userID,
			TenantID: actor.TenantID,
			Name:     payload.Name,
			Phone:    payload.Phone,
		}
		if err := store.Update(ctx, user); err != nil {
			writeUserError(w, err)
			return
		}
		auditUser(ctx, actor, audit.EventTypeUserUpdate, userID, "user updated")
		httputil.WriteSuccess(w, "ইউজার আপডেট হয়েছে", nil) //nolint:errcheck
	}).Methods(http.MethodPut)

	assign := r.NewRoute().Subrouter()
	assign.Use(mw.RequirePermission("assign_role"))
	assign.HandleFunc("/users/{id:[0-9]+}/role", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor := rbac.ActorFromContext(ctx)

		userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "id", "ইউজার আইডি সঠিক নয়")
			return
		}

		var payload struct {
			RoleID int64 `json:"role_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.RoleID == 0 {
			httputil.WriteValidationError(w, "role_id", "রোল আইডি দিতে হবে")
			return
		}

		if err := store.AssignRole(ctx, userID, payload.RoleID, actor.TenantID); err != nil {
			writeUserError(w, err)
			return
		}
		auditUser(ctx, actor, audit.EventTypeAuthzRoleChange, userID, "role assigned")
		httputil.WriteSuccess(w, "রোল অ্যাসাইন হয়েছে", nil) //nolint:errcheck
	}).Methods(http.MethodPut)

	del := r.NewRoute().Subrouter()
	del.Use(mw.RequirePermission("delete_user"))
	del.HandleFunc("/users/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor := rbac.ActorFromContext(ctx)

		userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "id", "ইউজার আইডি সঠিক নয়")
			return
		}
		if err := store.Delete(ctx, userID, actor.TenantID); err != nil {
			writeUserError(w, err)
			return
		}
		auditUser(ctx, actor, audit.EventTypeUserDelete, userID, "user deleted")
		httputil.WriteSuccess(w, "ইউজার ডিলিট হয়েছে", nil) //nolint:errcheck
	}).Methods(http.MethodDelete)
}
