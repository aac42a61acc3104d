package rbac

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
	"github.com/bizkhata/bizkhata/pkg/permissions"
)

// Handlers exposes role management and permission introspection over HTTP.
type Handlers struct {
	store   *Store
	checker *Checker
	catalog *permissions.Catalog
}

// NewHandlers creates the role management handler set.
func NewHandlers(store *Store, checker *Checker, catalog *permissions.Catalog) *Handlers {
	return &Handlers{store: store, checker: checker, catalog: catalog}
}

// RegisterRoutes mounts role management routes, each gated on the matching
// role-management permission.
func (h *Handlers) RegisterRoutes(r *mux.Router, mw *Middleware) {
	view := r.NewRoute().Subrouter()
	view.Use(mw.RequireAnyPermission("create_role", "edit_role", "assign_role"))
	view.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	view.HandleFunc("/roles/{id:[0-9]+}", h.GetRole).Methods(http.MethodGet)
	view.HandleFunc("/roles/slug/{slug}", h.GetRoleBySlug).Methods(http.MethodGet)
	view.HandleFunc("/permissions", h.ListPermissions).Methods(http.MethodGet)

	create := r.NewRoute().Subrouter()
	create.Use(mw.RequirePermission("create_role"))
	create.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost)

	edit := r.NewRoute().Subrouter()
	edit.Use(mw.RequirePermission("edit_role"))
	edit.HandleFunc("/roles/{id:[0-9]+}", h.UpdateRole).Methods(http.MethodPut)

	del := r.NewRoute().Subrouter()
	del.Use(mw.RequirePermission("delete_role"))
	del.HandleFunc("/roles/{id:[0-9]+}", h.DeleteRole).Methods(http.MethodDelete)

	// Any authenticated actor may ask what they can do.
	r.HandleFunc("/me/permissions", h.CurrentPermissions).Methods(http.MethodGet)
}

type rolePayload struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

func (h *Handlers) writeRoleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound):
		httputil.WriteNotFound(w, "রোল খুঁজে পাওয়া যায়নি")
	case errors.Is(err, ErrInvalidSlug):
		httputil.WriteValidationError(w, "slug", "স্লাগে শুধু ছোট হাতের অক্ষর, সংখ্যা ও হাইফেন ব্যবহার করুন")
	case errors.Is(err, ErrDuplicateSlug):
		httputil.WriteConflict(w, "এই স্লাগের একটি রোল ইতিমধ্যে আছে")
	case errors.Is(err, ErrProtectedRole):
		httputil.WriteError(w, http.StatusForbidden, "সংরক্ষিত রোল পরিবর্তন বা ডিলিট করা যাবে না")
	case errors.Is(err, ErrRoleInUse):
		httputil.WriteConflict(w, "এই রোলে ব্যবহারকারী আছে, আগে তাদের সরান")
	default:
		httputil.WriteInternalError(w, "কিছু একটা ভুল হয়েছে, আবার চেষ্টা করুন")
	}
}

// ListRoles returns the tenant's roles with live user counts.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)

	roles, err := h.store.ListRoles(ctx, actor.TenantID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to list roles")
		h.writeRoleError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteSuccess(w, "", roles) //nolint:errcheck
}

// GetRole returns one role by id within the actor's tenant.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)

	roleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteValidationError(w, "id", "রোল আইডি সঠিক নয়")
		return
	}

	role, err := h.store.GetRole(ctx, roleID, actor.TenantID)
	if err != nil {
		h.writeRoleError(w, err)
		return
	}
	httputil.WriteSuccess(w, "", role) //nolint:errcheck
}

// GetRoleBySlug returns one role by slug within the actor's tenant.
func (h *Handlers) GetRoleBySlug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)

	slug := mux.Vars(r)["slug"]
	if !ValidSlug(slug) {
		httputil.WriteValidationError(w, "slug", "স্লাগে শুধু ছোট হাতের অক্ষর, সংখ্যা ও হাইফেন ব্যবহার করুন")
		return
	}

	role, err := h.store.GetRoleBySlug(ctx, slug, actor.TenantID)
	if err != nil {
		h.writeRoleError(w, err)
		return
	}
	httputil.WriteSuccess(w, "", role) //nolint:errcheck
}

// CreateRole creates a role with its permission set.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)

	var payload rolePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httputil.WriteValidationError(w, "", "অনুরোধটি পড়া যায়নি")
		return
	}
	if payload.Name == "" {
		httputil.WriteValidationError(w, "name", "রোলের নাম দিতে হবে")
		return
	}
	if payload.Slug == "" {
		httputil.WriteValidationError(w, "slug", "রোলের স্লাগ দিতে হবে")
		return
	}

	role := &Role{
		TenantID:    actor.TenantID,
		Name:        payload.Name,
		Slug:        payload.Slug,
		Description: payload.Description,
		Permissions: payload.Permissions,
		CreatedBy:   &actor.UserID,
	}
	if err := h.store.CreateRole(ctx, role); err != nil {
		h.writeRoleError(w, err)
		return
	}

	h.auditMutation(ctx, actor, audit.EventTypeRoleCreate, role, "role created")
	httputil.WriteCreated(w, "রোল তৈরি হয়েছে", role) //nolint:errcheck
}

// UpdateRole replaces a role's fields and permission set.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)

	roleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteValidationError(w, "id", "রোল আইডি সঠিক নয়")
		return
	}

	var payload rolePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httputil.WriteValidationError(w, "", "অনুরোধটি পড়া যায়নি")
		return
	}
	if payload.Name == "" {
		httputil.WriteValidationError(w, "name", "রোলের নাম দিতে হবে")
		return
	}

	role := &Role{
		ID:          roleID,
		TenantID:    actor.TenantID,
		Name:        payload.Name,
		Slug:        payload.Slug,
		Description: payload.Description,
		Permissions: payload.Permissions,
		UpdatedBy:   &actor.UserID,
	}
	if err := h.store.UpdateRole(ctx, role); err != nil {
		h.writeRoleError(w, err)
		return
	}

	h.auditMutation(ctx, actor, audit.EventTypeRoleUpdate, role, "role updated")
	httputil.WriteSuccess(w, "রোল আপডেট হয়েছে", role) //nolint:errcheck
}

// DeleteRole soft-deletes a role. With ?force=true users are reassigned to the
// fallback role first.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)

	roleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteValidationError(w, "id", "রোল আইডি সঠিক নয়")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	eventType := audit.EventTypeRoleDelete
	if force {
		eventType = audit.EventTypeRoleForceDelete
		err = h.store.ForceDeleteRole(ctx, roleID, actor.TenantID, actor.UserID)
	} else {
		err = h.store.DeleteRole(ctx, roleID, actor.TenantID)
	}
	if err != nil {
		h.writeRoleError(w, err)
		return
	}

	h.auditMutation(ctx, actor, eventType, &Role{ID: roleID}, "role deleted")
	httputil.WriteSuccess(w, "রোল ডিলিট হয়েছে", nil) //nolint:errcheck
}

// ListPermissions returns the permission catalog grouped for role forms.
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	grouped := make(map[string][]permissions.Permission, len(permissions.Groups))
	for group := range permissions.Groups {
		if entries := h.catalog.ByGroup(group); len(entries) > 0 {
			grouped[group] = entries
		}
	}
	httputil.WriteSuccess(w, "", map[string]interface{}{ //nolint:errcheck
		"groups":      permissions.Groups,
		"grouped":     grouped,
		"permissions": h.catalog.All(),
	})
}

// CurrentPermissions returns the calling actor's effective permission names.
func (h *Handlers) CurrentPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)
	if !actor.Authenticated {
		unauthenticated(w, r)
		return
	}

	names, err := h.checker.CurrentPermissions(ctx, actor)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to load current permissions")
		httputil.WriteInternalError(w, "কিছু একটা ভুল হয়েছে, আবার চেষ্টা করুন")
		return
	}

	labels := make(map[string]string, len(names))
	for _, name := range names {
		labels[name] = h.catalog.Label(name)
	}
	httputil.WriteSuccess(w, "", map[string]interface{}{ //nolint:errcheck
		"permissions": names,
		"labels":      labels,
	})
}

func (h *Handlers) auditMutation(ctx context.Context, actor ActorContext, eventType audit.EventType, role *Role, message string) {
	userID := actor.UserID
	tenantID := actor.TenantID
	err := audit.FromContext(ctx).LogMutation(ctx, eventType, &userID, &tenantID,
		audit.ResourceTypeRole, strconv.FormatInt(role.ID, 10), message)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("could not record role audit event")
	}
}
