package areas

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
)

// Handlers exposes area management over HTTP.
type Handlers struct {
	store   *Store
	checker *rbac.Checker
}

// NewHandlers creates the area handler set. The checker feeds the per-area
// permission layer; owners skip it entirely.
func NewHandlers(store *Store, checker *rbac.Checker) *Handlers {
	return &Handlers{store: store, checker: checker}
}

// fineAllows consults the per-(area, role) flags. An owner, or a pair with no
// flags configured, passes; the coarse route gate already ran.
func (h *Handlers) fineAllows(ctx context.Context, actor rbac.ActorContext, areaID int64, action Action) (bool, error) {
	if h.checker != nil {
		decision, err := h.checker.Authorize(ctx, actor, rbac.RoleIn(rbac.SlugOwner))
		if err == nil && decision.Allowed {
			return true, nil
		}
	}
	allowed, _, err := h.store.AllowsAction(ctx, areaID, actor.RoleID, action)
	return allowed, err
}

// RegisterRoutes mounts area routes, gated on the area permission group.
func (h *Handlers) RegisterRoutes(r *mux.Router, mw *rbac.Middleware) {
	view := r.NewRoute().Subrouter()
	view.Use(mw.RequireAnyPermission("view_areas", "read_area"))
	view.HandleFunc("/areas", h.ListAreas).Methods(http.MethodGet)
	view.HandleFunc("/areas/{id:[0-9]+}", h.GetArea).Methods(http.MethodGet)
	view.HandleFunc("/areas/{id:[0-9]+}/users", h.ListAreaUsers).Methods(http.MethodGet)
	view.HandleFunc("/users/{userID:[0-9]+}/areas", h.ListUserAreas).Methods(http.MethodGet)

	create := r.NewRoute().Subrouter()
	create.Use(mw.RequirePermission("create_area"))
	create.HandleFunc("/areas", h.CreateArea).Methods(http.MethodPost)

	update := r.NewRoute().Subrouter()
	update.Use(mw.RequirePermission("update_area"))
	update.HandleFunc("/areas/{id:[0-9]+}", h.UpdateArea).Methods(http.MethodPut)
	update.HandleFunc("/areas/{id:[0-9]+}/permissions", h.SetPermissions).Methods(http.MethodPut)
	update.HandleFunc("/areas/{id:[0-9]+}/permissions/{roleID:[0-9]+}", h.RemovePermissions).Methods(http.MethodDelete)

	del := r.NewRoute().Subrouter()
	del.Use(mw.RequirePermission("delete_area"))
	del.HandleFunc("/areas/{id:[0-9]+}", h.DeleteArea).Methods(http.MethodDelete)

	assign := r.NewRoute().Subrouter()
	assign.Use(mw.RequirePermission("assign_area"))
	assign.HandleFunc("/areas/{id:[0-9]+}/users", h.AssignUser).Methods(http.MethodPost)
	assign.HandleFunc("/areas/{id:[0-9]+}/users/{userID:[0-9]+}", h.UnassignUser).Methods(http.MethodDelete)
}

type areaPayload struct {
	Name        string `json:"name"`
	NameBn      string `json:"name_bn"`
	Description string `json:"description"`
	Code        string `json:"code"`
	Region      string `json:"region"`
	IsActive    *bool  `json:"is_active"`
	ParentID    *int64 `json:"parent_id"`
}

func pathID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	return id, err == nil
}

func writeAreaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAreaNotFound):
		httputil.WriteNotFound(w, "এলাকা খুঁজে পাওয়া যায়নি")
	case errors.Is(err, ErrDuplicateCode):
		httputil.WriteConflict(w, "এই কোডের একটি এলাকা ইতিমধ্যে আছে")
	case errors.Is(err, ErrParentCycle):
		httputil.WriteValidationError(w, "parent_id", "এলাকাটি নিজের অধীনে নেওয়া যাবে না")
	case errors.Is(err, ErrParentMissing):
		httputil.WriteValidationError(w, "parent_id", "মূল এলাকা খুঁজে পাওয়া যায়নি")
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteNotFound(w, "ইউজার খুঁজে পাওয়া যায়নি")
	default:
		httputil.WriteInternalError(w, "কিছু একটা ভুল হয়েছে, আবার চেষ্টা করুন")
	}
}

// ListAreas returns the tenant's live areas, optionally under one parent.
func (h *Handlers) ListAreas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	query := r.URL.Query()
	filter := ListFilter{
		Region:     query.Get("region"),
		ActiveOnly: query.Get("active") == "true",
		Search:     query.Get("q"),
	}
	if raw := query.Get("parent_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "parent_id", "মূল এলাকার আইডি সঠিক নয়")
			return
		}
		filter.ParentID = &id
	}

	list, err := h.store.List(ctx, actor.TenantID, filter)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to list areas")
		writeAreaError(w, err)
		return
	}
	if list == nil {
		list = []Area{}
	}
	httputil.WriteSuccess(w, "", list) //nolint:errcheck
}

// GetArea returns one area by id.
func (h *Handlers) GetArea(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	areaID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "id", "এলাকার আইডি সঠিক নয়")
		return
	}

	area, err := h.store.Get(ctx, areaID, actor.TenantID)
	if err != nil {
		writeAreaError(w, err)
		return
	}

	if allowed, err := h.fineAllows(ctx, actor, areaID, ActionView); err != nil {
		writeAreaError(w, err)
		return
	} else if !allowed {
		httputil.WriteForbidden(w, r, "এই এলাকাটি দেখার অনুমতি আপনার নেই")
		return
	}

	httputil.WriteSuccess(w, "", area) //nolint:errcheck
}

// CreateArea creates an area node.
func (h *Handlers) CreateArea(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	var payload areaPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httputil.WriteValidationError(w, "", "অনুরোধটি পড়া যায়নি")
		return
	}
	if payload.Name == "" {
		httputil.WriteValidationError(w, "name", "এলাকার নাম দিতে হবে")
		return
	}
	if payload.Code == "" {
		httputil.WriteValidationError(w, "code", "এলাকার কোড দিতে হবে")
		return
	}

	active := true
	if payload.IsActive != nil {
		active = *payload.IsActive
	}
	area := &Area{
		TenantID:    actor.TenantID,
		ParentID:    payload.ParentID,
		Name:        payload.Name,
		NameBn:      payload.NameBn,
		Description: payload.Description,
		Code:        payload.Code,
		Region:      payload.Region,
		IsActive:    active,
	}
	if err := h.store.Create(ctx, area); err != nil {
		writeAreaError(w, err)
		return
	}

	h.auditArea(ctx, actor, audit.EventTypeAreaCreate, area.ID, "area created")
	httputil.WriteCreated(w, "এলাকা তৈরি হয়েছে", area) //nolint:errcheck
}

// UpdateArea rewrites an area's fields.
func (h *Handlers) UpdateArea(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	areaID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "id", "এলাকার আইডি সঠিক নয়")
		return
	}

	var payload areaPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httputil.WriteValidationError(w, "", "অনুরোধটি পড়া যায়নি")
		return
	}
	if payload.Name == "" || payload.Code == "" {
		httputil.WriteValidationError(w, "name", "এলাকার নাম ও কোড দিতে হবে")
		return
	}

	if allowed, err := h.fineAllows(ctx, actor, areaID, ActionEdit); err != nil {
		writeAreaError(w, err)
		return
	} else if !allowed {
		httputil.WriteForbidden(w, r, "এই এলাকাটি পরিবর্তনের অনুমতি আপনার নেই")
		return
	}

	active := true
	if payload.IsActive != nil {
		active = *payload.IsActive
	}
	area := &Area{
		ID:          areaID,
		TenantID:    actor.TenantID,
		ParentID:    payload.ParentID,
		Name:        payload.Name,
		NameBn:      payload.NameBn,
		Description: payload.Description,
		Code:        payload.Code,
		Region:      payload.Region,
		IsActive:    active,
	}
	if err := h.store.Update(ctx, area); err != nil {
		writeAreaError(w, err)
		return
	}
	httputil.WriteSuccess(w, "এলাকা আপডেট হয়েছে", area) //nolint:errcheck
}

// ListAreaUsers returns the users assigned to an area with assigner names.
func (h *Handlers) ListAreaUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	areaID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "id", "এলাকার আইডি সঠিক নয়")
		return
	}

	// Tenant check happens through the area lookup.
	if _, err := h.store.Get(ctx, areaID, actor.TenantID); err != nil {
		writeAreaError(w, err)
		return
	}

	users, err := h.store.AreaUsers(ctx, areaID, actor.TenantID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to list area users")
		writeAreaError(w, err)
		return
	}
	if users == nil {
		users = []AreaUser{}
	}
	httputil.WriteSuccess(w, "", users) //nolint:errcheck
}

// ListUserAreas returns the areas a user is assigned to.
func (h *Handlers) ListUserAreas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	userID, ok := pathID(r, "userID")
	if !ok {
		httputil.WriteValidationError(w, "userID", "ইউজার আইডি সঠিক নয়")
		return
	}

	list, err := h.store.UserAreas(ctx, userID, actor.TenantID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to list user areas")
		writeAreaError(w, err)
		return
	}
	if list == nil {
		list = []Area{}
	}
	httputil.WriteSuccess(w, "", list) //nolint:errcheck
}

// DeleteArea soft-deletes an area.
func (h *Handlers) DeleteArea(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	areaID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "id", "এলাকার আইডি সঠিক নয়")
		return
	}

	if allowed, err := h.fineAllows(ctx, actor, areaID, ActionDelete); err != nil {
		writeAreaError(w, err)
		return
	} else if !allowed {
		httputil.WriteForbidden(w, r, "এই এলাকাটি ডিলিটের অনুমতি আপনার নেই")
		return
	}

	if err := h.store.Delete(ctx, areaID, actor.TenantID); err != nil {
		writeAreaError(w, err)
		return
	}
	httputil.WriteSuccess(w, "এলাকা ডিলিট হয়েছে", nil) //nolint:errcheck
}

// AssignUser links a user to an area.
func (h *Handlers) AssignUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	areaID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "id", "এলাকার আইডি সঠিক নয়")
		return
	}

	var payload struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.UserID == 0 {
		httputil.WriteValidationError(w, "user_id", "ইউজার আইডি দিতে হবে")
		return
	}

	assignedBy := actor.UserID
	if err := h.store.AssignUser(ctx, payload.UserID, areaID, actor.TenantID, &assignedBy); err != nil {
		writeAreaError(w, err)
		return
	}

	h.auditArea(ctx, actor, audit.EventTypeAreaAssign, areaID, "user assigned to area")
	httputil.WriteSuccess(w, "এলাকায় ইউজার যুক্ত হয়েছে", nil) //nolint:errcheck
}

// UnassignUser removes a user's area link.
func (h *Handlers) UnassignUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	areaID, okArea := pathID(r, "id")
	userID, okUser := pathID(r, "userID")
	if !okArea || !okUser {
		httputil.WriteValidationError(w, "id", "আইডি সঠিক নয়")
		return
	}

	assigned, err := h.store.IsAssigned(ctx, userID, areaID)
	if err != nil {
		writeAreaError(w, err)
		return
	}

	if err := h.store.UnassignUser(ctx, userID, areaID, actor.TenantID); err != nil {
		writeAreaError(w, err)
		return
	}

	// Removing a link that never existed is a quiet no-op.
	if assigned {
		h.auditArea(ctx, actor, audit.EventTypeAreaUnassign, areaID, "user removed from area")
	}
	httputil.WriteSuccess(w, "এলাকা থেকে ইউজার বাদ দেওয়া হয়েছে", nil) //nolint:errcheck
}

// SetPermissions upserts the fine-grained flags for a role on an area.
func (h *Handlers) SetPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	areaID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "id", "এলাকার আইডি সঠিক নয়")
		return
	}

	var payload struct {
		RoleID    int64 `json:"role_id"`
		CanView   bool  `json:"can_view"`
		CanCreate bool  `json:"can_create"`
		CanEdit   bool  `json:"can_edit"`
		CanDelete bool  `json:"can_delete"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.RoleID == 0 {
		httputil.WriteValidationError(w, "role_id", "রোল আইডি দিতে হবে")
		return
	}

	if _, err := h.store.Get(ctx, areaID, actor.TenantID); err != nil {
		writeAreaError(w, err)
		return
	}

	p := &RolePermissions{
		AreaID:    areaID,
		RoleID:    payload.RoleID,
		CanView:   payload.CanView,
		CanCreate: payload.CanCreate,
		CanEdit:   payload.CanEdit,
		CanDelete: payload.CanDelete,
	}
	if err := h.store.SetRolePermissions(ctx, p); err != nil {
		writeAreaError(w, err)
		return
	}
	httputil.WriteSuccess(w, "এলাকার অনুমতি আপডেট হয়েছে", p) //nolint:errcheck
}

// RemovePermissions drops a role's flags on an area, so the coarse permission
// gates govern again.
func (h *Handlers) RemovePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := rbac.ActorFromContext(ctx)

	areaID, okArea := pathID(r, "id")
	roleID, okRole := pathID(r, "roleID")
	if !okArea || !okRole {
		httputil.WriteValidationError(w, "id", "আইডি সঠিক নয়")
		return
	}

	if _, err := h.store.Get(ctx, areaID, actor.TenantID); err != nil {
		writeAreaError(w, err)
		return
	}

	if err := h.store.RemoveRolePermissions(ctx, areaID, roleID); err != nil {
		writeAreaError(w, err)
		return
	}
	httputil.WriteSuccess(w, "এলাকার অনুমতি মুছে ফেলা হয়েছে", nil) //nolint:errcheck
}

func (h *Handlers) auditArea(ctx context.Context, actor rbac.ActorContext, eventType audit.EventType, areaID int64, message string) {
	userID := actor.UserID
	tenantID := actor.TenantID
	err := audit.FromContext(ctx).LogMutation(ctx, eventType, &userID, &tenantID,
		audit.ResourceTypeArea, strconv.FormatInt(areaID, 10), message)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("could not record area audit event")
	}
}
