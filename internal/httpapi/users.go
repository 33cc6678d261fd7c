package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/waclerk/waclerk/internal/store"
)

// bcryptCost matches the credential hashing strength used at login.
const bcryptCost = 12

const minPasswordLen = 8

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UsersHandler serves owner credential CRUD. The one structural rule it
// owns: the system never loses its last admin.
type UsersHandler struct {
	users  store.UserStore
	lc     Lifecycle
	logger *slog.Logger
}

func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/internal/users", h.handleList)
	mux.HandleFunc("GET /api/internal/users/status", h.handleStatuses)
	mux.HandleFunc("POST /api/internal/users", h.handleCreate)
	mux.HandleFunc("GET /api/internal/users/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/internal/users/{id}", h.handleUpdate)
	mux.HandleFunc("PATCH /api/internal/users/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/internal/users/{id}", h.handleDelete)
	mux.HandleFunc("PATCH /api/internal/users/{id}/status", h.handleQuotaToggle)
}

func (h *UsersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context(), idsParam(r, "user_ids"))
	if err != nil {
		h.logger.Error("httpapi.users_list", "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type userStatus struct {
	UserID    string      `json:"user_id"`
	Role      string      `json:"role"`
	OwnedBots int         `json:"owned_bots"`
	Quota     store.Quota `json:"quota"`
}

func (h *UsersHandler) handleStatuses(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context(), idsParam(r, "user_ids"))
	if err != nil {
		h.logger.Error("httpapi.users_statuses", "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	out := make([]userStatus, 0, len(users))
	for _, u := range users {
		out = append(out, userStatus{
			UserID:    u.UserID,
			Role:      u.Role,
			OwnedBots: len(u.OwnedBots),
			Quota:     u.Quota,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *UsersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("httpapi.user_get", "user", r.PathValue("id"), "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UsersHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID             string            `json:"user_id"`
		Password           string            `json:"password"`
		Role               string            `json:"role"`
		MaxBots            int               `json:"max_bots"`
		MaxEnabledFeatures int               `json:"max_enabled_features"`
		Quota              store.Quota       `json:"quota"`
		Profile            store.UserProfile `json:"profile"`
	}
	if err := readJSON(w, r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !userIDPattern.MatchString(body.UserID) {
		writeErr(w, http.StatusBadRequest, "user_id must be 1-64 chars of [A-Za-z0-9_-]")
		return
	}
	if len(body.Password) < minPasswordLen {
		writeErr(w, http.StatusBadRequest, "password too short")
		return
	}
	if body.Role == "" {
		body.Role = store.RoleUser
	}
	if body.Role != store.RoleAdmin && body.Role != store.RoleUser {
		writeErr(w, http.StatusBadRequest, "role must be admin or user")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcryptCost)
	if err != nil {
		h.logger.Error("httpapi.user_hash", "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	now := time.Now().UTC()
	if body.Quota.LastReset.IsZero() {
		body.Quota.LastReset = now
	}
	u := store.User{
		UserID:             body.UserID,
		PasswordHash:       string(hash),
		Role:               body.Role,
		OwnedBots:          []string{},
		MaxBots:            body.MaxBots,
		MaxEnabledFeatures: body.MaxEnabledFeatures,
		Quota:              body.Quota,
		Profile:            body.Profile,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeErr(w, http.StatusConflict, "user already exists")
			return
		}
		h.logger.Error("httpapi.user_create", "user", body.UserID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// handleUpdate serves PUT and PATCH alike: only the supplied fields change.
func (h *UsersHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var body struct {
		Password           *string            `json:"password"`
		Role               *string            `json:"role"`
		MaxBots            *int               `json:"max_bots"`
		MaxEnabledFeatures *int               `json:"max_enabled_features"`
		Quota              *store.Quota       `json:"quota"`
		Profile            *store.UserProfile `json:"profile"`
	}
	if err := readJSON(w, r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	current, err := h.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("httpapi.user_update_get", "user", userID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	fields := map[string]any{}
	if body.Password != nil {
		if len(*body.Password) < minPasswordLen {
			writeErr(w, http.StatusBadRequest, "password too short")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*body.Password), bcryptCost)
		if err != nil {
			h.logger.Error("httpapi.user_hash", "error", err)
			writeErr(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		fields["password_hash"] = string(hash)
	}
	if body.Role != nil {
		if *body.Role != store.RoleAdmin && *body.Role != store.RoleUser {
			writeErr(w, http.StatusBadRequest, "role must be admin or user")
			return
		}
		if current.Role == store.RoleAdmin && *body.Role != store.RoleAdmin {
			if err := h.guardLastAdmin(r, w, "cannot demote the last admin"); err != nil {
				return
			}
		}
		fields["role"] = *body.Role
	}
	if body.MaxBots != nil {
		fields["max_bots"] = *body.MaxBots
	}
	if body.MaxEnabledFeatures != nil {
		fields["max_enabled_features"] = *body.MaxEnabledFeatures
	}
	if body.Quota != nil {
		fields["quota"] = *body.Quota
	}
	if body.Profile != nil {
		fields["profile"] = *body.Profile
	}
	if len(fields) == 0 {
		writeErr(w, http.StatusBadRequest, "no fields to update")
		return
	}

	if err := h.users.Update(ctx, userID, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("httpapi.user_update", "user", userID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	updated, err := h.users.Get(ctx, userID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *UsersHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	ctx := r.Context()
	u, err := h.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("httpapi.user_delete_get", "user", userID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if u.Role == store.RoleAdmin {
		if err := h.guardLastAdmin(r, w, "cannot delete the last admin"); err != nil {
			return
		}
	}

	h.lc.StopOwnerBots(ctx, userID)
	if err := h.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("httpapi.user_delete", "user", userID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleQuotaToggle flips quota.enabled and stops or starts the owner's bots
// accordingly.
func (h *UsersHandler) handleQuotaToggle(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := readJSON(w, r, &body); err != nil || body.Enabled == nil {
		writeErr(w, http.StatusBadRequest, "body must carry enabled")
		return
	}

	ctx := r.Context()
	if err := h.users.SetQuotaEnabled(ctx, userID, *body.Enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("httpapi.user_quota_toggle", "user", userID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to update quota")
		return
	}

	var moved int
	if *body.Enabled {
		moved = h.lc.StartOwnerBots(ctx, userID)
	} else {
		moved = h.lc.StopOwnerBots(ctx, userID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID, "enabled": *body.Enabled, "bots_affected": moved,
	})
}

// guardLastAdmin writes a 409 and returns an error when at most one admin
// exists.
func (h *UsersHandler) guardLastAdmin(r *http.Request, w http.ResponseWriter, msg string) error {
	n, err := h.users.CountAdmins(r.Context())
	if err != nil {
		h.logger.Error("httpapi.count_admins", "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to count admins")
		return err
	}
	if n <= 1 {
		writeErr(w, http.StatusConflict, msg)
		return errors.New(msg)
	}
	return nil
}
