package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/questionbank/internal/i18n"
	"github.com/pavelanni/questionbank/internal/model"
)

// requireAuth is middleware that checks for a valid bearer token.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			h.fail(w, r, errUnauthenticated)
			return
		}
		p, err := h.tokens.Parse(token)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ctx := model.ContextWithPrincipal(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the caller has one of the allowed roles.
func requireRole(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := model.PrincipalFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "Unauthenticated"))
				return
			}
			for _, role := range allowed {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, http.StatusForbidden, appI18n.T(r.Context(), "Forbidden"))
		})
	}
}

type credentials struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	Role     model.Role `json:"role,omitempty"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	invalid := func() {
		respondError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "InvalidCredentials"))
	}
	if req.Username == "" || req.Password == "" {
		invalid()
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		invalid()
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		invalid()
		return
	}

	token, exp, err := h.tokens.Issue(*user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("user logged in", "user_id", user.ID, "username", user.Username, "role", user.Role)
	respond(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: *user},
		appI18n.T(r.Context(), "LoginSucceeded"))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.fail(w, r, &model.ValidationError{Field: "username", Reason: "username and password are required"})
		return
	}
	if req.Role == "" {
		req.Role = model.RoleStudent
	}
	if !req.Role.Valid() {
		h.fail(w, r, &model.ValidationError{Field: "role", Reason: "must be Student or Admin"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user := model.User{Username: req.Username, PasswordHash: string(hash), Role: req.Role}
	user.ID, err = h.store.CreateUser(r.Context(), user)
	if err != nil {
		if isConflict(err) {
			respondError(w, http.StatusConflict,
				appI18n.Td(r.Context(), "UsernameTaken", map[string]any{"Username": req.Username}))
			return
		}
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, user, appI18n.T(r.Context(), "Registered"))
}

// handleMe returns the caller's account. A valid token whose user no longer
// exists is treated as unauthenticated.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUserByID(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		h.fail(w, r, errUnauthenticated)
		return
	}
	respond(w, http.StatusOK, user, "")
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context(), model.RoleStudent)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	respond(w, http.StatusOK, users, "")
}
