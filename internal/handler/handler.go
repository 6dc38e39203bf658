// Package handler is the JSON HTTP API. It authenticates callers, enforces
// roles and maps the exam core's error kinds to responses.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/pavelanni/questionbank/internal/auth"
	"github.com/pavelanni/questionbank/internal/exam"
	appI18n "github.com/pavelanni/questionbank/internal/i18n"
	"github.com/pavelanni/questionbank/internal/llm"
	"github.com/pavelanni/questionbank/internal/model"
	"github.com/pavelanni/questionbank/internal/store"
)

const maxBodyBytes = 1 << 20

// Config holds transport settings.
type Config struct {
	// Lang is the fallback language for response messages.
	Lang string
	// AllowedOrigins enables CORS for the listed origins when not empty.
	AllowedOrigins []string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	exams  *exam.Service
	tokens *auth.Issuer
	llm    *llm.Client
	config Config
}

// New creates a new Handler. l may be nil, which disables the assistant endpoints.
func New(s *store.Store, svc *exam.Service, tokens *auth.Issuer, l *llm.Client, cfg Config) *Handler {
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &Handler{store: s, exams: svc, tokens: tokens, llm: l, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	if len(h.config.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware(h.config.Lang))

	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/auth/me", h.handleMe)

			r.Get("/questions", h.handleListQuestions)
			r.Get("/questions/{id}", h.handleGetQuestion)
			r.Get("/exams", h.handleListExams)
			r.Get("/exams/{id}", h.handleGetExam)
			r.Get("/exams/{id}/results", h.handleExamResults)
			r.Post("/assistant/chat", h.handleChat)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.RoleAdmin))
				r.Post("/auth/register", h.handleRegister)
				r.Get("/users/students", h.handleListStudents)
				r.Post("/questions", h.handleCreateQuestion)
				r.Post("/questions/import", h.handleImportQuestions)
				r.Put("/questions/{id}", h.handleUpdateQuestion)
				r.Delete("/questions/{id}", h.handleDeleteQuestion)
				r.Post("/questions/{id}/explain", h.handleExplainQuestion)
				r.Post("/exams", h.handleCreateExam)
				r.Delete("/exams/{id}", h.handleDeleteExam)
				r.Post("/exams/{id}/assign", h.handleAssignExam)
				r.Get("/exams/{id}/statistics", h.handleExamStatistics)
			})

			r.With(requireRole(model.RoleStudent)).Post("/exams/{id}/submit", h.handleSubmitExam)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// respond writes a successful envelope. message is an already localized string.
func respond(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

var errUnauthenticated = errors.New("unauthenticated")

// errorKinds maps error kinds to status codes and message IDs, checked in order.
var errorKinds = []struct {
	kind   error
	status int
	msgID  string
}{
	{errUnauthenticated, http.StatusUnauthorized, "Unauthenticated"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "Unauthenticated"},
	{model.ErrNotFound, http.StatusNotFound, "NotFound"},
	{model.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{model.ErrDeadlineExceeded, http.StatusForbidden, "DeadlineExceeded"},
	{model.ErrConflict, http.StatusConflict, "Conflict"},
	{model.ErrValidation, http.StatusBadRequest, "ValidationFailed"},
}

// fail writes the error response for err. overrides maps an error kind to a
// more specific message ID.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, overrides ...override) {
	for _, k := range errorKinds {
		if !errors.Is(err, k.kind) {
			continue
		}
		msgID := k.msgID
		for _, o := range overrides {
			if errors.Is(err, o.kind) {
				msgID = o.msgID
			}
		}
		var msg string
		if k.kind == model.ErrValidation {
			msg = appI18n.Td(r.Context(), msgID, map[string]any{"Detail": validationDetail(err)})
		} else {
			msg = appI18n.T(r.Context(), msgID)
		}
		slog.Debug("request failed", "path", r.URL.Path, "status", k.status, "error", err)
		respondError(w, k.status, msg)
		return
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "InternalError"))
}

type override struct {
	kind  error
	msgID string
}

func validationDetail(err error) string {
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	detail := ve.Field + ": " + ve.Reason
	if len(ve.IDs) > 0 {
		ids := make([]string, len(ve.IDs))
		for i, id := range ve.IDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		detail += " (" + strings.Join(ids, ", ") + ")"
	}
	return detail
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &model.ValidationError{Field: "id", Reason: fmt.Sprintf("invalid id %q", chi.URLParam(r, "id"))}
	}
	return id, nil
}

func principal(r *http.Request) model.Principal {
	p, _ := model.PrincipalFromContext(r.Context())
	return p
}

func isConflict(err error) bool { return errors.Is(err, model.ErrConflict) }
