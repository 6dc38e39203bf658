package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	appI18n "github.com/pavelanni/questionbank/internal/i18n"
	"github.com/pavelanni/questionbank/internal/model"
)

var questionNotFound = override{model.ErrNotFound, "QuestionNotFound"}

func validateQuestion(q model.Question) error {
	if !q.Type.Valid() {
		return &model.ValidationError{Field: "type", Reason: "unknown question type " + strconv.Itoa(int(q.Type))}
	}
	if strings.TrimSpace(q.Content) == "" {
		return &model.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if q.Difficulty < 0 {
		return &model.ValidationError{Field: "difficulty", Reason: "must not be negative"}
	}
	return nil
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	f := model.QuestionFilter{Keyword: strings.TrimSpace(r.URL.Query().Get("keyword"))}
	if v := r.URL.Query().Get("type"); v != "" {
		t, err := parseQuestionType(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		f.Type = t
	}

	questions, err := h.store.ListQuestions(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	if !principal(r).IsAdmin() {
		for i := range questions {
			questions[i] = questions[i].Redacted()
		}
	}
	respond(w, http.StatusOK, questions, "")
}

// parseQuestionType accepts either the numeric value or the type name.
func parseQuestionType(v string) (model.QuestionType, error) {
	if n, err := strconv.Atoi(v); err == nil {
		t := model.QuestionType(n)
		if !t.Valid() {
			return 0, &model.ValidationError{Field: "type", Reason: "unknown question type " + v}
		}
		return t, nil
	}
	t, err := model.ParseQuestionType(v)
	if err != nil {
		return 0, &model.ValidationError{Field: "type", Reason: err.Error()}
	}
	return t, nil
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.store.GetQuestion(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q == nil {
		h.fail(w, r, model.ErrNotFound, questionNotFound)
		return
	}
	if !principal(r).IsAdmin() {
		*q = q.Redacted()
	}
	respond(w, http.StatusOK, q, "")
}

func (h *Handler) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var q model.Question
	if err := decode(w, r, &q); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateQuestion(q); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.store.InsertQuestion(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.store.GetQuestion(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, created, appI18n.T(r.Context(), "QuestionSaved"))
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var q model.Question
	if err := decode(w, r, &q); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateQuestion(q); err != nil {
		h.fail(w, r, err)
		return
	}
	q.ID = id
	if err := h.store.UpdateQuestion(r.Context(), q); err != nil {
		h.fail(w, r, err, questionNotFound)
		return
	}
	updated, err := h.store.GetQuestion(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, updated, appI18n.T(r.Context(), "QuestionSaved"))
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteQuestion(r.Context(), id); err != nil {
		h.fail(w, r, err, questionNotFound, override{model.ErrConflict, "QuestionInUse"})
		return
	}
	respond(w, http.StatusOK, nil, appI18n.T(r.Context(), "QuestionDeleted"))
}

// handleImportQuestions loads a JSON question file uploaded as the multipart field "file".
func (h *Handler) handleImportQuestions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, &model.ValidationError{Field: "file", Reason: err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, &model.ValidationError{Field: "file", Reason: err.Error()})
		return
	}
	res, err := h.store.ImportQuestionFile(r.Context(), header.Filename, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("question file uploaded", "file", header.Filename, "imported", res.Imported,
		"by", principal(r).Username)
	respond(w, http.StatusOK, res, "")
}

// handleExplainQuestion asks the assistant for an explanation of a question.
// With ?save=true the explanation replaces the question's analysis.
func (h *Handler) handleExplainQuestion(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		respondError(w, http.StatusServiceUnavailable, appI18n.T(r.Context(), "AssistantUnavailable"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.store.GetQuestion(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q == nil {
		h.fail(w, r, model.ErrNotFound, questionNotFound)
		return
	}

	explanation, err := h.llm.ExplainQuestion(r.Context(), *q)
	if err != nil {
		slog.Error("explain question", "question_id", id, "error", err)
		respondError(w, http.StatusBadGateway, appI18n.T(r.Context(), "AssistantUnavailable"))
		return
	}
	if save, _ := strconv.ParseBool(r.URL.Query().Get("save")); save {
		q.Analysis = explanation
		if err := h.store.UpdateQuestion(r.Context(), *q); err != nil {
			h.fail(w, r, err, questionNotFound)
			return
		}
	}
	respond(w, http.StatusOK, map[string]any{"question_id": id, "explanation": explanation}, "")
}
