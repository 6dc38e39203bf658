package handler

import (
	"errors"
	"log/slog"
	"net/http"

	appI18n "github.com/pavelanni/questionbank/internal/i18n"
	"github.com/pavelanni/questionbank/internal/llm"
	"github.com/pavelanni/questionbank/internal/model"
)

type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

type chatResponse struct {
	Reply string `json:"reply"`
	Model string `json:"model"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		respondError(w, http.StatusServiceUnavailable, appI18n.T(r.Context(), "AssistantUnavailable"))
		return
	}
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	modelName := req.Model
	if modelName == "" {
		modelName = h.llm.Model()
	}

	reply, err := h.llm.Chat(r.Context(), req.Message, modelName)
	if err != nil {
		if errors.Is(err, llm.ErrEmptyMessage) {
			h.fail(w, r, &model.ValidationError{Field: "message", Reason: "must not be empty"})
			return
		}
		slog.Error("assistant chat", "user", principal(r).Username, "error", err)
		respondError(w, http.StatusBadGateway, appI18n.T(r.Context(), "AssistantUnavailable"))
		return
	}
	respond(w, http.StatusOK, chatResponse{Reply: reply, Model: modelName}, "")
}
