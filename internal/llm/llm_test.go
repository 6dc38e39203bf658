package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/questionbank/internal/model"
)

// fakeAPI answers chat completions with a canned reply and records the last request.
func fakeAPI(t *testing.T, reply string, last *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(last); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewWithoutKey(t *testing.T) {
	if c := New("", "", "deepseek-chat"); c != nil {
		t.Error("expected nil client without API key")
	}
}

func TestChat(t *testing.T) {
	var last openai.ChatCompletionRequest
	srv := fakeAPI(t, "  你好！ ", &last)
	c := New(srv.URL+"/v1", "sk-test", "deepseek-chat")

	tests := []struct {
		name      string
		model     string
		wantModel string
	}{
		{"default model", "", "deepseek-chat"},
		{"override", "deepseek-reasoner", "deepseek-reasoner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := c.Chat(context.Background(), "hello", tt.model)
			if err != nil {
				t.Fatalf("Chat: %v", err)
			}
			if reply != "你好！" {
				t.Errorf("expected trimmed reply, got %q", reply)
			}
			if last.Model != tt.wantModel {
				t.Errorf("expected model %q, got %q", tt.wantModel, last.Model)
			}
			if len(last.Messages) != 1 || last.Messages[0].Content != "hello" {
				t.Errorf("unexpected messages %+v", last.Messages)
			}
		})
	}

	if _, err := c.Chat(context.Background(), "   ", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestExplainQuestion(t *testing.T) {
	var last openai.ChatCompletionRequest
	srv := fakeAPI(t, "Because goroutines are started with go.", &last)
	c := New(srv.URL+"/v1", "sk-test", "deepseek-chat")

	got, err := c.ExplainQuestion(context.Background(), model.Question{
		Type:    model.QuestionSingleChoice,
		Content: "Which keyword starts a goroutine?",
		Options: []string{"defer", "go"},
		Answers: []string{"B"},
	})
	if err != nil {
		t.Fatalf("ExplainQuestion: %v", err)
	}
	if got != "Because goroutines are started with go." {
		t.Errorf("unexpected reply %q", got)
	}
	if len(last.Messages) != 2 || last.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("expected system and user messages, got %+v", last.Messages)
	}
	if !strings.Contains(last.Messages[0].Content, "Which keyword starts a goroutine?") {
		t.Error("system prompt should contain the question")
	}
}

func TestChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := New(srv.URL+"/v1", "sk-bad", "deepseek-chat")
	if _, err := c.Chat(context.Background(), "hi", ""); err == nil {
		t.Error("expected error from failing API")
	}
}
