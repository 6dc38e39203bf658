// Package prompts builds the prompts sent to the assistant model.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/questionbank/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

// MaxMessageRunes bounds user text forwarded to the model.
const MaxMessageRunes = 4000

var systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)

var (
	loadOnce sync.Once
	loadErr  error
	explain  *template.Template
)

var funcs = template.FuncMap{
	"join":   strings.Join,
	"letter": func(i int) string { return string(rune('A' + i)) },
}

func load() error {
	loadOnce.Do(func() {
		explain, loadErr = template.New("explain.txt").Funcs(funcs).ParseFS(templateFS, "templates/explain.txt")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse prompt templates: %w", loadErr)
		}
	})
	return loadErr
}

// ExplainData holds template data for question explanations.
type ExplainData struct {
	Type            string
	Content         string
	Options         []string
	Answers         []string
	ReferenceAnswer string
}

// Explain builds the prompt asking the model to explain a question and its answer.
func Explain(q model.Question) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	data := ExplainData{
		Type:            q.Type.String(),
		Content:         Sanitize(q.Content),
		Options:         q.Options,
		Answers:         q.Answers,
		ReferenceAnswer: q.ReferenceAnswer,
	}
	var buf bytes.Buffer
	if err := explain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Sanitize strips instruction markup from user text and truncates it to
// MaxMessageRunes.
func Sanitize(s string) string {
	s = systemInstructionsRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxMessageRunes {
		runes := []rune(s)
		s = string(runes[:MaxMessageRunes]) + "\n\n[truncated]"
	}
	return s
}
