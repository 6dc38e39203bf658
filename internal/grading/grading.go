// Package grading decides whether a student's raw answer matches a question's
// stored correct-answer set. There is no partial credit: a correct answer earns
// the full score, anything else earns zero.
package grading

import (
	"slices"
	"strings"

	"github.com/pavelanni/questionbank/internal/model"
)

// Result is the outcome of grading one answer.
type Result struct {
	Correct bool
	Score   int
}

// matcher reports whether answer matches the correct-answer set.
type matcher func(correct []string, answer string) bool

// Fill-in-blank and short answers use the same exact match as choices;
// there is no fuzzy or semantic matching.
var matchers = map[model.QuestionType]matcher{
	model.QuestionSingleChoice:   matchFirst,
	model.QuestionTrueFalse:      matchFirst,
	model.QuestionFillInBlank:    matchFirst,
	model.QuestionShortAnswer:    matchFirst,
	model.QuestionMultipleChoice: matchSet,
}

// Grade grades answer against correct for a question of type t worth maxScore points.
// Program questions and unknown types are never correct.
func Grade(t model.QuestionType, correct []string, answer string, maxScore int) Result {
	m, ok := matchers[t]
	if !ok || !m(correct, answer) {
		return Result{}
	}
	return Result{Correct: true, Score: maxScore}
}

// AutoGraded reports whether questions of type t can ever be graded correct.
func AutoGraded(t model.QuestionType) bool {
	_, ok := matchers[t]
	return ok
}

func matchFirst(correct []string, answer string) bool {
	if len(correct) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(correct[0]), strings.TrimSpace(answer))
}

func matchSet(correct []string, answer string) bool {
	want := optionSet(strings.Join(correct, ","))
	if len(want) == 0 {
		return false
	}
	return slices.Equal(want, optionSet(answer))
}

// optionSet splits a comma-separated answer into trimmed, lower-cased, sorted tokens.
func optionSet(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			out = append(out, tok)
		}
	}
	slices.Sort(out)
	return out
}
