package exam

import (
	"context"
	"fmt"
	"strings"

	"github.com/pavelanni/questionbank/internal/model"
)

// Score bands as percentages of the exam total. The top band is closed.
var bucketLabels = [...]string{"0-59", "60-69", "70-79", "80-89", "90-100"}

// bucket returns the index into bucketLabels for score out of total.
// Integer arithmetic keeps the band edges exact.
func bucket(score, total int) int {
	s := score * 10
	switch {
	case s < total*6:
		return 0
	case s < total*7:
		return 1
	case s < total*8:
		return 2
	case s < total*9:
		return 3
	default:
		return 4
	}
}

func passed(score, total int) bool {
	return score*10 >= total*6
}

// Statistics computes the aggregate statistics of an exam from a snapshot of
// its assignments and submissions.
func (s *Service) Statistics(ctx context.Context, examID int64) (*model.ExamStatistics, error) {
	e, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListAssignments(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	subs, err := s.repo.ListSubmissions(ctx, examID, nil)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	names, err := s.usernames(ctx, subs)
	if err != nil {
		return nil, err
	}
	stats := BuildStatistics(*e, assignments, subs, names)
	return &stats, nil
}

type answerTally struct {
	correct, incorrect int
	options            map[string]int
}

// BuildStatistics aggregates the submissions of e. names maps student ids to
// usernames for the per-student results. Questions that no longer exist in the
// bank are left out of the per-question statistics.
func BuildStatistics(e model.Exam, assignments []model.ExamAssignment, subs []model.ExamSubmission, names map[int64]string) model.ExamStatistics {
	st := model.ExamStatistics{
		ExamID:             e.ID,
		ExamTitle:          e.Title,
		TotalScore:         e.TotalScore,
		StudentCount:       len(assignments),
		SubmittedCount:     len(subs),
		QuestionStatistics: []model.QuestionStatistics{},
		StudentResults:     make([]model.ExamResult, 0, len(subs)),
	}

	var counts [len(bucketLabels)]int
	if len(subs) > 0 {
		sum, pass := 0, 0
		st.HighestScore, st.LowestScore = subs[0].Score, subs[0].Score
		for _, sub := range subs {
			sum += sub.Score
			st.HighestScore = max(st.HighestScore, sub.Score)
			st.LowestScore = min(st.LowestScore, sub.Score)
			if passed(sub.Score, e.TotalScore) {
				pass++
			}
			counts[bucket(sub.Score, e.TotalScore)]++
		}
		st.AverageScore = float64(sum) / float64(len(subs))
		st.PassRate = float64(pass) / float64(len(subs))
	}
	st.ScoreDistribution = make([]model.ScoreBucket, len(bucketLabels))
	for i, label := range bucketLabels {
		st.ScoreDistribution[i] = model.ScoreBucket{Label: label, Count: counts[i]}
	}

	tallies := make(map[int64]*answerTally)
	for _, sub := range subs {
		for _, a := range sub.Answers {
			t := tallies[a.QuestionID]
			if t == nil {
				t = &answerTally{options: make(map[string]int)}
				tallies[a.QuestionID] = t
			}
			if a.IsCorrect {
				t.correct++
			} else {
				t.incorrect++
			}
			for _, opt := range strings.Split(a.Answer, ",") {
				if opt != "" {
					t.options[opt]++
				}
			}
		}
	}

	for _, eq := range e.Questions {
		q := eq.Question
		if q == nil {
			continue
		}
		qs := model.QuestionStatistics{
			QuestionID: eq.QuestionID,
			Order:      eq.Order,
			Type:       q.Type,
			Content:    q.Content,
		}
		t := tallies[eq.QuestionID]
		if t != nil {
			qs.CorrectCount = t.correct
			qs.IncorrectCount = t.incorrect
			if n := t.correct + t.incorrect; n > 0 {
				qs.CorrectRate = float64(t.correct) / float64(n)
			}
		}
		if q.Type == model.QuestionSingleChoice || q.Type == model.QuestionTrueFalse {
			qs.OptionCounts = map[string]int{}
			if t != nil {
				qs.OptionCounts = t.options
			}
		}
		st.QuestionStatistics = append(st.QuestionStatistics, qs)
	}

	for _, sub := range subs {
		st.StudentResults = append(st.StudentResults, newResult(e, sub, names[sub.StudentID]))
	}
	return st
}
