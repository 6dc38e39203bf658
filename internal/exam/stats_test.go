package exam

import (
	"context"
	"testing"

	"github.com/pavelanni/questionbank/internal/model"
)

func TestBucket(t *testing.T) {
	tests := []struct {
		score, total int
		want         string
	}{
		{0, 100, "0-59"},
		{59, 100, "0-59"},
		{60, 100, "60-69"},
		{69, 100, "60-69"},
		{70, 100, "70-79"},
		{80, 100, "80-89"},
		{89, 100, "80-89"},
		{90, 100, "90-100"},
		{100, 100, "90-100"},
		{3, 5, "60-69"},
		{27, 30, "90-100"},
		{0, 0, "90-100"},
	}
	for _, tt := range tests {
		if got := bucketLabels[bucket(tt.score, tt.total)]; got != tt.want {
			t.Errorf("bucket(%d, %d) = %s, want %s", tt.score, tt.total, got, tt.want)
		}
	}
}

func TestBuildStatisticsEmpty(t *testing.T) {
	e := model.Exam{ID: 1, Title: "empty", TotalScore: 100}
	st := BuildStatistics(e, []model.ExamAssignment{{StudentID: 10}}, nil, nil)

	if st.StudentCount != 1 || st.SubmittedCount != 0 {
		t.Errorf("unexpected counts %+v", st)
	}
	if st.AverageScore != 0 || st.HighestScore != 0 || st.LowestScore != 0 || st.PassRate != 0 {
		t.Errorf("expected zero aggregates, got %+v", st)
	}
	if len(st.ScoreDistribution) != 5 {
		t.Fatalf("expected 5 buckets, got %d", len(st.ScoreDistribution))
	}
	for _, b := range st.ScoreDistribution {
		if b.Count != 0 {
			t.Errorf("expected empty bucket %s, got %d", b.Label, b.Count)
		}
	}
}

func TestBuildStatisticsScenario(t *testing.T) {
	single := &model.Question{ID: 1, Type: model.QuestionSingleChoice, Content: "capital?"}
	blank := &model.Question{ID: 2, Type: model.QuestionFillInBlank, Content: "keyword?"}
	e := model.Exam{
		ID:         7,
		Title:      "midterm",
		TotalScore: 100,
		Questions: []model.ExamQuestion{
			{QuestionID: 1, Order: 1, Score: 50, Question: single},
			{QuestionID: 2, Order: 2, Score: 50, Question: blank},
			{QuestionID: 3, Order: 3, Score: 0},
		},
	}
	subs := []model.ExamSubmission{
		{StudentID: 10, Score: 55, Answers: []model.QuestionAnswer{
			{QuestionID: 1, Answer: "北京", IsCorrect: true, Score: 50},
			{QuestionID: 2, Answer: "go", Score: 5},
		}},
		{StudentID: 20, Score: 65, Answers: []model.QuestionAnswer{
			{QuestionID: 1, Answer: "上海,", Score: 0},
			{QuestionID: 2, Answer: "defer", IsCorrect: true, Score: 50},
		}},
	}
	names := map[int64]string{10: "alice", 20: "bob"}
	st := BuildStatistics(e, []model.ExamAssignment{{StudentID: 10}, {StudentID: 20}, {StudentID: 30}}, subs, names)

	if st.StudentCount != 3 || st.SubmittedCount != 2 {
		t.Errorf("unexpected counts %d/%d", st.StudentCount, st.SubmittedCount)
	}
	if st.AverageScore != 60 || st.HighestScore != 65 || st.LowestScore != 55 {
		t.Errorf("unexpected aggregates avg=%v max=%d min=%d", st.AverageScore, st.HighestScore, st.LowestScore)
	}
	if st.PassRate != 0.5 {
		t.Errorf("expected pass rate 0.5, got %v", st.PassRate)
	}
	wantBuckets := map[string]int{"0-59": 1, "60-69": 1, "70-79": 0, "80-89": 0, "90-100": 0}
	for label, want := range wantBuckets {
		if got := bucketCount(st, label); got != want {
			t.Errorf("bucket %s: expected %d, got %d", label, want, got)
		}
	}

	if len(st.QuestionStatistics) != 2 {
		t.Fatalf("expected missing question to be omitted, got %d entries", len(st.QuestionStatistics))
	}
	q1 := st.QuestionStatistics[0]
	if q1.CorrectCount != 1 || q1.IncorrectCount != 1 || q1.CorrectRate != 0.5 {
		t.Errorf("unexpected question 1 stats %+v", q1)
	}
	if q1.OptionCounts["北京"] != 1 || q1.OptionCounts["上海"] != 1 || len(q1.OptionCounts) != 2 {
		t.Errorf("unexpected option counts %v", q1.OptionCounts)
	}
	if st.QuestionStatistics[1].OptionCounts != nil {
		t.Errorf("expected no option counts for fill in blank, got %v", st.QuestionStatistics[1].OptionCounts)
	}

	if len(st.StudentResults) != 2 || st.StudentResults[1].StudentName != "bob" || st.StudentResults[1].CorrectCount != 1 {
		t.Errorf("unexpected student results %+v", st.StudentResults)
	}
}

func TestStatisticsFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.createExam(t, nil)
	if _, err := f.svc.AssignExam(ctx, e.ID, []int64{f.alice, f.bob}); err != nil {
		t.Fatalf("AssignExam: %v", err)
	}
	if _, err := f.svc.SubmitExam(ctx, e.ID, f.alice, Submission{Answers: []AnswerInput{
		{QuestionID: f.single, Answer: "B"},
		{QuestionID: f.judge, Answer: "true"},
		{QuestionID: f.blank, Answer: "goroutine"},
	}}); err != nil {
		t.Fatalf("SubmitExam: %v", err)
	}

	st, err := f.svc.Statistics(ctx, e.ID)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if st.StudentCount != 2 || st.SubmittedCount != 1 {
		t.Errorf("unexpected counts %d/%d", st.StudentCount, st.SubmittedCount)
	}
	if st.HighestScore != 60 || st.PassRate != 1 || bucketCount(*st, "60-69") != 1 {
		t.Errorf("unexpected aggregates %+v", st)
	}
	if len(st.QuestionStatistics) != 4 || st.QuestionStatistics[3].CorrectRate != 0 {
		t.Errorf("unexpected question statistics %+v", st.QuestionStatistics)
	}
	if st.QuestionStatistics[1].OptionCounts["true"] != 1 {
		t.Errorf("expected true/false option tally, got %v", st.QuestionStatistics[1].OptionCounts)
	}

	if _, err := f.svc.Statistics(ctx, 999); err == nil {
		t.Error("expected error for missing exam")
	}
}

func bucketCount(st model.ExamStatistics, label string) int {
	for _, b := range st.ScoreDistribution {
		if b.Label == label {
			return b.Count
		}
	}
	return -1
}
