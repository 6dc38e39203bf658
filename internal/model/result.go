package model

import "time"

// ExamResult is one student's scored submission, as returned after submitting and
// when listing results.
type ExamResult struct {
	ExamID         int64          `json:"exam_id"`
	StudentID      int64          `json:"student_id"`
	StudentName    string         `json:"student_name,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	CompletionTime int            `json:"completion_time"`
	TotalScore     int            `json:"total_score"`
	Score          int            `json:"score"`
	CorrectCount   int            `json:"correct_count"`
	QuestionCount  int            `json:"question_count"`
	SkippedCount   int            `json:"skipped_count"`
	// ReviewCount is the number of answers to question types that are never
	// auto-graded, such as Program, and need a manual review.
	ReviewCount    int            `json:"review_count"`
	Answers        []AnswerDetail `json:"answers"`
}

// AnswerDetail is the per-question part of an ExamResult.
type AnswerDetail struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
	IsCorrect  bool   `json:"is_correct"`
	Score      int    `json:"score"`
}

// ScoreBucket counts submissions in one score band. Label is the band in percent
// of the exam total, e.g. "60-69".
type ScoreBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// QuestionStatistics summarizes the answers given to one exam question.
type QuestionStatistics struct {
	QuestionID     int64          `json:"question_id"`
	Order          int            `json:"order"`
	Type           QuestionType   `json:"type"`
	Content        string         `json:"content"`
	CorrectCount   int            `json:"correct_count"`
	IncorrectCount int            `json:"incorrect_count"`
	CorrectRate    float64        `json:"correct_rate"`
	OptionCounts   map[string]int `json:"option_counts,omitempty"`
}

// ExamStatistics is the aggregate view of all submissions of one exam.
type ExamStatistics struct {
	ExamID             int64                `json:"exam_id"`
	ExamTitle          string               `json:"exam_title"`
	TotalScore         int                  `json:"total_score"`
	StudentCount       int                  `json:"student_count"`
	SubmittedCount     int                  `json:"submitted_count"`
	AverageScore       float64              `json:"average_score"`
	HighestScore       int                  `json:"highest_score"`
	LowestScore        int                  `json:"lowest_score"`
	PassRate           float64              `json:"pass_rate"`
	ScoreDistribution  []ScoreBucket        `json:"score_distribution"`
	QuestionStatistics []QuestionStatistics `json:"question_statistics"`
	StudentResults     []ExamResult         `json:"student_results"`
}
