// Package exam implements the exam lifecycle: creating exams, assigning them to
// students, grading submissions and aggregating statistics.
//
// Role checks belong to the caller. The service re-validates assignment
// ownership itself and reports failures as the error kinds in package model.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/questionbank/internal/grading"
	"github.com/pavelanni/questionbank/internal/model"
)

// Repository persists exams, assignments and submissions.
type Repository interface {
	CreateExam(ctx context.Context, e model.Exam) (int64, error)
	GetExam(ctx context.Context, id int64) (*model.Exam, error)
	ListExams(ctx context.Context) ([]model.Exam, error)
	ListExamsForStudent(ctx context.Context, studentID int64) ([]model.Exam, error)
	GetAssignment(ctx context.Context, examID, studentID int64) (*model.ExamAssignment, error)
	IsAssigned(ctx context.Context, examID, studentID int64) (bool, error)
	ListAssignments(ctx context.Context, examID int64) ([]model.ExamAssignment, error)
	Assign(ctx context.Context, examID int64, studentIDs []int64, now time.Time) (int, error)
	RecordSubmission(ctx context.Context, rec model.SubmissionRecord) (int64, error)
	ListSubmissions(ctx context.Context, examID int64, studentID *int64) ([]model.ExamSubmission, error)
	GetSubmissionAnswers(ctx context.Context, submissionID int64) ([]model.QuestionAnswer, error)
}

// QuestionStore is the read-only view of the question bank.
type QuestionStore interface {
	GetQuestion(ctx context.Context, id int64) (*model.Question, error)
}

// UserStore resolves student identities.
type UserStore interface {
	// StudentIDs returns the subset of ids that are registered students.
	StudentIDs(ctx context.Context, ids []int64) ([]int64, error)
	// Usernames maps existing user ids to their usernames.
	Usernames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Recorder observes submissions and graded answers.
type Recorder interface {
	Submission(outcome string)
	GradedAnswer(t model.QuestionType, correct bool)
}

// Submission outcomes passed to Recorder.
const (
	OutcomeAccepted = "accepted"
	OutcomeConflict = "conflict"
	OutcomeLate     = "late"
	OutcomeRejected = "rejected"
)

// SkipPolicy decides what happens to a submitted answer that cannot be graded:
// its question is not part of the exam, no longer exists in the bank, or was
// already answered earlier in the same submission.
type SkipPolicy int

const (
	// SkipAndContinue drops such answers, grades the rest and reports the
	// number dropped in ExamResult.SkippedCount.
	SkipAndContinue SkipPolicy = iota
	// RejectSubmission fails the whole submission with a ValidationError.
	RejectSubmission
)

type nopRecorder struct{}

func (nopRecorder) Submission(string)                    {}
func (nopRecorder) GradedAnswer(model.QuestionType, bool) {}

// Service orchestrates the exam lifecycle.
type Service struct {
	repo      Repository
	questions QuestionStore
	users     UserStore
	now       func() time.Time
	recorder  Recorder
	skip      SkipPolicy
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for assignment and submission times
// and deadline checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRecorder installs a Recorder for submission and grading events.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithSkipPolicy sets how ungradable answers are handled. The default is SkipAndContinue.
func WithSkipPolicy(p SkipPolicy) Option {
	return func(s *Service) { s.skip = p }
}

// New returns a Service backed by the given stores.
func New(repo Repository, questions QuestionStore, users UserStore, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		questions: questions,
		users:     users,
		now:       time.Now,
		recorder:  nopRecorder{},
		skip:      SkipAndContinue,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExamInput is the data needed to create an exam.
type ExamInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Deadline    *time.Time      `json:"deadline"`
	Questions   []QuestionInput `json:"questions"`
}

// QuestionInput places a bank question in a new exam.
type QuestionInput struct {
	QuestionID int64 `json:"question_id"`
	Order      int   `json:"order"`
	Score      int   `json:"score"`
}

// Submission is a student's answer sheet.
type Submission struct {
	Answers []AnswerInput `json:"answers"`
	// CompletionTime is the time the student spent, as reported by the client.
	CompletionTime int `json:"completion_time"`
}

// AnswerInput is the raw answer to one question. Multiple choices are comma-separated.
type AnswerInput struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
}

// AssignOutcome reports the effect of an assignment request.
type AssignOutcome struct {
	ExamID    int64            `json:"exam_id"`
	Requested int              `json:"requested"`
	Created   int              `json:"created"`
	Status    model.ExamStatus `json:"status"`
}

// CreateExam validates the input and stores a new draft exam. The total score is
// the sum of the question scores.
func (s *Service) CreateExam(ctx context.Context, in ExamInput) (*model.Exam, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, &model.ValidationError{Field: "title", Reason: "must not be empty"}
	}

	e := model.Exam{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   s.now().UTC(),
		Deadline:    in.Deadline,
		Status:      model.ExamDraft,
	}
	positions := make(map[int]bool, len(in.Questions))
	seen := make(map[int64]bool, len(in.Questions))
	var unknown []int64
	for _, qi := range in.Questions {
		if qi.Score < 0 {
			return nil, &model.ValidationError{Field: "questions", Reason: "score must not be negative", IDs: []int64{qi.QuestionID}}
		}
		if positions[qi.Order] {
			return nil, &model.ValidationError{Field: "questions", Reason: fmt.Sprintf("duplicate order %d", qi.Order)}
		}
		if seen[qi.QuestionID] {
			return nil, &model.ValidationError{Field: "questions", Reason: "question listed twice", IDs: []int64{qi.QuestionID}}
		}
		positions[qi.Order] = true
		seen[qi.QuestionID] = true

		q, err := s.questions.GetQuestion(ctx, qi.QuestionID)
		if err != nil {
			return nil, fmt.Errorf("get question %d: %w", qi.QuestionID, err)
		}
		if q == nil {
			unknown = append(unknown, qi.QuestionID)
			continue
		}
		e.TotalScore += qi.Score
		e.Questions = append(e.Questions, model.ExamQuestion{
			QuestionID: qi.QuestionID,
			Order:      qi.Order,
			Score:      qi.Score,
			Question:   q,
		})
	}
	if len(unknown) > 0 {
		return nil, &model.ValidationError{Field: "questions", Reason: "unknown questions", IDs: unknown}
	}

	id, err := s.repo.CreateExam(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	e.ID = id
	slices.SortFunc(e.Questions, func(a, b model.ExamQuestion) int { return a.Order - b.Order })
	for i := range e.Questions {
		e.Questions[i].ExamID = id
	}
	slog.Info("created exam", "exam_id", id, "title", e.Title, "questions", len(e.Questions), "total_score", e.TotalScore)
	return &e, nil
}

// GetExam returns the exam with its questions, or model.ErrNotFound.
func (s *Service) GetExam(ctx context.Context, id int64) (*model.Exam, error) {
	e, err := s.repo.GetExam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get exam %d: %w", id, err)
	}
	if e == nil {
		return nil, fmt.Errorf("exam %d: %w", id, model.ErrNotFound)
	}
	return e, nil
}

// ListExams returns all exams, newest first.
func (s *Service) ListExams(ctx context.Context) ([]model.Exam, error) {
	return s.repo.ListExams(ctx)
}

// ListExamsForStudent returns the exams assigned to a student, newest first.
func (s *Service) ListExamsForStudent(ctx context.Context, studentID int64) ([]model.Exam, error) {
	return s.repo.ListExamsForStudent(ctx, studentID)
}

// IsAssigned reports whether the exam was assigned to the student.
func (s *Service) IsAssigned(ctx context.Context, examID, studentID int64) (bool, error) {
	return s.repo.IsAssigned(ctx, examID, studentID)
}

// CanViewExam reports whether p may read the exam: admins always, students only
// when the exam is assigned to them.
func (s *Service) CanViewExam(ctx context.Context, p model.Principal, examID int64) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	return s.repo.IsAssigned(ctx, examID, p.UserID)
}

// AssignExam makes the exam available to the given students and publishes it if
// it is still a draft. Either every id is a registered student and all missing
// assignments are created, or nothing changes and a ValidationError lists the
// rejected ids. Repeating an assignment is a no-op.
func (s *Service) AssignExam(ctx context.Context, examID int64, studentIDs []int64) (AssignOutcome, error) {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return AssignOutcome{}, err
	}

	ids := dedupe(studentIDs)
	if len(ids) == 0 {
		return AssignOutcome{}, &model.ValidationError{Field: "student_ids", Reason: "no students given"}
	}
	found, err := s.users.StudentIDs(ctx, ids)
	if err != nil {
		return AssignOutcome{}, fmt.Errorf("look up students: %w", err)
	}
	if rejected := missing(ids, found); len(rejected) > 0 {
		return AssignOutcome{}, &model.ValidationError{Field: "student_ids", Reason: "not registered students", IDs: rejected}
	}

	created, err := s.repo.Assign(ctx, examID, ids, s.now().UTC())
	if err != nil {
		return AssignOutcome{}, fmt.Errorf("assign exam %d: %w", examID, err)
	}
	slog.Info("assigned exam", "exam_id", examID, "students", len(ids), "created", created)
	return AssignOutcome{
		ExamID:    examID,
		Requested: len(ids),
		Created:   created,
		Status:    model.ExamPublished,
	}, nil
}

// SubmitExam grades and records a student's one-time submission.
//
// The exam must exist (ErrNotFound), be assigned to the student (ErrForbidden),
// not yet be submitted (ErrConflict) and be before its deadline
// (ErrDeadlineExceeded). Answers that cannot be graded are handled according to
// the service's SkipPolicy.
func (s *Service) SubmitExam(ctx context.Context, examID, studentID int64, sub Submission) (*model.ExamResult, error) {
	e, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.GetAssignment(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("exam %d is not assigned to student %d: %w", examID, studentID, model.ErrForbidden)
	}
	if a.IsSubmitted {
		s.recorder.Submission(OutcomeConflict)
		return nil, fmt.Errorf("exam %d already submitted by student %d: %w", examID, studentID, model.ErrConflict)
	}
	now := s.now().UTC()
	if e.DeadlinePassed(now) {
		s.recorder.Submission(OutcomeLate)
		return nil, fmt.Errorf("exam %d closed at %s: %w", examID, e.Deadline.Format(time.RFC3339), model.ErrDeadlineExceeded)
	}

	answers, skipped := s.grade(*e, sub.Answers)
	if len(skipped) > 0 {
		if s.skip == RejectSubmission {
			s.recorder.Submission(OutcomeRejected)
			return nil, &model.ValidationError{Field: "answers", Reason: "answers for questions outside the exam", IDs: skipped}
		}
		slog.Warn("skipped ungradable answers", "exam_id", examID, "student_id", studentID, "question_ids", skipped)
	}

	id, err := s.repo.RecordSubmission(ctx, model.SubmissionRecord{
		ExamID:         examID,
		StudentID:      studentID,
		SubmittedAt:    now,
		CompletionTime: sub.CompletionTime,
		Answers:        answers,
	})
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			s.recorder.Submission(OutcomeConflict)
		}
		return nil, fmt.Errorf("record submission: %w", err)
	}
	for _, qa := range answers {
		if eq, ok := e.Question(qa.QuestionID); ok {
			s.recorder.GradedAnswer(eq.Question.Type, qa.IsCorrect)
		}
	}
	s.recorder.Submission(OutcomeAccepted)

	stored, err := s.repo.GetSubmissionAnswers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload answers: %w", err)
	}
	names, err := s.users.Usernames(ctx, []int64{studentID})
	if err != nil {
		return nil, fmt.Errorf("look up student name: %w", err)
	}
	res := newResult(*e, model.ExamSubmission{
		ID:             id,
		ExamID:         examID,
		StudentID:      studentID,
		SubmittedAt:    now,
		CompletionTime: sub.CompletionTime,
		Answers:        stored,
	}, names[studentID])
	res.SkippedCount = len(skipped)

	slog.Info("exam submitted", "exam_id", examID, "student_id", studentID,
		"score", res.Score, "total", res.TotalScore, "correct", res.CorrectCount,
		"skipped", res.SkippedCount, "needs_review", res.ReviewCount)
	return &res, nil
}

// grade grades each answer against its exam question. It returns the graded
// answers and the question ids of the answers it could not grade.
func (s *Service) grade(e model.Exam, in []AnswerInput) ([]model.QuestionAnswer, []int64) {
	var (
		graded  []model.QuestionAnswer
		skipped []int64
	)
	seen := make(map[int64]bool, len(in))
	for _, ans := range in {
		eq, ok := e.Question(ans.QuestionID)
		if !ok || eq.Question == nil || seen[ans.QuestionID] {
			skipped = append(skipped, ans.QuestionID)
			continue
		}
		seen[ans.QuestionID] = true
		r := grading.Grade(eq.Question.Type, eq.Question.Answers, ans.Answer, eq.Score)
		graded = append(graded, model.QuestionAnswer{
			QuestionID: ans.QuestionID,
			Answer:     ans.Answer,
			IsCorrect:  r.Correct,
			Score:      r.Score,
		})
	}
	return graded, skipped
}

// Results returns the scored submissions of an exam, optionally for one student.
func (s *Service) Results(ctx context.Context, examID int64, studentID *int64) ([]model.ExamResult, error) {
	e, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	subs, err := s.repo.ListSubmissions(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	names, err := s.usernames(ctx, subs)
	if err != nil {
		return nil, err
	}
	results := make([]model.ExamResult, 0, len(subs))
	for _, sub := range subs {
		results = append(results, newResult(*e, sub, names[sub.StudentID]))
	}
	return results, nil
}

func (s *Service) usernames(ctx context.Context, subs []model.ExamSubmission) (map[int64]string, error) {
	ids := make([]int64, len(subs))
	for i, sub := range subs {
		ids[i] = sub.StudentID
	}
	names, err := s.users.Usernames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("look up student names: %w", err)
	}
	return names, nil
}

// newResult builds the result view of a submission from its persisted answers.
func newResult(e model.Exam, sub model.ExamSubmission, name string) model.ExamResult {
	res := model.ExamResult{
		ExamID:         e.ID,
		StudentID:      sub.StudentID,
		StudentName:    name,
		SubmittedAt:    sub.SubmittedAt,
		CompletionTime: sub.CompletionTime,
		TotalScore:     e.TotalScore,
		QuestionCount:  len(e.Questions),
		Answers:        make([]model.AnswerDetail, 0, len(sub.Answers)),
	}
	for _, a := range sub.Answers {
		res.Score += a.Score
		if a.IsCorrect {
			res.CorrectCount++
		}
		if eq, ok := e.Question(a.QuestionID); ok && eq.Question != nil && !grading.AutoGraded(eq.Question.Type) {
			res.ReviewCount++
		}
		res.Answers = append(res.Answers, model.AnswerDetail{
			QuestionID: a.QuestionID,
			Answer:     a.Answer,
			IsCorrect:  a.IsCorrect,
			Score:      a.Score,
		})
	}
	return res
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// missing returns the ids not present in found, in request order.
func missing(ids, found []int64) []int64 {
	ok := make(map[int64]bool, len(found))
	for _, id := range found {
		ok[id] = true
	}
	var out []int64
	for _, id := range ids {
		if !ok[id] {
			out = append(out, id)
		}
	}
	return out
}
