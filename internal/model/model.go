package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role represents a user's access level. The values are the role names carried in tokens.
type Role string

const (
	// RoleStudent is a student user role.
	RoleStudent Role = "Student"
	// RoleAdmin is an admin user role.
	RoleAdmin Role = "Admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is the authenticated caller supplied by the transport boundary.
type Principal struct {
	UserID   int64
	Username string
	Role     Role
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type principalCtxKey struct{}

// ContextWithPrincipal stores the authenticated principal in the request context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}

// QuestionType is the canonical question type enum. The integer values are
// persisted and sent over the wire, so they must never be reordered:
//
//	1 SingleChoice
//	2 MultipleChoice (reserved, graded but not offered by the editor)
//	3 TrueFalse
//	4 FillInBlank
//	5 ShortAnswer
//	6 Program
type QuestionType int

const (
	QuestionSingleChoice   QuestionType = 1
	QuestionMultipleChoice QuestionType = 2
	QuestionTrueFalse      QuestionType = 3
	QuestionFillInBlank    QuestionType = 4
	QuestionShortAnswer    QuestionType = 5
	QuestionProgram        QuestionType = 6
)

var questionTypeNames = map[QuestionType]string{
	QuestionSingleChoice:   "SingleChoice",
	QuestionMultipleChoice: "MultipleChoice",
	QuestionTrueFalse:      "TrueFalse",
	QuestionFillInBlank:    "FillInBlank",
	QuestionShortAnswer:    "ShortAnswer",
	QuestionProgram:        "Program",
}

func (t QuestionType) String() string {
	if name, ok := questionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("QuestionType(%d)", int(t))
}

// Valid reports whether t is one of the declared question types.
func (t QuestionType) Valid() bool {
	_, ok := questionTypeNames[t]
	return ok
}

// ParseQuestionType maps a type name (case-insensitive) to its QuestionType.
func ParseQuestionType(name string) (QuestionType, error) {
	for t, n := range questionTypeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown question type %q", name)
}

// Question is a question bank record.
type Question struct {
	ID              int64        `json:"id"`
	Type            QuestionType `json:"type"`
	Content         string       `json:"content"`
	Options         []string     `json:"options,omitempty"`
	Answers         []string     `json:"answers,omitempty"`
	Analysis        string       `json:"analysis,omitempty"`
	ReferenceAnswer string       `json:"reference_answer,omitempty"`
	Difficulty      int          `json:"difficulty"`
	Tags            []string     `json:"tags,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Redacted returns a copy without the correct answers, analysis and reference answer,
// suitable for students taking an exam.
func (q Question) Redacted() Question {
	q.Answers = nil
	q.Analysis = ""
	q.ReferenceAnswer = ""
	return q
}

// QuestionFilter narrows question listings. Zero values mean no filtering.
type QuestionFilter struct {
	Type    QuestionType
	Keyword string
}

// ExamStatus is the lifecycle status of an exam.
type ExamStatus int

const (
	ExamDraft     ExamStatus = 0
	ExamPublished ExamStatus = 1
	// ExamClosed exists in the persisted encoding but no operation sets it.
	ExamClosed ExamStatus = 2
)

func (s ExamStatus) String() string {
	switch s {
	case ExamDraft:
		return "draft"
	case ExamPublished:
		return "published"
	case ExamClosed:
		return "closed"
	default:
		return fmt.Sprintf("ExamStatus(%d)", int(s))
	}
}

// Exam is a named, scored collection of ordered questions.
type Exam struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
	TotalScore  int            `json:"total_score"`
	Status      ExamStatus     `json:"status"`
	Questions   []ExamQuestion `json:"questions"`
}

// DeadlinePassed reports whether the exam deadline is set and strictly before now.
func (e Exam) DeadlinePassed(now time.Time) bool {
	return e.Deadline != nil && now.After(*e.Deadline)
}

// Question returns the exam entry for questionID.
func (e Exam) Question(questionID int64) (ExamQuestion, bool) {
	for _, eq := range e.Questions {
		if eq.QuestionID == questionID {
			return eq, true
		}
	}
	return ExamQuestion{}, false
}

// ExamQuestion places a question in an exam with a position and a full-credit score.
type ExamQuestion struct {
	ExamID     int64     `json:"exam_id"`
	QuestionID int64     `json:"question_id"`
	Order      int       `json:"order"`
	Score      int       `json:"score"`
	Question   *Question `json:"question,omitempty"`
}

// ExamAssignment records that an exam was made available to a student.
type ExamAssignment struct {
	ID          int64     `json:"id"`
	ExamID      int64     `json:"exam_id"`
	StudentID   int64     `json:"student_id"`
	AssignedAt  time.Time `json:"assigned_at"`
	IsSubmitted bool      `json:"is_submitted"`
}

// ExamSubmission is a student's one-time attempt at an assigned exam.
type ExamSubmission struct {
	ID             int64            `json:"id"`
	ExamID         int64            `json:"exam_id"`
	StudentID      int64            `json:"student_id"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	CompletionTime int              `json:"completion_time"`
	Score          int              `json:"score"`
	Answers        []QuestionAnswer `json:"answers,omitempty"`
}

// QuestionAnswer is one graded answer inside a submission.
type QuestionAnswer struct {
	ID           int64  `json:"id"`
	SubmissionID int64  `json:"submission_id"`
	QuestionID   int64  `json:"question_id"`
	Answer       string `json:"answer"`
	IsCorrect    bool   `json:"is_correct"`
	Score        int    `json:"score"`
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Type            QuestionType `json:"type"`
	Content         string       `json:"content"`
	Options         []string     `json:"options"`
	Answers         []string     `json:"answers"`
	Analysis        string       `json:"analysis"`
	ReferenceAnswer string       `json:"reference_answer"`
	Difficulty      int          `json:"difficulty"`
	Tags            []string     `json:"tags"`
}

// Question converts the import record into a Question.
func (qi QuestionImport) Question() Question {
	return Question{
		Type:            qi.Type,
		Content:         qi.Content,
		Options:         qi.Options,
		Answers:         qi.Answers,
		Analysis:        qi.Analysis,
		ReferenceAnswer: qi.ReferenceAnswer,
		Difficulty:      qi.Difficulty,
		Tags:            qi.Tags,
	}
}

// SubmissionRecord is a graded submission ready to be persisted atomically.
type SubmissionRecord struct {
	ExamID         int64
	StudentID      int64
	SubmittedAt    time.Time
	CompletionTime int
	Answers        []QuestionAnswer
}
