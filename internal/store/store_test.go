package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/questionbank/internal/model"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, typ model.QuestionType, content string, answers ...string) int64 {
	t.Helper()
	id, err := s.InsertQuestion(context.Background(), model.Question{
		Type:     typ,
		Content:  content,
		Options:  []string{"A", "B", "C", "D"},
		Answers:  answers,
		Analysis: "analysis for " + content,
		Tags:     []string{"go"},
	})
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func insertTestUser(t *testing.T, s *Store, username string, role model.Role) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), model.User{
		Username:     username,
		PasswordHash: "hash",
		Role:         role,
	})
	if err != nil {
		t.Fatalf("insertTestUser: %v", err)
	}
	return id
}

func insertTestExam(t *testing.T, s *Store, title string, createdAt time.Time, questions ...model.ExamQuestion) int64 {
	t.Helper()
	total := 0
	for _, eq := range questions {
		total += eq.Score
	}
	id, err := s.CreateExam(context.Background(), model.Exam{
		Title:      title,
		CreatedAt:  createdAt,
		TotalScore: total,
		Questions:  questions,
	})
	if err != nil {
		t.Fatalf("insertTestExam: %v", err)
	}
	return id
}

func TestQuestionCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	all, err := s.ListQuestions(ctx, model.QuestionFilter{})
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 questions, got %d", len(all))
	}

	id := insertTestQuestion(t, s, model.QuestionSingleChoice, "Which keyword starts a goroutine?", "B")
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Content != "Which keyword starts a goroutine?" {
		t.Errorf("expected content round trip, got %q", q.Content)
	}
	if q.Type != model.QuestionSingleChoice {
		t.Errorf("expected type SingleChoice, got %v", q.Type)
	}
	if len(q.Options) != 4 || q.Options[1] != "B" {
		t.Errorf("expected 4 options, got %v", q.Options)
	}
	if len(q.Answers) != 1 || q.Answers[0] != "B" {
		t.Errorf("expected answers [B], got %v", q.Answers)
	}

	missing, err := s.GetQuestion(ctx, 9999)
	if err != nil {
		t.Fatalf("GetQuestion missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing question, got %+v", missing)
	}

	q.Content = "Which keyword starts a new goroutine?"
	q.Answers = []string{"C"}
	if err := s.UpdateQuestion(ctx, *q); err != nil {
		t.Fatalf("UpdateQuestion: %v", err)
	}
	q, _ = s.GetQuestion(ctx, id)
	if q.Answers[0] != "C" || q.Content != "Which keyword starts a new goroutine?" {
		t.Errorf("update not applied: %+v", q)
	}

	err = s.UpdateQuestion(ctx, model.Question{ID: 9999, Type: model.QuestionTrueFalse, Content: "x"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating missing question, got %v", err)
	}

	if err := s.DeleteQuestion(ctx, id); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}
	if err := s.DeleteQuestion(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListQuestionsFiltered(t *testing.T) {
	s := newTestStore(t)
	insertTestQuestion(t, s, model.QuestionSingleChoice, "What does a Channel carry?", "A")
	insertTestQuestion(t, s, model.QuestionTrueFalse, "Maps are safe for concurrent use.", "false")
	insertTestQuestion(t, s, model.QuestionTrueFalse, "A nil channel blocks forever.", "true")

	tests := []struct {
		name      string
		filter    model.QuestionFilter
		wantCount int
	}{
		{"no filter", model.QuestionFilter{}, 3},
		{"by type", model.QuestionFilter{Type: model.QuestionTrueFalse}, 2},
		{"by keyword", model.QuestionFilter{Keyword: "channel"}, 2},
		{"by both", model.QuestionFilter{Type: model.QuestionTrueFalse, Keyword: "channel"}, 1},
		{"no match", model.QuestionFilter{Type: model.QuestionProgram}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.ListQuestions(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListQuestions: %v", err)
			}
			if len(qs) != tt.wantCount {
				t.Errorf("expected %d questions, got %d", tt.wantCount, len(qs))
			}
		})
	}
}

func TestDeleteQuestionUsedByExam(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	qid := insertTestQuestion(t, s, model.QuestionTrueFalse, "Slices are reference types.", "true")
	insertTestExam(t, s, "Basics", base, model.ExamQuestion{QuestionID: qid, Order: 1, Score: 10})

	if err := s.DeleteQuestion(ctx, qid); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := insertTestUser(t, s, "alice", model.RoleStudent)
	bob := insertTestUser(t, s, "bob", model.RoleStudent)
	admin := insertTestUser(t, s, "admin", model.RoleAdmin)

	_, err := s.CreateUser(ctx, model.User{Username: "alice", PasswordHash: "x", Role: model.RoleStudent})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate username, got %v", err)
	}

	u, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != alice || u.Role != model.RoleStudent {
		t.Errorf("unexpected user %+v", u)
	}
	u, err = s.GetUserByID(ctx, 9999)
	if err != nil || u != nil {
		t.Errorf("expected nil, nil for missing user, got %+v, %v", u, err)
	}

	students, err := s.ListUsers(ctx, model.RoleStudent)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(students) != 2 {
		t.Errorf("expected 2 students, got %d", len(students))
	}

	ids, err := s.StudentIDs(ctx, []int64{alice, admin, bob, 9999})
	if err != nil {
		t.Fatalf("StudentIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != alice || ids[1] != bob {
		t.Errorf("expected [%d %d], got %v", alice, bob, ids)
	}

	names, err := s.Usernames(ctx, []int64{alice, bob, 9999})
	if err != nil {
		t.Fatalf("Usernames: %v", err)
	}
	if names[alice] != "alice" || names[bob] != "bob" || len(names) != 2 {
		t.Errorf("unexpected names %v", names)
	}

	count, err := s.UserCount(ctx)
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 users, got %d", count)
	}
}

func TestExamLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q1 := insertTestQuestion(t, s, model.QuestionSingleChoice, "q1", "A")
	q2 := insertTestQuestion(t, s, model.QuestionFillInBlank, "q2", "defer")
	student := insertTestUser(t, s, "alice", model.RoleStudent)

	deadline := base.Add(48 * time.Hour)
	id, err := s.CreateExam(ctx, model.Exam{
		Title:      "Go basics",
		CreatedAt:  base,
		Deadline:   &deadline,
		TotalScore: 30,
		Questions: []model.ExamQuestion{
			{QuestionID: q2, Order: 2, Score: 20},
			{QuestionID: q1, Order: 1, Score: 10},
		},
	})
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}

	e, err := s.GetExam(ctx, id)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if e.Status != model.ExamDraft {
		t.Errorf("expected draft, got %v", e.Status)
	}
	if e.Deadline == nil || !e.Deadline.Equal(deadline) {
		t.Errorf("expected deadline %v, got %v", deadline, e.Deadline)
	}
	if len(e.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(e.Questions))
	}
	if e.Questions[0].QuestionID != q1 || e.Questions[1].QuestionID != q2 {
		t.Errorf("questions not ordered by position: %+v", e.Questions)
	}
	if e.Questions[1].Question == nil || e.Questions[1].Question.Answers[0] != "defer" {
		t.Errorf("expected enriched question, got %+v", e.Questions[1].Question)
	}

	missing, err := s.GetExam(ctx, 9999)
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing exam, got %+v, %v", missing, err)
	}

	assigned, err := s.IsAssigned(ctx, id, student)
	if err != nil {
		t.Fatalf("IsAssigned: %v", err)
	}
	if assigned {
		t.Error("expected not assigned before Assign")
	}

	created, err := s.Assign(ctx, id, []int64{student}, base)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 created, got %d", created)
	}
	created, err = s.Assign(ctx, id, []int64{student}, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Assign again: %v", err)
	}
	if created != 0 {
		t.Errorf("expected 0 created on repeat, got %d", created)
	}

	e, _ = s.GetExam(ctx, id)
	if e.Status != model.ExamPublished {
		t.Errorf("expected published after assign, got %v", e.Status)
	}
	a, err := s.GetAssignment(ctx, id, student)
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if a == nil || a.IsSubmitted || !a.AssignedAt.Equal(base) {
		t.Errorf("unexpected assignment %+v", a)
	}

	if _, err := s.Assign(ctx, 9999, []int64{student}, base); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound assigning missing exam, got %v", err)
	}
}

func TestCreateExamDuplicatePosition(t *testing.T) {
	s := newTestStore(t)
	q1 := insertTestQuestion(t, s, model.QuestionTrueFalse, "q1", "true")
	q2 := insertTestQuestion(t, s, model.QuestionTrueFalse, "q2", "false")

	_, err := s.CreateExam(context.Background(), model.Exam{
		Title: "dup",
		Questions: []model.ExamQuestion{
			{QuestionID: q1, Order: 1, Score: 5},
			{QuestionID: q2, Order: 1, Score: 5},
		},
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	exams, err := s.ListExams(context.Background())
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 0 {
		t.Errorf("expected rollback to leave no exam, got %d", len(exams))
	}
}

func TestListExams(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q := insertTestQuestion(t, s, model.QuestionTrueFalse, "q", "true")
	alice := insertTestUser(t, s, "alice", model.RoleStudent)
	bob := insertTestUser(t, s, "bob", model.RoleStudent)

	older := insertTestExam(t, s, "older", base, model.ExamQuestion{QuestionID: q, Order: 1, Score: 5})
	newer := insertTestExam(t, s, "newer", base.Add(time.Hour), model.ExamQuestion{QuestionID: q, Order: 1, Score: 5})
	if _, err := s.Assign(ctx, older, []int64{alice}, base); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := s.Assign(ctx, newer, []int64{alice, bob}, base); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	all, err := s.ListExams(ctx)
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(all) != 2 || all[0].ID != newer || all[1].ID != older {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if len(all[0].Questions) != 1 {
		t.Errorf("expected question entries on listed exams, got %d", len(all[0].Questions))
	}

	tests := []struct {
		name    string
		student int64
		want    []int64
	}{
		{"two assignments", alice, []int64{newer, older}},
		{"one assignment", bob, []int64{newer}},
		{"none", 9999, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exams, err := s.ListExamsForStudent(ctx, tt.student)
			if err != nil {
				t.Fatalf("ListExamsForStudent: %v", err)
			}
			if len(exams) != len(tt.want) {
				t.Fatalf("expected %d exams, got %d", len(tt.want), len(exams))
			}
			for i, id := range tt.want {
				if exams[i].ID != id {
					t.Errorf("exam %d: expected id %d, got %d", i, id, exams[i].ID)
				}
			}
		})
	}

	if err := s.DeleteExam(ctx, newer); err != nil {
		t.Fatalf("DeleteExam: %v", err)
	}
	exams, _ := s.ListExamsForStudent(ctx, bob)
	if len(exams) != 0 {
		t.Errorf("expected deleted exam to disappear from student list, got %d", len(exams))
	}
	assignments, _ := s.ListAssignments(ctx, newer)
	if len(assignments) != 0 {
		t.Errorf("expected assignments to cascade, got %d", len(assignments))
	}
}

func TestRecordSubmission(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q1 := insertTestQuestion(t, s, model.QuestionSingleChoice, "q1", "A")
	q2 := insertTestQuestion(t, s, model.QuestionTrueFalse, "q2", "true")
	alice := insertTestUser(t, s, "alice", model.RoleStudent)
	bob := insertTestUser(t, s, "bob", model.RoleStudent)
	examID := insertTestExam(t, s, "quiz", base,
		model.ExamQuestion{QuestionID: q1, Order: 1, Score: 10},
		model.ExamQuestion{QuestionID: q2, Order: 2, Score: 5},
	)
	if _, err := s.Assign(ctx, examID, []int64{alice, bob}, base); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	rec := model.SubmissionRecord{
		ExamID:         examID,
		StudentID:      alice,
		SubmittedAt:    base.Add(time.Hour),
		CompletionTime: 25,
		Answers: []model.QuestionAnswer{
			{QuestionID: q1, Answer: "A", IsCorrect: true, Score: 10},
			{QuestionID: q2, Answer: "false", IsCorrect: false, Score: 0},
		},
	}
	id, err := s.RecordSubmission(ctx, rec)
	if err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	if _, err := s.RecordSubmission(ctx, rec); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict on resubmission, got %v", err)
	}

	answers, err := s.GetSubmissionAnswers(ctx, id)
	if err != nil {
		t.Fatalf("GetSubmissionAnswers: %v", err)
	}
	if len(answers) != 2 || !answers[0].IsCorrect || answers[1].IsCorrect {
		t.Errorf("unexpected answers %+v", answers)
	}

	a, _ := s.GetAssignment(ctx, examID, alice)
	if !a.IsSubmitted {
		t.Error("expected assignment to be marked submitted")
	}

	bobRec := model.SubmissionRecord{
		ExamID:      examID,
		StudentID:   bob,
		SubmittedAt: base.Add(2 * time.Hour),
		Answers:     []model.QuestionAnswer{{QuestionID: q2, Answer: "true", IsCorrect: true, Score: 5}},
	}
	if _, err := s.RecordSubmission(ctx, bobRec); err != nil {
		t.Fatalf("RecordSubmission bob: %v", err)
	}

	subs, err := s.ListSubmissions(ctx, examID, nil)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}
	if subs[0].StudentID != alice || subs[0].Score != 10 || len(subs[0].Answers) != 2 {
		t.Errorf("unexpected first submission %+v", subs[0])
	}
	if subs[1].StudentID != bob || subs[1].Score != 5 || len(subs[1].Answers) != 1 {
		t.Errorf("unexpected second submission %+v", subs[1])
	}
	if subs[0].CompletionTime != 25 {
		t.Errorf("expected completion time 25, got %d", subs[0].CompletionTime)
	}

	only, err := s.ListSubmissions(ctx, examID, &bob)
	if err != nil {
		t.Fatalf("ListSubmissions filtered: %v", err)
	}
	if len(only) != 1 || only[0].StudentID != bob || len(only[0].Answers) != 1 {
		t.Errorf("unexpected filtered submissions %+v", only)
	}
}

func TestRecordSubmissionUnassigned(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q := insertTestQuestion(t, s, model.QuestionTrueFalse, "q", "true")
	alice := insertTestUser(t, s, "alice", model.RoleStudent)
	examID := insertTestExam(t, s, "quiz", base, model.ExamQuestion{QuestionID: q, Order: 1, Score: 5})

	_, err := s.RecordSubmission(ctx, model.SubmissionRecord{ExamID: examID, StudentID: alice, SubmittedAt: base})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	subs, _ := s.ListSubmissions(ctx, examID, nil)
	if len(subs) != 0 {
		t.Errorf("expected no submissions, got %d", len(subs))
	}
}

func TestImportedFileHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	h, err := s.ImportedFileHash(ctx, "questions.json")
	if err != nil {
		t.Fatalf("ImportedFileHash: %v", err)
	}
	if h != "" {
		t.Errorf("expected empty hash, got %q", h)
	}

	data := []byte(`[{"type": 3, "content": "Maps are safe for concurrent writes.", "answers": ["false"]}]`)
	if _, err := s.ImportQuestionFile(ctx, "questions.json", data); err != nil {
		t.Fatalf("ImportQuestionFile: %v", err)
	}
	sum := sha256.Sum256(data)
	h, err = s.ImportedFileHash(ctx, "questions.json")
	if err != nil {
		t.Fatalf("ImportedFileHash: %v", err)
	}
	if h != hex.EncodeToString(sum[:]) {
		t.Errorf("expected recorded sha256 of the file, got %q", h)
	}

	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		return setImportedFileHash(ctx, tx, "questions.json", "def")
	}); err != nil {
		t.Fatalf("setImportedFileHash update: %v", err)
	}
	h, _ = s.ImportedFileHash(ctx, "questions.json")
	if h != "def" {
		t.Errorf("expected upsert to replace the hash, got %q", h)
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{":memory:", ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"qb.db", "qb.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		{"qb.db?cache=shared", "qb.db?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := sqliteDSN(tt.in); got != tt.want {
				t.Errorf("sqliteDSN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestImportQuestionFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	data := []byte(`[
		{"type": 1, "content": "中国的首都是哪里？", "options": ["北京", "上海"], "answers": ["北京"]},
		{"type": 3, "content": "Go has generics.", "answers": ["true"], "tags": ["go"]}
	]`)

	res, err := s.ImportQuestionFile(ctx, "questions.json", data)
	if err != nil {
		t.Fatalf("ImportQuestionFile: %v", err)
	}
	if res.Imported != 2 {
		t.Errorf("expected 2 imported, got %+v", res)
	}

	res, err = s.ImportQuestionFile(ctx, "questions.json", data)
	if err != nil {
		t.Fatalf("ImportQuestionFile again: %v", err)
	}
	if !res.Unchanged || res.Imported != 0 {
		t.Errorf("expected unchanged skip, got %+v", res)
	}

	res, err = s.ImportQuestionFile(ctx, "questions.json", append(data, '\n'))
	if err != nil {
		t.Fatalf("ImportQuestionFile changed: %v", err)
	}
	if !res.Changed || res.Imported != 0 {
		t.Errorf("expected changed skip, got %+v", res)
	}

	all, _ := s.ListQuestions(ctx, model.QuestionFilter{})
	if len(all) != 2 {
		t.Errorf("expected 2 questions, got %d", len(all))
	}

	tests := []struct {
		name string
		data string
	}{
		{"bad json", `{`},
		{"unknown type", `[{"type": 9, "content": "x"}]`},
		{"empty content", `[{"type": 1, "content": " "}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ImportQuestionFile(ctx, tt.name+".json", []byte(tt.data)); err == nil {
				t.Error("expected error")
			}
			h, _ := s.ImportedFileHash(ctx, tt.name+".json")
			if h != "" {
				t.Errorf("expected failed import not to be recorded, got %q", h)
			}
		})
	}
}
