package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/questionbank/internal/model"
)

const examColumns = `e.id, e.title, e.description, e.created_at, e.deadline, e.total_score, e.status`

func scanExam(sc interface{ Scan(...any) error }) (*model.Exam, error) {
	var (
		e        model.Exam
		deadline sql.NullTime
	)
	if err := sc.Scan(&e.ID, &e.Title, &e.Description, &e.CreatedAt, &deadline, &e.TotalScore, &e.Status); err != nil {
		return nil, err
	}
	if deadline.Valid {
		d := deadline.Time
		e.Deadline = &d
	}
	return &e, nil
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
// fn must use tx exclusively; the in-memory store has a single connection.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateExam persists the exam and its question entries in one transaction.
func (s *Store) CreateExam(ctx context.Context, e model.Exam) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var deadline sql.NullTime
	if e.Deadline != nil {
		deadline = sql.NullTime{Time: *e.Deadline, Valid: true}
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO exams (title, description, created_at, deadline, total_score, status)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			e.Title, e.Description, e.CreatedAt, deadline, e.TotalScore, int(e.Status),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert exam: %w", err)
		}
		for _, eq := range e.Questions {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO exam_questions (exam_id, question_id, position, score)
				 VALUES ($1, $2, $3, $4)`,
				id, eq.QuestionID, eq.Order, eq.Score,
			)
			if err != nil {
				if isConstraintViolation(err) {
					return fmt.Errorf("exam question %d at position %d: %w", eq.QuestionID, eq.Order, model.ErrConflict)
				}
				return fmt.Errorf("insert exam question: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetExam returns an exam with its questions ordered by position, or nil if it does
// not exist. Each entry carries the full question when it is still in the bank.
func (s *Store) GetExam(ctx context.Context, id int64) (*model.Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx,
		`SELECT `+examColumns+` FROM exams e WHERE e.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	byExam, err := s.examQuestions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	e.Questions = byExam[id]

	ids := make([]int64, len(e.Questions))
	for i, eq := range e.Questions {
		ids[i] = eq.QuestionID
	}
	bank, err := s.questionsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range e.Questions {
		if q, ok := bank[e.Questions[i].QuestionID]; ok {
			e.Questions[i].Question = &q
		}
	}
	return e, nil
}

// ListExams returns all exams, newest first, with their question entries.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	return s.listExams(ctx,
		`SELECT `+examColumns+` FROM exams e ORDER BY e.created_at DESC, e.id DESC`)
}

// ListExamsForStudent returns the exams assigned to a student, newest first.
func (s *Store) ListExamsForStudent(ctx context.Context, studentID int64) ([]model.Exam, error) {
	return s.listExams(ctx,
		`SELECT `+examColumns+` FROM exams e
		 JOIN exam_assignments a ON a.exam_id = e.id
		 WHERE a.student_id = $1
		 ORDER BY e.created_at DESC, e.id DESC`, studentID)
}

func (s *Store) listExams(ctx context.Context, query string, args ...any) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var (
		exams []model.Exam
		ids   []int64
	)
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		exams = append(exams, *e)
		ids = append(ids, e.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return exams, nil
	}

	byExam, err := s.examQuestions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range exams {
		exams[i].Questions = byExam[exams[i].ID]
	}
	return exams, nil
}

func (s *Store) examQuestions(ctx context.Context, examIDs []int64) (map[int64][]model.ExamQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exam_id, question_id, position, score FROM exam_questions
		 WHERE exam_id IN (`+placeholders(1, len(examIDs))+`)
		 ORDER BY exam_id, position`,
		int64Args(examIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byExam := make(map[int64][]model.ExamQuestion, len(examIDs))
	for rows.Next() {
		var eq model.ExamQuestion
		if err := rows.Scan(&eq.ExamID, &eq.QuestionID, &eq.Order, &eq.Score); err != nil {
			return nil, err
		}
		byExam[eq.ExamID] = append(byExam[eq.ExamID], eq)
	}
	return byExam, rows.Err()
}

func (s *Store) questionsByID(ctx context.Context, ids []int64) (map[int64]model.Question, error) {
	bank := make(map[int64]model.Question, len(ids))
	if len(ids) == 0 {
		return bank, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id IN (`+placeholders(1, len(ids))+`)`,
		int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		bank[q.ID] = *q
	}
	return bank, rows.Err()
}

// DeleteExam removes an exam. Its questions, assignments and submissions go with it.
func (s *Store) DeleteExam(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exams WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "exam", id)
}

// GetAssignment returns the assignment of an exam to a student, or nil if there is none.
func (s *Store) GetAssignment(ctx context.Context, examID, studentID int64) (*model.ExamAssignment, error) {
	var a model.ExamAssignment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, student_id, assigned_at, is_submitted
		 FROM exam_assignments WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.AssignedAt, &a.IsSubmitted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// IsAssigned reports whether the exam was assigned to the student.
func (s *Store) IsAssigned(ctx context.Context, examID, studentID int64) (bool, error) {
	a, err := s.GetAssignment(ctx, examID, studentID)
	if err != nil {
		return false, err
	}
	return a != nil, nil
}

// ListAssignments returns all assignments of an exam in assignment order.
func (s *Store) ListAssignments(ctx context.Context, examID int64) ([]model.ExamAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exam_id, student_id, assigned_at, is_submitted
		 FROM exam_assignments WHERE exam_id = $1 ORDER BY id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.ExamAssignment
	for rows.Next() {
		var a model.ExamAssignment
		if err := rows.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.AssignedAt, &a.IsSubmitted); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// Assign creates the missing assignments of an exam to the given students and
// publishes the exam if it is still a draft. Existing assignments are left
// untouched. It returns the number of assignments created.
func (s *Store) Assign(ctx context.Context, examID int64, studentIDs []int64, now time.Time) (int, error) {
	created := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status int
		err := tx.QueryRowContext(ctx, `SELECT status FROM exams WHERE id = $1`, examID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("exam %d: %w", examID, model.ErrNotFound)
		}
		if err != nil {
			return err
		}
		for _, sid := range studentIDs {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO exam_assignments (exam_id, student_id, assigned_at, is_submitted)
				 VALUES ($1, $2, $3, FALSE)
				 ON CONFLICT (exam_id, student_id) DO NOTHING`,
				examID, sid, now,
			)
			if err != nil {
				return fmt.Errorf("insert assignment: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			created += int(n)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE exams SET status = $1 WHERE id = $2 AND status = $3`,
			int(model.ExamPublished), examID, int(model.ExamDraft),
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.Debug("assigned exam", "exam_id", examID, "requested", len(studentIDs), "created", created)
	return created, nil
}
