package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pavelanni/questionbank/internal/model"
)

// RecordSubmission atomically marks the assignment submitted, stores the submission
// with its answers and sets the submission score to the sum of the answer scores.
// A second submission for the same assignment yields model.ErrConflict and leaves
// no trace.
func (s *Store) RecordSubmission(ctx context.Context, rec model.SubmissionRecord) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE exam_assignments SET is_submitted = TRUE
			 WHERE exam_id = $1 AND student_id = $2 AND is_submitted = FALSE`,
			rec.ExamID, rec.StudentID,
		)
		if err != nil {
			return fmt.Errorf("mark submitted: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("exam %d already submitted by student %d: %w", rec.ExamID, rec.StudentID, model.ErrConflict)
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO exam_submissions (exam_id, student_id, submitted_at, completion_time, score)
			 VALUES ($1, $2, $3, $4, 0) RETURNING id`,
			rec.ExamID, rec.StudentID, rec.SubmittedAt, rec.CompletionTime,
		).Scan(&id)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("exam %d already submitted by student %d: %w", rec.ExamID, rec.StudentID, model.ErrConflict)
			}
			return fmt.Errorf("insert submission: %w", err)
		}

		for _, a := range rec.Answers {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO question_answers (submission_id, question_id, answer, is_correct, score)
				 VALUES ($1, $2, $3, $4, $5)`,
				id, a.QuestionID, a.Answer, a.IsCorrect, a.Score,
			)
			if err != nil {
				return fmt.Errorf("insert answer: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE exam_submissions
			 SET score = (SELECT COALESCE(SUM(score), 0) FROM question_answers WHERE submission_id = $1)
			 WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("update score: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListSubmissions returns the submissions of an exam with their answers, optionally
// restricted to one student.
func (s *Store) ListSubmissions(ctx context.Context, examID int64, studentID *int64) ([]model.ExamSubmission, error) {
	filter := `WHERE s.exam_id = $1`
	args := []any{examID}
	if studentID != nil {
		filter += ` AND s.student_id = $2`
		args = append(args, *studentID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.exam_id, s.student_id, s.submitted_at, s.completion_time, s.score
		 FROM exam_submissions s `+filter+` ORDER BY s.submitted_at, s.id`, args...)
	if err != nil {
		return nil, err
	}
	var subs []model.ExamSubmission
	index := make(map[int64]int)
	for rows.Next() {
		var sub model.ExamSubmission
		if err := rows.Scan(&sub.ID, &sub.ExamID, &sub.StudentID, &sub.SubmittedAt, &sub.CompletionTime, &sub.Score); err != nil {
			rows.Close()
			return nil, err
		}
		index[sub.ID] = len(subs)
		subs = append(subs, sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return subs, nil
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT qa.id, qa.submission_id, qa.question_id, qa.answer, qa.is_correct, qa.score
		 FROM question_answers qa
		 JOIN exam_submissions s ON s.id = qa.submission_id `+filter+` ORDER BY qa.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[a.SubmissionID]; ok {
			subs[i].Answers = append(subs[i].Answers, a)
		}
	}
	return subs, rows.Err()
}

// GetSubmissionAnswers returns the persisted answers of one submission.
func (s *Store) GetSubmissionAnswers(ctx context.Context, submissionID int64) ([]model.QuestionAnswer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submission_id, question_id, answer, is_correct, score
		 FROM question_answers WHERE submission_id = $1 ORDER BY id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.QuestionAnswer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func scanAnswer(sc interface{ Scan(...any) error }) (model.QuestionAnswer, error) {
	var a model.QuestionAnswer
	err := sc.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.Answer, &a.IsCorrect, &a.Score)
	return a, err
}
