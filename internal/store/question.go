package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/questionbank/internal/model"
)

const questionColumns = `id, type, content, options_json, answers_json, analysis,
	reference_answer, difficulty, tags_json, created_at`

func scanQuestion(sc interface{ Scan(...any) error }) (*model.Question, error) {
	var (
		q                     model.Question
		options, answers, tag string
	)
	err := sc.Scan(&q.ID, &q.Type, &q.Content, &options, &answers, &q.Analysis,
		&q.ReferenceAnswer, &q.Difficulty, &tag, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	if q.Options, err = unmarshalList(options); err != nil {
		return nil, fmt.Errorf("question %d options: %w", q.ID, err)
	}
	if q.Answers, err = unmarshalList(answers); err != nil {
		return nil, fmt.Errorf("question %d answers: %w", q.ID, err)
	}
	if q.Tags, err = unmarshalList(tag); err != nil {
		return nil, fmt.Errorf("question %d tags: %w", q.ID, err)
	}
	return &q, nil
}

type questionLists struct {
	options, answers, tags string
}

func encodeQuestionLists(q model.Question) (questionLists, error) {
	var (
		l   questionLists
		err error
	)
	if l.options, err = marshalList(q.Options); err != nil {
		return l, err
	}
	if l.answers, err = marshalList(q.Answers); err != nil {
		return l, err
	}
	l.tags, err = marshalList(q.Tags)
	return l, err
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertQuestion adds a question to the bank and returns its ID.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	return insertQuestion(ctx, s.db, q)
}

func insertQuestion(ctx context.Context, db rowQuerier, q model.Question) (int64, error) {
	l, err := encodeQuestionLists(q)
	if err != nil {
		return 0, fmt.Errorf("encode question: %w", err)
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	var id int64
	err = db.QueryRowContext(ctx,
		`INSERT INTO questions (type, content, options_json, answers_json, analysis,
			reference_answer, difficulty, tags_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		int(q.Type), q.Content, l.options, l.answers, q.Analysis,
		q.ReferenceAnswer, q.Difficulty, l.tags, q.CreatedAt,
	).Scan(&id)
	return id, err
}

// GetQuestion returns a question by ID, or nil if it does not exist.
func (s *Store) GetQuestion(ctx context.Context, id int64) (*model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

// ListQuestions returns questions matching the filter, newest first.
func (s *Store) ListQuestions(ctx context.Context, f model.QuestionFilter) ([]model.Question, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != 0 {
		args = append(args, int(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		args = append(args, "%"+strings.ToLower(kw)+"%")
		where = append(where, fmt.Sprintf("LOWER(content) LIKE $%d", len(args)))
	}
	query := `SELECT ` + questionColumns + ` FROM questions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var qs []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		qs = append(qs, *q)
	}
	return qs, rows.Err()
}

// UpdateQuestion overwrites the editable fields of an existing question.
func (s *Store) UpdateQuestion(ctx context.Context, q model.Question) error {
	l, err := encodeQuestionLists(q)
	if err != nil {
		return fmt.Errorf("encode question: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET type = $1, content = $2, options_json = $3, answers_json = $4,
			analysis = $5, reference_answer = $6, difficulty = $7, tags_json = $8
		 WHERE id = $9`,
		int(q.Type), q.Content, l.options, l.answers,
		q.Analysis, q.ReferenceAnswer, q.Difficulty, l.tags, q.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "question", q.ID)
}

// DeleteQuestion removes a question. Questions still used by an exam cannot be
// deleted and yield model.ErrConflict.
func (s *Store) DeleteQuestion(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("question %d is used by an exam: %w", id, model.ErrConflict)
		}
		return err
	}
	return requireRow(res, "question", id)
}

func requireRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, model.ErrNotFound)
	}
	return nil
}
