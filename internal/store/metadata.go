package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/questionbank/internal/model"
)

// ImportedFileHash returns the sha256 recorded for an imported question file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) ImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT sha256 FROM imported_files WHERE path = $1`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// setImportedFileHash upserts the sha256 of an imported question file.
func setImportedFileHash(ctx context.Context, db execer, path, hash string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO imported_files (path, sha256, imported_at) VALUES ($1, $2, $3)
		 ON CONFLICT (path) DO UPDATE SET sha256 = EXCLUDED.sha256, imported_at = EXCLUDED.imported_at`,
		path, hash, time.Now().UTC(),
	)
	return err
}

// ImportResult reports what ImportQuestionFile did.
type ImportResult struct {
	Imported  int  `json:"imported"`
	Unchanged bool `json:"unchanged,omitempty"`
	Changed   bool `json:"changed,omitempty"`
}

// ImportQuestionFile inserts the questions of a JSON question file. Files are
// tracked by name and sha256: a file imported before is skipped, whether or not
// its content changed since, so questions already used by exams are never duplicated.
func (s *Store) ImportQuestionFile(ctx context.Context, name string, data []byte) (ImportResult, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	stored, err := s.ImportedFileHash(ctx, name)
	if err != nil {
		return ImportResult{}, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if stored == hash {
		slog.Info("questions file unchanged, skipping", "path", name)
		return ImportResult{Unchanged: true}, nil
	}
	if stored != "" {
		slog.Warn("questions file changed since last import, skipping", "path", name)
		return ImportResult{Changed: true}, nil
	}

	var questions []model.QuestionImport
	if err := json.Unmarshal(data, &questions); err != nil {
		return ImportResult{}, &model.ValidationError{Field: "questions", Reason: fmt.Sprintf("parse %s: %v", name, err)}
	}
	for i, qi := range questions {
		if !qi.Type.Valid() || strings.TrimSpace(qi.Content) == "" {
			return ImportResult{}, &model.ValidationError{
				Field:  "questions",
				Reason: fmt.Sprintf("entry %d in %s needs a known type and content", i, name),
			}
		}
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, qi := range questions {
			if _, err := insertQuestion(ctx, tx, qi.Question()); err != nil {
				return fmt.Errorf("insert question from %s: %w", name, err)
			}
		}
		return setImportedFileHash(ctx, tx, name, hash)
	})
	if err != nil {
		return ImportResult{}, err
	}
	slog.Info("imported questions", "path", name, "count", len(questions))
	return ImportResult{Imported: len(questions)}, nil
}
