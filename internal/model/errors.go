package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Error kinds raised by the exam core. The transport boundary maps them to responses.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	ErrValidation       = errors.New("validation failed")
)

// ValidationError describes malformed creation or assignment input.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
	IDs    []int64
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed: ")
	sb.WriteString(e.Field)
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if len(e.IDs) > 0 {
		ids := make([]string, len(e.IDs))
		for i, id := range e.IDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		fmt.Fprintf(&sb, " [%s]", strings.Join(ids, ","))
	}
	return sb.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
