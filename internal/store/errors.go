package store

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a unique or foreign key
// constraint.
var ErrConflict = errors.New("conflict")

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// translate maps driver errors onto repository sentinels.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == uniqueViolation || pqErr.Code == foreignKeyViolation) {
		return ErrConflict
	}
	return err
}

// normalizeID returns id in the canonical lowercase hyphenated form.
// Malformed ids are treated as missing records rather than database errors,
// and every form uuid.Parse accepts reaches Postgres in one shape.
func normalizeID(id string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}
