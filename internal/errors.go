package internal

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

var (
	ErrNotFound         = errors.New("link not found")
	ErrLinkNotFound     = errors.New("link does not exist")
	ErrForbidden        = errors.New("forbidden")
	ErrCodeTaken        = errors.New("short code already taken")
	ErrExhaustedRetries = errors.New("could not generate a unique short code")
	ErrUserExists       = errors.New("username already taken")
	ErrUserNotFound     = errors.New("user not found")
)

// ValidationError carries per-field messages for a rejected submission.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string]string{}}
}

func (e *ValidationError) Add(field, message string) {
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = message
}

func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
