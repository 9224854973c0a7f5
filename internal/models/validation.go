package models

import (
	"errors"
	"sort"
	"strings"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

// FieldError is one rejected record field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (f FieldError) Error() string {
	if f.Field == "" {
		return f.Reason
	}
	return f.Field + ": " + f.Reason
}

// FieldErrors collects the rejected fields of one record. It matches
// syncerr.ErrValidation under errors.Is.
type FieldErrors []FieldError

// Reject records reason against field. Empty reasons are ignored.
func (fe *FieldErrors) Reject(field, reason string) {
	if reason == "" {
		return
	}
	*fe = append(*fe, FieldError{Field: field, Reason: reason})
}

// Nest adds the field errors of err under prefix. Other errors are added
// as a single reason.
func (fe *FieldErrors) Nest(prefix string, err error) {
	if err == nil {
		return
	}
	var inner FieldErrors
	if !errors.As(err, &inner) {
		fe.Reject(prefix, err.Error())
		return
	}
	for _, f := range inner {
		field := f.Field
		if prefix != "" && field != "" {
			field = prefix + "." + field
		} else if field == "" {
			field = prefix
		}
		fe.Reject(field, f.Reason)
	}
}

// Err returns nil when nothing was rejected.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return fe
}

// Fields returns the rejected field names, sorted.
func (fe FieldErrors) Fields() []string {
	out := make([]string, 0, len(fe))
	for _, f := range fe {
		out = append(out, f.Field)
	}
	sort.Strings(out)
	return out
}

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		parts[i] = f.Error()
	}
	if len(parts) == 0 {
		return "invalid record"
	}
	return "invalid record: " + strings.Join(parts, "; ")
}

// Is reports a match against the validation kind.
func (fe FieldErrors) Is(target error) bool {
	return target == syncerr.ErrValidation
}
