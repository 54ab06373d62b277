package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a rejected operation.
type Kind string

const (
	KindNotFound     Kind = "NOT_FOUND"
	KindInvalidState Kind = "INVALID_STATE"
	KindConflict     Kind = "CONFLICT"
	KindValidation   Kind = "VALIDATION"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
)

// Error is returned for every rejected engine operation. Reason is a
// stable snake_case code; Items carries per-id problems for batch input.
type Error struct {
	Kind   Kind
	Entity string
	ID     string
	Reason string
	Detail string
	Items  map[string]string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Entity)
	if e.ID != "" {
		fmt.Fprintf(&b, " %s", e.ID)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	if len(e.Items) > 0 {
		ids := make([]string, 0, len(e.Items))
		for id := range e.Items {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, id+"="+e.Items[id])
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, ", "))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindNotFound:
		return ErrNotFound
	case KindInvalidState:
		return ErrInvalidState
	case KindConflict:
		return ErrConflict
	case KindValidation:
		return ErrValidation
	}
	return nil
}

// KindOf returns the kind of a lifecycle error, or "" for anything else.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func notFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Reason: "not_found"}
}

func invalidState(entity, id, reason, detail string) *Error {
	return &Error{Kind: KindInvalidState, Entity: entity, ID: id, Reason: reason, Detail: detail}
}

func conflict(entity, id, reason, detail string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, ID: id, Reason: reason, Detail: detail}
}

func validation(entity, id, reason, detail string) *Error {
	return &Error{Kind: KindValidation, Entity: entity, ID: id, Reason: reason, Detail: detail}
}
