package locking

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors for lock table operations.
var (
	// ErrConflict is returned when an acquisition overlaps an incompatible lock.
	ErrConflict = errors.New("lock conflict")

	// ErrNotFound is returned when no live lock matches a token.
	ErrNotFound = errors.New("lock not found")

	// ErrForbidden is returned when an owner tries to release a lock it does not hold.
	ErrForbidden = errors.New("lock not held by owner")
)

// ConflictError reports which locked paths blocked an acquisition.
type ConflictError struct {
	// Path is the path the caller tried to lock.
	Path string
	// Blocking lists the paths of the locks that prevented it.
	Blocking []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s blocked by %s", ErrConflict, e.Path, strings.Join(e.Blocking, ", "))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Paths returns the request path followed by every distinct blocking path.
func (e *ConflictError) Paths() []string {
	out := []string{e.Path}
	seen := map[string]bool{e.Path: true}
	for _, p := range e.Blocking {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// ForbiddenError is returned by Unlock when owner does not hold the lock.
type ForbiddenError struct {
	Token string
	Owner string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%v: %q does not hold %s", ErrForbidden, e.Owner, e.Token)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}
