package webdav

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kneutral-org/davlock/internal/davxml"
	"github.com/kneutral-org/davlock/internal/locking"
)

// Common errors for LOCK and UNLOCK requests.
var (
	ErrReadOnly         = errors.New("server is read-only")
	ErrInvalidDepth     = errors.New("invalid depth header")
	ErrUnknownToken     = errors.New("no lock for token")
	ErrMissingToken     = errors.New("lock token required")
	ErrInvalidParent    = errors.New("parent is not a folder")
	ErrTargetExists     = errors.New("target already exists")
	ErrOwnerUnspecified = errors.New("lock has several owners, owner required")
	ErrTokenMismatch    = errors.New("lock token does not apply to request path")
)

// Error is a request failure carrying the HTTP status it maps to. Paths is
// set for 423 responses and lists every path reported as locked.
type Error struct {
	Status int
	Paths  []string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %v", e.Status, davxml.StatusText(e.Status), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusMap returns the per-path status map reported with a 423.
func (e *Error) StatusMap() map[string]int {
	out := make(map[string]int, len(e.Paths))
	for _, p := range e.Paths {
		out[p] = e.Status
	}
	return out
}

func newError(status int, err error) *Error {
	return &Error{Status: status, Err: err}
}

// conflictError turns a lock conflict into a 423 naming the blocked paths.
func conflictError(err error) *Error {
	e := &Error{Status: http.StatusLocked, Err: err}
	var ce *locking.ConflictError
	if errors.As(err, &ce) {
		e.Paths = ce.Paths()
	}
	return e
}

// StatusFor maps an error returned by the coordinator to an HTTP status.
func StatusFor(err error) int {
	var e *Error
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &e):
		return e.Status
	case errors.Is(err, locking.ErrConflict):
		return http.StatusLocked
	case errors.Is(err, locking.ErrForbidden), errors.Is(err, ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, locking.ErrNotFound):
		return http.StatusPreconditionFailed
	case errors.Is(err, davxml.ErrMalformedRequest), errors.Is(err, ErrInvalidDepth):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
