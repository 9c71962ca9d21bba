package locking

import (
	"strconv"
	"strings"
)

const (
	// DefaultTimeoutSeconds is the lease used when the client sends no Timeout header.
	DefaultTimeoutSeconds = 3600

	// MaxTimeoutSeconds caps every lease, including "Infinite" requests (one week).
	MaxTimeoutSeconds = 604800

	// TemporaryTimeoutSeconds is the fixed lease of request-scoped temporary locks.
	TemporaryTimeoutSeconds = 10
)

// TimeoutPolicy maps a client-supplied Timeout header to a bounded lease
// length in seconds.
type TimeoutPolicy struct {
	Default int
	Maximum int
}

// DefaultTimeoutPolicy returns the policy with the standard bounds.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Default: DefaultTimeoutSeconds,
		Maximum: MaxTimeoutSeconds,
	}
}

// Parse turns a Timeout header value into a lease length.
//
// An empty header yields Default. Only the first entry of a comma-separated
// list is considered. "Infinite"/"Infinity" (any case) and anything
// unparsable yield Maximum. "Second-N" and a bare integer yield N. A
// non-positive result falls back to Default, and the result is clamped to
// [1, Maximum].
func (p TimeoutPolicy) Parse(header string) int {
	value := strings.TrimSpace(header)
	if value == "" {
		return p.Clamp(p.Default)
	}
	if i := strings.IndexByte(value, ','); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}

	var seconds int
	lower := strings.ToLower(value)
	switch {
	case lower == "infinity" || lower == "infinite":
		seconds = p.Maximum
	case strings.HasPrefix(lower, "second-"):
		n, err := strconv.Atoi(value[len("second-"):])
		if err != nil {
			seconds = p.Maximum
		} else {
			seconds = n
		}
	default:
		n, err := strconv.Atoi(value)
		if err != nil {
			seconds = p.Maximum
		} else {
			seconds = n
		}
	}
	return p.Clamp(seconds)
}

// Clamp applies the policy bounds to an already-numeric lease length.
func (p TimeoutPolicy) Clamp(seconds int) int {
	if seconds <= 0 {
		seconds = p.Default
	}
	if p.Maximum > 0 && seconds > p.Maximum {
		seconds = p.Maximum
	}
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
