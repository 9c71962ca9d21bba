// Package locking provides the in-process WebDAV lock table: exclusive and
// shared locks keyed by resource path and depth, lock tokens, lease expiry,
// and the short-lived temporary locks used to serialize multi-step requests.
package locking

import (
	"time"
)

// Scope is the sharing mode of a lock.
type Scope int

const (
	ScopeExclusive Scope = iota
	ScopeShared
)

// String returns the WebDAV element name for the scope.
func (s Scope) String() string {
	if s == ScopeShared {
		return "shared"
	}
	return "exclusive"
}

// Type is the access type a lock protects.
type Type int

const (
	TypeWrite Type = iota
	TypeRead
)

// String returns the WebDAV element name for the type.
func (t Type) String() string {
	if t == TypeRead {
		return "read"
	}
	return "write"
}

// Depth says whether a lock applies to its path only or to the whole subtree.
type Depth int

const (
	DepthZero Depth = iota
	DepthInfinity
)

// String returns the Depth header representation.
func (d Depth) String() string {
	if d == DepthInfinity {
		return "Infinity"
	}
	return "0"
}

// LockedObject describes one held lock.
// Values handed out by Manager are snapshots; mutating them has no effect
// on the lock table.
type LockedObject struct {
	Token        string
	Path         string
	Scope        Scope
	Type         Type
	Depth        Depth
	Owners       []string
	ExpiresAt    time.Time
	Temporary    bool
	NullResource bool
}

// IsExclusive reports whether the lock is exclusive.
func (lo LockedObject) IsExclusive() bool {
	return lo.Scope == ScopeExclusive
}

// HasOwner reports whether owner holds the lock.
func (lo LockedObject) HasOwner(owner string) bool {
	for _, o := range lo.Owners {
		if o == owner {
			return true
		}
	}
	return false
}

// Expired reports whether the lease has run out at now.
func (lo LockedObject) Expired(now time.Time) bool {
	return !lo.ExpiresAt.IsZero() && !now.Before(lo.ExpiresAt)
}

// RemainingSeconds returns the whole seconds left on the lease, rounded up.
// A lock without expiry reports -1.
func (lo LockedObject) RemainingSeconds(now time.Time) int {
	if lo.ExpiresAt.IsZero() {
		return -1
	}
	remaining := lo.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}

// Covers reports whether the lock applies to path.
func (lo LockedObject) Covers(path string) bool {
	path = CleanPath(path)
	if lo.Path == path {
		return true
	}
	return lo.Depth == DepthInfinity && IsDescendant(lo.Path, path)
}

// Overlaps reports whether the lock overlaps a lock at path with depth.
func (lo LockedObject) Overlaps(path string, depth Depth) bool {
	return Overlaps(lo.Path, lo.Depth, CleanPath(path), depth)
}

// snapshot copies the object so callers never alias table state.
func (lo *LockedObject) snapshot() LockedObject {
	out := *lo
	out.Owners = append([]string(nil), lo.Owners...)
	return out
}
