package locking

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/kneutral-org/davlock/internal/metrics"
)

// Manager is the lock table. All operations run under one mutex so that
// conflict checks observe a consistent view of every active lock; two
// racing acquisitions on overlapping paths never both succeed.
//
// Locks are indexed by token and by path. The path index is a patricia
// trie keyed by trieKey, which makes ancestor and descendant lookups
// prefix queries.
type Manager struct {
	mu      sync.Mutex
	byToken map[string]*LockedObject
	byPath  *patricia.Trie // trieKey(path) -> pathLocks

	policy TimeoutPolicy
	now    func() time.Time
	logger zerolog.Logger
}

// pathLocks holds every lock rooted at one path, keyed by token.
type pathLocks map[string]*LockedObject

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// acquireOptions carries the optional parts of an acquisition.
type acquireOptions struct {
	holder       string
	nullResource bool
	lockType     Type
}

// AcquireOption configures a single acquisition.
type AcquireOption func(*acquireOptions)

// WithHolder marks the synthetic owner of the caller's own temporary locks.
// Temporary locks held by holder never conflict with the acquisition.
func WithHolder(holder string) AcquireOption {
	return func(o *acquireOptions) {
		o.holder = holder
	}
}

// AsNullResource flags the new lock as a lock on a placeholder resource.
func AsNullResource() AcquireOption {
	return func(o *acquireOptions) {
		o.nullResource = true
	}
}

// WithType sets the lock type. The default is TypeWrite.
func WithType(t Type) AcquireOption {
	return func(o *acquireOptions) {
		o.lockType = t
	}
}

// NewManager creates an empty lock table bounded by policy.
func NewManager(policy TimeoutPolicy, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		byToken: make(map[string]*LockedObject),
		byPath:  patricia.NewTrie(),
		policy:  policy,
		now:     time.Now,
		logger:  logger.With().Str("component", "locking").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the timeout policy the manager clamps leases with.
func (m *Manager) Policy() TimeoutPolicy {
	return m.policy
}

// AcquireExclusive places an exclusive lock on path. It fails with a
// *ConflictError if any lock overlaps path under the depth rule.
func (m *Manager) AcquireExclusive(path, owner string, depth Depth, seconds int, opts ...AcquireOption) (LockedObject, error) {
	return m.acquire(CleanPath(path), owner, ScopeExclusive, depth, seconds, opts)
}

// AcquireShared places a shared lock on path. If a shared lock with the same
// depth already sits on path, owner joins it and its expiry is extended when
// the new lease ends later.
func (m *Manager) AcquireShared(path, owner string, depth Depth, seconds int, opts ...AcquireOption) (LockedObject, error) {
	return m.acquire(CleanPath(path), owner, ScopeShared, depth, seconds, opts)
}

func (m *Manager) acquire(path, owner string, scope Scope, depth Depth, seconds int, opts []AcquireOption) (LockedObject, error) {
	o := acquireOptions{lockType: TypeWrite}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	expired := m.sweepLocked()
	now := m.now()
	expiresAt := now.Add(time.Duration(m.policy.Clamp(seconds)) * time.Second)

	merge, err := m.checkLocked(path, scope, depth, o.holder)
	if err != nil {
		m.mu.Unlock()
		m.afterSweep(expired)
		metrics.RecordLockConflict(scope.String())
		return LockedObject{}, err
	}

	var result LockedObject
	joined := false
	if merge != nil {
		if !merge.HasOwner(owner) {
			merge.Owners = append(merge.Owners, owner)
		}
		if expiresAt.After(merge.ExpiresAt) {
			merge.ExpiresAt = expiresAt
		}
		result = merge.snapshot()
		joined = true
	} else {
		lo := &LockedObject{
			Token:        uuid.NewString(),
			Path:         path,
			Scope:        scope,
			Type:         o.lockType,
			Depth:        depth,
			Owners:       []string{owner},
			ExpiresAt:    expiresAt,
			NullResource: o.nullResource,
		}
		m.insertLocked(lo)
		result = lo.snapshot()
	}
	persistent, temporary := m.countsLocked()
	m.mu.Unlock()

	m.afterSweep(expired)
	metrics.RecordLockAcquired(scope.String())
	metrics.SetActiveLocks(persistent, temporary)
	m.logger.Debug().
		Str("path", path).
		Str("token", result.Token).
		Str("scope", scope.String()).
		Str("depth", depth.String()).
		Bool("joined", joined).
		Msg("lock acquired")
	return result, nil
}

// CheckAvailable reports whether a lock of the given scope and depth could
// be placed on path right now, without placing it.
func (m *Manager) CheckAvailable(path string, scope Scope, depth Depth, opts ...AcquireOption) error {
	o := acquireOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	expired := m.sweepLocked()
	_, err := m.checkLocked(CleanPath(path), scope, depth, o.holder)
	m.mu.Unlock()

	m.afterSweep(expired)
	return err
}

// checkLocked runs the conflict rule against every overlapping lock. It
// returns the shared lock the request should join, if any.
func (m *Manager) checkLocked(path string, scope Scope, depth Depth, holder string) (*LockedObject, error) {
	var merge *LockedObject
	var blocking []string
	for _, lo := range m.overlappingLocked(path, depth) {
		if lo.Temporary {
			if holder != "" && lo.HasOwner(holder) {
				continue
			}
			blocking = append(blocking, lo.Path)
			continue
		}
		if scope == ScopeShared && !lo.IsExclusive() {
			if lo.Path == path {
				if lo.Depth != depth {
					blocking = append(blocking, lo.Path)
					continue
				}
				merge = lo
			}
			continue
		}
		blocking = append(blocking, lo.Path)
	}
	if len(blocking) > 0 {
		sort.Strings(blocking)
		return nil, &ConflictError{Path: path, Blocking: blocking}
	}
	return merge, nil
}

// AcquireTemporary places a request-scoped exclusive depth-zero lock on path
// for owner. It fails only when another request's temporary lock already
// holds path. Calling it again with the same owner returns the existing lock.
func (m *Manager) AcquireTemporary(path, owner string, seconds int) (LockedObject, error) {
	path = CleanPath(path)

	m.mu.Lock()
	expired := m.sweepLocked()
	var blocking []string
	for _, lo := range m.overlappingLocked(path, DepthZero) {
		if !lo.Temporary {
			continue
		}
		if lo.Path == path && lo.HasOwner(owner) {
			result := lo.snapshot()
			m.mu.Unlock()
			m.afterSweep(expired)
			return result, nil
		}
		blocking = append(blocking, lo.Path)
	}
	if len(blocking) > 0 {
		m.mu.Unlock()
		m.afterSweep(expired)
		metrics.RecordLockConflict("temporary")
		return LockedObject{}, &ConflictError{Path: path, Blocking: blocking}
	}

	if seconds <= 0 {
		seconds = TemporaryTimeoutSeconds
	}
	lo := &LockedObject{
		Token:     uuid.NewString(),
		Path:      path,
		Scope:     ScopeExclusive,
		Type:      TypeWrite,
		Depth:     DepthZero,
		Owners:    []string{owner},
		ExpiresAt: m.now().Add(time.Duration(seconds) * time.Second),
		Temporary: true,
	}
	m.insertLocked(lo)
	result := lo.snapshot()
	persistent, temporary := m.countsLocked()
	m.mu.Unlock()

	m.afterSweep(expired)
	metrics.RecordLockAcquired("temporary")
	metrics.SetActiveLocks(persistent, temporary)
	return result, nil
}

// ReleaseTemporary removes the temporary lock owner holds on path. It is a
// no-op when there is none.
func (m *Manager) ReleaseTemporary(path, owner string) {
	path = CleanPath(path)

	m.mu.Lock()
	released := 0
	if item := m.byPath.Get(trieKey(path)); item != nil {
		for _, lo := range item.(pathLocks) {
			if lo.Temporary && lo.HasOwner(owner) {
				m.removeLocked(lo)
				released++
			}
		}
	}
	persistent, temporary := m.countsLocked()
	m.mu.Unlock()

	if released > 0 {
		metrics.RecordLocksReleased("temporary", released)
		metrics.SetActiveLocks(persistent, temporary)
	}
}

// Refresh restarts the lease of the lock identified by token, clamped by
// the timeout policy. Expired and unknown tokens return ErrNotFound.
func (m *Manager) Refresh(token string, seconds int) (LockedObject, error) {
	m.mu.Lock()
	expired := m.sweepLocked()
	lo, ok := m.byToken[token]
	if !ok || lo.Temporary {
		m.mu.Unlock()
		m.afterSweep(expired)
		return LockedObject{}, ErrNotFound
	}
	lo.ExpiresAt = m.now().Add(time.Duration(m.policy.Clamp(seconds)) * time.Second)
	result := lo.snapshot()
	m.mu.Unlock()

	m.afterSweep(expired)
	metrics.RecordLockRefreshed()
	m.logger.Debug().
		Str("path", result.Path).
		Str("token", token).
		Time("expiresAt", result.ExpiresAt).
		Msg("lock refreshed")
	return result, nil
}

// FindByToken returns the live lock with the given token. Temporary locks
// are never returned.
func (m *Manager) FindByToken(token string) (LockedObject, bool) {
	m.mu.Lock()
	expired := m.sweepLocked()
	lo, ok := m.byToken[token]
	var result LockedObject
	if ok && !lo.Temporary {
		result = lo.snapshot()
	} else {
		ok = false
	}
	m.mu.Unlock()

	m.afterSweep(expired)
	return result, ok
}

// FindByPath returns the most specific live lock covering path: a lock
// rooted at path itself, otherwise the nearest ancestor lock with infinite
// depth. Temporary locks are never returned.
func (m *Manager) FindByPath(path string) (LockedObject, bool) {
	path = CleanPath(path)

	m.mu.Lock()
	expired := m.sweepLocked()
	var best *LockedObject
	for _, lo := range m.coveringLocked(path) {
		if lo.Temporary {
			continue
		}
		if best == nil || len(lo.Path) > len(best.Path) ||
			(len(lo.Path) == len(best.Path) && lo.Token < best.Token) {
			best = lo
		}
	}
	var result LockedObject
	if best != nil {
		result = best.snapshot()
	}
	m.mu.Unlock()

	m.afterSweep(expired)
	return result, best != nil
}

// Unlock removes owner from the lock identified by token. An exclusive lock,
// or a shared lock whose last owner leaves, is destroyed; the returned bool
// reports that. Unknown tokens return ErrNotFound and owners that do not
// hold the lock get a *ForbiddenError.
func (m *Manager) Unlock(token, owner string) (LockedObject, bool, error) {
	m.mu.Lock()
	expired := m.sweepLocked()
	lo, ok := m.byToken[token]
	if !ok || lo.Temporary {
		m.mu.Unlock()
		m.afterSweep(expired)
		return LockedObject{}, false, ErrNotFound
	}
	if !lo.HasOwner(owner) {
		m.mu.Unlock()
		m.afterSweep(expired)
		return LockedObject{}, false, &ForbiddenError{Token: token, Owner: owner}
	}

	removed := false
	if !lo.IsExclusive() && len(lo.Owners) > 1 {
		owners := lo.Owners[:0]
		for _, o := range lo.Owners {
			if o != owner {
				owners = append(owners, o)
			}
		}
		lo.Owners = owners
	} else {
		m.removeLocked(lo)
		removed = true
	}
	result := lo.snapshot()
	persistent, temporary := m.countsLocked()
	m.mu.Unlock()

	m.afterSweep(expired)
	if removed {
		metrics.RecordLocksReleased("unlock", 1)
		metrics.SetActiveLocks(persistent, temporary)
	}
	m.logger.Debug().
		Str("path", result.Path).
		Str("token", token).
		Bool("removed", removed).
		Msg("lock released")
	return result, removed, nil
}

// SweepExpired removes every lock whose lease has run out and returns how
// many were removed. Every other operation sweeps first, so calling it is
// only needed to reclaim memory while the server is idle.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	expired := m.sweepLocked()
	m.mu.Unlock()

	m.afterSweep(expired)
	return len(expired)
}

// Len returns the number of live locks, temporary ones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byToken)
}

// sweepLocked drops expired locks and returns them for logging once the
// mutex is released.
func (m *Manager) sweepLocked() []LockedObject {
	now := m.now()
	var expired []LockedObject
	for _, lo := range m.byToken {
		if lo.Expired(now) {
			expired = append(expired, lo.snapshot())
			m.removeLocked(lo)
		}
	}
	return expired
}

func (m *Manager) afterSweep(expired []LockedObject) {
	if len(expired) == 0 {
		return
	}
	temporary := 0
	for _, lo := range expired {
		if lo.Temporary {
			temporary++
		}
		m.logger.Debug().
			Str("path", lo.Path).
			Str("token", lo.Token).
			Bool("temporary", lo.Temporary).
			Msg("lock expired")
	}
	if temporary > 0 {
		// A temporary lock that expires was never released by its request.
		m.logger.Warn().Int("count", temporary).Msg("temporary locks expired before release")
	}
	metrics.RecordLocksReleased("expired", len(expired))
	m.mu.Lock()
	persistent, temp := m.countsLocked()
	m.mu.Unlock()
	metrics.SetActiveLocks(persistent, temp)
}

func (m *Manager) insertLocked(lo *LockedObject) {
	m.byToken[lo.Token] = lo
	key := trieKey(lo.Path)
	if item := m.byPath.Get(key); item != nil {
		item.(pathLocks)[lo.Token] = lo
		return
	}
	m.byPath.Insert(key, pathLocks{lo.Token: lo})
}

func (m *Manager) removeLocked(lo *LockedObject) {
	delete(m.byToken, lo.Token)
	key := trieKey(lo.Path)
	item := m.byPath.Get(key)
	if item == nil {
		return
	}
	locks := item.(pathLocks)
	delete(locks, lo.Token)
	if len(locks) == 0 {
		m.byPath.Delete(key)
	}
}

// coveringLocked returns locks on path itself plus infinite-depth locks on
// its ancestors.
func (m *Manager) coveringLocked(path string) []*LockedObject {
	key := trieKey(path)
	seen := make(map[string]bool)
	var out []*LockedObject
	collect := func(item patricia.Item) {
		for _, lo := range item.(pathLocks) {
			if !seen[lo.Token] && lo.Covers(path) {
				seen[lo.Token] = true
				out = append(out, lo)
			}
		}
	}
	if item := m.byPath.Get(key); item != nil {
		collect(item)
	}
	_ = m.byPath.VisitPrefixes(key, func(_ patricia.Prefix, item patricia.Item) error {
		collect(item)
		return nil
	})
	return out
}

// overlappingLocked returns every lock that overlaps a lock at path with
// depth. The trie yields candidates on the ancestor chain and, for infinite
// depth, below path; the conflict rule decides.
func (m *Manager) overlappingLocked(path string, depth Depth) []*LockedObject {
	key := trieKey(path)
	seen := make(map[string]bool)
	var out []*LockedObject
	visit := func(_ patricia.Prefix, item patricia.Item) error {
		for _, lo := range item.(pathLocks) {
			if !seen[lo.Token] && lo.Overlaps(path, depth) {
				seen[lo.Token] = true
				out = append(out, lo)
			}
		}
		return nil
	}
	_ = m.byPath.VisitPrefixes(key, visit)
	if depth == DepthInfinity {
		_ = m.byPath.VisitSubtree(key, visit)
	} else if item := m.byPath.Get(key); item != nil {
		_ = visit(key, item)
	}
	return out
}

func (m *Manager) countsLocked() (persistent, temporary int) {
	for _, lo := range m.byToken {
		if lo.Temporary {
			temporary++
		} else {
			persistent++
		}
	}
	return persistent, temporary
}
