// Package webdav implements the WebDAV LOCK and UNLOCK methods on top of the
// lock table and the resource store.
package webdav

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/davlock/internal/davxml"
	"github.com/kneutral-org/davlock/internal/locking"
	"github.com/kneutral-org/davlock/internal/logging"
	"github.com/kneutral-org/davlock/internal/metrics"
	"github.com/kneutral-org/davlock/internal/store"
)

// WebDAV methods handled here.
const (
	MethodLock   = "LOCK"
	MethodUnlock = "UNLOCK"
)

// Request branches, used as the metrics branch label.
const (
	branchRefresh      = "refresh"
	branchExisting     = "existing"
	branchNullResource = "null_resource"
	branchUnlock       = "unlock"
	branchRejected     = "rejected"
)

// LockInput is a LOCK request as seen by the coordinator.
type LockInput struct {
	Path      string
	Body      []byte
	If        string
	Timeout   string
	Depth     string
	UserAgent string
}

// LockResult is the outcome of a successful LOCK.
type LockResult struct {
	// Status is 200, 201, or 204.
	Status int
	Lock   locking.LockedObject
	// Owner is the owner reported in the lock-discovery document.
	Owner     string
	Refreshed bool
}

// UnlockInput is an UNLOCK request as seen by the coordinator.
type UnlockInput struct {
	Path string
	// LockToken is the raw Lock-Token header value.
	LockToken string
	// Owner may be empty when the lock has a single owner.
	Owner string
}

// CoordinatorConfig holds coordinator settings.
type CoordinatorConfig struct {
	ReadOnly bool
	// TemporaryTimeoutSeconds is the lease of request-scoped locks.
	TemporaryTimeoutSeconds int
	Quirks                  *ClientClassifier
}

// Coordinator runs LOCK and UNLOCK requests against the lock table and the
// resource store.
type Coordinator struct {
	locks  *locking.Manager
	store  store.ResourceStore
	config CoordinatorConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewCoordinator creates a coordinator with the provided dependencies.
func NewCoordinator(locks *locking.Manager, resources store.ResourceStore, config CoordinatorConfig, logger zerolog.Logger) *Coordinator {
	if config.TemporaryTimeoutSeconds <= 0 {
		config.TemporaryTimeoutSeconds = locking.TemporaryTimeoutSeconds
	}
	if config.Quirks == nil {
		config.Quirks = DefaultClientClassifier()
	}
	return &Coordinator{
		locks:  locks,
		store:  resources,
		config: config,
		logger: logger.With().Str("component", "webdav").Logger(),
		now:    time.Now,
	}
}

// Lock handles a LOCK request. Every failure is returned as an *Error.
//
// The target and its parent are held under request-scoped temporary locks
// for the whole request, so concurrent requests on the same path never
// interleave their store and lock-table steps. Both are released on return.
func (c *Coordinator) Lock(ctx context.Context, in LockInput) (res *LockResult, err error) {
	start := time.Now()
	path := locking.CleanPath(in.Path)
	logger := logging.LockLogger(logging.LoggerFromContext(ctx, c.logger), path, "")
	branch := branchRejected

	defer func() {
		status := http.StatusOK
		if err != nil {
			status = StatusFor(err)
		} else if res != nil {
			status = res.Status
		}
		metrics.RecordLockRequest(MethodLock, branch, strconv.Itoa(status))
		metrics.RecordLockRequestDuration(MethodLock, branch, time.Since(start).Seconds())
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("branch", branch).Msg("lock request failed")
		}
	}()

	if c.config.ReadOnly {
		return nil, newError(http.StatusForbidden, ErrReadOnly)
	}

	holder := "lock-request:" + uuid.NewString()
	release, err := c.holdTemporary(holder, path)
	if err != nil {
		return nil, err
	}
	defer release()

	if in.If != "" {
		branch = branchRefresh
		return c.refresh(in, logger)
	}

	quirks := c.config.Quirks.Classify(in.UserAgent)
	info, err := c.lockInfo(in, quirks)
	if err != nil {
		return nil, err
	}
	depth, err := ParseDepth(in.Depth)
	if err != nil {
		return nil, newError(http.StatusBadRequest, err)
	}
	seconds := c.locks.Policy().Parse(in.Timeout)

	obj, err := c.getObject(ctx, path)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, err)
	}

	req := acquireRequest{path: path, info: info, depth: depth, seconds: seconds, holder: holder}
	if obj != nil {
		branch = branchExisting
		lo, err := c.acquire(req)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("token", lo.Token).Str("scope", lo.Scope.String()).Msg("lock granted")
		return &LockResult{Status: http.StatusOK, Lock: lo, Owner: info.Owner}, nil
	}

	branch = branchNullResource
	lo, err := c.lockNullResource(ctx, req)
	if err != nil {
		return nil, err
	}
	status := http.StatusCreated
	if quirks.NoContentOnCreate {
		status = http.StatusNoContent
	}
	logger.Info().Str("token", lo.Token).Str("scope", lo.Scope.String()).Msg("null-resource lock granted")
	return &LockResult{Status: status, Lock: lo, Owner: info.Owner}, nil
}

// holdTemporary takes temporary locks on path and its parent for holder.
// The returned func releases both and is safe to call once.
func (c *Coordinator) holdTemporary(holder, path string) (func(), error) {
	held := make([]string, 0, 2)
	release := func() {
		for _, p := range held {
			c.locks.ReleaseTemporary(p, holder)
		}
	}

	targets := []string{path}
	if parent := locking.ParentPath(path); parent != "" {
		targets = append(targets, parent)
	}
	for _, p := range targets {
		if _, err := c.locks.AcquireTemporary(p, holder, c.config.TemporaryTimeoutSeconds); err != nil {
			release()
			return nil, conflictError(err)
		}
		held = append(held, p)
	}
	return release, nil
}

func (c *Coordinator) refresh(in LockInput, logger zerolog.Logger) (*LockResult, error) {
	tokens := IfHeaderTokens(in.If)
	if len(tokens) == 0 {
		return nil, newError(http.StatusPreconditionFailed, ErrUnknownToken)
	}
	token := tokens[0]

	lo, err := c.locks.Refresh(token, c.locks.Policy().Parse(in.Timeout))
	if err != nil {
		return nil, newError(http.StatusPreconditionFailed, errors.Join(ErrUnknownToken, err))
	}
	logger.Info().Str("token", token).Time("expiresAt", lo.ExpiresAt).Msg("lock refreshed")

	owner := ""
	if len(lo.Owners) > 0 {
		owner = lo.Owners[0]
	}
	return &LockResult{Status: http.StatusOK, Lock: lo, Owner: owner, Refreshed: true}, nil
}

// lockInfo decodes the request body, or synthesizes an exclusive write
// request for clients known to send none.
func (c *Coordinator) lockInfo(in LockInput, quirks ClientQuirks) (davxml.LockInfo, error) {
	if quirks.EmptyLockBody {
		return davxml.LockInfo{
			Scope: locking.ScopeExclusive,
			Type:  locking.TypeWrite,
			Owner: in.UserAgent + strconv.FormatInt(c.now().UnixMilli(), 10),
		}, nil
	}
	info, err := davxml.Decode(in.Body)
	if err != nil {
		return davxml.LockInfo{}, newError(http.StatusBadRequest, err)
	}
	return info, nil
}

type acquireRequest struct {
	path    string
	info    davxml.LockInfo
	depth   locking.Depth
	seconds int
	holder  string
}

func (r acquireRequest) options(extra ...locking.AcquireOption) []locking.AcquireOption {
	return append([]locking.AcquireOption{
		locking.WithHolder(r.holder),
		locking.WithType(r.info.Type),
	}, extra...)
}

func (c *Coordinator) acquire(r acquireRequest, extra ...locking.AcquireOption) (locking.LockedObject, error) {
	var (
		lo  locking.LockedObject
		err error
	)
	if r.info.Scope == locking.ScopeShared {
		lo, err = c.locks.AcquireShared(r.path, r.info.Owner, r.depth, r.seconds, r.options(extra...)...)
	} else {
		lo, err = c.locks.AcquireExclusive(r.path, r.info.Owner, r.depth, r.seconds, r.options(extra...)...)
	}
	if err != nil {
		return locking.LockedObject{}, conflictError(err)
	}
	return lo, nil
}

// lockNullResource creates a placeholder for a missing target and locks it.
// The table is checked first so a doomed request leaves the store untouched.
func (c *Coordinator) lockNullResource(ctx context.Context, r acquireRequest) (locking.LockedObject, error) {
	if err := c.locks.CheckAvailable(r.path, r.info.Scope, r.depth, locking.WithHolder(r.holder)); err != nil {
		return locking.LockedObject{}, conflictError(err)
	}

	// createdParent is set when this request created the parent folder.
	var createdParent string
	if parentPath := locking.ParentPath(r.path); parentPath != "" {
		parent, err := c.getObject(ctx, parentPath)
		if err != nil {
			return locking.LockedObject{}, newError(http.StatusInternalServerError, err)
		}
		switch {
		case parent == nil:
			if err := c.timeStore("create_folder", func() error {
				_, err := c.store.CreateFolder(ctx, parentPath)
				return err
			}); err != nil {
				if errors.Is(err, store.ErrParentNotFound) {
					return locking.LockedObject{}, newError(http.StatusPreconditionFailed, ErrInvalidParent)
				}
				if !errors.Is(err, store.ErrExists) {
					return locking.LockedObject{}, newError(http.StatusInternalServerError, err)
				}
			} else {
				createdParent = parentPath
			}
		case parent.IsResource():
			return locking.LockedObject{}, newError(http.StatusPreconditionFailed, ErrInvalidParent)
		}
	}

	err := c.timeStore("create_resource", func() error {
		_, err := c.store.CreateResource(ctx, r.path)
		return err
	})
	switch {
	case errors.Is(err, store.ErrExists):
		return locking.LockedObject{}, &Error{Status: http.StatusLocked, Paths: []string{r.path}, Err: ErrTargetExists}
	case errors.Is(err, store.ErrParentNotFound):
		return locking.LockedObject{}, newError(http.StatusPreconditionFailed, ErrInvalidParent)
	case err != nil:
		return locking.LockedObject{}, newError(http.StatusInternalServerError, err)
	}

	if err := c.timeStore("set_null_resource", func() error {
		return c.store.SetNullResource(ctx, r.path, true)
	}); err != nil {
		c.discardCreated(ctx, r.path, createdParent)
		return locking.LockedObject{}, newError(http.StatusInternalServerError, err)
	}

	lo, err := c.acquire(r, locking.AsNullResource())
	if err != nil {
		c.discardCreated(ctx, r.path, createdParent)
		return locking.LockedObject{}, err
	}
	return lo, nil
}

// discardCreated removes the placeholder at path and, when this request
// created it, the parent folder.
func (c *Coordinator) discardCreated(ctx context.Context, path, createdParent string) {
	for _, p := range []string{path, createdParent} {
		if p == "" {
			continue
		}
		if err := c.timeStore("delete", func() error {
			return c.store.DeleteObject(ctx, p)
		}); err != nil {
			c.logger.Warn().Err(err).Str("path", p).Msg("failed to remove object created for lock")
		}
	}
}

// Unlock handles an UNLOCK request. The token must name a lock that covers
// the request path. Removing the last owner of a null-resource lock deletes
// its placeholder; the lock's path and parent stay under temporary locks
// until the store is updated.
func (c *Coordinator) Unlock(ctx context.Context, in UnlockInput) (err error) {
	start := time.Now()
	path := locking.CleanPath(in.Path)
	logger := logging.LockLogger(logging.LoggerFromContext(ctx, c.logger), path, "")

	defer func() {
		status := http.StatusNoContent
		if err != nil {
			status = StatusFor(err)
		}
		metrics.RecordLockRequest(MethodUnlock, branchUnlock, strconv.Itoa(status))
		metrics.RecordLockRequestDuration(MethodUnlock, branchUnlock, time.Since(start).Seconds())
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Msg("unlock request failed")
		}
	}()

	if c.config.ReadOnly {
		return newError(http.StatusForbidden, ErrReadOnly)
	}

	token, ok := davxml.ParseLockTokenURI(in.LockToken)
	if !ok {
		return newError(http.StatusBadRequest, ErrMissingToken)
	}

	held, found := c.locks.FindByToken(token)
	if !found {
		return newError(http.StatusConflict, ErrUnknownToken)
	}
	if !held.Covers(path) {
		return newError(http.StatusConflict, ErrTokenMismatch)
	}

	owner := in.Owner
	if owner == "" {
		if len(held.Owners) != 1 {
			return newError(http.StatusForbidden, ErrOwnerUnspecified)
		}
		owner = held.Owners[0]
	}

	release, err := c.holdTemporary("lock-request:"+uuid.NewString(), held.Path)
	if err != nil {
		return err
	}
	defer release()

	lo, removed, err := c.locks.Unlock(token, owner)
	switch {
	case errors.Is(err, locking.ErrNotFound):
		return newError(http.StatusConflict, ErrUnknownToken)
	case errors.Is(err, locking.ErrForbidden):
		return newError(http.StatusForbidden, err)
	case err != nil:
		return newError(http.StatusInternalServerError, err)
	}
	logger.Info().Str("token", token).Bool("removed", removed).Msg("lock released")

	if removed && lo.NullResource {
		obj, err := c.getObject(ctx, lo.Path)
		if err != nil {
			return newError(http.StatusInternalServerError, err)
		}
		// The placeholder may have been written to since; only an untouched
		// null resource is removed.
		if obj != nil && obj.NullResource {
			if err := c.timeStore("delete", func() error {
				return c.store.DeleteObject(ctx, lo.Path)
			}); err != nil {
				return newError(http.StatusInternalServerError, err)
			}
		}
	}
	return nil
}

func (c *Coordinator) getObject(ctx context.Context, path string) (*store.Object, error) {
	var obj *store.Object
	err := c.timeStore("get", func() error {
		var err error
		obj, err = c.store.GetObject(ctx, path)
		return err
	})
	return obj, err
}

func (c *Coordinator) timeStore(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStoreOperation(operation, time.Since(start).Seconds())
	return err
}
