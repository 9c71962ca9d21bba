package webdav

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/davlock/internal/davxml"
)

// Header names read or written by the handler.
const (
	headerIf        = "If"
	headerTimeout   = "Timeout"
	headerDepth     = "Depth"
	headerLockToken = "Lock-Token"
	// HeaderLockOwner names the owner releasing a lock on UNLOCK.
	HeaderLockOwner = "X-Lock-Owner"

	xmlContentType = "application/xml; charset=utf-8"
)

// Handler serves LOCK and UNLOCK over HTTP.
type Handler struct {
	coordinator *Coordinator
	logger      zerolog.Logger
	now         func() time.Time
}

// NewHandler creates a new WebDAV lock handler.
func NewHandler(coordinator *Coordinator, logger zerolog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		logger:      logger.With().Str("component", "webdav").Logger(),
		now:         time.Now,
	}
}

// RegisterRoutes registers LOCK and UNLOCK for every path.
func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.Handle(MethodLock, "/*path", h.Lock)
	router.Handle(MethodUnlock, "/*path", h.Unlock)
}

// Lock handles LOCK requests.
func (h *Handler) Lock(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.fail(c, newError(http.StatusRequestEntityTooLarge, err))
			return
		}
		h.fail(c, newError(http.StatusBadRequest, err))
		return
	}

	res, err := h.coordinator.Lock(c.Request.Context(), LockInput{
		Path:      c.Param("path"),
		Body:      body,
		If:        c.GetHeader(headerIf),
		Timeout:   c.GetHeader(headerTimeout),
		Depth:     c.GetHeader(headerDepth),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	// A refresh names its token in the If header; only new locks get one back.
	if !res.Refreshed {
		c.Header(headerLockToken, "<"+davxml.LockTokenURI(res.Lock.Token)+">")
	}
	if res.Status == http.StatusNoContent {
		c.Status(http.StatusNoContent)
		return
	}

	var buf bytes.Buffer
	if err := davxml.EncodeLockDiscovery(&buf, davxml.NewActiveLock(res.Lock, res.Owner, h.now())); err != nil {
		h.fail(c, newError(http.StatusInternalServerError, err))
		return
	}
	c.Data(res.Status, xmlContentType, buf.Bytes())
}

// Unlock handles UNLOCK requests.
func (h *Handler) Unlock(c *gin.Context) {
	err := h.coordinator.Unlock(c.Request.Context(), UnlockInput{
		Path:      c.Param("path"),
		LockToken: c.GetHeader(headerLockToken),
		Owner:     c.GetHeader(HeaderLockOwner),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail writes the response for err. A 423 that names paths gets a
// multistatus body; everything else is a bare status.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status := StatusFor(err)

	var e *Error
	if status == http.StatusLocked && errors.As(err, &e) && len(e.Paths) > 0 {
		var buf bytes.Buffer
		if encErr := davxml.EncodeMultiStatus(&buf, e.StatusMap()); encErr != nil {
			h.logger.Error().Err(encErr).Msg("failed to encode multistatus")
			c.AbortWithStatus(status)
			return
		}
		c.Data(status, xmlContentType, buf.Bytes())
		c.Abort()
		return
	}
	c.AbortWithStatus(status)
}
