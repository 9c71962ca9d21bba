package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const lockBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>alice</D:href></D:owner>
</D:lockinfo>`

func setupTestRouter(maxBytes int64) *gin.Engine {
	logger := zerolog.Nop()
	router := gin.New()
	router.Use(PayloadLimitErrorHandler(logger))
	router.Use(PayloadLimit(maxBytes, logger))

	router.Handle("LOCK", "/*path", func(c *gin.Context) {
		// Read the body to trigger any MaxBytesError
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.String(http.StatusOK, strconv.Itoa(len(body)))
	})

	return router
}

func TestPayloadLimit_UnderLimit(t *testing.T) {
	router := setupTestRouter(1024)

	req := httptest.NewRequest("LOCK", "/a/b.txt", strings.NewReader(lockBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, strconv.Itoa(len(lockBody)), w.Body.String())
}

func TestPayloadLimit_AtExactLimit(t *testing.T) {
	router := setupTestRouter(100)

	req := httptest.NewRequest("LOCK", "/a", strings.NewReader(strings.Repeat("x", 100)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPayloadLimit_OverLimit_ContentLength(t *testing.T) {
	router := setupTestRouter(100)

	req := httptest.NewRequest("LOCK", "/a", strings.NewReader(strings.Repeat("x", 200)))
	req.ContentLength = 200
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "request body exceeds 100B", w.Body.String())
}

func TestPayloadLimit_OverLimit_StreamedBody(t *testing.T) {
	router := setupTestRouter(100)

	// Unknown length, as with chunked encoding
	req := httptest.NewRequest("LOCK", "/a", bytes.NewReader([]byte(strings.Repeat("x", 200))))
	req.ContentLength = -1
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPayloadLimit_HandlerAlreadyResponded(t *testing.T) {
	router := gin.New()
	router.Use(PayloadLimitErrorHandler(zerolog.Nop()))
	router.Use(PayloadLimit(10, zerolog.Nop()))
	router.Handle("LOCK", "/*path", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			_ = c.Error(err)
			c.String(http.StatusBadRequest, "handled")
			return
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("LOCK", "/a", strings.NewReader(strings.Repeat("x", 50)))
	req.ContentLength = -1
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "handled", w.Body.String())
}

func TestPayloadLimit_EmptyBody(t *testing.T) {
	router := setupTestRouter(100)

	req := httptest.NewRequest("LOCK", "/a", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPayloadLimit_Disabled(t *testing.T) {
	router := setupTestRouter(0)

	req := httptest.NewRequest("LOCK", "/a", strings.NewReader(strings.Repeat("x", 4096)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPayloadLimit_HumanReadableLimit(t *testing.T) {
	router := setupTestRouter(64 * 1024)

	body := strings.Repeat("x", 64*1024+1)
	req := httptest.NewRequest("LOCK", "/a", strings.NewReader(body))
	req.ContentLength = int64(len(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "request body exceeds 64KiB", w.Body.String())
}
