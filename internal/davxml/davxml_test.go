package davxml

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/davlock/internal/locking"
)

const exclusiveWriteBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner>
    <D:href>alice</D:href>
  </D:owner>
</D:lockinfo>`

func TestDecode_ExclusiveWrite(t *testing.T) {
	info, err := Decode([]byte(exclusiveWriteBody))
	require.NoError(t, err)

	assert.Equal(t, locking.ScopeExclusive, info.Scope)
	assert.Equal(t, locking.TypeWrite, info.Type)
	assert.Equal(t, "alice", info.Owner)
}

func TestDecode_SharedPlainOwner(t *testing.T) {
	body := `<lockinfo xmlns="DAV:"><lockscope><shared/></lockscope><locktype><write/></locktype><owner>bob</owner></lockinfo>`

	info, err := Decode([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, locking.ScopeShared, info.Scope)
	assert.Equal(t, "bob", info.Owner)
}

func TestDecode_OtherPrefix(t *testing.T) {
	body := `<a:lockinfo xmlns:a="DAV:"><a:locktype><a:read/></a:locktype><a:lockscope><a:shared/></a:lockscope><a:owner>carol</a:owner></a:lockinfo>`

	info, err := Decode([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, locking.TypeRead, info.Type)
	assert.Equal(t, locking.ScopeShared, info.Scope)
	assert.Equal(t, "carol", info.Owner)
}

func TestDecode_StructuredOwnerFirstTextWins(t *testing.T) {
	body := `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype>` +
		`<D:owner><D:href>http://example.com/~alice</D:href><D:note>ignored</D:note></D:owner></D:lockinfo>`

	info, err := Decode([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "http://example.com/~alice", info.Owner)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not xml", "this is not xml"},
		{"truncated", `<D:lockinfo xmlns:D="DAV:"><D:lockscope>`},
		{"wrong root", `<D:propfind xmlns:D="DAV:"><D:prop/></D:propfind>`},
		{"missing scope", `<D:lockinfo xmlns:D="DAV:"><D:locktype><D:write/></D:locktype><D:owner>a</D:owner></D:lockinfo>`},
		{"empty scope", `<D:lockinfo xmlns:D="DAV:"><D:lockscope/><D:locktype><D:write/></D:locktype><D:owner>a</D:owner></D:lockinfo>`},
		{"unknown scope", `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:weird/></D:lockscope><D:locktype><D:write/></D:locktype><D:owner>a</D:owner></D:lockinfo>`},
		{"missing type", `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:owner>a</D:owner></D:lockinfo>`},
		{"unknown type", `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:delete/></D:locktype><D:owner>a</D:owner></D:lockinfo>`},
		{"missing owner", `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`},
		{"blank owner", `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype><D:owner>  </D:owner></D:lockinfo>`},
		{"comment under root", `<D:lockinfo xmlns:D="DAV:"><!-- hi --><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype><D:owner>a</D:owner></D:lockinfo>`},
		{"processing instruction under root", `<D:lockinfo xmlns:D="DAV:"><?pi data?><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype><D:owner>a</D:owner></D:lockinfo>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRequest), "got %v", err)
		})
	}
}

func TestDecode_CommentInPrologAllowed(t *testing.T) {
	body := `<?xml version="1.0"?><!-- client note -->` + strings.TrimPrefix(exclusiveWriteBody, `<?xml version="1.0" encoding="utf-8" ?>`)

	_, err := Decode([]byte(body))
	assert.NoError(t, err)
}

func TestEncodeLockDiscovery(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lo := locking.LockedObject{
		Token:     "1234-abcd",
		Path:      "/a/b.txt",
		Scope:     locking.ScopeExclusive,
		Type:      locking.TypeWrite,
		Depth:     locking.DepthInfinity,
		Owners:    []string{"alice"},
		ExpiresAt: now.Add(600 * time.Second),
	}

	var buf bytes.Buffer
	err := EncodeLockDiscovery(&buf, NewActiveLock(lo, "", now))
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, `<D:prop xmlns:D="DAV:">`)
	assert.Contains(t, out, "<D:lockdiscovery><D:activelock>")
	assert.Contains(t, out, "<D:locktype><D:write></D:write></D:locktype>")
	assert.Contains(t, out, "<D:lockscope><D:exclusive></D:exclusive></D:lockscope>")
	assert.Contains(t, out, "<D:depth>Infinity</D:depth>")
	assert.Contains(t, out, "<D:owner><D:href>alice</D:href></D:owner>")
	assert.Contains(t, out, "<D:timeout>Second-600</D:timeout>")
	assert.Contains(t, out, "<D:locktoken><D:href>opaquelocktoken:1234-abcd</D:href></D:locktoken>")
}

func TestEncodeLockDiscovery_SharedDepthZeroOwnerOverride(t *testing.T) {
	now := time.Now()
	lo := locking.LockedObject{
		Token:     "tok",
		Scope:     locking.ScopeShared,
		Type:      locking.TypeRead,
		Depth:     locking.DepthZero,
		Owners:    []string{"alice", "bob"},
		ExpiresAt: now.Add(30 * time.Second),
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeLockDiscovery(&buf, NewActiveLock(lo, "bob", now)))

	out := buf.String()
	assert.Contains(t, out, "<D:shared></D:shared>")
	assert.Contains(t, out, "<D:read></D:read>")
	assert.Contains(t, out, "<D:depth>0</D:depth>")
	assert.Contains(t, out, "<D:href>bob</D:href>")
}

func TestActiveLock_Timeout(t *testing.T) {
	assert.Equal(t, "Second-60", ActiveLock{TimeoutSeconds: 60}.Timeout())
	assert.Equal(t, "Infinity", ActiveLock{TimeoutSeconds: -1}.Timeout())
}

func TestEncodeMultiStatus(t *testing.T) {
	var buf bytes.Buffer
	err := EncodeMultiStatus(&buf, map[string]int{
		"/a/b.txt": http.StatusLocked,
		"/a":       http.StatusLocked,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `<D:multistatus xmlns:D="DAV:">`)
	assert.Contains(t, out, "<D:response><D:href>/a/b.txt</D:href><D:status>HTTP/1.1 423 Locked</D:status></D:response>")
	// Sorted output
	assert.Less(t, strings.Index(out, "<D:href>/a</D:href>"), strings.Index(out, "<D:href>/a/b.txt</D:href>"))
}

func TestLockTokenURI(t *testing.T) {
	assert.Equal(t, "opaquelocktoken:abc", LockTokenURI("abc"))

	token, ok := ParseLockTokenURI("<opaquelocktoken:abc>")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	token, ok = ParseLockTokenURI("opaquelocktoken:abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = ParseLockTokenURI("<urn:uuid:abc>")
	assert.False(t, ok)
	_, ok = ParseLockTokenURI("<opaquelocktoken:>")
	assert.False(t, ok)
}
