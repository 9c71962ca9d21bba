package webdav

import (
	"strings"

	"github.com/kneutral-org/davlock/internal/davxml"
	"github.com/kneutral-org/davlock/internal/locking"
)

// ParseDepth reads a Depth header for LOCK. Only "0" and "infinity" are
// valid; an absent header means infinity.
func ParseDepth(v string) (locking.Depth, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "infinity":
		return locking.DepthInfinity, nil
	case "0":
		return locking.DepthZero, nil
	}
	return 0, ErrInvalidDepth
}

// IfHeaderTokens returns the lock tokens referenced by an If header, in the
// order they appear. Non-lock-token state tokens and resource tags are skipped.
func IfHeaderTokens(v string) []string {
	var tokens []string
	for {
		start := strings.IndexByte(v, '<')
		if start < 0 {
			return tokens
		}
		end := strings.IndexByte(v[start:], '>')
		if end < 0 {
			return tokens
		}
		if token, ok := davxml.ParseLockTokenURI(v[start : start+end+1]); ok {
			tokens = append(tokens, token)
		}
		v = v[start+end+1:]
	}
}
