package locking

import (
	"path"
	"strings"
)

// CleanPath normalizes a slash-delimited resource path: it always starts
// with "/", has no trailing slash (except the root), and no "." or ".."
// segments.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// ParentPath returns the parent of p, or "" for the root.
func ParentPath(p string) string {
	p = CleanPath(p)
	if p == "/" {
		return ""
	}
	return path.Dir(p)
}

// IsDescendant reports whether p lies strictly below ancestor.
func IsDescendant(ancestor, p string) bool {
	ancestor = CleanPath(ancestor)
	p = CleanPath(p)
	if ancestor == p {
		return false
	}
	if ancestor == "/" {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// Overlaps implements the hierarchy conflict rule: locks at a (depth da) and
// b (depth db) overlap when the paths are equal or one is an infinite-depth
// lock on an ancestor of the other.
func Overlaps(a string, da Depth, b string, db Depth) bool {
	if a == b {
		return true
	}
	if da == DepthInfinity && IsDescendant(a, b) {
		return true
	}
	return db == DepthInfinity && IsDescendant(b, a)
}

// trieKey turns a clean path into a key whose prefixes line up with path
// segments: "/a/b" becomes "/a/b/" so that "/a/" is a prefix but "/a/bc/"
// is not below "/a/b/".
func trieKey(p string) []byte {
	if p == "/" {
		return []byte("/")
	}
	return []byte(p + "/")
}
