// Package davxml encodes and decodes the XML documents exchanged by the
// WebDAV LOCK method.
package davxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kneutral-org/davlock/internal/locking"
)

// ErrMalformedRequest is returned when a lockinfo body cannot be decoded.
var ErrMalformedRequest = errors.New("malformed lock request")

// LockInfo is the decoded content of a LOCK request body.
type LockInfo struct {
	Scope locking.Scope
	Type  locking.Type
	Owner string
}

// nodeKind tags the variants of node.
type nodeKind int

const (
	elementNode nodeKind = iota
	textNode
	otherNode // comments, processing instructions, directives
)

// node is a minimal document tree: an element with children, a text run,
// or some other markup the decoder only needs to reject.
type node struct {
	kind     nodeKind
	name     xml.Name
	text     string
	children []*node
}

// Decode parses a lockinfo document.
//
// Direct children of the root are matched by local-name suffix so that
// prefixed and unprefixed serializations both decode. Comments, processing
// instructions, and directives directly under the root are rejected. The
// owner is the first non-blank text found inside the owner element; a
// structured owner such as <href>...</href> yields only that first text.
func Decode(body []byte) (LockInfo, error) {
	root, err := parseTree(body)
	if err != nil {
		return LockInfo{}, err
	}
	if !strings.HasSuffix(root.name.Local, "lockinfo") {
		return LockInfo{}, malformed("root element is %q, want lockinfo", root.name.Local)
	}

	var scopeNode, typeNode, ownerNode *node
	for _, child := range root.children {
		switch child.kind {
		case textNode:
			continue
		case otherNode:
			return LockInfo{}, malformed("unexpected markup inside lockinfo")
		}
		local := child.name.Local
		switch {
		case strings.HasSuffix(local, "locktype"):
			typeNode = child
		case strings.HasSuffix(local, "lockscope"):
			scopeNode = child
		case strings.HasSuffix(local, "owner"):
			ownerNode = child
		}
	}

	var info LockInfo

	if scopeNode == nil {
		return LockInfo{}, malformed("missing lockscope")
	}
	scope := lastElementChild(scopeNode)
	switch {
	case scope == nil:
		return LockInfo{}, malformed("empty lockscope")
	case strings.HasSuffix(scope.name.Local, "exclusive"):
		info.Scope = locking.ScopeExclusive
	case strings.HasSuffix(scope.name.Local, "shared"):
		info.Scope = locking.ScopeShared
	default:
		return LockInfo{}, malformed("unknown lockscope %q", scope.name.Local)
	}

	if typeNode == nil {
		return LockInfo{}, malformed("missing locktype")
	}
	lockType := lastElementChild(typeNode)
	switch {
	case lockType == nil:
		return LockInfo{}, malformed("empty locktype")
	case strings.HasSuffix(lockType.name.Local, "write"):
		info.Type = locking.TypeWrite
	case strings.HasSuffix(lockType.name.Local, "read"):
		info.Type = locking.TypeRead
	default:
		return LockInfo{}, malformed("unknown locktype %q", lockType.name.Local)
	}

	if ownerNode == nil {
		return LockInfo{}, malformed("missing owner")
	}
	owner, ok := firstText(ownerNode)
	if !ok {
		return LockInfo{}, malformed("owner has no text")
	}
	info.Owner = owner

	return info, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}

// parseTree reads the whole document into a node tree and returns its root
// element.
func parseTree(body []byte) (*node, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, malformed("empty body")
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	var root *node
	var stack []*node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{kind: elementNode, name: t.Name}
			if len(stack) == 0 {
				if root != nil {
					return nil, malformed("multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, &node{kind: textNode, text: string(t)})
			}
		case xml.Comment, xml.ProcInst, xml.Directive:
			// Prolog markup outside the root is fine.
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, &node{kind: otherNode})
			}
		}
	}
	if root == nil {
		return nil, malformed("no root element")
	}
	return root, nil
}

// lastElementChild returns the last element child of n, or nil.
func lastElementChild(n *node) *node {
	var found *node
	for _, child := range n.children {
		if child.kind == elementNode {
			found = child
		}
	}
	return found
}

// firstText returns the first non-blank text inside n, depth first.
func firstText(n *node) (string, bool) {
	for _, child := range n.children {
		switch child.kind {
		case textNode:
			if s := strings.TrimSpace(child.text); s != "" {
				return s, true
			}
		case elementNode:
			if s, ok := firstText(child); ok {
				return s, true
			}
		}
	}
	return "", false
}
