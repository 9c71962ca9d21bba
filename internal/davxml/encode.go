package davxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kneutral-org/davlock/internal/locking"
)

const (
	// Namespace is the WebDAV XML namespace.
	Namespace = "DAV:"

	// lockTokenScheme prefixes lock tokens on the wire.
	lockTokenScheme = "opaquelocktoken:"
)

// LockTokenURI renders a token as an opaque-lock-token URI.
func LockTokenURI(token string) string {
	return lockTokenScheme + token
}

// ParseLockTokenURI extracts the token from "opaquelocktoken:<token>",
// optionally wrapped in angle brackets as in the Lock-Token header.
func ParseLockTokenURI(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	if !strings.HasPrefix(s, lockTokenScheme) {
		return "", false
	}
	token := strings.TrimSpace(s[len(lockTokenScheme):])
	return token, token != ""
}

// ActiveLock is the information reported for one lock in a lock-discovery
// document.
type ActiveLock struct {
	Scope locking.Scope
	Type  locking.Type
	Depth locking.Depth
	Owner string
	// TimeoutSeconds is the remaining lease; negative means no expiry.
	TimeoutSeconds int
	Token          string
}

// NewActiveLock builds the report for lo as seen at now. When owner is empty
// the lock's first owner is reported.
func NewActiveLock(lo locking.LockedObject, owner string, now time.Time) ActiveLock {
	if owner == "" && len(lo.Owners) > 0 {
		owner = lo.Owners[0]
	}
	return ActiveLock{
		Scope:          lo.Scope,
		Type:           lo.Type,
		Depth:          lo.Depth,
		Owner:          owner,
		TimeoutSeconds: lo.RemainingSeconds(now),
		Token:          lo.Token,
	}
}

// Timeout renders the lease as a Timeout value.
func (a ActiveLock) Timeout() string {
	if a.TimeoutSeconds < 0 {
		return "Infinity"
	}
	return "Second-" + strconv.Itoa(a.TimeoutSeconds)
}

type emptyElement struct {
	XMLName xml.Name
}

type xmlProp struct {
	XMLName       xml.Name         `xml:"D:prop"`
	Xmlns         string           `xml:"xmlns:D,attr"`
	LockDiscovery xmlLockDiscovery `xml:"D:lockdiscovery"`
}

type xmlLockDiscovery struct {
	ActiveLock xmlActiveLock `xml:"D:activelock"`
}

type xmlActiveLock struct {
	LockType  xmlWrapped `xml:"D:locktype"`
	LockScope xmlWrapped `xml:"D:lockscope"`
	Depth     string     `xml:"D:depth"`
	Owner     xmlHref    `xml:"D:owner"`
	Timeout   string     `xml:"D:timeout"`
	LockToken xmlHref    `xml:"D:locktoken"`
}

type xmlWrapped struct {
	Inner emptyElement
}

type xmlHref struct {
	Href string `xml:"D:href"`
}

// EncodeLockDiscovery writes the prop/lockdiscovery document for lock.
func EncodeLockDiscovery(w io.Writer, lock ActiveLock) error {
	doc := xmlProp{
		Xmlns: Namespace,
		LockDiscovery: xmlLockDiscovery{
			ActiveLock: xmlActiveLock{
				LockType:  xmlWrapped{Inner: emptyElement{XMLName: xml.Name{Local: "D:" + lock.Type.String()}}},
				LockScope: xmlWrapped{Inner: emptyElement{XMLName: xml.Name{Local: "D:" + lock.Scope.String()}}},
				Depth:     lock.Depth.String(),
				Owner:     xmlHref{Href: lock.Owner},
				Timeout:   lock.Timeout(),
				LockToken: xmlHref{Href: LockTokenURI(lock.Token)},
			},
		},
	}
	return encode(w, doc)
}

type xmlMultiStatus struct {
	XMLName   xml.Name      `xml:"D:multistatus"`
	Xmlns     string        `xml:"xmlns:D,attr"`
	Responses []xmlResponse `xml:"D:response"`
}

type xmlResponse struct {
	Href   string `xml:"D:href"`
	Status string `xml:"D:status"`
}

// EncodeMultiStatus writes a multistatus report with one response per path.
func EncodeMultiStatus(w io.Writer, statuses map[string]int) error {
	paths := make([]string, 0, len(statuses))
	for p := range statuses {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	doc := xmlMultiStatus{Xmlns: Namespace}
	for _, p := range paths {
		code := statuses[p]
		doc.Responses = append(doc.Responses, xmlResponse{
			Href:   p,
			Status: fmt.Sprintf("HTTP/1.1 %d %s", code, StatusText(code)),
		})
	}
	return encode(w, doc)
}

// StatusText is http.StatusText extended with the WebDAV codes.
func StatusText(code int) string {
	switch code {
	case http.StatusLocked:
		return "Locked"
	case http.StatusMultiStatus:
		return "Multi-Status"
	}
	return http.StatusText(code)
}

func encode(w io.Writer, doc interface{}) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	return enc.Flush()
}
