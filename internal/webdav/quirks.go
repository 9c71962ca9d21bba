package webdav

import "strings"

// Default client signatures matched against User-Agent.
var (
	// DefaultEmptyBodySignatures identifies clients that send LOCK without a
	// lockinfo body (Mac OS Finder).
	DefaultEmptyBodySignatures = []string{"Darwin"}

	// DefaultNoContentSignatures identifies clients that expect 204 instead
	// of 201 when a null-resource lock is created.
	DefaultNoContentSignatures = []string{"Transmit"}
)

// ClientQuirks lists the workarounds a client needs.
type ClientQuirks struct {
	EmptyLockBody     bool
	NoContentOnCreate bool
}

// ClientClassifier recognises clients by User-Agent substring.
type ClientClassifier struct {
	emptyBody []string
	noContent []string
}

// NewClientClassifier creates a classifier from the given signatures.
// Blank signatures are ignored.
func NewClientClassifier(emptyBody, noContent []string) *ClientClassifier {
	return &ClientClassifier{
		emptyBody: nonBlank(emptyBody),
		noContent: nonBlank(noContent),
	}
}

// DefaultClientClassifier returns a classifier with the built-in signatures.
func DefaultClientClassifier() *ClientClassifier {
	return NewClientClassifier(DefaultEmptyBodySignatures, DefaultNoContentSignatures)
}

// Classify returns the quirks for userAgent.
func (c *ClientClassifier) Classify(userAgent string) ClientQuirks {
	if c == nil || userAgent == "" {
		return ClientQuirks{}
	}
	return ClientQuirks{
		EmptyLockBody:     containsAny(userAgent, c.emptyBody),
		NoContentOnCreate: containsAny(userAgent, c.noContent),
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
