package bugzilla

import (
	"fmt"
	"strings"
)

// Kind identifies one of the entity kinds the tracker exposes.
type Kind string

// Supported entity kinds.
const (
	KindBug     Kind = "bug"
	KindComment Kind = "comment"
	KindHistory Kind = "history"
)

// Kinds lists every entity kind in pass order.
func Kinds() []Kind {
	return []Kind{KindBug, KindComment, KindHistory}
}

// ParseKind converts a user supplied name into a Kind.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindBug, KindComment, KindHistory:
		return k, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", raw)
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// defaultOverrides redirects trackers that do not follow the
// bugzilla.<subdomain>.org convention.
var defaultOverrides = map[string]string{
	"kde":     "http://bugs.kde.org/rest/bug",
	"freebsd": "https://bugs.freebsd.org/bugzilla/rest/bug",
}

// BaseURL returns the bug endpoint root for a tracker subdomain. Entries in
// extra win over the built-in override table, which wins over the default
// http://bugzilla.<subdomain>.org/rest/bug pattern.
func BaseURL(subdomain string, extra map[string]string) string {
	name := strings.ToLower(strings.TrimSpace(subdomain))
	if u, ok := extra[name]; ok && strings.TrimSpace(u) != "" {
		return strings.TrimRight(u, "/")
	}
	if u, ok := defaultOverrides[name]; ok {
		return u
	}
	return fmt.Sprintf("http://bugzilla.%s.org/rest/bug", name)
}
