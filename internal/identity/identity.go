// Package identity derives a stable caller identity from request metadata.
//
// The identity is a transient value used only to partition rate-limit
// counters; it is never persisted verbatim. Authenticated callers are keyed
// by user id alone. Anonymous callers are keyed by whatever combination of
// client IP and device id is available — absent fields simply degrade key
// specificity, they are not errors.
package identity

import (
	"net/http"
	"strings"
)

// Kind distinguishes the two identity classes, which carry independent
// daily quotas.
type Kind string

const (
	// KindAnonymous identifies callers without a user id.
	KindAnonymous Kind = "anonymous"
	// KindAuthenticated identifies callers with a user id.
	KindAuthenticated Kind = "authenticated"
)

// Identity is a derived, non-persisted description of the caller.
type Identity struct {
	Kind        Kind
	IP          string // best-effort client IP; empty when unknown
	AnonymousID string // client-minted device id; empty when not yet minted
	UserID      string // set only for authenticated callers
}

// Resolve builds an Identity from request headers plus the optional user and
// anonymous ids extracted upstream (auth middleware, cookies).
//
// A non-empty userID takes precedence: IP and anonymous id are ignored for
// keying once a user id is present. Resolve has no side effects and no error
// conditions.
func Resolve(h http.Header, userID, anonymousID string) Identity {
	if strings.TrimSpace(userID) != "" {
		return Identity{Kind: KindAuthenticated, UserID: strings.TrimSpace(userID)}
	}
	return Identity{
		Kind:        KindAnonymous,
		IP:          ClientIP(h),
		AnonymousID: strings.TrimSpace(anonymousID),
	}
}

// Key returns the string used to partition rate-limit counters.
//
// Authenticated: "ratelimit:user:<id>". Anonymous: "ratelimit:anon:" plus the
// available parts ("ip:<ip>", "aid:<aid>") joined with ':'. An anonymous
// caller with neither IP nor device id collapses onto the bare anon key; that
// is the conservative choice, all such callers share one bucket.
func (id Identity) Key() string {
	if id.Kind == KindAuthenticated && id.UserID != "" {
		return "ratelimit:user:" + id.UserID
	}
	parts := make([]string, 0, 2)
	if id.IP != "" {
		parts = append(parts, "ip:"+id.IP)
	}
	if id.AnonymousID != "" {
		parts = append(parts, "aid:"+id.AnonymousID)
	}
	return "ratelimit:anon:" + strings.Join(parts, ":")
}

// Authenticated reports whether the identity carries a user id.
func (id Identity) Authenticated() bool { return id.Kind == KindAuthenticated }

// ClientIP extracts a best-effort client address from forwarding headers:
// the first entry of X-Forwarded-For, else X-Real-IP, else "".
func ClientIP(h http.Header) string {
	if v := h.Get("X-Forwarded-For"); v != "" {
		first := strings.TrimSpace(strings.SplitN(v, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	return strings.TrimSpace(h.Get("X-Real-IP"))
}

// AnonymizeIP reduces an IPv4 address to its first two octets for storage
// ("203.0.xxx.xxx"). Anything unparseable collapses to the fully masked form.
func AnonymizeIP(ip string) string {
	if ip == "" {
		return ""
	}
	parts := strings.Split(ip, ".")
	if len(parts) >= 2 {
		return parts[0] + "." + parts[1] + ".xxx.xxx"
	}
	return "xxx.xxx.xxx.xxx"
}
