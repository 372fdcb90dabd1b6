package twitter

import (
	"strings"

	"github.com/iconidentify/twmd/internal/session"
)

// AuthTriple is one credential combination presented to the GraphQL API:
// the session cookie, its CSRF twin, and an optional guest token.
type AuthTriple struct {
	AuthToken  string
	CT0        string
	GuestToken string
}

// ExtractAuthTriples enumerates every plausible (auth_token, ct0) pair in
// a session, domain-aligned pairs first, then the full cross-product of
// all distinct values, de-duplicated by authToken|ct0. The guest token is
// any guest_id or gt cookie value found in the session.
func ExtractAuthTriples(sess *session.Session) []AuthTriple {
	if sess == nil {
		return nil
	}

	type cred struct {
		value  string
		domain string
	}
	var authTokens, ct0s []cred
	guestToken := ""

	for _, c := range sess.Cookies {
		name := strings.ToLower(session.CookieName(c))
		value := session.CookieValue(c)
		if value == "" {
			continue
		}
		switch name {
		case "auth_token":
			authTokens = append(authTokens, cred{value, session.CookieDomain(c)})
		case "ct0":
			ct0s = append(ct0s, cred{value, session.CookieDomain(c)})
		case "guest_id", "gt":
			if guestToken == "" {
				guestToken = value
			}
		}
	}

	var triples []AuthTriple
	seen := make(map[string]bool)
	add := func(a, c string) {
		key := a + "|" + c
		if seen[key] {
			return
		}
		seen[key] = true
		triples = append(triples, AuthTriple{AuthToken: a, CT0: c, GuestToken: guestToken})
	}

	// Domain-aligned pairs first: these are the combinations the browser
	// actually used together.
	for _, a := range authTokens {
		for _, c := range ct0s {
			if a.domain != "" && a.domain == c.domain {
				add(a.value, c.value)
			}
		}
	}

	// Then every remaining combination, so a ct0 captured on one domain
	// can still be tried with an auth_token from the other.
	for _, a := range authTokens {
		for _, c := range ct0s {
			add(a.value, c.value)
		}
	}

	return triples
}
