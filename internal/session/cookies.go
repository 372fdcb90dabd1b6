package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iconidentify/twmd/internal/domain"
)

// The two interchangeable platform domains. Cookies scoped to either are
// kept in sync so every request path can present the same credentials.
const (
	DomainX       = "x.com"
	DomainTwitter = "twitter.com"
)

// RequiredCookieNames is the default set a usable session must carry.
var RequiredCookieNames = []string{"auth_token", "ct0"}

// cookie is the parsed form of a single Set-Cookie-style record.
type cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// String renders the canonical single-cookie form.
func (c cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString("=")
	b.WriteString(c.Value)
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	return b.String()
}

// NormalizeCookies parses a free-form cookie blob and returns a
// normalized, de-duplicated list of single-cookie strings. Three input
// shapes are auto-detected: a legacy tab-separated jar, one cookie per
// line, or a single Cookie-header line. Cookies scoped to one platform
// domain are materialized against both.
func NormalizeCookies(blob string) []string {
	cookies := parseBlob(blob)

	var out []string
	seen := make(map[string]bool)
	emit := func(c cookie) {
		s := c.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, c := range cookies {
		c.Domain = canonicalDomain(c.Domain)
		// Cookies without a domain came from a Cookie header captured on
		// the platform itself, so they scope to the platform domains too.
		if c.Domain == "" || isPlatformDomain(c.Domain) {
			for _, d := range []string{DomainX, DomainTwitter} {
				cc := c
				cc.Domain = "." + d
				emit(cc)
			}
			continue
		}
		emit(c)
	}
	return out
}

// CookieName extracts the name before the first '=' of the first segment.
func CookieName(cookieStr string) string {
	first := cookieStr
	if i := strings.Index(first, ";"); i >= 0 {
		first = first[:i]
	}
	if i := strings.Index(first, "="); i >= 0 {
		return strings.TrimSpace(first[:i])
	}
	return strings.TrimSpace(first)
}

// CookieValue extracts the value of the first segment.
func CookieValue(cookieStr string) string {
	first := cookieStr
	if i := strings.Index(first, ";"); i >= 0 {
		first = first[:i]
	}
	if i := strings.Index(first, "="); i >= 0 {
		return strings.TrimSpace(first[i+1:])
	}
	return ""
}

// CookieDomain extracts the normalized Domain attribute, if any.
func CookieDomain(cookieStr string) string {
	for _, seg := range strings.Split(cookieStr, ";")[1:] {
		seg = strings.TrimSpace(seg)
		if i := strings.Index(seg, "="); i >= 0 {
			if strings.EqualFold(strings.TrimSpace(seg[:i]), "domain") {
				return canonicalDomain(seg[i+1:])
			}
		}
	}
	return ""
}

// ValidateRequired checks that every required cookie name is present,
// comparing case-insensitively. The returned error names the missing
// cookies without revealing any values.
func ValidateRequired(cookies []string, required []string) error {
	if len(required) == 0 {
		required = RequiredCookieNames
	}
	present := make(map[string]bool, len(cookies))
	for _, c := range cookies {
		present[strings.ToLower(CookieName(c))] = true
	}
	var missing []string
	for _, name := range required {
		if !present[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", domain.ErrMissingCookies, strings.Join(missing, ", "))
	}
	return nil
}

// CookieHeader projects the cookie list onto a Cookie request header,
// keeping the first value seen for each name.
func CookieHeader(cookies []string) string {
	var pairs []string
	seen := make(map[string]bool)
	for _, c := range cookies {
		name := CookieName(c)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		pairs = append(pairs, name+"="+CookieValue(c))
	}
	return strings.Join(pairs, "; ")
}

func canonicalDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	return strings.TrimPrefix(d, ".")
}

func isPlatformDomain(d string) bool {
	return d == DomainX || d == DomainTwitter ||
		strings.HasSuffix(d, "."+DomainX) || strings.HasSuffix(d, "."+DomainTwitter)
}

// cookieAttrs are segment names treated as attributes of the preceding
// cookie rather than the start of a new one.
var cookieAttrs = map[string]bool{
	"domain": true, "path": true, "expires": true,
	"max-age": true, "samesite": true, "secure": true, "httponly": true,
}

func parseBlob(blob string) []cookie {
	lines := nonEmptyLines(blob)

	// Legacy tab-separated jar: 7 fields per line.
	if isJarFormat(lines) {
		return parseJar(lines)
	}

	var cookies []cookie
	for _, line := range lines {
		cookies = append(cookies, parseCookieLine(line)...)
	}
	return cookies
}

func nonEmptyLines(blob string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(blob, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func isJarFormat(lines []string) bool {
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") && !strings.HasPrefix(strings.TrimSpace(line), "#HttpOnly_") {
			continue
		}
		if len(strings.Split(line, "\t")) >= 7 {
			return true
		}
	}
	return false
}

// parseJar handles the Netscape cookie-jar format:
// domain, include-subdomains, path, secure, expiry, name, value.
// A #HttpOnly_ domain prefix is retained as the HttpOnly attribute.
func parseJar(lines []string) []cookie {
	var cookies []cookie
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		httpOnly := false
		if strings.HasPrefix(trimmed, "#HttpOnly_") {
			httpOnly = true
			line = strings.Replace(line, "#HttpOnly_", "", 1)
		} else if strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		cookies = append(cookies, cookie{
			Name:     strings.TrimSpace(fields[5]),
			Value:    strings.TrimSpace(fields[6]),
			Domain:   strings.TrimSpace(fields[0]),
			Path:     strings.TrimSpace(fields[2]),
			Secure:   strings.EqualFold(strings.TrimSpace(fields[3]), "TRUE"),
			HTTPOnly: httpOnly,
		})
	}
	return cookies
}

// parseCookieLine handles both a single cookie record with attributes
// and a header-form line carrying several name=value pairs.
func parseCookieLine(line string) []cookie {
	var cookies []cookie
	var cur *cookie
	for _, seg := range strings.Split(line, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		name, value := seg, ""
		if i := strings.Index(seg, "="); i >= 0 {
			name = strings.TrimSpace(seg[:i])
			value = strings.TrimSpace(seg[i+1:])
		}
		if cookieAttrs[strings.ToLower(name)] {
			if cur == nil {
				continue
			}
			switch strings.ToLower(name) {
			case "domain":
				cur.Domain = value
			case "path":
				cur.Path = value
			case "secure":
				cur.Secure = true
			case "httponly":
				cur.HTTPOnly = true
			}
			continue
		}
		if name == "" {
			continue
		}
		cookies = append(cookies, cookie{Name: name, Value: value})
		cur = &cookies[len(cookies)-1]
	}
	return cookies
}
