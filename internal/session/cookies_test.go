package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/iconidentify/twmd/internal/domain"
)

func TestNormalizeCookiesHeaderForm(t *testing.T) {
	got := NormalizeCookies("auth_token=abc; ct0=def; lang=en")

	// Domainless header cookies expand to both platform domains.
	want := []string{
		"auth_token=abc; Domain=.x.com",
		"auth_token=abc; Domain=.twitter.com",
		"ct0=def; Domain=.x.com",
		"ct0=def; Domain=.twitter.com",
		"lang=en; Domain=.x.com",
		"lang=en; Domain=.twitter.com",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d cookies, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cookie[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeCookiesLineForm(t *testing.T) {
	blob := "auth_token=abc; Domain=.x.com; Path=/; Secure; HttpOnly\nct0=def; Domain=twitter.com\n"
	got := NormalizeCookies(blob)

	// Each platform cookie is materialized against both domains.
	want := []string{
		"auth_token=abc; Domain=.x.com; Path=/; Secure; HttpOnly",
		"auth_token=abc; Domain=.twitter.com; Path=/; Secure; HttpOnly",
		"ct0=def; Domain=.x.com",
		"ct0=def; Domain=.twitter.com",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d cookies, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cookie[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeCookiesJarForm(t *testing.T) {
	blob := strings.Join([]string{
		"# Netscape HTTP Cookie File",
		"#HttpOnly_.x.com\tTRUE\t/\tTRUE\t1999999999\tauth_token\tabc",
		".twitter.com\tTRUE\t/\tTRUE\t1999999999\tct0\tdef",
		"example.org\tFALSE\t/\tFALSE\t0\tother\t1",
	}, "\n")

	got := NormalizeCookies(blob)

	wantContains := []string{
		"auth_token=abc; Domain=.x.com; Path=/; Secure; HttpOnly",
		"auth_token=abc; Domain=.twitter.com; Path=/; Secure; HttpOnly",
		"ct0=def; Domain=.x.com; Path=/; Secure",
		"ct0=def; Domain=.twitter.com; Path=/; Secure",
		"other=1; Domain=example.org; Path=/",
	}
	if len(got) != len(wantContains) {
		t.Fatalf("expected %d cookies, got %d: %v", len(wantContains), len(got), got)
	}
	for _, w := range wantContains {
		found := false
		for _, g := range got {
			if g == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing cookie %q in %v", w, got)
		}
	}
}

func TestNormalizeCookiesIdempotent(t *testing.T) {
	inputs := []string{
		"auth_token=abc; ct0=def",
		"auth_token=abc; Domain=subdomain.x.com; Path=/\nct0=def; Domain=.twitter.com",
		".x.com\tTRUE\t/\tTRUE\t0\tauth_token\tabc",
	}
	for _, in := range inputs {
		once := NormalizeCookies(in)
		twice := NormalizeCookies(strings.Join(once, "\n"))
		if len(once) != len(twice) {
			t.Fatalf("not idempotent for %q: %v vs %v", in, once, twice)
		}
		for i := range once {
			if once[i] != twice[i] {
				t.Errorf("not idempotent for %q: cookie[%d] %q vs %q", in, i, once[i], twice[i])
			}
		}
	}
}

func TestNormalizeCookiesDedup(t *testing.T) {
	got := NormalizeCookies("a=1; Domain=x.com\na=1; Domain=.x.com")
	if len(got) != 2 { // one copy per platform domain
		t.Fatalf("expected 2 cookies after dedup, got %d: %v", len(got), got)
	}
}

func TestValidateRequired(t *testing.T) {
	cookies := NormalizeCookies("auth_token=A; dummy=1")

	err := ValidateRequired(cookies, nil)
	if err == nil {
		t.Fatal("expected error for missing ct0")
	}
	if !errors.Is(err, domain.ErrMissingCookies) {
		t.Errorf("error should wrap ErrMissingCookies, got %v", err)
	}
	if !strings.Contains(err.Error(), "ct0") {
		t.Errorf("error should name ct0: %v", err)
	}
	if strings.Contains(err.Error(), "A") && strings.Contains(err.Error(), "auth_token=A") {
		t.Errorf("error must not reveal cookie values: %v", err)
	}

	if err := ValidateRequired(NormalizeCookies("AUTH_TOKEN=a; Ct0=b"), nil); err != nil {
		t.Errorf("required check should be case-insensitive: %v", err)
	}
}

func TestCookieHeader(t *testing.T) {
	cookies := []string{
		"auth_token=abc; Domain=.x.com; Secure",
		"auth_token=other; Domain=.twitter.com",
		"ct0=def",
	}
	got := CookieHeader(cookies)
	if got != "auth_token=abc; ct0=def" {
		t.Errorf("CookieHeader = %q", got)
	}
}

func TestCookieAccessors(t *testing.T) {
	c := "auth_token=abc; Domain=.X.com; Path=/; Secure"
	if CookieName(c) != "auth_token" {
		t.Errorf("CookieName = %q", CookieName(c))
	}
	if CookieValue(c) != "abc" {
		t.Errorf("CookieValue = %q", CookieValue(c))
	}
	if CookieDomain(c) != "x.com" {
		t.Errorf("CookieDomain = %q", CookieDomain(c))
	}
}
