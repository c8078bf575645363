package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gateway-ratelimit/middleware/ratelimit/domain"
)

func TestDefaultKeyFunc_PrefersHeaderWhenSet(t *testing.T) {
	fn := DefaultKeyFunc("X-Client", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Client", " client-123 ")

	if got := fn(r); got != "client-123" {
		t.Fatalf("expected header key, got %q", got)
	}
}

func TestDefaultKeyFunc_TrustXForwardedForUsesFirstIP(t *testing.T) {
	fn := DefaultKeyFunc("", true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := fn(r); got != "1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestDefaultKeyFunc_IgnoresXForwardedForWhenNotTrusted(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := fn(r); got != "10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestDefaultKeyFunc_EmptyWhenNoAddress(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = ""

	if got := fn(r); got != "" {
		t.Fatalf("expected empty key (unlimited), got %q", got)
	}
}

func TestPrincipalKeyFunc(t *testing.T) {
	fn := PrincipalKeyFunc()

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	if got := fn(r); got != "" {
		t.Fatalf("expected anonymous request to resolve empty key, got %q", got)
	}

	r = r.WithContext(WithPrincipal(r.Context(), "user"))
	if got := fn(r); got != "user" {
		t.Fatalf("expected principal, got %q", got)
	}
}

func TestPrincipalOrIPKeyFunc_PrefixesAvoidCollisions(t *testing.T) {
	fn := PrincipalOrIPKeyFunc(false)

	anon := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	anon.RemoteAddr = "10.0.0.1:1"
	authed := anon.WithContext(WithPrincipal(anon.Context(), "10.0.0.1"))

	if a, b := fn(anon), fn(authed); a == b {
		t.Fatalf("user and ip with same text must not collide: %q", a)
	}
}

func TestScopedKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1"

	if got := ScopedKeyFunc("rl", DefaultKeyFunc("", false))(r); got != "rl:10.0.0.1" {
		t.Fatalf("expected scoped key, got %q", got)
	}
	if got := ScopedKeyFunc("rl", EmptyKeyFunc())(r); got != "" {
		t.Fatalf("empty key must stay empty, got %q", got)
	}
}

func TestParseKeyStrategy(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1"
	r.Header.Set("X-Api-Key", "abc")
	r = r.WithContext(WithPrincipal(r.Context(), "alice"))

	cases := map[string]string{
		"":                "10.0.0.1",
		"ip":              "10.0.0.1",
		"header":          "abc",
		"principal":       "alice",
		"principal-or-ip": "user:alice",
		"route":           "all",
		"none":            "",
	}
	for name, want := range cases {
		fn, err := ParseKeyStrategy(name, "X-Api-Key", false)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", name, err)
		}
		if got := fn(r); got != want {
			t.Fatalf("%q: expected %q, got %q", name, want, got)
		}
	}

	if _, err := ParseKeyStrategy("cookie", "", false); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := ParseKeyStrategy("header", "", false); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error for header without name, got %v", err)
	}
}
