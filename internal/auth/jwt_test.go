package auth

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	s, err := NewJWTSignerFromSeed(nil, "test-issuer", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tok, exp, err := s.IssueToken("u1", []Role{RoleUser, RoleAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}
	c, err := s.ParseAndValidate(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Sub != "u1" || !c.HasRole(RoleAdmin) || c.TokenID == "" || c.ExpiresAt != exp.Unix() {
		t.Fatalf("claims = %+v", c)
	}
}

func TestSeededSignersAgree(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	a, err := NewJWTSignerFromSeed(seed, "iss", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewJWTSignerFromSeed(seed, "iss", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tok, _, err := a.IssueToken("u1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.ParseAndValidate(tok); err != nil {
		t.Fatalf("token from same seed rejected: %v", err)
	}
	if _, err := NewJWTSignerFromSeed([]byte("short"), "iss", time.Minute); err == nil {
		t.Fatal("short seed accepted")
	}
}

func TestParseRejects(t *testing.T) {
	s, _ := NewJWTSignerFromSeed(nil, "iss", time.Minute)
	other, _ := NewJWTSignerFromSeed(nil, "iss", time.Minute)
	otherIss := NewJWTSigner(s.Priv, "someone-else", time.Minute)
	expired := NewJWTSigner(s.Priv, "iss", -time.Minute)

	foreign, _, _ := other.IssueToken("u1", nil)
	wrongIss, _, _ := otherIss.IssueToken("u1", nil)
	stale, _, _ := expired.IssueToken("u1", nil)

	for name, tok := range map[string]string{
		"garbage":      "not.a.token",
		"foreign key":  foreign,
		"wrong issuer": wrongIss,
		"expired":      stale,
		"empty":        "",
	} {
		if _, err := s.ParseAndValidate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestMiddleware(t *testing.T) {
	s, _ := NewJWTSignerFromSeed(nil, "iss", time.Minute)
	userTok, _, _ := s.IssueToken("u1", []Role{RoleUser})
	adminTok, _, _ := s.IssueToken("root", []Role{RoleAdmin})

	var seen string
	h := AuthRequired(s)(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OwnerID(r)
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"not admin", "Bearer " + userTok, http.StatusForbidden},
		{"admin", "Bearer " + adminTok, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if seen != "root" {
		t.Fatalf("owner id = %q", seen)
	}
}

func TestParseRoles(t *testing.T) {
	got := ParseRoles(" user, admin ,,")
	if len(got) != 2 || got[0] != RoleUser || got[1] != RoleAdmin {
		t.Fatalf("roles = %v", got)
	}
}
