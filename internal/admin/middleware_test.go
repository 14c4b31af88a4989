package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	oembedfilter "github.com/ferro-labs/oembed-filter"
)

func newTestTokens() *TokenStore {
	return NewTokenStore([]oembedfilter.AdminToken{
		{Name: "alice", Token: "admin-secret", Scopes: []string{ScopeAdmin}},
		{Name: "bob", Token: "readonly-secret"},
	})
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	handler := AuthMiddleware(newTestTokens())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := TokenFromContext(r.Context())
		if !ok {
			t.Fatal("expected token in context")
		}
		if tok.Name != "alice" {
			t.Errorf("expected token name alice, got %s", tok.Name)
		}
		if sessionID(r) != "alice" {
			t.Errorf("expected session alice, got %q", sessionID(r))
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_NoAuthHeader(t *testing.T) {
	handler := AuthMiddleware(newTestTokens())(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	var body struct {
		Error struct {
			Type string `json:"type"`
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Type != "authentication_error" || body.Error.Code != "missing_token" {
		t.Errorf("unexpected error envelope: %+v", body.Error)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	handler := AuthMiddleware(newTestTokens())(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_NonBearerScheme(t *testing.T) {
	handler := AuthMiddleware(newTestTokens())(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic YWRtaW4tc2VjcmV0")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireScope_ReadOnlyForbiddenOnAdmin(t *testing.T) {
	handler := AuthMiddleware(newTestTokens())(RequireScope(ScopeAdmin)(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("handler should not be called")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer readonly-secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestRequireScope_AnyOf(t *testing.T) {
	handler := AuthMiddleware(newTestTokens())(RequireScope(ScopeReadOnly, ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	for _, secret := range []string{"admin-secret", "readonly-secret"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+secret)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: got status %d, want %d", secret, rr.Code, http.StatusOK)
		}
	}
}

func TestRequireScope_NoToken(t *testing.T) {
	handler := RequireScope(ScopeAdmin)(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("handler should not be called")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestTokenStore_DefaultScope(t *testing.T) {
	store := NewTokenStore(nil)
	store.Add("carol", "carol-secret")
	if store.Len() != 1 {
		t.Fatalf("expected 1 token, got %d", store.Len())
	}
	tok, ok := store.ValidateKey("carol-secret")
	if !ok {
		t.Fatal("expected token to validate")
	}
	if len(tok.Scopes) != 1 || tok.Scopes[0] != ScopeReadOnly {
		t.Errorf("expected read_only default scope, got %v", tok.Scopes)
	}
	if _, ok := store.ValidateKey(""); ok {
		t.Error("expected empty key to be rejected")
	}
}

func TestEditTracker(t *testing.T) {
	tr := NewEditTracker()

	if closed := tr.Begin("alice", 1); closed != 0 {
		t.Fatalf("expected nothing closed, got %d", closed)
	}
	if closed := tr.Begin("alice", 1); closed != 0 {
		t.Fatalf("expected re-opening the same row to close nothing, got %d", closed)
	}
	if closed := tr.Begin("alice", 2); closed != 1 {
		t.Fatalf("expected row 1 to be closed, got %d", closed)
	}
	if got := tr.Editing("alice"); got != 2 {
		t.Fatalf("expected alice editing 2, got %d", got)
	}

	// Sessions are independent.
	tr.Begin("bob", 1)
	if got := tr.Editing("alice"); got != 2 {
		t.Fatalf("expected alice still editing 2, got %d", got)
	}

	if tr.End("alice", 1) {
		t.Fatal("expected End of a row not being edited to report false")
	}
	if !tr.End("alice", 2) {
		t.Fatal("expected End to report true")
	}
	if got := tr.Editing("alice"); got != 0 {
		t.Fatalf("expected alice editing nothing, got %d", got)
	}

	tr.Forget(1)
	if got := tr.Editing("bob"); got != 0 {
		t.Fatalf("expected bob editing nothing after Forget, got %d", got)
	}
}
