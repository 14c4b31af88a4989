package admin

import (
	"crypto/subtle"
	"sync"

	oembedfilter "github.com/ferro-labs/oembed-filter"
)

// Token is an admin API bearer token. Name identifies the admin session the
// token belongs to.
type Token struct {
	Name   string   `json:"name"`
	Token  string   `json:"-"`
	Scopes []string `json:"scopes"`
}

// TokenValidator resolves bearer tokens.
type TokenValidator interface {
	ValidateKey(key string) (*Token, bool)
}

// TokenStore holds the configured admin tokens.
type TokenStore struct {
	mu     sync.RWMutex
	tokens []Token
}

// NewTokenStore creates a store from config. Tokens without scopes get
// read_only.
func NewTokenStore(cfg []oembedfilter.AdminToken) *TokenStore {
	s := &TokenStore{}
	for _, t := range cfg {
		s.Add(t.Name, t.Token, t.Scopes...)
	}
	return s
}

// Add registers a token.
func (s *TokenStore) Add(name, token string, scopes ...string) {
	if len(scopes) == 0 {
		scopes = []string{ScopeReadOnly}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, Token{Name: name, Token: token, Scopes: scopes})
}

// Len returns the number of tokens.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// ValidateKey looks up a token by its full string.
func (s *TokenStore) ValidateKey(key string) (*Token, bool) {
	if key == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(s.tokens[i].Token), []byte(key)) == 1 {
			t := s.tokens[i]
			return &t, true
		}
	}
	return nil, false
}

func (t *Token) hasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
