package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// Scope values a key may carry.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// KeyInfo is what the external key validator returns for a valid key.
type KeyInfo struct {
	KeyID              string   `json:"key_id"`
	Scopes             []string `json:"scopes"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
}

// HasScope reports whether the key carries a scope. Admin implies every
// other scope.
func (k *KeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// KeyValidator is the external collaborator that resolves opaque API
// keys. The service only consumes this contract.
type KeyValidator interface {
	Validate(ctx context.Context, key string) (*KeyInfo, error)
}

// AnonymousValidator admits every request with read and write scopes,
// for deployments that front the service with their own gateway.
type AnonymousValidator struct{}

func (AnonymousValidator) Validate(context.Context, string) (*KeyInfo, error) {
	return &KeyInfo{KeyID: "anonymous", Scopes: []string{ScopeRead, ScopeWrite}}, nil
}

type ctxKey int

const keyInfoCtxKey ctxKey = 1

func keyInfoFrom(ctx context.Context) *KeyInfo {
	if info, ok := ctx.Value(keyInfoCtxKey).(*KeyInfo); ok {
		return info
	}
	return nil
}

// authenticate resolves the X-API-Key header and stores the key info on
// the request context. Probe and scrape paths pass through unkeyed.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/health") {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		info, err := s.keys.Validate(r.Context(), key)
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(apperrors.CodeAuthFailed, "invalid api key", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyInfoCtxKey, info)))
	})
}

// requireScope guards a handler behind a scope check.
func (s *Server) requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := keyInfoFrom(r.Context())
		if info == nil || !info.HasScope(scope) {
			s.writeError(w, r, apperrors.Newf(apperrors.CodePermissionDenied, "scope %q required", scope))
			return
		}
		next(w, r)
	}
}

// identity returns the rate-limit identity for a request: the key id
// when authenticated, the client IP otherwise.
func identity(r *http.Request) string {
	if info := keyInfoFrom(r.Context()); info != nil && info.KeyID != "anonymous" {
		return "key:" + info.KeyID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			fwd = fwd[:idx]
		}
		host = strings.TrimSpace(fwd)
	}
	return "ip:" + host
}
