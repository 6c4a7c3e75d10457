package httputil

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type KeyAuthMiddleware struct {
	keys []string
}

func NewKeyAuth(keys []string) *KeyAuthMiddleware {
	return &KeyAuthMiddleware{keys: keys}
}

func (m *KeyAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !m.authorized(r) {
			http.Error(rw, "invalid key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func (m *KeyAuthMiddleware) authorized(r *http.Request) bool {
	authz := r.Header.Get("Authorization")
	bearer, key, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(bearer, "Bearer") {
		return false
	}

	c := 0
	for _, k := range m.keys {
		c += subtle.ConstantTimeCompare([]byte(k), []byte(key))
	}
	return c > 0
}
