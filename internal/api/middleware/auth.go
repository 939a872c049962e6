// Package middleware provides the HTTP middleware used by the API tier.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/fsnebula/converter-api/internal/api/shared"
)

// APIKeyAuth guards an endpoint with the shared-secret key list. The
// key is taken from the passwd form field or, preferably, the X-API-Key
// header.
func APIKeyAuth(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.FormValue("passwd")
			}

			if !keyAccepted(keys, key) {
				shared.RespondWithError(w, r, http.StatusForbidden, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyAccepted(keys []string, key string) bool {
	if key == "" {
		return false
	}
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}
