package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// BearerAuth rejects requests whose Authorization header does not carry the
// expected token. It runs after rate limiting, so unauthenticated floods
// still consume the caller's quota.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || got == "" || got != token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"erro": "Token inválido ou ausente",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
