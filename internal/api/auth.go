package api

import (
	"net/http"

	"github.com/kalambet/missionctl/internal/webhook"
)

// APIKeyAuth rejects requests whose X-API-Key header does not match secret.
// Every response, including the rejection, is marked uncacheable.
func APIKeyAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			webhook.SetNoCache(w.Header())
			if !webhook.CheckAPIKey(r, secret) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
