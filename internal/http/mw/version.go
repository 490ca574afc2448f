package mw

import (
	"net/http"

	"github.com/jmylchreest/flipdeck-api/internal/version"
)

// APIVersion returns middleware that stamps every response with the API
// version and, when configured, the minimum Flipdeck app release. The app
// shows an update prompt when it is older than X-Min-App-Version.
func APIVersion() func(http.Handler) http.Handler {
	info := version.Get()
	apiVersion := info.Short()
	minApp := info.MinAppVersion

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-API-Version", apiVersion)
			if minApp != "" {
				w.Header().Set("X-Min-App-Version", minApp)
			}
			next.ServeHTTP(w, r)
		})
	}
}
