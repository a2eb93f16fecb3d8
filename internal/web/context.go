package web

import (
	"net/http"

	"github.com/JonMunkholm/results-america/internal/core"
)

// requestMetadata copies the client address and user agent into the
// request context, where uploads record them as import metadata.
// RemoteAddr is already resolved by TrustedRealIP.
func requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.ContextWithClientIP(r.Context(), clientIP(r))
		ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
