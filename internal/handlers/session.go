package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/logging"
)

// RequireSession authenticates the bearer token and stores the identity on
// the request context. Any failure is a 401; there is no anonymous fallback.
func RequireSession(authn Authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if authn == nil {
			logging.FromContext(ctx).Error("session authenticator unavailable")
			respondError(ctx, w, http.StatusInternalServerError, codeUnavailable, "authentication services unavailable")
			return
		}

		identity, err := authn.Authenticate(ctx, bearerToken(r))
		if err != nil {
			logging.FromContext(ctx).Info("session authentication failed", "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="streamgate"`)
			respondError(ctx, w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
			return
		}

		ctx = auth.WithIdentity(ctx, identity)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(slog.String("user_id", identity.UserID)))
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}
