package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/rbac"
)

// Middleware authenticates requests. It resolves the bearer token into an
// access context exactly once per request and stores it in the request
// context for the policy gates downstream.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Authenticate rejects requests without a valid bearer token.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		access, err := m.Service.Resolve(r.Context(), token)
		if err != nil {
			if !errors.Is(err, httpx.ErrUnauthorized) && m.Logger != nil {
				m.Logger.Error("resolve token", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(rbac.WithAccess(r.Context(), access)))
	})
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
