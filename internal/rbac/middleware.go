package rbac

import (
	"log/slog"
	"net/http"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
)

// Middleware wires policy gates for HTTP handlers. It assumes the
// authentication boundary has already placed an Access in the request context;
// an absent or empty Access simply fails every gate.
type Middleware struct {
	Logger *slog.Logger
}

// Require gates a route group on a (resource, action) pair with no target
// parameters. Per-target actions authorize inside their handlers instead,
// where the subject ID is known.
func (m Middleware) Require(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access := FromContext(r.Context())
			if err := Authorize(access, resource, action, Target{}); err != nil {
				if m.Logger != nil {
					m.Logger.Warn("policy gate denied",
						slog.String("resource", string(resource)),
						slog.String("action", string(action)),
						slog.Int64("user_id", access.User().ID),
					)
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
