package server

import (
	"encoding/json"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"readyline/internal/repo"
)

// AuthConfig controls the service-key gate in front of callback and
// operator routes. Submission, health, and magic-link verification stay
// public.
type AuthConfig struct {
	Logger *log.Logger
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// newAuthMiddleware requires X-Api-Key on guarded routes once at least one
// service key exists. A key-less database leaves the API open so a fresh dev
// workspace works out of the box; the fallback is logged every time.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	public := map[string]struct{}{
		path.Join(basePath, "health"):       {},
		path.Join(basePath, "ai-readiness"): {},
		path.Join(basePath, "auth/verify"):  {},
		path.Join(basePath, "openapi.json"): {},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if _, ok := public[req.URL.Path]; ok {
				next.ServeHTTP(w, req)
				return
			}

			total, err := r.CountAPIKeys(req.Context())
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
				return
			}
			if total == 0 {
				cfg.logger().Printf("WARNING: no service API keys configured; %s %s allowed without authentication", req.Method, req.URL.Path)
				next.ServeHTTP(w, req)
				return
			}

			apiKey := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			if apiKey == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if _, err := r.GetAPIKeyByHash(req.Context(), repo.HashAPIKey(apiKey)); err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
