package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/auth"
	"github.com/fleetward/control-plane/pkg/logger"
)

// adminPrefixes lists the path prefixes that require administrator
// authentication (spec.md §6: "authenticated by bearer token"). Agent
// paths authenticate through the domain pipeline itself (C1-C3), not
// this middleware.
var adminPrefixes = []string{"/admin", "/commands", "/devices", "/enrollment"}

// publicAdminPaths lists the exact administrator-prefixed paths that issue
// credentials rather than require them.
var publicAdminPaths = map[string]bool{"/admin/login": true}

func isAdminPath(path string) bool {
	if publicAdminPaths[path] {
		return false
	}
	for _, p := range adminPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// withAuth gates administrator-prefixed paths behind either the static
// ADMIN_API_KEY bearer token or a JWT issued by auth.Manager.
func withAuth(next http.Handler, manager *auth.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdminPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token := extractBearerToken(r)
		if token == "" {
			unauthorized(w)
			return
		}
		if manager.ValidAPIKey(token) {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := manager.Validate(token); err == nil {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func extractBearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeErr(w, apierr.New(apierr.CodeInvalidToken, "missing or invalid administrator credentials", http.StatusUnauthorized))
}

// withLogging records method/path/status/duration for every request.
func withLogging(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

// withRecovery converts a panicking handler into a 500 INTERNAL_ERROR
// response instead of crashing the process (spec.md §8: storage/internal
// errors never propagate beyond a generic 500).
func withRecovery(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithField("panic", rec).Error("handler panic recovered")
				writeErr(w, apierr.New(apierr.CodeInternal, "internal error", http.StatusInternalServerError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
