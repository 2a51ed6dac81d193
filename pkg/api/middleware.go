package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/metrics"
)

// requireAPIKey rejects requests whose key, taken from header, query or
// cookie under the configured name, does not match. An empty configured
// key disables the check.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey != "" && apiKeyFrom(r, s.cfg.Server.APIKeyName) != s.cfg.Server.APIKey {
			writeError(w, errdefs.Authenticationf("missing or invalid api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func apiKeyFrom(r *http.Request, name string) string {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}

// requestLogger emits one line per request and feeds the API series.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", timer.Duration()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
