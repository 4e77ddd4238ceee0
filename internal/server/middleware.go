package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/zsiec/splitter/internal/errors"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/metrics"
)

// requestIDMiddleware makes sure every request and response carries an
// X-Request-ID.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(logger.RequestIDHeader, logger.RequestID(r))
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request metrics labelled by route template and
// logs completion. Health probes are skipped.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeTemplate(r)
		switch route {
		case "/health", "/ready", "/live":
			next.ServeHTTP(w, r)
			return
		}

		done := metrics.HTTPRequestStarted()
		defer done()

		start := time.Now()
		rw := logger.NewResponseWriter(w)
		next.ServeHTTP(rw, r)
		duration := time.Since(start)

		metrics.RecordHTTPRequest(r.Method, route, rw.StatusCode(), duration.Seconds())
		logger.FromContext(r.Context()).WithFields(logger.Fields{
			"status":      rw.StatusCode(),
			"bytes":       rw.BytesWritten(),
			"duration_ms": float64(duration.Microseconds()) / 1000,
		}).Info("Request completed")
	})
}

// routeTemplate returns the matched route pattern so metric labels stay
// bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				s.errorHandler.HandlePanic(w, r, recovered)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies one token bucket to all control requests.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			metrics.IncrementRateLimited()
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, apperrors.NewRateLimitError("Too many control requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// altSvcMiddleware advertises the HTTP/3 listener on HTTP/1.1 responses.
func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.http3Server != nil && r.ProtoMajor < 3 {
			if err := s.http3Server.SetQUICHeaders(w.Header()); err != nil {
				logger.FromContext(r.Context()).WithError(err).Debug("Failed to set Alt-Svc header")
			}
		}
		next.ServeHTTP(w, r)
	})
}
