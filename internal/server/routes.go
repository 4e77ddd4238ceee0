package server

import (
	"encoding/json"
	"net/http"

	"github.com/zsiec/splitter/internal/health"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/pkg/version"
)

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.altSvcMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/sessions", s.handleOpenSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods(http.MethodDelete)

	api.HandleFunc("/sessions/{id}/play", s.handleControl(controlPlay)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/pause", s.handleControl(controlPause)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/stop", s.handleControl(controlStop)).Methods(http.MethodPost)

	api.HandleFunc("/sessions/{id}/seek", s.handleSeek).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/rate", s.handleSetRate).Methods(http.MethodPut)

	api.HandleFunc("/sessions/{id}/streams", s.handleListStreams).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/streams/{index:[0-9]+}/enable", s.handleEnableStream).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/select", s.handleSelectStream).Methods(http.MethodPost)

	api.HandleFunc("/sessions/{id}/chapters", s.handleChapters).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/keyframes", s.handleKeyFrames).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.writeJSON(w, r, http.StatusOK, version.GetInfo())
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
