package errors

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/splitter/internal/logger"
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error     ErrorDetails `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

type ErrorDetails struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler writes error bodies for the control API and logs them.
type ErrorHandler struct {
	logger logrus.FieldLogger
}

func NewErrorHandler(log logrus.FieldLogger) *ErrorHandler {
	return &ErrorHandler{logger: log}
}

// HandleError maps err with FromDemuxError and answers with it. Server
// errors log at error level, client errors at warn.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromDemuxError(err)
	requestID := r.Header.Get(logger.RequestIDHeader)

	entry := h.logger.WithFields(logrus.Fields{
		"error_type": appErr.Type,
		"status":     appErr.HTTPStatus,
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
	})
	if appErr.Code != "" {
		entry = entry.WithField("error_code", appErr.Code)
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		entry.Error(appErr.Error())
	} else {
		entry.Warn(appErr.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	body := ErrorResponse{
		Error: ErrorDetails{
			Type:    appErr.Type,
			Message: appErr.Message,
			Code:    appErr.Code,
			Details: appErr.Details,
		},
		RequestID: requestID,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to encode error response")
	}
}

func (h *ErrorHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, NewNotFoundError("endpoint").WithDetail("path", r.URL.Path))
}

func (h *ErrorHandler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, NewValidationError("method %s not allowed", r.Method).WithStatus(http.StatusMethodNotAllowed))
}

// HandlePanic logs a recovered panic and answers 500.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	h.logger.WithFields(logrus.Fields{
		"panic":      recovered,
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": r.Header.Get(logger.RequestIDHeader),
	}).Error("Panic recovered in HTTP handler")

	h.HandleError(w, r, NewInternalError("An unexpected error occurred"))
}
