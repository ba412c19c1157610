package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/naskit/nasd/internal/descriptor"
	"github.com/naskit/nasd/internal/engine"
	"github.com/naskit/nasd/internal/fetch"
	"github.com/naskit/nasd/internal/hook"
	"github.com/naskit/nasd/internal/release"
	"github.com/sirupsen/logrus"
)

const (
	LogFieldRequestID   = "requestId"
	LogFieldHTTPRequest = "httpRequest"
)

func (s *Server) setContentTypeJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
}

func (s *Server) writeJSON(w http.ResponseWriter, d any) {
	s.setContentTypeJSON(w)
	err := json.NewEncoder(w).Encode(d)
	if err != nil {
		s.log.Error(err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, statusCode int, err error, alternativeMessage ...string) {
	errMsg := err.Error()
	s.log.WithFields(logrus.Fields{
		LogFieldRequestID: middleware.GetReqID(r.Context()),
		LogFieldHTTPRequest: map[string]any{
			"requestMethod": r.Method,
			"requestUrl":    r.URL.EscapedPath(),
			"status":        statusCode,
		},
	}).Errorf("error: %s", errMsg)

	s.setContentTypeJSON(w)
	w.WriteHeader(statusCode)

	if len(alternativeMessage) > 0 {
		errMsg = strings.Join(alternativeMessage, " ")
	}
	s.writeJSON(w, map[string]string{"error": errMsg})
}

// writeEngineError maps the lifecycle error taxonomy onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeJSONError(w, r, statusForError(err), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, descriptor.ErrMalformed),
		errors.Is(err, hook.ErrReserved),
		errors.Is(err, hook.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrPluginNotFound),
		errors.Is(err, engine.ErrReleaseNotFound),
		errors.Is(err, release.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyInstalled):
		return http.StatusConflict
	case errors.Is(err, release.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, fetch.ErrNoCompatibleArtifact),
		errors.Is(err, fetch.ErrAmbiguousArtifact),
		errors.Is(err, fetch.ErrPayloadTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrIntegrityFailure), errors.Is(err, release.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestLogger(r *http.Request) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		LogFieldRequestID: middleware.GetReqID(r.Context()),
		LogFieldHTTPRequest: map[string]any{
			"requestMethod": r.Method,
			"requestUrl":    r.URL.EscapedPath(),
		},
	})
}
