package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattjoyce/owinhost/internal/envelope"
	"github.com/mattjoyce/owinhost/internal/registry"
)

// RequestIDHeader carries the owin.RequestId of a request in both directions.
const RequestIDHeader = "X-Request-Id"

// handleAppByID serves /apps/{appID}/*.
func (s *Server) handleAppByID(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "appID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		s.writeError(w, http.StatusNotFound, "application not found")
		return
	}
	s.dispatch(w, r, id, "/apps/"+raw, "/"+chi.URLParam(r, "*"))
}

func (s *Server) mountHandler(m Mount) http.Handler {
	base := strings.TrimSuffix(m.Path, "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, base)
		if path == "" {
			path = "/"
		}
		s.dispatch(w, r, m.AppID, base, path)
	})
}

// dispatch turns r into a request envelope, invokes the application and
// writes back its response.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, appID int, pathBase, path string) {
	if _, ok := s.registry.Info(appID); !ok {
		s.writeError(w, http.StatusNotFound, "application not found")
		return
	}

	reader := io.Reader(r.Body)
	if s.config.MaxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	env := envelope.Env{
		envelope.AppIDKey:           appID,
		envelope.RequestID:          requestID,
		envelope.RequestMethod:      r.Method,
		envelope.RequestScheme:      scheme(r),
		envelope.RequestProtocol:    r.Proto,
		envelope.RequestPathBase:    pathBase,
		envelope.RequestPath:        path,
		envelope.RequestQueryString: r.URL.RawQuery,
		envelope.RequestHeaders:     r.Header.Clone(),
		envelope.RequestBody:        body,
	}
	env[envelope.HostPrefix+"remoteAddress"] = r.RemoteAddr

	out, err := s.registry.Invoke(r.Context(), env)
	if err != nil {
		s.writeInvokeError(w, appID, requestID, err)
		return
	}

	w.Header().Set(RequestIDHeader, requestID)
	if headers, ok := out[envelope.ResponseHeaders].(map[string]string); ok {
		for name, value := range headers {
			w.Header().Set(name, value)
		}
	}
	w.WriteHeader(out.StatusCode())
	if b, ok := out[envelope.ResponseBody].([]byte); ok && len(b) > 0 {
		if _, err := w.Write(b); err != nil {
			s.logger.Debug("failed to write response body", "app_id", appID, "error", err)
		}
	}
}

func (s *Server) writeInvokeError(w http.ResponseWriter, appID int, requestID string, err error) {
	w.Header().Set(RequestIDHeader, requestID)
	switch {
	case errors.Is(err, registry.ErrContractViolation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrCancelled):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("application failed", "app_id", appID, "request_id", requestID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "application error")
	}
}

func scheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
