package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/owinhost/internal/registry"
)

const maxInvocationLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		AppsConfigured: len(s.registry.Apps()),
	})
}

// handleListApps handles GET /apps.
func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps := s.registry.Apps()
	resp := make([]AppResponse, 0, len(apps))
	for _, info := range apps {
		resp = append(resp, s.appResponse(info))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetApp handles GET /apps/{appID}.
func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "appID"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "application not found")
		return
	}
	info, ok := s.registry.Info(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "application not found")
		return
	}
	respondJSON(w, http.StatusOK, s.appResponse(info))
}

// handleInvocations handles GET /invocations?limit=N.
func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal is not enabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxInvocationLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	resp := make([]InvocationResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, InvocationResponse{
			ID:         e.ID,
			AppID:      e.AppID,
			RequestID:  e.RequestID,
			Method:     e.Method,
			Path:       e.Path,
			StatusCode: e.StatusCode,
			Outcome:    string(e.Outcome),
			Error:      e.Error,
			DurationMS: float64(e.Duration.Microseconds()) / 1000,
			CreatedAt:  e.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleInvocationSummary handles GET /invocations/summary.
func (s *Server) handleInvocationSummary(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal is not enabled")
		return
	}

	apps, err := s.journal.Apps(r.Context())
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	counts, err := s.journal.Outcomes(r.Context())
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	resp := InvocationSummaryResponse{
		Apps:     make([]AppResponse, 0, len(apps)),
		Outcomes: make(map[string]int, len(counts)),
	}
	for _, info := range apps {
		resp.Apps = append(resp.Apps, s.appResponse(info))
	}
	for outcome, n := range counts {
		resp.Outcomes[string(outcome)] = n
		resp.Total += n
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.registry.Apps(), s.config.Mounts))
}

func (s *Server) appResponse(info registry.AppInfo) AppResponse {
	return AppResponse{
		ID:           info.ID,
		Name:         info.Name,
		Module:       info.Module,
		TypeName:     info.TypeName,
		Method:       info.Method,
		Source:       string(info.Source),
		Fingerprint:  info.Fingerprint,
		ConfiguredAt: info.ConfiguredAt,
		Mounts:       mountsFor(info.ID, s.config.Mounts),
	}
}

// mountsFor lists every path prefix serving appID, /apps/{id} first.
func mountsFor(appID int, mounts []Mount) []string {
	out := []string{"/apps/" + strconv.Itoa(appID)}
	for _, m := range mounts {
		if m.AppID == appID {
			out = append(out, m.Path)
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
