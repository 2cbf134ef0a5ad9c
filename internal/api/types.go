package api

import "time"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	AppsConfigured int    `json:"apps_configured"`
}

// AppResponse describes one configured application.
type AppResponse struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Module       string    `json:"module"`
	TypeName     string    `json:"type_name"`
	Method       string    `json:"method,omitempty"`
	Source       string    `json:"source"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	ConfiguredAt time.Time `json:"configured_at"`
	Mounts       []string  `json:"mounts"`
}

// InvocationResponse is one entry of GET /invocations.
type InvocationResponse struct {
	ID         string    `json:"id"`
	AppID      int       `json:"app_id"`
	RequestID  string    `json:"request_id,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// InvocationSummaryResponse is returned by GET /invocations/summary.
type InvocationSummaryResponse struct {
	Apps     []AppResponse  `json:"apps"`
	Outcomes map[string]int `json:"outcomes"`
	Total    int            `json:"total"`
}
