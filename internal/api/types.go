package api

import "github.com/mattjoyce/symgate/internal/history"

// HealthzResponse is the GET /healthz payload.
type HealthzResponse struct {
	Status            string `json:"status"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	QueueDepth        int    `json:"queue_depth"`
	PendingTranscodes int    `json:"pending_transcodes"`
	TranscoderVersion string `json:"transcoder_version"`
	ConfigHash        string `json:"config_hash,omitempty"`
}

// RecentResponse is the GET /admin/recent payload.
type RecentResponse struct {
	Attempts []history.Attempt `json:"attempts"`
}

// ErrorResponse is the generic error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
