package nats

import "github.com/reconhawk/reconhawk-stack/correlation/internal/service"

// RunJobRequest is the payload of correlation.jobs.run.
type RunJobRequest struct {
	JobID   string   `json:"job_id"`
	ScanIDs []string `json:"scan_ids"`
	RuleIDs []string `json:"rule_ids,omitempty"`
}

// RunJobResponse answers a RunJobRequest.
type RunJobResponse struct {
	JobID   string              `json:"job_id"`
	Success bool                `json:"success"`
	Error   string              `json:"error,omitempty"`
	Summary *service.RunSummary `json:"summary,omitempty"`
}
