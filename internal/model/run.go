package model

import "time"

// Run represents one reconciliation run.
type Run struct {
	ID          string     `json:"id"`
	TriggerType string     `json:"trigger_type"`
	Bucket      string     `json:"bucket,omitempty"`
	ObjectKey   string     `json:"object_key,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Summary     RunSummary `json:"summary"`
}

// RunSummary is the numeric roll-up of a run's outcomes.
type RunSummary struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Deleted int `json:"deleted"`
}

// RunItem represents one per-action outcome in a run.
type RunItem struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Kind         string    `json:"kind"`
	TemplateFile string    `json:"template_file,omitempty"`
	StackName    string    `json:"stack_name,omitempty"`
	AccountID    string    `json:"account_id"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunListResponse lists recent runs.
type RunListResponse struct {
	Items []Run `json:"items"`
}

// RunDetailResponse shows a run with its result lists and items.
type RunDetailResponse struct {
	Run     Run       `json:"run"`
	Success []string  `json:"success"`
	Failed  []string  `json:"failed"`
	Deleted []string  `json:"deleted"`
	Items   []RunItem `json:"items"`
}

// TriggerRunResponse is the body returned after a triggered run swept to
// completion. Per-item failures live here, not in the HTTP status.
type TriggerRunResponse struct {
	Message string     `json:"message"`
	RunID   string     `json:"run_id"`
	Success []string   `json:"success"`
	Failed  []string   `json:"failed"`
	Deleted []string   `json:"deleted"`
	Summary RunSummary `json:"summary"`
}
