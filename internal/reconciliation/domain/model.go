package domain

import (
	"context"
	"errors"
	"time"

	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
)

const JobName = "reconciliation"

const (
	DefaultBatchSize = 200
	MaxBatchSize     = 1000
)

var (
	ErrInvalidResume  = errors.New("invalid_resume_job")
	ErrResumeNotFound = errors.New("resume_job_not_found")
	ErrModeMismatch   = errors.New("resume_job_mode_mismatch")
)

// Request starts a run. Mode and ResumeJobID are optional.
type Request struct {
	Mode        string `json:"mode,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	ResumeJobID string `json:"resume_job_id,omitempty"`
	TriggeredBy string `json:"-"`
}

type Action string

const (
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionSkipped   Action = "skipped"
	ActionError     Action = "error"
)

// RecordResult is the per-row outcome of a run.
type RecordResult struct {
	LedgerType ledgerdomain.Kind   `json:"ledger_type"`
	ID         string              `json:"id"`
	Reference  string              `json:"stripe_reference,omitempty"`
	Action     Action              `json:"action"`
	OldStatus  ledgerdomain.Status `json:"old_status,omitempty"`
	NewStatus  ledgerdomain.Status `json:"new_status,omitempty"`
	EndedAt    *time.Time          `json:"ended_at,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Error      string              `json:"error,omitempty"`
}

type Report struct {
	JobID      string                 `json:"job_id"`
	Mode       ledgerdomain.Mode      `json:"mode"`
	Status     ledgerdomain.JobStatus `json:"status"`
	Checked    int                    `json:"checked"`
	Updated    int                    `json:"updated"`
	Cancelled  int                    `json:"cancelled"`
	Skipped    int                    `json:"skipped"`
	Errors     []string               `json:"errors"`
	Results    []RecordResult         `json:"results"`
	HasMore    bool                   `json:"has_more"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type Service interface {
	Run(ctx context.Context, req Request) (*Report, error)
}
