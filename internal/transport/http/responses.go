package httptransport

import (
	"time"

	"chronicle/internal/audit/models"
)

// IngestResponse is the HTTP response for POST /audit/events.
type IngestResponse struct {
	// EventID is set only when the caller asked to wait for durability.
	EventID       string `json:"event_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Accepted      bool   `json:"accepted"`
}

// ExportJobResponse is the owner's view of one export job.
type ExportJobResponse struct {
	ID                 string     `json:"id"`
	Format             string     `json:"format"`
	Status             string     `json:"status"`
	ProgressPercentage int        `json:"progress_percentage"`
	TotalRecords       int64      `json:"total_records"`
	ProcessedRecords   int64      `json:"processed_records"`
	DownloadToken      string     `json:"download_token,omitempty"`
	DownloadExpiresAt  *time.Time `json:"download_expires_at,omitempty"`
	DownloadsRemaining *int       `json:"downloads_remaining,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// FromExportJob projects a job onto the wire shape. The token and its
// allowance appear only on completed jobs.
func FromExportJob(job *models.ExportJob) ExportJobResponse {
	resp := ExportJobResponse{
		ID:                 job.ID.String(),
		Format:             job.Format.String(),
		Status:             job.Status.String(),
		ProgressPercentage: job.ProgressPercentage(),
		TotalRecords:       job.TotalRecords,
		ProcessedRecords:   job.ProcessedRecords,
		ErrorMessage:       job.ErrorMessage,
		CreatedAt:          job.CreatedAt,
		StartedAt:          job.StartedAt,
		CompletedAt:        job.CompletedAt,
	}
	if job.DownloadToken != "" {
		resp.DownloadToken = job.DownloadToken
		expiresAt := job.DownloadExpiresAt
		resp.DownloadExpiresAt = &expiresAt
		remaining := job.MaxDownloads - job.DownloadCount
		if remaining < 0 {
			remaining = 0
		}
		resp.DownloadsRemaining = &remaining
	}
	return resp
}

// ComplianceCountResponse reports how many events a compliance operation
// touched.
type ComplianceCountResponse struct {
	Affected int64 `json:"affected"`
}

// PortabilityResponse is the data-portability export for one actor.
type PortabilityResponse struct {
	ActorID string         `json:"actor_id"`
	Records []models.Event `json:"records"`
}
