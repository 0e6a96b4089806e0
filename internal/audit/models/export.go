package models

import (
	"time"

	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
	"chronicle/pkg/platform/sentinel"
)

// Export guardrails. Limits are per requesting actor.
const (
	DefaultMaxDownloads      = 5
	DefaultDownloadTTL       = 24 * time.Hour
	MaxActiveExportsPerActor = 3
	MaxExportRecords         = 100_000
	ExportBatchSize          = 1000
)

// ExportJob is the aggregate for one asynchronous export.
//
// Invariants:
//   - Status transitions follow pending -> processing -> completed | failed
//   - A completed job carries an artifact path, a download token, an expiry,
//     and a download allowance; none of these exist in earlier states
//   - ProcessedRecords never exceeds TotalRecords
//
// State is mutated only through the CanX/ApplyX pairs so stores can hold
// their lock across validate-then-mutate.
type ExportJob struct {
	ID       domain.ExportID
	TenantID domain.TenantID
	ActorID  domain.ActorID
	Format   domain.ExportFormat
	Status   domain.ExportStatus
	Filter   Filter

	TotalRecords     int64
	ProcessedRecords int64

	FilePath      string
	FileSizeBytes int64

	DownloadToken     string
	DownloadExpiresAt time.Time
	DownloadCount     int
	MaxDownloads      int

	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewExportJob constructs a pending job for the given scope and format.
func NewExportJob(tenantID domain.TenantID, actorID domain.ActorID, format domain.ExportFormat, filter Filter, now time.Time) (*ExportJob, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "export requires a tenant id")
	}
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "export requires a requesting actor")
	}
	if !format.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid export format")
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return &ExportJob{
		ID:           domain.NewExportID(),
		TenantID:     tenantID,
		ActorID:      actorID,
		Format:       format,
		Status:       domain.ExportPending,
		Filter:       filter.Normalize(),
		MaxDownloads: DefaultMaxDownloads,
		CreatedAt:    now,
	}, nil
}

// IsActive reports whether the job still occupies an active-export slot.
func (j *ExportJob) IsActive() bool {
	return !j.Status.IsTerminal()
}

// CanStart checks the pending -> processing transition.
func (j *ExportJob) CanStart() error {
	if !j.Status.CanTransitionTo(domain.ExportProcessing) {
		return dErrors.New(dErrors.CodeInvariantViolation, "export is not pending")
	}
	return nil
}

// ApplyStart transitions the job to processing.
func (j *ExportJob) ApplyStart(now time.Time) {
	j.Status = domain.ExportProcessing
	j.StartedAt = &now
}

// ApplyProgress records extraction progress. Totals are set once when the
// record count is known.
func (j *ExportJob) ApplyProgress(processed, total int64) {
	if total > 0 {
		j.TotalRecords = total
	}
	if processed > j.TotalRecords && j.TotalRecords > 0 {
		processed = j.TotalRecords
	}
	j.ProcessedRecords = processed
}

// ApplyCompletion transitions to completed and attaches the artifact and
// its download allowance.
func (j *ExportJob) ApplyCompletion(filePath string, fileSize int64, token string, expiresAt, now time.Time) error {
	if !j.Status.CanTransitionTo(domain.ExportCompleted) {
		return dErrors.New(dErrors.CodeInvariantViolation, "export cannot complete from state "+j.Status.String())
	}
	j.Status = domain.ExportCompleted
	j.FilePath = filePath
	j.FileSizeBytes = fileSize
	j.DownloadToken = token
	j.DownloadExpiresAt = expiresAt
	j.CompletedAt = &now
	return nil
}

// ApplyFailure transitions to the terminal failed state with a
// human-readable message. Failing an already-terminal job is a no-op so a
// cancellation racing a natural failure keeps the first message.
func (j *ExportJob) ApplyFailure(message string, now time.Time) {
	if j.Status.IsTerminal() {
		return
	}
	j.Status = domain.ExportFailed
	j.ErrorMessage = message
	j.CompletedAt = &now
}

// CanDownload checks the download allowance. The three failure modes are
// distinct sentinels so callers can tell "gone" from "used up" from
// "never existed".
func (j *ExportJob) CanDownload(now time.Time) error {
	if j.Status != domain.ExportCompleted {
		return sentinel.ErrInvalidState
	}
	if now.After(j.DownloadExpiresAt) {
		return sentinel.ErrExpired
	}
	if j.DownloadCount >= j.MaxDownloads {
		return sentinel.ErrExhausted
	}
	return nil
}

// ApplyDownload consumes one download from the allowance.
func (j *ExportJob) ApplyDownload() {
	j.DownloadCount++
}

// ProgressPercentage reports extraction progress in whole percent. A
// completed job always reports 100.
func (j *ExportJob) ProgressPercentage() int {
	switch {
	case j.Status == domain.ExportCompleted:
		return 100
	case j.TotalRecords <= 0:
		return 0
	default:
		pct := int(j.ProcessedRecords * 100 / j.TotalRecords)
		if pct > 100 {
			pct = 100
		}
		return pct
	}
}
