package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/audit/models"
	"chronicle/pkg/domain"
	"chronicle/pkg/platform/sentinel"
)

// ExportStore is the PostgreSQL-backed export job store. Execute takes a
// row lock so concurrent state transitions serialize at the database.
type ExportStore struct {
	db *sql.DB
}

// NewExportStore constructs a PostgreSQL-backed export store.
func NewExportStore(db *sql.DB) *ExportStore {
	return &ExportStore{db: db}
}

const exportColumns = `id, tenant_id, actor_id, format, status, filter,
	total_records, processed_records, file_path, file_size_bytes,
	download_token, download_expires_at, download_count, max_downloads,
	error_message, created_at, started_at, completed_at`

func (s *ExportStore) Create(ctx context.Context, job *models.ExportJob) error {
	filter, err := json.Marshal(job.Filter)
	if err != nil {
		return fmt.Errorf("marshal export filter: %w", err)
	}

	query := `
		INSERT INTO audit_exports (
			id, tenant_id, actor_id, format, status, filter,
			total_records, processed_records, file_path, file_size_bytes,
			download_token, download_expires_at, download_count, max_downloads,
			error_message, created_at, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = s.db.ExecContext(ctx, query, exportArgs(job, filter)...)
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

func (s *ExportStore) Get(ctx context.Context, id domain.ExportID) (*models.ExportJob, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_exports WHERE id = $1", exportColumns)
	job, err := scanJob(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get export job: %w", err)
	}
	return job, nil
}

func (s *ExportStore) Update(ctx context.Context, job *models.ExportJob) error {
	filter, err := json.Marshal(job.Filter)
	if err != nil {
		return fmt.Errorf("marshal export filter: %w", err)
	}
	return s.update(ctx, s.db, job, filter)
}

func (s *ExportStore) Execute(ctx context.Context, id domain.ExportID, validate func(*models.ExportJob) error, mutate func(*models.ExportJob)) (*models.ExportJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin export transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("SELECT %s FROM audit_exports WHERE id = $1 FOR UPDATE", exportColumns)
	job, err := scanJob(tx.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock export job: %w", err)
	}

	if validate != nil {
		if err := validate(job); err != nil {
			return nil, err
		}
	}
	if mutate != nil {
		mutate(job)
	}

	filter, err := json.Marshal(job.Filter)
	if err != nil {
		return nil, fmt.Errorf("marshal export filter: %w", err)
	}
	if err := s.update(ctx, tx, job, filter); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit export transaction: %w", err)
	}
	return job, nil
}

func (s *ExportStore) FindByToken(ctx context.Context, token string) (*models.ExportJob, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	query := fmt.Sprintf("SELECT %s FROM audit_exports WHERE download_token = $1", exportColumns)
	job, err := scanJob(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find export by token: %w", err)
	}
	return job, nil
}

func (s *ExportStore) ListByActor(ctx context.Context, actor domain.ActorID, page models.PageRequest) ([]models.ExportJob, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_exports WHERE actor_id = $1", uuid.UUID(actor),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count export jobs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM audit_exports
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, exportColumns)

	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(actor), page.EffectiveSize(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("query export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan export job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate export jobs: %w", err)
	}
	if jobs == nil {
		jobs = []models.ExportJob{}
	}
	return jobs, total, nil
}

func (s *ExportStore) CountActive(ctx context.Context, actor domain.ActorID) (int64, error) {
	var count int64
	query := "SELECT COUNT(*) FROM audit_exports WHERE actor_id = $1 AND status IN ('pending', 'processing')"
	if err := s.db.QueryRowContext(ctx, query, uuid.UUID(actor)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active exports: %w", err)
	}
	return count, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *ExportStore) update(ctx context.Context, db execer, job *models.ExportJob, filter []byte) error {
	query := `
		UPDATE audit_exports
		SET status = $2, filter = $3, total_records = $4, processed_records = $5,
			file_path = $6, file_size_bytes = $7, download_token = $8,
			download_expires_at = $9, download_count = $10, max_downloads = $11,
			error_message = $12, started_at = $13, completed_at = $14
		WHERE id = $1
	`
	result, err := db.ExecContext(ctx, query,
		uuid.UUID(job.ID),
		job.Status.String(),
		filter,
		job.TotalRecords,
		job.ProcessedRecords,
		job.FilePath,
		job.FileSizeBytes,
		job.DownloadToken,
		nullableTime(job.DownloadExpiresAt),
		job.DownloadCount,
		job.MaxDownloads,
		job.ErrorMessage,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func exportArgs(job *models.ExportJob, filter []byte) []any {
	return []any{
		uuid.UUID(job.ID),
		uuid.UUID(job.TenantID),
		uuid.UUID(job.ActorID),
		job.Format.String(),
		job.Status.String(),
		filter,
		job.TotalRecords,
		job.ProcessedRecords,
		job.FilePath,
		job.FileSizeBytes,
		job.DownloadToken,
		nullableTime(job.DownloadExpiresAt),
		job.DownloadCount,
		job.MaxDownloads,
		job.ErrorMessage,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.ExportJob, error) {
	var (
		job       models.ExportJob
		jobID     uuid.UUID
		tenantID  uuid.UUID
		actorID   uuid.UUID
		format    string
		status    string
		filter    []byte
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&jobID,
		&tenantID,
		&actorID,
		&format,
		&status,
		&filter,
		&job.TotalRecords,
		&job.ProcessedRecords,
		&job.FilePath,
		&job.FileSizeBytes,
		&job.DownloadToken,
		&expiresAt,
		&job.DownloadCount,
		&job.MaxDownloads,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ID = domain.ExportID(jobID)
	job.TenantID = domain.TenantID(tenantID)
	job.ActorID = domain.ActorID(actorID)
	job.Format = domain.ExportFormat(format)
	job.Status = domain.ExportStatus(status)
	if expiresAt.Valid {
		job.DownloadExpiresAt = expiresAt.Time
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &job.Filter); err != nil {
			return nil, fmt.Errorf("unmarshal export filter: %w", err)
		}
	}
	return &job, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
