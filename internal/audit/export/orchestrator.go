// Package export runs asynchronous audit-trail exports: job intake with
// per-actor guardrails, background extraction through the scoped query
// engine, artifact writers per format, and token-gated downloads.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/query"
	"chronicle/internal/audit/store"
	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
	"chronicle/pkg/platform/sentinel"
)

// CancelMessage is the error message of a job failed by its owner.
const CancelMessage = "export cancelled"

// Artifact is a completed export ready for streaming to the client.
type Artifact struct {
	Path        string
	FileName    string
	ContentType string
	Size        int64
}

// Config tunes the orchestrator.
type Config struct {
	// Dir is where artifacts are written.
	Dir string
	// DownloadTTL bounds how long a completed artifact stays downloadable.
	DownloadTTL time.Duration
	// MaxActive caps concurrently pending/processing jobs per actor.
	MaxActive int
	// MaxRecords caps the estimated result set of one export.
	MaxRecords int64
}

func (c *Config) applyDefaults() {
	if c.DownloadTTL <= 0 {
		c.DownloadTTL = models.DefaultDownloadTTL
	}
	if c.MaxActive <= 0 {
		c.MaxActive = models.MaxActiveExportsPerActor
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = models.MaxExportRecords
	}
}

// Orchestrator owns the export job lifecycle.
type Orchestrator struct {
	exports store.ExportStore
	engine  *query.Engine
	tokens  TokenCache
	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator constructs the orchestrator. Jobs started by Request run
// until Close.
func NewOrchestrator(exports store.ExportStore, engine *query.Engine, tokens TokenCache, metrics *Metrics, logger *slog.Logger, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		exports: exports,
		engine:  engine,
		tokens:  tokens,
		metrics: metrics,
		tracer:  otel.Tracer("chronicle/export"),
		logger:  logger,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Request validates the guardrails, persists a pending job, and starts its
// background run.
//
// Errors: CodeConflict when the actor already has the maximum number of
// active jobs, CodeValidation when the estimated result set exceeds the
// record cap.
func (o *Orchestrator) Request(ctx context.Context, tenant domain.TenantID, actor domain.ActorID, format domain.ExportFormat, filter models.Filter) (*models.ExportJob, error) {
	job, err := models.NewExportJob(tenant, actor, format, filter, time.Now())
	if err != nil {
		return nil, err
	}

	active, err := o.exports.CountActive(ctx, actor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count active exports")
	}
	if active >= int64(o.cfg.MaxActive) {
		return nil, dErrors.Newf(dErrors.CodeConflict, "actor already has %d active exports", active)
	}

	// Size the result set through the same scoped engine the run will use,
	// so the estimate can never see rows the export could not.
	probe, err := o.engine.Find(ctx, tenant, actor, filter, exportSort(), models.PageRequest{Page: 0, Size: 1})
	if err != nil {
		return nil, err
	}
	if probe.TotalElements > o.cfg.MaxRecords {
		return nil, dErrors.Newf(dErrors.CodeValidation, "export would cover %d records, limit is %d", probe.TotalElements, o.cfg.MaxRecords)
	}
	job.TotalRecords = probe.TotalElements

	if err := o.exports.Create(ctx, job); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create export job")
	}
	o.metrics.Requested.Inc()

	o.wg.Add(1)
	go o.run(job.ID)

	return job, nil
}

// Status returns the owner's view of one job. Another actor's job reads as
// not found so job ids do not leak existence.
func (o *Orchestrator) Status(ctx context.Context, actor domain.ActorID, id domain.ExportID) (*models.ExportJob, error) {
	job, err := o.exports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.ActorID != actor {
		return nil, sentinel.ErrNotFound
	}
	return job, nil
}

// History lists the actor's jobs, newest first.
func (o *Orchestrator) History(ctx context.Context, actor domain.ActorID, page models.PageRequest) (models.Page[models.ExportJob], error) {
	if err := page.Validate(); err != nil {
		return models.Page[models.ExportJob]{}, err
	}
	jobs, total, err := o.exports.ListByActor(ctx, actor, page)
	if err != nil {
		return models.Page[models.ExportJob]{}, dErrors.Wrap(err, dErrors.CodeInternal, "list export jobs")
	}
	return models.NewPage(jobs, page, total), nil
}

// Cancel fails a non-terminal job with the cancellation message. The
// running extraction notices the terminal state on its next batch and
// removes the partial artifact.
func (o *Orchestrator) Cancel(ctx context.Context, actor domain.ActorID, id domain.ExportID) error {
	_, err := o.exports.Execute(ctx, id,
		func(j *models.ExportJob) error {
			if j.ActorID != actor {
				return sentinel.ErrNotFound
			}
			if j.Status.IsTerminal() {
				return dErrors.New(dErrors.CodeInvariantViolation, "export already finished")
			}
			return nil
		},
		func(j *models.ExportJob) {
			j.ApplyFailure(CancelMessage, time.Now())
		},
	)
	if err != nil {
		return err
	}
	o.metrics.Cancelled.Inc()
	return nil
}

// Download resolves a token, consumes one unit of its allowance, and
// returns the artifact handle.
//
// Errors: sentinel.ErrNotFound for unknown tokens, sentinel.ErrExpired
// past the expiry, sentinel.ErrExhausted past the download limit.
func (o *Orchestrator) Download(ctx context.Context, token string) (*Artifact, error) {
	id, err := o.tokens.Get(ctx, token)
	if err != nil {
		// Cache miss or cache outage: the store is authoritative.
		job, err := o.exports.FindByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		id = job.ID
	}

	now := time.Now()
	job, err := o.exports.Execute(ctx, id,
		func(j *models.ExportJob) error {
			if j.DownloadToken != token {
				return sentinel.ErrNotFound
			}
			return j.CanDownload(now)
		},
		func(j *models.ExportJob) {
			j.ApplyDownload()
		},
	)
	if err != nil {
		return nil, err
	}

	if job.DownloadCount >= job.MaxDownloads {
		// Allowance spent; drop the cache entry so later attempts miss
		// straight to the store's exhausted verdict.
		if err := o.tokens.Invalidate(ctx, token); err != nil {
			o.logger.Warn("token cache invalidation failed", "export_id", job.ID.String(), "error", err)
		}
	}

	o.metrics.Downloads.Inc()
	return &Artifact{
		Path:        job.FilePath,
		FileName:    filepath.Base(job.FilePath),
		ContentType: job.Format.ContentType(),
		Size:        job.FileSizeBytes,
	}, nil
}

// Close stops accepting progress and waits for running jobs to notice.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.cancel()
	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes one export job to completion, failure, or cancellation.
func (o *Orchestrator) run(id domain.ExportID) {
	defer o.wg.Done()
	start := time.Now()

	ctx, span := o.tracer.Start(o.ctx, "audit.export.run",
		trace.WithAttributes(attribute.String("export_id", id.String())))
	defer span.End()

	job, err := o.exports.Execute(ctx, id,
		func(j *models.ExportJob) error { return j.CanStart() },
		func(j *models.ExportJob) { j.ApplyStart(time.Now()) },
	)
	if err != nil {
		// Cancelled before it started; nothing to clean up.
		o.logger.Info("export did not start", "export_id", id.String(), "error", err)
		return
	}

	path, size, processed, err := o.extract(ctx, job)
	if err != nil {
		o.fail(id, err)
		span.RecordError(err)
		removeArtifact(path)
		return
	}

	token, err := GenerateToken()
	if err != nil {
		o.fail(id, err)
		removeArtifact(path)
		return
	}
	expiresAt := time.Now().Add(o.cfg.DownloadTTL)

	_, err = o.exports.Execute(ctx, id,
		nil,
		func(j *models.ExportJob) {
			j.ApplyProgress(processed, processed)
			if err := j.ApplyCompletion(path, size, token, expiresAt, time.Now()); err != nil {
				// Terminal already (cancelled during the final write).
				o.logger.Info("export finished after cancellation", "export_id", id.String())
			}
		},
	)
	if err != nil {
		removeArtifact(path)
		return
	}

	final, err := o.exports.Get(ctx, id)
	if err != nil || final.Status != domain.ExportCompleted {
		removeArtifact(path)
		return
	}

	if err := o.tokens.Put(ctx, token, id, o.cfg.DownloadTTL); err != nil {
		o.logger.Warn("token cache write failed", "export_id", id.String(), "error", err)
	}
	o.metrics.Completed.Inc()
	o.metrics.ObserveDuration(start)
	o.logger.Info("export completed",
		"export_id", id.String(),
		"records", processed,
		"bytes", size,
	)
}

// extract streams the scoped result set into the artifact file in batches.
// Returns the artifact path even on error so the caller can clean up.
func (o *Orchestrator) extract(ctx context.Context, job *models.ExportJob) (path string, size int64, processed int64, err error) {
	path = filepath.Join(o.cfg.Dir, artifactName(job))

	file, err := os.Create(path)
	if err != nil {
		return path, 0, 0, fmt.Errorf("create artifact: %w", err)
	}
	defer file.Close()

	writer, err := newRecordWriter(job.Format)
	if err != nil {
		return path, 0, 0, err
	}
	if err := writer.Start(file); err != nil {
		return path, 0, 0, fmt.Errorf("start artifact: %w", err)
	}

	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return path, 0, processed, err
		}

		result, err := o.engine.Find(ctx, job.TenantID, job.ActorID, job.Filter, exportSort(), models.PageRequest{Page: page, Size: models.ExportBatchSize})
		if err != nil {
			return path, 0, processed, err
		}
		for _, entry := range result.Items {
			if err := writer.Write(entry); err != nil {
				return path, 0, processed, fmt.Errorf("write artifact: %w", err)
			}
		}
		processed += int64(len(result.Items))

		// Persist progress and detect cancellation between batches.
		_, err = o.exports.Execute(ctx, job.ID,
			func(j *models.ExportJob) error {
				if j.Status != domain.ExportProcessing {
					return errors.New(CancelMessage)
				}
				return nil
			},
			func(j *models.ExportJob) {
				j.ApplyProgress(processed, result.TotalElements)
			},
		)
		if err != nil {
			return path, 0, processed, err
		}

		if result.Last || len(result.Items) == 0 {
			break
		}
	}

	if err := writer.Finish(); err != nil {
		return path, 0, processed, fmt.Errorf("finish artifact: %w", err)
	}
	if err := file.Sync(); err != nil {
		return path, 0, processed, fmt.Errorf("sync artifact: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		return path, 0, processed, fmt.Errorf("stat artifact: %w", err)
	}
	return path, info.Size(), processed, nil
}

func (o *Orchestrator) fail(id domain.ExportID, cause error) {
	// A cancelled job is already terminal; ApplyFailure keeps the first
	// message, so the cancellation text survives this late failure.
	_, err := o.exports.Execute(context.Background(), id,
		nil,
		func(j *models.ExportJob) {
			j.ApplyFailure(cause.Error(), time.Now())
		},
	)
	if err != nil {
		o.logger.Error("export failure not recorded", "export_id", id.String(), "error", err)
	}
	if cause.Error() != CancelMessage {
		o.metrics.Failed.Inc()
		o.logger.Warn("export failed", "export_id", id.String(), "error", cause)
	}
}

// artifactName builds the download file name. The timestamp makes repeated
// exports of the same filter distinguishable on the client side.
func artifactName(job *models.ExportJob) string {
	return fmt.Sprintf("audit-export-%s-%s%s",
		job.ID.String(),
		time.Now().UTC().Format("20060102150405"),
		job.Format.Extension(),
	)
}

// exportSort fixes extraction order oldest-first so batches paginate a
// stable snapshot prefix.
func exportSort() models.Sort {
	return models.Sort{Field: domain.SortByCreatedAt, Direction: domain.SortAsc}
}

func removeArtifact(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
