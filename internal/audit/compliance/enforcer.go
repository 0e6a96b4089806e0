// Package compliance implements the regulatory lifecycle of the audit
// log: age-based retention expiry, per-actor redaction and erasure, and
// per-actor portability export. These are the only operations allowed to
// mutate or remove persisted events.
package compliance

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"chronicle/internal/audit/ingest"
	"chronicle/internal/audit/models"
	"chronicle/internal/audit/redact"
	"chronicle/internal/audit/store"
	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
)

// DefaultRetentionDays keeps roughly seven years of history, the longest
// window required by the regimes the engine targets.
const DefaultRetentionDays = 2555

// Recorder records the enforcer's own actions in the audit log. The sync
// path is used so a saturated ingestion queue cannot drop the record of a
// destructive operation.
type Recorder interface {
	LogSync(ctx context.Context, req ingest.Request) (domain.EventID, error)
}

// Config tunes the enforcer.
type Config struct {
	// RetentionDays is the age bound for scheduled expiry.
	RetentionDays int
	// SystemTenant is the tenant the enforcer's own audit records are
	// written under. When nil, self-logging is disabled.
	SystemTenant domain.TenantID
}

func (c *Config) applyDefaults() {
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
}

// Enforcer executes compliance operations against the event store.
//
// Actor-keyed operations deliberately span tenants: a data-subject request
// covers every organization holding the actor's records. An operation
// racing an in-flight ingestion for the same actor may miss that one
// event; the next scheduled pass catches it.
type Enforcer struct {
	events   store.EventStore
	recorder Recorder
	metrics  *Metrics
	logger   *slog.Logger
	cfg      Config
}

// NewEnforcer constructs the enforcer. recorder may be nil.
func NewEnforcer(events store.EventStore, recorder Recorder, metrics *Metrics, logger *slog.Logger, cfg Config) *Enforcer {
	cfg.applyDefaults()
	return &Enforcer{
		events:   events,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// RetentionDays returns the configured default retention window.
func (e *Enforcer) RetentionDays() int {
	return e.cfg.RetentionDays
}

// ExpireOlderThan deletes all events older than the retention window,
// across all tenants. Idempotent; returns the number of events removed.
func (e *Enforcer) ExpireOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "retention window must be positive")
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	deleted, err := e.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		e.metrics.Failures.Inc()
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "expire audit events")
	}
	e.metrics.ExpiredEvents.Add(float64(deleted))
	e.logger.Info("retention expiry completed",
		"cutoff", cutoff,
		"deleted", deleted,
	)

	e.record(ctx, "compliance.retention.expire", domain.SeverityInfo, map[string]string{
		"cutoff":  cutoff.UTC().Format(time.RFC3339),
		"deleted": strconv.FormatInt(deleted, 10),
	})
	return deleted, nil
}

// RedactActorData re-applies redaction to all of an actor's persisted
// events: payloads and metadata are re-scrubbed, and the actor's name, IP
// address, and user agent are replaced with the placeholder. The rows
// survive with their shape intact.
//
// Returns the number of events rewritten. On a mid-pass store failure the
// count covers the events rewritten so far; redaction is idempotent, so
// the caller retries the whole actor.
func (e *Enforcer) RedactActorData(ctx context.Context, actor domain.ActorID) (int64, error) {
	if actor.IsNil() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "redaction requires an actor id")
	}

	events, err := e.events.ListByActor(ctx, actor)
	if err != nil {
		e.metrics.Failures.Inc()
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list actor events")
	}

	var affected int64
	for i := range events {
		fields := redactedFields(&events[i])
		if err := e.events.UpdateRedactedFields(ctx, events[i].ID, fields); err != nil {
			e.metrics.Failures.Inc()
			e.metrics.RedactedEvents.Add(float64(affected))
			return affected, dErrors.Wrap(err, dErrors.CodeInternal, "redact actor event")
		}
		affected++
	}
	e.metrics.RedactedEvents.Add(float64(affected))
	e.logger.Info("actor redaction completed",
		"actor_id", actor.String(),
		"affected", affected,
	)

	e.record(ctx, "compliance.actor.redact", domain.SeverityWarning, map[string]string{
		"subject_actor_id": actor.String(),
		"affected":         strconv.FormatInt(affected, 10),
	})
	return affected, nil
}

// EraseActorData hard-deletes all of an actor's events. Distinct from
// redaction: erasure removes the rows entirely. Returns the count removed.
func (e *Enforcer) EraseActorData(ctx context.Context, actor domain.ActorID) (int64, error) {
	if actor.IsNil() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "erasure requires an actor id")
	}

	deleted, err := e.events.DeleteByActor(ctx, actor)
	if err != nil {
		e.metrics.Failures.Inc()
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "erase actor events")
	}
	e.metrics.ErasedEvents.Add(float64(deleted))
	e.logger.Info("actor erasure completed",
		"actor_id", actor.String(),
		"deleted", deleted,
	)

	e.record(ctx, "compliance.actor.erase", domain.SeverityCritical, map[string]string{
		"subject_actor_id": actor.String(),
		"deleted":          strconv.FormatInt(deleted, 10),
	})
	return deleted, nil
}

// ExportActorData returns the actor's full record set for a portability
// response, oldest first. The rows come back exactly as stored, which
// means already redacted; portability never bypasses redaction because
// the actor's own payloads may embed third-party PII.
func (e *Enforcer) ExportActorData(ctx context.Context, actor domain.ActorID) ([]models.Event, error) {
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "portability export requires an actor id")
	}

	events, err := e.events.ListByActor(ctx, actor)
	if err != nil {
		e.metrics.Failures.Inc()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list actor events")
	}

	e.record(ctx, "compliance.actor.export", domain.SeverityInfo, map[string]string{
		"subject_actor_id": actor.String(),
		"records":          strconv.Itoa(len(events)),
	})
	return events, nil
}

// record writes the enforcer's own audit trail. Failures are logged, not
// propagated; the compliance operation itself already succeeded.
func (e *Enforcer) record(ctx context.Context, action string, severity domain.Severity, metadata map[string]string) {
	if e.recorder == nil || e.cfg.SystemTenant.IsNil() {
		return
	}
	_, err := e.recorder.LogSync(ctx, ingest.Request{
		TenantID: e.cfg.SystemTenant,
		Action:   action,
		Outcome:  domain.OutcomeSuccess,
		Severity: severity,
		Metadata: metadata,
	})
	if err != nil {
		e.logger.Error("compliance self-audit failed", "action", action, "error", err)
	}
}

// redactedFields builds the replacement values for one event. Identity of
// the record is preserved; everything payload-shaped is scrubbed.
func redactedFields(event *models.Event) store.RedactedFields {
	fields := store.RedactedFields{
		RequestData:  redact.Redact(event.RequestData),
		ResponseData: redact.Redact(event.ResponseData),
		Metadata:     redact.ScrubMap(event.Metadata),
	}
	if event.ActorName != "" {
		fields.ActorName = redact.Placeholder
	}
	if event.IPAddress != "" {
		fields.IPAddress = redact.Placeholder
	}
	if event.UserAgent != "" {
		fields.UserAgent = redact.Placeholder
	}
	return fields
}
