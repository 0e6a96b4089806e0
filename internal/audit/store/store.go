// Package store defines the persistence contract for audit events and
// export jobs. Implementations live in the memory and postgres
// subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"chronicle/internal/audit/models"
	"chronicle/pkg/domain"
)

// ErrMissingTenant is returned by every predicate-accepting operation that
// is called without a tenant scope. A query without a tenant filter is a
// programming error, not a valid state, so implementations fail fast
// instead of scanning across tenants.
var ErrMissingTenant = errors.New("store: operation requires a tenant scope")

// Scope is the mandatory tenant boundary of a read, optionally narrowed to
// a single actor's own events.
type Scope struct {
	Tenant domain.TenantID
	// Actor, when set, restricts results to events performed by this actor.
	// This is how "see only your own activity" is enforced at the store.
	Actor domain.ActorID
}

// Validate rejects a scope without a tenant.
func (s Scope) Validate() error {
	if s.Tenant.IsNil() {
		return ErrMissingTenant
	}
	return nil
}

// FacetField names a field distinct-value aggregations may run over.
type FacetField string

const (
	FacetAction       FacetField = "action"
	FacetOutcome      FacetField = "outcome"
	FacetActorName    FacetField = "actor_name"
	FacetResourceType FacetField = "resource_type"
)

// FacetItem is one distinct value with its occurrence count.
type FacetItem struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// RedactedFields carries the replacement values for an in-place compliance
// redaction. Only the payload-bearing fields are touchable; identity and
// ordering fields of a persisted event never change.
type RedactedFields struct {
	RequestData  map[string]any
	ResponseData map[string]any
	Metadata     map[string]string
	ActorName    string
	IPAddress    string
	UserAgent    string
}

// EventStore is the append/query surface over the durable event log.
//
// Appends from concurrent callers need no external coordination. Reads see
// only fully appended events.
type EventStore interface {
	// Append persists the event, assigning CreatedAt (if zero), and the
	// store sequence. Returns the persisted id.
	Append(ctx context.Context, event *models.Event) (domain.EventID, error)

	// Query returns one page of events matching the scope and filter, in
	// the given sort order with the store sequence as tie-break.
	Query(ctx context.Context, scope Scope, filter models.Filter, sort models.Sort, page models.PageRequest) ([]models.Event, error)

	// Count returns the number of events matching the scope and filter.
	Count(ctx context.Context, scope Scope, filter models.Filter) (int64, error)

	// Facets returns distinct values of field with counts, within scope and
	// filter.
	Facets(ctx context.Context, scope Scope, filter models.Filter, field FacetField) ([]FacetItem, error)

	// DistinctValues returns up to limit distinct values of field whose
	// lower-cased form contains the lower-cased term. An empty term matches
	// everything.
	DistinctValues(ctx context.Context, scope Scope, field FacetField, term string, limit int) ([]string, error)

	// CountDistinct returns the number of distinct non-empty values of
	// field within scope.
	CountDistinct(ctx context.Context, scope Scope, field FacetField) (int64, error)

	// UpdateRedactedFields overwrites the payload-bearing fields of one
	// event. This is the only mutation path besides deletion, reserved for
	// compliance redaction. Returns sentinel.ErrNotFound for unknown ids.
	UpdateRedactedFields(ctx context.Context, id domain.EventID, fields RedactedFields) error

	// Compliance operations. These are actor-keyed and deliberately span
	// tenants: a data-subject request covers every organization that holds
	// the actor's records.

	// ListByActor returns all of an actor's events, oldest first.
	ListByActor(ctx context.Context, actor domain.ActorID) ([]models.Event, error)

	// DeleteByActor removes all of an actor's events. Returns the count.
	DeleteByActor(ctx context.Context, actor domain.ActorID) (int64, error)

	// DeleteOlderThan removes events created before cutoff, across all
	// tenants. Returns the count. Idempotent.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExportStore persists export jobs and resolves download tokens.
type ExportStore interface {
	Create(ctx context.Context, job *models.ExportJob) error

	// Get returns the job or sentinel.ErrNotFound.
	Get(ctx context.Context, id domain.ExportID) (*models.ExportJob, error)

	// Update replaces the stored job state. Returns sentinel.ErrNotFound
	// for unknown jobs.
	Update(ctx context.Context, job *models.ExportJob) error

	// Execute runs validate-then-mutate under the store's lock so state
	// transitions cannot interleave.
	Execute(ctx context.Context, id domain.ExportID, validate func(*models.ExportJob) error, mutate func(*models.ExportJob)) (*models.ExportJob, error)

	// FindByToken resolves a download token or returns sentinel.ErrNotFound.
	FindByToken(ctx context.Context, token string) (*models.ExportJob, error)

	// ListByActor returns the actor's jobs, newest first.
	ListByActor(ctx context.Context, actor domain.ActorID, page models.PageRequest) ([]models.ExportJob, int64, error)

	// CountActive returns the actor's PENDING/PROCESSING job count.
	CountActive(ctx context.Context, actor domain.ActorID) (int64, error)
}
