// Package models holds the audit engine's domain aggregates and value
// objects: the append-only event record, query filters, pagination, and
// the export job state machine.
package models

import (
	"time"

	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
)

// Event is the sole persisted entity of the audit engine.
//
// Invariants:
//   - TenantID is never nil and never changes after creation
//   - Records are append-only: once persisted, only compliance operations
//     (redaction-in-place, deletion) may mutate or remove a record
//   - RequestData and ResponseData are redacted before the Event is
//     constructed; the original values never reach a store
//   - CreatedAt and Sequence are assigned by the store at append time and
//     are immutable
//
// Sequence is the store's insertion counter. It is the secondary sort key
// for every query, which makes pagination deterministic when timestamps
// collide.
type Event struct {
	ID            domain.EventID    `json:"id"`
	TenantID      domain.TenantID   `json:"tenant_id"`
	ActorID       domain.ActorID    `json:"actor_id,omitempty"`
	ActorName     string            `json:"actor_name,omitempty"`
	Action        string            `json:"action"`
	ResourceType  string            `json:"resource_type,omitempty"`
	ResourceID    string            `json:"resource_id,omitempty"`
	Outcome       domain.Outcome    `json:"outcome"`
	Severity      domain.Severity   `json:"severity"`
	IPAddress     string            `json:"ip_address,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	RequestData   map[string]any    `json:"request_data,omitempty"`
	ResponseData  map[string]any    `json:"response_data,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Sequence      uint64            `json:"-"`
}

// IsSystemAction reports whether the event was produced without a human
// actor (scheduled jobs, internal processes).
func (e *Event) IsSystemAction() bool {
	return e.ActorID.IsNil()
}

// Validate checks the invariants that must hold before an Event may be
// appended.
func (e *Event) Validate() error {
	if e.TenantID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "event requires a tenant id")
	}
	if e.Action == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "event requires an action")
	}
	if e.Outcome != "" && !e.Outcome.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid outcome")
	}
	if e.Severity != "" && !e.Severity.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid severity")
	}
	return nil
}

// Entry is the canonical read model for one audit event, shared by the
// query engine, search service, and export writers. The original system
// grew several divergent copies of this shape; there is exactly one here.
type Entry struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	ActorID       string          `json:"actor_id,omitempty"`
	ActorName     string          `json:"actor_name,omitempty"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resource_type,omitempty"`
	ResourceID    string          `json:"resource_id,omitempty"`
	Description   string          `json:"description"`
	Outcome       domain.Outcome  `json:"outcome"`
	Severity      domain.Severity `json:"severity"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// EntryFromEvent projects an Event onto the read model.
func EntryFromEvent(e Event) Entry {
	entry := Entry{
		ID:            e.ID.String(),
		Timestamp:     e.CreatedAt,
		ActorName:     e.ActorName,
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Description:   describe(e),
		Outcome:       e.Outcome,
		Severity:      e.Severity,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
		CorrelationID: e.CorrelationID,
	}
	if !e.ActorID.IsNil() {
		entry.ActorID = e.ActorID.String()
	}
	return entry
}

// describe builds the human-readable summary line shown in log viewers.
func describe(e Event) string {
	actor := e.ActorName
	if actor == "" {
		if e.IsSystemAction() {
			actor = "system"
		} else {
			actor = "actor " + e.ActorID.String()
		}
	}
	desc := actor + " performed " + e.Action
	if e.ResourceType != "" {
		desc += " on " + e.ResourceType
		if e.ResourceID != "" {
			desc += " " + e.ResourceID
		}
	}
	return desc
}
