// Package domain defines the identity primitives and closed vocabularies
// shared across the audit engine.
//
// IDs are uuid-backed value types constructed through Parse* functions at
// trust boundaries; direct casting bypasses validation and is reserved for
// internal call sites that already hold a valid uuid.
package domain

import (
	"github.com/google/uuid"

	dErrors "chronicle/pkg/domainerrors"
)

// TenantID identifies the organizational boundary an audit event belongs to.
// Every persisted event carries exactly one TenantID; it is never optional.
type TenantID uuid.UUID

// ActorID identifies the user or system principal that performed an action.
// The zero value means "system-originated" (no human actor).
type ActorID uuid.UUID

// EventID identifies a persisted audit event. Assigned once at append time.
type EventID uuid.UUID

// ExportID identifies an export job.
type ExportID uuid.UUID

// NewEventID returns a fresh event identifier.
func NewEventID() EventID { return EventID(uuid.New()) }

// NewExportID returns a fresh export job identifier.
func NewExportID() ExportID { return ExportID(uuid.New()) }

// ParseTenantID constructs a TenantID from external input.
//
// Errors: CodeInvalidInput when the value is empty, malformed, or the nil
// UUID; a nil tenant is a scoping bug, not a valid identity.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseID(s, "tenant id")
	if err != nil {
		return TenantID{}, err
	}
	if u == uuid.Nil {
		return TenantID{}, dErrors.New(dErrors.CodeInvalidInput, "tenant id cannot be nil")
	}
	return TenantID(u), nil
}

// ParseActorID constructs an ActorID from external input.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseID(s, "actor id")
	if err != nil {
		return ActorID{}, err
	}
	return ActorID(u), nil
}

// ParseEventID constructs an EventID from external input.
func ParseEventID(s string) (EventID, error) {
	u, err := parseID(s, "event id")
	if err != nil {
		return EventID{}, err
	}
	return EventID(u), nil
}

// ParseExportID constructs an ExportID from external input.
func ParseExportID(s string) (ExportID, error) {
	u, err := parseID(s, "export id")
	if err != nil {
		return ExportID{}, err
	}
	return ExportID(u), nil
}

func parseID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	return u, nil
}

func (id TenantID) String() string { return uuid.UUID(id).String() }
func (id TenantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id ActorID) String() string { return uuid.UUID(id).String() }
func (id ActorID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id EventID) String() string { return uuid.UUID(id).String() }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id ExportID) String() string { return uuid.UUID(id).String() }
func (id ExportID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// The ID types serialize as canonical UUID strings. Without these the
// wrapped [16]byte array would leak into JSON.

func (id TenantID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *TenantID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id ActorID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *ActorID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id EventID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *EventID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id ExportID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *ExportID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
