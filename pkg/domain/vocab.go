package domain

import (
	"strings"

	dErrors "chronicle/pkg/domainerrors"
)

// Outcome is the result classification of an audited action.
//
// Invariant: the value must be one of the supported outcomes. Construct via
// ParseOutcome at trust boundaries to enforce the allowlist.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

var validOutcomes = map[Outcome]bool{
	OutcomeSuccess: true,
	OutcomeFailure: true,
	OutcomeDenied:  true,
	OutcomeError:   true,
}

// ParseOutcome constructs an Outcome from external input.
//
// Errors: CodeInvalidInput when the value is empty or unsupported.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !validOutcomes[o] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid outcome")
	}
	return o, nil
}

func (o Outcome) IsValid() bool  { return validOutcomes[o] }
func (o Outcome) String() string { return string(o) }

// Severity classifies events for filtering and retention rules.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var validSeverities = map[Severity]bool{
	SeverityInfo:     true,
	SeverityWarning:  true,
	SeverityCritical: true,
}

// ParseSeverity constructs a Severity from external input.
func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !validSeverities[v] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid severity")
	}
	return v, nil
}

func (s Severity) IsValid() bool  { return validSeverities[s] }
func (s Severity) String() string { return string(s) }

// ExportFormat selects the artifact format for an export job. Each format
// has a fixed content-type and file extension pairing.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "CSV"
	FormatJSON ExportFormat = "JSON"
	FormatPDF  ExportFormat = "PDF"
)

var formatMeta = map[ExportFormat]struct {
	mime string
	ext  string
}{
	FormatCSV:  {"text/csv", ".csv"},
	FormatJSON: {"application/json", ".json"},
	FormatPDF:  {"application/pdf", ".pdf"},
}

// ParseExportFormat constructs an ExportFormat from external input.
func ParseExportFormat(s string) (ExportFormat, error) {
	f := ExportFormat(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := formatMeta[f]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid export format")
	}
	return f, nil
}

func (f ExportFormat) IsValid() bool { _, ok := formatMeta[f]; return ok }

// ContentType returns the MIME type served for artifacts of this format.
func (f ExportFormat) ContentType() string { return formatMeta[f].mime }

// Extension returns the artifact file extension, dot included.
func (f ExportFormat) Extension() string { return formatMeta[f].ext }

func (f ExportFormat) String() string { return string(f) }

// ExportStatus is the lifecycle state of an export job.
//
// Transitions: pending -> processing -> completed | failed. Completed and
// failed are terminal.
type ExportStatus string

const (
	ExportPending    ExportStatus = "pending"
	ExportProcessing ExportStatus = "processing"
	ExportCompleted  ExportStatus = "completed"
	ExportFailed     ExportStatus = "failed"
)

// CanTransitionTo reports whether the status machine allows moving to next.
func (s ExportStatus) CanTransitionTo(next ExportStatus) bool {
	switch s {
	case ExportPending:
		return next == ExportProcessing || next == ExportFailed
	case ExportProcessing:
		return next == ExportCompleted || next == ExportFailed
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s ExportStatus) IsTerminal() bool {
	return s == ExportCompleted || s == ExportFailed
}

func (s ExportStatus) String() string { return string(s) }

// SortField is the allow-list of queryable sort columns. An unlisted field
// is rejected rather than silently ignored.
type SortField string

const (
	SortByCreatedAt    SortField = "created_at"
	SortByAction       SortField = "action"
	SortByActor        SortField = "actor"
	SortByResourceType SortField = "resource_type"
	SortByOutcome      SortField = "outcome"
)

var validSortFields = map[SortField]bool{
	SortByCreatedAt:    true,
	SortByAction:       true,
	SortByActor:        true,
	SortByResourceType: true,
	SortByOutcome:      true,
}

// ParseSortField constructs a SortField from external input. Empty input
// defaults to created_at.
func ParseSortField(s string) (SortField, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SortByCreatedAt, nil
	}
	f := SortField(s)
	if !validSortFields[f] {
		return "", dErrors.New(dErrors.CodeValidation, "sort field not allowed: "+s)
	}
	return f, nil
}

func (f SortField) IsValid() bool  { return validSortFields[f] }
func (f SortField) String() string { return string(f) }

// SortDirection orders query results.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ParseSortDirection constructs a SortDirection from external input. Empty
// input defaults to descending (newest first).
func ParseSortDirection(s string) (SortDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "desc":
		return SortDesc, nil
	case "asc":
		return SortAsc, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "sort direction must be asc or desc")
	}
}

func (d SortDirection) String() string { return string(d) }
