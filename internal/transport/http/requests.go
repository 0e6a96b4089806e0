package httptransport

import (
	"strings"
	"time"

	"chronicle/internal/audit/models"
	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
	pstrings "chronicle/pkg/platform/strings"
)

// IngestRequest is the HTTP request body for POST /audit/events. Tenant
// and actor identity come from the verified token, never from the body.
type IngestRequest struct {
	Action        string            `json:"action"`
	ResourceType  string            `json:"resource_type"`
	ResourceID    string            `json:"resource_id"`
	Outcome       string            `json:"outcome"`
	Severity      string            `json:"severity"`
	RequestData   map[string]any    `json:"request_data"`
	ResponseData  map[string]any    `json:"response_data"`
	Metadata      map[string]string `json:"metadata"`
	CorrelationID string            `json:"correlation_id"`
	// Wait makes the call block until the event is durable.
	Wait bool `json:"wait"`

	parsedOutcome  domain.Outcome
	parsedSeverity domain.Severity
}

// Validate validates and parses the request.
func (r *IngestRequest) Validate() error {
	r.Action = strings.TrimSpace(r.Action)
	if r.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	if r.Outcome != "" {
		outcome, err := domain.ParseOutcome(r.Outcome)
		if err != nil {
			return err
		}
		r.parsedOutcome = outcome
	}
	if r.Severity != "" {
		severity, err := domain.ParseSeverity(r.Severity)
		if err != nil {
			return err
		}
		r.parsedSeverity = severity
	}
	return nil
}

// FilterRequest is the wire shape of a query filter.
type FilterRequest struct {
	DateFrom             *time.Time `json:"date_from"`
	DateTo               *time.Time `json:"date_to"`
	Search               string     `json:"search"`
	ActionTypes          []string   `json:"action_types"`
	ResourceTypes        []string   `json:"resource_types"`
	Outcomes             []string   `json:"outcomes"`
	Severities           []string   `json:"severities"`
	IncludeSystemActions bool       `json:"include_system_actions"`
}

// ToFilter parses the wire filter into the domain filter.
func (r FilterRequest) ToFilter() (models.Filter, error) {
	filter := models.Filter{
		DateFrom:             r.DateFrom,
		DateTo:               r.DateTo,
		Search:               r.Search,
		ActionTypes:          r.ActionTypes,
		ResourceTypes:        r.ResourceTypes,
		IncludeSystemActions: r.IncludeSystemActions,
	}
	// The enum vocabularies are case-insensitive on the wire, so dedupe on
	// the lowered form; "FAILURE" and "failure" are one clause.
	for _, raw := range pstrings.DedupeAndTrimLower(r.Outcomes) {
		outcome, err := domain.ParseOutcome(raw)
		if err != nil {
			return models.Filter{}, err
		}
		filter.Outcomes = append(filter.Outcomes, outcome)
	}
	for _, raw := range pstrings.DedupeAndTrimLower(r.Severities) {
		severity, err := domain.ParseSeverity(raw)
		if err != nil {
			return models.Filter{}, err
		}
		filter.Severities = append(filter.Severities, severity)
	}
	return filter, nil
}

// QueryRequest is the HTTP request body for POST /audit/events/query and
// POST /audit/search.
type QueryRequest struct {
	Filter        FilterRequest `json:"filter"`
	Page          int           `json:"page"`
	Size          int           `json:"size"`
	SortField     string        `json:"sort_field"`
	SortDirection string        `json:"sort_direction"`

	parsedFilter models.Filter
	parsedSort   models.Sort
}

// Validate validates and parses the request. Range checks on page and
// size stay in the engine; only vocabulary parsing happens here.
func (r *QueryRequest) Validate() error {
	filter, err := r.Filter.ToFilter()
	if err != nil {
		return err
	}
	r.parsedFilter = filter

	field, err := domain.ParseSortField(r.SortField)
	if err != nil {
		return err
	}
	direction, err := domain.ParseSortDirection(r.SortDirection)
	if err != nil {
		return err
	}
	r.parsedSort = models.Sort{Field: field, Direction: direction}
	return nil
}

// ParsedFilter returns the validated filter.
func (r *QueryRequest) ParsedFilter() models.Filter { return r.parsedFilter }

// ParsedSort returns the validated sort.
func (r *QueryRequest) ParsedSort() models.Sort { return r.parsedSort }

// ParsedPage returns the requested page window.
func (r *QueryRequest) ParsedPage() models.PageRequest {
	return models.PageRequest{Page: r.Page, Size: r.Size}
}

// FacetsRequest is the HTTP request body for POST /audit/facets.
type FacetsRequest struct {
	Filter FilterRequest `json:"filter"`

	parsedFilter models.Filter
}

// Validate validates and parses the request.
func (r *FacetsRequest) Validate() error {
	filter, err := r.Filter.ToFilter()
	if err != nil {
		return err
	}
	r.parsedFilter = filter
	return nil
}

// ParsedFilter returns the validated filter.
func (r *FacetsRequest) ParsedFilter() models.Filter { return r.parsedFilter }

// ExportRequest is the HTTP request body for POST /audit/exports.
type ExportRequest struct {
	Format string        `json:"format"`
	Filter FilterRequest `json:"filter"`

	parsedFormat domain.ExportFormat
	parsedFilter models.Filter
}

// Validate validates and parses the request.
func (r *ExportRequest) Validate() error {
	format, err := domain.ParseExportFormat(r.Format)
	if err != nil {
		return err
	}
	r.parsedFormat = format

	filter, err := r.Filter.ToFilter()
	if err != nil {
		return err
	}
	r.parsedFilter = filter
	return nil
}

// ParsedFormat returns the validated format.
func (r *ExportRequest) ParsedFormat() domain.ExportFormat { return r.parsedFormat }

// ParsedFilter returns the validated filter.
func (r *ExportRequest) ParsedFilter() models.Filter { return r.parsedFilter }

// ExpireRequest is the HTTP request body for the admin retention trigger.
// A zero RetentionDays selects the configured default.
type ExpireRequest struct {
	RetentionDays int `json:"retention_days"`
}
