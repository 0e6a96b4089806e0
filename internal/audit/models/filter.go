package models

import (
	"strings"
	"time"

	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
	pstrings "chronicle/pkg/platform/strings"
)

// Pagination defaults and bounds. Sizes above MaxPageSize are rejected
// rather than silently clamped so callers learn about the limit.
const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// Filter narrows a tenant-scoped query. The zero value matches everything
// within the caller's scope.
//
// Search is matched case-insensitively as a substring against action,
// resource type, and correlation id. An empty or whitespace-only term
// disables the search clause entirely.
type Filter struct {
	DateFrom             *time.Time
	DateTo               *time.Time
	Search               string
	ActionTypes          []string
	ResourceTypes        []string
	Outcomes             []domain.Outcome
	Severities           []domain.Severity
	IncludeSystemActions bool
}

// Normalize trims and dedupes the set filters and canonicalizes the search
// term. Returns a copy; the receiver is not mutated.
func (f Filter) Normalize() Filter {
	f.Search = strings.ToLower(strings.TrimSpace(f.Search))
	f.ActionTypes = pstrings.DedupeAndTrim(f.ActionTypes)
	f.ResourceTypes = pstrings.DedupeAndTrim(f.ResourceTypes)
	return f
}

// HasSearch reports whether a usable search term is present.
func (f Filter) HasSearch() bool {
	return strings.TrimSpace(f.Search) != ""
}

// Validate rejects filters that can never produce a meaningful result.
func (f Filter) Validate() error {
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return dErrors.New(dErrors.CodeValidation, "date range start is after end")
	}
	for _, o := range f.Outcomes {
		if !o.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "invalid outcome filter: "+o.String())
		}
	}
	for _, s := range f.Severities {
		if !s.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "invalid severity filter: "+s.String())
		}
	}
	return nil
}

// Matches reports whether the event satisfies every clause of the filter.
// Used by the memory store; the postgres store compiles the same clauses
// into SQL.
func (f Filter) Matches(e *Event) bool {
	if f.DateFrom != nil && e.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && e.CreatedAt.After(*f.DateTo) {
		return false
	}
	if len(f.ActionTypes) > 0 && !containsString(f.ActionTypes, e.Action) {
		return false
	}
	if len(f.ResourceTypes) > 0 && !containsString(f.ResourceTypes, e.ResourceType) {
		return false
	}
	if len(f.Outcomes) > 0 && !containsOutcome(f.Outcomes, e.Outcome) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if f.HasSearch() {
		term := strings.ToLower(strings.TrimSpace(f.Search))
		if !strings.Contains(strings.ToLower(e.Action), term) &&
			!strings.Contains(strings.ToLower(e.ResourceType), term) &&
			!strings.Contains(strings.ToLower(e.CorrelationID), term) {
			return false
		}
	}
	return true
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsOutcome(set []domain.Outcome, v domain.Outcome) bool {
	for _, o := range set {
		if o == v {
			return true
		}
	}
	return false
}

func containsSeverity(set []domain.Severity, v domain.Severity) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Sort pairs an allow-listed field with a direction.
type Sort struct {
	Field     domain.SortField
	Direction domain.SortDirection
}

// DefaultSort orders newest first.
func DefaultSort() Sort {
	return Sort{Field: domain.SortByCreatedAt, Direction: domain.SortDesc}
}

// Validate rejects unlisted sort fields instead of ignoring them.
func (s Sort) Validate() error {
	if !s.Field.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "sort field not allowed: "+s.Field.String())
	}
	if s.Direction != domain.SortAsc && s.Direction != domain.SortDesc {
		return dErrors.New(dErrors.CodeValidation, "sort direction must be asc or desc")
	}
	return nil
}

// PageRequest selects one page of a result set. Page numbers start at 0.
type PageRequest struct {
	Page int
	Size int
}

// DefaultPage returns the first page with the default size.
func DefaultPage() PageRequest {
	return PageRequest{Page: 0, Size: DefaultPageSize}
}

// Validate enforces the pagination bounds. A zero Size selects the default.
func (p PageRequest) Validate() error {
	if p.Page < 0 {
		return dErrors.New(dErrors.CodeValidation, "page number cannot be negative")
	}
	if p.Size < 0 {
		return dErrors.New(dErrors.CodeValidation, "page size cannot be negative")
	}
	if p.Size > MaxPageSize {
		return dErrors.Newf(dErrors.CodeValidation, "page size exceeds maximum of %d", MaxPageSize)
	}
	return nil
}

// EffectiveSize resolves the zero value to the default page size.
func (p PageRequest) EffectiveSize() int {
	if p.Size == 0 {
		return DefaultPageSize
	}
	return p.Size
}

// Offset returns the absolute offset of the first item on the page.
func (p PageRequest) Offset() int {
	return p.Page * p.EffectiveSize()
}

// Page is one window of a larger result set plus its position metadata.
type Page[T any] struct {
	Items         []T   `json:"items"`
	PageNumber    int   `json:"page_number"`
	PageSize      int   `json:"page_size"`
	TotalElements int64 `json:"total_elements"`
	TotalPages    int   `json:"total_pages"`
	First         bool  `json:"is_first"`
	Last          bool  `json:"is_last"`
}

// NewPage assembles a Page from one window of items and the total count.
func NewPage[T any](items []T, req PageRequest, total int64) Page[T] {
	size := req.EffectiveSize()
	totalPages := int((total + int64(size) - 1) / int64(size))
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:         items,
		PageNumber:    req.Page,
		PageSize:      size,
		TotalElements: total,
		TotalPages:    totalPages,
		First:         req.Page == 0,
		Last:          req.Page >= totalPages-1,
	}
}

// MapPage projects a page of one type onto another, preserving metadata.
func MapPage[T, U any](p Page[T], fn func(T) U) Page[U] {
	items := make([]U, len(p.Items))
	for i, item := range p.Items {
		items[i] = fn(item)
	}
	return Page[U]{
		Items:         items,
		PageNumber:    p.PageNumber,
		PageSize:      p.PageSize,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
		First:         p.First,
		Last:          p.Last,
	}
}
