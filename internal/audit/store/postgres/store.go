// Package postgres persists audit events and export jobs in PostgreSQL.
// Filter clauses are compiled into parameterized SQL; sort columns come
// from the domain allow-list, never from caller input.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/store"
	"chronicle/pkg/domain"
	"chronicle/pkg/platform/sentinel"
)

// EventStore is the PostgreSQL-backed event log.
type EventStore struct {
	db *sql.DB
}

// NewEventStore constructs a PostgreSQL-backed event store.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `id, tenant_id, actor_id, actor_name, action, resource_type, resource_id,
	outcome, severity, ip_address, user_agent, request_data, response_data, metadata,
	correlation_id, created_at, seq`

func (s *EventStore) Append(ctx context.Context, event *models.Event) (domain.EventID, error) {
	if err := event.Validate(); err != nil {
		return domain.EventID{}, err
	}

	eventID := event.ID
	if eventID.IsNil() {
		eventID = domain.NewEventID()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	requestData, err := marshalPayload(event.RequestData)
	if err != nil {
		return domain.EventID{}, fmt.Errorf("marshal request data: %w", err)
	}
	responseData, err := marshalPayload(event.ResponseData)
	if err != nil {
		return domain.EventID{}, fmt.Errorf("marshal response data: %w", err)
	}
	metadata, err := marshalPayload(event.Metadata)
	if err != nil {
		return domain.EventID{}, fmt.Errorf("marshal metadata: %w", err)
	}

	var actorID *uuid.UUID
	if !event.ActorID.IsNil() {
		aid := uuid.UUID(event.ActorID)
		actorID = &aid
	}

	query := `
		INSERT INTO audit_events (
			id, tenant_id, actor_id, actor_name, action, resource_type, resource_id,
			outcome, severity, ip_address, user_agent, request_data, response_data,
			metadata, correlation_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(eventID),
		uuid.UUID(event.TenantID),
		actorID,
		event.ActorName,
		event.Action,
		event.ResourceType,
		event.ResourceID,
		event.Outcome.String(),
		event.Severity.String(),
		event.IPAddress,
		event.UserAgent,
		requestData,
		responseData,
		metadata,
		event.CorrelationID,
		createdAt,
	)
	if err != nil {
		return domain.EventID{}, fmt.Errorf("insert audit event: %w", err)
	}
	return eventID, nil
}

func (s *EventStore) Query(ctx context.Context, scope store.Scope, filter models.Filter, sortBy models.Sort, page models.PageRequest) ([]models.Event, error) {
	where, args, err := buildWhere(scope, filter)
	if err != nil {
		return nil, err
	}

	orderBy, err := orderClause(sortBy)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM audit_events
		%s
		%s
		LIMIT $%d OFFSET $%d
	`, eventColumns, where, orderBy, len(args)+1, len(args)+2)
	args = append(args, page.EffectiveSize(), page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *EventStore) Count(ctx context.Context, scope store.Scope, filter models.Filter) (int64, error) {
	where, args, err := buildWhere(scope, filter)
	if err != nil {
		return 0, err
	}

	var count int64
	query := "SELECT COUNT(*) FROM audit_events " + where
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}

func (s *EventStore) Facets(ctx context.Context, scope store.Scope, filter models.Filter, field store.FacetField) ([]store.FacetItem, error) {
	column, err := facetColumn(field)
	if err != nil {
		return nil, err
	}
	where, args, err := buildWhere(scope, filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) FROM audit_events
		%s AND %s <> ''
		GROUP BY %s
		ORDER BY COUNT(*) DESC, %s ASC
	`, column, where, column, column, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facets: %w", err)
	}
	defer rows.Close()

	var items []store.FacetItem
	for rows.Next() {
		var item store.FacetItem
		if err := rows.Scan(&item.Value, &item.Count); err != nil {
			return nil, fmt.Errorf("scan facet: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facets: %w", err)
	}
	return items, nil
}

func (s *EventStore) DistinctValues(ctx context.Context, scope store.Scope, field store.FacetField, term string, limit int) ([]string, error) {
	column, err := facetColumn(field)
	if err != nil {
		return nil, err
	}
	where, args, err := buildWhere(scope, models.Filter{})
	if err != nil {
		return nil, err
	}

	clauses := fmt.Sprintf("%s AND %s <> ''", where, column)
	term = strings.ToLower(strings.TrimSpace(term))
	if term != "" {
		args = append(args, "%"+term+"%")
		clauses += fmt.Sprintf(" AND LOWER(%s) LIKE $%d", column, len(args))
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT %s FROM audit_events
		%s
		ORDER BY %s ASC
		LIMIT $%d
	`, column, clauses, column, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query distinct values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct values: %w", err)
	}
	return values, nil
}

func (s *EventStore) CountDistinct(ctx context.Context, scope store.Scope, field store.FacetField) (int64, error) {
	column, err := facetColumn(field)
	if err != nil {
		return 0, err
	}
	where, args, err := buildWhere(scope, models.Filter{})
	if err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM audit_events %s AND %s <> ''", column, where, column)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count distinct values: %w", err)
	}
	return count, nil
}

func (s *EventStore) UpdateRedactedFields(ctx context.Context, id domain.EventID, fields store.RedactedFields) error {
	requestData, err := marshalPayload(fields.RequestData)
	if err != nil {
		return fmt.Errorf("marshal request data: %w", err)
	}
	responseData, err := marshalPayload(fields.ResponseData)
	if err != nil {
		return fmt.Errorf("marshal response data: %w", err)
	}
	metadata, err := marshalPayload(fields.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		UPDATE audit_events
		SET request_data = $2, response_data = $3, metadata = $4,
			actor_name = $5, ip_address = $6, user_agent = $7
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(id), requestData, responseData, metadata,
		fields.ActorName, fields.IPAddress, fields.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("update redacted fields: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update redacted fields: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *EventStore) ListByActor(ctx context.Context, actor domain.ActorID) ([]models.Event, error) {
	if actor.IsNil() {
		return nil, sentinel.ErrInvalidState
	}

	query := fmt.Sprintf(`
		SELECT %s FROM audit_events
		WHERE actor_id = $1
		ORDER BY created_at ASC, seq ASC
	`, eventColumns)

	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(actor))
	if err != nil {
		return nil, fmt.Errorf("query events by actor: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *EventStore) DeleteByActor(ctx context.Context, actor domain.ActorID) (int64, error) {
	if actor.IsNil() {
		return 0, sentinel.ErrInvalidState
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE actor_id = $1", uuid.UUID(actor))
	if err != nil {
		return 0, fmt.Errorf("delete events by actor: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete events by actor: %w", err)
	}
	return deleted, nil
}

func (s *EventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	return deleted, nil
}

// buildWhere compiles the scope and filter into a WHERE clause with
// positional arguments. The tenant clause is always present.
func buildWhere(scope store.Scope, filter models.Filter) (string, []any, error) {
	if err := scope.Validate(); err != nil {
		return "", nil, err
	}
	filter = filter.Normalize()

	clauses := []string{"tenant_id = $1"}
	args := []any{uuid.UUID(scope.Tenant)}

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if !scope.Actor.IsNil() {
		add("actor_id = $%d", uuid.UUID(scope.Actor))
	}
	if filter.DateFrom != nil {
		add("created_at >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("created_at <= $%d", *filter.DateTo)
	}
	if len(filter.ActionTypes) > 0 {
		add("action = ANY($%d)", pq.Array(filter.ActionTypes))
	}
	if len(filter.ResourceTypes) > 0 {
		add("resource_type = ANY($%d)", pq.Array(filter.ResourceTypes))
	}
	if len(filter.Outcomes) > 0 {
		add("outcome = ANY($%d)", pq.Array(outcomeStrings(filter.Outcomes)))
	}
	if len(filter.Severities) > 0 {
		add("severity = ANY($%d)", pq.Array(severityStrings(filter.Severities)))
	}
	if filter.HasSearch() {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(LOWER(action) LIKE $%d OR LOWER(resource_type) LIKE $%d OR LOWER(correlation_id) LIKE $%d)", n, n, n))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

// sortColumns maps the domain allow-list onto physical columns. Anything
// outside the map is rejected before it can reach the SQL text.
var sortColumns = map[domain.SortField]string{
	domain.SortByCreatedAt:    "created_at",
	domain.SortByAction:       "action",
	domain.SortByActor:        "actor_name",
	domain.SortByResourceType: "resource_type",
	domain.SortByOutcome:      "outcome",
}

func orderClause(sortBy models.Sort) (string, error) {
	column, ok := sortColumns[sortBy.Field]
	if !ok {
		return "", fmt.Errorf("sort field not allowed: %s", sortBy.Field)
	}
	dir := "DESC"
	if sortBy.Direction == domain.SortAsc {
		dir = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s, seq %s", column, dir, dir), nil
}

var facetColumns = map[store.FacetField]string{
	store.FacetAction:       "action",
	store.FacetOutcome:      "outcome",
	store.FacetActorName:    "actor_name",
	store.FacetResourceType: "resource_type",
}

func facetColumn(field store.FacetField) (string, error) {
	column, ok := facetColumns[field]
	if !ok {
		return "", fmt.Errorf("facet field not allowed: %s", field)
	}
	return column, nil
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var (
			event        models.Event
			eventID      uuid.UUID
			tenantID     uuid.UUID
			actorID      *uuid.UUID
			outcome      string
			severity     string
			requestData  []byte
			responseData []byte
			metadata     []byte
		)
		err := rows.Scan(
			&eventID,
			&tenantID,
			&actorID,
			&event.ActorName,
			&event.Action,
			&event.ResourceType,
			&event.ResourceID,
			&outcome,
			&severity,
			&event.IPAddress,
			&event.UserAgent,
			&requestData,
			&responseData,
			&metadata,
			&event.CorrelationID,
			&event.CreatedAt,
			&event.Sequence,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.ID = domain.EventID(eventID)
		event.TenantID = domain.TenantID(tenantID)
		if actorID != nil {
			event.ActorID = domain.ActorID(*actorID)
		}
		event.Outcome = domain.Outcome(outcome)
		event.Severity = domain.Severity(severity)

		if err := unmarshalPayload(requestData, &event.RequestData); err != nil {
			return nil, fmt.Errorf("unmarshal request data: %w", err)
		}
		if err := unmarshalPayload(responseData, &event.ResponseData); err != nil {
			return nil, fmt.Errorf("unmarshal response data: %w", err)
		}
		if err := unmarshalPayload(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func marshalPayload[V any](m map[string]V) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalPayload[T any](data []byte, target *T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

func outcomeStrings(outcomes []domain.Outcome) []string {
	out := make([]string, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.String()
	}
	return out
}

func severityStrings(severities []domain.Severity) []string {
	out := make([]string, len(severities))
	for i, s := range severities {
		out[i] = s.String()
	}
	return out
}
