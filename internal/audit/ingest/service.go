// Package ingest is the write path of the audit engine. Callers hand it a
// Request; the service redacts the payloads, stamps correlation metadata,
// and appends the event asynchronously through a bounded worker pool. The
// returned Receipt resolves once the event is durable.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/redact"
	"chronicle/internal/audit/sink"
	"chronicle/internal/audit/store"
	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
	"chronicle/pkg/requestcontext"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 4096
	appendTimeout    = 5 * time.Second
)

// Request is the caller-facing shape of one audit event. Payload maps are
// taken as-is; the service redacts them before anything is stored.
type Request struct {
	TenantID      domain.TenantID
	ActorID       domain.ActorID
	ActorName     string
	Action        string
	ResourceType  string
	ResourceID    string
	Outcome       domain.Outcome
	Severity      domain.Severity
	RequestData   map[string]any
	ResponseData  map[string]any
	Metadata      map[string]string
	CorrelationID string

	// IPAddress and UserAgent identify the client. Optional; when empty
	// the values set by the HTTP middleware on the context are used, so
	// only non-HTTP callers need to fill them in.
	IPAddress string
	UserAgent string
}

// Receipt is the future for one accepted event. It resolves when the
// event has been appended (or the append failed).
type Receipt struct {
	done chan struct{}
	id   domain.EventID
	err  error
}

// Done returns a channel closed once the event is durable or failed.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the event is durable, the append fails, or ctx ends.
func (r *Receipt) Wait(ctx context.Context) (domain.EventID, error) {
	select {
	case <-r.done:
		return r.id, r.err
	case <-ctx.Done():
		return domain.EventID{}, ctx.Err()
	}
}

func (r *Receipt) resolve(id domain.EventID, err error) {
	r.id = id
	r.err = err
	close(r.done)
}

type task struct {
	event   *models.Event
	receipt *Receipt
}

// Config tunes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
}

// Service accepts audit events and persists them asynchronously.
type Service struct {
	store   store.EventStore
	sink    sink.Sink
	metrics *Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	inbox  chan task
	closed bool
	wg     sync.WaitGroup
}

// New starts the worker pool and returns the running service.
func New(eventStore store.EventStore, eventSink sink.Sink, metrics *Metrics, logger *slog.Logger, cfg Config) *Service {
	cfg.applyDefaults()
	if eventSink == nil {
		eventSink = sink.Noop{}
	}

	s := &Service{
		store:   eventStore,
		sink:    eventSink,
		metrics: metrics,
		logger:  logger,
		inbox:   make(chan task, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Log validates and redacts the request and queues it for persistence.
//
// Errors: CodeInvariantViolation for a missing tenant or action,
// CodeInvalidInput for unknown vocabulary values, CodeTimeout when the
// queue is full.
func (s *Service) Log(ctx context.Context, req Request) (*Receipt, error) {
	event, err := s.buildEvent(ctx, req)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{done: make(chan struct{})}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, dErrors.New(dErrors.CodeInternal, "audit ingestion is shut down")
	}

	select {
	case s.inbox <- task{event: event, receipt: receipt}:
		s.metrics.Accepted.Inc()
		s.metrics.QueueDepth.Set(float64(len(s.inbox)))
		return receipt, nil
	default:
		s.metrics.Rejected.Inc()
		return nil, dErrors.New(dErrors.CodeTimeout, "audit ingestion queue is full")
	}
}

// LogSync appends the event on the caller's goroutine, bypassing the
// queue. Compliance operations use it to record their own actions even
// while the async pipeline is saturated.
func (s *Service) LogSync(ctx context.Context, req Request) (domain.EventID, error) {
	event, err := s.buildEvent(ctx, req)
	if err != nil {
		return domain.EventID{}, err
	}
	return s.append(ctx, event)
}

// Close stops accepting events, drains the queue, and waits for the
// workers to finish.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.inbox)
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) buildEvent(ctx context.Context, req Request) (*models.Event, error) {
	if req.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit event requires a tenant id")
	}
	if req.Action == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit event requires an action")
	}
	if req.Outcome != "" && !req.Outcome.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid outcome")
	}
	if req.Severity == "" {
		req.Severity = domain.SeverityInfo
	}
	if !req.Severity.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid severity")
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = requestcontext.RequestID(ctx)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ipAddress := req.IPAddress
	if ipAddress == "" {
		ipAddress = requestcontext.ClientIP(ctx)
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = requestcontext.UserAgent(ctx)
	}

	return &models.Event{
		TenantID:      req.TenantID,
		ActorID:       req.ActorID,
		ActorName:     req.ActorName,
		Action:        req.Action,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		Outcome:       req.Outcome,
		Severity:      req.Severity,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		RequestData:   redact.Redact(req.RequestData),
		ResponseData:  redact.Redact(req.ResponseData),
		Metadata:      req.Metadata,
		CorrelationID: correlationID,
		CreatedAt:     requestcontext.Now(ctx),
	}, nil
}

func (s *Service) worker() {
	defer s.wg.Done()
	for t := range s.inbox {
		s.metrics.QueueDepth.Set(float64(len(s.inbox)))

		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		id, err := s.append(ctx, t.event)
		cancel()

		t.receipt.resolve(id, err)
	}
}

func (s *Service) append(ctx context.Context, event *models.Event) (domain.EventID, error) {
	start := time.Now()
	id, err := s.store.Append(ctx, event)
	s.metrics.ObserveAppend(start)
	if err != nil {
		s.metrics.AppendFailures.Inc()
		s.logger.Error("audit event append failed",
			"error", err,
			"tenant_id", event.TenantID.String(),
			"action", event.Action,
		)
		return domain.EventID{}, dErrors.Wrap(err, dErrors.CodeInternal, "append audit event")
	}

	stored := *event
	stored.ID = id
	s.sink.Publish(stored)
	return id, nil
}
