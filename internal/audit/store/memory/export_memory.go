package memory

import (
	"context"
	"sort"
	"sync"

	"chronicle/internal/audit/models"
	"chronicle/pkg/domain"
	"chronicle/pkg/platform/sentinel"
)

// ExportStore is the in-memory export job store. Execute serializes
// validate-then-mutate under the store lock, matching the postgres
// implementation's row lock.
type ExportStore struct {
	mu      sync.RWMutex
	jobs    map[domain.ExportID]*models.ExportJob
	byToken map[string]domain.ExportID
	order   []domain.ExportID
}

// NewExportStore creates an empty in-memory export store.
func NewExportStore() *ExportStore {
	return &ExportStore{
		jobs:    make(map[domain.ExportID]*models.ExportJob),
		byToken: make(map[string]domain.ExportID),
	}
}

func (s *ExportStore) Create(_ context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return sentinel.ErrConflict
	}
	stored := cloneJob(job)
	s.jobs[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	if stored.DownloadToken != "" {
		s.byToken[stored.DownloadToken] = stored.ID
	}
	return nil
}

func (s *ExportStore) Get(_ context.Context, id domain.ExportID) (*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *ExportStore) Update(_ context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replace(job)
}

func (s *ExportStore) Execute(_ context.Context, id domain.ExportID, validate func(*models.ExportJob) error, mutate func(*models.ExportJob)) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := cloneJob(current)
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	if mutate != nil {
		mutate(working)
	}
	if err := s.replace(working); err != nil {
		return nil, err
	}
	return cloneJob(working), nil
}

func (s *ExportStore) FindByToken(_ context.Context, token string) (*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

func (s *ExportStore) ListByActor(_ context.Context, actor domain.ActorID, page models.PageRequest) ([]models.ExportJob, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []*models.ExportJob
	for _, id := range s.order {
		if job := s.jobs[id]; job.ActorID == actor {
			mine = append(mine, job)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		return mine[i].CreatedAt.After(mine[j].CreatedAt)
	})

	total := int64(len(mine))
	offset := page.Offset()
	if offset >= len(mine) {
		return []models.ExportJob{}, total, nil
	}
	end := offset + page.EffectiveSize()
	if end > len(mine) {
		end = len(mine)
	}

	out := make([]models.ExportJob, 0, end-offset)
	for _, job := range mine[offset:end] {
		out = append(out, *cloneJob(job))
	}
	return out, total, nil
}

func (s *ExportStore) CountActive(_ context.Context, actor domain.ActorID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, job := range s.jobs {
		if job.ActorID == actor && job.IsActive() {
			n++
		}
	}
	return n, nil
}

// replace swaps the stored job and keeps the token index current. Caller
// holds the write lock.
func (s *ExportStore) replace(job *models.ExportJob) error {
	existing, ok := s.jobs[job.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.DownloadToken != "" && existing.DownloadToken != job.DownloadToken {
		delete(s.byToken, existing.DownloadToken)
	}
	stored := cloneJob(job)
	s.jobs[stored.ID] = stored
	if stored.DownloadToken != "" {
		s.byToken[stored.DownloadToken] = stored.ID
	}
	return nil
}

func cloneJob(j *models.ExportJob) *models.ExportJob {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
