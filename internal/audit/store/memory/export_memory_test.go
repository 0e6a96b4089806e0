package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit/models"
	"chronicle/pkg/domain"
	"chronicle/pkg/platform/sentinel"
)

type ExportStoreSuite struct {
	suite.Suite
	store  *ExportStore
	ctx    context.Context
	tenant domain.TenantID
	actor  domain.ActorID
	now    time.Time
}

func (s *ExportStoreSuite) SetupTest() {
	s.store = NewExportStore()
	s.ctx = context.Background()
	s.tenant = domain.TenantID(uuid.New())
	s.actor = domain.ActorID(uuid.New())
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestExportStoreSuite(t *testing.T) {
	suite.Run(t, new(ExportStoreSuite))
}

func (s *ExportStoreSuite) newJob(at time.Time) *models.ExportJob {
	job, err := models.NewExportJob(s.tenant, s.actor, domain.FormatCSV, models.Filter{}, at)
	s.Require().NoError(err)
	return job
}

func (s *ExportStoreSuite) create(job *models.ExportJob) {
	s.Require().NoError(s.store.Create(s.ctx, job))
}

// TestCreateAndGet verifies basic persistence and the not-found sentinel.
func (s *ExportStoreSuite) TestCreateAndGet() {
	s.Run("round-trips a job", func() {
		job := s.newJob(s.now)
		s.create(job)

		found, err := s.store.Get(s.ctx, job.ID)
		s.Require().NoError(err)
		s.Equal(job.ID, found.ID)
		s.Equal(domain.ExportPending, found.Status)
	})

	s.Run("duplicate id is a conflict", func() {
		job := s.newJob(s.now)
		s.create(job)
		s.Require().ErrorIs(s.store.Create(s.ctx, job), sentinel.ErrConflict)
	})

	s.Run("unknown id yields ErrNotFound", func() {
		_, err := s.store.Get(s.ctx, domain.NewExportID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("get returns a copy", func() {
		job := s.newJob(s.now)
		s.create(job)

		found, err := s.store.Get(s.ctx, job.ID)
		s.Require().NoError(err)
		found.Status = domain.ExportFailed

		again, err := s.store.Get(s.ctx, job.ID)
		s.Require().NoError(err)
		s.Equal(domain.ExportPending, again.Status)
	})
}

// TestExecute verifies the validate-then-mutate transaction.
func (s *ExportStoreSuite) TestExecute() {
	s.Run("applies the mutation when validation passes", func() {
		job := s.newJob(s.now)
		s.create(job)

		updated, err := s.store.Execute(s.ctx, job.ID,
			func(j *models.ExportJob) error { return j.CanStart() },
			func(j *models.ExportJob) { j.ApplyStart(s.now) },
		)
		s.Require().NoError(err)
		s.Equal(domain.ExportProcessing, updated.Status)

		found, err := s.store.Get(s.ctx, job.ID)
		s.Require().NoError(err)
		s.Equal(domain.ExportProcessing, found.Status)
	})

	s.Run("leaves the job untouched when validation fails", func() {
		job := s.newJob(s.now)
		job.ApplyStart(s.now)
		s.create(job)

		_, err := s.store.Execute(s.ctx, job.ID,
			func(j *models.ExportJob) error { return j.CanStart() },
			func(j *models.ExportJob) { j.ApplyStart(s.now) },
		)
		s.Require().Error(err)

		found, err := s.store.Get(s.ctx, job.ID)
		s.Require().NoError(err)
		s.Nil(found.CompletedAt)
		s.Equal(domain.ExportProcessing, found.Status)
	})

	s.Run("unknown job yields ErrNotFound", func() {
		_, err := s.store.Execute(s.ctx, domain.NewExportID(), nil, nil)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestTokenResolution verifies the download token index follows updates.
func (s *ExportStoreSuite) TestTokenResolution() {
	s.Run("finds a completed job by token", func() {
		job := s.newJob(s.now)
		job.ApplyStart(s.now)
		s.Require().NoError(job.ApplyCompletion("/tmp/a.csv", 42, "tok-abc", s.now.Add(24*time.Hour), s.now))
		s.create(job)

		found, err := s.store.FindByToken(s.ctx, "tok-abc")
		s.Require().NoError(err)
		s.Equal(job.ID, found.ID)
	})

	s.Run("token appears once completion is stored", func() {
		job := s.newJob(s.now)
		s.create(job)

		_, err := s.store.FindByToken(s.ctx, "tok-later")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)

		job.ApplyStart(s.now)
		s.Require().NoError(job.ApplyCompletion("/tmp/b.csv", 7, "tok-later", s.now.Add(time.Hour), s.now))
		s.Require().NoError(s.store.Update(s.ctx, job))

		found, err := s.store.FindByToken(s.ctx, "tok-later")
		s.Require().NoError(err)
		s.Equal(job.ID, found.ID)
	})

	s.Run("unknown token yields ErrNotFound", func() {
		_, err := s.store.FindByToken(s.ctx, "nope")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestHistoryAndActiveCount verifies the per-actor listing and guardrail
// count.
func (s *ExportStoreSuite) TestHistoryAndActiveCount() {
	first := s.newJob(s.now)
	s.create(first)
	second := s.newJob(s.now.Add(time.Hour))
	s.create(second)
	done := s.newJob(s.now.Add(2 * time.Hour))
	done.ApplyFailure("export cancelled", s.now.Add(2*time.Hour))
	s.create(done)

	other, err := models.NewExportJob(s.tenant, domain.ActorID(uuid.New()), domain.FormatJSON, models.Filter{}, s.now)
	s.Require().NoError(err)
	s.create(other)

	s.Run("lists the actor's jobs newest first with total", func() {
		jobs, total, err := s.store.ListByActor(s.ctx, s.actor, models.PageRequest{Page: 0, Size: 2})
		s.Require().NoError(err)
		s.EqualValues(3, total)
		s.Require().Len(jobs, 2)
		s.Equal(done.ID, jobs[0].ID)
		s.Equal(second.ID, jobs[1].ID)
	})

	s.Run("second page holds the oldest job", func() {
		jobs, total, err := s.store.ListByActor(s.ctx, s.actor, models.PageRequest{Page: 1, Size: 2})
		s.Require().NoError(err)
		s.EqualValues(3, total)
		s.Require().Len(jobs, 1)
		s.Equal(first.ID, jobs[0].ID)
	})

	s.Run("counts only non-terminal jobs", func() {
		n, err := s.store.CountActive(s.ctx, s.actor)
		s.Require().NoError(err)
		s.EqualValues(2, n)
	})
}
