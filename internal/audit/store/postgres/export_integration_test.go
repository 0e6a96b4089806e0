//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/store/postgres"
	"chronicle/pkg/domain"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/testutil/containers"
)

type PostgresExportStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.ExportStore
	tenant   domain.TenantID
	actor    domain.ActorID
	now      time.Time
}

func TestPostgresExportStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresExportStoreSuite))
}

func (s *PostgresExportStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.NewExportStore(s.postgres.DB)
}

func (s *PostgresExportStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_exports"))
	s.tenant = domain.TenantID(uuid.New())
	s.actor = domain.ActorID(uuid.New())
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresExportStoreSuite) newJob(at time.Time) *models.ExportJob {
	job, err := models.NewExportJob(s.tenant, s.actor, domain.FormatCSV, models.Filter{Search: "login"}, at)
	s.Require().NoError(err)
	return job
}

// TestRoundTrip verifies the job survives the filter JSONB column and the
// nullable timestamps.
func (s *PostgresExportStoreSuite) TestRoundTrip() {
	ctx := context.Background()

	job := s.newJob(s.now)
	s.Require().NoError(s.store.Create(ctx, job))

	found, err := s.store.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(job.ID, found.ID)
	s.Equal(domain.ExportPending, found.Status)
	s.Equal("login", found.Filter.Search)
	s.Nil(found.StartedAt)
	s.True(found.DownloadExpiresAt.IsZero())
}

// TestLifecyclePersistence verifies the full state machine through Update.
func (s *PostgresExportStoreSuite) TestLifecyclePersistence() {
	ctx := context.Background()

	job := s.newJob(s.now)
	s.Require().NoError(s.store.Create(ctx, job))

	job.ApplyStart(s.now)
	job.ApplyProgress(500, 1000)
	s.Require().NoError(s.store.Update(ctx, job))

	s.Require().NoError(job.ApplyCompletion("/tmp/export.csv", 2048, "tok-xyz", s.now.Add(24*time.Hour), s.now))
	s.Require().NoError(s.store.Update(ctx, job))

	found, err := s.store.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(domain.ExportCompleted, found.Status)
	s.EqualValues(1000, found.TotalRecords)
	s.Equal("/tmp/export.csv", found.FilePath)
	s.Equal("tok-xyz", found.DownloadToken)
	s.NotNil(found.StartedAt)
	s.NotNil(found.CompletedAt)

	byToken, err := s.store.FindByToken(ctx, "tok-xyz")
	s.Require().NoError(err)
	s.Equal(job.ID, byToken.ID)
}

// TestExecuteSerializesTransitions verifies the row lock: many concurrent
// start attempts yield exactly one success.
func (s *PostgresExportStoreSuite) TestExecuteSerializesTransitions() {
	ctx := context.Background()

	job := s.newJob(s.now)
	s.Require().NoError(s.store.Create(ctx, job))

	const goroutines = 10
	var wg sync.WaitGroup
	var started atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, job.ID,
				func(j *models.ExportJob) error { return j.CanStart() },
				func(j *models.ExportJob) { j.ApplyStart(s.now) },
			)
			if err == nil {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	s.EqualValues(1, started.Load())

	found, err := s.store.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(domain.ExportProcessing, found.Status)
}

// TestHistoryAndActiveCount verifies the per-actor listing and guardrail
// count.
func (s *PostgresExportStoreSuite) TestHistoryAndActiveCount() {
	ctx := context.Background()

	first := s.newJob(s.now)
	s.Require().NoError(s.store.Create(ctx, first))
	second := s.newJob(s.now.Add(time.Hour))
	s.Require().NoError(s.store.Create(ctx, second))
	done := s.newJob(s.now.Add(2 * time.Hour))
	done.ApplyFailure("export cancelled", s.now.Add(2*time.Hour))
	s.Require().NoError(s.store.Create(ctx, done))

	jobs, total, err := s.store.ListByActor(ctx, s.actor, models.PageRequest{Page: 0, Size: 2})
	s.Require().NoError(err)
	s.EqualValues(3, total)
	s.Require().Len(jobs, 2)
	s.Equal(done.ID, jobs[0].ID)
	s.Equal(second.ID, jobs[1].ID)

	active, err := s.store.CountActive(ctx, s.actor)
	s.Require().NoError(err)
	s.EqualValues(2, active)
}

// TestNotFoundSentinels verifies the not-found mapping.
func (s *PostgresExportStoreSuite) TestNotFoundSentinels() {
	ctx := context.Background()

	_, err := s.store.Get(ctx, domain.NewExportID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindByToken(ctx, "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Execute(ctx, domain.NewExportID(), nil, nil)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
