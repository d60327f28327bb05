package apply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/job"
	"github.com/spigell/autoapply/internal/ranking"
	"github.com/spigell/autoapply/internal/store"
)

func confirmingFactory() browser.Factory {
	return func(context.Context) (browser.Session, error) {
		return &fakeSession{bodyText: "Thank you for applying!"}, nil
	}
}

func candidateFor(posting *job.Posting) ranking.Candidate {
	return ranking.Candidate{Posting: posting, Score: 0.5}
}

func newTestPool(records *store.Store, factory browser.Factory, cfg Config) *Pool {
	return NewPool(cfg, PoolDeps{
		Sessions:   factory,
		Locator:    &scriptedResolver{},
		Records:    records,
		Logger:     zap.NewNop(),
		Profile:    Profile{FullName: "Jane Doe", Email: "jane@example.com"},
		ResumePath: "/tmp/resume.pdf",
	})
}

func TestPoolConcurrentSameFingerprintAttemptsOnce(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	pool := newTestPool(records, confirmingFactory(), Config{Concurrency: 2})

	posting := driverPosting()
	summary := pool.Run(context.Background(), []ranking.Candidate{
		candidateFor(posting),
		candidateFor(posting),
	})

	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Skipped)

	record, err := records.Get(context.Background(), posting.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, record.Status)
}

func TestPoolSummaryCounts(t *testing.T) {
	t.Parallel()

	records := testStore(t)

	// One session completes, the next crashes on navigation.
	calls := 0
	factory := browser.Factory(func(context.Context) (browser.Session, error) {
		calls++
		if calls == 1 {
			return &fakeSession{bodyText: "Application submitted"}, nil
		}
		return &fakeSession{navigateErr: browser.ErrCrashed}, nil
	})

	pool := newTestPool(records, factory, Config{Concurrency: 1, Backoff: time.Millisecond})

	first := driverPosting()
	second := driverPosting()
	second.SourceID = "43"
	second.URL = "https://jobs.test/43"

	summary := pool.Run(context.Background(), []ranking.Candidate{
		candidateFor(first),
		candidateFor(second),
	})

	assert.Equal(t, 2, summary.Ranked)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Skipped)
}

func TestPoolSessionFactoryFailureCountsAsFailed(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	factory := browser.Factory(func(context.Context) (browser.Session, error) {
		return nil, errors.New("chrome did not start")
	})
	pool := newTestPool(records, factory, Config{Concurrency: 1})

	summary := pool.Run(context.Background(), []ranking.Candidate{candidateFor(driverPosting())})

	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Completed)
}

func TestPoolExpiredDeadlineSkipsRemaining(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	pool := newTestPool(records, confirmingFactory(), Config{Concurrency: 1, Deadline: time.Nanosecond})

	posting := driverPosting()
	summary := pool.Run(context.Background(), []ranking.Candidate{candidateFor(posting)})

	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Attempted)

	// Nothing was claimed, so a later run may retry the posting.
	retryable, err := records.Retryable(context.Background(), posting.Fingerprint())
	require.NoError(t, err)
	assert.True(t, retryable)
}
