package apply

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/ranking"
	"github.com/spigell/autoapply/internal/store"
)

// Summary is the user-visible outcome of one run.
type Summary struct {
	Discovered int
	Ranked     int
	Attempted  int
	Completed  int
	Failed     int
	Aborted    int
	Skipped    int
}

// Config tunes the worker pool and the drivers it spawns.
type Config struct {
	MaxRetries  int           `mapstructure:"max-retries"`
	Concurrency int           `mapstructure:"concurrency"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	Deadline    time.Duration `mapstructure:"deadline"`
	Headless    bool          `mapstructure:"headless"`
}

// Pool runs drivers for ranked candidates with bounded concurrency. Every
// driver owns an isolated browser session; the record store is the only
// shared object and arbitrates ownership per fingerprint.
type Pool struct {
	sessions   browser.Factory
	locator    targetResolver
	records    *store.Store
	profile    Profile
	resumePath string
	cfg        Config
	logger     *zap.Logger
}

type PoolDeps struct {
	Sessions   browser.Factory
	Locator    targetResolver
	Records    *store.Store
	Logger     *zap.Logger
	Profile    Profile
	ResumePath string
}

func NewPool(cfg Config, deps PoolDeps) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &Pool{
		sessions:   deps.Sessions,
		locator:    deps.Locator,
		records:    deps.Records,
		profile:    deps.Profile,
		resumePath: deps.ResumePath,
		cfg:        cfg,
		logger:     deps.Logger,
	}
}

// Run processes the candidates and returns the aggregated summary. The
// deadline, when configured, bounds the whole batch; drivers check it
// between states, so an expiring run aborts cleanly instead of half-applying.
func (p *Pool) Run(ctx context.Context, candidates []ranking.Candidate) Summary {
	if p.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Deadline)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		summary Summary
	)
	summary.Ranked = len(candidates)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.Concurrency)

	for _, candidate := range candidates {
		group.Go(func() error {
			result := p.runOne(ctx, candidate)

			mu.Lock()
			defer mu.Unlock()

			if result.Skipped {
				summary.Skipped++
				return nil
			}

			summary.Attempted++
			switch result.Status {
			case store.StatusCompleted:
				summary.Completed++
			case store.StatusAborted:
				summary.Aborted++
			default:
				summary.Failed++
			}
			return nil
		})
	}

	// Workers never return errors; failures are per-posting results.
	_ = group.Wait()

	return summary
}

func (p *Pool) runOne(ctx context.Context, candidate ranking.Candidate) Result {
	posting := candidate.Posting
	fp := posting.Fingerprint()

	if ctx.Err() != nil {
		p.logger.Info("deadline reached before attempt", zap.String("fingerprint", fp))
		return Result{Fingerprint: fp, Skipped: true}
	}

	session, err := p.sessions(ctx)
	if err != nil {
		p.logger.Error("creating browser session", zap.Error(err))
		return Result{Fingerprint: fp, Status: store.StatusFailed, Err: err}
	}
	defer session.Close()

	driver := NewDriver(DriverDeps{
		Session:    session,
		Locator:    p.locator,
		Records:    p.records,
		Logger:     p.logger,
		Profile:    p.profile,
		ResumePath: p.resumePath,
		MaxRetries: p.cfg.MaxRetries,
		Backoff:    p.cfg.Backoff,
	})

	result := driver.Run(ctx, posting)

	if result.Crashed {
		// The deferred Close recycles the dead session; the next candidate
		// gets a fresh one from the factory.
		p.logger.Warn("browser session crashed, recycling",
			zap.String("fingerprint", fp),
			zap.Error(result.Err),
		)
	}

	if p.cfg.Cooldown > 0 {
		_ = waitFor(ctx, p.cfg.Cooldown)
	}

	return result
}
