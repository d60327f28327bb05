package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/autoapply/internal/job"
)

const defaultWorkers = 4

// Aggregator fans discovery out to every configured source and merges the
// responses into one deterministic, deduplicated sequence.
type Aggregator struct {
	sources []Source
	workers int
	logger  *zap.Logger
}

func NewAggregator(sources []Source, workers int, logger *zap.Logger) *Aggregator {
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Aggregator{
		sources: sources,
		workers: workers,
		logger:  logger,
	}
}

// Discover queries all sources for postings inside the window. A failing
// source is logged and skipped; the call fails only when every source fails.
// The merged output is sorted by (posted desc, source, source id) before
// deduplication, so its order never depends on response timing.
func (a *Aggregator) Discover(ctx context.Context, window job.Window) (*job.Postings, error) {
	if len(a.sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	var (
		mu       sync.Mutex
		gathered []*job.Posting
		failures int
		lastErr  error
	)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(a.workers)

	for _, src := range a.sources {
		group.Go(func() error {
			postings, err := src.List(ctx, window)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failures++
				lastErr = err
				a.logger.Warn("skipping failed source",
					zap.String("source", src.Name()),
					zap.Error(err),
				)
				return nil
			}

			a.logger.Debug("source responded",
				zap.String("source", src.Name()),
				zap.Int("count", postings.Len()),
			)
			gathered = append(gathered, postings.Items...)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	if failures == len(a.sources) {
		return nil, fmt.Errorf("all %d sources failed: %w", failures, lastErr)
	}

	return Merge(gathered), nil
}

// DiscoverAll runs Discover for every window and merges the results. Windows
// overlap by construction, so the final dedup applies across them too.
func (a *Aggregator) DiscoverAll(ctx context.Context, windows []job.Window) (*job.Postings, error) {
	var gathered []*job.Posting

	for _, window := range windows {
		postings, err := a.Discover(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("discover window %s: %w", window, err)
		}
		gathered = append(gathered, postings.Items...)
	}

	return Merge(gathered), nil
}

// Merge sorts postings by the stable key and drops fingerprint duplicates,
// keeping the first occurrence.
func Merge(postings []*job.Posting) *job.Postings {
	sorted := make([]*job.Posting, len(postings))
	copy(sorted, postings)

	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].PostedAt.Equal(sorted[j].PostedAt) {
			return sorted[i].PostedAt.After(sorted[j].PostedAt)
		}
		if sorted[i].Source != sorted[j].Source {
			return sorted[i].Source < sorted[j].Source
		}
		return sorted[i].SourceID < sorted[j].SourceID
	})

	seen := make(map[string]struct{}, len(sorted))
	merged := make([]*job.Posting, 0, len(sorted))
	for _, posting := range sorted {
		fp := posting.Fingerprint()
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		merged = append(merged, posting)
	}

	return &job.Postings{Items: merged}
}
