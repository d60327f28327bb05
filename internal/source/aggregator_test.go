package source

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/job"
)

type stubSource struct {
	name     string
	postings []*job.Posting
	err      error
	delay    time.Duration
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) List(_ context.Context, _ job.Window) (*job.Postings, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &job.Postings{Items: s.postings}, nil
}

func posting(source, id, url string, postedAt time.Time) *job.Posting {
	return &job.Posting{
		Source:   source,
		SourceID: id,
		Title:    "Go Developer",
		Company:  "Acme",
		URL:      url,
		PostedAt: postedAt,
	}
}

func TestDiscoverOrderIndependentOfResponseTiming(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Second)
	fast := &stubSource{name: "fast", postings: []*job.Posting{
		posting("fast", "1", "https://fast.test/1", now.Add(-2*time.Hour)),
	}}
	slow := &stubSource{name: "slow", delay: 50 * time.Millisecond, postings: []*job.Posting{
		posting("slow", "1", "https://slow.test/1", now.Add(-1*time.Hour)),
	}}

	agg := NewAggregator([]Source{fast, slow}, 2, zap.NewNop())

	first, err := agg.Discover(context.Background(), job.Window{Lookback: 24 * time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Len() != 2 {
		t.Fatalf("expected 2 postings, got %d", first.Len())
	}
	if first.Items[0].Source != "slow" {
		t.Fatalf("expected newest posting first, got source %q", first.Items[0].Source)
	}

	// Same inputs with response timing flipped must give the same order.
	fast.delay, slow.delay = 50*time.Millisecond, 0
	second, err := agg.Discover(context.Background(), job.Window{Lookback: 24 * time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range first.Items {
		if first.Items[i].Fingerprint() != second.Items[i].Fingerprint() {
			t.Fatalf("order depends on response timing at index %d", i)
		}
	}
}

func TestDiscoverDeduplicatesByFingerprint(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	a := &stubSource{name: "a", postings: []*job.Posting{
		posting("same", "1", "https://jobs.test/1", now.Add(-time.Hour)),
		posting("same", "1", "https://jobs.test/1?utm_source=feed", now.Add(-time.Hour)),
	}}
	b := &stubSource{name: "b", postings: []*job.Posting{
		posting("same", "1", "https://jobs.test/1", now.Add(-time.Hour)),
	}}

	agg := NewAggregator([]Source{a, b}, 2, zap.NewNop())

	postings, err := agg.Discover(context.Background(), job.Window{Lookback: 24 * time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if postings.Len() != 1 {
		t.Fatalf("expected fingerprint to appear exactly once, got %d postings", postings.Len())
	}
}

func TestDiscoverSkipsFailedSource(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	healthy := &stubSource{name: "healthy", postings: []*job.Posting{
		posting("healthy", "1", "https://jobs.test/1", now.Add(-time.Hour)),
	}}
	broken := &stubSource{name: "broken", err: fmt.Errorf("%w: connection refused", ErrSourceUnavailable)}

	agg := NewAggregator([]Source{healthy, broken}, 2, zap.NewNop())

	postings, err := agg.Discover(context.Background(), job.Window{Lookback: 24 * time.Hour})
	if err != nil {
		t.Fatalf("one failed source must not abort the run: %v", err)
	}
	if postings.Len() != 1 {
		t.Fatalf("expected 1 posting from the healthy source, got %d", postings.Len())
	}
}

func TestDiscoverFailsWhenAllSourcesFail(t *testing.T) {
	t.Parallel()

	agg := NewAggregator([]Source{
		&stubSource{name: "a", err: fmt.Errorf("%w: timeout", ErrSourceUnavailable)},
		&stubSource{name: "b", err: fmt.Errorf("%w: parse error", ErrSourceUnavailable)},
	}, 2, zap.NewNop())

	if _, err := agg.Discover(context.Background(), job.Window{Lookback: 24 * time.Hour}); err == nil {
		t.Fatal("expected an error when all sources fail")
	}
}

func TestBuildRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	_, err := Build([]Config{{Name: "craigslist"}}, Deps{Logger: zap.NewNop()})
	if err == nil {
		t.Fatal("expected an error for an unsupported source")
	}
}
