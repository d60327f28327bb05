package filtering

import (
	"context"
	"time"

	"github.com/spigell/autoapply/internal/job"
)

type staleFilter struct {
	window job.Window
	now    func() time.Time

	disabled bool
	reason   string
}

// NewStale creates a filter that removes postings older than the discovery
// window. Sources occasionally return results past the requested cutoff, and
// postings without a timestamp are kept.
func NewStale(window job.Window) Filter {
	return &staleFilter{
		window: window,
		now:    time.Now,
	}
}

func (f *staleFilter) Name() string { return "stale" }

func (f *staleFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *staleFilter) IsEnabled() bool { return !f.disabled }

func (f *staleFilter) Validate() error { return nil }

func (f *staleFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: !f.disabled,
		Reason:  f.reason,
	}
}

func (f *staleFilter) Apply(_ context.Context, postings *job.Postings) (*job.Postings, Step, error) {
	initial := postings.Len()
	now := f.now()

	kept, excluded := postings.Filter(func(p *job.Posting) bool {
		if p.PostedAt.IsZero() {
			return true
		}
		return f.window.Contains(now, p.PostedAt)
	})

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: kept.Len()}, nil
}
