package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/job"
	"github.com/spigell/autoapply/internal/store"
)

const forceFlagSetMsg = "force flag is set"

type appliedHistoryFilter struct {
	deps   *AppliedHistoryDeps
	ignore bool
}

type AppliedHistoryDeps struct {
	Records *store.Store
	Logger  *zap.Logger
}

type AppliedHistoryConfig struct {
	Ignore bool
}

// NewAppliedHistory creates a filter that removes postings already attempted
// in previous runs. Completed and in-flight records stay excluded; failed
// ones come back for another try.
func NewAppliedHistory(cfg *AppliedHistoryConfig, deps *AppliedHistoryDeps) Filter {
	ignore := false
	if cfg != nil {
		ignore = cfg.Ignore
	}

	return &appliedHistoryFilter{
		deps:   deps,
		ignore: ignore,
	}
}

func (f *appliedHistoryFilter) Name() string { return "applied_history" }

func (f *appliedHistoryFilter) Disable(string) {}

func (f *appliedHistoryFilter) IsEnabled() bool { return true }

func (f *appliedHistoryFilter) Validate() error {
	if f.deps == nil || f.deps.Records == nil {
		return fmt.Errorf("record store is required")
	}

	if f.deps.Logger == nil {
		return fmt.Errorf("logger is required")
	}

	return nil
}

func (f *appliedHistoryFilter) Apply(ctx context.Context, postings *job.Postings) (*job.Postings, Step, error) {
	initial := postings.Len()
	if f.ignore {
		f.deps.Logger.Info("ignoring already applied postings", zap.String("reason", forceFlagSetMsg))
		return postings, Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}

	var checkErr error
	kept, excluded := postings.Filter(func(p *job.Posting) bool {
		if checkErr != nil {
			return false
		}
		retryable, err := f.deps.Records.Retryable(ctx, p.Fingerprint())
		if err != nil {
			checkErr = err
			return false
		}
		return retryable
	})
	if checkErr != nil {
		return postings, Step{}, fmt.Errorf("check attempt history: %w", checkErr)
	}

	if len(excluded) > 0 {
		f.deps.Logger.Info("excluding postings based on attempt history",
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", kept.Len()),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: kept.Len()}, nil
}
