package filtering

import (
	"context"
	"strings"

	"github.com/spigell/autoapply/internal/job"
)

type companiesFilter struct {
	companies map[string]struct{}
}

// NewExcludedCompanies creates a filter that removes postings from companies
// configured in the exclusion list. Matching is case-insensitive.
func NewExcludedCompanies(companies []string) Filter {
	index := make(map[string]struct{}, len(companies))
	for _, company := range companies {
		index[strings.ToLower(strings.TrimSpace(company))] = struct{}{}
	}

	return &companiesFilter{
		companies: index,
	}
}

func (f *companiesFilter) Name() string { return "companies" }

func (f *companiesFilter) Disable(string) {}

func (f *companiesFilter) IsEnabled() bool { return true }

func (f *companiesFilter) Validate() error { return nil }

func (f *companiesFilter) Apply(_ context.Context, postings *job.Postings) (*job.Postings, Step, error) {
	initial := postings.Len()
	if len(f.companies) == 0 {
		return postings, Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}

	kept, excluded := postings.Filter(func(p *job.Posting) bool {
		_, banned := f.companies[strings.ToLower(strings.TrimSpace(p.Company))]
		return !banned
	})

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: kept.Len()}, nil
}
