package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/autoapply/internal/job"
)

const remotiveAPIURL = "https://remotive.com/api/remote-jobs"

type remotive struct {
	apiURL   string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	keywords []string
}

type remotiveJob struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	CompanyName string      `json:"company_name"`
	Location    string      `json:"candidate_required_location"`
	URL         string      `json:"url"`
	Description string      `json:"description"`
	Published   string      `json:"publication_date"`
	Tags        []string    `json:"tags"`
}

func newRemotive(cfg Config, deps Deps) (Source, error) {
	return &remotive{
		apiURL:   remotiveAPIURL,
		apiKey:   cfg.apiKey,
		client:   deps.Client,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		logger:   deps.Logger.With(zap.String("source", "remotive")),
		keywords: cfg.Keywords,
	}, nil
}

func (r *remotive) Name() string { return "remotive" }

func (r *remotive) List(ctx context.Context, window job.Window) (*job.Postings, error) {
	q := url.Values{}
	q.Set("search", strings.Join(r.keywords, " "))

	body, err := fetch(ctx, r.client, r.limiter, r.apiURL+"?"+q.Encode(), r.apiKey)
	if err != nil {
		return nil, err
	}

	// The payload is loosely typed; decode the generic shape first and let
	// mapstructure map the items onto our typed struct.
	var payload struct {
		Jobs []any `json:"jobs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %v", ErrSourceUnavailable, err)
	}

	var jobs []remotiveJob
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &jobs,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(payload.Jobs); err != nil {
		return nil, fmt.Errorf("%w: decoding jobs: %v", ErrSourceUnavailable, err)
	}

	now := time.Now().UTC()
	postings := &job.Postings{}
	for _, item := range jobs {
		published, err := time.Parse(time.RFC3339, item.Published)
		if err != nil {
			// The API has historically served both layouts.
			published, err = time.Parse("2006-01-02T15:04:05", item.Published)
			if err != nil {
				r.logger.Debug("skipping job with unparseable date",
					zap.String("id", item.ID.String()),
					zap.String("publication_date", item.Published),
				)
				continue
			}
		}
		if !window.Contains(now, published) {
			continue
		}

		postings.Items = append(postings.Items, &job.Posting{
			Source:      "remotive",
			SourceID:    item.ID.String(),
			Title:       item.Title,
			Company:     item.CompanyName,
			Location:    item.Location,
			Description: item.Description + " " + strings.Join(item.Tags, " "),
			URL:         item.URL,
			PostedAt:    published.UTC(),
		})
	}

	return postings, nil
}
