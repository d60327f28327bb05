package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/autoapply/internal/job"
)

const remoteOKAPIURL = "https://remoteok.com/api"

type remoteOK struct {
	apiURL   string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	keywords []string
}

type remoteOKJob struct {
	ID       json.Number `json:"id"`
	Position string      `json:"position"`
	Company  string      `json:"company"`
	Location string      `json:"location"`
	URL      string      `json:"url"`
	Date     string      `json:"date"`
	Text     string      `json:"description"`
	Tags     []string    `json:"tags"`
}

func newRemoteOK(cfg Config, deps Deps) (Source, error) {
	return &remoteOK{
		apiURL:   remoteOKAPIURL,
		apiKey:   cfg.apiKey,
		client:   deps.Client,
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:   deps.Logger.With(zap.String("source", "remoteok")),
		keywords: cfg.Keywords,
	}, nil
}

func (r *remoteOK) Name() string { return "remoteok" }

func (r *remoteOK) List(ctx context.Context, window job.Window) (*job.Postings, error) {
	body, err := fetch(ctx, r.client, r.limiter, r.apiURL, r.apiKey)
	if err != nil {
		return nil, err
	}

	var items []remoteOKJob
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %v", ErrSourceUnavailable, err)
	}

	now := time.Now().UTC()
	postings := &job.Postings{}
	for _, item := range items {
		// The first array element is a legal notice without an id.
		if item.ID.String() == "" || item.Position == "" {
			continue
		}

		published, err := time.Parse(time.RFC3339, item.Date)
		if err != nil {
			continue
		}
		if !window.Contains(now, published) {
			continue
		}

		if !matchesKeywords(r.keywords, item.Position, item.Text, strings.Join(item.Tags, " ")) {
			continue
		}

		postings.Items = append(postings.Items, &job.Posting{
			Source:      "remoteok",
			SourceID:    item.ID.String(),
			Title:       item.Position,
			Company:     item.Company,
			Location:    item.Location,
			Description: item.Text + " " + strings.Join(item.Tags, " "),
			URL:         item.URL,
			PostedAt:    published.UTC(),
		})
	}

	return postings, nil
}

// matchesKeywords reports whether any keyword occurs in any of the given
// texts. An empty keyword list matches everything.
func matchesKeywords(keywords []string, texts ...string) bool {
	if len(keywords) == 0 {
		return true
	}

	haystack := strings.ToLower(strings.Join(texts, " "))
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
