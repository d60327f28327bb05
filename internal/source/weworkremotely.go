package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/autoapply/internal/job"
)

const wwrFeedURL = "https://weworkremotely.com/remote-jobs.rss"

type weWorkRemotely struct {
	feedURL  string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	keywords []string
}

type wwrFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []wwrItem `xml:"item"`
	} `xml:"channel"`
}

type wwrItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Region      string `xml:"region"`
	Description string `xml:"description"`
}

func newWeWorkRemotely(cfg Config, deps Deps) (Source, error) {
	return &weWorkRemotely{
		feedURL:  wwrFeedURL,
		apiKey:   cfg.apiKey,
		client:   deps.Client,
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:   deps.Logger.With(zap.String("source", "weworkremotely")),
		keywords: cfg.Keywords,
	}, nil
}

func (w *weWorkRemotely) Name() string { return "weworkremotely" }

func (w *weWorkRemotely) List(ctx context.Context, window job.Window) (*job.Postings, error) {
	body, err := fetch(ctx, w.client, w.limiter, w.feedURL, w.apiKey)
	if err != nil {
		return nil, err
	}

	var feed wwrFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%w: decoding feed: %v", ErrSourceUnavailable, err)
	}

	now := time.Now().UTC()
	postings := &job.Postings{}
	for _, item := range feed.Channel.Items {
		published, err := time.Parse(time.RFC1123Z, item.PubDate)
		if err != nil {
			published, err = time.Parse(time.RFC1123, item.PubDate)
			if err != nil {
				continue
			}
		}
		if !window.Contains(now, published) {
			continue
		}

		if !matchesKeywords(w.keywords, item.Title, item.Description) {
			continue
		}

		// Feed titles come as "Company: Position".
		company, title := splitFeedTitle(item.Title)

		postings.Items = append(postings.Items, &job.Posting{
			Source:      "weworkremotely",
			SourceID:    item.GUID,
			Title:       title,
			Company:     company,
			Location:    item.Region,
			Description: item.Description,
			URL:         item.Link,
			PostedAt:    published.UTC(),
		})
	}

	return postings, nil
}

func splitFeedTitle(raw string) (company, title string) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", strings.TrimSpace(raw)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
