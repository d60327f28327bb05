package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/autoapply/internal/job"
	"github.com/spigell/autoapply/internal/secrets"
)

const userAgent = "spigell/autoapply (spigelly@gmail.com)"

// ErrSourceUnavailable marks a source-level failure. The aggregator skips the
// source and continues with the rest.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source is the capability every job source implements. List returns postings
// published inside the window; it may fail independently of its siblings.
type Source interface {
	Name() string
	List(ctx context.Context, window job.Window) (*job.Postings, error)
}

// Config describes one configured source instance.
type Config struct {
	Name       string   `mapstructure:"name"`
	Keywords   []string `mapstructure:"keywords"`
	APIKeyFile string   `mapstructure:"api-key-file"`

	// apiKey is the resolved credential, populated by Build. The public
	// boards here work without one; a configured key is sent as a bearer
	// token.
	apiKey string
}

// Deps carries shared dependencies passed to every source constructor.
type Deps struct {
	Logger   *zap.Logger
	Client   *http.Client
	Keywords []string
}

type factory func(cfg Config, deps Deps) (Source, error)

var registry = map[string]factory{
	"remotive":       newRemotive,
	"remoteok":       newRemoteOK,
	"weworkremotely": newWeWorkRemotely,
}

// Build constructs the configured sources, preserving configuration order.
// The order doubles as the source priority used by the ranker.
func Build(configs []Config, deps Deps) ([]Source, error) {
	if deps.Client == nil {
		deps.Client = &http.Client{Timeout: 30 * time.Second}
	}

	sources := make([]Source, 0, len(configs))
	for _, cfg := range configs {
		create, ok := registry[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("unsupported job source: %s", cfg.Name)
		}

		if len(cfg.Keywords) == 0 {
			cfg.Keywords = deps.Keywords
		}

		key, err := secrets.LoadOptional(secrets.Source{
			Name: cfg.Name + " api key",
			File: cfg.APIKeyFile,
			Env:  "AUTOAPPLY_" + strings.ToUpper(cfg.Name) + "_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("resolving %s api key: %w", cfg.Name, err)
		}
		cfg.apiKey = key

		src, err := create(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("building source %s: %w", cfg.Name, err)
		}
		sources = append(sources, src)
	}

	return sources, nil
}

// Names returns the names of the given sources, in order.
func Names(sources []Source) []string {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	return names
}

// fetch performs a rate-limited GET with the shared headers and returns the
// body. Any network or status failure is wrapped as a source-level error.
func fetch(ctx context.Context, client *http.Client, limiter *rate.Limiter, url, apiKey string) ([]byte, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, application/rss+xml;q=0.9, */*;q=0.8")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: bad status: %s", ErrSourceUnavailable, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrSourceUnavailable, err)
	}

	return body, nil
}
