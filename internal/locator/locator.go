// Package locator resolves abstract UI intents ("the apply button") to
// concrete click targets. Structural lookup runs first; when it is ambiguous
// or empty, a screenshot is matched against known button templates.
package locator

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/browser"
)

// ErrNotFound means neither strategy produced a target. It is recoverable at
// the driver level and feeds the driver's retry policy.
var ErrNotFound = errors.New("locator: element not found")

// Intent describes what the driver is looking for: structural selector
// candidates, an optional accessible-name pattern and the template key used
// by the image fallback.
type Intent struct {
	Name        string
	Selectors   []string
	NamePattern *regexp.Regexp
	TemplateKey string
}

// Predefined intents for the application flow.
var (
	IntentApply = Intent{
		Name: "apply_control",
		Selectors: []string{
			"a", "button", "input[type='submit']", "[role='button']",
		},
		NamePattern: regexp.MustCompile(`(?i)\b(apply|quick apply|easy apply|submit application)\b`),
		TemplateKey: "apply",
	}

	IntentSubmit = Intent{
		Name: "submit_control",
		Selectors: []string{
			"button[type='submit']", "input[type='submit']", "button", "[role='button']",
		},
		NamePattern: regexp.MustCompile(`(?i)\b(submit|send|apply)\b`),
		TemplateKey: "submit",
	}
)

// Locator combines the two strategies. One instance is shared by all drivers;
// it holds no per-page state.
type Locator struct {
	templates *TemplateLibrary
	logger    *zap.Logger
}

func New(templates *TemplateLibrary, logger *zap.Logger) *Locator {
	return &Locator{templates: templates, logger: logger}
}

// Locate resolves the intent on the current page of the session. The image
// fallback runs at most once per call, and only when structural lookup found
// zero or more than one match.
func (l *Locator) Locate(ctx context.Context, session browser.Session, intent Intent) (browser.Target, error) {
	matches, err := l.structural(ctx, session, intent)
	if err != nil {
		return browser.Target{}, err
	}

	if len(matches) == 1 {
		l.logger.Debug("structural match",
			zap.String("intent", intent.Name),
			zap.String("text", matches[0].Text),
		)
		return browser.Target{X: matches[0].X, Y: matches[0].Y}, nil
	}

	l.logger.Debug("structural lookup inconclusive, trying image fallback",
		zap.String("intent", intent.Name),
		zap.Int("matches", len(matches)),
	)

	return l.fallback(ctx, session, intent)
}

func (l *Locator) structural(ctx context.Context, session browser.Session, intent Intent) ([]browser.Element, error) {
	var matches []browser.Element
	seen := make(map[[2]float64]struct{})

	for _, selector := range intent.Selectors {
		elements, err := session.QueryElements(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("querying %q: %w", selector, err)
		}

		for _, element := range elements {
			if !element.Visible {
				continue
			}
			if intent.NamePattern != nil && !intent.NamePattern.MatchString(element.Text) {
				continue
			}
			// The same element can match several selector candidates.
			key := [2]float64{element.X, element.Y}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			matches = append(matches, element)
		}
	}

	return matches, nil
}

func (l *Locator) fallback(ctx context.Context, session browser.Session, intent Intent) (browser.Target, error) {
	shot, err := session.Screenshot(ctx)
	if err != nil {
		return browser.Target{}, fmt.Errorf("screenshot for fallback: %w", err)
	}

	match, err := l.templates.FindBestMatch(shot, intent.TemplateKey)
	if err != nil {
		return browser.Target{}, err
	}
	if match == nil {
		return browser.Target{}, fmt.Errorf("%w: intent %s", ErrNotFound, intent.Name)
	}

	l.logger.Debug("template match",
		zap.String("intent", intent.Name),
		zap.Float64("score", match.Score),
		zap.Int("x", match.X),
		zap.Int("y", match.Y),
	)

	return browser.Target{X: float64(match.X), Y: float64(match.Y)}, nil
}
