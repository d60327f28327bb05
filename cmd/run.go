package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/apply"
	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/job"
	"github.com/spigell/autoapply/internal/locator"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/ranking"
	"github.com/spigell/autoapply/internal/resume"
	"github.com/spigell/autoapply/internal/source"
	"github.com/spigell/autoapply/internal/store"
)

const (
	PromptYes             = "Yes"
	PromptNo              = "No"
	PromptReportByCompany = "Report by companies"
	PromptPostingsToFile  = "Dump postings to file"
	defaultWindow         = "7d"
	defaultTop            = 10
	defaultWorkers        = 4
	defaultStorePath      = "autoapply.db"
	defaultRetention      = 90 * 24 * time.Hour
	defaultRequestTimeout = 30 * time.Second
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Proceed?",
	Items: []string{PromptYes, PromptNo, PromptReportByCompany, PromptPostingsToFile},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the autoapply main command",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("do-not-exclude-applied", "f", false, "do not exclude postings if already applied")
	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation if found suitable postings")
	runCmd.Flags().Bool("dry-run", false, "rank postings and exit without driving the browser")
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	baseLogger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	runID := uuid.NewString()
	log := logger.WithCommonFields(baseLogger, runID, "")

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	log.Info("starting the autoapply", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	log.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		log.Fatal("config is required")
	}

	if config.Profile == nil || config.Profile.Email == "" {
		log.Fatal("candidate email is required under profile.email to fill application forms")
	}

	if config.Resume == nil || config.Resume.File == "" {
		log.Fatal("resume file is required under resume.file to score and apply to postings")
	}

	text, err := resume.ExtractText(config.Resume.File, config.Resume.CacheFile)
	if err != nil {
		log.Fatal("extracting resume text",
			zap.Error(err),
			zap.String("file", config.Resume.File),
		)
	}

	profile := resume.NewProfile(text, resume.ProfileConfig{
		ExtraSkills: config.Resume.Skills,
	})
	log.Info("resume profile built",
		zap.Int("skills", len(profile.Skills)),
		zap.String("content_hash", logger.TruncateForLog(profile.ContentHash, 12)),
	)

	records, err := store.Open(storePath(config))
	if err != nil {
		log.Fatal("opening the application store", zap.Error(err))
	}
	defer records.Close()

	postings, windows := discover(ctx, config, log)
	discovered := postings.Len()
	if postings.Len() == 0 {
		log.Info("exiting", zap.String("reason", "no postings found"))
		return
	}

	filtered, err := filtering.Run(ctx, log, prepareFilters(cmd, config, records, windows, log), postings)
	if err != nil {
		log.Fatal("filtering failed", zap.Error(err))
	}
	postings = filtered

	if postings.Len() == 0 {
		log.Info("exiting", zap.String("reason", "no postings left after filters"))
		return
	}

	candidates := rank(config, profile, postings)
	if len(candidates) == 0 {
		log.Info("exiting", zap.String("reason", "no postings scored above zero"))
		return
	}

	for _, candidate := range candidates {
		log.Info("ranked posting",
			zap.String("title", candidate.Posting.Title),
			zap.String("company", candidate.Posting.Company),
			zap.String("source", candidate.Posting.Source),
			zap.Float64("score", candidate.Score),
			zap.Strings("matched_skills", candidate.Matched),
		)
	}

	if cmd.Flag("dry-run").Value.String() == "true" {
		log.Info("exiting", zap.String("reason", "dry run requested"), zap.Int("ranked", len(candidates)))
		return
	}

	action := PromptYes
	for {
		var err error
		if cmd.Flag("auto-approve").Value.String() == "false" {
			_, action, err = prompt.Run()
			if err != nil {
				log.Fatal("exiting", zap.Error(err))
			}
		}

		log.Info("current list of postings", zap.Int("count", len(candidates)))

		if err := handleAction(ctx, action, config, records, discovered, candidates, postings, log); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			log.Fatal("exiting", zap.Error(err))
		}

		if action == PromptYes {
			return
		}
	}
}

func handleAction(ctx context.Context, action string, config *Config, records *store.Store, discovered int, candidates []ranking.Candidate, postings *job.Postings, log *zap.Logger) error {
	switch action {
	case PromptYes:
		return applyAll(ctx, config, records, discovered, candidates, log)
	case PromptNo:
		log.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptReportByCompany:
		report := make(map[string]int)
		for _, candidate := range candidates {
			report[candidate.Posting.Company]++
		}
		pretty, _ := json.MarshalIndent(report, "", "  ")
		log.Info(string(pretty), zap.Int("postings count", len(candidates)))
		return nil
	case PromptPostingsToFile:
		filename, err := postings.DumpToTmpFile()
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		log.Info("dumping result to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// discover queries the configured sources over the configured windows.
func discover(ctx context.Context, config *Config, log *zap.Logger) (*job.Postings, []job.Window) {
	search := config.Search
	if search == nil {
		search = &SearchConfig{}
	}

	windowSpecs := search.Windows
	if len(windowSpecs) == 0 {
		windowSpecs = []string{defaultWindow}
	}

	windows := make([]job.Window, 0, len(windowSpecs))
	for _, spec := range windowSpecs {
		window, err := job.ParseWindow(spec)
		if err != nil {
			log.Fatal("parsing discovery window", zap.String("window", spec), zap.Error(err))
		}
		windows = append(windows, window)
	}

	sources, err := source.Build(config.Sources, source.Deps{
		Logger:   log,
		Client:   &http.Client{Timeout: defaultRequestTimeout},
		Keywords: search.Keywords,
	})
	if err != nil {
		log.Fatal("building sources", zap.Error(err))
	}

	log.Info("starting the search",
		zap.Strings("sources", source.Names(sources)),
		zap.Strings("keywords", search.Keywords),
	)

	workers := search.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	postings, err := source.NewAggregator(sources, workers, log).DiscoverAll(ctx, windows)
	if err != nil {
		log.Fatal("getting available postings", zap.Error(err))
	}

	log.Info("getting postings", zap.Int("count", postings.Len()))
	return postings, windows
}

func rank(config *Config, profile *resume.Profile, postings *job.Postings) []ranking.Candidate {
	scoring := ranking.ScorerConfig{}
	if config.Scoring != nil {
		scoring = *config.Scoring
	}

	var priority []string
	top := defaultTop
	if config.Search != nil {
		priority = config.Search.Priority
		if config.Search.Top > 0 {
			top = config.Search.Top
		}
	}

	ranker := ranking.NewRanker(ranking.NewScorer(profile, scoring), priority, nil)

	candidates := ranker.TopK(postings, top, time.Now().UTC())
	kept := candidates[:0]
	for _, candidate := range candidates {
		if candidate.Score > 0 {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func applyAll(ctx context.Context, config *Config, records *store.Store, discovered int, candidates []ranking.Candidate, log *zap.Logger) error {
	automation := apply.Config{}
	if config.Automation != nil {
		automation = *config.Automation
	}

	templatesDir := ""
	if config.Locator != nil {
		templatesDir = config.Locator.TemplatesDir
	}
	templates, err := locator.LoadTemplates(templatesDir, log)
	if err != nil {
		return fmt.Errorf("loading locator templates: %w", err)
	}

	factory := browser.Factory(func(ctx context.Context) (browser.Session, error) {
		return browser.NewChrome(ctx, browser.ChromeConfig{Headless: automation.Headless}, log)
	})

	pool := apply.NewPool(automation, apply.PoolDeps{
		Sessions:   factory,
		Locator:    locator.New(templates, log),
		Records:    records,
		Logger:     log,
		Profile:    *config.Profile,
		ResumePath: config.Resume.File,
	})

	summary := pool.Run(ctx, candidates)
	summary.Discovered = discovered

	log.Info("run finished",
		zap.Int("discovered", summary.Discovered),
		zap.Int("ranked", summary.Ranked),
		zap.Int("attempted", summary.Attempted),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("aborted", summary.Aborted),
		zap.Int("skipped", summary.Skipped),
	)

	if evicted, err := records.EvictOlderThan(ctx, retention(config)); err != nil {
		log.Warn("evicting old records", zap.Error(err))
	} else if evicted > 0 {
		log.Info("evicted old records", zap.Int64("count", evicted))
	}

	return nil
}

func prepareFilters(cmd *cobra.Command, config *Config, records *store.Store, windows []job.Window, log *zap.Logger) []filtering.Filter {
	var companies []string
	if config.Exclude != nil {
		companies = config.Exclude.Companies
	}

	// The widest window bounds staleness; narrower ones only shaped discovery.
	widest := windows[0]
	for _, window := range windows[1:] {
		if window.Lookback > widest.Lookback {
			widest = window
		}
	}

	return []filtering.Filter{
		filtering.NewStale(widest),
		filtering.NewExcludedCompanies(companies),
		prepareAppliedHistoryFilter(cmd, records, log),
	}
}

func prepareAppliedHistoryFilter(cmd *cobra.Command, records *store.Store, log *zap.Logger) filtering.Filter {
	ignore := false
	if cmd != nil {
		flag := cmd.Flag("do-not-exclude-applied")
		if flag != nil && strings.EqualFold(flag.Value.String(), "true") {
			ignore = true
		}
	}

	cfg := &filtering.AppliedHistoryConfig{Ignore: ignore}
	deps := &filtering.AppliedHistoryDeps{
		Records: records,
		Logger:  log,
	}

	return filtering.NewAppliedHistory(cfg, deps)
}

func storePath(config *Config) string {
	if config.Store != nil && strings.TrimSpace(config.Store.Path) != "" {
		return config.Store.Path
	}
	return defaultStorePath
}

func retention(config *Config) time.Duration {
	if config.Store == nil || strings.TrimSpace(config.Store.Retention) == "" {
		return defaultRetention
	}

	parsed, err := time.ParseDuration(config.Store.Retention)
	if err != nil || parsed <= 0 {
		return defaultRetention
	}
	return parsed
}
