package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/autoapply/internal/apply"
	"github.com/spigell/autoapply/internal/ranking"
	"github.com/spigell/autoapply/internal/source"
)

const (
	app = "autoapply"
)

type Config struct {
	Profile *apply.Profile  `mapstructure:"profile"`
	Resume  *ResumeConfig   `mapstructure:"resume"`
	Search  *SearchConfig   `mapstructure:"search"`
	Sources []source.Config `mapstructure:"sources"`
	Exclude *ExcludeConfig  `mapstructure:"exclude"`

	Automation *apply.Config         `mapstructure:"automation"`
	Scoring    *ranking.ScorerConfig `mapstructure:"scoring"`
	Locator    *LocatorConfig        `mapstructure:"locator"`
	Store      *StoreConfig          `mapstructure:"store"`
}

type ResumeConfig struct {
	File      string   `mapstructure:"file"`
	CacheFile string   `mapstructure:"cache-file"`
	Skills    []string `mapstructure:"skills"`
}

type SearchConfig struct {
	Keywords []string `mapstructure:"keywords"`
	Windows  []string `mapstructure:"windows"`
	Top      int      `mapstructure:"top"`
	Workers  int      `mapstructure:"workers"`
	Priority []string `mapstructure:"priority"`
}

type ExcludeConfig struct {
	Companies []string `mapstructure:"companies"`
}

type LocatorConfig struct {
	TemplatesDir string `mapstructure:"templates-dir"`
}

type StoreConfig struct {
	Path      string `mapstructure:"path"`
	Retention string `mapstructure:"retention"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "autoapply is a cli for discovering remote job postings and applying to them automatically",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("store.path", "AUTOAPPLY_STORE_PATH"); err != nil {
		log.Fatalf("binding AUTOAPPLY_STORE_PATH environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is autoapply.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Config needed only for run command now. If there is no config, we can skip initialization
	if runCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
