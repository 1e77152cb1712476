// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the scienceai CLI: a local
// multi-agent research assistant over a project of PDF papers.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elias-jhsph/scienceai/internal/secrets"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

var rootCmd = &cobra.Command{
	Use:   "scienceai",
	Short: "Multi-agent research assistant over a corpus of PDF papers",
	Long: `scienceai ingests PDF research papers into a project, extracts structured
bibliographic and content data with a hosted language model, and answers
research questions by delegating sub-questions to analyst agents supervised
by a principal investigator.

Run "scienceai serve" to start the local web API, or "scienceai ask" for a
one-shot question against a project from the terminal.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./scienceai.yaml or ~/.config/scienceai/config.yaml)")
	rootCmd.PersistentFlags().String("storage", "", "storage root holding scienceai_db/ (overrides config)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("scienceai")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "scienceai"))
		}
	}

	viper.SetDefault("model.model", "gpt-4o")
	viper.SetDefault("model.timeout", 120*time.Second)
	viper.SetDefault("model.call_budget", 200)
	viper.SetDefault("project.storage_dir", ".")
	viper.SetDefault("project.attempts", 5)
	viper.SetDefault("server.addr", "127.0.0.1:8642")
	viper.SetDefault("server.poll_timeout", 25*time.Second)

	viper.SetEnvPrefix("SCIENCEAI")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig assembles the stage configuration from viper, flags, and
// loaded secrets, in that order of increasing precedence.
func loadConfig() types.Config {
	var cfg types.Config
	cfg.Model.Model = viper.GetString("model.model")
	cfg.Model.BaseURL = secrets.Get(loadedSecrets, "openai-base-url", viper.GetString("model.base_url"))
	cfg.Model.APIKey = secrets.Get(loadedSecrets, "openai-api-key", viper.GetString("model.api_key"))
	cfg.Model.Timeout = viper.GetDuration("model.timeout")
	cfg.Model.CallBudget = viper.GetInt("model.call_budget")
	cfg.Project.StorageDir = viper.GetString("project.storage_dir")
	cfg.Project.IngestDir = viper.GetString("project.ingest_dir")
	cfg.Project.Attempts = viper.GetInt("project.attempts")
	cfg.Project.AutoPrune = viper.GetBool("project.auto_prune")
	cfg.Server.Addr = viper.GetString("server.addr")
	cfg.Server.PollTimeout = viper.GetDuration("server.poll_timeout")

	if storage, _ := rootCmd.PersistentFlags().GetString("storage"); storage != "" {
		cfg.Project.StorageDir = storage
	}
	return cfg
}

func crossrefEmail() string {
	return secrets.Get(loadedSecrets, "crossref-email", viper.GetString("crossref.email"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
