package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elias-jhsph/scienceai/internal/extraction"
	"github.com/elias-jhsph/scienceai/internal/ingest"
	"github.com/elias-jhsph/scienceai/internal/investigator"
	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/internal/project"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

var askCmd = &cobra.Command{
	Use:   "ask <project> <question>",
	Short: "Ask a project one question from the terminal",
	Long: `Ask opens a project, ingests any new papers, processes the question
through the principal investigator, and prints the assistant's reply.
The project is checkpointed before the command returns.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		log := newLogger(cmd)
		name := args[0]
		question := strings.Join(args[1:], " ")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		db, err := project.Open(cfg.Project.StorageDir, name, false, log)
		if err != nil {
			return err
		}
		defer db.Close()

		oracle := llm.NewClient(cfg.Model)
		gw := llm.NewGateway(oracle, llm.NewBudget(cfg.Model.CallBudget), log)
		pi, err := investigator.New(ctx, investigator.Deps{
			DB:      db,
			Gateway: gw,
			Pipeline: extraction.NewPipeline(gw, cfg.Model.Model,
				filepath.Join(db.Dir(), "cache"), log),
			Processor: ingest.NewModelProcessor(gw,
				&ingest.PopplerRasterizer{},
				ingest.NewCrossref(crossrefEmail(), nil),
				cfg.Model.Model, log),
			Model:      cfg.Model.Model,
			IngestDir:  cfg.Project.IngestDir,
			Attempts:   cfg.Project.Attempts,
			CallBudget: cfg.Model.CallBudget,
			Log:        log,
		})
		if err != nil {
			return err
		}

		err = pi.ProcessMessage(ctx, types.Message{
			Role:    types.RoleUser,
			Content: question,
			Status:  types.StatusPending,
			Time:    time.Now(),
		})
		if err != nil {
			return err
		}

		last, ok, err := db.LastMessage(ctx)
		if err != nil {
			return err
		}
		if ok {
			fmt.Println(last.Content)
		}

		if _, err := db.SaveCheckpoint(ctx); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("verbose", false, "enable debug logging")

	rootCmd.AddCommand(askCmd)
}
