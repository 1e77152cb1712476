package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elias-jhsph/scienceai/internal/project"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Inspect and export research projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects under the storage root",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		names, err := project.Projects(cfg.Project.StorageDir)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var projectExportCmd = &cobra.Command{
	Use:   "export <project>",
	Short: "Export a project as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		log := newLogger(cmd)
		name := args[0]

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = name + ".zip"
		}

		db, err := project.Open(cfg.Project.StorageDir, name, true, log)
		if err != nil {
			return err
		}
		defer db.Close()

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := db.ExportArchive(f); err != nil {
			return err
		}
		fmt.Println("Exported", out)
		return nil
	},
}

var projectMergeCmd = &cobra.Command{
	Use:   "merge <project>",
	Short: "Merge all frozen analyst tool trackers into one CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		log := newLogger(cmd)

		db, err := project.Open(cfg.Project.StorageDir, args[0], true, log)
		if err != nil {
			return err
		}
		defer db.Close()

		path, err := db.MergeTrackers(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	projectExportCmd.Flags().String("out", "", "output archive path (default <project>.zip)")
	projectListCmd.Flags().Bool("verbose", false, "enable debug logging")
	projectExportCmd.Flags().Bool("verbose", false, "enable debug logging")
	projectMergeCmd.Flags().Bool("verbose", false, "enable debug logging")

	projectCmd.AddCommand(projectListCmd, projectExportCmd, projectMergeCmd)
	rootCmd.AddCommand(projectCmd)
}
