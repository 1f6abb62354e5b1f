package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/paperbatch/internal/api"
	"github.com/jackzampolin/paperbatch/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "paperbatch",
	Short: "Batch-convert PDFs into structured JSON with an AI inference service",
	Long: `paperbatch converts documents into structured JSON records.

Documents live in one sub-directory per category under the input root
(data/input/<category>/*.pdf). Each document is uploaded to the inference
service, analyzed with the extraction template, validated and written to
data/output/<category>/<category>-<NNN>.json. Completed items are skipped on
later runs, so an interrupted batch can simply be run again.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: <home>/config.yaml or ~/.paperbatch/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "project directory holding data/, logs/ and config.yaml (default: current directory)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", string(api.DefaultOutput), "output format: table, yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config)",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if _, err := api.ParseOutputFormat(outputFormat); err != nil {
			return err
		}
		api.SetOutputFormat(outputFormat)
		return nil
	}

	rootCmd.AddCommand(runCmd, resumeCmd, fileCmd, listCmd, filesCmd, mergeCmd, exportCmd, configCmd, schemaCmd, versionCmd)
}
