package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/paperbatch/internal/batch"
	"github.com/jackzampolin/paperbatch/internal/progress"
)

var (
	runAll         bool
	runStartFrom   int
	runForce       bool
	runConcurrency int

	resumeStartFrom int

	fileCategory string
	fileSequence int
)

var runCmd = &cobra.Command{
	Use:   "run [category...]",
	Short: "Process the documents of one or more categories",
	Long: `Process every pending document of the named categories, or of all
categories with --all.

Documents that already have an output artifact are skipped unless --force
is given. Ctrl+C stops dispatching new documents; documents in flight finish
and the report shows where to resume.

Examples:
  paperbatch run ML
  paperbatch run ML CV --concurrency 5
  paperbatch run --all
  paperbatch run ML --start-from 12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runAll && len(args) > 0 {
			return errors.New("pass category names or --all, not both")
		}
		if !runAll && len(args) == 0 {
			return errors.New("name at least one category, or pass --all")
		}
		if runStartFrom > 1 && len(args) != 1 {
			return errors.New("--start-from requires exactly one category")
		}
		return runBatch(cmd, batch.Request{
			Categories:  args,
			Concurrency: runConcurrency,
			Resume:      progress.ResumePolicy{StartFrom: runStartFrom, Force: runForce},
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <category> [start-from]",
	Short: "Continue a category, skipping completed documents",
	Long: `Continue processing a category. Completed documents are always skipped;
a start sequence additionally skips every document numbered below it.

Examples:
  paperbatch resume ML
  paperbatch resume ML 12`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := resumeStartFrom
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid start sequence %q", args[1])
			}
			start = n
		}
		return runBatch(cmd, batch.Request{
			Categories: args[:1],
			Resume:     progress.ResumePolicy{StartFrom: start},
		})
	},
}

var fileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Process a single document",
	Long: `Process one document outside a category scan. The category defaults to
the name of the directory holding the file.

Examples:
  paperbatch file data/input/ML/attention.pdf
  paperbatch file ~/paper.pdf --category NLP --sequence 7`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		scope := fileCategory
		if scope == "" {
			scope = "file"
		}
		if err := a.loadRunner(scope); err != nil {
			a.Close()
			return err
		}
		defer a.Close()

		rep, err := a.orch.ProcessFile(cmd.Context(), args[0], fileCategory, fileSequence)
		if err != nil {
			return err
		}
		a.logLimiter()
		return printReport(cmd.OutOrStdout(), rep)
	},
}

func runBatch(cmd *cobra.Command, req batch.Request) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	if err := a.loadRunner(batch.ScopeName(req.Categories)); err != nil {
		a.Close()
		return err
	}
	defer a.Close()

	rep, err := a.orch.Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	a.logLimiter()
	return printReport(cmd.OutOrStdout(), rep)
}

func init() {
	runCmd.Flags().BoolVar(&runAll, "all", false, "process every discovered category")
	runCmd.Flags().IntVar(&runStartFrom, "start-from", 0, "skip documents numbered below this sequence (single category)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "reprocess documents that already have an artifact")
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 0, "parallel documents (default: batch.concurrency)")

	resumeCmd.Flags().IntVar(&resumeStartFrom, "start-from", 0, "skip documents numbered below this sequence")

	fileCmd.Flags().StringVar(&fileCategory, "category", "", "category code (default: parent directory name)")
	fileCmd.Flags().IntVar(&fileSequence, "sequence", 1, "sequence number for the item identifier")
}
