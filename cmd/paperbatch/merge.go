package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/paperbatch/internal/api"
	"github.com/jackzampolin/paperbatch/internal/export"
)

var mergeRoot string

type mergeList []export.MergeResult

func (l mergeList) Table() api.TableData {
	t := api.TableData{
		Headers: []string{"Category", "Records", "File"},
		Aligns:  []api.Alignment{api.AlignLeft, api.AlignRight, api.AlignLeft},
	}
	total := 0
	for _, r := range l {
		t.Rows = append(t.Rows, []string{r.Category, strconv.Itoa(r.Records), r.Path})
		total += r.Records
	}
	t.Footer = []string{fmt.Sprintf("%d categories", len(l)), strconv.Itoa(total), ""}
	return t
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge each category's artifacts into <category>_merged.json",
	Long: `Merge the per-item JSON artifacts of every category into one array per
category, written to <output>/<category>/<category>_merged.json. Records keep
the order of their item identifiers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := outputRoot(mergeRoot)
		if err != nil {
			return err
		}
		results, err := export.MergeAll(root, nil)
		if err != nil {
			return err
		}
		return api.OutputTo(cmd.OutOrStdout(), api.GetOutputFormat(), mergeList(results))
	},
}

// outputRoot returns override, or the configured output directory.
func outputRoot(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	a, err := loadApp()
	if err != nil {
		return "", err
	}
	return a.home.OutputDir(), nil
}

func init() {
	mergeCmd.Flags().StringVar(&mergeRoot, "root", "", "output root to merge (default: paths.output)")
}
