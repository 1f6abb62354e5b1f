package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/paperbatch/internal/api"
	"github.com/jackzampolin/paperbatch/internal/export"
)

var (
	exportFormat string
	exportOut    string
	exportRoot   string
)

type exportResult struct {
	Format string         `json:"format" yaml:"format"`
	Path   string         `json:"path" yaml:"path"`
	Sheets []exportedInfo `json:"sheets" yaml:"sheets"`
}

type exportedInfo struct {
	Category string `json:"category" yaml:"category"`
	Rows     int    `json:"rows" yaml:"rows"`
	Columns  int    `json:"columns" yaml:"columns"`
}

func (r exportResult) Table() api.TableData {
	t := api.TableData{
		Headers: []string{"Category", "Rows", "Columns"},
		Aligns:  []api.Alignment{api.AlignLeft, api.AlignRight, api.AlignRight},
	}
	for _, s := range r.Sheets {
		t.Rows = append(t.Rows, []string{s.Category, strconv.Itoa(s.Rows), strconv.Itoa(s.Columns)})
	}
	t.Footer = []string{r.Format, r.Path, ""}
	return t
}

var exportCmd = &cobra.Command{
	Use:   "export [category...]",
	Short: "Export artifacts as a spreadsheet (xlsx or csv)",
	Long: `Flatten the JSON artifacts of each category into rows, one column per
field path, and write them as an Excel workbook (one sheet per category) or
a single CSV with a leading category column.

Examples:
  paperbatch export
  paperbatch export ML CV --format csv --out results.csv
  paperbatch export --format csv --out -    # CSV to stdout`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportFormat != "xlsx" && exportFormat != "csv" {
			return fmt.Errorf("unknown export format %q (want xlsx or csv)", exportFormat)
		}
		root, err := outputRoot(exportRoot)
		if err != nil {
			return err
		}
		sheets, err := export.Build(root, args)
		if err != nil {
			return err
		}

		if exportFormat == "csv" && exportOut == "-" {
			return export.WriteCSV(cmd.OutOrStdout(), sheets)
		}

		out := exportOut
		if out == "" {
			out = filepath.Join(root, "export."+exportFormat)
		}
		if exportFormat == "xlsx" {
			err = export.WriteXLSX(out, sheets)
		} else {
			err = export.WriteCSVFile(out, sheets)
		}
		if err != nil {
			return err
		}

		res := exportResult{Format: exportFormat, Path: out}
		for _, s := range sheets {
			res.Sheets = append(res.Sheets, exportedInfo{Category: s.Name, Rows: len(s.Rows), Columns: len(s.Columns)})
		}
		return api.OutputTo(cmd.OutOrStdout(), api.GetOutputFormat(), res)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "xlsx", "spreadsheet format: xlsx or csv")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file, or - for CSV on stdout (default: <root>/export.<format>)")
	exportCmd.Flags().StringVar(&exportRoot, "root", "", "output root to export (default: paths.output)")
}
