package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/paperbatch/internal/api"
	"github.com/jackzampolin/paperbatch/internal/ingest"
)

// categoryList is the output of the list command.
type categoryList struct {
	Root       string                 `json:"root" yaml:"root"`
	Categories []ingest.CategoryInfo  `json:"categories" yaml:"categories"`
	Errors     []ingest.CategoryError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func (l categoryList) Table() api.TableData {
	t := api.TableData{
		Headers: []string{"Category", "Documents", "Description"},
		Aligns:  []api.Alignment{api.AlignLeft, api.AlignRight, api.AlignLeft},
	}
	total := 0
	for _, c := range l.Categories {
		t.Rows = append(t.Rows, []string{c.Name, strconv.Itoa(c.Documents), c.Description})
		total += c.Documents
	}
	for _, e := range l.Errors {
		t.Rows = append(t.Rows, []string{e.Category, "-", "error: " + e.Message})
	}
	t.Footer = []string{strconv.Itoa(len(l.Categories)) + " categories", strconv.Itoa(total), ""}
	return t
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories and their document counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		cats, errs, err := a.newScanner().ListCategories()
		if err != nil {
			return err
		}
		return api.OutputTo(cmd.OutOrStdout(), api.GetOutputFormat(), categoryList{
			Root:       a.home.InputDir(),
			Categories: cats,
			Errors:     errs,
		})
	},
}

// fileEntry is one document of a category.
type fileEntry struct {
	Sequence int    `json:"sequence" yaml:"sequence"`
	ItemID   string `json:"item_id" yaml:"item_id"`
	File     string `json:"file" yaml:"file"`
	Pages    int    `json:"pages" yaml:"pages"`
	Done     bool   `json:"done" yaml:"done"`
}

type fileList struct {
	Category string      `json:"category" yaml:"category"`
	Files    []fileEntry `json:"files" yaml:"files"`
}

func (l fileList) Table() api.TableData {
	t := api.TableData{
		Headers: []string{"Seq", "Item", "File", "Pages", "Status"},
		Aligns:  []api.Alignment{api.AlignRight, api.AlignLeft, api.AlignLeft, api.AlignRight, api.AlignLeft},
	}
	done := 0
	for _, f := range l.Files {
		pages := "?"
		if f.Pages >= 0 {
			pages = strconv.Itoa(f.Pages)
		}
		status := "pending"
		if f.Done {
			status = "done"
			done++
		}
		t.Rows = append(t.Rows, []string{strconv.Itoa(f.Sequence), f.ItemID, f.File, pages, status})
	}
	t.Footer = []string{"", "", fmt.Sprintf("%d files", len(l.Files)), "", fmt.Sprintf("%d done", done)}
	return t
}

var filesCmd = &cobra.Command{
	Use:   "files <category>",
	Short: "List the documents of a category with their sequence and status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}
		if err := a.openStore(); err != nil {
			return err
		}
		defer a.Close()

		// Listing runs without the run lock, so it must not touch the ledger.
		scanner := a.newScanner()
		scanner.ReadOnly = true
		m, err := scanner.ScanCategory(args[0])
		if err != nil {
			return err
		}

		paths := make([]string, len(m.Items))
		for i, it := range m.Items {
			paths[i] = it.SourcePath
		}
		pages := ingest.PageCounts(ctx, paths)

		out := fileList{Category: m.Name, Files: make([]fileEntry, 0, len(m.Items))}
		for i, it := range m.Items {
			done, err := a.store.IsComplete(ctx, it.ID())
			if err != nil {
				return err
			}
			out.Files = append(out.Files, fileEntry{
				Sequence: it.Sequence,
				ItemID:   it.ID(),
				File:     filepath.Base(it.SourcePath),
				Pages:    pages[i],
				Done:     done,
			})
		}
		return api.OutputTo(cmd.OutOrStdout(), api.GetOutputFormat(), out)
	},
}
