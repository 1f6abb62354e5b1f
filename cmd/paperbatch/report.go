package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jackzampolin/paperbatch/internal/api"
	"github.com/jackzampolin/paperbatch/internal/batch"
)

var (
	errRunFailed      = errors.New("run finished with failures")
	errRunInterrupted = errors.New("run interrupted")
)

// reportView renders a batch report as a per-category table.
type reportView struct {
	*batch.Report
}

func (v reportView) Table() api.TableData {
	t := api.TableData{
		Headers: []string{"Category", "Total", "Done", "Failed", "Skipped", "Not run", "Resume from"},
		Aligns: []api.Alignment{
			api.AlignLeft, api.AlignRight, api.AlignRight, api.AlignRight,
			api.AlignRight, api.AlignRight, api.AlignRight,
		},
	}
	for _, c := range v.Categories {
		resume := ""
		if c.ResumeFrom > 0 {
			resume = strconv.Itoa(c.ResumeFrom)
		}
		t.Rows = append(t.Rows, []string{
			c.Name,
			strconv.Itoa(c.Total),
			strconv.Itoa(c.Completed),
			strconv.Itoa(c.Failed),
			strconv.Itoa(c.Skipped),
			strconv.Itoa(c.NotDispatched),
			resume,
		})
	}
	t.Footer = []string{
		"Total",
		strconv.Itoa(v.Total()),
		strconv.Itoa(v.Completed),
		strconv.Itoa(v.Failed),
		strconv.Itoa(v.Skipped),
		strconv.Itoa(v.NotDispatched),
		"",
	}
	return t
}

// printReport writes the report in the selected format and turns an
// unsuccessful run into an error for the exit code.
func printReport(w io.Writer, rep *batch.Report) error {
	if api.IsStructuredOutput() {
		if err := api.OutputTo(w, api.GetOutputFormat(), rep); err != nil {
			return err
		}
	} else {
		writeReportText(w, rep)
	}

	switch {
	case rep.Interrupted:
		return errRunInterrupted
	case rep.HasFailures():
		return errRunFailed
	}
	return nil
}

func writeReportText(w io.Writer, rep *batch.Report) {
	fmt.Fprintln(w, api.Title("Run "+rep.Scope))
	fmt.Fprint(w, api.RenderTable(reportView{rep}.Table()))
	fmt.Fprintln(w)

	for _, ce := range rep.CategoryErrors {
		fmt.Fprintln(w, api.Status(false, false, ce.Error()))
	}
	for _, f := range rep.Failures {
		fmt.Fprintln(w, api.Status(false, false, fmt.Sprintf("%s [%s] %s", f.ItemID, f.Kind, f.Message)))
	}
	for _, wr := range rep.Warnings {
		fmt.Fprintln(w, api.Status(true, true, wr.ItemID+": "+wr.Message))
	}

	headline := fmt.Sprintf("%d completed, %d failed, %d skipped in %s",
		rep.Completed, rep.Failed, rep.Skipped, rep.Elapsed.Round(100*time.Millisecond))
	if rep.Interrupted {
		headline += fmt.Sprintf(", %d not started (interrupted)", rep.NotDispatched)
	}
	fmt.Fprintln(w, api.Status(!rep.HasFailures() && !rep.Interrupted, len(rep.Warnings) > 0, headline))

	if rep.Usage.TotalTokens > 0 {
		fmt.Fprintln(w, api.Dim(fmt.Sprintf("tokens: %d prompt, %d completion", rep.Usage.PromptTokens, rep.Usage.CompletionTokens)))
	}
	if rep.SummaryPath != "" {
		fmt.Fprintln(w, api.Dim("summary: "+rep.SummaryPath))
	}
}
