package batch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/jackzampolin/paperbatch/internal/ingest"
	"github.com/jackzampolin/paperbatch/internal/item"
)

// Report summarizes one run. It is also the content of the summary file.
type Report struct {
	RunID           string                 `json:"run_id"`
	Scope           string                 `json:"scope"`
	StartedAt       time.Time              `json:"started_at"`
	FinishedAt      time.Time              `json:"finished_at"`
	Elapsed         time.Duration          `json:"-"`
	ElapsedSeconds  float64                `json:"elapsed_seconds"`
	Concurrency     int                    `json:"concurrency"`
	PeakConcurrency int                    `json:"peak_concurrency"`
	Service         string                 `json:"service,omitempty"`
	TemplateHash    string                 `json:"template_hash,omitempty"`
	Completed       int                    `json:"completed"`
	Failed          int                    `json:"failed"`
	Skipped         int                    `json:"skipped"`
	NotDispatched   int                    `json:"not_dispatched"`
	Interrupted     bool                   `json:"interrupted"`
	Usage           item.Usage             `json:"usage"`
	Categories      []CategoryReport       `json:"categories"`
	Failures        []Failure              `json:"failures,omitempty"`
	Warnings        []Warning              `json:"warnings,omitempty"`
	CategoryErrors  []ingest.CategoryError `json:"category_errors,omitempty"`
	Outcomes        []item.Outcome         `json:"outcomes,omitempty"`
	SummaryPath     string                 `json:"summary_path,omitempty"`
}

// CategoryReport holds the per-category counts.
type CategoryReport struct {
	Name          string `json:"name"`
	Total         int    `json:"total"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
	Skipped       int    `json:"skipped"`
	NotDispatched int    `json:"not_dispatched"`

	// ResumeFrom is the lowest sequence left unfinished by this run, or 0.
	ResumeFrom int `json:"resume_from,omitempty"`
}

// Failure is one failed item.
type Failure struct {
	ItemID  string         `json:"item_id"`
	Kind    item.ErrorKind `json:"kind"`
	Message string         `json:"message"`
	Source  string         `json:"source"`
}

// Warning is a non-fatal problem on an item that completed or failed.
type Warning struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// HasFailures reports whether the run should exit non-zero.
func (r *Report) HasFailures() bool {
	return r.Failed > 0 || len(r.CategoryErrors) > 0
}

// Total returns the number of items the run considered.
func (r *Report) Total() int {
	return r.Completed + r.Failed + r.Skipped + r.NotDispatched
}

// Category returns the report of a category, if present.
func (r *Report) Category(name string) (CategoryReport, bool) {
	for _, c := range r.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return CategoryReport{}, false
}

// tally builds a Report incrementally. It is used from a single goroutine.
type tally struct {
	report *Report
	cats   map[string]*CategoryReport
	order  []string
}

func newTally(r *Report) *tally {
	return &tally{report: r, cats: make(map[string]*CategoryReport)}
}

func (t *tally) category(name string) *CategoryReport {
	c, ok := t.cats[name]
	if !ok {
		c = &CategoryReport{Name: name}
		t.cats[name] = c
		t.order = append(t.order, name)
	}
	return c
}

func (t *tally) unfinished(c *CategoryReport, sequence int) {
	if c.ResumeFrom == 0 || sequence < c.ResumeFrom {
		c.ResumeFrom = sequence
	}
}

func (t *tally) skipped(it item.WorkItem) {
	c := t.category(it.Category)
	c.Total++
	c.Skipped++
	t.report.Skipped++
}

func (t *tally) notDispatched(it item.WorkItem) {
	c := t.category(it.Category)
	c.Total++
	c.NotDispatched++
	t.report.NotDispatched++
	t.unfinished(c, it.Sequence)
}

func (t *tally) outcome(out item.Outcome) {
	c := t.category(out.Category)
	c.Total++

	if out.Succeeded() {
		c.Completed++
		t.report.Completed++
	} else {
		c.Failed++
		t.report.Failed++
		t.unfinished(c, out.Sequence)
		f := Failure{ItemID: out.ItemID, Source: out.SourcePath}
		if out.Err != nil {
			f.Kind = out.Err.Kind
			f.Message = out.Err.Message
		}
		t.report.Failures = append(t.report.Failures, f)
	}

	for _, w := range out.Warnings {
		t.report.Warnings = append(t.report.Warnings, Warning{ItemID: out.ItemID, Message: w})
	}

	u := &t.report.Usage
	u.PromptTokens += out.Usage.PromptTokens
	u.CompletionTokens += out.Usage.CompletionTokens
	u.TotalTokens += out.Usage.TotalTokens
	if out.Usage.Model != "" {
		u.Model = out.Usage.Model
	}
	t.report.Outcomes = append(t.report.Outcomes, out)
}

// finish copies category reports in discovery order and sorts item lists by id.
func (t *tally) finish() {
	t.report.Categories = make([]CategoryReport, 0, len(t.order))
	for _, name := range t.order {
		t.report.Categories = append(t.report.Categories, *t.cats[name])
	}
	sort.Slice(t.report.Failures, func(i, j int) bool {
		return t.report.Failures[i].ItemID < t.report.Failures[j].ItemID
	})
	sort.SliceStable(t.report.Warnings, func(i, j int) bool {
		return t.report.Warnings[i].ItemID < t.report.Warnings[j].ItemID
	})
	sort.Slice(t.report.Outcomes, func(i, j int) bool {
		a, b := t.report.Outcomes[i], t.report.Outcomes[j]
		if a.Category != b.Category {
			return indexOf(t.order, a.Category) < indexOf(t.order, b.Category)
		}
		return a.Sequence < b.Sequence
	})
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return len(names)
}

// ReportSchema returns the JSON Schema of the summary file.
func ReportSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	return json.MarshalIndent(reflector.Reflect(&Report{}), "", "  ")
}
