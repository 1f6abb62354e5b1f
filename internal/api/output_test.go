package api

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func (s sample) Table() TableData {
	return TableData{
		Headers: []string{"Name", "Count"},
		Rows:    [][]string{{s.Name, "3"}, {"short"}},
		Aligns:  []Alignment{AlignLeft, AlignRight},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"json", OutputFormatJSON, false},
		{"yaml", OutputFormatYAML, false},
		{"table", OutputFormatTable, false},
		{"", DefaultOutput, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSetOutputFormat(t *testing.T) {
	defer SetOutputFormat(string(DefaultOutput))

	SetOutputFormat("json")
	if GetOutputFormat() != OutputFormatJSON || !IsStructuredOutput() {
		t.Error("json not selected")
	}
	SetOutputFormat("bogus")
	if GetOutputFormat() != DefaultOutput {
		t.Errorf("format = %s", GetOutputFormat())
	}
	if IsStructuredOutput() {
		t.Error("table output reported as structured")
	}
}

func TestOutputTo(t *testing.T) {
	s := sample{Name: "ML", Count: 3}

	tests := []struct {
		format OutputFormat
		data   any
		want   []string
	}{
		{OutputFormatJSON, s, []string{`"name": "ML"`, `"count": 3`}},
		{OutputFormatYAML, s, []string{"name: ML", "count: 3"}},
		{OutputFormatTable, s, []string{"NAME", "COUNT", "ML", "short"}},
		{OutputFormatTable, map[string]int{"total": 7}, []string{"total: 7"}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := OutputTo(&buf, tt.format, tt.data); err != nil {
			t.Fatalf("OutputTo(%s): %v", tt.format, err)
		}
		for _, w := range tt.want {
			if !strings.Contains(buf.String(), w) {
				t.Errorf("OutputTo(%s) = %q, missing %q", tt.format, buf.String(), w)
			}
		}
	}

	var buf bytes.Buffer
	if err := OutputTo(&buf, "xml", s); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRenderTable(t *testing.T) {
	if RenderTable(TableData{}) != "" {
		t.Error("empty headers should render nothing")
	}
	out := RenderTable(TableData{
		Headers: []string{"A", "B"},
		Rows:    [][]string{{"1", "2"}},
		Footer:  []string{"total", "2"},
	})
	for _, want := range []string{"A", "B", "1", "TOTAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
