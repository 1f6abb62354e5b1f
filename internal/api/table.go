package api

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Tabular values can be rendered as a table.
type Tabular interface {
	Table() TableData
}

// Alignment of a table column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableData is a header, its rows and optional per-column alignment.
type TableData struct {
	Headers []string
	Rows    [][]string
	Aligns  []Alignment
	Footer  []string
}

// RenderTable renders t with rounded borders. Short rows are padded.
func RenderTable(t TableData) string {
	columns := len(t.Headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = t.Headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range t.Rows {
		tw.AppendRow(padRow(row, columns))
	}
	if len(t.Footer) > 0 {
		tw.AppendFooter(padRow(t.Footer, columns))
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(t.Aligns) && t.Aligns[i] == AlignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			AlignFooter: align,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func padRow(row []string, columns int) table.Row {
	r := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		if i < len(row) {
			r[i] = row[i]
		} else {
			r[i] = ""
		}
	}
	return r
}
