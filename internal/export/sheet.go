package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"
	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"
)

// Leading columns of every sheet.
const (
	ColumnCategory = "category"
	ColumnItemID   = "item_id"
)

// Sheet is the flattened form of one category.
type Sheet struct {
	Name    string
	Columns []string
	Rows    []map[string]string
}

// Flatten turns records into a sheet. Nested objects become dotted columns;
// arrays of scalars are joined with "; " and other arrays are kept as JSON.
// Columns appear in the order they are first seen.
func Flatten(name string, records []Record) (*Sheet, error) {
	s := &Sheet{Name: name}
	seen := map[string]bool{}
	addColumn := func(col string) {
		if !seen[col] {
			seen[col] = true
			s.Columns = append(s.Columns, col)
		}
	}
	addColumn(ColumnItemID)

	for _, r := range records {
		doc := gjson.ParseBytes(r.Data)
		if !doc.IsObject() {
			return nil, fmt.Errorf("%s: record is not a JSON object", r.ItemID)
		}
		row := map[string]string{ColumnItemID: r.ItemID}
		flattenInto(row, "", doc, addColumn)
		s.Rows = append(s.Rows, row)
	}
	return s, nil
}

func flattenInto(row map[string]string, prefix string, v gjson.Result, addColumn func(string)) {
	v.ForEach(func(key, value gjson.Result) bool {
		col := key.String()
		if prefix != "" {
			col = prefix + "." + col
		}
		if value.IsObject() {
			flattenInto(row, col, value, addColumn)
			return true
		}
		// The record's own item_id would collide with the leading column.
		if col == ColumnItemID {
			return true
		}
		addColumn(col)
		row[col] = cellValue(value)
		return true
	})
}

func cellValue(v gjson.Result) string {
	switch {
	case v.Type == gjson.Null:
		return ""
	case v.IsArray():
		parts := v.Array()
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.IsObject() || p.IsArray() {
				return v.Raw
			}
			out = append(out, p.String())
		}
		return strings.Join(out, "; ")
	default:
		return v.String()
	}
}

// Build loads and flattens the named categories under root, or every category
// when names is empty.
func Build(root string, names []string) ([]*Sheet, error) {
	if len(names) == 0 {
		var err error
		if names, err = CategoryDirs(root); err != nil {
			return nil, err
		}
	}
	var sheets []*Sheet
	for _, name := range names {
		records, err := LoadCategory(filepath.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		if len(records) == 0 {
			continue
		}
		s, err := Flatten(name, records)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		sheets = append(sheets, s)
	}
	if len(sheets) == 0 {
		return nil, ErrNothingToMerge
	}
	return sheets, nil
}

// sheetName makes a category name acceptable as a worksheet name.
func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, name)
	if len([]rune(name)) > 31 {
		name = string([]rune(name)[:31])
	}
	return name
}

// WriteXLSX writes one worksheet per sheet to path.
func WriteXLSX(path string, sheets []*Sheet) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, s := range sheets {
		name := sheetName(s.Name)
		idx, err := f.NewSheet(name)
		if err != nil {
			return fmt.Errorf("sheet %s: %w", name, err)
		}
		if i == 0 {
			f.SetActiveSheet(idx)
		}

		for col, header := range s.Columns {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			_ = f.SetCellValue(name, cell, header)
		}
		for r, row := range s.Rows {
			for col, header := range s.Columns {
				cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
				_ = f.SetCellValue(name, cell, row[header])
			}
		}
		_ = f.SetColWidth(name, "A", "A", 14)
	}
	if len(sheets) > 0 && sheetName(sheets[0].Name) != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomicwriter.WriteFile(path, buf.Bytes(), 0o644)
}

// WriteCSV writes all sheets as one table with a leading category column.
// Columns are the union of every sheet's columns.
func WriteCSV(w io.Writer, sheets []*Sheet) error {
	columns := []string{ColumnCategory}
	seen := map[string]bool{ColumnCategory: true}
	for _, s := range sheets {
		for _, c := range s.Columns {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, s := range sheets {
		for _, row := range s.Rows {
			rec := make([]string, len(columns))
			rec[0] = s.Name
			for i, c := range columns[1:] {
				rec[i+1] = row[c]
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes WriteCSV output atomically to path.
func WriteCSVFile(path string, sheets []*Sheet) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sheets); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomicwriter.WriteFile(path, buf.Bytes(), 0o644)
}
