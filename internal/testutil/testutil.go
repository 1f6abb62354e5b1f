// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// TestingT is the subset of testing.T the fixtures need.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...any)
	TempDir() string
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MinimalPDF builds a valid PDF with the given number of blank pages.
func MinimalPDF(pages int) []byte {
	if pages < 1 {
		pages = 1
	}

	var buf bytes.Buffer
	offsets := make([]int, 0, pages+2)
	buf.WriteString("%PDF-1.4\n")

	writeObj := func(num int, body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		writeObj(i+3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	xref := buf.Len()
	size := pages + 3
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, xref)
	return buf.Bytes()
}

// InputTree creates <root>/<category>/<file> for every entry. Files ending in
// .pdf get a one-page PDF body.
func InputTree(t TestingT, root string, tree map[string][]string) {
	t.Helper()
	for category, files := range tree {
		dir := filepath.Join(root, category)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		for _, name := range files {
			body := []byte("not a pdf")
			if filepath.Ext(name) == ".pdf" {
				body = MinimalPDF(1)
			}
			WriteFile(t, filepath.Join(dir, name), body)
		}
	}
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t TestingT, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
