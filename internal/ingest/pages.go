package ingest

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	n, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

// PageCounts counts pages of many PDFs concurrently. Unreadable documents
// get -1 so one bad file does not hide the rest.
func PageCounts(ctx context.Context, paths []string) []int {
	counts := make([]int, len(paths))
	if len(paths) == 0 {
		return counts
	}

	type result struct {
		index int
		pages int
	}

	results := make(chan result, len(paths))
	sem := make(chan struct{}, runtime.NumCPU())

	for i, p := range paths {
		select {
		case sem <- struct{}{}: // acquire
		case <-ctx.Done():
			results <- result{index: i, pages: -1}
			continue
		}
		go func(index int, path string) {
			defer func() { <-sem }() // release

			n, err := PageCount(path)
			if err != nil {
				n = -1
			}
			results <- result{index: index, pages: n}
		}(i, p)
	}

	for range paths {
		r := <-results
		counts[r.index] = r.pages
	}
	return counts
}
