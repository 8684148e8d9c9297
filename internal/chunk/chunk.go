// Package chunk splits large documents into page ranges that are OCR'd one at
// a time and stitches the results back together.
package chunk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	// DefaultThreshold is the page count above which a document is chunked.
	DefaultThreshold = 50
	// DefaultSize is the number of pages per chunk.
	DefaultSize = 20
	// SidecarSeparator joins per-chunk sidecar text, matching the page
	// separator OCRmyPDF itself writes.
	SidecarSeparator = "\f"
)

func init() {
	api.DisableConfigDir()
}

// Range is a half-open, zero-based page range [Start, End).
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int { return r.End - r.Start }

// String renders the range in one-based inclusive page numbers.
func (r Range) String() string {
	return fmt.Sprintf("pages %d-%d", r.Start+1, r.End)
}

// selector is the pdfcpu page selection for the range.
func (r Range) selector() string {
	return fmt.Sprintf("%d-%d", r.Start+1, r.End)
}

// Chunk is one standalone slice of the source document plus the paths its
// OCR output and sidecar will be written to.
type Chunk struct {
	Index   int
	Range   Range
	Input   string
	Output  string
	Sidecar string
}

// Needed reports whether a document of n pages should be chunked.
func Needed(n, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return n > threshold
}

// Plan cuts [0, n) into consecutive ranges of at most size pages.
func Plan(n, size int) []Range {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultSize
	}
	ranges := make([]Range, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges
}

func config() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Split writes one PDF per planned range into dir.
func Split(ctx context.Context, path string, pageCount, size int, dir string) ([]Chunk, error) {
	ranges := Plan(pageCount, size)
	if len(ranges) == 0 {
		return nil, fmt.Errorf("split %s: no pages", path)
	}
	chunks := make([]Chunk, 0, len(ranges))
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := Chunk{
			Index:   i,
			Range:   r,
			Input:   filepath.Join(dir, fmt.Sprintf("chunk-%03d.pdf", i)),
			Output:  filepath.Join(dir, fmt.Sprintf("chunk-%03d-ocr.pdf", i)),
			Sidecar: filepath.Join(dir, fmt.Sprintf("chunk-%03d.txt", i)),
		}
		if err := api.TrimFile(path, c.Input, []string{r.selector()}, config()); err != nil {
			return nil, fmt.Errorf("split %s: %w", r, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Merge concatenates the PDFs in order into dst. The result is assembled in
// a temporary file next to dst and renamed into place, so dst is either
// complete or untouched.
func Merge(outputs []string, dst string) error {
	if len(outputs) == 0 {
		return fmt.Errorf("merge: no inputs")
	}
	tmp := dst + ".part.pdf"
	if err := api.MergeCreateFile(outputs, tmp, false, config()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("merge %d chunks: %w", len(outputs), err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// MergeSidecars joins the sidecar texts in order with SidecarSeparator.
func MergeSidecars(paths []string, dst string) error {
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read sidecar: %w", err)
		}
		parts = append(parts, string(data))
	}
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, []byte(strings.Join(parts, SidecarSeparator)), 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}
