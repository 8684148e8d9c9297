package ocr

import (
	"errors"
	"fmt"
	"strings"

	"ocrforge/internal/chunk"
	"ocrforge/internal/document"
)

var (
	ErrInvalidPassword       = document.ErrInvalidPassword
	ErrDecryptionUnavailable = document.ErrDecryptionUnavailable
	ErrNoLanguageSelected    = errors.New("no OCR language selected")
	ErrCancelled             = errors.New("ocr run cancelled")
	// ErrBusy is returned by Start while another run is active on the engine.
	ErrBusy = errors.New("an OCR run is already in progress")
)

// ChunkError annotates a chunk failure with the pages it covered.
type ChunkError struct {
	Range chunk.Range
	Err   error
}

func (e *ChunkError) Error() string { return fmt.Sprintf("%s: %v", e.Range, e.Err) }
func (e *ChunkError) Unwrap() error { return e.Err }

// ToolError is a non-zero exit from the OCR tool.
type ToolError struct {
	ExitCode int
	// Diagnostic is the tail of the tool's stderr.
	Diagnostic string
	// Hint is a remedy suggested to the user, if any.
	Hint string
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ocrmypdf exited with status %d", e.ExitCode)
	if e.Diagnostic != "" {
		b.WriteString(": ")
		b.WriteString(e.Diagnostic)
	}
	if e.Hint != "" {
		b.WriteString("\nTip: ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// rasterizeHint is offered when every attempt failed and rasterize mode
// was never tried.
const rasterizeHint = "enable rasterize mode to rebuild the document from page images"

// withHint attaches hint to a tool failure. Other errors pass through.
func withHint(err error, hint string) error {
	var te *ToolError
	if !errors.As(err, &te) {
		return err
	}
	cp := *te
	cp.Hint = hint
	return &cp
}

const (
	diagnosticLimit  = 800
	truncationMarker = "...(logs truncated)...\n"
)

// tailBuffer keeps the last diagnosticLimit bytes written to it.
type tailBuffer struct {
	buf       []byte
	truncated bool
}

func (t *tailBuffer) WriteLine(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - diagnosticLimit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
}

func (t *tailBuffer) String() string {
	s := strings.TrimRight(string(t.buf), "\n")
	if t.truncated {
		return truncationMarker + s
	}
	return s
}
