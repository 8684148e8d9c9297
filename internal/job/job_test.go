package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codeberg.org/go-pdf/fpdf"
	"github.com/rs/zerolog"

	"ocrforge/internal/history"
	"ocrforge/internal/ocr"
)

// stubOCR copies the input through and writes a fixed sidecar. Inputs whose
// name contains "bad" fail; cancelOn cancels the run on a matching input.
type stubOCR struct {
	cancelOn string
	cancel   context.CancelFunc
}

func (s *stubOCR) Execute(ctx context.Context, a ocr.Attempt, o ocr.Options, onLine func(string)) error {
	if s.cancelOn != "" && strings.Contains(a.Input, s.cancelOn) {
		s.cancel()
		<-ctx.Done()
		return &ocr.ToolError{ExitCode: 143}
	}
	if strings.Contains(a.Input, "bad") {
		return &ocr.ToolError{ExitCode: 2, Diagnostic: "page 1: image too small"}
	}
	onLine("INFO - 1")
	in, err := os.Open(a.Input)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(a.Output)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.WriteFile(a.Sidecar, []byte("quarterly ledger for "+filepath.Base(a.Input)), 0o644)
}

func writePDF(t *testing.T, dir, name string, protect bool) string {
	t.Helper()
	pdf := fpdf.New("P", "pt", "Letter", "")
	if protect {
		pdf.SetProtection(fpdf.CnProtectPrint, "user", "owner")
	}
	pdf.SetFont("Helvetica", "", 12)
	pdf.AddPage()
	pdf.Cell(200, 20, "scanned page")
	path := filepath.Join(dir, name)
	if err := pdf.OutputFileAndClose(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func newRunner(t *testing.T, x ocr.Executor) *Runner {
	t.Helper()
	store, err := history.OpenMem()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	e := ocr.New(ocr.Config{ScratchDir: t.TempDir(), Logger: zerolog.Nop()}, ocr.WithExecutor(x), ocr.WithRasterizer(nil))
	return &Runner{Engine: e, History: store, Log: zerolog.Nop()}
}

func english() ocr.Options { return ocr.Options{Languages: []string{"eng"}} }

// ========== StatusFor ==========

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err   error
		batch bool
		want  history.Status
	}{
		{nil, false, history.StatusCompleted},
		{nil, true, history.StatusBatchSuccess},
		{ocr.ErrCancelled, false, history.StatusCancelled},
		{fmt.Errorf("wrapped: %w", ocr.ErrCancelled), true, history.StatusCancelled},
		{errors.New("boom"), false, history.StatusFailed},
		{errors.New("boom"), true, history.StatusBatchFailed},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err, tc.batch); got != tc.want {
			t.Errorf("StatusFor(%v, %v) = %q, want %q", tc.err, tc.batch, got, tc.want)
		}
	}
}

// ========== Convert ==========

func TestConvert_RecordsCompleted(t *testing.T) {
	r := newRunner(t, &stubOCR{})
	dir := t.TempDir()
	in := writePDF(t, dir, "ledger.pdf", false)
	out := filepath.Join(dir, "ledger-ocr.pdf")

	rep := r.Convert(context.Background(), Spec{Input: in, Output: out, Options: english()})
	if rep.Err != nil || rep.Status != history.StatusCompleted {
		t.Fatalf("Convert = %s, %v", rep.Status, rep.Err)
	}
	got, _ := r.History.Search("quarterly ledger", 5)
	if len(got) != 1 || got[0].Filename != "ledger.pdf" || got[0].OutputPath != out || got[0].Size == 0 {
		t.Errorf("history = %+v", got)
	}
}

func TestConvert_RecordsFailure(t *testing.T) {
	r := newRunner(t, &stubOCR{})
	in := writePDF(t, t.TempDir(), "bad-scan.pdf", false)

	rep := r.Convert(context.Background(), Spec{Input: in, Output: in + ".out.pdf", Options: english()})
	var te *ocr.ToolError
	if !errors.As(rep.Err, &te) || rep.Status != history.StatusFailed {
		t.Fatalf("Convert = %s, %v", rep.Status, rep.Err)
	}
	got, _ := r.History.Recent(5)
	if len(got) != 1 || got[0].Status != history.StatusFailed || !strings.Contains(got[0].Error, "image too small") {
		t.Errorf("history = %+v", got)
	}
}

// ========== RunBatch ==========

func TestRunBatch_PrefixedOutputsAndStatuses(t *testing.T) {
	r := newRunner(t, &stubOCR{})
	src := t.TempDir()
	files := []string{
		writePDF(t, src, "a.pdf", false),
		writePDF(t, src, "bad.pdf", false),
		writePDF(t, src, "c.pdf", false),
	}
	outDir := filepath.Join(t.TempDir(), "out")
	var started []string

	reports, err := r.RunBatch(context.Background(), Batch{
		Files:   files,
		OutDir:  outDir,
		Options: english(),
		OnFile:  func(i, n int, p string) { started = append(started, fmt.Sprintf("%d/%d", i+1, n)) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 3 || strings.Join(started, " ") != "1/3 2/3 3/3" {
		t.Fatalf("reports=%d started=%v", len(reports), started)
	}
	want := []history.Status{history.StatusBatchSuccess, history.StatusBatchFailed, history.StatusBatchSuccess}
	for i, rep := range reports {
		if rep.Status != want[i] {
			t.Errorf("%s: status %q, want %q", filepath.Base(rep.Input), rep.Status, want[i])
		}
	}
	for _, name := range []string{"ocr_a.pdf", "ocr_a.txt", "ocr_c.pdf"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing %s", name)
		}
	}
	if n, _ := r.History.Count(); n != 3 {
		t.Errorf("history count = %d, want 3", n)
	}
}

func TestRunBatch_PasswordRequired(t *testing.T) {
	r := newRunner(t, &stubOCR{})
	src := t.TempDir()
	locked := writePDF(t, src, "locked.pdf", true)
	reports, _ := r.RunBatch(context.Background(), Batch{
		Files:    []string{locked, locked},
		OutDir:   t.TempDir(),
		Options:  english(),
		Password: func(string) (string, error) { return "", nil },
	})
	if len(reports) != 2 {
		t.Fatalf("got %d reports", len(reports))
	}
	if !errors.Is(reports[0].Err, ErrPasswordRequired) || !errors.Is(reports[0].Err, ocr.ErrInvalidPassword) {
		t.Errorf("err = %v, want password required", reports[0].Err)
	}
}

func TestRunBatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newRunner(t, &stubOCR{cancelOn: "second", cancel: cancel})
	src := t.TempDir()
	files := []string{
		writePDF(t, src, "first.pdf", false),
		writePDF(t, src, "second.pdf", false),
		writePDF(t, src, "third.pdf", false),
	}

	reports, _ := r.RunBatch(ctx, Batch{Files: files, OutDir: t.TempDir(), Options: english()})
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2 (stop after the cancelled file)", len(reports))
	}
	if reports[1].Status != history.StatusCancelled || !errors.Is(reports[1].Err, ocr.ErrCancelled) {
		t.Errorf("second = %s, %v", reports[1].Status, reports[1].Err)
	}
}
