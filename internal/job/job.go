// Package job runs conversions through the OCR engine on behalf of the CLI
// and the server and records every terminal outcome in the history.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"ocrforge/internal/history"
	"ocrforge/internal/ocr"
)

// BatchPrefix is prepended to output names in batch mode.
const BatchPrefix = "ocr_"

// maxIndexedText bounds how much sidecar text goes into the history index.
const maxIndexedText = 1 << 20

// ErrPasswordRequired marks an encrypted batch input with no stored password.
var ErrPasswordRequired = errors.New("password required")

// Spec is one conversion.
type Spec struct {
	Input      string
	Output     string
	Password   string
	Force      bool
	Options    ocr.Options
	OnProgress func(page int)
	OnLog      func(line string)
}

// Report is the outcome of one conversion.
type Report struct {
	Input  string
	Output string
	Status history.Status
	Result *ocr.Result
	Err    error
}

// Runner drives an engine. History may be nil.
type Runner struct {
	Engine  *ocr.Engine
	History *history.Store
	Log     zerolog.Logger
}

// Convert runs s to completion and records the outcome. A run rejected
// with ocr.ErrBusy is not recorded.
func (r *Runner) Convert(ctx context.Context, s Spec) Report {
	return r.convert(ctx, s, false)
}

func (r *Runner) convert(ctx context.Context, s Spec, batch bool) Report {
	res, err := r.Engine.Run(ctx, ocr.Request{
		InputPath:  s.Input,
		OutputPath: s.Output,
		Password:   s.Password,
		Force:      s.Force,
		Options:    s.Options,
		OnProgress: s.OnProgress,
		OnLog:      s.OnLog,
	})
	if batch && s.Password == "" && errors.Is(err, ocr.ErrInvalidPassword) {
		err = fmt.Errorf("%w: %w", ErrPasswordRequired, err)
	}
	rep := Report{Input: s.Input, Output: s.Output, Result: res, Err: err, Status: StatusFor(err, batch)}
	if errors.Is(err, ocr.ErrBusy) {
		return rep
	}
	r.record(rep)
	return rep
}

// StatusFor maps a run error to the history status.
func StatusFor(err error, batch bool) history.Status {
	switch {
	case err == nil && batch:
		return history.StatusBatchSuccess
	case err == nil:
		return history.StatusCompleted
	case errors.Is(err, ocr.ErrCancelled):
		return history.StatusCancelled
	case batch:
		return history.StatusBatchFailed
	default:
		return history.StatusFailed
	}
}

func (r *Runner) record(rep Report) {
	if r.History == nil {
		return
	}
	e := history.Entry{
		Filename:   filepath.Base(rep.Input),
		Status:     rep.Status,
		SourcePath: rep.Input,
	}
	if fi, err := os.Stat(rep.Input); err == nil {
		e.Size = fi.Size()
	}
	if rep.Err != nil {
		e.Error = rep.Err.Error()
	}
	if rep.Result != nil {
		e.OutputPath = rep.Result.OutputPath
		e.Pages = rep.Result.Pages
		e.Text = readText(rep.Result.SidecarPath)
	}
	if _, err := r.History.Add(e); err != nil {
		r.Log.Warn().Err(err).Str("file", e.Filename).Msg("could not record history")
	}
}

func readText(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	b, _ := io.ReadAll(io.LimitReader(f, maxIndexedText))
	return string(b)
}

// Batch describes a sequential run over several files.
type Batch struct {
	Files   []string
	OutDir  string
	Force   bool
	Options ocr.Options
	// Password returns the stored password for a file, or "".
	Password func(path string) (string, error)
	// OnFile is called before each file starts.
	OnFile     func(index, total int, path string)
	OnProgress func(path string, page int)
	OnLog      func(line string)
}

// OutputFor is the batch output path for input.
func OutputFor(outDir, input string) string {
	return filepath.Join(outDir, BatchPrefix+filepath.Base(input))
}

// RunBatch converts b.Files in order. It stops after the first cancelled
// file; later files get no report.
func (r *Runner) RunBatch(ctx context.Context, b Batch) ([]Report, error) {
	if err := os.MkdirAll(b.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	reports := make([]Report, 0, len(b.Files))
	for i, in := range b.Files {
		if ctx.Err() != nil {
			break
		}
		if b.OnFile != nil {
			b.OnFile(i, len(b.Files), in)
		}
		s := Spec{Input: in, Output: OutputFor(b.OutDir, in), Force: b.Force, Options: b.Options, OnLog: b.OnLog}
		if b.Password != nil {
			pw, err := b.Password(in)
			if err != nil {
				r.Log.Warn().Err(err).Str("file", filepath.Base(in)).Msg("stored password unreadable")
			}
			s.Password = pw
		}
		if b.OnProgress != nil {
			s.OnProgress = func(page int) { b.OnProgress(in, page) }
		}
		rep := r.convert(ctx, s, true)
		reports = append(reports, rep)
		if rep.Status == history.StatusCancelled {
			break
		}
		if rep.Err != nil {
			r.Log.Error().Err(rep.Err).Str("file", filepath.Base(in)).Msg("batch item failed")
		}
	}
	return reports, nil
}
