// Package ocr drives OCRmyPDF over a document: it normalizes the input,
// chunks large documents, walks the fallback ladder when the tool fails,
// reports page progress and supports cancelling a run mid-flight.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"ocrforge/internal/chunk"
	"ocrforge/internal/document"
	"ocrforge/internal/proc"
	"ocrforge/internal/raster"
)

// Rasterizer rebuilds a PDF from page images.
type Rasterizer interface {
	Rasterize(ctx context.Context, in, out string, targetDPI int) error
}

// Decrypter writes a decrypted copy of a password-protected PDF into dir.
type Decrypter interface {
	Decrypt(ctx context.Context, path, password, dir string) (string, error)
}

// Config wires the engine to the local toolchain.
type Config struct {
	OCRmyPDF string
	Pdftoppm string
	Qpdf     string
	// ScratchDir holds per-run working directories. Empty means the system
	// temp dir.
	ScratchDir     string
	ChunkThreshold int
	ChunkSize      int
	Logger         zerolog.Logger
}

// Request is one conversion. OnProgress and OnLog may be nil; they are called
// from goroutines owned by the run, never concurrently with each other.
type Request struct {
	InputPath  string
	OutputPath string
	Password   string
	Force      bool
	Options    Options
	OnProgress func(page int)
	OnLog      func(line string)
}

// Result describes a finished conversion.
type Result struct {
	OutputPath     string
	SidecarPath    string
	Pages          int
	Chunks         int
	Strategy       Strategy
	Classification document.Classification
}

// runState is the engine's only shared mutable state. The run goroutine owns
// it; Cancel may touch cancelRequested, cancel and tracker concurrently.
type runState struct {
	running         atomic.Bool
	cancelRequested atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc

	tracker *proc.Tracker
}

func (s *runState) setCancel(c context.CancelFunc) {
	s.mu.Lock()
	s.cancel = c
	s.mu.Unlock()
}

// Engine runs at most one conversion at a time.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	exec    Executor
	raster  Rasterizer
	decrypt Decrypter
	inspect func(path, password string) document.Document

	state runState
}

// Option customizes an Engine.
type Option func(*Engine)

// WithExecutor replaces the OCRmyPDF invocation.
func WithExecutor(x Executor) Option { return func(e *Engine) { e.exec = x } }

// WithRasterizer replaces the pdftoppm-based rasterizer. A nil rasterizer
// disables the sanitize fallback and rasterize-first strategy.
func WithRasterizer(r Rasterizer) Option { return func(e *Engine) { e.raster = r } }

// WithDecrypter replaces the pdfcpu/qpdf decryption adapter.
func WithDecrypter(d Decrypter) Option { return func(e *Engine) { e.decrypt = d } }

// New returns an engine using the toolchain in cfg.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.OCRmyPDF == "" {
		cfg.OCRmyPDF = "ocrmypdf"
	}
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = chunk.DefaultThreshold
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunk.DefaultSize
	}
	e := &Engine{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "ocr").Logger(),
		inspect: document.Inspect,
	}
	e.state.tracker = &proc.Tracker{}
	e.exec = &toolExecutor{bin: cfg.OCRmyPDF, tracker: e.state.tracker, log: e.log}
	e.raster = raster.Rasterizer{Bin: cfg.Pdftoppm, Tracker: e.state.tracker, Log: e.log}
	e.decrypt = document.Decrypter{QpdfBin: cfg.Qpdf, Log: e.log}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Job is a started run.
type Job struct {
	done   chan struct{}
	result *Result
	err    error
}

// Done is closed when the run has finished and the engine is idle again.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the run finishes.
func (j *Job) Wait() (*Result, error) {
	<-j.done
	return j.result, j.err
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.state.running.Load() }

// Start marks the engine busy and runs req on a new goroutine. It returns
// ErrBusy if a run is already in progress.
func (e *Engine) Start(ctx context.Context, req Request) (*Job, error) {
	if !e.state.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	e.state.cancelRequested.Store(false)
	runCtx, cancel := context.WithCancel(ctx)
	e.state.setCancel(cancel)

	job := &Job{done: make(chan struct{})}
	go func() {
		defer func() {
			cancel()
			e.state.setCancel(nil)
			e.state.running.Store(false)
			close(job.done)
		}()
		job.result, job.err = e.run(runCtx, req)
	}()
	return job, nil
}

// Run converts req and blocks until it finishes.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	job, err := e.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return job.Wait()
}

// Cancel stops the active run and kills the OCR process tree. It is safe to
// call at any time, any number of times.
func (e *Engine) Cancel() {
	if !e.state.running.Load() {
		return
	}
	e.state.cancelRequested.Store(true)
	e.state.mu.Lock()
	cancel := e.state.cancel
	e.state.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := e.state.tracker.Terminate(); err != nil {
		e.log.Warn().Err(err).Msg("terminate OCR process tree")
	}
}

func (e *Engine) cancelled(ctx context.Context) bool {
	return e.state.cancelRequested.Load() || ctx.Err() != nil
}

func (e *Engine) run(ctx context.Context, req Request) (*Result, error) {
	o := req.Options
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if req.InputPath == "" || req.OutputPath == "" {
		return nil, errors.New("input and output paths are required")
	}
	if e.cancelled(ctx) {
		return nil, ErrCancelled
	}
	log := e.log.With().Str("file", filepath.Base(req.InputPath)).Logger()

	scratch, err := os.MkdirTemp(e.cfg.ScratchDir, "run-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	input, doc, err := e.prepare(ctx, req, scratch, log)
	if err != nil {
		if e.cancelled(ctx) {
			return nil, ErrCancelled
		}
		return nil, err
	}

	strategy := strategyFor(o)
	force := req.Force
	if strategy == RasterizeFirst {
		if e.raster == nil {
			return nil, raster.ErrUnavailable
		}
		rasterized := filepath.Join(scratch, "rasterized.pdf")
		log.Info().Int("dpi", o.TargetDPI).Msg("rasterizing pages before OCR")
		if err := e.raster.Rasterize(ctx, input, rasterized, o.TargetDPI); err != nil {
			if e.cancelled(ctx) {
				return nil, ErrCancelled
			}
			return nil, fmt.Errorf("rasterize: %w", err)
		}
		input = rasterized
		force = true
	}

	log.Info().
		Int("pages", doc.PageCount).
		Str("class", string(doc.Classification)).
		Stringer("strategy", strategy).
		Msg("starting OCR")

	prog := newProgress(doc.PageCount, req.OnProgress, req.OnLog)
	outPDF := filepath.Join(scratch, "output.pdf")
	outTxt := filepath.Join(scratch, "output.txt")

	chunks := 1
	var res outcome
	if chunk.Needed(doc.PageCount, e.cfg.ChunkThreshold) {
		chunks, res = e.processChunked(ctx, input, doc.PageCount, force, o, prog, scratch, outPDF, outTxt, log)
	} else {
		u := unit{input: input, output: outPDF, sidecar: outTxt, force: force}
		res = e.process(ctx, u, o, prog, scratch, log)
	}

	switch res.kind {
	case cancelled:
		log.Info().Msg("OCR cancelled")
		return nil, ErrCancelled
	case failed:
		return nil, res.err
	}
	if err := ensureFile(outTxt); err != nil {
		return nil, err
	}
	if e.cancelled(ctx) {
		return nil, ErrCancelled
	}

	sidecar := SidecarPath(req.OutputPath)
	if err := moveFile(outPDF, req.OutputPath); err != nil {
		return nil, fmt.Errorf("publish output: %w", err)
	}
	if err := moveFile(outTxt, sidecar); err != nil {
		return nil, fmt.Errorf("publish sidecar: %w", err)
	}
	log.Info().Str("output", req.OutputPath).Int("chunks", chunks).Msg("OCR complete")

	return &Result{
		OutputPath:     req.OutputPath,
		SidecarPath:    sidecar,
		Pages:          doc.PageCount,
		Chunks:         chunks,
		Strategy:       strategy,
		Classification: doc.Classification,
	}, nil
}

// prepare inspects the input and, for encrypted documents, swaps in a
// decrypted copy living in scratch.
func (e *Engine) prepare(ctx context.Context, req Request, scratch string, log zerolog.Logger) (string, document.Document, error) {
	doc := e.inspect(req.InputPath, req.Password)
	switch doc.Encryption {
	case document.EncryptionPasswordRequired:
		return "", doc, ErrInvalidPassword
	case document.EncryptionUnlocked:
		log.Info().Msg("decrypting input")
		dec, err := e.decrypt.Decrypt(ctx, req.InputPath, req.Password, scratch)
		if err != nil {
			return "", doc, fmt.Errorf("decrypt: %w", err)
		}
		plain := e.inspect(dec, "")
		if plain.PageCount == 0 {
			plain.PageCount = doc.PageCount
		}
		return dec, plain, nil
	}
	return req.InputPath, doc, nil
}

func (e *Engine) processChunked(ctx context.Context, input string, pages int, force bool, o Options, prog *progress, scratch, outPDF, outTxt string, log zerolog.Logger) (int, outcome) {
	dir := filepath.Join(scratch, "chunks")
	if err := os.Mkdir(dir, 0o755); err != nil {
		return 0, failure(err)
	}
	chunks, err := chunk.Split(ctx, input, pages, e.cfg.ChunkSize, dir)
	if err != nil {
		if e.cancelled(ctx) {
			return 0, cancelledOutcome
		}
		return 0, failure(fmt.Errorf("split document: %w", err))
	}
	log.Info().Int("chunks", len(chunks)).Int("size", e.cfg.ChunkSize).Msg("processing in chunks")

	outputs := make([]string, len(chunks))
	sidecars := make([]string, len(chunks))
	for i, c := range chunks {
		if e.cancelled(ctx) {
			return len(chunks), cancelledOutcome
		}
		clog := log.With().Stringer("range", c.Range).Logger()
		clog.Info().Int("chunk", i+1).Msg("processing chunk")

		u := unit{input: c.Input, output: c.Output, sidecar: c.Sidecar, offset: c.Range.Start, force: force}
		res := e.process(ctx, u, o, prog, scratch, clog)
		switch res.kind {
		case cancelled:
			return len(chunks), res
		case failed:
			return len(chunks), failure(&ChunkError{Range: c.Range, Err: res.err})
		}
		if err := ensureFile(c.Sidecar); err != nil {
			return len(chunks), failure(&ChunkError{Range: c.Range, Err: err})
		}
		_ = os.Remove(c.Input)
		outputs[i] = c.Output
		sidecars[i] = c.Sidecar
	}
	if e.cancelled(ctx) {
		return len(chunks), cancelledOutcome
	}

	if err := chunk.Merge(outputs, outPDF); err != nil {
		return len(chunks), failure(err)
	}
	if err := chunk.MergeSidecars(sidecars, outTxt); err != nil {
		return len(chunks), failure(err)
	}
	return len(chunks), okOutcome
}

// ensureFile creates an empty file at path if none exists. OCRmyPDF skips
// the sidecar when it has nothing to write.
func ensureFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// moveFile renames src to dst, copying when they sit on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
