// Package raster rebuilds a PDF as image-only pages. Documents whose text
// layer or structure trips up OCRmyPDF usually go through cleanly once every
// page is a plain scan again.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"codeberg.org/go-pdf/fpdf"
	"github.com/rs/zerolog"

	"ocrforge/internal/document"
	"ocrforge/internal/proc"
)

// ErrUnavailable means pdftoppm could not be found.
var ErrUnavailable = errors.New("raster: pdftoppm not available")

const (
	DefaultDPI = 300
	MinDPI     = 200
	MaxDPI     = 600
)

// ResolveDPI picks the render resolution for one page. An explicit target
// wins; otherwise the resolution implied by the page's images is clamped to
// [MinDPI, MaxDPI], and pages without images get DefaultDPI.
func ResolveDPI(target, implied int) int {
	switch {
	case target > 0:
		return target
	case implied <= 0:
		return DefaultDPI
	case implied < MinDPI:
		return MinDPI
	case implied > MaxDPI:
		return MaxDPI
	default:
		return implied
	}
}

// Rasterizer renders pages with Poppler's pdftoppm and reassembles them.
type Rasterizer struct {
	// Bin is the pdftoppm executable. Empty means look it up on PATH.
	Bin string
	// Tracker, when set, lets a concurrent Terminate kill the renderer.
	Tracker *proc.Tracker
	Log     zerolog.Logger
}

type renderedPage struct {
	path string
	dpi  int
}

// Rasterize writes an image-only copy of in to out. targetDPI of zero lets
// each page pick its own resolution.
func (r Rasterizer) Rasterize(ctx context.Context, in, out string, targetDPI int) error {
	bin, err := r.binary()
	if err != nil {
		return err
	}
	work, err := os.MkdirTemp(filepath.Dir(out), "raster-*")
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	defer os.RemoveAll(work)

	var pages []renderedPage
	geo, gerr := document.Geometry(in)
	if gerr == nil {
		pages, err = r.renderPages(ctx, bin, in, work, geo, targetDPI)
	} else {
		r.Log.Warn().Err(gerr).Str("file", in).Msg("page geometry unavailable, rendering whole document")
		pages, err = r.renderAll(ctx, bin, in, work, ResolveDPI(targetDPI, 0))
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return assemble(pages, out)
}

func (r Rasterizer) binary() (string, error) {
	name := r.Bin
	if name == "" {
		name = "pdftoppm"
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p, nil
}

func (r Rasterizer) renderPages(ctx context.Context, bin, in, work string, geo []document.PageGeometry, targetDPI int) ([]renderedPage, error) {
	pages := make([]renderedPage, 0, len(geo))
	for _, g := range geo {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dpi := ResolveDPI(targetDPI, g.ImageDPI)
		n := strconv.Itoa(g.Number)
		prefix := filepath.Join(work, fmt.Sprintf("page-%05d", g.Number))
		err := r.run(ctx, bin, "-png", "-r", strconv.Itoa(dpi), "-f", n, "-l", n, "-singlefile", in, prefix)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", g.Number, err)
		}
		r.Log.Debug().Int("page", g.Number).Int("dpi", dpi).Msg("page rendered")
		pages = append(pages, renderedPage{path: prefix + ".png", dpi: dpi})
	}
	return pages, nil
}

func (r Rasterizer) renderAll(ctx context.Context, bin, in, work string, dpi int) ([]renderedPage, error) {
	prefix := filepath.Join(work, "page")
	if err := r.run(ctx, bin, "-png", "-r", strconv.Itoa(dpi), in, prefix); err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	// pdftoppm zero-pads page numbers to a common width, so lexical order is
	// page order.
	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("render document: pdftoppm produced no pages")
	}
	sort.Strings(files)
	pages := make([]renderedPage, len(files))
	for i, f := range files {
		pages[i] = renderedPage{path: f, dpi: dpi}
	}
	return pages, nil
}

func (r Rasterizer) run(ctx context.Context, bin string, args ...string) error {
	tr := r.Tracker
	if tr == nil {
		tr = &proc.Tracker{}
	}
	var last string
	cmd := exec.CommandContext(ctx, bin, args...)
	err := tr.Run(cmd, nil, func(line string) {
		last = line
		r.Log.Debug().Str("tool", "pdftoppm").Msg(line)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if last != "" {
			return fmt.Errorf("%w: %s", err, last)
		}
		return err
	}
	return nil
}

// assemble lays each rendered page onto a PDF page of the same physical
// size: pixels / dpi inches.
func assemble(pages []renderedPage, out string) error {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	opts := fpdf.ImageOptions{ImageType: "PNG"}

	for i, p := range pages {
		w, h, err := pixelSize(p.path)
		if err != nil {
			return err
		}
		wd := float64(w) / float64(p.dpi) * 72
		ht := float64(h) / float64(p.dpi) * 72

		f, err := os.Open(p.path)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("p%d", i+1)
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: wd, Ht: ht})
		pdf.RegisterImageOptionsReader(name, opts, f)
		f.Close()
		pdf.ImageOptions(name, 0, 0, wd, ht, false, opts, 0, "")
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("assemble page %d: %w", i+1, err)
		}
	}
	if err := pdf.OutputFileAndClose(out); err != nil {
		_ = os.Remove(out)
		return fmt.Errorf("write rasterized pdf: %w", err)
	}
	return nil
}

func pixelSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return cfg.Width, cfg.Height, nil
}
