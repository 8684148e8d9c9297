package ocr

import (
	"fmt"
	"strings"
)

// Options is the resolved per-run configuration. The engine never mutates it.
type Options struct {
	// Languages are Tesseract language codes in priority order.
	Languages       []string
	Deskew          bool
	CleanBackground bool
	AutoRotate      bool
	// OptimizeLevel is passed to OCRmyPDF's --optimize (0..3).
	OptimizeLevel int

	UseAcceleratedDevice bool
	// DeviceHint selects an OpenCL device by index when numeric.
	DeviceHint string

	// MaxParallelWorkers bounds OCRmyPDF's --jobs. Values below 1 mean 1.
	MaxParallelWorkers int

	// RasterizeFirst re-renders every page to an image before OCR.
	RasterizeFirst bool
	// TargetDPI forces the rasterization resolution. Zero derives it per
	// page from embedded images.
	TargetDPI int
	// NoSanitizeFallback disables the rasterize-and-retry step after the
	// unaccelerated attempt fails.
	NoSanitizeFallback bool
}

// Validate reports the first problem with o.
func (o Options) Validate() error {
	if len(o.languages()) == 0 {
		return ErrNoLanguageSelected
	}
	if o.OptimizeLevel < 0 || o.OptimizeLevel > 3 {
		return fmt.Errorf("optimize level %d out of range 0..3", o.OptimizeLevel)
	}
	if o.TargetDPI < 0 {
		return fmt.Errorf("target dpi %d must not be negative", o.TargetDPI)
	}
	return nil
}

// languages drops blank and repeated codes, keeping order.
func (o Options) languages() []string {
	seen := make(map[string]bool, len(o.Languages))
	var out []string
	for _, l := range o.Languages {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func (o Options) workers() int {
	if o.MaxParallelWorkers < 1 {
		return 1
	}
	return o.MaxParallelWorkers
}
