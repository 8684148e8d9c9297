package ocr

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Strategy is how pages reach the recognizer.
type Strategy int

const (
	// LayerInjection keeps the original pages and grafts an invisible text
	// layer onto them.
	LayerInjection Strategy = iota
	// RasterizeFirst rebuilds the document from page images before OCR.
	RasterizeFirst
)

func (s Strategy) String() string {
	if s == RasterizeFirst {
		return "rasterize-first"
	}
	return "layer-injection"
}

func strategyFor(o Options) Strategy {
	if o.RasterizeFirst {
		return RasterizeFirst
	}
	return LayerInjection
}

// Tier is one step of the fallback ladder.
type Tier int

const (
	TierAccelerated Tier = iota
	TierUnaccelerated
	TierSanitized
)

func (t Tier) String() string {
	switch t {
	case TierAccelerated:
		return "accelerated"
	case TierSanitized:
		return "sanitized"
	default:
		return "unaccelerated"
	}
}

// Attempt is a single OCRmyPDF invocation.
type Attempt struct {
	Tier    Tier
	Input   string
	Output  string
	Sidecar string
	// Force replaces existing text instead of skipping pages that have it.
	Force bool
	// DeviceConfig is the Tesseract config enabling OpenCL; set only on the
	// accelerated tier.
	DeviceConfig string
}

// deviceConfigBody switches Tesseract's OpenCL path on.
const deviceConfigBody = "tessedit_enable_opencl 1\n"

// buildArgs renders the OCRmyPDF command line, without the program name.
func buildArgs(a Attempt, o Options) []string {
	var args []string
	if a.Force {
		args = append(args, "--force-ocr")
	} else {
		args = append(args, "--skip-text")
	}
	if o.Deskew {
		args = append(args, "--deskew")
	}
	if o.CleanBackground {
		args = append(args, "--clean")
	}
	if o.AutoRotate {
		args = append(args, "--rotate-pages")
	}
	args = append(args,
		"-l", strings.Join(o.languages(), "+"),
		"--optimize", strconv.Itoa(o.OptimizeLevel),
		"--sidecar", a.Sidecar,
		"--jobs", strconv.Itoa(o.workers()),
		"-v",
	)
	if a.DeviceConfig != "" {
		args = append(args, "--tesseract-config", a.DeviceConfig)
	}
	return append(args, a.Input, a.Output)
}

// buildEnv caps Tesseract at one thread per OCRmyPDF worker so --jobs is the
// only source of parallelism.
func buildEnv(a Attempt, o Options) []string {
	env := append(os.Environ(), "OMP_THREAD_LIMIT=1")
	if a.DeviceConfig != "" {
		if _, err := strconv.Atoi(strings.TrimSpace(o.DeviceHint)); err == nil {
			env = append(env, "TESSERACT_OPENCL_DEVICE="+strings.TrimSpace(o.DeviceHint))
		}
	}
	return env
}

// SidecarPath is where the text transcript for output is written.
func SidecarPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".txt"
}
