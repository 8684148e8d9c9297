package main

import (
	"github.com/spf13/cobra"

	"ocrforge/internal/config"
	"ocrforge/internal/ocr"
)

// addOptionFlags registers the OCR tuning flags shared by convert and batch.
// Unset flags fall back to the settings profile.
func addOptionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceP("lang", "l", nil, "tesseract language codes, e.g. -l eng -l ben or -l eng+ben")
	f.Bool("force", false, "re-OCR pages that already have text")
	f.Bool("deskew", false, "straighten crooked scans")
	f.Bool("clean", false, "clean page backgrounds before recognition")
	f.Bool("rotate", false, "fix page orientation")
	f.Int("optimize", 0, "output optimization level (0-3)")
	f.Bool("gpu", false, "try the OpenCL-accelerated recognizer first")
	f.String("gpu-device", config.AutoDevice, "OpenCL device index, or Auto")
	f.IntP("jobs", "j", 0, "parallel OCR workers")
	f.Bool("rasterize", false, "rebuild pages from images before OCR")
	f.Int("dpi", 0, "rasterization DPI (0 = derive from embedded images)")
	f.Bool("no-sanitize", false, "do not retry failed documents in rasterized form")
}

// resolveOptions overlays explicitly set flags on the profile.
func resolveOptions(cmd *cobra.Command, p config.Profile) (ocr.Options, bool) {
	f := cmd.Flags()
	if f.Changed("lang") {
		langs, _ := f.GetStringSlice("lang")
		var split []string
		for _, l := range langs {
			split = append(split, config.SplitLanguages(l)...)
		}
		p.Languages = split
	}
	bools := map[string]*bool{
		"force":       &p.Force,
		"deskew":      &p.Deskew,
		"clean":       &p.Clean,
		"rotate":      &p.Rotate,
		"gpu":         &p.UseGPU,
		"rasterize":   &p.Rasterize,
		"no-sanitize": &p.NoSanitize,
	}
	for name, dst := range bools {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}
	ints := map[string]*int{
		"optimize": &p.Optimize,
		"jobs":     &p.MaxCPUThreads,
		"dpi":      &p.DPI,
	}
	for name, dst := range ints {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	if f.Changed("gpu-device") {
		p.GPUDevice, _ = f.GetString("gpu-device")
	}
	return p.Options(), p.Force
}
