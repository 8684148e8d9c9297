// Package toolchain locates the external programs the converter drives.
package toolchain

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Paths holds resolved executables. An empty field means not found.
type Paths struct {
	OCRmyPDF  string
	Tesseract string
	Pdftoppm  string
	Qpdf      string
}

// Missing lists the tools a conversion cannot run without.
func (p Paths) Missing() []string {
	var missing []string
	if p.OCRmyPDF == "" {
		missing = append(missing, "ocrmypdf")
	}
	if p.Tesseract == "" {
		missing = append(missing, "tesseract")
	}
	return missing
}

// Detect resolves each tool, preferring the override, then PATH, then the
// usual Windows install locations.
func Detect(log zerolog.Logger, override Paths) Paths {
	p := Paths{
		OCRmyPDF:  find(log, "ocrmypdf", override.OCRmyPDF, nil),
		Tesseract: find(log, "tesseract", override.Tesseract, windowsCandidates("Tesseract-OCR", "Tesseract")),
		Pdftoppm:  find(log, "pdftoppm", override.Pdftoppm, windowsCandidates("poppler\\Library\\bin", "poppler\\bin")),
		Qpdf:      find(log, "qpdf", override.Qpdf, windowsCandidates("qpdf\\bin")),
	}
	return p
}

func find(log zerolog.Logger, name, override string, candidates func(exe string) []string) string {
	if override != "" {
		if path, err := exec.LookPath(override); err == nil {
			log.Debug().Str("tool", name).Str("path", path).Msg("using configured tool")
			return path
		}
		log.Warn().Str("tool", name).Str("path", override).Msg("configured tool not found, searching PATH")
	}
	if path, err := exec.LookPath(name); err == nil {
		log.Debug().Str("tool", name).Str("path", path).Msg("tool found on PATH")
		return path
	}
	if runtime.GOOS == "windows" && candidates != nil {
		for _, c := range candidates(name + ".exe") {
			if _, err := os.Stat(c); err == nil {
				log.Debug().Str("tool", name).Str("path", c).Msg("tool found")
				return c
			}
		}
	}
	log.Debug().Str("tool", name).Msg("tool not found")
	return ""
}

// windowsCandidates returns a lookup over Program Files, LocalAppData and a
// tools/ directory next to the executable.
func windowsCandidates(dirs ...string) func(exe string) []string {
	return func(exe string) []string {
		roots := []string{
			`C:\Program Files`,
			`C:\Program Files (x86)`,
			filepath.Join(os.Getenv("LOCALAPPDATA"), "Programs"),
			os.Getenv("LOCALAPPDATA"),
		}
		if self, err := os.Executable(); err == nil {
			roots = append(roots, filepath.Join(filepath.Dir(self), "tools"))
		}
		var out []string
		for _, r := range roots {
			for _, d := range dirs {
				out = append(out, filepath.Join(r, d, exe))
			}
		}
		return out
	}
}

// Languages lists the installed Tesseract language packs, without the
// orientation-detection pseudo language.
func Languages(ctx context.Context, tesseract string) ([]string, error) {
	cmd := exec.CommandContext(ctx, tesseract, "--list-langs")
	var out bytes.Buffer
	cmd.Stdout = &out
	// Tesseract 3.x printed the list on stderr.
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return parseLanguages(out.String()), nil
}

func parseLanguages(out string) []string {
	var langs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "osd" || strings.Contains(line, " ") {
			continue
		}
		langs = append(langs, line)
	}
	sort.Strings(langs)
	return langs
}

// MissingLanguages returns the requested codes that are not installed.
func MissingLanguages(installed, requested []string) []string {
	have := make(map[string]bool, len(installed))
	for _, l := range installed {
		have[l] = true
	}
	var missing []string
	for _, l := range requested {
		if !have[l] {
			missing = append(missing, l)
		}
	}
	return missing
}

// Version returns the first line of `bin --version`, or "" if it fails.
func Version(ctx context.Context, bin string) string {
	out, err := exec.CommandContext(ctx, bin, "--version").CombinedOutput()
	if err != nil {
		return ""
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(first)
}
