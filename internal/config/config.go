// Package config loads the settings profile: defaults, an optional YAML file,
// then environment overrides (a .env file is read first when present).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"ocrforge/internal/chunk"
	"ocrforge/internal/crypto"
	"ocrforge/internal/ocr"
	"ocrforge/internal/toolchain"
)

// FileName is the profile's default name inside the user config dir.
const FileName = "ocrforge.yaml"

// AutoDevice lets the accelerator pick its own device.
const AutoDevice = "Auto"

// Tools overrides executable locations. Empty means auto-detect.
type Tools struct {
	OCRmyPDF  string `yaml:"ocrmypdf,omitempty"`
	Tesseract string `yaml:"tesseract,omitempty"`
	Pdftoppm  string `yaml:"pdftoppm,omitempty"`
	Qpdf      string `yaml:"qpdf,omitempty"`
}

// Profile is the persisted settings document.
type Profile struct {
	Languages     []string `yaml:"languages"`
	Deskew        bool     `yaml:"deskew"`
	Clean         bool     `yaml:"clean"`
	Rotate        bool     `yaml:"rotate"`
	Force         bool     `yaml:"force"`
	Optimize      int      `yaml:"optimize"`
	UseGPU        bool     `yaml:"use_gpu"`
	GPUDevice     string   `yaml:"gpu_device"`
	MaxCPUThreads int      `yaml:"max_cpu_threads"`
	Rasterize     bool     `yaml:"rasterize"`
	DPI           int      `yaml:"dpi"`
	NoSanitize    bool     `yaml:"no_sanitize_fallback"`

	ChunkThreshold int    `yaml:"chunk_threshold"`
	ChunkSize      int    `yaml:"chunk_size"`
	ScratchDir     string `yaml:"scratch_dir,omitempty"`
	HistoryDir     string `yaml:"history_dir,omitempty"`
	Port           string `yaml:"port,omitempty"`
	Tools          Tools  `yaml:"tools,omitempty"`

	// Passwords maps a document's base name to its sealed password.
	Passwords map[string]string `yaml:"passwords,omitempty"`
}

// Default returns the settings a fresh install starts with.
func Default() Profile {
	return Profile{
		Languages:      []string{"eng"},
		Optimize:       0,
		GPUDevice:      AutoDevice,
		MaxCPUThreads:  2,
		DPI:            0,
		ChunkThreshold: chunk.DefaultThreshold,
		ChunkSize:      chunk.DefaultSize,
		Port:           "8080",
	}
}

// DefaultPath is $OCRFORGE_CONFIG, else ocrforge.yaml in the user config dir.
func DefaultPath() string {
	if p := os.Getenv("OCRFORGE_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(dir, "ocrforge", FileName)
}

// Load reads the profile at path (missing file means defaults) and applies
// environment overrides. envFiles are loaded with godotenv first; with none
// given, ./.env is tried. Variables already set in the process win.
func Load(path string, envFiles ...string) (Profile, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Profile{}, fmt.Errorf("load env: %w", err)
	}

	p := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Profile{}, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Profile{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	p.applyEnv()
	return p, nil
}

func (p *Profile) applyEnv() {
	if v := os.Getenv("OCR_LANGUAGES"); v != "" {
		p.Languages = SplitLanguages(v)
	}
	str := map[string]*string{
		"OCR_SCRATCH_DIR": &p.ScratchDir,
		"OCR_HISTORY_DIR": &p.HistoryDir,
		"OCRMYPDF_BIN":    &p.Tools.OCRmyPDF,
		"TESSERACT_BIN":   &p.Tools.Tesseract,
		"PDFTOPPM_BIN":    &p.Tools.Pdftoppm,
		"QPDF_BIN":        &p.Tools.Qpdf,
		"PORT":            &p.Port,
	}
	for k, dst := range str {
		if v := os.Getenv(k); v != "" {
			*dst = v
		}
	}
	if v, err := strconv.Atoi(os.Getenv("OCR_MAX_CPU_THREADS")); err == nil && v > 0 {
		p.MaxCPUThreads = v
	}
}

// SplitLanguages accepts "eng+ben", "eng,ben" or "eng ben".
func SplitLanguages(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
}

// Save writes the profile, creating its directory. Passwords are sealed
// before writing.
func (p Profile) Save(path string) error {
	out := p
	out.Passwords = make(map[string]string, len(p.Passwords))
	for name, pw := range p.Passwords {
		sealed, err := crypto.Seal(pw)
		if err != nil {
			return fmt.Errorf("seal password for %s: %w", name, err)
		}
		out.Passwords[name] = sealed
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Options resolves the profile into engine options.
func (p Profile) Options() ocr.Options {
	hint := p.GPUDevice
	if strings.EqualFold(hint, AutoDevice) {
		hint = ""
	}
	return ocr.Options{
		Languages:            p.Languages,
		Deskew:               p.Deskew,
		CleanBackground:      p.Clean,
		AutoRotate:           p.Rotate,
		OptimizeLevel:        p.Optimize,
		UseAcceleratedDevice: p.UseGPU,
		DeviceHint:           hint,
		MaxParallelWorkers:   p.MaxCPUThreads,
		RasterizeFirst:       p.Rasterize,
		TargetDPI:            p.DPI,
		NoSanitizeFallback:   p.NoSanitize,
	}
}

// Toolchain returns the configured tool overrides.
func (p Profile) Toolchain() toolchain.Paths {
	return toolchain.Paths{
		OCRmyPDF:  p.Tools.OCRmyPDF,
		Tesseract: p.Tools.Tesseract,
		Pdftoppm:  p.Tools.Pdftoppm,
		Qpdf:      p.Tools.Qpdf,
	}
}

// EngineConfig builds the engine configuration from detected tools.
func (p Profile) EngineConfig(tools toolchain.Paths, log zerolog.Logger) ocr.Config {
	return ocr.Config{
		OCRmyPDF:       tools.OCRmyPDF,
		Pdftoppm:       tools.Pdftoppm,
		Qpdf:           tools.Qpdf,
		ScratchDir:     p.ScratchDir,
		ChunkThreshold: p.ChunkThreshold,
		ChunkSize:      p.ChunkSize,
		Logger:         log,
	}
}

// HistoryPath is the bleve index location.
func (p Profile) HistoryPath() string {
	dir := p.HistoryDir
	if dir == "" {
		dir = filepath.Dir(DefaultPath())
	}
	return filepath.Join(dir, "history.bleve")
}

// PasswordFor returns the stored password for the document at path, or "".
func (p Profile) PasswordFor(path string) (string, error) {
	v, ok := p.Passwords[filepath.Base(path)]
	if !ok {
		return "", nil
	}
	return crypto.Open(v)
}

// SetPassword stores a password for the document at path, sealed.
func (p *Profile) SetPassword(path, password string) error {
	sealed, err := crypto.Seal(password)
	if err != nil {
		return err
	}
	if p.Passwords == nil {
		p.Passwords = make(map[string]string)
	}
	p.Passwords[filepath.Base(path)] = sealed
	return nil
}
