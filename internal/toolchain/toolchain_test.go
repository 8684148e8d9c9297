package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLanguages(t *testing.T) {
	out := `List of available languages in "/usr/share/tesseract-ocr/5/tessdata/" (4):
eng
osd
ben
deu
`
	got := parseLanguages(out)
	if fmt.Sprint(got) != "[ben deu eng]" {
		t.Errorf("parseLanguages = %v, want [ben deu eng]", got)
	}
}

func TestMissingLanguages(t *testing.T) {
	got := MissingLanguages([]string{"eng", "ben"}, []string{"eng", "hin", "ben", "deu"})
	if fmt.Sprint(got) != "[hin deu]" {
		t.Errorf("MissingLanguages = %v, want [hin deu]", got)
	}
}

func TestPaths_Missing(t *testing.T) {
	if got := (Paths{}).Missing(); fmt.Sprint(got) != "[ocrmypdf tesseract]" {
		t.Errorf("Missing = %v", got)
	}
	if got := (Paths{OCRmyPDF: "/usr/bin/ocrmypdf", Tesseract: "/usr/bin/tesseract"}).Missing(); len(got) != 0 {
		t.Errorf("Missing = %v, want none (pdftoppm and qpdf are optional)", got)
	}
}

func TestDetect_Override(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as a stand-in tool")
	}
	dir := t.TempDir()
	fake := filepath.Join(dir, "my-ocrmypdf")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\necho 16.0.0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	p := Detect(zerolog.Nop(), Paths{OCRmyPDF: fake, Qpdf: filepath.Join(dir, "absent")})
	if p.OCRmyPDF != fake {
		t.Errorf("OCRmyPDF = %q, want override %q", p.OCRmyPDF, fake)
	}
	if p.Qpdf != "" && filepath.Dir(p.Qpdf) == dir {
		t.Errorf("missing override resolved to %q", p.Qpdf)
	}
}
