package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"codeberg.org/go-pdf/fpdf"
	"github.com/rs/zerolog"

	"ocrforge/internal/document"
)

func TestResolveDPI(t *testing.T) {
	cases := []struct {
		target, implied, want int
	}{
		{0, 0, 300},
		{0, 150, 200},
		{0, 240, 240},
		{0, 1200, 600},
		{450, 0, 450},
		{150, 600, 150},
	}
	for _, tc := range cases {
		if got := ResolveDPI(tc.target, tc.implied); got != tc.want {
			t.Errorf("ResolveDPI(%d, %d) = %d, want %d", tc.target, tc.implied, got, tc.want)
		}
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.SetGray(x, h/2, color.Gray{Y: 255})
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestAssemble_PageSizeFollowsDPI(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writePNG(t, a, 200, 300)
	writePNG(t, b, 600, 400)

	out := filepath.Join(dir, "out.pdf")
	err := assemble([]renderedPage{{path: a, dpi: 100}, {path: b, dpi: 200}}, out)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	doc := document.Inspect(out, "")
	if doc.PageCount != 2 || doc.Classification != document.ClassImage {
		t.Fatalf("assembled doc = %d pages, %s; want 2 pages, image", doc.PageCount, doc.Classification)
	}
	geo, err := document.Geometry(out)
	if err != nil {
		t.Fatal(err)
	}
	want := [][2]float64{{144, 216}, {216, 144}}
	for i, g := range geo {
		if math.Abs(g.Width-want[i][0]) > 0.5 || math.Abs(g.Height-want[i][1]) > 0.5 {
			t.Errorf("page %d = %.1fx%.1f pt, want %.0fx%.0f", i+1, g.Width, g.Height, want[i][0], want[i][1])
		}
	}
}

func TestRasterize_MissingBinary(t *testing.T) {
	r := Rasterizer{Bin: "/nonexistent/pdftoppm", Log: zerolog.Nop()}
	dir := t.TempDir()
	err := r.Rasterize(context.Background(), filepath.Join(dir, "in.pdf"), filepath.Join(dir, "out.pdf"), 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestRasterize_TextDocument(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}
	dir := t.TempDir()
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetFont("Helvetica", "", 16)
	for i := 1; i <= 2; i++ {
		pdf.AddPage()
		pdf.Cell(300, 20, fmt.Sprintf("Statement page %d", i))
	}
	in := filepath.Join(dir, "in.pdf")
	if err := pdf.OutputFileAndClose(in); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out.pdf")
	r := Rasterizer{Log: zerolog.Nop()}
	if err := r.Rasterize(context.Background(), in, out, 100); err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	doc := document.Inspect(out, "")
	if doc.PageCount != 2 {
		t.Errorf("page count = %d, want 2", doc.PageCount)
	}
	if doc.Classification != document.ClassImage {
		t.Errorf("classification = %s, want image", doc.Classification)
	}
	geo, err := document.Geometry(out)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(geo[0].Width-612) > 1 || math.Abs(geo[0].Height-792) > 1 {
		t.Errorf("page size = %.1fx%.1f, want letter", geo[0].Width, geo[0].Height)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("work files left in %s: %d entries", dir, len(entries))
	}
}
