package document

import (
	"fmt"
	"math"

	"github.com/ledongthuc/pdf"
)

// Letter size, used when a page has no usable MediaBox.
const (
	defaultWidth  = 612.0
	defaultHeight = 792.0
)

// PageGeometry is the size of one page in points and the resolution implied
// by the largest image drawn on it. ImageDPI is zero for pages without
// images.
type PageGeometry struct {
	Number   int
	Width    float64
	Height   float64
	ImageDPI int
}

// Geometry reads the size and embedded image resolution of every page.
func Geometry(path string) (pages []PageGeometry, err error) {
	f, r, err := openReader(path, "")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = nil, fmt.Errorf("read page geometry: %v", rec)
		}
	}()

	n := r.NumPage()
	if n <= 0 {
		return nil, fmt.Errorf("%s: no pages", path)
	}
	pages = make([]PageGeometry, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			return nil, fmt.Errorf("page %d: missing page object", i)
		}
		w, h := pageSize(p)
		g := PageGeometry{Number: i, Width: w, Height: h}
		for _, img := range pageImages(p) {
			if dpi := impliedDPI(img, w, h); dpi > g.ImageDPI {
				g.ImageDPI = dpi
			}
		}
		pages = append(pages, g)
	}
	return pages, nil
}

// pageSize resolves the MediaBox through the page tree. Rotation is ignored:
// images are placed in unrotated page space.
func pageSize(p pdf.Page) (w, h float64) {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Len() != 4 {
			continue
		}
		w = math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
		h = math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return defaultWidth, defaultHeight
}

func impliedDPI(img pdf.Value, pageW, pageH float64) int {
	pw, ph := img.Key("Width").Float64(), img.Key("Height").Float64()
	if pw <= 0 || ph <= 0 || pageW <= 0 || pageH <= 0 {
		return 0
	}
	dpi := math.Max(pw/(pageW/72), ph/(pageH/72))
	return int(math.Round(dpi))
}
