package document

import (
	"bytes"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Inspect opens the document read-only and reports its page count,
// encryption state and classification. It never fails: unreadable or
// malformed files come back as ClassUnknown.
func Inspect(path, password string) (doc Document) {
	doc = Document{Path: path, Classification: ClassUnknown}
	defer func() {
		// The reader panics on some broken content streams.
		if recover() != nil {
			doc.Classification = ClassUnknown
		}
	}()

	f, r, err := openReader(path, password)
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			doc.Encryption = EncryptionPasswordRequired
			doc.Classification = ClassEncrypted
			return doc
		}
		return probeUnsupported(path, password, doc)
	}
	defer f.Close()

	if !r.Trailer().Key("Encrypt").IsNull() {
		doc.Encryption = EncryptionUnlocked
	}
	doc.PageCount = r.NumPage()
	doc.Classification = classifyPages(r, doc.PageCount)
	return doc
}

// Classify returns only the classification of the document.
func Classify(path, password string) Classification {
	return Inspect(path, password).Classification
}

func openReader(path, password string) (*os.File, *pdf.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	r, err := pdf.NewReaderEncrypted(f, st.Size(), passwordOnce(password))
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, r, nil
}

// passwordOnce feeds the reader the caller's password a single time. The
// reader always tries the empty password first on its own.
func passwordOnce(password string) func() string {
	used := false
	return func() string {
		if used {
			return ""
		}
		used = true
		return password
	}
}

// probeUnsupported handles files the reader rejects outright, most often
// AES-256 (V=5) encryption. pdfcpu reads those; if it also fails on a file
// that carries an encryption dictionary, the password is what's missing.
func probeUnsupported(path, password string, doc Document) Document {
	if !hasEncryptDict(path) {
		return doc
	}
	f, err := os.Open(path)
	if err != nil {
		return doc
	}
	defer f.Close()

	ctx, err := api.ReadContext(f, pdfcpuConfig(password))
	if err != nil {
		doc.Encryption = EncryptionPasswordRequired
		doc.Classification = ClassEncrypted
		return doc
	}
	doc.Encryption = EncryptionUnlocked
	doc.PageCount = ctx.PageCount
	return doc
}

// hasEncryptDict looks for an /Encrypt key in the file's tail, where both
// classic trailers and cross-reference stream dictionaries live.
func hasEncryptDict(path string) bool {
	const tail = 1 << 20
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return false
	}
	off := st.Size() - tail
	if off < 0 {
		off = 0
	}
	buf := make([]byte, st.Size()-off)
	if _, err := f.ReadAt(buf, off); err != nil && err != io.EOF {
		return false
	}
	return bytes.Contains(buf, []byte("/Encrypt"))
}

func classifyPages(r *pdf.Reader, pageCount int) Classification {
	n := pageCount
	if n > SampleLimit {
		n = SampleLimit
	}
	var sampled, withText, withImages int
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		sampled++
		text, img := inspectPage(p)
		if text {
			withText++
		}
		if img {
			withImages++
		}
	}

	switch {
	case sampled == 0:
		return ClassUnknown
	case withText == sampled && withImages == 0:
		return ClassText
	case withImages > 0 && withText == 0:
		return ClassImage
	case withImages > 0 && withText > 0:
		return ClassMixed
	default:
		return ClassUnknown
	}
}

// inspectPage isolates panics to one page so a single bad page does not
// throw away what the others showed.
func inspectPage(p pdf.Page) (hasText, hasImages bool) {
	defer func() {
		if recover() != nil {
			hasText, hasImages = false, false
		}
	}()
	text, err := p.GetPlainText(nil)
	hasText = err == nil && strings.TrimSpace(text) != ""
	hasImages = len(pageImages(p)) > 0
	return hasText, hasImages
}

// doOperator matches "/Name Do", which paints an XObject.
var doOperator = regexp.MustCompile(`/([^\s/\[\]()<>{}%]+)\s+Do\b`)

// pageImages returns the image XObjects the page actually paints, descending
// one level into form XObjects. Resource dictionaries are often shared
// between pages, so only names invoked from the content stream count.
func pageImages(p pdf.Page) []pdf.Value {
	var images []pdf.Value
	xobjects := p.Resources().Key("XObject")
	for _, name := range paintedNames(p.V.Key("Contents")) {
		x := xobjects.Key(name)
		switch x.Key("Subtype").Name() {
		case "Image":
			images = append(images, x)
		case "Form":
			inner := x.Key("Resources").Key("XObject")
			if inner.IsNull() {
				inner = xobjects
			}
			for _, n := range paintedNames(x) {
				if y := inner.Key(n); y.Key("Subtype").Name() == "Image" {
					images = append(images, y)
				}
			}
		}
	}
	return images
}

// paintedNames lists the XObject names invoked by a content stream or an
// array of content streams.
func paintedNames(content pdf.Value) []string {
	var data []byte
	switch content.Kind() {
	case pdf.Stream:
		data = readStream(content)
	case pdf.Array:
		for i := 0; i < content.Len(); i++ {
			data = append(data, readStream(content.Index(i))...)
			data = append(data, '\n')
		}
	}
	seen := make(map[string]bool)
	var names []string
	for _, m := range doOperator.FindAllSubmatch(data, -1) {
		if n := string(m[1]); !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

func readStream(v pdf.Value) []byte {
	rc := v.Reader()
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return data
}
