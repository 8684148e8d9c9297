package ocr

import (
	"regexp"
	"strconv"
	"sync"
)

var (
	pageMarker  = regexp.MustCompile(`(?i)(?:INFO\s+-\s+|Page\s+|Scanning page\s+)(\d+)`)
	leadingPage = regexp.MustCompile(`^\s*(\d+)\s`)
)

// parsePage extracts a chunk-local page number from one diagnostic line.
func parsePage(line string) (int, bool) {
	m := pageMarker.FindStringSubmatch(line)
	if m == nil {
		m = leadingPage.FindStringSubmatch(line)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// progress turns the tool's noisy page markers into a strictly increasing
// sequence of document page numbers. One progress value spans a whole run,
// across chunks and fallback attempts. Lines arrive from both output pipes
// at once, so delivery is serialized.
type progress struct {
	mu     sync.Mutex
	total  int
	last   int
	onPage func(int)
	onLog  func(string)
}

func newProgress(total int, onPage func(int), onLog func(string)) *progress {
	return &progress{total: total, onPage: onPage, onLog: onLog}
}

// observe handles one line emitted while processing pages starting at the
// zero-based document offset.
func (p *progress) observe(offset int, line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLog != nil {
		p.onLog(line)
	}
	local, ok := parsePage(line)
	if !ok {
		return
	}
	page := offset + local
	if page <= p.last || (p.total > 0 && page > p.total) {
		return
	}
	p.last = page
	if p.onPage != nil {
		p.onPage(page)
	}
}

// lineFunc binds observe to a chunk offset.
func (p *progress) lineFunc(offset int) func(string) {
	return func(line string) { p.observe(offset, line) }
}
