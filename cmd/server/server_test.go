package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/go-pdf/fpdf"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ocrforge/internal/config"
	"ocrforge/internal/history"
	"ocrforge/internal/job"
	"ocrforge/internal/ocr"
)

// stubOCR copies the input through. With block set it waits for the run to
// be cancelled, as a long OCR job would.
type stubOCR struct {
	block   bool
	started chan struct{}
}

func (s *stubOCR) Execute(ctx context.Context, a ocr.Attempt, o ocr.Options, onLine func(string)) error {
	if s.block {
		close(s.started)
		<-ctx.Done()
		return &ocr.ToolError{ExitCode: 143}
	}
	onLine("INFO - 1")
	data, err := os.ReadFile(a.Input)
	if err != nil {
		return err
	}
	if err := os.WriteFile(a.Output, data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(a.Sidecar, []byte("harbour freight manifest"), 0o644)
}

func pdfBytes(t *testing.T) []byte {
	t.Helper()
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.AddPage()
	pdf.Cell(200, 20, "scan")
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestServer(t *testing.T, x ocr.Executor) (*Server, *httptest.Server) {
	t.Helper()
	store, err := history.OpenMem()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	engine := ocr.New(ocr.Config{ScratchDir: t.TempDir(), Logger: zerolog.Nop()}, ocr.WithExecutor(x), ocr.WithRasterizer(nil))
	runner := &job.Runner{Engine: engine, History: store, Log: zerolog.Nop()}
	srv := newServer(runner, config.Default(), t.TempDir(), zerolog.Nop())
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		srv.hub.closeAll()
		ts.Close()
	})
	return srv, ts
}

func upload(t *testing.T, ts *httptest.Server, name string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("files", name)
	fw.Write(pdfBytes(t))
	mw.Close()
	resp, err := http.Post(ts.URL+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct{ Count int }
	json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK || out.Count != 1 {
		t.Fatalf("upload %s: status %d, count %d", name, resp.StatusCode, out.Count)
	}
}

func postJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(v)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func waitPhase(t *testing.T, srv *Server, want string) JobStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if snap := srv.status.snapshot(); snap.Phase == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("phase never reached %q (now %q)", want, srv.status.snapshot().Phase)
	return JobStatus{}
}

// ========== Status ==========

func TestStatus_Idle(t *testing.T) {
	_, ts := newTestServer(t, &stubOCR{})
	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st JobStatus
	json.NewDecoder(resp.Body).Decode(&st)
	if st.Phase != PhaseIdle {
		t.Errorf("phase = %q, want idle", st.Phase)
	}
}

// ========== Convert ==========

func TestConvert_Validation(t *testing.T) {
	_, ts := newTestServer(t, &stubOCR{})
	if resp := postJSON(t, ts.URL+"/api/convert", ConvertRequest{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty request: %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/api/convert", ConvertRequest{Files: []string{"nope.pdf"}}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown file: %d", resp.StatusCode)
	}
	upload(t, ts, "a.pdf")
	bad := 7
	if resp := postJSON(t, ts.URL+"/api/convert", ConvertRequest{Files: []string{"a.pdf"}, Optimize: &bad}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("optimize 7: %d", resp.StatusCode)
	}
}

func TestConvert_EndToEnd(t *testing.T) {
	srv, ts := newTestServer(t, &stubOCR{})
	upload(t, ts, "manifest.pdf")

	resp := postJSON(t, ts.URL+"/api/convert", ConvertRequest{Files: []string{"manifest.pdf"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("convert: %d", resp.StatusCode)
	}
	snap := waitPhase(t, srv, PhaseDone)
	if len(snap.Results) != 1 || snap.Results[0].Output != "ocr_manifest.pdf" || snap.Results[0].Status != string(history.StatusCompleted) {
		t.Fatalf("results = %+v", snap.Results)
	}

	dl, err := http.Get(ts.URL + "/api/download?file=ocr_manifest.txt")
	if err != nil {
		t.Fatal(err)
	}
	text, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if string(text) != "harbour freight manifest" {
		t.Errorf("sidecar download = %q", text)
	}

	hr, err := http.Get(ts.URL + "/api/history?q=freight")
	if err != nil {
		t.Fatal(err)
	}
	defer hr.Body.Close()
	var entries []history.Entry
	json.NewDecoder(hr.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Filename != "manifest.pdf" {
		t.Errorf("history = %+v", entries)
	}
}

func TestConvert_BusyThenCancel(t *testing.T) {
	x := &stubOCR{block: true, started: make(chan struct{})}
	srv, ts := newTestServer(t, x)
	upload(t, ts, "long.pdf")

	if resp := postJSON(t, ts.URL+"/api/convert", ConvertRequest{Files: []string{"long.pdf"}}); resp.StatusCode != http.StatusOK {
		t.Fatalf("convert: %d", resp.StatusCode)
	}
	<-x.started
	if resp := postJSON(t, ts.URL+"/api/convert", ConvertRequest{Files: []string{"long.pdf"}}); resp.StatusCode != http.StatusConflict {
		t.Errorf("second convert: %d, want 409", resp.StatusCode)
	}
	postJSON(t, ts.URL+"/api/cancel", nil)

	snap := waitPhase(t, srv, PhaseCancelled)
	if len(snap.Results) != 1 || snap.Results[0].Status != string(history.StatusCancelled) {
		t.Errorf("results = %+v", snap.Results)
	}
	if entries, _ := srv.runner.History.Recent(5); len(entries) != 1 || entries[0].Status != history.StatusCancelled {
		t.Errorf("history = %+v", entries)
	}
}

func TestDownload_RejectsTraversal(t *testing.T) {
	srv, ts := newTestServer(t, &stubOCR{})
	secret := filepath.Join(srv.dataDir, "secret.txt")
	os.WriteFile(secret, []byte("x"), 0o644)
	resp, err := http.Get(ts.URL + "/api/download?file=../secret.txt")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("traversal status = %d, want 404", resp.StatusCode)
	}
}

// ========== Websocket ==========

func TestWebsocket_StreamsRun(t *testing.T) {
	_, ts := newTestServer(t, &stubOCR{})
	upload(t, ts, "w.pdf")

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var first event
	if err := conn.ReadJSON(&first); err != nil || first.Type != "status" || first.Status.Phase != PhaseIdle {
		t.Fatalf("first event = %+v, %v", first, err)
	}

	postJSON(t, ts.URL+"/api/convert", ConvertRequest{Files: []string{"w.pdf"}})
	seen := map[string]bool{}
	for {
		var e event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		seen[e.Type] = true
		if e.Type == "progress" && e.Page != 1 {
			t.Errorf("progress page = %d", e.Page)
		}
		if e.Type == "done" {
			if e.Status == nil || e.Status.Phase != PhaseDone {
				t.Errorf("done status = %+v", e.Status)
			}
			break
		}
	}
	for _, typ := range []string{"file", "progress", "log"} {
		if !seen[typ] {
			t.Errorf("no %q event", typ)
		}
	}
}
