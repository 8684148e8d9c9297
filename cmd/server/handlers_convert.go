package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ocrforge/internal/document"
	"ocrforge/internal/history"
	"ocrforge/internal/job"
	"ocrforge/internal/ocr"
)

// ========== Upload ==========

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		jsonErr(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		jsonErr(w, "No files uploaded", http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(s.uploadsDir(), 0o755); err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var saved []string
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		if strings.ToLower(filepath.Ext(name)) != ".pdf" {
			continue
		}
		src, err := fh.Open()
		if err != nil {
			continue
		}
		dst, err := os.Create(filepath.Join(s.uploadsDir(), name))
		if err != nil {
			src.Close()
			continue
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("upload not saved")
			continue
		}
		saved = append(saved, name)
	}
	jsonResp(w, map[string]interface{}{
		"uploaded": saved,
		"count":    len(saved),
	})
}

// ========== Convert ==========

// ConvertRequest names uploaded files and overrides profile settings. Unset
// fields keep the profile's values.
type ConvertRequest struct {
	Files      []string `json:"files"`
	Password   string   `json:"password,omitempty"`
	Force      *bool    `json:"force,omitempty"`
	Languages  []string `json:"languages,omitempty"`
	Deskew     *bool    `json:"deskew,omitempty"`
	Clean      *bool    `json:"clean,omitempty"`
	Rotate     *bool    `json:"rotate,omitempty"`
	Optimize   *int     `json:"optimize,omitempty"`
	UseGPU     *bool    `json:"use_gpu,omitempty"`
	Rasterize  *bool    `json:"rasterize,omitempty"`
	DPI        *int     `json:"dpi,omitempty"`
	NoSanitize *bool    `json:"no_sanitize_fallback,omitempty"`
}

func (req ConvertRequest) options(s *Server) (ocr.Options, bool) {
	p := s.profile
	if len(req.Languages) > 0 {
		p.Languages = req.Languages
	}
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.Force, req.Force)
	set(&p.Deskew, req.Deskew)
	set(&p.Clean, req.Clean)
	set(&p.Rotate, req.Rotate)
	set(&p.UseGPU, req.UseGPU)
	set(&p.Rasterize, req.Rasterize)
	set(&p.NoSanitize, req.NoSanitize)
	if req.Optimize != nil {
		p.Optimize = *req.Optimize
	}
	if req.DPI != nil {
		p.DPI = *req.DPI
	}
	return p.Options(), p.Force
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Files) == 0 {
		jsonErr(w, "files is required", http.StatusBadRequest)
		return
	}
	var paths []string
	for _, name := range req.Files {
		p := filepath.Join(s.uploadsDir(), filepath.Base(name))
		if _, err := os.Stat(p); err != nil {
			jsonErr(w, "File not found: "+name, http.StatusNotFound)
			return
		}
		paths = append(paths, p)
	}
	opts, force := req.options(s)
	if err := opts.Validate(); err != nil {
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !s.status.begin(len(paths)) {
		jsonErr(w, "A conversion is already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		s.runConversion(ctx, paths, req.Password, force, opts)
	}()

	jsonResp(w, map[string]string{"status": "started"})
}

func (s *Server) runConversion(ctx context.Context, paths []string, password string, force bool, opts ocr.Options) {
	passwordFor := func(path string) (string, error) {
		if password != "" {
			return password, nil
		}
		return s.profile.PasswordFor(path)
	}
	onFile := func(i, n int, path string) {
		pw, _ := passwordFor(path)
		pages := document.Inspect(path, pw).PageCount
		name := filepath.Base(path)
		s.status.update(func(st *JobStatus) {
			st.File, st.Page, st.Pages, st.FilesDone = name, 0, pages, i
		})
		s.hub.broadcast(event{Type: "file", File: name, Pages: pages})
	}
	onProgress := func(path string, page int) {
		s.status.update(func(st *JobStatus) { st.Page = page })
		s.hub.broadcast(event{Type: "progress", File: filepath.Base(path), Page: page})
	}
	onLog := func(line string) {
		s.hub.broadcast(event{Type: "log", Line: line})
	}

	if err := os.MkdirAll(s.outputsDir(), 0o755); err != nil {
		s.finish(nil, err)
		return
	}

	var reports []job.Report
	var err error
	if len(paths) == 1 {
		in := paths[0]
		onFile(0, 1, in)
		pw, _ := passwordFor(in)
		rep := s.runner.Convert(ctx, job.Spec{
			Input:      in,
			Output:     job.OutputFor(s.outputsDir(), in),
			Password:   pw,
			Force:      force,
			Options:    opts,
			OnProgress: func(page int) { onProgress(in, page) },
			OnLog:      onLog,
		})
		reports = []job.Report{rep}
	} else {
		reports, err = s.runner.RunBatch(ctx, job.Batch{
			Files:      paths,
			OutDir:     s.outputsDir(),
			Force:      force,
			Options:    opts,
			Password:   passwordFor,
			OnFile:     onFile,
			OnProgress: onProgress,
			OnLog:      onLog,
		})
	}
	s.finish(reports, err)
}

// finish publishes the terminal job status. The cancel hook is dropped first
// so a job started right after cannot be cancelled through a stale one.
func (s *Server) finish(reports []job.Report, err error) {
	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()

	phase := PhaseDone
	var msg string
	results := make([]FileResult, 0, len(reports))
	for _, r := range reports {
		fr := FileResult{Name: filepath.Base(r.Input), Status: string(r.Status)}
		switch {
		case r.Err == nil:
			fr.Output = filepath.Base(r.Output)
		case r.Status == history.StatusCancelled:
			phase = PhaseCancelled
			fr.Error = r.Err.Error()
		default:
			if phase == PhaseDone {
				phase = PhaseError
			}
			fr.Error = r.Err.Error()
			msg = fr.Error
		}
		results = append(results, fr)
	}
	if err != nil {
		phase, msg = PhaseError, err.Error()
	}
	s.status.update(func(st *JobStatus) {
		st.Phase = phase
		st.FilesDone = len(reports)
		st.Results = results
		st.Error = msg
	})
	snap := s.status.snapshot()
	s.hub.broadcast(event{Type: "done", Status: &snap})
	s.log.Info().Str("phase", phase).Int("files", len(reports)).Msg("conversion finished")
}

// ========== Cancel / Status ==========

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		jsonResp(w, map[string]string{"status": PhaseIdle})
		return
	}
	cancel()
	s.runner.Engine.Cancel()
	s.log.Info().Msg("conversion cancel requested by user")
	jsonResp(w, map[string]string{"status": "cancelling"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonResp(w, s.status.snapshot())
}

// ========== History / Download ==========

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runner.History == nil {
		jsonErr(w, "History is unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > history.Limit {
		limit = history.Limit
	}
	entries, err := s.runner.History.Search(r.URL.Query().Get("q"), limit)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, entries)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := filepath.Base(r.URL.Query().Get("file"))
	if name == "." || name == string(filepath.Separator) {
		jsonErr(w, "file is required", http.StatusBadRequest)
		return
	}
	path := filepath.Join(s.outputsDir(), name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		jsonErr(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}
