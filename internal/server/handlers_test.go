package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/local/pdfjoiner/internal/config"
	"github.com/local/pdfjoiner/internal/filestore"
	"github.com/local/pdfjoiner/internal/store"
	"github.com/local/pdfjoiner/internal/worker"
)

type fakeFiles struct {
	mu    sync.Mutex
	dir   string
	files map[string]map[string]filestore.FileMeta
	order map[string][]string
}

func newFakeFiles(dir string) *fakeFiles {
	return &fakeFiles{
		dir:   dir,
		files: map[string]map[string]filestore.FileMeta{},
		order: map[string][]string{},
	}
}

func (f *fakeFiles) SessionDir(sessionID string) (string, error) {
	dir := filepath.Join(f.dir, sessionID)
	return dir, os.MkdirAll(dir, 0o755)
}

func (f *fakeFiles) Path(sessionID string, meta filestore.FileMeta) string {
	return filepath.Join(f.dir, sessionID, meta.FileID+"_"+meta.Filename)
}

func (f *fakeFiles) Add(ctx context.Context, sessionID string, meta filestore.FileMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[sessionID] == nil {
		f.files[sessionID] = map[string]filestore.FileMeta{}
	}
	f.files[sessionID][meta.FileID] = meta
	f.order[sessionID] = append(f.order[sessionID], meta.FileID)
	return nil
}

func (f *fakeFiles) Get(ctx context.Context, sessionID, fileID string) (filestore.FileMeta, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.files[sessionID][fileID]
	return meta, ok, nil
}

func (f *fakeFiles) List(ctx context.Context, sessionID string) ([]filestore.FileMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []filestore.FileMeta
	for _, id := range f.order[sessionID] {
		out = append(out, f.files[sessionID][id])
	}
	return out, nil
}

func (f *fakeFiles) Delete(ctx context.Context, sessionID, fileID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[sessionID][fileID]; !ok {
		return false, nil
	}
	delete(f.files[sessionID], fileID)
	return true, nil
}

func (f *fakeFiles) DropSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, sessionID)
	delete(f.order, sessionID)
	return nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]store.Job
}

func (f *fakeJobs) Set(ctx context.Context, jobID string, j store.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs == nil {
		f.jobs = map[string]store.Job{}
	}
	f.jobs[jobID] = j
	return nil
}

func (f *fakeJobs) Get(ctx context.Context, jobID string) (store.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	return j, ok, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads [][]byte
	delayed  [][]byte
}

func (f *fakeQueue) Enqueue(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeQueue) EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed = append(f.delayed, payload)
	return nil
}

type fakeThumbs struct {
	mu           sync.Mutex
	path         string
	droppedFiles []string
	droppedSess  []string
}

func (f *fakeThumbs) Get(sessionID, fileID, pdfPath string, pageNum int) (string, error) {
	return f.path, nil
}

func (f *fakeThumbs) DropFile(sessionID, fileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.droppedFiles = append(f.droppedFiles, fileID)
}

func (f *fakeThumbs) DropSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.droppedSess = append(f.droppedSess, sessionID)
}

type env struct {
	srv    *httptest.Server
	files  *fakeFiles
	jobs   *fakeJobs
	queue  *fakeQueue
	thumbs *fakeThumbs
	cfg    config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()

	thumbPath := filepath.Join(dir, "thumb.jpg")
	if err := os.WriteFile(thumbPath, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{}
	cfg.Upload.MaxFileSize = 1 << 20
	cfg.Upload.MaxFilesPerReq = 3
	cfg.Upload.MergedDir = filepath.Join(dir, "merged")
	cfg.Thumbnail.MaxPreviewPages = 100
	cfg.Session.TTL = time.Hour

	e := &env{
		files:  newFakeFiles(filepath.Join(dir, "uploads")),
		jobs:   &fakeJobs{},
		queue:  &fakeQueue{},
		thumbs: &fakeThumbs{path: thumbPath},
		cfg:    cfg,
	}
	s := New(cfg, Dependencies{
		Files:  e.files,
		Jobs:   e.jobs,
		Queue:  e.queue,
		Thumbs: e.thumbs,
	})
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	e.srv = httptest.NewServer(mux)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) addFile(t *testing.T, sessionID, fileID string, pages int) {
	t.Helper()
	err := e.files.Add(context.Background(), sessionID, filestore.FileMeta{
		FileID:    fileID,
		Filename:  fileID + ".pdf",
		PageCount: pages,
		FileSize:  2048,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestThumbnailPageValidation(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "sess1", "f1", 5)

	cases := []struct {
		page string
		want int
	}{
		{"0", http.StatusBadRequest},
		{"-3", http.StatusBadRequest},
		{"abc", http.StatusBadRequest},
		{"6", http.StatusNotFound},
		{"5", http.StatusOK},
	}
	for _, c := range cases {
		resp, err := http.Get(e.srv.URL + "/pdf/sess1/f1/thumbnail/" + c.page)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.want {
			t.Errorf("page %q: got %d, want %d", c.page, resp.StatusCode, c.want)
		}
	}
}

func TestThumbnailUnknownFile(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/pdf/sess1/ghost/thumbnail/1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown file, got %d", resp.StatusCode)
	}
}

func TestMergeValidation(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "sess1", "f1", 3)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"no selections", map[string]any{"session_id": "sess1", "selections": []any{}}, http.StatusBadRequest},
		{"unknown file", map[string]any{"session_id": "sess1", "selections": []map[string]any{{"file_id": "ghost", "pages": []int{1}}}}, http.StatusNotFound},
		{"empty pages", map[string]any{"session_id": "sess1", "selections": []map[string]any{{"file_id": "f1", "pages": []int{}}}}, http.StatusBadRequest},
		{"page out of range", map[string]any{"session_id": "sess1", "selections": []map[string]any{{"file_id": "f1", "pages": []int{4}}}}, http.StatusBadRequest},
		{"page zero", map[string]any{"session_id": "sess1", "selections": []map[string]any{{"file_id": "f1", "pages": []int{0}}}}, http.StatusBadRequest},
	}
	for _, c := range cases {
		resp := doJSON(t, http.MethodPost, e.srv.URL+"/merge", c.body)
		resp.Body.Close()
		if resp.StatusCode != c.want {
			t.Errorf("%s: got %d, want %d", c.name, resp.StatusCode, c.want)
		}
	}
	if len(e.queue.payloads) != 0 {
		t.Fatalf("rejected merges must not enqueue, got %d payloads", len(e.queue.payloads))
	}
}

func TestMergeAcceptsAndEnqueues(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "sess1", "f1", 3)
	e.addFile(t, "sess1", "f2", 2)

	body := map[string]any{
		"session_id": "sess1",
		"selections": []map[string]any{
			{"file_id": "f1", "pages": []int{1, 3}},
			{"file_id": "f2", "pages": []int{2}},
		},
		"output_filename":  "combined",
		"add_page_numbers": true,
		"watermark_text":   "DRAFT",
	}
	resp := doJSON(t, http.MethodPost, e.srv.URL+"/merge", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var out struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.JobID == "" || out.Status != store.StatusProcessing {
		t.Fatalf("unexpected response %+v", out)
	}

	job, ok, _ := e.jobs.Get(context.Background(), out.JobID)
	if !ok || job.Status != store.StatusProcessing {
		t.Fatalf("job not recorded as processing: %+v", job)
	}
	if job.OutputFilename != "combined.pdf" {
		t.Fatalf("expected .pdf suffix added, got %q", job.OutputFilename)
	}

	if len(e.queue.payloads) != 1 {
		t.Fatalf("expected 1 enqueued payload, got %d", len(e.queue.payloads))
	}
	var p worker.Payload
	if err := json.Unmarshal(e.queue.payloads[0], &p); err != nil {
		t.Fatal(err)
	}
	if p.Kind != worker.KindMerge || p.JobID != out.JobID || len(p.Selections) != 2 {
		t.Fatalf("unexpected payload %+v", p)
	}
	if p.WatermarkText != "DRAFT" || !p.AddPageNumbers {
		t.Fatalf("output options lost: %+v", p)
	}
}

func TestJobStatusLifecycle(t *testing.T) {
	e := newEnv(t)

	resp, _ := http.Get(e.srv.URL + "/job/ghost/status")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job: got %d, want 404", resp.StatusCode)
	}

	now := time.Now()
	_ = e.jobs.Set(context.Background(), "job1", store.Job{
		SessionID:      "sess1",
		Status:         store.StatusCompleted,
		OutputFilename: "out.pdf",
		TotalPages:     9,
		Start:          &now,
	})
	resp, err := http.Get(e.srv.URL + "/job/job1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != store.StatusCompleted || out.TotalPages != 9 {
		t.Fatalf("unexpected status body %+v", out)
	}
	if out.DownloadURL != "/download/job1" {
		t.Fatalf("expected download url for completed job, got %q", out.DownloadURL)
	}
}

func TestJobStatusRestoresFromDisk(t *testing.T) {
	e := newEnv(t)

	dir := filepath.Join(e.cfg.Upload.MergedDir, "sess1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// A surviving merged output with no Redis record, as after a restart.
	if err := os.WriteFile(filepath.Join(dir, "job9_out.pdf"), []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(e.srv.URL + "/job/job9/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected restore to succeed, got %d", resp.StatusCode)
	}
	var out jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != store.StatusCompleted || out.OutputFilename != "out.pdf" {
		t.Fatalf("unexpected restored job %+v", out)
	}
	if _, ok, _ := e.jobs.Get(context.Background(), "job9"); !ok {
		t.Fatal("restored job was not re-recorded")
	}
}

func TestDownloadRequiresCompletedJob(t *testing.T) {
	e := newEnv(t)
	_ = e.jobs.Set(context.Background(), "job1", store.Job{Status: store.StatusProcessing})

	resp, _ := http.Get(e.srv.URL + "/download/job1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("processing job download: got %d, want 409", resp.StatusCode)
	}

	out := filepath.Join(e.cfg.Upload.MergedDir, "sess1")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(out, "job2_final.pdf")
	if err := os.WriteFile(path, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = e.jobs.Set(context.Background(), "job2", store.Job{
		Status:         store.StatusCompleted,
		OutputFilename: "final.pdf",
		OutputPath:     path,
	})
	resp, err := http.Get(e.srv.URL + "/download/job2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("completed job download: got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "final.pdf") {
		t.Fatalf("expected attachment disposition, got %q", cd)
	}
}

func TestDeleteFile(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "sess1", "f1", 2)

	req, _ := http.NewRequest(http.MethodDelete, e.srv.URL+"/session/sess1/file/ghost", nil)
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown file delete: got %d, want 404", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, e.srv.URL+"/session/sess1/file/f1", nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: got %d", resp.StatusCode)
	}
	if len(e.thumbs.droppedFiles) != 1 || e.thumbs.droppedFiles[0] != "f1" {
		t.Fatalf("thumbnails not dropped: %v", e.thumbs.droppedFiles)
	}
	if _, ok, _ := e.files.Get(context.Background(), "sess1", "f1"); ok {
		t.Fatal("file still present after delete")
	}
}

func TestCleanupSession(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "sess1", "f1", 2)

	req, _ := http.NewRequest(http.MethodDelete, e.srv.URL+"/session/sess1", nil)
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cleanup: got %d", resp.StatusCode)
	}
	if list, _ := e.files.List(context.Background(), "sess1"); len(list) != 0 {
		t.Fatalf("files survived cleanup: %v", list)
	}
	if len(e.thumbs.droppedSess) != 1 {
		t.Fatalf("thumbnails not dropped: %v", e.thumbs.droppedSess)
	}
}

func TestListFiles(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "sess1", "f1", 2)
	e.addFile(t, "sess1", "f2", 7)

	resp, err := http.Get(e.srv.URL + "/session/sess1/files")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Files []uploadedFile `json:"files"`
		Count int            `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 2 || out.Files[0].FileID != "f1" || out.Files[1].FileID != "f2" {
		t.Fatalf("unexpected listing %+v", out)
	}
	if out.Files[0].FileSizeFormatted != "2.0 KB" {
		t.Fatalf("expected formatted size, got %q", out.Files[0].FileSizeFormatted)
	}
}

func TestUploadRejectsBadBatches(t *testing.T) {
	e := newEnv(t)

	// No files at all.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("session_id", "sess1")
	_ = mw.Close()
	resp, _ := http.Post(e.srv.URL+"/upload", mw.FormDataContentType(), &body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty batch: got %d, want 400", resp.StatusCode)
	}

	// Too many files for one request.
	body.Reset()
	mw = multipart.NewWriter(&body)
	_ = mw.WriteField("session_id", "sess1")
	for i := 0; i < e.cfg.Upload.MaxFilesPerReq+1; i++ {
		fw, _ := mw.CreateFormFile("files", fmt.Sprintf("doc%d.pdf", i))
		_, _ = fw.Write([]byte("%PDF-fake"))
	}
	_ = mw.Close()
	resp, _ = http.Post(e.srv.URL+"/upload", mw.FormDataContentType(), &body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized batch: got %d, want 400", resp.StatusCode)
	}
}

func TestUploadRejectsNonPDFPerFile(t *testing.T) {
	e := newEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("session_id", "sess1")
	fw, _ := mw.CreateFormFile("files", "notes.txt")
	_, _ = fw.Write([]byte("plain text"))
	_ = mw.Close()

	resp, err := http.Post(e.srv.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	// Every file rejected: the batch reports 400 with per-file errors.
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", resp.StatusCode)
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.ErrorCount != 1 || len(out.Errors) != 1 || !strings.Contains(out.Errors[0], "notes.txt") {
		t.Fatalf("unexpected rejection body %+v", out)
	}
}

func TestPathsRejectTraversal(t *testing.T) {
	e := newEnv(t)
	resp, _ := http.Get(e.srv.URL + "/session/bad%2F..%2Fid/files")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		t.Fatalf("traversal id: got %d", resp.StatusCode)
	}
}
