package joiner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClassifyDistinguishesTimeoutFromNetwork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	if err := classify(ctx.Err()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("deadline exceeded should classify as timeout, got %v", err)
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, &http.Client{Timeout: time.Second})
	_, err := c.JobStatus(context.Background(), "job1")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("refused connection should classify as network error, got %v", err)
	}
}

func TestMergeSubmissionTimeoutIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &http.Client{Timeout: 50 * time.Millisecond})
	_, err := c.Merge(context.Background(), MergeRequest{SessionID: "s", Selections: []MergeSelection{{FileID: "f", Pages: []int{1}}}})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestServerErrorSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "job not found", "status_code": 404})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.JobStatus(context.Background(), "ghost")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "job not found" {
		t.Fatalf("unexpected APIError %+v", apiErr)
	}
}

func TestMergeReturnsJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/merge" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		var keys map[string]json.RawMessage
		_ = json.Unmarshal(raw, &keys)
		if _, ok := keys["selections"]; !ok {
			t.Errorf("merge body missing selections key: %s", raw)
		}
		var req MergeRequest
		_ = json.Unmarshal(raw, &req)
		if req.SessionID != "sess" || len(req.Selections) != 1 {
			t.Errorf("unexpected merge body %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-42", "status": "processing"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	jobID, err := c.Merge(context.Background(), MergeRequest{
		SessionID:  "sess",
		Selections: []MergeSelection{{FileID: "f1", Pages: []int{1, 2}}},
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if jobID != "job-42" {
		t.Fatalf("expected job-42, got %q", jobID)
	}
}

func TestPollJobStopsAtTerminalState(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "processing"
		if polls >= 3 {
			status = "completed"
		}
		_ = json.NewEncoder(w).Encode(JobSnapshot{JobID: "j", Status: status, TotalPages: 7})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	snap, err := c.PollJob(context.Background(), "j", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if snap.Status != "completed" || snap.TotalPages != 7 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if polls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls)
	}
}

func TestPollJobTreatsFailedAsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(JobSnapshot{JobID: "j", Status: "failed", Message: "merge failed"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	snap, err := c.PollJob(context.Background(), "j", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if snap.Status != "failed" {
		t.Fatalf("failed status must be terminal, got %+v", snap)
	}
}

func TestUploadRegistersFilesAndRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			// Thumbnail warm-up fetches land here too; serve them empty.
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			t.Errorf("bad multipart: %v", err)
		}
		if got := r.FormValue("session_id"); got == "" {
			t.Error("missing session_id field")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id": r.FormValue("session_id"),
			"uploaded_files": []map[string]any{
				{"file_id": "f1", "original_filename": "a.pdf", "page_count": 5, "file_size": 1000},
			},
			"errors":        []string{"b.txt: invalid file type"},
			"success_count": 1,
			"error_count":   1,
		})
	}))
	defer srv.Close()

	core := NewCore(srv.URL, nil)
	res, err := core.UploadFiles(context.Background(), []UploadInput{
		{Filename: "a.pdf", Data: strings.NewReader("%PDF-1.4 fake")},
		{Filename: "b.txt", Data: strings.NewReader("nope")},
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if res.SuccessCount != 1 || len(res.Errors) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	files := core.Selection.Files()
	if len(files) != 1 || files[0].FileID != "f1" || files[0].PageCount != 5 {
		t.Fatalf("accepted file not registered: %v", files)
	}
}
