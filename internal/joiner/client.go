package joiner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Sentinel errors distinguishing failure classes for user-facing messages.
// None of them triggers an automatic retry; resubmission is a fresh action.
var (
	ErrTimeout = errors.New("request timed out")
	ErrNetwork = errors.New("network unreachable")
)

// APIError is a non-2xx response decoded from the backend's error body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// classify maps transport failures onto the error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// Client calls the PDF Joiner backend.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient builds a Client against baseURL. A nil httpClient gets a client
// with a 60s overall timeout suited to merge submissions.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

// UploadInput is one file to send in an upload batch.
type UploadInput struct {
	Filename string
	Data     io.Reader
}

// UploadResult mirrors the backend's upload response.
type UploadResult struct {
	SessionID     string `json:"session_id"`
	UploadedFiles []struct {
		FileID           string `json:"file_id"`
		OriginalFilename string `json:"original_filename"`
		PageCount        int    `json:"page_count"`
		FileSize         int64  `json:"file_size"`
	} `json:"uploaded_files"`
	Errors       []string `json:"errors"`
	SuccessCount int      `json:"success_count"`
	ErrorCount   int      `json:"error_count"`
}

// Upload sends a multipart batch. Per-file rejections come back in
// UploadResult.Errors and never fail the call as a whole.
func (c *Client) Upload(ctx context.Context, sessionID string, files []UploadInput) (UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return UploadResult{}, err
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Filename)
		if err != nil {
			return UploadResult{}, err
		}
		if _, err := io.Copy(part, f.Data); err != nil {
			return UploadResult{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	// An all-rejected batch comes back 400 with the same body shape.
	if err := c.do(req, &out, http.StatusOK, http.StatusBadRequest); err != nil {
		return UploadResult{}, err
	}
	return out, nil
}

// MergeSelection names pages of one file, in output order.
type MergeSelection struct {
	FileID string `json:"file_id"`
	Pages  []int  `json:"pages"`
}

// MergeRequest is the merge submission body.
type MergeRequest struct {
	SessionID      string           `json:"session_id"`
	Selections     []MergeSelection `json:"selections"`
	OutputFilename string           `json:"output_filename,omitempty"`
	AddPageNumbers bool             `json:"add_page_numbers,omitempty"`
	WatermarkText  string           `json:"watermark_text,omitempty"`
	Password       string           `json:"password,omitempty"`
}

// Merge submits a merge and returns the job identifier to poll.
func (c *Client) Merge(ctx context.Context, req MergeRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/merge", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	hr.Header.Set("Content-Type", "application/json")

	var out struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := c.do(hr, &out, http.StatusAccepted, http.StatusOK); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// JobSnapshot is the polled state of a merge job.
type JobSnapshot struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	OutputFilename string `json:"output_filename"`
	TotalPages     int    `json:"total_pages"`
	DownloadURL    string `json:"download_url"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j JobSnapshot) Terminal() bool {
	return j.Status == "completed" || j.Status == "failed"
}

// JobStatus fetches the current snapshot for a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (JobSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/job/"+jobID+"/status", nil)
	if err != nil {
		return JobSnapshot{}, err
	}
	var out JobSnapshot
	if err := c.do(req, &out, http.StatusOK); err != nil {
		return JobSnapshot{}, err
	}
	return out, nil
}

// PollJob polls the job until it reaches a terminal state or ctx expires. A
// failed job is terminal; callers resubmit a fresh merge instead of retrying.
func (c *Client) PollJob(ctx context.Context, jobID string, interval time.Duration) (JobSnapshot, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snap, err := c.JobStatus(ctx, jobID)
		if err == nil && snap.Terminal() {
			return snap, nil
		}
		if err != nil {
			log.Debug().Err(err).Str("job_id", jobID).Msg("job poll attempt failed")
		}
		select {
		case <-ctx.Done():
			return JobSnapshot{}, classify(ctx.Err())
		case <-ticker.C:
		}
	}
}

// Download streams the merged output of a completed job. The caller closes
// the reader.
func (c *Client) Download(ctx context.Context, jobID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/download/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp.Body, nil
}

// DeleteFile removes one uploaded file from the session.
func (c *Client) DeleteFile(ctx context.Context, sessionID, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/session/"+sessionID+"/file/"+fileID, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil, http.StatusOK)
}

// CleanupSession removes every server-side resource of the session.
func (c *Client) CleanupSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/session/"+sessionID, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil, http.StatusOK)
}

// PageBatch is one batch of page metadata from the paginated listing.
type PageBatch struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	TotalPages int    `json:"total_pages"`
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
	Pages      []struct {
		PageNumber   int     `json:"page_number"`
		Width        float64 `json:"width"`
		Height       float64 `json:"height"`
		ThumbnailURL string  `json:"thumbnail_url"`
	} `json:"pages"`
}

// ListPages fetches one batch of page metadata for a file.
func (c *Client) ListPages(ctx context.Context, sessionID, fileID string, batch, perPage int) (PageBatch, error) {
	url := fmt.Sprintf("%s/pdf/%s/%s/pages?page=%d&per_page=%d", c.baseURL, sessionID, fileID, batch, perPage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PageBatch{}, err
	}
	var out PageBatch
	if err := c.do(req, &out, http.StatusOK); err != nil {
		return PageBatch{}, err
	}
	return out, nil
}

// do executes the request, classifying transport errors and decoding either
// the expected body or the backend's error shape.
func (c *Client) do(req *http.Request, out any, okStatuses ...int) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	accepted := false
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			accepted = true
			break
		}
	}
	if !accepted {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
