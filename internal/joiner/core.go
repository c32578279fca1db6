package joiner

import (
	"context"
	"fmt"
	"time"
)

// Core wires the client-side components together: one session, one selection
// store, one merge order and one prefetcher, all scoped to the same backend.
type Core struct {
	Session   *Coordinator
	Selection *SelectionStore
	Order     *Sequence
	Thumbs    *Prefetcher
	API       *Client
}

// NewCore builds a fully wired client core against baseURL. Resetting the
// session clears every other component's state.
func NewCore(baseURL string, store TokenStore) *Core {
	c := &Core{
		Session:   NewCoordinator(store),
		Selection: NewSelectionStore(),
		API:       NewClient(baseURL, nil),
		Thumbs:    NewPrefetcher(baseURL, nil, PrefetchOptions{}),
	}
	c.Order = NewSequence(c.Selection)
	c.Session.OnReset(func() {
		c.Selection.Reset()
		c.Thumbs.Reset()
	})
	return c
}

// UploadFiles sends a batch, registers the accepted files and starts warming
// their thumbnails. Per-file rejections come back for display.
func (c *Core) UploadFiles(ctx context.Context, files []UploadInput) (UploadResult, error) {
	session := c.Session.GetOrCreateSession()
	res, err := c.API.Upload(ctx, session, files)
	if err != nil {
		return UploadResult{}, err
	}
	for _, f := range res.UploadedFiles {
		c.Selection.AddFile(UploadedFile{
			FileID:           f.FileID,
			OriginalFilename: f.OriginalFilename,
			PageCount:        f.PageCount,
			FileSize:         f.FileSize,
		})
		c.Thumbs.Prefetch(session, f.FileID, f.PageCount)
	}
	return res, nil
}

// DeleteFile removes a file on the backend and locally. Dropping the
// selection re-derives the merge order, so orphaned entries disappear.
func (c *Core) DeleteFile(ctx context.Context, fileID string) error {
	session := c.Session.GetOrCreateSession()
	if err := c.API.DeleteFile(ctx, session, fileID); err != nil {
		return err
	}
	c.Selection.RemoveFile(fileID)
	c.Thumbs.Drop(fileID)
	return nil
}

// MergeOptions are the output options of a merge submission.
type MergeOptions struct {
	OutputFilename string
	AddPageNumbers bool
	WatermarkText  string
	Password       string
}

// SubmitMerge sends the current merge order to the backend and returns the
// job identifier to poll.
func (c *Core) SubmitMerge(ctx context.Context, opts MergeOptions) (string, error) {
	selections := c.Order.MergeSelections()
	if len(selections) == 0 {
		return "", fmt.Errorf("no pages selected")
	}
	return c.API.Merge(ctx, MergeRequest{
		SessionID:      c.Session.GetOrCreateSession(),
		Selections:     selections,
		OutputFilename: opts.OutputFilename,
		AddPageNumbers: opts.AddPageNumbers,
		WatermarkText:  opts.WatermarkText,
		Password:       opts.Password,
	})
}

// WaitForMerge polls the job until it finishes.
func (c *Core) WaitForMerge(ctx context.Context, jobID string, interval time.Duration) (JobSnapshot, error) {
	return c.API.PollJob(ctx, jobID, interval)
}

// NewProject cleans up the server-side session (best effort), resets all
// local state and returns the fresh session identifier.
func (c *Core) NewProject(ctx context.Context) string {
	old := c.Session.GetOrCreateSession()
	_ = c.API.CleanupSession(ctx, old)
	return c.Session.ResetSession()
}
