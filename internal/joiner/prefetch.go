package joiner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ThumbnailState tracks one page's thumbnail lifecycle.
type ThumbnailState int

const (
	ThumbNotRequested ThumbnailState = iota
	ThumbLoading
	ThumbDone // loaded or failed, both terminal
)

// ProgressFunc reports prefetch progress for a file: done of total pages have
// reached a terminal state.
type ProgressFunc func(fileID string, done, total int)

// PrefetchOptions tunes the Prefetcher. Zero values take the defaults below.
type PrefetchOptions struct {
	BatchSize     int           // pages fetched concurrently per batch (100)
	BatchDelay    time.Duration // pause between batches (10ms)
	WarmTimeout   time.Duration // per-page timeout during background warm-up (2s)
	DemandTimeout time.Duration // per-page timeout for on-demand loads (3s)
}

// Prefetcher warms the thumbnail cache for a file's pages with bounded
// concurrency. A new Prefetch call for the same file supersedes the previous
// one: stale in-flight fetches are not aborted, their results are simply
// ignored by the bookkeeping.
type Prefetcher struct {
	client  *http.Client
	baseURL string
	opts    PrefetchOptions

	mu       sync.Mutex
	gen      map[string]uint64
	states   map[string]map[int]ThumbnailState
	progress ProgressFunc
}

// NewPrefetcher builds a Prefetcher against baseURL. A nil httpClient gets
// http.DefaultClient; per-fetch timeouts come from opts, not the client.
func NewPrefetcher(baseURL string, httpClient *http.Client, opts PrefetchOptions) *Prefetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = 10 * time.Millisecond
	}
	if opts.WarmTimeout <= 0 {
		opts.WarmTimeout = 2 * time.Second
	}
	if opts.DemandTimeout <= 0 {
		opts.DemandTimeout = 3 * time.Second
	}
	return &Prefetcher{
		client:  httpClient,
		baseURL: baseURL,
		opts:    opts,
		gen:     make(map[string]uint64),
		states:  make(map[string]map[int]ThumbnailState),
	}
}

// OnProgress registers the progress callback.
func (p *Prefetcher) OnProgress(fn ProgressFunc) {
	p.mu.Lock()
	p.progress = fn
	p.mu.Unlock()
}

// State returns the tracked state for one page.
func (p *Prefetcher) State(fileID string, page int) ThumbnailState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.states[fileID]; ok {
		return m[page]
	}
	return ThumbNotRequested
}

// Drop forgets all tracking for a file.
func (p *Prefetcher) Drop(fileID string) {
	p.mu.Lock()
	delete(p.states, fileID)
	delete(p.gen, fileID)
	p.mu.Unlock()
}

// Reset forgets all tracking.
func (p *Prefetcher) Reset() {
	p.mu.Lock()
	p.states = make(map[string]map[int]ThumbnailState)
	p.gen = make(map[string]uint64)
	p.mu.Unlock()
}

func (p *Prefetcher) thumbnailURL(sessionID, fileID string, page int) string {
	return fmt.Sprintf("%s/pdf/%s/%s/thumbnail/%d", p.baseURL, sessionID, fileID, page)
}

// Prefetch warms pages 1..pageCount of a file in the background and returns
// immediately. Failures are terminal per page and never block siblings.
func (p *Prefetcher) Prefetch(sessionID, fileID string, pageCount int) {
	if pageCount <= 0 {
		return
	}

	p.mu.Lock()
	p.gen[fileID]++
	myGen := p.gen[fileID]
	fresh := make(map[int]ThumbnailState, pageCount)
	for page := 1; page <= pageCount; page++ {
		fresh[page] = ThumbNotRequested
	}
	p.states[fileID] = fresh
	p.mu.Unlock()

	go p.run(sessionID, fileID, pageCount, myGen)
}

func (p *Prefetcher) run(sessionID, fileID string, pageCount int, myGen uint64) {
	done := 0
	for start := 1; start <= pageCount; start += p.opts.BatchSize {
		if !p.current(fileID, myGen) {
			return
		}
		end := start + p.opts.BatchSize - 1
		if end > pageCount {
			end = pageCount
		}

		var wg sync.WaitGroup
		for page := start; page <= end; page++ {
			p.setState(fileID, page, myGen, ThumbLoading)
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				p.fetchOne(sessionID, fileID, page, p.opts.WarmTimeout)
				// Terminal either way; a timed-out page renders as a
				// placeholder, never retried here.
				p.setState(fileID, page, myGen, ThumbDone)
			}(page)
		}
		wg.Wait()

		if p.current(fileID, myGen) {
			done = end
			p.report(fileID, done, pageCount)
		}
		if end < pageCount {
			time.Sleep(p.opts.BatchDelay)
		}
	}
	log.Debug().Str("file_id", fileID).Int("pages", pageCount).Msg("thumbnail prefetch finished")
}

// FetchOne loads a single thumbnail on demand with the longer timeout and
// returns the image bytes.
func (p *Prefetcher) FetchOne(ctx context.Context, sessionID, fileID string, page int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.DemandTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.thumbnailURL(sessionID, fileID, page), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("thumbnail fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// fetchOne issues one warm-up fetch, draining the body to populate the cache.
func (p *Prefetcher) fetchOne(sessionID, fileID string, page int, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.thumbnailURL(sessionID, fileID, page), nil)
	if err != nil {
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
}

func (p *Prefetcher) current(fileID string, myGen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen[fileID] == myGen
}

func (p *Prefetcher) setState(fileID string, page int, myGen uint64, st ThumbnailState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen[fileID] != myGen {
		return
	}
	if m, ok := p.states[fileID]; ok {
		m[page] = st
	}
}

func (p *Prefetcher) report(fileID string, done, total int) {
	p.mu.Lock()
	fn := p.progress
	p.mu.Unlock()
	if fn != nil {
		fn(fileID, done, total)
	}
}
