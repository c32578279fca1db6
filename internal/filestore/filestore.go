// Package filestore tracks uploaded PDFs per session: bytes on disk under a
// session folder, metadata in Redis hashes with a per-session insertion-order
// list. Metadata lost to a restart is restored from the filesystem on demand.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfjoiner/internal/pdf"
)

// FileMeta describes one uploaded PDF.
type FileMeta struct {
	FileID           string    `json:"file_id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	PageCount        int       `json:"page_count"`
	FileSize         int64     `json:"file_size"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// Store manages session file metadata and the upload folder tree.
type Store struct {
	client    *redis.Client
	uploadDir string
	ttl       time.Duration
}

// New connects to Redis and returns a Store rooted at uploadDir. Metadata keys
// expire after ttl; the on-disk sweep is separate (SweepExpired).
func New(redisURL, uploadDir string, ttl time.Duration) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: c, uploadDir: uploadDir, ttl: ttl}, nil
}

func (s *Store) Close() error { return s.client.Close() }

// Ping checks redis connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) filesKey(sessionID string) string { return "session:" + sessionID + ":files" }
func (s *Store) orderKey(sessionID string) string { return "session:" + sessionID + ":order" }

// SessionDir returns the upload folder for a session, creating it if needed.
func (s *Store) SessionDir(sessionID string) (string, error) {
	dir := filepath.Join(s.uploadDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// Path returns the storage path for a file within its session folder.
func (s *Store) Path(sessionID string, meta FileMeta) string {
	return filepath.Join(s.uploadDir, sessionID, meta.FileID+"_"+meta.Filename)
}

// Add registers an uploaded file's metadata, preserving insertion order.
func (s *Store) Add(ctx context.Context, sessionID string, meta FileMeta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.filesKey(sessionID), meta.FileID, string(b))
	pipe.RPush(ctx, s.orderKey(sessionID), meta.FileID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.filesKey(sessionID), s.ttl)
		pipe.Expire(ctx, s.orderKey(sessionID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns metadata for one file. When Redis has no record (server restart),
// the session folder is scanned and the record rebuilt from the PDF itself.
func (s *Store) Get(ctx context.Context, sessionID, fileID string) (FileMeta, bool, error) {
	res, err := s.client.HGet(ctx, s.filesKey(sessionID), fileID).Result()
	if err == nil {
		var meta FileMeta
		if uerr := json.Unmarshal([]byte(res), &meta); uerr == nil {
			return meta, true, nil
		}
	} else if err != redis.Nil {
		return FileMeta{}, false, err
	}
	return s.restoreFromDisk(ctx, sessionID, fileID)
}

// List returns all files of a session in upload order. When the order list is
// gone (Redis restart or outage) the session folder on disk is the fallback
// source and the listing is rebuilt from it.
func (s *Store) List(ctx context.Context, sessionID string) ([]FileMeta, error) {
	ids, err := s.client.LRange(ctx, s.orderKey(sessionID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("list: order lookup failed, scanning disk")
		ids = nil
	}
	if len(ids) == 0 {
		return s.listFromDisk(ctx, sessionID)
	}
	out := make([]FileMeta, 0, len(ids))
	for _, id := range ids {
		meta, ok, err := s.Get(ctx, sessionID, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, meta)
		}
	}
	return out, nil
}

// listFromDisk rebuilds a session's listing from its upload folder, ordered by
// modification time. Filenames carry the file id as a {fileID}_{name} prefix,
// so the folder alone is enough to reconstruct every record.
func (s *Store) listFromDisk(ctx context.Context, sessionID string) ([]FileMeta, error) {
	entries, err := os.ReadDir(filepath.Join(s.uploadDir, sessionID))
	if err != nil {
		return []FileMeta{}, nil
	}
	type candidate struct {
		id  string
		mod time.Time
	}
	var found []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		i := strings.Index(name, "_")
		if i <= 0 || !strings.EqualFold(filepath.Ext(name), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{id: name[:i], mod: info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.Before(found[j].mod) })

	out := make([]FileMeta, 0, len(found))
	for _, c := range found {
		meta, ok, err := s.restoreFromDisk(ctx, sessionID, c.id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, meta)
		}
	}
	return out, nil
}

// Delete removes a file's metadata and bytes. Returns false if unknown.
func (s *Store) Delete(ctx context.Context, sessionID, fileID string) (bool, error) {
	meta, ok, err := s.Get(ctx, sessionID, fileID)
	if err != nil || !ok {
		return false, err
	}
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.filesKey(sessionID), fileID)
	pipe.LRem(ctx, s.orderKey(sessionID), 0, fileID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if err := os.Remove(s.Path(sessionID, meta)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file_id", fileID).Msg("failed to remove uploaded file")
	}
	return true, nil
}

// DropSession removes all metadata and the session's upload folder.
func (s *Store) DropSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.filesKey(sessionID), s.orderKey(sessionID)).Err(); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.uploadDir, sessionID))
}

// restoreFromDisk rebuilds metadata for a file found in the session folder.
// Mirrors the behaviour wanted after a restart: the bytes survive, Redis not.
func (s *Store) restoreFromDisk(ctx context.Context, sessionID, fileID string) (FileMeta, bool, error) {
	matches, err := filepath.Glob(filepath.Join(s.uploadDir, sessionID, fileID+"_*"))
	if err != nil || len(matches) == 0 {
		return FileMeta{}, false, nil
	}
	path := matches[0]
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return FileMeta{}, false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, false, nil
	}
	pages, err := pdf.PageCount(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("restore: page count failed")
		return FileMeta{}, false, nil
	}
	filename := strings.TrimPrefix(filepath.Base(path), fileID+"_")
	meta := FileMeta{
		FileID:           fileID,
		Filename:         filename,
		OriginalFilename: filename,
		PageCount:        pages,
		FileSize:         info.Size(),
		UploadedAt:       info.ModTime(),
	}
	if err := s.Add(ctx, sessionID, meta); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("restore: re-add metadata failed")
	}
	log.Info().Str("session", sessionID).Str("file_id", fileID).Msg("restored file metadata from disk")
	return meta, true, nil
}

// SweepExpired removes session folders under roots whose contents are older
// than maxAge. Returns the number of session folders removed.
func SweepExpired(maxAge time.Duration, roots ...string) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.RemoveAll(filepath.Join(root, e.Name())); err == nil {
					removed++
				}
			}
		}
	}
	return removed
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidID rejects identifiers that could escape the session folder tree.
func ValidID(id string) bool {
	return id != "" && len(id) <= 128 && idPattern.MatchString(id) && !strings.Contains(id, "..")
}
