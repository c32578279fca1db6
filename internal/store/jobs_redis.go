package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Job status values. A failed job is terminal; the client resubmits a new merge.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job is the polled snapshot of a merge job.
type Job struct {
	SessionID      string     `json:"session_id"`
	Status         string     `json:"status"`
	Message        string     `json:"message"`
	OutputFilename string     `json:"output_filename"`
	OutputPath     string     `json:"output_path"`
	TotalPages     int        `json:"total_pages"`
	Start          *time.Time `json:"start_time,omitempty"`
	End            *time.Time `json:"end_time,omitempty"`
}

// RedisJobs stores merge job state in per-job Redis hashes.
type RedisJobs struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobs connects to Redis. Job keys expire after ttl (0 = no expiry).
func NewRedisJobs(redisURL string, ttl time.Duration) (*RedisJobs, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisJobs{client: c, ttl: ttl}, nil
}

func (s *RedisJobs) Close() error { return s.client.Close() }

func (s *RedisJobs) key(jobID string) string { return fmt.Sprintf("job:%s:status", jobID) }

// Set overwrites the stored snapshot for jobID.
func (s *RedisJobs) Set(ctx context.Context, jobID string, j Job) error {
	m := map[string]interface{}{
		"session_id":      j.SessionID,
		"status":          j.Status,
		"message":         j.Message,
		"output_filename": j.OutputFilename,
		"output_path":     j.OutputPath,
		"total_pages":     j.TotalPages,
	}
	if j.Start != nil {
		m["start"] = j.Start.Format(time.RFC3339Nano)
	}
	if j.End != nil {
		m["end"] = j.End.Format(time.RFC3339Nano)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(jobID), m)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(jobID), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the snapshot for jobID; ok is false when the job is unknown.
func (s *RedisJobs) Get(ctx context.Context, jobID string) (Job, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(res) == 0 {
		return Job{}, false, nil
	}
	j := Job{
		SessionID:      res["session_id"],
		Status:         res["status"],
		Message:        res["message"],
		OutputFilename: res["output_filename"],
		OutputPath:     res["output_path"],
	}
	if v := res["total_pages"]; v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			j.TotalPages = n
		}
	}
	if v := res["start"]; v != "" {
		if t, terr := time.Parse(time.RFC3339Nano, v); terr == nil {
			j.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, terr := time.Parse(time.RFC3339Nano, v); terr == nil {
			j.End = &t
		}
	}
	return j, true, nil
}
