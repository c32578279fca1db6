package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfjoiner/internal/archive"
	cfgpkg "github.com/local/pdfjoiner/internal/config"
	"github.com/local/pdfjoiner/internal/filestore"
	"github.com/local/pdfjoiner/internal/filetype"
	logpkg "github.com/local/pdfjoiner/internal/logger"
	"github.com/local/pdfjoiner/internal/metrics"
	"github.com/local/pdfjoiner/internal/queue"
	"github.com/local/pdfjoiner/internal/ratelimit"
	"github.com/local/pdfjoiner/internal/server"
	"github.com/local/pdfjoiner/internal/statuscheck"
	"github.com/local/pdfjoiner/internal/store"
	"github.com/local/pdfjoiner/internal/thumbnail"
	web "github.com/local/pdfjoiner/internal/web"
	"github.com/local/pdfjoiner/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	for _, dir := range []string{cfg.Upload.UploadDir, cfg.Upload.ThumbnailDir, cfg.Upload.MergedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create storage dir")
		}
	}

	files, err := filestore.New(cfg.Queue.RedisURL, cfg.Upload.UploadDir, cfg.Session.TTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init file store")
	}
	defer files.Close()

	jobs, err := store.NewRedisJobs(cfg.Queue.RedisURL, cfg.Session.TTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init job store")
	}
	defer jobs.Close()

	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis queue")
	}
	defer rq.Close()

	limiter, err := ratelimit.New(ratelimit.Options{
		RedisURL: cfg.Queue.RedisURL,
		Limit:    cfg.Upload.RatePerSession,
		Window:   cfg.Upload.RateWindow,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init rate limiter")
	}
	defer limiter.Close()

	thumbs := thumbnail.New(cfg.Upload.ThumbnailDir, cfg.Thumbnail.DPI, cfg.Thumbnail.Quality)

	var archiver worker.Archiver
	if cfg.Archive.S3Bucket != "" {
		ac, aerr := archive.New(context.Background(), cfg.Archive.S3Bucket, cfg.Archive.Prefix)
		if aerr != nil {
			log.Warn().Err(aerr).Msg("archive disabled, S3 client init failed")
		} else {
			archiver = ac
		}
	}

	checker := statuscheck.New(statuscheck.Options{
		Redis:     rq,
		S3Bucket:  cfg.Archive.S3Bucket,
		UploadDir: cfg.Upload.UploadDir,
	})

	srvDeps := server.Dependencies{
		Files:    files,
		Jobs:     jobs,
		Queue:    rq,
		Thumbs:   thumbs,
		Limiter:  limiter,
		Detector: filetype.New(),
		Health:   checker,
	}
	api := server.New(cfg, srvDeps)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())
	web.New("").RegisterRoutes(mux)

	// Merge workers (optional, enabled by default)
	runWorker := os.Getenv("RUN_WORKER")
	if runWorker == "" || runWorker == "1" || runWorker == "true" {
		w := worker.New(worker.Config{
			Concurrency: cfg.Worker.Concurrency,
			JobTimeout:  cfg.Worker.JobTimeout,
			MergedDir:   cfg.Upload.MergedDir,
		}, rq, files, jobs, thumbs, archiver)
		w.Start()
		defer w.Stop(context.Background())
	}

	stopBg := make(chan struct{})
	go sweepLoop(cfg, stopBg)
	go depthLoop(rq, stopBg)
	defer close(stopBg)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}

// sweepLoop removes session folders whose contents outlived the session TTL.
// Backstop for expiry messages lost to Redis restarts.
func sweepLoop(cfg cfgpkg.Config, stop <-chan struct{}) {
	ticker := time.NewTicker(cfg.Session.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n := filestore.SweepExpired(cfg.Session.TTL,
				cfg.Upload.UploadDir, cfg.Upload.ThumbnailDir, cfg.Upload.MergedDir)
			if n > 0 {
				log.Info().Int("sessions", n).Msg("swept expired session folders")
			}
		}
	}
}

func depthLoop(rq *queue.RedisQueue, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			stream, delayed, dlq, err := rq.Depths(ctx)
			cancel()
			if err != nil {
				continue
			}
			metrics.SetQueueDepth("stream", stream)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}
}
