package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfjoiner",
			Name:      "uploads_total",
			Help:      "Uploaded files by result (accepted, rejected)",
		},
		[]string{"result"},
	)

	thumbnailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfjoiner",
			Name:      "thumbnails_total",
			Help:      "Thumbnail requests by outcome (rendered, cached, failed)",
		},
		[]string{"outcome"},
	)

	thumbnailLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pdfjoiner",
			Name:      "thumbnail_render_duration_seconds",
			Help:      "Duration of thumbnail renders",
			Buckets:   prometheus.DefBuckets,
		},
	)

	mergeJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfjoiner",
			Name:      "merge_jobs_total",
			Help:      "Merge jobs by result (completed, failed)",
		},
		[]string{"result"},
	)

	mergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pdfjoiner",
			Name:      "merge_duration_seconds",
			Help:      "Duration of merge job execution",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	mergedPagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfjoiner",
			Name:      "merged_pages_total",
			Help:      "Total pages written into merged outputs",
		},
	)

	sessionsCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfjoiner",
			Name:      "sessions_cleaned_total",
			Help:      "Sessions removed by explicit cleanup or expiry sweep",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pdfjoiner",
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(uploadsTotal, thumbnailsTotal, thumbnailLatency,
		mergeJobsTotal, mergeDuration, mergedPagesTotal, sessionsCleaned, queueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncUpload(result string) { uploadsTotal.WithLabelValues(result).Inc() }

func IncThumbnail(outcome string) { thumbnailsTotal.WithLabelValues(outcome).Inc() }

func ObserveThumbnailRender(dur time.Duration) { thumbnailLatency.Observe(dur.Seconds()) }

func ObserveMerge(result string, pages int, dur time.Duration) {
	mergeJobsTotal.WithLabelValues(result).Inc()
	mergeDuration.Observe(dur.Seconds())
	if pages > 0 {
		mergedPagesTotal.Add(float64(pages))
	}
}

func IncSessionCleaned() { sessionsCleaned.Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
