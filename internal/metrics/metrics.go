package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reelsave",
			Name:      "fetch_requests_total",
			Help:      "Metadata fetch requests by result",
		},
		[]string{"result"},
	)

	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reelsave",
			Name:      "downloads_total",
			Help:      "Proxied downloads by result",
		},
		[]string{"result"},
	)

	DownloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reelsave",
			Name:      "download_bytes_total",
			Help:      "Bytes streamed to clients",
		},
	)

	TokensSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reelsave",
			Name:      "tokens_swept_total",
			Help:      "Download tokens removed by the expiry sweep",
		},
	)

	TokensActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reelsave",
			Name:      "tokens_active",
			Help:      "Download tokens currently held in memory",
		},
	)
)

// RecordFetch counts a /fetch-video outcome; result is an error kind or "ok".
func RecordFetch(result string) {
	FetchRequests.WithLabelValues(result).Inc()
}

func RecordDownload(result string, bytes int64) {
	Downloads.WithLabelValues(result).Inc()
	if bytes > 0 {
		DownloadBytes.Add(float64(bytes))
	}
}
