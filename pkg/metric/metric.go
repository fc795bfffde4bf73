// Package metric exposes the delivery subsystem's prometheus collectors and
// the standalone metrics server.
package metric

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Delivery struct {
	WebhookDeliveries *prometheus.CounterVec
	WebhookLatency    prometheus.Histogram
	ChannelSends      *prometheus.CounterVec
	DigestFlushes     prometheus.Counter
	DedupHits         prometheus.Counter
}

func NewDelivery(reg prometheus.Registerer) *Delivery {
	factory := promauto.With(reg)
	return &Delivery{
		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempts by terminal outcome of the attempt.",
		}, []string{"status"}),
		WebhookLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Outbound webhook POST duration.",
			Buckets: prometheus.DefBuckets,
		}),
		ChannelSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_channel_sends_total",
			Help: "Channel adapter invocations by channel and outcome.",
		}, []string{"channel", "status"}),
		DigestFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "digest_flushes_total",
			Help: "Digest batches flushed.",
		}),
		DedupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "notification_dedup_hits_total",
			Help: "Notifications suppressed as duplicates.",
		}),
	}
}

type ServerConfig struct {
	Addr              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ReadHeaderTimeout time.Duration
}

// Serve runs the /metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, cfg ServerConfig, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
