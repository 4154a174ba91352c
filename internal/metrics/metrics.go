// Package metrics holds the Prometheus collectors of the mail pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dispatchmail"

// Registry holds every collector of this package plus the Go runtime
// collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	MessagesFetched = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_fetched_total",
		Help:      "Messages fetched from the mailbox.",
	})
	MessagesWithoutText = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_without_text_total",
		Help:      "Fetched messages that had no usable text part.",
	})
	FetchFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Fetch requests that failed and were retried on the next cycle.",
	})
	WaitFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wait_failures_total",
		Help:      "Failed idle or poll waits by kind (init, lost).",
	}, []string{"kind"})
	SessionReconnects = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_reconnects_total",
		Help:      "Full mailbox session reconnects.",
	})
	Dispatches = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatches_total",
		Help:      "Parsed dispatches handed to the renderer, by completeness.",
	}, []string{"complete"})
	Duplicates = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_total",
		Help:      "Re-delivered messages that were skipped.",
	})
	ParseFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_failures_total",
		Help:      "Messages that did not contain any dispatch field.",
	})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Serve exposes the registry on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
