// Package forwarder drives the mailbox engine and turns every new dispatch
// mail into a rendered record.
package forwarder

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tracyhatemice/dispatchmail/internal/dedup"
	"github.com/tracyhatemice/dispatchmail/internal/dispatch"
	"github.com/tracyhatemice/dispatchmail/internal/legacytext"
	"github.com/tracyhatemice/dispatchmail/internal/mailbox"
	"github.com/tracyhatemice/dispatchmail/internal/metrics"
)

// Source is the mailbox engine as seen by the driver. *mailbox.Syncer
// implements it.
type Source interface {
	Connect(ctx context.Context) error
	AwaitAndFetch(ctx context.Context) ([]mailbox.Delivery, error)
	End()
}

// Renderer turns a parsed dispatch into its printed form.
type Renderer interface {
	Render(ctx context.Context, rec *dispatch.Record, copies int) error
}

// Forwarder watches one mailbox and renders each new dispatch.
type Forwarder struct {
	source   Source
	parser   *dispatch.Parser
	policy   dispatch.CopyPolicy
	renderer Renderer
	tracker  *dedup.Tracker
	logger   *slog.Logger

	newBackOff       func() backoff.BackOff
	newRenderBackOff func() backoff.BackOff
}

// New creates a Forwarder.
func New(
	source Source,
	parser *dispatch.Parser,
	policy dispatch.CopyPolicy,
	renderer Renderer,
	tracker *dedup.Tracker,
	logger *slog.Logger,
) *Forwarder {
	return &Forwarder{
		source:   source,
		parser:   parser,
		policy:   policy,
		renderer: renderer,
		tracker:  tracker,
		logger:   logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 5 * time.Minute
			b.MaxElapsedTime = 0
			return b
		},
		newRenderBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
	}
}

// Run watches the mailbox until ctx is cancelled. Failed sessions are torn
// down and reconnected with exponential backoff.
func (f *Forwarder) Run(ctx context.Context) {
	f.logger.Info("starting forwarder")

	for {
		if err := f.connect(ctx); err != nil {
			if ctx.Err() == nil {
				f.logger.Error("giving up connecting", "error", err)
			}
			break
		}

		err := f.serve(ctx)
		f.source.End()
		if ctx.Err() != nil {
			break
		}
		f.logger.Error("mailbox session failed, reconnecting", "error", err)
	}

	f.logger.Info("forwarder stopped")
}

func (f *Forwarder) connect(ctx context.Context) error {
	return backoff.RetryNotify(
		func() error { return f.source.Connect(ctx) },
		backoff.WithContext(f.newBackOff(), ctx),
		func(err error, wait time.Duration) {
			f.logger.Warn("connect failed", "error", err, "retry_in", wait)
		},
	)
}

func (f *Forwarder) serve(ctx context.Context) error {
	for {
		deliveries, err := f.source.AwaitAndFetch(ctx)
		if err != nil {
			return err
		}
		for _, d := range deliveries {
			f.handle(ctx, d)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, d mailbox.Delivery) {
	logger := f.logger.With("uid", d.UID, "msg_id", d.MessageID)
	if !d.HasText {
		logger.Debug("skipping message without text")
		return
	}

	key := d.Key()
	if f.tracker.Seen(key) {
		metrics.Duplicates.Inc()
		logger.Info("skipping already dispatched message")
		return
	}

	rec, err := f.parser.Parse(legacytext.Decode(d.Text))
	if errors.Is(err, dispatch.ErrNoFields) {
		metrics.ParseFailures.Inc()
		logger.Warn("message is not a dispatch", "subject", d.Subject)
		f.markSeen(logger, key)
		return
	}
	if err != nil {
		metrics.ParseFailures.Inc()
		logger.Error("parse failed", "error", err)
		return
	}

	if !rec.Complete {
		logger.Warn("dispatch is incomplete", "missing", rec.MissingFields())
	}
	metrics.Dispatches.WithLabelValues(strconv.FormatBool(rec.Complete)).Inc()

	copies := f.policy.Copies(rec)
	if err := f.render(ctx, logger, rec, copies); err != nil {
		logger.Error("render failed, dispatch not printed", "error", err)
		return
	}
	f.markSeen(logger, key)

	logger.Info("dispatched",
		"keyword", rec.Keyword,
		"emergency_number", rec.EmergencyNumber,
		"copies", copies,
	)
}

// render retries a failing renderer. The message is already behind the
// cursor, so a dispatch that still fails here is not delivered again.
func (f *Forwarder) render(ctx context.Context, logger *slog.Logger, rec *dispatch.Record, copies int) error {
	return backoff.RetryNotify(
		func() error { return f.renderer.Render(ctx, rec, copies) },
		backoff.WithContext(f.newRenderBackOff(), ctx),
		func(err error, wait time.Duration) {
			logger.Warn("render failed, retrying", "error", err, "retry_in", wait)
		},
	)
}

func (f *Forwarder) markSeen(logger *slog.Logger, key string) {
	if err := f.tracker.MarkSeen(key); err != nil {
		logger.Error("mark seen failed", "error", err)
	}
}
