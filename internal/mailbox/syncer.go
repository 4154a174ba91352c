// Package mailbox keeps a mail session positioned on a folder and delivers
// every message that arrives after the session started, exactly once per
// session lifetime.
package mailbox

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tracyhatemice/dispatchmail/internal/metrics"
)

// Mode selects how the syncer waits for new mail.
type Mode int

const (
	ModeIdle Mode = iota
	ModePoll
)

// ParseMode maps the configuration names "idle" and "poll" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "idle":
		return ModeIdle, nil
	case "poll":
		return ModePoll, nil
	}
	return 0, fmt.Errorf("unknown mailbox mode %q", s)
}

func (m Mode) String() string {
	if m == ModePoll {
		return "poll"
	}
	return "idle"
}

const (
	DefaultIdleTimeout    = 29 * time.Minute
	DefaultPollInterval   = 60 * time.Second
	DefaultMaxInitRetries = 3
	DefaultLostRetryDelay = time.Second
)

// Options configure a Syncer. Zero values select the defaults.
type Options struct {
	Mailbox        string
	Mode           Mode
	IdleTimeout    time.Duration
	PollInterval   time.Duration
	MaxInitRetries int
	// LostRetryDelay is the pause before waiting again after a wait was
	// interrupted by a lost connection.
	LostRetryDelay time.Duration
	// ResumeAfter starts delivery after this UID instead of at the
	// mailbox tail.
	ResumeAfter uint32
}

func (o *Options) setDefaults() {
	if o.Mailbox == "" {
		o.Mailbox = "INBOX"
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxInitRetries <= 0 {
		o.MaxInitRetries = DefaultMaxInitRetries
	}
	if o.LostRetryDelay <= 0 {
		o.LostRetryDelay = DefaultLostRetryDelay
	}
}

// Syncer drives a single Session. It is not safe for concurrent use.
type Syncer struct {
	dialer Dialer
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	session  Session
	cursor   cursor
	validity uint32
	started  bool

	// exists is the last known message count. It only decides whether an
	// update announces new mail; the cursor decides what gets fetched.
	exists    uint32
	candidate uint32

	pending     bool
	fetchFailed bool
}

func New(dialer Dialer, opts Options, logger *slog.Logger) *Syncer {
	opts.setDefaults()
	return &Syncer{
		dialer: dialer,
		opts:   opts,
		logger: logger.With("mailbox", opts.Mailbox),
		sleep:  sleepContext,
	}
}

// Cursor returns the highest UID delivered so far, or the starting point when
// nothing was delivered yet.
func (s *Syncer) Cursor() uint32 {
	return s.cursor.uid
}

// Connect opens a session and selects the mailbox. The first connect places
// the cursor at the mailbox tail so older mail is never delivered. Later
// connects keep the cursor and schedule a catch-up fetch for anything that
// arrived while disconnected.
func (s *Syncer) Connect(ctx context.Context) error {
	if s.session != nil {
		s.End()
	}

	sess, err := s.dialer.Dial(ctx)
	if err != nil {
		return &ConnectError{Stage: "dial", Err: err}
	}
	st, err := sess.Select(s.opts.Mailbox)
	if err != nil {
		if lerr := sess.Logout(); lerr != nil {
			s.logger.Debug("logout after failed select", "error", lerr)
		}
		return &ConnectError{Stage: "select", Err: err}
	}

	s.session = sess
	s.exists = st.Messages
	s.fetchFailed = false

	switch {
	case !s.started && s.opts.ResumeAfter > 0:
		s.cursor = cursor{uid: s.opts.ResumeAfter}
		s.pending = true
	case !s.started:
		s.cursor = cursor{uid: st.Tail()}
	case st.UIDValidity != s.validity:
		s.logger.Warn("uid validity changed, restarting at mailbox tail",
			"old", s.validity, "new", st.UIDValidity, "skipped_after", s.cursor.uid)
		s.cursor = cursor{uid: st.Tail()}
		s.pending = false
	default:
		metrics.SessionReconnects.Inc()
		s.pending = true
	}
	s.started = true
	s.validity = st.UIDValidity

	s.logger.Info("mailbox selected", "messages", st.Messages, "uid_validity", st.UIDValidity, "cursor", s.cursor.uid, "mode", s.opts.Mode.String())
	return nil
}

// AwaitAndFetch blocks until new mail is reported and returns it. An empty
// result is normal: a failed fetch is logged and retried on the next call.
//
// Waits that fail to start are retried up to MaxInitRetries times before an
// *InitError is returned; the caller must then End and Connect again. Waits
// interrupted by a lost connection are retried without limit.
func (s *Syncer) AwaitAndFetch(ctx context.Context) ([]Delivery, error) {
	if s.session == nil {
		return nil, ErrNotConnected
	}
	if s.pending && !s.fetchFailed {
		return s.fetchPending(), nil
	}

	failures := 0
	for {
		err := s.await(ctx)
		if err == nil {
			if s.pending {
				return s.fetchPending(), nil
			}
			s.logger.Debug("wait lapsed, waiting again")
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if errors.Is(err, ErrConnectionLost) {
			failures = 0
			metrics.WaitFailures.WithLabelValues("lost").Inc()
			s.logger.Warn("wait interrupted", "error", err)
			if s.pending && !s.fetchFailed {
				return s.fetchPending(), nil
			}
			if err := s.sleep(ctx, s.opts.LostRetryDelay); err != nil {
				return nil, err
			}
			continue
		}

		failures++
		metrics.WaitFailures.WithLabelValues("init").Inc()
		if failures > s.opts.MaxInitRetries {
			return nil, &InitError{Attempts: failures, Err: err}
		}
		s.logger.Warn("wait failed to start, retrying", "attempt", failures, "error", err)
	}
}

func (s *Syncer) await(ctx context.Context) error {
	if s.opts.Mode == ModePoll {
		if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
			return err
		}
		st, err := s.session.Status()
		if err != nil {
			if errors.Is(err, ErrConnectionLost) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrIdleStart, err)
		}
		if st.Messages > s.exists || st.Tail() > s.cursor.uid {
			s.pending = true
		}
		s.exists = st.Messages
		return nil
	}

	s.candidate = 0
	err := s.session.Idle(ctx, s.opts.IdleTimeout, s.handleEvent)
	if s.candidate > 0 {
		s.exists = s.candidate
		s.pending = true
		s.fetchFailed = false
	}
	return err
}

func (s *Syncer) handleEvent(ev Event) bool {
	switch ev.Kind {
	case EventExists:
		if ev.Count > s.exists {
			s.candidate = max(s.candidate, ev.Count)
			return true
		}
		s.exists = ev.Count
	case EventExpunge:
		if s.exists > 0 {
			s.exists--
		}
	case EventRecent:
		s.logger.Debug("recent count changed", "recent", ev.Count)
	default:
		s.logger.Debug("ignoring server update", "kind", ev.Kind.String())
	}
	return false
}

func (s *Syncer) fetchPending() []Delivery {
	from := s.cursor.next()
	deliveries, err := s.fetch(from)
	if err != nil {
		s.pending, s.fetchFailed = true, true
		metrics.FetchFailures.Inc()
		s.logger.Error("fetch failed, retrying after next wait", "from_uid", from, "error", err)
		return nil
	}
	s.pending, s.fetchFailed = false, false
	return deliveries
}

// FetchSince delivers every message with a UID of at least uid that was not
// delivered before. Failures are logged and yield no messages.
func (s *Syncer) FetchSince(uid uint32) []Delivery {
	deliveries, err := s.fetch(uid)
	if err != nil {
		metrics.FetchFailures.Inc()
		s.logger.Error("fetch failed", "from_uid", uid, "error", err)
		return nil
	}
	return deliveries
}

func (s *Syncer) fetch(from uint32) ([]Delivery, error) {
	if s.session == nil {
		return nil, ErrNotConnected
	}
	msgs, err := s.session.FetchSince(from)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(msgs, func(a, b Message) int { return cmp.Compare(a.UID, b.UID) })

	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		// A range fetch past the highest UID returns the last message.
		if m.UID < from || m.UID <= s.cursor.uid {
			continue
		}
		s.cursor.advance(m.UID)
		s.exists = max(s.exists, m.SeqNum)
		metrics.MessagesFetched.Inc()
		out = append(out, s.deliver(m))
	}
	if len(out) > 0 {
		s.logger.Info("fetched messages", "count", len(out), "cursor", s.cursor.uid)
	}
	return out, nil
}

func (s *Syncer) deliver(m Message) Delivery {
	d := Delivery{UID: m.UID, UIDValidity: s.validity, SeqNum: m.SeqNum}
	logger := s.logger.With("uid", m.UID)

	if len(m.Header) > 0 {
		h, err := parseHeader(m.Header)
		if err != nil {
			logger.Warn("unreadable message header", "error", err)
		} else {
			d.MessageID, _ = h.MessageID()
			if subject, err := h.Subject(); err == nil {
				d.Subject = subject
			}
		}
	}

	text, err := extractText(m)
	if err != nil {
		metrics.MessagesWithoutText.Inc()
		logger.Warn("message has no usable text", "message_id", d.MessageID, "error", err)
		return d
	}
	if !utf8.ValidString(text) {
		logger.Warn("message text is not valid UTF-8, replacing invalid bytes", "message_id", d.MessageID)
		text = strings.ToValidUTF8(text, "�")
	}
	d.Text = text
	d.HasText = true
	return d
}

// End logs out and drops the session. Logout failures are only logged.
func (s *Syncer) End() {
	if s.session == nil {
		return
	}
	if err := s.session.Logout(); err != nil {
		s.logger.Warn("logout failed", "error", err)
	}
	s.session = nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
