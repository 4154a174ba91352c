package receiver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/tracyhatemice/dispatchmail/internal/mailbox"
)

// IMAPDialer opens IMAP/IMAPS sessions.
type IMAPDialer struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger
}

// NewIMAP creates a new IMAP dialer.
func NewIMAP(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *IMAPDialer {
	return &IMAPDialer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
	}
}

// Dial connects and logs in.
func (d *IMAPDialer) Dial(ctx context.Context) (mailbox.Session, error) {
	addr := net.JoinHostPort(d.host, strconv.Itoa(d.port))

	var conn net.Conn
	var err error
	dialer := &net.Dialer{Timeout: dialTimeout}
	if d.useTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: d.host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	s := &IMAPSession{
		logger: d.logger,
		notify: make(chan struct{}, 1),
	}
	s.client = imapclient.New(conn, &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					s.push(mailbox.Event{Kind: mailbox.EventExists, Count: *data.NumMessages})
				}
			},
			Expunge: func(seqNum uint32) {
				s.push(mailbox.Event{Kind: mailbox.EventExpunge})
			},
		},
	})

	if err := s.client.Login(d.username, d.password).Wait(); err != nil {
		s.client.Close()
		return nil, fmt.Errorf("imap login %s: %w", d.username, err)
	}
	d.logger.Debug("imap session opened", "addr", addr, "tls", d.useTLS)
	return s, nil
}

// IMAPSession is a logged-in IMAP connection. Unsolicited updates are queued
// as they arrive and replayed to the handler of the next Idle call; Status
// folds them into the message count and drops them.
type IMAPSession struct {
	client  *imapclient.Client
	logger  *slog.Logger
	mailbox string

	mu       sync.Mutex
	events   []mailbox.Event
	messages uint32
	validity uint32
	notify   chan struct{}
}

func (s *IMAPSession) push(ev mailbox.Event) {
	s.mu.Lock()
	switch ev.Kind {
	case mailbox.EventExists:
		s.messages = ev.Count
	case mailbox.EventExpunge:
		if s.messages > 0 {
			s.messages--
		}
	}
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// drain replays queued updates until handle asks to stop. It reports whether
// handle did.
func (s *IMAPSession) drain(handle func(mailbox.Event) bool) bool {
	for {
		s.mu.Lock()
		if len(s.events) == 0 {
			s.mu.Unlock()
			return false
		}
		ev := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()

		if handle(ev) {
			return true
		}
	}
}

func (s *IMAPSession) Select(name string) (mailbox.Status, error) {
	data, err := s.client.Select(name, nil).Wait()
	if err != nil {
		return mailbox.Status{}, fmt.Errorf("imap select %s: %w", name, err)
	}
	s.mailbox = name

	s.mu.Lock()
	s.events = nil
	s.messages = data.NumMessages
	s.validity = data.UIDValidity
	s.mu.Unlock()

	st := mailbox.Status{
		Messages:    data.NumMessages,
		UIDNext:     uint32(data.UIDNext),
		UIDValidity: data.UIDValidity,
	}
	if st.UIDNext == 0 && st.Messages > 0 {
		// Some servers leave UIDNEXT out of the SELECT response.
		last, err := s.lastUID(st.Messages)
		if err != nil {
			return mailbox.Status{}, err
		}
		st.UIDNext = last + 1
	}
	return st, nil
}

// Status checks for new mail with NOOP, which makes the server report
// EXISTS and EXPUNGE updates for the selected mailbox, and looks up the UID
// of the last message.
func (s *IMAPSession) Status() (mailbox.Status, error) {
	if err := s.client.Noop().Wait(); err != nil {
		return mailbox.Status{}, fmt.Errorf("imap noop %s: %w", s.mailbox, err)
	}
	st := s.takeStatus()
	if st.Messages > 0 {
		last, err := s.lastUID(st.Messages)
		if err != nil {
			return mailbox.Status{}, err
		}
		if last > 0 {
			st.UIDNext = last + 1
		}
	}
	return st, nil
}

// takeStatus drops the queued updates, which the message count already
// reflects, and reports that count.
func (s *IMAPSession) takeStatus() mailbox.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	return mailbox.Status{Messages: s.messages, UIDValidity: s.validity}
}

// lastUID returns the UID of message seq, or 0 when it is gone.
func (s *IMAPSession) lastUID(seq uint32) (uint32, error) {
	buffers, err := s.client.Fetch(imap.SeqSetNum(seq), &imap.FetchOptions{UID: true}).Collect()
	if err != nil {
		return 0, fmt.Errorf("imap fetch uid of %d: %w", seq, err)
	}
	if len(buffers) == 0 {
		return 0, nil
	}
	return uint32(buffers[0].UID), nil
}

// FetchSince issues UID FETCH uid:* for the header and text sections without
// setting \Seen.
func (s *IMAPSession) FetchSince(uid uint32) ([]mailbox.Message, error) {
	var set imap.UIDSet
	set.AddRange(imap.UID(uid), 0)

	header := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}
	text := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierText, Peek: true}
	buffers, err := s.client.Fetch(set, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{header, text},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch %d:*: %w", uid, err)
	}

	msgs := make([]mailbox.Message, 0, len(buffers))
	for _, buf := range buffers {
		msgs = append(msgs, mailbox.Message{
			UID:    uint32(buf.UID),
			SeqNum: buf.SeqNum,
			Header: buf.FindBodySection(header),
			Text:   buf.FindBodySection(text),
		})
	}
	return msgs, nil
}

func (s *IMAPSession) Idle(ctx context.Context, timeout time.Duration, handle func(mailbox.Event) bool) error {
	if s.drain(handle) {
		return nil
	}

	cmd, err := s.client.Idle()
	if err != nil {
		return fmt.Errorf("%w: %w", mailbox.ErrIdleStart, err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.notify:
			if s.drain(handle) {
				return stopIdle(cmd, done)
			}
		case <-timer.C:
			return stopIdle(cmd, done)
		case <-ctx.Done():
			_ = cmd.Close()
			<-done
			return ctx.Err()
		case err := <-done:
			if err == nil {
				err = errors.New("idle ended by server")
			}
			return fmt.Errorf("%w: %w", mailbox.ErrConnectionLost, err)
		}
	}
}

func stopIdle(cmd *imapclient.IdleCommand, done <-chan error) error {
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("%w: close idle: %w", mailbox.ErrConnectionLost, err)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("%w: %w", mailbox.ErrConnectionLost, err)
	}
	return nil
}

func (s *IMAPSession) Logout() error {
	err := s.client.Logout().Wait()
	if cerr := s.client.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}
