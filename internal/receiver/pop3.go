package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	pop3client "github.com/knadh/go-pop3"

	"github.com/tracyhatemice/dispatchmail/internal/mailbox"
)

// pop3Validity is reported as UID validity. POP3 has no UIDs; message numbers
// stand in for them and stay valid as long as nobody else deletes mail.
const pop3Validity = 1

// POP3Dialer opens POP3/POP3S sessions. POP3 only supports poll mode.
type POP3Dialer struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger
}

// NewPOP3 creates a new POP3 dialer.
func NewPOP3(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *POP3Dialer {
	return &POP3Dialer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
	}
}

// Dial checks the credentials once. Every later request opens its own
// connection because POP3 servers only show new mail to new connections.
func (d *POP3Dialer) Dial(ctx context.Context) (mailbox.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &POP3Session{
		client: pop3client.New(pop3client.Opt{
			Host:        d.host,
			Port:        d.port,
			TLSEnabled:  d.useTLS,
			DialTimeout: dialTimeout,
		}),
		addr:     net.JoinHostPort(d.host, strconv.Itoa(d.port)),
		username: d.username,
		password: d.password,
		logger:   d.logger,
	}
	conn, err := s.open()
	if err != nil {
		return nil, err
	}
	if err := conn.Quit(); err != nil {
		d.logger.Debug("pop3 quit failed", "error", err)
	}
	return s, nil
}

// POP3Session maps the mailbox operations onto short-lived POP3 connections.
type POP3Session struct {
	client   *pop3client.Client
	addr     string
	username string
	password string
	logger   *slog.Logger
}

func (s *POP3Session) open() (*pop3client.Conn, error) {
	conn, err := s.client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect %s: %w", s.addr, err)
	}
	if err := conn.Auth(s.username, s.password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("pop3 auth %s: %w", s.username, err)
	}
	return conn, nil
}

func (s *POP3Session) quit(conn *pop3client.Conn) {
	if err := conn.Quit(); err != nil {
		s.logger.Debug("pop3 quit failed", "error", err)
	}
}

// Select accepts only INBOX, the single POP3 mailbox.
func (s *POP3Session) Select(name string) (mailbox.Status, error) {
	if name != "" && !strings.EqualFold(name, "INBOX") {
		return mailbox.Status{}, fmt.Errorf("pop3 has no mailbox %q", name)
	}
	return s.Status()
}

func (s *POP3Session) Status() (mailbox.Status, error) {
	conn, err := s.open()
	if err != nil {
		return mailbox.Status{}, err
	}
	defer s.quit(conn)

	count, _, err := conn.Stat()
	if err != nil {
		return mailbox.Status{}, fmt.Errorf("pop3 stat: %w", err)
	}
	return mailbox.Status{
		Messages:    uint32(count),
		UIDNext:     uint32(count) + 1,
		UIDValidity: pop3Validity,
	}, nil
}

func (s *POP3Session) FetchSince(uid uint32) ([]mailbox.Message, error) {
	conn, err := s.open()
	if err != nil {
		return nil, err
	}
	defer s.quit(conn)

	count, _, err := conn.Stat()
	if err != nil {
		return nil, fmt.Errorf("pop3 stat: %w", err)
	}

	var msgs []mailbox.Message
	for id := max(int(uid), 1); id <= count; id++ {
		raw, err := conn.RetrRaw(id)
		if err != nil {
			return nil, fmt.Errorf("pop3 retrieve %d: %w", id, err)
		}
		header, text := splitMessage(raw.Bytes())
		msgs = append(msgs, mailbox.Message{
			UID:    uint32(id),
			SeqNum: uint32(id),
			Header: header,
			Text:   text,
		})
	}
	return msgs, nil
}

// Idle always fails: POP3 has no push notifications.
func (s *POP3Session) Idle(context.Context, time.Duration, func(mailbox.Event) bool) error {
	return fmt.Errorf("%w: pop3 does not support idle", mailbox.ErrIdleStart)
}

func (s *POP3Session) Logout() error {
	return nil
}
