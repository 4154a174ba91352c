package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIdleStart wraps failures to start a push or poll wait.
	ErrIdleStart = errors.New("wait could not be started")
	// ErrConnectionLost wraps failures that interrupted an established wait.
	ErrConnectionLost = errors.New("connection lost while waiting")
	// ErrNotConnected is returned when no session is open.
	ErrNotConnected = errors.New("mailbox not connected")
)

// Status is the server's view of the selected mailbox.
type Status struct {
	Messages    uint32
	UIDNext     uint32
	UIDValidity uint32
}

// Tail is the highest UID currently in the mailbox.
func (s Status) Tail() uint32 {
	if s.UIDNext == 0 {
		return 0
	}
	return s.UIDNext - 1
}

// EventKind classifies unsolicited server updates seen during a push wait.
type EventKind int

const (
	EventOther EventKind = iota
	EventExists
	EventExpunge
	EventRecent
)

func (k EventKind) String() string {
	switch k {
	case EventExists:
		return "exists"
	case EventExpunge:
		return "expunge"
	case EventRecent:
		return "recent"
	}
	return "other"
}

// Event is an unsolicited server update. Count is the reported message count
// for EventExists and EventRecent.
type Event struct {
	Kind  EventKind
	Count uint32
}

// Message is one fetched message. Header and Text are nil when the server did
// not return that section.
type Message struct {
	UID    uint32
	SeqNum uint32
	Header []byte
	Text   []byte
}

// Session is an authenticated connection to the mail server.
//
// Idle blocks for at most timeout and passes every server update to handle
// until handle returns true. A lapsed timeout returns nil. Failures to start
// the wait must wrap ErrIdleStart, interruptions of a running wait must wrap
// ErrConnectionLost.
type Session interface {
	Select(mailbox string) (Status, error)
	Status() (Status, error)
	FetchSince(uid uint32) ([]Message, error)
	Idle(ctx context.Context, timeout time.Duration, handle func(Event) bool) error
	Logout() error
}

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// ConnectError reports a failed session setup. The caller has to back off
// before connecting again.
type ConnectError struct {
	Stage string // "dial" or "select"
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mailbox %s: %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// InitError reports that waits kept failing to start. The session is
// unusable and has to be torn down and reconnected.
type InitError struct {
	Attempts int
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("wait failed to start %d times: %v", e.Attempts, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
