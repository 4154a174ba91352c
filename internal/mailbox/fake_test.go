package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// fakeServer is an in-memory mailbox shared by the sessions it hands out.
type fakeServer struct {
	validity uint32
	nextUID  uint32
	msgs     []Message

	sessions  []*fakeSession
	dialErrs  []error
	selectErr error
}

func newFakeServer(existing int) *fakeServer {
	srv := &fakeServer{validity: 7, nextUID: 1}
	for i := 0; i < existing; i++ {
		srv.deliver()
	}
	return srv
}

func (f *fakeServer) deliver() uint32 {
	uid := f.nextUID
	f.nextUID++
	f.msgs = append(f.msgs, Message{
		UID:    uid,
		SeqNum: uint32(len(f.msgs) + 1),
		Header: fmt.Appendf(nil, "Message-ID: <%d@example.org>\r\nSubject: Alarm %d\r\nContent-Type: text/plain\r\n\r\n", uid, uid),
		Text:   fmt.Appendf(nil, "~~Ort~~Ort %d~~\r\n", uid),
	})
	return uid
}

func (f *fakeServer) status() Status {
	return Status{Messages: uint32(len(f.msgs)), UIDNext: f.nextUID, UIDValidity: f.validity}
}

func (f *fakeServer) Dial(context.Context) (Session, error) {
	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	sess := &fakeSession{srv: f}
	f.sessions = append(f.sessions, sess)
	return sess, nil
}

// idleStep scripts one Idle call: arrive messages, replay events, then
// return err.
type idleStep struct {
	arrive int
	events []Event
	err    error
}

type fakeSession struct {
	srv       *fakeServer
	idle      []idleStep
	fetchErrs []error
	statusErr []error

	idleCalls  int
	fetchCalls int
	loggedOut  bool
}

func (s *fakeSession) Select(string) (Status, error) {
	if s.srv.selectErr != nil {
		return Status{}, s.srv.selectErr
	}
	return s.srv.status(), nil
}

func (s *fakeSession) Status() (Status, error) {
	if len(s.statusErr) > 0 {
		err := s.statusErr[0]
		s.statusErr = s.statusErr[1:]
		if err != nil {
			return Status{}, err
		}
	}
	return s.srv.status(), nil
}

func (s *fakeSession) FetchSince(uid uint32) ([]Message, error) {
	s.fetchCalls++
	if len(s.fetchErrs) > 0 {
		err := s.fetchErrs[0]
		s.fetchErrs = s.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []Message
	for _, m := range s.srv.msgs {
		if m.UID >= uid {
			out = append(out, m)
		}
	}
	if len(out) == 0 && len(s.srv.msgs) > 0 {
		out = append(out, s.srv.msgs[len(s.srv.msgs)-1])
	}
	return out, nil
}

func (s *fakeSession) Idle(ctx context.Context, _ time.Duration, handle func(Event) bool) error {
	s.idleCalls++
	if len(s.idle) == 0 {
		return fmt.Errorf("%w: script exhausted", ErrIdleStart)
	}
	step := s.idle[0]
	s.idle = s.idle[1:]
	for i := 0; i < step.arrive; i++ {
		s.srv.deliver()
	}
	for _, ev := range step.events {
		if handle(ev) {
			break
		}
	}
	return step.err
}

func (s *fakeSession) Logout() error {
	s.loggedOut = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSyncer(srv *fakeServer, opts Options) *Syncer {
	s := New(srv, opts, discardLogger())
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

var errBroken = errors.New("broken pipe")

func exists(n uint32) Event { return Event{Kind: EventExists, Count: n} }

func uids(ds []Delivery) []uint32 {
	out := make([]uint32, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.UID)
	}
	return out
}
