package mailbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectStartsAtTail(t *testing.T) {
	srv := newFakeServer(3)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, uint32(3), s.Cursor())

	sess := srv.sessions[0]
	sess.idle = []idleStep{{arrive: 1, events: []Event{exists(4)}}}

	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{4}, uids(got))
	require.Equal(t, uint32(4), s.Cursor())

	d := got[0]
	require.True(t, d.HasText)
	require.Equal(t, "~~Ort~~Ort 4~~\r\n", d.Text)
	require.Equal(t, "4@example.org", d.MessageID)
	require.Equal(t, "Alarm 4", d.Subject)
	require.Equal(t, uint32(7), d.UIDValidity)
}

func TestConnectEmptyMailbox(t *testing.T) {
	srv := newFakeServer(0)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, uint32(0), s.Cursor())

	srv.sessions[0].idle = []idleStep{{arrive: 2, events: []Event{exists(1), exists(2)}}}
	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2}, uids(got))
}

func TestIdleIgnoresStaleUpdates(t *testing.T) {
	srv := newFakeServer(3)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))

	sess := srv.sessions[0]
	sess.idle = []idleStep{
		{events: []Event{exists(3), {Kind: EventRecent, Count: 1}}},
		{},
		{arrive: 1, events: []Event{exists(4)}},
	}
	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{4}, uids(got))
	require.Equal(t, 3, sess.idleCalls)
	require.Equal(t, 1, sess.fetchCalls)
}

func TestExpungeThenArrival(t *testing.T) {
	srv := newFakeServer(3)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))

	// One message removed and one added leaves the count at three.
	srv.msgs = srv.msgs[1:]
	sess := srv.sessions[0]
	sess.idle = []idleStep{{arrive: 1, events: []Event{{Kind: EventExpunge}, exists(3)}}}

	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{4}, uids(got))
}

func TestFetchNeverRedelivers(t *testing.T) {
	srv := newFakeServer(3)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))

	require.Empty(t, s.FetchSince(s.Cursor()+1))
	require.Empty(t, s.FetchSince(1))

	srv.deliver()
	srv.deliver()
	require.Equal(t, []uint32{4, 5}, uids(s.FetchSince(1)))
	require.Empty(t, s.FetchSince(1))
	require.Equal(t, uint32(5), s.Cursor())
}

func TestInitFailuresExhausted(t *testing.T) {
	srv := newFakeServer(1)
	s := newTestSyncer(srv, Options{MaxInitRetries: 3})
	require.NoError(t, s.Connect(context.Background()))

	_, err := s.AwaitAndFetch(context.Background())
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	require.Equal(t, 4, initErr.Attempts)
	require.ErrorIs(t, err, ErrIdleStart)
	require.Equal(t, 4, srv.sessions[0].idleCalls)
}

func TestInitFailuresWithinLimit(t *testing.T) {
	srv := newFakeServer(1)
	s := newTestSyncer(srv, Options{MaxInitRetries: 3})
	require.NoError(t, s.Connect(context.Background()))

	sess := srv.sessions[0]
	sess.idle = []idleStep{
		{err: ErrIdleStart},
		{err: ErrIdleStart},
		{err: ErrIdleStart},
		{arrive: 1, events: []Event{exists(2)}},
	}
	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, uids(got))
}

func TestConnectionLostResetsInitCounter(t *testing.T) {
	srv := newFakeServer(1)
	s := newTestSyncer(srv, Options{MaxInitRetries: 3})
	require.NoError(t, s.Connect(context.Background()))

	sess := srv.sessions[0]
	sess.idle = []idleStep{
		{err: ErrIdleStart},
		{err: ErrIdleStart},
		{err: ErrIdleStart},
		{err: ErrConnectionLost},
		{err: ErrIdleStart},
		{err: ErrIdleStart},
		{err: ErrIdleStart},
		{arrive: 1, events: []Event{exists(2)}},
	}
	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, uids(got))
}

func TestArrivalReportedBeforeConnectionLoss(t *testing.T) {
	srv := newFakeServer(1)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))

	sess := srv.sessions[0]
	sess.idle = []idleStep{{arrive: 1, events: []Event{exists(2)}, err: ErrConnectionLost}}

	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, uids(got))
}

func TestFetchFailureRetriedAfterWait(t *testing.T) {
	srv := newFakeServer(2)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))

	sess := srv.sessions[0]
	sess.fetchErrs = []error{errBroken}
	sess.idle = []idleStep{{arrive: 1, events: []Event{exists(3)}}, {}}

	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, uint32(2), s.Cursor())

	got, err = s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{3}, uids(got))
	require.Equal(t, 2, sess.idleCalls)
}

func TestPollMode(t *testing.T) {
	srv := newFakeServer(2)
	s := newTestSyncer(srv, Options{Mode: ModePoll})
	require.NoError(t, s.Connect(context.Background()))

	sess := srv.sessions[0]
	sess.statusErr = []error{nil, errBroken}

	srv.deliver()
	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{3}, uids(got))

	srv.deliver()
	got, err = s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{4}, uids(got))
	require.Zero(t, sess.idleCalls)
}

func TestPollModeStatusFailuresExhausted(t *testing.T) {
	srv := newFakeServer(2)
	s := newTestSyncer(srv, Options{Mode: ModePoll, MaxInitRetries: 2})
	require.NoError(t, s.Connect(context.Background()))
	srv.sessions[0].statusErr = []error{errBroken, errBroken, errBroken}

	_, err := s.AwaitAndFetch(context.Background())
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	require.ErrorIs(t, err, errBroken)
}

func TestReconnectCatchesUp(t *testing.T) {
	srv := newFakeServer(3)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))

	s.End()
	require.True(t, srv.sessions[0].loggedOut)
	_, err := s.AwaitAndFetch(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)

	srv.deliver()
	srv.deliver()
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, uint32(3), s.Cursor())

	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{4, 5}, uids(got))
	require.Zero(t, srv.sessions[1].idleCalls)
}

func TestReconnectUIDValidityChange(t *testing.T) {
	srv := newFakeServer(3)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))
	s.End()

	srv.validity = 8
	srv.nextUID = 20
	srv.deliver()
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, uint32(20), s.Cursor())

	srv.sessions[1].idle = []idleStep{{arrive: 1, events: []Event{exists(5)}}}
	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{21}, uids(got))
	require.Equal(t, uint32(8), got[0].UIDValidity)
}

func TestResumeAfter(t *testing.T) {
	srv := newFakeServer(5)
	s := newTestSyncer(srv, Options{ResumeAfter: 3})
	require.NoError(t, s.Connect(context.Background()))

	got, err := s.AwaitAndFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{4, 5}, uids(got))
}

func TestConnectErrors(t *testing.T) {
	srv := newFakeServer(1)
	srv.dialErrs = []error{errBroken}
	s := newTestSyncer(srv, Options{})

	err := s.Connect(context.Background())
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, "dial", connErr.Stage)
	require.ErrorIs(t, err, errBroken)

	srv.selectErr = errors.New("no such mailbox")
	err = s.Connect(context.Background())
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, "select", connErr.Stage)
	require.True(t, srv.sessions[0].loggedOut)
}

func TestAwaitHonoursContext(t *testing.T) {
	srv := newFakeServer(1)
	s := newTestSyncer(srv, Options{})
	require.NoError(t, s.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv.sessions[0].idle = []idleStep{{err: context.Canceled}}
	_, err := s.AwaitAndFetch(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("POLL")
	require.NoError(t, err)
	require.Equal(t, ModePoll, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeIdle, m)

	_, err = ParseMode("push")
	require.Error(t, err)
}
