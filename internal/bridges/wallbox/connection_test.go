package wallbox

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// connectionSignals records connection-change callbacks.
type connectionSignals struct {
	mu     sync.Mutex
	events []bool
}

func (s *connectionSignals) record(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, connected)
}

func (s *connectionSignals) count(v bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == v {
			n++
		}
	}
	return n
}

func startManager(t *testing.T, opts ConnectionOptions) (*ConnectionManager, *connectionSignals) {
	t.Helper()

	m, err := NewConnectionManager(opts)
	if err != nil {
		t.Fatalf("NewConnectionManager() error = %v", err)
	}
	signals := &connectionSignals{}
	m.SetOnConnectionChange(signals.record)

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()
	t.Cleanup(func() {
		m.Stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Start() did not return after Stop()")
		}
	})
	return m, signals
}

func TestNewConnectionManagerValidation(t *testing.T) {
	link := &fakeLink{}
	tests := []struct {
		name string
		opts ConnectionOptions
	}{
		{"no link", ConnectionOptions{Address: "a", PIN: "1234"}},
		{"no address", ConnectionOptions{Link: link, PIN: "1234"}},
		{"no pin", ConnectionOptions{Link: link, Address: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConnectionManager(tt.opts); err == nil {
				t.Error("NewConnectionManager() error = nil, want error")
			}
		})
	}
}

func TestConnectionRegistersBeforeAuthenticating(t *testing.T) {
	link := &fakeLink{}
	m, _ := startManager(t, fastOptions(link))

	waitFor(t, time.Second, "connected", m.IsConnected)

	ops := link.Session(0).Ops()
	want := []string{"subscribe:data", "subscribe:status", "write"}
	if !reflect.DeepEqual(ops[:3], want) {
		t.Errorf("session ops = %v, want prefix %v", ops, want)
	}
	if got := link.Session(0).Writes()[0]; got != "$BLE,AUTH,1234\n" {
		t.Errorf("first write = %q, want login", got)
	}
}

func TestConnectionStatesDuringHandshake(t *testing.T) {
	link := &fakeLink{}
	opts := fastOptions(link)
	opts.AuthSettle = 100 * time.Millisecond
	m, _ := startManager(t, opts)

	waitFor(t, time.Second, "authenticating", func() bool { return m.State() == StateAuthenticating })
	if err := m.Write(context.Background(), "$EEP,READ,ST\n"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() while authenticating error = %v, want ErrNotConnected", err)
	}
	waitFor(t, time.Second, "connected", func() bool { return m.State() == StateConnected })
}

// Three failed attempts then a success: three backoff waits, one
// "connected" signal, and no overlapping attempts.
func TestConnectionRetriesWithBackoff(t *testing.T) {
	link := &fakeLink{failures: 3}
	opts := fastOptions(link)
	m, signals := startManager(t, opts)

	waitFor(t, 2*time.Second, "connected signal", func() bool { return signals.count(true) == 1 })

	attempts := link.Attempts()
	if len(attempts) != 4 {
		t.Fatalf("connect attempts = %d, want 4", len(attempts))
	}
	for i := 1; i < len(attempts); i++ {
		if gap := attempts[i].Sub(attempts[i-1]); gap < opts.ReconnectDelay {
			t.Errorf("attempt %d started %v after previous, want >= %v", i, gap, opts.ReconnectDelay)
		}
	}
	if total := attempts[3].Sub(attempts[0]); total < 3*opts.ReconnectDelay {
		t.Errorf("total backoff = %v, want >= %v", total, 3*opts.ReconnectDelay)
	}

	if n := signals.count(true); n != 1 {
		t.Errorf("connected signals = %d, want 1", n)
	}
	if n := signals.count(false); n != 3 {
		t.Errorf("disconnected signals = %d, want 3", n)
	}

	stats := m.Stats()
	if stats.Attempts != 4 || stats.Failures != 3 || stats.Connects != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestConnectionReconnectsAfterLinkLoss(t *testing.T) {
	link := &fakeLink{}
	m, signals := startManager(t, fastOptions(link))

	waitFor(t, time.Second, "first session", m.IsConnected)
	first := link.Session(0)
	first.Drop()

	waitFor(t, 2*time.Second, "second session", func() bool {
		return link.Session(1) != nil && signals.count(true) == 2
	})
	if !first.Closed() {
		t.Error("dropped session was not closed")
	}
}

func TestConnectionWriteFaultTearsDown(t *testing.T) {
	link := &fakeLink{}
	m, _ := startManager(t, fastOptions(link))
	waitFor(t, time.Second, "connected", m.IsConnected)

	sess := link.Session(0)
	sess.mu.Lock()
	sess.writeErr = errors.New("gatt write failed")
	sess.mu.Unlock()

	err := m.Write(context.Background(), "$EEP,READ,ST\n")
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Write() error = %v, want ErrWriteFailed", err)
	}
	waitFor(t, time.Second, "session closed", sess.Closed)
}

func TestConnectionAuthFaultForcesReconnect(t *testing.T) {
	link := &fakeLink{}
	opts := fastOptions(link)
	opts.AuthSettle = 200 * time.Millisecond
	m, signals := startManager(t, opts)

	waitFor(t, time.Second, "authenticating", func() bool { return m.State() == StateAuthenticating })
	m.ReportFault(ErrAuthRejected)

	waitFor(t, time.Second, "first session closed", func() bool {
		s := link.Session(0)
		return s != nil && s.Closed()
	})
	if n := signals.count(true); n != 0 {
		t.Errorf("connected signals after refused PIN = %d, want 0", n)
	}
	waitFor(t, 2*time.Second, "retry", func() bool { return len(link.Attempts()) >= 2 })
}

func TestForceReconnectIgnoredUnlessConnected(t *testing.T) {
	link := &fakeLink{}
	opts := fastOptions(link)
	opts.AuthSettle = 100 * time.Millisecond
	m, _ := startManager(t, opts)

	waitFor(t, time.Second, "authenticating", func() bool { return m.State() == StateAuthenticating })
	m.ForceReconnect()
	waitFor(t, time.Second, "connected", m.IsConnected)
	if len(link.Attempts()) != 1 {
		t.Fatalf("attempts = %d, want 1", len(link.Attempts()))
	}

	m.ForceReconnect()
	waitFor(t, 2*time.Second, "reconnected", func() bool {
		return link.Session(1) != nil && m.IsConnected()
	})

	attempts := link.Attempts()
	if gap := attempts[1].Sub(attempts[0]); gap < opts.ReconnectDelay {
		t.Errorf("reconnect after %v, want at least the %v backoff", gap, opts.ReconnectDelay)
	}
}

func TestConnectionDiscardsLinesFromPreviousSession(t *testing.T) {
	link := &fakeLink{}
	m, _ := startManager(t, fastOptions(link))
	waitFor(t, time.Second, "connected", m.IsConnected)

	// Nobody reads Lines(), so this stays queued across the reconnect.
	old := link.Session(0)
	old.Notify(ChannelStatus, "$BLE,AUTH,FAIL\n")
	old.Drop()

	waitFor(t, 2*time.Second, "reconnected", func() bool {
		return link.Session(1) != nil && m.IsConnected()
	})

	old.Notify(ChannelStatus, "$ERR,AUTH\n")
	link.Session(1).Notify(ChannelStatus, "$DPM,STATUS,1\n")

	select {
	case got := <-m.Lines():
		want := Line{Channel: ChannelStatus, Text: "$DPM,STATUS,1"}
		if got != want {
			t.Errorf("first line after reconnect = %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a line from the new session")
	}
}

func TestConnectionLinesAreFramed(t *testing.T) {
	link := &fakeLink{}
	m, _ := startManager(t, fastOptions(link))
	waitFor(t, time.Second, "connected", m.IsConnected)

	sess := link.Session(0)
	sess.Notify(ChannelData, "$EEP,READ,IDX,17")
	sess.Notify(ChannelData, "4,160\n")
	sess.Notify(ChannelStatus, "$DPM,STATUS,1\n")

	want := []Line{
		{Channel: ChannelData, Text: "$EEP,READ,IDX,174,160"},
		{Channel: ChannelStatus, Text: "$DPM,STATUS,1"},
	}
	for _, w := range want {
		select {
		case got := <-m.Lines():
			if got != w {
				t.Errorf("line = %+v, want %+v", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %+v", w)
		}
	}
}

func TestConnectionDropsLinesWhenConsumerBehind(t *testing.T) {
	link := &fakeLink{}
	opts := fastOptions(link)
	opts.LineBuffer = 1
	m, _ := startManager(t, opts)
	waitFor(t, time.Second, "connected", m.IsConnected)

	link.Session(0).Notify(ChannelData, "a\nb\nc\n")

	if got := m.Stats().LinesDropped; got != 2 {
		t.Errorf("LinesDropped = %d, want 2", got)
	}
}

func TestConnectionLogoutOnStop(t *testing.T) {
	link := &fakeLink{}
	m, err := NewConnectionManager(fastOptions(link))
	if err != nil {
		t.Fatalf("NewConnectionManager() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()
	waitFor(t, time.Second, "connected", m.IsConnected)

	m.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return")
	}

	writes := link.Session(0).Writes()
	if last := writes[len(writes)-1]; last != CmdLogout {
		t.Errorf("last write = %q, want logout", last)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}

	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil, want error")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateAuthenticating, "authenticating"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
