package ble

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tinygo.org/x/bluetooth"

	"github.com/nerrad567/easywallbox-bridge/internal/bridges/wallbox"
)

type fakeChar struct {
	mu        sync.Mutex
	handler   func([]byte)
	notifyErr error
	writes    [][]byte
	writeErr  error
	short     bool
}

func (c *fakeChar) EnableNotifications(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notifyErr != nil {
		return c.notifyErr
	}
	c.handler = cb
	return nil
}

func (c *fakeChar) WriteWithoutResponse(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	if c.short {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (c *fakeChar) notify(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

type fakePeer struct {
	mu          sync.Mutex
	disconnects int
	err         error
}

func (p *fakePeer) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	return p.err
}

type fakeChars struct {
	data, status, rx *fakeChar
}

func newTestSession() (*Session, *fakePeer, fakeChars) {
	fc := fakeChars{data: &fakeChar{}, status: &fakeChar{}, rx: &fakeChar{}}
	p := &fakePeer{}
	s := newSession("AA:BB:CC:DD:EE:FF", p, wallboxCharacteristics[characteristic]{
		data:   fc.data,
		status: fc.status,
		rx:     fc.rx,
	}, nil)
	return s, p, fc
}

func TestSession_SubscribeRoutesChannels(t *testing.T) {
	s, _, fc := newTestSession()

	var mu sync.Mutex
	got := map[wallbox.Channel]string{}
	for _, ch := range []wallbox.Channel{wallbox.ChannelData, wallbox.ChannelStatus} {
		ch := ch
		if err := s.Subscribe(ch, func(b []byte) {
			mu.Lock()
			got[ch] += string(b)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Subscribe(%v) error = %v", ch, err)
		}
	}

	fc.data.notify([]byte("$EEP,READ,IDX,174,160\n"))
	fc.status.notify([]byte("$DPM,STATUS,1\n"))

	if got[wallbox.ChannelData] != "$EEP,READ,IDX,174,160\n" {
		t.Errorf("data channel = %q", got[wallbox.ChannelData])
	}
	if got[wallbox.ChannelStatus] != "$DPM,STATUS,1\n" {
		t.Errorf("status channel = %q", got[wallbox.ChannelStatus])
	}
}

func TestSession_SubscribeErrors(t *testing.T) {
	s, _, fc := newTestSession()

	if err := s.Subscribe(wallbox.Channel(99), func([]byte) {}); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Subscribe(unknown) error = %v, want ErrUnknownChannel", err)
	}

	fc.status.notifyErr = errors.New("not permitted")
	if err := s.Subscribe(wallbox.ChannelStatus, func([]byte) {}); err == nil {
		t.Error("Subscribe() error = nil, want stack error")
	}
}

func TestSession_Write(t *testing.T) {
	s, _, fc := newTestSession()

	cmd := []byte(wallbox.ReadIndexCommand(wallbox.IndexUserLimit))
	if err := s.Write(context.Background(), cmd); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(fc.rx.writes) != 1 || string(fc.rx.writes[0]) != string(cmd) {
		t.Errorf("rx writes = %q, want [%q]", fc.rx.writes, cmd)
	}
	if len(fc.data.writes) != 0 {
		t.Error("write went to the data characteristic")
	}
}

func TestSession_WriteErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Session, fakeChars) context.Context
		want  error
	}{
		{
			name: "stack error",
			setup: func(_ *Session, fc fakeChars) context.Context {
				fc.rx.writeErr = errors.New("io")
				return context.Background()
			},
			want: ErrWriteFailed,
		},
		{
			name: "short write",
			setup: func(_ *Session, fc fakeChars) context.Context {
				fc.rx.short = true
				return context.Background()
			},
			want: ErrWriteFailed,
		},
		{
			name: "after disconnect",
			setup: func(s *Session, _ fakeChars) context.Context {
				s.markDisconnected()
				return context.Background()
			},
			want: ErrNotConnected,
		},
		{
			name: "cancelled context",
			setup: func(*Session, fakeChars) context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			want: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, fc := newTestSession()
			ctx := tt.setup(s, fc)
			if err := s.Write(ctx, []byte("$BLE,LOGOUT\n")); !errors.Is(err, tt.want) {
				t.Errorf("Write() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	s, p, _ := newTestSession()

	closed := 0
	s.onClose = func(*Session) { closed++ }

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	s.Close() //nolint:errcheck

	if p.disconnects != 1 {
		t.Errorf("Disconnect called %d times, want 1", p.disconnects)
	}
	if closed != 1 {
		t.Errorf("onClose called %d times, want 1", closed)
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestSession_CloseReportsDisconnectError(t *testing.T) {
	s, p, _ := newTestSession()
	p.err = errors.New("busy")

	if err := s.Close(); err == nil {
		t.Error("Close() error = nil, want disconnect error")
	}
}

func TestLink_HandleConnectEvent(t *testing.T) {
	l := &Link{logger: nopLogger{}, sessions: make(map[string]*Session)}
	s, _, _ := newTestSession()
	s.onClose = l.forget
	l.track(s)

	l.handleConnectEvent("aa:bb:cc:dd:ee:ff", true)
	if !s.IsConnected() {
		t.Fatal("connect event marked session down")
	}

	l.handleConnectEvent("11:22:33:44:55:66", false)
	if !s.IsConnected() {
		t.Fatal("disconnect of another device marked session down")
	}

	l.handleConnectEvent("aa:bb:cc:dd:ee:ff", false)
	if s.IsConnected() {
		t.Error("IsConnected() = true after stack disconnect")
	}

	s.Close() //nolint:errcheck
	if len(l.sessions) != 0 {
		t.Errorf("sessions = %d after Close, want 0", len(l.sessions))
	}
}

func TestSessionImplementsWallboxSession(t *testing.T) {
	var _ wallbox.Session = (*Session)(nil)
	var _ wallbox.Link = (*Link)(nil)
}

// Discovered characteristics are stored by pointer; the notify method has a
// pointer receiver.
func TestDeviceCharacteristicImplementsCharacteristic(t *testing.T) {
	var _ characteristic = (*bluetooth.DeviceCharacteristic)(nil)
}
