package ble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/easywallbox-bridge/internal/bridges/wallbox"
)

// notifier is the notify side of a GATT characteristic.
type notifier interface {
	EnableNotifications(callback func(buf []byte)) error
}

// commandWriter is the write side of a GATT characteristic.
type commandWriter interface {
	WriteWithoutResponse(p []byte) (int, error)
}

// peer is the remote device.
type peer interface {
	Disconnect() error
}

// Session is one GATT connection to the wallbox. It implements wallbox.Session.
type Session struct {
	address string
	peer    peer
	rx      commandWriter
	notify  map[wallbox.Channel]notifier
	logger  Logger

	connected atomic.Bool
	writeMu   sync.Mutex

	closeOnce sync.Once
	closeErr  error
	onClose   func(*Session)
}

func newSession(address string, p peer, chars wallboxCharacteristics[characteristic], logger Logger) *Session {
	s := &Session{
		address: address,
		peer:    p,
		rx:      chars.rx,
		notify: map[wallbox.Channel]notifier{
			wallbox.ChannelData:   chars.data,
			wallbox.ChannelStatus: chars.status,
		},
		logger: loggerOrNop(logger),
	}
	s.connected.Store(true)
	return s
}

// Address returns the wallbox address.
func (s *Session) Address() string {
	return s.address
}

// Subscribe enables notifications on ch. handler runs on the stack's goroutine.
func (s *Session) Subscribe(ch wallbox.Channel, handler func(data []byte)) error {
	n, ok := s.notify[ch]
	if !ok || n == nil {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	if err := n.EnableNotifications(handler); err != nil {
		return fmt.Errorf("enabling %s notifications: %w", ch, err)
	}
	s.logger.Debug("notifications enabled", "channel", ch.String())
	return nil
}

// Write sends data to the command characteristic without response.
func (s *Session) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.rx.WriteWithoutResponse(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if n < len(data) {
		return fmt.Errorf("%w: short write %d/%d bytes", ErrWriteFailed, n, len(data))
	}

	s.logger.Debug("ble write", "command", wallbox.Redact(string(data)))
	return nil
}

// IsConnected reports whether the session is open and the stack has not
// reported a disconnect.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// Close disconnects. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		if err := s.peer.Disconnect(); err != nil {
			s.closeErr = fmt.Errorf("disconnecting: %w", err)
		}
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return s.closeErr
}

// markDisconnected records a disconnect reported by the stack.
func (s *Session) markDisconnected() {
	if s.connected.Swap(false) {
		s.logger.Warn("wallbox disconnected by stack", "address", s.address)
	}
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
