package wallbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Connection timing defaults.
const (
	// DefaultAuthSettle is the grace period after the login command. The
	// protocol has no reliable auth acknowledgement, so the link is declared
	// connected once this elapses without a fault.
	DefaultAuthSettle = 2 * time.Second

	// DefaultPollInterval is the liveness check interval.
	DefaultPollInterval = 1 * time.Second

	// DefaultReconnectDelay is the fixed backoff between attempts.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultConnectTimeout bounds scanning and connecting.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultLineBuffer is the capacity of the framed line channel.
	DefaultLineBuffer = 100

	// logoutTimeout bounds the best-effort logout on shutdown.
	logoutTimeout = 2 * time.Second
)

// Link opens sessions to the wallbox radio. Implementations scan, connect
// and resolve the notification and write characteristics.
type Link interface {
	Connect(ctx context.Context, address string) (Session, error)
}

// Session is one open radio connection.
type Session interface {
	// Subscribe enables notifications on ch. handler runs on the transport's
	// own goroutine and must not block.
	Subscribe(ch Channel, handler func(data []byte)) error

	// Write sends raw bytes to the command characteristic.
	Write(ctx context.Context, data []byte) error

	// IsConnected reports whether the transport still considers the link up.
	IsConnected() bool

	// Close tears the link down.
	Close() error
}

// State is the lifecycle state of the wallbox connection.
type State int32

// Lifecycle states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
)

// String returns the state name used in logs and the status API.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Line is a complete protocol line received on a notification channel.
type Line struct {
	Channel Channel
	Text    string
}

// ConnectionOptions holds configuration for creating a connection manager.
type ConnectionOptions struct {
	// Link opens radio sessions. Required.
	Link Link

	// Address is the wallbox radio address. Required.
	Address string

	// PIN authenticates the session. Required; never logged.
	PIN string

	// Framer splits notifications into lines. Default: a new Framer.
	Framer *Framer

	// AuthSettle is the wait after login. Default: DefaultAuthSettle.
	AuthSettle time.Duration

	// PollInterval is the liveness check interval. Default: DefaultPollInterval.
	PollInterval time.Duration

	// ReconnectDelay is the backoff between attempts. Default: DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// ConnectTimeout bounds a single connect. Default: DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// LineBuffer is the capacity of Lines(). Default: DefaultLineBuffer.
	LineBuffer int

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics *Metrics
}

// ConnectionStats holds connection statistics.
type ConnectionStats struct {
	State           string    `json:"state"`
	Attempts        uint64    `json:"attempts"`
	Failures        uint64    `json:"failures"`
	Connects        uint64    `json:"connects"`
	LinesReceived   uint64    `json:"lines_received"`
	LinesDropped    uint64    `json:"lines_dropped"`
	CommandsWritten uint64    `json:"commands_written"`
	FramerDiscards  uint64    `json:"framer_discards"`
	ConnectedSince  time.Time `json:"connected_since,omitzero"`
}

// ConnectionManager owns the wallbox connection lifecycle:
//
//	Disconnected → Connecting → Authenticating → Connected → Disconnected
//
// with a Reconnecting hold of ReconnectDelay before every new attempt.
// Exactly one attempt is in flight at a time and there is no retry limit.
type ConnectionManager struct {
	link           Link
	address        string
	pin            string
	framer         *Framer
	authSettle     time.Duration
	pollInterval   time.Duration
	reconnectDelay time.Duration
	connectTimeout time.Duration
	metrics        *Metrics

	lines  chan Line
	feedMu sync.Mutex

	// Guarded by mu.
	mu             sync.Mutex
	state          State
	session        Session
	faults         chan error
	connectedSince time.Time
	onChange       func(connected bool)

	writeMu sync.Mutex

	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	attempts        atomic.Uint64
	failures        atomic.Uint64
	connects        atomic.Uint64
	linesReceived   atomic.Uint64
	linesDropped    atomic.Uint64
	commandsWritten atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewConnectionManager creates a connection manager. Call Start to run it.
func NewConnectionManager(opts ConnectionOptions) (*ConnectionManager, error) {
	if opts.Link == nil {
		return nil, fmt.Errorf("link is required")
	}
	if opts.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if opts.PIN == "" {
		return nil, fmt.Errorf("PIN is required")
	}

	m := &ConnectionManager{
		link:           opts.Link,
		address:        opts.Address,
		pin:            opts.PIN,
		framer:         opts.Framer,
		authSettle:     durationOr(opts.AuthSettle, DefaultAuthSettle),
		pollInterval:   durationOr(opts.PollInterval, DefaultPollInterval),
		reconnectDelay: durationOr(opts.ReconnectDelay, DefaultReconnectDelay),
		connectTimeout: durationOr(opts.ConnectTimeout, DefaultConnectTimeout),
		metrics:        opts.Metrics,
		done:           make(chan struct{}),
		logger:         opts.Logger,
	}
	if m.framer == nil {
		m.framer = NewFramer()
	}

	buf := opts.LineBuffer
	if buf <= 0 {
		buf = DefaultLineBuffer
	}
	m.lines = make(chan Line, buf)

	return m, nil
}

// SetLogger sets the logger.
func (m *ConnectionManager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// SetOnConnectionChange registers the connection-change signal. It is
// called with true once per authenticated session and with false every
// time an attempt or session ends.
func (m *ConnectionManager) SetOnConnectionChange(fn func(connected bool)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Lines returns the framed notification stream. Lines are dropped, and
// counted, when the consumer falls behind.
func (m *ConnectionManager) Lines() <-chan Line {
	return m.lines
}

// Start runs the connect/authenticate/monitor/backoff loop until Stop is
// called or ctx is cancelled. Recoverable failures never make it return.
func (m *ConnectionManager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("connection manager already started")
	}
	select {
	case <-m.done:
		return ErrManagerStopped
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	m.logInfo("wallbox connection manager started", "address", m.address)

	for {
		err := m.runSession(ctx)
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			m.logInfo("wallbox connection manager stopped")
			return nil
		}

		m.failures.Add(1)
		m.logWarn("wallbox link down", "error", err, "retry_in", m.reconnectDelay)

		m.setState(StateReconnecting)
		if !sleepContext(ctx, m.reconnectDelay) {
			m.setState(StateDisconnected)
			m.logInfo("wallbox connection manager stopped")
			return nil
		}
	}
}

// Stop makes Start return. Safe to call multiple times. It does not wait
// for Start to return.
func (m *ConnectionManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
}

// runSession performs one full attempt and returns why it ended.
func (m *ConnectionManager) runSession(ctx context.Context) error {
	defer m.signal(false)

	m.setState(StateConnecting)
	m.attempts.Add(1)
	m.logDebug("connecting to wallbox", "address", m.address, "attempt", m.attempts.Load())

	connectCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	sess, err := m.link.Connect(connectCtx, m.address)
	cancel()
	m.metrics.recordConnectAttempt(err)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	faults := make(chan error, 1)
	m.mu.Lock()
	m.session = sess
	m.faults = faults
	m.mu.Unlock()
	defer m.teardown(sess)

	// Notifications first, so the auth reply is never missed.
	m.resetLines()
	for _, ch := range []Channel{ChannelData, ChannelStatus} {
		if err := sess.Subscribe(ch, func(data []byte) { m.handleNotification(sess, ch, data) }); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, ch, err)
		}
	}

	m.setState(StateAuthenticating)
	if err := m.write(ctx, sess, LoginCommand(m.pin)); err != nil {
		return fmt.Errorf("%w: login: %w", ErrWriteFailed, err)
	}

	settle := time.NewTimer(m.authSettle)
	defer settle.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-faults:
		return err
	case <-settle.C:
	}
	if !sess.IsConnected() {
		return ErrLinkLost
	}

	m.mu.Lock()
	m.state = StateConnected
	m.connectedSince = time.Now()
	m.mu.Unlock()
	m.connects.Add(1)
	m.logInfo("wallbox connected", "address", m.address)
	m.signal(true)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logout(sess)
			return ctx.Err()
		case err := <-faults:
			return err
		case <-ticker.C:
			if !sess.IsConnected() {
				return ErrLinkLost
			}
		}
	}
}

// teardown detaches and closes sess. Close errors are ignored.
func (m *ConnectionManager) teardown(sess Session) {
	m.mu.Lock()
	m.session = nil
	m.faults = nil
	m.state = StateDisconnected
	m.connectedSince = time.Time{}
	m.mu.Unlock()

	if err := sess.Close(); err != nil {
		m.logDebug("wallbox close failed", "error", err)
	}
}

// logout sends the logout command on a clean shutdown.
func (m *ConnectionManager) logout(sess Session) {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	if err := m.write(ctx, sess, CmdLogout); err != nil {
		m.logDebug("wallbox logout failed", "error", err)
	}
}

// Write sends a command on the authenticated session. A transport error
// is reported as a fault, which ends the session.
func (m *ConnectionManager) Write(ctx context.Context, text string) error {
	m.mu.Lock()
	sess := m.session
	state := m.state
	m.mu.Unlock()

	if sess == nil || state != StateConnected {
		return ErrNotConnected
	}

	if err := m.write(ctx, sess, text); err != nil {
		err = fmt.Errorf("%w: %w", ErrWriteFailed, err)
		m.ReportFault(err)
		return err
	}
	m.commandsWritten.Add(1)
	return nil
}

func (m *ConnectionManager) write(ctx context.Context, sess Session, text string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return sess.Write(ctx, []byte(text))
}

// ForceReconnect tears down an established session. The normal loop then
// reconnects after the usual backoff. No-op unless connected.
func (m *ConnectionManager) ForceReconnect() {
	if m.State() != StateConnected {
		m.logDebug("reconnect ignored", "state", m.State().String())
		return
	}
	m.ReportFault(ErrReconnectRequested)
}

// ReportFault ends the current session with err. Used for transport errors
// and for protocol-level faults such as a refused PIN. Without a session it
// is a no-op; a session takes only its first fault.
func (m *ConnectionManager) ReportFault(err error) {
	m.mu.Lock()
	faults := m.faults
	m.mu.Unlock()

	if faults == nil {
		return
	}
	select {
	case faults <- err:
	default:
	}
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the session is authenticated.
func (m *ConnectionManager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns connection statistics.
func (m *ConnectionManager) Stats() ConnectionStats {
	m.mu.Lock()
	state := m.state
	since := m.connectedSince
	m.mu.Unlock()

	return ConnectionStats{
		State:           state.String(),
		Attempts:        m.attempts.Load(),
		Failures:        m.failures.Load(),
		Connects:        m.connects.Load(),
		LinesReceived:   m.linesReceived.Load(),
		LinesDropped:    m.linesDropped.Load(),
		CommandsWritten: m.commandsWritten.Load(),
		FramerDiscards:  m.framer.Discards(),
		ConnectedSince:  since,
	}
}

// resetLines clears partial frames and discards complete lines still queued
// from an earlier session, so a stale auth reply cannot fault the next one.
func (m *ConnectionManager) resetLines() {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()

	m.framer.Reset()
	stale := 0
	for {
		select {
		case <-m.lines:
			stale++
		default:
			if stale > 0 {
				m.logDebug("discarded lines from previous session", "count", stale)
			}
			return
		}
	}
}

// handleNotification frames data and hands complete lines to the consumer
// without blocking the transport goroutine. Notifications from a session
// that is no longer current are ignored.
func (m *ConnectionManager) handleNotification(sess Session, ch Channel, data []byte) {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()

	m.mu.Lock()
	current := m.session == sess
	m.mu.Unlock()
	if !current {
		return
	}

	before := m.framer.Discards()
	lines := m.framer.Feed(ch, data)
	m.metrics.recordDiscards(m.framer.Discards() - before)

	for _, text := range lines {
		m.linesReceived.Add(1)
		m.metrics.recordLine(ch)

		select {
		case m.lines <- Line{Channel: ch, Text: text}:
		default:
			m.linesDropped.Add(1)
			m.metrics.recordDropped()
			m.logWarn("line dropped, consumer behind", "channel", ch.String())
		}
	}
}

func (m *ConnectionManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *ConnectionManager) signal(connected bool) {
	m.metrics.setConnected(connected)

	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(connected)
	}
}

func (m *ConnectionManager) logInfo(msg string, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (m *ConnectionManager) logWarn(msg string, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (m *ConnectionManager) logDebug(msg string, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// sleepContext waits for d. Returns false if ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
