package wallbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// defaultTakeTimeout bounds each wait for a command so the dispatch loop
// observes shutdown promptly.
const defaultTakeTimeout = 1 * time.Second

// Command is an immutable unit of work for the dispatch loop: a formatted
// protocol string, or the force-reconnect sentinel.
type Command struct {
	text      string
	reconnect bool
}

// ForceReconnect is the sentinel that tears down the current link instead
// of being written to it.
var ForceReconnect = Command{reconnect: true}

// NewCommand wraps a protocol string. A missing terminator is added.
func NewCommand(text string) Command {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return Command{text: text}
}

// Text returns the protocol string, terminator included.
func (c Command) Text() string { return c.text }

// IsReconnect reports whether c is the force-reconnect sentinel.
func (c Command) IsReconnect() bool { return c.reconnect }

// String returns a log-friendly form without the terminator.
func (c Command) String() string {
	if c.reconnect {
		return "<reconnect>"
	}
	return strings.TrimSpace(c.text)
}

// CommandQueue is an unbounded FIFO. Enqueue never blocks.
type CommandQueue struct {
	mu    sync.Mutex
	items []Command
	ready chan struct{}
}

// NewCommandQueue creates an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{ready: make(chan struct{}, 1)}
}

// Enqueue appends cmds in order. The batch is appended atomically, so
// concurrent producers never interleave within one call.
func (q *CommandQueue) Enqueue(cmds ...Command) {
	if len(cmds) == 0 {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, cmds...)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Take removes the oldest command, waiting up to timeout for one to arrive.
// The second result is false on timeout or context cancellation.
func (q *CommandQueue) Take(ctx context.Context, timeout time.Duration) (Command, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if cmd, ok := q.pop(); ok {
			return cmd, true
		}

		select {
		case <-ctx.Done():
			return Command{}, false
		case <-timer.C:
			return q.pop()
		case <-q.ready:
		}
	}
}

// Len returns the number of waiting commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *CommandQueue) pop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Command{}, false
	}
	cmd := q.items[0]
	q.items[0] = Command{}
	q.items = q.items[1:]

	// Keep the ready signal armed while work remains.
	if len(q.items) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return cmd, true
}

// CommandWriter is the link capability the dispatcher drives.
// *ConnectionManager satisfies it.
type CommandWriter interface {
	Write(ctx context.Context, text string) error
	ForceReconnect()
	IsConnected() bool
}

// DispatcherOptions holds configuration for creating a dispatcher.
type DispatcherOptions struct {
	// Queue is the command source.
	Queue *CommandQueue

	// Writer delivers commands to the wallbox.
	Writer CommandWriter

	// OnWritten is called after each successful write (optional).
	OnWritten func(cmd Command)

	// PollInterval bounds every wait. Default: 1 second.
	PollInterval time.Duration

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics *Metrics
}

// Dispatcher drains the queue one command at a time. A command is taken
// only after the previous one was written or dropped, so at most one is
// ever in flight.
type Dispatcher struct {
	queue     *CommandQueue
	writer    CommandWriter
	onWritten func(Command)
	poll      time.Duration
	logger    Logger
	metrics   *Metrics
}

// NewDispatcher creates a dispatcher. Call Run to start draining.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultTakeTimeout
	}

	return &Dispatcher{
		queue:     opts.Queue,
		writer:    opts.Writer,
		onWritten: opts.OnWritten,
		poll:      poll,
		logger:    loggerOrNop(opts.Logger),
		metrics:   opts.Metrics,
	}, nil
}

// Run drains the queue until ctx is cancelled. It always returns nil;
// write failures are logged and the command is dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		cmd, ok := d.queue.Take(ctx, d.poll)
		d.metrics.setQueueDepth(d.queue.Len())
		if !ok {
			continue
		}

		if cmd.IsReconnect() {
			d.logger.Info("forcing wallbox reconnect")
			d.writer.ForceReconnect()
			continue
		}

		if !d.waitConnected(ctx) {
			return nil
		}

		err := d.writer.Write(ctx, cmd.Text())
		d.metrics.recordWrite(err)
		if err != nil {
			d.logger.Warn("command dropped", "command", cmd.String(), "error", err)
			continue
		}
		d.logger.Debug("command written", "command", cmd.String())

		if d.onWritten != nil {
			d.onWritten(cmd)
		}
	}
	return nil
}

// waitConnected holds the current command until the link is up.
// Returns false if ctx is cancelled first.
func (d *Dispatcher) waitConnected(ctx context.Context) bool {
	if d.writer.IsConnected() {
		return true
	}

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if d.writer.IsConnected() {
				return true
			}
		}
	}
}
