package wallbox

import (
	"bytes"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

// maxBufferedBytes caps a channel buffer that has not seen a terminator.
// Device lines are short; anything longer is a desynchronised stream.
const maxBufferedBytes = 1024

// Channel identifies a notification stream from the wallbox.
type Channel int

// Notification channels. Each is framed independently.
const (
	ChannelData Channel = iota
	ChannelStatus
)

// String returns the channel name used in logs and metrics.
func (c Channel) String() string {
	switch c {
	case ChannelData:
		return "data"
	case ChannelStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Framer splits notification fragments into newline-terminated lines.
//
// Fragment boundaries do not affect the emitted sequence: feeding a stream
// in one call or split at arbitrary bytes yields the same lines.
type Framer struct {
	mu       sync.Mutex
	buffers  map[Channel][]byte
	discards atomic.Uint64
}

// NewFramer creates a framer with empty buffers.
func NewFramer() *Framer {
	return &Framer{buffers: make(map[Channel][]byte)}
}

// Feed appends data to the channel buffer and returns every complete line,
// terminator stripped, in arrival order.
//
// Bytes that are not valid UTF-8 discard the whole buffer and emit nothing.
// An incomplete multi-byte sequence at the end is kept for the next call.
func (f *Framer) Feed(ch Channel, data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	buf := append(f.buffers[ch], data...)
	if !validPrefix(buf) {
		f.discard(ch)
		return nil
	}

	var lines []string
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(buf[:i]))
		buf = buf[i+1:]
	}

	if len(buf) > maxBufferedBytes {
		f.discard(ch)
		return lines
	}

	// Copy the remainder so the buffer does not pin the caller's slice.
	f.buffers[ch] = append([]byte(nil), buf...)
	return lines
}

// Reset drops all partial lines. Called at the start of every session.
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.buffers)
}

// Discards returns how many buffers were dropped as malformed.
func (f *Framer) Discards() uint64 {
	return f.discards.Load()
}

// Buffered returns the number of pending bytes on ch.
func (f *Framer) Buffered(ch Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buffers[ch])
}

func (f *Framer) discard(ch Channel) {
	delete(f.buffers, ch)
	f.discards.Add(1)
}

// validPrefix reports whether b is valid UTF-8, allowing a truncated
// multi-byte sequence at the very end.
func validPrefix(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			if len(b) < utf8.UTFMax && !utf8.FullRune(b) {
				return true
			}
			return false
		}
		b = b[size:]
	}
	return true
}
