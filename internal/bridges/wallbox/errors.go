package wallbox

import "errors"

// Domain errors for the wallbox bridge package.
var (
	// ErrNotConnected is returned when a write is attempted while the link
	// is not authenticated and connected.
	ErrNotConnected = errors.New("wallbox: not connected")

	// ErrConnectFailed is returned when the radio link cannot be opened.
	ErrConnectFailed = errors.New("wallbox: connect failed")

	// ErrSubscribeFailed is returned when a notification channel cannot be
	// registered.
	ErrSubscribeFailed = errors.New("wallbox: notification subscribe failed")

	// ErrWriteFailed is returned when a command cannot be written to the link.
	ErrWriteFailed = errors.New("wallbox: write failed")

	// ErrLinkLost is reported when the link stops reporting itself connected.
	ErrLinkLost = errors.New("wallbox: link lost")

	// ErrAuthRejected is reported when the wallbox refuses the PIN.
	ErrAuthRejected = errors.New("wallbox: authentication rejected")

	// ErrReconnectRequested is the fault used for an explicit reconnect.
	ErrReconnectRequested = errors.New("wallbox: reconnect requested")

	// ErrManagerStopped is returned by Start when the manager was already stopped.
	ErrManagerStopped = errors.New("wallbox: connection manager stopped")
)
