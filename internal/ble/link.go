package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/nerrad567/easywallbox-bridge/internal/bridges/wallbox"
)

// characteristic is what a session needs from a GATT characteristic.
// *bluetooth.DeviceCharacteristic satisfies it.
type characteristic interface {
	notifier
	commandWriter
}

// Options configures a Link.
type Options struct {
	// AdapterID selects the host controller (Linux only). Empty means default.
	AdapterID string

	Logger Logger
}

// Link opens GATT sessions to the wallbox. It implements wallbox.Link.
//
// One Link owns the adapter's connect handler; create at most one per process.
type Link struct {
	adapter *bluetooth.Adapter
	logger  Logger

	// scanMu serialises scans; the stack runs one at a time.
	scanMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewLink enables the adapter and installs the disconnect handler.
func NewLink(opts Options) (*Link, error) {
	logger := loggerOrNop(opts.Logger)

	if opts.AdapterID != "" && !adapterSelectable {
		logger.Warn("adapter selection not supported on this platform, using default", "adapter", opts.AdapterID)
	}
	adapter := selectAdapter(opts.AdapterID)
	if adapter == nil {
		return nil, ErrAdapterUnavailable
	}

	l := &Link{
		adapter:  adapter,
		logger:   logger,
		sessions: make(map[string]*Session),
	}

	// Must be installed before Enable on some stacks.
	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		l.handleConnectEvent(device.Address.String(), connected)
	})

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}

	return l, nil
}

// Connect scans for address, connects and resolves the wallbox characteristics.
// ctx bounds the whole sequence.
func (l *Link) Connect(ctx context.Context, address string) (wallbox.Session, error) {
	result, err := l.scan(ctx, address)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("wallbox found", "address", address, "rssi", result.RSSI, "name", result.LocalName())

	device, err := l.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	chars, err := discover(device)
	if err != nil {
		device.Disconnect() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	sess := newSession(address, device, chars, l.logger)
	sess.onClose = l.forget
	l.track(sess)

	l.logger.Info("wallbox GATT session open", "address", address)
	return sess, nil
}

// scan blocks until address is advertised, the scan ends or ctx is done.
func (l *Link) scan(ctx context.Context, address string) (bluetooth.ScanResult, error) {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	found := make(chan bluetooth.ScanResult, 1)
	done := make(chan error, 1)

	go func() {
		done <- l.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !sameAddress(r.Address.String(), address) {
				return
			}
			select {
			case found <- r:
			default:
			}
			a.StopScan() //nolint:errcheck // Scan returns once stopped
		})
	}()

	var scanErr error
	select {
	case scanErr = <-done:
	case <-ctx.Done():
		l.adapter.StopScan() //nolint:errcheck // Scan may already be over
		scanErr = <-done
	}

	select {
	case r := <-found:
		return r, nil
	default:
	}

	if scanErr != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("%w: %w", ErrScanFailed, scanErr)
	}
	if err := ctx.Err(); err != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("%w: %s: %w", ErrDeviceNotFound, address, err)
	}
	return bluetooth.ScanResult{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
}

// discover resolves the wallbox service and characteristics on device.
func discover(device bluetooth.Device) (wallboxCharacteristics[characteristic], error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return wallboxCharacteristics[characteristic]{}, fmt.Errorf("%w: %w", ErrServiceMissing, err)
	}
	if len(services) == 0 {
		return wallboxCharacteristics[characteristic]{}, ErrServiceMissing
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{dataUUID, statusUUID, rxUUID})
	if err != nil {
		return wallboxCharacteristics[characteristic]{}, fmt.Errorf("discovering characteristics: %w", err)
	}

	byUUID := make(map[string]characteristic, len(chars))
	for _, c := range chars {
		byUUID[normalizeUUID(c.UUID().String())] = &c
	}
	return pickCharacteristics(byUUID)
}

func (l *Link) track(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[strings.ToUpper(s.address)] = s
}

func (l *Link) forget(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToUpper(s.address)
	if l.sessions[key] == s {
		delete(l.sessions, key)
	}
}

// handleConnectEvent marks the session for address down on a disconnect.
func (l *Link) handleConnectEvent(address string, connected bool) {
	if connected {
		return
	}
	l.mu.Lock()
	s := l.sessions[strings.ToUpper(address)]
	l.mu.Unlock()
	if s != nil {
		s.markDisconnected()
	}
}
