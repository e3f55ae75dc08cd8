package ble

import "errors"

var (
	// ErrAdapterUnavailable is returned when the host controller cannot be enabled.
	ErrAdapterUnavailable = errors.New("ble: adapter unavailable")

	// ErrScanFailed is returned when scanning could not be started.
	ErrScanFailed = errors.New("ble: scan failed")

	// ErrDeviceNotFound is returned when the address was not seen before the deadline.
	ErrDeviceNotFound = errors.New("ble: device not found")

	// ErrConnectFailed is returned when the GATT connection could not be opened.
	ErrConnectFailed = errors.New("ble: connect failed")

	// ErrServiceMissing is returned when the wallbox service is not advertised.
	ErrServiceMissing = errors.New("ble: wallbox service not found")

	// ErrCharacteristicMissing is returned when a required characteristic is absent.
	ErrCharacteristicMissing = errors.New("ble: characteristic not found")

	// ErrNotConnected is returned for writes on a closed or dropped session.
	ErrNotConnected = errors.New("ble: not connected")

	// ErrWriteFailed is returned when the stack rejects a write.
	ErrWriteFailed = errors.New("ble: write failed")

	// ErrUnknownChannel is returned when subscribing to an unmapped channel.
	ErrUnknownChannel = errors.New("ble: unknown channel")
)
