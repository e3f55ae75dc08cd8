// Package ble connects the bridge to the wallbox over Bluetooth Low Energy
// using tinygo.org/x/bluetooth.
//
// Link implements wallbox.Link: it scans for the configured address,
// connects, resolves the wallbox service and its three characteristics,
// and hands back a Session. Session implements wallbox.Session:
//
//	data   (a73e9a10-...)  notify  command responses
//	status (75a9f022-...)  notify  status frames
//	rx     (a9da6040-...)  write   commands, write-without-response
//
// Disconnects reported by the host stack mark the session down so the
// connection manager notices on its next poll.
//
// The adapter is enabled once per process. On Linux a specific host
// controller can be chosen with Options.AdapterID (e.g. "hci1").
package ble
