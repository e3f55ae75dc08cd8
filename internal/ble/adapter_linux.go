//go:build linux

package ble

import "tinygo.org/x/bluetooth"

const adapterSelectable = true

// selectAdapter returns the BlueZ adapter with the given id, or the default.
func selectAdapter(id string) *bluetooth.Adapter {
	if id == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(id)
}
