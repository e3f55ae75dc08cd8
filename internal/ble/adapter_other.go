//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

const adapterSelectable = false

func selectAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
