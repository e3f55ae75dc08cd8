package ble

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"
)

// GATT identifiers of the wallbox.
const (
	ServiceUUID = "331a36f5-2459-45ea-9d95-6142f0c4b307"

	// DataUUID notifies command responses.
	DataUUID = "a73e9a10-628f-4494-a099-12efaf72258f"

	// StatusUUID notifies status frames.
	StatusUUID = "75a9f022-af03-4e41-b4bc-9de90a47d50b"

	// RxUUID accepts commands.
	RxUUID = "a9da6040-0823-4995-94ec-9ce41ca28833"
)

var (
	serviceUUID = mustParseUUID(ServiceUUID)
	dataUUID    = mustParseUUID(DataUUID)
	statusUUID  = mustParseUUID(StatusUUID)
	rxUUID      = mustParseUUID(RxUUID)
)

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("ble: invalid uuid %q: %v", s, err))
	}
	return u
}

// normalizeUUID lowercases a UUID string for map lookups.
func normalizeUUID(s string) string {
	return strings.ToLower(s)
}

// wallboxCharacteristics holds the three characteristics a session needs.
type wallboxCharacteristics[T any] struct {
	data   T
	status T
	rx     T
}

// pickCharacteristics selects the wallbox characteristics from the
// discovered set, keyed by normalised UUID.
func pickCharacteristics[T any](found map[string]T) (wallboxCharacteristics[T], error) {
	var out wallboxCharacteristics[T]
	var missing []string

	pick := func(uuid string, dst *T) {
		c, ok := found[normalizeUUID(uuid)]
		if !ok {
			missing = append(missing, uuid)
			return
		}
		*dst = c
	}
	pick(DataUUID, &out.data)
	pick(StatusUUID, &out.status)
	pick(RxUUID, &out.rx)

	if len(missing) > 0 {
		return out, fmt.Errorf("%w: %s", ErrCharacteristicMissing, strings.Join(missing, ", "))
	}
	return out, nil
}

// sameAddress compares BLE addresses case-insensitively.
func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
