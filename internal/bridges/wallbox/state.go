package wallbox

import (
	"sync"
	"time"
)

// Field names of the monitored device settings.
const (
	FieldUserLimit = "user_limit"
	FieldSafeLimit = "safe_limit"
	FieldDPMLimit  = "dpm_limit"
	FieldDPM       = "dpm"
)

// Entity components used in state topics.
const (
	ComponentNumber = "number"
	ComponentSwitch = "switch"
)

// Field describes a monitored device setting.
type Field struct {
	Name      string
	Component string
	Index     int
}

// Fields lists the monitored settings in refresh order.
var Fields = []Field{
	{Name: FieldUserLimit, Component: ComponentNumber, Index: IndexUserLimit},
	{Name: FieldSafeLimit, Component: ComponentNumber, Index: IndexSafeLimit},
	{Name: FieldDPMLimit, Component: ComponentNumber, Index: IndexDPMLimit},
	{Name: FieldDPM, Component: ComponentSwitch, Index: IndexDPMMode},
}

// FieldForIndex returns the monitored field stored at index.
func FieldForIndex(index int) (Field, bool) {
	for _, f := range Fields {
		if f.Index == index {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByName returns the monitored field with the given name.
func FieldByName(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// stateValue converts a raw device value into the published state payload.
// Switch fields publish ON/OFF; numbers publish the device text unchanged.
func (f Field) stateValue(raw string) string {
	if f.Component != ComponentSwitch {
		return raw
	}
	if raw == "0" {
		return "OFF"
	}
	return "ON"
}

// FieldValue is the last confirmed value of a field.
type FieldValue struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot maps field names to their last confirmed values.
type Snapshot map[string]FieldValue

// DeviceState holds the last-known value per monitored field.
// Only the Coordinator mutates it, and only from confirmed device responses.
type DeviceState struct {
	mu     sync.RWMutex
	values Snapshot
}

// NewDeviceState creates an empty state.
func NewDeviceState() *DeviceState {
	return &DeviceState{values: make(Snapshot)}
}

// Set records value for field and reports whether it changed.
func (s *DeviceState) Set(field, value string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.values[field]
	s.values[field] = FieldValue{Value: value, UpdatedAt: at}
	return !ok || prev.Value != value
}

// Restore replaces the state with a previously persisted snapshot.
func (s *DeviceState) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(Snapshot, len(snap))
	for k, v := range snap {
		s.values[k] = v
	}
}

// Get returns the value of field.
func (s *DeviceState) Get(field string) (FieldValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[field]
	return v, ok
}

// Snapshot returns a copy of all values.
func (s *DeviceState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Snapshot, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Status is the bridge view served to dashboards.
type Status struct {
	BLEConnected  bool      `json:"ble_connected"`
	MQTTConnected bool      `json:"mqtt_connected"`
	LinkState     string    `json:"link_state"`
	LastData      string    `json:"last_data"`
	LastDataAt    time.Time `json:"last_data_at,omitzero"`
	QueueDepth    int       `json:"queue_depth"`
	State         Snapshot  `json:"state"`
}
