// Package homeassistant publishes Home Assistant MQTT discovery documents
// for the wallbox bridge.
//
// Each entity is announced as a retained JSON config on
//
//	{prefix}/{component}/{node_id}/{object_id}/config
//
// and points its state and command topics at the bridge topic tree built by
// the wallbox package. All entities share the bridge availability topic so
// Home Assistant greys them out when the broker delivers the last will.
//
// The Discovery type satisfies wallbox.DiscoveryPublisher; the coordinator
// calls it on every broker (re)connect.
package homeassistant
