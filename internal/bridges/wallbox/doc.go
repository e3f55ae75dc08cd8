// Package wallbox implements the bridge between an EasyWallbox charging
// station and MQTT.
//
// The wallbox speaks an ASCII, newline-terminated command protocol over a
// short-range radio link (BLE). This package owns everything with state,
// ordering or recovery semantics on that path; the radio itself is consumed
// through the [Link] and [Session] interfaces.
//
// # Architecture
//
//	┌──────────┐  MQTT  ┌─────────────┐  Command  ┌──────────────┐  Session  ┌─────────┐
//	│  Broker  │◄──────►│ Coordinator │──Queue───►│  Connection  │◄─────────►│ Wallbox │
//	└──────────┘        └─────────────┘           │   Manager    │           └─────────┘
//	                          ▲                   └──────┬───────┘
//	                          │        Lines (framed)    │
//	                          └──────────────────────────┘
//
// # Components
//
//   - [Framer]: turns notification fragments into complete protocol lines,
//     one buffer per notification channel.
//   - [Mapper]: pure lookup from (topic suffix, payload) to device commands,
//     driven by a declarative [TopicRoute] table of [Route] variants.
//   - [CommandQueue] and [Dispatcher]: unbounded FIFO drained by a single
//     consumer, so at most one command is in flight.
//   - [ConnectionManager]: connect, register notifications, authenticate,
//     poll liveness, back off and retry forever.
//   - [Coordinator]: MQTT in, commands out; device lines in, retained state
//     out; read-after-write verification of every setting.
//
// # Topics
//
// All topics live under a configurable base (default "easywallbox"):
//
//	{base}/set/{entity}           inbound dashboard commands
//	{base}/{dpm|charge|limit|read} inbound legacy commands
//	{base}/control                inbound bridge control ("reconnect")
//	{base}/number/{entity}/state  confirmed numeric settings (retained)
//	{base}/switch/dpm/state       confirmed DPM mode (retained)
//	{base}/availability           online/offline (retained, LWT)
//	{base}/message                raw device lines
//	{base}/bridge/health          periodic health document (retained)
//
// # Thread Safety
//
// All exported types are safe for concurrent use unless noted otherwise.
package wallbox
