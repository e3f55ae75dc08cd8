// This package provides:
//   - REST endpoints for the wallbox dashboard (status, limits, charge,
//     refresh, reconnect)
//   - A WebSocket hub that pushes the bridge status on every change
//   - Prometheus exposition on /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server never talks to the wallbox or the broker directly. Commands
// go through the Controller interface, which the coordinator implements by
// mapping them onto the same topic suffixes MQTT clients use, so the HTTP
// and MQTT paths share one dispatch queue and one ordering guarantee.
//
// # Security
//
// There is no authentication: the API is meant for the Home Assistant
// ingress panel on a trusted network. Restrict exposure with api.host and
// api.cors.allowed_origins.
package api
