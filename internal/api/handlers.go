package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/easywallbox-bridge/internal/bridges/wallbox"
)

// limitSuffixes maps the limit kinds accepted on /api/limit/{kind} to the
// command topic suffix that sets them.
var limitSuffixes = map[string]string{
	"user": "set/" + wallbox.FieldUserLimit,
	"safe": "set/" + wallbox.FieldSafeLimit,
	"dpm":  "set/" + wallbox.FieldDPMLimit,
}

// chargePayloads maps /api/charge/{action} to the set/charge payload.
var chargePayloads = map[string]string{
	"start": wallbox.PayloadOn,
	"stop":  wallbox.PayloadOff,
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	BLEConnected  bool   `json:"ble_connected"`
	MQTTConnected bool   `json:"mqtt_connected"`
	WSClients     int    `json:"ws_clients"`
}

// CommandResponse acknowledges a queued command.
type CommandResponse struct {
	Status string `json:"status"`
	Queued int    `json:"queued"`
}

// LimitRequest is the body of POST /api/limit/{kind}.
type LimitRequest struct {
	Value json.Number `json:"value"`
}

// handleHealth reports "ok" when both links are up and "degraded" otherwise.
// The HTTP status is always 200 so supervisors only restart a dead process.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.controller.Status()
	status := "ok"
	if !st.BLEConnected || !st.MQTTConnected {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		BLEConnected:  st.BLEConnected,
		MQTTConnected: st.MQTTConnected,
		WSClients:     s.hub.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleReconnect(w http.ResponseWriter, _ *http.Request) {
	s.controller.RequestReconnect()
	s.logger.Info("reconnect requested via API")
	writeJSON(w, http.StatusAccepted, CommandResponse{Status: "ok", Queued: 1})
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	n := s.controller.Refresh()
	writeJSON(w, http.StatusAccepted, CommandResponse{Status: "ok", Queued: n})
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	suffix, ok := limitSuffixes[kind]
	if !ok {
		writeNotFound(w, "unknown limit type: "+kind)
		return
	}

	var req LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == "" {
		writeBadRequest(w, "value is required")
		return
	}

	n := s.controller.Submit(suffix, req.Value.String())
	if n == 0 {
		writeValidationError(w, "value must be a non-negative number")
		return
	}

	s.logger.Info("limit change requested via API", "kind", kind, "value", req.Value.String())
	writeJSON(w, http.StatusAccepted, CommandResponse{Status: "ok", Queued: n})
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	payload, ok := chargePayloads[action]
	if !ok {
		writeNotFound(w, "unknown charge action: "+action)
		return
	}

	n := s.controller.Submit("set/charge", payload)
	if n == 0 {
		writeInternalError(w, "charge command not routed")
		return
	}
	writeJSON(w, http.StatusAccepted, CommandResponse{Status: "ok", Queued: n})
}
