package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vigil-core/internal/device"
)

// defaultHistoryWindow is how far back a history query reaches when the
// client does not say.
const defaultHistoryWindow = 24 * time.Hour

// maxHistoryWindow caps the history window a client may request.
const maxHistoryWindow = 30 * 24 * time.Hour

// handleListDevices returns the device fleet with cached state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device with its last-known state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, device.ErrNotFound) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("getting device", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeviceStats returns fleet-level registry metrics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleDeviceHistory returns telemetry samples from InfluxDB over a
// trailing window given in hours (?hours=24).
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.influx == nil {
		writeNotFound(w, "telemetry history not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		writeNotFound(w, "device not found")
		return
	}

	window := defaultHistoryWindow
	if v := r.URL.Query().Get("hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			writeBadRequest(w, "hours must be a positive integer")
			return
		}
		window = time.Duration(hours) * time.Hour
		if window > maxHistoryWindow {
			window = maxHistoryWindow
		}
	}

	points, err := s.influx.RecentTelemetry(r.Context(), id, window)
	if err != nil {
		s.logger.Error("querying telemetry history", "device_id", id, "error", err)
		writeInternalError(w, "failed to query telemetry history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"window_h":  int(window.Hours()),
		"points":    points,
		"count":     len(points),
	})
}
