package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bryndle/hearth-core/internal/telemetry"
)

// handleListThresholds returns all configured thresholds.
func (s *Server) handleListThresholds(w http.ResponseWriter, _ *http.Request) {
	list := s.monitor.ListThresholds()
	writeJSON(w, http.StatusOK, map[string]any{"thresholds": list, "count": len(list)})
}

// handleGetThreshold returns the threshold for one device sensor.
func (s *Server) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	sensorType := chi.URLParam(r, "sensorType")
	if deviceID == "" || sensorType == "" || len(deviceID) > maxQueryParamLen || len(sensorType) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID or sensor type")
		return
	}

	t, err := s.monitor.GetThreshold(deviceID, sensorType)
	if err != nil {
		if errors.Is(err, telemetry.ErrThresholdNotFound) {
			writeNotFound(w, "threshold not found")
			return
		}
		writeInternalError(w, "failed to get threshold")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// handleSetThreshold creates or replaces a threshold. The monitor
// starts evaluating the new bounds on the next reading.
func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var t telemetry.Threshold
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.monitor.SetThreshold(r.Context(), &t); err != nil {
		if errors.Is(err, telemetry.ErrInvalidThreshold) {
			writeValidationError(w, err.Error())
			return
		}
		writeInternalError(w, "failed to set threshold")
		return
	}

	s.operatorAction(r, "update", "threshold", t.DeviceID+"/"+t.SensorType, nil)
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteThreshold removes the threshold for one device sensor.
func (s *Server) handleDeleteThreshold(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	sensorType := chi.URLParam(r, "sensorType")
	if deviceID == "" || sensorType == "" || len(deviceID) > maxQueryParamLen || len(sensorType) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID or sensor type")
		return
	}

	if err := s.monitor.DeleteThreshold(r.Context(), deviceID, sensorType); err != nil {
		if errors.Is(err, telemetry.ErrThresholdNotFound) {
			writeNotFound(w, "threshold not found")
			return
		}
		writeInternalError(w, "failed to delete threshold")
		return
	}

	s.operatorAction(r, "delete", "threshold", deviceID+"/"+sensorType, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "device_id": deviceID, "sensor_type": sensorType})
}
