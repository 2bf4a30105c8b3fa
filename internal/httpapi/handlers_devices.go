package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/domain/device"
	"github.com/fleetward/control-plane/internal/storage"
)

// Device management (spec.md §6 "GET/PUT/DELETE /devices, /devices/:id").
// storage.DeviceStore exposes no delete operation (spec.md §4.4 lists only
// get_by_id, get_by_mac, create, update, list), so DELETE is intentionally
// not wired; a decommission flow would need a storage-layer addition this
// core does not define.

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	enrollmentToken := r.URL.Query().Get("enrollment_token")
	devices, err := s.Devices.ListDevices(r.Context(), enrollmentToken)
	if err != nil {
		writeErr(w, apierr.DatabaseError("list_devices", err))
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

func (s *Server) handleDeviceGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dev, err := s.Devices.GetDevice(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, apierr.DeviceNotFound(id))
		return
	}
	if err != nil {
		writeErr(w, apierr.DatabaseError("get_device", err))
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"device": dev})
}

type deviceUpdateRequest struct {
	Status   *string `json:"status,omitempty"`
	Version  *string `json:"version,omitempty"`
	Platform *string `json:"platform,omitempty"`
}

func (s *Server) handleDeviceUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req deviceUpdateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}

	upd := device.Update{Version: req.Version}
	if req.Status != nil {
		st := device.Status(*req.Status)
		upd.Status = &st
	}
	if req.Platform != nil {
		pl := device.Platform(*req.Platform)
		upd.Platform = &pl
	}

	dev, err := s.Devices.UpdateDevice(r.Context(), id, upd)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, apierr.DeviceNotFound(id))
		return
	}
	if err != nil {
		writeErr(w, apierr.DatabaseError("update_device", err))
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"device": dev})
}
