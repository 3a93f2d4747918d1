package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/voltwatch/internal/dashboard"
	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

const maxStateBody = 64 << 10

// stateResponse is the JSON form of the dashboard selection
type stateResponse struct {
	DeviceID string     `json:"deviceId"`
	Window   string     `json:"window,omitempty"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	MinHour  int        `json:"minHour"`
	MaxHour  int        `json:"maxHour"`
	Timezone string     `json:"timezone"`
}

// stateRequest is a partial update of the selection. Setting window switches to
// a rolling window; setting start and end switches to a fixed one.
type stateRequest struct {
	DeviceID *string `json:"deviceId"`
	Window   *string `json:"window"`
	Start    *string `json:"start"`
	End      *string `json:"end"`
	MinHour  *int    `json:"minHour"`
	MaxHour  *int    `json:"maxHour"`
}

func (s *Server) toStateResponse(sel dashboard.Selection) stateResponse {
	resp := stateResponse{
		DeviceID: sel.DeviceID,
		MinHour:  sel.MinHour,
		MaxHour:  sel.MaxHour,
		Timezone: s.dashboard.Location().String(),
	}
	if sel.Fixed() {
		start, end := sel.Start, sel.End
		resp.Start, resp.End = &start, &end
	} else {
		resp.Window = sel.Window.String()
	}
	return resp
}

// apply merges the request into sel
func (req stateRequest) apply(sel dashboard.Selection, loc *time.Location) (dashboard.Selection, error) {
	if req.DeviceID != nil {
		sel.DeviceID = *req.DeviceID
	}
	if req.MinHour != nil {
		sel.MinHour = *req.MinHour
	}
	if req.MaxHour != nil {
		sel.MaxHour = *req.MaxHour
	}

	if req.Window != nil {
		window, err := time.ParseDuration(*req.Window)
		if err != nil {
			return sel, fmt.Errorf("%w: window: %v", dashboard.ErrInvalidSelection, err)
		}
		sel.Window = window
		sel.Start, sel.End = time.Time{}, time.Time{}
	}

	if req.Start != nil || req.End != nil {
		if req.Start == nil || req.End == nil {
			return sel, fmt.Errorf("%w: start and end must be set together", dashboard.ErrInvalidSelection)
		}
		start, end := telemetry.ParseTimestampIn(*req.Start, loc), telemetry.ParseTimestampIn(*req.End, loc)
		if !start.Valid || !end.Valid {
			return sel, fmt.Errorf("%w: unparseable start or end", dashboard.ErrInvalidSelection)
		}
		sel.Start, sel.End = start.Time, end.Time
	}

	return sel, nil
}

// handleListDevices handles GET /api/v1/devices
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("Failed to list devices", zap.Error(err))
		writeError(w, statusForError(err), "failed to list devices: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetState handles GET /api/v1/state
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.toStateResponse(s.dashboard.State().Selection()))
}

// handlePutState handles PUT /api/v1/state. The new selection is refreshed
// before responding.
func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStateBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sel, err := req.apply(s.dashboard.State().Selection(), s.dashboard.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.dashboard.Select(r.Context(), sel)
	if err != nil && !errors.Is(err, dashboard.ErrNoDeviceSelected) {
		if errors.Is(err, dashboard.ErrInvalidSelection) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Warn("Refresh after selection change failed", zap.Error(err))
		writeError(w, statusForError(err), err.Error())
		return
	}

	s.logger.Info("Dashboard selection changed",
		zap.String("device", sel.DeviceID),
		zap.Int("min_hour", sel.MinHour),
		zap.Int("max_hour", sel.MaxHour))

	resp := map[string]interface{}{"state": s.toStateResponse(s.dashboard.State().Selection())}
	if snap != nil {
		resp["status"] = snap.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh handles POST /api/v1/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.dashboard.Refresh(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap.Status())
}
