package api

import (
	"net/http"
)

// handleStream handles GET /api/v1/stream. Clients join the room of the
// selected device unless ?device= names another.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("device")
	if room == "" {
		room = s.dashboard.State().Selection().DeviceID
	}
	if room == "" {
		writeError(w, http.StatusConflict, "no device selected")
		return
	}
	s.stream.ServeWS(w, r, room)
}
