package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aaronlmathis/voltwatch/internal/chart"
	"github.com/aaronlmathis/voltwatch/internal/dashboard"
	"github.com/aaronlmathis/voltwatch/internal/render"
	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// Chart size limits for the width and height overrides
const (
	minChartSize = 100
	maxChartSize = 4000
)

// snapshotMeta is carried by every telemetry response
type snapshotMeta struct {
	DeviceID       string `json:"deviceId"`
	NoDataForRange bool   `json:"noDataForRange"`
	UnknownFormat  bool   `json:"unknownFormat"`
}

func metaOf(snap *dashboard.Snapshot) snapshotMeta {
	return snapshotMeta{
		DeviceID:       snap.DeviceID,
		NoDataForRange: snap.NoDataForRange,
		UnknownFormat:  snap.UnknownFormat,
	}
}

// snapshot returns the current snapshot, refreshing first when there is none
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*dashboard.Snapshot, bool) {
	if snap := s.dashboard.Snapshot(); snap != nil {
		return snap, true
	}

	snap, err := s.dashboard.Refresh(r.Context())
	if err == nil && snap == nil {
		err = errors.New("selection changed during refresh")
	}
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return nil, false
	}
	return snap, true
}

// handleSeries handles GET /api/v1/series
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStats handles GET /api/v1/stats?fields=a,b
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, struct {
		snapshotMeta
		Statistics interface{} `json:"statistics"`
	}{metaOf(snap), snap.Statistics(parseFieldsParam(r.URL.Query().Get("fields")))})
}

// handleDeviations handles GET /api/v1/deviations?fields=...&mode=balance
func (s *Server) handleDeviations(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	mode := query.Get("mode")
	switch mode {
	case "":
		mode = "history"
	case "history", "balance":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q (want history or balance)", mode))
		return
	}

	writeJSON(w, http.StatusOK, struct {
		snapshotMeta
		Mode       string      `json:"mode"`
		Deviations interface{} `json:"deviations"`
	}{
		metaOf(snap),
		mode,
		snap.Deviations(parseFieldsParam(query.Get("fields")), mode == "balance"),
	})
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Status())
}

// handleChart handles GET /api/v1/charts/{field} (geometry JSON) and
// GET /api/v1/charts/{field}.png
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	asPNG := strings.HasSuffix(field, ".png")
	field = telemetry.CanonicalField(strings.TrimSuffix(field, ".png"))
	if field == "" {
		writeError(w, http.StatusBadRequest, "field is required")
		return
	}

	layout, err := s.chartLayout(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	if asPNG {
		s.writeChartPNG(w, snap, field, layout)
		return
	}

	geometry, ok := snap.Chart(field, layout)
	if !ok {
		if snap.Series.IsEmpty() {
			writeJSON(w, http.StatusOK, struct {
				snapshotMeta
				Field string `json:"field"`
			}{metaOf(snap), field})
			return
		}
		writeError(w, http.StatusNotFound, fmt.Sprintf("no readings for field %q", field))
		return
	}

	writeJSON(w, http.StatusOK, struct {
		snapshotMeta
		Geometry chart.Geometry `json:"geometry"`
	}{metaOf(snap), geometry})
}

func (s *Server) writeChartPNG(w http.ResponseWriter, snap *dashboard.Snapshot, field string, layout chart.Layout) {
	var buf bytes.Buffer
	if err := render.PNG(&buf, snap.Series, field, layout); err != nil {
		if errors.Is(err, render.ErrNoPoints) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no readings for field %q", field))
			return
		}
		s.logger.Error("Failed to render chart", zap.String("field", field), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// chartLayout applies the width and height query overrides to the default layout
func (s *Server) chartLayout(r *http.Request) (chart.Layout, error) {
	layout := s.layout
	query := r.URL.Query()

	width, err := parseIntParam(query.Get("width"), int(layout.Width), minChartSize, maxChartSize)
	if err != nil {
		return layout, fmt.Errorf("width: %w", err)
	}
	height, err := parseIntParam(query.Get("height"), int(layout.Height), minChartSize, maxChartSize)
	if err != nil {
		return layout, fmt.Errorf("height: %w", err)
	}

	layout.Width, layout.Height = float64(width), float64(height)
	return layout, nil
}
