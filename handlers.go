package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Tutortoise/parking-occupancy-service/detections"
	"github.com/Tutortoise/parking-occupancy-service/geometry"
	"github.com/Tutortoise/parking-occupancy-service/metrics"
	"github.com/Tutortoise/parking-occupancy-service/models"
	"github.com/Tutortoise/parking-occupancy-service/occupancy"
	"github.com/Tutortoise/parking-occupancy-service/overlay"
	"github.com/Tutortoise/parking-occupancy-service/regions"
)

const maxUploadSize = 10 << 20

type AppState struct {
	Session *occupancy.Session
	// Pool is nil when no detector is configured.
	Pool    *detections.ModelSessionPool
	Metrics *metrics.Metrics
	Overlay overlay.Style
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type ProposeRequest struct {
	Points []geometry.Point `json:"points"`
}

type RectRequest struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

type RegionsResponse struct {
	Regions []regions.Region `json:"regions"`
	Total   int              `json:"total"`
}

type OccupancyResponse struct {
	occupancy.Result
	Frame      uint64                  `json:"frame"`
	Regions    []occupancy.RegionState `json:"regions"`
	Detections []models.Detection      `json:"detections"`
	Summary    string                  `json:"summary"`
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/regions", state.handleListRegions).Methods("GET")
	r.HandleFunc("/regions", state.handleProposeRegion).Methods("POST")
	r.HandleFunc("/regions", state.handleClearRegions).Methods("DELETE")
	r.HandleFunc("/regions/rect", state.handleProposeRect).Methods("POST")
	r.HandleFunc("/regions/save", state.handleSaveRegions).Methods("POST")
	r.HandleFunc("/regions/load", state.handleLoadRegions).Methods("POST")

	r.HandleFunc("/occupancy", state.handleOccupancy).Methods("POST")
	r.HandleFunc("/preview", state.handlePreview).Methods("POST")
	r.HandleFunc("/status", state.handleStatus).Methods("GET")

	state.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods("GET")
	}
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

func (s *AppState) handleListRegions(w http.ResponseWriter, _ *http.Request) {
	list := s.Session.Regions()
	writeJSON(w, http.StatusOK, RegionsResponse{Regions: list, Total: len(list)})
}

func (s *AppState) handleProposeRegion(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid_request", "Failed to parse region", err.Error(), http.StatusBadRequest)
		return
	}
	s.propose(w, req.Points)
}

func (s *AppState) handleProposeRect(w http.ResponseWriter, r *http.Request) {
	var req RectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid_request", "Failed to parse rectangle", err.Error(), http.StatusBadRequest)
		return
	}
	s.propose(w, geometry.RectanglePolygon(req.X1, req.Y1, req.X2, req.Y2))
}

func (s *AppState) propose(w http.ResponseWriter, points []geometry.Point) {
	region, err := s.Session.Propose(points)
	if err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, region)
}

func (s *AppState) handleClearRegions(w http.ResponseWriter, r *http.Request) {
	removeFile, _ := strconv.ParseBool(r.URL.Query().Get("remove_file"))
	if err := s.Session.Clear(removeFile); err != nil {
		sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *AppState) handleSaveRegions(w http.ResponseWriter, _ *http.Request) {
	if err := s.Session.Save(); err != nil {
		sendError(w, err)
		return
	}
	list := s.Session.Regions()
	writeJSON(w, http.StatusOK, RegionsResponse{Regions: list, Total: len(list)})
}

func (s *AppState) handleLoadRegions(w http.ResponseWriter, _ *http.Request) {
	if err := s.Session.Load(); err != nil {
		sendError(w, err)
		return
	}
	list := s.Session.Regions()
	writeJSON(w, http.StatusOK, RegionsResponse{Regions: list, Total: len(list)})
}

func (s *AppState) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	img, ok := readImage(w, r)
	if !ok {
		return
	}

	fr, err := s.Session.ProcessFrame(r.Context(), img)
	if err != nil {
		sendError(w, err)
		return
	}

	log.Debug().
		Uint64("frame", fr.Sequence).
		Str("summary", fr.Summary()).
		Dur("total", time.Since(start)).
		Msg("occupancy request served")

	writeJSON(w, http.StatusOK, newOccupancyResponse(fr))
}

func (s *AppState) handlePreview(w http.ResponseWriter, r *http.Request) {
	img, ok := readImage(w, r)
	if !ok {
		return
	}

	var out *image.RGBA
	var err error
	if withOccupancy, _ := strconv.ParseBool(r.URL.Query().Get("occupancy")); withOccupancy {
		fr, perr := s.Session.ProcessFrame(r.Context(), img)
		if perr != nil {
			sendError(w, perr)
			return
		}
		out, err = overlay.DrawOccupancy(img, fr.Regions, fr.Result, fr.Vehicles, s.Overlay)
	} else {
		out, err = overlay.DrawOutlines(img, s.Session.Regions(), s.Overlay.Free, overlay.OutlineThickness)
	}
	if err != nil {
		sendErrorResponse(w, "processing_error", "Failed to render preview", err.Error(), http.StatusInternalServerError)
		return
	}

XX, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *AppState) handleStatus(w http.ResponseWriter, _ *http.Request) {
	fr, ok := s.Session.Latest()
	if !ok {
		sendErrorResponse(w, "no_result", MsgNoResult, "", http.StatusNotFound)
		return
	}
	resp := newOccupancyResponse(fr)
	writeJSON(w, http.StatusOK, struct {
		OccupancyResponse
		Timestamp time.Time `json:"timestamp"`
	}{resp, fr.Timestamp})
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"status":       "ok",
		"regions":      len(s.Session.Regions()),
		"detector":     s.Session.HasDetector(),
		"cpu_features": detections.CPUFeatures(),
	}
	if s.Pool != nil {
		m := s.Pool.GetMetrics()
		response["pool_size"] = m.Size
		response["sessions_in_use"] = m.InUse
		response["total_acquired"] = m.TotalAcquired
		response["total_released"] = m.TotalReleased
		response["acquire_failures"] = m.AcquireFailures
	}
	writeJSON(w, http.StatusOK, response)
}

func newOccupancyResponse(fr occupancy.FrameResult) OccupancyResponse {
	vehicles := fr.Vehicles
	if vehicles == nil {
		vehicles = []models.Detection{}
	}
	return OccupancyResponse{
		Result:     fr.Result,
		Frame:      fr.Sequence,
		Regions:    fr.States(fr.Regions),
		Detections: vehicles,
		Summary:    fr.Summary(),
	}
}

// readImage accepts the frame as JSON base64, a multipart "file" field or the
// raw request body. It writes the error response itself and reports whether
// an image was decoded.
func readImage(w http.ResponseWriter, r *http.Request) (image.Image, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	contentType := r.Header.Get("Content-Type")

	var imgBytes []byte
	var err error

	switch {
	case strings.HasPrefix(contentType, "application/json"):
		imgBytes, err = handleJSONRequest(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		imgBytes, err = handleMultipartRequest(r)
	default:
		imgBytes, err = handleRawRequest(r)
	}
	if err != nil {
		sendErrorResponse(w, "invalid_request", "Failed to read image", err.Error(), http.StatusBadRequest)
		return nil, false
	}

	img, err := decodeImage(imgBytes)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if img.Bounds().Empty() {
		sendErrorResponse(w, "invalid_image", MsgEmptyFrame, "", http.StatusBadRequest)
		return nil, false
	}
	return img, true
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}

func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// sendError maps engine errors to HTTP statuses.
func sendError(w http.ResponseWriter, err error) {
	var intersection *regions.IntersectionError
	switch {
	case errors.As(err, &intersection):
		sendErrorResponse(w, "intersection", MsgIntersection,
			fmt.Sprintf("overlaps region %d", intersection.ExistingID), http.StatusConflict)
	case errors.Is(err, detections.ErrEmptyFrame):
		sendErrorResponse(w, "invalid_image", MsgEmptyFrame, err.Error(), http.StatusBadRequest)
	case errors.Is(err, geometry.ErrInvalidGeometry):
		sendErrorResponse(w, "invalid_geometry", MsgInvalidGeometry, err.Error(), http.StatusBadRequest)
	case errors.Is(err, regions.ErrMalformedPersistedData):
		sendErrorResponse(w, "malformed_regions", MsgMalformedRegions, err.Error(), http.StatusBadRequest)
	case errors.Is(err, occupancy.ErrNoRegions):
		sendErrorResponse(w, "no_regions", MsgNoRegions, "", http.StatusBadRequest)
	case errors.Is(err, os.ErrNotExist):
		sendErrorResponse(w, "regions_not_found", MsgRegionsFileMissing, err.Error(), http.StatusNotFound)
	case errors.Is(err, detections.ErrDetectorUnavailable),
		errors.Is(err, detections.ErrAcquireTimeout),
		errors.Is(err, detections.ErrPoolClosed):
		sendErrorResponse(w, "detector_unavailable", MsgDetectorUnavailable, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Msg("request failed")
		sendErrorResponse(w, "processing_error", "Failed to process request", err.Error(), http.StatusInternalServerError)
	}
}

func sendErrorResponse(w http.ResponseWriter, code, message, details string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
