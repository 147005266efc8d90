package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	devices "powerstation-cloud/internal/devices/domain"
)

const defaultHistoryWindow = 24 * time.Hour

// SnapshotReader serves the latest telemetry per device.
type SnapshotReader interface {
	Latest(deviceID string) (devices.Metrics, bool)
}

// HistoryReader serves persisted telemetry ranges.
type HistoryReader interface {
	Range(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]devices.Metrics, error)
}

// Handler provides read endpoints over the device registry and telemetry.
type Handler struct {
	registry  devices.Repository
	snapshots SnapshotReader
	history   HistoryReader
}

// NewHandler constructs a device handler. The history reader is optional.
func NewHandler(registry devices.Repository, snapshots SnapshotReader, history HistoryReader) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("device handler: nil registry")
	}
	if snapshots == nil {
		return nil, errors.New("device handler: nil snapshots")
	}
	return &Handler{registry: registry, snapshots: snapshots, history: history}, nil
}

// ServeHTTP handles /api/v1/devices and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/devices":
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/"):
		h.handleDevice(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type deviceView struct {
	devices.Device
	Telemetry *devices.Metrics `json:"telemetry,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.registry.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]deviceView, 0, len(all))
	for _, device := range all {
		view := deviceView{Device: device}
		if m, ok := h.snapshots.Latest(device.ID); ok {
			snapshot := m
			view.Telemetry = &snapshot
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleDetail(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "history":
		h.handleHistory(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request, deviceID string) {
	device, err := h.registry.Get(r.Context(), deviceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if device == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	view := deviceView{Device: *device}
	if m, ok := h.snapshots.Latest(device.ID); ok {
		snapshot := m
		view.Telemetry = &snapshot
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, deviceID string) {
	if h.history == nil {
		http.Error(w, "history not available", http.StatusNotFound)
		return
	}
	query := r.URL.Query()
	to := time.Now().UTC()
	from := to.Add(-defaultHistoryWindow)
	if raw := query.Get("from"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		from = at
	}
	if raw := query.Get("to"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		to = at
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	points, err := h.history.Range(r.Context(), deviceID, from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []devices.Metrics{}
	}
	writeJSON(w, http.StatusOK, points)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
