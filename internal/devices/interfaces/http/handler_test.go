package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	devices "powerstation-cloud/internal/devices/domain"
)

type memoryRegistry struct {
	devices map[string]devices.Device
}

func (r *memoryRegistry) Get(_ context.Context, id string) (*devices.Device, error) {
	device, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	return &device, nil
}

func (r *memoryRegistry) List(_ context.Context) ([]devices.Device, error) {
	out := make([]devices.Device, 0, len(r.devices))
	for _, device := range r.devices {
		out = append(out, device)
	}
	return out, nil
}

func (r *memoryRegistry) Upsert(_ context.Context, device *devices.Device) error {
	r.devices[device.ID] = *device
	return nil
}

type stubSnapshots struct {
	metrics map[string]devices.Metrics
}

func (s stubSnapshots) Latest(deviceID string) (devices.Metrics, bool) {
	m, ok := s.metrics[deviceID]
	return m, ok
}

type stubHistory struct {
	deviceID string
	from, to time.Time
	limit    int
	points   []devices.Metrics
}

func (s *stubHistory) Range(_ context.Context, deviceID string, from, to time.Time, limit int) ([]devices.Metrics, error) {
	s.deviceID = deviceID
	s.from = from
	s.to = to
	s.limit = limit
	return s.points, nil
}

func newTestHandler(t *testing.T, registry *memoryRegistry, snapshots stubSnapshots, history HistoryReader) *Handler {
	t.Helper()
	handler, err := NewHandler(registry, snapshots, history)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func TestListDevicesIncludesTelemetry(t *testing.T) {
	registry := &memoryRegistry{devices: map[string]devices.Device{
		"dev-1": {ID: "dev-1", Serial: "R331ZEB1", Name: "Garage Delta", Online: true},
	}}
	snapshots := stubSnapshots{metrics: map[string]devices.Metrics{
		"dev-1": {DeviceID: "dev-1", SOC: 42},
	}}
	handler := newTestHandler(t, registry, snapshots, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []deviceView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("views = %d", len(views))
	}
	if views[0].Telemetry == nil || views[0].Telemetry.SOC != 42 {
		t.Fatalf("telemetry missing: %+v", views[0])
	}
}

func TestDeviceDetailNotFound(t *testing.T) {
	handler := newTestHandler(t, &memoryRegistry{devices: map[string]devices.Device{}}, stubSnapshots{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeviceHistoryRange(t *testing.T) {
	registry := &memoryRegistry{devices: map[string]devices.Device{
		"dev-1": {ID: "dev-1", Serial: "R331ZEB1"},
	}}
	history := &stubHistory{points: []devices.Metrics{{DeviceID: "dev-1", SOC: 80}}}
	handler := newTestHandler(t, registry, stubSnapshots{}, history)

	rec := httptest.NewRecorder()
	target := "/api/v1/devices/dev-1/history?from=2026-08-01T00:00:00Z&to=2026-08-02T00:00:00Z&limit=50"
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if history.deviceID != "dev-1" || history.limit != 50 {
		t.Fatalf("range args not forwarded: %+v", history)
	}
	if history.from.Day() != 1 || history.to.Day() != 2 {
		t.Fatalf("window not parsed: %v .. %v", history.from, history.to)
	}
	var points []devices.Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 1 || points[0].SOC != 80 {
		t.Fatalf("points = %+v", points)
	}
}

func TestDeviceHistoryUnavailable(t *testing.T) {
	registry := &memoryRegistry{devices: map[string]devices.Device{}}
	handler := newTestHandler(t, registry, stubSnapshots{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-1/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
