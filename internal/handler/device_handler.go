package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/scmxpert/scmxpertlite/internal/device"
	"github.com/scmxpert/scmxpertlite/internal/model"
)

// DeviceServiceInterface はテレメトリハンドラーが必要とするサービスインターフェース。
type DeviceServiceInterface interface {
	Insert(ctx context.Context, principal *model.Principal, in device.ReadingInput) (*model.DeviceReading, error)
	ListDevices(ctx context.Context) ([]string, error)
	Recent(ctx context.Context) ([]*model.DeviceReading, error)
	ByDevice(ctx context.Context, deviceID string) ([]*model.DeviceReading, error)
}

// DeviceHandler はIoTテレメトリのHTTPハンドラー。
type DeviceHandler struct {
	service DeviceServiceInterface
}

// NewDeviceHandler はDeviceHandlerを生成する。
func NewDeviceHandler(service DeviceServiceInterface) *DeviceHandler {
	return &DeviceHandler{
		service: service,
	}
}

// readingRequest はテレメトリの入力。JSONのキーは大文字小文字を区別しないため
// Device_ID形式のフォームフィールドもそのまま受け付ける。
type readingRequest struct {
	DeviceID               flexString `json:"device_id"`
	BatteryLevel           flexString `json:"battery_level"`
	FirstSensorTemperature flexString `json:"first_sensor_temperature"`
	RouteFrom              flexString `json:"route_from"`
	RouteTo                flexString `json:"route_to"`
	Timestamp              flexString `json:"timestamp"`
}

type readingResponse struct {
	ID                     string `json:"id"`
	DeviceID               string `json:"device_id"`
	BatteryLevel           string `json:"battery_level"`
	FirstSensorTemperature string `json:"first_sensor_temperature"`
	RouteFrom              string `json:"route_from"`
	RouteTo                string `json:"route_to"`
	Timestamp              string `json:"timestamp"`
}

type deviceIDResponse struct {
	DeviceID string `json:"device_id"`
}

// Insert はテレメトリを1件保存する。
// POST /device-data
func (h *DeviceHandler) Insert(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req readingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reading, err := h.service.Insert(r.Context(), principal, device.ReadingInput{
		DeviceID:               string(req.DeviceID),
		BatteryLevel:           string(req.BatteryLevel),
		FirstSensorTemperature: string(req.FirstSensorTemperature),
		RouteFrom:              string(req.RouteFrom),
		RouteTo:                string(req.RouteTo),
		Timestamp:              string(req.Timestamp),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Device data stored successfully",
		"record":  toReadingResponse(reading),
	})
}

// ListDevices はテレメトリを送信したデバイスIDの一覧を返す。
// GET /devices/list
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ListDevices(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	devices := make([]deviceIDResponse, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, deviceIDResponse{DeviceID: id})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(devices),
		"devices": devices,
	})
}

// Recent は直近のテレメトリを返す。
// GET /device-data/recent
func (h *DeviceHandler) Recent(w http.ResponseWriter, r *http.Request) {
	h.writeReadings(w, r, h.service.Recent)
}

// ByDevice は指定デバイスのテレメトリを返す。
// GET /device-data/{deviceID}
func (h *DeviceHandler) ByDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	h.writeReadings(w, r, func(ctx context.Context) ([]*model.DeviceReading, error) {
		return h.service.ByDevice(ctx, deviceID)
	})
}

func (h *DeviceHandler) writeReadings(w http.ResponseWriter, r *http.Request, fn func(context.Context) ([]*model.DeviceReading, error)) {
	readings, err := fn(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	records := make([]readingResponse, 0, len(readings))
	for _, reading := range readings {
		records = append(records, toReadingResponse(reading))
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func toReadingResponse(r *model.DeviceReading) readingResponse {
	return readingResponse{
		ID:                     r.ID,
		DeviceID:               r.DeviceID,
		BatteryLevel:           r.BatteryLevel,
		FirstSensorTemperature: r.FirstSensorTemperature,
		RouteFrom:              r.RouteFrom,
		RouteTo:                r.RouteTo,
		Timestamp:              r.Timestamp,
	}
}
