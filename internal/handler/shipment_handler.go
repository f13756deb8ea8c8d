package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/shipment"
)

// ShipmentServiceInterface は出荷記録ハンドラーが必要とするサービスインターフェース。
type ShipmentServiceInterface interface {
	Create(ctx context.Context, principal *model.Principal, in shipment.Input) (*model.Shipment, error)
	List(ctx context.Context) ([]*model.Shipment, error)
}

// ShipmentHandler は出荷記録のHTTPハンドラー。
type ShipmentHandler struct {
	service ShipmentServiceInterface
}

// NewShipmentHandler はShipmentHandlerを生成する。
func NewShipmentHandler(service ShipmentServiceInterface) *ShipmentHandler {
	return &ShipmentHandler{
		service: service,
	}
}

type shipmentRequest struct {
	ShipmentNumber       string `json:"shipment_number"`
	ContainerNumber      string `json:"container_number"`
	RouteFrom            string `json:"route_from"`
	RouteTo              string `json:"route_to"`
	GoodsType            string `json:"goods_type"`
	Device               string `json:"device"`
	ExpectedDeliveryDate string `json:"expected_delivery_date"`
	PONumber             string `json:"po_number"`
	NDCNumber            string `json:"ndc_number"`
	SerialNumberGoods    string `json:"serial_number_goods"`
	DeliveryNumber       string `json:"delivery_number"`
	BatchID              string `json:"batch_id"`
	ShipmentPriority     string `json:"shipment_priority"`
	ShipmentHealth       string `json:"shipment_health"`
	ShipmentDescription  string `json:"shipment_description"`
}

type shipmentResponse struct {
	ShipmentNumber       string    `json:"shipment_number"`
	ContainerNumber      string    `json:"container_number"`
	RouteFrom            string    `json:"route_from"`
	RouteTo              string    `json:"route_to"`
	GoodsType            string    `json:"goods_type"`
	Device               string    `json:"device"`
	ExpectedDeliveryDate string    `json:"expected_delivery_date"`
	PONumber             string    `json:"po_number"`
	NDCNumber            string    `json:"ndc_number"`
	SerialNumberGoods    string    `json:"serial_number_goods"`
	DeliveryNumber       string    `json:"delivery_number"`
	BatchID              string    `json:"batch_id"`
	ShipmentPriority     string    `json:"shipment_priority"`
	ShipmentHealth       string    `json:"shipment_health"`
	ShipmentDescription  string    `json:"shipment_description"`
	CreatedBy            string    `json:"created_by"`
	CreatedAt            time.Time `json:"created_at"`
}

// Create は出荷記録を作成する。
// POST /api/shipments/create
func (h *ShipmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req shipmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), principal, shipment.Input{
		ShipmentNumber:       req.ShipmentNumber,
		ContainerNumber:      req.ContainerNumber,
		RouteFrom:            req.RouteFrom,
		RouteTo:              req.RouteTo,
		GoodsType:            req.GoodsType,
		Device:               req.Device,
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		PONumber:             req.PONumber,
		NDCNumber:            req.NDCNumber,
		SerialNumberGoods:    req.SerialNumberGoods,
		DeliveryNumber:       req.DeliveryNumber,
		BatchID:              req.BatchID,
		ShipmentPriority:     req.ShipmentPriority,
		ShipmentHealth:       req.ShipmentHealth,
		ShipmentDescription:  req.ShipmentDescription,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "Shipment created successfully",
		"shipment": toShipmentResponse(created),
	})
}

// List は出荷記録を新しい順に返す。
// GET /api/shipments
func (h *ShipmentHandler) List(w http.ResponseWriter, r *http.Request) {
	shipments, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]shipmentResponse, 0, len(shipments))
	for _, s := range shipments {
		resp = append(resp, toShipmentResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(resp),
		"shipments": resp,
	})
}

func toShipmentResponse(s *model.Shipment) shipmentResponse {
	return shipmentResponse{
		ShipmentNumber:       s.ShipmentNumber,
		ContainerNumber:      s.ContainerNumber,
		RouteFrom:            s.RouteFrom,
		RouteTo:              s.RouteTo,
		GoodsType:            s.GoodsType,
		Device:               s.Device,
		ExpectedDeliveryDate: s.ExpectedDeliveryDate.Format(time.DateOnly),
		PONumber:             s.PONumber,
		NDCNumber:            s.NDCNumber,
		SerialNumberGoods:    s.SerialNumberGoods,
		DeliveryNumber:       s.DeliveryNumber,
		BatchID:              s.BatchID,
		ShipmentPriority:     s.ShipmentPriority,
		ShipmentHealth:       s.ShipmentHealth,
		ShipmentDescription:  s.ShipmentDescription,
		CreatedBy:            s.CreatedBy,
		CreatedAt:            s.CreatedAt,
	}
}
