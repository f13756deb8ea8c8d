// Package shipment は出荷記録の作成と一覧を提供する。
package shipment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/repository"
)

// dateLayout は予定納期の入力形式。
const dateLayout = "2006-01-02"

var (
	lettersPattern      = regexp.MustCompile(`^[A-Za-z ]+$`)
	ndcPattern          = regexp.MustCompile(`^[0-9-]+$`)
	alphanumericPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

// Input は出荷記録の作成入力。
type Input struct {
	ShipmentNumber       string
	ContainerNumber      string
	RouteFrom            string
	RouteTo              string
	GoodsType            string
	Device               string
	ExpectedDeliveryDate string
	PONumber             string
	NDCNumber            string
	SerialNumberGoods    string
	DeliveryNumber       string
	BatchID              string
	ShipmentPriority     string
	ShipmentHealth       string
	ShipmentDescription  string
}

// Service は出荷記録のサービス層。
type Service struct {
	repo repository.ShipmentRepository
	now  func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.ShipmentRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create は入力を検証して出荷記録を保存する。
func (s *Service) Create(ctx context.Context, principal *model.Principal, in Input) (*model.Shipment, error) {
	shipment, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	shipment.CreatedBy = principal.Username
	shipment.CreatedAt = s.now().UTC()

	if err := s.repo.Create(ctx, shipment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewShipmentExistsError(shipment.ShipmentNumber)
		}
		return nil, fmt.Errorf("failed to create shipment: %w", err)
	}

	slog.Info("shipment created",
		slog.String("shipment_number", shipment.ShipmentNumber),
		slog.String("created_by", shipment.CreatedBy),
	)
	return shipment, nil
}

// List は出荷記録を新しい順に返す。
func (s *Service) List(ctx context.Context) ([]*model.Shipment, error) {
	shipments, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	return shipments, nil
}

// field は1項目分の検証規則。
type field struct {
	name    string
	value   *string
	min     int
	max     int
	pattern *regexp.Regexp
	reason  string
}

func (s *Service) validate(in Input) (*model.Shipment, error) {
	sh := &model.Shipment{
		ShipmentNumber:      strings.TrimSpace(in.ShipmentNumber),
		ContainerNumber:     strings.TrimSpace(in.ContainerNumber),
		RouteFrom:           strings.TrimSpace(in.RouteFrom),
		RouteTo:             strings.TrimSpace(in.RouteTo),
		GoodsType:           strings.TrimSpace(in.GoodsType),
		Device:              strings.TrimSpace(in.Device),
		PONumber:            strings.TrimSpace(in.PONumber),
		NDCNumber:           strings.TrimSpace(in.NDCNumber),
		SerialNumberGoods:   strings.TrimSpace(in.SerialNumberGoods),
		DeliveryNumber:      strings.TrimSpace(in.DeliveryNumber),
		BatchID:             strings.TrimSpace(in.BatchID),
		ShipmentPriority:    strings.ToLower(strings.TrimSpace(in.ShipmentPriority)),
		ShipmentHealth:      strings.ToLower(strings.TrimSpace(in.ShipmentHealth)),
		ShipmentDescription: strings.TrimSpace(in.ShipmentDescription),
	}

	fields := []field{
		{name: "shipment_number", value: &sh.ShipmentNumber, min: 1, max: 50},
		{name: "route_from", value: &sh.RouteFrom, min: 2, max: 50, pattern: lettersPattern, reason: "must contain only letters and spaces"},
		{name: "route_to", value: &sh.RouteTo, min: 2, max: 50, pattern: lettersPattern, reason: "must contain only letters and spaces"},
		{name: "device", value: &sh.Device, min: 1, max: 80},
		{name: "po_number", value: &sh.PONumber, min: 1, max: 50, pattern: alphanumericPattern, reason: "must contain only letters, digits and hyphens"},
		{name: "ndc_number", value: &sh.NDCNumber, min: 1, max: 100, pattern: ndcPattern, reason: "must contain only digits and hyphens"},
		{name: "serial_number_goods", value: &sh.SerialNumberGoods, min: 1, max: 80},
		{name: "container_number", value: &sh.ContainerNumber, min: 3, max: 50, pattern: alphanumericPattern, reason: "must contain only letters, digits and hyphens"},
		{name: "goods_type", value: &sh.GoodsType, min: 2, max: 50},
		{name: "delivery_number", value: &sh.DeliveryNumber, min: 1, max: 50, pattern: alphanumericPattern, reason: "must contain only letters, digits and hyphens"},
		{name: "batch_id", value: &sh.BatchID, min: 1, max: 50},
	}
	for _, f := range fields {
		v := *f.value
		switch {
		case v == "":
			return nil, model.NewValidationError(f.name, "required")
		case len(v) < f.min:
			return nil, model.NewValidationError(f.name, fmt.Sprintf("must be at least %d characters", f.min))
		case len(v) > f.max:
			return nil, model.NewValidationError(f.name, fmt.Sprintf("must be at most %d characters", f.max))
		case f.pattern != nil && !f.pattern.MatchString(v):
			return nil, model.NewValidationError(f.name, f.reason)
		}
	}

	if !validLevel(sh.ShipmentPriority) {
		return nil, model.NewValidationError("shipment_priority", "must be one of high, medium, low")
	}
	if !validLevel(sh.ShipmentHealth) {
		return nil, model.NewValidationError("shipment_health", "must be one of high, medium, low")
	}
	if len(sh.ShipmentDescription) > 300 {
		return nil, model.NewValidationError("shipment_description", "must be at most 300 characters")
	}

	// 予定納期は当日以降
	date, err := time.Parse(dateLayout, strings.TrimSpace(in.ExpectedDeliveryDate))
	if err != nil {
		return nil, model.NewValidationError("expected_delivery_date", "must be a date in YYYY-MM-DD format")
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if date.Before(today) {
		return nil, model.NewValidationError("expected_delivery_date", "cannot be in the past")
	}
	sh.ExpectedDeliveryDate = date

	return sh, nil
}

func validLevel(v string) bool {
	switch v {
	case "high", "medium", "low":
		return true
	}
	return false
}
