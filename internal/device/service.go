// Package device はIoTデバイスのテレメトリの保存と参照を提供する。
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/repository"
)

// RecentLimit はRecentで返す最大件数。
const RecentLimit = 50

// ReadingInput はテレメトリの入力。値はデバイスが送った文字列のまま保存する。
type ReadingInput struct {
	DeviceID               string
	BatteryLevel           string
	FirstSensorTemperature string
	RouteFrom              string
	RouteTo                string
	Timestamp              string
}

// Service はテレメトリのサービス層。
type Service struct {
	repo repository.DeviceReadingRepository
	now  func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.DeviceReadingRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Insert はテレメトリを1件保存する。timestampが空の場合は現在時刻（UTC, RFC3339）を使用する。
func (s *Service) Insert(ctx context.Context, principal *model.Principal, in ReadingInput) (*model.DeviceReading, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return nil, model.NewValidationError("device_id", "required")
	}

	now := s.now().UTC()
	ts := strings.TrimSpace(in.Timestamp)
	if ts == "" {
		ts = now.Format(time.RFC3339)
	}

	reading := &model.DeviceReading{
		ID:                     uuid.NewString(),
		DeviceID:               deviceID,
		BatteryLevel:           strings.TrimSpace(in.BatteryLevel),
		FirstSensorTemperature: strings.TrimSpace(in.FirstSensorTemperature),
		RouteFrom:              strings.TrimSpace(in.RouteFrom),
		RouteTo:                strings.TrimSpace(in.RouteTo),
		Timestamp:              ts,
		CreatedBy:              principal.Username,
		CreatedAt:              now,
	}
	if err := s.repo.Create(ctx, reading); err != nil {
		return nil, fmt.Errorf("failed to store device reading: %w", err)
	}
	return reading, nil
}

// ListDevices はテレメトリが存在するデバイスIDの一覧を返す。
func (s *Service) ListDevices(ctx context.Context) ([]string, error) {
	ids, err := s.repo.ListDeviceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return ids, nil
}

// Recent は最新のテレメトリをRecentLimit件まで返す。
func (s *Service) Recent(ctx context.Context) ([]*model.DeviceReading, error) {
	readings, err := s.repo.ListRecent(ctx, RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent readings: %w", err)
	}
	return readings, nil
}

// ByDevice は指定デバイスのテレメトリを新しい順に返す。
func (s *Service) ByDevice(ctx context.Context, deviceID string) ([]*model.DeviceReading, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, model.NewValidationError("device_id", "required")
	}
	readings, err := s.repo.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device readings: %w", err)
	}
	return readings, nil
}
