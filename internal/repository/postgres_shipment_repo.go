package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

const shipmentColumns = `shipment_number, container_number, route_from, route_to, goods_type, device,
	expected_delivery_date, po_number, ndc_number, serial_number_goods, delivery_number,
	batch_id, shipment_priority, shipment_health, shipment_description, created_by, created_at`

// PostgresShipmentRepo はPostgreSQLを使用した出荷リポジトリ。
type PostgresShipmentRepo struct {
	db *sql.DB
}

// NewPostgresShipmentRepo はPostgresShipmentRepoを生成する。
func NewPostgresShipmentRepo(db *sql.DB) *PostgresShipmentRepo {
	return &PostgresShipmentRepo{db: db}
}

// Create は出荷記録を作成する。出荷番号が重複する場合はErrDuplicateを返す。
func (r *PostgresShipmentRepo) Create(ctx context.Context, s *model.Shipment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO shipments (`+shipmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		s.ShipmentNumber, s.ContainerNumber, s.RouteFrom, s.RouteTo, s.GoodsType, s.Device,
		s.ExpectedDeliveryDate, s.PONumber, s.NDCNumber, s.SerialNumberGoods, s.DeliveryNumber,
		s.BatchID, s.ShipmentPriority, s.ShipmentHealth, s.ShipmentDescription, s.CreatedBy, s.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert shipment: %w", err)
	}
	return nil
}

// List は出荷記録をcreated_at降順で返す。
func (r *PostgresShipmentRepo) List(ctx context.Context) ([]*model.Shipment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	defer rows.Close()

	var shipments []*model.Shipment
	for rows.Next() {
		s := &model.Shipment{}
		if err := rows.Scan(&s.ShipmentNumber, &s.ContainerNumber, &s.RouteFrom, &s.RouteTo,
			&s.GoodsType, &s.Device, &s.ExpectedDeliveryDate, &s.PONumber, &s.NDCNumber,
			&s.SerialNumberGoods, &s.DeliveryNumber, &s.BatchID, &s.ShipmentPriority,
			&s.ShipmentHealth, &s.ShipmentDescription, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan shipment: %w", err)
		}
		shipments = append(shipments, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shipments: %w", err)
	}
	return shipments, nil
}

// compile-time interface check
var _ ShipmentRepository = (*PostgresShipmentRepo)(nil)
