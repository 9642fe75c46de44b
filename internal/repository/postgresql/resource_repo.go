package postgresql

import (
	"context"
	"database/sql"
	"facility_sync/internal/domain"
	"facility_sync/internal/repository"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type pgResourceRepository struct {
	db *sql.DB
}

func NewPgResourceRepository(db *sql.DB) repository.ResourceRepository {
	return &pgResourceRepository{db: db}
}

func (r *pgResourceRepository) Load(ctx context.Context, resourceType domain.ResourceType) ([]domain.Resource, error) {
	switch resourceType {
	case domain.ResourceTypeSpot:
		return r.loadSpots(ctx)
	case domain.ResourceTypeGate:
		return r.loadGates(ctx)
	default:
		return nil, fmt.Errorf("loại resource không hợp lệ: %s", resourceType)
	}
}

func (r *pgResourceRepository) loadSpots(ctx context.Context) ([]domain.Resource, error) {
	query := `SELECT id, spot_number, floor, spot_type, occupied, occupant_id, active, version, created_at, updated_at
	           FROM parking_spots ORDER BY spot_number`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ResourceRepository.loadSpots: %w", err)
	}
	defer rows.Close()

	var resources []domain.Resource
	for rows.Next() {
		spot := &domain.ParkingSpot{}
		var occupantID sql.NullString
		if err := rows.Scan(
			&spot.ID, &spot.SpotNumber, &spot.Floor, &spot.Type, &spot.Occupied,
			&occupantID, &spot.Active, &spot.Version, &spot.CreatedAt, &spot.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ResourceRepository.loadSpots (scanning row): %w", err)
		}
		if occupantID.Valid {
			spot.OccupantID.SetValid(occupantID.String)
		}
		spot.CreatedAt = spot.CreatedAt.In(time.UTC)
		spot.UpdatedAt = spot.UpdatedAt.In(time.UTC)
		resources = append(resources, spot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ResourceRepository.loadSpots (rows error): %w", err)
	}
	return resources, nil
}

func (r *pgResourceRepository) loadGates(ctx context.Context) ([]domain.Resource, error) {
	query := `SELECT id, name, operational, active, version, created_at, updated_at
	           FROM gates ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ResourceRepository.loadGates: %w", err)
	}
	defer rows.Close()

	var resources []domain.Resource
	for rows.Next() {
		gate := &domain.Gate{}
		if err := rows.Scan(
			&gate.ID, &gate.Name, &gate.Operational, &gate.Active,
			&gate.Version, &gate.CreatedAt, &gate.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ResourceRepository.loadGates (scanning row): %w", err)
		}
		gate.CreatedAt = gate.CreatedAt.In(time.UTC)
		gate.UpdatedAt = gate.UpdatedAt.In(time.UTC)
		resources = append(resources, gate)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ResourceRepository.loadGates (rows error): %w", err)
	}
	return resources, nil
}

func (r *pgResourceRepository) Save(ctx context.Context, res domain.Resource) error {
	switch v := res.(type) {
	case *domain.ParkingSpot:
		return r.saveSpot(ctx, v)
	case *domain.Gate:
		return r.saveGate(ctx, v)
	default:
		return fmt.Errorf("ResourceRepository.Save: kiểu resource không được hỗ trợ %T", res)
	}
}

func (r *pgResourceRepository) saveSpot(ctx context.Context, spot *domain.ParkingSpot) error {
	query := `UPDATE parking_spots
	           SET occupied = $1, occupant_id = $2, active = $3, version = $4, updated_at = $5
	           WHERE id = $6 AND version < $4`
	var occupantID sql.NullString
	if spot.OccupantID.Valid {
		occupantID = sql.NullString{String: spot.OccupantID.String, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		spot.Occupied, occupantID, spot.Active, spot.Version, spot.UpdatedAt, spot.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			// UNIQUE (occupant_id) WHERE occupied — lưới an toàn cuối cùng cho
			// bất biến một-người-một-chỗ, phòng khi process khác ghi cùng DB.
			if pqErr.Code.Name() == "unique_violation" {
				return fmt.Errorf("%w: người dùng '%s' đã có chỗ đỗ khác trong DB", repository.ErrDuplicateEntry, spot.OccupantID.String)
			}
		}
		return fmt.Errorf("ResourceRepository.saveSpot: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ResourceRepository.saveSpot (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgResourceRepository) saveGate(ctx context.Context, gate *domain.Gate) error {
	query := `UPDATE gates
	           SET operational = $1, active = $2, version = $3, updated_at = $4
	           WHERE id = $5 AND version < $3`
	result, err := r.db.ExecContext(ctx, query,
		gate.Operational, gate.Active, gate.Version, gate.UpdatedAt, gate.ID,
	)
	if err != nil {
		return fmt.Errorf("ResourceRepository.saveGate: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ResourceRepository.saveGate (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
