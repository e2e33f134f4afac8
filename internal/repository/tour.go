// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/model"
)

// TourRepository 线路仓储
type TourRepository struct {
	db DB
}

// NewTourRepository 创建线路仓储
func NewTourRepository(db DB) *TourRepository {
	return &TourRepository{db: db}
}

// Create 创建线路
func (r *TourRepository) Create(ctx context.Context, tour *model.Tour) error {
	if tour.ID == uuid.Nil {
		tour.ID = uuid.New()
	}
	now := time.Now()
	tour.CreatedAt = now
	tour.UpdatedAt = now

	query := `
		INSERT INTO tours (
			id, org_id, name, code, description, duration_minutes,
			guests_per_guide, meeting_point, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		tour.ID, tour.OrgID, tour.Name, tour.Code, tour.Description,
		tour.DurationMinutes, tour.GuestsPerGuide, tour.MeetingPoint,
		tour.IsActive, tour.CreatedAt, tour.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("创建线路失败: %w", err)
	}

	return nil
}

// GetTour 返回单条线路，不存在返回 (nil, nil)
func (r *TourRepository) GetTour(ctx context.Context, orgID, id uuid.UUID) (*model.Tour, error) {
	query := `
		SELECT id, org_id, name, code, description, duration_minutes,
			guests_per_guide, meeting_point, is_active, created_at, updated_at
		FROM tours
		WHERE org_id = $1 AND id = $2 AND deleted_at IS NULL
	`

	tour := &model.Tour{}
	err := scanTour(r.db.QueryRowContext(ctx, query, orgID, id), tour)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("扫描线路数据失败: %w", err)
	}
	return tour, nil
}

// GetTours 批量返回线路，键为线路ID
func (r *TourRepository) GetTours(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*model.Tour, error) {
	result := make(map[uuid.UUID]*model.Tour)
	if len(ids) == 0 {
		return result, nil
	}

	placeholders, args := uuidPlaceholders(ids, 2)
	args = append([]interface{}{orgID}, args...)
	query := fmt.Sprintf(`
		SELECT id, org_id, name, code, description, duration_minutes,
			guests_per_guide, meeting_point, is_active, created_at, updated_at
		FROM tours
		WHERE org_id = $1 AND id IN (%s) AND deleted_at IS NULL
	`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("批量查询线路失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tour := &model.Tour{}
		if err := scanTour(rows, tour); err != nil {
			return nil, fmt.Errorf("扫描线路数据失败: %w", err)
		}
		result[tour.ID] = tour
	}

	return result, rows.Err()
}

// ListActive 获取组织下全部上架线路
func (r *TourRepository) ListActive(ctx context.Context, orgID uuid.UUID) ([]*model.Tour, error) {
	query := `
		SELECT id, org_id, name, code, description, duration_minutes,
			guests_per_guide, meeting_point, is_active, created_at, updated_at
		FROM tours
		WHERE org_id = $1 AND is_active = TRUE AND deleted_at IS NULL
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("查询上架线路失败: %w", err)
	}
	defer rows.Close()

	var tours []*model.Tour
	for rows.Next() {
		tour := &model.Tour{}
		if err := scanTour(rows, tour); err != nil {
			return nil, fmt.Errorf("扫描线路数据失败: %w", err)
		}
		tours = append(tours, tour)
	}

	return tours, rows.Err()
}

func scanTour(s Scanner, tour *model.Tour) error {
	return s.Scan(
		&tour.ID, &tour.OrgID, &tour.Name, &tour.Code, &tour.Description,
		&tour.DurationMinutes, &tour.GuestsPerGuide, &tour.MeetingPoint,
		&tour.IsActive, &tour.CreatedAt, &tour.UpdatedAt,
	)
}
