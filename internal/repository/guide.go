// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/model"
)

// GuideRepository 导游仓储
type GuideRepository struct {
	db DB
}

// NewGuideRepository 创建导游仓储
func NewGuideRepository(db DB) *GuideRepository {
	return &GuideRepository{db: db}
}

// Create 创建导游
func (r *GuideRepository) Create(ctx context.Context, guide *model.Guide) error {
	if guide.ID == uuid.Nil {
		guide.ID = uuid.New()
	}
	now := time.Now()
	guide.CreatedAt = now
	guide.UpdatedAt = now

	langsJSON, _ := json.Marshal(guide.Languages)

	query := `
		INSERT INTO guides (
			id, org_id, name, code, phone, email, status, hire_date,
			vehicle_capacity, languages, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		guide.ID, guide.OrgID, guide.Name, guide.Code, guide.Phone, guide.Email,
		guide.Status, guide.HireDate, guide.VehicleCapacity, langsJSON,
		guide.CreatedAt, guide.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("创建导游失败: %w", err)
	}

	return nil
}

// GetGuide 根据组织和ID获取导游，不存在返回 (nil, nil)
func (r *GuideRepository) GetGuide(ctx context.Context, orgID, id uuid.UUID) (*model.Guide, error) {
	query := `
		SELECT id, org_id, name, code, phone, email, status, hire_date,
			vehicle_capacity, languages, created_at, updated_at
		FROM guides
		WHERE org_id = $1 AND id = $2 AND deleted_at IS NULL
	`

	return r.scanGuide(r.db.QueryRowContext(ctx, query, orgID, id))
}

// GetGuides 批量获取导游，键为导游ID
func (r *GuideRepository) GetGuides(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*model.Guide, error) {
	result := make(map[uuid.UUID]*model.Guide)
	if len(ids) == 0 {
		return result, nil
	}

	placeholders, args := uuidPlaceholders(ids, 2)
	args = append([]interface{}{orgID}, args...)
	query := fmt.Sprintf(`
		SELECT id, org_id, name, code, phone, email, status, hire_date,
			vehicle_capacity, languages, created_at, updated_at
		FROM guides
		WHERE org_id = $1 AND id IN (%s) AND deleted_at IS NULL
	`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("批量查询导游失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		guide, err := r.scanGuideRow(rows)
		if err != nil {
			return nil, err
		}
		result[guide.ID] = guide
	}

	return result, rows.Err()
}

// ListActiveGuides 获取组织下全部在职导游
func (r *GuideRepository) ListActiveGuides(ctx context.Context, orgID uuid.UUID) ([]*model.Guide, error) {
	query := `
		SELECT id, org_id, name, code, phone, email, status, hire_date,
			vehicle_capacity, languages, created_at, updated_at
		FROM guides
		WHERE org_id = $1 AND status = 'active' AND deleted_at IS NULL
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("查询在职导游失败: %w", err)
	}
	defer rows.Close()

	var guides []*model.Guide
	for rows.Next() {
		guide, err := r.scanGuideRow(rows)
		if err != nil {
			return nil, err
		}
		guides = append(guides, guide)
	}

	return guides, rows.Err()
}

// Update 更新导游
func (r *GuideRepository) Update(ctx context.Context, guide *model.Guide) error {
	guide.UpdatedAt = time.Now()

	langsJSON, _ := json.Marshal(guide.Languages)

	query := `
		UPDATE guides SET
			name = $2, code = $3, phone = $4, email = $5, status = $6,
			vehicle_capacity = $7, languages = $8, updated_at = $9
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		guide.ID, guide.Name, guide.Code, guide.Phone, guide.Email, guide.Status,
		guide.VehicleCapacity, langsJSON, guide.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("更新导游失败: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("导游不存在")
	}

	return nil
}

// Delete 软删除导游
func (r *GuideRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE guides SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("删除导游失败: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("导游不存在")
	}

	return nil
}

// QualificationsFor 批量获取导游的资质线路集合
func (r *GuideRepository) QualificationsFor(ctx context.Context, guideIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	result := make(map[uuid.UUID][]uuid.UUID)
	if len(guideIDs) == 0 {
		return result, nil
	}

	placeholders, args := uuidPlaceholders(guideIDs, 1)
	query := fmt.Sprintf(`
		SELECT guide_id, tour_id
		FROM guide_qualifications
		WHERE guide_id IN (%s)
	`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询导游资质失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var guideID, tourID uuid.UUID
		if err := rows.Scan(&guideID, &tourID); err != nil {
			return nil, fmt.Errorf("扫描资质数据失败: %w", err)
		}
		result[guideID] = append(result[guideID], tourID)
	}

	return result, rows.Err()
}

// AddQualification 为导游添加线路资质
func (r *GuideRepository) AddQualification(ctx context.Context, q *model.Qualification) error {
	query := `
		INSERT INTO guide_qualifications (guide_id, tour_id, certified_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (guide_id, tour_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, q.GuideID, q.TourID, q.CertifiedAt); err != nil {
		return fmt.Errorf("添加导游资质失败: %w", err)
	}
	return nil
}

// WeeklySlotsFor 批量获取导游的每周可用时段
func (r *GuideRepository) WeeklySlotsFor(ctx context.Context, guideIDs []uuid.UUID) (map[uuid.UUID][]model.WeeklySlot, error) {
	result := make(map[uuid.UUID][]model.WeeklySlot)
	if len(guideIDs) == 0 {
		return result, nil
	}

	placeholders, args := uuidPlaceholders(guideIDs, 1)
	query := fmt.Sprintf(`
		SELECT id, guide_id, weekday, start_time, end_time
		FROM guide_weekly_slots
		WHERE guide_id IN (%s)
		ORDER BY guide_id, weekday, start_time
	`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询每周可用时段失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var slot model.WeeklySlot
		if err := rows.Scan(&slot.ID, &slot.GuideID, &slot.Weekday, &slot.StartTime, &slot.EndTime); err != nil {
			return nil, fmt.Errorf("扫描可用时段失败: %w", err)
		}
		result[slot.GuideID] = append(result[slot.GuideID], slot)
	}

	return result, rows.Err()
}

// OverridesFor 批量获取导游某日期的可用性覆盖
func (r *GuideRepository) OverridesFor(ctx context.Context, guideIDs []uuid.UUID, date string) (map[uuid.UUID]*model.AvailabilityOverride, error) {
	result := make(map[uuid.UUID]*model.AvailabilityOverride)
	if len(guideIDs) == 0 {
		return result, nil
	}

	placeholders, args := uuidPlaceholders(guideIDs, 2)
	args = append([]interface{}{date}, args...)
	query := fmt.Sprintf(`
		SELECT id, guide_id, date, is_available, start_time, end_time, reason
		FROM guide_availability_overrides
		WHERE date = $1 AND guide_id IN (%s)
	`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询可用性覆盖失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o model.AvailabilityOverride
		var startTime, endTime, reason sql.NullString
		if err := rows.Scan(&o.ID, &o.GuideID, &o.Date, &o.IsAvailable, &startTime, &endTime, &reason); err != nil {
			return nil, fmt.Errorf("扫描可用性覆盖失败: %w", err)
		}
		o.StartTime = startTime.String
		o.EndTime = endTime.String
		o.Reason = reason.String
		result[o.GuideID] = &o
	}

	return result, rows.Err()
}

// scanGuide 扫描单行导游数据
func (r *GuideRepository) scanGuide(row *sql.Row) (*model.Guide, error) {
	guide := &model.Guide{}
	var langsJSON []byte

	err := row.Scan(
		&guide.ID, &guide.OrgID, &guide.Name, &guide.Code, &guide.Phone, &guide.Email,
		&guide.Status, &guide.HireDate, &guide.VehicleCapacity, &langsJSON,
		&guide.CreatedAt, &guide.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("扫描导游数据失败: %w", err)
	}

	json.Unmarshal(langsJSON, &guide.Languages)

	return guide, nil
}

// scanGuideRow 扫描Rows中的导游数据
func (r *GuideRepository) scanGuideRow(rows *sql.Rows) (*model.Guide, error) {
	guide := &model.Guide{}
	var langsJSON []byte

	err := rows.Scan(
		&guide.ID, &guide.OrgID, &guide.Name, &guide.Code, &guide.Phone, &guide.Email,
		&guide.Status, &guide.HireDate, &guide.VehicleCapacity, &langsJSON,
		&guide.CreatedAt, &guide.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("扫描导游数据失败: %w", err)
	}

	json.Unmarshal(langsJSON, &guide.Languages)

	return guide, nil
}

// uuidPlaceholders 生成 IN 子句占位符，startIndex 为首个占位符编号
func uuidPlaceholders(ids []uuid.UUID, startIndex int) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", startIndex+i)
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
