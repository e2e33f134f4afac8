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

// BookingRepository 预订仓储
// 预订由预订子系统持有，调度引擎侧只读，状态变更（取消）除外。
type BookingRepository struct {
	db DB
}

// NewBookingRepository 创建预订仓储
func NewBookingRepository(db DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create 创建预订
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	query := `
		INSERT INTO bookings (
			id, org_id, tour_id, customer_id, customer_name, date, time_of_day,
			adults, children, infants, status, mode, pickup_point, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.OrgID, b.TourID, b.CustomerID, b.CustomerName, b.Date, b.TimeOfDay,
		b.Participants.Adults, b.Participants.Children, b.Participants.Infants,
		b.Status, b.Mode, b.PickupPoint, b.Notes, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("创建预订失败: %w", err)
	}

	return nil
}

// ListBookingsByDate 返回组织某日期的全部预订
func (r *BookingRepository) ListBookingsByDate(ctx context.Context, orgID uuid.UUID, date string) ([]*model.Booking, error) {
	query := `
		SELECT id, org_id, tour_id, customer_id, customer_name, date, time_of_day,
			adults, children, infants, status, mode, pickup_point, notes,
			created_at, updated_at
		FROM bookings
		WHERE org_id = $1 AND date = $2 AND deleted_at IS NULL
		ORDER BY time_of_day, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, date)
	if err != nil {
		return nil, fmt.Errorf("查询当日预订失败: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := r.scanBookingRow(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

// GetBooking 返回单个预订，不存在返回 (nil, nil)
func (r *BookingRepository) GetBooking(ctx context.Context, orgID, id uuid.UUID) (*model.Booking, error) {
	query := `
		SELECT id, org_id, tour_id, customer_id, customer_name, date, time_of_day,
			adults, children, infants, status, mode, pickup_point, notes,
			created_at, updated_at
		FROM bookings
		WHERE org_id = $1 AND id = $2 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, orgID, id)
	b := &model.Booking{}
	err := scanBooking(row, b)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("扫描预订数据失败: %w", err)
	}
	return b, nil
}

// GetBookings 批量返回预订，键为预订ID
func (r *BookingRepository) GetBookings(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*model.Booking, error) {
	result := make(map[uuid.UUID]*model.Booking)
	if len(ids) == 0 {
		return result, nil
	}

	placeholders, args := uuidPlaceholders(ids, 2)
	args = append([]interface{}{orgID}, args...)
	query := fmt.Sprintf(`
		SELECT id, org_id, tour_id, customer_id, customer_name, date, time_of_day,
			adults, children, infants, status, mode, pickup_point, notes,
			created_at, updated_at
		FROM bookings
		WHERE org_id = $1 AND id IN (%s) AND deleted_at IS NULL
	`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("批量查询预订失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := r.scanBookingRow(rows)
		if err != nil {
			return nil, err
		}
		result[b.ID] = b
	}

	return result, rows.Err()
}

// UpdateBookingStatus 更新预订状态并追加审计备注
func (r *BookingRepository) UpdateBookingStatus(ctx context.Context, orgID, id uuid.UUID, status model.BookingStatus, note string) error {
	query := `
		UPDATE bookings SET
			status = $3,
			notes = CASE WHEN $4 = '' THEN notes
				WHEN notes = '' THEN $4
				ELSE notes || E'\n' || $4 END,
			updated_at = $5
		WHERE org_id = $1 AND id = $2 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, orgID, id, status, note, time.Now())
	if err != nil {
		return fmt.Errorf("更新预订状态失败: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("预订不存在")
	}

	return nil
}

// CountPriorBookings 批量统计各客户在指定日期之前的历史预订数
func (r *BookingRepository) CountPriorBookings(ctx context.Context, orgID uuid.UUID, customerIDs []uuid.UUID, beforeDate string) (map[uuid.UUID]int, error) {
	result := make(map[uuid.UUID]int)
	if len(customerIDs) == 0 {
		return result, nil
	}

	placeholders, args := uuidPlaceholders(customerIDs, 3)
	args = append([]interface{}{orgID, beforeDate}, args...)
	query := fmt.Sprintf(`
		SELECT customer_id, COUNT(*)
		FROM bookings
		WHERE org_id = $1 AND date < $2 AND customer_id IN (%s)
			AND status IN ('confirmed', 'completed') AND deleted_at IS NULL
		GROUP BY customer_id
	`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("统计历史预订失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var customerID uuid.UUID
		var count int
		if err := rows.Scan(&customerID, &count); err != nil {
			return nil, fmt.Errorf("扫描历史预订统计失败: %w", err)
		}
		result[customerID] = count
	}

	return result, rows.Err()
}

// scanBookingRow 扫描Rows中的预订数据
func (r *BookingRepository) scanBookingRow(rows *sql.Rows) (*model.Booking, error) {
	b := &model.Booking{}
	if err := scanBooking(rows, b); err != nil {
		return nil, fmt.Errorf("扫描预订数据失败: %w", err)
	}
	return b, nil
}

func scanBooking(s Scanner, b *model.Booking) error {
	return s.Scan(
		&b.ID, &b.OrgID, &b.TourID, &b.CustomerID, &b.CustomerName, &b.Date, &b.TimeOfDay,
		&b.Participants.Adults, &b.Participants.Children, &b.Participants.Infants,
		&b.Status, &b.Mode, &b.PickupPoint, &b.Notes, &b.CreatedAt, &b.UpdatedAt,
	)
}
