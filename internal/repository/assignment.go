// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	apperrors "github.com/paituan/paituan/pkg/errors"
	"github.com/paituan/paituan/pkg/model"
)

// AssignmentRepository 导游分配仓储
// guide_assignments 表对 (booking_id, guide_id) 与 (booking_id, outsourced_name)
// 各有部分唯一索引，并发重复插入由数据库裁决。
type AssignmentRepository struct {
	db DB
}

// NewAssignmentRepository 创建导游分配仓储
func NewAssignmentRepository(db DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// CreateAssignment 插入分配记录
// 唯一索引冲突映射为 AlreadyExists，调用方据此实现幂等重试。
func (r *AssignmentRepository) CreateAssignment(ctx context.Context, a *model.GuideAssignment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `
		INSERT INTO guide_assignments (
			id, org_id, booking_id, guide_id, outsourced_name, outsourced_contact,
			status, decline_reason, confirmed_at, source, guest_share, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.OrgID, a.BookingID, a.GuideID, nullString(a.OutsourcedName),
		nullString(a.OutsourcedContact), a.Status, nullString(a.DeclineReason),
		a.ConfirmedAt, a.Source, a.GuestShare, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apperrors.AlreadyExists("导游分配",
				fmt.Sprintf("预订 %s 与导游 %s", a.BookingID, a.GuideLabel()))
		}
		return fmt.Errorf("创建分配失败: %w", err)
	}

	return nil
}

// GetAssignment 返回单条分配，不存在返回 (nil, nil)
func (r *AssignmentRepository) GetAssignment(ctx context.Context, orgID, id uuid.UUID) (*model.GuideAssignment, error) {
	query := assignmentSelect + ` WHERE org_id = $1 AND id = $2`

	a := &model.GuideAssignment{}
	err := scanAssignment(r.db.QueryRowContext(ctx, query, orgID, id), a)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("扫描分配数据失败: %w", err)
	}
	return a, nil
}

// ListAssignmentsByBooking 返回某预订的全部分配
func (r *AssignmentRepository) ListAssignmentsByBooking(ctx context.Context, orgID, bookingID uuid.UUID) ([]*model.GuideAssignment, error) {
	query := assignmentSelect + ` WHERE org_id = $1 AND booking_id = $2 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, orgID, bookingID)
	if err != nil {
		return nil, fmt.Errorf("查询预订分配失败: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// ListAssignmentsByBookings 批量返回多个预订的全部分配
func (r *AssignmentRepository) ListAssignmentsByBookings(ctx context.Context, orgID uuid.UUID, bookingIDs []uuid.UUID) ([]*model.GuideAssignment, error) {
	if len(bookingIDs) == 0 {
		return nil, nil
	}

	placeholders, args := uuidPlaceholders(bookingIDs, 2)
	args = append([]interface{}{orgID}, args...)
	query := fmt.Sprintf("%s WHERE org_id = $1 AND booking_id IN (%s) ORDER BY created_at",
		assignmentSelect, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("批量查询分配失败: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// ListConfirmedByGuideDate 返回某导游身份键在某日期的全部已确认分配
// 在编导游按 guide_id 匹配，外请导游（ext: 前缀）按姓名匹配。
func (r *AssignmentRepository) ListConfirmedByGuideDate(ctx context.Context, orgID uuid.UUID, guideKey, date string) ([]*model.GuideAssignment, error) {
	base := `
		SELECT a.id, a.org_id, a.booking_id, a.guide_id, a.outsourced_name,
			a.outsourced_contact, a.status, a.decline_reason, a.confirmed_at,
			a.source, a.guest_share, a.created_at, a.updated_at
		FROM guide_assignments a
		JOIN bookings b ON b.id = a.booking_id
		WHERE a.org_id = $1 AND b.date = $2 AND a.status = 'confirmed'
			AND b.deleted_at IS NULL
	`

	var query string
	var args []interface{}
	if name, ok := strings.CutPrefix(guideKey, "ext:"); ok {
		query = base + ` AND a.guide_id IS NULL AND a.outsourced_name = $3`
		args = []interface{}{orgID, date, name}
	} else {
		guideID, err := uuid.Parse(guideKey)
		if err != nil {
			return nil, fmt.Errorf("非法的导游身份键 %q: %w", guideKey, err)
		}
		query = base + ` AND a.guide_id = $3`
		args = []interface{}{orgID, date, guideID}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询导游已确认分配失败: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// UpdateAssignment 更新分配的状态字段
func (r *AssignmentRepository) UpdateAssignment(ctx context.Context, a *model.GuideAssignment) error {
	a.UpdatedAt = time.Now()

	query := `
		UPDATE guide_assignments SET
			status = $3, decline_reason = $4, confirmed_at = $5, updated_at = $6
		WHERE org_id = $1 AND id = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		a.OrgID, a.ID, a.Status, nullString(a.DeclineReason), a.ConfirmedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("更新分配失败: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("分配不存在")
	}

	return nil
}

// DeleteAssignment 物理删除分配
func (r *AssignmentRepository) DeleteAssignment(ctx context.Context, orgID, id uuid.UUID) error {
	query := `DELETE FROM guide_assignments WHERE org_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, orgID, id)
	if err != nil {
		return fmt.Errorf("删除分配失败: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("分配不存在")
	}

	return nil
}

const assignmentSelect = `
	SELECT id, org_id, booking_id, guide_id, outsourced_name, outsourced_contact,
		status, decline_reason, confirmed_at, source, guest_share, created_at, updated_at
	FROM guide_assignments
`

func collectAssignments(rows *sql.Rows) ([]*model.GuideAssignment, error) {
	var assignments []*model.GuideAssignment
	for rows.Next() {
		a := &model.GuideAssignment{}
		if err := scanAssignment(rows, a); err != nil {
			return nil, fmt.Errorf("扫描分配数据失败: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func scanAssignment(s Scanner, a *model.GuideAssignment) error {
	var outsourcedName, outsourcedContact, declineReason sql.NullString
	err := s.Scan(
		&a.ID, &a.OrgID, &a.BookingID, &a.GuideID, &outsourcedName, &outsourcedContact,
		&a.Status, &declineReason, &a.ConfirmedAt, &a.Source, &a.GuestShare, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	a.OutsourcedName = outsourcedName.String
	a.OutsourcedContact = outsourcedContact.String
	a.DeclineReason = declineReason.String
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
