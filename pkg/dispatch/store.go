// Package dispatch 提供导游派单与调度中心核心引擎
package dispatch

import (
	"context"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/model"
)

// BookingStore 预订数据访问接口
// 预订本身由预订子系统持有，本引擎只读，取消副作用除外。
type BookingStore interface {
	// ListBookingsByDate 返回组织某日期的全部预订
	ListBookingsByDate(ctx context.Context, orgID uuid.UUID, date string) ([]*model.Booking, error)

	// GetBooking 返回单个预订；不存在返回 (nil, nil)
	GetBooking(ctx context.Context, orgID, id uuid.UUID) (*model.Booking, error)

	// GetBookings 批量返回预订，键为预订ID
	GetBookings(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*model.Booking, error)

	// UpdateBookingStatus 更新预订状态并追加审计备注
	UpdateBookingStatus(ctx context.Context, orgID, id uuid.UUID, status model.BookingStatus, note string) error

	// CountPriorBookings 批量统计各客户在指定日期之前的历史预订数
	// 用于一次查询解析全部首次参团标记，避免逐行查询。
	CountPriorBookings(ctx context.Context, orgID uuid.UUID, customerIDs []uuid.UUID, beforeDate string) (map[uuid.UUID]int, error)
}

// GuideStore 导游数据访问接口
type GuideStore interface {
	// ListActiveGuides 返回组织的全部在职导游
	ListActiveGuides(ctx context.Context, orgID uuid.UUID) ([]*model.Guide, error)

	// GetGuide 返回单个导游；不存在返回 (nil, nil)
	GetGuide(ctx context.Context, orgID, id uuid.UUID) (*model.Guide, error)

	// GetGuides 批量返回导游，键为导游ID；不存在的ID缺席
	GetGuides(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*model.Guide, error)

	// QualificationsFor 批量返回导游的资质线路集合，键为导游ID
	QualificationsFor(ctx context.Context, guideIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)

	// WeeklySlotsFor 批量返回导游的每周可用时段，键为导游ID
	WeeklySlotsFor(ctx context.Context, guideIDs []uuid.UUID) (map[uuid.UUID][]model.WeeklySlot, error)

	// OverridesFor 批量返回导游某日期的可用性覆盖，键为导游ID
	OverridesFor(ctx context.Context, guideIDs []uuid.UUID, date string) (map[uuid.UUID]*model.AvailabilityOverride, error)
}

// TourStore 线路数据访问接口
type TourStore interface {
	// GetTour 返回单条线路；不存在返回 (nil, nil)
	GetTour(ctx context.Context, orgID, id uuid.UUID) (*model.Tour, error)

	// GetTours 批量返回线路，键为线路ID
	GetTours(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*model.Tour, error)
}

// AssignmentStore 导游分配数据访问接口
// 本引擎是唯一允许变更分配记录的地方。
type AssignmentStore interface {
	// CreateAssignment 插入分配记录
	// (booking_id, 导游身份键) 组合必须唯一，重复插入返回 AlreadyExists 冲突。
	CreateAssignment(ctx context.Context, a *model.GuideAssignment) error

	// GetAssignment 返回单条分配；不存在返回 (nil, nil)
	GetAssignment(ctx context.Context, orgID, id uuid.UUID) (*model.GuideAssignment, error)

	// ListAssignmentsByBooking 返回某预订的全部分配
	ListAssignmentsByBooking(ctx context.Context, orgID, bookingID uuid.UUID) ([]*model.GuideAssignment, error)

	// ListAssignmentsByBookings 批量返回多个预订的全部分配
	ListAssignmentsByBookings(ctx context.Context, orgID uuid.UUID, bookingIDs []uuid.UUID) ([]*model.GuideAssignment, error)

	// ListConfirmedByGuideDate 返回某导游身份键在某日期的全部已确认分配
	ListConfirmedByGuideDate(ctx context.Context, orgID uuid.UUID, guideKey, date string) ([]*model.GuideAssignment, error)

	// UpdateAssignment 更新分配的状态字段
	UpdateAssignment(ctx context.Context, a *model.GuideAssignment) error

	// DeleteAssignment 物理删除分配（取消为终态，不可恢复）
	DeleteAssignment(ctx context.Context, orgID, id uuid.UUID) error
}

// Stores 引擎依赖的全部外部数据接口
type Stores struct {
	Bookings    BookingStore
	Guides      GuideStore
	Tours       TourStore
	Assignments AssignmentStore
}
