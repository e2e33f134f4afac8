// Package model 定义派单引擎的核心数据模型
package model

import (
	"time"

	"github.com/google/uuid"
)

// DispatchState 每日调度状态
type DispatchState string

const (
	DispatchPending    DispatchState = "pending"    // 无团次
	DispatchOptimized  DispatchState = "optimized"  // 已优化但仍有预警
	DispatchReady      DispatchState = "ready"      // 全部配齐
	DispatchDispatched DispatchState = "dispatched" // 已发车（终态）
)

// DispatchStatus 按（组织，日期）派生的调度快照
type DispatchStatus struct {
	OrgID              uuid.UUID     `json:"org_id"`
	Date               string        `json:"date"`
	State              DispatchState `json:"state"`
	TotalRuns          int           `json:"total_runs"`
	TotalGuests        int           `json:"total_guests"`
	GuidesNeeded       int           `json:"guides_needed"`
	GuidesAssigned     int           `json:"guides_assigned"` // 去重后的导游身份数
	GuidesWorking      int           `json:"guides_working"`  // 当日出勤导游数（非关键，可降级为0）
	Efficiency         float64       `json:"efficiency"`      // 唯一导游数/应配导游数 ×100
	UnresolvedWarnings int           `json:"unresolved_warnings"`
	DispatchedAt       *time.Time    `json:"dispatched_at,omitempty"`
	ComputedAt         time.Time     `json:"computed_at"`
}

// WarningType 预警类型
type WarningType string

const (
	WarningNoQualifiedGuide   WarningType = "no_qualified_guide"
	WarningNoAvailableGuide   WarningType = "no_available_guide"
	WarningInsufficientGuides WarningType = "insufficient_guides"
)

// ResolutionAction 处置动作
type ResolutionAction string

const (
	ResolutionAssignGuide  ResolutionAction = "assign_guide"
	ResolutionAddExternal  ResolutionAction = "add_external"
	ResolutionCancelTour   ResolutionAction = "cancel_tour"
	ResolutionSplitBooking ResolutionAction = "split_booking"
)

// ResolutionOption 预警携带的候选处置方案
type ResolutionOption struct {
	Action    ResolutionAction `json:"action"`
	Label     string           `json:"label"`
	GuideID   *uuid.UUID       `json:"guide_id,omitempty"`
	GuideName string           `json:"guide_name,omitempty"`
}

// Warning 未满足人员需求的临时预警（请求级对象，从不持久化）
type Warning struct {
	ID            uuid.UUID          `json:"id"`
	Type          WarningType        `json:"type"`
	RunKey        string             `json:"run_key"`
	TourName      string             `json:"tour_name,omitempty"`
	BookingID     *uuid.UUID         `json:"booking_id,omitempty"`
	Message       string             `json:"message"`
	GuidesNeeded  int                `json:"guides_needed"`
	GuidesMissing int                `json:"guides_missing"`
	Resolutions   []ResolutionOption `json:"resolutions"`
	CreatedAt     time.Time          `json:"created_at"`
}

// BookingSplit 拆分预订的单个分片
type BookingSplit struct {
	GuideID    uuid.UUID `json:"guide_id"`
	GuestCount int       `json:"guest_count"`
}

// Resolution 操作员提交的处置请求
type Resolution struct {
	Action            ResolutionAction `json:"action"`
	GuideID           *uuid.UUID       `json:"guide_id,omitempty"`
	BookingID         *uuid.UUID       `json:"booking_id,omitempty"`
	TourRunKey        string           `json:"tour_run_key,omitempty"`
	OutsourcedName    string           `json:"outsourced_name,omitempty"`
	OutsourcedContact string           `json:"outsourced_contact,omitempty"`
	Splits            []BookingSplit   `json:"splits,omitempty"`
	Note              string           `json:"note,omitempty"`
}

// ResolutionOutcome 处置结果
type ResolutionOutcome struct {
	Action               ResolutionAction `json:"action"`
	Applied              bool             `json:"applied"`
	ManualFollowup       bool             `json:"manual_followup"` // 需要人工跟进（如拆单余量）
	Message              string           `json:"message"`
	AffectedBookings     []uuid.UUID      `json:"affected_bookings,omitempty"`
	CreatedAssignments   []uuid.UUID      `json:"created_assignments,omitempty"`
	CancelledAssignments []uuid.UUID      `json:"cancelled_assignments,omitempty"`
}

// AvailableGuide 某日期可参与派单的导游及其注解
type AvailableGuide struct {
	Guide          *Guide            `json:"guide"`
	Availability   GuideAvailability `json:"availability"`
	QualifiedTours []uuid.UUID       `json:"qualified_tours"`
	AssignedRuns   []string          `json:"assigned_runs"` // 已确认团次键（字符串形式）
}

// IsQualifiedFor 检查导游是否具备某线路资质
func (g *AvailableGuide) IsQualifiedFor(tourID uuid.UUID) bool {
	for _, id := range g.QualifiedTours {
		if id == tourID {
			return true
		}
	}
	return false
}

// TimelineSegmentType 时间轴段类型
type TimelineSegmentType string

const (
	SegmentIdle TimelineSegmentType = "idle"
	SegmentTour TimelineSegmentType = "tour"
)

// TimelineSegment 导游时间轴上的一段
type TimelineSegment struct {
	Type      TimelineSegmentType `json:"type"`
	StartTime string              `json:"start_time"` // HH:MM
	EndTime   string              `json:"end_time"`   // HH:MM
	RunKey    string              `json:"run_key,omitempty"`
	TourName  string              `json:"tour_name,omitempty"`
	Guests    int                 `json:"guests,omitempty"`
}

// GuideTimeline 单个导游某日期的空闲/带团时间轴
type GuideTimeline struct {
	GuideID   uuid.UUID         `json:"guide_id"`
	GuideName string            `json:"guide_name"`
	Date      string            `json:"date"`
	Segments  []TimelineSegment `json:"segments"`
}

// GuestDetails 预订的游客详情
type GuestDetails struct {
	BookingID    uuid.UUID      `json:"booking_id"`
	CustomerID   uuid.UUID      `json:"customer_id"`
	CustomerName string         `json:"customer_name"`
	Participants Participants   `json:"participants"`
	TotalGuests  int            `json:"total_guests"`
	Mode         ExperienceMode `json:"mode"`
	PickupPoint  string         `json:"pickup_point,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	FirstTimer   bool           `json:"first_timer"`
}

// OptimizeResult 自动派单结果
type OptimizeResult struct {
	Date        string             `json:"date"`
	Assignments []*GuideAssignment `json:"assignments"`
	Warnings    []*Warning         `json:"warnings"`
	Efficiency  float64            `json:"efficiency"`
	Duration    time.Duration      `json:"duration"`
}

// DispatchResult 发车结果
type DispatchResult struct {
	Success       bool       `json:"success"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	GuidesNotified []string  `json:"guides_notified"` // 待通知的导游（在编为ID，外请为姓名）
	Errors        []string   `json:"errors,omitempty"`
}
