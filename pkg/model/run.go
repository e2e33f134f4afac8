// Package model 定义派单引擎的核心数据模型
package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RunKey 团次的结构化键（线路+日期+出发时刻）
// 仅在序列化边界使用 "tourId|YYYY-MM-DD|HH:MM" 字符串形式，内部比较一律用结构体相等。
type RunKey struct {
	TourID uuid.UUID `json:"tour_id"`
	Date   string    `json:"date"` // YYYY-MM-DD
	Time   string    `json:"time"` // HH:MM
}

// String 返回规范字符串形式 tourId|YYYY-MM-DD|HH:MM
func (k RunKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.TourID, k.Date, k.Time)
}

// IsZero 检查键是否为空
func (k RunKey) IsZero() bool {
	return k.TourID == uuid.Nil && k.Date == "" && k.Time == ""
}

// ParseRunKey 解析规范字符串形式的团次键
func ParseRunKey(s string) (RunKey, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return RunKey{}, fmt.Errorf("团次键格式无效 '%s'", s)
	}
	tourID, err := uuid.Parse(parts[0])
	if err != nil {
		return RunKey{}, fmt.Errorf("团次键线路ID无效 '%s': %w", parts[0], err)
	}
	if _, err := ParseDate(parts[1]); err != nil {
		return RunKey{}, err
	}
	day, _ := ParseDate(parts[1])
	if _, err := ParseTimeOfDay(day, parts[2]); err != nil {
		return RunKey{}, err
	}
	return RunKey{TourID: tourID, Date: parts[1], Time: parts[2]}, nil
}

// Window 由线路时长计算团次的时间窗口
func (k RunKey) Window(durationMinutes int) (TimeRange, error) {
	return WindowFor(k.Date, k.Time, durationMinutes)
}

// RunStatus 团次配置状态（完全由计数推导）
type RunStatus string

const (
	RunUnassigned  RunStatus = "unassigned"  // 无导游
	RunPartial     RunStatus = "partial"     // 部分配齐
	RunAssigned    RunStatus = "assigned"    // 配齐
	RunOverstaffed RunStatus = "overstaffed" // 超配
)

// DeriveRunStatus 由已配/应配导游数推导团次状态
func DeriveRunStatus(assigned, needed int) RunStatus {
	switch {
	case assigned == 0:
		return RunUnassigned
	case assigned < needed:
		return RunPartial
	case assigned == needed:
		return RunAssigned
	default:
		return RunOverstaffed
	}
}

// RunBooking 团次中的单个预订摘要
type RunBooking struct {
	BookingID    uuid.UUID      `json:"booking_id"`
	CustomerID   uuid.UUID      `json:"customer_id"`
	CustomerName string         `json:"customer_name"`
	Guests       int            `json:"guests"`
	Mode         ExperienceMode `json:"mode"`
	Status       BookingStatus  `json:"status"`
	FirstTimer   bool           `json:"first_timer"` // 首次参团客户（批量解析）
}

// AssignedGuide 团次中已确认的导游（按身份键去重）
type AssignedGuide struct {
	GuideID    *uuid.UUID  `json:"guide_id,omitempty"`
	Name       string      `json:"name"`
	Outsourced bool        `json:"outsourced"`
	Guests     int         `json:"guests"`      // 该导游承接的游客总数
	BookingIDs []uuid.UUID `json:"booking_ids"` // 该导游覆盖的预订
}

// TourRun 团次：同一线路同一日期同一出发时刻的预订聚合
// 派生数据，每次读取重新计算，从不持久化。
type TourRun struct {
	Key            RunKey          `json:"key"`
	RunKey         string          `json:"run_key"` // 序列化边界使用的字符串形式
	TourID         uuid.UUID       `json:"tour_id"`
	TourName       string          `json:"tour_name"`
	Date           string          `json:"date"`
	Time           string          `json:"time"`
	DurationMin    int             `json:"duration_minutes"`
	Bookings       []RunBooking    `json:"bookings"`
	TotalGuests    int             `json:"total_guests"`
	GuidesNeeded   int             `json:"guides_needed"`
	AssignedGuides []AssignedGuide `json:"assigned_guides"`
	Status         RunStatus       `json:"status"`
	HasCharter     bool            `json:"has_charter"`
}

// GuidesAssigned 返回去重后的已配导游数
func (r *TourRun) GuidesAssigned() int {
	return len(r.AssignedGuides)
}

// GuidesMissing 返回缺口导游数
func (r *TourRun) GuidesMissing() int {
	missing := r.GuidesNeeded - len(r.AssignedGuides)
	if missing < 0 {
		return 0
	}
	return missing
}

// Window 返回团次的时间窗口
func (r *TourRun) Window() (TimeRange, error) {
	return r.Key.Window(r.DurationMin)
}
