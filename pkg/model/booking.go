// Package model 定义派单引擎的核心数据模型
package model

import (
	"github.com/google/uuid"
)

// BookingStatus 预订状态
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
	BookingNoShow    BookingStatus = "no_show"
)

// ExperienceMode 体验模式（决定是否独占导游）
type ExperienceMode string

const (
	ModeJoin    ExperienceMode = "join"    // 拼团
	ModeBook    ExperienceMode = "book"    // 独立成团
	ModeCharter ExperienceMode = "charter" // 包团（独占导游）
)

// Participants 按年龄段拆分的游客人数
type Participants struct {
	Adults   int `json:"adults" db:"adults"`
	Children int `json:"children" db:"children"`
	Infants  int `json:"infants" db:"infants"`
}

// Total 返回游客总数
func (p Participants) Total() int {
	return p.Adults + p.Children + p.Infants
}

// Booking 客户预订
type Booking struct {
	BaseModel
	OrgID        uuid.UUID      `json:"org_id" db:"org_id"`
	TourID       uuid.UUID      `json:"tour_id" db:"tour_id"`
	CustomerID   uuid.UUID      `json:"customer_id" db:"customer_id"`
	CustomerName string         `json:"customer_name" db:"customer_name"`
	Date         string         `json:"date" db:"date"`                 // YYYY-MM-DD
	TimeOfDay    string         `json:"time_of_day" db:"time_of_day"`   // HH:MM
	Participants Participants   `json:"participants" db:"participants"`
	Status       BookingStatus  `json:"status" db:"status"`
	Mode         ExperienceMode `json:"mode" db:"mode"`
	PickupPoint  string         `json:"pickup_point,omitempty" db:"pickup_point"`
	Notes        string         `json:"notes,omitempty" db:"notes"`
}

// IsActive 检查预订是否有效（待确认或已确认）
func (b *Booking) IsActive() bool {
	return b.Status == BookingPending || b.Status == BookingConfirmed
}

// IsCharter 检查是否为包团预订
func (b *Booking) IsCharter() bool {
	return b.Mode == ModeCharter
}

// HasTimeWindow 检查预订是否有可解析的出发时间
func (b *Booking) HasTimeWindow() bool {
	return b.Date != "" && b.TimeOfDay != ""
}

// RunKey 返回预订所属团次的键
func (b *Booking) RunKey() RunKey {
	return RunKey{TourID: b.TourID, Date: b.Date, Time: b.TimeOfDay}
}

// GuestCount 返回预订的游客总数
func (b *Booking) GuestCount() int {
	return b.Participants.Total()
}
