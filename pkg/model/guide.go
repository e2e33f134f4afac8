// Package model 定义派单引擎的核心数据模型
package model

import (
	"time"

	"github.com/google/uuid"
)

// Guide 导游
type Guide struct {
	BaseModel
	OrgID    uuid.UUID `json:"org_id" db:"org_id"`
	Name     string    `json:"name" db:"name"`
	Code     string    `json:"code" db:"code"`
	Phone    string    `json:"phone,omitempty" db:"phone"`
	Email    string    `json:"email,omitempty" db:"email"`
	Status   string    `json:"status" db:"status"` // active/inactive/leave
	HireDate string    `json:"hire_date" db:"hire_date"`

	// 派单相关
	VehicleCapacity int      `json:"vehicle_capacity" db:"vehicle_capacity"` // 车辆/带团容量
	Languages       []string `json:"languages,omitempty" db:"languages"`
}

// IsActive 检查导游是否在职
func (g *Guide) IsActive() bool {
	return g.Status == "active"
}

// WeeklySlot 每周固定可用时段
type WeeklySlot struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	GuideID   uuid.UUID    `json:"guide_id" db:"guide_id"`
	Weekday   time.Weekday `json:"weekday" db:"weekday"`
	StartTime string       `json:"start_time" db:"start_time"` // HH:MM
	EndTime   string       `json:"end_time" db:"end_time"`     // HH:MM
}

// AvailabilityOverride 指定日期的可用性覆盖（完全替代每周模式）
type AvailabilityOverride struct {
	ID          uuid.UUID `json:"id" db:"id"`
	GuideID     uuid.UUID `json:"guide_id" db:"guide_id"`
	Date        string    `json:"date" db:"date"` // YYYY-MM-DD
	IsAvailable bool      `json:"is_available" db:"is_available"`
	StartTime   string    `json:"start_time,omitempty" db:"start_time"`
	EndTime     string    `json:"end_time,omitempty" db:"end_time"`
	Reason      string    `json:"reason,omitempty" db:"reason"`
}

// GuideAvailability 某日期解析后的有效可用性
type GuideAvailability struct {
	GuideID     uuid.UUID `json:"guide_id"`
	Date        string    `json:"date"`
	IsAvailable bool      `json:"is_available"`
	StartTime   string    `json:"start_time,omitempty"` // HH:MM
	EndTime     string    `json:"end_time,omitempty"`   // HH:MM
}

// Window 返回可用时段对应的时间范围
func (a GuideAvailability) Window() (TimeRange, bool) {
	if !a.IsAvailable || a.StartTime == "" || a.EndTime == "" {
		return TimeRange{}, false
	}
	day, err := ParseDate(a.Date)
	if err != nil {
		return TimeRange{}, false
	}
	start, err1 := ParseTimeOfDay(day, a.StartTime)
	end, err2 := ParseTimeOfDay(day, a.EndTime)
	if err1 != nil || err2 != nil || !end.After(start) {
		return TimeRange{}, false
	}
	return TimeRange{Start: start, End: end}, true
}

// Qualification 导游-线路资质
type Qualification struct {
	GuideID     uuid.UUID `json:"guide_id" db:"guide_id"`
	TourID      uuid.UUID `json:"tour_id" db:"tour_id"`
	CertifiedAt time.Time `json:"certified_at" db:"certified_at"`
}
