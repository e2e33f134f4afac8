// Package model 定义派单引擎的核心数据模型
package model

import (
	"github.com/google/uuid"
)

// Tour 旅游产品/线路
type Tour struct {
	BaseModel
	OrgID           uuid.UUID `json:"org_id" db:"org_id"`
	Name            string    `json:"name" db:"name"`
	Code            string    `json:"code" db:"code"`
	Description     string    `json:"description,omitempty" db:"description"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	GuestsPerGuide  int       `json:"guests_per_guide" db:"guests_per_guide"` // 每名导游可带游客数
	MeetingPoint    string    `json:"meeting_point,omitempty" db:"meeting_point"`
	IsActive        bool      `json:"is_active" db:"is_active"`
}

// GuidesNeededFor 计算带领指定游客数所需的导游数（向上取整）
func (t *Tour) GuidesNeededFor(guests int) int {
	if guests <= 0 {
		return 0
	}
	ratio := t.GuestsPerGuide
	if ratio <= 0 {
		ratio = 1
	}
	return (guests + ratio - 1) / ratio
}

// WindowFor 计算某日期某时刻出发的行程时间窗口
func (t *Tour) WindowFor(date, timeOfDay string) (TimeRange, error) {
	return WindowFor(date, timeOfDay, t.DurationMinutes)
}
