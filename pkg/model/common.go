// Package model 定义派单引擎的核心数据模型
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateFormat 日期的规范格式（YYYY-MM-DD）
const DateFormat = "2006-01-02"

// TimeFormat 时刻的规范格式（HH:MM）
const TimeFormat = "15:04"

// BaseModel 基础模型（包含通用字段）
type BaseModel struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// NewBaseModel 创建新的基础模型
func NewBaseModel() BaseModel {
	now := time.Now()
	return BaseModel{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Organization 旅行社/组织
type Organization struct {
	BaseModel
	Name     string  `json:"name" db:"name"`
	Code     string  `json:"code" db:"code"`
	Timezone string  `json:"timezone" db:"timezone"`
	Settings JSONMap `json:"settings" db:"settings"`
}

// JSONMap 用于存储 JSONB 数据
type JSONMap map[string]interface{}

// TimeRange 时间范围（半开区间 [Start, End)）
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration 返回时间范围的持续时间
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Overlaps 检查两个时间范围是否重叠（端点相接不算重叠）
func (tr TimeRange) Overlaps(other TimeRange) bool {
	return tr.Start.Before(other.End) && other.Start.Before(tr.End)
}

// Contains 检查时间范围是否包含某个时间点
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// Covers 检查时间范围是否完全覆盖另一个范围
func (tr TimeRange) Covers(other TimeRange) bool {
	return !tr.Start.After(other.Start) && !tr.End.Before(other.End)
}

// DateRange 日期范围
type DateRange struct {
	StartDate string `json:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"end_date"`   // YYYY-MM-DD
}

// ParseDate 解析规范日期字符串
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateFormat, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("日期格式无效 '%s': %w", date, err)
	}
	return t, nil
}

// ParseTimeOfDay 在指定日期上解析 HH:MM 时刻
func ParseTimeOfDay(date time.Time, timeStr string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, timeStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("时刻格式无效 '%s': %w", timeStr, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

// WindowFor 由日期、开始时刻和时长（分钟）构造时间范围
func WindowFor(date, timeOfDay string, durationMinutes int) (TimeRange, error) {
	day, err := ParseDate(date)
	if err != nil {
		return TimeRange{}, err
	}
	start, err := ParseTimeOfDay(day, timeOfDay)
	if err != nil {
		return TimeRange{}, err
	}
	return TimeRange{
		Start: start,
		End:   start.Add(time.Duration(durationMinutes) * time.Minute),
	}, nil
}
