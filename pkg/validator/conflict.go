// Package validator 提供导游分配冲突检测
package validator

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/model"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictOverlap   ConflictType = "overlap"   // 不同团次时间重叠
	ConflictCharter   ConflictType = "charter"   // 包团独占
	ConflictCapacity  ConflictType = "capacity"  // 容量超限
	ConflictDuplicate ConflictType = "duplicate" // 重复分配
)

// Conflict 冲突信息
type Conflict struct {
	Type        ConflictType `json:"type"`
	GuideKey    string       `json:"guide_key"`
	RunKey      string       `json:"run_key"`
	Message     string       `json:"message"`
	Assignments []uuid.UUID  `json:"assignments,omitempty"` // 相关的分配ID
}

// ConfirmedSlot 已确认分配解析后的团次上下文
// 由线路时长把分配还原为团次时间窗口。
type ConfirmedSlot struct {
	AssignmentID uuid.UUID
	BookingID    uuid.UUID
	Run          model.RunKey
	Window       model.TimeRange
	Guests       int
	IsCharter    bool
}

// ConflictDetector 冲突检测器
// 规则：
//   - 不同团次键且时间窗口重叠（半开区间，端点相接不冲突）⇒ 冲突；
//   - 同一团次键但任一侧为包团预订 ⇒ 冲突（包团独占导游）；
//   - 同一非包团团次内同一导游可服务多个预订（拼团共享）。
type ConflictDetector struct{}

// NewConflictDetector 创建冲突检测器
func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{}
}

// CheckWindow 检查在指定时间窗口接单是否与已确认分配冲突
// 复杂度为该导游已确认分配数的线性扫描。
func (d *ConflictDetector) CheckWindow(
	guideKey string,
	window model.TimeRange,
	currentRun model.RunKey,
	incomingCharter bool,
	confirmed []ConfirmedSlot,
) *Conflict {
	for _, slot := range confirmed {
		if slot.Run == currentRun {
			// 同团次：仅包团互斥
			if incomingCharter || slot.IsCharter {
				return &Conflict{
					Type:        ConflictCharter,
					GuideKey:    guideKey,
					RunKey:      currentRun.String(),
					Message:     fmt.Sprintf("包团预订独占导游，团次 %s 不可再接其他预订", currentRun),
					Assignments: []uuid.UUID{slot.AssignmentID},
				}
			}
			continue
		}

		// 不同团次：半开区间重叠即冲突
		if slot.Window.Overlaps(window) {
			return &Conflict{
				Type:     ConflictOverlap,
				GuideKey: guideKey,
				RunKey:   slot.Run.String(),
				Message: fmt.Sprintf("与团次 %s（%s-%s）时间重叠",
					slot.Run,
					slot.Window.Start.Format(model.TimeFormat),
					slot.Window.End.Format(model.TimeFormat)),
				Assignments: []uuid.UUID{slot.AssignmentID},
			}
		}
	}
	return nil
}

// CheckCapacity 检查承接新增游客后是否超过导游容量
// 仅统计同一团次内该导游已确认预订的游客数。
func (d *ConflictDetector) CheckCapacity(
	guideKey string,
	capacity int,
	incomingGuests int,
	currentRun model.RunKey,
	confirmed []ConfirmedSlot,
) *Conflict {
	// 外请导游无车辆容量数据，capacity<=0 时不做容量检查
	if capacity <= 0 {
		return nil
	}

	total := incomingGuests
	var related []uuid.UUID
	for _, slot := range confirmed {
		if slot.Run == currentRun {
			total += slot.Guests
			related = append(related, slot.AssignmentID)
		}
	}

	if total > capacity {
		return &Conflict{
			Type:        ConflictCapacity,
			GuideKey:    guideKey,
			RunKey:      currentRun.String(),
			Message:     fmt.Sprintf("团次 %s 游客合计 %d 超过导游容量 %d", currentRun, total, capacity),
			Assignments: related,
		}
	}
	return nil
}
