// Package dispatch 提供导游派单与调度中心核心引擎
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/logger"
	"github.com/paituan/paituan/pkg/model"
	"github.com/paituan/paituan/pkg/validator"
)

// ScheduleChecker 基于持久层的冲突与容量检查
// 把导游当日已确认分配还原为团次时间窗口后交给冲突检测器判定。
// 每次调用的代价与该导游已确认分配数成正比；
// 优化器在单次遍历内使用内存排期，不走本路径。
type ScheduleChecker struct {
	stores   Stores
	detector *validator.ConflictDetector
}

// NewScheduleChecker 创建检查器
func NewScheduleChecker(stores Stores) *ScheduleChecker {
	return &ScheduleChecker{
		stores:   stores,
		detector: validator.NewConflictDetector(),
	}
}

// ConfirmedSlots 加载导游身份键某日期的已确认分配并解析团次窗口
func (c *ScheduleChecker) ConfirmedSlots(ctx context.Context, orgID uuid.UUID, guideKey, date string) ([]validator.ConfirmedSlot, error) {
	assignments, err := c.stores.Assignments.ListConfirmedByGuideDate(ctx, orgID, guideKey, date)
	if err != nil {
		return nil, fmt.Errorf("查询导游已确认分配失败: %w", err)
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	bookingIDs := make([]uuid.UUID, 0, len(assignments))
	for _, asg := range assignments {
		bookingIDs = append(bookingIDs, asg.BookingID)
	}
	bookings, err := c.stores.Bookings.GetBookings(ctx, orgID, bookingIDs)
	if err != nil {
		return nil, fmt.Errorf("批量查询分配关联预订失败: %w", err)
	}

	var tourIDs []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, b := range bookings {
		if !seen[b.TourID] {
			seen[b.TourID] = true
			tourIDs = append(tourIDs, b.TourID)
		}
	}
	tours, err := c.stores.Tours.GetTours(ctx, orgID, tourIDs)
	if err != nil {
		return nil, fmt.Errorf("批量查询分配关联线路失败: %w", err)
	}

	slots := make([]validator.ConfirmedSlot, 0, len(assignments))
	for _, asg := range assignments {
		booking := bookings[asg.BookingID]
		if booking == nil {
			continue
		}
		tour := tours[booking.TourID]
		if tour == nil {
			continue
		}

		run := booking.RunKey()
		window, err := run.Window(tour.DurationMinutes)
		if err != nil {
			// 无法解析窗口的历史数据不参与冲突判定
			logger.Warn().
				Err(err).
				Str("assignment_id", asg.ID.String()).
				Str("run_key", run.String()).
				Msg("分配的团次窗口解析失败，已跳过")
			continue
		}

		slots = append(slots, validator.ConfirmedSlot{
			AssignmentID: asg.ID,
			BookingID:    booking.ID,
			Run:          run,
			Window:       window,
			Guests:       asg.GuestsFor(booking.GuestCount()),
			IsCharter:    booking.IsCharter(),
		})
	}
	return slots, nil
}

// Check 对候选分配执行冲突与容量双重检查，返回首个冲突
// capacity<=0（外请导游）时跳过容量检查。
func (c *ScheduleChecker) Check(
	ctx context.Context,
	orgID uuid.UUID,
	guideKey string,
	capacity int,
	incomingGuests int,
	window model.TimeRange,
	currentRun model.RunKey,
	incomingCharter bool,
) (*validator.Conflict, error) {
	slots, err := c.ConfirmedSlots(ctx, orgID, guideKey, currentRun.Date)
	if err != nil {
		return nil, err
	}

	if conflict := c.detector.CheckWindow(guideKey, window, currentRun, incomingCharter, slots); conflict != nil {
		return conflict, nil
	}
	if conflict := c.detector.CheckCapacity(guideKey, capacity, incomingGuests, currentRun, slots); conflict != nil {
		return conflict, nil
	}
	return nil, nil
}
