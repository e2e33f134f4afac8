// Package dispatch 提供导游派单与调度中心核心引擎
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/logger"
	"github.com/paituan/paituan/pkg/model"
)

// Aggregator 团次聚合器
// 把同一线路、同一日期、同一出发时刻的预订聚合为团次。
// 团次是派生数据，每次读取重新计算，从不持久化。
type Aggregator struct {
	stores Stores
}

// NewAggregator 创建团次聚合器
func NewAggregator(stores Stores) *Aggregator {
	return &Aggregator{stores: stores}
}

// RunsForDate 返回组织某日期的全部团次
// 按出发时刻升序排列，同一时刻游客多的团次在前（难配的先处理）。
func (a *Aggregator) RunsForDate(ctx context.Context, orgID uuid.UUID, date string) ([]*model.TourRun, error) {
	if _, err := model.ParseDate(date); err != nil {
		return nil, fmt.Errorf("聚合团次失败: %w", err)
	}

	bookings, err := a.stores.Bookings.ListBookingsByDate(ctx, orgID, date)
	if err != nil {
		return nil, fmt.Errorf("查询当日预订失败: %w", err)
	}

	// 按团次键分组（仅有效预订参与聚合）
	groups := make(map[model.RunKey][]*model.Booking)
	for _, b := range bookings {
		if !b.IsActive() || !b.HasTimeWindow() {
			continue
		}
		key := b.RunKey()
		groups[key] = append(groups[key], b)
	}
	if len(groups) == 0 {
		return nil, nil
	}

	// 批量解析线路
	tourIDs := make([]uuid.UUID, 0, len(groups))
	seen := make(map[uuid.UUID]bool)
	for key := range groups {
		if !seen[key.TourID] {
			seen[key.TourID] = true
			tourIDs = append(tourIDs, key.TourID)
		}
	}
	tours, err := a.stores.Tours.GetTours(ctx, orgID, tourIDs)
	if err != nil {
		return nil, fmt.Errorf("批量查询线路失败: %w", err)
	}

	// 批量解析首次参团标记（非关键路径：失败时降级为全false）
	firstTimers := a.resolveFirstTimers(ctx, orgID, date, groups)

	// 批量加载分配
	assignmentsByBooking, err := a.loadAssignments(ctx, orgID, groups)
	if err != nil {
		return nil, err
	}

	// 批量解析在编导游的展示姓名（非关键路径：失败时退回ID展示）
	guideNames := a.resolveGuideNames(ctx, orgID, assignmentsByBooking)

	runs := make([]*model.TourRun, 0, len(groups))
	for key, runBookings := range groups {
		tour := tours[key.TourID]
		if tour == nil {
			logger.Warn().
				Str("tour_id", key.TourID.String()).
				Str("run_key", key.String()).
				Msg("团次引用的线路不存在，已跳过")
			continue
		}

		run := a.buildRun(key, tour, runBookings, firstTimers, assignmentsByBooking, guideNames)
		runs = append(runs, run)
	}

	sortRuns(runs)
	return runs, nil
}

// BookingsForRun 返回某团次键下的全部有效预订
func (a *Aggregator) BookingsForRun(ctx context.Context, orgID uuid.UUID, key model.RunKey) ([]*model.Booking, error) {
	bookings, err := a.stores.Bookings.ListBookingsByDate(ctx, orgID, key.Date)
	if err != nil {
		return nil, fmt.Errorf("查询团次预订失败: %w", err)
	}

	var result []*model.Booking
	for _, b := range bookings {
		if b.IsActive() && b.RunKey() == key {
			result = append(result, b)
		}
	}
	return result, nil
}

// buildRun 构建单个团次
func (a *Aggregator) buildRun(
	key model.RunKey,
	tour *model.Tour,
	bookings []*model.Booking,
	firstTimers map[uuid.UUID]bool,
	assignmentsByBooking map[uuid.UUID][]*model.GuideAssignment,
	guideNames map[uuid.UUID]string,
) *model.TourRun {
	run := &model.TourRun{
		Key:         key,
		RunKey:      key.String(),
		TourID:      tour.ID,
		TourName:    tour.Name,
		Date:        key.Date,
		Time:        key.Time,
		DurationMin: tour.DurationMinutes,
	}

	// 按身份键去重的已确认导游统计
	assigned := make(map[string]*model.AssignedGuide)
	var assignedOrder []string

	for _, b := range bookings {
		run.Bookings = append(run.Bookings, model.RunBooking{
			BookingID:    b.ID,
			CustomerID:   b.CustomerID,
			CustomerName: b.CustomerName,
			Guests:       b.GuestCount(),
			Mode:         b.Mode,
			Status:       b.Status,
			FirstTimer:   firstTimers[b.CustomerID],
		})
		run.TotalGuests += b.GuestCount()
		if b.IsCharter() {
			run.HasCharter = true
		}

		for _, asg := range assignmentsByBooking[b.ID] {
			if !asg.IsConfirmed() {
				continue
			}
			gKey := asg.GuideKey()
			entry, ok := assigned[gKey]
			if !ok {
				name := asg.GuideLabel()
				if asg.GuideID != nil {
					if n, found := guideNames[*asg.GuideID]; found {
						name = n
					}
				}
				entry = &model.AssignedGuide{
					GuideID:    asg.GuideID,
					Name:       name,
					Outsourced: asg.IsOutsourced(),
				}
				assigned[gKey] = entry
				assignedOrder = append(assignedOrder, gKey)
			}
			entry.Guests += asg.GuestsFor(b.GuestCount())
			entry.BookingIDs = append(entry.BookingIDs, b.ID)
		}
	}

	run.GuidesNeeded = tour.GuidesNeededFor(run.TotalGuests)
	for _, gKey := range assignedOrder {
		run.AssignedGuides = append(run.AssignedGuides, *assigned[gKey])
	}
	run.Status = model.DeriveRunStatus(len(run.AssignedGuides), run.GuidesNeeded)

	return run
}

// resolveFirstTimers 批量解析首次参团标记
// 单次查询覆盖全部客户；失败时记录日志并降级为全false，不影响聚合主流程。
func (a *Aggregator) resolveFirstTimers(ctx context.Context, orgID uuid.UUID, date string, groups map[model.RunKey][]*model.Booking) map[uuid.UUID]bool {
	var customerIDs []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, bookings := range groups {
		for _, b := range bookings {
			if !seen[b.CustomerID] {
				seen[b.CustomerID] = true
				customerIDs = append(customerIDs, b.CustomerID)
			}
		}
	}

	counts, err := a.stores.Bookings.CountPriorBookings(ctx, orgID, customerIDs, date)
	if err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("解析首次参团标记失败，降级为默认值")
		return map[uuid.UUID]bool{}
	}

	result := make(map[uuid.UUID]bool, len(customerIDs))
	for _, id := range customerIDs {
		result[id] = counts[id] == 0
	}
	return result
}

// resolveGuideNames 批量解析已确认分配引用的在编导游姓名
// 导游被删除或查询失败时缺席，调用方退回ID展示。
func (a *Aggregator) resolveGuideNames(ctx context.Context, orgID uuid.UUID, assignmentsByBooking map[uuid.UUID][]*model.GuideAssignment) map[uuid.UUID]string {
	var guideIDs []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, assignments := range assignmentsByBooking {
		for _, asg := range assignments {
			if !asg.IsConfirmed() || asg.GuideID == nil || seen[*asg.GuideID] {
				continue
			}
			seen[*asg.GuideID] = true
			guideIDs = append(guideIDs, *asg.GuideID)
		}
	}
	if len(guideIDs) == 0 {
		return map[uuid.UUID]string{}
	}

	guides, err := a.stores.Guides.GetGuides(ctx, orgID, guideIDs)
	if err != nil {
		logger.Warn().Err(err).Msg("批量解析导游姓名失败，退回ID展示")
		return map[uuid.UUID]string{}
	}

	names := make(map[uuid.UUID]string, len(guides))
	for id, g := range guides {
		names[id] = g.Name
	}
	return names
}

// loadAssignments 批量加载全部预订的分配
func (a *Aggregator) loadAssignments(ctx context.Context, orgID uuid.UUID, groups map[model.RunKey][]*model.Booking) (map[uuid.UUID][]*model.GuideAssignment, error) {
	var bookingIDs []uuid.UUID
	for _, bookings := range groups {
		for _, b := range bookings {
			bookingIDs = append(bookingIDs, b.ID)
		}
	}

	assignments, err := a.stores.Assignments.ListAssignmentsByBookings(ctx, orgID, bookingIDs)
	if err != nil {
		return nil, fmt.Errorf("批量查询分配失败: %w", err)
	}

	result := make(map[uuid.UUID][]*model.GuideAssignment)
	for _, asg := range assignments {
		result[asg.BookingID] = append(result[asg.BookingID], asg)
	}
	return result, nil
}

// sortRuns 按出发时刻升序、同时刻游客数降序排序
func sortRuns(runs []*model.TourRun) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Time != runs[j].Time {
			return runs[i].Time < runs[j].Time
		}
		if runs[i].TotalGuests != runs[j].TotalGuests {
			return runs[i].TotalGuests > runs[j].TotalGuests
		}
		return runs[i].RunKey < runs[j].RunKey
	})
}
