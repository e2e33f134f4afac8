// Package dispatch 提供导游派单与调度中心核心引擎
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/cache"
	apperrors "github.com/paituan/paituan/pkg/errors"
	"github.com/paituan/paituan/pkg/logger"
	"github.com/paituan/paituan/pkg/model"
)

// Service 调度中心门面
// 组合团次聚合、可用性解析、自动派单、分配状态机、
// 预警处置与调度状态，是 HTTP 层唯一依赖的入口。
type Service struct {
	stores       Stores
	aggregator   *Aggregator
	availability *AvailabilityResolver
	assignments  *AssignmentService
	optimizer    *Optimizer
	resolutions  *ResolutionEngine
	status       *StatusService
}

// NewService 创建调度中心门面
func NewService(stores Stores, statusCache cache.StatusCache) *Service {
	aggregator := NewAggregator(stores)
	availability := NewAvailabilityResolver(stores.Guides)
	assignments := NewAssignmentService(stores, statusCache)

	return &Service{
		stores:       stores,
		aggregator:   aggregator,
		availability: availability,
		assignments:  assignments,
		optimizer:    NewOptimizer(stores, aggregator, availability, assignments),
		resolutions:  NewResolutionEngine(stores, aggregator, assignments, statusCache),
		status:       NewStatusService(stores, aggregator, availability, statusCache),
	}
}

// GetDispatchStatus 返回某日期的调度状态快照
func (s *Service) GetDispatchStatus(ctx context.Context, orgID uuid.UUID, date string) (*model.DispatchStatus, error) {
	return s.status.GetDispatchStatus(ctx, orgID, date)
}

// GetTourRuns 返回某日期的全部团次
func (s *Service) GetTourRuns(ctx context.Context, orgID uuid.UUID, date string) ([]*model.TourRun, error) {
	return s.aggregator.RunsForDate(ctx, orgID, date)
}

// GetAvailableGuides 返回某日期可参与派单的导游及其注解
// 注解包括有效可用时段、资质线路与已确认团次。
func (s *Service) GetAvailableGuides(ctx context.Context, orgID uuid.UUID, date string) ([]*model.AvailableGuide, error) {
	guides, err := s.stores.Guides.ListActiveGuides(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("查询在职导游失败: %w", err)
	}

	guideIDs := make([]uuid.UUID, 0, len(guides))
	for _, g := range guides {
		guideIDs = append(guideIDs, g.ID)
	}
	availabilities, err := s.availability.ResolveAll(ctx, guideIDs, date)
	if err != nil {
		return nil, err
	}
	qualIndex, err := BuildQualificationIndex(ctx, s.stores.Guides, guideIDs)
	if err != nil {
		return nil, err
	}
	assignedRuns, err := s.assignedRunsByGuide(ctx, orgID, date)
	if err != nil {
		return nil, err
	}

	result := make([]*model.AvailableGuide, 0, len(guides))
	for _, g := range guides {
		avail := availabilities[g.ID]
		if !avail.IsAvailable {
			continue
		}
		result = append(result, &model.AvailableGuide{
			Guide:          g,
			Availability:   avail,
			QualifiedTours: qualIndex.QualifiedTours(g.ID),
			AssignedRuns:   assignedRuns[g.ID.String()],
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Guide.Name < result[j].Guide.Name
	})
	return result, nil
}

// GetGuideTimelines 返回某日期全部出勤导游的空闲/带团时间轴
func (s *Service) GetGuideTimelines(ctx context.Context, orgID uuid.UUID, date string) ([]*model.GuideTimeline, error) {
	guides, err := s.stores.Guides.ListActiveGuides(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("查询在职导游失败: %w", err)
	}
	guideIDs := make([]uuid.UUID, 0, len(guides))
	for _, g := range guides {
		guideIDs = append(guideIDs, g.ID)
	}
	availabilities, err := s.availability.ResolveAll(ctx, guideIDs, date)
	if err != nil {
		return nil, err
	}

	runs, err := s.aggregator.RunsForDate(ctx, orgID, date)
	if err != nil {
		return nil, err
	}

	// 各导游的带团段（按身份键索引）
	tourSegments := make(map[string][]model.TimelineSegment)
	for _, run := range runs {
		window, err := run.Window()
		if err != nil {
			continue
		}
		seg := model.TimelineSegment{
			Type:      model.SegmentTour,
			StartTime: window.Start.Format(model.TimeFormat),
			EndTime:   window.End.Format(model.TimeFormat),
			RunKey:    run.RunKey,
			TourName:  run.TourName,
		}
		for _, ag := range run.AssignedGuides {
			if ag.GuideID == nil {
				continue
			}
			s := seg
			s.Guests = ag.Guests
			tourSegments[ag.GuideID.String()] = append(tourSegments[ag.GuideID.String()], s)
		}
	}

	timelines := make([]*model.GuideTimeline, 0, len(guides))
	for _, g := range guides {
		avail := availabilities[g.ID]
		if !avail.IsAvailable {
			continue
		}
		timelines = append(timelines, &model.GuideTimeline{
			GuideID:   g.ID,
			GuideName: g.Name,
			Date:      date,
			Segments:  buildSegments(avail, tourSegments[g.ID.String()]),
		})
	}

	sort.Slice(timelines, func(i, j int) bool {
		return timelines[i].GuideName < timelines[j].GuideName
	})
	return timelines, nil
}

// buildSegments 把可用时段与带团段合成为连续时间轴
// 带团段之间与两端的空档填充为空闲段。
func buildSegments(avail model.GuideAvailability, tours []model.TimelineSegment) []model.TimelineSegment {
	sort.Slice(tours, func(i, j int) bool {
		return tours[i].StartTime < tours[j].StartTime
	})

	var segments []model.TimelineSegment
	cursor := avail.StartTime
	for _, t := range tours {
		if t.StartTime > cursor {
			segments = append(segments, model.TimelineSegment{
				Type:      model.SegmentIdle,
				StartTime: cursor,
				EndTime:   t.StartTime,
			})
		}
		segments = append(segments, t)
		if t.EndTime > cursor {
			cursor = t.EndTime
		}
	}
	if cursor < avail.EndTime {
		segments = append(segments, model.TimelineSegment{
			Type:      model.SegmentIdle,
			StartTime: cursor,
			EndTime:   avail.EndTime,
		})
	}
	return segments
}

// Optimize 对某日期执行一轮自动派单并刷新调度状态
func (s *Service) Optimize(ctx context.Context, orgID uuid.UUID, date string) (*model.OptimizeResult, error) {
	result, err := s.optimizer.Optimize(ctx, orgID, date)
	if err != nil {
		return nil, err
	}
	if _, err := s.status.Refresh(ctx, orgID, date); err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveWarning 执行预警处置并刷新调度状态
func (s *Service) ResolveWarning(ctx context.Context, orgID uuid.UUID, res *model.Resolution) (*model.ResolutionOutcome, error) {
	outcome, err := s.resolutions.Apply(ctx, orgID, res)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// ManualAssign 人工指派导游到预订（直接确认）
// 人工指派有意绕过资质检查：资质只约束自动派单的候选过滤，
// 容量与排期冲突仍由状态机强制执行。
func (s *Service) ManualAssign(ctx context.Context, orgID, bookingID, guideID uuid.UUID) (*model.GuideAssignment, error) {
	return s.assignments.AssignGuideToBooking(ctx, orgID, bookingID, guideID, true)
}

// AssignOutsourced 人工指派外请导游到预订（直接确认）
func (s *Service) AssignOutsourced(ctx context.Context, orgID, bookingID uuid.UUID, name, contact string) (*model.GuideAssignment, error) {
	return s.assignments.AssignOutsourcedGuide(ctx, orgID, bookingID, name, contact, true)
}

// Unassign 取消某预订的全部分配
func (s *Service) Unassign(ctx context.Context, orgID, bookingID uuid.UUID) error {
	return s.assignments.UnassignBooking(ctx, orgID, bookingID)
}

// ConfirmAssignment 确认待确认分配
func (s *Service) ConfirmAssignment(ctx context.Context, orgID, assignmentID uuid.UUID) (*model.GuideAssignment, error) {
	return s.assignments.Confirm(ctx, orgID, assignmentID)
}

// DeclineAssignment 拒绝待确认分配
func (s *Service) DeclineAssignment(ctx context.Context, orgID, assignmentID uuid.UUID, reason string) (*model.GuideAssignment, error) {
	return s.assignments.Decline(ctx, orgID, assignmentID, reason)
}

// CancelAssignment 取消分配
func (s *Service) CancelAssignment(ctx context.Context, orgID, assignmentID uuid.UUID) error {
	return s.assignments.Cancel(ctx, orgID, assignmentID)
}

// Dispatch 发车：对某日期的派单方案做终态确认
func (s *Service) Dispatch(ctx context.Context, orgID uuid.UUID, date string) (*model.DispatchResult, error) {
	return s.status.Dispatch(ctx, orgID, date)
}

// GetGuestDetails 返回某团次的游客详情列表
func (s *Service) GetGuestDetails(ctx context.Context, orgID uuid.UUID, runKey string) ([]*model.GuestDetails, error) {
	key, err := model.ParseRunKey(runKey)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	bookings, err := s.aggregator.BookingsForRun(ctx, orgID, key)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, apperrors.NotFound("团次", key.String())
	}

	runs, err := s.aggregator.RunsForDate(ctx, orgID, key.Date)
	if err != nil {
		return nil, err
	}
	firstTimers := make(map[uuid.UUID]bool)
	for _, run := range runs {
		if run.Key != key {
			continue
		}
		for _, rb := range run.Bookings {
			firstTimers[rb.BookingID] = rb.FirstTimer
		}
	}

	details := make([]*model.GuestDetails, 0, len(bookings))
	for _, b := range bookings {
		details = append(details, guestDetailsFor(b, firstTimers[b.ID]))
	}
	return details, nil
}

// GetGuestDetailsForBooking 返回单个预订的游客详情
func (s *Service) GetGuestDetailsForBooking(ctx context.Context, orgID, bookingID uuid.UUID) (*model.GuestDetails, error) {
	booking, err := s.stores.Bookings.GetBooking(ctx, orgID, bookingID)
	if err != nil {
		return nil, fmt.Errorf("查询预订失败: %w", err)
	}
	if booking == nil {
		return nil, apperrors.NotFound("预订", bookingID.String())
	}

	// 首次参团标记非关键：失败时降级为false
	firstTimer := false
	counts, err := s.stores.Bookings.CountPriorBookings(ctx, orgID, []uuid.UUID{booking.CustomerID}, booking.Date)
	if err != nil {
		logger.Warn().Err(err).
			Str("booking_id", bookingID.String()).
			Msg("解析首次参团标记失败，降级为默认值")
	} else {
		firstTimer = counts[booking.CustomerID] == 0
	}

	return guestDetailsFor(booking, firstTimer), nil
}

// guestDetailsFor 由预订构建游客详情
func guestDetailsFor(b *model.Booking, firstTimer bool) *model.GuestDetails {
	return &model.GuestDetails{
		BookingID:    b.ID,
		CustomerID:   b.CustomerID,
		CustomerName: b.CustomerName,
		Participants: b.Participants,
		TotalGuests:  b.GuestCount(),
		Mode:         b.Mode,
		PickupPoint:  b.PickupPoint,
		Notes:        b.Notes,
		FirstTimer:   firstTimer,
	}
}

// GetAssignmentsForBooking 返回某预订的全部分配
func (s *Service) GetAssignmentsForBooking(ctx context.Context, orgID, bookingID uuid.UUID) ([]*model.GuideAssignment, error) {
	return s.assignments.AssignmentsForBooking(ctx, orgID, bookingID)
}

// assignedRunsByGuide 汇总某日期各在编导游的已确认团次键
func (s *Service) assignedRunsByGuide(ctx context.Context, orgID uuid.UUID, date string) (map[string][]string, error) {
	runs, err := s.aggregator.RunsForDate(ctx, orgID, date)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]string)
	for _, run := range runs {
		for _, ag := range run.AssignedGuides {
			if ag.GuideID == nil {
				continue
			}
			id := ag.GuideID.String()
			result[id] = append(result[id], run.RunKey)
		}
	}
	return result, nil
}
