// Package dispatch 提供导游派单与调度中心核心引擎
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/cache"
	apperrors "github.com/paituan/paituan/pkg/errors"
	"github.com/paituan/paituan/pkg/logger"
	"github.com/paituan/paituan/pkg/model"
)

// ResolutionEngine 预警处置引擎
// 预警本身不持久化，幂等性来自底层动作：重复提交同一处置
// 要么命中"配对已存在"冲突被跳过，要么落在已终态的数据上成为空操作。
type ResolutionEngine struct {
	stores      Stores
	aggregator  *Aggregator
	assignments *AssignmentService
	cache       cache.StatusCache
	dlog        *logger.DispatchLogger
}

// NewResolutionEngine 创建处置引擎
func NewResolutionEngine(stores Stores, aggregator *Aggregator, assignments *AssignmentService, statusCache cache.StatusCache) *ResolutionEngine {
	return &ResolutionEngine{
		stores:      stores,
		aggregator:  aggregator,
		assignments: assignments,
		cache:       statusCache,
		dlog:        logger.NewDispatchLogger(),
	}
}

// Apply 执行操作员提交的处置动作
func (e *ResolutionEngine) Apply(ctx context.Context, orgID uuid.UUID, res *model.Resolution) (*model.ResolutionOutcome, error) {
	switch res.Action {
	case model.ResolutionAssignGuide:
		return e.assignGuide(ctx, orgID, res)
	case model.ResolutionAddExternal:
		return e.addExternal(ctx, orgID, res)
	case model.ResolutionCancelTour:
		return e.cancelTour(ctx, orgID, res)
	case model.ResolutionSplitBooking:
		return e.splitBooking(ctx, orgID, res)
	default:
		return nil, apperrors.InvalidInput("action", fmt.Sprintf("未知的处置动作: %s", res.Action))
	}
}

// assignGuide 指派在编导游
// 指定预订时只覆盖该预订；指定团次键时覆盖团次内全部有效预订。
// 已存在的 (预订, 导游) 配对跳过，保证重复提交幂等。
func (e *ResolutionEngine) assignGuide(ctx context.Context, orgID uuid.UUID, res *model.Resolution) (*model.ResolutionOutcome, error) {
	if res.GuideID == nil {
		return nil, apperrors.InvalidInput("guide_id", "指派导游处置必须指定导游")
	}

	bookings, err := e.targetBookings(ctx, orgID, res)
	if err != nil {
		return nil, err
	}

	outcome := &model.ResolutionOutcome{Action: res.Action}
	for _, b := range bookings {
		assignment, err := e.assignments.AssignGuideToBooking(ctx, orgID, b.ID, *res.GuideID, true)
		if err != nil {
			if apperrors.IsConflict(err) {
				logger.Debug().
					Str("booking_id", b.ID.String()).
					Str("guide_id", res.GuideID.String()).
					Str("reason", err.Error()).
					Msg("处置指派冲突，已跳过该预订")
				continue
			}
			return nil, err
		}
		outcome.CreatedAssignments = append(outcome.CreatedAssignments, assignment.ID)
		outcome.AffectedBookings = append(outcome.AffectedBookings, b.ID)
	}

	outcome.Applied = len(outcome.CreatedAssignments) > 0
	if outcome.Applied {
		outcome.Message = fmt.Sprintf("已为 %d 个预订指派导游", len(outcome.CreatedAssignments))
	} else {
		outcome.Message = "全部预订均已有该导游或存在冲突，未新增分配"
	}
	return outcome, nil
}

// addExternal 外请导游补位
// 未提供姓名时仅确认收到，不做任何变更（待操作员线下联系后补录）。
func (e *ResolutionEngine) addExternal(ctx context.Context, orgID uuid.UUID, res *model.Resolution) (*model.ResolutionOutcome, error) {
	if res.OutsourcedName == "" {
		return &model.ResolutionOutcome{
			Action:         res.Action,
			Applied:        false,
			ManualFollowup: true,
			Message:        "已记录外请需求，待确定外请导游后补录姓名",
		}, nil
	}

	bookings, err := e.targetBookings(ctx, orgID, res)
	if err != nil {
		return nil, err
	}

	outcome := &model.ResolutionOutcome{Action: res.Action}
	for _, b := range bookings {
		assignment, err := e.assignments.AssignOutsourcedGuide(ctx, orgID, b.ID,
			res.OutsourcedName, res.OutsourcedContact, true)
		if err != nil {
			if apperrors.IsConflict(err) {
				logger.Debug().
					Str("booking_id", b.ID.String()).
					Str("outsourced_name", res.OutsourcedName).
					Str("reason", err.Error()).
					Msg("外请导游指派冲突，已跳过该预订")
				continue
			}
			return nil, err
		}
		outcome.CreatedAssignments = append(outcome.CreatedAssignments, assignment.ID)
		outcome.AffectedBookings = append(outcome.AffectedBookings, b.ID)
	}

	outcome.Applied = len(outcome.CreatedAssignments) > 0
	if outcome.Applied {
		outcome.Message = fmt.Sprintf("已为 %d 个预订指派外请导游 %s",
			len(outcome.CreatedAssignments), res.OutsourcedName)
	} else {
		outcome.Message = "全部预订均已有该外请导游或存在冲突，未新增分配"
	}
	return outcome, nil
}

// cancelTour 取消整个团次
// 破坏性动作：取消团次内全部有效预订并删除其分配，附审计备注。
// 重复提交时团次内已无有效预订，自然成为空操作。
func (e *ResolutionEngine) cancelTour(ctx context.Context, orgID uuid.UUID, res *model.Resolution) (*model.ResolutionOutcome, error) {
	if res.TourRunKey == "" {
		return nil, apperrors.InvalidInput("tour_run_key", "取消团次处置必须指定团次键")
	}
	key, err := model.ParseRunKey(res.TourRunKey)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	bookings, err := e.aggregator.BookingsForRun(ctx, orgID, key)
	if err != nil {
		return nil, err
	}

	note := res.Note
	if note == "" {
		note = fmt.Sprintf("团次 %s 因调度处置取消", key)
	}

	outcome := &model.ResolutionOutcome{Action: res.Action}
	for _, b := range bookings {
		if !b.IsActive() {
			continue
		}
		if err := e.stores.Bookings.UpdateBookingStatus(ctx, orgID, b.ID, model.BookingCancelled, note); err != nil {
			return nil, fmt.Errorf("取消预订失败: %w", err)
		}
		outcome.AffectedBookings = append(outcome.AffectedBookings, b.ID)

		assignments, err := e.stores.Assignments.ListAssignmentsByBooking(ctx, orgID, b.ID)
		if err != nil {
			return nil, fmt.Errorf("查询预订分配失败: %w", err)
		}
		for _, asg := range assignments {
			if err := e.assignments.Cancel(ctx, orgID, asg.ID); err != nil {
				return nil, err
			}
			outcome.CancelledAssignments = append(outcome.CancelledAssignments, asg.ID)
		}
	}

	outcome.Applied = true
	if len(outcome.AffectedBookings) == 0 {
		outcome.Message = fmt.Sprintf("团次 %s 已无有效预订，无需处理", key)
	} else {
		outcome.Message = fmt.Sprintf("已取消团次 %s 的 %d 个预订、%d 条分配",
			key, len(outcome.AffectedBookings), len(outcome.CancelledAssignments))
		e.dlog.DestructiveResolution(string(res.Action), key.String(),
			uuidStrings(outcome.AffectedBookings), uuidStrings(outcome.CancelledAssignments))
		e.invalidate(ctx, orgID, key.Date)
	}
	return outcome, nil
}

// splitBooking 拆分预订给多名导游
// 系统只承接第一个分片：按分片游客数校验容量并指派其导游，
// 余量预订的物理拆分涉及预订子系统的支付与客户沟通，标记为人工跟进。
func (e *ResolutionEngine) splitBooking(ctx context.Context, orgID uuid.UUID, res *model.Resolution) (*model.ResolutionOutcome, error) {
	if res.BookingID == nil {
		return nil, apperrors.InvalidInput("booking_id", "拆分预订处置必须指定预订")
	}
	if len(res.Splits) < 2 {
		return nil, apperrors.Validation("拆分预订至少需要两个分片")
	}

	booking, err := e.stores.Bookings.GetBooking(ctx, orgID, *res.BookingID)
	if err != nil {
		return nil, fmt.Errorf("查询预订失败: %w", err)
	}
	if booking == nil {
		return nil, apperrors.NotFound("预订", res.BookingID.String())
	}

	total := 0
	for _, split := range res.Splits {
		if split.GuestCount <= 0 {
			return nil, apperrors.Validation("分片游客数必须为正数")
		}
		total += split.GuestCount
	}
	if total != booking.GuestCount() {
		return nil, apperrors.Validation(fmt.Sprintf(
			"分片游客数合计 %d 与预订游客数 %d 不一致", total, booking.GuestCount()))
	}

	first := res.Splits[0]
	assignment, err := e.assignments.AssignGuideShare(ctx, orgID, booking.ID, first.GuideID, first.GuestCount, true)
	if err != nil {
		return nil, err
	}

	return &model.ResolutionOutcome{
		Action:             res.Action,
		Applied:            true,
		ManualFollowup:     true,
		Message:            fmt.Sprintf("已指派首个分片导游，其余 %d 个分片需人工拆分预订后指派", len(res.Splits)-1),
		AffectedBookings:   []uuid.UUID{booking.ID},
		CreatedAssignments: []uuid.UUID{assignment.ID},
	}, nil
}

// targetBookings 解析处置的目标预订集合
// 优先取指定的单个预订，其次按团次键展开为团次内全部有效预订。
func (e *ResolutionEngine) targetBookings(ctx context.Context, orgID uuid.UUID, res *model.Resolution) ([]*model.Booking, error) {
	if res.BookingID != nil {
		booking, err := e.stores.Bookings.GetBooking(ctx, orgID, *res.BookingID)
		if err != nil {
			return nil, fmt.Errorf("查询预订失败: %w", err)
		}
		if booking == nil {
			return nil, apperrors.NotFound("预订", res.BookingID.String())
		}
		return []*model.Booking{booking}, nil
	}

	if res.TourRunKey == "" {
		return nil, apperrors.InvalidInput("tour_run_key", "处置必须指定预订或团次键")
	}
	key, err := model.ParseRunKey(res.TourRunKey)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	bookings, err := e.aggregator.BookingsForRun(ctx, orgID, key)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, apperrors.NotFound("团次", key.String())
	}
	return bookings, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (e *ResolutionEngine) invalidate(ctx context.Context, orgID uuid.UUID, date string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, orgID, date); err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("失效调度状态缓存失败")
	}
}
