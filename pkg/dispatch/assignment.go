// Package dispatch 提供导游派单与调度中心核心引擎
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/cache"
	apperrors "github.com/paituan/paituan/pkg/errors"
	"github.com/paituan/paituan/pkg/logger"
	"github.com/paituan/paituan/pkg/model"
	"github.com/paituan/paituan/pkg/validator"
)

// AssignmentService 导游分配状态机
// 生命周期：create → {confirm, decline}；已确认的分配只能取消（删除，终态）。
// 本服务是唯一允许变更分配记录的地方；容量与冲突检查在提交前
// 针对持久层重新执行，缓存内容不参与正确性判定。
type AssignmentService struct {
	stores  Stores
	checker *ScheduleChecker
	cache   cache.StatusCache
}

// NewAssignmentService 创建分配状态机
func NewAssignmentService(stores Stores, statusCache cache.StatusCache) *AssignmentService {
	return &AssignmentService{
		stores:  stores,
		checker: NewScheduleChecker(stores),
		cache:   statusCache,
	}
}

// assignmentTarget 分配目标（在编导游或外请导游）
type assignmentTarget struct {
	guideID  *uuid.UUID
	name     string
	contact  string
	capacity int
}

func (t assignmentTarget) key() string {
	if t.guideID != nil {
		return t.guideID.String()
	}
	return "ext:" + t.name
}

// Create 创建待确认分配
// 错误：预订/线路/导游不存在 ⇒ NotFound；时间窗口不可解析 ⇒ Validation；
// (预订, 导游) 组合已存在、容量超限或排期冲突 ⇒ Conflict。
func (s *AssignmentService) Create(ctx context.Context, orgID, bookingID, guideID uuid.UUID) (*model.GuideAssignment, error) {
	guide, err := s.stores.Guides.GetGuide(ctx, orgID, guideID)
	if err != nil {
		return nil, fmt.Errorf("查询导游失败: %w", err)
	}
	if guide == nil {
		return nil, apperrors.NotFound("导游", guideID.String())
	}

	target := assignmentTarget{
		guideID:  &guideID,
		name:     guide.Name,
		capacity: guide.VehicleCapacity,
	}
	return s.create(ctx, orgID, bookingID, target, "manual", 0)
}

// CreateShare 创建只承接预订部分游客的待确认分配（拆分预订用）
// 容量检查按分片游客数计，而非预订全量。
func (s *AssignmentService) CreateShare(ctx context.Context, orgID, bookingID, guideID uuid.UUID, guests int) (*model.GuideAssignment, error) {
	if guests <= 0 {
		return nil, apperrors.Validation("分片游客数必须为正数")
	}
	guide, err := s.stores.Guides.GetGuide(ctx, orgID, guideID)
	if err != nil {
		return nil, fmt.Errorf("查询导游失败: %w", err)
	}
	if guide == nil {
		return nil, apperrors.NotFound("导游", guideID.String())
	}

	target := assignmentTarget{
		guideID:  &guideID,
		name:     guide.Name,
		capacity: guide.VehicleCapacity,
	}
	return s.create(ctx, orgID, bookingID, target, "resolution", guests)
}

// CreateOutsourced 为外请导游创建待确认分配
// 外请导游无系统身份，以姓名参与容量与冲突计算。
func (s *AssignmentService) CreateOutsourced(ctx context.Context, orgID, bookingID uuid.UUID, name, contact string) (*model.GuideAssignment, error) {
	if name == "" {
		return nil, apperrors.InvalidInput("outsourced_name", "外请导游姓名不能为空")
	}
	target := assignmentTarget{name: name, contact: contact}
	return s.create(ctx, orgID, bookingID, target, "resolution", 0)
}

// create 通用创建路径；share>0 时该分配只承接预订的部分游客
func (s *AssignmentService) create(ctx context.Context, orgID, bookingID uuid.UUID, target assignmentTarget, source string, share int) (*model.GuideAssignment, error) {
	booking, err := s.stores.Bookings.GetBooking(ctx, orgID, bookingID)
	if err != nil {
		return nil, fmt.Errorf("查询预订失败: %w", err)
	}
	if booking == nil {
		return nil, apperrors.NotFound("预订", bookingID.String())
	}

	tour, err := s.stores.Tours.GetTour(ctx, orgID, booking.TourID)
	if err != nil {
		return nil, fmt.Errorf("查询线路失败: %w", err)
	}
	if tour == nil {
		return nil, apperrors.NotFound("线路", booking.TourID.String())
	}

	if !booking.HasTimeWindow() {
		return nil, apperrors.Validation(fmt.Sprintf("预订 %s 缺少可解析的出发时间", bookingID))
	}
	run := booking.RunKey()
	window, err := run.Window(tour.DurationMinutes)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	// 同一 (预订, 导游身份) 最多一条分配
	existing, err := s.stores.Assignments.ListAssignmentsByBooking(ctx, orgID, bookingID)
	if err != nil {
		return nil, fmt.Errorf("查询预订分配失败: %w", err)
	}
	for _, asg := range existing {
		if asg.GuideKey() == target.key() {
			return nil, apperrors.AlreadyExists("导游分配",
				fmt.Sprintf("预订 %s 与导游 %s", bookingID, target.name))
		}
	}

	incoming := booking.GuestCount()
	if share > 0 && share < incoming {
		incoming = share
	} else {
		share = 0
	}

	conflict, err := s.checker.Check(ctx, orgID, target.key(), target.capacity,
		incoming, window, run, booking.IsCharter())
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, s.conflictError(target.name, run.Date, conflict.Message, conflict.Type)
	}

	assignment := &model.GuideAssignment{
		BaseModel:         model.NewBaseModel(),
		OrgID:             orgID,
		BookingID:         bookingID,
		GuideID:           target.guideID,
		OutsourcedName:    stringIfOutsourced(target),
		OutsourcedContact: target.contact,
		Status:            model.AssignmentPending,
		Source:            source,
		GuestShare:        share,
	}
	if err := s.stores.Assignments.CreateAssignment(ctx, assignment); err != nil {
		return nil, err
	}

	s.invalidate(ctx, orgID, booking.Date)
	return assignment, nil
}

// Confirm 确认分配
// 为防创建后发生的竞争，确认前针对持久层重新执行容量与冲突检查。
func (s *AssignmentService) Confirm(ctx context.Context, orgID, assignmentID uuid.UUID) (*model.GuideAssignment, error) {
	assignment, err := s.stores.Assignments.GetAssignment(ctx, orgID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("查询分配失败: %w", err)
	}
	if assignment == nil {
		return nil, apperrors.NotFound("导游分配", assignmentID.String())
	}
	if assignment.Status == model.AssignmentConfirmed {
		return nil, apperrors.Validation("分配已确认，不能重复确认")
	}
	if assignment.Status == model.AssignmentDeclined {
		return nil, apperrors.Validation("分配已拒绝，不能再确认")
	}

	booking, err := s.stores.Bookings.GetBooking(ctx, orgID, assignment.BookingID)
	if err != nil {
		return nil, fmt.Errorf("查询预订失败: %w", err)
	}
	if booking == nil {
		return nil, apperrors.NotFound("预订", assignment.BookingID.String())
	}
	tour, err := s.stores.Tours.GetTour(ctx, orgID, booking.TourID)
	if err != nil {
		return nil, fmt.Errorf("查询线路失败: %w", err)
	}
	if tour == nil {
		return nil, apperrors.NotFound("线路", booking.TourID.String())
	}

	run := booking.RunKey()
	window, err := run.Window(tour.DurationMinutes)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	capacity := 0
	guideName := assignment.OutsourcedName
	if assignment.GuideID != nil {
		guide, err := s.stores.Guides.GetGuide(ctx, orgID, *assignment.GuideID)
		if err != nil {
			return nil, fmt.Errorf("查询导游失败: %w", err)
		}
		if guide == nil {
			return nil, apperrors.NotFound("导游", assignment.GuideID.String())
		}
		capacity = guide.VehicleCapacity
		guideName = guide.Name
	}

	conflict, err := s.checker.Check(ctx, orgID, assignment.GuideKey(), capacity,
		assignment.GuestsFor(booking.GuestCount()), window, run, booking.IsCharter())
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, s.conflictError(guideName, run.Date, conflict.Message, conflict.Type)
	}

	now := time.Now()
	assignment.Status = model.AssignmentConfirmed
	assignment.ConfirmedAt = &now
	assignment.UpdatedAt = now
	if err := s.stores.Assignments.UpdateAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("更新分配状态失败: %w", err)
	}

	s.invalidate(ctx, orgID, booking.Date)
	return assignment, nil
}

// Decline 拒绝待确认分配
// 已确认的分配必须走取消流程，不能拒绝。
func (s *AssignmentService) Decline(ctx context.Context, orgID, assignmentID uuid.UUID, reason string) (*model.GuideAssignment, error) {
	assignment, err := s.stores.Assignments.GetAssignment(ctx, orgID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("查询分配失败: %w", err)
	}
	if assignment == nil {
		return nil, apperrors.NotFound("导游分配", assignmentID.String())
	}
	if assignment.Status == model.AssignmentDeclined {
		return nil, apperrors.Validation("分配已拒绝，不能重复拒绝")
	}
	if assignment.Status == model.AssignmentConfirmed {
		return nil, apperrors.Validation("已确认的分配必须取消，不能拒绝")
	}

	assignment.Status = model.AssignmentDeclined
	assignment.DeclineReason = reason
	assignment.UpdatedAt = time.Now()
	if err := s.stores.Assignments.UpdateAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("更新分配状态失败: %w", err)
	}

	return assignment, nil
}

// Cancel 取消分配（无条件删除，终态且不可恢复）
// 已确认分配的取消会触发团次导游统计的重新计算（缓存失效）。
func (s *AssignmentService) Cancel(ctx context.Context, orgID, assignmentID uuid.UUID) error {
	assignment, err := s.stores.Assignments.GetAssignment(ctx, orgID, assignmentID)
	if err != nil {
		return fmt.Errorf("查询分配失败: %w", err)
	}
	if assignment == nil {
		return apperrors.NotFound("导游分配", assignmentID.String())
	}

	wasConfirmed := assignment.IsConfirmed()
	if err := s.stores.Assignments.DeleteAssignment(ctx, orgID, assignmentID); err != nil {
		return fmt.Errorf("删除分配失败: %w", err)
	}

	if wasConfirmed {
		if booking, err := s.stores.Bookings.GetBooking(ctx, orgID, assignment.BookingID); err == nil && booking != nil {
			s.invalidate(ctx, orgID, booking.Date)
		}
	}
	return nil
}

// AssignGuideToBooking 组合 create+confirm 的便捷操作
func (s *AssignmentService) AssignGuideToBooking(ctx context.Context, orgID, bookingID, guideID uuid.UUID, autoConfirm bool) (*model.GuideAssignment, error) {
	assignment, err := s.Create(ctx, orgID, bookingID, guideID)
	if err != nil {
		return nil, err
	}
	if !autoConfirm {
		return assignment, nil
	}
	return s.Confirm(ctx, orgID, assignment.ID)
}

// AssignGuideShare 为预订的一个分片执行 create(+confirm) 流程
// 导游只承接 guests 名游客，容量按分片计。
func (s *AssignmentService) AssignGuideShare(ctx context.Context, orgID, bookingID, guideID uuid.UUID, guests int, autoConfirm bool) (*model.GuideAssignment, error) {
	assignment, err := s.CreateShare(ctx, orgID, bookingID, guideID, guests)
	if err != nil {
		return nil, err
	}
	if !autoConfirm {
		return assignment, nil
	}
	return s.Confirm(ctx, orgID, assignment.ID)
}

// AssignOutsourcedGuide 为外请导游执行 create(+confirm) 流程
func (s *AssignmentService) AssignOutsourcedGuide(ctx context.Context, orgID, bookingID uuid.UUID, name, contact string, autoConfirm bool) (*model.GuideAssignment, error) {
	assignment, err := s.CreateOutsourced(ctx, orgID, bookingID, name, contact)
	if err != nil {
		return nil, err
	}
	if !autoConfirm {
		return assignment, nil
	}
	return s.Confirm(ctx, orgID, assignment.ID)
}

// UnassignBooking 取消某预订的全部分配
func (s *AssignmentService) UnassignBooking(ctx context.Context, orgID, bookingID uuid.UUID) error {
	assignments, err := s.stores.Assignments.ListAssignmentsByBooking(ctx, orgID, bookingID)
	if err != nil {
		return fmt.Errorf("查询预订分配失败: %w", err)
	}
	for _, asg := range assignments {
		if err := s.Cancel(ctx, orgID, asg.ID); err != nil {
			return err
		}
	}
	return nil
}

// AssignmentsForBooking 返回某预订的全部分配
func (s *AssignmentService) AssignmentsForBooking(ctx context.Context, orgID, bookingID uuid.UUID) ([]*model.GuideAssignment, error) {
	return s.stores.Assignments.ListAssignmentsByBooking(ctx, orgID, bookingID)
}

// conflictError 把检测到的冲突映射为应用错误
func (s *AssignmentService) conflictError(guideName, date, message string, conflictType validator.ConflictType) error {
	if conflictType == validator.ConflictCapacity {
		return apperrors.New(apperrors.CodeCapacityExceeded, message)
	}
	return apperrors.ScheduleConflict(guideName, date, message)
}

// invalidate 失效该日期的调度状态缓存
// 缓存仅为新鲜度提示，失效失败不阻断业务流程。
func (s *AssignmentService) invalidate(ctx context.Context, orgID uuid.UUID, date string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, orgID, date); err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("失效调度状态缓存失败")
	}
}

func stringIfOutsourced(t assignmentTarget) string {
	if t.guideID != nil {
		return ""
	}
	return t.name
}
