package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/cache"
	apperrors "github.com/paituan/paituan/pkg/errors"
	"github.com/paituan/paituan/pkg/model"
)

func newStatusService(m *memStores, statusCache cache.StatusCache) *StatusService {
	stores := m.stores()
	return NewStatusService(stores, NewAggregator(stores), NewAvailabilityResolver(m), statusCache)
}

// confirmGuide 直接写入一条已确认分配（绕过状态机，构造测试场景用）
func confirmGuide(t *testing.T, m *memStores, orgID uuid.UUID, bookingID uuid.UUID, guideID *uuid.UUID, name string) {
	t.Helper()
	asg := &model.GuideAssignment{
		BaseModel: model.NewBaseModel(),
		OrgID:     orgID,
		BookingID: bookingID,
		GuideID:   guideID,
		Status:    model.AssignmentConfirmed,
	}
	if guideID == nil {
		asg.OutsourcedName = name
	}
	if err := m.CreateAssignment(context.Background(), asg); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}
}

func TestStatusService_StateDerivation(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newStatusService(m, cache.NewMemory(time.Minute))

	// 无团次 ⇒ pending
	status, err := svc.Refresh(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if status.State != model.DispatchPending {
		t.Errorf("空日期状态 = %s, expected %s", status.State, model.DispatchPending)
	}

	// 有缺口 ⇒ optimized
	tour := m.addTour(orgID, "城市徒步", 120, 10)
	guide := m.addGuide(orgID, "张三", 8, tour.ID)
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)

	status, err = svc.Refresh(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if status.State != model.DispatchOptimized {
		t.Errorf("有缺口状态 = %s, expected %s", status.State, model.DispatchOptimized)
	}
	if status.UnresolvedWarnings != 1 {
		t.Errorf("未处理预警数 = %d, expected 1", status.UnresolvedWarnings)
	}
	if status.TotalRuns != 1 || status.TotalGuests != 6 || status.GuidesNeeded != 1 {
		t.Errorf("快照统计 = %+v", status)
	}
	if status.GuidesWorking != 1 {
		t.Errorf("出勤导游数 = %d, expected 1", status.GuidesWorking)
	}

	// 配齐 ⇒ ready
	confirmGuide(t, m, orgID, booking.ID, &guide.ID, "")
	status, err = svc.Refresh(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if status.State != model.DispatchReady {
		t.Errorf("配齐状态 = %s, expected %s", status.State, model.DispatchReady)
	}
	if status.GuidesAssigned != 1 {
		t.Errorf("已配导游数 = %d, expected 1", status.GuidesAssigned)
	}
	if status.Efficiency != 100 {
		t.Errorf("效率 = %.1f, expected 100", status.Efficiency)
	}
}

func TestStatusService_GetUsesCache(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	statusCache := cache.NewMemory(time.Minute)
	svc := newStatusService(m, statusCache)

	cached := &model.DispatchStatus{
		OrgID: orgID,
		Date:  testDate,
		State: model.DispatchReady,
	}
	statusCache.Set(ctx, cached, 0)

	got, err := svc.GetDispatchStatus(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("GetDispatchStatus failed: %v", err)
	}
	if got.State != model.DispatchReady {
		t.Errorf("应返回缓存的快照: %+v", got)
	}

	// 失效后回落到重算
	statusCache.Delete(ctx, orgID, testDate)
	got, err = svc.GetDispatchStatus(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("GetDispatchStatus failed: %v", err)
	}
	if got.State != model.DispatchPending {
		t.Errorf("缓存失效后应重算: %+v", got)
	}
}

func TestStatusService_DispatchBlockedByWarnings(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newStatusService(m, cache.NewMemory(time.Minute))

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)

	_, err := svc.Dispatch(ctx, orgID, testDate)
	if !apperrors.Is(err, apperrors.CodeDispatchBlocked) {
		t.Errorf("有缺口时发车应被阻塞, got: %v", err)
	}
}

func TestStatusService_DispatchEmptyDay(t *testing.T) {
	ctx := context.Background()
	m := newMemStores()
	svc := newStatusService(m, cache.NewMemory(time.Minute))

	_, err := svc.Dispatch(ctx, uuid.New(), testDate)
	if !apperrors.Is(err, apperrors.CodeValidationFail) {
		t.Errorf("无团次发车应验证失败, got: %v", err)
	}
}

func TestStatusService_DispatchSuccess(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	statusCache := cache.NewMemory(time.Minute)
	svc := newStatusService(m, statusCache)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	guide := m.addGuide(orgID, "张三", 8, tour.ID)
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)
	confirmGuide(t, m, orgID, booking.ID, &guide.ID, "")

	result, err := svc.Dispatch(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !result.Success || result.DispatchedAt == nil {
		t.Errorf("发车结果 = %+v", result)
	}
	if len(result.GuidesNotified) != 1 {
		t.Errorf("待通知导游数 = %d, expected 1", len(result.GuidesNotified))
	} else if result.GuidesNotified[0] != "张三" {
		t.Errorf("待通知导游 = %s, expected 张三", result.GuidesNotified[0])
	}

	// 发车后快照进入终态
	status, ok := statusCache.Get(ctx, orgID, testDate)
	if !ok || status.State != model.DispatchDispatched {
		t.Errorf("缓存中的发车快照 = %+v", status)
	}
}

func TestStatusService_RefreshPreservesDispatched(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	statusCache := cache.NewMemory(time.Minute)
	svc := newStatusService(m, statusCache)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	guide := m.addGuide(orgID, "张三", 8, tour.ID)
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)
	confirmGuide(t, m, orgID, booking.ID, &guide.ID, "")

	if _, err := svc.Dispatch(ctx, orgID, testDate); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// 发车为终态：重算不会把状态退回 ready
	status, err := svc.Refresh(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if status.State != model.DispatchDispatched {
		t.Errorf("重算后状态 = %s, expected %s", status.State, model.DispatchDispatched)
	}
	if status.DispatchedAt == nil {
		t.Error("重算后应保留发车时间")
	}
}
