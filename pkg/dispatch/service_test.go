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

func newService(m *memStores) *Service {
	return NewService(m.stores(), cache.NewMemory(time.Minute))
}

func TestService_GetAvailableGuides(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newService(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	working := m.addGuide(orgID, "张三", 8, tour.ID)
	onLeave := m.addGuide(orgID, "李四", 8, tour.ID)
	m.overrides[onLeave.ID.String()+"|"+testDate] = &model.AvailabilityOverride{
		GuideID: onLeave.ID, Date: testDate, IsAvailable: false,
	}
	inactive := m.addGuide(orgID, "王五", 8, tour.ID)
	inactive.Status = "inactive"

	// 张三已确认一个团次
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 4, model.ModeJoin)
	confirmGuide(t, m, orgID, booking.ID, &working.ID, "")

	guides, err := svc.GetAvailableGuides(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("GetAvailableGuides failed: %v", err)
	}
	if len(guides) != 1 {
		t.Fatalf("可用导游数 = %d, expected 1", len(guides))
	}

	g := guides[0]
	if g.Guide.ID != working.ID {
		t.Errorf("返回了错误的导游: %s", g.Guide.Name)
	}
	if !g.IsQualifiedFor(tour.ID) {
		t.Error("应具备线路资质")
	}
	if len(g.AssignedRuns) != 1 {
		t.Errorf("已确认团次数 = %d, expected 1", len(g.AssignedRuns))
	}
}

func TestService_GetGuideTimelines(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newService(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	guide := m.addGuide(orgID, "张三", 8, tour.ID)
	booking := m.addBooking(orgID, tour.ID, testDate, "10:00", 4, model.ModeJoin)
	confirmGuide(t, m, orgID, booking.ID, &guide.ID, "")

	timelines, err := svc.GetGuideTimelines(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("GetGuideTimelines failed: %v", err)
	}
	if len(timelines) != 1 {
		t.Fatalf("时间轴数 = %d, expected 1", len(timelines))
	}

	// 可用 08:00-20:00，带团 10:00-12:00 ⇒ 空闲/带团/空闲
	segs := timelines[0].Segments
	if len(segs) != 3 {
		t.Fatalf("时间轴段数 = %d, expected 3: %+v", len(segs), segs)
	}
	expected := []struct {
		typ        model.TimelineSegmentType
		start, end string
	}{
		{model.SegmentIdle, "08:00", "10:00"},
		{model.SegmentTour, "10:00", "12:00"},
		{model.SegmentIdle, "12:00", "20:00"},
	}
	for i, e := range expected {
		if segs[i].Type != e.typ || segs[i].StartTime != e.start || segs[i].EndTime != e.end {
			t.Errorf("段[%d] = %+v, expected %+v", i, segs[i], e)
		}
	}
	if segs[1].Guests != 4 {
		t.Errorf("带团段游客数 = %d, expected 4", segs[1].Guests)
	}
}

func TestService_ManualAssignBypassesQualification(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newService(m)

	tour := m.addTour(orgID, "小众线路", 120, 10)
	// 无资质导游
	guide := m.addGuide(orgID, "张三", 8)
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 4, model.ModeJoin)

	// 资质只约束自动派单，人工指派可以绕过
	asg, err := svc.ManualAssign(ctx, orgID, booking.ID, guide.ID)
	if err != nil {
		t.Fatalf("ManualAssign failed: %v", err)
	}
	if !asg.IsConfirmed() {
		t.Error("人工指派应直接确认")
	}
}

func TestService_OptimizeThenDispatch(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newService(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	m.addGuide(orgID, "张三", 8, tour.ID)
	m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)

	result, err := svc.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if len(result.Assignments) != 1 || len(result.Warnings) != 0 {
		t.Fatalf("优化结果 = %+v", result)
	}

	// 优化后状态应为 ready
	status, err := svc.GetDispatchStatus(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("GetDispatchStatus failed: %v", err)
	}
	if status.State != model.DispatchReady {
		t.Errorf("优化后状态 = %s, expected %s", status.State, model.DispatchReady)
	}

	dispatched, err := svc.Dispatch(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !dispatched.Success {
		t.Error("发车应成功")
	}
}

func TestService_ResolveWarningEndToEnd(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newService(m)

	tour := m.addTour(orgID, "小众线路", 120, 10)
	free := m.addGuide(orgID, "张三", 8) // 有空但无资质
	m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)

	result, err := svc.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("预警数 = %d, expected 1", len(result.Warnings))
	}
	warning := result.Warnings[0]

	// 采纳预警携带的"指派无资质导游"处置
	var chosen *model.ResolutionOption
	for i := range warning.Resolutions {
		if warning.Resolutions[i].Action == model.ResolutionAssignGuide {
			chosen = &warning.Resolutions[i]
			break
		}
	}
	if chosen == nil || chosen.GuideID == nil {
		t.Fatalf("预警应携带指派处置: %+v", warning.Resolutions)
	}
	if *chosen.GuideID != free.ID {
		t.Errorf("候选导游 = %s, expected %s", chosen.GuideName, free.Name)
	}

	outcome, err := svc.ResolveWarning(ctx, orgID, &model.Resolution{
		Action:     model.ResolutionAssignGuide,
		GuideID:    chosen.GuideID,
		TourRunKey: warning.RunKey,
	})
	if err != nil {
		t.Fatalf("ResolveWarning failed: %v", err)
	}
	if !outcome.Applied {
		t.Errorf("处置应生效: %+v", outcome)
	}

	// 处置后重新优化不再有预警
	result, err = svc.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("二次 Optimize failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("处置后不应再有预警: %+v", result.Warnings)
	}
}

func TestService_GetGuestDetails(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newService(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 0, model.ModeJoin)
	booking.Participants = model.Participants{Adults: 2, Children: 1}
	booking.PickupPoint = "市中心酒店"

	key := model.RunKey{TourID: tour.ID, Date: testDate, Time: "09:00"}
	details, err := svc.GetGuestDetails(ctx, orgID, key.String())
	if err != nil {
		t.Fatalf("GetGuestDetails failed: %v", err)
	}
	if len(details) != 1 {
		t.Fatalf("详情数 = %d, expected 1", len(details))
	}
	d := details[0]
	if d.TotalGuests != 3 || d.PickupPoint != "市中心酒店" {
		t.Errorf("详情 = %+v", d)
	}
	if !d.FirstTimer {
		t.Error("无历史预订的客户应标记首次参团")
	}

	// 团次不存在 ⇒ NotFound
	missing := model.RunKey{TourID: uuid.New(), Date: testDate, Time: "09:00"}
	if _, err := svc.GetGuestDetails(ctx, orgID, missing.String()); !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Errorf("不存在的团次应返回 NotFound, got: %v", err)
	}

	// 键格式无效 ⇒ Validation
	if _, err := svc.GetGuestDetails(ctx, orgID, "bad-key"); !apperrors.Is(err, apperrors.CodeValidationFail) {
		t.Errorf("无效键应验证失败, got: %v", err)
	}
}

func TestService_GetGuestDetailsForBooking(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newService(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 0, model.ModeJoin)
	booking.Participants = model.Participants{Adults: 2, Children: 1, Infants: 1}
	booking.PickupPoint = "火车站东广场"
	booking.Notes = "有婴儿车"

	d, err := svc.GetGuestDetailsForBooking(ctx, orgID, booking.ID)
	if err != nil {
		t.Fatalf("GetGuestDetailsForBooking failed: %v", err)
	}
	if d.BookingID != booking.ID || d.TotalGuests != 4 {
		t.Errorf("详情 = %+v", d)
	}
	if d.PickupPoint != "火车站东广场" || d.Notes != "有婴儿车" {
		t.Errorf("接送点/备注 = %s/%s", d.PickupPoint, d.Notes)
	}
	if !d.FirstTimer {
		t.Error("无历史预订的客户应标记首次参团")
	}

	// 有历史预订的客户不标记首次参团
	m.priorCounts[booking.CustomerID] = 2
	d, err = svc.GetGuestDetailsForBooking(ctx, orgID, booking.ID)
	if err != nil {
		t.Fatalf("GetGuestDetailsForBooking failed: %v", err)
	}
	if d.FirstTimer {
		t.Error("有历史预订的客户不应标记首次参团")
	}

	// 预订不存在 ⇒ NotFound
	if _, err := svc.GetGuestDetailsForBooking(ctx, orgID, uuid.New()); !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Errorf("不存在的预订应返回 NotFound, got: %v", err)
	}
}

func TestService_Unassign(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	svc := newService(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	guide := m.addGuide(orgID, "张三", 8, tour.ID)
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 4, model.ModeJoin)

	if _, err := svc.ManualAssign(ctx, orgID, booking.ID, guide.ID); err != nil {
		t.Fatalf("ManualAssign failed: %v", err)
	}
	if _, err := svc.AssignOutsourced(ctx, orgID, booking.ID, "老王", ""); err != nil {
		t.Fatalf("AssignOutsourced failed: %v", err)
	}

	if err := svc.Unassign(ctx, orgID, booking.ID); err != nil {
		t.Fatalf("Unassign failed: %v", err)
	}
	remaining, err := svc.GetAssignmentsForBooking(ctx, orgID, booking.ID)
	if err != nil {
		t.Fatalf("GetAssignmentsForBooking failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("取消后分配数 = %d, expected 0", len(remaining))
	}
}
