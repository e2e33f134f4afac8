package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/cache"
	"github.com/paituan/paituan/pkg/model"
)

func newOptimizer(m *memStores) *Optimizer {
	stores := m.stores()
	aggregator := NewAggregator(stores)
	availability := NewAvailabilityResolver(m)
	assignments := NewAssignmentService(stores, cache.NewMemory(time.Minute))
	return NewOptimizer(stores, aggregator, availability, assignments)
}

func TestOptimizer_StaffsRun(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	guide := m.addGuide(orgID, "张三", 8, tour.ID)
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)

	result, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if len(result.Assignments) != 1 {
		t.Fatalf("分配数 = %d, expected 1", len(result.Assignments))
	}
	asg := result.Assignments[0]
	if asg.GuideID == nil || *asg.GuideID != guide.ID {
		t.Errorf("分配了错误的导游: %+v", asg)
	}
	if asg.BookingID != booking.ID {
		t.Errorf("分配了错误的预订: %s", asg.BookingID)
	}
	if !asg.IsConfirmed() {
		t.Error("自动派单应直接确认")
	}
	if len(result.Warnings) != 0 {
		t.Errorf("不应有预警: %+v", result.Warnings)
	}
	if result.Efficiency != 100 {
		t.Errorf("派单效率 = %.1f, expected 100", result.Efficiency)
	}
}

func TestOptimizer_Idempotent(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	m.addGuide(orgID, "张三", 8, tour.ID)
	m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)

	first, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("首轮 Optimize failed: %v", err)
	}
	if len(first.Assignments) != 1 {
		t.Fatalf("首轮分配数 = %d, expected 1", len(first.Assignments))
	}

	// 重复执行不产生新分配
	second, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("二轮 Optimize failed: %v", err)
	}
	if len(second.Assignments) != 0 {
		t.Errorf("二轮分配数 = %d, expected 0", len(second.Assignments))
	}
	if len(m.assignments) != 1 {
		t.Errorf("存储中分配总数 = %d, expected 1", len(m.assignments))
	}
}

func TestOptimizer_NoQualifiedGuideWarning(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)

	tour := m.addTour(orgID, "小众线路", 120, 10)
	free := m.addGuide(orgID, "张三", 8) // 有空但无资质
	m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)

	result, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if len(result.Assignments) != 0 {
		t.Errorf("无资质不应产生分配: %d", len(result.Assignments))
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("预警数 = %d, expected 1", len(result.Warnings))
	}
	warning := result.Warnings[0]
	if warning.Type != model.WarningNoQualifiedGuide {
		t.Errorf("预警类型 = %s, expected %s", warning.Type, model.WarningNoQualifiedGuide)
	}
	if warning.GuidesMissing != 1 {
		t.Errorf("缺口 = %d, expected 1", warning.GuidesMissing)
	}

	// 候选处置应包含指派无资质导游、外请补位和取消团次
	var hasAssign, hasExternal, hasCancel bool
	for _, option := range warning.Resolutions {
		switch option.Action {
		case model.ResolutionAssignGuide:
			hasAssign = option.GuideID != nil && *option.GuideID == free.ID
		case model.ResolutionAddExternal:
			hasExternal = true
		case model.ResolutionCancelTour:
			hasCancel = true
		}
	}
	if !hasAssign || !hasExternal || !hasCancel {
		t.Errorf("候选处置不完整: %+v", warning.Resolutions)
	}
}

func TestOptimizer_NoAvailableGuideWarning(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	guide := m.addGuide(orgID, "张三", 8, tour.ID)
	// 当日请假
	m.overrides[guide.ID.String()+"|"+testDate] = &model.AvailabilityOverride{
		GuideID: guide.ID, Date: testDate, IsAvailable: false, Reason: "请假",
	}
	m.addBooking(orgID, tour.ID, testDate, "09:00", 6, model.ModeJoin)

	result, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Type != model.WarningNoAvailableGuide {
		t.Errorf("应产生无可用导游预警: %+v", result.Warnings)
	}
}

func TestOptimizer_InsufficientGuidesWarning(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	m.addGuide(orgID, "张三", 8, tour.ID)
	// 15人需2名导游，只有1名有资质
	m.addBooking(orgID, tour.ID, testDate, "09:00", 8, model.ModeJoin)
	m.addBooking(orgID, tour.ID, testDate, "09:00", 7, model.ModeJoin)

	result, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if len(result.Assignments) != 1 {
		t.Errorf("应成功分配1名: %d", len(result.Assignments))
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("预警数 = %d, expected 1", len(result.Warnings))
	}
	warning := result.Warnings[0]
	if warning.Type != model.WarningInsufficientGuides {
		t.Errorf("预警类型 = %s, expected %s", warning.Type, model.WarningInsufficientGuides)
	}
	if warning.GuidesMissing != 1 {
		t.Errorf("缺口 = %d, expected 1", warning.GuidesMissing)
	}
}

func TestOptimizer_OversizedBookingWarning(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)

	// 10人整单超出所有候选导游的车容：一个也落实不了
	tour := m.addTour(orgID, "城市徒步", 120, 6)
	m.addGuide(orgID, "张三", 6, tour.ID)
	m.addGuide(orgID, "李四", 6, tour.ID)
	booking := m.addBooking(orgID, tour.ID, testDate, "09:00", 10, model.ModeJoin)

	result, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if len(result.Assignments) != 0 {
		t.Errorf("整单超容不应产生分配: %d", len(result.Assignments))
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("预警数 = %d, expected 1", len(result.Warnings))
	}
	warning := result.Warnings[0]
	if warning.Type != model.WarningInsufficientGuides {
		t.Errorf("预警类型 = %s, expected %s", warning.Type, model.WarningInsufficientGuides)
	}
	if warning.GuidesMissing != 2 {
		t.Errorf("缺口 = %d, expected 2", warning.GuidesMissing)
	}
	if warning.BookingID == nil || *warning.BookingID != booking.ID {
		t.Errorf("预警应指向超容预订: %v", warning.BookingID)
	}

	var hasSplit bool
	for _, option := range warning.Resolutions {
		if option.Action == model.ResolutionSplitBooking {
			hasSplit = true
		}
	}
	if !hasSplit {
		t.Errorf("候选处置应包含拆分预订: %+v", warning.Resolutions)
	}
}

func TestOptimizer_OverlappingRunsUseDistinctGuides(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)

	tourA := m.addTour(orgID, "线路A", 120, 10)
	tourB := m.addTour(orgID, "线路B", 120, 10)
	m.addGuide(orgID, "张三", 8, tourA.ID, tourB.ID)
	m.addGuide(orgID, "李四", 8, tourA.ID, tourB.ID)

	// 两个时间重叠的团次
	m.addBooking(orgID, tourA.ID, testDate, "09:00", 6, model.ModeJoin)
	m.addBooking(orgID, tourB.ID, testDate, "10:00", 6, model.ModeJoin)

	result, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if len(result.Assignments) != 2 {
		t.Fatalf("分配数 = %d, expected 2", len(result.Assignments))
	}
	if result.Assignments[0].GuideKey() == result.Assignments[1].GuideKey() {
		t.Error("时间重叠的团次不应分配同一导游")
	}
	if len(result.Warnings) != 0 {
		t.Errorf("不应有预警: %+v", result.Warnings)
	}
}

func TestOptimizer_PrefersTightCapacityFit(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)

	tour := m.addTour(orgID, "城市徒步", 120, 10)
	tight := m.addGuide(orgID, "张三", 10, tour.ID) // 8人坐10座：紧凑
	big := m.addGuide(orgID, "李四", 30, tour.ID)   // 8人坐30座：浪费
	m.addBooking(orgID, tour.ID, testDate, "09:00", 8, model.ModeJoin)

	result, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if len(result.Assignments) != 1 {
		t.Fatalf("分配数 = %d, expected 1", len(result.Assignments))
	}
	asg := result.Assignments[0]
	if asg.GuideID == nil || *asg.GuideID != tight.ID {
		t.Errorf("应优先容量紧凑的导游 %s, got %v", tight.Name, asg.GuideLabel())
	}
	_ = big
}

func TestOptimizer_CharterExclusivity(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)

	tour := m.addTour(orgID, "包团专线", 120, 10)
	m.addGuide(orgID, "张三", 20, tour.ID)
	m.addGuide(orgID, "李四", 20, tour.ID)

	// 包团独占导游：拼团单需要另一名导游
	m.addBooking(orgID, tour.ID, testDate, "09:00", 8, model.ModeCharter)
	m.addBooking(orgID, tour.ID, testDate, "09:00", 7, model.ModeJoin)

	result, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if len(result.Assignments) != 2 {
		t.Fatalf("分配数 = %d, expected 2", len(result.Assignments))
	}
	if result.Assignments[0].GuideKey() == result.Assignments[1].GuideKey() {
		t.Error("包团预订应独占导游，拼团单应分配另一名导游")
	}
}

func TestOptimizer_EmptyDay(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	m := newMemStores()
	opt := newOptimizer(m)
	m.addGuide(orgID, "张三", 8)

	result, err := opt.Optimize(ctx, orgID, testDate)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if len(result.Assignments) != 0 || len(result.Warnings) != 0 {
		t.Errorf("空日期不应有分配或预警: %+v", result)
	}
	// 零需求视为100
	if result.Efficiency != 100 {
		t.Errorf("空日期效率 = %.1f, expected 100", result.Efficiency)
	}
}

func TestEfficiencyForRuns(t *testing.T) {
	guideID := uuid.New()

	runs := []*model.TourRun{
		{
			GuidesNeeded: 2,
			AssignedGuides: []model.AssignedGuide{
				{GuideID: &guideID, Name: "张三"},
			},
		},
		{
			GuidesNeeded: 2,
			AssignedGuides: []model.AssignedGuide{
				{GuideID: &guideID, Name: "张三"}, // 同一导游跨团次只算一次
				{Name: "老王", Outsourced: true},
			},
		},
	}

	// 唯一导游2名 / 应配4名 = 50
	if got := EfficiencyForRuns(runs); got != 50 {
		t.Errorf("EfficiencyForRuns = %.1f, expected 50", got)
	}

	if got := EfficiencyForRuns(nil); got != 100 {
		t.Errorf("零需求效率 = %.1f, expected 100", got)
	}
}
