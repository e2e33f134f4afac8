// Package dispatch 提供导游派单与调度中心核心引擎
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/paituan/paituan/pkg/errors"
	"github.com/paituan/paituan/pkg/logger"
	"github.com/paituan/paituan/pkg/model"
)

// 候选导游评分权重
const (
	scoreQualifiedBase  = 50  // 具备资质的基础分
	scorePerAssignedRun = -10 // 本轮每已接一个团次的负载均衡扣分
	scoreTightFitBonus  = 20  // 容量恰好（超出0-2座）的紧凑奖励
	scoreUnderCapacity  = -30 // 容量不足的扣分
	tightFitMaxSlack    = 2
)

// Optimizer 自动派单引擎
// 贪心二部匹配：可用、具备资质且无冲突的导游匹配到缺口团次。
// 结果是建议性的：单个 (导游, 预订) 配对的冲突竞争被捕获并跳过，
// 从不中断整轮优化。
type Optimizer struct {
	stores       Stores
	aggregator   *Aggregator
	availability *AvailabilityResolver
	assignments  *AssignmentService
	dlog         *logger.DispatchLogger
}

// NewOptimizer 创建自动派单引擎
func NewOptimizer(stores Stores, aggregator *Aggregator, availability *AvailabilityResolver, assignments *AssignmentService) *Optimizer {
	return &Optimizer{
		stores:       stores,
		aggregator:   aggregator,
		availability: availability,
		assignments:  assignments,
		dlog:         logger.NewDispatchLogger(),
	}
}

// guideState 单次优化遍历中的导游内存排期
// 避免遍历中途反复回查数据库。
type guideState struct {
	guide        *model.Guide
	availability model.GuideAvailability
	window       model.TimeRange
	hasWindow    bool
	runs         []scheduledRun // 本轮已接团次
}

type scheduledRun struct {
	key    model.RunKey
	window model.TimeRange
}

// overlapsOtherRun 检查时间窗口是否与内存排期中不同团次重叠
func (g *guideState) overlapsOtherRun(window model.TimeRange, current model.RunKey) bool {
	for _, r := range g.runs {
		if r.key != current && r.window.Overlaps(window) {
			return true
		}
	}
	return false
}

// alreadyOnRun 检查本轮是否已接某团次
func (g *guideState) alreadyOnRun(key model.RunKey) bool {
	for _, r := range g.runs {
		if r.key == key {
			return true
		}
	}
	return false
}

// candidate 带评分的候选导游
type candidate struct {
	state *guideState
	score int
}

// Optimize 对某日期执行一轮自动派单
func (o *Optimizer) Optimize(ctx context.Context, orgID uuid.UUID, date string) (*model.OptimizeResult, error) {
	startedAt := time.Now()

	runs, err := o.aggregator.RunsForDate(ctx, orgID, date)
	if err != nil {
		return nil, err
	}

	guides, err := o.loadGuideStates(ctx, orgID, date, runs)
	if err != nil {
		return nil, err
	}
	qualIndex, err := o.loadQualifications(ctx, guides)
	if err != nil {
		return nil, err
	}

	o.dlog.StartOptimize(orgID.String(), date, len(runs), len(guides))

	result := &model.OptimizeResult{Date: date}

	for _, run := range runs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		o.staffRun(ctx, orgID, run, guides, qualIndex, result)
	}

	result.Efficiency = o.efficiency(ctx, orgID, date)
	result.Duration = time.Since(startedAt)

	o.dlog.OptimizeComplete(orgID.String(), date, result.Duration,
		len(result.Assignments), len(result.Warnings), result.Efficiency)

	return result, nil
}

// staffRun 为单个缺口团次匹配导游
func (o *Optimizer) staffRun(
	ctx context.Context,
	orgID uuid.UUID,
	run *model.TourRun,
	guides map[uuid.UUID]*guideState,
	qualIndex *QualificationIndex,
	result *model.OptimizeResult,
) {
	needed := run.GuidesMissing()
	if needed == 0 {
		return
	}

	window, err := run.Window()
	if err != nil {
		logger.Warn().Err(err).Str("run_key", run.RunKey).Msg("团次时间窗口解析失败，已跳过")
		return
	}

	// 过滤候选：具备资质 ∧ 时段覆盖 ∧ 与本轮已接的不同团次不重叠
	var candidates []candidate
	qualifiedCount := 0
	var freeUnqualified []*guideState

	for _, g := range guides {
		free := g.hasWindow && g.window.Covers(window) && !g.overlapsOtherRun(window, run.Key) && !g.alreadyOnRun(run.Key)

		if !qualIndex.IsQualified(g.guide.ID, run.TourID) {
			if free {
				freeUnqualified = append(freeUnqualified, g)
			}
			continue
		}
		qualifiedCount++
		if !free {
			continue
		}

		candidates = append(candidates, candidate{state: g, score: o.score(g, run)})
	}

	if len(candidates) == 0 {
		result.Warnings = append(result.Warnings,
			o.buildNoCandidateWarning(run, qualifiedCount, freeUnqualified))
		return
	}

	// 高分在前；同分时本轮负载少者优先
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if len(candidates[i].state.runs) != len(candidates[j].state.runs) {
			return len(candidates[i].state.runs) < len(candidates[j].state.runs)
		}
		return candidates[i].state.guide.Name < candidates[j].state.guide.Name
	})

	if len(candidates) > needed {
		candidates = candidates[:needed]
	}

	// 缺口以真正落库的导游数衡量：候选在落库时仍可能因
	// 单预订超出其容量或配对竞争而一个都没接上。
	committed, oversized := o.commitAssignments(ctx, orgID, run, window, candidates, result)

	if committed < needed {
		warning := o.buildWarning(run, model.WarningInsufficientGuides,
			fmt.Sprintf("团次 %s 缺 %d 名导游，本轮仅落实 %d 名",
				run.RunKey, needed, committed))
		warning.GuidesMissing = needed - committed
		if len(oversized) > 0 {
			rb := oversized[0]
			id := rb.BookingID
			warning.BookingID = &id
			warning.Resolutions = append(warning.Resolutions, model.ResolutionOption{
				Action: model.ResolutionSplitBooking,
				Label:  fmt.Sprintf("拆分 %d 人预订给多名导游", rb.Guests),
			})
		}
		warning.Resolutions = append(warning.Resolutions,
			model.ResolutionOption{Action: model.ResolutionAddExternal, Label: "外请导游补位"},
			model.ResolutionOption{Action: model.ResolutionCancelTour, Label: "取消团次"},
		)
		result.Warnings = append(result.Warnings, warning)
		o.dlog.WarningEmitted(string(warning.Type), run.RunKey, warning.Message)
	}
}

// commitAssignments 把选中的候选导游落库（自动确认）
// 覆盖尚无已确认导游的预订；单对冲突（如配对已存在）捕获后跳过。
// 返回真正接上团次的导游数，以及超出全部候选容量、
// 无人能整单承接的预订（拆单候选）。
func (o *Optimizer) commitAssignments(
	ctx context.Context,
	orgID uuid.UUID,
	run *model.TourRun,
	window model.TimeRange,
	candidates []candidate,
	result *model.OptimizeResult,
) (int, []model.RunBooking) {
	// 已有导游覆盖的预订不再重复指派
	covered := make(map[uuid.UUID]bool)
	for _, ag := range run.AssignedGuides {
		for _, id := range ag.BookingIDs {
			covered[id] = true
		}
	}

	remaining := make([]int, len(candidates)) // 各候选剩余容量
	maxCapacity := 0
	for i, c := range candidates {
		remaining[i] = c.state.guide.VehicleCapacity
		if c.state.guide.VehicleCapacity > maxCapacity {
			maxCapacity = c.state.guide.VehicleCapacity
		}
	}

	committed := make(map[int]bool)
	var oversized []model.RunBooking

	for _, rb := range run.Bookings {
		if covered[rb.BookingID] || rb.Status == model.BookingCancelled {
			continue
		}

		assigned := false
		for i, c := range candidates {
			if remaining[i] < rb.Guests {
				continue
			}

			assignment, err := o.assignments.AssignGuideToBooking(ctx, orgID, rb.BookingID, c.state.guide.ID, true)
			if err != nil {
				// 单对冲突不中断整轮：跳过该配对继续
				if apperrors.IsConflict(err) {
					logger.Debug().
						Str("booking_id", rb.BookingID.String()).
						Str("guide_id", c.state.guide.ID.String()).
						Str("reason", err.Error()).
						Msg("候选配对冲突，已跳过")
					continue
				}
				logger.Error().Err(err).
					Str("booking_id", rb.BookingID.String()).
					Str("guide_id", c.state.guide.ID.String()).
					Msg("自动派单落库失败，跳过该配对")
				continue
			}

			result.Assignments = append(result.Assignments, assignment)
			remaining[i] -= rb.Guests
			committed[i] = true
			assigned = true
			if !c.state.alreadyOnRun(run.Key) {
				c.state.runs = append(c.state.runs, scheduledRun{key: run.Key, window: window})
			}
			// 包团预订独占导游
			if rb.Mode == model.ModeCharter {
				remaining[i] = 0
			}
			break
		}

		if !assigned && rb.Guests > maxCapacity {
			oversized = append(oversized, rb)
		}
	}

	return len(committed), oversized
}

// score 候选导游评分
// 资质基础分50；本轮每已接一个团次扣10（负载均衡）；
// 容量超出人均份额0-2座加20（紧凑奖励），容量不足扣30。
func (o *Optimizer) score(g *guideState, run *model.TourRun) int {
	score := scoreQualifiedBase
	score += scorePerAssignedRun * len(g.runs)

	share := run.TotalGuests
	if run.GuidesNeeded > 1 {
		share = (run.TotalGuests + run.GuidesNeeded - 1) / run.GuidesNeeded
	}
	slack := g.guide.VehicleCapacity - share
	switch {
	case slack < 0:
		score += scoreUnderCapacity
	case slack <= tightFitMaxSlack:
		score += scoreTightFitBonus
	}

	return score
}

// buildNoCandidateWarning 构建零候选预警
// 无任何导游具备资质 ⇒ no_qualified_guide；有资质但无人有空 ⇒ no_available_guide。
func (o *Optimizer) buildNoCandidateWarning(run *model.TourRun, qualifiedCount int, freeUnqualified []*guideState) *model.Warning {
	warningType := model.WarningNoAvailableGuide
	message := fmt.Sprintf("团次 %s 有 %d 名具备资质的导游但均无空档", run.RunKey, qualifiedCount)
	if qualifiedCount == 0 {
		warningType = model.WarningNoQualifiedGuide
		message = fmt.Sprintf("团次 %s 没有具备线路资质的导游", run.RunKey)
	}

	warning := o.buildWarning(run, warningType, message)
	warning.GuidesMissing = run.GuidesMissing()

	// 候选处置：指派有空但无资质的导游（人工确认绕过资质检查）
	for _, g := range freeUnqualified {
		id := g.guide.ID
		warning.Resolutions = append(warning.Resolutions, model.ResolutionOption{
			Action:    model.ResolutionAssignGuide,
			Label:     fmt.Sprintf("指派无资质导游 %s", g.guide.Name),
			GuideID:   &id,
			GuideName: g.guide.Name,
		})
		if len(warning.Resolutions) >= 3 {
			break
		}
	}
	warning.Resolutions = append(warning.Resolutions,
		model.ResolutionOption{Action: model.ResolutionAddExternal, Label: "外请导游补位"},
		model.ResolutionOption{Action: model.ResolutionCancelTour, Label: "取消团次"},
	)

	o.dlog.WarningEmitted(string(warningType), run.RunKey, message)
	return warning
}

func (o *Optimizer) buildWarning(run *model.TourRun, warningType model.WarningType, message string) *model.Warning {
	return &model.Warning{
		ID:           uuid.New(),
		Type:         warningType,
		RunKey:       run.RunKey,
		TourName:     run.TourName,
		Message:      message,
		GuidesNeeded: run.GuidesNeeded,
		CreatedAt:    time.Now(),
	}
}

// loadGuideStates 加载在职导游并构建内存排期
// 排期以当日各团次已确认的导游为初值，遍历过程中增量更新。
func (o *Optimizer) loadGuideStates(ctx context.Context, orgID uuid.UUID, date string, runs []*model.TourRun) (map[uuid.UUID]*guideState, error) {
	guides, err := o.stores.Guides.ListActiveGuides(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("查询在职导游失败: %w", err)
	}

	guideIDs := make([]uuid.UUID, 0, len(guides))
	for _, g := range guides {
		guideIDs = append(guideIDs, g.ID)
	}
	availabilities, err := o.availability.ResolveAll(ctx, guideIDs, date)
	if err != nil {
		return nil, err
	}

	states := make(map[uuid.UUID]*guideState, len(guides))
	for _, g := range guides {
		avail := availabilities[g.ID]
		window, hasWindow := avail.Window()
		states[g.ID] = &guideState{
			guide:        g,
			availability: avail,
			window:       window,
			hasWindow:    hasWindow,
		}
	}

	// 以当日已确认分配为排期初值
	for _, run := range runs {
		window, err := run.Window()
		if err != nil {
			continue
		}
		for _, ag := range run.AssignedGuides {
			if ag.GuideID == nil {
				continue
			}
			if state, ok := states[*ag.GuideID]; ok && !state.alreadyOnRun(run.Key) {
				state.runs = append(state.runs, scheduledRun{key: run.Key, window: window})
			}
		}
	}

	return states, nil
}

func (o *Optimizer) loadQualifications(ctx context.Context, guides map[uuid.UUID]*guideState) (*QualificationIndex, error) {
	guideIDs := make([]uuid.UUID, 0, len(guides))
	for id := range guides {
		guideIDs = append(guideIDs, id)
	}
	return BuildQualificationIndex(ctx, o.stores.Guides, guideIDs)
}

// efficiency 计算当日派单效率（唯一已确认导游数 ÷ 应配导游总数 ×100）
// 无需求的日期视为100。
func (o *Optimizer) efficiency(ctx context.Context, orgID uuid.UUID, date string) float64 {
	runs, err := o.aggregator.RunsForDate(ctx, orgID, date)
	if err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("计算派单效率失败，降级为0")
		return 0
	}
	return EfficiencyForRuns(runs)
}

// EfficiencyForRuns 由团次列表计算派单效率
func EfficiencyForRuns(runs []*model.TourRun) float64 {
	totalNeeded := 0
	unique := make(map[string]bool)
	for _, run := range runs {
		totalNeeded += run.GuidesNeeded
		for _, ag := range run.AssignedGuides {
			if ag.GuideID != nil {
				unique[ag.GuideID.String()] = true
			} else {
				unique["ext:"+ag.Name] = true
			}
		}
	}
	if totalNeeded == 0 {
		return 100
	}
	eff := float64(len(unique)) / float64(totalNeeded) * 100
	if eff > 100 {
		eff = 100
	}
	return eff
}
