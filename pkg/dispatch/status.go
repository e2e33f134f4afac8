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
)

// StatusService 调度状态服务
// 状态快照按（组织，日期）派生，缓存仅用于降低重算频率；
// 所有正确性判定（发车前置检查）都基于持久层的实时重算。
type StatusService struct {
	stores       Stores
	aggregator   *Aggregator
	availability *AvailabilityResolver
	cache        cache.StatusCache
}

// NewStatusService 创建调度状态服务
func NewStatusService(stores Stores, aggregator *Aggregator, availability *AvailabilityResolver, statusCache cache.StatusCache) *StatusService {
	return &StatusService{
		stores:       stores,
		aggregator:   aggregator,
		availability: availability,
		cache:        statusCache,
	}
}

// GetDispatchStatus 返回某日期的调度状态快照
// 缓存命中直接返回；未命中时重算并回填缓存。
func (s *StatusService) GetDispatchStatus(ctx context.Context, orgID uuid.UUID, date string) (*model.DispatchStatus, error) {
	if s.cache != nil {
		if status, ok := s.cache.Get(ctx, orgID, date); ok {
			return status, nil
		}
	}
	return s.Refresh(ctx, orgID, date)
}

// Refresh 实时重算某日期的调度状态并回填缓存
// 已发车为终态：重算保留缓存中的发车标记，不会回退状态。
func (s *StatusService) Refresh(ctx context.Context, orgID uuid.UUID, date string) (*model.DispatchStatus, error) {
	runs, err := s.aggregator.RunsForDate(ctx, orgID, date)
	if err != nil {
		return nil, err
	}

	status := s.compute(ctx, orgID, date, runs)

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, orgID, date); ok && cached.State == model.DispatchDispatched {
			status.State = model.DispatchDispatched
			status.DispatchedAt = cached.DispatchedAt
		}
		if err := s.cache.Set(ctx, status, cache.DefaultTTL); err != nil {
			logger.Warn().Err(err).Str("date", date).Msg("写入调度状态缓存失败")
		}
	}
	return status, nil
}

// compute 由团次列表推导调度状态
func (s *StatusService) compute(ctx context.Context, orgID uuid.UUID, date string, runs []*model.TourRun) *model.DispatchStatus {
	status := &model.DispatchStatus{
		OrgID:      orgID,
		Date:       date,
		State:      model.DispatchPending,
		TotalRuns:  len(runs),
		ComputedAt: time.Now(),
	}

	unique := make(map[string]bool)
	for _, run := range runs {
		status.TotalGuests += run.TotalGuests
		status.GuidesNeeded += run.GuidesNeeded
		if run.GuidesMissing() > 0 {
			status.UnresolvedWarnings++
		}
		for _, ag := range run.AssignedGuides {
			if ag.GuideID != nil {
				unique[ag.GuideID.String()] = true
			} else {
				unique["ext:"+ag.Name] = true
			}
		}
	}
	status.GuidesAssigned = len(unique)
	status.Efficiency = EfficiencyForRuns(runs)
	status.GuidesWorking = s.countWorkingGuides(ctx, orgID, date)

	if len(runs) > 0 {
		if status.UnresolvedWarnings > 0 {
			status.State = model.DispatchOptimized
		} else {
			status.State = model.DispatchReady
		}
	}
	return status
}

// countWorkingGuides 统计当日出勤导游数
// 非关键指标：任何查询失败降级为0，不阻断状态计算。
func (s *StatusService) countWorkingGuides(ctx context.Context, orgID uuid.UUID, date string) int {
	guides, err := s.stores.Guides.ListActiveGuides(ctx, orgID)
	if err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("统计出勤导游失败，降级为0")
		return 0
	}
	ids := make([]uuid.UUID, 0, len(guides))
	for _, g := range guides {
		ids = append(ids, g.ID)
	}
	availabilities, err := s.availability.ResolveAll(ctx, ids, date)
	if err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("统计出勤导游失败，降级为0")
		return 0
	}

	working := 0
	for _, avail := range availabilities {
		if avail.IsAvailable {
			working++
		}
	}
	return working
}

// Dispatch 发车：对某日期的派单方案做终态确认
// 前置检查基于实时重算，存在未处理预警时拒绝发车。
func (s *StatusService) Dispatch(ctx context.Context, orgID uuid.UUID, date string) (*model.DispatchResult, error) {
	runs, err := s.aggregator.RunsForDate(ctx, orgID, date)
	if err != nil {
		return nil, err
	}

	status := s.compute(ctx, orgID, date, runs)
	if status.TotalRuns == 0 {
		return nil, apperrors.Validation(fmt.Sprintf("日期 %s 没有任何团次，无法发车", date))
	}
	if status.UnresolvedWarnings > 0 {
		return nil, apperrors.DispatchBlocked(date, status.UnresolvedWarnings)
	}

	now := time.Now()
	status.State = model.DispatchDispatched
	status.DispatchedAt = &now

	if s.cache != nil {
		// 发车标记的保鲜期长于普通快照，跨越当天运营时段
		if err := s.cache.Set(ctx, status, 24*time.Hour); err != nil {
			logger.Warn().Err(err).Str("date", date).Msg("写入发车标记缓存失败")
		}
	}

	result := &model.DispatchResult{
		Success:      true,
		DispatchedAt: &now,
	}
	seen := make(map[string]bool)
	for _, run := range runs {
		for _, ag := range run.AssignedGuides {
			var key string
			if ag.GuideID != nil {
				key = ag.GuideID.String()
			} else {
				key = "ext:" + ag.Name
			}
			if !seen[key] {
				seen[key] = true
				result.GuidesNotified = append(result.GuidesNotified, ag.Name)
			}
		}
	}

	logger.Info().
		Str("org_id", orgID.String()).
		Str("date", date).
		Int("runs", status.TotalRuns).
		Int("guides_notified", len(result.GuidesNotified)).
		Msg("当日派单方案已发车")

	return result, nil
}
