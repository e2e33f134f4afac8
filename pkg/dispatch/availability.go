// Package dispatch 提供导游派单与调度中心核心引擎
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/model"
)

// AvailabilityResolver 可用性解析器
// 解析顺序：指定日期的覆盖记录完全替代每周模式（包括标记为不可用）；
// 无覆盖时取该星期几最早的每周时段；两者皆无则不可用。
type AvailabilityResolver struct {
	guides GuideStore
}

// NewAvailabilityResolver 创建可用性解析器
func NewAvailabilityResolver(guides GuideStore) *AvailabilityResolver {
	return &AvailabilityResolver{guides: guides}
}

// Resolve 解析单个导游某日期的有效可用性（纯函数，输入已加载的数据）
func Resolve(guideID uuid.UUID, date string, slots []model.WeeklySlot, override *model.AvailabilityOverride) model.GuideAvailability {
	avail := model.GuideAvailability{GuideID: guideID, Date: date}

	// 覆盖记录优先，完全替代每周模式
	if override != nil {
		avail.IsAvailable = override.IsAvailable
		if override.IsAvailable {
			avail.StartTime = override.StartTime
			avail.EndTime = override.EndTime
		}
		return avail
	}

	day, err := model.ParseDate(date)
	if err != nil {
		return avail
	}
	weekday := day.Weekday()

	// 取该星期几最早的时段
	var earliest *model.WeeklySlot
	for i := range slots {
		s := &slots[i]
		if s.Weekday != weekday {
			continue
		}
		if earliest == nil || s.StartTime < earliest.StartTime {
			earliest = s
		}
	}
	if earliest == nil {
		return avail
	}

	avail.IsAvailable = true
	avail.StartTime = earliest.StartTime
	avail.EndTime = earliest.EndTime
	return avail
}

// ResolveForGuide 解析单个导游某日期的有效可用性
func (r *AvailabilityResolver) ResolveForGuide(ctx context.Context, guideID uuid.UUID, date string) (model.GuideAvailability, error) {
	ids := []uuid.UUID{guideID}

	overrides, err := r.guides.OverridesFor(ctx, ids, date)
	if err != nil {
		return model.GuideAvailability{}, fmt.Errorf("查询可用性覆盖失败: %w", err)
	}
	slots, err := r.guides.WeeklySlotsFor(ctx, ids)
	if err != nil {
		return model.GuideAvailability{}, fmt.Errorf("查询每周可用时段失败: %w", err)
	}

	return Resolve(guideID, date, slots[guideID], overrides[guideID]), nil
}

// ResolveAll 批量解析一组导游某日期的有效可用性
// 固定两次批量查询，与导游数量无关。
func (r *AvailabilityResolver) ResolveAll(ctx context.Context, guideIDs []uuid.UUID, date string) (map[uuid.UUID]model.GuideAvailability, error) {
	if len(guideIDs) == 0 {
		return map[uuid.UUID]model.GuideAvailability{}, nil
	}

	overrides, err := r.guides.OverridesFor(ctx, guideIDs, date)
	if err != nil {
		return nil, fmt.Errorf("批量查询可用性覆盖失败: %w", err)
	}
	slots, err := r.guides.WeeklySlotsFor(ctx, guideIDs)
	if err != nil {
		return nil, fmt.Errorf("批量查询每周可用时段失败: %w", err)
	}

	result := make(map[uuid.UUID]model.GuideAvailability, len(guideIDs))
	for _, id := range guideIDs {
		result[id] = Resolve(id, date, slots[id], overrides[id])
	}
	return result, nil
}

// QualificationIndex 导游-线路资质索引
// 无资质记录的导游不会被优化器匹配到该线路，但不阻止人工手动分配。
type QualificationIndex struct {
	byGuide map[uuid.UUID]map[uuid.UUID]bool
}

// BuildQualificationIndex 批量构建一组导游的资质索引（单次查询）
func BuildQualificationIndex(ctx context.Context, guides GuideStore, guideIDs []uuid.UUID) (*QualificationIndex, error) {
	idx := &QualificationIndex{byGuide: make(map[uuid.UUID]map[uuid.UUID]bool)}
	if len(guideIDs) == 0 {
		return idx, nil
	}

	quals, err := guides.QualificationsFor(ctx, guideIDs)
	if err != nil {
		return nil, fmt.Errorf("批量查询导游资质失败: %w", err)
	}

	for guideID, tourIDs := range quals {
		set := make(map[uuid.UUID]bool, len(tourIDs))
		for _, tourID := range tourIDs {
			set[tourID] = true
		}
		idx.byGuide[guideID] = set
	}
	return idx, nil
}

// IsQualified 检查导游是否具备某线路资质
func (idx *QualificationIndex) IsQualified(guideID, tourID uuid.UUID) bool {
	return idx.byGuide[guideID][tourID]
}

// QualifiedTours 返回导游的资质线路列表
func (idx *QualificationIndex) QualifiedTours(guideID uuid.UUID) []uuid.UUID {
	set := idx.byGuide[guideID]
	if len(set) == 0 {
		return nil
	}
	tours := make([]uuid.UUID, 0, len(set))
	for tourID := range set {
		tours = append(tours, tourID)
	}
	return tours
}
