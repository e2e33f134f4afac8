package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/paituan/paituan/pkg/errors"
	"github.com/paituan/paituan/pkg/model"
)

// memStores 测试用内存存储，实现引擎依赖的全部数据接口
type memStores struct {
	bookings    map[uuid.UUID]*model.Booking
	guides      map[uuid.UUID]*model.Guide
	tours       map[uuid.UUID]*model.Tour
	assignments map[uuid.UUID]*model.GuideAssignment
	slots       map[uuid.UUID][]model.WeeklySlot
	overrides   map[string]*model.AvailabilityOverride // guideID|date
	quals       map[uuid.UUID][]uuid.UUID
	priorCounts map[uuid.UUID]int
}

func newMemStores() *memStores {
	return &memStores{
		bookings:    make(map[uuid.UUID]*model.Booking),
		guides:      make(map[uuid.UUID]*model.Guide),
		tours:       make(map[uuid.UUID]*model.Tour),
		assignments: make(map[uuid.UUID]*model.GuideAssignment),
		slots:       make(map[uuid.UUID][]model.WeeklySlot),
		overrides:   make(map[string]*model.AvailabilityOverride),
		quals:       make(map[uuid.UUID][]uuid.UUID),
		priorCounts: make(map[uuid.UUID]int),
	}
}

func (m *memStores) stores() Stores {
	return Stores{Bookings: m, Guides: m, Tours: m, Assignments: m}
}

// --- BookingStore ---

func (m *memStores) ListBookingsByDate(_ context.Context, orgID uuid.UUID, date string) ([]*model.Booking, error) {
	var result []*model.Booking
	for _, b := range m.bookings {
		if b.OrgID == orgID && b.Date == date {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return result, nil
}

func (m *memStores) GetBooking(_ context.Context, orgID, id uuid.UUID) (*model.Booking, error) {
	b, ok := m.bookings[id]
	if !ok || b.OrgID != orgID {
		return nil, nil
	}
	return b, nil
}

func (m *memStores) GetBookings(_ context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*model.Booking, error) {
	result := make(map[uuid.UUID]*model.Booking)
	for _, id := range ids {
		if b, ok := m.bookings[id]; ok && b.OrgID == orgID {
			result[id] = b
		}
	}
	return result, nil
}

func (m *memStores) UpdateBookingStatus(_ context.Context, orgID, id uuid.UUID, status model.BookingStatus, note string) error {
	b, ok := m.bookings[id]
	if !ok || b.OrgID != orgID {
		return fmt.Errorf("预订不存在")
	}
	b.Status = status
	if note != "" {
		if b.Notes != "" {
			b.Notes += "\n"
		}
		b.Notes += note
	}
	return nil
}

func (m *memStores) CountPriorBookings(_ context.Context, _ uuid.UUID, customerIDs []uuid.UUID, _ string) (map[uuid.UUID]int, error) {
	result := make(map[uuid.UUID]int)
	for _, id := range customerIDs {
		result[id] = m.priorCounts[id]
	}
	return result, nil
}

// --- GuideStore ---

func (m *memStores) ListActiveGuides(_ context.Context, orgID uuid.UUID) ([]*model.Guide, error) {
	var result []*model.Guide
	for _, g := range m.guides {
		if g.OrgID == orgID && g.IsActive() {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *memStores) GetGuide(_ context.Context, orgID, id uuid.UUID) (*model.Guide, error) {
	g, ok := m.guides[id]
	if !ok || g.OrgID != orgID {
		return nil, nil
	}
	return g, nil
}

func (m *memStores) GetGuides(_ context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*model.Guide, error) {
	result := make(map[uuid.UUID]*model.Guide)
	for _, id := range ids {
		if g, ok := m.guides[id]; ok && g.OrgID == orgID {
			result[id] = g
		}
	}
	return result, nil
}

func (m *memStores) QualificationsFor(_ context.Context, guideIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	result := make(map[uuid.UUID][]uuid.UUID)
	for _, id := range guideIDs {
		if quals, ok := m.quals[id]; ok {
			result[id] = quals
		}
	}
	return result, nil
}

func (m *memStores) WeeklySlotsFor(_ context.Context, guideIDs []uuid.UUID) (map[uuid.UUID][]model.WeeklySlot, error) {
	result := make(map[uuid.UUID][]model.WeeklySlot)
	for _, id := range guideIDs {
		if slots, ok := m.slots[id]; ok {
			result[id] = slots
		}
	}
	return result, nil
}

func (m *memStores) OverridesFor(_ context.Context, guideIDs []uuid.UUID, date string) (map[uuid.UUID]*model.AvailabilityOverride, error) {
	result := make(map[uuid.UUID]*model.AvailabilityOverride)
	for _, id := range guideIDs {
		if o, ok := m.overrides[id.String()+"|"+date]; ok {
			result[id] = o
		}
	}
	return result, nil
}

// --- TourStore ---

func (m *memStores) GetTour(_ context.Context, orgID, id uuid.UUID) (*model.Tour, error) {
	t, ok := m.tours[id]
	if !ok || t.OrgID != orgID {
		return nil, nil
	}
	return t, nil
}

func (m *memStores) GetTours(_ context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*model.Tour, error) {
	result := make(map[uuid.UUID]*model.Tour)
	for _, id := range ids {
		if t, ok := m.tours[id]; ok && t.OrgID == orgID {
			result[id] = t
		}
	}
	return result, nil
}

// --- AssignmentStore ---

func (m *memStores) CreateAssignment(_ context.Context, a *model.GuideAssignment) error {
	for _, existing := range m.assignments {
		if existing.BookingID == a.BookingID && existing.GuideKey() == a.GuideKey() {
			return apperrors.AlreadyExists("导游分配",
				fmt.Sprintf("预订 %s 与导游 %s", a.BookingID, a.GuideLabel()))
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	clone := *a
	m.assignments[a.ID] = &clone
	return nil
}

func (m *memStores) GetAssignment(_ context.Context, orgID, id uuid.UUID) (*model.GuideAssignment, error) {
	a, ok := m.assignments[id]
	if !ok || a.OrgID != orgID {
		return nil, nil
	}
	clone := *a
	return &clone, nil
}

func (m *memStores) ListAssignmentsByBooking(_ context.Context, orgID, bookingID uuid.UUID) ([]*model.GuideAssignment, error) {
	return m.ListAssignmentsByBookings(nil, orgID, []uuid.UUID{bookingID})
}

func (m *memStores) ListAssignmentsByBookings(_ context.Context, orgID uuid.UUID, bookingIDs []uuid.UUID) ([]*model.GuideAssignment, error) {
	want := make(map[uuid.UUID]bool, len(bookingIDs))
	for _, id := range bookingIDs {
		want[id] = true
	}
	var result []*model.GuideAssignment
	for _, a := range m.assignments {
		if a.OrgID == orgID && want[a.BookingID] {
			clone := *a
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return result, nil
}

func (m *memStores) ListConfirmedByGuideDate(_ context.Context, orgID uuid.UUID, guideKey, date string) ([]*model.GuideAssignment, error) {
	var result []*model.GuideAssignment
	for _, a := range m.assignments {
		if a.OrgID != orgID || !a.IsConfirmed() || a.GuideKey() != guideKey {
			continue
		}
		if b, ok := m.bookings[a.BookingID]; ok && b.Date == date {
			clone := *a
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *memStores) UpdateAssignment(_ context.Context, a *model.GuideAssignment) error {
	if _, ok := m.assignments[a.ID]; !ok {
		return fmt.Errorf("分配不存在")
	}
	clone := *a
	m.assignments[a.ID] = &clone
	return nil
}

func (m *memStores) DeleteAssignment(_ context.Context, orgID, id uuid.UUID) error {
	a, ok := m.assignments[id]
	if !ok || a.OrgID != orgID {
		return fmt.Errorf("分配不存在")
	}
	delete(m.assignments, id)
	return nil
}

// --- 测试数据构造 ---

// testDate 为星期一
const testDate = "2025-03-10"

func (m *memStores) addTour(orgID uuid.UUID, name string, durationMin, guestsPerGuide int) *model.Tour {
	tour := &model.Tour{
		BaseModel:       model.NewBaseModel(),
		OrgID:           orgID,
		Name:            name,
		Code:            name,
		DurationMinutes: durationMin,
		GuestsPerGuide:  guestsPerGuide,
		IsActive:        true,
	}
	m.tours[tour.ID] = tour
	return tour
}

func (m *memStores) addGuide(orgID uuid.UUID, name string, capacity int, qualified ...uuid.UUID) *model.Guide {
	guide := &model.Guide{
		BaseModel:       model.NewBaseModel(),
		OrgID:           orgID,
		Name:            name,
		Code:            name,
		Status:          "active",
		VehicleCapacity: capacity,
	}
	m.guides[guide.ID] = guide
	m.quals[guide.ID] = qualified
	// 默认全周可用
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		m.slots[guide.ID] = append(m.slots[guide.ID], model.WeeklySlot{
			ID:        uuid.New(),
			GuideID:   guide.ID,
			Weekday:   wd,
			StartTime: "08:00",
			EndTime:   "20:00",
		})
	}
	return guide
}

func (m *memStores) addBooking(orgID, tourID uuid.UUID, date, timeOfDay string, guests int, mode model.ExperienceMode) *model.Booking {
	booking := &model.Booking{
		BaseModel:    model.NewBaseModel(),
		OrgID:        orgID,
		TourID:       tourID,
		CustomerID:   uuid.New(),
		CustomerName: "测试客户",
		Date:         date,
		TimeOfDay:    timeOfDay,
		Participants: model.Participants{Adults: guests},
		Status:       model.BookingConfirmed,
		Mode:         mode,
	}
	m.bookings[booking.ID] = booking
	return booking
}
