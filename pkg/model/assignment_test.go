package model

import (
	"testing"

	"github.com/google/uuid"
)

func TestGuideAssignment_GuideKey(t *testing.T) {
	guideID := uuid.New()

	insourced := &GuideAssignment{GuideID: &guideID}
	if got := insourced.GuideKey(); got != guideID.String() {
		t.Errorf("在编导游 GuideKey() = %s, expected %s", got, guideID)
	}
	if insourced.IsOutsourced() {
		t.Error("有GuideID的分配不应是外请")
	}

	outsourced := &GuideAssignment{OutsourcedName: "老王"}
	if got := outsourced.GuideKey(); got != "ext:老王" {
		t.Errorf("外请导游 GuideKey() = %s, expected ext:老王", got)
	}
	if !outsourced.IsOutsourced() {
		t.Error("无GuideID的分配应是外请")
	}
	if got := outsourced.GuideLabel(); got != "老王" {
		t.Errorf("外请导游 GuideLabel() = %s, expected 老王", got)
	}
}

func TestBooking_RunKey(t *testing.T) {
	tourID := uuid.New()
	b := &Booking{TourID: tourID, Date: "2025-03-10", TimeOfDay: "09:00"}

	key := b.RunKey()
	if key.TourID != tourID || key.Date != "2025-03-10" || key.Time != "09:00" {
		t.Errorf("RunKey() = %+v", key)
	}

	// 同团次键相等
	b2 := &Booking{TourID: tourID, Date: "2025-03-10", TimeOfDay: "09:00"}
	if b.RunKey() != b2.RunKey() {
		t.Error("相同线路/日期/时刻的预订应有相同团次键")
	}
}

func TestBooking_IsActive(t *testing.T) {
	tests := []struct {
		status   BookingStatus
		expected bool
	}{
		{BookingPending, true},
		{BookingConfirmed, true},
		{BookingCancelled, false},
		{BookingCompleted, false},
		{BookingNoShow, false},
	}

	for _, tt := range tests {
		b := &Booking{Status: tt.status}
		if got := b.IsActive(); got != tt.expected {
			t.Errorf("状态 %s 的 IsActive() = %v, expected %v", tt.status, got, tt.expected)
		}
	}
}

func TestParticipants_Total(t *testing.T) {
	p := Participants{Adults: 2, Children: 1, Infants: 1}
	if got := p.Total(); got != 4 {
		t.Errorf("Total() = %d, expected 4", got)
	}
}

func TestGuideAvailability_Window(t *testing.T) {
	guideID := uuid.New()

	avail := GuideAvailability{
		GuideID: guideID, Date: "2025-03-10",
		IsAvailable: true, StartTime: "08:00", EndTime: "18:00",
	}
	window, ok := avail.Window()
	if !ok {
		t.Fatal("可用时段应能解析为窗口")
	}
	if window.Start.Format(TimeFormat) != "08:00" || window.End.Format(TimeFormat) != "18:00" {
		t.Errorf("窗口 = %s-%s", window.Start.Format(TimeFormat), window.End.Format(TimeFormat))
	}

	unavailable := GuideAvailability{GuideID: guideID, Date: "2025-03-10"}
	if _, ok := unavailable.Window(); ok {
		t.Error("不可用时段不应有窗口")
	}

	inverted := GuideAvailability{
		GuideID: guideID, Date: "2025-03-10",
		IsAvailable: true, StartTime: "18:00", EndTime: "08:00",
	}
	if _, ok := inverted.Window(); ok {
		t.Error("终点早于起点的时段不应有窗口")
	}
}
