package model

import (
	"testing"

	"github.com/google/uuid"
)

func TestRunKey_StringRoundTrip(t *testing.T) {
	key := RunKey{
		TourID: uuid.New(),
		Date:   "2025-03-10",
		Time:   "09:30",
	}

	s := key.String()
	parsed, err := ParseRunKey(s)
	if err != nil {
		t.Fatalf("ParseRunKey(%q) failed: %v", s, err)
	}
	if parsed != key {
		t.Errorf("ParseRunKey(%q) = %+v, expected %+v", s, parsed, key)
	}
}

func TestParseRunKey_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"空字符串", ""},
		{"段数不足", "abc|2025-03-10"},
		{"线路ID无效", "not-a-uuid|2025-03-10|09:00"},
		{"日期无效", uuid.New().String() + "|2025-13-40|09:00"},
		{"时刻无效", uuid.New().String() + "|2025-03-10|25:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRunKey(tt.input); err == nil {
				t.Errorf("ParseRunKey(%q) should fail", tt.input)
			}
		})
	}
}

func TestDeriveRunStatus(t *testing.T) {
	tests := []struct {
		name     string
		assigned int
		needed   int
		expected RunStatus
	}{
		{"无导游", 0, 2, RunUnassigned},
		{"部分配齐", 1, 2, RunPartial},
		{"配齐", 2, 2, RunAssigned},
		{"超配", 3, 2, RunOverstaffed},
		{"零需求零分配", 0, 0, RunUnassigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveRunStatus(tt.assigned, tt.needed); got != tt.expected {
				t.Errorf("DeriveRunStatus(%d, %d) = %s, expected %s",
					tt.assigned, tt.needed, got, tt.expected)
			}
		})
	}
}

func TestTourRun_GuidesMissing(t *testing.T) {
	run := &TourRun{
		GuidesNeeded:   3,
		AssignedGuides: []AssignedGuide{{Name: "张三"}},
	}
	if got := run.GuidesMissing(); got != 2 {
		t.Errorf("GuidesMissing() = %d, expected 2", got)
	}

	// 超配时缺口为0
	run.AssignedGuides = append(run.AssignedGuides,
		AssignedGuide{Name: "李四"}, AssignedGuide{Name: "王五"}, AssignedGuide{Name: "赵六"})
	if got := run.GuidesMissing(); got != 0 {
		t.Errorf("超配时 GuidesMissing() = %d, expected 0", got)
	}
}

func TestTour_GuidesNeededFor(t *testing.T) {
	tour := &Tour{GuestsPerGuide: 10}

	tests := []struct {
		guests   int
		expected int
	}{
		{0, 0},
		{1, 1},
		{10, 1},
		{11, 2},
		{25, 3},
	}

	for _, tt := range tests {
		if got := tour.GuidesNeededFor(tt.guests); got != tt.expected {
			t.Errorf("GuidesNeededFor(%d) = %d, expected %d", tt.guests, got, tt.expected)
		}
	}

	// 比例缺失时按1人/导游兜底
	noRatio := &Tour{}
	if got := noRatio.GuidesNeededFor(3); got != 3 {
		t.Errorf("无比例时 GuidesNeededFor(3) = %d, expected 3", got)
	}
}

func TestTimeRange_Overlaps(t *testing.T) {
	mk := func(start, end string) TimeRange {
		day, _ := ParseDate("2025-03-10")
		s, _ := ParseTimeOfDay(day, start)
		e, _ := ParseTimeOfDay(day, end)
		return TimeRange{Start: s, End: e}
	}

	tests := []struct {
		name     string
		a, b     TimeRange
		expected bool
	}{
		{"部分重叠", mk("09:00", "11:00"), mk("10:00", "12:00"), true},
		{"完全包含", mk("09:00", "12:00"), mk("10:00", "11:00"), true},
		{"端点相接不算重叠", mk("09:00", "11:00"), mk("11:00", "13:00"), false},
		{"完全分离", mk("09:00", "10:00"), mk("14:00", "16:00"), false},
		{"完全相同", mk("09:00", "11:00"), mk("09:00", "11:00"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.expected {
				t.Errorf("Overlaps() = %v, expected %v", got, tt.expected)
			}
			// 对称性
			if got := tt.b.Overlaps(tt.a); got != tt.expected {
				t.Errorf("Overlaps() 反向 = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestTimeRange_Covers(t *testing.T) {
	mk := func(start, end string) TimeRange {
		day, _ := ParseDate("2025-03-10")
		s, _ := ParseTimeOfDay(day, start)
		e, _ := ParseTimeOfDay(day, end)
		return TimeRange{Start: s, End: e}
	}

	outer := mk("08:00", "18:00")
	if !outer.Covers(mk("09:00", "11:00")) {
		t.Error("应覆盖内部范围")
	}
	if !outer.Covers(mk("08:00", "18:00")) {
		t.Error("应覆盖相同范围")
	}
	if outer.Covers(mk("07:00", "11:00")) {
		t.Error("不应覆盖起点更早的范围")
	}
	if outer.Covers(mk("17:00", "19:00")) {
		t.Error("不应覆盖终点更晚的范围")
	}
}

func TestRunKey_Window(t *testing.T) {
	key := RunKey{TourID: uuid.New(), Date: "2025-03-10", Time: "09:00"}

	window, err := key.Window(120)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if window.Start.Format(TimeFormat) != "09:00" {
		t.Errorf("窗口起点 = %s, expected 09:00", window.Start.Format(TimeFormat))
	}
	if window.End.Format(TimeFormat) != "11:00" {
		t.Errorf("窗口终点 = %s, expected 11:00", window.End.Format(TimeFormat))
	}

	bad := RunKey{TourID: uuid.New(), Date: "invalid", Time: "09:00"}
	if _, err := bad.Window(120); err == nil {
		t.Error("无效日期应返回错误")
	}
}
