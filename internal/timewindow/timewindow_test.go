package timewindow

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/briefdesk/internal/model"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("時刻のパースに失敗: %v", err)
	}
	return v
}

func TestDayToWindow_ReferenceOffset(t *testing.T) {
	w, err := DayToWindow("2024-03-10")
	if err != nil {
		t.Fatalf("DayToWindow がエラーを返した: %v", err)
	}

	wantStart := mustTime(t, "2024-03-09T16:00:00.000Z")
	wantEnd := mustTime(t, "2024-03-10T15:59:59.999Z")
	if !w.Start.Equal(wantStart) {
		t.Errorf("Start = %s, want %s", w.Start, wantStart)
	}
	if !w.End.Equal(wantEnd) {
		t.Errorf("End = %s, want %s", w.End, wantEnd)
	}
	if w.Start.Location() != time.UTC {
		t.Errorf("Start はUTCで返すべき: %s", w.Start.Location())
	}
}

func TestDayToWindow_LengthIsOneDayMinusOneMillisecond(t *testing.T) {
	days := []string{"2024-01-01", "2024-02-29", "2024-03-10", "2024-12-31", "1999-07-15", "2030-11-03"}
	for _, day := range days {
		w, err := DayToWindow(day)
		if err != nil {
			t.Fatalf("DayToWindow(%q) がエラーを返した: %v", day, err)
		}
		if got := w.End.Sub(w.Start); got != 24*time.Hour-time.Millisecond {
			t.Errorf("DayToWindow(%q) の長さ = %v, want 24h-1ms", day, got)
		}
	}
}

func TestDayToWindow_IndependentOfHostTimezone(t *testing.T) {
	orig := time.Local
	t.Cleanup(func() { time.Local = orig })

	time.Local = time.FixedZone("UTC-5", -5*3600)
	a, err := DayToWindow("2024-03-10")
	if err != nil {
		t.Fatal(err)
	}
	time.Local = time.FixedZone("UTC+9", 9*3600)
	b, err := DayToWindow("2024-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		t.Errorf("ホストのタイムゾーンで結果が変わった: %+v vs %+v", a, b)
	}
}

func TestDayToWindow_RejectsMalformedDay(t *testing.T) {
	inputs := []string{"", "2024-3-10", "2024/03/10", "20240310", "2024-02-30", "2024-13-01", "abcd-ef-gh", " 2024-03-10"}
	for _, in := range inputs {
		_, err := DayToWindow(in)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
			t.Errorf("DayToWindow(%q) err = %v, want ValidationError", in, err)
		}
	}
}

func TestDaySlotToWindow_SlotsPartitionTheDay(t *testing.T) {
	day, err := DayToWindow("2024-03-10")
	if err != nil {
		t.Fatal(err)
	}
	slots := []model.Slot{model.SlotMorning, model.SlotAfternoon, model.SlotEvening}

	prevEnd := day.Start.Add(-time.Millisecond)
	for _, s := range slots {
		w, err := DaySlotToWindow("2024-03-10", s)
		if err != nil {
			t.Fatalf("DaySlotToWindow(%q) がエラーを返した: %v", s, err)
		}
		if !w.Start.Equal(prevEnd.Add(time.Millisecond)) {
			t.Errorf("%s の開始 %s は直前の終了 %s の1ms後であるべき", s, w.Start, prevEnd)
		}
		prevEnd = w.End
	}
	if !prevEnd.Equal(day.End) {
		t.Errorf("最後の時間帯の終了 = %s, want %s", prevEnd, day.End)
	}
}

func TestDaySlotToWindow_SlotBoundaries(t *testing.T) {
	tests := []struct {
		slot      model.Slot
		wantStart string
		wantEnd   string
	}{
		{model.SlotMorning, "2024-03-09T16:00:00Z", "2024-03-10T03:59:59.999Z"},
		{model.SlotAfternoon, "2024-03-10T04:00:00Z", "2024-03-10T10:59:59.999Z"},
		{model.SlotEvening, "2024-03-10T11:00:00Z", "2024-03-10T15:59:59.999Z"},
	}
	for _, tt := range tests {
		w, err := DaySlotToWindow("2024-03-10", tt.slot)
		if err != nil {
			t.Fatal(err)
		}
		if !w.Start.Equal(mustTime(t, tt.wantStart)) {
			t.Errorf("%s Start = %s, want %s", tt.slot, w.Start, tt.wantStart)
		}
		if !w.End.Equal(mustTime(t, tt.wantEnd)) {
			t.Errorf("%s End = %s, want %s", tt.slot, w.End, tt.wantEnd)
		}
	}
}

func TestDaySlotToWindow_RejectsUnknownSlot(t *testing.T) {
	_, err := DaySlotToWindow("2024-03-10", "night")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestTimestampToSlot(t *testing.T) {
	tests := []struct {
		ts   string
		want model.Slot
	}{
		{"2024-03-10T11:30:00Z", model.SlotEvening},   // 19:30 local
		{"2024-03-09T16:00:00Z", model.SlotMorning},   // 00:00 local
		{"2024-03-10T03:59:59Z", model.SlotMorning},   // 11:59 local
		{"2024-03-10T04:00:00Z", model.SlotAfternoon}, // 12:00 local
		{"2024-03-10T10:59:59Z", model.SlotAfternoon}, // 18:59 local
		{"2024-03-10T11:00:00Z", model.SlotEvening},   // 19:00 local
		{"2024-03-10T15:59:59Z", model.SlotEvening},   // 23:59 local
		{"2024-03-10T20:30:00+09:00", model.SlotEvening},
	}
	for _, tt := range tests {
		ts := mustTime(t, tt.ts)
		if got := TimestampToSlot(&ts); got != tt.want {
			t.Errorf("TimestampToSlot(%s) = %q, want %q", tt.ts, got, tt.want)
		}
	}
}

func TestTimestampToSlot_MissingDefaultsToMorning(t *testing.T) {
	if got := TimestampToSlot(nil); got != model.SlotMorning {
		t.Errorf("TimestampToSlot(nil) = %q, want morning", got)
	}
	var zero time.Time
	if got := TimestampToSlot(&zero); got != model.SlotMorning {
		t.Errorf("TimestampToSlot(zero) = %q, want morning", got)
	}
	for _, raw := range []string{"", "not-a-time", "2024-03-10"} {
		if got := ParseTimestampToSlot(raw); got != model.SlotMorning {
			t.Errorf("ParseTimestampToSlot(%q) = %q, want morning", raw, got)
		}
	}
}

func TestTimestampToSlot_WindowContainsTimestamp(t *testing.T) {
	start := mustTime(t, "2024-03-09T16:00:00Z")
	for step := time.Duration(0); step < 24*time.Hour; step += 17 * time.Minute {
		ts := start.Add(step)
		day := DayOf(ts)
		if day != "2024-03-10" {
			t.Fatalf("DayOf(%s) = %q, want 2024-03-10", ts, day)
		}
		w, err := DaySlotToWindow(day, TimestampToSlot(&ts))
		if err != nil {
			t.Fatal(err)
		}
		if !w.Contains(ts) {
			t.Errorf("%s の時間帯ウィンドウ %+v が時刻を含まない", ts, w)
		}
	}
}

func TestDayOf_UsesReferenceTimezone(t *testing.T) {
	if got := DayOf(mustTime(t, "2024-03-09T16:00:00Z")); got != "2024-03-10" {
		t.Errorf("DayOf = %q, want 2024-03-10", got)
	}
	if got := DayOf(mustTime(t, "2024-03-09T15:59:59.999Z")); got != "2024-03-09" {
		t.Errorf("DayOf = %q, want 2024-03-09", got)
	}
}

func TestParseSlot(t *testing.T) {
	if s, err := ParseSlot(""); err != nil || s != "" {
		t.Errorf("ParseSlot(\"\") = %q, %v", s, err)
	}
	if s, err := ParseSlot("afternoon"); err != nil || s != model.SlotAfternoon {
		t.Errorf("ParseSlot(afternoon) = %q, %v", s, err)
	}
	if _, err := ParseSlot("Morning"); err == nil {
		t.Error("ParseSlot(Morning) はエラーを返すべき")
	}
}
