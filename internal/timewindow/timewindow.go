// Package timewindow は暦日・時間帯と絶対時刻（UTC）の相互変換を提供する。
// すべての計算は参照タイムゾーン（UTC+8固定、夏時間なし）で行い、ホストのタイムゾーンには依存しない。
package timewindow

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hitoshi/briefdesk/internal/model"
)

// ReferenceOffset は参照タイムゾーンのUTCオフセット。
const ReferenceOffset = 8 * time.Hour

// DayLayout は暦日文字列のレイアウト。
const DayLayout = "2006-01-02"

// inclusiveEnd はウィンドウ終端を包含的に表すための差分（1ミリ秒）。
const inclusiveEnd = time.Millisecond

var (
	referenceZone = time.FixedZone("UTC+8", int(ReferenceOffset/time.Second))
	dayPattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// slotBounds は各時間帯の開始時刻と終了時刻（排他的、参照タイムゾーンの0時からの経過時間）。
var slotBounds = map[model.Slot][2]time.Duration{
	model.SlotMorning:   {0, 12 * time.Hour},
	model.SlotAfternoon: {12 * time.Hour, 19 * time.Hour},
	model.SlotEvening:   {19 * time.Hour, 24 * time.Hour},
}

// Window はブリーフィングウィンドウのUTC範囲。
// Endは従来の包含的な範囲指定に合わせ、区間末尾の1ミリ秒前（23:59:59.999）を指す。
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains はtがウィンドウ内（両端含む）にあるかを返す。
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Location は参照タイムゾーンを返す。
func Location() *time.Location {
	return referenceZone
}

// ParseDay はYYYY-MM-DD形式の暦日を参照タイムゾーンの0時として解釈する。
// 形式が不正な場合や存在しない日付の場合はValidationErrorを返す。
func ParseDay(day string) (time.Time, error) {
	if !dayPattern.MatchString(day) {
		return time.Time{}, model.NewDateValidationError(fmt.Sprintf("日付の形式が不正です: %q", day))
	}
	t, err := time.ParseInLocation(DayLayout, day, referenceZone)
	if err != nil {
		return time.Time{}, model.NewDateValidationError(fmt.Sprintf("存在しない日付です: %q", day))
	}
	return t, nil
}

// ParseSlot は時間帯文字列を検証する。空文字列は「時間帯指定なし」として許容する。
func ParseSlot(s string) (model.Slot, error) {
	if s == "" {
		return "", nil
	}
	slot := model.Slot(s)
	if _, ok := slotBounds[slot]; !ok {
		return "", model.NewDateValidationError(fmt.Sprintf("不明な時間帯です: %q", s))
	}
	return slot, nil
}

// DayToWindow は暦日全体のUTCウィンドウを返す。
func DayToWindow(day string) (Window, error) {
	return DaySlotToWindow(day, "")
}

// DaySlotToWindow は暦日と時間帯からUTCウィンドウを返す。slotが空の場合は1日全体。
func DaySlotToWindow(day string, slot model.Slot) (Window, error) {
	midnight, err := ParseDay(day)
	if err != nil {
		return Window{}, err
	}

	from, to := time.Duration(0), 24*time.Hour
	if slot != "" {
		bounds, ok := slotBounds[slot]
		if !ok {
			return Window{}, model.NewDateValidationError(fmt.Sprintf("不明な時間帯です: %q", slot))
		}
		from, to = bounds[0], bounds[1]
	}

	return Window{
		Start: midnight.Add(from).UTC(),
		End:   midnight.Add(to - inclusiveEnd).UTC(),
	}, nil
}

// TimestampToSlot はタイムスタンプが属する時間帯を返す。
// nilの場合は従来の挙動に合わせてmorningを返す。
func TimestampToSlot(ts *time.Time) model.Slot {
	if ts == nil || ts.IsZero() {
		return model.SlotMorning
	}
	local := ts.In(referenceZone)
	switch h := local.Hour(); {
	case h < 12:
		return model.SlotMorning
	case h < 19:
		return model.SlotAfternoon
	default:
		return model.SlotEvening
	}
}

// ParseTimestampToSlot はISO-8601文字列のタイムスタンプから時間帯を返す。
// 空文字列や解析できない値はmorningとして扱う。
func ParseTimestampToSlot(raw string) model.Slot {
	if raw == "" {
		return model.SlotMorning
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return model.SlotMorning
	}
	return TimestampToSlot(&t)
}

// DayOf は参照タイムゾーンでtが属する暦日を返す。
func DayOf(t time.Time) string {
	return t.In(referenceZone).Format(DayLayout)
}

// Today は参照タイムゾーンでの今日の暦日を返す。
func Today(now time.Time) string {
	return DayOf(now)
}
