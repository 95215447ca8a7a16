// Package model はドメインモデルを定義する。
package model

import "time"

// Article はコンテンツデータベースから取り込んだ1件の記事を表す。
// IDは3つの情報源（ページスナップショット、ページキャッシュ、リモート状態サービス）で共通の識別子。
type Article struct {
	ID          string     `json:"id"`
	Title       string     `json:"title,omitempty"`
	URL         string     `json:"url,omitempty"`
	Source      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Importance  Importance `json:"importance,omitempty"`
	Score       float64    `json:"score,omitempty"`
	// Tags はシステム状態・ユーザーラベル・注釈の3名前空間をまとめたフラットなタグ集合。
	// nilは「未指定」、空スライスは「タグなし」を表す。
	Tags []string `json:"tags"`

	// AI生成フィールド。照合対象外で、コンテンツデータベースの値をそのまま採用する。
	Summary    string `json:"summary,omitempty"`
	Highlights string `json:"highlights,omitempty"`
	Critiques  string `json:"critiques,omitempty"`
	MarketTake string `json:"market_take,omitempty"`
}

// WindowTime はウィンドウ判定に使う時刻を返す。
// processed_atがあればそれを優先し、なければpublished_atを使う。どちらもなければnil。
func (a Article) WindowTime() *time.Time {
	if a.ProcessedAt != nil {
		return a.ProcessedAt
	}
	return a.PublishedAt
}

// Importance はブリーフィングのバケット分類を表す。
type Importance string

const (
	// ImportanceCritical は最重要バケット。
	ImportanceCritical Importance = "critical"
	// ImportanceImportant は重要バケット。
	ImportanceImportant Importance = "important"
	// ImportanceNormal は通常バケット。未知の分類はここに入る。
	ImportanceNormal Importance = "normal"
)

// DefaultImportance は未知・未設定の分類を正規化する先のバケット。
const DefaultImportance = ImportanceNormal

// Importances は既知のバケットを表示順で返す。
func Importances() []Importance {
	return []Importance{ImportanceCritical, ImportanceImportant, ImportanceNormal}
}

// NormalizeImportance は既知のバケットでない値をDefaultImportanceに正規化する。
func NormalizeImportance(v Importance) Importance {
	switch v {
	case ImportanceCritical, ImportanceImportant, ImportanceNormal:
		return v
	default:
		return DefaultImportance
	}
}

// Slot は1日の中の時間帯を表す。
type Slot string

const (
	// SlotMorning は参照タイムゾーンで00:00〜11:59。
	SlotMorning Slot = "morning"
	// SlotAfternoon は参照タイムゾーンで12:00〜18:59。
	SlotAfternoon Slot = "afternoon"
	// SlotEvening は参照タイムゾーンで19:00〜23:59。
	SlotEvening Slot = "evening"
)

// TagSet はタグ集合とラベルカタログから導出される表示用の状態。
type TagSet struct {
	IsStarred  bool     `json:"is_starred"`
	IsRead     bool     `json:"is_read"`
	UserLabels []string `json:"user_labels"`
}
