// Package tags はリモート状態サービス由来の3種類のタグ名前空間
// （システム状態・ユーザーラベル・注釈）を1つのタグ集合に正規化する。
package tags

import (
	"strings"

	"github.com/hitoshi/briefdesk/internal/model"
)

const (
	// StatePrefix はシステム状態タグの名前空間。
	StatePrefix = "user/-/state/com.google/"
	// LabelPrefix はユーザーラベルタグの名前空間。
	LabelPrefix = "user/-/label/"

	// Starred はスター状態を表すシステム状態タグ。
	Starred = StatePrefix + "starred"
	// Read は既読状態を表すシステム状態タグ。
	Read = StatePrefix + "read"
)

// IsSystemState はタグが既読・スターのシステム状態タグかを返す。
func IsSystemState(tag string) bool {
	return tag == Starred || tag == Read
}

// IsUserLabel はタグがユーザーラベルの識別子形式かを返す。
func IsUserLabel(tag string) bool {
	return strings.HasPrefix(tag, LabelPrefix) && len(tag) > len(LabelPrefix)
}

// NormalizeLabel はラベル名をカタログと同じ識別子形式に正規化する。
// すでに識別子形式の場合はそのまま返す。前後の空白は除去し、空の名前は空文字列を返す。
func NormalizeLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, LabelPrefix) {
		return name
	}
	return LabelPrefix + name
}

// LabelName はラベル識別子から名前部分を返す。識別子形式でなければそのまま返す。
func LabelName(id string) string {
	return strings.TrimPrefix(id, LabelPrefix)
}

// Merge はシステム状態・ユーザーラベル・注釈の各タグを重複なしで結合する。
// ユーザーラベルは識別子形式に正規化してから結合する。順序は引数の順に最初の出現順を保つ。
// 戻り値は常に非nil。
func Merge(systemState, userLabels, annotations []string) []string {
	out := make([]string, 0, len(systemState)+len(userLabels)+len(annotations))
	seen := make(map[string]struct{}, cap(out))
	add := func(tag string) {
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	for _, t := range systemState {
		add(t)
	}
	for _, l := range userLabels {
		add(NormalizeLabel(l))
	}
	for _, t := range annotations {
		add(t)
	}
	return out
}

// Partition はフラットなタグ列を3つの名前空間に分割する。
func Partition(tags []string) (systemState, userLabels, annotations []string) {
	for _, t := range tags {
		switch {
		case IsSystemState(t):
			systemState = append(systemState, t)
		case IsUserLabel(t):
			userLabels = append(userLabels, t)
		default:
			annotations = append(annotations, t)
		}
	}
	return systemState, userLabels, annotations
}

// FromRemote はリモート状態サービスの1件分の応答をタグ集合に変換する。
// categoriesは全名前空間を含むフラットな列、labelNamesは明示的なラベル名の列。
// labelNamesがnilでなければユーザーラベルの正とし、categories内のラベルは採用しない。
func FromRemote(categories []string, labelNames []string) []string {
	state, labels, annotations := Partition(categories)
	if labelNames != nil {
		labels = labelNames
	}
	return Merge(state, labels, annotations)
}

// HasSystemState はタグ集合がシステム状態タグを1つでも含むかを返す。
func HasSystemState(tags []string) bool {
	for _, t := range tags {
		if IsSystemState(t) {
			return true
		}
	}
	return false
}

// Contains はタグ集合にtagが含まれるかを返す。
func Contains(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Equal はa、bが集合として等しいかを返す（順序・重複は無視）。
func Equal(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, t := range a {
		as[t] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, t := range b {
		bs[t] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for t := range as {
		if _, ok := bs[t]; !ok {
			return false
		}
	}
	return true
}

// Apply は現在のタグ集合に追加・削除を適用した新しい集合を返す。
// 同じタグが追加と削除の両方にある場合は削除が優先される。入力スライスは変更しない。
func Apply(current, add, remove []string) []string {
	removed := make(map[string]struct{}, len(remove))
	for _, t := range remove {
		removed[t] = struct{}{}
	}

	out := make([]string, 0, len(current)+len(add))
	seen := make(map[string]struct{}, len(current)+len(add))
	for _, list := range [][]string{current, add} {
		for _, t := range list {
			if _, ok := removed[t]; ok {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Clone はタグ集合のコピーを返す。nilはnilのまま返す。
func Clone(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

// Derive はタグ集合とラベルカタログから表示用のTagSetを導出する。
// カタログにないラベル識別子は無視する。
func Derive(tags []string, catalog Catalog) model.TagSet {
	ts := model.TagSet{UserLabels: []string{}}
	seen := make(map[string]struct{})
	for _, t := range tags {
		switch {
		case t == Starred:
			ts.IsStarred = true
		case t == Read:
			ts.IsRead = true
		case IsUserLabel(t):
			name, ok := catalog[t]
			if !ok {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			ts.UserLabels = append(ts.UserLabels, name)
		}
	}
	return ts
}
