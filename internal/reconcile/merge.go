package reconcile

import "github.com/hitoshi/briefdesk/internal/tags"

// Layer はタグ集合の情報源。
type Layer int

const (
	// LayerLive はリモート状態サービスから取得したばかりのタグ。
	LayerLive Layer = iota
	// LayerStore はクライアントローカルストアが現在保持するタグ。
	LayerStore
	// LayerSnapshotState はページ描画時に明示的に計算された状態。
	LayerSnapshotState
	// LayerSnapshot はスナップショット記事自身のタグ。
	LayerSnapshot
)

// String はログ出力用の名前を返す。
func (l Layer) String() string {
	switch l {
	case LayerLive:
		return "live"
	case LayerStore:
		return "store"
	case LayerSnapshotState:
		return "snapshot_state"
	case LayerSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// OptionalTags は存在しない場合があるタグ集合。
// OKがfalseなら「値がない」、OKがtrueでTagsが空なら「タグなし」を表す。
type OptionalTags struct {
	Tags []string
	OK   bool
}

// Some は存在するタグ集合を返す。
func Some(t []string) OptionalTags {
	return OptionalTags{Tags: t, OK: true}
}

// Layers は1記事について観測した各情報源のタグ集合。
type Layers struct {
	Live          OptionalTags
	Store         OptionalTags
	SnapshotState OptionalTags
	Snapshot      OptionalTags
}

func (l Layers) get(layer Layer) OptionalTags {
	switch layer {
	case LayerLive:
		return l.Live
	case LayerStore:
		return l.Store
	case LayerSnapshotState:
		return l.SnapshotState
	case LayerSnapshot:
		return l.Snapshot
	default:
		return OptionalTags{}
	}
}

var (
	// ImmediatePrecedence は初回描画前の同期マージの優先順位。
	// ストアの値はユーザーが直前に変更した状態でありうるため、スナップショットより優先する。
	ImmediatePrecedence = []Layer{LayerStore, LayerSnapshotState, LayerSnapshot}

	// ConfirmedPrecedence はライブ状態を取得できた後の優先順位。ライブ状態がすべてに優先する。
	ConfirmedPrecedence = []Layer{LayerLive, LayerStore, LayerSnapshotState, LayerSnapshot}
)

// Resolve はorderの順に最初に存在する情報源のタグ集合を返す。
// どの情報源にも値がなければ空集合を返す。戻り値は常に非nilで、入力とは別のスライス。
func Resolve(order []Layer, l Layers) []string {
	for _, layer := range order {
		if v := l.get(layer); v.OK {
			if v.Tags == nil {
				return []string{}
			}
			return tags.Clone(v.Tags)
		}
	}
	return []string{}
}

// Source はResolveが採用する情報源を返す。どれにも値がなければfalse。
func Source(order []Layer, l Layers) (Layer, bool) {
	for _, layer := range order {
		if l.get(layer).OK {
			return layer, true
		}
	}
	return 0, false
}
