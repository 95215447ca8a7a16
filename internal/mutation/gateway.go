// Package mutation はユーザー操作による記事状態の変更を、リモート状態サービスの確認後にストアへ反映する。
// ストアはサービスが受理した状態だけを保持し、未確認の状態を表示しない。
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/briefdesk/internal/metrics"
	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/store"
	"github.com/hitoshi/briefdesk/internal/tags"
	"github.com/hitoshi/briefdesk/internal/timewindow"
)

// StateMutator はリモート状態サービスの変更操作。各操作は冪等。
type StateMutator interface {
	SetStarred(ctx context.Context, id string, starred bool) error
	SetRead(ctx context.Context, id string, read bool) error
	EditLabels(ctx context.Context, id string, add, remove []string) error
}

// InvalidationTrigger は暦日単位のページキャッシュ無効化を発火する。
type InvalidationTrigger interface {
	Trigger(day string)
}

// Gateway は記事状態の変更ゲートウェイ。
type Gateway struct {
	store       *store.Store
	mutator     StateMutator
	revalidator InvalidationTrigger
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewGateway はGatewayを生成する。
func NewGateway(
	st *store.Store,
	mutator StateMutator,
	revalidator InvalidationTrigger,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
) *Gateway {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Gateway{
		store:       st,
		mutator:     mutator,
		revalidator: revalidator,
		logger:      logger,
		metrics:     mc,
		now:         time.Now,
	}
}

// ApplyStateChange は記事にタグを追加・削除する。
// システム状態タグはスター・既読の個別呼び出し、ユーザーラベルは1回のラベル編集呼び出しに分け、
// すべてを並行に発行する。1つでも失敗した場合はストアを変更せずにエラーを返す。
// 成功した場合のみストアの現在値に変更を適用し、記事の日付のページキャッシュ無効化を発火する。
func (g *Gateway) ApplyStateChange(ctx context.Context, id string, add, remove []string) (model.Article, error) {
	if id == "" {
		return model.Article{}, model.NewValidationError("記事IDが指定されていません")
	}
	add, remove, err := normalizeChange(add, remove)
	if err != nil {
		return model.Article{}, err
	}

	current, ok := g.store.Get(id)
	if !ok {
		return model.Article{}, model.NewArticleNotFoundInStoreError(id)
	}

	// 1つが失敗しても残りの呼び出しは中断せず、すべての結果が確定してから返す
	var eg errgroup.Group
	for _, call := range plan(id, add, remove) {
		eg.Go(func() error {
			return call(ctx, g.mutator)
		})
	}
	if err := eg.Wait(); err != nil {
		g.metrics.RecordMutation(false)
		g.logger.Error("記事状態の変更に失敗しました",
			slog.String("article_id", id),
			slog.Any("add", add),
			slog.Any("remove", remove),
			slog.String("error", err.Error()),
		)
		return model.Article{}, asTransportFailure(err)
	}

	// 呼び出し中に照合などでタグが更新されている可能性があるため、確認後に読み直す
	if latest, ok := g.store.Get(id); ok {
		current = latest
	}
	next := tags.Apply(current.Tags, add, remove)
	g.store.UpdateTags(id, next)
	current.Tags = next

	g.metrics.RecordMutation(true)
	g.logger.Info("記事状態を変更しました",
		slog.String("article_id", id),
		slog.Any("add", add),
		slog.Any("remove", remove),
	)

	g.invalidate(current)
	return current, nil
}

// MarkRead は複数記事を既読にする。すでに既読の記事は呼び出しを省略する。
// すべての呼び出しが成功した場合のみストアを更新し、影響を受けた暦日ごとに無効化を1回発火する。
// 戻り値は新たに既読にした件数。
func (g *Gateway) MarkRead(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var targets []model.Article
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		a, ok := g.store.Get(id)
		if !ok {
			return 0, model.NewArticleNotFoundInStoreError(id)
		}
		if tags.Contains(a.Tags, tags.Read) {
			continue
		}
		targets = append(targets, a)
	}
	if len(targets) == 0 {
		return 0, nil
	}

	var eg errgroup.Group
	eg.SetLimit(markReadMaxInFlight)
	for _, a := range targets {
		eg.Go(func() error {
			return g.mutator.SetRead(ctx, a.ID, true)
		})
	}
	if err := eg.Wait(); err != nil {
		g.metrics.RecordMutation(false)
		g.logger.Error("一括既読に失敗しました",
			slog.Int("count", len(targets)),
			slog.String("error", err.Error()),
		)
		return 0, asTransportFailure(err)
	}

	targetIDs := make([]string, 0, len(targets))
	for _, a := range targets {
		targetIDs = append(targetIDs, a.ID)
	}
	n := g.store.MarkRead(targetIDs)
	g.metrics.RecordMutation(true)

	days := make(map[string]struct{})
	for _, a := range targets {
		day := g.dayOf(a)
		if _, ok := days[day]; ok {
			continue
		}
		days[day] = struct{}{}
		if g.revalidator != nil {
			g.revalidator.Trigger(day)
		}
	}

	g.logger.Info("一括既読にしました",
		slog.Int("count", n),
		slog.Int("days", len(days)),
	)
	return n, nil
}

func (g *Gateway) invalidate(a model.Article) {
	if g.revalidator == nil {
		return
	}
	g.revalidator.Trigger(g.dayOf(a))
}

// dayOf は記事の暦日を返す。記事に時刻がない場合は現在の暦日。
func (g *Gateway) dayOf(a model.Article) string {
	if ts := a.WindowTime(); ts != nil && !ts.IsZero() {
		return timewindow.DayOf(*ts)
	}
	return timewindow.Today(g.now())
}

// markReadMaxInFlight は一括既読で同時に発行する既読呼び出しの上限。
const markReadMaxInFlight = 3

type call func(ctx context.Context, m StateMutator) error

// plan は変更をリモート状態サービスへの呼び出しに分割する。
func plan(id string, add, remove []string) []call {
	var calls []call
	addState, addLabels, _ := tags.Partition(add)
	removeState, removeLabels, _ := tags.Partition(remove)

	for _, t := range addState {
		calls = append(calls, stateCall(id, t, true))
	}
	for _, t := range removeState {
		calls = append(calls, stateCall(id, t, false))
	}
	if len(addLabels) > 0 || len(removeLabels) > 0 {
		calls = append(calls, func(ctx context.Context, m StateMutator) error {
			return m.EditLabels(ctx, id, addLabels, removeLabels)
		})
	}
	return calls
}

func stateCall(id, tag string, on bool) call {
	if tag == tags.Starred {
		return func(ctx context.Context, m StateMutator) error {
			return m.SetStarred(ctx, id, on)
		}
	}
	return func(ctx context.Context, m StateMutator) error {
		return m.SetRead(ctx, id, on)
	}
}

// normalizeChange はユーザーラベルを識別子形式に揃え、重複を除く。
// 注釈タグはユーザーが変更できないため検証エラーにする。
func normalizeChange(add, remove []string) ([]string, []string, error) {
	na, err := normalizeTags(add)
	if err != nil {
		return nil, nil, err
	}
	nr, err := normalizeTags(remove)
	if err != nil {
		return nil, nil, err
	}
	if len(na) == 0 && len(nr) == 0 {
		return nil, nil, model.NewTagValidationError("追加・削除するタグが指定されていません")
	}
	for _, t := range na {
		if tags.Contains(nr, t) {
			return nil, nil, model.NewTagValidationError(fmt.Sprintf("同じタグを追加と削除の両方に指定できません: %s", t))
		}
	}
	return na, nr, nil
}

func normalizeTags(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, t := range in {
		switch {
		case tags.IsSystemState(t):
		case tags.IsUserLabel(t):
		default:
			return nil, model.NewTagValidationError(fmt.Sprintf("変更できないタグです: %s", t))
		}
		if !tags.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// asTransportFailure はリモート呼び出しのエラーをTransportFailureに揃える。
func asTransportFailure(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeTransportFailure {
		return apiErr
	}
	return model.NewTransportFailureError(err.Error())
}
