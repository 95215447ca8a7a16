// Package briefing はコンテンツデータベースから時間ウィンドウ内の記事を取得し、
// 重要度バケットごとに整列したブリーフィングを組み立てる。
package briefing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/briefdesk/internal/metrics"
	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/repository"
	"github.com/hitoshi/briefdesk/internal/timewindow"
)

// DefaultQueryTimeout はコンテンツデータベース問い合わせのデフォルト上限。
const DefaultQueryTimeout = 10 * time.Second

// Groups は重要度バケットごとの記事一覧。
type Groups map[model.Importance][]model.Article

// Briefing はウィンドウ取得の結果。
// TimedOutがtrueの場合、空の結果は「まだデータがない」ことを意味し「記事がない」ことを意味しない。
type Briefing struct {
	Day      string            `json:"day,omitempty"`
	Slot     model.Slot        `json:"slot,omitempty"`
	Window   timewindow.Window `json:"window"`
	Groups   Groups            `json:"groups"`
	Total    int               `json:"total"`
	TimedOut bool              `json:"timed_out"`
}

// Articles はバケットの表示順に記事を平坦化して返す。
func (b *Briefing) Articles() []model.Article {
	out := make([]model.Article, 0, b.Total)
	for _, imp := range model.Importances() {
		out = append(out, b.Groups[imp]...)
	}
	return out
}

// Aggregator はブリーフィングアグリゲータ。
type Aggregator struct {
	repo      repository.ArticleRepository
	sanitizer NarrativeSanitizer
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	timeout   time.Duration
}

// NewAggregator はAggregatorを生成する。timeoutが0以下の場合はDefaultQueryTimeoutを使う。
func NewAggregator(
	repo repository.ArticleRepository,
	sanitizer NarrativeSanitizer,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
	timeout time.Duration,
) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Aggregator{
		repo:      repo,
		sanitizer: sanitizer,
		logger:    logger,
		metrics:   mc,
		timeout:   timeout,
	}
}

// FetchDay は暦日（と任意の時間帯）のブリーフィングを取得する。
// 日付・時間帯が不正な場合はValidationErrorを返す。
func (a *Aggregator) FetchDay(ctx context.Context, day string, slot model.Slot) (*Briefing, error) {
	w, err := timewindow.DaySlotToWindow(day, slot)
	if err != nil {
		return nil, err
	}

	b, err := a.FetchWindow(ctx, w)
	if err != nil {
		return nil, err
	}
	b.Day = day
	b.Slot = slot
	return b, nil
}

// FetchWindow はウィンドウ内の記事を取得し、重要度バケットごとにスコア降順で整列して返す。
// 問い合わせがタイムアウトした場合はエラーにせず、TimedOut付きの空の結果を返す。
func (a *Aggregator) FetchWindow(ctx context.Context, w timewindow.Window) (*Briefing, error) {
	qctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	rows, err := a.repo.ListProcessedBetween(qctx, w.Start, w.End)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded) {
			a.metrics.RecordAggregatorTimeout()
			a.logger.Warn("コンテンツデータベースの問い合わせがタイムアウトしました",
				slog.String("error", model.NewUpstreamTimeoutError("articles range query").Error()),
				slog.Time("start", w.Start),
				slog.Time("end", w.End),
				slog.Duration("timeout", a.timeout),
			)
			return &Briefing{Window: w, Groups: Group(nil), TimedOut: true}, nil
		}
		return nil, fmt.Errorf("ブリーフィング記事の取得に失敗しました: %w", err)
	}

	articles := Dedupe(rows)
	for i := range articles {
		articles[i] = SanitizeNarrative(a.sanitizer, articles[i])
	}
	groups := Group(articles)

	a.logger.Debug("ブリーフィングを組み立てました",
		slog.Int("rows", len(rows)),
		slog.Int("articles", len(articles)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &Briefing{Window: w, Groups: groups, Total: len(articles)}, nil
}

// Article はIDで記事詳細を取得する。存在しない場合はARTICLE_NOT_FOUNDを返す。
func (a *Aggregator) Article(ctx context.Context, id string) (*model.Article, error) {
	qctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	art, err := a.repo.FindByID(qctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事詳細の取得に失敗しました: %w", err)
	}
	if art == nil {
		return nil, model.NewArticleNotFoundError(id)
	}
	sanitized := SanitizeNarrative(a.sanitizer, *art)
	return &sanitized, nil
}

// Dedupe はIDで重複排除する。同じIDが複数回現れた場合は最後の内容を採用し、
// 位置は最初に現れた位置を保つ。IDが空の行は捨てる。
func Dedupe(rows []model.Article) []model.Article {
	index := make(map[string]int, len(rows))
	out := make([]model.Article, 0, len(rows))
	for _, r := range rows {
		if r.ID == "" {
			continue
		}
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// Group は記事を重要度バケットに分類し、各バケットをスコア降順（同点は入力順）で整列する。
// 未知の分類はデフォルトバケットに入れる。既知の全バケットを常に含む。
func Group(articles []model.Article) Groups {
	groups := make(Groups, len(model.Importances()))
	for _, imp := range model.Importances() {
		groups[imp] = []model.Article{}
	}
	for _, a := range articles {
		bucket := model.NormalizeImportance(a.Importance)
		a.Importance = bucket
		groups[bucket] = append(groups[bucket], a)
	}
	for _, list := range groups {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Score > list[j].Score
		})
	}
	return groups
}
