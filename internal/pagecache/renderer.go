package pagecache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/briefdesk/internal/briefing"
	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/tags"
)

// stateBatchSize はライブ状態取得1回あたりの記事数。
const stateBatchSize = 50

// BriefingSource は暦日のブリーフィングを組み立てる。
type BriefingSource interface {
	FetchDay(ctx context.Context, day string, slot model.Slot) (*briefing.Briefing, error)
}

// StateFetcher はリモート状態サービスから複数記事のライブなタグ集合を取得する。
type StateFetcher interface {
	FetchStates(ctx context.Context, ids []string) (map[string][]string, error)
}

// Renderer はページスナップショットを生成する。キャッシュにあればそれを返し、
// なければブリーフィングとライブ状態から生成して保存する。
type Renderer struct {
	cache  *Cache
	source BriefingSource
	states StateFetcher
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewRenderer はRendererを生成する。
func NewRenderer(cache *Cache, source BriefingSource, states StateFetcher, logger *slog.Logger) *Renderer {
	return &Renderer{
		cache:  cache,
		source: source,
		states: states,
		logger: logger,
		now:    time.Now,
	}
}

// Render はdayのページを返す。同じ日の同時生成は1回にまとめる。
func (r *Renderer) Render(ctx context.Context, day string) (*Page, error) {
	p, hit, err := r.cache.Get(ctx, day)
	if err != nil {
		r.logger.Warn("ページキャッシュを読み込めないため再生成します",
			slog.String("day", day),
			slog.String("error", err.Error()),
		)
	}
	if hit {
		return p, nil
	}

	v, err, _ := r.group.Do(day, func() (any, error) {
		return r.regenerate(ctx, day)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil
}

// Refresh はキャッシュの有無にかかわらずdayのページを再生成して保存する。
func (r *Renderer) Refresh(ctx context.Context, day string) (*Page, error) {
	v, err, _ := r.group.Do(day, func() (any, error) {
		return r.regenerate(ctx, day)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil
}

// regenerate はページを生成し、条件を満たす場合のみキャッシュへ保存する。
// ブリーフィングがタイムアウトした場合やライブ状態を取得できなかった場合は保存しない。
// 生成中に同じ日が無効化された場合も、古い状態を含むため保存しない。
func (r *Renderer) regenerate(ctx context.Context, day string) (*Page, error) {
	// 無効化の検出のため、データを読む前に世代番号を控える
	gen, genErr := r.cache.Generation(ctx, day)
	if genErr != nil {
		r.logger.Warn("世代番号を読み込めないため生成したページは保存しません",
			slog.String("day", day),
			slog.String("error", genErr.Error()),
		)
	}

	b, err := r.source.FetchDay(ctx, day, "")
	if err != nil {
		return nil, fmt.Errorf("ページの生成に失敗しました: %w", err)
	}

	articles := b.Articles()
	page := &Page{
		Day:         day,
		GeneratedAt: r.now().UTC(),
		Articles:    articles,
	}

	states, ok := r.fetchStates(ctx, articles)
	if ok {
		page.States = states
		for i := range page.Articles {
			page.Articles[i].Tags = tags.Clone(states[page.Articles[i].ID])
		}
	}

	switch {
	case b.TimedOut:
		r.logger.Warn("ブリーフィングがタイムアウトしたためページを保存しません", slog.String("day", day))
	case !ok:
		r.logger.Warn("ライブ状態を取得できなかったためページを保存しません", slog.String("day", day))
	case genErr != nil:
	default:
		stored, err := r.cache.SetIfGeneration(ctx, page, gen)
		if err != nil {
			r.logger.Warn("ページキャッシュへの保存に失敗しました",
				slog.String("day", day),
				slog.String("error", err.Error()),
			)
		} else if !stored {
			r.logger.Info("生成中に無効化されたためページを保存しません", slog.String("day", day))
		}
	}

	return page, nil
}

// fetchStates は記事のライブ状態をバッチ単位で取得する。1バッチでも失敗した場合はfalse。
func (r *Renderer) fetchStates(ctx context.Context, articles []model.Article) (map[string][]string, bool) {
	states := make(map[string][]string, len(articles))
	if r.states == nil {
		return states, false
	}

	for i := 0; i < len(articles); i += stateBatchSize {
		end := min(i+stateBatchSize, len(articles))
		ids := make([]string, 0, end-i)
		for _, a := range articles[i:end] {
			ids = append(ids, a.ID)
		}

		got, err := r.states.FetchStates(ctx, ids)
		if err != nil {
			r.logger.Warn("ページ生成中のライブ状態の取得に失敗しました",
				slog.Int("batch_size", len(ids)),
				slog.String("error", err.Error()),
			)
			return nil, false
		}
		for _, id := range ids {
			if t, ok := got[id]; ok && t != nil {
				states[id] = t
			} else {
				states[id] = []string{}
			}
		}
	}
	return states, true
}
