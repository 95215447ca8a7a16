package pagecache

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/briefdesk/internal/timewindow"
)

// DefaultWarmInterval はページ再生成の実行間隔。
const DefaultWarmInterval = 15 * time.Minute

// Warmer は当日のページを定期的に再生成する。
type Warmer struct {
	renderer *Renderer
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewWarmer はWarmerを生成する。intervalが0以下の場合はDefaultWarmIntervalを使う。
func NewWarmer(renderer *Renderer, logger *slog.Logger, interval time.Duration) *Warmer {
	if interval <= 0 {
		interval = DefaultWarmInterval
	}
	return &Warmer{
		renderer: renderer,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start はコンテキストがキャンセルされるまでページを定期的に再生成する。
func (w *Warmer) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("ページウォーマーを開始しました", slog.Duration("interval", w.interval))

	// 起動直後に1回実行
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ページウォーマーを停止しました")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce は参照タイムゾーンでの当日のページを再生成する。
func (w *Warmer) RunOnce(ctx context.Context) {
	day := timewindow.Today(w.now())
	start := time.Now()

	p, err := w.renderer.Refresh(ctx, day)
	if err != nil {
		w.logger.Error("ページの再生成に失敗しました",
			slog.String("day", day),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("ページを再生成しました",
		slog.String("day", day),
		slog.Int("articles", len(p.Articles)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
