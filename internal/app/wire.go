package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/briefdesk/internal/briefing"
	"github.com/hitoshi/briefdesk/internal/config"
	"github.com/hitoshi/briefdesk/internal/feedstate"
	"github.com/hitoshi/briefdesk/internal/handler"
	"github.com/hitoshi/briefdesk/internal/metrics"
	"github.com/hitoshi/briefdesk/internal/middleware"
	"github.com/hitoshi/briefdesk/internal/mutation"
	"github.com/hitoshi/briefdesk/internal/pagecache"
	"github.com/hitoshi/briefdesk/internal/reconcile"
	"github.com/hitoshi/briefdesk/internal/repository"
	"github.com/hitoshi/briefdesk/internal/revalidate"
	"github.com/hitoshi/briefdesk/internal/store"
	"github.com/hitoshi/briefdesk/internal/tags"
)

// services はserve・workerの両モードで共有する依存関係。
type services struct {
	db          *sql.DB
	cache       *pagecache.Cache
	aggregator  *briefing.Aggregator
	feedstate   *feedstate.Client
	catalog     *tags.CatalogCache
	store       *store.Store
	revalidator *revalidate.Revalidator
	engine      *reconcile.Engine
	gateway     *mutation.Gateway
	renderer    *pagecache.Renderer
}

// buildServices は設定から全サービスを組み立てる。DB接続は呼び出し元が管理する。
func buildServices(cfg *config.Config, db *sql.DB, logger *slog.Logger, mc metrics.MetricsCollector) (*services, error) {
	// 1. コンテンツデータベース
	repo := repository.NewPostgresArticleRepo(db)
	sanitizer := briefing.NewNarrativeSanitizer()
	aggregator := briefing.NewAggregator(repo, sanitizer, logger, mc, cfg.BriefingQueryTimeout)

	// 2. リモート状態サービス
	fs := feedstate.NewClient(&http.Client{Timeout: cfg.FeedStateTimeout}, logger, cfg.FeedStateBaseURL, cfg.FeedStateToken)
	catalog := tags.NewCatalogCache(fs, logger, cfg.FeedStateBaseURL, cfg.LabelCatalogTTL)

	// 3. ページキャッシュと無効化
	cache, err := pagecache.NewCacheFromURL(cfg.RedisURL, cfg.PageCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}

	// 外部のページ配信層がある場合はそちらにも通知する
	invalidators := revalidate.Multi{cache}
	if cfg.PageCacheRevalidateURL != "" {
		invalidators = append(invalidators, revalidate.NewHTTPInvalidator(
			&http.Client{Timeout: cfg.RevalidateTimeout},
			cfg.PageCacheRevalidateURL,
			cfg.RevalidateSecret,
		))
	}
	revalidator := revalidate.New(invalidators, logger, mc, cfg.RevalidateTimeout)

	// 4. ストアと照合・変更
	st := store.New()
	engine := reconcile.NewEngine(st, fs, revalidator, logger, mc, reconcile.Config{
		BatchSize:   cfg.ReconcileBatchSize,
		MaxInFlight: cfg.ReconcileMaxInFlight,
		Sanitizer:   sanitizer,
	})
	gateway := mutation.NewGateway(st, fs, revalidator, logger, mc)

	return &services{
		db:          db,
		cache:       cache,
		aggregator:  aggregator,
		feedstate:   fs,
		catalog:     catalog,
		store:       st,
		revalidator: revalidator,
		engine:      engine,
		gateway:     gateway,
		renderer:    pagecache.NewRenderer(cache, aggregator, fs, logger),
	}, nil
}

// routerDeps はHTTPルーターの依存関係を組み立てる。
func (s *services) routerDeps(cfg *config.Config, rl *middleware.RateLimiter, metricsHandler http.Handler) *handler.RouterDeps {
	return &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		OperatorSecret:    []byte(cfg.OperatorJWTSecret),

		HealthChecks:     s.healthChecks(),
		MetricsHandler:   metricsHandler,
		PageInvalidator:  s.cache,
		RevalidateSecret: cfg.RevalidateSecret,

		Briefings:  s.aggregator,
		Pages:      s.renderer,
		Reconciler: s.engine,

		Store:         s.store,
		ArticleLookup: s.aggregator,
		StateChanges:  s.gateway,
		LabelCatalog:  s.catalog,
	}
}

// healthChecks は/healthで確認する依存先を返す。
func (s *services) healthChecks() map[string]handler.HealthCheck {
	return map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error { return s.db.PingContext(ctx) },
		"redis":    s.cache.Ping,
	}
}

// wait は実行中の照合パスと無効化要求の完了を待つ。
func (s *services) wait() {
	s.engine.Wait()
	s.revalidator.Wait()
}

// close はRedis接続を閉じる。
func (s *services) close() {
	if err := s.cache.Close(); err != nil {
		slog.Warn("failed to close page cache", slog.String("error", err.Error()))
	}
}
