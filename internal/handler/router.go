package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/briefdesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	OperatorSecret    []byte

	// 運用
	HealthChecks     map[string]HealthCheck
	MetricsHandler   http.Handler
	PageInvalidator  PageInvalidator
	RevalidateSecret string

	// ブリーフィング
	Briefings  BriefingServiceInterface
	Pages      PageRendererInterface
	Reconciler ReconcilerInterface

	// 記事
	Store         ArticleStoreInterface
	ArticleLookup ArticleLookupInterface
	StateChanges  StateChangeServiceInterface
	LabelCatalog  LabelCatalogInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → OperatorAuth → RateLimit(General)
//
// ヘルスチェック・メトリクス・ページキャッシュ無効化はオペレーター認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	opsHandler := NewOpsHandler(deps.HealthChecks, deps.PageInvalidator, deps.RevalidateSecret, deps.Logger)
	briefingHandler := NewBriefingHandler(deps.Briefings, deps.Pages, deps.Reconciler, deps.LabelCatalog)
	articleHandler := NewArticleHandler(deps.Store, deps.ArticleLookup, deps.StateChanges, deps.LabelCatalog)

	// --- 認証不要のルート ---
	r.Get("/health", opsHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.PageInvalidator != nil {
		r.Post("/api/revalidate", opsHandler.Revalidate)
	}

	// --- オペレーター認証が必要なルート ---
	// ミドルウェアスタック: OperatorAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOperatorAuthMiddleware(deps.OperatorSecret, deps.Logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ブリーフィング
		r.Route("/api/briefings/{day}", func(r chi.Router) {
			r.Get("/", briefingHandler.GetBriefing)
			r.Get("/snapshot", briefingHandler.GetSnapshot)
			r.Post("/reconcile", briefingHandler.Reconcile)
		})
		r.Get("/api/slots", briefingHandler.GetSlot)

		// 記事
		r.Route("/api/articles", func(r chi.Router) {
			r.Get("/", articleHandler.ListArticles)
			// POST /api/articles/read - 一括既読（状態変更用レート制限を追加）
			r.With(deps.RateLimiter.MutationMiddleware()).Post("/read", articleHandler.MarkRead)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", articleHandler.GetArticle)
				r.With(deps.RateLimiter.MutationMiddleware()).Put("/state", articleHandler.UpdateState)
			})
		})

		// ラベル
		r.Get("/api/labels", articleHandler.ListLabels)
	})

	return r
}
