package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/briefdesk/internal/briefing"
	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/pagecache"
	"github.com/hitoshi/briefdesk/internal/reconcile"
	"github.com/hitoshi/briefdesk/internal/tags"
	"github.com/hitoshi/briefdesk/internal/timewindow"
)

// BriefingServiceInterface はブリーフィングハンドラーが必要とするアグリゲータのインターフェース。
type BriefingServiceInterface interface {
	// FetchDay は暦日と任意の時間帯のブリーフィングを返す。
	FetchDay(ctx context.Context, day string, slot model.Slot) (*briefing.Briefing, error)
}

// PageRendererInterface はページスナップショットを返すインターフェース。
type PageRendererInterface interface {
	Render(ctx context.Context, day string) (*pagecache.Page, error)
}

// ReconcilerInterface は照合パスを開始するインターフェース。
type ReconcilerInterface interface {
	Reconcile(ctx context.Context, req reconcile.Request) (*reconcile.Pass, error)
}

// CatalogProvider はラベルカタログを返すインターフェース。
type CatalogProvider interface {
	Get(ctx context.Context) tags.Catalog
}

// BriefingHandler はブリーフィングと照合のHTTPハンドラー。
type BriefingHandler struct {
	briefings  BriefingServiceInterface
	pages      PageRendererInterface
	reconciler ReconcilerInterface
	catalog    CatalogProvider
}

// NewBriefingHandler はBriefingHandlerを生成する。
func NewBriefingHandler(
	briefings BriefingServiceInterface,
	pages PageRendererInterface,
	reconciler ReconcilerInterface,
	catalog CatalogProvider,
) *BriefingHandler {
	return &BriefingHandler{
		briefings:  briefings,
		pages:      pages,
		reconciler: reconciler,
		catalog:    catalog,
	}
}

// --- レスポンス型 ---

// articleResponse は記事とタグ集合から導出した表示用状態。
type articleResponse struct {
	model.Article
	TagSet model.TagSet `json:"tag_set"`
}

// briefingResponse はブリーフィングのレスポンス。
type briefingResponse struct {
	Day      string                                 `json:"day"`
	Slot     model.Slot                             `json:"slot,omitempty"`
	Window   timewindow.Window                      `json:"window"`
	Groups   map[model.Importance][]articleResponse `json:"groups"`
	Total    int                                    `json:"total"`
	TimedOut bool                                   `json:"timed_out"`
}

// snapshotResponse はページスナップショットのレスポンス。
type snapshotResponse struct {
	Day         string              `json:"day"`
	GeneratedAt time.Time           `json:"generated_at"`
	Articles    []articleResponse   `json:"articles"`
	States      map[string][]string `json:"states"`
}

// reconcileRequest は照合リクエストのボディ。
// snapshot_statesを省略またはnullにした場合はスナップショット自身のタグと比較する。
type reconcileRequest struct {
	Snapshot       []model.Article     `json:"snapshot"`
	SnapshotStates map[string][]string `json:"snapshot_states"`
	RenderedDay    string              `json:"rendered_day"`
}

// reconcileResponse は照合リクエストのレスポンス。
// Resultはwait=trueで確認の完了を待った場合のみ含む。
type reconcileResponse struct {
	PassID   string                `json:"pass_id"`
	Day      string                `json:"day"`
	Articles []articleResponse     `json:"articles"`
	Result   *reconcile.PassResult `json:"result,omitempty"`
}

// slotResponse は時間帯判定のレスポンス。
type slotResponse struct {
	Slot model.Slot `json:"slot"`
}

// toArticleResponses は記事一覧にTagSetを付与する。
func toArticleResponses(articles []model.Article, catalog tags.Catalog) []articleResponse {
	out := make([]articleResponse, len(articles))
	for i, a := range articles {
		out[i] = articleResponse{Article: a, TagSet: tags.Derive(a.Tags, catalog)}
	}
	return out
}

// --- ハンドラー ---

// GetBriefing はGET /api/briefings/{day}?slot= を処理する。
func (h *BriefingHandler) GetBriefing(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	slot, err := timewindow.ParseSlot(r.URL.Query().Get("slot"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	b, err := h.briefings.FetchDay(r.Context(), day, slot)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	catalog := h.catalog.Get(r.Context())
	groups := make(map[model.Importance][]articleResponse, len(b.Groups))
	for imp, list := range b.Groups {
		groups[imp] = toArticleResponses(list, catalog)
	}

	writeJSON(w, http.StatusOK, briefingResponse{
		Day:      b.Day,
		Slot:     b.Slot,
		Window:   b.Window,
		Groups:   groups,
		Total:    b.Total,
		TimedOut: b.TimedOut,
	})
}

// GetSnapshot はGET /api/briefings/{day}/snapshot を処理する。
// ページキャッシュにあればそれを返し、なければ生成する。
func (h *BriefingHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	if _, err := timewindow.ParseDay(day); err != nil {
		handleServiceError(w, err)
		return
	}

	page, err := h.pages.Render(r.Context(), day)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	states := page.States
	if states == nil {
		states = map[string][]string{}
	}
	writeJSON(w, http.StatusOK, snapshotResponse{
		Day:         page.Day,
		GeneratedAt: page.GeneratedAt,
		Articles:    toArticleResponses(page.Articles, h.catalog.Get(r.Context())),
		States:      states,
	})
}

// Reconcile はPOST /api/briefings/{day}/reconcile を処理する。
// スナップショットを同期的にマージした結果を返し、ライブ状態の確認はバックグラウンドで続ける。
// wait=trueを指定した場合は確認の完了まで待って結果を含める。
func (h *BriefingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")

	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	pass, err := h.reconciler.Reconcile(r.Context(), reconcile.Request{
		Day:            day,
		RenderedDay:    req.RenderedDay,
		Snapshot:       req.Snapshot,
		SnapshotStates: req.SnapshotStates,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := reconcileResponse{
		PassID:   pass.ID,
		Day:      pass.Day,
		Articles: toArticleResponses(pass.Articles, h.catalog.Get(r.Context())),
	}

	if r.URL.Query().Get("wait") == "true" {
		select {
		case <-pass.Done():
			result := pass.Wait()
			resp.Result = &result
		case <-r.Context().Done():
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSlot はGET /api/slots?ts= を処理する。
func (h *BriefingHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, slotResponse{
		Slot: timewindow.ParseTimestampToSlot(r.URL.Query().Get("ts")),
	})
}
