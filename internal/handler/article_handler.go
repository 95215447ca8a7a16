package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/tags"
)

// maxMarkReadIDs は一括既読リクエスト1回あたりの記事数上限。
const maxMarkReadIDs = 500

// ArticleStoreInterface はストアの読み出しインターフェース。
type ArticleStoreInterface interface {
	Get(id string) (model.Article, bool)
	GetAll() []model.Article
}

// ArticleLookupInterface はコンテンツデータベースから記事詳細を取得するインターフェース。
type ArticleLookupInterface interface {
	Article(ctx context.Context, id string) (*model.Article, error)
}

// StateChangeServiceInterface は記事状態変更のインターフェース。
type StateChangeServiceInterface interface {
	// ApplyStateChange は記事にタグを追加・削除し、変更後の記事を返す。
	ApplyStateChange(ctx context.Context, id string, add, remove []string) (model.Article, error)
	// MarkRead は複数記事を既読にし、新たに既読にした件数を返す。
	MarkRead(ctx context.Context, ids []string) (int, error)
}

// LabelCatalogInterface はラベルカタログの取得と破棄のインターフェース。
type LabelCatalogInterface interface {
	CatalogProvider
	Invalidate()
}

// ArticleHandler は記事の読み出しと状態変更のHTTPハンドラー。
type ArticleHandler struct {
	store   ArticleStoreInterface
	lookup  ArticleLookupInterface
	changes StateChangeServiceInterface
	catalog LabelCatalogInterface
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(
	store ArticleStoreInterface,
	lookup ArticleLookupInterface,
	changes StateChangeServiceInterface,
	catalog LabelCatalogInterface,
) *ArticleHandler {
	return &ArticleHandler{
		store:   store,
		lookup:  lookup,
		changes: changes,
		catalog: catalog,
	}
}

// --- リクエスト/レスポンス型 ---

// articleListResponse は記事一覧のレスポンス。
type articleListResponse struct {
	Articles []articleResponse `json:"articles"`
	Total    int               `json:"total"`
}

// articleDetailResponse は記事詳細のレスポンス。
// InStoreがfalseの記事は照合前のため状態を変更できない。
type articleDetailResponse struct {
	articleResponse
	InStore bool `json:"in_store"`
}

// stateChangeRequest は記事状態変更リクエストのボディ。
type stateChangeRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// markReadRequest は一括既読リクエストのボディ。
type markReadRequest struct {
	IDs []string `json:"ids"`
}

// markReadResponse は一括既読のレスポンス。
type markReadResponse struct {
	Updated int `json:"updated"`
}

// labelResponse はラベルカタログの1エントリ。
type labelResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// labelListResponse はラベルカタログのレスポンス。
type labelListResponse struct {
	Labels []labelResponse `json:"labels"`
}

// --- ハンドラー ---

// ListArticles はGET /api/articles を処理する。ストアに読み込まれた記事をID順で返す。
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	articles := h.store.GetAll()
	sort.Slice(articles, func(i, j int) bool {
		return articles[i].ID < articles[j].ID
	})

	writeJSON(w, http.StatusOK, articleListResponse{
		Articles: toArticleResponses(articles, h.catalog.Get(r.Context())),
		Total:    len(articles),
	})
}

// GetArticle はGET /api/articles/{id} を処理する。
// ストアにあればその内容を返し、なければコンテンツデータベースから取得する。
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	catalog := h.catalog.Get(r.Context())

	if a, ok := h.store.Get(id); ok {
		writeJSON(w, http.StatusOK, articleDetailResponse{
			articleResponse: articleResponse{Article: a, TagSet: tags.Derive(a.Tags, catalog)},
			InStore:         true,
		})
		return
	}

	a, err := h.lookup.Article(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, articleDetailResponse{
		articleResponse: articleResponse{Article: *a, TagSet: tags.Derive(a.Tags, catalog)},
	})
}

// UpdateState はPUT /api/articles/{id}/state を処理する。
func (h *ArticleHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req stateChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	a, err := h.changes.ApplyStateChange(r.Context(), id, req.Add, req.Remove)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, articleResponse{
		Article: a,
		TagSet:  tags.Derive(a.Tags, h.catalog.Get(r.Context())),
	})
}

// MarkRead はPOST /api/articles/read を処理する。
func (h *ArticleHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		handleServiceError(w, model.NewValidationError("記事IDが指定されていません"))
		return
	}
	if len(req.IDs) > maxMarkReadIDs {
		handleServiceError(w, model.NewValidationError("一度に既読にできる記事数を超えています"))
		return
	}

	n, err := h.changes.MarkRead(r.Context(), req.IDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Updated: n})
}

// ListLabels はGET /api/labels を処理する。refresh=trueの場合はキャッシュを破棄して読み直す。
func (h *ArticleHandler) ListLabels(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		h.catalog.Invalidate()
	}

	catalog := h.catalog.Get(r.Context())
	labels := make([]labelResponse, 0, len(catalog))
	for id, name := range catalog {
		labels = append(labels, labelResponse{ID: id, Name: name})
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Name != labels[j].Name {
			return labels[i].Name < labels[j].Name
		}
		return labels[i].ID < labels[j].ID
	})

	writeJSON(w, http.StatusOK, labelListResponse{Labels: labels})
}
