package tags

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Catalog はユーザーラベル識別子から表示名へのマッピング。
type Catalog map[string]string

// CatalogLoader はリモート状態サービスからラベルカタログを読み込むインターフェース。
type CatalogLoader interface {
	ListLabels(ctx context.Context) (Catalog, error)
}

// catalogCacheSize はキャッシュするカタログ数。アカウントごとに1エントリ。
const catalogCacheSize = 8

// CatalogCache はラベルカタログをTTL付きでキャッシュする。
// 読み込みに失敗した場合はエラーをログに記録し、空のカタログを返す（ラベルが表示されないだけ）。
type CatalogCache struct {
	loader  CatalogLoader
	logger  *slog.Logger
	account string
	cache   *expirable.LRU[string, Catalog]
}

// NewCatalogCache はCatalogCacheを生成する。accountはキャッシュキーに使うアカウント識別子。
// ttlが0以下の場合はデフォルト値10分を使用する。
func NewCatalogCache(loader CatalogLoader, logger *slog.Logger, account string, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if account == "" {
		account = "-"
	}
	return &CatalogCache{
		loader:  loader,
		logger:  logger,
		account: account,
		cache:   expirable.NewLRU[string, Catalog](catalogCacheSize, nil, ttl),
	}
}

// Get はラベルカタログを返す。キャッシュになければ読み込む。
func (c *CatalogCache) Get(ctx context.Context) Catalog {
	if cat, ok := c.cache.Get(c.account); ok {
		return cat
	}

	cat, err := c.loader.ListLabels(ctx)
	if err != nil {
		c.logger.Warn("ラベルカタログの読み込みに失敗しました",
			slog.String("account", c.account),
			slog.String("error", err.Error()),
		)
		return Catalog{}
	}
	if cat == nil {
		cat = Catalog{}
	}

	c.cache.Add(c.account, cat)
	return cat
}

// Invalidate はキャッシュ済みのカタログを破棄する。
func (c *CatalogCache) Invalidate() {
	c.cache.Remove(c.account)
}
