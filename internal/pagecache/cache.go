// Package pagecache はブリーフィングページのスナップショットをRedisにキャッシュする。
// キャッシュは要求時に再生成され、暦日単位で明示的に無効化される。
package pagecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/briefdesk/internal/model"
)

// DefaultTTL はキャッシュエントリの有効期限。
const DefaultTTL = time.Hour

// keyPrefix はキャッシュキーの接頭辞。キーは keyPrefix + 暦日。
const keyPrefix = "briefdesk:page:"

// genKeyPrefix は暦日ごとの世代番号キーの接頭辞。無効化のたびに増える。
const genKeyPrefix = "briefdesk:gen:"

// genTTL は世代番号キーの有効期限。無効化されるたびに延長する。
const genTTL = 7 * 24 * time.Hour

// Page は1日分の描画済みスナップショット。
type Page struct {
	Day         string              `json:"day"`
	GeneratedAt time.Time           `json:"generated_at"`
	Articles    []model.Article     `json:"articles"`
	States      map[string][]string `json:"states,omitempty"`
}

// Cache はRedisを使ったページキャッシュ。
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache はCacheを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// NewCacheFromURL はredis://形式のURLからCacheを生成する。
func NewCacheFromURL(url string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLのパースに失敗しました: %w", err)
	}
	return NewCache(redis.NewClient(opts), ttl), nil
}

// Key はdayのキャッシュキーを返す。
func Key(day string) string {
	return keyPrefix + day
}

// GenKey はdayの世代番号キーを返す。
func GenKey(day string) string {
	return genKeyPrefix + day
}

// Generation はdayの現在の世代番号を返す。一度も無効化されていない場合は0。
// 再生成の開始前に読み、SetIfGenerationに渡す。
func (c *Cache) Generation(ctx context.Context, day string) (int64, error) {
	gen, err := c.client.Get(ctx, GenKey(day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ページキャッシュの世代番号の読み込みに失敗しました: %w", err)
	}
	return gen, nil
}

// Get はdayのページを返す。キャッシュにない場合は(nil, false, nil)。
func (c *Cache) Get(ctx context.Context, day string) (*Page, bool, error) {
	b, err := c.client.Get(ctx, Key(day)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ページキャッシュの読み込みに失敗しました: %w", err)
	}

	var p Page
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, false, fmt.Errorf("ページキャッシュのデコードに失敗しました: %w", err)
	}
	return &p, true, nil
}

// SetIfGeneration はdayの世代番号がgenのままの場合に限りページを保存する。
// 読み込み後に無効化されていた場合は保存せずfalseを返す。
func (c *Cache) SetIfGeneration(ctx context.Context, p *Page, gen int64) (bool, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("ページのエンコードに失敗しました: %w", err)
	}

	genKey := GenKey(p.Day)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if errors.Is(err, redis.Nil) {
			cur, err = 0, nil
		}
		if err != nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, Key(p.Day), b, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)

	if errors.Is(err, redis.TxFailedErr) {
		// WATCH中に世代番号が更新された
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ページキャッシュの書き込みに失敗しました: %w", err)
	}
	return stored, nil
}

// Invalidate はdayのページを削除し、世代番号を進める。存在しない場合も成功とする。
// 実行中の再生成は世代番号の変化を検出して保存をやめる。
func (c *Cache) Invalidate(ctx context.Context, day string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, Key(day))
		pipe.Incr(ctx, GenKey(day))
		pipe.Expire(ctx, GenKey(day), genTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ページキャッシュの削除に失敗しました: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close はRedis接続を閉じる。
func (c *Cache) Close() error {
	return c.client.Close()
}
