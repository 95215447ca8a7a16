// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/briefdesk/internal/model"
)

// ArticleRepository はコンテンツデータベースの記事テーブルへの読み取りインターフェース。
// 記事とAI生成フィールドは外部の取り込み処理が書き込み、本サービスは読み取りのみ行う。
type ArticleRepository interface {
	// ListProcessedBetween はprocessed_atがstartからend（両端含む）の記事を取得する。
	// 同一IDの記事が複数回返る可能性があり、重複排除は呼び出し側で行う。
	ListProcessedBetween(ctx context.Context, start, end time.Time) ([]model.Article, error)

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)
}
