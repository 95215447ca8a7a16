package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/lib/pq"
)

// articleColumns は記事取得で使うカラム一覧。
const articleColumns = `id, title, url, source, published_at, processed_at,
	        importance, score, tags, summary, highlights, critiques, market_take`

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// ListProcessedBetween はprocessed_atがstartからend（両端含む）の記事を取得する。
// processed_atがNULLの記事はpublished_atで判定する。
func (r *PostgresArticleRepo) ListProcessedBetween(ctx context.Context, start, end time.Time) ([]model.Article, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+articleColumns+`
		 FROM articles
		 WHERE COALESCE(processed_at, published_at) BETWEEN $1 AND $2
		 ORDER BY COALESCE(processed_at, published_at) DESC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("期間指定での記事取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("記事のスキャンに失敗しました: %w", err)
		}
		articles = append(articles, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事の読み取り中にエラーが発生しました: %w", err)
	}

	return articles, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`,
		id,
	)

	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return a, nil
}

// scanArticle は1行分の記事をスキャンする。
func scanArticle(s rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var title, url, source, importance sql.NullString
	var summary, highlights, critiques, marketTake sql.NullString
	var publishedAt, processedAt sql.NullTime
	var score sql.NullFloat64
	var tagList pq.StringArray

	err := s.Scan(
		&a.ID, &title, &url, &source, &publishedAt, &processedAt,
		&importance, &score, &tagList, &summary, &highlights, &critiques, &marketTake,
	)
	if err != nil {
		return nil, err
	}

	a.Title = nullStringValue(title)
	a.URL = nullStringValue(url)
	a.Source = nullStringValue(source)
	a.Importance = model.Importance(nullStringValue(importance))
	a.Summary = nullStringValue(summary)
	a.Highlights = nullStringValue(highlights)
	a.Critiques = nullStringValue(critiques)
	a.MarketTake = nullStringValue(marketTake)
	if score.Valid {
		a.Score = score.Float64
	}
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		a.PublishedAt = &t
	}
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		a.ProcessedAt = &t
	}
	a.Tags = []string(tagList)
	if a.Tags == nil {
		a.Tags = []string{}
	}

	return a, nil
}

// nullStringValue はsql.NullStringから文字列値を取り出す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
