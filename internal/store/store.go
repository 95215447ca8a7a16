// Package store は照合済み記事状態を保持するローカルストアを提供する。
// UIに見える記事状態の唯一の書き込み先であり、変更はすべて名前付きの操作
// （UpsertMany、MarkRead、UpdateTags、UpdateTagsBatch）を経由する。
package store

import (
	"sync"

	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/tags"
)

// Store はメモリ上の記事ストア。複数のgoroutineから安全に利用できる。
// 書き込みは1回ごとにロック内で完結し、同一IDへの書き込みは後勝ちになる。
type Store struct {
	mu       sync.RWMutex
	articles map[string]model.Article
	order    []string
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		articles: make(map[string]model.Article),
	}
}

// Get は指定IDの記事のコピーを返す。存在しない場合はfalse。
func (s *Store) Get(id string) (model.Article, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.articles[id]
	if !ok {
		return model.Article{}, false
	}
	return clone(a), true
}

// GetAll は全記事のコピーを初回登録順で返す。
func (s *Store) GetAll() []model.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Article, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.articles[id]))
	}
	return out
}

// Len はストア内の記事数を返す。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}

// UpsertMany は記事をまとめてマージする。
// 既存エントリに対しては入力側のゼロ値でないフィールドで浅く上書きし、
// Tagsは入力がnilでなければ全置換する。IDが空の記事は無視する。
func (s *Store) UpsertMany(articles []model.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range articles {
		if in.ID == "" {
			continue
		}
		existing, ok := s.articles[in.ID]
		if !ok {
			s.articles[in.ID] = clone(in)
			s.order = append(s.order, in.ID)
			continue
		}
		s.articles[in.ID] = merge(existing, in)
	}
}

// MarkRead は指定IDの記事に既読タグを付与する。
// すでに既読の記事とストアにない記事は何もしない。変更した件数を返す。
func (s *Store) MarkRead(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, id := range ids {
		a, ok := s.articles[id]
		if !ok || tags.Contains(a.Tags, tags.Read) {
			continue
		}
		a.Tags = tags.Apply(a.Tags, []string{tags.Read}, nil)
		s.articles[id] = a
		changed++
	}
	return changed
}

// UpdateTags は1件の記事のタグを置換する。ストアにない場合はfalseを返す。
func (s *Store) UpdateTags(id string, t []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.articles[id]
	if !ok {
		return false
	}
	a.Tags = nonNil(t)
	s.articles[id] = a
	return true
}

// UpdateTagsBatch は複数記事のタグを1回のロックでまとめて置換する。
// ストアにないIDは無視し、更新した件数を返す。
func (s *Store) UpdateTagsBatch(updates map[string][]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range updates {
		a, ok := s.articles[id]
		if !ok {
			continue
		}
		a.Tags = nonNil(t)
		s.articles[id] = a
		n++
	}
	return n
}

// merge はexistingにinのゼロ値でないフィールドを重ねた結果を返す。
func merge(existing, in model.Article) model.Article {
	out := existing
	if in.Title != "" {
		out.Title = in.Title
	}
	if in.URL != "" {
		out.URL = in.URL
	}
	if in.Source != "" {
		out.Source = in.Source
	}
	if in.PublishedAt != nil {
		t := *in.PublishedAt
		out.PublishedAt = &t
	}
	if in.ProcessedAt != nil {
		t := *in.ProcessedAt
		out.ProcessedAt = &t
	}
	if in.Importance != "" {
		out.Importance = in.Importance
	}
	if in.Score != 0 {
		out.Score = in.Score
	}
	if in.Tags != nil {
		out.Tags = tags.Clone(in.Tags)
	}
	if in.Summary != "" {
		out.Summary = in.Summary
	}
	if in.Highlights != "" {
		out.Highlights = in.Highlights
	}
	if in.Critiques != "" {
		out.Critiques = in.Critiques
	}
	if in.MarketTake != "" {
		out.MarketTake = in.MarketTake
	}
	return out
}

func clone(a model.Article) model.Article {
	a.Tags = tags.Clone(a.Tags)
	if a.PublishedAt != nil {
		t := *a.PublishedAt
		a.PublishedAt = &t
	}
	if a.ProcessedAt != nil {
		t := *a.ProcessedAt
		a.ProcessedAt = &t
	}
	return a
}

func nonNil(t []string) []string {
	if t == nil {
		return []string{}
	}
	return tags.Clone(t)
}
