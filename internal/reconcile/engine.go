// Package reconcile はページスナップショット、クライアントローカルストア、
// リモート状態サービスの3つの情報源から記事の状態タグを照合する。
//
// 照合は2段階で行う。同期マージでスナップショットをストアに書き込み、
// その後バックグラウンドでライブ状態を取得してストアを上書きする。
// ライブ状態がスナップショット描画時の状態と食い違う場合はページキャッシュの無効化を1回だけ要求する。
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/briefdesk/internal/briefing"
	"github.com/hitoshi/briefdesk/internal/metrics"
	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/store"
	"github.com/hitoshi/briefdesk/internal/tags"
	"github.com/hitoshi/briefdesk/internal/timewindow"
)

const (
	// DefaultBatchSize はライブ状態取得1回あたりの記事数。
	DefaultBatchSize = 50
	// DefaultMaxInFlight は同時に実行するバッチ数の上限。
	DefaultMaxInFlight = 3
)

// StateFetcher はリモート状態サービスから複数記事のライブなタグ集合を取得する。
type StateFetcher interface {
	FetchStates(ctx context.Context, ids []string) (map[string][]string, error)
}

// InvalidationTrigger は暦日単位のページキャッシュ無効化を発火する。呼び出し元は完了を待たない。
type InvalidationTrigger interface {
	Trigger(day string)
}

// Config は照合エンジンの設定。
type Config struct {
	BatchSize   int
	MaxInFlight int
	// Sanitizer はスナップショット記事のAI生成フィールドに適用する。nilの場合は既定のポリシーを使う。
	Sanitizer briefing.NarrativeSanitizer
}

// Request は1回の照合パスの入力。
type Request struct {
	// Day は照合対象の暦日（YYYY-MM-DD）。無効化要求のキーになる。
	Day string
	// RenderedDay はスナップショットが描画された暦日。空の場合はDayと同じとみなす。
	// Dayと異なる場合、ライブ状態の適用は行うが不一致検出と無効化は行わない。
	RenderedDay string
	// Snapshot はページの初回描画に含まれていた記事。
	Snapshot []model.Article
	// SnapshotStates は描画時に明示的に計算された状態。nilは「提供されていない」を表す。
	SnapshotStates map[string][]string
}

// Verdict は1記事の照合結果。
type Verdict string

const (
	VerdictMatch    Verdict = "match"
	VerdictMismatch Verdict = "mismatch"
	// VerdictUnchecked は日付ガードにより比較しなかったことを表す。
	VerdictUnchecked Verdict = "unchecked"
)

// Record は1パスの中で1記事について観測したタグ集合と照合結果。永続化しない。
type Record struct {
	ID           string   `json:"id"`
	SnapshotTags []string `json:"snapshot_tags"`
	StoreTags    []string `json:"store_tags"`
	LiveTags     []string `json:"live_tags"`
	Verdict      Verdict  `json:"verdict"`
}

// PassResult はバックグラウンド確認の結果。
type PassResult struct {
	Records       []Record `json:"records"`
	Skipped       []string `json:"skipped"`
	FailedBatches int      `json:"failed_batches"`
	HasMismatch   bool     `json:"has_mismatch"`
	Invalidated   bool     `json:"invalidated"`
}

// Pass は実行中の照合パス。Articlesは同期マージ直後のストアの内容。
type Pass struct {
	ID       string
	Day      string
	Articles []model.Article

	done   chan struct{}
	result PassResult
}

// Done はバックグラウンド確認が完了すると閉じられるチャネルを返す。
func (p *Pass) Done() <-chan struct{} {
	return p.done
}

// Wait はバックグラウンド確認の完了を待って結果を返す。
func (p *Pass) Wait() PassResult {
	<-p.done
	return p.result
}

// Engine は状態照合エンジン。ストアの状態タグを書き換える唯一の経路。
type Engine struct {
	store       *store.Store
	fetcher     StateFetcher
	revalidator InvalidationTrigger
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	sanitizer   briefing.NarrativeSanitizer
	batchSize   int
	maxInFlight int

	wg sync.WaitGroup
}

// NewEngine はEngineを生成する。
func NewEngine(
	st *store.Store,
	fetcher StateFetcher,
	revalidator InvalidationTrigger,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
	cfg Config,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = briefing.NewNarrativeSanitizer()
	}
	return &Engine{
		store:       st,
		fetcher:     fetcher,
		revalidator: revalidator,
		logger:      logger,
		metrics:     mc,
		sanitizer:   cfg.Sanitizer,
		batchSize:   cfg.BatchSize,
		maxInFlight: cfg.MaxInFlight,
	}
}

// Reconcile はスナップショットをストアへ同期的にマージし、ライブ状態の確認をバックグラウンドで開始する。
// 戻った時点でストアはマージ済みで、読み出してよい。
// 日付が不正な場合はValidationErrorを返し、ストアには何も書き込まない。
func (e *Engine) Reconcile(ctx context.Context, req Request) (*Pass, error) {
	if _, err := timewindow.ParseDay(req.Day); err != nil {
		return nil, err
	}
	if req.RenderedDay != "" {
		if _, err := timewindow.ParseDay(req.RenderedDay); err != nil {
			return nil, err
		}
	}

	ids := e.mergeImmediate(req)

	pass := &Pass{
		ID:   uuid.NewString(),
		Day:  req.Day,
		done: make(chan struct{}),
	}
	pass.Articles = make([]model.Article, 0, len(ids))
	for _, id := range ids {
		if a, ok := e.store.Get(id); ok {
			pass.Articles = append(pass.Articles, a)
		}
	}

	bg := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(pass.done)
		pass.result = e.confirm(bg, pass.ID, req, ids)
	}()

	return pass, nil
}

// Wait は実行中のすべてのバックグラウンド確認の完了を待つ。
func (e *Engine) Wait() {
	e.wg.Wait()
}

// mergeImmediate はスナップショットの各記事のタグを決定してストアに書き込み、
// 重複を除いた記事IDを入力順で返す。
func (e *Engine) mergeImmediate(req Request) []string {
	merged := make([]model.Article, 0, len(req.Snapshot))
	ids := make([]string, 0, len(req.Snapshot))
	seen := make(map[string]struct{}, len(req.Snapshot))

	for _, a := range req.Snapshot {
		if a.ID == "" {
			continue
		}
		layers := Layers{Snapshot: Some(a.Tags)}
		if cur, ok := e.store.Get(a.ID); ok {
			layers.Store = Some(cur.Tags)
		}
		if req.SnapshotStates != nil {
			if st, ok := req.SnapshotStates[a.ID]; ok {
				layers.SnapshotState = Some(st)
			}
		}

		// スナップショットは利用者から送られてくるため、AI生成フィールドはストアに入れる前にサニタイズする
		a = briefing.SanitizeNarrative(e.sanitizer, a)
		a.Tags = Resolve(ImmediatePrecedence, layers)
		merged = append(merged, a)

		if _, dup := seen[a.ID]; !dup {
			seen[a.ID] = struct{}{}
			ids = append(ids, a.ID)
		}
	}

	e.store.UpsertMany(merged)
	return ids
}

// expectedTags は不一致判定の比較対象（描画時の状態）を返す。
// SnapshotStatesが提供されていない場合はスナップショット記事自身のタグと比較する。
// 提供されていてIDが含まれない場合は空集合と比較する。
func expectedTags(req Request, snapshot map[string][]string, id string) []string {
	if req.SnapshotStates == nil {
		return snapshot[id]
	}
	return req.SnapshotStates[id]
}

// confirm はライブ状態をバッチ単位で取得してストアへ適用し、不一致があれば無効化を発火する。
func (e *Engine) confirm(ctx context.Context, passID string, req Request, ids []string) PassResult {
	start := time.Now()
	logger := e.logger.With(slog.String("pass_id", passID), slog.String("day", req.Day))
	checkMismatch := req.RenderedDay == "" || req.RenderedDay == req.Day

	snapshot := make(map[string][]string, len(req.Snapshot))
	for _, a := range req.Snapshot {
		snapshot[a.ID] = a.Tags
	}

	var result PassResult
	storeTags := make(map[string][]string, len(ids))
	var targets []string
	for _, id := range ids {
		cur, ok := e.store.Get(id)
		if !ok {
			continue
		}
		if tags.HasSystemState(cur.Tags) {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		storeTags[id] = cur.Tags
		targets = append(targets, id)
	}

	var batches [][]string
	for i := 0; i < len(targets); i += e.batchSize {
		end := min(i+e.batchSize, len(targets))
		batches = append(batches, targets[i:end])
	}

	records := make([][]Record, len(batches))
	var hasMismatch atomic.Bool
	var failed, mismatches atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxInFlight)
	for bi, batch := range batches {
		g.Go(func() error {
			live, err := e.fetcher.FetchStates(gctx, batch)
			if err != nil {
				failed.Add(1)
				e.metrics.RecordBatchFailure()
				logger.Warn("ライブ状態の取得に失敗しました。このバッチはマージ済みの値のままにします",
					slog.Int("batch", bi),
					slog.Int("batch_size", len(batch)),
					slog.String("error", err.Error()),
				)
				return nil
			}

			updates := make(map[string][]string, len(batch))
			recs := make([]Record, 0, len(batch))
			for _, id := range batch {
				liveTags, ok := live[id]
				if !ok || liveTags == nil {
					liveTags = []string{}
				}
				updates[id] = liveTags

				rec := Record{
					ID:           id,
					SnapshotTags: tags.Clone(expectedTags(req, snapshot, id)),
					StoreTags:    tags.Clone(storeTags[id]),
					LiveTags:     tags.Clone(liveTags),
					Verdict:      VerdictUnchecked,
				}
				if checkMismatch {
					if tags.Equal(liveTags, rec.SnapshotTags) {
						rec.Verdict = VerdictMatch
					} else {
						rec.Verdict = VerdictMismatch
						hasMismatch.Store(true)
						mismatches.Add(1)
					}
				}
				recs = append(recs, rec)
			}

			e.store.UpdateTagsBatch(updates)
			records[bi] = recs
			return nil
		})
	}
	_ = g.Wait()

	for _, recs := range records {
		result.Records = append(result.Records, recs...)
	}
	result.FailedBatches = int(failed.Load())
	result.HasMismatch = hasMismatch.Load()

	if result.HasMismatch {
		e.metrics.RecordMismatch(int(mismatches.Load()))
		if e.revalidator != nil {
			e.revalidator.Trigger(req.Day)
			result.Invalidated = true
		}
	}
	e.metrics.RecordReconcilePass(time.Since(start), result.HasMismatch)

	logger.Info("状態の照合が完了しました",
		slog.Int("articles", len(ids)),
		slog.Int("fetched", len(targets)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("batches", len(batches)),
		slog.Int("failed_batches", result.FailedBatches),
		slog.Int("mismatches", int(mismatches.Load())),
		slog.Bool("invalidated", result.Invalidated),
		slog.Bool("date_guard_passed", checkMismatch),
	)

	return result
}
