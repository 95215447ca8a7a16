package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/store"
	"github.com/hitoshi/briefdesk/internal/tags"
)

// --- モック定義 ---

type mockFetcher struct {
	fetchFn func(ctx context.Context, ids []string) (map[string][]string, error)

	mu    sync.Mutex
	calls [][]string
}

func (m *mockFetcher) FetchStates(ctx context.Context, ids []string) (map[string][]string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), ids...))
	m.mu.Unlock()
	if m.fetchFn != nil {
		return m.fetchFn(ctx, ids)
	}
	return map[string][]string{}, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockTrigger struct {
	mu   sync.Mutex
	days []string
}

func (m *mockTrigger) Trigger(day string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days = append(m.days, day)
}

func (m *mockTrigger) triggered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.days...)
}

func liveFrom(states map[string][]string) func(ctx context.Context, ids []string) (map[string][]string, error) {
	return func(ctx context.Context, ids []string) (map[string][]string, error) {
		out := make(map[string][]string, len(ids))
		for _, id := range ids {
			if st, ok := states[id]; ok {
				out[id] = st
			}
		}
		return out, nil
	}
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestEngine(st *store.Store, f *mockFetcher, tr *mockTrigger, buf *bytes.Buffer) *Engine {
	return NewEngine(st, f, tr, newTestLogger(buf), nil, Config{})
}

func tagsOf(t *testing.T, st *store.Store, id string) []string {
	t.Helper()
	a, ok := st.Get(id)
	if !ok {
		t.Fatalf("ストアに %s がない", id)
	}
	return a.Tags
}

// --- テスト ---

func TestReconcile_InvalidDay(t *testing.T) {
	st := store.New()
	var buf bytes.Buffer
	e := newTestEngine(st, &mockFetcher{}, &mockTrigger{}, &buf)

	_, err := e.Reconcile(context.Background(), Request{Day: "10-03-2024", Snapshot: []model.Article{{ID: "a"}}})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Fatalf("error = %v, want VALIDATION_ERROR", err)
	}
	if st.Len() != 0 {
		t.Errorf("Len() = %d, want 0", st.Len())
	}
}

func TestReconcile_StoreWinsOverSnapshotInImmediateMerge(t *testing.T) {
	st := store.New()
	st.UpsertMany([]model.Article{{ID: "X", Tags: []string{tags.Starred}}})

	block := make(chan struct{})
	f := &mockFetcher{fetchFn: func(ctx context.Context, ids []string) (map[string][]string, error) {
		<-block
		return map[string][]string{}, nil
	}}
	var buf bytes.Buffer
	e := newTestEngine(st, f, &mockTrigger{}, &buf)

	pass, err := e.Reconcile(context.Background(), Request{
		Day:      "2024-03-10",
		Snapshot: []model.Article{{ID: "X", Title: "新しいタイトル", Tags: []string{}}},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	got, _ := st.Get("X")
	if !reflect.DeepEqual(got.Tags, []string{tags.Starred}) {
		t.Errorf("tags = %v, want [starred]", got.Tags)
	}
	if got.Title != "新しいタイトル" {
		t.Errorf("Title = %q, スナップショットの内容がマージされていない", got.Title)
	}
	if len(pass.Articles) != 1 || pass.Articles[0].ID != "X" {
		t.Errorf("Articles = %v", pass.Articles)
	}

	close(block)
	pass.Wait()
}

func TestReconcile_SnapshotStatesWinOverSnapshotTags(t *testing.T) {
	st := store.New()
	var buf bytes.Buffer
	f := &mockFetcher{fetchFn: func(ctx context.Context, ids []string) (map[string][]string, error) {
		return nil, errors.New("offline")
	}}
	e := newTestEngine(st, f, &mockTrigger{}, &buf)

	pass, err := e.Reconcile(context.Background(), Request{
		Day:            "2024-03-10",
		Snapshot:       []model.Article{{ID: "a", Tags: []string{"stale"}}, {ID: "b", Tags: []string{"own"}}},
		SnapshotStates: map[string][]string{"a": {"user/-/label/Go"}},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	pass.Wait()

	if got := tagsOf(t, st, "a"); !reflect.DeepEqual(got, []string{"user/-/label/Go"}) {
		t.Errorf("a tags = %v, want [user/-/label/Go]", got)
	}
	if got := tagsOf(t, st, "b"); !reflect.DeepEqual(got, []string{"own"}) {
		t.Errorf("b tags = %v, want [own]", got)
	}
}

// 利用者から送られたスナップショットのAI生成フィールドはサニタイズしてからストアへ書き込む。
func TestReconcile_SanitizesSnapshotNarrative(t *testing.T) {
	st := store.New()
	var buf bytes.Buffer
	e := newTestEngine(st, &mockFetcher{}, &mockTrigger{}, &buf)

	pass, err := e.Reconcile(context.Background(), Request{
		Day: "2024-03-10",
		Snapshot: []model.Article{{
			ID:         "a",
			Tags:       []string{},
			Summary:    `<p>ok</p><script>alert(1)</script>`,
			MarketTake: `<img src="https://x/y.png" onerror="alert(1)">`,
		}},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	pass.Wait()

	a, _ := st.Get("a")
	if a.Summary != "<p>ok</p>" {
		t.Errorf("Summary = %q, want %q", a.Summary, "<p>ok</p>")
	}
	if a.MarketTake != "" {
		t.Errorf("MarketTake = %q, want empty", a.MarketTake)
	}
	if pass.Articles[0].Summary != "<p>ok</p>" {
		t.Errorf("pass Summary = %q, want sanitized", pass.Articles[0].Summary)
	}
}

func TestReconcile_LiveReadAgainstEmptySnapshotState(t *testing.T) {
	st := store.New()
	f := &mockFetcher{fetchFn: liveFrom(map[string][]string{"Y": {tags.Read}})}
	tr := &mockTrigger{}
	var buf bytes.Buffer
	e := newTestEngine(st, f, tr, &buf)

	pass, err := e.Reconcile(context.Background(), Request{
		Day:            "2024-03-10",
		Snapshot:       []model.Article{{ID: "Y"}},
		SnapshotStates: map[string][]string{"Y": {}},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	res := pass.Wait()

	if !res.HasMismatch {
		t.Error("HasMismatch = false, want true")
	}
	if got := tagsOf(t, st, "Y"); !reflect.DeepEqual(got, []string{tags.Read}) {
		t.Errorf("Y tags = %v, want [read]", got)
	}
	if got := tr.triggered(); !reflect.DeepEqual(got, []string{"2024-03-10"}) {
		t.Errorf("無効化 = %v, want [2024-03-10]", got)
	}
	if len(res.Records) != 1 || res.Records[0].Verdict != VerdictMismatch {
		t.Errorf("Records = %+v", res.Records)
	}
}

func TestReconcile_OneInvalidationPerPassForManyMismatches(t *testing.T) {
	st := store.New()
	live := map[string][]string{}
	var snapshot []model.Article
	for i := 0; i < 120; i++ {
		id := fmt.Sprintf("id-%03d", i)
		snapshot = append(snapshot, model.Article{ID: id, Tags: []string{}})
		live[id] = []string{"user/-/label/Go"}
	}
	f := &mockFetcher{fetchFn: liveFrom(live)}
	tr := &mockTrigger{}
	var buf bytes.Buffer
	e := newTestEngine(st, f, tr, &buf)

	pass, _ := e.Reconcile(context.Background(), Request{Day: "2024-03-10", Snapshot: snapshot})
	res := pass.Wait()

	if got := f.callCount(); got != 3 {
		t.Errorf("バッチ数 = %d, want 3", got)
	}
	if got := len(tr.triggered()); got != 1 {
		t.Errorf("無効化回数 = %d, want 1", got)
	}
	if len(res.Records) != 120 {
		t.Errorf("len(Records) = %d, want 120", len(res.Records))
	}
	if !res.Invalidated {
		t.Error("Invalidated = false, want true")
	}
}

func TestReconcile_NoMismatchNoInvalidation(t *testing.T) {
	st := store.New()
	f := &mockFetcher{fetchFn: liveFrom(map[string][]string{"a": {"user/-/label/Go"}})}
	tr := &mockTrigger{}
	var buf bytes.Buffer
	e := newTestEngine(st, f, tr, &buf)

	pass, _ := e.Reconcile(context.Background(), Request{
		Day:            "2024-03-10",
		Snapshot:       []model.Article{{ID: "a"}, {ID: "b"}},
		SnapshotStates: map[string][]string{"a": {"user/-/label/Go"}},
	})
	res := pass.Wait()

	if res.HasMismatch {
		t.Errorf("HasMismatch = true, records = %+v", res.Records)
	}
	if len(tr.triggered()) != 0 {
		t.Error("不一致がないのに無効化が発火した")
	}
}

func TestReconcile_BoundedConcurrency(t *testing.T) {
	st := store.New()
	var inFlight, peak atomic.Int32
	f := &mockFetcher{fetchFn: func(ctx context.Context, ids []string) (map[string][]string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return map[string][]string{}, nil
	}}
	var buf bytes.Buffer
	e := NewEngine(st, f, &mockTrigger{}, newTestLogger(&buf), nil, Config{BatchSize: 2, MaxInFlight: 3})

	var snapshot []model.Article
	for i := 0; i < 20; i++ {
		snapshot = append(snapshot, model.Article{ID: fmt.Sprintf("id-%02d", i)})
	}
	pass, _ := e.Reconcile(context.Background(), Request{Day: "2024-03-10", Snapshot: snapshot})
	pass.Wait()

	if got := f.callCount(); got != 10 {
		t.Errorf("バッチ数 = %d, want 10", got)
	}
	if got := peak.Load(); got > 3 {
		t.Errorf("同時実行数の最大 = %d, want <= 3", got)
	}
}

func TestReconcile_FailedBatchKeepsMergedValue(t *testing.T) {
	st := store.New()
	f := &mockFetcher{fetchFn: func(ctx context.Context, ids []string) (map[string][]string, error) {
		if ids[0] == "a" {
			return nil, model.NewTransportFailureError("unavailable")
		}
		out := map[string][]string{}
		for _, id := range ids {
			out[id] = []string{"user/-/label/Live"}
		}
		return out, nil
	}}
	tr := &mockTrigger{}
	var buf bytes.Buffer
	e := NewEngine(st, f, tr, newTestLogger(&buf), nil, Config{BatchSize: 1})

	pass, err := e.Reconcile(context.Background(), Request{
		Day:      "2024-03-10",
		Snapshot: []model.Article{{ID: "a", Tags: []string{"merged"}}, {ID: "b", Tags: []string{}}},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	res := pass.Wait()

	if res.FailedBatches != 1 {
		t.Errorf("FailedBatches = %d, want 1", res.FailedBatches)
	}
	if got := tagsOf(t, st, "a"); !reflect.DeepEqual(got, []string{"merged"}) {
		t.Errorf("a tags = %v, want [merged]", got)
	}
	if got := tagsOf(t, st, "b"); !reflect.DeepEqual(got, []string{"user/-/label/Live"}) {
		t.Errorf("b tags = %v, want [user/-/label/Live]", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("ライブ状態の取得に失敗しました")) {
		t.Errorf("失敗ログが出力されていない: %s", buf.String())
	}
}

func TestReconcile_SkipsItemsWithSystemStateTags(t *testing.T) {
	st := store.New()
	st.UpsertMany([]model.Article{{ID: "starred", Tags: []string{tags.Starred}}})
	f := &mockFetcher{fetchFn: liveFrom(map[string][]string{"starred": {}, "plain": {}})}
	var buf bytes.Buffer
	e := newTestEngine(st, f, &mockTrigger{}, &buf)

	pass, _ := e.Reconcile(context.Background(), Request{
		Day:      "2024-03-10",
		Snapshot: []model.Article{{ID: "starred"}, {ID: "plain"}},
	})
	res := pass.Wait()

	if !reflect.DeepEqual(res.Skipped, []string{"starred"}) {
		t.Errorf("Skipped = %v, want [starred]", res.Skipped)
	}
	if f.callCount() != 1 || !reflect.DeepEqual(f.calls[0], []string{"plain"}) {
		t.Errorf("calls = %v, want [[plain]]", f.calls)
	}
	if got := tagsOf(t, st, "starred"); !reflect.DeepEqual(got, []string{tags.Starred}) {
		t.Errorf("starred tags = %v, スキップした記事が上書きされた", got)
	}
}

func TestReconcile_DateGuardSkipsMismatchButAppliesLive(t *testing.T) {
	st := store.New()
	f := &mockFetcher{fetchFn: liveFrom(map[string][]string{"a": {tags.Read}})}
	tr := &mockTrigger{}
	var buf bytes.Buffer
	e := newTestEngine(st, f, tr, &buf)

	pass, _ := e.Reconcile(context.Background(), Request{
		Day:            "2024-03-10",
		RenderedDay:    "2024-03-09",
		Snapshot:       []model.Article{{ID: "a"}},
		SnapshotStates: map[string][]string{"a": {}},
	})
	res := pass.Wait()

	if res.HasMismatch {
		t.Error("HasMismatch = true, want false")
	}
	if len(tr.triggered()) != 0 {
		t.Error("日付が異なるのに無効化が発火した")
	}
	if got := tagsOf(t, st, "a"); !reflect.DeepEqual(got, []string{tags.Read}) {
		t.Errorf("a tags = %v, want [read]", got)
	}
	if res.Records[0].Verdict != VerdictUnchecked {
		t.Errorf("Verdict = %q, want unchecked", res.Records[0].Verdict)
	}
}

func TestReconcile_MissingSnapshotStatesComparesSnapshotTags(t *testing.T) {
	st := store.New()
	f := &mockFetcher{fetchFn: liveFrom(map[string][]string{"a": {"user/-/label/Go"}})}
	tr := &mockTrigger{}
	var buf bytes.Buffer
	e := newTestEngine(st, f, tr, &buf)

	pass, _ := e.Reconcile(context.Background(), Request{
		Day:      "2024-03-10",
		Snapshot: []model.Article{{ID: "a", Tags: []string{"user/-/label/Go"}}},
	})
	res := pass.Wait()

	if res.HasMismatch {
		t.Errorf("HasMismatch = true, records = %+v", res.Records)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	st := store.New()
	f := &mockFetcher{fetchFn: liveFrom(map[string][]string{
		"a": {tags.Read},
		"b": {"user/-/label/Go"},
	})}
	var buf bytes.Buffer
	e := newTestEngine(st, f, &mockTrigger{}, &buf)

	req := Request{
		Day:            "2024-03-10",
		Snapshot:       []model.Article{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}, {ID: "c", Title: "C"}},
		SnapshotStates: map[string][]string{"a": {}, "b": {"user/-/label/Go"}},
	}

	p1, _ := e.Reconcile(context.Background(), req)
	p1.Wait()
	first := st.GetAll()

	p2, _ := e.Reconcile(context.Background(), req)
	p2.Wait()
	second := st.GetAll()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("2回目の照合でストアが変化した\nfirst  = %+v\nsecond = %+v", first, second)
	}
}

func TestEngine_WaitBlocksUntilPassesComplete(t *testing.T) {
	st := store.New()
	var done atomic.Bool
	f := &mockFetcher{fetchFn: func(ctx context.Context, ids []string) (map[string][]string, error) {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
		return map[string][]string{}, nil
	}}
	var buf bytes.Buffer
	e := newTestEngine(st, f, &mockTrigger{}, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := e.Reconcile(ctx, Request{Day: "2024-03-10", Snapshot: []model.Article{{ID: "a"}}}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	cancel()
	e.Wait()

	if !done.Load() {
		t.Error("呼び出し元のキャンセル後にバックグラウンド確認が完了していない")
	}
}
