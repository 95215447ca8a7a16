// Package revalidate はページキャッシュの無効化要求を発火する。
// 無効化は発火したら待たない（fire-and-forget）。失敗はログに記録するだけでリトライしない。
package revalidate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/briefdesk/internal/metrics"
)

// DefaultTimeout は1回の無効化要求の上限時間。
const DefaultTimeout = 5 * time.Second

// SecretHeader は無効化エンドポイントの共有シークレットを運ぶヘッダ名。
const SecretHeader = "X-Revalidate-Secret"

// Invalidator は暦日単位でページキャッシュを無効化する。
type Invalidator interface {
	Invalidate(ctx context.Context, day string) error
}

// Revalidator はInvalidatorを非同期・リトライなしで呼び出す。
type Revalidator struct {
	invalidator Invalidator
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	timeout     time.Duration
	wg          sync.WaitGroup
}

// New はRevalidatorを生成する。invalidatorがnilの場合、Triggerは何もしない。
func New(invalidator Invalidator, logger *slog.Logger, mc metrics.MetricsCollector, timeout time.Duration) *Revalidator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Revalidator{
		invalidator: invalidator,
		logger:      logger,
		metrics:     mc,
		timeout:     timeout,
	}
}

// Trigger はdayのページキャッシュ無効化をバックグラウンドで要求する。
// 呼び出し元は結果を待たない。
func (r *Revalidator) Trigger(day string) {
	if r == nil || r.invalidator == nil || day == "" {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.invalidator.Invalidate(ctx, day); err != nil {
			r.metrics.RecordInvalidation(false)
			r.logger.Warn("ページキャッシュの無効化に失敗しました",
				slog.String("day", day),
				slog.String("error", err.Error()),
			)
			return
		}
		r.metrics.RecordInvalidation(true)
		r.logger.Info("ページキャッシュを無効化しました", slog.String("day", day))
	}()
}

// Wait は発火済みの無効化要求の完了を待つ。シャットダウン時とテストで使う。
func (r *Revalidator) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// HTTPInvalidator はページキャッシュの無効化エンドポイントへPOSTする。
type HTTPInvalidator struct {
	httpClient *http.Client
	url        string
	secret     string
}

// NewHTTPInvalidator はHTTPInvalidatorを生成する。
func NewHTTPInvalidator(httpClient *http.Client, url, secret string) *HTTPInvalidator {
	return &HTTPInvalidator{httpClient: httpClient, url: url, secret: secret}
}

// Invalidate はdayを本文に含めて無効化エンドポイントを呼び出す。2xx以外はエラー。
func (h *HTTPInvalidator) Invalidate(ctx context.Context, day string) error {
	body, err := json.Marshal(map[string]string{"day": day})
	if err != nil {
		return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.secret != "" {
		req.Header.Set(SecretHeader, h.secret)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("無効化エンドポイントの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("無効化エンドポイントがステータス %d を返しました", resp.StatusCode)
	}
	return nil
}

// Multi は複数のInvalidatorを順に呼び出す。いずれかが失敗しても残りは呼び出し、最初のエラーを返す。
type Multi []Invalidator

// Invalidate はすべてのInvalidatorを呼び出す。
func (m Multi) Invalidate(ctx context.Context, day string) error {
	var first error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		if err := inv.Invalidate(ctx, day); err != nil && first == nil {
			first = err
		}
	}
	return first
}
