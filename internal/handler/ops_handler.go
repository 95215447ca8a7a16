package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/revalidate"
	"github.com/hitoshi/briefdesk/internal/timewindow"
)

// healthCheckTimeout はヘルスチェック1件あたりの上限。
const healthCheckTimeout = 3 * time.Second

// HealthCheck は依存先の疎通を確認する関数。
type HealthCheck func(ctx context.Context) error

// PageInvalidator は暦日単位でページキャッシュを破棄するインターフェース。
type PageInvalidator interface {
	Invalidate(ctx context.Context, day string) error
}

// OpsHandler はヘルスチェックとページキャッシュ無効化のHTTPハンドラー。
type OpsHandler struct {
	checks      map[string]HealthCheck
	invalidator PageInvalidator
	secret      string
	logger      *slog.Logger
}

// NewOpsHandler はOpsHandlerを生成する。secretが空の場合は無効化要求をすべて拒否する。
func NewOpsHandler(checks map[string]HealthCheck, invalidator PageInvalidator, secret string, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		checks:      checks,
		invalidator: invalidator,
		secret:      secret,
		logger:      logger,
	}
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// revalidateRequest はページキャッシュ無効化リクエストのボディ。
type revalidateRequest struct {
	Day string `json:"day"`
}

// revalidateResponse はページキャッシュ無効化のレスポンス。
type revalidateResponse struct {
	Revalidated bool   `json:"revalidated"`
	Day         string `json:"day"`
}

// Health はGET /health を処理する。1つでも失敗した依存先があれば503を返す。
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			h.logger.Warn("ヘルスチェックに失敗しました",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

// Revalidate はPOST /api/revalidate を処理する。
// 共有シークレットのヘッダーを検証し、指定された暦日のページキャッシュを破棄する。
func (h *OpsHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	given := r.Header.Get(revalidate.SecretHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}

	var req revalidateRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if _, err := timewindow.ParseDay(req.Day); err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.invalidator.Invalidate(r.Context(), req.Day); err != nil {
		handleServiceError(w, err)
		return
	}

	h.logger.Info("ページキャッシュを無効化しました", slog.String("day", req.Day))
	writeJSON(w, http.StatusOK, revalidateResponse{Revalidated: true, Day: req.Day})
}
