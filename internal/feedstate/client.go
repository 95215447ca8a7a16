// Package feedstate はリモート状態サービス（既読・スター・ラベルを管理する外部サービス）の
// HTTPクライアントを提供する。
package feedstate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/tags"
)

// MaxIDsPerRequest は状態一括取得1リクエストあたりの最大ID数。
const MaxIDsPerRequest = 50

// maxErrorBody はエラー応答から読み取る最大バイト数。
const maxErrorBody = 64 << 10

// Client はリモート状態サービスのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	token      string
}

// NewClient はClientを生成する。baseURLの末尾のスラッシュは無視する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, token string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

type statesRequest struct {
	IDs []string `json:"ids"`
}

type stateItem struct {
	ID         string   `json:"id"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}

type statesResponse struct {
	Items []stateItem `json:"items"`
}

type labelEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type labelsResponse struct {
	Labels []labelEntry `json:"labels"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// FetchStates は複数記事のライブなタグ集合を一括取得する。IDは最大50件まで。
// 応答に含まれないIDは空のタグ集合として扱う。
func (c *Client) FetchStates(ctx context.Context, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return make(map[string][]string), nil
	}
	if len(ids) > MaxIDsPerRequest {
		return nil, fmt.Errorf("IDの数が上限を超えています: %d > %d", len(ids), MaxIDsPerRequest)
	}

	var resp statesResponse
	if err := c.do(ctx, http.MethodPost, "/states", statesRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}

	states := make(map[string][]string, len(ids))
	for _, item := range resp.Items {
		states[item.ID] = tags.FromRemote(item.Categories, item.Tags)
	}
	for _, id := range ids {
		if _, ok := states[id]; !ok {
			states[id] = []string{}
		}
	}
	return states, nil
}

// SetStarred は記事のスター状態を設定する。
func (c *Client) SetStarred(ctx context.Context, id string, starred bool) error {
	body := map[string]bool{"starred": starred}
	return c.do(ctx, http.MethodPost, itemPath(id, "star"), body, nil)
}

// SetRead は記事の既読状態を設定する。
func (c *Client) SetRead(ctx context.Context, id string, read bool) error {
	body := map[string]bool{"read": read}
	return c.do(ctx, http.MethodPost, itemPath(id, "read"), body, nil)
}

// EditLabels は記事のユーザーラベルを追加・削除する。
// add、removeはラベル識別子または名前のどちらでもよく、名前に変換して送信する。
func (c *Client) EditLabels(ctx context.Context, id string, add, remove []string) error {
	body := struct {
		Add    []string `json:"add"`
		Remove []string `json:"remove"`
	}{
		Add:    labelNames(add),
		Remove: labelNames(remove),
	}
	return c.do(ctx, http.MethodPost, itemPath(id, "labels"), body, nil)
}

// ListLabels はユーザーラベルのカタログを取得する。キーはラベル識別子。
func (c *Client) ListLabels(ctx context.Context) (tags.Catalog, error) {
	var resp labelsResponse
	if err := c.do(ctx, http.MethodGet, "/labels", nil, &resp); err != nil {
		return nil, err
	}

	catalog := make(tags.Catalog, len(resp.Labels))
	for _, l := range resp.Labels {
		id := l.ID
		if id == "" {
			id = tags.NormalizeLabel(l.Name)
		}
		if id == "" {
			continue
		}
		name := l.Name
		if name == "" {
			name = tags.LabelName(id)
		}
		catalog[id] = name
	}
	return catalog, nil
}

// do はJSONリクエストを送信し、2xx応答をoutにデコードする。
// 通信失敗・非2xx応答はTransportFailureとして返す。
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Briefdesk/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("リモート状態サービスの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return model.NewTransportFailureError("リモート状態サービスの応答がタイムアウトしました")
		}
		return model.NewTransportFailureError(fmt.Sprintf("リモート状態サービスに接続できません: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp)
		c.logger.Error("リモート状態サービスがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", msg),
		)
		return model.NewTransportFailureError(msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error("リモート状態サービスのレスポンスのパースに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewTransportFailureError(fmt.Sprintf("レスポンスJSONのパースに失敗しました: %v", err))
	}
	return nil
}

// readErrorMessage はエラー応答のmessageフィールドを返す。
// JSONでない場合やmessageがない場合はステータス行から組み立てる。
func readErrorMessage(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e errorResponse
	if err := json.Unmarshal(b, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("リモート状態サービスがステータス %d を返しました", resp.StatusCode)
}

func itemPath(id, action string) string {
	return "/items/" + url.PathEscape(id) + "/" + action
}

func labelNames(list []string) []string {
	out := make([]string, 0, len(list))
	for _, l := range list {
		if name := tags.LabelName(strings.TrimSpace(l)); name != "" {
			out = append(out, name)
		}
	}
	return out
}
