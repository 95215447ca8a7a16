// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, state, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeUpstreamTimeout        = "UPSTREAM_TIMEOUT"
	ErrCodeTransportFailure       = "TRANSPORT_FAILURE"
	ErrCodeArticleNotFoundInStore = "ARTICLE_NOT_FOUND_IN_STORE"
	ErrCodeArticleNotFound        = "ARTICLE_NOT_FOUND"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewValidationError は入力値の検証エラーを生成する。同期的に返し、リトライしない。
func NewValidationError(reason string) *APIError {
	return newValidationError(reason, "入力内容を確認してから再度お試しください。")
}

// NewDateValidationError は日付・時間帯の検証エラーを生成する。
func NewDateValidationError(reason string) *APIError {
	return newValidationError(reason, "日付はYYYY-MM-DD形式、時間帯はmorning・afternoon・eveningのいずれかで指定してください。")
}

// NewTagValidationError は状態変更に指定したタグの検証エラーを生成する。
func NewTagValidationError(reason string) *APIError {
	return newValidationError(reason, "スター・既読の状態タグか、user/-/label/<名前> 形式のラベルを指定してください。")
}

func newValidationError(reason, action string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   action,
	}
}

// NewUpstreamTimeoutError はコンテンツデータベースの問い合わせがタイムアウトしたことを表す。
// アグリゲータは呼び出し元へ返さず、ログとフラグで伝える。
func NewUpstreamTimeoutError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamTimeout,
		Message:  fmt.Sprintf("上流の応答がタイムアウトしました: %s", operation),
		Category: "upstream",
		Action:   "しばらく待ってから再読み込みしてください。",
	}
}

// NewTransportFailureError はリモート状態サービスの呼び出し失敗を表す。
// messageにはサービスが返したメッセージをそのまま含める。
func NewTransportFailureError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeTransportFailure,
		Message:  message,
		Category: "upstream",
		Action:   "状態は変更されていません。しばらく待ってから再度お試しください。",
	}
}

// NewArticleNotFoundInStoreError はストアに未読み込みの記事を変更しようとした場合のエラーを生成する。
func NewArticleNotFoundInStoreError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFoundInStore,
		Message:  fmt.Sprintf("記事がまだ読み込まれていません: %s", articleID),
		Category: "state",
		Action:   "ブリーフィングを再読み込みしてから操作してください。",
	}
}

// NewArticleNotFoundError はコンテンツデータベースに記事が存在しない場合のエラーを生成する。
func NewArticleNotFoundError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
		Category: "state",
		Action:   "記事IDを確認してください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "有効なオペレータートークンを指定してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
