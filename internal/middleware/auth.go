// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/briefdesk/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// operatorContextKey はリクエストコンテキストにオペレーターIDを格納するためのキー。
var operatorContextKey = contextKey("operator")

var (
	errMissingToken  = errors.New("missing bearer token")
	errInvalidToken  = errors.New("invalid bearer token")
	errInvalidClaims = errors.New("invalid claims")
)

// OperatorClaims はオペレーター用JWTのクレーム。subjectがオペレーターID。
type OperatorClaims struct {
	jwt.RegisteredClaims
}

// NewOperatorAuthMiddleware はAuthorizationヘッダーのBearerトークン（HS256）を検証し、
// オペレーターIDをリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない・無効な場合は401 Unauthorizedを返す。
func NewOperatorAuthMiddleware(secret []byte, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operatorID, err := parseOperatorToken(r, secret)
			if err != nil {
				if !errors.Is(err, errMissingToken) {
					logger.Warn("オペレータートークンの検証に失敗しました",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if info, ok := r.Context().Value(requestInfoContextKey).(*requestInfo); ok {
				info.operator = operatorID
			}

			ctx := ContextWithOperator(r.Context(), operatorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseOperatorToken(r *http.Request, secret []byte) (string, error) {
	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errMissingToken
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("JWT secret not configured")
	}

	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*OperatorClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", errInvalidClaims
	}
	return claims.Subject, nil
}

// OperatorFromContext はリクエストコンテキストからオペレーターIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func OperatorFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(operatorContextKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("operator not found in context")
	}
	return id, nil
}

// ContextWithOperator はコンテキストにオペレーターIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorContextKey, operatorID)
}
