package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/briefdesk/internal/model"
	"github.com/hitoshi/briefdesk/internal/revalidate"
)

// mockPageInvalidator はPageInvalidatorのモック実装。
type mockPageInvalidator struct {
	invalidateFn func(ctx context.Context, day string) error
	days         []string
}

func (m *mockPageInvalidator) Invalidate(ctx context.Context, day string) error {
	m.days = append(m.days, day)
	if m.invalidateFn != nil {
		return m.invalidateFn(ctx, day)
	}
	return nil
}

// --- GET /health テスト ---

func TestOpsHandler_Health_AllOK(t *testing.T) {
	checks := map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return nil },
	}
	h := NewOpsHandler(checks, nil, "", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var result healthResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Status != "ok" || result.Checks["database"] != "ok" || result.Checks["redis"] != "ok" {
		t.Errorf("health = %+v", result)
	}
}

func TestOpsHandler_Health_NoChecks(t *testing.T) {
	h := NewOpsHandler(nil, nil, "", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestOpsHandler_Health_FailingDependency(t *testing.T) {
	checks := map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	}
	h := NewOpsHandler(checks, nil, "", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var result healthResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Status != "degraded" {
		t.Errorf("status = %q, want degraded", result.Status)
	}
	if result.Checks["redis"] != "unavailable" || result.Checks["database"] != "ok" {
		t.Errorf("checks = %v", result.Checks)
	}
}

// --- POST /api/revalidate テスト ---

func TestOpsHandler_Revalidate_Success(t *testing.T) {
	inv := &mockPageInvalidator{}
	h := NewOpsHandler(nil, inv, "s3cret", discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/revalidate", bytes.NewBufferString(`{"day":"2024-03-10"}`))
	req.Header.Set(revalidate.SecretHeader, "s3cret")
	w := httptest.NewRecorder()

	h.Revalidate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(inv.days) != 1 || inv.days[0] != "2024-03-10" {
		t.Errorf("invalidated days = %v, want [2024-03-10]", inv.days)
	}
}

func TestOpsHandler_Revalidate_WrongSecret(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		given      string
	}{
		{"wrong secret", "s3cret", "guess"},
		{"missing header", "s3cret", ""},
		{"not configured", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &mockPageInvalidator{}
			h := NewOpsHandler(nil, inv, tt.configured, discardLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/revalidate", bytes.NewBufferString(`{"day":"2024-03-10"}`))
			if tt.given != "" {
				req.Header.Set(revalidate.SecretHeader, tt.given)
			}
			w := httptest.NewRecorder()

			h.Revalidate(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if len(inv.days) != 0 {
				t.Errorf("invalidated days = %v, want none", inv.days)
			}
		})
	}
}

func TestOpsHandler_Revalidate_InvalidDay(t *testing.T) {
	inv := &mockPageInvalidator{}
	h := NewOpsHandler(nil, inv, "s3cret", discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/revalidate", bytes.NewBufferString(`{"day":"10/03/2024"}`))
	req.Header.Set(revalidate.SecretHeader, "s3cret")
	w := httptest.NewRecorder()

	h.Revalidate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeValidation)
	}
}

func TestOpsHandler_Revalidate_InvalidatorFailure(t *testing.T) {
	inv := &mockPageInvalidator{
		invalidateFn: func(ctx context.Context, day string) error {
			return errors.New("redis down")
		},
	}
	h := NewOpsHandler(nil, inv, "s3cret", discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/revalidate", bytes.NewBufferString(`{"day":"2024-03-10"}`))
	req.Header.Set(revalidate.SecretHeader, "s3cret")
	w := httptest.NewRecorder()

	h.Revalidate(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
