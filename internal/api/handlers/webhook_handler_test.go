package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"vledger/internal/repository"
	"vledger/internal/service"
)

// ============================================================
// Тесты WebhookHandler
// ============================================================

func webhookRequest(token, body string) *http.Request {
	req := httptest.NewRequest("POST", "/webhook/"+token, strings.NewReader(body))
	return mux.SetURLVars(req, map[string]string{"token": token})
}

func TestHandleWebhook_Success(t *testing.T) {
	svc := &MockSettlementService{
		result: &service.WebhookResult{Status: "success", OrderID: "ord-7", StrategyID: 7},
	}
	handler := NewWebhookHandler(svc)

	rr := httptest.NewRecorder()
	handler.HandleWebhook(rr, webhookRequest("whk_token", `{"action":"buy","ticker":"BTCUSDT"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result service.WebhookResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if result.Status != "success" || result.OrderID != "ord-7" {
		t.Errorf("unexpected result: %+v", result)
	}

	if len(svc.tokens) != 1 || svc.tokens[0] != "whk_token" {
		t.Errorf("token not passed to service: %v", svc.tokens)
	}
	if svc.bodies[0] != `{"action":"buy","ticker":"BTCUSDT"}` {
		t.Errorf("body not passed verbatim: %s", svc.bodies[0])
	}
}

func TestHandleWebhook_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"unknown token", repository.ErrStrategyNotFound, http.StatusNotFound},
		{"paused strategy", service.ErrStrategyPaused, http.StatusForbidden},
		{"malformed payload", service.ErrInvalidPayload, http.StatusBadRequest},
		{"ticker mismatch", service.ErrTickerMismatch, http.StatusBadRequest},
		{"sizing rejected", service.ErrSizingRejected, http.StatusConflict},
		{"concurrent mutation", service.ErrConcurrentMutation, http.StatusConflict},
		{"internal failure", errors.New("db is down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewWebhookHandler(&MockSettlementService{err: tt.err})

			rr := httptest.NewRecorder()
			handler.HandleWebhook(rr, webhookRequest("whk_token", `{"action":"buy","ticker":"BTCUSDT"}`))

			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}

			var resp ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("cannot decode error response: %v", err)
			}
			if resp.Error == "" {
				t.Error("error response has empty message")
			}
		})
	}
}

func TestHandleWebhook_NilService(t *testing.T) {
	handler := NewWebhookHandler(nil)

	rr := httptest.NewRecorder()
	handler.HandleWebhook(rr, webhookRequest("whk_token", `{}`))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestHandleWebhook_ContentType(t *testing.T) {
	handler := NewWebhookHandler(&MockSettlementService{
		result: &service.WebhookResult{Status: "success"},
	})

	rr := httptest.NewRecorder()
	handler.HandleWebhook(rr, webhookRequest("whk_token", `{}`))

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}
