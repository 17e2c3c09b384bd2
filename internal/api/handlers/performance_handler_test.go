package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"vledger/internal/repository"
	"vledger/internal/service"
)

// ============================================================
// Тесты PerformanceHandler
// ============================================================

func performanceRequest(id, query string) *http.Request {
	req := httptest.NewRequest("GET", "/api/v1/strategies/"+id+"/performance"+query, nil)
	return mux.SetURLVars(req, map[string]string{"id": id})
}

func TestGetPerformance(t *testing.T) {
	report := &service.PerformanceReport{
		StrategyID: 7,
		Bucket:     "monthly",
		Points: []service.PerformancePoint{
			{
				Timestamp:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				ValueUSD:         decimal.RequireFromString("1100"),
				PeriodReturn:     decimal.RequireFromString("0.1"),
				CumulativeReturn: decimal.RequireFromString("0.1"),
			},
		},
		CumulativeReturn: decimal.RequireFromString("0.1"),
	}
	handler := NewPerformanceHandler(&MockPerformanceService{report: report})

	rr := httptest.NewRecorder()
	handler.GetPerformance(rr, performanceRequest("7", "?bucket=monthly"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var decoded service.PerformanceReport
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if decoded.StrategyID != 7 || decoded.Bucket != "monthly" {
		t.Errorf("unexpected report: %+v", decoded)
	}
	if len(decoded.Points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(decoded.Points))
	}
	if !decoded.Points[0].PeriodReturn.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("period_return = %s, want 0.1", decoded.Points[0].PeriodReturn)
	}
}

func TestGetPerformance_EmptyPointsIsArray(t *testing.T) {
	handler := NewPerformanceHandler(&MockPerformanceService{
		report: &service.PerformanceReport{StrategyID: 7, Bucket: "daily"},
	})

	rr := httptest.NewRecorder()
	handler.GetPerformance(rr, performanceRequest("7", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if string(resp["points"]) != "[]" {
		t.Errorf("empty points must encode as [], got %s", resp["points"])
	}
}

func TestGetPerformance_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"invalid bucket", service.ErrInvalidBucket, http.StatusBadRequest},
		{"access denied", service.ErrAccessDenied, http.StatusForbidden},
		{"unknown strategy", repository.ErrStrategyNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewPerformanceHandler(&MockPerformanceService{err: tt.err})

			rr := httptest.NewRecorder()
			handler.GetPerformance(rr, performanceRequest("7", "?bucket=weekly"))

			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}
		})
	}
}

func TestGetPerformance_InvalidID(t *testing.T) {
	handler := NewPerformanceHandler(&MockPerformanceService{})

	rr := httptest.NewRecorder()
	handler.GetPerformance(rr, performanceRequest("abc", ""))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}
