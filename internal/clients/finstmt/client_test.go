package finstmt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleResponse = `{
  "results": [
    {
      "end_date": "2026-06-30",
      "financials": {
        "income_statement": {"net_income_loss": {"value": -4200000}},
        "cash_flow_statement": {"net_cash_flow": {"value": -1500000}},
        "balance_sheet": {"cash": {"value": 12000000}}
      }
    }
  ]
}`

func TestGetFinancials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ticker") != "AAPL" {
			t.Errorf("ticker param missing, query %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	snapshot, err := client.GetFinancials(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetFinancials failed: %v", err)
	}
	if snapshot.NetIncome != -4.2e6 {
		t.Errorf("net income: got %v", snapshot.NetIncome)
	}
	if snapshot.NetCashFlow != -1.5e6 {
		t.Errorf("net cash flow: got %v", snapshot.NetCashFlow)
	}
	if snapshot.CashPosition != 12e6 {
		t.Errorf("cash position: got %v", snapshot.CashPosition)
	}
	if snapshot.PeriodEnd != "2026-06-30" {
		t.Errorf("period end: got %q", snapshot.PeriodEnd)
	}
	if snapshot.FetchedAt.IsZero() {
		t.Error("fetchedAt should be stamped")
	}
}

func TestGetFinancialsNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	snapshot, err := NewClient(srv.URL, "test-key").GetFinancials(context.Background(), "NEWCO")
	if err != nil {
		t.Fatalf("GetFinancials failed: %v", err)
	}
	if snapshot != nil {
		t.Errorf("no results should yield nil, got %+v", snapshot)
	}
}

func TestFetcherSamePeriodIsNothingNew(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	fetcher := NewFetcher(NewClient(srv.URL, "test-key"))

	raw, err := fetcher.Fetch(context.Background(), "AAPL", nil)
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if raw == nil {
		t.Fatal("expected a payload on first fetch")
	}

	var payload financialsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Financials == nil || payload.Financials.PeriodEnd != "2026-06-30" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	raw2, err := fetcher.Fetch(context.Background(), "AAPL", raw)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if raw2 != nil {
		t.Errorf("same period end should report nothing new, got %s", string(raw2))
	}
}

func TestGetFinancialsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "test-key").GetFinancials(context.Background(), "AAPL")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if !apiErr.RateLimited() {
		t.Error("429 should report as rate limited")
	}
}
