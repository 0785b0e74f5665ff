package newsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
)

func newsServer(t *testing.T, items []map[string]interface{}) (*httptest.Server, *string) {
	t.Helper()
	var lastQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items)
	}))
	t.Cleanup(srv.Close)
	return srv, &lastQuery
}

func TestFetcherAddsNewHeadlines(t *testing.T) {
	srv, _ := newsServer(t, []map[string]interface{}{
		{"id": 2, "headline": "Company announces offering", "created_at": "2026-08-30T14:00:00Z", "updated_at": "2026-08-30T14:00:00Z"},
		{"id": 1, "headline": "Company resumes trading", "created_at": "2026-08-30T13:00:00Z", "updated_at": "2026-08-30T13:00:00Z"},
	})

	client := NewClient(srv.URL, "test-key")
	fetcher := NewFetcher(client, nil, common.NewSilentLogger())

	raw, err := fetcher.Fetch(context.Background(), "AAPL", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if raw == nil {
		t.Fatal("expected a payload, got nil")
	}

	var payload newsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if !payload.IsActive {
		t.Error("payload should be active after new headlines")
	}
	if len(payload.News) != 2 {
		t.Fatalf("expected 2 items, got %d", len(payload.News))
	}
	if payload.News[0].ID != "2" {
		t.Errorf("expected newest item first, got id %s", payload.News[0].ID)
	}
	if payload.News[0].AddedAt.IsZero() {
		t.Error("addedAt should be stamped on new items")
	}
}

func TestFetcherFiltersUnwantedKeywords(t *testing.T) {
	srv, _ := newsServer(t, []map[string]interface{}{
		{"id": 3, "headline": "Class Action Lawsuit filed against Company", "created_at": "2026-08-30T14:00:00Z", "updated_at": "2026-08-30T14:00:00Z"},
		{"id": 2, "headline": "Shareholder Alert: investigation", "created_at": "2026-08-30T13:30:00Z", "updated_at": "2026-08-30T13:30:00Z"},
		{"id": 1, "headline": "Company wins contract", "created_at": "2026-08-30T13:00:00Z", "updated_at": "2026-08-30T13:00:00Z"},
	})

	client := NewClient(srv.URL, "test-key")
	fetcher := NewFetcher(client, []string{"class action", "shareholder alert"}, common.NewSilentLogger())

	raw, err := fetcher.Fetch(context.Background(), "AAPL", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	var payload newsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.News) != 1 {
		t.Fatalf("expected 1 item after filtering, got %d", len(payload.News))
	}
	if payload.News[0].Headline != "Company wins contract" {
		t.Errorf("wrong survivor: %s", payload.News[0].Headline)
	}
}

func TestFetcherNothingNewReturnsNil(t *testing.T) {
	srv, lastQuery := newsServer(t, []map[string]interface{}{
		{"id": 1, "headline": "Already known", "created_at": "2026-08-30T13:00:00Z", "updated_at": "2026-08-30T13:00:00Z"},
	})

	client := NewClient(srv.URL, "test-key")
	fetcher := NewFetcher(client, nil, common.NewSilentLogger())

	head := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	current, _ := json.Marshal(newsPayload{
		Ticker:   "AAPL",
		IsActive: true,
		News: []models.NewsItem{
			{ID: "1", Headline: "Already known", CreatedAt: head, UpdatedAt: head},
		},
	})

	raw, err := fetcher.Fetch(context.Background(), "AAPL", current)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if raw != nil {
		t.Errorf("expected nil for nothing-new, got %s", string(raw))
	}
	// The head item's timestamp bounds the query window
	if want := "since=2026-08-30T13%3A00%3A00Z"; !strings.Contains(*lastQuery, want) {
		t.Errorf("since param not sent, query was %q", *lastQuery)
	}
}

func TestFetcherPrependsToExisting(t *testing.T) {
	srv, _ := newsServer(t, []map[string]interface{}{
		{"id": 5, "headline": "Fresh headline", "created_at": "2026-08-30T15:00:00Z", "updated_at": "2026-08-30T15:00:00Z"},
	})

	client := NewClient(srv.URL, "test-key")
	fetcher := NewFetcher(client, nil, common.NewSilentLogger())

	old := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	current, _ := json.Marshal(newsPayload{
		Ticker: "AAPL",
		News: []models.NewsItem{
			{ID: "4", Headline: "Older headline", CreatedAt: old, UpdatedAt: old},
		},
	})

	raw, err := fetcher.Fetch(context.Background(), "AAPL", current)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	var payload newsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.News) != 2 {
		t.Fatalf("expected 2 items, got %d", len(payload.News))
	}
	if payload.News[0].ID != "5" || payload.News[1].ID != "4" {
		t.Errorf("expected newest-first [5 4], got [%s %s]", payload.News[0].ID, payload.News[1].ID)
	}
}

func TestGetNewsRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.GetNews(context.Background(), "AAPL", time.Time{}, 10)
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if !apiErr.RateLimited() {
		t.Error("429 should report as rate limited")
	}
}
