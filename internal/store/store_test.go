package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
	"github.com/bobmcallan/vigil/internal/models"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	logger := common.NewLogger("error")
	s := NewStore(logger, common.StoreConfig{LockTimeout: "2s", LockMaxHold: "5s"})
	return s, filepath.Join(dir, "tickers.json")
}

func TestRead_MissingFile(t *testing.T) {
	s, path := newTestStore(t)
	doc, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(doc) != 0 {
		t.Errorf("expected empty document, got %d keys", len(doc))
	}
}

func TestRead_CorruptJSON(t *testing.T) {
	s, path := newTestStore(t)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	doc, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read should degrade, not fail: %v", err)
	}
	if len(doc) != 0 {
		t.Errorf("expected empty document for corrupt file, got %d keys", len(doc))
	}
}

func TestReadStrict_MissingFile(t *testing.T) {
	s, path := newTestStore(t)
	if _, err := s.ReadStrict(path); err == nil {
		t.Error("ReadStrict should fail on a missing file")
	}
}

func TestWrite_MergePreservesDisjointKeys(t *testing.T) {
	s, path := newTestStore(t)

	a, _ := Encode(map[string]string{"v": "from-a"})
	b, _ := Encode(map[string]string{"v": "from-b"})

	if err := s.Write(path, Document{"A": a}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.Write(path, Document{"B": b}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	doc, err := s.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["A"]; !ok {
		t.Error("key A lost by later write of key B")
	}
	if _, ok := doc["B"]; !ok {
		t.Error("key B missing")
	}
}

func TestWrite_ShallowMergeTopLevelWins(t *testing.T) {
	s, path := newTestStore(t)

	v1, _ := Encode(map[string]int{"x": 1, "y": 2})
	v2, _ := Encode(map[string]int{"x": 9})

	if err := s.Write(path, Document{"K": v1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(path, Document{"K": v2}); err != nil {
		t.Fatal(err)
	}

	doc, _ := s.Read(path)
	var got map[string]int
	if err := json.Unmarshal(doc["K"], &got); err != nil {
		t.Fatal(err)
	}
	// Shallow merge: the whole sub-object is replaced, y does not survive
	if got["x"] != 9 {
		t.Errorf("x = %d, want 9", got["x"])
	}
	if _, ok := got["y"]; ok {
		t.Error("deep-merge observed; sub-object should be replaced wholesale")
	}
}

func TestWrite_ConcurrentWriters(t *testing.T) {
	s, path := newTestStore(t)

	shorts, _ := Encode(&models.TickerRecord{Ticker: "AAPL", Shorts: &models.ShortInterest{ShortInterest: 4.5e6}})
	news, _ := Encode(&models.TickerRecord{Ticker: "MSFT", News: []models.NewsItem{{ID: models.NewsID("1"), Headline: "X"}}})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.Write(path, Document{"AAPL": shorts}); err != nil {
			t.Errorf("AAPL write: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.Write(path, Document{"MSFT": news}); err != nil {
			t.Errorf("MSFT write: %v", err)
		}
	}()
	wg.Wait()

	records, err := s.ReadTickers(path)
	if err != nil {
		t.Fatal(err)
	}
	if records["AAPL"] == nil || records["AAPL"].Shorts == nil {
		t.Error("AAPL shorts update lost")
	}
	if records["MSFT"] == nil || len(records["MSFT"].News) != 1 {
		t.Error("MSFT news update lost")
	}
}

func TestWrite_AtomicOnDisk(t *testing.T) {
	s, path := newTestStore(t)
	raw, _ := Encode(models.NewTickerRecord("AAPL"))
	if err := s.Write(path, Document{"AAPL": raw}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Error("on-disk document is not valid JSON")
	}
	// No temp droppings left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if len(e.Name()) > 4 && e.Name()[:5] == ".tmp-" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestDeleteKeys(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.AddToWatchlist(path, "AAPL"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddToWatchlist(path, "MSFT"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteKeys(path, "AAPL"); err != nil {
		t.Fatal(err)
	}
	entries, err := s.ReadWatchlist(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := entries["AAPL"]; ok {
		t.Error("AAPL still present after delete")
	}
	if _, ok := entries["MSFT"]; !ok {
		t.Error("MSFT lost by deleting AAPL")
	}
}

func TestProcessedSet_Roundtrip(t *testing.T) {
	s, dir := newTestStore(t)
	path := filepath.Join(filepath.Dir(dir), "news-processed_tickers.json")

	set := models.NewProcessedSet(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC))
	set.Mark("AAPL")
	if err := s.SaveProcessed(path, set); err != nil {
		t.Fatal(err)
	}

	loaded := s.LoadProcessed(path)
	if !loaded.Has("AAPL") {
		t.Error("AAPL not in reloaded set")
	}
	if !loaded.WipedAt.Equal(set.WipedAt) {
		t.Errorf("WipedAt = %v, want %v", loaded.WipedAt, set.WipedAt)
	}
}

func TestLoadProcessed_Missing(t *testing.T) {
	s, dir := newTestStore(t)
	set := s.LoadProcessed(filepath.Join(filepath.Dir(dir), "nope.json"))
	if set == nil || set.Has("AAPL") {
		t.Error("expected fresh empty set")
	}
}

// --- Lock manager ---

func TestLock_MutualExclusion(t *testing.T) {
	m := NewLockManager(150*time.Millisecond, 10*time.Second)

	token, err := m.Acquire("p")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Acquire("p"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second acquire = %v, want ErrLockTimeout", err)
	}

	m.Release("p", token)
	if _, err := m.Acquire("p"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLock_StalenessRecovery(t *testing.T) {
	m := NewLockManager(2*time.Second, 50*time.Millisecond)

	if _, err := m.Acquire("p"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)

	// Holder exceeded max hold; waiter takes over without a release
	if _, err := m.Acquire("p"); err != nil {
		t.Fatalf("expected stale lock takeover, got %v", err)
	}
}

func TestLock_StaleReleaseKeepsNewHolder(t *testing.T) {
	m := NewLockManager(150*time.Millisecond, 50*time.Millisecond)

	stale, err := m.Acquire("p")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)

	if _, err := m.Acquire("p"); err != nil {
		t.Fatalf("expected stale lock takeover, got %v", err)
	}

	// The original holder's deferred release fires after the takeover; its
	// token is dead and must not free the reassigned lock.
	m.Release("p", stale)

	if _, err := m.Acquire("p"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("third acquire = %v, want ErrLockTimeout while the new holder keeps the lock", err)
	}
}

func TestLock_ReleaseIdempotent(t *testing.T) {
	m := NewLockManager(time.Second, 10*time.Second)
	m.Release("never-held", 1)
	m.Release("never-held", 1)
}

func TestLock_IndependentPaths(t *testing.T) {
	m := NewLockManager(100*time.Millisecond, 10*time.Second)
	if _, err := m.Acquire("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire("b"); err != nil {
		t.Fatalf("lock on a must not block b: %v", err)
	}
}
