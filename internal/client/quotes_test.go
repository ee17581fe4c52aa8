package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/quote"
)

type stubFetcher struct {
	quote quote.Quote
	err   error
	gate  chan struct{}
}

func (f *stubFetcher) Quote(ctx context.Context, p quote.Params) (quote.Quote, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return quote.Quote{}, ctx.Err()
		}
	}
	return f.quote, f.err
}

var testParams = quote.Params{Zip: "30301", CreditRange: "720-759", HomeValue: 450000, CurrentBalance: 300000}

func final(t *testing.T, ch <-chan QuoteState) QuoteState {
	t.Helper()
	select {
	case st, ok := <-ch:
		if !ok {
			t.Fatal("channel closed without a value")
		}
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for revalidation")
	}
	return QuoteState{}
}

func TestQuoteLoader_ColdFetch(t *testing.T) {
	clock := newFakeClock()
	cache := NewQuoteCache()
	loader := NewQuoteLoader(&stubFetcher{quote: quote.Quote{EstimatedRate: 6.05}}, cache, clock, zap.NewNop())

	initial, ch := loader.Load(context.Background(), testParams)
	if initial.Status != QuoteLoading || initial.Quote != nil {
		t.Errorf("expected loading, got %+v", initial)
	}

	st := final(t, ch)
	if st.Status != QuoteReady || st.Quote.EstimatedRate != 6.05 {
		t.Errorf("expected ready, got %+v", st)
	}
	cached, ok := cache.Get(testParams)
	if !ok || !cached.StoredAt.Equal(clock.Now()) {
		t.Errorf("fresh quote not cached: %+v", cached)
	}
}

func TestQuoteLoader_StaleWhileRevalidate(t *testing.T) {
	storedAt := time.Date(2025, 11, 13, 9, 0, 0, 0, time.UTC)
	cache := NewQuoteCache()
	_ = cache.Put(testParams, quote.Quote{EstimatedRate: 6.5}, storedAt)

	fetcher := &stubFetcher{quote: quote.Quote{EstimatedRate: 6.1}, gate: make(chan struct{})}
	loader := NewQuoteLoader(fetcher, cache, newFakeClock(), zap.NewNop())

	initial, ch := loader.Load(context.Background(), testParams)
	if initial.Status != QuoteStale || initial.Quote.EstimatedRate != 6.5 || !initial.StaleAt.Equal(storedAt) {
		t.Errorf("expected stale cached quote, got %+v", initial)
	}

	close(fetcher.gate)
	st := final(t, ch)
	if st.Status != QuoteReady || st.Quote.EstimatedRate != 6.1 || !st.StaleAt.IsZero() {
		t.Errorf("expected fresh quote, got %+v", st)
	}
}

func TestQuoteLoader_FailureKeepsStale(t *testing.T) {
	storedAt := time.Date(2025, 11, 13, 9, 0, 0, 0, time.UTC)
	cache := NewQuoteCache()
	_ = cache.Put(testParams, quote.Quote{EstimatedRate: 6.5}, storedAt)

	fetchErr := &TransientError{Attempts: 3, Reason: "http_503"}
	loader := NewQuoteLoader(&stubFetcher{err: fetchErr}, cache, newFakeClock(), zap.NewNop())

	_, ch := loader.Load(context.Background(), testParams)
	st := final(t, ch)
	if st.Status != QuoteError || st.Message != MsgQuoteCached {
		t.Errorf("unexpected state %+v", st)
	}
	if st.Quote == nil || st.Quote.EstimatedRate != 6.5 || !st.StaleAt.Equal(storedAt) {
		t.Errorf("stale quote must survive the failure: %+v", st)
	}
	if !errors.Is(st.Err, fetchErr) {
		t.Errorf("expected fetch error, got %v", st.Err)
	}

	cached, _ := cache.Get(testParams)
	if !cached.StoredAt.Equal(storedAt) {
		t.Error("failed fetch must not overwrite the cache")
	}
}

func TestQuoteLoader_FailureWithoutCache(t *testing.T) {
	loader := NewQuoteLoader(&stubFetcher{err: errors.New("dial tcp: refused")}, nil, newFakeClock(), zap.NewNop())

	_, ch := loader.Load(context.Background(), testParams)
	st := final(t, ch)
	if st.Status != QuoteError || st.Quote != nil || st.Message != MsgQuoteUnavailable {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestQuoteLoader_CancelledLoadDeliversNothing(t *testing.T) {
	fetcher := &stubFetcher{gate: make(chan struct{})}
	loader := NewQuoteLoader(fetcher, nil, newFakeClock(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	_, ch := loader.Load(ctx, testParams)
	cancel()

	select {
	case st, ok := <-ch:
		if ok {
			t.Errorf("expected no state after cancel, got %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestQuoteCache_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "quotes.json")
	storedAt := time.Date(2025, 11, 14, 12, 0, 0, 0, time.UTC)

	cache, err := OpenQuoteCache(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := cache.Put(testParams, quote.Quote{EstimatedRate: 6.05, MonthlyPayment: 1808}, storedAt); err != nil {
		t.Fatalf("put: %v", err)
	}

	reopened, err := OpenQuoteCache(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.Get(testParams)
	if !ok || got.Data.MonthlyPayment != 1808 || !got.StoredAt.Equal(storedAt) {
		t.Errorf("unexpected cached entry %+v (ok=%v)", got, ok)
	}

	other := testParams
	other.Zip = "10001"
	if _, ok := reopened.Get(other); ok {
		t.Error("different inputs must miss")
	}
}

func TestQuoteCache_CorruptFileIsDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	cache, err := OpenQuoteCache(path)
	if err != nil {
		t.Fatalf("corrupt cache should open empty, got %v", err)
	}
	if _, ok := cache.Get(testParams); ok {
		t.Error("expected empty cache")
	}
}
