package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/quote"
)

// QuoteStatus is the display state of a quote panel.
type QuoteStatus string

const (
	QuoteLoading QuoteStatus = "loading"
	QuoteStale   QuoteStatus = "stale"
	QuoteReady   QuoteStatus = "ready"
	QuoteError   QuoteStatus = "error"
)

// Messages shown when a live quote cannot be fetched.
const (
	MsgQuoteCached      = "Live quote unavailable. Showing cached estimate."
	MsgQuoteUnavailable = "Unable to load estimated rate right now."
)

// QuoteState is what the caller should display. Stale data always carries
// StaleAt.
type QuoteState struct {
	Status  QuoteStatus
	Quote   *quote.Quote
	StaleAt time.Time
	Message string
	Err     error
}

// CachedQuote is a stored quote and when it was stored.
type CachedQuote struct {
	Data     quote.Quote `json:"data"`
	StoredAt time.Time   `json:"storedAt"`
}

// QuoteCache maps quote inputs to the last successful quote. With a path it
// is persisted as JSON after every Put.
type QuoteCache struct {
	mu      sync.Mutex
	entries map[string]CachedQuote
	path    string
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{entries: make(map[string]CachedQuote)}
}

// OpenQuoteCache loads the cache stored at path. A missing file is an empty
// cache; a corrupt one is discarded.
func OpenQuoteCache(path string) (*QuoteCache, error) {
	c := NewQuoteCache()
	c.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading quote cache: %w", err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		c.entries = make(map[string]CachedQuote)
	}
	return c, nil
}

// CacheKey identifies a quote by its inputs.
func CacheKey(p quote.Params) string {
	return "quote:" + p.Zip + ":" + p.CreditRange + ":" +
		strconv.FormatFloat(p.HomeValue, 'f', -1, 64) + ":" +
		strconv.FormatFloat(p.CurrentBalance, 'f', -1, 64)
}

func (c *QuoteCache) Get(p quote.Params) (CachedQuote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.entries[CacheKey(p)]
	return q, ok
}

func (c *QuoteCache) Put(p quote.Params, q quote.Quote, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[CacheKey(p)] = CachedQuote{Data: q, StoredAt: at}
	if c.path == "" {
		return nil
	}
	return c.saveLocked()
}

func (c *QuoteCache) saveLocked() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding quote cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing quote cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// QuoteFetcher performs the network fetch, retries included.
type QuoteFetcher interface {
	Quote(ctx context.Context, p quote.Params) (quote.Quote, error)
}

// QuoteLoader serves cached quotes immediately and revalidates them in the
// background.
type QuoteLoader struct {
	fetcher QuoteFetcher
	cache   *QuoteCache
	clock   Clock
	logger  *zap.Logger
}

func NewQuoteLoader(fetcher QuoteFetcher, cache *QuoteCache, clock Clock, logger *zap.Logger) *QuoteLoader {
	if cache == nil {
		cache = NewQuoteCache()
	}
	if clock == nil {
		clock = RealClock()
	}
	return &QuoteLoader{fetcher: fetcher, cache: cache, clock: clock, logger: logger}
}

// Load returns the state to show right away (stale or loading) and a
// channel that delivers the revalidated state (ready or error) and closes.
// If ctx ends first the channel closes without a value.
func (l *QuoteLoader) Load(ctx context.Context, p quote.Params) (QuoteState, <-chan QuoteState) {
	cached, hit := l.cache.Get(p)

	initial := QuoteState{Status: QuoteLoading}
	if hit {
		q := cached.Data
		initial = QuoteState{Status: QuoteStale, Quote: &q, StaleAt: cached.StoredAt}
	}

	out := make(chan QuoteState, 1)
	go func() {
		defer close(out)

		fresh, err := l.fetcher.Quote(ctx, p)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			l.logger.Warn("quote fetch failed", zap.String("reason", FailureReason(err)), zap.Error(err))
			final := QuoteState{Status: QuoteError, Message: MsgQuoteUnavailable, Err: err}
			if hit {
				q := cached.Data
				final.Quote = &q
				final.StaleAt = cached.StoredAt
				final.Message = MsgQuoteCached
			}
			out <- final
			return
		}

		if err := l.cache.Put(p, fresh, l.clock.Now()); err != nil {
			l.logger.Warn("failed to persist quote cache", zap.Error(err))
		}
		out <- QuoteState{Status: QuoteReady, Quote: &fresh}
	}()

	return initial, out
}
