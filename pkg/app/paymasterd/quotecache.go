package paymasterd

import (
	"sync"
	"time"

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

// quoteCache holds issued quotes between quoting and settlement. Quotes are
// in-memory only: an unredeemed quote simply ages out, and restarting the
// daemon voids outstanding quotes, which their short TTL already allows.
type quoteCache struct {
	mu     sync.Mutex
	quotes map[string]cachedQuote
}

type cachedQuote struct {
	instanceID string
	quote      *registry.FeeQuote
}

func newQuoteCache() *quoteCache {
	return &quoteCache{quotes: make(map[string]cachedQuote)}
}

func (c *quoteCache) put(instanceID string, quote *registry.FeeQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(time.Now())
	c.quotes[quote.QuoteID] = cachedQuote{instanceID: instanceID, quote: quote}
}

// take removes and returns the quote, enforcing consume-once at the cache
// level. The instance id must match the one the quote was issued to.
func (c *quoteCache) take(instanceID, quoteID string) (*registry.FeeQuote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.quotes[quoteID]
	if !ok || cached.instanceID != instanceID {
		return nil, false
	}
	delete(c.quotes, quoteID)
	return cached.quote, true
}

// prune drops quotes well past expiry. Recently expired quotes are kept so
// settlement can decline them explicitly. Callers hold mu.
func (c *quoteCache) prune(now time.Time) {
	grace := now.Add(-10 * time.Minute)
	for id, cached := range c.quotes {
		if cached.quote.Expiry.Before(grace) {
			delete(c.quotes, id)
		}
	}
}
