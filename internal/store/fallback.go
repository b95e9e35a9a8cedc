package store

import (
	"context"
	"sort"
	"sync"

	"stofina-realtime/internal/models"
)

// Source tells where a resolved quote came from.
type Source string

const (
	SourceNone     Source = ""
	SourceRealtime Source = "realtime"
	SourceREST     Source = "rest"
)

// SymbolLoader fetches the REST market snapshot.
type SymbolLoader interface {
	Symbols(ctx context.Context) ([]models.StockInfo, error)
}

// QuoteResolver answers price lookups from the realtime snapshot, falling back to a REST
// snapshot loaded once. The two sources are never merged field by field: a realtime quote
// always replaces the REST record whole.
type QuoteResolver struct {
	realtime *Snapshot

	mu     sync.RWMutex
	rest   map[string]models.PriceQuote
	loaded bool
}

// NewQuoteResolver creates a resolver over realtime.
func NewQuoteResolver(realtime *Snapshot) *QuoteResolver {
	return &QuoteResolver{
		realtime: realtime,
		rest:     make(map[string]models.PriceQuote),
	}
}

// Load fetches the REST snapshot. Only the first successful load is kept.
func (r *QuoteResolver) Load(ctx context.Context, loader SymbolLoader) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	infos, err := loader.Symbols(ctx)
	if err != nil {
		return err
	}

	quotes := make([]models.PriceQuote, 0, len(infos))
	for _, info := range infos {
		quotes = append(quotes, info.ToQuote())
	}
	r.SetREST(quotes)
	return nil
}

// SetREST installs a REST snapshot unless one is already loaded.
func (r *QuoteResolver) SetREST(quotes []models.PriceQuote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return
	}
	for _, q := range quotes {
		q.Symbol = NormalizeSymbol(q.Symbol)
		if q.Symbol != "" {
			r.rest[q.Symbol] = q
		}
	}
	r.loaded = true
}

// Loaded reports whether the REST snapshot is in place.
func (r *QuoteResolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Resolve returns the quote for symbol and the source it came from.
func (r *QuoteResolver) Resolve(symbol string) (models.PriceQuote, Source, bool) {
	if r.realtime != nil {
		if q, ok := r.realtime.Quote(symbol); ok {
			return q, SourceRealtime, true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if q, ok := r.rest[NormalizeSymbol(symbol)]; ok {
		return q, SourceREST, true
	}
	return models.PriceQuote{}, SourceNone, false
}

// Quotes lists every known quote. As soon as the realtime snapshot holds anything it is
// the only source listed.
func (r *QuoteResolver) Quotes() ([]models.PriceQuote, Source) {
	if r.realtime != nil && r.realtime.HasQuotes() {
		return r.realtime.Quotes(), SourceRealtime
	}

	r.mu.RLock()
	out := make([]models.PriceQuote, 0, len(r.rest))
	for _, q := range r.rest {
		out = append(out, q)
	}
	r.mu.RUnlock()

	if len(out) == 0 {
		return nil, SourceNone
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, SourceREST
}
