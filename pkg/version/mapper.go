package version

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pvmux/pvmux-go/pkg/ca"
)

// DefaultCacheSize is the number of time stamps a Mapper remembers.
const DefaultCacheSize = 2000

// Mapper assigns tokens to source time stamps. The same time stamp yields
// the same token as long as it is still cached; the least recently used
// stamp is forgotten once the cache is full.
type Mapper struct {
	mu    sync.Mutex
	cache *lru.Cache[ca.TimeStamp, Token]
}

// NewMapper creates a mapper remembering size stamps. size <= 0 selects
// DefaultCacheSize.
func NewMapper(size int) *Mapper {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[ca.TimeStamp, Token](size)
	if err != nil {
		panic(err)
	}
	return &Mapper{cache: cache}
}

// Version returns the token for ts, allocating one on first sight.
func (m *Mapper) Version(ts ca.TimeStamp) Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok, ok := m.cache.Get(ts); ok {
		return tok
	}
	tok := TokenAt(ts.Time())
	m.cache.Add(ts, tok)
	return tok
}

// Len returns the number of cached stamps.
func (m *Mapper) Len() int {
	return m.cache.Len()
}

// Purge forgets every stamp.
func (m *Mapper) Purge() {
	m.mu.Lock()
	m.cache.Purge()
	m.mu.Unlock()
}
