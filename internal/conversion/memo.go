package conversion

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/fhirhub/go-fhirhub/internal/converter"
)

// Memo caches successful conversions keyed on the exact raw text and the
// options used. Bundles are stored encoded so every hit hands out a fresh
// document the caller may mutate.
type Memo struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewMemo creates a memo holding at most maxEntries bundles.
func NewMemo(maxEntries int64, ttl time.Duration) (*Memo, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("memo size must be positive, got %d", maxEntries)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create memo cache: %w", err)
	}
	return &Memo{cache: cache, ttl: ttl}, nil
}

type memoEntry struct {
	message string
	data    []byte
}

// Key derives the memo key for a message converted with opts.
func Key(raw string, opts converter.Options) string {
	h := sha256.New()
	h.Write([]byte(raw))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(opts.IdentifierField)))
	h.Write([]byte{0})
	h.Write([]byte(opts.IdentifierSystemBase))
	h.Write([]byte{0})
	h.Write([]byte(opts.ExtensionBase))
	h.Write([]byte{0})
	h.Write([]byte(opts.TimezoneOffset))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached result for key.
func (m *Memo) Get(key string) (converter.Result, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return converter.Result{}, false
	}
	entry, ok := v.(memoEntry)
	if !ok {
		return converter.Result{}, false
	}
	var data map[string]any
	if err := json.Unmarshal(entry.data, &data); err != nil {
		return converter.Result{}, false
	}
	return converter.Result{Success: true, Message: entry.message, FHIRData: data}, true
}

// Set stores a successful result. Failures are not memoized.
func (m *Memo) Set(key string, res converter.Result) bool {
	if !res.Success {
		return false
	}
	data, err := json.Marshal(res.FHIRData)
	if err != nil {
		return false
	}
	entry := memoEntry{message: res.Message, data: data}
	if m.ttl > 0 {
		return m.cache.SetWithTTL(key, entry, 1, m.ttl)
	}
	return m.cache.Set(key, entry, 1)
}

// Wait blocks until buffered writes are applied.
func (m *Memo) Wait() {
	m.cache.Wait()
}

func (m *Memo) Close() {
	m.cache.Close()
}
