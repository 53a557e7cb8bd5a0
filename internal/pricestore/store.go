// Package pricestore implements the versioned, chain->venue->pairKey price
// store (C2): upsert/cleanup of raw PriceUpdate records, and a cached,
// versioned IndexedSnapshot used by the cross-chain detector.
package pricestore

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/xchainarb/detector/internal/xtypes"
)

// maxVersion bounds the store's 53-bit snapshot version counter.
const maxVersion = (int64(1) << 53) - 1

const (
	defaultCleanupEvery   = 100
	defaultMaxAge         = 5 * time.Minute
	defaultPairCacheSize  = 10000
)

type normEntry struct {
	pair string
	ok   bool
}

// Store is the sole owner of canonical PriceUpdate records.
type Store struct {
	mu sync.RWMutex

	priceData map[string]map[string]map[string]xtypes.PriceUpdate
	pairCount int

	version       int64
	cachedSnapshot *xtypes.IndexedSnapshot
	cachedVersion  int64

	pairCache *lru.Cache[string, normEntry]

	updatesSinceCleanup int
	cleanupEvery        int
	maxAge              time.Duration

	log logrus.FieldLogger
}

// Option configures a Store at construction time, following the
// functional-options convention used elsewhere in this codebase for
// optional tunables (cleanup cadence, retention window, logger).
type Option func(*Store)

// WithCleanupInterval overrides the default 100-update cleanup cadence.
func WithCleanupInterval(n int) Option {
	return func(s *Store) { s.cleanupEvery = n }
}

// WithMaxAge overrides the default 5-minute retention window.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) { s.maxAge = d }
}

// WithLogger overrides the default (logrus standard) logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore builds an empty Store with the default cleanup cadence, max
// age, and a 10000-entry bounded normalised-pair cache.
func NewStore(opts ...Option) *Store {
	s := &Store{
		priceData:    make(map[string]map[string]map[string]xtypes.PriceUpdate),
		cachedVersion: -1,
		cleanupEvery: defaultCleanupEvery,
		maxAge:       defaultMaxAge,
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := lru.New[string, normEntry](defaultPairCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultPairCacheSize never is.
		panic(err)
	}
	s.pairCache = cache
	return s
}

// HandlePriceUpdate validates and upserts u, advancing the store's
// version counter. The pair counter is maintained incrementally so
// GetPairCount never needs an O(n) traversal.
func (s *Store) HandlePriceUpdate(u xtypes.PriceUpdate) error {
	if err := xtypes.ValidatePriceUpdate(u); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.priceData[u.Chain] == nil {
		s.priceData[u.Chain] = make(map[string]map[string]xtypes.PriceUpdate)
	}
	if s.priceData[u.Chain][u.Venue] == nil {
		s.priceData[u.Chain][u.Venue] = make(map[string]xtypes.PriceUpdate)
	}
	if _, exists := s.priceData[u.Chain][u.Venue][u.PairKey]; !exists {
		s.pairCount++
	}
	s.priceData[u.Chain][u.Venue][u.PairKey] = u
	s.bumpVersion()

	s.updatesSinceCleanup++
	if s.updatesSinceCleanup >= s.cleanupEvery {
		s.updatesSinceCleanup = 0
		s.cleanupLocked()
	}
	return nil
}

// bumpVersion advances the version counter, resetting to 1 (never 0) with
// the cache invalidated when it approaches the 53-bit ceiling.
func (s *Store) bumpVersion() {
	s.version++
	if s.version > maxVersion-1000 {
		s.version = 1
		s.cachedVersion = -1
		s.log.WithField("event", "price_store_version_reset").Warn("snapshot version counter wrapped")
	}
}

// Cleanup removes PriceUpdates older than maxAge. It snapshots the chain,
// venue, and pair key sets before iterating so concurrent deletes never
// invalidate the traversal.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
}

func (s *Store) cleanupLocked() {
	cutoff := time.Now().Add(-s.maxAge)
	removed := false

	chains := make([]string, 0, len(s.priceData))
	for c := range s.priceData {
		chains = append(chains, c)
	}
	for _, chain := range chains {
		venues := make([]string, 0, len(s.priceData[chain]))
		for v := range s.priceData[chain] {
			venues = append(venues, v)
		}
		for _, venue := range venues {
			pairs := make([]string, 0, len(s.priceData[chain][venue]))
			for p := range s.priceData[chain][venue] {
				pairs = append(pairs, p)
			}
			for _, pair := range pairs {
				if s.priceData[chain][venue][pair].Timestamp.Before(cutoff) {
					delete(s.priceData[chain][venue], pair)
					s.pairCount--
					removed = true
				}
			}
			if len(s.priceData[chain][venue]) == 0 {
				delete(s.priceData[chain], venue)
			}
		}
		if len(s.priceData[chain]) == 0 {
			delete(s.priceData, chain)
		}
	}
	if removed {
		s.bumpVersion()
	}
}

// Clear drops all price data, the cached snapshot, and the
// normalised-pair cache.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceData = make(map[string]map[string]map[string]xtypes.PriceUpdate)
	s.pairCount = 0
	s.cachedSnapshot = nil
	s.cachedVersion = -1
	s.pairCache.Purge()
}

// GetChains returns the chains currently holding at least one live price.
func (s *Store) GetChains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chains := make([]string, 0, len(s.priceData))
	for c := range s.priceData {
		chains = append(chains, c)
	}
	return chains
}

// GetPairCount returns the incrementally maintained live-pair counter.
func (s *Store) GetPairCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairCount
}

// CreateIndexedSnapshot returns the cached snapshot if the store hasn't
// mutated since it was built, else rebuilds it.
func (s *Store) CreateIndexedSnapshot() *xtypes.IndexedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedSnapshot != nil && s.cachedVersion == s.version {
		return s.cachedSnapshot
	}

	raw := make([]xtypes.PriceUpdate, 0, s.pairCount)
	byToken := make(map[string][]xtypes.PricePoint)
	chainsForPair := make(map[string]map[string]struct{})

	for chain, venues := range s.priceData {
		for venue, pairs := range venues {
			for pairKey, u := range pairs {
				uCopy := u
				raw = append(raw, uCopy)

				norm, ok := s.normalizedPair(pairKey)
				if !ok {
					continue
				}
				byToken[norm] = append(byToken[norm], xtypes.PricePoint{
					Chain:     chain,
					Venue:     venue,
					PairKey:   pairKey,
					Price:     u.Price,
					UpdateRef: &uCopy,
				})
				if chainsForPair[norm] == nil {
					chainsForPair[norm] = make(map[string]struct{})
				}
				chainsForPair[norm][chain] = struct{}{}
			}
		}
	}

	tokenPairs := make([]string, 0)
	for pair, chains := range chainsForPair {
		if len(chains) >= 2 {
			tokenPairs = append(tokenPairs, pair)
		}
	}

	snap := &xtypes.IndexedSnapshot{
		Timestamp:  time.Now(),
		Version:    s.version,
		Raw:        raw,
		ByToken:    byToken,
		TokenPairs: tokenPairs,
	}
	s.cachedSnapshot = snap
	s.cachedVersion = s.version
	return snap
}

// normalizedPair memoises computeNormalizedPair in the bounded LRU cache;
// both positive and negative (unparseable pairKey) results are cached so
// a consistently-malformed pairKey doesn't get recomputed every snapshot.
func (s *Store) normalizedPair(pairKey string) (string, bool) {
	if v, ok := s.pairCache.Get(pairKey); ok {
		return v.pair, v.ok
	}
	pair, ok := computeNormalizedPair(pairKey)
	s.pairCache.Add(pairKey, normEntry{pair: pair, ok: ok})
	return pair, ok
}
