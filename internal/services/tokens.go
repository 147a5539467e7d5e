package services

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coah80/reelsave/internal/config"
	"github.com/coah80/reelsave/internal/metrics"
)

type TokenStoreOptions struct {
	MaxAge      time.Duration
	SweepPeriod time.Duration
	// MaxEntries bounds the number of live tokens. Zero means unbounded.
	MaxEntries int
	Now        func() time.Time
}

type tokenEntry struct {
	URL       string
	CreatedAt time.Time
}

// TokenStore maps opaque download tokens to media URLs for a bounded time.
// All operations, including the background sweep, hold the same mutex.
type TokenStore struct {
	mu      sync.Mutex
	entries map[string]tokenEntry

	maxAge      time.Duration
	sweepPeriod time.Duration
	maxEntries  int
	now         func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

func NewTokenStore(opts TokenStoreOptions) *TokenStore {
	if opts.MaxAge <= 0 {
		opts.MaxAge = config.TokenMaxAge
	}
	if opts.SweepPeriod <= 0 {
		opts.SweepPeriod = config.TokenSweepPeriod
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TokenStore{
		entries:     make(map[string]tokenEntry),
		maxAge:      opts.MaxAge,
		sweepPeriod: opts.SweepPeriod,
		maxEntries:  opts.MaxEntries,
		now:         opts.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// NewToken returns a random version 4 UUID string.
func NewToken() string {
	return uuid.NewString()
}

// Put stores url under token, replacing any previous mapping.
func (s *TokenStore) Put(token, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[token]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[token] = tokenEntry{URL: url, CreatedAt: s.now()}
	metrics.TokensActive.Set(float64(len(s.entries)))
}

// Get returns the URL for token. Entries past MaxAge are reported as absent
// even if the sweep has not removed them yet.
func (s *TokenStore) Get(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return "", false
	}
	if s.now().Sub(e.CreatedAt) > s.maxAge {
		return "", false
	}
	return e.URL, true
}

func (s *TokenStore) Delete(token string) {
	s.mu.Lock()
	delete(s.entries, token)
	metrics.TokensActive.Set(float64(len(s.entries)))
	s.mu.Unlock()
}

func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes every entry older than MaxAge and returns how many it removed.
func (s *TokenStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, e := range s.entries {
		if now.Sub(e.CreatedAt) > s.maxAge {
			delete(s.entries, token)
			removed++
		}
	}
	metrics.TokensActive.Set(float64(len(s.entries)))
	if removed > 0 {
		metrics.TokensSwept.Add(float64(removed))
	}
	return removed
}

// caller holds s.mu
func (s *TokenStore) evictOldestLocked() {
	var oldestToken string
	var oldest time.Time
	for token, e := range s.entries {
		if oldestToken == "" || e.CreatedAt.Before(oldest) {
			oldestToken = token
			oldest = e.CreatedAt
		}
	}
	if oldestToken != "" {
		delete(s.entries, oldestToken)
		log.Printf("[Tokens] Store full (%d), evicted token %s...", s.maxEntries, shortToken(oldestToken))
	}
}

// Start launches the periodic sweep. It is a no-op if already started.
func (s *TokenStore) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.sweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					log.Printf("[Tokens] Swept %d expired tokens", n)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop ends the sweep goroutine and waits for it to exit. Safe to call more
// than once, and before Start.
func (s *TokenStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
