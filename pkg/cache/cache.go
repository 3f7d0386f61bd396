// Package cache is the Cache Port (spec.md §4.6): a fingerprint keyed
// store of completed responses, read before and written after every
// inference. Grounded on the teacher's
// examples/middleware/caching/main.go MemoryCache — same sha256
// fingerprint-over-request-fields idea, same RWMutex-guarded map with a
// background TTL sweep — generalized from a single GenerateText result
// to the router's unary/streaming CacheEntry shapes and made
// fire-and-forget on write per spec.md's "failures are logged, never
// surfaced".
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/inferencegw/core/pkg/gwlog"
	"github.com/inferencegw/core/pkg/gwtypes"
)

// Entry is one completed unary response stored for replay.
type Entry struct {
	Response  gwtypes.ProviderResponse
	CreatedAt time.Time
}

// StreamEntry is one completed streaming response stored for replay.
type StreamEntry struct {
	Chunks      []gwtypes.StreamChunk
	RawRequest  string
	Usage       gwtypes.Usage
	ToolConfig  *gwtypes.ToolConfig
	CreatedAt   time.Time
}

// Store is the backing persistence port (spec.md §4.6's "Cache store
// interface"); the implementation is out of scope for the spec, so only
// an in-memory default is provided here (ClickHouse/Postgres-backed
// implementations are left to deployment).
type Store interface {
	LookupUnary(fingerprint string, maxAge *time.Duration) (*Entry, bool)
	WriteUnary(fingerprint string, entry Entry)
	LookupStreaming(fingerprint string, maxAge *time.Duration) (*StreamEntry, bool)
	WriteStreaming(fingerprint string, entry StreamEntry)
}

// Fingerprint computes the deterministic content-hash spec.md §4.6
// defines: "(model_name, provider_name, translated request body
// projected onto cacheable fields, tool_config)". cacheableBody should
// already have any non-deterministic or request-identifying fields
// (e.g. a client-supplied idempotency key) stripped by the caller;
// Fingerprint itself only canonicalizes and hashes what it is given.
func Fingerprint(modelName, providerName string, cacheableBody map[string]interface{}, toolConfig *gwtypes.ToolConfig) string {
	h := sha256.New()
	h.Write([]byte(modelName))
	h.Write([]byte{0})
	h.Write([]byte(providerName))
	h.Write([]byte{0})
	h.Write(canonicalJSON(cacheableBody))
	h.Write([]byte{0})
	if toolConfig != nil {
		h.Write(canonicalJSON(toolConfig))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON marshals v with map keys sorted so two structurally
// identical values always hash the same regardless of map iteration
// order. encoding/json already sorts map[string]interface{} keys on
// marshal, so this is a thin, explicit wrapper documenting that
// reliance rather than a reimplementation of it.
func canonicalJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// A fingerprint input must always be marshalable JSON produced by
		// a translator; failure here indicates a programming error, not
		// a runtime condition callers can recover from.
		panic("cache: fingerprint input not marshalable: " + err.Error())
	}
	return b
}

// Mode is the read/write cache policy for one model binding (spec.md
// §4.6 "Cache mode").
type Mode struct {
	EnabledRead  bool
	EnabledWrite bool
	MaxAgeS      *int
}

// MaxAge returns the configured max age as a time.Duration, or nil when
// unset (no age bound — any stored entry is fresh).
func (m Mode) MaxAge() *time.Duration {
	if m.MaxAgeS == nil {
		return nil
	}
	d := time.Duration(*m.MaxAgeS) * time.Second
	return &d
}

// Port wraps a Store with the fire-and-forget write semantics and the
// replay transform spec.md §4.6 requires, so callers (the router) never
// have to remember either rule themselves.
type Port struct {
	store Store
}

// NewPort wraps store.
func NewPort(store Store) *Port {
	return &Port{store: store}
}

// LookupUnary is a synchronous, blocking read — spec.md §4.6 only marks
// writes as fire-and-forget.
func (p *Port) LookupUnary(fingerprint string, mode Mode) (*gwtypes.ProviderResponse, bool) {
	if !mode.EnabledRead {
		return nil, false
	}
	entry, ok := p.store.LookupUnary(fingerprint, mode.MaxAge())
	if !ok {
		return nil, false
	}
	resp := entry.Response
	resp.Cached = true
	resp.Latency = 0
	return &resp, true
}

// WriteUnary spawns the store write on tracker so a slow or failing
// store never blocks the response path; failures are logged, never
// surfaced, per spec.md §4.6.
func (p *Port) WriteUnary(tracker DeferredRunner, fingerprint string, resp gwtypes.ProviderResponse, mode Mode) {
	if !mode.EnabledWrite || resp.Cached {
		return
	}
	entry := Entry{Response: resp, CreatedAt: time.Now()}
	tracker.Go("cache.writeUnary", func() error {
		defer func() {
			if r := recover(); r != nil {
				gwlog.Warnf("cache: writeUnary panicked for fingerprint %s: %v", fingerprint, r)
			}
		}()
		p.store.WriteUnary(fingerprint, entry)
		return nil
	})
}

// LookupStreaming returns the replayed chunk sequence for fingerprint,
// transformed per spec.md §4.6 "Streaming reconstruction": every
// chunk's latency is zeroed, and only the last chunk carries the
// original finish_reason. Usage is left as actually recorded (not
// scaled).
func (p *Port) LookupStreaming(fingerprint string, mode Mode) ([]gwtypes.StreamChunk, bool) {
	if !mode.EnabledRead {
		return nil, false
	}
	entry, ok := p.store.LookupStreaming(fingerprint, mode.MaxAge())
	if !ok {
		return nil, false
	}
	return replayChunks(entry.Chunks), true
}

func replayChunks(original []gwtypes.StreamChunk) []gwtypes.StreamChunk {
	replayed := make([]gwtypes.StreamChunk, len(original))
	for i, c := range original {
		replayed[i] = c
		replayed[i].Latency = 0
		replayed[i].Cached = true
		if i != len(original)-1 {
			replayed[i].FinishReason = nil
		}
	}
	return replayed
}

// WriteStreaming spawns the store write on tracker, same fire-and-forget
// contract as WriteUnary.
func (p *Port) WriteStreaming(tracker DeferredRunner, fingerprint string, chunks []gwtypes.StreamChunk, rawRequest string, usage gwtypes.Usage, toolConfig *gwtypes.ToolConfig, mode Mode) {
	if !mode.EnabledWrite {
		return
	}
	entry := StreamEntry{
		Chunks:     append([]gwtypes.StreamChunk(nil), chunks...),
		RawRequest: rawRequest,
		Usage:      usage,
		ToolConfig: toolConfig,
		CreatedAt:  time.Now(),
	}
	tracker.Go("cache.writeStreaming", func() error {
		defer func() {
			if r := recover(); r != nil {
				gwlog.Warnf("cache: writeStreaming panicked for fingerprint %s: %v", fingerprint, r)
			}
		}()
		p.store.WriteStreaming(fingerprint, entry)
		return nil
	})
}

// DeferredRunner is the subset of pkg/tasktracker.Tracker the cache port
// needs, kept as a narrow interface so this package does not import
// tasktracker directly (avoiding an import cycle risk now that the
// router will depend on both).
type DeferredRunner interface {
	Go(name string, fn func() error)
}

// MemoryStore is the default in-process Store, grounded on the
// teacher's MemoryCache: an RWMutex-guarded map with a background
// sweep evicting entries past their TTL.
type MemoryStore struct {
	mu       sync.RWMutex
	unary    map[string]Entry
	streams  map[string]StreamEntry
	ttl      time.Duration
	maxSize  int
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryStore returns a MemoryStore evicting entries older than ttl
// (zero means no automatic expiry beyond whatever maxAge a lookup
// requests) and capped at maxSize entries per kind via oldest-eviction,
// matching the teacher's evictOldest.
func NewMemoryStore(ttl time.Duration, maxSize int) *MemoryStore {
	s := &MemoryStore{
		unary:   make(map[string]Entry),
		streams: make(map[string]StreamEntry),
		ttl:     ttl,
		maxSize: maxSize,
		stopCh:  make(chan struct{}),
	}
	if ttl > 0 {
		go s.sweep()
	}
	return s
}

// Close stops the background sweep goroutine.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.unary {
		if s.ttl > 0 && now.Sub(e.CreatedAt) > s.ttl {
			delete(s.unary, k)
		}
	}
	for k, e := range s.streams {
		if s.ttl > 0 && now.Sub(e.CreatedAt) > s.ttl {
			delete(s.streams, k)
		}
	}
}

func (s *MemoryStore) LookupUnary(fingerprint string, maxAge *time.Duration) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.unary[fingerprint]
	if !ok || isStale(e.CreatedAt, maxAge) {
		return nil, false
	}
	return &e, true
}

func (s *MemoryStore) WriteUnary(fingerprint string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxSize > 0 && len(s.unary) >= s.maxSize {
		evictOldestUnary(s.unary)
	}
	s.unary[fingerprint] = entry
}

func (s *MemoryStore) LookupStreaming(fingerprint string, maxAge *time.Duration) (*StreamEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.streams[fingerprint]
	if !ok || isStale(e.CreatedAt, maxAge) {
		return nil, false
	}
	return &e, true
}

func (s *MemoryStore) WriteStreaming(fingerprint string, entry StreamEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxSize > 0 && len(s.streams) >= s.maxSize {
		evictOldestStreaming(s.streams)
	}
	s.streams[fingerprint] = entry
}

func isStale(createdAt time.Time, maxAge *time.Duration) bool {
	if maxAge == nil {
		return false
	}
	return time.Since(createdAt) > *maxAge
}

func evictOldestUnary(m map[string]Entry) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return m[keys[i]].CreatedAt.Before(m[keys[j]].CreatedAt) })
	if len(keys) > 0 {
		delete(m, keys[0])
	}
}

func evictOldestStreaming(m map[string]StreamEntry) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return m[keys[i]].CreatedAt.Before(m[keys[j]].CreatedAt) })
	if len(keys) > 0 {
		delete(m, keys[0])
	}
}
