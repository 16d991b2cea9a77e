// Package session holds per-conversation memory: a bounded ring of recent
// exchanges, a TTL-bounded cache of tool results, and duplicate-query
// detection.
//
// A Session is mutated only by the turn currently owning its identifier;
// it carries no internal locking. The Store is safe for concurrent use
// across different session identifiers.
package session

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Limits bounds a session's memory.
type Limits struct {
	// MaxExchanges bounds the exchange ring; oldest evicted first.
	MaxExchanges int

	// CacheTTL is the tool-result cache time-to-live.
	CacheTTL time.Duration

	// CacheMaxEntries bounds the cache; oldest evicted first,
	// independent of TTL.
	CacheMaxEntries int

	// CredentialKeys are argument keys excluded from cache keys.
	CredentialKeys []string
}

// DefaultLimits returns the standard memory bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxExchanges:    5,
		CacheTTL:        300 * time.Second,
		CacheMaxEntries: 50,
		CredentialKeys:  []string{"qradar_token", "qradar_host", "token", "api_key"},
	}
}

// ToolInvocation records one tool call made during a turn.
type ToolInvocation struct {
	Name          string                 `json:"name"`
	Arguments     map[string]interface{} `json:"arguments,omitempty"`
	RequestedAt   time.Time              `json:"requested_at"`
	Status        string                 `json:"status"`
	ResultSummary string                 `json:"result_summary,omitempty"`
	ErrorDetail   string                 `json:"error_detail,omitempty"`
}

// Invocation statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Exchange is one completed user turn.
type Exchange struct {
	UserMessage       string           `json:"user_message"`
	AssistantResponse string           `json:"assistant_response"`
	ToolInvocations   []ToolInvocation `json:"tool_invocations,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
}

type cacheEntry struct {
	result    string
	createdAt time.Time
	success   bool
}

// Session is the memory for one conversation identifier.
type Session struct {
	id        string
	startedAt time.Time
	limits    Limits

	exchanges  []Exchange
	cache      map[string]*cacheEntry
	cacheOrder []string

	now func() time.Time
}

// Stats summarizes a session for inspection endpoints.
type Stats struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	ExchangeCount int       `json:"exchange_count"`
	CacheEntries  int       `json:"cache_entries"`
}

func newSession(id string, limits Limits) *Session {
	return &Session{
		id:        id,
		startedAt: time.Now(),
		limits:    limits,
		cache:     make(map[string]*cacheEntry),
		now:       time.Now,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Exchanges returns the retained exchanges, oldest first.
func (s *Session) Exchanges() []Exchange {
	out := make([]Exchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

// RecordExchange appends a completed turn, evicting the oldest exchange
// once the ring is full.
func (s *Session) RecordExchange(e Exchange) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	s.exchanges = append(s.exchanges, e)
	if len(s.exchanges) > s.limits.MaxExchanges {
		s.exchanges = s.exchanges[len(s.exchanges)-s.limits.MaxExchanges:]
	}
}

// FindDuplicate compares the message against prior turns, most recent
// first. An exact normalized match or a word-set Jaccard similarity at or
// above the threshold returns the prior answer.
func (s *Session) FindDuplicate(message string, threshold float64) (string, bool) {
	normalized := normalize(message)
	if normalized == "" {
		return "", false
	}
	words := wordSet(normalized)

	for i := len(s.exchanges) - 1; i >= 0; i-- {
		prior := s.exchanges[i]
		priorNorm := normalize(prior.UserMessage)

		if priorNorm == normalized {
			return prior.AssistantResponse, true
		}

		if jaccard(words, wordSet(priorNorm)) >= threshold {
			return prior.AssistantResponse, true
		}
	}

	return "", false
}

// CacheKey derives the cache key for a tool call: tool name plus the
// canonical JSON of its arguments with credential keys stripped.
func (s *Session) CacheKey(tool string, args map[string]interface{}) string {
	sanitized := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s.isCredentialKey(k) {
			continue
		}
		sanitized[k] = v
	}

	// encoding/json sorts map keys, giving a canonical serialization
	data, err := json.Marshal(sanitized)
	if err != nil {
		data = []byte("{}")
	}
	return tool + ":" + string(data)
}

func (s *Session) isCredentialKey(key string) bool {
	lower := strings.ToLower(key)
	for _, cred := range s.limits.CredentialKeys {
		if lower == cred {
			return true
		}
	}
	return false
}

// CacheGet returns a cached tool result. Expired entries and entries
// recording a failed call are never returned.
func (s *Session) CacheGet(tool string, args map[string]interface{}) (string, bool) {
	entry, ok := s.cache[s.CacheKey(tool, args)]
	if !ok {
		return "", false
	}
	if !entry.success {
		return "", false
	}
	if s.now().Sub(entry.createdAt) > s.limits.CacheTTL {
		return "", false
	}
	return entry.result, true
}

// CachePut records a tool result, evicting the oldest entry first when
// the bound is exceeded, independent of TTL.
func (s *Session) CachePut(tool string, args map[string]interface{}, result string, success bool) {
	key := s.CacheKey(tool, args)

	if _, exists := s.cache[key]; !exists {
		s.cacheOrder = append(s.cacheOrder, key)
	}
	s.cache[key] = &cacheEntry{
		result:    result,
		createdAt: s.now(),
		success:   success,
	}

	for len(s.cacheOrder) > s.limits.CacheMaxEntries {
		oldest := s.cacheOrder[0]
		s.cacheOrder = s.cacheOrder[1:]
		delete(s.cache, oldest)
	}
}

// Stats returns a snapshot of the session's memory usage.
func (s *Session) Stats() Stats {
	return Stats{
		ID:            s.id,
		StartedAt:     s.startedAt,
		ExchangeCount: len(s.exchanges),
		CacheEntries:  len(s.cache),
	}
}

func normalize(message string) string {
	return strings.Join(strings.Fields(strings.ToLower(message)), " ")
}

func wordSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Store manages session lifecycle, keyed by conversation identifier.
// Sessions are created lazily and live until explicitly deleted.
type Store interface {
	// GetOrCreate returns the session for id, creating it on first use.
	GetOrCreate(id string) *Session

	// Get returns an existing session.
	Get(id string) (*Session, bool)

	// Delete removes a session.
	Delete(id string)

	// List returns all live session identifiers, sorted.
	List() []string

	// Reset drops all sessions.
	Reset()
}

// InMemoryStore is the in-process Store implementation.
type InMemoryStore struct {
	limits   Limits
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryStore creates a store applying the given limits to every
// session it creates.
func NewInMemoryStore(limits Limits) *InMemoryStore {
	return &InMemoryStore{
		limits:   limits,
		sessions: make(map[string]*Session),
	}
}

func (s *InMemoryStore) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := newSession(id, s.limits)
	s.sessions[id] = sess
	return sess
}

func (s *InMemoryStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *InMemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *InMemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *InMemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
}

var _ Store = (*InMemoryStore)(nil)
