// Package correlator joins "before call" observations to later completion
// signals for the same session and tool.
//
// The host gives no shared call identifier, so matching is FIFO within a
// time window. This is a heuristic: it is correct as long as calls to the
// same tool within one session complete in the order they started.
package correlator

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCapacity is the number of pending starts kept per (session, tool).
	DefaultCapacity = 40
	// DefaultWindow is how long a start stays matchable.
	DefaultWindow = 30 * time.Second
	// DefaultMaxKeys bounds the number of tracked (session, tool) pairs.
	DefaultMaxKeys = 4096
)

// Observation is a pending "before call" sighting.
type Observation struct {
	SessionKey string
	ToolName   string
	ObservedAt time.Time
	Summary    string
	Paths      []string
	URL        string

	// Fingerprint identifies the call's parameters for completions that
	// arrive without them.
	Fingerprint string
}

// Options configures a Correlator. Zero values use the defaults.
type Options struct {
	Capacity int
	Window   time.Duration
	MaxKeys  int
	Now      func() time.Time
}

// Stats is a point-in-time view of correlator occupancy.
type Stats struct {
	Pairs   int
	Pending int
	Dropped uint64
}

type pairKey struct {
	session string
	tool    string
}

// Correlator holds bounded per-(session, tool) queues of pending starts.
// Every access evicts expired entries, so no background sweep is needed.
type Correlator struct {
	mu       sync.Mutex
	queues   *lru.Cache[pairKey, *queue]
	capacity int
	window   time.Duration
	now      func() time.Time
	dropped  uint64
}

// New creates a Correlator.
func New(opts Options) *Correlator {
	c := &Correlator{
		capacity: opts.Capacity,
		window:   opts.Window,
		now:      opts.Now,
	}
	if c.capacity <= 0 {
		c.capacity = DefaultCapacity
	}
	if c.window <= 0 {
		c.window = DefaultWindow
	}
	if c.now == nil {
		c.now = time.Now
	}
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	// Size is always positive here, so construction cannot fail.
	c.queues, _ = lru.NewWithEvict(maxKeys, func(_ pairKey, q *queue) {
		c.dropped += uint64(q.len())
	})
	return c
}

// Window returns the default match window.
func (c *Correlator) Window() time.Duration {
	return c.window
}

// Record appends a start observation. ObservedAt defaults to now. When the
// queue is full the oldest observation is evicted.
func (c *Correlator) Record(obs Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = now
	}

	key := pairKey{session: obs.SessionKey, tool: obs.ToolName}
	q, ok := c.queues.Get(key)
	if !ok {
		q = &queue{}
		c.queues.Add(key, q)
	}
	c.dropped += uint64(q.expire(now, c.window))
	if q.push(obs, c.capacity) {
		c.dropped++
	}
}

// Consume discards expired observations for the pair and pops the oldest
// remaining one. A non-positive maxAge uses the default window.
func (c *Correlator) Consume(sessionKey, toolName string, maxAge time.Duration) (Observation, bool) {
	if maxAge <= 0 {
		maxAge = c.window
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := pairKey{session: sessionKey, tool: toolName}
	q, ok := c.queues.Peek(key)
	if !ok {
		return Observation{}, false
	}

	c.dropped += uint64(q.expire(c.now(), maxAge))
	obs, found := q.pop()
	if q.len() == 0 {
		c.queues.Remove(key)
	}
	return obs, found
}

// Len returns the number of pending observations for a pair, after expiry.
func (c *Correlator) Len(sessionKey, toolName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues.Peek(pairKey{session: sessionKey, tool: toolName})
	if !ok {
		return 0
	}
	c.dropped += uint64(q.expire(c.now(), c.window))
	return q.len()
}

// Stats reports tracked pairs, pending observations and the number of
// observations discarded without a match.
func (c *Correlator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Pairs: c.queues.Len(), Dropped: c.dropped}
	for _, q := range c.queues.Values() {
		s.Pending += q.len()
	}
	return s
}
