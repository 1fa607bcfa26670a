package pipeline

import (
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultDedupWindow is how long a completion waits for its twin from the
// other source.
const DefaultDedupWindow = 10 * time.Second

// dedup pairs completions of the same call reported by both after_tool_call
// and tool_result_persist. Per key it counts unpaired completions per source;
// a completion from one source cancels an unpaired one from another source
// and is dropped. Completions from the same source are distinct calls.
type dedup struct {
	mu    sync.Mutex
	cache *cache.Cache
}

type pending struct {
	counts map[string]int
}

func newDedup(window time.Duration) *dedup {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &dedup{cache: cache.New(window, 2*window)}
}

// duplicate reports whether a completion identified by any of keys from
// source is the twin of an earlier one. One source may know a call by its
// id and the other only by its params fingerprint, so every key is checked
// and every key is updated. Empty keys are ignored.
func (d *dedup) duplicate(keys []string, source string) bool {
	keys = compactKeys(keys)
	if len(keys) == 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make([]*pending, len(keys))
	twin := ""
	for i, key := range keys {
		v, ok := d.cache.Get(key)
		if !ok {
			continue
		}
		entries[i] = v.(*pending)
		if twin != "" {
			continue
		}
		for other, n := range entries[i].counts {
			if other != source && n > 0 {
				twin = other
				break
			}
		}
	}

	if twin != "" {
		for _, p := range entries {
			if p != nil && p.counts[twin] > 0 {
				p.counts[twin]--
			}
		}
		return true
	}

	for i, key := range keys {
		p := entries[i]
		if p == nil {
			p = &pending{counts: map[string]int{}}
		}
		p.counts[source]++
		d.cache.Set(key, p, cache.DefaultExpiration)
	}
	return false
}

func compactKeys(keys []string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if k == "" || slices.Contains(out, k) {
			continue
		}
		out = append(out, k)
	}
	return out
}
