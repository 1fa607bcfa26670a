package correlator

import "time"

// queue is a FIFO arena. Live items are items[head:]; the consumed prefix is
// reclaimed once it outgrows the live part.
type queue struct {
	items []Observation
	head  int
}

func (q *queue) len() int {
	return len(q.items) - q.head
}

// push appends obs and reports whether the oldest entry was evicted to stay
// within capacity.
func (q *queue) push(obs Observation, capacity int) bool {
	evicted := false
	if q.len() >= capacity {
		q.items[q.head] = Observation{}
		q.head++
		evicted = true
	}
	q.items = append(q.items, obs)
	q.compact()
	return evicted
}

func (q *queue) pop() (Observation, bool) {
	if q.len() == 0 {
		return Observation{}, false
	}
	obs := q.items[q.head]
	q.items[q.head] = Observation{}
	q.head++
	q.compact()
	return obs, true
}

// expire drops head entries older than maxAge and returns how many it dropped.
func (q *queue) expire(now time.Time, maxAge time.Duration) int {
	n := 0
	for q.len() > 0 && now.Sub(q.items[q.head].ObservedAt) > maxAge {
		q.items[q.head] = Observation{}
		q.head++
		n++
	}
	if n > 0 {
		q.compact()
	}
	return n
}

func (q *queue) compact() {
	if q.head == 0 {
		return
	}
	if q.len() == 0 {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head < q.len() {
		return
	}
	n := copy(q.items, q.items[q.head:])
	clear(q.items[n:])
	q.items = q.items[:n]
	q.head = 0
}
