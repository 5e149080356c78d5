package transport

import (
	"errors"
	"sort"
	"sync"
	"time"

	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/internal/clock"
	"avaneesh/malspp-go/pkg/internal/queue"
	"avaneesh/malspp-go/pkg/spp"
)

var (
	ErrBufferOverflow = errors.New("reassembly buffer overflow")
)

// Reassembled is a complete logical message produced by the reassembler.
type Reassembled struct {
	Key    SegmentationKey
	Header *header.SecondaryHeader
	Body   []byte
}

// segmentationContext aggregates the segments of one key.
type segmentationContext struct {
	// header is the header of the first packet seen for the key until a
	// start segment arrives, whose header is then pinned.
	header *header.SecondaryHeader
	pinned bool

	segments    []*Segment // sorted by Index
	size        int
	lastArrival time.Time
}

// insert adds s in index order. A segment whose index is already
// buffered is dropped and insert reports false.
func (c *segmentationContext) insert(s *Segment) bool {
	i := sort.Search(len(c.segments), func(i int) bool {
		return c.segments[i].Index >= s.Index
	})
	if i < len(c.segments) && c.segments[i].Index == s.Index {
		return false
	}
	c.segments = append(c.segments, nil)
	copy(c.segments[i+1:], c.segments[i:])
	c.segments[i] = s
	c.size += s.Len()
	return true
}

// purge drops segments that arrived before cutoff and returns how many.
func (c *segmentationContext) purge(cutoff time.Time) int {
	kept := c.segments[:0]
	for _, s := range c.segments {
		if s.Arrival.Before(cutoff) {
			c.size -= s.Len()
			continue
		}
		kept = append(kept, s)
	}
	n := len(c.segments) - len(kept)
	clear(c.segments[len(kept):])
	c.segments = kept
	return n
}

func (c *segmentationContext) hasStart() bool {
	for _, s := range c.segments {
		if s.Position == spp.SeqFirst {
			return true
		}
	}
	return false
}

// collect removes and returns the body of every complete run
// start, continuation*, end with contiguous indices.
func (c *segmentationContext) collect() [][]byte {
	var bodies [][]byte
	runStart := -1
	for j := 0; j < len(c.segments); j++ {
		s := c.segments[j]
		switch s.Position {
		case spp.SeqFirst:
			runStart = j
			continue
		case spp.SeqContinuation, spp.SeqLast:
			if runStart < 0 || s.Index != c.segments[j-1].Index+1 {
				runStart = -1
				continue
			}
		}
		if s.Position == spp.SeqLast {
			bodies = append(bodies, c.splice(runStart, j+1))
			j = runStart - 1
			runStart = -1
		}
	}
	return bodies
}

// splice concatenates segments[from:to] and removes them.
func (c *segmentationContext) splice(from, to int) []byte {
	n := 0
	for _, s := range c.segments[from:to] {
		n += s.Len()
	}
	body := make([]byte, 0, n)
	for _, s := range c.segments[from:to] {
		body = append(body, s.Payload()...)
	}
	c.size -= n
	c.segments = append(c.segments[:from], c.segments[to:]...)
	return body
}

// Reassembler rebuilds logical messages from segments of many keys.
// Contexts are created lazily, evicted once empty, and swept when idle.
type Reassembler struct {
	contexts map[SegmentationKey]*segmentationContext
	expiry   *queue.PriorityQueue[SegmentationKey]

	timeout time.Duration
	idle    time.Duration
	maxSize int

	clock clock.Clock
	stats *TransportStatistics

	mu sync.Mutex
}

// NewReassembler creates a new reassembler using the timeouts and size
// bound of config.
func NewReassembler(config TransportConfig, clk clock.Clock, stats *TransportStatistics) *Reassembler {
	if clk == nil {
		clk = clock.Real()
	}
	if stats == nil {
		stats = NewTransportStatistics()
	}
	idle := config.ContextIdleTimeout
	if idle <= 0 {
		idle = config.ReassemblyTimeout
	}
	return &Reassembler{
		contexts: make(map[SegmentationKey]*segmentationContext),
		expiry:   queue.NewPriorityQueue[SegmentationKey](),
		timeout:  config.ReassemblyTimeout,
		idle:     idle,
		maxSize:  config.MaxReassemblySize,
		clock:    clk,
		stats:    stats,
	}
}

// Process adds a segment carried with header h under key and returns
// every message it completes. Unsegmented segments are returned
// immediately without touching any context.
func (r *Reassembler) Process(key SegmentationKey, h *header.SecondaryHeader, seg *Segment) ([]Reassembled, error) {
	if seg.Position == spp.SeqUnsegmented {
		return []Reassembled{{Key: key, Header: h, Body: seg.Payload()}}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	ctx, exists := r.contexts[key]
	if !exists {
		ctx = &segmentationContext{header: h}
		r.contexts[key] = ctx
	}

	// Expired segments go first so they can neither shadow a fresh
	// segment at the same index nor count towards the size bound.
	if r.timeout > 0 {
		if n := ctx.purge(now.Add(-r.timeout)); n > 0 {
			r.stats.IncrementTimeoutErrors(n)
			// A purged start no longer owns the header.
			if len(ctx.segments) == 0 || (ctx.pinned && !ctx.hasStart()) {
				ctx.header = h
				ctx.pinned = false
			}
		}
	}

	if seg.Position == spp.SeqFirst && !ctx.pinned {
		ctx.header = h
		ctx.pinned = true
	}
	ctx.lastArrival = now

	if !ctx.insert(seg) {
		r.stats.IncrementDuplicateSegments()
	}
	if r.maxSize > 0 && ctx.size > r.maxSize {
		delete(r.contexts, key)
		r.stats.IncrementBufferOverflows()
		return nil, ErrBufferOverflow
	}

	var ready []Reassembled
	for _, body := range ctx.collect() {
		msgHeader := ctx.header.Clone()
		msgHeader.Segmented = false
		msgHeader.SegmentCounter = 0
		ready = append(ready, Reassembled{Key: key, Header: msgHeader, Body: body})
		ctx.pinned = false
	}

	if len(ctx.segments) == 0 {
		delete(r.contexts, key)
	} else {
		r.expiry.Push(key, 0, now.Add(r.idle))
	}
	return ready, nil
}

// Sweep evicts every context that has been idle for the idle timeout
// and returns how many were removed.
func (r *Reassembler) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	evicted := 0
	for {
		key, ok := r.expiry.NextReady(now)
		if !ok {
			break
		}
		ctx, exists := r.contexts[key]
		if !exists || now.Sub(ctx.lastArrival) < r.idle {
			continue
		}
		r.stats.IncrementTimeoutErrors(len(ctx.segments))
		delete(r.contexts, key)
		evicted++
	}
	if evicted > 0 {
		r.stats.IncrementEvictedContexts(evicted)
	}
	return evicted
}

// Abort drops the pending segments of key. It reports whether a context
// existed.
func (r *Reassembler) Abort(key SegmentationKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.contexts[key]
	delete(r.contexts, key)
	return exists
}

// Active returns the number of contexts holding segments.
func (r *Reassembler) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Pending returns the number of buffered segments for key.
func (r *Reassembler) Pending(key SegmentationKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx, exists := r.contexts[key]; exists {
		return len(ctx.segments)
	}
	return 0
}

// Keys returns the keys of all active contexts.
func (r *Reassembler) Keys() []SegmentationKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]SegmentationKey, 0, len(r.contexts))
	for k := range r.contexts {
		keys = append(keys, k)
	}
	return keys
}

// Reset drops every context.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.contexts = make(map[SegmentationKey]*segmentationContext)
	r.expiry.Clear()
}
