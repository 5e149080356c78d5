package transport

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/internal/clock"
	"avaneesh/malspp-go/pkg/spp"
)

var (
	testFrom = NewAddress(247, 100)
	testTo   = NewAddress(247, 200)
)

type reassemblyFixture struct {
	clock       *clock.FakeClock
	stats       *TransportStatistics
	reassembler *Reassembler
}

func newReassemblyFixture(mutate func(*TransportConfig)) *reassemblyFixture {
	config := DefaultTransportConfig()
	config.ReassemblyTimeout = 10 * time.Second
	config.ContextIdleTimeout = 30 * time.Second
	if mutate != nil {
		mutate(&config)
	}
	f := &reassemblyFixture{
		clock: clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		stats: NewTransportStatistics(),
	}
	f.reassembler = NewReassembler(config, f.clock, f.stats)
	return f
}

// segment builds the segment at index with payload body under h.
func (f *reassemblyFixture) segment(h *header.SecondaryHeader, pos spp.SequenceFlags, index uint32, body []byte) (*header.SecondaryHeader, *Segment) {
	sh := h.Clone()
	sh.Segmented = true
	sh.SegmentCounter = index
	return sh, NewSegment(pos, index, append([]byte(nil), body...), 0, f.clock.Now())
}

func (f *reassemblyFixture) process(t *testing.T, h *header.SecondaryHeader, pos spp.SequenceFlags, index uint32, body []byte) []Reassembled {
	t.Helper()
	sh, seg := f.segment(h, pos, index, body)
	ready, err := f.reassembler.Process(KeyOf(sh, testFrom, testTo), sh, seg)
	if err != nil {
		t.Fatalf("Process(%s, %d) failed: %v", pos, index, err)
	}
	return ready
}

func TestReassembler_InOrder(t *testing.T) {
	f := newReassemblyFixture(nil)
	h := testHeader()

	parts := [][]byte{[]byte("alpha-"), []byte("beta-"), []byte("gamma")}
	positions := []spp.SequenceFlags{spp.SeqFirst, spp.SeqContinuation, spp.SeqLast}

	var ready []Reassembled
	for i, part := range parts {
		ready = f.process(t, h, positions[i], uint32(i), part)
		if i < len(parts)-1 && len(ready) != 0 {
			t.Fatalf("Message completed early at segment %d", i)
		}
	}

	if len(ready) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(ready))
	}
	if string(ready[0].Body) != "alpha-beta-gamma" {
		t.Errorf("Expected body alpha-beta-gamma, got %q", ready[0].Body)
	}
	if ready[0].Header.Segmented || ready[0].Header.SegmentCounter != 0 {
		t.Error("Delivered header still carries segmentation")
	}
	if f.reassembler.Active() != 0 {
		t.Errorf("Expected no active contexts, got %d", f.reassembler.Active())
	}
}

func TestReassembler_OutOfOrder(t *testing.T) {
	orders := [][]int{
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{2, 0, 3, 1},
	}

	for _, order := range orders {
		f := newReassemblyFixture(nil)
		h := testHeader()
		body := bytes.Repeat([]byte{0xAB}, 200)
		chunks := [][]byte{body[0:60], body[60:120], body[120:180], body[180:200]}
		positions := []spp.SequenceFlags{spp.SeqFirst, spp.SeqContinuation, spp.SeqContinuation, spp.SeqLast}

		var delivered []Reassembled
		for _, i := range order {
			delivered = append(delivered, f.process(t, h, positions[i], uint32(i), chunks[i])...)
		}

		if len(delivered) != 1 {
			t.Fatalf("Order %v: expected 1 message, got %d", order, len(delivered))
		}
		if !bytes.Equal(delivered[0].Body, body) {
			t.Errorf("Order %v: body mismatch", order)
		}
	}
}

func TestReassembler_GapHoldsMessage(t *testing.T) {
	f := newReassemblyFixture(nil)
	h := testHeader()

	f.process(t, h, spp.SeqFirst, 0, []byte("a"))
	f.process(t, h, spp.SeqContinuation, 1, []byte("b"))
	if ready := f.process(t, h, spp.SeqLast, 3, []byte("d")); len(ready) != 0 {
		t.Fatal("Message delivered across a gap")
	}

	key := KeyOf(h, testFrom, testTo)
	if got := f.reassembler.Pending(key); got != 3 {
		t.Errorf("Expected 3 pending segments, got %d", got)
	}

	ready := f.process(t, h, spp.SeqContinuation, 2, []byte("c"))
	if len(ready) != 1 || string(ready[0].Body) != "abcd" {
		t.Fatalf("Expected abcd once the gap filled, got %v", ready)
	}
}

func TestReassembler_TimeoutPurgesOldSegments(t *testing.T) {
	f := newReassemblyFixture(nil)
	h := testHeader()

	f.process(t, h, spp.SeqFirst, 0, []byte("old"))
	f.clock.Advance(11 * time.Second)

	// The stale start segment is purged, so the late run cannot complete
	ready := f.process(t, h, spp.SeqLast, 1, []byte("new"))
	if len(ready) != 0 {
		t.Fatalf("Expected no message after timeout, got %d", len(ready))
	}
	if got := f.stats.GetTimeoutErrors(); got != 1 {
		t.Errorf("Expected 1 timeout error, got %d", got)
	}
	if got := f.reassembler.Pending(KeyOf(h, testFrom, testTo)); got != 1 {
		t.Errorf("Expected 1 pending segment, got %d", got)
	}
}

func TestReassembler_KeysSeparateTransactions(t *testing.T) {
	f := newReassemblyFixture(nil)
	h1 := testHeader()
	h2 := testHeader()
	h2.TransactionID = h1.TransactionID + 1

	f.process(t, h1, spp.SeqFirst, 0, []byte("one-"))
	f.process(t, h2, spp.SeqFirst, 0, []byte("two-"))
	if got := f.reassembler.Active(); got != 2 {
		t.Fatalf("Expected 2 contexts, got %d", got)
	}

	r2 := f.process(t, h2, spp.SeqLast, 1, []byte("B"))
	r1 := f.process(t, h1, spp.SeqLast, 1, []byte("A"))
	if len(r1) != 1 || string(r1[0].Body) != "one-A" {
		t.Errorf("Transaction 1: unexpected result %v", r1)
	}
	if len(r2) != 1 || string(r2[0].Body) != "two-B" {
		t.Errorf("Transaction 2: unexpected result %v", r2)
	}
	if r1[0].Key == r2[0].Key {
		t.Error("Distinct transactions share a key")
	}
}

func TestReassembler_KeyIgnoresStage(t *testing.T) {
	h := testHeader()
	ack := h.Clone()
	ack.SDUType = h.SDUType + 1

	if KeyOf(h, testFrom, testTo) != KeyOf(ack, testFrom, testTo) {
		t.Error("Stages of one interaction produce different keys")
	}
	if KeyOf(h, testFrom, testTo) == KeyOf(h, testTo, testFrom) {
		t.Error("Swapped addresses produce the same key")
	}
}

func TestReassembler_DuplicateSegment(t *testing.T) {
	f := newReassemblyFixture(nil)
	h := testHeader()

	f.process(t, h, spp.SeqFirst, 0, []byte("x"))
	f.process(t, h, spp.SeqFirst, 0, []byte("y"))
	ready := f.process(t, h, spp.SeqLast, 1, []byte("z"))

	if len(ready) != 1 || string(ready[0].Body) != "xz" {
		t.Fatalf("Expected xz, got %v", ready)
	}
	if got := f.stats.GetDuplicateSegments(); got != 1 {
		t.Errorf("Expected 1 duplicate, got %d", got)
	}
}

func TestReassembler_UnsegmentedBypass(t *testing.T) {
	f := newReassemblyFixture(nil)
	h := testHeader()
	seg := NewSegment(spp.SeqUnsegmented, 0, []byte("whole"), 0, f.clock.Now())

	ready, err := f.reassembler.Process(KeyOf(h, testFrom, testTo), h, seg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(ready) != 1 || string(ready[0].Body) != "whole" {
		t.Fatalf("Expected immediate delivery, got %v", ready)
	}
	if ready[0].Header != h {
		t.Error("Unsegmented delivery should pass the header through")
	}
	if f.reassembler.Active() != 0 {
		t.Error("Unsegmented packet created a context")
	}
}

func TestReassembler_BufferOverflow(t *testing.T) {
	f := newReassemblyFixture(func(c *TransportConfig) { c.MaxReassemblySize = 100 })
	h := testHeader()

	f.process(t, h, spp.SeqFirst, 0, make([]byte, 60))
	sh, seg := f.segment(h, spp.SeqContinuation, 1, make([]byte, 60))
	_, err := f.reassembler.Process(KeyOf(sh, testFrom, testTo), sh, seg)
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("Expected ErrBufferOverflow, got %v", err)
	}
	if f.reassembler.Active() != 0 {
		t.Error("Overflowing context was not dropped")
	}
	if got := f.stats.GetBufferOverflows(); got != 1 {
		t.Errorf("Expected 1 overflow, got %d", got)
	}
}

func TestReassembler_SweepEvictsIdleContexts(t *testing.T) {
	f := newReassemblyFixture(nil)
	h1 := testHeader()
	h2 := testHeader()
	h2.TransactionID = 99

	f.process(t, h1, spp.SeqFirst, 0, []byte("a"))
	f.process(t, h1, spp.SeqContinuation, 1, []byte("b"))
	f.clock.Advance(20 * time.Second)
	f.process(t, h2, spp.SeqFirst, 0, []byte("c"))

	f.clock.Advance(15 * time.Second)
	if n := f.reassembler.Sweep(); n != 1 {
		t.Fatalf("Expected 1 eviction, got %d", n)
	}
	if f.reassembler.Pending(KeyOf(h1, testFrom, testTo)) != 0 {
		t.Error("Idle context survived the sweep")
	}
	if f.reassembler.Pending(KeyOf(h2, testFrom, testTo)) != 1 {
		t.Error("Active context was evicted")
	}
	if got := f.stats.GetEvictedContexts(); got != 1 {
		t.Errorf("Expected 1 evicted context, got %d", got)
	}

	f.clock.Advance(30 * time.Second)
	if n := f.reassembler.Sweep(); n != 1 {
		t.Fatalf("Expected second eviction, got %d", n)
	}
	if f.reassembler.Active() != 0 {
		t.Errorf("Expected no contexts, got %d", f.reassembler.Active())
	}
}

func TestReassembler_StartSegmentPinsHeader(t *testing.T) {
	f := newReassemblyFixture(nil)

	cont := testHeader()
	cont.SetPriority(5)
	start := testHeader()
	start.SetPriority(9)

	f.process(t, cont, spp.SeqContinuation, 1, []byte("b"))
	f.process(t, start, spp.SeqFirst, 0, []byte("a"))
	ready := f.process(t, cont, spp.SeqLast, 2, []byte("c"))

	if len(ready) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(ready))
	}
	if ready[0].Header.Priority != 9 {
		t.Errorf("Expected header of start segment (priority 9), got %d", ready[0].Header.Priority)
	}
}

func TestReassembler_ExpiredSegmentDoesNotShadowFreshOne(t *testing.T) {
	f := newReassemblyFixture(nil)
	h := testHeader()

	f.process(t, h, spp.SeqFirst, 0, []byte("stale"))
	f.clock.Advance(20 * time.Second)

	f.process(t, h, spp.SeqFirst, 0, []byte("fresh-"))
	ready := f.process(t, h, spp.SeqLast, 1, []byte("end"))

	if len(ready) != 1 || string(ready[0].Body) != "fresh-end" {
		t.Fatalf("Expected fresh-end delivered, got %v", ready)
	}
	if got := f.stats.GetDuplicateSegments(); got != 0 {
		t.Errorf("Expected 0 duplicate segments, got %d", got)
	}
	if got := f.stats.GetTimeoutErrors(); got != 1 {
		t.Errorf("Expected 1 timeout error, got %d", got)
	}
	if f.reassembler.Active() != 0 {
		t.Errorf("Expected no contexts, got %d", f.reassembler.Active())
	}
}

func TestReassembler_ExpiredSegmentsDoNotCountTowardsSize(t *testing.T) {
	f := newReassemblyFixture(func(c *TransportConfig) { c.MaxReassemblySize = 100 })
	h := testHeader()

	f.process(t, h, spp.SeqContinuation, 7, make([]byte, 80))
	f.clock.Advance(20 * time.Second)

	sh, seg := f.segment(h, spp.SeqFirst, 0, make([]byte, 30))
	if _, err := f.reassembler.Process(KeyOf(sh, testFrom, testTo), sh, seg); err != nil {
		t.Fatalf("Expected fresh start to be buffered, got %v", err)
	}
	if got := f.stats.GetBufferOverflows(); got != 0 {
		t.Errorf("Expected 0 overflows, got %d", got)
	}
	if got := f.reassembler.Pending(KeyOf(h, testFrom, testTo)); got != 1 {
		t.Errorf("Expected 1 pending segment, got %d", got)
	}
}

func TestReassembler_ExpiredStartReleasesHeader(t *testing.T) {
	f := newReassemblyFixture(nil)

	stale := testHeader()
	stale.SetPriority(1)
	fresh := testHeader()
	fresh.SetPriority(2)

	f.process(t, stale, spp.SeqFirst, 0, []byte("old"))
	f.process(t, stale, spp.SeqContinuation, 5, []byte("x"))
	f.clock.Advance(6 * time.Second)
	// The orphan continuation keeps the context alive past the start.
	f.process(t, stale, spp.SeqContinuation, 6, []byte("y"))
	f.clock.Advance(6 * time.Second)

	f.process(t, fresh, spp.SeqFirst, 0, []byte("new-"))
	ready := f.process(t, fresh, spp.SeqLast, 1, []byte("end"))

	if len(ready) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(ready))
	}
	if string(ready[0].Body) != "new-end" {
		t.Errorf("Expected body new-end, got %q", ready[0].Body)
	}
	if ready[0].Header.Priority != 2 {
		t.Errorf("Expected header of the fresh start (priority 2), got %d", ready[0].Header.Priority)
	}
}

func TestReassembler_SequentialMessagesOnOneKey(t *testing.T) {
	f := newReassemblyFixture(nil)
	first := testHeader()
	first.SetPriority(1)
	second := testHeader()
	second.SetPriority(2)

	f.process(t, first, spp.SeqFirst, 0, []byte("m1-"))
	r1 := f.process(t, first, spp.SeqLast, 1, []byte("end"))
	f.process(t, second, spp.SeqFirst, 0, []byte("m2-"))
	r2 := f.process(t, second, spp.SeqLast, 1, []byte("end"))

	if len(r1) != 1 || len(r2) != 1 {
		t.Fatalf("Expected one message each, got %d and %d", len(r1), len(r2))
	}
	if string(r1[0].Body) != "m1-end" || string(r2[0].Body) != "m2-end" {
		t.Errorf("Unexpected bodies %q and %q", r1[0].Body, r2[0].Body)
	}
	if r2[0].Header.Priority != 2 {
		t.Errorf("Second message kept the first message's header")
	}
}

func TestReassembler_Abort(t *testing.T) {
	f := newReassemblyFixture(nil)
	h := testHeader()
	f.process(t, h, spp.SeqFirst, 0, []byte("a"))

	key := KeyOf(h, testFrom, testTo)
	if !f.reassembler.Abort(key) {
		t.Fatal("Abort reported no context")
	}
	if f.reassembler.Abort(key) {
		t.Error("Second abort reported a context")
	}
	if ready := f.process(t, h, spp.SeqLast, 1, []byte("b")); len(ready) != 0 {
		t.Error("Message completed after abort")
	}
}
