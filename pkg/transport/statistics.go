package transport

import (
	"sync/atomic"
	"time"
)

// TransportStatistics tracks transport layer metrics
type TransportStatistics struct {
	// Packet counts
	TxPackets uint64
	RxPackets uint64

	// Message counts
	TxMessages uint64
	RxMessages uint64

	// Error counts
	MalformedPackets    uint64
	DuplicateSegments   uint64
	TimeoutErrors       uint64
	BufferOverflows     uint64
	UnknownDestinations uint64
	DroppedDeliveries   uint64
	EvictedContexts     uint64

	// Timing (stored as Unix nano for atomic operations)
	lastTxTimeNano int64
	lastRxTimeNano int64
}

// NewTransportStatistics creates a new statistics tracker
func NewTransportStatistics() *TransportStatistics {
	return &TransportStatistics{}
}

// IncrementTxPackets adds n transmitted packets
func (s *TransportStatistics) IncrementTxPackets(n int) {
	atomic.AddUint64(&s.TxPackets, uint64(n))
}

// IncrementRxPackets increments received packet count
func (s *TransportStatistics) IncrementRxPackets() {
	atomic.AddUint64(&s.RxPackets, 1)
}

// IncrementTxMessages increments transmitted message count
func (s *TransportStatistics) IncrementTxMessages() {
	atomic.AddUint64(&s.TxMessages, 1)
	atomic.StoreInt64(&s.lastTxTimeNano, time.Now().UnixNano())
}

// IncrementRxMessages increments received message count
func (s *TransportStatistics) IncrementRxMessages() {
	atomic.AddUint64(&s.RxMessages, 1)
	atomic.StoreInt64(&s.lastRxTimeNano, time.Now().UnixNano())
}

// IncrementMalformedPackets increments malformed packet count
func (s *TransportStatistics) IncrementMalformedPackets() {
	atomic.AddUint64(&s.MalformedPackets, 1)
}

// IncrementDuplicateSegments increments duplicate segment count
func (s *TransportStatistics) IncrementDuplicateSegments() {
	atomic.AddUint64(&s.DuplicateSegments, 1)
}

// IncrementTimeoutErrors adds n segments purged by the reassembly timeout
func (s *TransportStatistics) IncrementTimeoutErrors(n int) {
	atomic.AddUint64(&s.TimeoutErrors, uint64(n))
}

// IncrementBufferOverflows increments buffer overflow count
func (s *TransportStatistics) IncrementBufferOverflows() {
	atomic.AddUint64(&s.BufferOverflows, 1)
}

// IncrementUnknownDestinations increments unknown destination count
func (s *TransportStatistics) IncrementUnknownDestinations() {
	atomic.AddUint64(&s.UnknownDestinations, 1)
}

// IncrementDroppedDeliveries increments the count of messages dropped
// because an endpoint queue was full
func (s *TransportStatistics) IncrementDroppedDeliveries() {
	atomic.AddUint64(&s.DroppedDeliveries, 1)
}

// IncrementEvictedContexts adds n contexts removed by the idle sweep
func (s *TransportStatistics) IncrementEvictedContexts(n int) {
	atomic.AddUint64(&s.EvictedContexts, uint64(n))
}

// GetTxPackets returns transmitted packet count
func (s *TransportStatistics) GetTxPackets() uint64 {
	return atomic.LoadUint64(&s.TxPackets)
}

// GetRxPackets returns received packet count
func (s *TransportStatistics) GetRxPackets() uint64 {
	return atomic.LoadUint64(&s.RxPackets)
}

// GetTxMessages returns transmitted message count
func (s *TransportStatistics) GetTxMessages() uint64 {
	return atomic.LoadUint64(&s.TxMessages)
}

// GetRxMessages returns received message count
func (s *TransportStatistics) GetRxMessages() uint64 {
	return atomic.LoadUint64(&s.RxMessages)
}

// GetMalformedPackets returns malformed packet count
func (s *TransportStatistics) GetMalformedPackets() uint64 {
	return atomic.LoadUint64(&s.MalformedPackets)
}

// GetDuplicateSegments returns duplicate segment count
func (s *TransportStatistics) GetDuplicateSegments() uint64 {
	return atomic.LoadUint64(&s.DuplicateSegments)
}

// GetTimeoutErrors returns the number of segments purged by timeout
func (s *TransportStatistics) GetTimeoutErrors() uint64 {
	return atomic.LoadUint64(&s.TimeoutErrors)
}

// GetBufferOverflows returns buffer overflow count
func (s *TransportStatistics) GetBufferOverflows() uint64 {
	return atomic.LoadUint64(&s.BufferOverflows)
}

// GetUnknownDestinations returns unknown destination count
func (s *TransportStatistics) GetUnknownDestinations() uint64 {
	return atomic.LoadUint64(&s.UnknownDestinations)
}

// GetDroppedDeliveries returns dropped delivery count
func (s *TransportStatistics) GetDroppedDeliveries() uint64 {
	return atomic.LoadUint64(&s.DroppedDeliveries)
}

// GetEvictedContexts returns evicted context count
func (s *TransportStatistics) GetEvictedContexts() uint64 {
	return atomic.LoadUint64(&s.EvictedContexts)
}

// GetLastTxTime returns the last transmission time
func (s *TransportStatistics) GetLastTxTime() time.Time {
	nano := atomic.LoadInt64(&s.lastTxTimeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// GetLastRxTime returns the last reception time
func (s *TransportStatistics) GetLastRxTime() time.Time {
	nano := atomic.LoadInt64(&s.lastRxTimeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Reset resets all statistics to zero
func (s *TransportStatistics) Reset() {
	for _, p := range []*uint64{
		&s.TxPackets, &s.RxPackets, &s.TxMessages, &s.RxMessages,
		&s.MalformedPackets, &s.DuplicateSegments, &s.TimeoutErrors,
		&s.BufferOverflows, &s.UnknownDestinations, &s.DroppedDeliveries,
		&s.EvictedContexts,
	} {
		atomic.StoreUint64(p, 0)
	}
	atomic.StoreInt64(&s.lastTxTimeNano, 0)
	atomic.StoreInt64(&s.lastRxTimeNano, 0)
}
