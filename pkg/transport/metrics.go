package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "malspp"

type counterMetric struct {
	desc  *prometheus.Desc
	value func(*TransportStatistics) uint64
}

func newCounter(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "transport", name),
		help, []string{"transport"}, nil,
	)
}

// Collector exports the statistics of a set of transports to
// Prometheus. Values are read from the transports at scrape time.
type Collector struct {
	transports []*Transport
	counters   []counterMetric
	contexts   *prometheus.Desc
	endpoints  *prometheus.Desc
}

// NewCollector returns a collector for transports.
func NewCollector(transports ...*Transport) *Collector {
	return &Collector{
		transports: transports,
		counters: []counterMetric{
			{newCounter("tx_packets_total", "Space packets sent."), (*TransportStatistics).GetTxPackets},
			{newCounter("rx_packets_total", "Space packets received."), (*TransportStatistics).GetRxPackets},
			{newCounter("tx_messages_total", "MAL messages sent."), (*TransportStatistics).GetTxMessages},
			{newCounter("rx_messages_total", "MAL messages delivered to endpoints."), (*TransportStatistics).GetRxMessages},
			{newCounter("malformed_packets_total", "Packets discarded for a malformed header."), (*TransportStatistics).GetMalformedPackets},
			{newCounter("duplicate_segments_total", "Segments dropped as duplicates."), (*TransportStatistics).GetDuplicateSegments},
			{newCounter("segment_timeouts_total", "Segments purged before their message completed."), (*TransportStatistics).GetTimeoutErrors},
			{newCounter("buffer_overflows_total", "Messages dropped for exceeding the reassembly size."), (*TransportStatistics).GetBufferOverflows},
			{newCounter("unknown_destinations_total", "Messages addressed to no local endpoint."), (*TransportStatistics).GetUnknownDestinations},
			{newCounter("dropped_deliveries_total", "Messages dropped on a full endpoint queue."), (*TransportStatistics).GetDroppedDeliveries},
			{newCounter("evicted_contexts_total", "Segmentation contexts removed by the idle sweep."), (*TransportStatistics).GetEvictedContexts},
		},
		contexts: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "transport", "reassembly_contexts"),
			"Messages currently being reassembled.", []string{"transport"}, nil,
		),
		endpoints: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "transport", "endpoints"),
			"Registered local endpoints.", []string{"transport"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.counters {
		ch <- m.desc
	}
	ch <- c.contexts
	ch <- c.endpoints
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range c.transports {
		stats := t.Statistics()
		for _, m := range c.counters {
			ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.value(stats)), t.id)
		}
		ch <- prometheus.MustNewConstMetric(c.contexts, prometheus.GaugeValue, float64(t.Reassembling()), t.id)

		t.mu.RLock()
		n := len(t.endpoints)
		t.mu.RUnlock()
		ch <- prometheus.MustNewConstMetric(c.endpoints, prometheus.GaugeValue, float64(n), t.id)
	}
}
