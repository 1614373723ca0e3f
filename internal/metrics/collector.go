package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/rpc"
)

// Sources supplies the statistics the Collector reports. Nil sources are
// skipped.
type Sources struct {
	Bus    func() event.Stats
	Client func() rpc.ClientStats
	Server func() rpc.ServerStats
}

// Collector implements prometheus.Collector over Sources.
type Collector struct {
	sources Sources

	busPublished   *prometheus.Desc
	busDropped     *prometheus.Desc
	busHandlers    *prometheus.Desc
	busActiveSubs  *prometheus.Desc
	busQueueDepth  *prometheus.Desc
	rpcRequests    *prometheus.Desc
	rpcOutcomes    *prometheus.Desc
	rpcLateReplies *prometheus.Desc
	rpcPending     *prometheus.Desc
	rpcResponders  *prometheus.Desc
	rpcInFlight    *prometheus.Desc
	rpcServed      *prometheus.Desc
}

// NewCollector creates a Collector whose metric names start with namespace.
func NewCollector(namespace string, sources Sources) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	return &Collector{
		sources:        sources,
		busPublished:   desc("bus", "messages_published_total", "Publishes that reached at least one subscriber."),
		busDropped:     desc("bus", "messages_dropped_total", "Async deliveries rejected by a full queue."),
		busHandlers:    desc("bus", "handler_executions_total", "Handler executions by result.", "result"),
		busActiveSubs:  desc("bus", "active_subscriptions", "Active subscriptions."),
		busQueueDepth:  desc("bus", "queue_depth", "Async deliveries waiting for a worker."),
		rpcRequests:    desc("rpc", "requests_total", "Requests and gathers issued."),
		rpcOutcomes:    desc("rpc", "request_failures_total", "Failed requests by reason.", "reason"),
		rpcLateReplies: desc("rpc", "late_replies_total", "Replies that arrived after their request settled."),
		rpcPending:     desc("rpc", "pending_requests", "Requests waiting for a reply."),
		rpcResponders:  desc("rpc", "responders", "Registered responders by kind.", "kind"),
		rpcInFlight:    desc("rpc", "in_flight", "Requests being served."),
		rpcServed:      desc("rpc", "served_total", "Requests served by result.", "result"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.busPublished, c.busDropped, c.busHandlers, c.busActiveSubs, c.busQueueDepth,
		c.rpcRequests, c.rpcOutcomes, c.rpcLateReplies, c.rpcPending,
		c.rpcResponders, c.rpcInFlight, c.rpcServed,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	if c.sources.Bus != nil {
		s := c.sources.Bus()
		counter(c.busPublished, s.MessagesPublished)
		counter(c.busDropped, s.MessagesDropped)
		counter(c.busHandlers, s.HandlersSucceeded, "success")
		counter(c.busHandlers, s.HandlerErrors, "error")
		counter(c.busHandlers, s.HandlerPanics, "panic")
		gauge(c.busActiveSubs, float64(s.ActiveSubscriptions))
		gauge(c.busQueueDepth, float64(s.QueueDepth))
	}

	if c.sources.Client != nil {
		s := c.sources.Client()
		counter(c.rpcRequests, s.Requests)
		counter(c.rpcOutcomes, s.NoResponder, "no_responder")
		counter(c.rpcOutcomes, s.Timeouts, "timeout")
		counter(c.rpcOutcomes, s.ResponderFailures, "responder")
		counter(c.rpcLateReplies, s.LateReplies)
		gauge(c.rpcPending, float64(s.Pending))
	}

	if c.sources.Server != nil {
		s := c.sources.Server()
		gauge(c.rpcResponders, float64(s.Responders), "responder")
		gauge(c.rpcResponders, float64(s.Members), "group_member")
		gauge(c.rpcInFlight, float64(s.InFlight))
		counter(c.rpcServed, s.Served, "success")
		counter(c.rpcServed, s.Failed, "error")
		counter(c.rpcServed, s.Panicked, "panic")
	}
}
