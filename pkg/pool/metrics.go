package pool

import (
	"sync/atomic"

	"github.com/oursky/kube-agent-pool/pkg/utils/promutil"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	manager *Manager

	created           atomic.Int64
	rejectedDuplicate atomic.Int64
	rejectedCapacity  atomic.Int64
	terminated        atomic.Int64

	instances       *promutil.MetricDesc
	createdTotal    *promutil.MetricDesc
	rejectedTotal   *promutil.MetricDesc
	terminatedTotal *promutil.MetricDesc
}

func newMetrics(manager *Manager) *metrics {
	return &metrics{
		manager: manager,

		instances: promutil.NewMetricDesc(prometheus.Opts{
			Namespace: "kube_agent_pool",
			Subsystem: "instance",
			Name:      "count",
			Help:      "Number of tracked instances.",
		}),
		createdTotal: promutil.NewMetricDesc(prometheus.Opts{
			Namespace: "kube_agent_pool",
			Subsystem: "instance",
			Name:      "created_total",
			Help:      "Number of instances created.",
		}),
		rejectedTotal: promutil.NewMetricDesc(prometheus.Opts{
			Namespace: "kube_agent_pool",
			Subsystem: "instance",
			Name:      "rejected_total",
			Help:      "Number of creation requests rejected.",
		}),
		terminatedTotal: promutil.NewMetricDesc(prometheus.Opts{
			Namespace: "kube_agent_pool",
			Subsystem: "instance",
			Name:      "terminated_total",
			Help:      "Number of instances terminated.",
		}),
	}
}

func (m *metrics) Describe(ch chan<- *prometheus.Desc) {}

func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	type key struct {
		endpoint, namespace string
		podState            PodState
		agentState          AgentState
	}

	for _, p := range m.manager.knownPools() {
		counts := make(map[key]int)
		for _, i := range p.registry.All() {
			counts[key{p.cluster.Endpoint, p.cluster.Namespace, i.PodState, i.AgentState}]++
		}
		for k, n := range counts {
			ch <- m.instances.Gauge(float64(n), prometheus.Labels{
				"endpoint":    k.endpoint,
				"namespace":   k.namespace,
				"pod_state":   string(k.podState),
				"agent_state": string(k.agentState),
			})
		}
	}

	ch <- m.createdTotal.Counter(float64(m.created.Load()), nil)
	ch <- m.rejectedTotal.Counter(float64(m.rejectedDuplicate.Load()), prometheus.Labels{"reason": "duplicate"})
	ch <- m.rejectedTotal.Counter(float64(m.rejectedCapacity.Load()), prometheus.Labels{"reason": "capacity"})
	ch <- m.terminatedTotal.Counter(float64(m.terminated.Load()), nil)
}
