package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oursky/kube-agent-pool/pkg/ci"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type clusterPool struct {
	key      string
	cluster  ClusterConfig
	lock     *sync.Mutex
	registry *Registry
	// failures counts consecutive failed refreshes; guarded by lock.
	failures int
}

func (p *clusterPool) refreshFailures() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.failures
}

// Manager owns one instance registry per cluster configuration and drives
// creation, reconciliation and job completion against them.
type Manager struct {
	logger   *zap.Logger
	config   *Config
	factory  *Factory
	cluster  ClusterAPI
	ci       CIServer
	clock    Clock
	metrics  *metrics
	notifier Notifier

	lock       *sync.RWMutex
	pools      map[ClusterConfig]*clusterPool
	reconciles *singleflight.Group
}

func NewManager(
	logger *zap.Logger,
	config *Config,
	factory *Factory,
	cluster ClusterAPI,
	ciServer CIServer,
	clock Clock,
	registry *prometheus.Registry,
) *Manager {
	m := &Manager{
		logger:   logger.Named("pool"),
		config:   config,
		factory:  factory,
		cluster:  cluster,
		ci:       ciServer,
		clock:    clock,
		notifier: nopNotifier{},

		lock:       new(sync.RWMutex),
		pools:      make(map[ClusterConfig]*clusterPool),
		reconciles: new(singleflight.Group),
	}
	m.metrics = newMetrics(m)
	if registry != nil {
		registry.MustRegister(m.metrics)
	}
	return m
}

func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

func (m *Manager) pool(cluster ClusterConfig) *clusterPool {
	m.lock.RLock()
	p, ok := m.pools[cluster]
	m.lock.RUnlock()
	if ok {
		return p
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if p, ok := m.pools[cluster]; ok {
		return p
	}
	p = &clusterPool{
		key:      uuid.NewString(),
		cluster:  cluster,
		lock:     new(sync.Mutex),
		registry: NewRegistry(),
	}
	m.pools[cluster] = p
	m.logger.Info("tracking cluster",
		zap.String("endpoint", cluster.Endpoint),
		zap.String("namespace", cluster.Namespace),
	)
	return p
}

func (m *Manager) lookup(cluster ClusterConfig) (*clusterPool, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	p, ok := m.pools[cluster]
	return p, ok
}

func (m *Manager) forget(p *clusterPool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.pools[p.cluster] == p {
		delete(m.pools, p.cluster)
	}
}

func (m *Manager) knownPools() []*clusterPool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	pools := make([]*clusterPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	return pools
}

func (m *Manager) hasInstance(id string) bool {
	for _, p := range m.knownPools() {
		if p.registry.Has(id) {
			return true
		}
	}
	return false
}

// refresh replaces the registry with what the cluster currently reports.
// Callers hold p.lock.
func (m *Manager) refresh(ctx context.Context, p *clusterPool) error {
	pods, err := m.cluster.ListInstances(ctx, p.cluster, m.factory.Selector())
	if err != nil {
		p.failures++
		return fmt.Errorf("refresh instances: %w", err)
	}
	p.failures = 0

	instances := make([]Instance, 0, len(pods))
	for i := range pods {
		instance, err := FromPod(&pods[i])
		if err != nil {
			m.logger.Warn("skipping malformed instance",
				zap.String("name", pods[i].Name),
				zap.Error(err),
			)
			continue
		}
		instances = append(instances, instance)
	}
	p.registry.ReplaceAll(instances)
	return nil
}

func (m *Manager) console(ctx context.Context, job ci.JobIdentifier, format string, args ...any) {
	text := fmt.Sprintf("[%s] %s\n", m.clock.Now().UTC().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
	if err := m.ci.AppendConsoleLog(ctx, job, text); err != nil {
		m.logger.Warn("failed to append console log",
			zap.String("job", job.Representation()),
			zap.Error(err),
		)
	}
}

type ClusterSnapshot struct {
	Endpoint            string
	Namespace           string
	MaxPendingInstances int
	ReuseEnabled        bool
	Instances           []Instance
}

// Snapshot lists every known cluster with its instances, without
// credentials.
func (m *Manager) Snapshot() []ClusterSnapshot {
	pools := m.knownPools()
	snapshots := make([]ClusterSnapshot, 0, len(pools))
	for _, p := range pools {
		snapshots = append(snapshots, ClusterSnapshot{
			Endpoint:            p.cluster.Endpoint,
			Namespace:           p.cluster.Namespace,
			MaxPendingInstances: p.cluster.MaxPendingInstances,
			ReuseEnabled:        p.cluster.ReuseEnabled,
			Instances:           p.registry.All(),
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].Endpoint != snapshots[j].Endpoint {
			return snapshots[i].Endpoint < snapshots[j].Endpoint
		}
		return snapshots[i].Namespace < snapshots[j].Namespace
	})
	return snapshots
}

func (m *Manager) Find(cluster ClusterConfig, id string) (Instance, bool) {
	p, ok := m.lookup(cluster)
	if !ok {
		return Instance{}, false
	}
	return p.registry.Find(id)
}

func (m *Manager) Instances(cluster ClusterConfig) []Instance {
	p, ok := m.lookup(cluster)
	if !ok {
		return nil
	}
	return p.registry.All()
}
