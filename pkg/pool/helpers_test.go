package pool

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/ci"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

var errListFailed = errors.New("connection refused")

type testClock struct {
	lock *sync.Mutex
	now  time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{lock: new(sync.Mutex), now: now}
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = now
}

type fakeCluster struct {
	lock    *sync.Mutex
	pods    map[string]map[string]corev1.Pod
	listErr error
	failing map[string]error
	lists   int
	deletes []string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		lock:    new(sync.Mutex),
		pods:    make(map[string]map[string]corev1.Pod),
		failing: make(map[string]error),
	}
}

func (c *fakeCluster) fail(namespace string, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.failing[namespace] = err
}

func (c *fakeCluster) add(namespace string, pod corev1.Pod) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.pods[namespace] == nil {
		c.pods[namespace] = make(map[string]corev1.Pod)
	}
	c.pods[namespace][pod.Name] = pod
}

func (c *fakeCluster) setPhase(namespace, name string, phase corev1.PodPhase) {
	c.lock.Lock()
	defer c.lock.Unlock()

	pod := c.pods[namespace][name]
	pod.Status.Phase = phase
	c.pods[namespace][name] = pod
}

func (c *fakeCluster) names(namespace string) []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	var names []string
	for name := range c.pods[namespace] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *fakeCluster) ListInstances(ctx context.Context, cluster ClusterConfig, selector labels.Selector) ([]corev1.Pod, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.lists++
	if c.listErr != nil {
		return nil, c.listErr
	}
	if err := c.failing[cluster.Namespace]; err != nil {
		return nil, err
	}
	var pods []corev1.Pod
	for _, pod := range c.pods[cluster.Namespace] {
		if selector.Matches(labels.Set(pod.Labels)) {
			pods = append(pods, *pod.DeepCopy())
		}
	}
	return pods, nil
}

func (c *fakeCluster) CreateInstance(ctx context.Context, cluster ClusterConfig, pod *corev1.Pod) (*corev1.Pod, error) {
	created := pod.DeepCopy()
	created.Status.Phase = corev1.PodPending
	c.add(cluster.Namespace, *created)
	return created, nil
}

func (c *fakeCluster) DeleteInstance(ctx context.Context, cluster ClusterConfig, id string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.deletes = append(c.deletes, id)
	delete(c.pods[cluster.Namespace], id)
	return nil
}

type fakeCI struct {
	lock     *sync.Mutex
	agents   map[string]ci.Agent
	disabled []string
	deleted  []string
	console  []string
}

func newFakeCI(agents ...ci.Agent) *fakeCI {
	s := &fakeCI{
		lock:   new(sync.Mutex),
		agents: make(map[string]ci.Agent),
	}
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return s
}

func (s *fakeCI) ListAgents(ctx context.Context) (ci.Agents, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	agents := ci.Agents{}
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (s *fakeCI) DisableAgents(ctx context.Context, agents ci.Agents) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, a := range agents {
		s.disabled = append(s.disabled, a.ID)
		if agent, ok := s.agents[a.ID]; ok {
			agent.ConfigState = ci.ConfigStateDisabled
			s.agents[a.ID] = agent
		}
	}
	return nil
}

func (s *fakeCI) DeleteAgents(ctx context.Context, agents ci.Agents) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, a := range agents {
		s.deleted = append(s.deleted, a.ID)
		delete(s.agents, a.ID)
	}
	return nil
}

func (s *fakeCI) AppendConsoleLog(ctx context.Context, job ci.JobIdentifier, text string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.console = append(s.console, text)
	return nil
}

func newTestConfig() *Config {
	return &Config{ServerURL: "https://ci.example.com/go"}
}

func newTestManager(cluster ClusterAPI, server CIServer, clock Clock) *Manager {
	config := newTestConfig()
	factory := NewFactory(config, nil, clock)
	return NewManager(zap.NewNop(), config, factory, cluster, server, clock, prometheus.NewRegistry())
}

func testPod(name string, jobID int64, createdAt time.Time, phase corev1.PodPhase) corev1.Pod {
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			CreationTimestamp: metav1.NewTime(createdAt),
			Labels: map[string]string{
				LabelCreatedBy: "kube-agent-pool",
				LabelJobID:     strconv.FormatInt(jobID, 10),
			},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func testRequest(jobID int64) CreateRequest {
	return CreateRequest{
		AutoRegisterKey: "key",
		Environment:     "prod",
		Properties:      map[string]string{PropertyPodSpecType: "properties", PropertyImage: "gocd/agent:latest"},
		Job: ci.JobIdentifier{
			PipelineName:    "build",
			PipelineCounter: 1,
			StageName:       "test",
			StageCounter:    "1",
			JobName:         "unit",
			JobID:           jobID,
		},
	}
}

type recordingNotifier struct {
	lock      *sync.Mutex
	instances []string
	agents    []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{lock: new(sync.Mutex)}
}

func (n *recordingNotifier) InstancesReaped(ctx context.Context, cluster ClusterConfig, instances []Instance) {
	n.lock.Lock()
	defer n.lock.Unlock()
	for _, i := range instances {
		n.instances = append(n.instances, i.ID)
	}
}

func (n *recordingNotifier) AgentsReaped(ctx context.Context, agents ci.Agents) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.agents = append(n.agents, agents.IDs()...)
}
