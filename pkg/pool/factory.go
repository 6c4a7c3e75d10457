package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/ci"
	"github.com/oursky/kube-agent-pool/pkg/utils/defaults"

	"github.com/google/uuid"
	"github.com/gregjones/httpcache"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/utils/ptr"
)

const (
	labelPrefix = "kube-agent-pool.oursky.com/"

	LabelCreatedBy   = labelPrefix + "created-by"
	LabelJobID       = labelPrefix + "job-id"
	LabelEnvironment = labelPrefix + "environment"

	AnnotationConfigHash    = labelPrefix + "config-hash"
	AnnotationProperties    = labelPrefix + "properties"
	AnnotationJobIdentifier = labelPrefix + "job-identifier"
	AnnotationCreatedAt     = labelPrefix + "created-at"
)

const (
	EnvAutoRegisterKey         = "GO_EA_AUTO_REGISTER_KEY"
	EnvAutoRegisterEnvironment = "GO_EA_AUTO_REGISTER_ENVIRONMENT"
	EnvAutoRegisterAgentID     = "GO_EA_AUTO_REGISTER_ELASTIC_AGENT_ID"
	EnvAutoRegisterPluginID    = "GO_EA_AUTO_REGISTER_ELASTIC_PLUGIN_ID"
	EnvServerURL               = "GO_EA_SERVER_URL"
)

type CreateRequest struct {
	AutoRegisterKey string            `json:"autoRegisterKey" validate:"required"`
	Environment     string            `json:"environment"`
	Properties      map[string]string `json:"properties"`
	Job             ci.JobIdentifier  `json:"jobIdentifier"`
}

// Factory converts between creation requests, pod specs and instances.
type Factory struct {
	config *Config
	client *http.Client
	clock  Clock
}

// NewFactory creates a factory; a nil client fetches remote templates
// through an in-memory HTTP cache.
func NewFactory(config *Config, client *http.Client, clock Clock) *Factory {
	if client == nil {
		client = &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   config.GetTemplateFetchTimeout(),
		}
	}
	return &Factory{
		config: config,
		client: client,
		clock:  clock,
	}
}

func (f *Factory) Selector() labels.Selector {
	return labels.SelectorFromSet(labels.Set{LabelCreatedBy: f.config.GetPluginID()})
}

func (f *Factory) Build(ctx context.Context, req CreateRequest, cluster ClusterConfig) (*corev1.Pod, error) {
	mode, err := ParseCreationMode(req.Properties)
	if err != nil {
		return nil, err
	}

	var pod *corev1.Pod
	switch mode := mode.(type) {
	case PropertiesMode:
		pod, err = f.fromProperties(mode)
	case InlineTemplate:
		pod, err = f.fromTemplate(mode.Document, TemplateFormatYAML)
	case RemoteTemplate:
		var doc string
		doc, err = f.fetchTemplate(ctx, mode.URL)
		if err == nil {
			pod, err = f.fromTemplate(doc, mode.Format)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedCreationMode, mode)
	}
	if err != nil {
		return nil, err
	}

	if pod.Name == "" {
		pod.Name = f.podName()
	}
	pod.Namespace = cluster.Namespace
	if err := f.decorate(pod, req, cluster); err != nil {
		return nil, err
	}
	return pod, nil
}

func (f *Factory) podName() string {
	return fmt.Sprintf("%s-%s", f.config.GetPodNamePrefix(), uuid.NewString())
}

func (f *Factory) fromProperties(mode PropertiesMode) (*corev1.Pod, error) {
	limits := corev1.ResourceList{}
	if mode.MaxMemory != "" {
		q, err := resource.ParseQuantity(mode.MaxMemory)
		if err != nil {
			return nil, fmt.Errorf("invalid max memory %q: %w", mode.MaxMemory, err)
		}
		limits[corev1.ResourceMemory] = q
	}
	if mode.MaxCPU != "" {
		q, err := resource.ParseQuantity(mode.MaxCPU)
		if err != nil {
			return nil, fmt.Errorf("invalid max CPU %q: %w", mode.MaxCPU, err)
		}
		limits[corev1.ResourceCPU] = q
	}

	var env []corev1.EnvVar
	for _, line := range mode.Env {
		name, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid environment line %q", line)
		}
		env = append(env, corev1.EnvVar{Name: strings.TrimSpace(name), Value: value})
	}

	name := f.podName()
	container := corev1.Container{
		Name:            name,
		Image:           defaults.NonZero(mode.Image, f.config.GetDefaultAgentImage()),
		ImagePullPolicy: corev1.PullIfNotPresent,
		Env:             env,
		SecurityContext: &corev1.SecurityContext{
			Privileged: ptr.To(mode.Privileged),
		},
	}
	if len(limits) > 0 {
		container.Resources.Limits = limits
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PodSpec{
			Containers:    []corev1.Container{container},
			RestartPolicy: corev1.RestartPolicyNever,
		},
	}, nil
}

func (f *Factory) decorate(pod *corev1.Pod, req CreateRequest, cluster ClusterConfig) error {
	properties, err := json.Marshal(req.Properties)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	job, err := json.Marshal(req.Job)
	if err != nil {
		return fmt.Errorf("encode job identifier: %w", err)
	}

	if pod.Labels == nil {
		pod.Labels = map[string]string{}
	}
	pod.Labels[LabelCreatedBy] = f.config.GetPluginID()
	pod.Labels[LabelJobID] = strconv.FormatInt(req.Job.JobID, 10)
	pod.Labels[LabelEnvironment] = req.Environment

	if pod.Annotations == nil {
		pod.Annotations = map[string]string{}
	}
	pod.Annotations[AnnotationConfigHash] = configHash(cluster, req.Properties)
	pod.Annotations[AnnotationProperties] = string(properties)
	pod.Annotations[AnnotationJobIdentifier] = string(job)
	pod.Annotations[AnnotationCreatedAt] = f.clock.Now().UTC().Format(time.RFC3339)

	registration := []corev1.EnvVar{
		{Name: EnvAutoRegisterKey, Value: req.AutoRegisterKey},
		{Name: EnvAutoRegisterEnvironment, Value: req.Environment},
		{Name: EnvAutoRegisterAgentID, Value: pod.Name},
		{Name: EnvAutoRegisterPluginID, Value: f.config.GetPluginID()},
		{Name: EnvServerURL, Value: f.config.ServerURL},
	}
	for i := range pod.Spec.Containers {
		pod.Spec.Containers[i].Env = mergeEnv(pod.Spec.Containers[i].Env, registration)
	}
	return nil
}

func mergeEnv(env []corev1.EnvVar, overrides []corev1.EnvVar) []corev1.EnvVar {
	merged := make([]corev1.EnvVar, 0, len(env)+len(overrides))
	for _, e := range env {
		overridden := false
		for _, o := range overrides {
			if o.Name == e.Name {
				overridden = true
				break
			}
		}
		if !overridden {
			merged = append(merged, e)
		}
	}
	return append(merged, overrides...)
}

// FromPod reads back an instance from a pod carrying the pool labels.
func FromPod(pod *corev1.Pod) (Instance, error) {
	createdAt := pod.CreationTimestamp.Time
	if createdAt.IsZero() {
		raw, ok := pod.Annotations[AnnotationCreatedAt]
		if !ok {
			return Instance{}, &MalformedInstanceError{Name: pod.Name, Reason: "missing creation time"}
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Instance{}, &MalformedInstanceError{Name: pod.Name, Reason: "invalid creation time", Err: err}
		}
		createdAt = t
	}

	rawJobID, ok := pod.Labels[LabelJobID]
	if !ok {
		return Instance{}, &MalformedInstanceError{Name: pod.Name, Reason: "missing job id"}
	}
	jobID, err := strconv.ParseInt(rawJobID, 10, 64)
	if err != nil {
		return Instance{}, &MalformedInstanceError{Name: pod.Name, Reason: "invalid job id", Err: err}
	}

	var properties map[string]string
	if raw, ok := pod.Annotations[AnnotationProperties]; ok {
		if err := json.Unmarshal([]byte(raw), &properties); err != nil {
			return Instance{}, &MalformedInstanceError{Name: pod.Name, Reason: "invalid properties", Err: err}
		}
	}

	return Instance{
		ID:          pod.Name,
		CreatedAt:   createdAt,
		Environment: pod.Labels[LabelEnvironment],
		JobID:       jobID,
		Annotations: maps.Clone(pod.Annotations),
		Properties:  properties,
		PodState:    podStateFromPhase(pod.Status.Phase),
		AgentState:  AgentStateUnknown,
	}, nil
}
