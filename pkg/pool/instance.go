package pool

import (
	"maps"
	"time"

	corev1 "k8s.io/api/core/v1"
)

type PodState string

const (
	PodStatePending   PodState = "Pending"
	PodStateRunning   PodState = "Running"
	PodStateSucceeded PodState = "Succeeded"
	PodStateFailed    PodState = "Failed"
	PodStateUnknown   PodState = "Unknown"
)

func podStateFromPhase(phase corev1.PodPhase) PodState {
	switch phase {
	// a freshly submitted pod may not report a phase yet
	case corev1.PodPending, "":
		return PodStatePending
	case corev1.PodRunning:
		return PodStateRunning
	case corev1.PodSucceeded:
		return PodStateSucceeded
	case corev1.PodFailed:
		return PodStateFailed
	default:
		return PodStateUnknown
	}
}

type AgentState string

const (
	AgentStateUnknown  AgentState = "Unknown"
	AgentStateIdle     AgentState = "Idle"
	AgentStateBuilding AgentState = "Building"
)

// Instance is one pod backing an agent. Values are treated as immutable:
// state transitions go through WithPodState and WithAgentState, and the maps
// are never written after construction.
type Instance struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"createdAt"`
	Environment string            `json:"environment"`
	JobID       int64             `json:"jobID"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	PodState    PodState          `json:"podState"`
	AgentState  AgentState        `json:"agentState"`
}

func (i Instance) IsLive() bool {
	return i.PodState == PodStatePending || i.PodState == PodStateRunning
}

func (i Instance) WithAgentState(state AgentState) Instance {
	c := i.clone()
	c.AgentState = state
	return c
}

func (i Instance) WithPodState(state PodState) Instance {
	c := i.clone()
	c.PodState = state
	return c
}

func (i Instance) clone() Instance {
	i.Annotations = maps.Clone(i.Annotations)
	i.Properties = maps.Clone(i.Properties)
	return i
}
