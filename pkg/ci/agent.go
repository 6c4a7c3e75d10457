package ci

import "fmt"

type AgentState string

const (
	AgentStateIdle        AgentState = "Idle"
	AgentStateBuilding    AgentState = "Building"
	AgentStateLostContact AgentState = "LostContact"
	AgentStateMissing     AgentState = "Missing"
	AgentStateUnknown     AgentState = "Unknown"
)

type BuildState string

const (
	BuildStateIdle      BuildState = "Idle"
	BuildStateBuilding  BuildState = "Building"
	BuildStateCancelled BuildState = "Cancelled"
	BuildStateUnknown   BuildState = "Unknown"
)

type ConfigState string

const (
	ConfigStatePending  ConfigState = "Pending"
	ConfigStateEnabled  ConfigState = "Enabled"
	ConfigStateDisabled ConfigState = "Disabled"
)

// Agent is the CI server's record of a worker. The CI server owns every
// state transition; the pool only reads snapshots and asks for disable or
// delete.
type Agent struct {
	ID          string      `json:"agent_id"`
	AgentState  AgentState  `json:"agent_state"`
	BuildState  BuildState  `json:"build_state"`
	ConfigState ConfigState `json:"config_state"`
}

// IsIdleOrGone reports whether the agent is not running a build, either
// because it is idle or because the CI server cannot reach it.
func (a Agent) IsIdleOrGone() bool {
	switch a.AgentState {
	case AgentStateIdle, AgentStateMissing, AgentStateLostContact:
		return true
	}
	return false
}

type Agents []Agent

func (a Agents) IDs() []string {
	ids := make([]string, len(a))
	for i, agent := range a {
		ids[i] = agent.ID
	}
	return ids
}

func (a Agents) Find(id string) (Agent, bool) {
	for _, agent := range a {
		if agent.ID == id {
			return agent, true
		}
	}
	return Agent{}, false
}

func (a Agents) Has(id string) bool {
	_, ok := a.Find(id)
	return ok
}

// JobIdentifier locates a job on the CI server, used to address its console
// log.
type JobIdentifier struct {
	PipelineName    string `json:"pipeline_name"`
	PipelineCounter int64  `json:"pipeline_counter"`
	StageName       string `json:"stage_name"`
	StageCounter    string `json:"stage_counter"`
	JobName         string `json:"job_name"`
	JobID           int64  `json:"job_id"`
}

func (j JobIdentifier) Representation() string {
	return fmt.Sprintf("%s/%d/%s/%s/%s", j.PipelineName, j.PipelineCounter, j.StageName, j.StageCounter, j.JobName)
}
