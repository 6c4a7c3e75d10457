package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/pool"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

type fakePool struct {
	createErr  error
	instances  map[string]pool.Instance
	clusters   []pool.ClusterConfig
	requests   []pool.CreateRequest
	assigned   []string
	completed  []string
	terminated []string
	pinged     [][]pool.ClusterConfig
}

func (p *fakePool) Create(ctx context.Context, req pool.CreateRequest, cluster pool.ClusterConfig) (pool.Instance, bool, error) {
	p.requests = append(p.requests, req)
	p.clusters = append(p.clusters, cluster)
	if p.createErr != nil {
		return pool.Instance{}, false, p.createErr
	}
	instance := pool.Instance{ID: "agent-1", JobID: req.Job.JobID, PodState: pool.PodStatePending}
	return instance, true, nil
}

func (p *fakePool) Find(cluster pool.ClusterConfig, id string) (pool.Instance, bool) {
	i, ok := p.instances[id]
	return i, ok
}

func (p *fakePool) Terminate(ctx context.Context, cluster pool.ClusterConfig, id string) error {
	p.terminated = append(p.terminated, id)
	return nil
}

func (p *fakePool) IsAssignable(cluster pool.ClusterConfig, id string, work pool.WorkRequest) bool {
	return id == "agent-1" && work.Environment == "prod"
}

func (p *fakePool) JobAssigned(cluster pool.ClusterConfig, id string) {
	p.assigned = append(p.assigned, id)
}

func (p *fakePool) JobCompleted(ctx context.Context, cluster pool.ClusterConfig, id string) error {
	p.completed = append(p.completed, id)
	return nil
}

func (p *fakePool) Ping(ctx context.Context, clusters ...pool.ClusterConfig) error {
	p.pinged = append(p.pinged, clusters)
	return nil
}

const clusterJSON = `{"namespace":"agents","maxPendingInstances":3,"autoRegisterTimeout":"10m","reuseEnabled":true}`

func TestServer(t *testing.T) {
	Convey("Server", t, func() {
		p := &fakePool{instances: map[string]pool.Instance{
			"agent-1": {ID: "agent-1", JobID: 7, PodState: pool.PodStateRunning},
		}}
		server := NewServer(zap.NewNop(), &Config{AuthKeys: []string{"secret"}}, p, prometheus.NewRegistry())
		handler := server.Handler()

		do := func(method, path, body string, authorized bool) *httptest.ResponseRecorder {
			req := httptest.NewRequest(method, path, strings.NewReader(body))
			if authorized {
				req.Header.Set("Authorization", "Bearer secret")
			}
			rw := httptest.NewRecorder()
			handler.ServeHTTP(rw, req)
			return rw
		}

		Convey("requires an API key", func() {
			rw := do("POST", "/api/v1/ping", `{"clusters":[]}`, false)
			So(rw.Code, ShouldEqual, http.StatusUnauthorized)
			So(p.pinged, ShouldBeEmpty)
		})

		Convey("serves metrics without a key", func() {
			rw := do("GET", "/metrics", "", false)
			So(rw.Code, ShouldEqual, http.StatusOK)
		})

		Convey("creates instances", func() {
			body := fmt.Sprintf(`{
				"cluster": %s,
				"autoRegisterKey": "key",
				"environment": "prod",
				"properties": {"PodSpecType": "properties"},
				"jobIdentifier": {"pipeline_name": "build", "job_id": 7}
			}`, clusterJSON)

			rw := do("POST", "/api/v1/instances", body, true)
			So(rw.Code, ShouldEqual, http.StatusOK)

			var resp createResponse
			So(json.Unmarshal(rw.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Created, ShouldBeTrue)
			So(resp.Instance.ID, ShouldEqual, "agent-1")
			So(resp.Instance.JobID, ShouldEqual, 7)

			So(p.clusters, ShouldResemble, []pool.ClusterConfig{{
				Namespace:           "agents",
				MaxPendingInstances: 3,
				AutoRegisterTimeout: 10 * time.Minute,
				ReuseEnabled:        true,
			}})
			So(p.requests[0].AutoRegisterKey, ShouldEqual, "key")
			So(p.requests[0].Job.PipelineName, ShouldEqual, "build")
		})

		Convey("rejects unsupported creation modes", func() {
			p.createErr = fmt.Errorf("%w: %q", pool.ErrUnsupportedCreationMode, "docker")
			body := fmt.Sprintf(`{"cluster": %s, "autoRegisterKey": "key"}`, clusterJSON)

			rw := do("POST", "/api/v1/instances", body, true)
			So(rw.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("rejects invalid requests", func() {
			rw := do("POST", "/api/v1/instances", fmt.Sprintf(`{"cluster": %s}`, clusterJSON), true)
			So(rw.Code, ShouldEqual, http.StatusBadRequest)

			rw = do("POST", "/api/v1/instances/agent-1/find", `{"cluster": {}}`, true)
			So(rw.Code, ShouldEqual, http.StatusBadRequest)

			rw = do("POST", "/api/v1/instances/agent-1/find", `{"cluster": {"namespace": "agents"}, "extra": 1}`, true)
			So(rw.Code, ShouldEqual, http.StatusBadRequest)
			So(p.requests, ShouldBeEmpty)
		})

		Convey("finds instances", func() {
			body := fmt.Sprintf(`{"cluster": %s}`, clusterJSON)

			rw := do("POST", "/api/v1/instances/agent-1/find", body, true)
			So(rw.Code, ShouldEqual, http.StatusOK)
			var instance pool.Instance
			So(json.Unmarshal(rw.Body.Bytes(), &instance), ShouldBeNil)
			So(instance.PodState, ShouldEqual, pool.PodStateRunning)

			rw = do("POST", "/api/v1/instances/agent-2/find", body, true)
			So(rw.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("answers assignability", func() {
			body := fmt.Sprintf(`{"cluster": %s, "environment": "prod", "properties": {}}`, clusterJSON)

			rw := do("POST", "/api/v1/instances/agent-1/assignable", body, true)
			So(rw.Code, ShouldEqual, http.StatusOK)
			So(rw.Body.String(), ShouldContainSubstring, `"assignable":true`)
		})

		Convey("forwards lifecycle events", func() {
			body := fmt.Sprintf(`{"cluster": %s}`, clusterJSON)

			So(do("POST", "/api/v1/instances/agent-1/assigned", body, true).Code, ShouldEqual, http.StatusNoContent)
			So(do("POST", "/api/v1/instances/agent-1/job-completion", body, true).Code, ShouldEqual, http.StatusNoContent)
			So(do("POST", "/api/v1/instances/agent-1/terminate", body, true).Code, ShouldEqual, http.StatusNoContent)
			So(p.assigned, ShouldResemble, []string{"agent-1"})
			So(p.completed, ShouldResemble, []string{"agent-1"})
			So(p.terminated, ShouldResemble, []string{"agent-1"})
		})

		Convey("pings clusters", func() {
			body := fmt.Sprintf(`{"clusters": [%s, {"namespace": "other"}]}`, clusterJSON)

			rw := do("POST", "/api/v1/ping", body, true)
			So(rw.Code, ShouldEqual, http.StatusNoContent)
			So(p.pinged, ShouldHaveLength, 1)
			So(p.pinged[0], ShouldHaveLength, 2)
			So(p.pinged[0][1].Namespace, ShouldEqual, "other")
		})
	})
}
