package api

import (
	"net/http"

	"github.com/oursky/kube-agent-pool/pkg/ci"
	"github.com/oursky/kube-agent-pool/pkg/pool"
	"github.com/oursky/kube-agent-pool/pkg/utils/httputil"
	"github.com/oursky/kube-agent-pool/pkg/utils/tomltypes"

	"github.com/gorilla/mux"
)

type clusterSpec struct {
	Endpoint            string             `json:"endpoint" validate:"omitempty,url"`
	Credentials         string             `json:"credentials"`
	CACertData          string             `json:"caCertData"`
	Namespace           string             `json:"namespace" validate:"required"`
	MaxPendingInstances int                `json:"maxPendingInstances" validate:"min=0"`
	AutoRegisterTimeout tomltypes.Duration `json:"autoRegisterTimeout"`
	ReuseEnabled        bool               `json:"reuseEnabled"`
}

func (c clusterSpec) config() pool.ClusterConfig {
	return pool.ClusterConfig{
		Endpoint:            c.Endpoint,
		Credentials:         c.Credentials,
		CACertData:          c.CACertData,
		Namespace:           c.Namespace,
		MaxPendingInstances: c.MaxPendingInstances,
		AutoRegisterTimeout: c.AutoRegisterTimeout.Duration,
		ReuseEnabled:        c.ReuseEnabled,
	}
}

type clusterRequest struct {
	Cluster clusterSpec `json:"cluster"`
}

type createRequest struct {
	Cluster         clusterSpec       `json:"cluster"`
	AutoRegisterKey string            `json:"autoRegisterKey" validate:"required"`
	Environment     string            `json:"environment"`
	Properties      map[string]string `json:"properties"`
	JobIdentifier   ci.JobIdentifier  `json:"jobIdentifier"`
}

type createResponse struct {
	Created  bool           `json:"created"`
	Instance *pool.Instance `json:"instance,omitempty"`
}

type assignableRequest struct {
	Cluster     clusterSpec       `json:"cluster"`
	Environment string            `json:"environment"`
	Properties  map[string]string `json:"properties"`
}

type pingRequest struct {
	Clusters []clusterSpec `json:"clusters" validate:"dive"`
}

func (s *Server) apiCreate(rw http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(rw, r, &req) {
		return
	}

	instance, created, err := s.pool.Create(r.Context(), pool.CreateRequest{
		AutoRegisterKey: req.AutoRegisterKey,
		Environment:     req.Environment,
		Properties:      req.Properties,
		Job:             req.JobIdentifier,
	}, req.Cluster.config())
	if err != nil {
		s.fail(rw, err)
		return
	}

	resp := createResponse{Created: created}
	if created {
		resp.Instance = &instance
	}
	httputil.RespondJSON(rw, resp)
}

func (s *Server) apiFind(rw http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if !s.decode(rw, r, &req) {
		return
	}

	instance, ok := s.pool.Find(req.Cluster.config(), mux.Vars(r)["id"])
	if !ok {
		http.Error(rw, "instance not found", http.StatusNotFound)
		return
	}
	httputil.RespondJSON(rw, instance)
}

func (s *Server) apiTerminate(rw http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if !s.decode(rw, r, &req) {
		return
	}

	if err := s.pool.Terminate(r.Context(), req.Cluster.config(), mux.Vars(r)["id"]); err != nil {
		s.fail(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiAssignable(rw http.ResponseWriter, r *http.Request) {
	var req assignableRequest
	if !s.decode(rw, r, &req) {
		return
	}

	assignable := s.pool.IsAssignable(req.Cluster.config(), mux.Vars(r)["id"], pool.WorkRequest{
		Environment: req.Environment,
		Properties:  req.Properties,
	})

	type resp struct {
		Assignable bool `json:"assignable"`
	}
	httputil.RespondJSON(rw, resp{Assignable: assignable})
}

func (s *Server) apiAssigned(rw http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if !s.decode(rw, r, &req) {
		return
	}

	s.pool.JobAssigned(req.Cluster.config(), mux.Vars(r)["id"])
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiJobCompletion(rw http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if !s.decode(rw, r, &req) {
		return
	}

	if err := s.pool.JobCompleted(r.Context(), req.Cluster.config(), mux.Vars(r)["id"]); err != nil {
		s.fail(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiPing(rw http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if !s.decode(rw, r, &req) {
		return
	}

	clusters := make([]pool.ClusterConfig, len(req.Clusters))
	for i, c := range req.Clusters {
		clusters[i] = c.config()
	}
	if err := s.pool.Ping(r.Context(), clusters...); err != nil {
		s.fail(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}
