package dashboard

import (
	"net/http"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/pool"
)

type clusterSummary struct {
	pool.ClusterSnapshot
	Live int
}

type dataIndex struct {
	Now      time.Time
	Clusters []clusterSummary
}

func (s *Server) index(rw http.ResponseWriter, r *http.Request) {
	var clusters []clusterSummary
	for _, c := range s.state.Snapshot() {
		live := 0
		for _, i := range c.Instances {
			if i.IsLive() {
				live++
			}
		}
		clusters = append(clusters, clusterSummary{ClusterSnapshot: c, Live: live})
	}

	s.render(rw, &dataIndex{
		Now:      time.Now(),
		Clusters: clusters,
	})
}
