package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ClusterConfig addresses one logical cluster target. It is comparable, and
// two configs with the same content share the same instance registry.
type ClusterConfig struct {
	Endpoint            string        `json:"endpoint"`
	Credentials         string        `json:"credentials"`
	CACertData          string        `json:"caCertData"`
	Namespace           string        `json:"namespace"`
	MaxPendingInstances int           `json:"maxPendingInstances"`
	AutoRegisterTimeout time.Duration `json:"autoRegisterTimeout"`
	ReuseEnabled        bool          `json:"reuseEnabled"`
}

// configHash fingerprints the effective cluster and profile configuration an
// instance was created with. Credentials are left out.
func configHash(cluster ClusterConfig, properties map[string]string) string {
	data, err := json.Marshal(struct {
		Endpoint            string            `json:"endpoint"`
		Namespace           string            `json:"namespace"`
		MaxPendingInstances int               `json:"maxPendingInstances"`
		AutoRegisterTimeout string            `json:"autoRegisterTimeout"`
		ReuseEnabled        bool              `json:"reuseEnabled"`
		Properties          map[string]string `json:"properties"`
	}{
		Endpoint:            cluster.Endpoint,
		Namespace:           cluster.Namespace,
		MaxPendingInstances: cluster.MaxPendingInstances,
		AutoRegisterTimeout: cluster.AutoRegisterTimeout.String(),
		ReuseEnabled:        cluster.ReuseEnabled,
		Properties:          properties,
	})
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
