package kube

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/pool"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func agentPod(name string, selected bool) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "agents",
			Labels:    map[string]string{},
		},
	}
	if selected {
		pod.Labels[pool.LabelCreatedBy] = "kube-agent-pool"
	}
	return pod
}

func failingList(err error) k8stesting.ReactionFunc {
	return func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, err
	}
}

func TestClusterAPI(t *testing.T) {
	Convey("ClusterAPI", t, func() {
		ctx := context.Background()
		cluster := pool.ClusterConfig{Endpoint: "https://kube.example.com", Namespace: "agents"}
		selector := labels.SelectorFromSet(labels.Set{pool.LabelCreatedBy: "kube-agent-pool"})

		var clients []*fake.Clientset
		var listErrs []error
		factory := func(pool.ClusterConfig) (kubernetes.Interface, error) {
			client := fake.NewSimpleClientset(agentPod("a", true), agentPod("b", false))
			if i := len(clients); i < len(listErrs) && listErrs[i] != nil {
				client.PrependReactor("list", "pods", failingList(listErrs[i]))
			}
			clients = append(clients, client)
			return client, nil
		}

		config := &Config{}
		cache := NewClientCache(zap.NewNop(), config, factory)
		api := NewClusterAPI(zap.NewNop(), config, cache)

		Convey("lists selected pods", func() {
			pods, err := api.ListInstances(ctx, cluster, selector)
			So(err, ShouldBeNil)
			So(pods, ShouldHaveLength, 1)
			So(pods[0].Name, ShouldEqual, "a")
			So(clients, ShouldHaveLength, 1)
		})

		Convey("recycles a stale client and retries once", func() {
			listErrs = []error{io.EOF}

			pods, err := api.ListInstances(ctx, cluster, selector)
			So(err, ShouldBeNil)
			So(pods, ShouldHaveLength, 1)
			So(clients, ShouldHaveLength, 2)
		})

		Convey("retries after credentials expire", func() {
			listErrs = []error{apierrors.NewUnauthorized("token expired")}

			_, err := api.ListInstances(ctx, cluster, selector)
			So(err, ShouldBeNil)
			So(clients, ShouldHaveLength, 2)
		})

		Convey("gives up after the retry", func() {
			listErrs = []error{io.EOF, io.EOF}

			_, err := api.ListInstances(ctx, cluster, selector)
			So(errors.Is(err, io.EOF), ShouldBeTrue)
			So(clients, ShouldHaveLength, 2)
		})

		Convey("does not retry other failures", func() {
			forbidden := apierrors.NewForbidden(schema.GroupResource{Resource: "pods"}, "", errors.New("denied"))
			listErrs = []error{forbidden}

			_, err := api.ListInstances(ctx, cluster, selector)
			So(apierrors.IsForbidden(err), ShouldBeTrue)
			So(clients, ShouldHaveLength, 1)
		})

		Convey("creates and deletes pods", func() {
			created, err := api.CreateInstance(ctx, cluster, agentPod("c", true))
			So(err, ShouldBeNil)
			So(created.Name, ShouldEqual, "c")

			pods, err := api.ListInstances(ctx, cluster, selector)
			So(err, ShouldBeNil)
			So(pods, ShouldHaveLength, 2)

			So(api.DeleteInstance(ctx, cluster, "c"), ShouldBeNil)
			So(api.DeleteInstance(ctx, cluster, "c"), ShouldBeNil)

			pods, err = api.ListInstances(ctx, cluster, selector)
			So(err, ShouldBeNil)
			So(pods, ShouldHaveLength, 1)
		})
	})
}

func TestClientCache(t *testing.T) {
	Convey("ClientCache", t, func() {
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		built := 0
		factory := func(pool.ClusterConfig) (kubernetes.Interface, error) {
			built++
			return fake.NewSimpleClientset(), nil
		}
		cache := NewClientCache(zap.NewNop(), &Config{}, factory)
		cache.now = func() time.Time { return now }

		a := pool.ClusterConfig{Endpoint: "https://a.example.com", Namespace: "agents"}
		b := pool.ClusterConfig{Endpoint: "https://b.example.com", Namespace: "agents"}

		Convey("reuses clients per cluster", func() {
			first, err := cache.Get(a)
			So(err, ShouldBeNil)
			second, err := cache.Get(a)
			So(err, ShouldBeNil)
			So(second, ShouldEqual, first)
			So(built, ShouldEqual, 1)

			_, err = cache.Get(b)
			So(err, ShouldBeNil)
			So(built, ShouldEqual, 2)
		})

		Convey("rebuilds clients after the recycle interval", func() {
			_, _ = cache.Get(a)
			now = now.Add(10 * time.Minute)
			_, _ = cache.Get(a)
			So(built, ShouldEqual, 2)
		})

		Convey("rebuilds recycled clients", func() {
			_, _ = cache.Get(a)
			cache.Recycle(a)
			_, _ = cache.Get(a)
			So(built, ShouldEqual, 2)
		})
	})
}

func TestIsStaleConnection(t *testing.T) {
	Convey("isStaleConnection", t, func() {
		So(isStaleConnection(nil), ShouldBeFalse)
		So(isStaleConnection(io.EOF), ShouldBeTrue)
		So(isStaleConnection(errors.New("http2: client connection lost")), ShouldBeTrue)
		So(isStaleConnection(errors.New("read tcp: use of closed network connection")), ShouldBeTrue)
		So(isStaleConnection(apierrors.NewUnauthorized("expired")), ShouldBeTrue)
		So(isStaleConnection(apierrors.NewNotFound(schema.GroupResource{Resource: "pods"}, "a")), ShouldBeFalse)
	})
}
