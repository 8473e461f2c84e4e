package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	replv1alpha1 "github.com/kvshard/replicore/api/v1alpha1"
)

func newTestTopology() *replv1alpha1.ReplicaTopology {
	return &replv1alpha1.ReplicaTopology{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-topology",
			Namespace: "default",
		},
		Spec: replv1alpha1.ReplicaTopologySpec{
			AdminEndpoint: "http://replicore-0:6381",
			Stores: []replv1alpha1.StoreTopology{
				{ID: 0, SyncFrom: &replv1alpha1.SyncSource{Host: "replicore-1", Port: 6380, SourceStoreID: 0}},
			},
		},
	}
}

func TestReplicaTopologyReconciler_AddsFinalizerThenStatus(t *testing.T) {
	s := scheme.Scheme
	s.AddKnownTypes(replv1alpha1.GroupVersion, &replv1alpha1.ReplicaTopology{})

	rt := newTestTopology()
	cl := fake.NewClientBuilder().WithScheme(s).WithObjects(rt).WithStatusSubresource(rt).Build()

	r := &ReplicaTopologyReconciler{
		Client: cl,
		Scheme: s,
		adminClientFn: func(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
			return []byte(`{}`), nil
		},
	}

	req := reconcile.Request{NamespacedName: types.NamespacedName{Name: "test-topology", Namespace: "default"}}

	if _, err := r.Reconcile(context.Background(), req); err != nil {
		t.Fatalf("reconcile 1 (add finalizer): %v", err)
	}
	if _, err := r.Reconcile(context.Background(), req); err != nil {
		t.Fatalf("reconcile 2 (init status): %v", err)
	}

	if _, err := r.Reconcile(context.Background(), req); err != nil {
		t.Fatalf("reconcile 3 (fetch+sync): %v", err)
	}

	got := &replv1alpha1.ReplicaTopology{}
	if err := cl.Get(context.Background(), req.NamespacedName, got); err != nil {
		t.Fatalf("get after reconcile: %v", err)
	}
	if got.Status.Phase != replv1alpha1.TopologyPhaseReconciling {
		t.Errorf("expected phase Reconciling (store 0 missing from empty status map), got %q", got.Status.Phase)
	}
}

func TestReplicaTopologyReconciler_IssuesChangeSourceWhenMismatched(t *testing.T) {
	s := scheme.Scheme
	s.AddKnownTypes(replv1alpha1.GroupVersion, &replv1alpha1.ReplicaTopology{})

	rt := newTestTopology()
	rt.Finalizers = []string{topologyFinalizerName}
	rt.Status.Phase = replv1alpha1.TopologyPhasePending
	cl := fake.NewClientBuilder().WithScheme(s).WithObjects(rt).WithStatusSubresource(rt).Build()

	var changeSourceCalls int
	var lastBody changeSourceBody

	r := &ReplicaTopologyReconciler{
		Client: cl,
		Scheme: s,
		adminClientFn: func(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
			if method == http.MethodGet {
				snap := map[string]storeStatSnapshot{
					"0": {ReplState: "NONE", SyncSource: ":0:0"},
				}
				return json.Marshal(snap)
			}
			changeSourceCalls++
			_ = json.Unmarshal(body, &lastBody)
			return []byte(`{}`), nil
		},
	}

	req := reconcile.Request{NamespacedName: types.NamespacedName{Name: "test-topology", Namespace: "default"}}
	if _, err := r.Reconcile(context.Background(), req); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if changeSourceCalls != 1 {
		t.Fatalf("expected exactly one changesource call, got %d", changeSourceCalls)
	}
	if lastBody.StoreID != 0 || lastBody.Host != "replicore-1" || lastBody.Port != 6380 {
		t.Errorf("unexpected changesource body: %+v", lastBody)
	}

	got := &replv1alpha1.ReplicaTopology{}
	if err := cl.Get(context.Background(), req.NamespacedName, got); err != nil {
		t.Fatalf("get after reconcile: %v", err)
	}
	if got.Status.Phase != replv1alpha1.TopologyPhaseReconciling {
		t.Errorf("expected phase Reconciling, got %q", got.Status.Phase)
	}
}

func TestReplicaTopologyReconciler_SyncedWhenMatched(t *testing.T) {
	s := scheme.Scheme
	s.AddKnownTypes(replv1alpha1.GroupVersion, &replv1alpha1.ReplicaTopology{})

	rt := newTestTopology()
	rt.Finalizers = []string{topologyFinalizerName}
	rt.Status.Phase = replv1alpha1.TopologyPhasePending
	cl := fake.NewClientBuilder().WithScheme(s).WithObjects(rt).WithStatusSubresource(rt).Build()

	r := &ReplicaTopologyReconciler{
		Client: cl,
		Scheme: s,
		adminClientFn: func(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
			snap := map[string]storeStatSnapshot{
				"0": {ReplState: "CONNECTED", SyncSource: "replicore-1:6380:0"},
			}
			return json.Marshal(snap)
		},
	}

	req := reconcile.Request{NamespacedName: types.NamespacedName{Name: "test-topology", Namespace: "default"}}
	if _, err := r.Reconcile(context.Background(), req); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got := &replv1alpha1.ReplicaTopology{}
	if err := cl.Get(context.Background(), req.NamespacedName, got); err != nil {
		t.Fatalf("get after reconcile: %v", err)
	}
	if got.Status.Phase != replv1alpha1.TopologyPhaseSynced {
		t.Errorf("expected phase Synced, got %q", got.Status.Phase)
	}
}
