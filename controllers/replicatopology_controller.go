/*
Copyright 2024 The AutoCache Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	replv1alpha1 "github.com/kvshard/replicore/api/v1alpha1"
)

const (
	topologyFinalizerName = "replication.kvshard.io/finalizer"

	topologyRequeueAfterSuccess = 30 * time.Second
	topologyRequeueAfterError   = 5 * time.Second

	adminRequestTimeout = 5 * time.Second
)

// storeStatSnapshot mirrors internal/replication.jsonStoreStat, the shape
// returned by GET /repl/status on a target instance's admin API.
type storeStatSnapshot struct {
	FirstBinlog  uint64            `json:"first_binlog"`
	Timestamp    int64             `json:"timestamp"`
	IncrPaused   bool              `json:"incr_paused"`
	SyncDest     map[string]uint64 `json:"sync_dest"`
	SyncSource   string            `json:"sync_source"`
	BinlogID     uint64            `json:"binlog_id"`
	ReplState    string            `json:"repl_state"`
	LastSyncTime string            `json:"last_sync_time"`
}

// changeSourceBody mirrors internal/adminapi.changeSourceRequest, the POST
// /repl/changesource request body.
type changeSourceBody struct {
	StoreID       int    `json:"store_id"`
	Host          string `json:"host"`
	Port          uint32 `json:"port"`
	SourceStoreID uint32 `json:"source_store_id"`
}

// adminClientFn issues one admin API call and returns the raw response
// body, or an error. Reconcile uses it for both the status GET and the
// changesource POST; tests substitute a fake in place of a real HTTP
// round trip, the same seam the teacher's sendCommandFn provided for its
// Redis command sender.
type adminClientFn func(ctx context.Context, method, endpoint string, body []byte) ([]byte, error)

// ReplicaTopologyReconciler reconciles a ReplicaTopology object by
// comparing its spec against the admin-reported state of a running
// replicore instance and issuing changeReplSource calls to close the
// gap. It never creates, updates, or deletes the instance's own pods —
// those are assumed to already exist at Spec.AdminEndpoint.
type ReplicaTopologyReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	adminClientFn adminClientFn
}

// +kubebuilder:rbac:groups=replication.kvshard.io,resources=replicatopologies,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=replication.kvshard.io,resources=replicatopologies/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=replication.kvshard.io,resources=replicatopologies/finalizers,verbs=update

func (r *ReplicaTopologyReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	logger.Info("Reconciling ReplicaTopology", "namespace", req.Namespace, "name", req.Name)

	rt := &replv1alpha1.ReplicaTopology{}
	if err := r.Get(ctx, req.NamespacedName, rt); err != nil {
		if errors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		logger.Error(err, "Failed to get ReplicaTopology")
		return ctrl.Result{}, err
	}

	if !rt.DeletionTimestamp.IsZero() {
		return r.handleDeletion(ctx, rt)
	}

	if !controllerutil.ContainsFinalizer(rt, topologyFinalizerName) {
		controllerutil.AddFinalizer(rt, topologyFinalizerName)
		if err := r.Update(ctx, rt); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{Requeue: true}, nil
	}

	if rt.Status.Phase == "" {
		rt.Status.Phase = replv1alpha1.TopologyPhasePending
		if err := r.Status().Update(ctx, rt); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{Requeue: true}, nil
	}

	observed, err := r.fetchStatus(ctx, rt)
	if err != nil {
		logger.Error(err, "Failed to reach admin endpoint", "endpoint", rt.Spec.AdminEndpoint)
		r.setCondition(rt, replv1alpha1.ConditionTypeReachable, metav1.ConditionFalse, "FetchFailed", err.Error())
		rt.Status.Phase = replv1alpha1.TopologyPhaseDegraded
		_ = r.Status().Update(ctx, rt)
		return ctrl.Result{RequeueAfter: topologyRequeueAfterError}, nil
	}
	r.setCondition(rt, replv1alpha1.ConditionTypeReachable, metav1.ConditionTrue, "Reachable", "admin endpoint responded")

	synced, err := r.reconcileStores(ctx, rt, observed)
	if err != nil {
		logger.Error(err, "Failed to reconcile store sync sources")
		return ctrl.Result{RequeueAfter: topologyRequeueAfterError}, nil
	}

	if err := r.updateStatus(ctx, rt, observed, synced); err != nil {
		logger.Error(err, "Failed to update status")
		return ctrl.Result{RequeueAfter: topologyRequeueAfterError}, err
	}

	logger.Info("Reconcile completed", "phase", rt.Status.Phase, "synced", synced)
	return ctrl.Result{RequeueAfter: topologyRequeueAfterSuccess}, nil
}

func (r *ReplicaTopologyReconciler) handleDeletion(ctx context.Context, rt *replv1alpha1.ReplicaTopology) (ctrl.Result, error) {
	controllerutil.RemoveFinalizer(rt, topologyFinalizerName)
	if err := r.Update(ctx, rt); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

func (r *ReplicaTopologyReconciler) call(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	if r.adminClientFn != nil {
		return r.adminClientFn(ctx, method, endpoint, body)
	}
	return defaultAdminClient(ctx, method, endpoint, body)
}

func defaultAdminClient(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	httpClient := &http.Client{Timeout: adminRequestTimeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("admin API %s %s: status %d: %s", method, endpoint, resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

func (r *ReplicaTopologyReconciler) fetchStatus(ctx context.Context, rt *replv1alpha1.ReplicaTopology) (map[string]storeStatSnapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, adminRequestTimeout)
	defer cancel()
	raw, err := r.call(reqCtx, http.MethodGet, rt.Spec.AdminEndpoint+"/repl/status", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]storeStatSnapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}

// reconcileStores issues changesource for every store whose observed
// sync_source disagrees with the spec's desired SyncFrom, and reports
// whether the topology is now fully synced.
func (r *ReplicaTopologyReconciler) reconcileStores(ctx context.Context, rt *replv1alpha1.ReplicaTopology, observed map[string]storeStatSnapshot) (bool, error) {
	logger := log.FromContext(ctx)
	synced := true

	for _, want := range rt.Spec.Stores {
		key := strconv.Itoa(int(want.ID))
		obs, ok := observed[key]
		if !ok {
			synced = false
			continue
		}

		if storeMatchesDesired(obs, want) {
			continue
		}

		synced = false
		body := changeSourceBody{StoreID: int(want.ID)}
		if want.SyncFrom != nil {
			body.Host = want.SyncFrom.Host
			body.Port = uint32(want.SyncFrom.Port)
			body.SourceStoreID = uint32(want.SyncFrom.SourceStoreID)
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return false, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, adminRequestTimeout)
		_, err = r.call(reqCtx, http.MethodPost, rt.Spec.AdminEndpoint+"/repl/changesource", payload)
		cancel()
		if err != nil {
			logger.Info("changeReplSource call did not succeed; will retry", "store", want.ID, "error", err)
			continue
		}
	}

	return synced, nil
}

func storeMatchesDesired(obs storeStatSnapshot, want replv1alpha1.StoreTopology) bool {
	if want.SyncFrom == nil {
		return obs.ReplState == "NONE"
	}
	expect := fmt.Sprintf("%s:%d:%d", want.SyncFrom.Host, want.SyncFrom.Port, want.SyncFrom.SourceStoreID)
	return obs.SyncSource == expect && obs.ReplState == "CONNECTED"
}

func (r *ReplicaTopologyReconciler) updateStatus(ctx context.Context, rt *replv1alpha1.ReplicaTopology, observed map[string]storeStatSnapshot, synced bool) error {
	stores := make([]replv1alpha1.StoreStatus, 0, len(rt.Spec.Stores))
	for _, want := range rt.Spec.Stores {
		key := strconv.Itoa(int(want.ID))
		obs := observed[key]
		st := replv1alpha1.StoreStatus{
			ID:              want.ID,
			ReplState:       obs.ReplState,
			BinlogPos:       strconv.FormatUint(obs.BinlogID, 10),
			SyncSource:      obs.SyncSource,
			PushStatusCount: int32(len(obs.SyncDest)),
		}
		if ts, err := time.Parse(time.RFC3339, obs.LastSyncTime); err == nil {
			mt := metav1.NewTime(ts)
			st.LastSyncTime = &mt
		}
		stores = append(stores, st)
	}

	rt.Status.Stores = stores
	rt.Status.ObservedGeneration = rt.Generation
	now := metav1.Now()
	rt.Status.LastUpdateTime = &now

	if synced {
		rt.Status.Phase = replv1alpha1.TopologyPhaseSynced
		r.setCondition(rt, replv1alpha1.ConditionTypeSynced, metav1.ConditionTrue, "Synced", "all stores match desired sync source")
	} else {
		rt.Status.Phase = replv1alpha1.TopologyPhaseReconciling
		r.setCondition(rt, replv1alpha1.ConditionTypeSynced, metav1.ConditionFalse, "Reconciling", "one or more stores do not yet match desired sync source")
	}

	return r.Status().Update(ctx, rt)
}

func (r *ReplicaTopologyReconciler) setCondition(rt *replv1alpha1.ReplicaTopology, condType replv1alpha1.TopologyConditionType, status metav1.ConditionStatus, reason, message string) {
	meta.SetStatusCondition(&rt.Status.Conditions, metav1.Condition{
		Type:               string(condType),
		Status:             status,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: rt.Generation,
	})
}

// SetupWithManager wires the controller into the manager.
func (r *ReplicaTopologyReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&replv1alpha1.ReplicaTopology{}).
		Complete(r)
}
