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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SyncSource names where a store replicates from.
type SyncSource struct {
	// Host is the master's replication address.
	Host string `json:"host"`

	// Port is the master's sync listener port.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	Port int32 `json:"port"`

	// SourceStoreID is the store index on the master being replicated.
	// +kubebuilder:validation:Minimum=0
	SourceStoreID int32 `json:"sourceStoreId"`
}

// StoreTopology is the desired replication wiring for a single store.
type StoreTopology struct {
	// ID is the store index within the managed instance.
	// +kubebuilder:validation:Minimum=0
	ID int32 `json:"id"`

	// SyncFrom names the master this store should attach to. A nil value
	// means the store should be detached (standalone read-write).
	// +optional
	SyncFrom *SyncSource `json:"syncFrom,omitempty"`
}

// ReplicaTopologySpec defines the desired replication wiring of a managed
// replicore instance. This controller never provisions the instance's
// store processes themselves (those are expected to already be running
// and reachable at AdminEndpoint) — it only drives changeReplSource calls
// to make the observed wiring match this spec.
type ReplicaTopologySpec struct {
	// AdminEndpoint is the base URL of the target instance's admin HTTP
	// API, e.g. "http://replicore-0.replicore:6381".
	AdminEndpoint string `json:"adminEndpoint"`

	// Stores lists the desired sync source for each store this topology
	// manages.
	// +kubebuilder:validation:MinItems=1
	Stores []StoreTopology `json:"stores"`
}

// TopologyPhase is the coarse reconciliation state of a ReplicaTopology.
type TopologyPhase string

const (
	TopologyPhasePending   TopologyPhase = "Pending"
	TopologyPhaseReconciling TopologyPhase = "Reconciling"
	TopologyPhaseSynced    TopologyPhase = "Synced"
	TopologyPhaseDegraded  TopologyPhase = "Degraded"
)

// Condition type constants, mirrored on metav1.Condition's Type field.
const (
	ConditionTypeReachable TopologyConditionType = "Reachable"
	ConditionTypeSynced    TopologyConditionType = "Synced"
)

// TopologyConditionType names a well-known condition on a ReplicaTopology.
type TopologyConditionType string

// StoreStatus is the last-observed replication state of one store, as
// reported by the target instance's admin JSON status snapshot.
type StoreStatus struct {
	ID int32 `json:"id"`

	// ReplState is the store's replication state machine value, e.g.
	// "NONE", "CONNECT", "TRANSFER", "CONNECTED".
	ReplState string `json:"replState"`

	// BinlogPos is the store's binlog_id from the status snapshot (its
	// last-applied binlog id), as a decimal string (binlog ids can exceed
	// what some JSON consumers treat as a safe integer).
	BinlogPos string `json:"binlogPos,omitempty"`

	// SyncSource is "host:port:sourceStoreId" as reported by the snapshot;
	// a detached store reports ":0:0".
	SyncSource string `json:"syncSource,omitempty"`

	// LastSyncTime is when this store's slave status last advanced.
	// +optional
	LastSyncTime *metav1.Time `json:"lastSyncTime,omitempty"`

	// PushStatusCount is the number of peers this store is currently
	// pushing to (meaningful only while it is itself a master).
	PushStatusCount int32 `json:"pushStatusCount,omitempty"`
}

// ReplicaTopologyStatus defines the observed state of a ReplicaTopology.
type ReplicaTopologyStatus struct {
	// Phase summarizes reconciliation progress.
	Phase TopologyPhase `json:"phase,omitempty"`

	// Stores is the last-observed status of each store named in the spec.
	Stores []StoreStatus `json:"stores,omitempty"`

	// Conditions holds the latest available observations.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// ObservedGeneration is the spec generation last reconciled.
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// LastUpdateTime is when status was last refreshed.
	// +optional
	LastUpdateTime *metav1.Time `json:"lastUpdateTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=".metadata.creationTimestamp"

// ReplicaTopology is the Schema for the replicatopologies API. It
// describes the desired master/slave wiring across a set of stores in a
// single replicore instance and drives it via that instance's admin API.
type ReplicaTopology struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ReplicaTopologySpec   `json:"spec,omitempty"`
	Status ReplicaTopologyStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ReplicaTopologyList contains a list of ReplicaTopology.
type ReplicaTopologyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ReplicaTopology `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ReplicaTopology{}, &ReplicaTopologyList{})
}

// IsSynced reports whether every store's observed state matches its
// desired sync source.
func (rt *ReplicaTopology) IsSynced() bool {
	return rt.Status.Phase == TopologyPhaseSynced
}
