/*
Copyright 2026.

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

// =============================================================================
// SocketSpec defines the desired state of Socket.
//
// A Socket is the provider side of an integration. Plugs in any namespace
// may reference it, and for each of them the operator will:
//   - Wait for the Wait resources to be ready in the Plug's namespace
//   - Merge the listed ConfigMaps and Secrets into the Plug's namespace
//   - Replicate the Replications into the Plug's namespace
//   - Run the Hooks as Jobs at each lifecycle stage
//
// =============================================================================
type SocketSpec struct {
	// Hooks trigger Jobs during the lifecycle of an integration.
	//
	// +optional
	Hooks []Hook `json:"hooks,omitempty"`

	// Replications are copied into each Plug's namespace.
	//
	// +optional
	Replications []Replication `json:"replications,omitempty"`

	// Wait lists resources that must be ready before integrating.
	//
	// +optional
	Wait WaitSpec `json:"wait,omitempty"`

	// Configmaps are copied (and merged with Plug overrides) into each
	// Plug's namespace.
	//
	// +optional
	Configmaps []string `json:"configmaps,omitempty"`

	// Secrets are copied (and merged with Plug overrides) into each Plug's
	// namespace.
	//
	// +optional
	Secrets []string `json:"secrets,omitempty"`

	// AppendName is appended to the names of objects this Socket replicates.
	//
	// +optional
	AppendName string `json:"appendName,omitempty"`
}

// +kubebuilder:object:root=true

// Socket is the Schema for the sockets API
type Socket struct {
	metav1.TypeMeta `json:",inline"`

	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// +required
	Spec SocketSpec `json:"spec"`
}

// +kubebuilder:object:root=true

// SocketList contains a list of Socket
type SocketList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []Socket `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Socket{}, &SocketList{})
}
