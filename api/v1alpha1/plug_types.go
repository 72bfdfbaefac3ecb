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
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// =============================================================================
// PlugSpec defines the desired state of Plug.
//
// A Plug is the consumer side of an integration. It names the Socket it
// wants to connect to and declares what it brings along:
//   - Replications: objects copied from the Plug's namespace into the Socket's
//   - MergeConfigmaps/MergeSecrets: keys overriding the Socket's configuration
//   - Kustomization: applied once the integration hooks have run
//   - Cleanup: run the Socket's cleanup hooks when this Plug is deleted
//
// =============================================================================
type PlugSpec struct {
	// Socket is the Socket this Plug integrates with.
	//
	// Example:
	//   socket:
	//     name: postgres
	//     namespace: databases
	//
	// +required
	Socket NamespacedName `json:"socket"`

	// Kustomization is written verbatim as the spec of a companion
	// Kustomization owned by this Plug.
	//
	// +kubebuilder:pruning:PreserveUnknownFields
	// +optional
	Kustomization *apiextensionsv1.JSON `json:"kustomization,omitempty"`

	// Replications are copied into the Socket's namespace.
	//
	// +optional
	Replications []Replication `json:"replications,omitempty"`

	// MergeConfigmaps overlays Plug ConfigMaps onto the Socket's ConfigMaps.
	//
	// +optional
	MergeConfigmaps []MergeSpec `json:"mergeConfigmaps,omitempty"`

	// MergeSecrets overlays Plug Secrets onto the Socket's Secrets.
	//
	// +optional
	MergeSecrets []MergeSpec `json:"mergeSecrets,omitempty"`

	// ConfigmapPostfix is appended to the names of merged ConfigMaps.
	//
	// +optional
	ConfigmapPostfix string `json:"configmapPostfix,omitempty"`

	// SecretPostfix is appended to the names of merged Secrets.
	//
	// +optional
	SecretPostfix string `json:"secretPostfix,omitempty"`

	// Cleanup runs the Socket's cleanup hooks when this Plug is deleted.
	//
	// +optional
	Cleanup bool `json:"cleanup,omitempty"`

	// AppendName is appended to hook Job names and to the names of objects
	// this Plug replicates.
	//
	// +optional
	AppendName string `json:"appendName,omitempty"`
}

// PlugStatus defines the observed state of Plug.
type PlugStatus struct {
	// Message describes the most recent outcome of the integration.
	//
	// +optional
	Message string `json:"message,omitempty"`

	// Phase is one of Pending, Succeeded, Failed or Unknown.
	//
	// +optional
	Phase Phase `json:"phase,omitempty"`

	// Ready is true once the integration has succeeded.
	//
	// +optional
	Ready bool `json:"ready,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Socket",type=string,JSONPath=`.spec.socket.name`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Ready",type=boolean,JSONPath=`.status.ready`

// Plug is the Schema for the plugs API
type Plug struct {
	metav1.TypeMeta `json:",inline"`

	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// +required
	Spec PlugSpec `json:"spec"`

	// +optional
	Status PlugStatus `json:"status,omitzero"`
}

// SocketNamespace resolves the namespace of the referenced Socket.
func (p *Plug) SocketNamespace() string {
	if p.Spec.Socket.Namespace != "" {
		return p.Spec.Socket.Namespace
	}
	return p.Namespace
}

// +kubebuilder:object:root=true

// PlugList contains a list of Plug
type PlugList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []Plug `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Plug{}, &PlugList{})
}
