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
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// =============================================================================
// HookName is the lifecycle stage a Socket hook runs at.
//
// Hooks fire in three waves around an integration: the before-* hooks, the
// hooks at the stage itself, then the after-* hooks. The *-create-or-update
// variants run alongside both the create and the update variants.
// =============================================================================
// +kubebuilder:validation:Enum=before-create;create;after-create;before-update;update;after-update;before-create-or-update;create-or-update;after-create-or-update;before-cleanup;cleanup;after-cleanup
type HookName string

const (
	HookBeforeCreate         HookName = "before-create"
	HookCreate               HookName = "create"
	HookAfterCreate          HookName = "after-create"
	HookBeforeUpdate         HookName = "before-update"
	HookUpdate               HookName = "update"
	HookAfterUpdate          HookName = "after-update"
	HookBeforeCreateOrUpdate HookName = "before-create-or-update"
	HookCreateOrUpdate       HookName = "create-or-update"
	HookAfterCreateOrUpdate  HookName = "after-create-or-update"
	HookBeforeCleanup        HookName = "before-cleanup"
	HookCleanup              HookName = "cleanup"
	HookAfterCleanup         HookName = "after-cleanup"
)

// IsCleanup reports whether the hook runs while a Plug is being torn down.
func (h HookName) IsCleanup() bool {
	return h == HookBeforeCleanup || h == HookCleanup || h == HookAfterCleanup
}

// =============================================================================
// Hook runs a Job when its lifecycle stage is reached.
// =============================================================================
type Hook struct {
	// Name is the lifecycle stage that triggers this hook.
	//
	// +required
	Name HookName `json:"name"`

	// Job is the spec of the Job created in the Plug's namespace.
	//
	// +required
	Job batchv1.JobSpec `json:"job"`

	// Timeout bounds how long the operator waits for the Job to succeed.
	// Defaults to the operator's hook timeout.
	//
	// +optional
	Timeout *metav1.Duration `json:"timeout,omitempty"`

	// MessageRegex extracts the status message from the Job's pod logs.
	// Capture groups are used when present, otherwise the whole match.
	//
	// Example:
	//   messageRegex: "done: (.*)"
	//
	// +optional
	MessageRegex string `json:"messageRegex,omitempty"`
}

// =============================================================================
// Replication identifies an object to copy into the other side of an
// integration. The destination namespace is implied by the direction:
// Socket replications land in the Plug's namespace and Plug replications
// land in the Socket's namespace.
// =============================================================================
type Replication struct {
	// +optional
	Group string `json:"group,omitempty"`

	// +required
	Version string `json:"version"`

	// +required
	Kind string `json:"kind"`

	// +required
	Name string `json:"name"`
}

// =============================================================================
// WaitSpec lists resources that must be ready in the Plug's namespace before
// anything is replicated or merged.
// =============================================================================
type WaitSpec struct {
	// +optional
	Resources []WaitResource `json:"resources,omitempty"`

	// Timeout bounds the wait. Defaults to the operator's wait timeout.
	//
	// +optional
	Timeout *metav1.Duration `json:"timeout,omitempty"`
}

// WaitResource is a single dependency of a Socket.
type WaitResource struct {
	// +optional
	Group string `json:"group,omitempty"`

	// +required
	Version string `json:"version"`

	// +required
	Kind string `json:"kind"`

	// +required
	Name string `json:"name"`

	// StatusPhases are the accepted values of .status.phase. When empty the
	// resource only has to exist.
	//
	// +optional
	StatusPhases []string `json:"statusPhases,omitempty"`
}

// NamespacedName points at a Socket. An empty namespace means the Plug's own.
type NamespacedName struct {
	// +required
	Name string `json:"name"`

	// +optional
	Namespace string `json:"namespace,omitempty"`
}

// MergeSpec overlays the keys of a Plug-side ConfigMap or Secret on top of
// the Socket-side object named by To.
type MergeSpec struct {
	// From is the object in the Plug's namespace to read keys from.
	//
	// +optional
	From string `json:"from,omitempty"`

	// To is the name of the Socket-declared object the keys are merged into.
	//
	// +optional
	To string `json:"to,omitempty"`
}

// Phase is the integration phase reported on a Plug.
// +kubebuilder:validation:Enum=Pending;Succeeded;Failed;Unknown
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseUnknown   Phase = "Unknown"
)
