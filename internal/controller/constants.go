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

package controller

// =============================================================================
// Constants for the integration operator.
//
// These are used for:
// - Provenance annotations on replicated and merged objects
// - Locating the pods of hook Jobs
// - Kubernetes Events recorded on Plugs
// =============================================================================

// =============================================================================
// Annotations applied to objects the operator writes.
// They record who manages an object and where a replica came from, so that
// cleanup only ever touches what this operator created.
// =============================================================================
const (
	// AnnotationManagedBy identifies this resource is managed by our operator
	AnnotationManagedBy = "integration.siliconhills.dev/managed-by"

	// AnnotationReplicatedFrom records "<source-name>.<source-namespace>"
	AnnotationReplicatedFrom = "integration.siliconhills.dev/replicated-from"

	// AnnotationPlug records "<plug-name>.<plug-namespace>" on objects
	// written on behalf of a Plug
	AnnotationPlug = "integration.siliconhills.dev/plug"

	// AnnotationPlugGeneration records the Plug generation a hook Job was
	// created for
	AnnotationPlugGeneration = "integration.siliconhills.dev/plug-generation"

	// ManagedByValue is the value for AnnotationManagedBy
	ManagedByValue = "integration-operator"
)

// LabelJobName is set by the Job controller on every pod it creates.
const LabelJobName = "job-name"

// DefaultHookMessage is reported for hooks without a messageRegex.
const DefaultHookMessage = "completed"

// =============================================================================
// Event reasons recorded on Plugs.
// =============================================================================
const (
	ReasonIntegrating       = "Integrating"
	ReasonIntegrated        = "Integrated"
	ReasonIntegrationFailed = "IntegrationFailed"
)
