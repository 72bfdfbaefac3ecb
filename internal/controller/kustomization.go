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

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	kustomizev1alpha1 "github.com/clayrisser/integration-operator/api/kustomize/v1alpha1"
	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/tracking"
)

// applyKustomization writes the Plug's kustomization payload into a
// Kustomization of the same name, owned by the Plug.
func (r *PlugReconciler) applyKustomization(ctx context.Context, lease *tracking.Lease, plug *integrationv1alpha1.Plug) error {
	if plug.Spec.Kustomization == nil {
		return nil
	}
	if err := lease.Check(); err != nil {
		return err
	}

	k := &kustomizev1alpha1.Kustomization{
		ObjectMeta: metav1.ObjectMeta{Name: plug.Name, Namespace: plug.Namespace},
	}
	result, err := controllerutil.CreateOrPatch(ctx, r.Client, k, func() error {
		k.Spec = plug.Spec.Kustomization.DeepCopy()
		stampManaged(&k.ObjectMeta, plug)
		return controllerutil.SetControllerReference(plug, k, r.Scheme)
	})
	if err != nil {
		return fmt.Errorf("failed to write Kustomization %s in ns %s: %w", k.Name, k.Namespace, err)
	}
	logf.FromContext(ctx).Info("Applied Kustomization", "name", k.Name, "result", result)
	return nil
}
