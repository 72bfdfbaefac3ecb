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

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/tracking"
)

// =============================================================================
// ConfigMerger copies the ConfigMaps and Secrets a Socket declares into the
// Plug's namespace, with the Plug's merge directives layered on top.
//
// For every declared object:
// - Start from the Socket-side data
// - Overlay the data of every Plug-side object whose directive targets it
// - Create or patch "<name>[-<postfix>]" in the Plug's namespace, owned by
//   the Plug
//
// Plug values win on conflicting keys.
// =============================================================================
type ConfigMerger struct {
	Client client.Client
	Scheme *runtime.Scheme
}

// Merge runs MergeConfigMaps and MergeSecrets concurrently.
func (m *ConfigMerger) Merge(ctx context.Context, lease *tracking.Lease, plug *integrationv1alpha1.Plug, socket *integrationv1alpha1.Socket) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.MergeConfigMaps(gctx, lease, plug, socket) })
	g.Go(func() error { return m.MergeSecrets(gctx, lease, plug, socket) })
	return g.Wait()
}

// MergeConfigMaps merges every ConfigMap the Socket declares.
func (m *ConfigMerger) MergeConfigMaps(ctx context.Context, lease *tracking.Lease, plug *integrationv1alpha1.Plug, socket *integrationv1alpha1.Socket) error {
	log := logf.FromContext(ctx)

	for _, name := range socket.Spec.Configmaps {
		var source corev1.ConfigMap
		if err := m.Client.Get(ctx, types.NamespacedName{Namespace: socket.Namespace, Name: name}, &source); err != nil {
			return fmt.Errorf("failed to get ConfigMap %s in ns %s: %w", name, socket.Namespace, err)
		}

		data := make(map[string]string, len(source.Data))
		for k, v := range source.Data {
			data[k] = v
		}
		for _, directive := range plug.Spec.MergeConfigmaps {
			if directive.To != name || directive.From == "" {
				continue
			}
			var override corev1.ConfigMap
			if err := m.Client.Get(ctx, types.NamespacedName{Namespace: plug.Namespace, Name: directive.From}, &override); err != nil {
				return fmt.Errorf("failed to get ConfigMap %s in ns %s: %w", directive.From, plug.Namespace, err)
			}
			for k, v := range override.Data {
				data[k] = v
			}
		}

		target := &corev1.ConfigMap{ObjectMeta: destinationMeta(plug, name, plug.Spec.ConfigmapPostfix)}
		if clobbersSource(socket, target.ObjectMeta, name) {
			logSkipped(log, "ConfigMap", name)
			continue
		}
		if err := lease.Check(); err != nil {
			return err
		}

		result, err := controllerutil.CreateOrPatch(ctx, m.Client, target, func() error {
			target.Data = data
			target.BinaryData = source.BinaryData
			stampManaged(&target.ObjectMeta, plug)
			return controllerutil.SetControllerReference(plug, target, m.Scheme)
		})
		if err != nil {
			return fmt.Errorf("failed to write ConfigMap %s in ns %s: %w", target.Name, target.Namespace, err)
		}
		log.Info("Merged ConfigMap", "name", target.Name, "namespace", target.Namespace, "result", result)
	}
	return nil
}

// MergeSecrets merges every Secret the Socket declares. The Secret type of
// the Socket-side object is kept.
func (m *ConfigMerger) MergeSecrets(ctx context.Context, lease *tracking.Lease, plug *integrationv1alpha1.Plug, socket *integrationv1alpha1.Socket) error {
	log := logf.FromContext(ctx)

	for _, name := range socket.Spec.Secrets {
		var source corev1.Secret
		if err := m.Client.Get(ctx, types.NamespacedName{Namespace: socket.Namespace, Name: name}, &source); err != nil {
			return fmt.Errorf("failed to get Secret %s in ns %s: %w", name, socket.Namespace, err)
		}

		data := make(map[string][]byte, len(source.Data))
		for k, v := range source.Data {
			data[k] = v
		}
		for _, directive := range plug.Spec.MergeSecrets {
			if directive.To != name || directive.From == "" {
				continue
			}
			var override corev1.Secret
			if err := m.Client.Get(ctx, types.NamespacedName{Namespace: plug.Namespace, Name: directive.From}, &override); err != nil {
				return fmt.Errorf("failed to get Secret %s in ns %s: %w", directive.From, plug.Namespace, err)
			}
			for k, v := range override.Data {
				data[k] = v
			}
		}

		target := &corev1.Secret{ObjectMeta: destinationMeta(plug, name, plug.Spec.SecretPostfix)}
		if clobbersSource(socket, target.ObjectMeta, name) {
			logSkipped(log, "Secret", name)
			continue
		}
		if err := lease.Check(); err != nil {
			return err
		}

		result, err := controllerutil.CreateOrPatch(ctx, m.Client, target, func() error {
			target.Data = data
			if target.CreationTimestamp.IsZero() {
				// Type is immutable once created
				target.Type = source.Type
			}
			stampManaged(&target.ObjectMeta, plug)
			return controllerutil.SetControllerReference(plug, target, m.Scheme)
		})
		if err != nil {
			return fmt.Errorf("failed to write Secret %s in ns %s: %w", target.Name, target.Namespace, err)
		}
		log.Info("Merged Secret", "name", target.Name, "namespace", target.Namespace, "result", result)
	}
	return nil
}

func destinationMeta(plug *integrationv1alpha1.Plug, name, postfix string) metav1.ObjectMeta {
	if postfix != "" {
		name += "-" + postfix
	}
	return metav1.ObjectMeta{Name: name, Namespace: plug.Namespace}
}

// clobbersSource reports whether writing meta would overwrite the Socket's
// own object.
func clobbersSource(socket *integrationv1alpha1.Socket, meta metav1.ObjectMeta, name string) bool {
	return meta.Namespace == socket.Namespace && meta.Name == name
}

func logSkipped(log logr.Logger, kind, name string) {
	log.Info("Skipping merge onto the Socket's own object, set a postfix to merge in the same namespace",
		"kind", kind, "name", name)
}

func stampManaged(meta *metav1.ObjectMeta, plug *integrationv1alpha1.Plug) {
	if meta.Annotations == nil {
		meta.Annotations = make(map[string]string)
	}
	meta.Annotations[AnnotationManagedBy] = ManagedByValue
	meta.Annotations[AnnotationPlug] = plugKey(plug)
}
