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
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/metrics"
	"github.com/clayrisser/integration-operator/internal/resource"
	"github.com/clayrisser/integration-operator/internal/tracking"
)

// =============================================================================
// ReplicationEngine copies objects between the two namespaces of an
// integration.
//
// Every replica is stamped with AnnotationReplicatedFrom. Cleanup deletes a
// replica only when that annotation names the exact source being cleaned
// up, never anything else that happens to share the name.
//
// Replicas are owned by the Plug only when they live in its namespace;
// Kubernetes does not allow owner references across namespaces.
// =============================================================================
type ReplicationEngine struct {
	Resources *resource.Client
	Scheme    *runtime.Scheme
}

// ReplicaName returns the name of the replica of name.
func ReplicaName(name, appendName string) string {
	if appendName == "" {
		return name
	}
	return name + "-" + appendName
}

// Provenance returns the value of AnnotationReplicatedFrom for a source.
func Provenance(name, namespace string) string {
	return name + "." + namespace
}

// Apply copies the object named by rep from one namespace to another. When
// owner is set it becomes the controller of the replica.
func (e *ReplicationEngine) Apply(
	ctx context.Context,
	rep integrationv1alpha1.Replication,
	from, to, appendName string,
	owner client.Object,
) error {
	log := logf.FromContext(ctx)
	replErr := func(err error) error {
		return &ReplicationError{Replication: rep, From: from, To: to, Err: err}
	}

	if to == "" {
		return replErr(errors.New("destination namespace is not set"))
	}
	if from == to && appendName == "" {
		log.Info("Skipping replication onto its own source", "kind", rep.Kind, "name", rep.Name, "namespace", to)
		return nil
	}

	src := resource.Ref{Group: rep.Group, Version: rep.Version, Kind: rep.Kind, Name: rep.Name, Namespace: from}
	if err := src.Validate(); err != nil {
		return replErr(err)
	}
	source, err := e.Resources.GetOne(ctx, src)
	if err != nil {
		return replErr(err)
	}
	if source == nil {
		return replErr(fmt.Errorf("source %s not found", src))
	}

	replica := newReplica(source, to, ReplicaName(rep.Name, appendName))
	if owner != nil {
		if err := controllerutil.SetControllerReference(owner, replica, e.Scheme); err != nil {
			return replErr(err)
		}
	}

	if err := e.Resources.Apply(ctx, replica); err != nil {
		return replErr(err)
	}
	metrics.RecordReplication("apply")
	log.Info("Replicated resource", "kind", rep.Kind, "name", replica.GetName(), "from", from, "to", to)
	return nil
}

// Cleanup deletes the replica of rep in namespace to if, and only if, it
// was replicated from namespace from.
func (e *ReplicationEngine) Cleanup(
	ctx context.Context,
	rep integrationv1alpha1.Replication,
	from, to, appendName string,
) error {
	log := logf.FromContext(ctx)

	ref := resource.Ref{
		Group:     rep.Group,
		Version:   rep.Version,
		Kind:      rep.Kind,
		Name:      ReplicaName(rep.Name, appendName),
		Namespace: to,
	}
	if err := ref.Validate(); err != nil {
		return &ReplicationError{Replication: rep, From: from, To: to, Err: err}
	}

	replica, err := e.Resources.GetOne(ctx, ref)
	if err != nil || replica == nil {
		return err
	}

	// Safety check: only delete what was replicated from this source
	if replica.GetAnnotations()[AnnotationReplicatedFrom] != Provenance(rep.Name, from) {
		log.Info("Skipping cleanup of resource with different provenance",
			"resource", ref.String(),
			"replicatedFrom", replica.GetAnnotations()[AnnotationReplicatedFrom])
		return nil
	}

	if err := e.Resources.Delete(ctx, ref); err != nil {
		return err
	}
	metrics.RecordReplication("cleanup")
	log.Info("Deleted replicated resource", "resource", ref.String())
	return nil
}

// ApplyAll replicates every entry of reps concurrently.
func (e *ReplicationEngine) ApplyAll(
	ctx context.Context,
	lease *tracking.Lease,
	reps []integrationv1alpha1.Replication,
	from, to, appendName string,
	owner client.Object,
) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rep := range reps {
		g.Go(func() error {
			if err := lease.Check(); err != nil {
				return err
			}
			return e.Apply(gctx, rep, from, to, appendName, owner)
		})
	}
	return g.Wait()
}

// CleanupAll removes the replicas of every entry of reps concurrently.
func (e *ReplicationEngine) CleanupAll(
	ctx context.Context,
	lease *tracking.Lease,
	reps []integrationv1alpha1.Replication,
	from, to, appendName string,
) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rep := range reps {
		g.Go(func() error {
			if err := lease.Check(); err != nil {
				return err
			}
			return e.Cleanup(gctx, rep, from, to, appendName)
		})
	}
	return g.Wait()
}

// newReplica copies the body of source under fresh metadata. Server-owned
// fields and status are dropped.
func newReplica(source *unstructured.Unstructured, namespace, name string) *unstructured.Unstructured {
	replica := &unstructured.Unstructured{Object: runtime.DeepCopyJSON(source.Object)}
	delete(replica.Object, "metadata")
	delete(replica.Object, "status")

	replica.SetAPIVersion(source.GetAPIVersion())
	replica.SetKind(source.GetKind())
	replica.SetName(name)
	replica.SetNamespace(namespace)
	replica.SetLabels(source.GetLabels())

	annotations := make(map[string]string, len(source.GetAnnotations())+2)
	for k, v := range source.GetAnnotations() {
		annotations[k] = v
	}
	delete(annotations, "kubectl.kubernetes.io/last-applied-configuration")
	annotations[AnnotationReplicatedFrom] = Provenance(source.GetName(), source.GetNamespace())
	annotations[AnnotationManagedBy] = ManagedByValue
	replica.SetAnnotations(annotations)
	return replica
}
