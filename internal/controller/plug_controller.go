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
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/config"
	"github.com/clayrisser/integration-operator/internal/resource"
	"github.com/clayrisser/integration-operator/internal/tracking"
	"github.com/clayrisser/integration-operator/internal/watch"
)

// =============================================================================
// PlugReconciler integrates Plugs with their Sockets.
//
// The reconciler's job is to carry out the integration a Plug declares every
// time its spec changes, and to undo it when the Plug is deleted.
//
// Related files:
// - hooks.go: hook Jobs
// - readiness.go: waiting on Socket dependencies
// - merge.go: ConfigMap/Secret merging
// - replication.go: cross-namespace replicas
// - status.go: status writes and events
// =============================================================================
type PlugReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
	Options  *config.Options
	Tracker  *tracking.Tracker

	Hooks      *HookRunner
	Waiter     *ReadinessWaiter
	Merger     *ConfigMerger
	Replicator *ReplicationEngine
}

// NewPlugReconciler wires a PlugReconciler and its collaborators.
func NewPlugReconciler(
	c client.Client,
	scheme *runtime.Scheme,
	recorder record.EventRecorder,
	logs PodLogReader,
	opts *config.Options,
	tracker *tracking.Tracker,
) *PlugReconciler {
	resources := resource.New(c, opts.FieldOwner)
	return &PlugReconciler{
		Client:     c,
		Scheme:     scheme,
		Recorder:   recorder,
		Options:    opts,
		Tracker:    tracker,
		Hooks:      &HookRunner{Client: c, Scheme: scheme, Logs: logs, Options: opts},
		Waiter:     &ReadinessWaiter{Resources: resources, Options: opts},
		Merger:     &ConfigMerger{Client: c, Scheme: scheme},
		Replicator: &ReplicationEngine{Resources: resources, Scheme: scheme},
	}
}

// =============================================================================
// RBAC Markers - Generate ClusterRole permissions in config/rbac/role.yaml
// =============================================================================

// +kubebuilder:rbac:groups=integration.siliconhills.dev,resources=plugs,verbs=get;list;watch
// +kubebuilder:rbac:groups=integration.siliconhills.dev,resources=plugs/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=integration.siliconhills.dev,resources=sockets,verbs=get;list;watch
// +kubebuilder:rbac:groups=kustomize.siliconhills.dev,resources=kustomizations,verbs=get;list;watch;create;update;patch
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;update;patch
// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=pods/log,verbs=get
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch
// +kubebuilder:rbac:groups=*,resources=*,verbs=get;create;update;delete

// lifecycle names the hook stages run before, during and after an
// integration.
type lifecycle struct {
	before []integrationv1alpha1.HookName
	during []integrationv1alpha1.HookName
	after  []integrationv1alpha1.HookName
}

var (
	createLifecycle = lifecycle{
		before: []integrationv1alpha1.HookName{integrationv1alpha1.HookBeforeCreate, integrationv1alpha1.HookBeforeCreateOrUpdate},
		during: []integrationv1alpha1.HookName{integrationv1alpha1.HookCreate, integrationv1alpha1.HookCreateOrUpdate},
		after:  []integrationv1alpha1.HookName{integrationv1alpha1.HookAfterCreate, integrationv1alpha1.HookAfterCreateOrUpdate},
	}
	updateLifecycle = lifecycle{
		before: []integrationv1alpha1.HookName{integrationv1alpha1.HookBeforeUpdate, integrationv1alpha1.HookBeforeCreateOrUpdate},
		during: []integrationv1alpha1.HookName{integrationv1alpha1.HookUpdate, integrationv1alpha1.HookCreateOrUpdate},
		after:  []integrationv1alpha1.HookName{integrationv1alpha1.HookAfterUpdate, integrationv1alpha1.HookAfterCreateOrUpdate},
	}
	cleanupStages = []integrationv1alpha1.HookName{
		integrationv1alpha1.HookBeforeCleanup,
		integrationv1alpha1.HookCleanup,
		integrationv1alpha1.HookAfterCleanup,
	}
)

// Added integrates a new Plug.
func (r *PlugReconciler) Added(ctx context.Context, plug, old *integrationv1alpha1.Plug) error {
	if old != nil && old.Generation == plug.Generation {
		return nil
	}
	return r.integrate(ctx, plug, createLifecycle)
}

// Modified re-integrates a Plug whose spec changed.
func (r *PlugReconciler) Modified(ctx context.Context, plug, old *integrationv1alpha1.Plug) error {
	if old != nil && old.Generation == plug.Generation {
		return nil
	}
	return r.integrate(ctx, plug, updateLifecycle)
}

// Lease takes the tracking lease for an event that starts an integration or
// a cleanup. It runs when the event is dispatched, so a newer event cancels
// older in-flight work before either handler starts. Events carrying an
// unchanged generation get no lease.
func (r *PlugReconciler) Lease(eventType watch.EventType, plug, old *integrationv1alpha1.Plug) *tracking.Lease {
	if eventType != watch.Deleted && old != nil && old.Generation == plug.Generation {
		return nil
	}
	return r.Tracker.Begin(plugKey(plug))
}

// lease returns the lease dispatched with the event, or a fresh one when the
// handler was called directly.
func (r *PlugReconciler) lease(ctx context.Context, plug *integrationv1alpha1.Plug) *tracking.Lease {
	if lease, ok := tracking.LeaseFrom(ctx, plugKey(plug)); ok {
		return lease
	}
	return r.Tracker.Begin(plugKey(plug))
}

// AddedOrModified has nothing left to do for Plugs.
func (r *PlugReconciler) AddedOrModified(context.Context, *integrationv1alpha1.Plug, *integrationv1alpha1.Plug) error {
	return nil
}

// Reintegrate runs the update lifecycle for plug regardless of generation.
func (r *PlugReconciler) Reintegrate(ctx context.Context, plug *integrationv1alpha1.Plug) error {
	return r.integrate(ctx, plug, updateLifecycle)
}

// =============================================================================
// Deleted undoes an integration.
//
// The lease taken for the event cancels any integration still in flight for
// the Plug.
// Then:
// 1. Replicas the Plug put into the Socket's namespace are removed
// 2. Replicas the Socket put into the Plug's namespace are removed
// 3. The cleanup hooks run in order, when the Plug asks for them
//
// The tracking entry is dropped afterwards whatever the outcome.
// =============================================================================
func (r *PlugReconciler) Deleted(ctx context.Context, plug, _ *integrationv1alpha1.Plug) error {
	log := logf.FromContext(ctx)

	lease := r.lease(ctx, plug)
	defer lease.End()

	socket, err := r.getSocket(ctx, plug)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Replicator.CleanupAll(gctx, lease, plug.Spec.Replications,
			plug.Namespace, plug.SocketNamespace(), plug.Spec.AppendName)
	})
	if socket != nil {
		g.Go(func() error {
			return r.Replicator.CleanupAll(gctx, lease, socket.Spec.Replications,
				socket.Namespace, plug.Namespace, socket.Spec.AppendName)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if socket == nil {
		log.Info("Socket is gone, skipping its cleanup", "socket", plug.Spec.Socket.Name)
		return nil
	}
	if !plug.Spec.Cleanup {
		return nil
	}
	for _, stage := range cleanupStages {
		if _, err := r.callHooks(ctx, lease, plug, socket, stage); err != nil {
			return err
		}
	}
	log.Info("Cleaned up integration", "socket", socket.Name)
	return nil
}

// integrate runs the apply pipeline under a fresh lease. Errors are
// recorded as a Failed status and returned, except for cancellation which
// ends the run silently.
func (r *PlugReconciler) integrate(ctx context.Context, plug *integrationv1alpha1.Plug, lc lifecycle) error {
	log := logf.FromContext(ctx)

	lease := r.lease(ctx, plug)
	if !lease.Active() {
		log.V(1).Info("Superseded by a newer event, skipping integration")
		return nil
	}

	socket, err := r.getSocket(ctx, plug)
	if err != nil {
		return r.fail(ctx, lease, plug, err)
	}
	if socket == nil {
		missing := &DependencyMissingError{
			Plug:   plugKey(plug),
			Reason: fmt.Sprintf("Socket %s does not exist in ns %s", plug.Spec.Socket.Name, plug.SocketNamespace()),
		}
		log.Info("Socket not found", "error", missing.Error())
		return r.updateStatus(ctx, lease, plug, failedStatus(missing.Error()))
	}

	err = r.apply(ctx, lease, plug, socket, lc)
	if errors.Is(err, tracking.ErrUntracked) {
		log.Info("Plug is no longer tracked, stopping integration")
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if err != nil {
		return r.fail(ctx, lease, plug, err)
	}
	return nil
}

func (r *PlugReconciler) apply(
	ctx context.Context,
	lease *tracking.Lease,
	plug *integrationv1alpha1.Plug,
	socket *integrationv1alpha1.Socket,
	lc lifecycle,
) error {
	log := logf.FromContext(ctx).WithValues("socket", tracking.Key(socket.Name, socket.Namespace))
	ctx = logf.IntoContext(ctx, log)

	if err := r.updateStatus(ctx, lease, plug, pendingStatus(socket)); err != nil {
		return err
	}

	var results []HookResult
	before, err := r.callHooks(ctx, lease, plug, socket, lc.before...)
	if err != nil {
		return err
	}
	results = append(results, before...)

	// Hooks and dependencies may create what the Socket expects, so wait
	// for them before merging or replicating anything.
	if err := lease.Check(); err != nil {
		return err
	}
	lease.SetStage(tracking.StageResources)
	if err := r.Waiter.Wait(ctx, lease, plug, socket); err != nil {
		return err
	}
	lease.SetStage(tracking.StageActive)

	if err := lease.Check(); err != nil {
		return err
	}
	if err := r.Merger.Merge(ctx, lease, plug, socket); err != nil {
		return err
	}

	if err := lease.Check(); err != nil {
		return err
	}
	if err := r.replicate(ctx, lease, plug, socket); err != nil {
		return err
	}

	during, err := r.callHooks(ctx, lease, plug, socket, lc.during...)
	if err != nil {
		return err
	}
	results = append(results, during...)

	if err := r.applyKustomization(ctx, lease, plug); err != nil {
		return err
	}

	after, err := r.callHooks(ctx, lease, plug, socket, lc.after...)
	if err != nil {
		return err
	}
	results = append(results, after...)

	if err := lease.Check(); err != nil {
		return err
	}
	status := succeededStatus(socket, results)
	log.Info("Integration succeeded", "hooks", len(results))
	return r.updateStatus(ctx, lease, plug, status)
}

// replicate copies Socket replications into the Plug's namespace and Plug
// replications into the Socket's namespace.
func (r *PlugReconciler) replicate(
	ctx context.Context,
	lease *tracking.Lease,
	plug *integrationv1alpha1.Plug,
	socket *integrationv1alpha1.Socket,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Replicator.ApplyAll(gctx, lease, socket.Spec.Replications,
			socket.Namespace, plug.Namespace, socket.Spec.AppendName, plug)
	})
	g.Go(func() error {
		return r.Replicator.ApplyAll(gctx, lease, plug.Spec.Replications,
			plug.Namespace, socket.Namespace, plug.Spec.AppendName, nil)
	})
	return g.Wait()
}

func (r *PlugReconciler) callHooks(
	ctx context.Context,
	lease *tracking.Lease,
	plug *integrationv1alpha1.Plug,
	socket *integrationv1alpha1.Socket,
	stages ...integrationv1alpha1.HookName,
) ([]HookResult, error) {
	if err := lease.Check(); err != nil {
		return nil, err
	}
	lease.SetStage(tracking.StageJobs)
	defer lease.SetStage(tracking.StageActive)
	return r.Hooks.CallStages(ctx, lease, plug, socket, stages...)
}

// fail records err as a Failed status while the lease is still active and
// hands err back to the caller.
func (r *PlugReconciler) fail(ctx context.Context, lease *tracking.Lease, plug *integrationv1alpha1.Plug, err error) error {
	if lease.Active() {
		if statusErr := r.updateStatus(ctx, lease, plug, failedStatus(err.Error())); statusErr != nil {
			logf.FromContext(ctx).Error(statusErr, "Failed to update status")
		}
	}
	return err
}

// getSocket returns the Plug's Socket, or nil when it does not exist.
func (r *PlugReconciler) getSocket(ctx context.Context, plug *integrationv1alpha1.Plug) (*integrationv1alpha1.Socket, error) {
	var socket integrationv1alpha1.Socket
	key := types.NamespacedName{Namespace: plug.SocketNamespace(), Name: plug.Spec.Socket.Name}
	if err := r.Get(ctx, key, &socket); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get Socket %s in ns %s: %w", key.Name, key.Namespace, err)
	}
	return &socket, nil
}
