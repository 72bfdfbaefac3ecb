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
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/tracking"
)

// SocketReconciler propagates Socket changes to the Plugs integrated with
// them.
type SocketReconciler struct {
	client.Client
	Tracker *tracking.Tracker
	Plugs   *PlugReconciler
}

// Added has nothing to do: Plugs referencing a new Socket are integrated
// through their own events.
func (r *SocketReconciler) Added(context.Context, *integrationv1alpha1.Socket, *integrationv1alpha1.Socket) error {
	return nil
}

// Modified defers to AddedOrModified.
func (r *SocketReconciler) Modified(context.Context, *integrationv1alpha1.Socket, *integrationv1alpha1.Socket) error {
	return nil
}

// AddedOrModified re-integrates every tracked Plug of a Socket whose spec
// changed.
func (r *SocketReconciler) AddedOrModified(ctx context.Context, socket, old *integrationv1alpha1.Socket) error {
	log := logf.FromContext(ctx)

	if old == nil || old.Generation == socket.Generation {
		return nil
	}

	plugs, err := r.findPlugsForSocket(ctx, socket)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for i := range plugs {
		plug := &plugs[i]
		log.Info("Socket changed, re-integrating Plug", "plug", plugKey(plug))
		g.Go(func() error {
			return r.Plugs.Reintegrate(ctx, plug)
		})
	}
	return g.Wait()
}

// Deleted fails every tracked Plug of the Socket.
func (r *SocketReconciler) Deleted(ctx context.Context, socket, _ *integrationv1alpha1.Socket) error {
	plugs, err := r.findPlugsForSocket(ctx, socket)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("Socket %s no longer exists in ns %s", socket.Name, socket.Namespace)
	var errs []error
	for i := range plugs {
		plug := &plugs[i]
		if err := r.Plugs.updateStatus(ctx, nil, plug, failedStatus(message)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// findPlugsForSocket lists the tracked Plugs that reference socket.
func (r *SocketReconciler) findPlugsForSocket(ctx context.Context, socket *integrationv1alpha1.Socket) ([]integrationv1alpha1.Plug, error) {
	var plugList integrationv1alpha1.PlugList
	if err := r.List(ctx, &plugList); err != nil {
		return nil, fmt.Errorf("failed to list Plugs: %w", err)
	}

	var plugs []integrationv1alpha1.Plug
	for _, plug := range plugList.Items {
		if plug.Spec.Socket.Name != socket.Name || plug.SocketNamespace() != socket.Namespace {
			continue
		}
		if !r.Tracker.Tracked(plugKey(&plug)) {
			continue
		}
		plugs = append(plugs, plug)
	}
	return plugs, nil
}
