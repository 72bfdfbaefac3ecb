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
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/json"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/tracking"
)

func pendingStatus(socket *integrationv1alpha1.Socket) integrationv1alpha1.PlugStatus {
	return integrationv1alpha1.PlugStatus{
		Message: fmt.Sprintf("integrating with Socket %s in ns %s", socket.Name, socket.Namespace),
		Phase:   integrationv1alpha1.PhasePending,
	}
}

func succeededStatus(socket *integrationv1alpha1.Socket, results []HookResult) integrationv1alpha1.PlugStatus {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("%s in Job %s in ns %s for hook %s", r.Message, r.JobName, r.JobNamespace, r.Hook))
	}
	message := strings.Join(lines, "\n")
	if message == "" {
		message = fmt.Sprintf("successfully integrated with Socket %s in ns %s", socket.Name, socket.Namespace)
	}
	return integrationv1alpha1.PlugStatus{
		Message: message,
		Phase:   integrationv1alpha1.PhaseSucceeded,
		Ready:   true,
	}
}

func failedStatus(message string) integrationv1alpha1.PlugStatus {
	return integrationv1alpha1.PlugStatus{
		Message: message,
		Phase:   integrationv1alpha1.PhaseFailed,
	}
}

// updateStatus patches the Plug's status subresource. It is skipped when
// the Plug is incomplete or no longer tracked; a nil lease falls back to
// checking the tracker directly.
func (r *PlugReconciler) updateStatus(
	ctx context.Context,
	lease *tracking.Lease,
	plug *integrationv1alpha1.Plug,
	status integrationv1alpha1.PlugStatus,
) error {
	log := logf.FromContext(ctx)

	if plug.Name == "" || plug.Namespace == "" {
		return nil
	}
	if lease != nil && !lease.Active() {
		return nil
	}
	if lease == nil && !r.Tracker.Tracked(plugKey(plug)) {
		return nil
	}

	// Every field is sent so a stale cached status cannot hide a change.
	patch, err := json.Marshal(map[string]any{
		"status": map[string]any{
			"message": status.Message,
			"phase":   status.Phase,
			"ready":   status.Ready,
		},
	})
	if err != nil {
		return err
	}

	err = retry.OnError(retry.DefaultBackoff, isTransient, func() error {
		target := &integrationv1alpha1.Plug{}
		target.Name = plug.Name
		target.Namespace = plug.Namespace
		return r.Status().Patch(ctx, target, client.RawPatch(types.MergePatchType, patch))
	})
	if apierrors.IsNotFound(err) {
		log.V(1).Info("Plug is gone, skipping status update")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update status of Plug %s: %w", plugKey(plug), err)
	}
	plug.Status = status

	if r.Recorder != nil {
		switch status.Phase {
		case integrationv1alpha1.PhaseSucceeded:
			r.Recorder.Event(plug, corev1.EventTypeNormal, ReasonIntegrated, status.Message)
		case integrationv1alpha1.PhaseFailed:
			r.Recorder.Event(plug, corev1.EventTypeWarning, ReasonIntegrationFailed, status.Message)
		default:
			r.Recorder.Event(plug, corev1.EventTypeNormal, ReasonIntegrating, status.Message)
		}
	}
	return nil
}

func isTransient(err error) bool {
	return apierrors.IsConflict(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err)
}
