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
	"slices"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/config"
	"github.com/clayrisser/integration-operator/internal/resource"
	"github.com/clayrisser/integration-operator/internal/tracking"
)

// ReadinessWaiter blocks until the resources a Socket waits on exist in the
// Plug's namespace and report an accepted status phase.
type ReadinessWaiter struct {
	Resources *resource.Client
	Options   *config.Options
}

// Wait polls the Socket's wait resources until all are ready or the wait
// timeout runs out. It returns a DependencyMissingError naming whatever was
// still missing on timeout.
func (w *ReadinessWaiter) Wait(
	ctx context.Context,
	lease *tracking.Lease,
	plug *integrationv1alpha1.Plug,
	socket *integrationv1alpha1.Socket,
) error {
	log := logf.FromContext(ctx)

	wanted := socket.Spec.Wait.Resources
	if len(wanted) == 0 {
		return nil
	}

	refs := make([]resource.Ref, 0, len(wanted))
	for _, r := range wanted {
		ref := resource.Ref{
			Group:     r.Group,
			Version:   r.Version,
			Kind:      r.Kind,
			Name:      r.Name,
			Namespace: plug.Namespace,
		}
		if err := ref.Validate(); err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	timeout := w.Options.DefaultWaitTimeout
	if socket.Spec.Wait.Timeout != nil && socket.Spec.Wait.Timeout.Duration > 0 {
		timeout = socket.Spec.Wait.Timeout.Duration
	}

	var missing []string
	err := wait.PollUntilContextTimeout(ctx, w.Options.PollInterval(timeout), timeout, true, func(ctx context.Context) (bool, error) {
		if err := lease.Check(); err != nil {
			return false, err
		}
		found, err := w.Resources.Get(ctx, refs...)
		if err != nil {
			return false, err
		}
		missing = unready(wanted, refs, found)
		if len(missing) > 0 {
			log.Info("Waiting on resources", "missing", missing)
			return false, nil
		}
		return true, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tracking.ErrUntracked):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case wait.Interrupted(err):
		return &DependencyMissingError{
			Plug:         plugKey(plug),
			Dependencies: missing,
			Reason:       fmt.Sprintf("timed out after %s waiting on resources", timeout),
		}
	default:
		return err
	}
}

// unready lists the wait resources that are absent or not in an accepted
// phase.
func unready(wanted []integrationv1alpha1.WaitResource, refs []resource.Ref, found []*unstructured.Unstructured) []string {
	var missing []string
	for i, want := range wanted {
		ref := refs[i]
		idx := slices.IndexFunc(found, func(u *unstructured.Unstructured) bool {
			return u.GetName() == ref.Name && u.GetKind() == ref.Kind && u.GetAPIVersion() == ref.APIVersion()
		})
		if idx < 0 {
			missing = append(missing, ref.String())
			continue
		}
		if len(want.StatusPhases) == 0 {
			continue
		}
		phase, _, _ := unstructured.NestedString(found[idx].Object, "status", "phase")
		if !slices.Contains(want.StatusPhases, phase) {
			missing = append(missing, fmt.Sprintf("%s (phase %q)", ref.String(), phase))
		}
	}
	return missing
}
