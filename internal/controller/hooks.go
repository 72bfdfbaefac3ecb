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
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/config"
	"github.com/clayrisser/integration-operator/internal/metrics"
	"github.com/clayrisser/integration-operator/internal/tracking"
)

// HookResult is the outcome of one hook Job.
type HookResult struct {
	Hook         integrationv1alpha1.HookName
	JobName      string
	JobNamespace string
	Message      string
}

// =============================================================================
// HookRunner runs a Socket's hooks as Jobs in the Plug's namespace.
//
// For every hook matching a stage it:
//  1. Creates the Job, or patches it when it already exists
//  2. Polls until the Job succeeds, fails or runs out of time
//  3. Extracts a message from the Job's pod log
//
// Hooks of one stage run concurrently.
// =============================================================================
type HookRunner struct {
	Client  client.Client
	Scheme  *runtime.Scheme
	Logs    PodLogReader
	Options *config.Options
}

// JobName returns the name of the Job running the index-th hook of stage.
func JobName(plug *integrationv1alpha1.Plug, stage integrationv1alpha1.HookName, index int) string {
	name := fmt.Sprintf("%s-%s-%d", plug.Name, stage, index)
	if plug.Spec.AppendName != "" {
		name += "-" + plug.Spec.AppendName
	}
	return name
}

// Call runs every hook of the Socket registered for stage.
func (h *HookRunner) Call(
	ctx context.Context,
	lease *tracking.Lease,
	stage integrationv1alpha1.HookName,
	plug *integrationv1alpha1.Plug,
	socket *integrationv1alpha1.Socket,
) ([]HookResult, error) {
	var hooks []integrationv1alpha1.Hook
	for _, hook := range socket.Spec.Hooks {
		if hook.Name == stage {
			hooks = append(hooks, hook)
		}
	}
	if len(hooks) == 0 {
		return nil, nil
	}

	results := make([]HookResult, len(hooks))
	g, gctx := errgroup.WithContext(ctx)
	for i, hook := range hooks {
		g.Go(func() error {
			result, err := h.run(gctx, lease, plug, hook, JobName(plug, stage, i))
			if err != nil {
				return err
			}
			results[i] = *result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CallStages runs several independent stages concurrently and returns their
// results in the order the stages were given.
func (h *HookRunner) CallStages(
	ctx context.Context,
	lease *tracking.Lease,
	plug *integrationv1alpha1.Plug,
	socket *integrationv1alpha1.Socket,
	stages ...integrationv1alpha1.HookName,
) ([]HookResult, error) {
	perStage := make([][]HookResult, len(stages))
	g, gctx := errgroup.WithContext(ctx)
	for i, stage := range stages {
		g.Go(func() error {
			results, err := h.Call(gctx, lease, stage, plug, socket)
			perStage[i] = results
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []HookResult
	for _, r := range perStage {
		results = append(results, r...)
	}
	return results, nil
}

func (h *HookRunner) run(
	ctx context.Context,
	lease *tracking.Lease,
	plug *integrationv1alpha1.Plug,
	hook integrationv1alpha1.Hook,
	name string,
) (*HookResult, error) {
	log := logf.FromContext(ctx).WithValues("hook", hook.Name, "job", name)
	hookErr := func(err error) error {
		return &HookError{Hook: hook.Name, Job: name, Namespace: plug.Namespace, Err: err}
	}

	var re *regexp.Regexp
	if hook.MessageRegex != "" {
		var err error
		if re, err = regexp.Compile(hook.MessageRegex); err != nil {
			return nil, hookErr(fmt.Errorf("invalid messageRegex: %w", err))
		}
	}

	timeout := h.Options.DefaultHookTimeout
	if hook.Timeout != nil && hook.Timeout.Duration > 0 {
		timeout = hook.Timeout.Duration
	}

	if err := lease.Check(); err != nil {
		return nil, err
	}
	if err := h.ensureJob(ctx, plug, hook, name, timeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, hookErr(err)
	}
	log.Info("Hook Job created")

	started := time.Now()
	err := h.waitForJob(ctx, lease, types.NamespacedName{Namespace: plug.Namespace, Name: name}, timeout)
	metrics.RecordHookDuration(string(hook.Name), time.Since(started))
	switch {
	case errors.Is(err, tracking.ErrUntracked):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case wait.Interrupted(err):
		return nil, hookErr(fmt.Errorf("timed out after %s waiting for the Job to succeed", timeout))
	case err != nil:
		return nil, hookErr(err)
	}

	message := DefaultHookMessage
	if re != nil {
		logs, err := h.Logs.JobLogs(ctx, plug.Namespace, name)
		if err != nil {
			return nil, hookErr(err)
		}
		message = extractMessage(logs, re)
	}
	log.Info("Hook completed", "message", message)

	return &HookResult{
		Hook:         hook.Name,
		JobName:      name,
		JobNamespace: plug.Namespace,
		Message:      message,
	}, nil
}

// ensureJob creates the hook Job. A Job created for the same Plug
// generation is patched in place, keeping the template metadata stamped by
// the Job controller and the generated selector. A Job left by an earlier
// generation is deleted and created again: its template is immutable and a
// finished Job does not run twice.
func (h *HookRunner) ensureJob(
	ctx context.Context,
	plug *integrationv1alpha1.Plug,
	hook integrationv1alpha1.Hook,
	name string,
	timeout time.Duration,
) error {
	desired := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: plug.Namespace,
			Annotations: map[string]string{
				AnnotationManagedBy:      ManagedByValue,
				AnnotationPlug:           plugKey(plug),
				AnnotationPlugGeneration: strconv.FormatInt(plug.Generation, 10),
			},
		},
		Spec: *hook.Job.DeepCopy(),
	}

	// A Plug being cleaned up is about to disappear; owning the Job would
	// get it garbage collected before it runs.
	if !hook.Name.IsCleanup() {
		if err := controllerutil.SetControllerReference(plug, desired, h.Scheme); err != nil {
			return err
		}
	}

	var existing batchv1.Job
	err := h.Client.Get(ctx, client.ObjectKeyFromObject(desired), &existing)
	if apierrors.IsNotFound(err) {
		return h.Client.Create(ctx, desired, client.FieldOwner(h.Options.FieldOwner))
	} else if err != nil {
		return err
	}

	if existing.Annotations[AnnotationPlugGeneration] != desired.Annotations[AnnotationPlugGeneration] {
		if err := h.deleteJob(ctx, &existing, timeout); err != nil {
			return err
		}
		return h.Client.Create(ctx, desired, client.FieldOwner(h.Options.FieldOwner))
	}

	patch := client.MergeFrom(existing.DeepCopy())
	spec := desired.Spec
	if existing.Spec.Selector != nil {
		spec.Selector = existing.Spec.Selector
	}
	spec.Template.Labels = mergeStringMaps(existing.Spec.Template.Labels, spec.Template.Labels)
	spec.Template.Annotations = mergeStringMaps(existing.Spec.Template.Annotations, spec.Template.Annotations)
	existing.Spec = spec
	existing.Annotations = mergeStringMaps(existing.Annotations, desired.Annotations)
	return h.Client.Patch(ctx, &existing, patch, client.FieldOwner(h.Options.FieldOwner))
}

// deleteJob deletes job with its pods and waits until it is gone.
func (h *HookRunner) deleteJob(ctx context.Context, job *batchv1.Job, timeout time.Duration) error {
	logf.FromContext(ctx).Info("Replacing hook Job of an earlier generation",
		"generation", job.Annotations[AnnotationPlugGeneration])

	err := h.Client.Delete(ctx, job, client.PropagationPolicy(metav1.DeletePropagationBackground))
	if client.IgnoreNotFound(err) != nil {
		return err
	}

	key := client.ObjectKeyFromObject(job)
	err = wait.PollUntilContextTimeout(ctx, h.Options.PollInterval(timeout), timeout, true, func(ctx context.Context) (bool, error) {
		err := h.Client.Get(ctx, key, &batchv1.Job{})
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	})
	if wait.Interrupted(err) && ctx.Err() == nil {
		return fmt.Errorf("timed out after %s waiting for the previous Job to be deleted", timeout)
	}
	return err
}

func (h *HookRunner) waitForJob(ctx context.Context, lease *tracking.Lease, key types.NamespacedName, timeout time.Duration) error {
	return wait.PollUntilContextTimeout(ctx, h.Options.PollInterval(timeout), timeout, true, func(ctx context.Context) (bool, error) {
		if err := lease.Check(); err != nil {
			return false, err
		}
		var job batchv1.Job
		if err := h.Client.Get(ctx, key, &job); err != nil {
			return false, client.IgnoreNotFound(err)
		}
		if job.Status.Succeeded > 0 {
			return true, nil
		}
		for _, cond := range job.Status.Conditions {
			if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
				return false, fmt.Errorf("job failed: %s", cond.Message)
			}
		}
		return false, nil
	})
}

// extractMessage joins every match of re in logs. Capture groups are used
// when the pattern has any, otherwise the whole match.
func extractMessage(logs string, re *regexp.Regexp) string {
	var parts []string
	for _, match := range re.FindAllStringSubmatch(logs, -1) {
		if len(match) > 1 {
			parts = append(parts, match[1:]...)
		} else {
			parts = append(parts, match[0])
		}
	}
	return strings.Join(parts, "\n")
}

func mergeStringMaps(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return overlay
	}
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func plugKey(plug *integrationv1alpha1.Plug) string {
	return tracking.Key(plug.Name, plug.Namespace)
}
