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

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

// PodLogReader reads the output of a hook Job.
type PodLogReader interface {
	JobLogs(ctx context.Context, namespace, job string) (string, error)
}

// ClientsetLogReader reads pod logs through the core/v1 API. The
// controller-runtime client cannot stream the pods/log subresource.
type ClientsetLogReader struct {
	Clientset kubernetes.Interface
}

// JobLogs returns the log of the pod the Job ran, preferring a pod that
// succeeded when the Job retried.
func (r *ClientsetLogReader) JobLogs(ctx context.Context, namespace, job string) (string, error) {
	pods, err := r.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.Set{LabelJobName: job}.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pods of Job %s in ns %s: %w", job, namespace, err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("no pod found for Job %s in ns %s", job, namespace)
	}

	pod := pods.Items[0]
	for _, p := range pods.Items {
		if p.Status.Phase == corev1.PodSucceeded {
			pod = p
			break
		}
	}

	raw, err := r.Clientset.CoreV1().Pods(namespace).GetLogs(pod.Name, &corev1.PodLogOptions{}).DoRaw(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read logs of pod %s in ns %s: %w", pod.Name, namespace, err)
	}
	return string(raw), nil
}
