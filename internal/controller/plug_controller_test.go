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
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	kustomizev1alpha1 "github.com/clayrisser/integration-operator/api/kustomize/v1alpha1"
	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/tracking"
	"github.com/clayrisser/integration-operator/internal/watch"
)

func newDeployment(ns, name, phase string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion("apps/v1")
	u.SetKind("Deployment")
	u.SetName(name)
	u.SetNamespace(ns)
	if phase != "" {
		Expect(unstructured.SetNestedField(u.Object, phase, "status", "phase")).To(Succeed())
	}
	return u
}

// updateSocket applies mutate to the stored copy of socket.
func (e *testEnv) updateSocket(ctx context.Context, socket *integrationv1alpha1.Socket, mutate func(*integrationv1alpha1.Socket)) {
	GinkgoHelper()
	var current integrationv1alpha1.Socket
	Expect(e.k8sClient.Get(ctx, client.ObjectKeyFromObject(socket), &current)).To(Succeed())
	mutate(&current)
	Expect(e.k8sClient.Update(ctx, &current)).To(Succeed())
}

var _ = Describe("Plug Controller", func() {
	const (
		plugNS   = "ns-a"
		socketNS = "ns-b"
	)

	var (
		ctx    context.Context
		plug   *integrationv1alpha1.Plug
		socket *integrationv1alpha1.Socket
	)

	BeforeEach(func() {
		ctx = context.Background()
		plug = newPlug(plugNS, "p1", socketNS, "s1")
		socket = newSocket(socketNS, "s1")
		socket.Spec.Wait = integrationv1alpha1.WaitSpec{
			Resources: []integrationv1alpha1.WaitResource{{
				Group:        "apps",
				Version:      "v1",
				Kind:         "Deployment",
				Name:         "web",
				StatusPhases: []string{"Ready"},
			}},
			Timeout: &metav1.Duration{Duration: 100 * time.Millisecond},
		}
		socket.Spec.Hooks = []integrationv1alpha1.Hook{newHook(integrationv1alpha1.HookCreate, "done: (.*)")}
		socket.Spec.Configmaps = []string{"settings"}
	})

	Context("when the Socket does not exist", func() {
		It("should fail the Plug and stay tracked", func() {
			env := newTestEnv(nil, plug)

			Expect(env.plugs.Added(ctx, plug, nil)).To(Succeed())

			current := env.getPlug(ctx, plug)
			Expect(current.Status.Phase).To(Equal(integrationv1alpha1.PhaseFailed))
			Expect(current.Status.Ready).To(BeFalse())
			Expect(current.Status.Message).To(ContainSubstring("Socket s1 does not exist in ns ns-b"))
			Expect(env.tracker.Tracked("p1.ns-a")).To(BeTrue())
		})
	})

	Context("when a wait resource is missing", func() {
		It("should fail without creating Jobs or ConfigMaps", func() {
			env := newTestEnv(nil, plug, socket,
				newConfigMap(socketNS, "settings", map[string]string{"a": "1"}))

			err := env.plugs.Added(ctx, plug, nil)
			Expect(err).To(HaveOccurred())
			var missing *DependencyMissingError
			Expect(errors.As(err, &missing)).To(BeTrue())

			current := env.getPlug(ctx, plug)
			Expect(current.Status.Phase).To(Equal(integrationv1alpha1.PhaseFailed))
			Expect(current.Status.Ready).To(BeFalse())
			Expect(current.Status.Message).To(ContainSubstring("Deployment apps/v1/web in ns ns-a"))

			var jobs batchv1.JobList
			Expect(env.k8sClient.List(ctx, &jobs, client.InNamespace(plugNS))).To(Succeed())
			Expect(jobs.Items).To(BeEmpty())

			var configMaps corev1.ConfigMapList
			Expect(env.k8sClient.List(ctx, &configMaps, client.InNamespace(plugNS))).To(Succeed())
			Expect(configMaps.Items).To(BeEmpty())
		})

		It("should fail when the resource is in the wrong phase", func() {
			env := newTestEnv(nil, plug, socket,
				newConfigMap(socketNS, "settings", map[string]string{"a": "1"}))
			Expect(env.k8sClient.Create(ctx, newDeployment(plugNS, "web", "Progressing"))).To(Succeed())

			Expect(env.plugs.Added(ctx, plug, nil)).NotTo(Succeed())

			current := env.getPlug(ctx, plug)
			Expect(current.Status.Phase).To(Equal(integrationv1alpha1.PhaseFailed))
			Expect(current.Status.Message).To(ContainSubstring(`phase "Progressing"`))
		})
	})

	Context("when every dependency is ready", func() {
		var env *testEnv

		BeforeEach(func() {
			socket.Spec.Replications = []integrationv1alpha1.Replication{{Version: "v1", Kind: "ConfigMap", Name: "shared"}}
			plug.Spec.Replications = []integrationv1alpha1.Replication{{Version: "v1", Kind: "ConfigMap", Name: "client"}}
			plug.Spec.AppendName = "p1"

			env = newTestEnv(nil, plug, socket,
				newConfigMap(socketNS, "settings", map[string]string{"a": "1"}),
				newConfigMap(socketNS, "shared", map[string]string{"s": "1"}),
				newConfigMap(plugNS, "client", map[string]string{"c": "1"}))
			Expect(env.k8sClient.Create(ctx, newDeployment(plugNS, "web", "Ready"))).To(Succeed())
		})

		It("should integrate and report the hook message", func() {
			Expect(env.plugs.Added(ctx, plug, nil)).To(Succeed())

			current := env.getPlug(ctx, plug)
			Expect(current.Status.Phase).To(Equal(integrationv1alpha1.PhaseSucceeded))
			Expect(current.Status.Ready).To(BeTrue())
			Expect(current.Status.Message).To(ContainSubstring("ok"))
			Expect(current.Status.Message).To(Equal("ok in Job p1-create-0-p1 in ns ns-a for hook create"))

			By("creating the hook Job owned by the Plug")
			var job batchv1.Job
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: plugNS, Name: "p1-create-0-p1"}, &job)).To(Succeed())
			Expect(job.OwnerReferences).To(HaveLen(1))
			Expect(job.OwnerReferences[0].Name).To(Equal("p1"))

			By("merging the Socket ConfigMap into the Plug namespace")
			var settings corev1.ConfigMap
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: plugNS, Name: "settings"}, &settings)).To(Succeed())
			Expect(settings.Data).To(Equal(map[string]string{"a": "1"}))

			By("replicating in both directions")
			var shared corev1.ConfigMap
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: plugNS, Name: "shared"}, &shared)).To(Succeed())
			Expect(shared.Annotations).To(HaveKeyWithValue(AnnotationReplicatedFrom, "shared.ns-b"))
			Expect(shared.OwnerReferences).To(HaveLen(1))

			var replica corev1.ConfigMap
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: socketNS, Name: "client-p1"}, &replica)).To(Succeed())
			Expect(replica.Annotations).To(HaveKeyWithValue(AnnotationReplicatedFrom, "client.ns-a"))
			Expect(replica.OwnerReferences).To(BeEmpty())

			By("recording events")
			Expect(env.recorder.Events).To(Receive(ContainSubstring(ReasonIntegrating)))
			Expect(env.recorder.Events).To(Receive(ContainSubstring(ReasonIntegrated)))
		})

		It("should skip an event carrying an unchanged generation", func() {
			Expect(env.plugs.Added(ctx, plug, nil)).To(Succeed())
			writes := env.writes.Load()

			Expect(env.plugs.Added(ctx, plug, plug.DeepCopy())).To(Succeed())
			Expect(env.plugs.Modified(ctx, plug, plug.DeepCopy())).To(Succeed())
			Expect(env.writes.Load()).To(Equal(writes))
		})

		It("should run the update hooks on a new generation", func() {
			env.updateSocket(ctx, socket, func(s *integrationv1alpha1.Socket) {
				s.Spec.Hooks = append(s.Spec.Hooks, newHook(integrationv1alpha1.HookUpdate, ""))
			})

			old := plug.DeepCopy()
			plug.Generation = 2
			Expect(env.plugs.Modified(ctx, plug, old)).To(Succeed())

			current := env.getPlug(ctx, plug)
			Expect(current.Status.Phase).To(Equal(integrationv1alpha1.PhaseSucceeded))
			Expect(current.Status.Message).To(Equal("completed in Job p1-update-0-p1 in ns ns-a for hook update"))

			var job batchv1.Job
			err := env.k8sClient.Get(ctx, types.NamespacedName{Namespace: plugNS, Name: "p1-create-0-p1"}, &job)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("should apply the kustomization", func() {
			plug.Spec.Kustomization = &apiextensionsv1.JSON{Raw: []byte(`{"resources":["base"]}`)}

			Expect(env.plugs.Added(ctx, plug, nil)).To(Succeed())

			var k kustomizev1alpha1.Kustomization
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: plugNS, Name: "p1"}, &k)).To(Succeed())
			Expect(k.Spec).NotTo(BeNil())
			Expect(k.Spec.Raw).To(MatchJSON(`{"resources":["base"]}`))
			Expect(k.OwnerReferences).To(HaveLen(1))
		})

		It("should clean up on delete", func() {
			plug.Spec.Cleanup = true
			env.updateSocket(ctx, socket, func(s *integrationv1alpha1.Socket) {
				s.Spec.Hooks = append(s.Spec.Hooks,
					newHook(integrationv1alpha1.HookBeforeCleanup, ""),
					newHook(integrationv1alpha1.HookCleanup, ""),
					newHook(integrationv1alpha1.HookAfterCleanup, ""))
			})
			Expect(env.plugs.Added(ctx, plug, nil)).To(Succeed())

			Expect(env.plugs.Deleted(ctx, plug, nil)).To(Succeed())
			Expect(env.tracker.Tracked("p1.ns-a")).To(BeFalse())

			By("removing replicas in both namespaces")
			err := env.k8sClient.Get(ctx, types.NamespacedName{Namespace: plugNS, Name: "shared"}, &corev1.ConfigMap{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			err = env.k8sClient.Get(ctx, types.NamespacedName{Namespace: socketNS, Name: "client-p1"}, &corev1.ConfigMap{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			By("keeping the sources")
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: socketNS, Name: "shared"}, &corev1.ConfigMap{})).To(Succeed())
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: plugNS, Name: "client"}, &corev1.ConfigMap{})).To(Succeed())

			By("running the cleanup hooks without owner references")
			for _, name := range []string{"p1-before-cleanup-0-p1", "p1-cleanup-0-p1", "p1-after-cleanup-0-p1"} {
				var job batchv1.Job
				Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: plugNS, Name: name}, &job)).To(Succeed())
				Expect(job.OwnerReferences).To(BeEmpty())
			}
		})

		It("should leave nothing behind when deleted right after being added", func() {
			Expect(env.k8sClient.Delete(ctx, plug)).To(Succeed())
			dispatcher := watch.NewDispatcher[*integrationv1alpha1.Plug](
				integrationv1alpha1.GroupVersion.WithKind("Plug"), env.plugs, false)

			dispatcher.Dispatch(ctx, watch.Event[*integrationv1alpha1.Plug]{Type: watch.Added, Object: plug})
			dispatcher.Dispatch(ctx, watch.Event[*integrationv1alpha1.Plug]{Type: watch.Deleted, Object: plug})
			dispatcher.Wait()

			err := env.k8sClient.Get(ctx, types.NamespacedName{Namespace: socketNS, Name: "client-p1"}, &corev1.ConfigMap{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			Expect(env.tracker.Tracked("p1.ns-a")).To(BeFalse())
		})

		It("should settle on the newest generation", func() {
			env.updateSocket(ctx, socket, func(s *integrationv1alpha1.Socket) {
				s.Spec.Hooks = append(s.Spec.Hooks, newHook(integrationv1alpha1.HookUpdate, ""))
			})
			dispatcher := watch.NewDispatcher[*integrationv1alpha1.Plug](
				integrationv1alpha1.GroupVersion.WithKind("Plug"), env.plugs, false)

			second := plug.DeepCopy()
			second.Generation = 2
			second.Spec.AppendName = "two"
			third := plug.DeepCopy()
			third.Generation = 3
			third.Spec.AppendName = "three"

			dispatcher.Dispatch(ctx, watch.Event[*integrationv1alpha1.Plug]{Type: watch.Modified, Object: second})
			dispatcher.Dispatch(ctx, watch.Event[*integrationv1alpha1.Plug]{Type: watch.Modified, Object: third})
			dispatcher.Wait()

			current := env.getPlug(ctx, plug)
			Expect(current.Status.Phase).To(Equal(integrationv1alpha1.PhaseSucceeded))
			Expect(current.Status.Message).To(Equal("completed in Job p1-update-0-three in ns ns-a for hook update"))
		})

		It("should not start an integration whose lease was superseded", func() {
			lease := env.tracker.Begin("p1.ns-a")
			env.tracker.Begin("p1.ns-a")
			writes := env.writes.Load()

			Expect(env.plugs.Added(tracking.WithLease(ctx, lease), plug, nil)).To(Succeed())
			Expect(env.writes.Load()).To(Equal(writes))
		})

		It("should only clean up Plug replicas when the Socket is gone", func() {
			Expect(env.plugs.Added(ctx, plug, nil)).To(Succeed())
			Expect(env.k8sClient.Delete(ctx, socket)).To(Succeed())

			Expect(env.plugs.Deleted(ctx, plug, nil)).To(Succeed())

			err := env.k8sClient.Get(ctx, types.NamespacedName{Namespace: socketNS, Name: "client-p1"}, &corev1.ConfigMap{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: plugNS, Name: "shared"}, &corev1.ConfigMap{})).To(Succeed())
		})
	})

	Context("when tracking is evicted mid-flight", func() {
		It("should stop writing without raising", func() {
			socket.Spec.Hooks = []integrationv1alpha1.Hook{newHook(integrationv1alpha1.HookBeforeCreate, "")}
			socket.Spec.Replications = []integrationv1alpha1.Replication{{Version: "v1", Kind: "ConfigMap", Name: "shared"}}

			tracker := tracking.NewTracker()
			var evicted atomic.Bool
			var writesAfter atomic.Int64
			countIfAfter := func() {
				if evicted.Load() {
					writesAfter.Add(1)
				}
			}
			funcs := &interceptor.Funcs{
				Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
					countIfAfter()
					if job, ok := obj.(*batchv1.Job); ok {
						job.Status.Succeeded = 1
						tracker.Evict("p1.ns-a")
						evicted.Store(true)
					}
					return c.Create(ctx, obj, opts...)
				},
				Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
					countIfAfter()
					return c.Update(ctx, obj, opts...)
				},
				Patch: func(ctx context.Context, c client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
					countIfAfter()
					return c.Patch(ctx, obj, patch, opts...)
				},
				SubResourcePatch: func(ctx context.Context, c client.Client, sub string, obj client.Object, patch client.Patch, opts ...client.SubResourcePatchOption) error {
					countIfAfter()
					return c.SubResource(sub).Patch(ctx, obj, patch, opts...)
				},
			}
			env := newTestEnv(funcs, plug, socket,
				newConfigMap(socketNS, "settings", map[string]string{"a": "1"}),
				newConfigMap(socketNS, "shared", map[string]string{"s": "1"}))
			Expect(env.k8sClient.Create(ctx, newDeployment(plugNS, "web", "Ready"))).To(Succeed())
			env.plugs.Tracker = tracker

			Expect(env.plugs.Added(ctx, plug, nil)).To(Succeed())

			Expect(evicted.Load()).To(BeTrue())
			Expect(writesAfter.Load()).To(BeZero())
			Expect(env.getPlug(ctx, plug).Status.Phase).To(Equal(integrationv1alpha1.PhasePending))
		})
	})

	Context("when a hook fails", func() {
		It("should report the failed Job", func() {
			funcs := &interceptor.Funcs{
				Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
					if job, ok := obj.(*batchv1.Job); ok {
						job.Status.Conditions = []batchv1.JobCondition{{
							Type:    batchv1.JobFailed,
							Status:  corev1.ConditionTrue,
							Message: "BackoffLimitExceeded",
						}}
					}
					return c.Create(ctx, obj, opts...)
				},
			}
			env := newTestEnv(funcs, plug, socket,
				newConfigMap(socketNS, "settings", map[string]string{"a": "1"}))
			Expect(env.k8sClient.Create(ctx, newDeployment(plugNS, "web", "Ready"))).To(Succeed())

			err := env.plugs.Added(ctx, plug, nil)
			var hookErr *HookError
			Expect(errors.As(err, &hookErr)).To(BeTrue())
			Expect(hookErr.Job).To(Equal("p1-create-0"))

			current := env.getPlug(ctx, plug)
			Expect(current.Status.Phase).To(Equal(integrationv1alpha1.PhaseFailed))
			Expect(current.Status.Message).To(ContainSubstring("BackoffLimitExceeded"))
		})
	})
})
