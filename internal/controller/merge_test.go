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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
)

var _ = Describe("ConfigMerger", func() {
	var (
		ctx    context.Context
		plug   *integrationv1alpha1.Plug
		socket *integrationv1alpha1.Socket
	)

	BeforeEach(func() {
		ctx = context.Background()
		plug = newPlug("ns-a", "p1", "ns-b", "s1")
		socket = newSocket("ns-b", "s1")
	})

	Describe("MergeConfigMaps", func() {
		BeforeEach(func() {
			socket.Spec.Configmaps = []string{"settings"}
			plug.Spec.MergeConfigmaps = []integrationv1alpha1.MergeSpec{{From: "overrides", To: "settings"}}
		})

		It("should let Plug values win on conflicting keys", func() {
			env := newTestEnv(nil,
				newConfigMap("ns-b", "settings", map[string]string{"a": "1", "b": "2"}),
				newConfigMap("ns-a", "overrides", map[string]string{"b": "9", "c": "3"}))
			lease := env.tracker.Begin(plugKey(plug))

			Expect(env.plugs.Merger.MergeConfigMaps(ctx, lease, plug, socket)).To(Succeed())

			var merged corev1.ConfigMap
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: "ns-a", Name: "settings"}, &merged)).To(Succeed())
			Expect(merged.Data).To(Equal(map[string]string{"a": "1", "b": "9", "c": "3"}))
			Expect(merged.Annotations).To(HaveKeyWithValue(AnnotationPlug, "p1.ns-a"))
			Expect(metav1.IsControlledBy(&merged, plug)).To(BeTrue())
		})

		It("should be idempotent", func() {
			env := newTestEnv(nil,
				newConfigMap("ns-b", "settings", map[string]string{"a": "1"}),
				newConfigMap("ns-a", "overrides", map[string]string{"b": "2"}))
			lease := env.tracker.Begin(plugKey(plug))

			Expect(env.plugs.Merger.MergeConfigMaps(ctx, lease, plug, socket)).To(Succeed())
			writes := env.writes.Load()

			Expect(env.plugs.Merger.MergeConfigMaps(ctx, lease, plug, socket)).To(Succeed())
			Expect(env.writes.Load()).To(Equal(writes))
		})

		It("should append the postfix to the destination name", func() {
			plug.Spec.ConfigmapPostfix = "merged"
			env := newTestEnv(nil,
				newConfigMap("ns-b", "settings", map[string]string{"a": "1"}),
				newConfigMap("ns-a", "overrides", map[string]string{"b": "2"}))
			lease := env.tracker.Begin(plugKey(plug))

			Expect(env.plugs.Merger.MergeConfigMaps(ctx, lease, plug, socket)).To(Succeed())

			var merged corev1.ConfigMap
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: "ns-a", Name: "settings-merged"}, &merged)).To(Succeed())
			Expect(merged.Data).To(Equal(map[string]string{"a": "1", "b": "2"}))
		})

		It("should fail when the Socket's ConfigMap is missing", func() {
			env := newTestEnv(nil)
			lease := env.tracker.Begin(plugKey(plug))

			err := env.plugs.Merger.MergeConfigMaps(ctx, lease, plug, socket)
			Expect(err).To(MatchError(ContainSubstring("failed to get ConfigMap settings in ns ns-b")))
		})

		It("should not overwrite the Socket's ConfigMap in a shared namespace", func() {
			shared := newPlug("ns-b", "p1", "", "s1")
			shared.Spec.MergeConfigmaps = plug.Spec.MergeConfigmaps
			env := newTestEnv(nil,
				newConfigMap("ns-b", "settings", map[string]string{"a": "1"}),
				newConfigMap("ns-b", "overrides", map[string]string{"a": "2"}))
			lease := env.tracker.Begin(plugKey(shared))

			Expect(env.plugs.Merger.MergeConfigMaps(ctx, lease, shared, socket)).To(Succeed())

			var source corev1.ConfigMap
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: "ns-b", Name: "settings"}, &source)).To(Succeed())
			Expect(source.Data).To(Equal(map[string]string{"a": "1"}))
			Expect(env.writes.Load()).To(BeZero())
		})
	})

	Describe("MergeSecrets", func() {
		BeforeEach(func() {
			socket.Spec.Secrets = []string{"creds"}
			plug.Spec.MergeSecrets = []integrationv1alpha1.MergeSpec{{From: "my-creds", To: "creds"}}
		})

		It("should merge data and keep the Secret type", func() {
			env := newTestEnv(nil,
				&corev1.Secret{
					ObjectMeta: metav1.ObjectMeta{Name: "creds", Namespace: "ns-b"},
					Type:       corev1.SecretTypeBasicAuth,
					Data:       map[string][]byte{"username": []byte("admin"), "password": []byte("default")},
				},
				&corev1.Secret{
					ObjectMeta: metav1.ObjectMeta{Name: "my-creds", Namespace: "ns-a"},
					Data:       map[string][]byte{"password": []byte("s3cret")},
				})
			lease := env.tracker.Begin(plugKey(plug))

			Expect(env.plugs.Merger.MergeSecrets(ctx, lease, plug, socket)).To(Succeed())

			var merged corev1.Secret
			Expect(env.k8sClient.Get(ctx, types.NamespacedName{Namespace: "ns-a", Name: "creds"}, &merged)).To(Succeed())
			Expect(merged.Type).To(Equal(corev1.SecretTypeBasicAuth))
			Expect(merged.Data).To(Equal(map[string][]byte{
				"username": []byte("admin"),
				"password": []byte("s3cret"),
			}))
		})
	})

	It("should write nothing once the lease is superseded", func() {
		socket.Spec.Configmaps = []string{"settings"}
		env := newTestEnv(nil, newConfigMap("ns-b", "settings", map[string]string{"a": "1"}))
		lease := env.tracker.Begin(plugKey(plug))
		env.tracker.Evict(plugKey(plug))

		Expect(env.plugs.Merger.Merge(ctx, lease, plug, socket)).NotTo(Succeed())
		Expect(env.writes.Load()).To(BeZero())
	})
})
