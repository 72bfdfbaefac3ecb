//go:build e2e
// +build e2e

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

package e2e

import (
	"fmt"
	"os/exec"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clayrisser/integration-operator/test/utils"
)

var _ = Describe("Plug and Socket integration", Ordered, func() {
	const (
		socketNS = "io-socket"
		plugNS   = "io-plug"
	)

	BeforeAll(func() {
		By("checking if CRDs are installed")
		cmd := exec.Command("kubectl", "get", "crd", "plugs.integration.siliconhills.dev")
		_, err := utils.Run(cmd)
		if err != nil {
			By("installing CRDs")
			cmd = exec.Command("make", "install")
			_, err = utils.Run(cmd)
			Expect(err).NotTo(HaveOccurred(), "Failed to install CRDs")

			By("deploying the controller-manager")
			cmd = exec.Command("make", "deploy", fmt.Sprintf("IMG=%s", projectImage))
			_, err = utils.Run(cmd)
			Expect(err).NotTo(HaveOccurred(), "Failed to deploy the controller-manager")

			By("waiting for controller to be ready")
			Eventually(func() error {
				cmd := exec.Command("kubectl", "get", "deployment", "-n", namespace,
					"integration-operator-controller-manager", "-o", "jsonpath={.status.readyReplicas}")
				output, err := utils.Run(cmd)
				if err != nil {
					return err
				}
				if output != "1" {
					return fmt.Errorf("controller not ready yet")
				}
				return nil
			}, 120*time.Second, 2*time.Second).Should(Succeed())
		}

		By("creating test namespaces")
		cmd = exec.Command("kubectl", "create", "ns", socketNS)
		_, _ = utils.Run(cmd)
		cmd = exec.Command("kubectl", "create", "ns", plugNS)
		_, _ = utils.Run(cmd)
	})

	AfterAll(func() {
		By("cleaning up test namespaces")
		cmd := exec.Command("kubectl", "delete", "ns", plugNS, "--ignore-not-found")
		_, _ = utils.Run(cmd)
		cmd = exec.Command("kubectl", "delete", "ns", socketNS, "--ignore-not-found")
		_, _ = utils.Run(cmd)
	})

	It("should integrate a Plug with its Socket", func() {
		By("creating the Socket's ConfigMap")
		cmd := exec.Command("kubectl", "create", "configmap", "db-settings",
			"-n", socketNS,
			"--from-literal=host=db."+socketNS,
			"--from-literal=port=5432")
		_, err := utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())

		By("creating the Plug's override ConfigMap")
		cmd = exec.Command("kubectl", "create", "configmap", "db-overrides",
			"-n", plugNS,
			"--from-literal=port=6432")
		_, err = utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())

		By("creating the Socket")
		socketYAML := fmt.Sprintf(`
apiVersion: integration.siliconhills.dev/v1alpha1
kind: Socket
metadata:
  name: db
  namespace: %s
spec:
  configmaps:
    - db-settings
  hooks:
    - name: create
      messageRegex: "database: (.*)"
      job:
        backoffLimit: 0
        template:
          spec:
            restartPolicy: Never
            containers:
              - name: hook
                image: busybox:1.36
                command: ["sh", "-c", "echo database: provisioned"]
`, socketNS)
		cmd = exec.Command("kubectl", "apply", "-f", "-")
		cmd.Stdin = stringReader(socketYAML)
		_, err = utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())

		By("creating the Plug")
		plugYAML := fmt.Sprintf(`
apiVersion: integration.siliconhills.dev/v1alpha1
kind: Plug
metadata:
  name: app
  namespace: %s
spec:
  socket:
    name: db
    namespace: %s
  mergeConfigmaps:
    - from: db-overrides
      to: db-settings
`, plugNS, socketNS)
		cmd = exec.Command("kubectl", "apply", "-f", "-")
		cmd.Stdin = stringReader(plugYAML)
		_, err = utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())

		By("waiting for the Plug to succeed")
		Eventually(func() (string, error) {
			cmd := exec.Command("kubectl", "get", "plug", "app", "-n", plugNS,
				"-o", "jsonpath={.status.phase}")
			return utils.Run(cmd)
		}, 120*time.Second, 2*time.Second).Should(Equal("Succeeded"))

		By("verifying the hook message")
		cmd = exec.Command("kubectl", "get", "plug", "app", "-n", plugNS,
			"-o", "jsonpath={.status.message}")
		output, err := utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(output).To(ContainSubstring("provisioned in Job app-create-0"))

		By("verifying the merged ConfigMap")
		cmd = exec.Command("kubectl", "get", "configmap", "db-settings", "-n", plugNS,
			"-o", "jsonpath={.data.port}")
		output, err = utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(output).To(Equal("6432"))
	})

	It("should fail the Plug when its Socket is deleted", func() {
		cmd := exec.Command("kubectl", "delete", "socket", "db", "-n", socketNS)
		_, err := utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() (string, error) {
			cmd := exec.Command("kubectl", "get", "plug", "app", "-n", plugNS,
				"-o", "jsonpath={.status.phase}")
			return utils.Run(cmd)
		}, 60*time.Second, 2*time.Second).Should(Equal("Failed"))

		cmd = exec.Command("kubectl", "delete", "plug", "app", "-n", plugNS)
		_, _ = utils.Run(cmd)
	})
})
