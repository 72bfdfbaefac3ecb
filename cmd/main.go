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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	kustomizev1alpha1 "github.com/clayrisser/integration-operator/api/kustomize/v1alpha1"
	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
	"github.com/clayrisser/integration-operator/internal/config"
	"github.com/clayrisser/integration-operator/internal/controller"
	"github.com/clayrisser/integration-operator/internal/metrics"
	"github.com/clayrisser/integration-operator/internal/tracking"
	"github.com/clayrisser/integration-operator/internal/watch"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(integrationv1alpha1.AddToScheme(scheme))
	utilruntime.Must(kustomizev1alpha1.AddToScheme(scheme))
}

func main() {
	if err := newRootCommand().ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.NewOptions()

	cmd := &cobra.Command{
		Use:          "integration-operator",
		Short:        "Integrates Plugs with Sockets",
		SilenceUsage: true,
		PreRunE: func(*cobra.Command, []string) error {
			if err := opts.Complete(); err != nil {
				return err
			}
			return opts.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	// Environment first so that flags parsed afterwards take precedence.
	if err := opts.LoadEnv(os.LookupEnv); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, opts *config.Options) error {
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.ZapOptions)))

	cfg, err := ctrl.GetConfig()
	if err != nil {
		setupLog.Error(err, "Failed to get rest config")
		return err
	}

	cacheOptions := cache.Options{}
	if opts.WatchNamespace != "" {
		cacheOptions.DefaultNamespaces = map[string]cache.Config{
			opts.WatchNamespace: {},
		}
	}

	metrics.Register()
	mgr, err := ctrl.NewManager(cfg, ctrl.Options{
		Scheme:                 scheme,
		Cache:                  cacheOptions,
		Metrics:                metricsserver.Options{BindAddress: opts.MetricsAddr},
		HealthProbeBindAddress: opts.ProbeAddr,
	})
	if err != nil {
		setupLog.Error(err, "Failed to create manager")
		return err
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		setupLog.Error(err, "Failed to create clientset")
		return err
	}

	tracker := tracking.NewTracker()
	plugs := controller.NewPlugReconciler(
		mgr.GetClient(),
		mgr.GetScheme(),
		mgr.GetEventRecorderFor("integration-operator"),
		&controller.ClientsetLogReader{Clientset: clientset},
		opts,
		tracker,
	)
	sockets := &controller.SocketReconciler{Client: mgr.GetClient(), Tracker: tracker, Plugs: plugs}

	plugDispatcher := watch.NewDispatcher[*integrationv1alpha1.Plug](
		integrationv1alpha1.GroupVersion.WithKind("Plug"), plugs, opts.Debug)
	socketDispatcher := watch.NewDispatcher[*integrationv1alpha1.Socket](
		integrationv1alpha1.GroupVersion.WithKind("Socket"), sockets, opts.Debug)

	if err := mgr.Add(&watch.Source[*integrationv1alpha1.Plug]{
		Informers:  mgr.GetCache(),
		Object:     &integrationv1alpha1.Plug{},
		Dispatcher: plugDispatcher,
	}); err != nil {
		setupLog.Error(err, "Failed to add source", "kind", "Plug")
		return err
	}
	if err := mgr.Add(&watch.Source[*integrationv1alpha1.Socket]{
		Informers:  mgr.GetCache(),
		Object:     &integrationv1alpha1.Socket{},
		Dispatcher: socketDispatcher,
	}); err != nil {
		setupLog.Error(err, "Failed to add source", "kind", "Socket")
		return err
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "Failed to set up health check")
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "Failed to set up ready check")
		return err
	}

	setupLog.Info("Starting manager", "watchNamespace", opts.WatchNamespace, "debug", opts.Debug)
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "Problem running manager")
		return err
	}

	// Let in-flight integrations observe the cancelled context.
	plugDispatcher.Wait()
	socketDispatcher.Wait()
	return nil
}
