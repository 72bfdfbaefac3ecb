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

package watch

import (
	"context"
	"fmt"

	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// =============================================================================
// Source feeds a Dispatcher from a shared informer of the manager's cache.
//
// It is a manager.Runnable: add it with mgr.Add and it starts once the cache
// is running. Informer resyncs show up as Modified events carrying an
// unchanged generation.
// =============================================================================
type Source[T client.Object] struct {
	Informers  cache.Informers
	Object     T
	Dispatcher *Dispatcher[T]
}

// Start registers the event handler and blocks until ctx is done.
func (s *Source[T]) Start(ctx context.Context) error {
	log := logf.FromContext(ctx).WithValues("kind", s.Dispatcher.Kind.Kind)

	informer, err := s.Informers.GetInformer(ctx, s.Object)
	if err != nil {
		return fmt.Errorf("failed to get informer for %s: %w", s.Dispatcher.Kind.Kind, err)
	}

	registration, err := informer.AddEventHandler(s.handlerFuncs(ctx))
	if err != nil {
		return fmt.Errorf("failed to add event handler for %s: %w", s.Dispatcher.Kind.Kind, err)
	}
	log.Info("Watching resources")

	<-ctx.Done()

	if err := informer.RemoveEventHandler(registration); err != nil {
		log.Error(err, "Failed to remove event handler")
	}
	return nil
}

func (s *Source[T]) handlerFuncs(ctx context.Context) toolscache.ResourceEventHandlerFuncs {
	return toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if o, ok := obj.(T); ok {
				s.Dispatcher.Dispatch(ctx, Event[T]{Type: Added, Object: o})
			}
		},
		UpdateFunc: func(_, newObj interface{}) {
			if o, ok := newObj.(T); ok {
				s.Dispatcher.Dispatch(ctx, Event[T]{Type: Modified, Object: o})
			}
		},
		DeleteFunc: func(obj interface{}) {
			if tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
				obj = tombstone.Obj
			}
			if o, ok := obj.(T); ok {
				s.Dispatcher.Dispatch(ctx, Event[T]{Type: Deleted, Object: o})
			}
		},
	}
}
