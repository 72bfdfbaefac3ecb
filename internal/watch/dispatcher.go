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

// Package watch turns informer notifications into added, modified and
// deleted handler calls.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	"github.com/clayrisser/integration-operator/internal/metrics"
	"github.com/clayrisser/integration-operator/internal/tracking"
)

// EventType is the kind of change an Event reports.
type EventType string

const (
	Added    EventType = "Added"
	Modified EventType = "Modified"
	Deleted  EventType = "Deleted"
)

// Event is a single change notification.
type Event[T client.Object] struct {
	Type   EventType
	Object T
}

// Handler reacts to changes of one resource kind. old is the previously
// seen version of the object, or the zero value when there is none.
type Handler[T client.Object] interface {
	Added(ctx context.Context, obj, old T) error
	Modified(ctx context.Context, obj, old T) error
	Deleted(ctx context.Context, obj, old T) error
	// AddedOrModified runs after a successful Added or Modified.
	AddedOrModified(ctx context.Context, obj, old T) error
}

// Leaser is implemented by handlers whose in-flight work is cancelled by a
// newer event for the same object. Lease runs synchronously in Dispatch, in
// event order, and the lease reaches the handler through its context (see
// tracking.LeaseFrom). A nil lease means the event starts no new work and
// leaves any in-flight work alone.
type Leaser[T client.Object] interface {
	Lease(eventType EventType, obj, old T) *tracking.Lease
}

// =============================================================================
// Dispatcher delivers events to a Handler without blocking the caller.
//
// For every event it:
//  1. Rotates the object through the ChangeTracker (reset on delete)
//  2. Takes a lease when the handler is a Leaser
//  3. Queues the matching handlers behind earlier events of the same object
//  4. Recovers panics and logs errors so nothing escapes to the process
//
// Events of one object run one after another in the order they were
// dispatched; different objects run concurrently.
//
// Handlers returning tracking.ErrUntracked were cancelled by a newer
// event and are not logged.
// =============================================================================
type Dispatcher[T client.Object] struct {
	Kind    schema.GroupVersionKind
	Handler Handler[T]
	Changes *tracking.ChangeTracker[T]

	// Debug adds a YAML dump of the object to handler error logs.
	Debug bool

	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

// NewDispatcher returns a Dispatcher for objects of the given kind.
func NewDispatcher[T client.Object](gvk schema.GroupVersionKind, h Handler[T], debug bool) *Dispatcher[T] {
	return &Dispatcher[T]{
		Kind:    gvk,
		Handler: h,
		Changes: tracking.NewChangeTracker[T](),
		Debug:   debug,
	}
}

// Dispatch hands ev to the handler asynchronously.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, ev Event[T]) {
	obj, ok := ev.Object.DeepCopyObject().(T)
	if !ok {
		return
	}
	obj.GetObjectKind().SetGroupVersionKind(d.Kind)

	old, _, _ := d.Changes.Rotate(obj)
	if ev.Type == Deleted {
		d.Changes.Reset(obj)
	}

	metrics.RecordEvent(d.Kind.Kind, string(ev.Type))

	log := logf.FromContext(ctx).WithValues(
		"kind", d.Kind.Kind,
		"name", obj.GetName(),
		"namespace", obj.GetNamespace(),
		"event", ev.Type,
	)
	ctx = logf.IntoContext(ctx, log)

	if leaser, ok := d.Handler.(Leaser[T]); ok {
		if lease := leaser.Lease(ev.Type, obj, old); lease != nil {
			ctx = tracking.WithLease(ctx, lease)
		}
	}

	d.enqueue(tracking.ObjectID(obj), func() {
		d.run(ctx, ev.Type, obj, old)
	})
}

// enqueue appends job to the queue of key and starts a worker for the key
// unless one is already draining it.
func (d *Dispatcher[T]) enqueue(key string, job func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.queues == nil {
		d.queues = make(map[string][]func())
	}
	pending, draining := d.queues[key]
	d.queues[key] = append(pending, job)
	if draining {
		return
	}

	d.wg.Add(1)
	go d.drain(key)
}

func (d *Dispatcher[T]) drain(key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		pending := d.queues[key]
		if len(pending) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		job := pending[0]
		d.queues[key] = pending[1:]
		d.mu.Unlock()

		job()
	}
}

// Wait blocks until every dispatched handler has returned.
func (d *Dispatcher[T]) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher[T]) run(ctx context.Context, eventType EventType, obj, old T) {
	switch eventType {
	case Added:
		if d.invoke(ctx, "added", obj, func() error { return d.Handler.Added(ctx, obj, old) }) {
			d.invoke(ctx, "addedOrModified", obj, func() error { return d.Handler.AddedOrModified(ctx, obj, old) })
		}
	case Modified:
		if d.invoke(ctx, "modified", obj, func() error { return d.Handler.Modified(ctx, obj, old) }) {
			d.invoke(ctx, "addedOrModified", obj, func() error { return d.Handler.AddedOrModified(ctx, obj, old) })
		}
	case Deleted:
		d.invoke(ctx, "deleted", obj, func() error { return d.Handler.Deleted(ctx, obj, old) })
	}
}

// invoke calls fn behind a recover barrier and reports whether it succeeded.
func (d *Dispatcher[T]) invoke(ctx context.Context, handler string, obj T, fn func() error) (ok bool) {
	log := logf.FromContext(ctx).WithValues("handler", handler)

	defer func() {
		if r := recover(); r != nil {
			ok = false
			metrics.RecordHandlerResult(d.Kind.Kind, handler, metrics.ResultPanic)
			log.Error(fmt.Errorf("panic: %v", r), "Handler panicked")
			d.dump(log, obj)
		}
	}()

	err := fn()
	switch {
	case err == nil:
		metrics.RecordHandlerResult(d.Kind.Kind, handler, metrics.ResultSuccess)
		return true
	case errors.Is(err, tracking.ErrUntracked):
		metrics.RecordHandlerResult(d.Kind.Kind, handler, metrics.ResultAborted)
		log.V(1).Info("Handler aborted, resource no longer tracked")
		return false
	default:
		metrics.RecordHandlerResult(d.Kind.Kind, handler, metrics.ResultError)
		log.Error(err, "Handler failed")
		d.dump(log, obj)
		return false
	}
}

func (d *Dispatcher[T]) dump(log logr.Logger, obj T) {
	if !d.Debug {
		return
	}
	out, err := yaml.Marshal(obj)
	if err != nil {
		return
	}
	log.Info("Object dump", "yaml", string(out))
}
