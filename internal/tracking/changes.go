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

package tracking

import (
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// =============================================================================
// ChangeTracker remembers the last version of every object it has seen so
// event handlers can compare an incoming object with its predecessor.
//
// Objects are keyed by apiVersion:kind:namespace:name. The caller must make
// sure the object's GroupVersionKind is populated before rotating it.
// =============================================================================
type ChangeTracker[T client.Object] struct {
	mu      sync.Mutex
	objects map[string]T
}

// NewChangeTracker returns an empty ChangeTracker.
func NewChangeTracker[T client.Object]() *ChangeTracker[T] {
	return &ChangeTracker[T]{objects: make(map[string]T)}
}

// ObjectID builds the key an object is stored under.
func ObjectID(obj client.Object) string {
	gvk := obj.GetObjectKind().GroupVersionKind()
	return gvk.GroupVersion().String() + ":" + gvk.Kind + ":" + obj.GetNamespace() + ":" + obj.GetName()
}

// Rotate stores obj and returns the previously stored version, if any,
// together with obj itself. found is false when obj is seen for the first
// time.
func (c *ChangeTracker[T]) Rotate(obj T) (old T, current T, found bool) {
	id := ObjectID(obj)

	c.mu.Lock()
	defer c.mu.Unlock()

	old, found = c.objects[id]
	c.objects[id] = obj
	return old, obj, found
}

// Reset forgets obj.
func (c *ChangeTracker[T]) Reset(obj T) {
	id := ObjectID(obj)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.objects, id)
}

// Len returns the number of objects currently remembered.
func (c *ChangeTracker[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}
