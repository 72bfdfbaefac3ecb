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

// Package resource reads and writes arbitrary cluster objects by reference.
//
// It stands in for shelling out to a cluster CLI: objects are addressed by
// group, version, kind, name and namespace and handled as unstructured data,
// so replication and readiness checks work for any kind the API server knows.
package resource

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// Ref points at a single namespaced object.
type Ref struct {
	Group     string
	Version   string
	Kind      string
	Name      string
	Namespace string
}

// GroupVersionKind returns the GVK of the referenced object.
func (r Ref) GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{Group: r.Group, Version: r.Version, Kind: r.Kind}
}

// APIVersion renders the group and version the way they appear in manifests.
func (r Ref) APIVersion() string {
	return r.GroupVersionKind().GroupVersion().String()
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %s/%s in ns %s", r.Kind, r.APIVersion(), r.Name, r.Namespace)
}

// Validate makes sure the reference names a concrete object.
func (r Ref) Validate() error {
	switch {
	case r.Version == "":
		return fmt.Errorf("resource %q is missing a version", r.Name)
	case r.Kind == "":
		return fmt.Errorf("resource %q is missing a kind", r.Name)
	case r.Name == "":
		return fmt.Errorf("%s resource is missing a name", r.Kind)
	}
	return nil
}

// Object returns an empty unstructured object addressed by the reference.
func (r Ref) Object() *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(r.GroupVersionKind())
	u.SetName(r.Name)
	u.SetNamespace(r.Namespace)
	return u
}

// RefFor builds the reference of an existing object.
func RefFor(u *unstructured.Unstructured) Ref {
	gvk := u.GroupVersionKind()
	return Ref{
		Group:     gvk.Group,
		Version:   gvk.Version,
		Kind:      gvk.Kind,
		Name:      u.GetName(),
		Namespace: u.GetNamespace(),
	}
}

// =============================================================================
// Client performs bulk get, apply and delete over unstructured objects.
//
// Every operation ignores NotFound: a missing object is simply absent from
// the result of Get and is a no-op for Delete.
// =============================================================================
type Client struct {
	client.Client

	// FieldOwner is recorded as the manager of every write.
	FieldOwner string
}

// New wraps c.
func New(c client.Client, fieldOwner string) *Client {
	return &Client{Client: c, FieldOwner: fieldOwner}
}

// GetOne fetches a single object. It returns nil without an error when the
// object does not exist.
func (c *Client) GetOne(ctx context.Context, ref Ref) (*unstructured.Unstructured, error) {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(ref.GroupVersionKind())
	if err := c.Client.Get(ctx, client.ObjectKey{Namespace: ref.Namespace, Name: ref.Name}, u); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", ref, err)
	}
	return u, nil
}

// Get fetches every referenced object that exists, in the order given.
func (c *Client) Get(ctx context.Context, refs ...Ref) ([]*unstructured.Unstructured, error) {
	found := make([]*unstructured.Unstructured, 0, len(refs))
	for _, ref := range refs {
		u, err := c.GetOne(ctx, ref)
		if err != nil {
			return nil, err
		}
		if u != nil {
			found = append(found, u)
		}
	}
	return found, nil
}

// Apply creates each object, or replaces the existing one in place.
func (c *Client) Apply(ctx context.Context, objs ...*unstructured.Unstructured) error {
	log := logf.FromContext(ctx)

	for _, obj := range objs {
		ref := RefFor(obj)
		existing, err := c.GetOne(ctx, ref)
		if err != nil {
			return err
		}

		if existing == nil {
			log.V(1).Info("Creating resource", "resource", ref.String())
			if err := c.Create(ctx, obj, client.FieldOwner(c.FieldOwner)); err != nil {
				return fmt.Errorf("failed to create %s: %w", ref, err)
			}
			continue
		}

		obj.SetResourceVersion(existing.GetResourceVersion())
		obj.SetUID(existing.GetUID())
		log.V(1).Info("Updating resource", "resource", ref.String())
		if err := c.Update(ctx, obj, client.FieldOwner(c.FieldOwner)); err != nil {
			return fmt.Errorf("failed to update %s: %w", ref, err)
		}
	}
	return nil
}

// Delete removes each referenced object.
func (c *Client) Delete(ctx context.Context, refs ...Ref) error {
	log := logf.FromContext(ctx)

	for _, ref := range refs {
		log.V(1).Info("Deleting resource", "resource", ref.String())
		if err := c.Client.Delete(ctx, ref.Object()); client.IgnoreNotFound(err) != nil {
			return fmt.Errorf("failed to delete %s: %w", ref, err)
		}
	}
	return nil
}
