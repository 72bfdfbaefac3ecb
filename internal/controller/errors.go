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
	"fmt"
	"strings"

	integrationv1alpha1 "github.com/clayrisser/integration-operator/api/v1alpha1"
)

// DependencyMissingError reports that something a Plug depends on is absent:
// its Socket, or resources the Socket waits on.
type DependencyMissingError struct {
	Plug         string
	Dependencies []string
	Reason       string
}

func (e *DependencyMissingError) Error() string {
	if len(e.Dependencies) == 0 {
		return fmt.Sprintf("plug %s: %s", e.Plug, e.Reason)
	}
	return fmt.Sprintf("plug %s: %s: %s", e.Plug, e.Reason, strings.Join(e.Dependencies, ", "))
}

// HookError reports a hook Job that could not be created or did not succeed.
type HookError struct {
	Hook      integrationv1alpha1.HookName
	Job       string
	Namespace string
	Err       error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s failed in Job %s in ns %s: %v", e.Hook, e.Job, e.Namespace, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// ReplicationError reports a replica that could not be written.
type ReplicationError struct {
	Replication integrationv1alpha1.Replication
	From        string
	To          string
	Err         error
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("failed to replicate %s %s from ns %q to ns %q: %v",
		e.Replication.Kind, e.Replication.Name, e.From, e.To, e.Err)
}

func (e *ReplicationError) Unwrap() error {
	return e.Err
}
