/*
 Copyright © 2026 Dell Inc. or its subsidiaries. All Rights Reserved.

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

// Package cluster tracks the clusters of a replicated backend and which of
// them is currently active.
package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"

	log "github.com/sirupsen/logrus"
)

// DefaultBackendID names the primary cluster in failover requests
const DefaultBackendID = "default"

// ActiveContext is an immutable snapshot of the cluster that serves I/O and
// management operations. A new value is built for every swap.
type ActiveContext struct {
	// BackendID is empty while the primary is active
	BackendID    string
	Cluster      *Cluster
	Capabilities *Capabilities
}

// FailedOver reports whether a replication target is active
func (a *ActiveContext) FailedOver() bool {
	return a.BackendID != ""
}

// Endpoint returns the endpoint of the active cluster
func (a *ActiveContext) Endpoint() *array.Endpoint {
	return a.Cluster.Endpoint
}

// Manager owns the active context of one backend
type Manager struct {
	lock     sync.Mutex
	active   *ActiveContext
	primary  *Cluster
	target   *Cluster
	registry *Registry
	exec     array.Executor
	cache    CapabilitiesCache
}

// NewManager returns a manager with the primary active. targetID may be
// empty when the backend is not replicated.
func NewManager(exec array.Executor, registry *Registry, primaryID, targetID string) (*Manager, error) {
	primary, err := registry.Get(primaryID)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		primary:  primary,
		registry: registry,
		exec:     exec,
		active:   &ActiveContext{Cluster: primary},
	}
	if targetID != "" {
		if m.target, err = registry.Get(targetID); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Active returns the current snapshot
func (m *Manager) Active() *ActiveContext {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.active
}

// Primary returns the primary cluster
func (m *Manager) Primary() *Cluster {
	return m.primary
}

// Target returns the replication target, or nil
func (m *Manager) Target() *Cluster {
	return m.target
}

// Registry returns the cluster registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Resolve maps a backend id onto a cluster. Empty and "default" name the primary.
func (m *Manager) Resolve(backendID string) (*Cluster, error) {
	if backendID == "" || backendID == DefaultBackendID || backendID == m.primary.BackendID {
		return m.primary, nil
	}
	return m.registry.Get(backendID)
}

// Probe checks that a cluster answers management commands
func (m *Manager) Probe(ctx context.Context, c *Cluster) error {
	if reporter, ok := m.exec.(array.HealthReporter); ok && !reporter.Healthy(c.Endpoint) {
		log.Warnf("Cluster %s has recent failures, probing anyway", c.BackendID)
	}
	if _, err := m.exec.Execute(ctx, array.MethodGetClusterInfo, nil, "", c.Endpoint); err != nil {
		log.Errorf("Probe of cluster %s failed: %s", c.BackendID, err.Error())
		return err
	}
	return nil
}

func (m *Manager) replicationTargets() []string {
	if m.target == nil {
		return nil
	}
	return []string{m.target.BackendID}
}

// Swap makes the cluster of backendID active and refreshes the cached
// capabilities from it. Readers holding the previous snapshot keep using it.
func (m *Manager) Swap(ctx context.Context, backendID string) (*ActiveContext, error) {
	c, err := m.Resolve(backendID)
	if err != nil {
		return nil, rcerrors.UnableToFailOverf("%s", err.Error())
	}
	next := &ActiveContext{Cluster: c}
	if c != m.primary {
		next.BackendID = c.BackendID
	}
	m.cache.Invalidate()
	caps, err := m.cache.Get(ctx, m.exec, c, m.replicationTargets())
	if err != nil {
		log.Warnf("Unable to refresh capabilities from %s: %s", c.BackendID, err.Error())
	}
	next.Capabilities = caps

	m.lock.Lock()
	prev := m.active
	m.active = next
	m.lock.Unlock()
	log.Infof("Active backend changed from %q to %q", prev.BackendID, next.BackendID)
	return next, nil
}

// Restore sets the active backend from persisted state without touching the arrays
func (m *Manager) Restore(backendID string) error {
	c, err := m.Resolve(backendID)
	if err != nil {
		return fmt.Errorf("unable to restore active backend %q: %w", backendID, err)
	}
	next := &ActiveContext{Cluster: c}
	if c != m.primary {
		next.BackendID = c.BackendID
	}
	m.lock.Lock()
	m.active = next
	m.lock.Unlock()
	m.cache.Invalidate()
	log.Infof("Restored active backend %q", next.BackendID)
	return nil
}

// Capabilities returns the capabilities of the active cluster
func (m *Manager) Capabilities(ctx context.Context) (*Capabilities, error) {
	active := m.Active()
	return m.cache.Get(ctx, m.exec, active.Cluster, m.replicationTargets())
}
