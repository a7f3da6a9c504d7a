/*
 Copyright © 2021-2026 Dell Inc. or its subsidiaries. All Rights Reserved.

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

package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	"github.com/dell/csi-remotecopy/v2/pkg/cluster"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"
	"github.com/dell/csi-remotecopy/v2/pkg/migration"
	"github.com/dell/csi-remotecopy/v2/pkg/replication"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Name is the name of this driver
const Name = "csi-remotecopy.dellemc.com"

// Default values of the options
const (
	DefaultLockCleanupInterval = 10 * time.Minute
)

// Service is the replication driver exposed to the volume manager
type Service interface {
	Replicable
	GroupManageable
	Migratable
	BeforeServe(ctx context.Context) error
	Probe(ctx context.Context) error
	ActiveBackendID() string
}

// ClusterOpts describe one cluster of the backend
type ClusterOpts struct {
	BackendID string `mapstructure:"backendId"`
	// Name is the array cluster name used in relationship commands
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Pool     string `mapstructure:"pool"`
}

// Endpoint returns the array endpoint of the cluster
func (c ClusterOpts) Endpoint() *array.Endpoint {
	return &array.Endpoint{
		Name:     c.Name,
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
	}
}

// Timeouts bound the convergence waits
type Timeouts struct {
	SyncTimeout      time.Duration `mapstructure:"syncTimeout"`
	PollInterval     time.Duration `mapstructure:"pollInterval"`
	PairingTimeout   time.Duration `mapstructure:"pairingTimeout"`
	MigrationTimeout time.Duration `mapstructure:"migrationTimeout"`
}

// Opts defines service configuration options.
type Opts struct {
	BackendID         string        `mapstructure:"backendId"`
	Primary           ClusterOpts   `mapstructure:"primary"`
	ReplicationTarget *ClusterOpts  `mapstructure:"replicationTarget"`
	MigrationTargets  []ClusterOpts `mapstructure:"migrationTargets"`
	APIVersion        string        `mapstructure:"apiVersion"`
	Insecure          bool          `mapstructure:"insecure"`
	Timeouts          Timeouts      `mapstructure:"timeouts"`
	// LockCleanupInterval is how often idle resource locks are dropped
	LockCleanupInterval time.Duration `mapstructure:"lockCleanupInterval"`
}

// Driver orchestrates replication, failover and migration for one backend
type Driver struct {
	opts     Opts
	exec     array.Executor
	clusters *cluster.Manager
	engine   *replication.Engine
	groups   *replication.Coordinator
	migrator *migration.Orchestrator
	state    StateStore
	locks    *lockManager
	// failover serializes backend-wide role swaps
	failover sync.Mutex
}

var (
	_ Service = (*Driver)(nil)
)

// New returns a driver issuing commands through exec and persisting the
// active backend id in state.
func New(opts Opts, exec array.Executor, state StateStore) (*Driver, error) {
	if opts.BackendID == "" {
		return nil, fmt.Errorf("backend id is required")
	}
	if opts.Primary.Name == "" && opts.Primary.Host == "" {
		return nil, fmt.Errorf("primary cluster of backend %s is not configured", opts.BackendID)
	}
	registry := cluster.NewRegistry()
	primary := opts.Primary
	primary.BackendID = opts.BackendID
	if err := registry.Add(newCluster(primary)); err != nil {
		return nil, err
	}
	targetID := ""
	if opts.ReplicationTarget != nil {
		targetID = opts.ReplicationTarget.BackendID
		if targetID == "" || targetID == cluster.DefaultBackendID {
			return nil, fmt.Errorf("replication target of backend %s needs a backend id other than %q", opts.BackendID, cluster.DefaultBackendID)
		}
		if err := registry.Add(newCluster(*opts.ReplicationTarget)); err != nil {
			return nil, err
		}
	}
	for _, t := range opts.MigrationTargets {
		if err := registry.Add(newCluster(t)); err != nil {
			return nil, err
		}
	}
	manager, err := cluster.NewManager(exec, registry, opts.BackendID, targetID)
	if err != nil {
		return nil, err
	}

	engine := replication.NewEngine(exec, replication.Options{
		APIVersion:   opts.APIVersion,
		SyncTimeout:  opts.Timeouts.SyncTimeout,
		PollInterval: opts.Timeouts.PollInterval,
	})
	if state == nil {
		state = NewMemoryStateStore("")
	}
	return &Driver{
		opts:     opts,
		exec:     exec,
		clusters: manager,
		engine:   engine,
		groups:   replication.NewCoordinator(engine),
		migrator: migration.NewOrchestrator(exec, migration.Options{
			APIVersion:     opts.APIVersion,
			PairingTimeout: opts.Timeouts.PairingTimeout,
			SyncTimeout:    opts.Timeouts.MigrationTimeout,
			PollInterval:   opts.Timeouts.PollInterval,
		}),
		state: state,
		locks: newLockManager(),
	}, nil
}

func newCluster(c ClusterOpts) *cluster.Cluster {
	return &cluster.Cluster{
		BackendID: c.BackendID,
		Name:      c.Name,
		Pool:      c.Pool,
		Endpoint:  c.Endpoint(),
	}
}

// BeforeServe restores the persisted active backend and starts the lock manager
func (d *Driver) BeforeServe(ctx context.Context) error {
	defer func() {
		fields := log.Fields{
			"backendId": d.opts.BackendID,
			"primary":   d.opts.Primary.Name,
			"insecure":  d.opts.Insecure,
			"active":    d.ActiveBackendID(),
		}
		if d.opts.ReplicationTarget != nil {
			fields["replicationTarget"] = d.opts.ReplicationTarget.BackendID
		}
		log.WithFields(fields).Infof("configured %s", Name)
	}()

	id, err := d.state.GetActiveBackendID(ctx)
	if err != nil {
		log.Errorf("Unable to read the active backend id: %s", err.Error())
		return err
	}
	if err := d.clusters.Restore(id); err != nil {
		log.Error(err.Error())
		return err
	}
	interval := d.opts.LockCleanupInterval
	if interval <= 0 {
		interval = DefaultLockCleanupInterval
	}
	d.locks.start(ctx, interval)
	return nil
}

// Probe checks that the active cluster answers
func (d *Driver) Probe(ctx context.Context) error {
	active := d.clusters.Active()
	if err := d.clusters.Probe(ctx, active.Cluster); err != nil {
		return err
	}
	return active.Cluster.ResolveIdentity(ctx, d.exec)
}

// ActiveBackendID returns the id of the active backend, empty while the primary serves
func (d *Driver) ActiveBackendID() string {
	return d.clusters.Active().BackendID
}

// replicationTarget returns the configured target or an error when the
// backend is not replicated
func (d *Driver) replicationTarget() (*cluster.Cluster, error) {
	target := d.clusters.Target()
	if target == nil {
		return nil, rcerrors.Driverf("replication is not configured for backend %s", d.opts.BackendID)
	}
	return target, nil
}

type contextKey string

const requestIDKey = contextKey("requestid")

// withRequestID tags ctx with a request id unless it already carries one
func withRequestID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestIDKey).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, uuid.New().String())
}

// getLogFields returns the request id of ctx as log fields
func getLogFields(ctx context.Context) log.Fields {
	fields := log.Fields{}
	if ctx == nil {
		return fields
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		fields["RequestID"] = id
	}
	return fields
}

// parseHost extracts the backend id from a host@backend#pool string
func parseHost(host string) string {
	if i := strings.Index(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	if i := strings.Index(host, "#"); i >= 0 {
		host = host[:i]
	}
	return host
}
