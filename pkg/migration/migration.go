/*
 *
 * Copyright © 2021-2026 Dell Inc. or its subsidiaries. All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package migration moves a volume to another cluster over a temporary
// synchronous volume pairing.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	"github.com/dell/csi-remotecopy/v2/pkg/cluster"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"
	"github.com/dell/csi-remotecopy/v2/pkg/metrics"
	"github.com/dell/csi-remotecopy/v2/pkg/poll"

	log "github.com/sirupsen/logrus"
)

const (
	// PairingModeSync is the pairing mode used as migration transport
	PairingModeSync = "Sync"
	// PairStateActive is the state of a converged volume pair
	PairStateActive = "Active"
	// AccessReplicationTarget makes a volume accept replicated writes only
	AccessReplicationTarget = "replicationTarget"
	// AccessReadWrite is the normal access mode of a volume
	AccessReadWrite = "readWrite"
)

// Default bounds of the convergence waits
const (
	DefaultPairingTimeout   = 5 * time.Minute
	DefaultMigrationTimeout = 30 * time.Minute
	DefaultPollInterval     = 5 * time.Second
)

// Options bound the waits of a migration
type Options struct {
	APIVersion     string
	PairingTimeout time.Duration
	SyncTimeout    time.Duration
	PollInterval   time.Duration
}

// Volume identifies the volume to move
type Volume struct {
	Name string
	// Account owns the volume on both clusters
	Account string
}

// Result describes the migrated volume on its new cluster
type Result struct {
	VolumeID    string
	AccountID   string
	ClusterUUID string
	SizeGiB     int64
}

// ProviderID returns the provider id triple of the migrated volume
func (r *Result) ProviderID() string {
	return fmt.Sprintf("%s %s %s", r.VolumeID, r.AccountID, r.ClusterUUID)
}

type volume struct {
	VolumeID     string `json:"volumeID"`
	Name         string `json:"name"`
	AccountID    string `json:"accountID"`
	TotalSizeGiB int64  `json:"totalSizeGiB"`
}

type volumePair struct {
	RemoteVolumeID string `json:"remoteVolumeID"`
	State          string `json:"state"`
}

type pairedVolume struct {
	VolumeID    string       `json:"volumeID"`
	VolumePairs []volumePair `json:"volumePairs"`
}

// Orchestrator runs inter-cluster migrations
type Orchestrator struct {
	exec array.Executor
	opts Options
}

// NewOrchestrator returns an orchestrator issuing commands through exec
func NewOrchestrator(exec array.Executor, opts Options) *Orchestrator {
	if opts.APIVersion == "" {
		opts.APIVersion = array.DefaultAPIVersion
	}
	if opts.PairingTimeout <= 0 {
		opts.PairingTimeout = DefaultPairingTimeout
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultMigrationTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Orchestrator{exec: exec, opts: opts}
}

func (o *Orchestrator) execute(ctx context.Context, method string, params array.Params, ep *array.Endpoint) (array.Result, error) {
	return o.exec.Execute(ctx, method, params, o.opts.APIVersion, ep)
}

// migration tracks what has been provisioned so cleanup knows what to undo
type migration struct {
	src, dst      *cluster.Cluster
	vol           Volume
	srcVolumeID   string
	dstVolumeID   string
	dstAccountID  string
	sizeGiB       int64
	sourceRemoved bool
}

// Migrate moves vol from src to dst. Once the destination is provisioned any
// failure removes the volume pairing on both sides and deletes and purges
// the destination volume before the error is returned.
func (o *Orchestrator) Migrate(ctx context.Context, src, dst *cluster.Cluster, vol Volume) (*Result, error) {
	fields := log.Fields{"volume": vol.Name, "source": src.BackendID, "destination": dst.BackendID}
	log.WithFields(fields).Info("Starting inter-cluster migration")

	if _, err := cluster.EnsurePairing(ctx, o.exec, src, dst, cluster.PairingOptions{
		Timeout:  o.opts.PairingTimeout,
		Interval: o.opts.PollInterval,
	}); err != nil {
		log.WithFields(fields).Errorf("Unable to pair clusters: %s", err.Error())
		metrics.MigrationTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, err
	}

	m := &migration{src: src, dst: dst, vol: vol}
	if err := o.run(ctx, m); err != nil {
		log.WithFields(fields).Errorf("Migration failed: %s", err.Error())
		if !m.sourceRemoved {
			o.cleanup(context.WithoutCancel(ctx), m)
		}
		metrics.MigrationTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, err
	}
	metrics.MigrationTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	log.WithFields(fields).Infof("Migration complete, volume is %s on %s", m.dstVolumeID, dst.BackendID)
	return &Result{
		VolumeID:    m.dstVolumeID,
		AccountID:   m.dstAccountID,
		ClusterUUID: dst.UUID,
		SizeGiB:     m.sizeGiB,
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, m *migration) error {
	res, err := o.execute(ctx, array.MethodGetVolume, array.Params{"name": m.vol.Name}, m.src.Endpoint)
	if err != nil {
		if rcerrors.IsNotFound(err) {
			return &rcerrors.ErrVolumeNotFound{ID: m.vol.Name}
		}
		return err
	}
	source := volume{}
	if err := res.DecodeKey("volume", &source); err != nil {
		return err
	}
	m.srcVolumeID = source.VolumeID
	m.sizeGiB = source.TotalSizeGiB

	if m.dstAccountID, err = GetOrCreateAccount(ctx, o, m.dst, m.vol.Account); err != nil {
		return err
	}
	res, err = o.execute(ctx, array.MethodCreateVolume, array.Params{
		"name":         m.vol.Name,
		"accountID":    m.dstAccountID,
		"totalSizeGiB": source.TotalSizeGiB,
		"pool":         m.dst.Pool,
	}, m.dst.Endpoint)
	if err != nil {
		return err
	}
	m.dstVolumeID, _ = res["volumeID"].(string)
	if m.dstVolumeID == "" {
		return rcerrors.Driverf("destination %s returned no volume id for %s", m.dst.BackendID, m.vol.Name)
	}

	res, err = o.execute(ctx, array.MethodStartVolumePairing, array.Params{"volumeID": m.srcVolumeID, "mode": PairingModeSync}, m.src.Endpoint)
	if err != nil {
		return err
	}
	key, _ := res["volumePairingKey"].(string)
	if _, err := o.execute(ctx, array.MethodCompleteVolumePairing, array.Params{
		"volumeID":         m.dstVolumeID,
		"volumePairingKey": key,
		"mode":             PairingModeSync,
	}, m.dst.Endpoint); err != nil {
		return err
	}

	if err := o.setAccess(ctx, m.dst, m.dstVolumeID, AccessReplicationTarget); err != nil {
		return err
	}
	if err := o.waitForSync(ctx, m); err != nil {
		return err
	}
	if err := o.setAccess(ctx, m.dst, m.dstVolumeID, AccessReadWrite); err != nil {
		return err
	}

	for _, side := range []struct {
		c  *cluster.Cluster
		id string
	}{{m.src, m.srcVolumeID}, {m.dst, m.dstVolumeID}} {
		if _, err := o.execute(ctx, array.MethodRemoveVolumePair, array.Params{"volumeID": side.id}, side.c.Endpoint); err != nil {
			return err
		}
	}
	if _, err := o.execute(ctx, array.MethodDeleteVolume, array.Params{"volumeID": m.srcVolumeID}, m.src.Endpoint); err != nil {
		return err
	}
	m.sourceRemoved = true
	if _, err := o.execute(ctx, array.MethodPurgeDeletedVolume, array.Params{"volumeID": m.srcVolumeID}, m.src.Endpoint); err != nil {
		// the data already lives on the destination
		log.Errorf("Unable to purge source volume %s on %s: %s", m.srcVolumeID, m.src.BackendID, err.Error())
	}
	return nil
}

// GetOrCreateAccount returns the id of the named account on c, creating it when missing
var GetOrCreateAccount = func(ctx context.Context, o *Orchestrator, c *cluster.Cluster, username string) (string, error) {
	res, err := o.execute(ctx, array.MethodGetAccountByName, array.Params{"username": username}, c.Endpoint)
	if err == nil {
		var account struct {
			AccountID string `json:"accountID"`
		}
		if err := res.DecodeKey("account", &account); err != nil {
			return "", err
		}
		return account.AccountID, nil
	}
	if !rcerrors.IsNotFound(err) {
		return "", err
	}
	res, err = o.execute(ctx, array.MethodAddAccount, array.Params{"username": username}, c.Endpoint)
	if err != nil {
		return "", err
	}
	id, _ := res["accountID"].(string)
	log.Debugf("Created account %s (%s) on %s", username, id, c.BackendID)
	return id, nil
}

func (o *Orchestrator) setAccess(ctx context.Context, c *cluster.Cluster, volumeID, access string) error {
	if _, err := o.execute(ctx, array.MethodModifyVolume, array.Params{"volumeID": volumeID, "access": access}, c.Endpoint); err != nil {
		log.Errorf("Unable to set access of %s on %s to %s: %s", volumeID, c.BackendID, access, err.Error())
		return err
	}
	return nil
}

func (o *Orchestrator) waitForSync(ctx context.Context, m *migration) error {
	return poll.Until(ctx, poll.Options{
		Operation: "migration data sync of " + m.vol.Name,
		Interval:  o.opts.PollInterval,
		Timeout:   o.opts.SyncTimeout,
	}, func(ctx context.Context) (bool, error) {
		res, err := o.execute(ctx, array.MethodListActivePairedVolumes, nil, m.src.Endpoint)
		if err != nil {
			return false, err
		}
		var volumes []pairedVolume
		if err := res.DecodeKey("volumes", &volumes); err != nil {
			return false, err
		}
		for _, v := range volumes {
			if v.VolumeID != m.srcVolumeID {
				continue
			}
			for _, p := range v.VolumePairs {
				if p.RemoteVolumeID == m.dstVolumeID {
					log.Debugf("Pair %s -> %s is %s", m.srcVolumeID, m.dstVolumeID, p.State)
					return p.State == PairStateActive, nil
				}
			}
		}
		return false, nil
	})
}

// cleanup undoes a failed migration. Every step is attempted; failures are
// logged and counted.
func (o *Orchestrator) cleanup(ctx context.Context, m *migration) {
	log.Warnf("Cleaning up failed migration of %s to %s", m.vol.Name, m.dst.BackendID)
	type step struct {
		method string
		c      *cluster.Cluster
		id     string
	}
	var steps []step
	if m.srcVolumeID != "" {
		steps = append(steps, step{array.MethodRemoveVolumePair, m.src, m.srcVolumeID})
	}
	if m.dstVolumeID != "" {
		steps = append(steps,
			step{array.MethodRemoveVolumePair, m.dst, m.dstVolumeID},
			step{array.MethodDeleteVolume, m.dst, m.dstVolumeID},
			step{array.MethodPurgeDeletedVolume, m.dst, m.dstVolumeID},
		)
	}
	for _, s := range steps {
		if _, err := o.execute(ctx, s.method, array.Params{"volumeID": s.id}, s.c.Endpoint); err != nil {
			if rcerrors.IsNotFound(err) {
				continue
			}
			metrics.MigrationCleanupErrors.Inc()
			log.Errorf("Cleanup %s of %s on %s failed: %s", s.method, s.id, s.c.BackendID, err.Error())
		}
	}
}
