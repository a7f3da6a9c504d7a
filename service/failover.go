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

package service

import (
	"context"
	"time"

	"github.com/dell/csi-remotecopy/v2/pkg/cluster"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"
	"github.com/dell/csi-remotecopy/v2/pkg/metrics"
	"github.com/dell/csi-remotecopy/v2/pkg/replication"

	log "github.com/sirupsen/logrus"
)

// replicable reports whether a standalone volume takes part in a failover
func replicable(v *Volume) bool {
	return v.Replicated() && (v.Status == VolumeAvailable || v.Status == VolumeInUse)
}

// failoverPlan splits a failover request into its three kinds of work
type failoverPlan struct {
	standalone []*Volume
	bypass     []*Volume
	groups     []*Group
	members    map[string][]*Volume
}

func classify(volumes []*Volume, groups []*Group) *failoverPlan {
	plan := &failoverPlan{members: make(map[string][]*Volume)}
	enabled := make(map[string]bool)
	for _, g := range groups {
		if g.ReplicationEnabled {
			enabled[g.ID] = true
			plan.groups = append(plan.groups, g)
		}
	}
	for _, v := range volumes {
		switch {
		case v.GroupID != "" && enabled[v.GroupID]:
			plan.members[v.GroupID] = append(plan.members[v.GroupID], v)
		case replicable(v):
			plan.standalone = append(plan.standalone, v)
		default:
			plan.bypass = append(plan.bypass, v)
		}
	}
	return plan
}

// updateSet collects volume updates and returns them in request order
type updateSet struct {
	byID map[string]ModelUpdate
}

func (u *updateSet) set(v *Volume, update ModelUpdate) {
	if update.ReplicationStatus == StatusFailoverError {
		metrics.VolumeFailoverErrors.Inc()
	}
	u.byID[v.ID] = update
}

func (u *updateSet) ordered(volumes []*Volume) []VolumeUpdate {
	updates := make([]VolumeUpdate, 0, len(u.byID))
	for _, v := range volumes {
		if update, ok := u.byID[v.ID]; ok {
			updates = append(updates, VolumeUpdate{VolumeID: v.ID, Updates: update})
		}
	}
	return updates
}

// FailoverHost fails the whole backend over to secondaryID, or back to the
// primary when secondaryID is "default". An empty secondaryID names the
// configured replication target. Volumes without a usable relationship are
// reported with failover-error and do not stop the rest of the batch.
func (d *Driver) FailoverHost(ctx context.Context, volumes []*Volume, secondaryID string, groups []*Group) (string, []VolumeUpdate, []GroupUpdate, error) {
	ctx = withRequestID(ctx)
	fields := getLogFields(ctx)
	fields["secondaryId"] = secondaryID
	fields["volumes"] = len(volumes)
	fields["groups"] = len(groups)

	d.failover.Lock()
	defer d.failover.Unlock()
	start := time.Now()
	active := d.clusters.Active()

	if secondaryID == cluster.DefaultBackendID {
		if !active.FailedOver() {
			log.WithFields(fields).Info("Backend is not failed over; nothing to fail back")
			metrics.ObserveFailover(metrics.DirectionFailback, metrics.ResultNoop, start)
			return "", nil, nil, nil
		}
		log.WithFields(fields).Infof("Failing back from %s", active.BackendID)
		volumeUpdates, groupUpdates, err := d.failback(ctx, volumes, groups)
		if err != nil {
			log.WithFields(fields).Errorf("Failback failed: %s", err.Error())
			metrics.ObserveFailover(metrics.DirectionFailback, metrics.ResultFailed, start)
			return active.BackendID, nil, nil, err
		}
		metrics.ObserveFailover(metrics.DirectionFailback, metrics.ResultSuccess, start)
		log.WithFields(fields).Info("Failback complete")
		return "", volumeUpdates, groupUpdates, nil
	}

	target := d.clusters.Target()
	if target == nil {
		metrics.ObserveFailover(metrics.DirectionFailover, metrics.ResultFailed, start)
		return active.BackendID, nil, nil, rcerrors.UnableToFailOverf("replication is not configured for backend %s", d.opts.BackendID)
	}
	if secondaryID != "" && secondaryID != target.BackendID {
		metrics.ObserveFailover(metrics.DirectionFailover, metrics.ResultFailed, start)
		return active.BackendID, nil, nil, rcerrors.UnableToFailOverf("%s is not the replication target of backend %s", secondaryID, d.opts.BackendID)
	}
	if active.FailedOver() {
		log.WithFields(fields).Infof("Backend is already failed over to %s", active.BackendID)
		metrics.ObserveFailover(metrics.DirectionFailover, metrics.ResultNoop, start)
		return active.BackendID, nil, nil, nil
	}
	log.WithFields(fields).Infof("Failing over to %s", target.BackendID)
	volumeUpdates, groupUpdates, err := d.failoverTo(ctx, target, volumes, groups)
	if err != nil {
		log.WithFields(fields).Errorf("Failover failed: %s", err.Error())
		metrics.ObserveFailover(metrics.DirectionFailover, metrics.ResultFailed, start)
		return "", nil, nil, err
	}
	metrics.ObserveFailover(metrics.DirectionFailover, metrics.ResultSuccess, start)
	log.WithFields(fields).Info("Failover complete")
	return target.BackendID, volumeUpdates, groupUpdates, nil
}

func (d *Driver) failoverTo(ctx context.Context, target *cluster.Cluster, volumes []*Volume, groups []*Group) ([]VolumeUpdate, []GroupUpdate, error) {
	if err := d.clusters.Probe(ctx, target); err != nil {
		return nil, nil, rcerrors.UnableToFailOverf("replication target %s is unreachable: %s", target.BackendID, err.Error())
	}
	plan := classify(volumes, groups)
	updates := &updateSet{byID: make(map[string]ModelUpdate)}

	for _, v := range plan.standalone {
		updates.set(v, d.failoverVolume(ctx, v, target))
	}
	var groupUpdates []GroupUpdate
	for _, g := range plan.groups {
		status := StatusFailedOver
		if err := d.failoverGroup(ctx, g, target); err != nil {
			log.Errorf("Failover of group %s failed: %s", g.ID, err.Error())
			status = StatusFailoverError
		}
		groupUpdates = append(groupUpdates, GroupUpdate{GroupID: g.ID, Updates: ModelUpdate{ReplicationStatus: status}})
		for _, v := range plan.members[g.ID] {
			updates.set(v, ModelUpdate{ReplicationStatus: status})
		}
	}
	for _, v := range plan.bypass {
		updates.set(v, bypassFailover(v))
	}

	if err := d.swap(ctx, target.BackendID); err != nil {
		return nil, nil, err
	}
	return updates.ordered(volumes), groupUpdates, nil
}

func (d *Driver) failoverVolume(ctx context.Context, v *Volume, target *cluster.Cluster) ModelUpdate {
	name := replication.RelationshipName(v.Name)
	rel, err := d.engine.GetRelationship(ctx, name, target.Endpoint)
	if err != nil || rel == nil {
		log.Errorf("Volume %s has no usable relationship on %s: %v", v.Name, target.BackendID, err)
		return ModelUpdate{ReplicationStatus: StatusFailoverError}
	}
	if err := d.engine.StopRelationship(ctx, name, true, target.Endpoint); err != nil {
		return ModelUpdate{ReplicationStatus: StatusFailoverError}
	}
	if stopped, err := d.engine.GetRelationship(ctx, name, target.Endpoint); err == nil && stopped != nil {
		rel = stopped
	}
	return ModelUpdate{ReplicationStatus: StatusFailedOver, Metadata: relationshipMetadata(rel)}
}

// failoverGroup makes the auxiliaries of every member writable
func (d *Driver) failoverGroup(ctx context.Context, g *Group, target *cluster.Cluster) error {
	return d.groups.StopGroup(ctx, replication.GroupName(g.ID), true, target.Endpoint)
}

// bypassFailover parks a volume that is not replicated in error and keeps
// the status it had before the first failover for the failback.
func bypassFailover(v *Volume) ModelUpdate {
	data := make(map[string]string, len(v.ReplicationDriverData)+1)
	for k, val := range v.ReplicationDriverData {
		data[k] = val
	}
	if _, ok := data[DriverDataPrevious]; !ok {
		data[DriverDataPrevious] = v.Status
	}
	return ModelUpdate{Status: VolumeError, ReplicationDriverData: data}
}

func (d *Driver) failback(ctx context.Context, volumes []*Volume, groups []*Group) ([]VolumeUpdate, []GroupUpdate, error) {
	primary := d.clusters.Primary()
	if err := d.clusters.Probe(ctx, primary); err != nil {
		return nil, nil, rcerrors.UnableToFailOverf("primary cluster %s is unreachable: %s", primary.BackendID, err.Error())
	}
	plan := classify(volumes, groups)
	updates := &updateSet{byID: make(map[string]ModelUpdate)}

	for _, v := range plan.standalone {
		updates.set(v, d.failbackVolume(ctx, v, primary))
	}
	var groupUpdates []GroupUpdate
	for _, g := range plan.groups {
		status := StatusEnabled
		if err := d.failbackGroup(ctx, g, primary); err != nil {
			log.Errorf("Failback of group %s failed: %s", g.ID, err.Error())
			status = StatusFailoverError
		}
		groupUpdates = append(groupUpdates, GroupUpdate{GroupID: g.ID, Updates: ModelUpdate{ReplicationStatus: status}})
		for _, v := range plan.members[g.ID] {
			updates.set(v, ModelUpdate{ReplicationStatus: status})
		}
	}
	for _, v := range plan.bypass {
		updates.set(v, bypassFailback(v))
	}

	if err := d.swap(ctx, ""); err != nil {
		return nil, nil, err
	}
	return updates.ordered(volumes), groupUpdates, nil
}

// failbackVolume copies the auxiliary back onto the master and makes the
// master primary again once both sides hold the same data.
func (d *Driver) failbackVolume(ctx context.Context, v *Volume, primary *cluster.Cluster) ModelUpdate {
	name := replication.RelationshipName(v.Name)
	ep := primary.Endpoint
	rel, err := d.engine.GetRelationship(ctx, name, ep)
	if err != nil || rel == nil {
		log.Errorf("Volume %s has no usable relationship on %s: %v", v.Name, primary.BackendID, err)
		return ModelUpdate{ReplicationStatus: StatusFailoverError}
	}
	if err := d.engine.StartRelationship(ctx, name, replication.RoleAux, false, ep); err != nil {
		return ModelUpdate{ReplicationStatus: StatusFailoverError}
	}
	if err := d.engine.WaitForSync(ctx, name, ep); err != nil {
		log.Errorf("Relationship %s did not synchronize: %s", name, err.Error())
		return ModelUpdate{ReplicationStatus: StatusFailoverError}
	}
	if err := d.engine.SwitchRelationship(ctx, name, replication.RoleMaster, ep); err != nil {
		return ModelUpdate{ReplicationStatus: StatusFailoverError}
	}
	if switched, err := d.engine.GetRelationship(ctx, name, ep); err == nil && switched != nil {
		rel = switched
	}
	return ModelUpdate{ReplicationStatus: StatusEnabled, Metadata: relationshipMetadata(rel)}
}

// failbackGroup resynchronizes the group from the auxiliaries and makes the
// masters primary again
func (d *Driver) failbackGroup(ctx context.Context, g *Group, primary *cluster.Cluster) error {
	name := replication.GroupName(g.ID)
	ep := primary.Endpoint
	if err := d.groups.StartGroup(ctx, name, replication.RoleAux, false, ep); err != nil {
		return err
	}
	if err := d.groups.WaitForGroupSync(ctx, name, ep); err != nil {
		return err
	}
	return d.groups.SwitchGroup(ctx, name, replication.RoleMaster, ep)
}

// bypassFailback restores the status saved by bypassFailover
func bypassFailback(v *Volume) ModelUpdate {
	previous, ok := v.ReplicationDriverData[DriverDataPrevious]
	if !ok || previous == "" {
		return ModelUpdate{Status: VolumeError}
	}
	data := make(map[string]string, len(v.ReplicationDriverData))
	for k, val := range v.ReplicationDriverData {
		if k != DriverDataPrevious {
			data[k] = val
		}
	}
	return ModelUpdate{Status: previous, ReplicationDriverData: data}
}

// swap persists backendID as the active backend and then points the driver at it
func (d *Driver) swap(ctx context.Context, backendID string) error {
	if err := d.state.SetActiveBackendID(ctx, backendID); err != nil {
		log.Errorf("Unable to persist active backend %q: %s", backendID, err.Error())
		return err
	}
	_, err := d.clusters.Swap(ctx, backendID)
	return err
}
