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

	"github.com/dell/csi-remotecopy/v2/pkg/cluster"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"
	"github.com/dell/csi-remotecopy/v2/pkg/replication"

	log "github.com/sirupsen/logrus"
)

func memberUpdates(volumes []*Volume, status ReplicationStatus) []VolumeUpdate {
	updates := make([]VolumeUpdate, 0, len(volumes))
	for _, v := range volumes {
		updates = append(updates, VolumeUpdate{VolumeID: v.ID, Updates: ModelUpdate{ReplicationStatus: status}})
	}
	return updates
}

func groupResult(group *Group, volumes []*Volume, status ReplicationStatus) (*GroupUpdate, []VolumeUpdate, error) {
	return &GroupUpdate{GroupID: group.ID, Updates: ModelUpdate{ReplicationStatus: status}}, memberUpdates(volumes, status), nil
}

// EnableGroupReplication creates the consistency group of group, adds the
// relationships of its members and starts it
func (d *Driver) EnableGroupReplication(ctx context.Context, group *Group, volumes []*Volume) (*GroupUpdate, []VolumeUpdate, error) {
	ctx = withRequestID(ctx)
	fields := getLogFields(ctx)
	fields["group"] = group.ID
	if active := d.clusters.Active(); active.FailedOver() {
		return nil, nil, rcerrors.Driverf("cannot enable replication of group %s while failed over to %s", group.ID, active.BackendID)
	}
	target, err := d.replicationTarget()
	if err != nil {
		return nil, nil, err
	}
	for _, v := range volumes {
		if v.ReplicationType != group.ReplicationType {
			log.WithFields(fields).Errorf("Volume %s has replication type %q, group has %q", v.Name, v.ReplicationType, group.ReplicationType)
			return nil, nil, rcerrors.Driverf("volume %s has replication type %q but group %s has %q", v.Name, v.ReplicationType, group.ID, group.ReplicationType)
		}
	}
	unlock := d.lock(ctx, "group/"+group.ID)
	defer unlock()

	primary := d.clusters.Primary()
	if err := d.ensurePairing(ctx, primary, target); err != nil {
		return nil, nil, err
	}
	name := replication.GroupName(group.ID)
	log.WithFields(fields).Infof("Enabling replication of group as %s", name)
	if err := d.groups.CreateGroup(ctx, name, target.Name, primary.Endpoint); err != nil {
		return nil, nil, err
	}
	for _, v := range volumes {
		if err := d.groups.AddRelationshipToGroup(ctx, replication.RelationshipName(v.Name), name, primary.Endpoint); err != nil {
			log.WithFields(fields).Errorf("Unable to add %s: %s", v.Name, err.Error())
			return nil, nil, err
		}
	}
	if err := d.groups.StartGroup(ctx, name, replication.RoleMaster, false, primary.Endpoint); err != nil {
		return nil, nil, err
	}
	return groupResult(group, volumes, StatusEnabled)
}

// DisableGroupReplication stops the consistency group of group. Its members
// stay grouped so replication can be enabled again.
func (d *Driver) DisableGroupReplication(ctx context.Context, group *Group, volumes []*Volume) (*GroupUpdate, []VolumeUpdate, error) {
	ctx = withRequestID(ctx)
	unlock := d.lock(ctx, "group/"+group.ID)
	defer unlock()
	name := replication.GroupName(group.ID)
	log.WithFields(getLogFields(ctx)).Infof("Disabling replication of group %s", name)
	if err := d.groups.StopGroup(ctx, name, false, d.clusters.Active().Endpoint()); err != nil {
		return nil, nil, err
	}
	return groupResult(group, volumes, StatusDisabled)
}

// FailoverGroupReplication fails one group over to the replication target,
// or back to the primary when secondaryID is "default". The active backend
// of the driver does not change.
func (d *Driver) FailoverGroupReplication(ctx context.Context, group *Group, volumes []*Volume, secondaryID string) (*GroupUpdate, []VolumeUpdate, error) {
	ctx = withRequestID(ctx)
	fields := getLogFields(ctx)
	fields["group"] = group.ID
	fields["secondaryId"] = secondaryID
	target, err := d.replicationTarget()
	if err != nil {
		return nil, nil, err
	}
	unlock := d.lock(ctx, "group/"+group.ID)
	defer unlock()

	if secondaryID == cluster.DefaultBackendID {
		primary := d.clusters.Primary()
		if err := d.clusters.Probe(ctx, primary); err != nil {
			return nil, nil, rcerrors.UnableToFailOverf("primary cluster %s is unreachable: %s", primary.BackendID, err.Error())
		}
		log.WithFields(fields).Info("Failing back group")
		if err := d.failbackGroup(ctx, group, primary); err != nil {
			log.WithFields(fields).Errorf("Group failback failed: %s", err.Error())
			return groupResult(group, volumes, StatusFailoverError)
		}
		return groupResult(group, volumes, StatusEnabled)
	}

	if secondaryID != "" && secondaryID != target.BackendID {
		return nil, nil, rcerrors.UnableToFailOverf("%s is not the replication target of backend %s", secondaryID, d.opts.BackendID)
	}
	if err := d.clusters.Probe(ctx, target); err != nil {
		return nil, nil, rcerrors.UnableToFailOverf("replication target %s is unreachable: %s", target.BackendID, err.Error())
	}
	log.WithFields(fields).Info("Failing over group")
	if err := d.failoverGroup(ctx, group, target); err != nil {
		log.WithFields(fields).Errorf("Group failover failed: %s", err.Error())
		return groupResult(group, volumes, StatusFailoverError)
	}
	return groupResult(group, volumes, StatusFailedOver)
}
