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
	"strconv"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	"github.com/dell/csi-remotecopy/v2/pkg/cluster"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"
	"github.com/dell/csi-remotecopy/v2/pkg/replication"

	log "github.com/sirupsen/logrus"
)

func relationshipMetadata(rel *replication.RelationshipInfo) map[string]string {
	if rel == nil {
		return nil
	}
	return map[string]string{
		MetadataRelationship: rel.Name,
		MetadataPrimary:      string(rel.Primary),
		MetadataState:        string(rel.State),
		MetadataProgress:     strconv.Itoa(rel.Progress),
		MetadataType:         string(rel.ReplicationType()),
	}
}

func cyclePeriod(spec ReplicationSpec) int {
	if spec.CyclePeriodSeconds > 0 {
		return spec.CyclePeriodSeconds
	}
	return replication.DefaultCyclePeriodSeconds
}

func (d *Driver) changeVolumeOpts(volume *Volume, target *cluster.Cluster, sizeGiB int64) replication.ChangeVolumeOptions {
	primary := d.clusters.Primary()
	return replication.ChangeVolumeOptions{
		MasterVolume:   volume.Name,
		SizeGiB:        sizeGiB,
		MasterPool:     primary.Pool,
		AuxPool:        target.Pool,
		MasterEndpoint: primary.Endpoint,
		AuxEndpoint:    target.Endpoint,
	}
}

// ensurePairing pairs the clusters once; concurrent callers wait for the first
func (d *Driver) ensurePairing(ctx context.Context, src, dst *cluster.Cluster) error {
	unlock := d.lock(ctx, "pair/"+src.BackendID+"/"+dst.BackendID)
	defer unlock()
	_, err := cluster.EnsurePairing(ctx, d.exec, src, dst, cluster.PairingOptions{
		Timeout:  d.opts.Timeouts.PairingTimeout,
		Interval: d.opts.Timeouts.PollInterval,
	})
	return err
}

// replicaPreconditions returns the replication target when replicas may be managed
func (d *Driver) replicaPreconditions(op string, volume *Volume) (*cluster.Cluster, error) {
	if active := d.clusters.Active(); active.FailedOver() {
		log.Errorf("Cannot %s %s while failed over to %s", op, volume.Name, active.BackendID)
		return nil, rcerrors.Driverf("cannot %s %s while backend %s is failed over to %s", op, volume.Name, d.opts.BackendID, active.BackendID)
	}
	return d.replicationTarget()
}

// CreateReplica creates the auxiliary volume and the relationship of volume
func (d *Driver) CreateReplica(ctx context.Context, volume *Volume, spec ReplicationSpec) (*ModelUpdate, error) {
	ctx = withRequestID(ctx)
	fields := getLogFields(ctx)
	fields["volume"] = volume.Name
	fields["type"] = spec.Type
	if spec.Type == replication.TypeNone {
		return &ModelUpdate{ReplicationStatus: StatusDisabled}, nil
	}
	target, err := d.replicaPreconditions("create a replica of", volume)
	if err != nil {
		return nil, err
	}
	primary := d.clusters.Primary()
	log.WithFields(fields).Info("Creating replica")

	if err := d.ensurePairing(ctx, primary, target); err != nil {
		return nil, err
	}
	aux := replication.AuxVolumeName(volume.Name)
	if err := d.engine.CreateVolume(ctx, aux, volume.SizeGiB, target.Pool, target.Endpoint); err != nil {
		return nil, err
	}
	opts := replication.CreateOptions{
		MasterVolume:  volume.Name,
		AuxVolume:     aux,
		TargetCluster: target.Name,
		Async:         spec.Type.Async(),
		Endpoint:      primary.Endpoint,
	}
	if spec.Type == replication.TypeGMCV {
		masterCV, auxCV, err := d.engine.CreateChangeVolumes(ctx, d.changeVolumeOpts(volume, target, volume.SizeGiB))
		if err != nil {
			return nil, err
		}
		opts.CyclingMode = replication.CyclingMulti
		opts.MasterChangeVolume = masterCV
		opts.AuxChangeVolume = auxCV
		opts.CyclePeriodSeconds = cyclePeriod(spec)
	}
	name, err := d.engine.CreateRelationship(ctx, opts)
	if err != nil {
		log.WithFields(fields).Errorf("Unable to create relationship: %s", err.Error())
		return nil, err
	}
	rel, err := d.engine.GetRelationship(ctx, name, primary.Endpoint)
	if err != nil {
		return nil, err
	}
	log.WithFields(fields).Infof("Replica created, relationship %s", name)
	return &ModelUpdate{
		ReplicationStatus: StatusEnabled,
		Metadata:          relationshipMetadata(rel),
	}, nil
}

// DeleteReplica removes the relationship, the auxiliary volume and the
// change volumes of volume. Missing objects are skipped.
func (d *Driver) DeleteReplica(ctx context.Context, volume *Volume) error {
	ctx = withRequestID(ctx)
	target, err := d.replicationTarget()
	if err != nil {
		if !volume.Replicated() {
			return nil
		}
		return err
	}
	ep := d.clusters.Active().Endpoint()
	log.WithFields(getLogFields(ctx)).Infof("Deleting replica of %s", volume.Name)
	if err := d.engine.DeleteRelationship(ctx, replication.RelationshipName(volume.Name), true, ep); err != nil {
		return err
	}
	if err := d.engine.DeleteVolume(ctx, replication.AuxVolumeName(volume.Name), target.Endpoint); err != nil {
		return err
	}
	if volume.ReplicationType == replication.TypeGMCV {
		return d.engine.DeleteChangeVolumes(ctx, d.changeVolumeOpts(volume, target, volume.SizeGiB))
	}
	return nil
}

// RetypeReplication moves volume from the replication of oldSpec to newSpec
func (d *Driver) RetypeReplication(ctx context.Context, volume *Volume, oldSpec, newSpec ReplicationSpec) (*ModelUpdate, error) {
	ctx = withRequestID(ctx)
	fields := getLogFields(ctx)
	fields["volume"] = volume.Name
	fields["from"] = oldSpec.Type
	fields["to"] = newSpec.Type
	log.WithFields(fields).Info("Retyping replication")

	switch {
	case oldSpec.Type == replication.TypeNone && newSpec.Type == replication.TypeNone:
		return &ModelUpdate{ReplicationStatus: StatusDisabled}, nil
	case oldSpec.Type == replication.TypeNone:
		return d.CreateReplica(ctx, volume, newSpec)
	case newSpec.Type == replication.TypeNone:
		if _, err := d.replicaPreconditions("remove the replica of", volume); err != nil {
			return nil, err
		}
		if err := d.DeleteReplica(ctx, volume); err != nil {
			return nil, err
		}
		return &ModelUpdate{ReplicationStatus: StatusDisabled}, nil
	case oldSpec.Type.CopyType() != newSpec.Type.CopyType():
		log.WithFields(fields).Error("Copy type cannot change")
		return nil, rcerrors.Driverf("cannot retype %s from %s to %s replication", volume.Name, oldSpec.Type, newSpec.Type)
	}

	target, err := d.replicaPreconditions("retype", volume)
	if err != nil {
		return nil, err
	}
	if oldSpec.Type != newSpec.Type && volume.GroupID != "" {
		return nil, rcerrors.Driverf("cannot change the replication type of %s while it is in group %s", volume.Name, volume.GroupID)
	}
	primary := d.clusters.Primary()
	name := replication.RelationshipName(volume.Name)
	switch {
	case oldSpec.Type == replication.TypeGlobal && newSpec.Type == replication.TypeGMCV:
		err = d.engine.ConvertToCycling(ctx, replication.ConvertOptions{
			ChangeVolumeOptions: d.changeVolumeOpts(volume, target, volume.SizeGiB),
			AuxVolume:           replication.AuxVolumeName(volume.Name),
			NewSizeGiB:          volume.SizeGiB,
			OldSizeGiB:          volume.SizeGiB,
			CyclePeriodSeconds:  cyclePeriod(newSpec),
		})
	case oldSpec.Type == replication.TypeGMCV && newSpec.Type == replication.TypeGlobal:
		var rel *replication.RelationshipInfo
		if rel, err = d.stopCycling(ctx, name, primary.Endpoint); err == nil {
			if err = d.engine.StartRelationship(ctx, name, rel.Primary, false, primary.Endpoint); err == nil {
				err = d.engine.DeleteChangeVolumes(ctx, d.changeVolumeOpts(volume, target, volume.SizeGiB))
			}
		}
	case newSpec.Type == replication.TypeGMCV && newSpec.CyclePeriodSeconds > 0 && newSpec.CyclePeriodSeconds != oldSpec.CyclePeriodSeconds:
		err = d.engine.SetCyclePeriod(ctx, name, newSpec.CyclePeriodSeconds, primary.Endpoint)
	}
	if err != nil {
		log.WithFields(fields).Errorf("Retype failed: %s", err.Error())
		return nil, err
	}
	rel, err := d.engine.GetRelationship(ctx, name, primary.Endpoint)
	if err != nil {
		return nil, err
	}
	return &ModelUpdate{ReplicationStatus: StatusEnabled, Metadata: relationshipMetadata(rel)}, nil
}

// stopCycling stops a cycling relationship, turns cycling off and detaches
// its change volumes. The stopped relationship is returned.
func (d *Driver) stopCycling(ctx context.Context, name string, ep *array.Endpoint) (*replication.RelationshipInfo, error) {
	rel, err := d.engine.GetRelationship(ctx, name, ep)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, rcerrors.Driverf("relationship %s does not exist", name)
	}
	if replication.ClassOf(rel.State) == replication.ClassRunning {
		if err := d.engine.StopRelationship(ctx, name, false, ep); err != nil {
			return nil, err
		}
		if rel, err = d.engine.GetRelationship(ctx, name, ep); err != nil {
			return nil, err
		}
		if rel == nil {
			return nil, rcerrors.Driverf("relationship %s disappeared while stopping", name)
		}
	}
	if err := d.engine.SetCyclingMode(ctx, rel, replication.CyclingNone, 0, ep); err != nil {
		return nil, err
	}
	for _, side := range []replication.Role{replication.RoleMaster, replication.RoleAux} {
		if err := d.engine.SetChangeVolume(ctx, name, side, "", ep); err != nil {
			return nil, err
		}
	}
	return rel, nil
}

// ExtendVolume grows volume and its replica to newSizeGiB. Relationships of
// metro and global volumes are recreated around the expansion; cycling
// relationships are converted back to cycling at the new size.
func (d *Driver) ExtendVolume(ctx context.Context, volume *Volume, newSizeGiB int64) error {
	ctx = withRequestID(ctx)
	fields := getLogFields(ctx)
	fields["volume"] = volume.Name
	fields["size"] = newSizeGiB
	if newSizeGiB <= volume.SizeGiB {
		return rcerrors.Driverf("new size %d GiB of %s is not larger than %d GiB", newSizeGiB, volume.Name, volume.SizeGiB)
	}
	if !volume.Replicated() {
		return d.engine.ExpandVolume(ctx, volume.Name, newSizeGiB, d.clusters.Active().Endpoint())
	}
	target, err := d.replicaPreconditions("extend", volume)
	if err != nil {
		return err
	}
	primary := d.clusters.Primary()
	name := replication.RelationshipName(volume.Name)
	aux := replication.AuxVolumeName(volume.Name)
	rel, err := d.engine.GetRelationship(ctx, name, primary.Endpoint)
	if err != nil {
		return err
	}
	if rel == nil {
		log.WithFields(fields).Error("Replicated volume has no relationship")
		return rcerrors.Driverf("relationship %s does not exist", name)
	}
	group := rel.ConsistencyGroup
	log.WithFields(fields).Infof("Extending replicated volume (%s)", rel.ReplicationType())

	if rel.ReplicationType() == replication.TypeGMCV {
		if group != "" {
			if err := d.groups.RemoveRelationshipFromGroup(ctx, name, primary.Endpoint); err != nil {
				return err
			}
		}
		if _, err := d.stopCycling(ctx, name, primary.Endpoint); err != nil {
			return err
		}
		if err := d.expandBoth(ctx, volume.Name, aux, newSizeGiB, primary, target); err != nil {
			return err
		}
		return d.engine.ConvertToCycling(ctx, replication.ConvertOptions{
			ChangeVolumeOptions: d.changeVolumeOpts(volume, target, newSizeGiB),
			AuxVolume:           aux,
			NewSizeGiB:          newSizeGiB,
			OldSizeGiB:          volume.SizeGiB,
			CyclePeriodSeconds:  rel.CyclePeriodSeconds,
			GroupName:           group,
		})
	}

	if err := d.engine.DeleteRelationship(ctx, name, true, primary.Endpoint); err != nil {
		return err
	}
	if err := d.expandBoth(ctx, volume.Name, aux, newSizeGiB, primary, target); err != nil {
		return err
	}
	if _, err := d.engine.CreateRelationship(ctx, replication.CreateOptions{
		MasterVolume:  volume.Name,
		AuxVolume:     aux,
		TargetCluster: target.Name,
		Async:         rel.CopyType == replication.CopyTypeGlobal,
		Endpoint:      primary.Endpoint,
	}); err != nil {
		return err
	}
	if group != "" {
		return d.groups.AddRelationshipToGroup(ctx, name, group, primary.Endpoint)
	}
	return nil
}

func (d *Driver) expandBoth(ctx context.Context, master, aux string, sizeGiB int64, primary, target *cluster.Cluster) error {
	if err := d.engine.ExpandVolume(ctx, master, sizeGiB, primary.Endpoint); err != nil {
		return err
	}
	return d.engine.ExpandVolume(ctx, aux, sizeGiB, target.Endpoint)
}
