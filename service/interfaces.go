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
	"strconv"
	"strings"

	"github.com/dell/csi-remotecopy/v2/pkg/replication"
)

// ReplicationStatus is the replication state recorded for a volume or group
type ReplicationStatus string

// Replication statuses
const (
	StatusDisabled      = ReplicationStatus("disabled")
	StatusEnabled       = ReplicationStatus("enabled")
	StatusFailedOver    = ReplicationStatus("failed-over")
	StatusFailoverError = ReplicationStatus("failover-error")
	StatusError         = ReplicationStatus("error")
	StatusNotCapable    = ReplicationStatus("not-capable")
)

// Volume statuses the orchestration reads or writes
const (
	VolumeAvailable = "available"
	VolumeInUse     = "in-use"
	VolumeError     = "error"
)

// Keys of the volume metadata and driver data
const (
	MetadataRelationship = "rc_name"
	MetadataPrimary      = "rc_primary"
	MetadataState        = "rc_state"
	MetadataProgress     = "rc_progress"
	MetadataType         = "replication_type"
	DriverDataPrevious   = "previous_status"
)

// Keys of a replication spec in volume type extra specs
const (
	SpecReplicationType = "replication_type"
	SpecCyclePeriod     = "cycle_period_seconds"
)

// Volume is the volume manager's view of a volume
type Volume struct {
	ID   string
	Name string
	// Account owns the volume on the array
	Account            string
	SizeGiB            int64
	Status             string
	ReplicationStatus  ReplicationStatus
	ReplicationType    replication.Type
	CyclePeriodSeconds int
	GroupID            string
	ProviderID         string
	// ReplicationDriverData survives a failover of a volume that is not replicated
	ReplicationDriverData map[string]string
	Metadata              map[string]string
}

// Replicated reports whether the volume has a replication type
func (v *Volume) Replicated() bool {
	return v.ReplicationType != replication.TypeNone
}

// Group is the volume manager's view of a volume group
type Group struct {
	ID string
	// ReplicationEnabled marks groups whose members fail over as a unit
	ReplicationEnabled bool
	ReplicationType    replication.Type
	ReplicationStatus  ReplicationStatus
}

// ReplicationSpec is the replication requested by a volume type
type ReplicationSpec struct {
	Type               replication.Type
	CyclePeriodSeconds int
}

// ParseReplicationSpec reads a replication spec from volume type extra specs
func ParseReplicationSpec(specs map[string]string) (ReplicationSpec, error) {
	spec := ReplicationSpec{}
	t, err := replication.ParseType(strings.ToLower(strings.TrimSpace(specs[SpecReplicationType])))
	if err != nil {
		return spec, err
	}
	spec.Type = t
	if period := specs[SpecCyclePeriod]; period != "" {
		if spec.CyclePeriodSeconds, err = strconv.Atoi(period); err != nil {
			return spec, err
		}
	}
	return spec, nil
}

// ModelUpdate carries the fields of a volume or group that changed
type ModelUpdate struct {
	Status                string
	ReplicationStatus     ReplicationStatus
	ReplicationDriverData map[string]string
	Metadata              map[string]string
	ProviderID            string
}

// VolumeUpdate is the model update of one volume
type VolumeUpdate struct {
	VolumeID string
	Updates  ModelUpdate
}

// GroupUpdate is the model update of one group
type GroupUpdate struct {
	GroupID string
	Updates ModelUpdate
}

// Replicable drivers keep a remote copy of volumes and fail the backend over
type Replicable interface {
	CreateReplica(ctx context.Context, volume *Volume, spec ReplicationSpec) (*ModelUpdate, error)
	DeleteReplica(ctx context.Context, volume *Volume) error
	RetypeReplication(ctx context.Context, volume *Volume, oldSpec, newSpec ReplicationSpec) (*ModelUpdate, error)
	ExtendVolume(ctx context.Context, volume *Volume, newSizeGiB int64) error
	FailoverHost(ctx context.Context, volumes []*Volume, secondaryID string, groups []*Group) (string, []VolumeUpdate, []GroupUpdate, error)
}

// GroupManageable drivers replicate volume groups as a unit
type GroupManageable interface {
	EnableGroupReplication(ctx context.Context, group *Group, volumes []*Volume) (*GroupUpdate, []VolumeUpdate, error)
	DisableGroupReplication(ctx context.Context, group *Group, volumes []*Volume) (*GroupUpdate, []VolumeUpdate, error)
	FailoverGroupReplication(ctx context.Context, group *Group, volumes []*Volume, secondaryID string) (*GroupUpdate, []VolumeUpdate, error)
}

// Migratable drivers move volumes between clusters
type Migratable interface {
	MigrateVolume(ctx context.Context, volume *Volume, host string) (bool, *ModelUpdate, error)
}
