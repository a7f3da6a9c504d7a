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
	"testing"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	"github.com/dell/csi-remotecopy/v2/pkg/array/mock"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"
	"github.com/dell/csi-remotecopy/v2/pkg/replication"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

func newReplicatedGroup(t *testing.T, d *Driver, sim *mock.Array, id string, repType replication.Type, names ...string) (*Group, []*Volume) {
	group := &Group{ID: id, ReplicationEnabled: true, ReplicationType: repType}
	var volumes []*Volume
	for _, name := range names {
		v := newReplicatedVolume(t, d, sim, name, repType)
		v.GroupID = id
		volumes = append(volumes, v)
	}
	update, members, err := d.EnableGroupReplication(context.Background(), group, volumes)
	require.NoError(t, err)
	require.Equal(t, StatusEnabled, update.Updates.ReplicationStatus)
	require.Len(t, members, len(volumes))
	return group, volumes
}

func TestEnableGroupReplication(t *testing.T) {
	for _, repType := range []replication.Type{replication.TypeMetro, replication.TypeGlobal, replication.TypeGMCV} {
		t.Run(string(repType), func(t *testing.T) {
			d, sim, _ := newTestDriver(t)
			_, volumes := newReplicatedGroup(t, d, sim, "g1", repType, "vol1", "vol2")
			grp := sim.Group("rccg_g1")
			require.NotNil(t, grp)
			assert.Equal(t, []string{"rcrel_vol1", "rcrel_vol2"}, grp.Relationships)
			assert.Equal(t, targetName, grp.AuxCluster)
			for _, v := range volumes {
				assert.Equal(t, "rccg_g1", sim.Relationship(replication.RelationshipName(v.Name)).ConsistencyGroup)
			}
			if repType == replication.TypeGMCV {
				assert.Equal(t, "multi", grp.CyclingMode)
			}
		})
	}
}

func TestEnableGroupReplication_Refused(t *testing.T) {
	t.Run("Mixed replication types", func(t *testing.T) {
		d, sim, _ := newTestDriver(t)
		group := &Group{ID: "g1", ReplicationEnabled: true, ReplicationType: replication.TypeGlobal}
		volumes := []*Volume{
			newReplicatedVolume(t, d, sim, "vol1", replication.TypeGlobal),
			newReplicatedVolume(t, d, sim, "vol2", replication.TypeMetro),
		}
		mutations := sim.MutatingCalls()
		_, _, err := d.EnableGroupReplication(context.Background(), group, volumes)
		assert.True(t, rcerrors.IsDriver(err), "%v", err)
		assert.Equal(t, mutations, sim.MutatingCalls())
		assert.Nil(t, sim.Group("rccg_g1"))
	})
	t.Run("Failed over", func(t *testing.T) {
		d, sim, _ := newTestDriver(t)
		_, _, _, err := d.FailoverHost(context.Background(), nil, targetBackend, nil)
		require.NoError(t, err)
		_, _, err = d.EnableGroupReplication(context.Background(), &Group{ID: "g1"}, nil)
		assert.True(t, rcerrors.IsDriver(err), "%v", err)
		assert.Nil(t, sim.Group("rccg_g1"))
	})
	t.Run("Relationship missing", func(t *testing.T) {
		d, sim, _ := newTestDriver(t)
		sim.AddVolume(primaryName, "vol1", 10)
		vol := &Volume{ID: "id-vol1", Name: "vol1", ReplicationType: replication.TypeGlobal}
		_, _, err := d.EnableGroupReplication(context.Background(),
			&Group{ID: "g1", ReplicationType: replication.TypeGlobal}, []*Volume{vol})
		assert.True(t, rcerrors.IsDriver(err), "%v", err)
	})
}

func TestDisableGroupReplication(t *testing.T) {
	d, sim, _ := newTestDriver(t)
	group, volumes := newReplicatedGroup(t, d, sim, "g1", replication.TypeGlobal, "vol1", "vol2")

	update, members, err := d.DisableGroupReplication(context.Background(), group, volumes)
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, update.Updates.ReplicationStatus)
	assert.Equal(t, 2, len(members))
	for _, m := range members {
		assert.Equal(t, StatusDisabled, m.Updates.ReplicationStatus)
	}
	grp := sim.Group("rccg_g1")
	assert.Equal(t, mock.StateConsistentStopped, grp.State)
	assert.Equal(t, 2, grp.RelationshipCount)

	// enabling again restarts the same group
	_, _, err = d.EnableGroupReplication(context.Background(), group, volumes)
	require.NoError(t, err)
	assert.Equal(t, mock.StateConsistentSynchronized, sim.Group("rccg_g1").State)
}

func TestGroupReplication_EmptyGroup(t *testing.T) {
	d, sim, _ := newTestDriver(t)
	group, _ := newReplicatedGroup(t, d, sim, "g1", replication.TypeGlobal)
	mutations := sim.MutatingCalls()

	update, members, err := d.FailoverGroupReplication(context.Background(), group, nil, targetBackend)
	require.NoError(t, err)
	assert.Equal(t, StatusFailedOver, update.Updates.ReplicationStatus)
	assert.Empty(t, members)

	update, _, err = d.FailoverGroupReplication(context.Background(), group, nil, "default")
	require.NoError(t, err)
	assert.Equal(t, StatusEnabled, update.Updates.ReplicationStatus)

	_, _, err = d.DisableGroupReplication(context.Background(), group, nil)
	require.NoError(t, err)
	_, _, err = d.EnableGroupReplication(context.Background(), group, nil)
	require.NoError(t, err)

	assert.Equal(t, mutations+1, sim.MutatingCalls(), "only the idempotent group creation is issued")
	assert.Zero(t, countMethod(sim, array.MethodStartConsistencyGroup))
	assert.Zero(t, countMethod(sim, array.MethodStopConsistencyGroup))
	assert.Zero(t, countMethod(sim, array.MethodSwitchConsistencyGroup))
}

func TestFailoverGroupReplication(t *testing.T) {
	d, sim, _ := newTestDriver(t)
	group, volumes := newReplicatedGroup(t, d, sim, "g1", replication.TypeGMCV, "vol1", "vol2")

	update, members, err := d.FailoverGroupReplication(context.Background(), group, volumes, "")
	require.NoError(t, err)
	assert.Equal(t, StatusFailedOver, update.Updates.ReplicationStatus)
	for _, m := range members {
		assert.Equal(t, StatusFailedOver, m.Updates.ReplicationStatus)
	}
	assert.Equal(t, mock.StateIdling, sim.Group("rccg_g1").State)
	assert.Equal(t, "", d.ActiveBackendID(), "a group failover leaves the backend on the primary")

	update, members, err = d.FailoverGroupReplication(context.Background(), group, volumes, "default")
	require.NoError(t, err)
	assert.Equal(t, StatusEnabled, update.Updates.ReplicationStatus)
	assert.Len(t, members, 2)
	grp := sim.Group("rccg_g1")
	assert.Equal(t, "master", grp.Primary)
	assert.Equal(t, mock.StateConsistentCopying, grp.State)
}

func TestFailoverGroupReplication_Errors(t *testing.T) {
	tests := []struct {
		name        string
		secondaryID string
		induce      func(sim *mock.Array)
		wantFatal   bool
		wantStatus  ReplicationStatus
	}{
		{
			name:        "Unknown secondary",
			secondaryID: "backend-z",
			induce:      func(*mock.Array) {},
			wantFatal:   true,
		},
		{
			name:        "Target unreachable",
			secondaryID: targetBackend,
			induce:      func(sim *mock.Array) { sim.SetUnreachable(targetName, true) },
			wantFatal:   true,
		},
		{
			name:        "Primary unreachable on failback",
			secondaryID: "default",
			induce:      func(sim *mock.Array) { sim.SetUnreachable(primaryName, true) },
			wantFatal:   true,
		},
		{
			name:        "Stop rejected",
			secondaryID: targetBackend,
			induce:      func(sim *mock.Array) { sim.FailMethod(array.MethodStopConsistencyGroup, true) },
			wantStatus:  StatusFailoverError,
		},
		{
			name:        "Switch rejected on failback",
			secondaryID: "default",
			induce:      func(sim *mock.Array) { sim.FailMethod(array.MethodSwitchConsistencyGroup, true) },
			wantStatus:  StatusFailoverError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sim, _ := newTestDriver(t)
			group, volumes := newReplicatedGroup(t, d, sim, "g1", replication.TypeGlobal, "vol1")
			tt.induce(sim)
			update, members, err := d.FailoverGroupReplication(context.Background(), group, volumes, tt.secondaryID)
			if tt.wantFatal {
				assert.True(t, isUnableToFailOver(err), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, update.Updates.ReplicationStatus)
			assert.Equal(t, tt.wantStatus, members[0].Updates.ReplicationStatus)
		})
	}
}
