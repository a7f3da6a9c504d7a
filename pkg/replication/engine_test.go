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

package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	"github.com/dell/csi-remotecopy/v2/pkg/array/mock"
	"github.com/dell/csi-remotecopy/v2/pkg/array/mocks"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	primaryCluster   = "primary"
	secondaryCluster = "secondary"
)

func newTestEngine(t *testing.T) (*Engine, *mock.Array) {
	t.Helper()
	sim := mock.New(primaryCluster, secondaryCluster)
	e := NewEngine(sim, Options{SyncTimeout: 200 * time.Millisecond, PollInterval: time.Millisecond})
	return e, sim
}

func addReplicatedPair(sim *mock.Array, vol string) {
	sim.AddVolume(primaryCluster, vol, 10)
	sim.AddVolume(secondaryCluster, AuxVolumeName(vol), 10)
}

func createOpts(vol string, async bool) CreateOptions {
	return CreateOptions{
		MasterVolume:  vol,
		AuxVolume:     AuxVolumeName(vol),
		TargetCluster: secondaryCluster,
		Async:         async,
	}
}

func TestCreateRelationship_Idempotent(t *testing.T) {
	e, sim := newTestEngine(t)
	addReplicatedPair(sim, "vol1")
	ctx := context.Background()

	first, err := e.CreateRelationship(ctx, createOpts("vol1", false))
	require.NoError(t, err)
	second, err := e.CreateRelationship(ctx, createOpts("vol1", false))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "rcrel_vol1", first)
	assert.Len(t, sim.Relationships, 1)
	rel := sim.Relationship(first)
	assert.Equal(t, "metro", rel.CopyType)
	assert.Equal(t, mock.StateConsistentSynchronized, rel.State)
	assert.Equal(t, "master", rel.Primary)
}

func TestCreateRelationship_RestartsStoppedExisting(t *testing.T) {
	e, sim := newTestEngine(t)
	addReplicatedPair(sim, "vol1")
	ctx := context.Background()

	name, err := e.CreateRelationship(ctx, createOpts("vol1", true))
	require.NoError(t, err)
	require.NoError(t, e.StopRelationship(ctx, name, false, nil))

	_, err = e.CreateRelationship(ctx, createOpts("vol1", true))
	require.NoError(t, err)
	assert.Equal(t, mock.StateConsistentSynchronized, sim.Relationship(name).State)
}

func TestCreateRelationship_WithChangeVolumes(t *testing.T) {
	e, sim := newTestEngine(t)
	addReplicatedPair(sim, "vol1")
	ctx := context.Background()
	masterCV, auxCV, err := e.CreateChangeVolumes(ctx, ChangeVolumeOptions{
		MasterVolume:   "vol1",
		SizeGiB:        10,
		MasterEndpoint: mock.Endpoint(primaryCluster),
		AuxEndpoint:    mock.Endpoint(secondaryCluster),
	})
	require.NoError(t, err)

	opts := createOpts("vol1", true)
	opts.CyclingMode = CyclingMulti
	opts.MasterChangeVolume = masterCV
	opts.AuxChangeVolume = auxCV
	opts.CyclePeriodSeconds = 600
	name, err := e.CreateRelationship(ctx, opts)
	require.NoError(t, err)

	rel, err := e.GetRelationship(ctx, name, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeGMCV, rel.ReplicationType())
	assert.Equal(t, 600, rel.CyclePeriodSeconds)
	assert.Equal(t, "chg_vol1", rel.MasterChangeVolume)
	assert.Equal(t, "aux_chg_vol1", rel.AuxChangeVolume)
	assert.True(t, rel.Synchronized())

	// cycling is configured before the relationship is started
	methods := sim.Methods(func(c mock.Call) bool {
		return c.Method == array.MethodModifyRelationship || c.Method == array.MethodStartRelationship
	})
	assert.Equal(t, array.MethodStartRelationship, methods[len(methods)-1])
}

func TestCreateRelationship_Failure(t *testing.T) {
	e, sim := newTestEngine(t)
	addReplicatedPair(sim, "vol1")
	sim.FailMethod(array.MethodCreateRelationship, true)

	_, err := e.CreateRelationship(context.Background(), createOpts("vol1", false))
	var arrayErr *rcerrors.ErrArray
	assert.True(t, errors.As(err, &arrayErr))
	assert.Empty(t, sim.Relationships)
}

func TestGetRelationshipInfo(t *testing.T) {
	e, sim := newTestEngine(t)
	addReplicatedPair(sim, "vol1")
	ctx := context.Background()

	rel, err := e.GetRelationshipInfo(ctx, "vol1", nil)
	assert.NoError(t, err)
	assert.Nil(t, rel)

	_, err = e.CreateRelationship(ctx, createOpts("vol1", true))
	require.NoError(t, err)
	rel, err = e.GetRelationshipInfo(ctx, "vol1", mock.Endpoint(secondaryCluster))
	require.NoError(t, err)
	assert.Equal(t, TypeGlobal, rel.ReplicationType())
	assert.Equal(t, "aux_vol1", rel.AuxVolume)

	sim.SetUnreachable(secondaryCluster, true)
	_, err = e.GetRelationshipInfo(ctx, "vol1", mock.Endpoint(secondaryCluster))
	assert.True(t, rcerrors.IsUnreachable(err))
}

func TestGetRelationship_DecodeFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Execute(gomock.Any(), array.MethodGetRelationship, gomock.Any(), array.DefaultAPIVersion, gomock.Nil()).
		Return(array.Result{"relationship": "not-an-object"}, nil)

	e := NewEngine(exec, Options{})
	_, err := e.GetRelationship(context.Background(), "rcrel_vol1", nil)
	var arrayErr *rcerrors.ErrArray
	assert.True(t, errors.As(err, &arrayErr))
}

func TestChangeCyclingMode(t *testing.T) {
	e, sim := newTestEngine(t)
	addReplicatedPair(sim, "vol1")
	ctx := context.Background()
	name, err := e.CreateRelationship(ctx, createOpts("vol1", true))
	require.NoError(t, err)

	// the raw change is refused while copying
	rel, err := e.GetRelationship(ctx, name, nil)
	require.NoError(t, err)
	assert.True(t, rcerrors.IsDriver(e.SetCyclingMode(ctx, rel, CyclingMulti, 300, nil)))

	require.NoError(t, e.ChangeCyclingMode(ctx, name, CyclingMulti, 300, nil))
	rel, err = e.GetRelationship(ctx, name, nil)
	require.NoError(t, err)
	assert.Equal(t, CyclingMulti, rel.CyclingMode)
	assert.Equal(t, ClassRunning, ClassOf(rel.State))

	methods := sim.Methods(func(c mock.Call) bool {
		return c.Method == array.MethodStopRelationship || c.Method == array.MethodModifyRelationship ||
			c.Method == array.MethodStartRelationship
	})
	assert.Equal(t, []string{
		array.MethodStartRelationship,
		array.MethodStopRelationship,
		array.MethodModifyRelationship,
		array.MethodStartRelationship,
	}, methods)
}

func TestDeleteRelationship(t *testing.T) {
	e, sim := newTestEngine(t)
	addReplicatedPair(sim, "vol1")
	ctx := context.Background()
	name, err := e.CreateRelationship(ctx, createOpts("vol1", false))
	require.NoError(t, err)

	require.NoError(t, e.DeleteRelationship(ctx, name, true, nil))
	assert.Nil(t, sim.Relationship(name))
	assert.NoError(t, e.DeleteRelationship(ctx, name, true, nil))
}

func TestWaitForSync(t *testing.T) {
	tests := []struct {
		name  string
		setup func(sim *mock.Array)
		check func(t *testing.T, err error)
	}{
		{
			name:  "synchronizes after polling",
			setup: func(sim *mock.Array) { sim.SyncPolls = 3 },
			check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:  "never synchronizes",
			setup: func(sim *mock.Array) { sim.InducedErrors.NeverSync = true },
			check: func(t *testing.T, err error) { assert.True(t, rcerrors.IsTimeout(err)) },
		},
		{
			name:  "disconnected is fatal",
			setup: func(sim *mock.Array) { sim.InducedErrors.Disconnect = true },
			check: func(t *testing.T, err error) {
				assert.True(t, rcerrors.IsDriver(err))
				assert.False(t, rcerrors.IsTimeout(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, sim := newTestEngine(t)
			addReplicatedPair(sim, "vol1")
			tt.setup(sim)
			name, err := e.CreateRelationship(context.Background(), createOpts("vol1", false))
			require.NoError(t, err)
			tt.check(t, e.WaitForSync(context.Background(), name, nil))
		})
	}
}

func TestVolumes(t *testing.T) {
	e, sim := newTestEngine(t)
	ctx := context.Background()
	ep := mock.Endpoint(secondaryCluster)

	require.NoError(t, e.CreateVolume(ctx, "aux_vol1", 10, "pool1", ep))
	require.NoError(t, e.CreateVolume(ctx, "aux_vol1", 10, "pool1", ep))
	require.NoError(t, e.ExpandVolume(ctx, "aux_vol1", 20, ep))
	vol, err := e.GetVolume(ctx, "aux_vol1", ep)
	require.NoError(t, err)
	assert.Equal(t, int64(20), vol.TotalSizeGiB)
	assert.Equal(t, "pool1", vol.Pool)

	require.NoError(t, e.DeleteVolume(ctx, "aux_vol1", ep))
	assert.Nil(t, sim.Volume(secondaryCluster, "aux_vol1"))
	assert.NoError(t, e.DeleteVolume(ctx, "aux_vol1", ep))
	vol, err = e.GetVolume(ctx, "aux_vol1", ep)
	assert.NoError(t, err)
	assert.Nil(t, vol)
}

func TestStateClass(t *testing.T) {
	tests := []struct {
		state State
		class StateClass
	}{
		{StateInconsistentCopying, ClassRunning},
		{StateConsistentSynchronized, ClassRunning},
		{StateConsistentStopped, ClassStopped},
		{StateIdling, ClassIdling},
		{StateIdlingDisconnected, ClassDisconnected},
		{StateEmpty, ClassEmpty},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.class, ClassOf(tt.state), string(tt.state))
	}
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"", "metro", "global", "gmcv"} {
		_, err := ParseType(s)
		assert.NoError(t, err)
	}
	_, err := ParseType("async")
	assert.Error(t, err)
	assert.True(t, TypeGMCV.Async())
	assert.Equal(t, CopyTypeMetro, TypeMetro.CopyType())
}
