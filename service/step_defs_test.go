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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/dell/csi-remotecopy/v2/pkg/array/mock"
	"github.com/dell/csi-remotecopy/v2/pkg/replication"
	"golang.org/x/net/context"
)

type feature struct {
	lastTime time.Time
	driver   *Driver
	sim      *mock.Array
	state    *MemoryStateStore
	cancel   context.CancelFunc
	err      error // return from the preceeding call
	volumes  map[string]*Volume
	groups   map[string]*Group
	activeID string
	updates  map[string]ModelUpdate
	groupUpd map[string]ModelUpdate
	migrated bool
}

func (f *feature) aRemoteCopyService() error {
	// print the duration of the last operation, so we can tell which tests are slow
	now := time.Now()
	if f.lastTime.IsZero() {
		fmt.Printf("startup time: %v\n", now.Sub(testStartTime))
	} else {
		fmt.Printf("time for last op: %v\n", now.Sub(f.lastTime))
	}
	f.lastTime = now
	if f.cancel != nil {
		f.cancel()
	}
	f.err = nil
	f.volumes = make(map[string]*Volume)
	f.groups = make(map[string]*Group)
	f.updates = make(map[string]ModelUpdate)
	f.groupUpd = make(map[string]ModelUpdate)
	f.activeID = ""
	f.migrated = false

	f.sim = mock.New(primaryName, targetName, tertiaryName)
	f.state = NewMemoryStateStore("")
	d, err := New(testOpts(), f.sim, f.state)
	if err != nil {
		return err
	}
	var ctx context.Context
	ctx, f.cancel = context.WithCancel(context.Background())
	if err := d.BeforeServe(ctx); err != nil {
		return err
	}
	f.driver = d
	return nil
}

func (f *feature) aReplicatedVolume(repType, name string) error {
	t, err := replication.ParseType(repType)
	if err != nil {
		return err
	}
	f.sim.AddVolume(primaryName, name, 10)
	vol := &Volume{
		ID:              "id-" + name,
		Name:            name,
		Account:         "tenant1",
		SizeGiB:         10,
		Status:          VolumeAvailable,
		ReplicationType: t,
	}
	update, err := f.driver.CreateReplica(context.Background(), vol, ReplicationSpec{Type: t})
	if err != nil {
		return err
	}
	vol.ReplicationStatus = update.ReplicationStatus
	f.volumes[name] = vol
	return nil
}

func (f *feature) aVolume(name string) error {
	f.sim.AddVolume(primaryName, name, 10)
	f.volumes[name] = &Volume{ID: "id-" + name, Name: name, Account: "tenant1", SizeGiB: 10, Status: VolumeAvailable}
	return nil
}

func (f *feature) aReplicatedGroupWith(repType, id, names string) error {
	t, err := replication.ParseType(repType)
	if err != nil {
		return err
	}
	group := &Group{ID: id, ReplicationEnabled: true, ReplicationType: t}
	var members []*Volume
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if err := f.aReplicatedVolume(repType, name); err != nil {
			return err
		}
		f.volumes[name].GroupID = id
		members = append(members, f.volumes[name])
	}
	update, _, err := f.driver.EnableGroupReplication(context.Background(), group, members)
	if err != nil {
		return err
	}
	group.ReplicationStatus = update.Updates.ReplicationStatus
	f.groups[id] = group
	return nil
}

func (f *feature) iInduceError(induced string) error {
	switch induced {
	case "none":
	case "NeverSync":
		f.sim.InducedErrors.NeverSync = true
	case "Disconnect":
		f.sim.InducedErrors.Disconnect = true
	case "VolumePairNeverActive":
		f.sim.InducedErrors.VolumePairNeverActive = true
	case "StateStoreError":
		f.state.SetError = errors.New("induced state store error")
	default:
		f.sim.FailMethod(induced, true)
	}
	return nil
}

func (f *feature) clusterIsUnreachable(name string) error {
	f.sim.SetUnreachable(name, true)
	return nil
}

func (f *feature) volumeList() []*Volume {
	var volumes []*Volume
	for _, v := range f.volumes {
		volumes = append(volumes, v)
	}
	return volumes
}

func (f *feature) groupList() []*Group {
	var groups []*Group
	for _, g := range f.groups {
		groups = append(groups, g)
	}
	return groups
}

func (f *feature) iCallFailoverHostTo(secondaryID string) error {
	var volumeUpdates []VolumeUpdate
	var groupUpdates []GroupUpdate
	f.activeID, volumeUpdates, groupUpdates, f.err = f.driver.FailoverHost(context.Background(), f.volumeList(), secondaryID, f.groupList())
	for _, u := range volumeUpdates {
		f.updates[strings.TrimPrefix(u.VolumeID, "id-")] = u.Updates
		for _, v := range f.volumes {
			if v.ID == u.VolumeID {
				if u.Updates.Status != "" {
					v.Status = u.Updates.Status
				}
				if u.Updates.ReplicationStatus != "" {
					v.ReplicationStatus = u.Updates.ReplicationStatus
				}
				if u.Updates.ReplicationDriverData != nil {
					v.ReplicationDriverData = u.Updates.ReplicationDriverData
				}
			}
		}
	}
	for _, u := range groupUpdates {
		f.groupUpd[u.GroupID] = u.Updates
	}
	return nil
}

func (f *feature) iCallFailoverGroupReplicationTo(id, secondaryID string) error {
	group, ok := f.groups[id]
	if !ok {
		return fmt.Errorf("unknown group %s", id)
	}
	var members []*Volume
	for _, v := range f.volumes {
		if v.GroupID == id {
			members = append(members, v)
		}
	}
	var update *GroupUpdate
	update, _, f.err = f.driver.FailoverGroupReplication(context.Background(), group, members, secondaryID)
	if update != nil {
		f.groupUpd[id] = update.Updates
	}
	return nil
}

func (f *feature) iCallRetypeReplicationFromTo(name, from, to string) error {
	vol, ok := f.volumes[name]
	if !ok {
		return fmt.Errorf("unknown volume %s", name)
	}
	oldSpec, err := ParseReplicationSpec(map[string]string{SpecReplicationType: from})
	if err != nil {
		return err
	}
	newSpec, err := ParseReplicationSpec(map[string]string{SpecReplicationType: to})
	if err != nil {
		return err
	}
	var update *ModelUpdate
	update, f.err = f.driver.RetypeReplication(context.Background(), vol, oldSpec, newSpec)
	if update != nil {
		f.updates[name] = *update
		vol.ReplicationType = newSpec.Type
	}
	return nil
}

func (f *feature) iCallExtendVolumeTo(name string, sizeGiB int) error {
	vol, ok := f.volumes[name]
	if !ok {
		return fmt.Errorf("unknown volume %s", name)
	}
	f.err = f.driver.ExtendVolume(context.Background(), vol, int64(sizeGiB))
	if f.err == nil {
		vol.SizeGiB = int64(sizeGiB)
	}
	return nil
}

func (f *feature) iCallMigrateVolumeTo(name, host string) error {
	vol, ok := f.volumes[name]
	if !ok {
		return fmt.Errorf("unknown volume %s", name)
	}
	var update *ModelUpdate
	f.migrated, update, f.err = f.driver.MigrateVolume(context.Background(), vol, host)
	if update != nil {
		f.updates[name] = *update
	}
	return nil
}

func (f *feature) theErrorContains(arg1 string) error {
	// If arg1 is none, we expect no error, any error received is unexpected
	if arg1 == "none" {
		if f.err == nil {
			return nil
		}
		return fmt.Errorf("Unexpected error: %s", f.err)
	}
	if f.err == nil {
		return fmt.Errorf("Expected error to contain %s but no error", arg1)
	}
	// Allow for multiple possible matches, separated by @@
	for _, possibleMatch := range strings.Split(arg1, "@@") {
		if strings.Contains(f.err.Error(), possibleMatch) {
			return nil
		}
	}
	return fmt.Errorf("Expected error to contain %s but it was %s", arg1, f.err.Error())
}

func (f *feature) theActiveBackendIs(id string) error {
	if got := f.driver.ActiveBackendID(); got != id {
		return fmt.Errorf("expected active backend %q but found %q", id, got)
	}
	if f.activeID != id {
		return fmt.Errorf("expected FailoverHost to report %q but it reported %q", id, f.activeID)
	}
	stored, _ := f.state.GetActiveBackendID(context.Background())
	if stored != id {
		return fmt.Errorf("expected persisted backend %q but found %q", id, stored)
	}
	return nil
}

func (f *feature) volumeHasReplicationStatus(name, status string) error {
	update, ok := f.updates[name]
	if !ok {
		return fmt.Errorf("no update returned for volume %s", name)
	}
	if string(update.ReplicationStatus) != status {
		return fmt.Errorf("expected volume %s to be %s but it is %s", name, status, update.ReplicationStatus)
	}
	return nil
}

func (f *feature) volumeHasStatus(name, status string) error {
	update, ok := f.updates[name]
	if !ok {
		return fmt.Errorf("no update returned for volume %s", name)
	}
	if update.Status != status {
		return fmt.Errorf("expected volume %s status %s but it is %s", name, status, update.Status)
	}
	return nil
}

func (f *feature) groupHasReplicationStatus(id, status string) error {
	update, ok := f.groupUpd[id]
	if !ok {
		return fmt.Errorf("no update returned for group %s", id)
	}
	if string(update.ReplicationStatus) != status {
		return fmt.Errorf("expected group %s to be %s but it is %s", id, status, update.ReplicationStatus)
	}
	return nil
}

func (f *feature) relationshipIsInState(name, state string) error {
	rel := f.sim.Relationship(replication.RelationshipName(name))
	if rel == nil {
		return fmt.Errorf("no relationship for volume %s", name)
	}
	if rel.State != state {
		return fmt.Errorf("expected relationship of %s in %s but it is %s", name, state, rel.State)
	}
	return nil
}

func (f *feature) relationshipHasCyclingMode(name, mode string) error {
	rel := f.sim.Relationship(replication.RelationshipName(name))
	if rel == nil {
		return fmt.Errorf("no relationship for volume %s", name)
	}
	if rel.CyclingMode != mode {
		return fmt.Errorf("expected cycling mode %s on %s but found %s", mode, name, rel.CyclingMode)
	}
	return nil
}

func (f *feature) volumeOnClusterHasSize(name, clusterName string, sizeGiB int) error {
	vol := f.sim.Volume(clusterName, name)
	if vol == nil {
		return fmt.Errorf("volume %s not found on %s", name, clusterName)
	}
	if vol.TotalSizeGiB != int64(sizeGiB) {
		return fmt.Errorf("expected %s on %s to be %d GiB but it is %d GiB", name, clusterName, sizeGiB, vol.TotalSizeGiB)
	}
	return nil
}

func (f *feature) theVolumeIsMigrated(expected string) error {
	want := expected == "true"
	if f.migrated != want {
		return fmt.Errorf("expected migrated %v but it was %v", want, f.migrated)
	}
	return nil
}

func (f *feature) volumeExistsOn(name, clusterName string) error {
	if f.sim.Volume(clusterName, name) == nil {
		return fmt.Errorf("volume %s not found on %s", name, clusterName)
	}
	return nil
}

func (f *feature) volumeDoesNotExistOn(name, clusterName string) error {
	if f.sim.Volume(clusterName, name) != nil {
		return fmt.Errorf("volume %s unexpectedly found on %s", name, clusterName)
	}
	return nil
}

func FeatureContext(s *godog.ScenarioContext) {
	f := &feature{}
	s.Step(`^a remote copy service$`, f.aRemoteCopyService)
	s.Step(`^a "([^"]*)" replicated volume "([^"]*)"$`, f.aReplicatedVolume)
	s.Step(`^a volume "([^"]*)"$`, f.aVolume)
	s.Step(`^a "([^"]*)" replicated group "([^"]*)" with "([^"]*)"$`, f.aReplicatedGroupWith)
	s.Step(`^I induce error "([^"]*)"$`, f.iInduceError)
	s.Step(`^cluster "([^"]*)" is unreachable$`, f.clusterIsUnreachable)
	s.Step(`^I call FailoverHost to "([^"]*)"$`, f.iCallFailoverHostTo)
	s.Step(`^I call FailoverGroupReplication "([^"]*)" to "([^"]*)"$`, f.iCallFailoverGroupReplicationTo)
	s.Step(`^I call RetypeReplication "([^"]*)" from "([^"]*)" to "([^"]*)"$`, f.iCallRetypeReplicationFromTo)
	s.Step(`^I call ExtendVolume "([^"]*)" to (\d+)$`, f.iCallExtendVolumeTo)
	s.Step(`^I call MigrateVolume "([^"]*)" to "([^"]*)"$`, f.iCallMigrateVolumeTo)
	s.Step(`^the error contains "([^"]*)"$`, f.theErrorContains)
	s.Step(`^the active backend is "([^"]*)"$`, f.theActiveBackendIs)
	s.Step(`^volume "([^"]*)" has replication status "([^"]*)"$`, f.volumeHasReplicationStatus)
	s.Step(`^volume "([^"]*)" has status "([^"]*)"$`, f.volumeHasStatus)
	s.Step(`^group "([^"]*)" has replication status "([^"]*)"$`, f.groupHasReplicationStatus)
	s.Step(`^the relationship of "([^"]*)" is "([^"]*)"$`, f.relationshipIsInState)
	s.Step(`^the relationship of "([^"]*)" has cycling mode "([^"]*)"$`, f.relationshipHasCyclingMode)
	s.Step(`^volume "([^"]*)" on "([^"]*)" has (\d+) GiB$`, f.volumeOnClusterHasSize)
	s.Step(`^the volume is migrated "([^"]*)"$`, f.theVolumeIsMigrated)
	s.Step(`^volume "([^"]*)" exists on "([^"]*)"$`, f.volumeExistsOn)
	s.Step(`^volume "([^"]*)" does not exist on "([^"]*)"$`, f.volumeDoesNotExistOn)
}
