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

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"
	"github.com/dell/csi-remotecopy/v2/pkg/poll"

	log "github.com/sirupsen/logrus"
)

// Coordinator manages consistency groups of relationships
type Coordinator struct {
	*Engine
}

// NewCoordinator returns a coordinator sharing the engine's executor
func NewCoordinator(engine *Engine) *Coordinator {
	return &Coordinator{Engine: engine}
}

// CreateGroup creates a consistency group targeting targetCluster. An
// existing group of the same name is reused.
func (c *Coordinator) CreateGroup(ctx context.Context, name, targetCluster string, ep *array.Endpoint) error {
	_, err := c.execute(ctx, array.MethodCreateConsistencyGroup, array.Params{"name": name, "auxCluster": targetCluster}, ep)
	if err != nil {
		if rcerrors.IsAlreadyExists(err) {
			log.Debugf("Consistency group %s already exists", name)
			return nil
		}
		log.Errorf("Failed to create consistency group %s: %s", name, err.Error())
		return err
	}
	log.Infof("Created consistency group %s targeting %s", name, targetCluster)
	return nil
}

// CheckConformance verifies that rel may join grp. A group without members
// accepts any relationship.
func CheckConformance(rel *RelationshipInfo, grp *GroupInfo) error {
	if grp.Empty() {
		return nil
	}
	switch {
	case rel.CopyType != grp.CopyType:
		return rcerrors.Driverf("relationship %s has copy type %s but group %s has %s", rel.Name, rel.CopyType, grp.Name, grp.CopyType)
	case ClassOf(rel.State) != ClassOf(grp.State):
		return rcerrors.Driverf("relationship %s is %s but group %s is %s", rel.Name, rel.State, grp.Name, grp.State)
	case rel.Primary != grp.Primary:
		return rcerrors.Driverf("relationship %s has primary %s but group %s has %s", rel.Name, rel.Primary, grp.Name, grp.Primary)
	case cycling(rel.CyclingMode) != cycling(grp.CyclingMode):
		return rcerrors.Driverf("relationship %s has cycling mode %s but group %s has %s", rel.Name, rel.CyclingMode, grp.Name, grp.CyclingMode)
	case rel.CyclingMode == CyclingMulti && rel.CyclePeriodSeconds != grp.CyclePeriodSeconds:
		return rcerrors.Driverf("relationship %s has cycle period %d but group %s has %d", rel.Name, rel.CyclePeriodSeconds, grp.Name, grp.CyclePeriodSeconds)
	}
	return nil
}

func cycling(mode CyclingMode) CyclingMode {
	if mode == "" {
		return CyclingNone
	}
	return mode
}

// AddRelationshipToGroup adds a conforming relationship to a group. Neither
// side is modified when they do not conform.
func (c *Coordinator) AddRelationshipToGroup(ctx context.Context, relName, groupName string, ep *array.Endpoint) error {
	rel, err := c.GetRelationship(ctx, relName, ep)
	if err != nil {
		return err
	}
	if rel == nil {
		log.Errorf("Relationship %s does not exist", relName)
		return rcerrors.Driverf("relationship %s does not exist", relName)
	}
	grp, err := c.GetConsistencyGroupInfo(ctx, groupName, ep)
	if err != nil {
		return err
	}
	if grp == nil {
		log.Errorf("Consistency group %s does not exist", groupName)
		return rcerrors.Driverf("consistency group %s does not exist", groupName)
	}
	if rel.ConsistencyGroup == groupName {
		return nil
	}
	if rel.ConsistencyGroup != "" {
		log.Errorf("Relationship %s already belongs to %s", relName, rel.ConsistencyGroup)
		return rcerrors.Driverf("relationship %s already belongs to consistency group %s", relName, rel.ConsistencyGroup)
	}
	if err := CheckConformance(rel, grp); err != nil {
		log.Errorf("Cannot add %s to %s: %s", relName, groupName, err.Error())
		return err
	}
	if grp.Empty() && (cycling(grp.CyclingMode) != cycling(rel.CyclingMode) || grp.CyclePeriodSeconds != rel.CyclePeriodSeconds) {
		params := array.Params{"name": groupName, "cyclingMode": string(cycling(rel.CyclingMode))}
		if rel.CyclePeriodSeconds > 0 {
			params["cyclePeriodSeconds"] = rel.CyclePeriodSeconds
		}
		if _, err := c.execute(ctx, array.MethodModifyConsistencyGroup, params, ep); err != nil {
			log.Errorf("Failed to align cycling mode of %s with %s: %s", groupName, relName, err.Error())
			return err
		}
	}
	if err := c.setGroup(ctx, relName, groupName, ep); err != nil {
		if rcerrors.IsInGroup(err) {
			return rcerrors.Driverf("relationship %s already belongs to a consistency group", relName)
		}
		return err
	}
	log.Infof("Added relationship %s to consistency group %s", relName, groupName)
	return nil
}

// RemoveRelationshipFromGroup detaches a relationship from its group
func (c *Coordinator) RemoveRelationshipFromGroup(ctx context.Context, relName string, ep *array.Endpoint) error {
	if err := c.setGroup(ctx, relName, "", ep); err != nil {
		if rcerrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	log.Infof("Removed relationship %s from its consistency group", relName)
	return nil
}

// groupForOp returns the group, or nil when it has nothing to act on
func (c *Coordinator) groupForOp(ctx context.Context, name, op string, ep *array.Endpoint) (*GroupInfo, error) {
	grp, err := c.GetConsistencyGroupInfo(ctx, name, ep)
	if err != nil {
		return nil, err
	}
	if grp == nil {
		log.Errorf("Consistency group %s does not exist", name)
		return nil, rcerrors.Driverf("consistency group %s does not exist", name)
	}
	if grp.Empty() {
		log.Infof("Consistency group %s has no relationships; skipping %s", name, op)
		return nil, nil
	}
	return grp, nil
}

// StartGroup starts every member of the group with the given primary
func (c *Coordinator) StartGroup(ctx context.Context, name string, primary Role, force bool, ep *array.Endpoint) error {
	grp, err := c.groupForOp(ctx, name, "start", ep)
	if err != nil || grp == nil {
		return err
	}
	params := array.Params{"name": name, "force": force}
	if primary != "" {
		params["primary"] = string(primary)
	}
	if _, err := c.execute(ctx, array.MethodStartConsistencyGroup, params, ep); err != nil {
		log.Errorf("Failed to start consistency group %s: %s", name, err.Error())
		return err
	}
	return nil
}

// StopGroup stops every member. With access the auxiliaries become writable.
func (c *Coordinator) StopGroup(ctx context.Context, name string, access bool, ep *array.Endpoint) error {
	grp, err := c.groupForOp(ctx, name, "stop", ep)
	if err != nil || grp == nil {
		return err
	}
	if _, err := c.execute(ctx, array.MethodStopConsistencyGroup, array.Params{"name": name, "access": access}, ep); err != nil {
		log.Errorf("Failed to stop consistency group %s: %s", name, err.Error())
		return err
	}
	return nil
}

// SwitchGroup reverses the copy direction of every member
func (c *Coordinator) SwitchGroup(ctx context.Context, name string, primary Role, ep *array.Endpoint) error {
	grp, err := c.groupForOp(ctx, name, "switch", ep)
	if err != nil || grp == nil {
		return err
	}
	if _, err := c.execute(ctx, array.MethodSwitchConsistencyGroup, array.Params{"name": name, "primary": string(primary)}, ep); err != nil {
		log.Errorf("Failed to switch consistency group %s to primary %s: %s", name, primary, err.Error())
		return err
	}
	return nil
}

// DeleteGroup removes a group. Member relationships are kept. A missing
// group is not an error.
func (c *Coordinator) DeleteGroup(ctx context.Context, name string, ep *array.Endpoint) error {
	if _, err := c.execute(ctx, array.MethodDeleteConsistencyGroup, array.Params{"name": name}, ep); err != nil {
		if rcerrors.IsNotFound(err) {
			return nil
		}
		log.Errorf("Failed to delete consistency group %s: %s", name, err.Error())
		return err
	}
	log.Infof("Deleted consistency group %s", name)
	return nil
}

// WaitForGroupSync polls until every member of the group is synchronized
func (c *Coordinator) WaitForGroupSync(ctx context.Context, name string, ep *array.Endpoint) error {
	return poll.Until(ctx, poll.Options{
		Operation: "sync of consistency group " + name,
		Interval:  c.opts.PollInterval,
		Timeout:   c.opts.SyncTimeout,
	}, func(ctx context.Context) (bool, error) {
		grp, err := c.GetConsistencyGroupInfo(ctx, name, ep)
		if err != nil {
			return false, err
		}
		if grp == nil {
			return false, rcerrors.Driverf("consistency group %s does not exist", name)
		}
		if grp.Empty() {
			return true, nil
		}
		if grp.State == StateIdlingDisconnected {
			log.Errorf("Consistency group %s is %s", name, grp.State)
			return false, rcerrors.Driverf("consistency group %s is %s", name, grp.State)
		}
		return grp.Synchronized(), nil
	})
}
