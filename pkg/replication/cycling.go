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
	"github.com/dell/csi-remotecopy/v2/pkg/metrics"

	log "github.com/sirupsen/logrus"
)

// DefaultCyclePeriodSeconds is used when a cycling relationship has no period
const DefaultCyclePeriodSeconds = 300

// ChangeVolumeOptions locate the change volumes of a master volume
type ChangeVolumeOptions struct {
	MasterVolume   string
	SizeGiB        int64
	MasterPool     string
	AuxPool        string
	MasterEndpoint *array.Endpoint
	AuxEndpoint    *array.Endpoint
}

// CreateChangeVolumes provisions the master and aux change volumes
func (e *Engine) CreateChangeVolumes(ctx context.Context, opts ChangeVolumeOptions) (string, string, error) {
	master, aux := ChangeVolumeNames(opts.MasterVolume)
	if err := e.CreateVolume(ctx, master, opts.SizeGiB, opts.MasterPool, opts.MasterEndpoint); err != nil {
		return "", "", err
	}
	if err := e.CreateVolume(ctx, aux, opts.SizeGiB, opts.AuxPool, opts.AuxEndpoint); err != nil {
		return "", "", err
	}
	return master, aux, nil
}

// DeleteChangeVolumes removes both change volumes. Missing volumes are ignored.
func (e *Engine) DeleteChangeVolumes(ctx context.Context, opts ChangeVolumeOptions) error {
	master, aux := ChangeVolumeNames(opts.MasterVolume)
	if err := e.DeleteVolume(ctx, master, opts.MasterEndpoint); err != nil {
		return err
	}
	return e.DeleteVolume(ctx, aux, opts.AuxEndpoint)
}

// ConvertOptions describe a conversion of a global relationship to cycling
type ConvertOptions struct {
	ChangeVolumeOptions
	AuxVolume          string
	NewSizeGiB         int64
	OldSizeGiB         int64
	CyclePeriodSeconds int
	// GroupName is the consistency group the relationship is re-added to
	GroupName string
}

// ConvertToCycling moves a global relationship to cycling mode with change
// volumes sized to NewSizeGiB and resumes it. When that fails part way the
// conversion is retried once at OldSizeGiB so the relationship ends up in a
// cycling configuration; the original error is returned either way.
func (e *Engine) ConvertToCycling(ctx context.Context, opts ConvertOptions) error {
	err := e.convert(ctx, opts, opts.NewSizeGiB)
	if err == nil {
		return nil
	}
	name := RelationshipName(opts.MasterVolume)
	log.Errorf("Conversion of %s to cycling at %d GiB failed: %s; retrying at %d GiB", name, opts.NewSizeGiB, err.Error(), opts.OldSizeGiB)
	metrics.CyclingCompensations.Inc()
	if cerr := e.convert(ctx, opts, opts.OldSizeGiB); cerr != nil {
		log.Errorf("Compensating conversion of %s at %d GiB failed, cycling configuration is incomplete: %s", name, opts.OldSizeGiB, cerr.Error())
	} else {
		log.Warnf("Relationship %s was converted to cycling at its previous size of %d GiB", name, opts.OldSizeGiB)
	}
	return err
}

func (e *Engine) convert(ctx context.Context, opts ConvertOptions, sizeGiB int64) error {
	name := RelationshipName(opts.MasterVolume)
	ep := opts.MasterEndpoint
	rel, err := e.GetRelationship(ctx, name, ep)
	if err != nil {
		return err
	}
	if rel == nil {
		return rcerrors.Driverf("relationship %s does not exist", name)
	}
	if rel.CopyType != CopyTypeGlobal {
		return rcerrors.Driverf("relationship %s has copy type %s, only global relationships can cycle", name, rel.CopyType)
	}
	group := opts.GroupName
	if group == "" {
		group = rel.ConsistencyGroup
	}
	if rel.ConsistencyGroup != "" {
		if err := e.setGroup(ctx, name, "", ep); err != nil {
			return err
		}
	}
	if ClassOf(rel.State) == ClassRunning {
		if err := e.StopRelationship(ctx, name, false, ep); err != nil {
			return err
		}
	}
	if rel.MasterChangeVolume != "" {
		if err := e.SetChangeVolume(ctx, name, RoleMaster, "", ep); err != nil {
			return err
		}
	}
	if rel.AuxChangeVolume != "" {
		if err := e.SetChangeVolume(ctx, name, RoleAux, "", ep); err != nil {
			return err
		}
	}
	cvOpts := opts.ChangeVolumeOptions
	cvOpts.SizeGiB = sizeGiB
	if err := e.DeleteChangeVolumes(ctx, cvOpts); err != nil {
		return err
	}
	masterCV, auxCV, err := e.CreateChangeVolumes(ctx, cvOpts)
	if err != nil {
		return err
	}

	period := opts.CyclePeriodSeconds
	if period <= 0 {
		period = rel.CyclePeriodSeconds
	}
	if period <= 0 {
		period = DefaultCyclePeriodSeconds
	}
	if rel, err = e.GetRelationship(ctx, name, ep); err != nil {
		return err
	}
	if rel == nil {
		return rcerrors.Driverf("relationship %s disappeared during conversion", name)
	}
	if err := e.SetCyclingMode(ctx, rel, CyclingMulti, period, ep); err != nil {
		return err
	}
	if err := e.SetChangeVolume(ctx, name, RoleMaster, masterCV, ep); err != nil {
		return err
	}
	if err := e.SetChangeVolume(ctx, name, RoleAux, auxCV, ep); err != nil {
		return err
	}
	if group != "" {
		if err := e.setGroup(ctx, name, group, ep); err != nil {
			return err
		}
		_, err := e.execute(ctx, array.MethodStartConsistencyGroup, array.Params{"name": group, "primary": string(rel.Primary)}, ep)
		if err != nil {
			log.Errorf("Failed to resume consistency group %s: %s", group, err.Error())
		}
		return err
	}
	return e.StartRelationship(ctx, name, rel.Primary, false, ep)
}

// setGroup moves a relationship into group, or out of its group when group is empty
func (e *Engine) setGroup(ctx context.Context, name, group string, ep *array.Endpoint) error {
	if _, err := e.execute(ctx, array.MethodModifyRelationship, array.Params{"name": name, "consistencyGroup": group}, ep); err != nil {
		log.Errorf("Failed to set consistency group of %s to %q: %s", name, group, err.Error())
		return err
	}
	return nil
}
