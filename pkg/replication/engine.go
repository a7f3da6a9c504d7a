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
	"time"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"
	"github.com/dell/csi-remotecopy/v2/pkg/poll"

	log "github.com/sirupsen/logrus"
)

// Default convergence bounds
const (
	DefaultSyncTimeout  = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// Options configure an Engine
type Options struct {
	APIVersion   string
	SyncTimeout  time.Duration
	PollInterval time.Duration
}

// Engine creates and drives single-volume relationships
type Engine struct {
	*Repository
	opts Options
}

// NewEngine returns an engine issuing commands through exec
func NewEngine(exec array.Executor, opts Options) *Engine {
	if opts.APIVersion == "" {
		opts.APIVersion = array.DefaultAPIVersion
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Engine{
		Repository: NewRepository(exec, opts.APIVersion),
		opts:       opts,
	}
}

// Options returns the effective options of the engine
func (e *Engine) Options() Options {
	return e.opts
}

// CreateOptions describe a new relationship
type CreateOptions struct {
	MasterVolume  string
	AuxVolume     string
	TargetCluster string
	Async         bool
	CyclingMode   CyclingMode
	// Change volumes are only used when CyclingMode is multi
	MasterChangeVolume string
	AuxChangeVolume    string
	CyclePeriodSeconds int
	// Endpoint of the master cluster, nil for the primary
	Endpoint *array.Endpoint
}

// CreateRelationship creates and starts the relationship of a master volume.
// An existing relationship of the same name is reused.
func (e *Engine) CreateRelationship(ctx context.Context, opts CreateOptions) (string, error) {
	name := RelationshipName(opts.MasterVolume)
	fields := log.Fields{"relationship": name, "master": opts.MasterVolume, "aux": opts.AuxVolume, "target": opts.TargetCluster}
	log.WithFields(fields).Info("Creating remote copy relationship")

	res, err := e.execute(ctx, array.MethodCreateRelationship, array.Params{
		"name":         name,
		"masterVolume": opts.MasterVolume,
		"auxVolume":    opts.AuxVolume,
		"auxCluster":   opts.TargetCluster,
		"async":        opts.Async,
	}, opts.Endpoint)
	if err != nil {
		if !rcerrors.IsAlreadyExists(err) {
			log.WithFields(fields).Errorf("Failed to create relationship: %s", err.Error())
			return "", err
		}
		existing, err := e.GetRelationship(ctx, name, opts.Endpoint)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", rcerrors.Driverf("relationship %s reported as existing but could not be found", name)
		}
		log.WithFields(fields).Infof("Relationship already exists in state %s", existing.State)
		if ClassOf(existing.State) == ClassStopped && existing.ConsistencyGroup == "" {
			if err := e.StartRelationship(ctx, existing.Name, existing.Primary, false, opts.Endpoint); err != nil {
				return "", err
			}
		}
		return existing.Name, nil
	}
	if created, ok := res["name"].(string); ok && created != "" {
		name = created
	}

	if opts.MasterChangeVolume != "" {
		mode := opts.CyclingMode
		if mode == "" {
			mode = CyclingMulti
		}
		params := array.Params{"name": name, "cyclingMode": string(mode)}
		if opts.CyclePeriodSeconds > 0 {
			params["cyclePeriodSeconds"] = opts.CyclePeriodSeconds
		}
		if _, err := e.execute(ctx, array.MethodModifyRelationship, params, opts.Endpoint); err != nil {
			log.WithFields(fields).Errorf("Failed to set cycling mode: %s", err.Error())
			return "", err
		}
		if err := e.SetChangeVolume(ctx, name, RoleMaster, opts.MasterChangeVolume, opts.Endpoint); err != nil {
			return "", err
		}
		if opts.AuxChangeVolume != "" {
			if err := e.SetChangeVolume(ctx, name, RoleAux, opts.AuxChangeVolume, opts.Endpoint); err != nil {
				return "", err
			}
		}
	}
	if err := e.StartRelationship(ctx, name, RoleMaster, false, opts.Endpoint); err != nil {
		return "", err
	}
	return name, nil
}

// StartRelationship starts copying with the given primary
func (e *Engine) StartRelationship(ctx context.Context, name string, primary Role, force bool, ep *array.Endpoint) error {
	params := array.Params{"name": name, "force": force}
	if primary != "" {
		params["primary"] = string(primary)
	}
	if _, err := e.execute(ctx, array.MethodStartRelationship, params, ep); err != nil {
		log.Errorf("Failed to start relationship %s with primary %s: %s", name, primary, err.Error())
		return err
	}
	log.Debugf("Started relationship %s with primary %s", name, primary)
	return nil
}

// StopRelationship stops copying. With access the auxiliary becomes writable.
func (e *Engine) StopRelationship(ctx context.Context, name string, access bool, ep *array.Endpoint) error {
	if _, err := e.execute(ctx, array.MethodStopRelationship, array.Params{"name": name, "access": access}, ep); err != nil {
		log.Errorf("Failed to stop relationship %s (access=%t): %s", name, access, err.Error())
		return err
	}
	log.Debugf("Stopped relationship %s (access=%t)", name, access)
	return nil
}

// SwitchRelationship reverses the copy direction of a synchronized relationship
func (e *Engine) SwitchRelationship(ctx context.Context, name string, primary Role, ep *array.Endpoint) error {
	if _, err := e.execute(ctx, array.MethodSwitchRelationship, array.Params{"name": name, "primary": string(primary)}, ep); err != nil {
		log.Errorf("Failed to switch relationship %s to primary %s: %s", name, primary, err.Error())
		return err
	}
	log.Debugf("Switched relationship %s to primary %s", name, primary)
	return nil
}

// SetCyclingMode changes the cycling mode of a stopped relationship
func (e *Engine) SetCyclingMode(ctx context.Context, rel *RelationshipInfo, mode CyclingMode, periodSeconds int, ep *array.Endpoint) error {
	if ClassOf(rel.State) == ClassRunning {
		log.Errorf("Relationship %s is %s; it must be stopped before changing cycling mode", rel.Name, rel.State)
		return rcerrors.Driverf("relationship %s must be stopped before changing cycling mode", rel.Name)
	}
	params := array.Params{"name": rel.Name, "cyclingMode": string(mode)}
	if periodSeconds > 0 {
		params["cyclePeriodSeconds"] = periodSeconds
	}
	if _, err := e.execute(ctx, array.MethodModifyRelationship, params, ep); err != nil {
		log.Errorf("Failed to set cycling mode %s on %s: %s", mode, rel.Name, err.Error())
		return err
	}
	return nil
}

// ChangeCyclingMode stops the relationship, changes its cycling mode and
// restarts it with its current primary.
func (e *Engine) ChangeCyclingMode(ctx context.Context, name string, mode CyclingMode, periodSeconds int, ep *array.Endpoint) error {
	rel, err := e.GetRelationship(ctx, name, ep)
	if err != nil {
		return err
	}
	if rel == nil {
		log.Errorf("Relationship %s does not exist", name)
		return rcerrors.Driverf("relationship %s does not exist", name)
	}
	if rel.ConsistencyGroup != "" {
		return rcerrors.Driverf("relationship %s is in consistency group %s", name, rel.ConsistencyGroup)
	}
	if ClassOf(rel.State) == ClassRunning {
		if err := e.StopRelationship(ctx, name, false, ep); err != nil {
			return err
		}
		if rel, err = e.GetRelationship(ctx, name, ep); err != nil {
			return err
		}
		if rel == nil {
			return rcerrors.Driverf("relationship %s disappeared while stopping", name)
		}
	}
	if err := e.SetCyclingMode(ctx, rel, mode, periodSeconds, ep); err != nil {
		return err
	}
	return e.StartRelationship(ctx, name, rel.Primary, false, ep)
}

// SetCyclePeriod changes the cycle period of a relationship
func (e *Engine) SetCyclePeriod(ctx context.Context, name string, periodSeconds int, ep *array.Endpoint) error {
	if _, err := e.execute(ctx, array.MethodModifyRelationship, array.Params{"name": name, "cyclePeriodSeconds": periodSeconds}, ep); err != nil {
		log.Errorf("Failed to set cycle period of %s: %s", name, err.Error())
		return err
	}
	return nil
}

// SetChangeVolume attaches a change volume to one side of a relationship.
// An empty volume detaches it.
func (e *Engine) SetChangeVolume(ctx context.Context, name string, side Role, volume string, ep *array.Endpoint) error {
	key := "masterChangeVolume"
	if side == RoleAux {
		key = "auxChangeVolume"
	}
	if _, err := e.execute(ctx, array.MethodModifyRelationship, array.Params{"name": name, key: volume}, ep); err != nil {
		log.Errorf("Failed to set %s change volume of %s to %q: %s", side, name, volume, err.Error())
		return err
	}
	return nil
}

// DeleteRelationship removes a relationship. A missing relationship is not an error.
func (e *Engine) DeleteRelationship(ctx context.Context, name string, force bool, ep *array.Endpoint) error {
	if _, err := e.execute(ctx, array.MethodDeleteRelationship, array.Params{"name": name, "force": force}, ep); err != nil {
		if rcerrors.IsNotFound(err) {
			log.Debugf("Relationship %s already deleted", name)
			return nil
		}
		log.Errorf("Failed to delete relationship %s: %s", name, err.Error())
		return err
	}
	log.Infof("Deleted relationship %s", name)
	return nil
}

// WaitForSync polls until the relationship is synchronized. A disconnected
// relationship fails the wait immediately.
func (e *Engine) WaitForSync(ctx context.Context, name string, ep *array.Endpoint) error {
	return poll.Until(ctx, poll.Options{
		Operation: "sync of relationship " + name,
		Interval:  e.opts.PollInterval,
		Timeout:   e.opts.SyncTimeout,
	}, func(ctx context.Context) (bool, error) {
		rel, err := e.GetRelationship(ctx, name, ep)
		if err != nil {
			return false, err
		}
		if rel == nil {
			return false, rcerrors.Driverf("relationship %s does not exist", name)
		}
		if rel.State == StateIdlingDisconnected {
			log.Errorf("Relationship %s is %s", name, rel.State)
			return false, rcerrors.Driverf("relationship %s is %s", name, rel.State)
		}
		log.Debugf("Relationship %s is %s (%d%%)", name, rel.State, rel.Progress)
		return rel.Synchronized(), nil
	})
}
