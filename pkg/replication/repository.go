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

	log "github.com/sirupsen/logrus"
)

// Repository reads relationship and group state from the arrays
type Repository struct {
	exec    array.Executor
	version string
}

// NewRepository returns a repository issuing commands through exec
func NewRepository(exec array.Executor, apiVersion string) *Repository {
	return &Repository{exec: exec, version: apiVersion}
}

func (r *Repository) execute(ctx context.Context, method string, params array.Params, ep *array.Endpoint) (array.Result, error) {
	return r.exec.Execute(ctx, method, params, r.version, ep)
}

// GetRelationshipInfo returns the relationship of a master volume, or nil
// when the volume is not replicated.
func (r *Repository) GetRelationshipInfo(ctx context.Context, volumeName string, ep *array.Endpoint) (*RelationshipInfo, error) {
	return r.GetRelationship(ctx, RelationshipName(volumeName), ep)
}

// GetRelationship returns a relationship by name, or nil when it does not exist
func (r *Repository) GetRelationship(ctx context.Context, name string, ep *array.Endpoint) (*RelationshipInfo, error) {
	res, err := r.execute(ctx, array.MethodGetRelationship, array.Params{"name": name}, ep)
	if err != nil {
		if rcerrors.IsNotFound(err) {
			return nil, nil
		}
		log.Errorf("Failed to query relationship %s on %s: %s", name, ep.Key(), err.Error())
		return nil, err
	}
	info := &RelationshipInfo{}
	if err := res.DecodeKey("relationship", info); err != nil {
		log.Errorf("Unable to decode relationship %s: %s", name, err.Error())
		return nil, &rcerrors.ErrArray{Method: array.MethodGetRelationship, Code: rcerrors.CodeUnknown, Message: err.Error()}
	}
	return info, nil
}

// GetConsistencyGroupInfo returns a consistency group by name, or nil when it
// does not exist.
func (r *Repository) GetConsistencyGroupInfo(ctx context.Context, groupName string, ep *array.Endpoint) (*GroupInfo, error) {
	res, err := r.execute(ctx, array.MethodGetConsistencyGroup, array.Params{"name": groupName}, ep)
	if err != nil {
		if rcerrors.IsNotFound(err) {
			return nil, nil
		}
		log.Errorf("Failed to query consistency group %s on %s: %s", groupName, ep.Key(), err.Error())
		return nil, err
	}
	info := &GroupInfo{}
	if err := res.DecodeKey("consistencyGroup", info); err != nil {
		log.Errorf("Unable to decode consistency group %s: %s", groupName, err.Error())
		return nil, &rcerrors.ErrArray{Method: array.MethodGetConsistencyGroup, Code: rcerrors.CodeUnknown, Message: err.Error()}
	}
	if info.RelationshipCount == 0 && len(info.Relationships) > 0 {
		info.RelationshipCount = len(info.Relationships)
	}
	return info, nil
}
