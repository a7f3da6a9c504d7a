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

// VolumeInfo is the array view of a volume
type VolumeInfo struct {
	VolumeID     string `json:"volumeID"`
	Name         string `json:"name"`
	AccountID    string `json:"accountID"`
	TotalSizeGiB int64  `json:"totalSizeGiB"`
	Pool         string `json:"pool"`
	Access       string `json:"access"`
	Status       string `json:"status"`
	ClusterUUID  string `json:"clusterUUID"`
}

// GetVolume returns a volume by name, or nil when it does not exist
func (r *Repository) GetVolume(ctx context.Context, name string, ep *array.Endpoint) (*VolumeInfo, error) {
	res, err := r.execute(ctx, array.MethodGetVolume, array.Params{"name": name}, ep)
	if err != nil {
		if rcerrors.IsNotFound(err) {
			return nil, nil
		}
		log.Errorf("Failed to query volume %s on %s: %s", name, ep.Key(), err.Error())
		return nil, err
	}
	vol := &VolumeInfo{}
	if err := res.DecodeKey("volume", vol); err != nil {
		return nil, &rcerrors.ErrArray{Method: array.MethodGetVolume, Code: rcerrors.CodeUnknown, Message: err.Error()}
	}
	return vol, nil
}

// CreateVolume provisions a volume. An existing volume of the same name is reused.
func (e *Engine) CreateVolume(ctx context.Context, name string, sizeGiB int64, pool string, ep *array.Endpoint) error {
	_, err := e.execute(ctx, array.MethodCreateVolume, array.Params{
		"name":         name,
		"totalSizeGiB": sizeGiB,
		"pool":         pool,
	}, ep)
	if err != nil {
		if rcerrors.IsAlreadyExists(err) {
			log.Debugf("Volume %s already exists on %s", name, ep.Key())
			return nil
		}
		log.Errorf("Failed to create volume %s (%d GiB) on %s: %s", name, sizeGiB, ep.Key(), err.Error())
		return err
	}
	log.Infof("Created volume %s (%d GiB) on %s", name, sizeGiB, ep.Key())
	return nil
}

// ExpandVolume grows a volume to sizeGiB
func (e *Engine) ExpandVolume(ctx context.Context, name string, sizeGiB int64, ep *array.Endpoint) error {
	if _, err := e.execute(ctx, array.MethodExpandVolume, array.Params{"name": name, "totalSizeGiB": sizeGiB}, ep); err != nil {
		log.Errorf("Failed to expand volume %s to %d GiB on %s: %s", name, sizeGiB, ep.Key(), err.Error())
		return err
	}
	return nil
}

// DeleteVolume deletes and purges a volume. A missing volume is not an error.
func (e *Engine) DeleteVolume(ctx context.Context, name string, ep *array.Endpoint) error {
	for _, method := range []string{array.MethodDeleteVolume, array.MethodPurgeDeletedVolume} {
		if _, err := e.execute(ctx, method, array.Params{"name": name}, ep); err != nil {
			if rcerrors.IsNotFound(err) {
				log.Debugf("Volume %s not found on %s during %s", name, ep.Key(), method)
				return nil
			}
			log.Errorf("%s of %s on %s failed: %s", method, name, ep.Key(), err.Error())
			return err
		}
	}
	log.Infof("Deleted volume %s on %s", name, ep.Key())
	return nil
}
