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

	"github.com/dell/csi-remotecopy/v2/pkg/migration"

	log "github.com/sirupsen/logrus"
)

// MigrateVolume moves volume to the cluster serving host. It returns false
// without doing anything when the move is not an inter-cluster migration
// this driver can perform, leaving it to the generic migration path.
func (d *Driver) MigrateVolume(ctx context.Context, volume *Volume, host string) (bool, *ModelUpdate, error) {
	ctx = withRequestID(ctx)
	fields := getLogFields(ctx)
	fields["volume"] = volume.Name
	fields["host"] = host

	backendID := parseHost(host)
	active := d.clusters.Active()
	if active.FailedOver() {
		log.WithFields(fields).Infof("Backend is failed over to %s; not migrating", active.BackendID)
		return false, nil, nil
	}
	if volume.Replicated() {
		log.WithFields(fields).Info("Replicated volumes are not migrated between clusters")
		return false, nil, nil
	}
	dest, err := d.clusters.Registry().Get(backendID)
	if err != nil {
		log.WithFields(fields).Infof("Backend %q is not a known cluster; not migrating", backendID)
		return false, nil, nil
	}
	if dest == active.Cluster {
		log.WithFields(fields).Info("Destination is the active cluster; not migrating")
		return false, nil, nil
	}

	unlock := d.lock(ctx, "volume/"+volume.ID)
	defer unlock()

	log.WithFields(fields).Infof("Migrating volume from %s to %s", active.BackendID, dest.BackendID)
	res, err := d.migrator.Migrate(ctx, active.Cluster, dest, migration.Volume{
		Name:    volume.Name,
		Account: volume.Account,
	})
	if err != nil {
		log.WithFields(fields).Errorf("Migration failed: %s", err.Error())
		return false, nil, err
	}
	log.WithFields(fields).Infof("Volume migrated as %s", res.ProviderID())
	return true, &ModelUpdate{ProviderID: res.ProviderID()}, nil
}
