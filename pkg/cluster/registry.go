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

package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dell/csi-remotecopy/v2/pkg/array"

	log "github.com/sirupsen/logrus"
)

// Cluster is one array cluster known to the backend
type Cluster struct {
	// BackendID is the configured id of the backend served by the cluster
	BackendID string
	// Name is the cluster name used in relationship commands
	Name     string
	UUID     string
	Pool     string
	Endpoint *array.Endpoint
}

type clusterInfo struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// ResolveIdentity fills in the cluster name and UUID from the array when
// they were not configured.
func (c *Cluster) ResolveIdentity(ctx context.Context, exec array.Executor) error {
	if c.Name != "" && c.UUID != "" {
		return nil
	}
	res, err := exec.Execute(ctx, array.MethodGetClusterInfo, nil, "", c.Endpoint)
	if err != nil {
		log.Errorf("Unable to read identity of cluster %s: %s", c.BackendID, err.Error())
		return err
	}
	info := clusterInfo{}
	if err := res.DecodeKey("clusterInfo", &info); err != nil {
		return err
	}
	if c.Name == "" {
		c.Name = info.Name
	}
	if c.UUID == "" {
		c.UUID = info.UUID
	}
	if c.Endpoint != nil && c.Endpoint.ClusterUUID == "" {
		c.Endpoint.ClusterUUID = c.UUID
	}
	return nil
}

// Registry holds the clusters known to the backend keyed by backend id
type Registry struct {
	clusters *sync.Map
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{clusters: &sync.Map{}}
}

// Add registers a cluster
func (r *Registry) Add(c *Cluster) error {
	if c.BackendID == "" {
		return fmt.Errorf("cluster %s has no backend id", c.Name)
	}
	if _, loaded := r.clusters.LoadOrStore(c.BackendID, c); loaded {
		return fmt.Errorf("cluster: %s already added to the configuration", c.BackendID)
	}
	return nil
}

// Get returns a cluster by backend id
func (r *Registry) Get(backendID string) (*Cluster, error) {
	val, ok := r.clusters.Load(backendID)
	if ok {
		return val.(*Cluster), nil
	}
	return nil, fmt.Errorf("cluster: %s not found", backendID)
}

// ByUUID returns the cluster with the given UUID
func (r *Registry) ByUUID(uuid string) (*Cluster, bool) {
	var found *Cluster
	r.clusters.Range(func(_, value interface{}) bool {
		c := value.(*Cluster)
		if c.UUID == uuid {
			found = c
			return false
		}
		return true
	})
	return found, found != nil
}

// List returns the registered clusters ordered by backend id
func (r *Registry) List() []*Cluster {
	var out []*Cluster
	r.clusters.Range(func(_, value interface{}) bool {
		out = append(out, value.(*Cluster))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].BackendID < out[j].BackendID })
	return out
}
