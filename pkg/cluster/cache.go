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
	"sync"
	"time"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
)

// CapabilitiesCacheValidity is how long cluster capabilities are reused
var CapabilitiesCacheValidity = 5 * time.Minute

// CacheTime keep track of the validity of the lifetimes of the cached resources
type CacheTime struct {
	CreationTime  time.Time
	CacheValidity time.Duration
}

// IsValid checks if a cached resource is valid.
func (c *CacheTime) IsValid() bool {
	if c.CreationTime.IsZero() {
		return false
	}
	return time.Since(c.CreationTime) < c.CacheValidity
}

// Set sets the expiry of a cached resource.
func (c *CacheTime) Set(validity time.Duration) {
	c.CreationTime = time.Now()
	c.CacheValidity = validity
}

// Reset invalidates the cached resource
func (c *CacheTime) Reset() {
	c.CreationTime = time.Time{}
}

// Capabilities are the pool statistics and replication flags reported for
// the active cluster.
type Capabilities struct {
	BackendID          string
	ClusterName        string
	Pool               string
	TotalCapacityGiB   int64
	FreeCapacityGiB    int64
	ReplicationEnabled bool
	ReplicationTargets []string
	FetchedAt          time.Time
}

type clusterCapacity struct {
	TotalCapacityGiB int64 `json:"totalCapacityGiB"`
	UsedCapacityGiB  int64 `json:"usedCapacityGiB"`
}

// CapabilitiesCache holds the last capabilities read from one cluster
type CapabilitiesCache struct {
	lock sync.Mutex
	caps *Capabilities
	time CacheTime
	key  string
}

// Get returns the cached capabilities of c, reading them when stale or
// when the cache holds another cluster.
func (cache *CapabilitiesCache) Get(ctx context.Context, exec array.Executor, c *Cluster, replicationTargets []string) (*Capabilities, error) {
	cache.lock.Lock()
	defer cache.lock.Unlock()
	if cache.time.IsValid() && cache.key == c.BackendID {
		return cache.caps, nil
	}
	res, err := exec.Execute(ctx, array.MethodGetClusterCapacity, array.Params{"pool": c.Pool}, "", c.Endpoint)
	if err != nil {
		return nil, err
	}
	capacity := clusterCapacity{}
	if err := res.DecodeKey("clusterCapacity", &capacity); err != nil {
		return nil, err
	}
	caps := &Capabilities{
		BackendID:          c.BackendID,
		ClusterName:        c.Name,
		Pool:               c.Pool,
		TotalCapacityGiB:   capacity.TotalCapacityGiB,
		FreeCapacityGiB:    capacity.TotalCapacityGiB - capacity.UsedCapacityGiB,
		ReplicationEnabled: len(replicationTargets) > 0,
		ReplicationTargets: replicationTargets,
		FetchedAt:          time.Now(),
	}
	cache.caps = caps
	cache.key = c.BackendID
	cache.time.Set(CapabilitiesCacheValidity)
	return caps, nil
}

// Invalidate forces the next Get to read from the array
func (cache *CapabilitiesCache) Invalidate() {
	cache.lock.Lock()
	defer cache.lock.Unlock()
	cache.time.Reset()
}
