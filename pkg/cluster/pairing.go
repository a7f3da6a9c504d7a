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
	"time"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"
	"github.com/dell/csi-remotecopy/v2/pkg/poll"

	log "github.com/sirupsen/logrus"
)

// PairStatusConnected is the status of a usable cluster pairing
const PairStatusConnected = "Connected"

// Default bounds of the wait for a pairing to connect
const (
	DefaultPairingTimeout  = 5 * time.Minute
	DefaultPairingInterval = 5 * time.Second
)

// PairingOptions bound the wait for a pairing to connect
type PairingOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Pair is one side of a cluster pairing
type Pair struct {
	ClusterPairID string `json:"clusterPairID"`
	ClusterName   string `json:"clusterName"`
	ClusterUUID   string `json:"clusterUUID"`
	Status        string `json:"status"`
}

// ListPairs returns the pairings of src
func ListPairs(ctx context.Context, exec array.Executor, src *Cluster) ([]Pair, error) {
	res, err := exec.Execute(ctx, array.MethodListClusterPairs, nil, "", src.Endpoint)
	if err != nil {
		log.Errorf("Unable to list cluster pairs of %s: %s", src.BackendID, err.Error())
		return nil, err
	}
	var pairs []Pair
	if _, ok := res["clusterPairs"]; !ok {
		return pairs, nil
	}
	if err := res.DecodeKey("clusterPairs", &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

func findPair(pairs []Pair, uuid string) *Pair {
	for i := range pairs {
		if pairs[i].ClusterUUID == uuid {
			return &pairs[i]
		}
	}
	return nil
}

// EnsurePairing pairs src with dst unless they are already paired and waits
// until the pairing is connected. The pair id is returned.
func EnsurePairing(ctx context.Context, exec array.Executor, src, dst *Cluster, opts PairingOptions) (string, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPairingTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPairingInterval
	}
	if err := src.ResolveIdentity(ctx, exec); err != nil {
		return "", err
	}
	if err := dst.ResolveIdentity(ctx, exec); err != nil {
		return "", err
	}
	fields := log.Fields{"source": src.BackendID, "destination": dst.BackendID}

	pairs, err := ListPairs(ctx, exec, src)
	if err != nil {
		return "", err
	}
	pair := findPair(pairs, dst.UUID)
	if pair != nil && pair.Status == PairStatusConnected {
		log.WithFields(fields).Debugf("Clusters already paired (%s)", pair.ClusterPairID)
		return pair.ClusterPairID, nil
	}
	if pair == nil {
		log.WithFields(fields).Info("Pairing clusters")
		res, err := exec.Execute(ctx, array.MethodStartClusterPairing, nil, "", src.Endpoint)
		if err != nil {
			log.WithFields(fields).Errorf("StartClusterPairing failed: %s", err.Error())
			return "", err
		}
		key, _ := res["clusterPairingKey"].(string)
		if key == "" {
			return "", rcerrors.Driverf("cluster %s returned no pairing key", src.BackendID)
		}
		_, err = exec.Execute(ctx, array.MethodCompleteClusterPairing, array.Params{"clusterPairingKey": key}, "", dst.Endpoint)
		if err != nil && !rcerrors.IsAlreadyExists(err) {
			log.WithFields(fields).Errorf("CompleteClusterPairing failed: %s", err.Error())
			return "", err
		}
	}

	var pairID string
	err = poll.Until(ctx, poll.Options{
		Operation: "pairing of " + src.BackendID + " with " + dst.BackendID,
		Interval:  opts.Interval,
		Timeout:   opts.Timeout,
	}, func(ctx context.Context) (bool, error) {
		pairs, err := ListPairs(ctx, exec, src)
		if err != nil {
			return false, err
		}
		p := findPair(pairs, dst.UUID)
		if p == nil {
			return false, nil
		}
		pairID = p.ClusterPairID
		return p.Status == PairStatusConnected, nil
	})
	if err != nil {
		return "", err
	}
	log.WithFields(fields).Infof("Cluster pairing %s is connected", pairID)
	return pairID, nil
}
