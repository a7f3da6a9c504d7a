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

package array

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// DefaultAPIVersion is used when a caller does not pin a version
const DefaultAPIVersion = "9.0"

// Relationship and consistency group commands
const (
	MethodGetRelationship            = "GetRemoteCopyRelationship"
	MethodCreateRelationship         = "CreateRemoteCopyRelationship"
	MethodStartRelationship          = "StartRemoteCopyRelationship"
	MethodStopRelationship           = "StopRemoteCopyRelationship"
	MethodSwitchRelationship         = "SwitchRemoteCopyRelationship"
	MethodModifyRelationship         = "ModifyRemoteCopyRelationship"
	MethodDeleteRelationship         = "DeleteRemoteCopyRelationship"
	MethodGetConsistencyGroup        = "GetRemoteCopyConsistencyGroup"
	MethodCreateConsistencyGroup     = "CreateRemoteCopyConsistencyGroup"
	MethodStartConsistencyGroup      = "StartRemoteCopyConsistencyGroup"
	MethodStopConsistencyGroup       = "StopRemoteCopyConsistencyGroup"
	MethodSwitchConsistencyGroup     = "SwitchRemoteCopyConsistencyGroup"
	MethodModifyConsistencyGroup     = "ModifyRemoteCopyConsistencyGroup"
	MethodDeleteConsistencyGroup     = "DeleteRemoteCopyConsistencyGroup"
	MethodGetClusterInfo             = "GetClusterInfo"
	MethodGetClusterCapacity         = "GetClusterCapacity"
	MethodListClusterPairs           = "ListClusterPairs"
	MethodStartClusterPairing        = "StartClusterPairing"
	MethodCompleteClusterPairing     = "CompleteClusterPairing"
	MethodGetVolume                  = "GetVolume"
	MethodCreateVolume               = "CreateVolume"
	MethodExpandVolume               = "ExpandVolume"
	MethodModifyVolume               = "ModifyVolume"
	MethodDeleteVolume               = "DeleteVolume"
	MethodPurgeDeletedVolume         = "PurgeDeletedVolume"
	MethodGetAccountByName           = "GetAccountByName"
	MethodAddAccount                 = "AddAccount"
	MethodStartVolumePairing         = "StartVolumePairing"
	MethodCompleteVolumePairing      = "CompleteVolumePairing"
	MethodListActivePairedVolumes    = "ListActivePairedVolumes"
	MethodRemoveVolumePair           = "RemoveVolumePair"
)

// Params are the named parameters of a command
type Params map[string]interface{}

// Result is the structured payload of a successful command
type Result map[string]interface{}

// Decode copies the result into a typed struct using its json tags
func (r Result) Decode(v interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]interface{}(r))
}

// DecodeKey decodes a single top-level key of the result
func (r Result) DecodeKey(key string, v interface{}) error {
	raw, ok := r[key]
	if !ok {
		return fmt.Errorf("result has no %s", key)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// Endpoint identifies a cluster management address and its credentials
type Endpoint struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClusterUUID string `json:"clusterUUID"`
}

// Address returns host:port
func (e *Endpoint) Address() string {
	if e == nil {
		return ""
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Key returns a stable identifier for the endpoint
func (e *Endpoint) Key() string {
	if e == nil {
		return "primary"
	}
	if e.Name != "" {
		return e.Name
	}
	return e.Address()
}

// Executor sends a named operation to an array endpoint.
// A nil endpoint targets the primary cluster of the executor. Failures are
// returned as *errors.ErrArray or *errors.ErrBackendUnreachable.
//
//go:generate mockgen -destination=mocks/executor.go -package=mocks github.com/dell/csi-remotecopy/v2/pkg/array Executor
type Executor interface {
	Execute(ctx context.Context, method string, params Params, version string, endpoint *Endpoint) (Result, error)
}

// HealthReporter is implemented by executors that track endpoint health
type HealthReporter interface {
	Healthy(endpoint *Endpoint) bool
}
