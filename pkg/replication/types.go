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

// Package replication drives remote-copy relationships and consistency
// groups between a master and an auxiliary cluster.
package replication

import "fmt"

// CopyType is the copy technology of a relationship
type CopyType string

// Copy types
const (
	CopyTypeMetro  = CopyType("metro")
	CopyTypeGlobal = CopyType("global")
)

// Type is the replication type requested for a volume
type Type string

// Replication types
const (
	TypeNone   = Type("")
	TypeMetro  = Type("metro")
	TypeGlobal = Type("global")
	TypeGMCV   = Type("gmcv")
)

// ParseType validates a replication type string
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeNone, TypeMetro, TypeGlobal, TypeGMCV:
		return Type(s), nil
	}
	return TypeNone, fmt.Errorf("invalid replication type %q", s)
}

// Async reports whether the type replicates asynchronously
func (t Type) Async() bool {
	return t == TypeGlobal || t == TypeGMCV
}

// CopyType returns the relationship copy type implementing t
func (t Type) CopyType() CopyType {
	if t == TypeMetro {
		return CopyTypeMetro
	}
	return CopyTypeGlobal
}

// State is the array-reported state of a relationship or group
type State string

// Relationship and group states
const (
	StateInconsistentStopped      = State("inconsistent_stopped")
	StateInconsistentCopying      = State("inconsistent_copying")
	StateConsistentStopped        = State("consistent_stopped")
	StateConsistentCopying        = State("consistent_copying")
	StateConsistentSynchronized   = State("consistent_synchronized")
	StateIdling                   = State("idling")
	StateIdlingDisconnected       = State("idling_disconnected")
	StateConsistentDisconnected   = State("consistent_disconnected")
	StateInconsistentDisconnected = State("inconsistent_disconnected")
	StateEmpty                    = State("empty")
)

// StateClass groups states that are equivalent for group membership
type StateClass string

// State classes
const (
	ClassRunning      = StateClass("running")
	ClassStopped      = StateClass("stopped")
	ClassIdling       = StateClass("idling")
	ClassDisconnected = StateClass("disconnected")
	ClassEmpty        = StateClass("empty")
)

// ClassOf returns the state class of s
func ClassOf(s State) StateClass {
	switch s {
	case StateInconsistentCopying, StateConsistentCopying, StateConsistentSynchronized:
		return ClassRunning
	case StateInconsistentStopped, StateConsistentStopped:
		return ClassStopped
	case StateIdling:
		return ClassIdling
	case StateIdlingDisconnected, StateConsistentDisconnected, StateInconsistentDisconnected:
		return ClassDisconnected
	}
	return ClassEmpty
}

// Role is the side of a relationship that accepts writes
type Role string

// Roles
const (
	RoleMaster = Role("master")
	RoleAux    = Role("aux")
)

// CyclingMode of a global relationship
type CyclingMode string

// Cycling modes
const (
	CyclingNone  = CyclingMode("none")
	CyclingMulti = CyclingMode("multi")
)

// Name prefixes of objects created on behalf of a volume
const (
	RelationshipPrefix    = "rcrel_"
	AuxVolumePrefix       = "aux_"
	ChangeVolumePrefix    = "chg_"
	AuxChangeVolumePrefix = "aux_chg_"
	GroupPrefix           = "rccg_"
)

// RelationshipName returns the relationship name used for a master volume
func RelationshipName(masterVolume string) string {
	return RelationshipPrefix + masterVolume
}

// AuxVolumeName returns the auxiliary volume name of a master volume
func AuxVolumeName(masterVolume string) string {
	return AuxVolumePrefix + masterVolume
}

// ChangeVolumeNames returns the master and aux change volume names of a master volume
func ChangeVolumeNames(masterVolume string) (string, string) {
	return ChangeVolumePrefix + masterVolume, AuxChangeVolumePrefix + masterVolume
}

// GroupName returns the consistency group name used for a volume group
func GroupName(groupID string) string {
	return GroupPrefix + groupID
}

// RelationshipInfo is the state of one remote-copy relationship
type RelationshipInfo struct {
	Name               string      `json:"name"`
	ID                 string      `json:"id"`
	MasterVolume       string      `json:"masterVolume"`
	AuxVolume          string      `json:"auxVolume"`
	MasterCluster      string      `json:"masterCluster"`
	AuxCluster         string      `json:"auxCluster"`
	CopyType           CopyType    `json:"copyType"`
	State              State       `json:"state"`
	Primary            Role        `json:"primary"`
	CyclingMode        CyclingMode `json:"cyclingMode"`
	CyclePeriodSeconds int         `json:"cyclePeriodSeconds"`
	MasterChangeVolume string      `json:"masterChangeVolume"`
	AuxChangeVolume    string      `json:"auxChangeVolume"`
	ConsistencyGroup   string      `json:"consistencyGroup"`
	Progress           int         `json:"progress"`
}

// ReplicationType derives the volume replication type of the relationship
func (r *RelationshipInfo) ReplicationType() Type {
	switch {
	case r.CopyType == CopyTypeMetro:
		return TypeMetro
	case r.CyclingMode == CyclingMulti:
		return TypeGMCV
	}
	return TypeGlobal
}

// Synchronized reports whether the auxiliary holds a usable copy
func (r *RelationshipInfo) Synchronized() bool {
	return synchronized(r.State, r.CyclingMode)
}

func synchronized(state State, mode CyclingMode) bool {
	if state == StateConsistentSynchronized {
		return true
	}
	return mode == CyclingMulti && state == StateConsistentCopying
}

// GroupInfo is the state of one remote-copy consistency group
type GroupInfo struct {
	Name               string      `json:"name"`
	MasterCluster      string      `json:"masterCluster"`
	AuxCluster         string      `json:"auxCluster"`
	CopyType           CopyType    `json:"copyType"`
	State              State       `json:"state"`
	Primary            Role        `json:"primary"`
	CyclingMode        CyclingMode `json:"cyclingMode"`
	CyclePeriodSeconds int         `json:"cyclePeriodSeconds"`
	RelationshipCount  int         `json:"relationshipCount"`
	Relationships      []string    `json:"relationships"`
}

// Empty reports whether the group has no members
func (g *GroupInfo) Empty() bool {
	return g.RelationshipCount == 0
}

// Synchronized reports whether every member holds a usable copy
func (g *GroupInfo) Synchronized() bool {
	return synchronized(g.State, g.CyclingMode)
}
