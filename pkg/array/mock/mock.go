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

// Package mock is an in-memory multi-cluster array used by the orchestration
// tests. It implements array.Executor.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dell/csi-remotecopy/v2/pkg/array"
	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"

	log "github.com/sirupsen/logrus"
)

// Relationship states used by the simulator
const (
	StateInconsistentStopped    = "inconsistent_stopped"
	StateInconsistentCopying    = "inconsistent_copying"
	StateConsistentStopped      = "consistent_stopped"
	StateConsistentCopying      = "consistent_copying"
	StateConsistentSynchronized = "consistent_synchronized"
	StateIdling                 = "idling"
	StateIdlingDisconnected     = "idling_disconnected"
	StateEmpty                  = "empty"
)

// Volume is a volume on one cluster
type Volume struct {
	VolumeID     string `json:"volumeID"`
	Name         string `json:"name"`
	AccountID    string `json:"accountID"`
	TotalSizeGiB int64  `json:"totalSizeGiB"`
	Pool         string `json:"pool"`
	Access       string `json:"access"`
	Status       string `json:"status"`
	ClusterUUID  string `json:"clusterUUID"`
}

// Account is a tenant account on one cluster
type Account struct {
	AccountID string `json:"accountID"`
	Username  string `json:"username"`
}

// ClusterPair is one side of a cluster pairing
type ClusterPair struct {
	ClusterPairID string `json:"clusterPairID"`
	ClusterName   string `json:"clusterName"`
	ClusterUUID   string `json:"clusterUUID"`
	Status        string `json:"status"`

	pendingPolls int
}

// VolumePair is one side of a volume pairing
type VolumePair struct {
	RemoteVolumeID string `json:"remoteVolumeID"`
	RemoteCluster  string `json:"remoteCluster"`
	Mode           string `json:"mode"`
	State          string `json:"state"`

	pendingPolls int
	target       bool
}

// Cluster holds the objects that live on a single array
type Cluster struct {
	Name        string
	UUID        string
	CapacityGiB int64
	Volumes     map[string]*Volume
	Accounts    map[string]*Account
	Pairs       map[string]*ClusterPair
	VolumePairs map[string]*VolumePair
}

// Relationship is a remote-copy relationship visible from both clusters
type Relationship struct {
	Name               string `json:"name"`
	ID                 string `json:"id"`
	MasterVolume       string `json:"masterVolume"`
	AuxVolume          string `json:"auxVolume"`
	MasterCluster      string `json:"masterCluster"`
	AuxCluster         string `json:"auxCluster"`
	CopyType           string `json:"copyType"`
	State              string `json:"state"`
	Primary            string `json:"primary"`
	CyclingMode        string `json:"cyclingMode"`
	CyclePeriodSeconds int    `json:"cyclePeriodSeconds"`
	MasterChangeVolume string `json:"masterChangeVolume"`
	AuxChangeVolume    string `json:"auxChangeVolume"`
	ConsistencyGroup   string `json:"consistencyGroup"`
	Progress           int    `json:"progress"`

	pendingPolls int
}

// Group is a remote-copy consistency group
type Group struct {
	Name               string   `json:"name"`
	MasterCluster      string   `json:"masterCluster"`
	AuxCluster         string   `json:"auxCluster"`
	CopyType           string   `json:"copyType"`
	State              string   `json:"state"`
	Primary            string   `json:"primary"`
	CyclingMode        string   `json:"cyclingMode"`
	CyclePeriodSeconds int      `json:"cyclePeriodSeconds"`
	RelationshipCount  int      `json:"relationshipCount"`
	Relationships      []string `json:"relationships"`
}

// Call records one executed command
type Call struct {
	Method   string
	Endpoint string
	Params   array.Params
}

// InducedErrors toggles failures in the simulator
type InducedErrors struct {
	// Unreachable clusters by name
	Unreachable map[string]bool
	// Methods fail with a generic array error
	Methods map[string]bool
	// ResetAfterFirstError clears a method failure once it has fired
	ResetAfterFirstError bool
	// NeverSync keeps started relationships copying
	NeverSync bool
	// Disconnect moves started relationships to idling_disconnected
	Disconnect bool
	// PairingNeverConnects keeps cluster pairings in PausedDisconnected
	PairingNeverConnects bool
	// VolumePairNeverActive keeps volume pairings from converging
	VolumePairNeverActive bool
}

// Array simulates a set of clusters that can replicate to one another
type Array struct {
	mu sync.Mutex

	primary       string
	Clusters      map[string]*Cluster
	Relationships map[string]*Relationship
	Groups        map[string]*Group
	InducedErrors InducedErrors
	// SyncPolls is how many status reads a started relationship stays copying
	SyncPolls int
	// PairingPolls is how many list calls a new cluster pairing stays pending
	PairingPolls int

	pairingKeys map[string][2]string
	calls       []Call
	nextID      int
}

// New returns a simulator with one cluster per name. The first name is the
// cluster addressed by a nil endpoint.
func New(clusters ...string) *Array {
	a := &Array{}
	a.Reset(clusters...)
	return a
}

// Reset clears all objects, errors and the call log
func (a *Array) Reset(clusters ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Clusters = make(map[string]*Cluster)
	for i, name := range clusters {
		if i == 0 {
			a.primary = name
		}
		a.Clusters[name] = &Cluster{
			Name:        name,
			UUID:        fmt.Sprintf("uuid-%s", name),
			CapacityGiB: 10240,
			Volumes:     make(map[string]*Volume),
			Accounts:    make(map[string]*Account),
			Pairs:       make(map[string]*ClusterPair),
			VolumePairs: make(map[string]*VolumePair),
		}
	}
	a.Relationships = make(map[string]*Relationship)
	a.Groups = make(map[string]*Group)
	a.InducedErrors = InducedErrors{
		Unreachable: make(map[string]bool),
		Methods:     make(map[string]bool),
	}
	a.pairingKeys = make(map[string][2]string)
	a.calls = nil
	a.nextID = 0
	a.SyncPolls = 0
	a.PairingPolls = 0
}

// Endpoint returns an endpoint addressing the named cluster
func Endpoint(name string) *array.Endpoint {
	return &array.Endpoint{
		Name:        name,
		Host:        name + ".local",
		Port:        443,
		Username:    "admin",
		Password:    "password",
		ClusterUUID: fmt.Sprintf("uuid-%s", name),
	}
}

// SetUnreachable marks a cluster as unreachable
func (a *Array) SetUnreachable(cluster string, unreachable bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.InducedErrors.Unreachable[cluster] = unreachable
}

// FailMethod makes every call of method fail until cleared
func (a *Array) FailMethod(method string, fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.InducedErrors.Methods[method] = fail
}

// Calls returns a copy of the call log
func (a *Array) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// Methods returns the methods of the call log that match filter, in order
func (a *Array) Methods(filter func(Call) bool) []string {
	var out []string
	for _, c := range a.Calls() {
		if filter == nil || filter(c) {
			out = append(out, c.Method)
		}
	}
	return out
}

// MutatingCalls counts calls that are not reads
func (a *Array) MutatingCalls() int {
	n := 0
	for _, c := range a.Calls() {
		switch c.Method {
		case array.MethodGetRelationship, array.MethodGetConsistencyGroup, array.MethodGetClusterInfo,
			array.MethodGetClusterCapacity, array.MethodListClusterPairs, array.MethodGetVolume,
			array.MethodGetAccountByName, array.MethodListActivePairedVolumes:
			continue
		}
		n++
	}
	return n
}

// AddVolume creates a volume directly on a cluster
func (a *Array) AddVolume(cluster, name string, sizeGiB int64) *Volume {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.Clusters[cluster]
	return a.newVolume(c, name, "", sizeGiB, "")
}

// Volume returns a volume by name, or nil
func (a *Array) Volume(cluster, name string) *Volume {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.Clusters[cluster]
	if !ok {
		return nil
	}
	return c.Volumes[name]
}

// Relationship returns a relationship by name, or nil
func (a *Array) Relationship(name string) *Relationship {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Relationships[name]
}

// Group returns a group by name, or nil
func (a *Array) Group(name string) *Group {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Groups[name]
}

// hasError reports and optionally clears an induced method failure
func (a *Array) hasError(method string) bool {
	if a.InducedErrors.Methods[method] {
		if a.InducedErrors.ResetAfterFirstError {
			a.InducedErrors.Methods[method] = false
			a.InducedErrors.ResetAfterFirstError = false
		}
		return true
	}
	return false
}

func fail(method string, code rcerrors.Code, format string, args ...interface{}) error {
	return &rcerrors.ErrArray{Method: method, Code: code, Message: fmt.Sprintf(format, args...)}
}

// toResult converts v into the plain map form a JSON-RPC transport returns
func toResult(v interface{}) array.Result {
	out := array.Result{}
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("mock: unable to encode result: %s", err.Error())
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

func str(p array.Params, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func boolean(p array.Params, key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func integer(p array.Params, key string) int64 {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		i, _ := strconv.ParseInt(v, 10, 64)
		return i
	}
	return 0
}

func (a *Array) newID() string {
	a.nextID++
	return strconv.Itoa(a.nextID)
}

func (a *Array) newVolume(c *Cluster, name, accountID string, sizeGiB int64, pool string) *Volume {
	v := &Volume{
		VolumeID:     a.newID(),
		Name:         name,
		AccountID:    accountID,
		TotalSizeGiB: sizeGiB,
		Pool:         pool,
		Access:       "readWrite",
		Status:       "active",
		ClusterUUID:  c.UUID,
	}
	c.Volumes[name] = v
	return v
}

// Execute implements array.Executor
func (a *Array) Execute(_ context.Context, method string, params array.Params, _ string, endpoint *array.Endpoint) (array.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if params == nil {
		params = array.Params{}
	}
	name := a.primary
	if endpoint != nil {
		name = endpoint.Key()
	}
	a.calls = append(a.calls, Call{Method: method, Endpoint: name, Params: params})
	c, ok := a.Clusters[name]
	if !ok || a.InducedErrors.Unreachable[name] {
		return nil, &rcerrors.ErrBackendUnreachable{Endpoint: name, Cause: fmt.Errorf("connection refused")}
	}
	if a.hasError(method) {
		return nil, fail(method, rcerrors.CodeUnknown, "induced error")
	}

	switch method {
	case array.MethodGetRelationship:
		return a.getRelationship(c, params)
	case array.MethodCreateRelationship:
		return a.createRelationship(c, params)
	case array.MethodStartRelationship:
		return a.startRelationship(params)
	case array.MethodStopRelationship:
		return a.stopRelationship(params)
	case array.MethodSwitchRelationship:
		return a.switchRelationship(params)
	case array.MethodModifyRelationship:
		return a.modifyRelationship(params)
	case array.MethodDeleteRelationship:
		return a.deleteRelationship(params)
	case array.MethodGetConsistencyGroup:
		return a.getGroup(params)
	case array.MethodCreateConsistencyGroup:
		return a.createGroup(c, params)
	case array.MethodStartConsistencyGroup:
		return a.startGroup(params)
	case array.MethodStopConsistencyGroup:
		return a.stopGroup(params)
	case array.MethodSwitchConsistencyGroup:
		return a.switchGroup(params)
	case array.MethodModifyConsistencyGroup:
		return a.modifyGroup(params)
	case array.MethodDeleteConsistencyGroup:
		return a.deleteGroup(params)
	case array.MethodGetClusterInfo:
		return toResult(map[string]interface{}{
			"clusterInfo": map[string]interface{}{"name": c.Name, "uuid": c.UUID},
		}), nil
	case array.MethodGetClusterCapacity:
		var used int64
		for _, v := range c.Volumes {
			used += v.TotalSizeGiB
		}
		return toResult(map[string]interface{}{
			"clusterCapacity": map[string]interface{}{"totalCapacityGiB": c.CapacityGiB, "usedCapacityGiB": used},
		}), nil
	case array.MethodListClusterPairs:
		return a.listClusterPairs(c)
	case array.MethodStartClusterPairing:
		key := "pairkey-" + a.newID()
		a.pairingKeys[key] = [2]string{c.Name, ""}
		return toResult(map[string]interface{}{"clusterPairingKey": key}), nil
	case array.MethodCompleteClusterPairing:
		return a.completeClusterPairing(c, params)
	case array.MethodGetVolume:
		v, err := a.volume(c, method, params)
		if err != nil {
			return nil, err
		}
		return toResult(map[string]interface{}{"volume": v}), nil
	case array.MethodCreateVolume:
		if _, exists := c.Volumes[str(params, "name")]; exists {
			return nil, fail(method, rcerrors.CodeAlreadyExists, "volume %s already exists", str(params, "name"))
		}
		v := a.newVolume(c, str(params, "name"), str(params, "accountID"), integer(params, "totalSizeGiB"), str(params, "pool"))
		return toResult(map[string]interface{}{"volumeID": v.VolumeID, "volume": v}), nil
	case array.MethodExpandVolume:
		v, err := a.volume(c, method, params)
		if err != nil {
			return nil, err
		}
		for _, r := range a.Relationships {
			if r.MasterVolume == v.Name || r.AuxVolume == v.Name {
				if running(r.State) {
					return nil, fail(method, rcerrors.CodeUnknown, "volume %s is in a running relationship", v.Name)
				}
			}
		}
		v.TotalSizeGiB = integer(params, "totalSizeGiB")
		return toResult(map[string]interface{}{"volume": v}), nil
	case array.MethodModifyVolume:
		v, err := a.volume(c, method, params)
		if err != nil {
			return nil, err
		}
		if access := str(params, "access"); access != "" {
			v.Access = access
			if pair, ok := c.VolumePairs[v.VolumeID]; ok {
				pair.target = access == "replicationTarget"
			}
		}
		return toResult(map[string]interface{}{"volume": v}), nil
	case array.MethodDeleteVolume:
		v, err := a.volume(c, method, params)
		if err != nil {
			return nil, err
		}
		v.Status = "deleted"
		return array.Result{}, nil
	case array.MethodPurgeDeletedVolume:
		v, err := a.volume(c, method, params)
		if err != nil {
			return nil, err
		}
		if v.Status != "deleted" {
			return nil, fail(method, rcerrors.CodeUnknown, "volume %s is not deleted", v.VolumeID)
		}
		delete(c.Volumes, v.Name)
		return array.Result{}, nil
	case array.MethodGetAccountByName:
		acct, ok := c.Accounts[str(params, "username")]
		if !ok {
			return nil, fail(method, rcerrors.CodeNotFound, "account %s does not exist", str(params, "username"))
		}
		return toResult(map[string]interface{}{"account": acct}), nil
	case array.MethodAddAccount:
		username := str(params, "username")
		if _, ok := c.Accounts[username]; ok {
			return nil, fail(method, rcerrors.CodeAlreadyExists, "account %s exists", username)
		}
		acct := &Account{AccountID: a.newID(), Username: username}
		c.Accounts[username] = acct
		return toResult(map[string]interface{}{"accountID": acct.AccountID}), nil
	case array.MethodStartVolumePairing:
		v, err := a.volume(c, method, params)
		if err != nil {
			return nil, err
		}
		key := "volkey-" + a.newID()
		a.pairingKeys[key] = [2]string{c.Name, v.VolumeID}
		return toResult(map[string]interface{}{"volumePairingKey": key}), nil
	case array.MethodCompleteVolumePairing:
		return a.completeVolumePairing(c, params)
	case array.MethodListActivePairedVolumes:
		return a.listPairedVolumes(c)
	case array.MethodRemoveVolumePair:
		v, err := a.volume(c, method, params)
		if err != nil {
			return nil, err
		}
		if _, ok := c.VolumePairs[v.VolumeID]; !ok {
			return nil, fail(method, rcerrors.CodeNotFound, "volume %s is not paired", v.VolumeID)
		}
		delete(c.VolumePairs, v.VolumeID)
		return array.Result{}, nil
	}
	return nil, fail(method, rcerrors.CodeUnknown, "unsupported method")
}

func (a *Array) volume(c *Cluster, method string, params array.Params) (*Volume, error) {
	if id := str(params, "volumeID"); id != "" {
		for _, v := range c.Volumes {
			if v.VolumeID == id {
				return v, nil
			}
		}
		return nil, fail(method, rcerrors.CodeNotFound, "volume id %s does not exist", id)
	}
	v, ok := c.Volumes[str(params, "name")]
	if !ok {
		return nil, fail(method, rcerrors.CodeNotFound, "volume %s does not exist", str(params, "name"))
	}
	return v, nil
}

func (a *Array) relationship(method string, params array.Params) (*Relationship, error) {
	r, ok := a.Relationships[str(params, "name")]
	if !ok {
		return nil, fail(method, rcerrors.CodeNotFound, "relationship %s does not exist", str(params, "name"))
	}
	return r, nil
}

func (a *Array) getRelationship(c *Cluster, params array.Params) (array.Result, error) {
	r, err := a.relationship(array.MethodGetRelationship, params)
	if err != nil {
		return nil, err
	}
	if r.MasterCluster != c.Name && r.AuxCluster != c.Name {
		return nil, fail(array.MethodGetRelationship, rcerrors.CodeNotFound, "relationship %s is not on %s", r.Name, c.Name)
	}
	a.progress(r)
	return toResult(map[string]interface{}{"relationship": r}), nil
}

// progress advances a copying relationship towards its steady state
func (a *Array) progress(r *Relationship) {
	if r.State != StateInconsistentCopying || a.InducedErrors.NeverSync {
		return
	}
	if r.pendingPolls > 0 {
		r.pendingPolls--
		r.Progress = 50
		return
	}
	r.Progress = 100
	if r.CyclingMode == "multi" {
		r.State = StateConsistentCopying
	} else {
		r.State = StateConsistentSynchronized
	}
}

func (a *Array) createRelationship(c *Cluster, params array.Params) (array.Result, error) {
	method := array.MethodCreateRelationship
	name := str(params, "name")
	if _, exists := a.Relationships[name]; exists {
		return nil, fail(method, rcerrors.CodeAlreadyExists, "relationship %s already exists", name)
	}
	master := str(params, "masterVolume")
	aux := str(params, "auxVolume")
	auxCluster := str(params, "auxCluster")
	if _, ok := c.Volumes[master]; !ok {
		return nil, fail(method, rcerrors.CodeNotFound, "volume %s does not exist", master)
	}
	target, ok := a.Clusters[auxCluster]
	if !ok {
		return nil, fail(method, rcerrors.CodeNotFound, "cluster %s does not exist", auxCluster)
	}
	if _, ok := target.Volumes[aux]; !ok {
		return nil, fail(method, rcerrors.CodeNotFound, "volume %s does not exist", aux)
	}
	for _, r := range a.Relationships {
		if r.MasterVolume == master {
			return nil, fail(method, rcerrors.CodeUnknown, "volume %s is already in relationship %s", master, r.Name)
		}
	}
	copyType := "metro"
	if boolean(params, "async") {
		copyType = "global"
	}
	cycling := str(params, "cyclingMode")
	if cycling == "" {
		cycling = "none"
	}
	r := &Relationship{
		Name:          name,
		ID:            a.newID(),
		MasterVolume:  master,
		AuxVolume:     aux,
		MasterCluster: c.Name,
		AuxCluster:    auxCluster,
		CopyType:      copyType,
		State:         StateInconsistentStopped,
		Primary:       "master",
		CyclingMode:   cycling,
	}
	a.Relationships[name] = r
	return toResult(map[string]interface{}{"name": name, "id": r.ID}), nil
}

func (a *Array) start(r *Relationship, primary string) {
	if primary != "" {
		r.Primary = primary
	}
	switch {
	case a.InducedErrors.Disconnect:
		r.State = StateIdlingDisconnected
	case r.State == StateConsistentSynchronized || r.State == StateConsistentCopying:
	default:
		r.State = StateInconsistentCopying
		r.pendingPolls = a.SyncPolls
		a.progress(r)
	}
}

func (a *Array) stop(r *Relationship, access bool) {
	switch {
	case access:
		r.State = StateIdling
	case r.State == StateInconsistentCopying || r.State == StateInconsistentStopped:
		r.State = StateInconsistentStopped
	default:
		r.State = StateConsistentStopped
	}
}

func running(state string) bool {
	return state == StateInconsistentCopying || state == StateConsistentCopying || state == StateConsistentSynchronized
}

func (a *Array) startRelationship(params array.Params) (array.Result, error) {
	r, err := a.relationship(array.MethodStartRelationship, params)
	if err != nil {
		return nil, err
	}
	if r.ConsistencyGroup != "" {
		return nil, fail(array.MethodStartRelationship, rcerrors.CodeInGroup, "relationship %s is in group %s", r.Name, r.ConsistencyGroup)
	}
	a.start(r, str(params, "primary"))
	return array.Result{}, nil
}

func (a *Array) stopRelationship(params array.Params) (array.Result, error) {
	r, err := a.relationship(array.MethodStopRelationship, params)
	if err != nil {
		return nil, err
	}
	if r.ConsistencyGroup != "" {
		return nil, fail(array.MethodStopRelationship, rcerrors.CodeInGroup, "relationship %s is in group %s", r.Name, r.ConsistencyGroup)
	}
	a.stop(r, boolean(params, "access"))
	return array.Result{}, nil
}

func (a *Array) switchRelationship(params array.Params) (array.Result, error) {
	r, err := a.relationship(array.MethodSwitchRelationship, params)
	if err != nil {
		return nil, err
	}
	if r.State != StateConsistentSynchronized && r.State != StateConsistentCopying {
		return nil, fail(array.MethodSwitchRelationship, rcerrors.CodeUnknown, "relationship %s is %s", r.Name, r.State)
	}
	r.Primary = str(params, "primary")
	return array.Result{}, nil
}

func (a *Array) modifyRelationship(params array.Params) (array.Result, error) {
	method := array.MethodModifyRelationship
	r, err := a.relationship(method, params)
	if err != nil {
		return nil, err
	}
	if _, ok := params["cyclingMode"]; ok {
		if running(r.State) {
			return nil, fail(method, rcerrors.CodeUnknown, "relationship %s must be stopped to change cycling mode", r.Name)
		}
		r.CyclingMode = str(params, "cyclingMode")
	}
	if _, ok := params["cyclePeriodSeconds"]; ok {
		r.CyclePeriodSeconds = int(integer(params, "cyclePeriodSeconds"))
	}
	if _, ok := params["masterChangeVolume"]; ok {
		r.MasterChangeVolume = str(params, "masterChangeVolume")
	}
	if _, ok := params["auxChangeVolume"]; ok {
		r.AuxChangeVolume = str(params, "auxChangeVolume")
	}
	if _, ok := params["consistencyGroup"]; ok {
		group := str(params, "consistencyGroup")
		if group == "" {
			a.leaveGroup(r)
		} else {
			if r.ConsistencyGroup != "" {
				return nil, fail(method, rcerrors.CodeInGroup, "relationship %s is already in group %s", r.Name, r.ConsistencyGroup)
			}
			g, ok := a.Groups[group]
			if !ok {
				return nil, fail(method, rcerrors.CodeNotFound, "group %s does not exist", group)
			}
			r.ConsistencyGroup = g.Name
			g.Relationships = append(g.Relationships, r.Name)
			g.RelationshipCount = len(g.Relationships)
			a.deriveGroup(g)
		}
	}
	return array.Result{}, nil
}

func (a *Array) leaveGroup(r *Relationship) {
	g, ok := a.Groups[r.ConsistencyGroup]
	r.ConsistencyGroup = ""
	if !ok {
		return
	}
	members := g.Relationships[:0]
	for _, name := range g.Relationships {
		if name != r.Name {
			members = append(members, name)
		}
	}
	g.Relationships = members
	g.RelationshipCount = len(members)
	a.deriveGroup(g)
}

func (a *Array) deleteRelationship(params array.Params) (array.Result, error) {
	r, err := a.relationship(array.MethodDeleteRelationship, params)
	if err != nil {
		return nil, err
	}
	if running(r.State) && !boolean(params, "force") {
		return nil, fail(array.MethodDeleteRelationship, rcerrors.CodeUnknown, "relationship %s is running", r.Name)
	}
	a.leaveGroup(r)
	delete(a.Relationships, r.Name)
	return array.Result{}, nil
}

// deriveGroup recomputes the aggregate attributes of a group from its members
func (a *Array) deriveGroup(g *Group) {
	if len(g.Relationships) == 0 {
		g.State = StateEmpty
		return
	}
	rank := map[string]int{
		StateConsistentSynchronized: 0,
		StateConsistentCopying:      1,
		StateConsistentStopped:      2,
		StateIdling:                 3,
		StateInconsistentCopying:    4,
		StateInconsistentStopped:    5,
		StateIdlingDisconnected:     6,
	}
	worst := ""
	for _, name := range g.Relationships {
		r := a.Relationships[name]
		if r == nil {
			continue
		}
		a.progress(r)
		if worst == "" || rank[r.State] > rank[worst] {
			worst = r.State
		}
		g.CopyType = r.CopyType
		g.Primary = r.Primary
	}
	g.State = worst
}

func (a *Array) group(method string, params array.Params) (*Group, error) {
	g, ok := a.Groups[str(params, "name")]
	if !ok {
		return nil, fail(method, rcerrors.CodeNotFound, "group %s does not exist", str(params, "name"))
	}
	return g, nil
}

func (a *Array) members(g *Group) []*Relationship {
	out := make([]*Relationship, 0, len(g.Relationships))
	for _, name := range g.Relationships {
		if r, ok := a.Relationships[name]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (a *Array) getGroup(params array.Params) (array.Result, error) {
	g, err := a.group(array.MethodGetConsistencyGroup, params)
	if err != nil {
		return nil, err
	}
	a.deriveGroup(g)
	return toResult(map[string]interface{}{"consistencyGroup": g}), nil
}

func (a *Array) createGroup(c *Cluster, params array.Params) (array.Result, error) {
	name := str(params, "name")
	if _, exists := a.Groups[name]; exists {
		return nil, fail(array.MethodCreateConsistencyGroup, rcerrors.CodeAlreadyExists, "group %s already exists", name)
	}
	g := &Group{
		Name:          name,
		MasterCluster: c.Name,
		AuxCluster:    str(params, "auxCluster"),
		State:         StateEmpty,
		Primary:       "master",
		CyclingMode:   "none",
	}
	a.Groups[name] = g
	return toResult(map[string]interface{}{"name": name}), nil
}

func (a *Array) startGroup(params array.Params) (array.Result, error) {
	g, err := a.group(array.MethodStartConsistencyGroup, params)
	if err != nil {
		return nil, err
	}
	if len(g.Relationships) == 0 {
		return nil, fail(array.MethodStartConsistencyGroup, rcerrors.CodeUnknown, "group %s is empty", g.Name)
	}
	for _, r := range a.members(g) {
		a.start(r, str(params, "primary"))
	}
	a.deriveGroup(g)
	return array.Result{}, nil
}

func (a *Array) stopGroup(params array.Params) (array.Result, error) {
	g, err := a.group(array.MethodStopConsistencyGroup, params)
	if err != nil {
		return nil, err
	}
	if len(g.Relationships) == 0 {
		return nil, fail(array.MethodStopConsistencyGroup, rcerrors.CodeUnknown, "group %s is empty", g.Name)
	}
	for _, r := range a.members(g) {
		a.stop(r, boolean(params, "access"))
	}
	a.deriveGroup(g)
	return array.Result{}, nil
}

func (a *Array) switchGroup(params array.Params) (array.Result, error) {
	g, err := a.group(array.MethodSwitchConsistencyGroup, params)
	if err != nil {
		return nil, err
	}
	a.deriveGroup(g)
	if g.State != StateConsistentSynchronized && g.State != StateConsistentCopying {
		return nil, fail(array.MethodSwitchConsistencyGroup, rcerrors.CodeUnknown, "group %s is %s", g.Name, g.State)
	}
	for _, r := range a.members(g) {
		r.Primary = str(params, "primary")
	}
	a.deriveGroup(g)
	return array.Result{}, nil
}

func (a *Array) modifyGroup(params array.Params) (array.Result, error) {
	g, err := a.group(array.MethodModifyConsistencyGroup, params)
	if err != nil {
		return nil, err
	}
	if _, ok := params["cyclingMode"]; ok {
		g.CyclingMode = str(params, "cyclingMode")
	}
	if _, ok := params["cyclePeriodSeconds"]; ok {
		g.CyclePeriodSeconds = int(integer(params, "cyclePeriodSeconds"))
	}
	return array.Result{}, nil
}

func (a *Array) deleteGroup(params array.Params) (array.Result, error) {
	g, err := a.group(array.MethodDeleteConsistencyGroup, params)
	if err != nil {
		return nil, err
	}
	for _, r := range a.members(g) {
		r.ConsistencyGroup = ""
	}
	delete(a.Groups, g.Name)
	return array.Result{}, nil
}

func (a *Array) listClusterPairs(c *Cluster) (array.Result, error) {
	names := make([]string, 0, len(c.Pairs))
	for uuid := range c.Pairs {
		names = append(names, uuid)
	}
	sort.Strings(names)
	pairs := make([]*ClusterPair, 0, len(names))
	for _, uuid := range names {
		p := c.Pairs[uuid]
		if p.Status != "Connected" && !a.InducedErrors.PairingNeverConnects {
			if p.pendingPolls > 0 {
				p.pendingPolls--
			} else {
				p.Status = "Connected"
			}
		}
		pairs = append(pairs, p)
	}
	return toResult(map[string]interface{}{"clusterPairs": pairs}), nil
}

func (a *Array) completeClusterPairing(c *Cluster, params array.Params) (array.Result, error) {
	method := array.MethodCompleteClusterPairing
	key := str(params, "clusterPairingKey")
	origin, ok := a.pairingKeys[key]
	if !ok {
		return nil, fail(method, rcerrors.CodeNotFound, "pairing key %s does not exist", key)
	}
	delete(a.pairingKeys, key)
	src := a.Clusters[origin[0]]
	if _, exists := c.Pairs[src.UUID]; exists {
		return nil, fail(method, rcerrors.CodeAlreadyExists, "cluster pair already exists")
	}
	id := a.newID()
	status := "PausedDisconnected"
	c.Pairs[src.UUID] = &ClusterPair{ClusterPairID: id, ClusterName: src.Name, ClusterUUID: src.UUID, Status: status, pendingPolls: a.PairingPolls}
	src.Pairs[c.UUID] = &ClusterPair{ClusterPairID: id, ClusterName: c.Name, ClusterUUID: c.UUID, Status: status, pendingPolls: a.PairingPolls}
	return toResult(map[string]interface{}{"clusterPairID": id}), nil
}

func (a *Array) completeVolumePairing(c *Cluster, params array.Params) (array.Result, error) {
	method := array.MethodCompleteVolumePairing
	key := str(params, "volumePairingKey")
	origin, ok := a.pairingKeys[key]
	if !ok || origin[1] == "" {
		return nil, fail(method, rcerrors.CodeNotFound, "volume pairing key %s does not exist", key)
	}
	dst, err := a.volume(c, method, params)
	if err != nil {
		return nil, err
	}
	delete(a.pairingKeys, key)
	src := a.Clusters[origin[0]]
	if _, paired := src.Pairs[c.UUID]; !paired {
		return nil, fail(method, rcerrors.CodeUnknown, "clusters %s and %s are not paired", src.Name, c.Name)
	}
	if _, exists := c.VolumePairs[dst.VolumeID]; exists {
		return nil, fail(method, rcerrors.CodeAlreadyExists, "volume %s is already paired", dst.VolumeID)
	}
	mode := str(params, "mode")
	if mode == "" {
		mode = "Sync"
	}
	c.VolumePairs[dst.VolumeID] = &VolumePair{
		RemoteVolumeID: origin[1], RemoteCluster: src.Name, Mode: mode, State: "Resuming",
		pendingPolls: a.SyncPolls, target: dst.Access == "replicationTarget",
	}
	src.VolumePairs[origin[1]] = &VolumePair{
		RemoteVolumeID: dst.VolumeID, RemoteCluster: c.Name, Mode: mode, State: "Resuming",
		pendingPolls: a.SyncPolls,
	}
	return array.Result{}, nil
}

func (a *Array) listPairedVolumes(c *Cluster) (array.Result, error) {
	ids := make([]string, 0, len(c.VolumePairs))
	for id := range c.VolumePairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	volumes := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		p := c.VolumePairs[id]
		if p.State != "Active" && !a.InducedErrors.VolumePairNeverActive {
			remote := a.Clusters[p.RemoteCluster]
			targetReady := p.target
			if rp, ok := remote.VolumePairs[p.RemoteVolumeID]; ok && rp.target {
				targetReady = true
			}
			if targetReady {
				if p.pendingPolls > 0 {
					p.pendingPolls--
				} else {
					p.State = "Active"
				}
			}
		}
		volumes = append(volumes, map[string]interface{}{
			"volumeID":    id,
			"volumePairs": []*VolumePair{p},
		})
	}
	return toResult(map[string]interface{}{"volumes": volumes}), nil
}
