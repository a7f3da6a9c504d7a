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
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"

	"github.com/akutz/goof"
	log "github.com/sirupsen/logrus"
)

const defaultRequestTimeout = 120 * time.Second

// Debug enables logging of request payloads
var Debug = false

// arrayErrorCodes maps array error names onto executor error codes
var arrayErrorCodes = map[string]rcerrors.Code{
	"xAlreadyExists":                 rcerrors.CodeAlreadyExists,
	"xRelationshipAlreadyExists":     rcerrors.CodeAlreadyExists,
	"xConsistencyGroupAlreadyExists": rcerrors.CodeAlreadyExists,
	"xClusterPairAlreadyExists":      rcerrors.CodeAlreadyExists,
	"xVolumePairAlreadyExists":       rcerrors.CodeAlreadyExists,
	"xDuplicateUsername":             rcerrors.CodeAlreadyExists,
	"xNotFound":                      rcerrors.CodeNotFound,
	"xVolumeDoesNotExist":            rcerrors.CodeNotFound,
	"xVolumeIDDoesNotExist":          rcerrors.CodeNotFound,
	"xRelationshipDoesNotExist":      rcerrors.CodeNotFound,
	"xConsistencyGroupDoesNotExist":  rcerrors.CodeNotFound,
	"xAccountDoesNotExist":           rcerrors.CodeNotFound,
	"xVolumePairDoesNotExist":        rcerrors.CodeNotFound,
	"xLimitExceeded":                 rcerrors.CodeLimitExceeded,
	"xMaxRelationshipsExceeded":      rcerrors.CodeLimitExceeded,
	"xAlreadyInGroup":                rcerrors.CodeInGroup,
}

func errorCode(name string) rcerrors.Code {
	if code, ok := arrayErrorCodes[name]; ok {
		return code
	}
	switch {
	case strings.HasSuffix(name, "AlreadyExists"):
		return rcerrors.CodeAlreadyExists
	case strings.HasSuffix(name, "DoesNotExist"), strings.HasSuffix(name, "NotFound"):
		return rcerrors.CodeNotFound
	case strings.HasSuffix(name, "Exceeded"):
		return rcerrors.CodeLimitExceeded
	}
	return rcerrors.CodeUnknown
}

type rpcRequest struct {
	Method string `json:"method"`
	Params Params `json:"params"`
	ID     int64  `json:"id"`
}

type rpcError struct {
	Name    string `json:"name"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int64     `json:"id"`
	Result Result    `json:"result"`
	Error  *rpcError `json:"error"`
}

// RPCExecutor issues commands as JSON-RPC calls over HTTP(S)
type RPCExecutor struct {
	// Scheme is https unless overridden (tests use http)
	Scheme   string
	Insecure bool
	Timeout  time.Duration

	primary Endpoint
	nextID  int64
	clients sync.Map
	health  sync.Map
}

// NewRPCExecutor returns an executor whose default target is primary
func NewRPCExecutor(primary Endpoint, insecure bool) *RPCExecutor {
	return &RPCExecutor{
		Scheme:   "https",
		Insecure: insecure,
		Timeout:  defaultRequestTimeout,
		primary:  primary,
	}
}

func (e *RPCExecutor) target(endpoint *Endpoint) *Endpoint {
	if endpoint == nil {
		return &e.primary
	}
	return endpoint
}

func (e *RPCExecutor) healthOf(endpoint *Endpoint) *endpointHealth {
	h, _ := e.health.LoadOrStore(endpoint.Key(), &endpointHealth{})
	return h.(*endpointHealth)
}

func (e *RPCExecutor) clientFor(endpoint *Endpoint) *http.Client {
	if c, ok := e.clients.Load(endpoint.Key()); ok {
		return c.(*http.Client)
	}
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		// #nosec G402
		TLSClientConfig: &tls.Config{InsecureSkipVerify: e.Insecure},
	}
	client := &http.Client{
		Timeout: e.Timeout,
		Transport: &transport{
			RoundTripper: base,
			health:       e.healthOf(endpoint),
		},
	}
	c, _ := e.clients.LoadOrStore(endpoint.Key(), client)
	return c.(*http.Client)
}

// Healthy reports whether recent calls to the endpoint succeeded
func (e *RPCExecutor) Healthy(endpoint *Endpoint) bool {
	return e.healthOf(e.target(endpoint)).healthy()
}

// Execute sends method with params to the endpoint
func (e *RPCExecutor) Execute(ctx context.Context, method string, params Params, version string, endpoint *Endpoint) (Result, error) {
	ep := e.target(endpoint)
	if version == "" {
		version = DefaultAPIVersion
	}
	if params == nil {
		params = Params{}
	}
	payload, err := json.Marshal(rpcRequest{
		Method: method,
		Params: params,
		ID:     atomic.AddInt64(&e.nextID, 1),
	})
	if err != nil {
		return nil, goof.WithError("unable to encode request "+method, err)
	}
	url := fmt.Sprintf("%s://%s/json-rpc/%s", e.Scheme, ep.Address(), version)
	if Debug {
		log.WithFields(log.Fields{"method": method, "endpoint": ep.Key(), "url": url}).Debugf("request params: %v", params)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, goof.WithError("unable to build request "+method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(ep.Username, ep.Password)

	resp, err := e.clientFor(ep).Do(req)
	if err != nil {
		log.Errorf("%s to %s failed: %s", method, ep.Key(), err.Error())
		return nil, &rcerrors.ErrBackendUnreachable{Endpoint: ep.Key(), Cause: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &rcerrors.ErrBackendUnreachable{Endpoint: ep.Key(), Cause: err}
	}
	if resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		log.Errorf("%s to %s returned HTTP %d", method, ep.Key(), resp.StatusCode)
		return nil, &rcerrors.ErrBackendUnreachable{
			Endpoint: ep.Key(),
			Cause:    fmt.Errorf("http status %d", resp.StatusCode),
		}
	}
	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &rcerrors.ErrArray{Method: method, Code: rcerrors.CodeUnknown, Message: "invalid response: " + err.Error()}
	}
	if decoded.Error != nil {
		arrayErr := &rcerrors.ErrArray{
			Method:  method,
			Code:    errorCode(decoded.Error.Name),
			Message: decoded.Error.Message,
		}
		log.Debugf("%s on %s: %s", method, ep.Key(), arrayErr.Error())
		return nil, arrayErr
	}
	if decoded.Result == nil {
		decoded.Result = Result{}
	}
	return decoded.Result, nil
}
