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
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	unhealthyThreshold   int32         = 5
	failureTimeThreshold time.Duration = 2 * time.Minute
)

type endpointHealth struct {
	failureCount int32
	lastFailure  time.Time
	mx           sync.Mutex
}

func (h *endpointHealth) healthHandler(failureWeight int32) {
	h.mx.Lock()
	defer h.mx.Unlock()
	timeSinceLastFailure := time.Since(h.lastFailure)
	h.lastFailure = time.Now()
	if timeSinceLastFailure > failureTimeThreshold && h.failureCount != 0 {
		log.Infof("Last failure was more than %f minutes ago; reseting the failure count", failureTimeThreshold.Minutes())
		h.failureCount = failureWeight
		return
	}
	h.failureCount += failureWeight
}

func (h *endpointHealth) success() {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.failureCount = 0
}

func (h *endpointHealth) healthy() bool {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.failureCount < unhealthyThreshold {
		return true
	}
	// stale failures do not count against the endpoint
	return time.Since(h.lastFailure) > failureTimeThreshold
}

// transport weighs transport failures and server errors per endpoint
type transport struct {
	http.RoundTripper
	health *endpointHealth
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.RoundTripper.RoundTrip(req)
	if err != nil {
		t.health.healthHandler(2)
	} else if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		t.health.healthHandler(99)
	} else if resp.StatusCode/100 == 5 {
		t.health.healthHandler(1)
	} else {
		t.health.success()
	}
	return resp, err
}
