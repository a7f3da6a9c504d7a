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

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	assert.NoError(t, Register(reg))
}

func TestObserveFailover(t *testing.T) {
	before := testutil.ToFloat64(FailoverTotal.WithLabelValues(DirectionFailover, ResultSuccess))
	ObserveFailover(DirectionFailover, ResultSuccess, time.Now().Add(-time.Second))
	assert.Equal(t, before+1, testutil.ToFloat64(FailoverTotal.WithLabelValues(DirectionFailover, ResultSuccess)))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	CyclingCompensations.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "remotecopy_cycling_compensations_total"))
}
