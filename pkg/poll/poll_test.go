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

package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestUntil(t *testing.T) {
	errDisconnected := errors.New("disconnected")
	tests := []struct {
		name      string
		doneAfter int
		condErr   error
		timeout   time.Duration
		check     func(t *testing.T, err error, calls int)
	}{
		{
			name:      "immediate",
			doneAfter: 1,
			timeout:   time.Second,
			check: func(t *testing.T, err error, calls int) {
				assert.NoError(t, err)
				assert.Equal(t, 1, calls)
			},
		},
		{
			name:      "after a few polls",
			doneAfter: 3,
			timeout:   time.Second,
			check: func(t *testing.T, err error, calls int) {
				assert.NoError(t, err)
				assert.Equal(t, 3, calls)
			},
		},
		{
			name:      "timeout",
			doneAfter: -1,
			timeout:   30 * time.Millisecond,
			check: func(t *testing.T, err error, _ int) {
				assert.True(t, rcerrors.IsTimeout(err))
			},
		},
		{
			name:    "condition error aborts",
			condErr: errDisconnected,
			timeout: time.Second,
			check: func(t *testing.T, err error, calls int) {
				assert.ErrorIs(t, err, errDisconnected)
				assert.Equal(t, 1, calls)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Until(context.Background(), Options{Operation: tt.name, Interval: 5 * time.Millisecond, Timeout: tt.timeout},
				func(context.Context) (bool, error) {
					calls++
					if tt.condErr != nil {
						return false, tt.condErr
					}
					return tt.doneAfter > 0 && calls >= tt.doneAfter, nil
				})
			tt.check(t, err, calls)
		})
	}
}

func TestUntil_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Until(ctx, Options{Operation: "cancelled", Interval: time.Millisecond, Timeout: time.Second},
		func(context.Context) (bool, error) { return false, nil })
	assert.Error(t, err)
	assert.False(t, rcerrors.IsTimeout(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntil_InvalidTimeout(t *testing.T) {
	err := Until(context.Background(), Options{Operation: "bad"}, func(context.Context) (bool, error) { return true, nil })
	assert.Error(t, err)
}
