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

// Package poll waits for array-side state to converge.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	rcerrors "github.com/dell/csi-remotecopy/v2/pkg/errors"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Condition reports whether the awaited state has been reached. A non-nil
// error stops the wait and is returned to the caller unchanged.
type Condition func(ctx context.Context) (bool, error)

// Options bound a wait
type Options struct {
	// Operation names the wait in errors and logs
	Operation string
	Interval  time.Duration
	Timeout   time.Duration
}

// Until evaluates cond immediately and then every interval until it reports
// done, returns an error, the timeout elapses, or ctx is cancelled.
// An elapsed timeout is returned as *errors.ErrTimeout.
func Until(ctx context.Context, opts Options, cond Condition) error {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout <= 0 {
		return fmt.Errorf("wait for %s: timeout must be positive", opts.Operation)
	}
	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	attempts := 0
	var condErr error
	err := wait.PollImmediateUntil(opts.Interval, func() (bool, error) {
		attempts++
		done, err := cond(waitCtx)
		if err != nil {
			condErr = err
			return false, err
		}
		return done, nil
	}, waitCtx.Done())

	switch {
	case err == nil:
		log.Debugf("%s converged after %d attempts", opts.Operation, attempts)
		return nil
	case condErr != nil:
		return condErr
	case ctx.Err() != nil:
		log.Errorf("wait for %s cancelled: %s", opts.Operation, ctx.Err().Error())
		return fmt.Errorf("wait for %s cancelled: %w", opts.Operation, ctx.Err())
	case errors.Is(err, wait.ErrWaitTimeout):
		log.Errorf("%s did not converge within %s (%d attempts)", opts.Operation, opts.Timeout, attempts)
		return &rcerrors.ErrTimeout{Operation: opts.Operation, Timeout: opts.Timeout}
	}
	return err
}
