/*
 Copyright © 2021-2026 Dell Inc. or its subsidiaries. All Rights Reserved.

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

package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// lockRequest - request to lock or unlock a resource
type lockRequest struct {
	resourceID  string
	lockNumber  int64
	unlock      bool
	waitChannel chan int
}

// lockInfo - state of the lock of one resource
type lockInfo struct {
	waiting            chan lockRequest
	currentLockNumber  int64
	currentWaitChannel chan int
}

// lockManager grants locks on shared array resources (cluster pairs,
// consistency groups, volumes) in the order they were requested
type lockManager struct {
	requests   chan lockRequest
	mutex      sync.Mutex
	fifolocks  map[string]*lockInfo
	nextNumber int64
	once       sync.Once
}

func newLockManager() *lockManager {
	return &lockManager{
		requests:  make(chan lockRequest, 1000),
		fifolocks: make(map[string]*lockInfo),
	}
}

// start runs the request handler and the cleanup worker until ctx is done
func (m *lockManager) start(ctx context.Context, cleanupInterval time.Duration) {
	m.once.Do(func() {
		go m.handleRequests(ctx)
		go m.cleanup(ctx, cleanupInterval)
	})
}

func (m *lockManager) handleRequests(ctx context.Context) {
	log.Info("Successfully started the lock request handler")
	for {
		select {
		case <-ctx.Done():
			return
		case request := <-m.requests:
			m.mutex.Lock()
			m.handle(request)
			m.mutex.Unlock()
		}
	}
}

func (m *lockManager) handle(request lockRequest) {
	info, ok := m.fifolocks[request.resourceID]
	if !ok {
		if request.unlock {
			log.Warning("There is no lock to be released!")
			return
		}
		// first request for the resource
		m.fifolocks[request.resourceID] = &lockInfo{
			waiting:            make(chan lockRequest, 100),
			currentLockNumber:  request.lockNumber,
			currentWaitChannel: request.waitChannel,
		}
		request.waitChannel <- 1
		return
	}
	if info.currentLockNumber == request.lockNumber {
		if !request.unlock {
			log.Warning("Invalid request. There is a lock held with the same request")
			return
		}
		close(info.currentWaitChannel)
		select {
		case next := <-info.waiting:
			// hand the lock to the next waiter
			info.currentLockNumber = next.lockNumber
			info.currentWaitChannel = next.waitChannel
			next.waitChannel <- 1
		default:
			info.currentLockNumber = -1
			info.currentWaitChannel = nil
		}
		return
	}
	if request.unlock {
		log.Warning("You don't hold the lock")
		return
	}
	if len(info.waiting) == 0 && info.currentLockNumber == -1 {
		info.currentLockNumber = request.lockNumber
		info.currentWaitChannel = request.waitChannel
		request.waitChannel <- 1
		return
	}
	info.waiting <- request
}

// cleanup drops entries of resources nobody holds
func (m *lockManager) cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Infof("Successfully started the lock cleanup worker. This will wake up every %.2f minutes to clean up stale entries",
		interval.Minutes())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mutex.Lock()
			// don't hold the mutex for more than 20 milliseconds
			now := time.Now()
			for resourceID, info := range m.fifolocks {
				if time.Since(now) > 20*time.Millisecond {
					log.Debugf("Held the lock mutex for 20 milliseconds. Releasing it now")
					break
				}
				if info.currentLockNumber == -1 {
					delete(m.fifolocks, resourceID)
				}
			}
			m.mutex.Unlock()
		}
	}
}

// RequestLock blocks until the lock of resourceID is granted and returns
// the lock number needed to release it. requestID is only logged.
func (m *lockManager) RequestLock(resourceID string, requestID string) int64 {
	lockNum := atomic.AddInt64(&m.nextNumber, 1)
	ch := make(chan int, 1)
	m.requests <- lockRequest{resourceID: resourceID, lockNumber: lockNum, waitChannel: ch}
	<-ch
	log.Debugf("Acquired - Lock Number:%d, requestID: %s, resourceID: %s", lockNum, requestID, resourceID)
	return lockNum
}

// ReleaseLock releases a lock returned by RequestLock
func (m *lockManager) ReleaseLock(resourceID string, requestID string, lockNum int64) {
	m.requests <- lockRequest{resourceID: resourceID, lockNumber: lockNum, unlock: true}
	log.Debugf("Released - Lock Number: %d, requestID: %s, resourceID: %s", lockNum, requestID, resourceID)
}

// lock takes the lock of resourceID for the request of ctx and returns its release
func (d *Driver) lock(ctx context.Context, resourceID string) func() {
	// no-op once BeforeServe started the manager
	d.locks.start(context.Background(), DefaultLockCleanupInterval)
	requestID, _ := ctx.Value(requestIDKey).(string)
	lockNum := d.locks.RequestLock(resourceID, requestID)
	return func() {
		d.locks.ReleaseLock(resourceID, requestID, lockNum)
	}
}
