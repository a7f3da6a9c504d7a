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

package service

import (
	"context"
	"sync"
)

// StateStore persists the active backend id across restarts
type StateStore interface {
	GetActiveBackendID(ctx context.Context) (string, error)
	SetActiveBackendID(ctx context.Context, backendID string) error
}

// MemoryStateStore keeps the active backend id in memory
type MemoryStateStore struct {
	mutex    sync.Mutex
	activeID string
	// SetError is returned by SetActiveBackendID when set, for testing
	SetError error
}

// NewMemoryStateStore returns a store holding activeID
func NewMemoryStateStore(activeID string) *MemoryStateStore {
	return &MemoryStateStore{activeID: activeID}
}

// GetActiveBackendID returns the stored id
func (m *MemoryStateStore) GetActiveBackendID(_ context.Context) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.activeID, nil
}

// SetActiveBackendID stores the id
func (m *MemoryStateStore) SetActiveBackendID(_ context.Context, backendID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.SetError != nil {
		return m.SetError
	}
	m.activeID = backendID
	return nil
}
