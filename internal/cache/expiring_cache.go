/*******************************************************************************
*
* Copyright 2024 SAP SE
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

// Package cache provides a generic time-expiring key-value cache, grounded
// on the shape of sapcc/keppel's internal/drivers/openstack/cache.go
// (key -> payload, safe for concurrent use) and on internal/tasks/
// janitor.go's injectable-clock pattern for deterministic tests.
package cache

import (
	"sync"
	"time"
)

// entry is the internal storage slot for one cached value.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// ExpiringCache is a mapping from string key to a value that expires at a
// given time. The zero value is not usable; construct with New. Safe for
// concurrent use by multiple goroutines (spec §4.3, §5: shared upstream auth
// caches may be hit concurrently by independent requests).
type ExpiringCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
}

// New constructs an empty ExpiringCache using the real wall clock.
func New[V any]() *ExpiringCache[V] {
	return &ExpiringCache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// OverrideTimeNow replaces the clock used to evaluate expiry, for
// deterministic tests. Mirrors keppel's Janitor.OverrideTimeNow.
func (c *ExpiringCache[V]) OverrideTimeNow(now func() time.Time) *ExpiringCache[V] {
	c.now = now
	return c
}

// Get returns the cached value for key and true, iff now() < expiresAt for
// the most recent Put under that key. Otherwise it returns the zero value
// and false.
func (c *ExpiringCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, to expire at expiresAt. Overwrites any
// previous entry for the same key.
func (c *ExpiringCache[V]) Put(key string, value V, expiresAt time.Time) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: expiresAt}
	c.mu.Unlock()
}
