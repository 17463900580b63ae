// Copyright (c) 2019 Cable Television Laboratories, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package router

import (
	"net"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

// table is an exact-match table with copy-on-write updates. Lookups are
// lock-free and observe the snapshot installed by the last completed
// update; a packet that consults the table several times may therefore see
// different snapshots, but each individual lookup is consistent.
type table[K comparable, A any] struct {
	mtx      sync.Mutex
	snapshot atomic.Pointer[map[K]A]
}

func newTable[K comparable, A any]() *table[K, A] {
	t := &table[K, A]{}
	empty := make(map[K]A)
	t.snapshot.Store(&empty)
	return t
}

// Lookup returns the action parameters bound to key, if any.
func (t *table[K, A]) Lookup(key K) (A, bool) {
	m := *t.snapshot.Load()
	a, ok := m[key]
	return a, ok
}

// Insert binds key to the given action parameters, replacing any existing
// binding.
func (t *table[K, A]) Insert(key K, action A) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	old := *t.snapshot.Load()
	next := make(map[K]A, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = action
	t.snapshot.Store(&next)
}

// Delete removes the binding for key, if present.
func (t *table[K, A]) Delete(key K) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	old := *t.snapshot.Load()
	if _, ok := old[key]; !ok {
		return
	}
	next := make(map[K]A, len(old))
	for k, v := range old {
		if k != key {
			next[k] = v
		}
	}
	t.snapshot.Store(&next)
}

// Len returns the number of entries in the current snapshot.
func (t *table[K, A]) Len() int {
	return len(*t.snapshot.Load())
}

// lpmTable is a longest-prefix-match table over IPv4 prefixes with the same
// copy-on-write discipline as table. The route count of a dataplane is
// small, so a sorted linear scan (most-specific first) is sufficient.
type lpmTable[A any] struct {
	mtx      sync.Mutex
	snapshot atomic.Pointer[[]lpmEntry[A]]
}

type lpmEntry[A any] struct {
	prefix netip.Prefix
	action A
}

func newLPMTable[A any]() *lpmTable[A] {
	t := &lpmTable[A]{}
	empty := []lpmEntry[A]{}
	t.snapshot.Store(&empty)
	return t
}

// Lookup returns the action of the most specific prefix containing addr.
func (t *lpmTable[A]) Lookup(addr netip.Addr) (A, bool) {
	for _, e := range *t.snapshot.Load() {
		if e.prefix.Contains(addr) {
			return e.action, true
		}
	}
	var zero A
	return zero, false
}

// Insert binds the prefix to the given action, replacing any existing
// binding for the same prefix.
func (t *lpmTable[A]) Insert(prefix netip.Prefix, action A) {
	prefix = prefix.Masked()
	t.mtx.Lock()
	defer t.mtx.Unlock()
	old := *t.snapshot.Load()
	next := make([]lpmEntry[A], 0, len(old)+1)
	for _, e := range old {
		if e.prefix != prefix {
			next = append(next, e)
		}
	}
	next = append(next, lpmEntry[A]{prefix: prefix, action: action})
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].prefix.Bits() > next[j].prefix.Bits()
	})
	t.snapshot.Store(&next)
}

// Delete removes the binding for the prefix, if present.
func (t *lpmTable[A]) Delete(prefix netip.Prefix) {
	prefix = prefix.Masked()
	t.mtx.Lock()
	defer t.mtx.Unlock()
	old := *t.snapshot.Load()
	next := make([]lpmEntry[A], 0, len(old))
	for _, e := range old {
		if e.prefix != prefix {
			next = append(next, e)
		}
	}
	t.snapshot.Store(&next)
}

// Len returns the number of routes in the current snapshot.
func (t *lpmTable[A]) Len() int {
	return len(*t.snapshot.Load())
}

// macAddr is a MAC address in a form usable as a map key.
type macAddr [6]byte

func macKey(mac net.HardwareAddr) (macAddr, error) {
	var k macAddr
	if len(mac) != 6 {
		return k, serrors.New("invalid MAC address", "mac", mac.String())
	}
	copy(k[:], mac)
	return k, nil
}

// dropKey is the compound exact key of the drop blocklist: source MAC,
// destination address and destination L4 port. IPv4 and IPv6 blocklist
// entries live in the same table; the unused address family is the zero
// address.
type dropKey struct {
	srcMac  macAddr
	dstAddr netip.Addr
	dstPort uint16
}

func dropKeyOf(mac net.HardwareAddr, v4, v6 netip.Addr, dstPort uint16) (dropKey, error) {
	k, err := macKey(mac)
	if err != nil {
		return dropKey{}, err
	}
	addr := v4
	if v6.IsValid() && !v6.IsUnspecified() {
		addr = v6
	}
	if !addr.IsValid() {
		return dropKey{}, serrors.New("invalid drop address")
	}
	return dropKey{srcMac: k, dstAddr: addr.Unmap(), dstPort: dstPort}, nil
}
