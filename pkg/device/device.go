// Copyright 2026 The lazypage Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package device provides the paging device: the entry point through which
// memory is mapped, and the dispatcher that turns translation misses into
// faults.
//
// A Device owns a pool of physical pages, one set of page tables and a
// FaultController. Each MMap creates a Region and a Mapping of it; Fork adds
// another Mapping of the same Region and Unmap removes one. Mappings are never
// merged or resized.
package device

import (
	"context"
	"fmt"

	"lazypage.dev/lazypage/pkg/atomicbitops"
	"lazypage.dev/lazypage/pkg/cleanup"
	"lazypage.dev/lazypage/pkg/errors/linuxerr"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/log"
	"lazypage.dev/lazypage/pkg/mm"
	"lazypage.dev/lazypage/pkg/pagetables"
	"lazypage.dev/lazypage/pkg/pgalloc"
	"lazypage.dev/lazypage/pkg/sync"
)

// DefaultBase is the lowest address handed out by MMap.
const DefaultBase = hostarch.Addr(0x10000000)

// Opts configures a Device.
type Opts struct {
	// Policy is applied to every Region the Device creates.
	Policy mm.Policy

	// PoolPages is the number of physical pages available.
	PoolPages uint64

	// MaxTranslations bounds the page tables. Zero means unbounded.
	MaxTranslations uint64

	// Base is the lowest address handed out by MMap. Zero selects
	// DefaultBase.
	Base hostarch.Addr
}

// Device is a paging device.
type Device struct {
	mf *pgalloc.MemoryFile
	pt *pagetables.PageTables
	fc *mm.FaultController

	mu sync.Mutex

	// next is the start of the next mapping. Protected by mu.
	next hostarch.Addr

	// mappings counts the live Mappings of each Region. Protected by mu.
	mappings map[*mm.Region]int

	// released is set by Release.
	released atomicbitops.Bool
}

// New creates a Device.
func New(opts Opts) (*Device, error) {
	mf, err := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{Pages: opts.PoolPages})
	if err != nil {
		return nil, fmt.Errorf("creating page pool: %w", err)
	}
	base := opts.Base
	if base == 0 {
		base = DefaultBase
	}
	if !base.IsPageAligned() {
		mf.Destroy()
		return nil, fmt.Errorf("base address %v is not page-aligned: %w", base, linuxerr.EINVAL)
	}
	pt := pagetables.New(opts.MaxTranslations)
	d := &Device{
		mf:       mf,
		pt:       pt,
		fc:       mm.NewFaultController(mf, pt, opts.Policy),
		next:     base,
		mappings: make(map[*mm.Region]int),
	}
	log.Infof("Paging device created: %d pages, policy %v", opts.PoolPages, opts.Policy)
	return d, nil
}

// Policy returns the policy applied to new Regions.
func (d *Device) Policy() mm.Policy {
	return d.fc.Policy()
}

// MemoryFile returns the Device's page pool.
func (d *Device) MemoryFile() *pgalloc.MemoryFile {
	return d.mf
}

// PageTables returns the Device's page tables.
func (d *Device) PageTables() *pagetables.PageTables {
	return d.pt
}

// MMap maps length bytes with the given permissions.
func (d *Device) MMap(ctx context.Context, length uint64, perms hostarch.AccessType) (*Mapping, error) {
	if d.released.Load() {
		return nil, linuxerr.ENODEV
	}
	if length == 0 {
		return nil, linuxerr.EINVAL
	}
	rounded, ok := hostarch.PageRoundUp(length)
	if !ok {
		return nil, linuxerr.EINVAL
	}

	d.mu.Lock()
	// Leave an unmapped page between mappings.
	ar, ok := d.next.ToRange(rounded)
	if !ok {
		d.mu.Unlock()
		return nil, linuxerr.ENOMEM
	}
	next, ok := ar.End.AddLength(hostarch.PageSize)
	if !ok {
		d.mu.Unlock()
		return nil, linuxerr.ENOMEM
	}
	d.next = next
	d.mu.Unlock()

	cu := cleanup.Make(func() {
		// Pre-paging may have installed some translations before failing.
		d.pt.Unmap(ar)
	})
	defer cu.Clean()

	r, err := d.fc.CreateRegion(ctx, length, ar, perms)
	if err != nil {
		return nil, err
	}
	cu.Release()

	d.mu.Lock()
	d.mappings[r] = 1
	d.mu.Unlock()
	log.Debugf("MMap %d bytes at %v, %v", length, ar, perms)
	return &Mapping{dev: d, region: r, activeMu: new(sync.Mutex)}, nil
}

// Release logs the page counters and frees the page pool. Mappings still live
// are reported and their Regions are leaked.
func (d *Device) Release() {
	if d.released.Swap(true) {
		return
	}
	d.mu.Lock()
	live := len(d.mappings)
	d.mu.Unlock()
	log.Infof("Pages allocated %d times, freed %d times", mm.Stats.PagesAllocated.Value(), mm.Stats.PagesFreed.Value())
	if live != 0 {
		log.Warningf("Paging device released with %d regions still mapped", live)
		return
	}
	d.mf.Destroy()
}

// LiveRegions returns the number of Regions with at least one Mapping.
func (d *Device) LiveRegions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mappings)
}

// Mapping is one mapping of a Region.
type Mapping struct {
	dev    *Device
	region *mm.Region

	// activeMu serializes fault handling on region. It is shared by every
	// Mapping of the same Region, so a page that one Mapping has faulted in
	// is found by the others instead of faulting again.
	activeMu *sync.Mutex

	// unmapped is set by Unmap.
	unmapped atomicbitops.Bool
}

// Range returns the mapped address range.
func (m *Mapping) Range() hostarch.AddrRange {
	return m.region.Range()
}

// Region returns the mapped Region.
func (m *Mapping) Region() *mm.Region {
	return m.region
}

// Fork creates another Mapping of the same Region.
func (m *Mapping) Fork() (*Mapping, error) {
	if m.unmapped.Load() {
		return nil, linuxerr.EINVAL
	}
	d := m.dev
	d.mu.Lock()
	d.mappings[m.region]++
	d.mu.Unlock()
	m.region.IncRef()
	log.Debugf("Fork of %v", m.region)
	return &Mapping{dev: d, region: m.region, activeMu: m.activeMu}, nil
}

// Unmap removes m. Unmapping the last Mapping of a Region removes its
// translations and frees its pages.
func (m *Mapping) Unmap(ctx context.Context) error {
	if m.unmapped.Swap(true) {
		return linuxerr.EINVAL
	}
	d := m.dev
	d.mu.Lock()
	d.mappings[m.region]--
	if d.mappings[m.region] == 0 {
		delete(d.mappings, m.region)
		// Translations must go before the pages they point to.
		d.pt.Unmap(m.region.Range())
	}
	d.mu.Unlock()
	m.region.DecRef(ctx)
	return nil
}

// Access performs an access of type at to addr, servicing a fault if the page
// is not mapped.
//
// It returns linuxerr.EFAULT if addr is outside m or at is not permitted,
// and otherwise the result of servicing the fault.
func (m *Mapping) Access(ctx context.Context, addr hostarch.Addr, at hostarch.AccessType) error {
	if m.unmapped.Load() || !m.Range().Contains(addr) {
		return linuxerr.EFAULT
	}
	if !m.region.Perms().SupersetOf(at) {
		return linuxerr.EFAULT
	}
	if _, _, ok := m.dev.pt.Lookup(addr); ok {
		return nil
	}

	// Check again under activeMu: another Mapping of the Region may have
	// serviced the same page since the lookup above.
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	if _, _, ok := m.dev.pt.Lookup(addr); ok {
		return nil
	}
	return m.dev.fc.HandleFault(ctx, m.region, addr)
}

// Bytes returns the memory backing addr up to the end of its page, servicing
// a fault if needed.
func (m *Mapping) Bytes(ctx context.Context, addr hostarch.Addr, at hostarch.AccessType) ([]byte, error) {
	if err := m.Access(ctx, addr, at); err != nil {
		return nil, err
	}
	p, _, ok := m.dev.pt.Lookup(addr)
	if !ok {
		// Unmapped concurrently.
		return nil, linuxerr.EFAULT
	}
	bs, err := m.dev.mf.MapInternal(p)
	if err != nil {
		return nil, err
	}
	return bs[addr.PageOffset():], nil
}
