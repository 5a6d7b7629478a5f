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

// Package pagetables provides a software page table that records
// virtual-to-physical translations installed by the fault path.
package pagetables

import (
	"context"
	"fmt"

	"lazypage.dev/lazypage/pkg/errors/linuxerr"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/log"
	"lazypage.dev/lazypage/pkg/memmap"
	"lazypage.dev/lazypage/pkg/sync"
)

const (
	pteShift   = hostarch.PageShift
	pteCount   = 512
	tableShift = pteShift + 9
	tableSize  = uint64(1) << tableShift
)

// MapOpts are the attributes of a single translation.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType
}

// PTE is a page table entry.
//
// Bits [63:12] hold the page frame, bit 0 is the valid bit and bits [3:1]
// hold the read, write and execute permissions.
type PTE uint64

const (
	pteValid PTE = 1 << iota
	pteRead
	pteWrite
	pteExecute
)

// Valid returns true iff this entry is valid.
func (p PTE) Valid() bool {
	return p&pteValid != 0
}

// Page returns the page frame the entry points to.
func (p PTE) Page() memmap.Page {
	return memmap.Page(uint64(p) >> pteShift)
}

// Opts returns the PTE options.
func (p PTE) Opts() MapOpts {
	return MapOpts{AccessType: hostarch.AccessType{
		Read:    p&pteRead != 0,
		Write:   p&pteWrite != 0,
		Execute: p&pteExecute != 0,
	}}
}

func makePTE(p memmap.Page, opts MapOpts) PTE {
	e := PTE(uint64(p)<<pteShift) | pteValid
	if opts.AccessType.Read {
		e |= pteRead
	}
	if opts.AccessType.Write {
		e |= pteWrite
	}
	if opts.AccessType.Execute {
		e |= pteExecute
	}
	return e
}

// PTEs is a collection of entries covering tableSize bytes of address space.
type PTEs struct {
	entries [pteCount]PTE
	valid   uint16
}

// PageTables is a set of translations, indexed by virtual page.
//
// PageTables implements memmap.AddressMapper.
type PageTables struct {
	// maxEntries bounds the number of valid entries. Zero means unlimited.
	maxEntries uint64

	mu sync.RWMutex

	// tables maps the upper address bits to the entries covering them.
	tables map[uint64]*PTEs

	// entries is the number of valid entries.
	entries uint64
}

// Assert that PageTables implements memmap.AddressMapper.
var _ memmap.AddressMapper = (*PageTables)(nil)

// New returns new PageTables holding at most maxEntries translations. A
// maxEntries of zero imposes no bound.
func New(maxEntries uint64) *PageTables {
	return &PageTables{
		maxEntries: maxEntries,
		tables:     make(map[uint64]*PTEs),
	}
}

func split(addr hostarch.Addr) (uint64, uint16) {
	return uint64(addr) >> tableShift, uint16((uint64(addr) >> pteShift) % pteCount)
}

// Map installs a translation for the page at addr.
//
// An existing translation for addr is replaced. It returns ENOSPC if the
// table is full, and EINVAL if addr is not page-aligned.
func (p *PageTables) Map(addr hostarch.Addr, opts MapOpts, pg memmap.Page) error {
	if !addr.IsPageAligned() {
		return fmt.Errorf("map of unaligned address %v: %w", addr, linuxerr.EINVAL)
	}
	top, idx := split(addr)

	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tables[top]
	if !ok || !t.entries[idx].Valid() {
		if p.maxEntries != 0 && p.entries >= p.maxEntries {
			return linuxerr.ENOSPC
		}
		if !ok {
			t = &PTEs{}
			p.tables[top] = t
		}
		t.valid++
		p.entries++
	}
	t.entries[idx] = makePTE(pg, opts)
	return nil
}

// InstallMapping implements memmap.AddressMapper.InstallMapping.
func (p *PageTables) InstallMapping(ctx context.Context, addr hostarch.Addr, pg memmap.Page, perms hostarch.AccessType) error {
	if err := p.Map(addr, MapOpts{AccessType: perms}, pg); err != nil {
		return err
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("Mapped %v -> %v (%v)", addr, pg, perms)
	}
	return nil
}

// Lookup returns the translation for the page containing addr.
func (p *PageTables) Lookup(addr hostarch.Addr) (memmap.Page, MapOpts, bool) {
	top, idx := split(addr)
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tables[top]
	if !ok {
		return 0, MapOpts{}, false
	}
	e := t.entries[idx]
	if !e.Valid() {
		return 0, MapOpts{}, false
	}
	return e.Page(), e.Opts(), true
}

// Unmap removes all translations in ar and returns the number removed.
// Tables left with no valid entries are released.
func (p *PageTables) Unmap(ar hostarch.AddrRange) uint64 {
	var removed uint64
	p.mu.Lock()
	defer p.mu.Unlock()
	start := ar.Start.RoundDown()
	for start < ar.End {
		top, idx := split(start)
		next := hostarch.Addr((uint64(start) + tableSize) &^ (tableSize - 1))
		if next < start || next > ar.End {
			next = ar.End
		}
		t, ok := p.tables[top]
		if !ok {
			start = next
			continue
		}
		for a := start; a < next; a += hostarch.PageSize {
			if t.entries[idx].Valid() {
				t.entries[idx] = 0
				t.valid--
				removed++
			}
			idx++
			if a+hostarch.PageSize < a {
				break
			}
		}
		if t.valid == 0 {
			delete(p.tables, top)
		}
		if next <= start {
			break
		}
		start = next
	}
	p.entries -= removed
	return removed
}

// Entries returns the number of valid translations.
func (p *PageTables) Entries() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries
}

// Tables returns the number of allocated entry tables.
func (p *PageTables) Tables() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tables)
}
