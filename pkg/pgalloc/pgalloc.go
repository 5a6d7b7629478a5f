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

// Package pgalloc contains the page allocator subsystem, which provides
// allocatable physical pages backed by host memory.
//
// A MemoryFile manages a fixed number of pages with a binary buddy allocator.
// Free runs of each order are kept in address order, so allocation always
// returns the lowest suitable run.
package pgalloc

import (
	"fmt"

	"github.com/google/btree"
	"golang.org/x/sys/unix"
	"lazypage.dev/lazypage/pkg/bits"
	"lazypage.dev/lazypage/pkg/errors/linuxerr"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/log"
	"lazypage.dev/lazypage/pkg/memmap"
	"lazypage.dev/lazypage/pkg/sync"
)

// MemoryFileOpts provides options to NewMemoryFile.
type MemoryFileOpts struct {
	// Pages is the number of pages managed by the MemoryFile. It must be
	// non-zero.
	Pages uint64

	// DisableDecommit prevents freed pages from being returned to the host
	// with madvise(MADV_DONTNEED). Freed pages are then zeroed manually.
	DisableDecommit bool
}

// MemoryFile is a memmap.PagePool whose pages are backed by a private
// anonymous host mapping.
type MemoryFile struct {
	opts MemoryFileOpts

	// mapping is the host mapping backing every page. It is immutable.
	mapping []byte

	// maxOrder is the order of the largest block that fits in the pool. It is
	// immutable.
	maxOrder int

	// mu protects the fields below.
	mu sync.Mutex

	// free[k] holds the first page of every free block of order k.
	free []*btree.BTreeG[memmap.Page]

	// allocated maps the first page of every allocated block to its order.
	allocated map[memmap.Page]int

	// usage is the number of allocated pages.
	usage uint64
}

// Assert that MemoryFile implements memmap.PagePool.
var _ memmap.PagePool = (*MemoryFile)(nil)

func lessPage(a, b memmap.Page) bool {
	return a < b
}

// NewMemoryFile creates a MemoryFile managing opts.Pages pages.
func NewMemoryFile(opts MemoryFileOpts) (*MemoryFile, error) {
	if opts.Pages == 0 {
		return nil, fmt.Errorf("memory file must have at least one page: %w", linuxerr.EINVAL)
	}
	if opts.Pages > uint64(^uint(0)>>1)>>hostarch.PageShift {
		return nil, fmt.Errorf("memory file of %d pages is too large: %w", opts.Pages, linuxerr.EINVAL)
	}
	length := int(opts.Pages << hostarch.PageShift)
	m, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve %d bytes for memory file: %w", length, err)
	}

	f := &MemoryFile{
		opts:      opts,
		mapping:   m,
		maxOrder:  bits.MostSignificantOne64(opts.Pages),
		allocated: make(map[memmap.Page]int),
	}
	f.free = make([]*btree.BTreeG[memmap.Page], f.maxOrder+1)
	for k := range f.free {
		f.free[k] = btree.NewG(2, lessPage)
	}

	// Carve the pool into the largest naturally aligned blocks that fit.
	for start := uint64(0); start < opts.Pages; {
		k := f.maxOrder
		if start != 0 {
			k = min(k, bits.TrailingZeros64(start))
		}
		for start+(uint64(1)<<uint(k)) > opts.Pages {
			k--
		}
		f.free[k].ReplaceOrInsert(memmap.Page(start))
		start += uint64(1) << uint(k)
	}

	log.Debugf("Created memory file with %d pages, max order %d", opts.Pages, f.maxOrder)
	return f, nil
}

// Destroy releases the host memory backing f. No page may be in use.
func (f *MemoryFile) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage != 0 {
		log.Warningf("Destroying memory file with %d pages still allocated", f.usage)
	}
	if err := unix.Munmap(f.mapping); err != nil {
		log.Warningf("Failed to unmap memory file: %v", err)
	}
	f.mapping = nil
}

// AllocatePage implements memmap.PagePool.AllocatePage.
func (f *MemoryFile) AllocatePage() (memmap.Page, error) {
	b, err := f.AllocateBlock(0)
	return b.Start, err
}

// AllocateBlock implements memmap.PagePool.AllocateBlock.
func (f *MemoryFile) AllocateBlock(order int) (memmap.Block, error) {
	if order < 0 {
		return memmap.Block{}, linuxerr.EINVAL
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if order > f.maxOrder {
		return memmap.Block{}, linuxerr.ENOMEM
	}
	k := order
	for k <= f.maxOrder && f.free[k].Len() == 0 {
		k++
	}
	if k > f.maxOrder {
		return memmap.Block{}, linuxerr.ENOMEM
	}
	start, _ := f.free[k].DeleteMin()

	// Split until the block has the requested order, returning the upper
	// halves to the free lists.
	for k > order {
		k--
		f.free[k].ReplaceOrInsert(start + memmap.Page(uint64(1)<<uint(k)))
	}

	b := memmap.Block{Start: start, Order: order}
	f.allocated[start] = order
	f.usage += b.NumPages()
	return b, nil
}

// FreePage implements memmap.PagePool.FreePage.
func (f *MemoryFile) FreePage(p memmap.Page) error {
	return f.FreeBlock(memmap.Block{Start: p})
}

// FreeBlock implements memmap.PagePool.FreeBlock.
//
// Freeing a block that is not allocated, or with a different order than it
// was allocated with, indicates a double free and panics.
func (f *MemoryFile) FreeBlock(b memmap.Block) error {
	if uint64(b.Start) >= f.opts.Pages || b.Order < 0 || b.Order > f.maxOrder {
		return fmt.Errorf("free of %v outside of memory file: %w", b, linuxerr.EINVAL)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.allocated[b.Start]
	if !ok {
		panic(fmt.Sprintf("pgalloc: double free of %v", b))
	}
	if order != b.Order {
		panic(fmt.Sprintf("pgalloc: freeing %v allocated with order %d", b, order))
	}
	delete(f.allocated, b.Start)
	f.usage -= b.NumPages()
	f.decommitLocked(b)

	// Coalesce with free buddies.
	start, k := b.Start, b.Order
	for k < f.maxOrder {
		buddy := start ^ memmap.Page(uint64(1)<<uint(k))
		if _, ok := f.free[k].Delete(buddy); !ok {
			break
		}
		start = min(start, buddy)
		k++
	}
	f.free[k].ReplaceOrInsert(start)
	return nil
}

// decommitLocked returns the memory of b to the host, so that it reads as
// zero when next allocated.
//
// Preconditions: f.mu must be locked.
func (f *MemoryFile) decommitLocked(b memmap.Block) {
	bs := f.blockSlice(b)
	if !f.opts.DisableDecommit {
		err := unix.Madvise(bs, unix.MADV_DONTNEED)
		if err == nil {
			return
		}
		log.Warningf("Failed to decommit %v, zeroing manually: %v", b, err)
	}
	clear(bs)
}

func (f *MemoryFile) blockSlice(b memmap.Block) []byte {
	start := b.Start.Offset()
	end := start + b.NumPages()<<hostarch.PageShift
	return f.mapping[start:end:end]
}

// MapInternal returns the host memory backing page p.
//
// Preconditions: p must be part of an allocated block.
func (f *MemoryFile) MapInternal(p memmap.Page) ([]byte, error) {
	if uint64(p) >= f.opts.Pages {
		return nil, fmt.Errorf("%v outside of memory file: %w", p, linuxerr.EFAULT)
	}
	return f.blockSlice(memmap.Block{Start: p}), nil
}

// TotalPages returns the number of pages managed by f.
func (f *MemoryFile) TotalPages() uint64 {
	return f.opts.Pages
}

// MaxOrder returns the order of the largest block f can ever allocate.
func (f *MemoryFile) MaxOrder() int {
	return f.maxOrder
}

// Usage returns the number of pages currently allocated.
func (f *MemoryFile) Usage() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage
}

// String implements fmt.Stringer.String.
func (f *MemoryFile) String() string {
	return fmt.Sprintf("MemoryFile(%d pages)", f.opts.Pages)
}
