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

// Package memmap defines the interfaces between a region controller and the
// environment that backs its memory: a pool of physical pages and a mechanism
// for installing virtual-to-physical translations.
package memmap

import (
	"context"
	"fmt"

	"lazypage.dev/lazypage/pkg/hostarch"
)

// Page is a physical page frame number. Frame n covers bytes
// [n*hostarch.PageSize, (n+1)*hostarch.PageSize) of the pool that issued it.
type Page uint64

// Offset returns the byte offset of p in its pool.
func (p Page) Offset() uint64 {
	return uint64(p) << hostarch.PageShift
}

// String implements fmt.Stringer.String.
func (p Page) String() string {
	return fmt.Sprintf("pfn %#x", uint64(p))
}

// Block is a run of 2^Order physically contiguous pages starting at Start.
type Block struct {
	// Start is the first page of the block. It is aligned to the block size.
	Start Page

	// Order is the binary log of the number of pages in the block.
	Order int
}

// NumPages returns the number of pages in b.
func (b Block) NumPages() uint64 {
	return uint64(1) << uint(b.Order)
}

// Page returns the i-th page of b.
//
// Preconditions: i < b.NumPages().
func (b Block) Page(i uint64) Page {
	return b.Start + Page(i)
}

// String implements fmt.Stringer.String.
func (b Block) String() string {
	return fmt.Sprintf("[pfn %#x, order %d]", uint64(b.Start), b.Order)
}

// PagePool allocates and frees physical pages.
//
// All methods are safe for concurrent use.
type PagePool interface {
	// AllocatePage allocates a single page. It returns linuxerr.ENOMEM if the
	// pool is exhausted.
	AllocatePage() (Page, error)

	// AllocateBlock allocates 2^order contiguous pages. It returns
	// linuxerr.ENOMEM if no such run is available.
	AllocateBlock(order int) (Block, error)

	// FreePage returns a page obtained from AllocatePage to the pool.
	FreePage(p Page) error

	// FreeBlock returns a block obtained from AllocateBlock to the pool. The
	// block's order must match the order it was allocated with.
	FreeBlock(b Block) error
}

// AddressMapper installs virtual-to-physical translations.
type AddressMapper interface {
	// InstallMapping maps the page-aligned address addr to page p with the
	// given permissions, for exactly one page of address space.
	InstallMapping(ctx context.Context, addr hostarch.Addr, p Page, perms hostarch.AccessType) error
}

// BusError is returned for failures that should result in SIGBUS delivery if
// they cause application page fault handling to fail.
type BusError struct {
	// Err is the original error.
	Err error
}

// Error implements error.Error.
func (b *BusError) Error() string {
	return fmt.Sprintf("BusError: %v", b.Err.Error())
}

// Unwrap returns the original error.
func (b *BusError) Unwrap() error {
	return b.Err
}

// FaultResult is the outcome of servicing a fault, as reported to the fault
// dispatcher.
type FaultResult int

const (
	// FaultMapped indicates that the faulting page is now mapped and the
	// access may be retried.
	FaultMapped FaultResult = iota

	// FaultOOM indicates that no physical memory was available. The
	// dispatcher should fail the access as out of memory.
	FaultOOM

	// FaultSIGBUS indicates that the fault could not be serviced and the
	// access must fail.
	FaultSIGBUS
)

// String implements fmt.Stringer.String.
func (r FaultResult) String() string {
	switch r {
	case FaultMapped:
		return "Mapped"
	case FaultOOM:
		return "OutOfMemory"
	case FaultSIGBUS:
		return "MapFailed"
	default:
		return fmt.Sprintf("FaultResult(%d)", int(r))
	}
}
