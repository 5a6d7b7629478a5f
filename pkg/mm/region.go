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

package mm

import (
	"context"
	"fmt"

	"lazypage.dev/lazypage/pkg/atomicbitops"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/log"
	"lazypage.dev/lazypage/pkg/memmap"
	"lazypage.dev/lazypage/pkg/refs"
	"lazypage.dev/lazypage/pkg/sync"
)

// lastRegionID is the ID of the most recently created Region.
var lastRegionID atomicbitops.Uint64

// A Region is a range of virtual memory together with the physical pages that
// back it. Regions are created by FaultController.CreateRegion holding one
// reference.
type Region struct {
	refs.Refs

	// id uniquely identifies the Region in logs. It is immutable.
	id uint64

	// ar is the range the Region was created for. It is immutable.
	ar hostarch.AddrRange

	// perms are the permissions installed for every page. They are immutable.
	perms hostarch.AccessType

	// pool is the PagePool the Region's pages are returned to.
	pool memmap.PagePool

	// backing owns the Region's pages. Its dynamic type is fixed by the
	// policy in effect at creation.
	backing backing
}

var _ refs.RefCounter = (*Region)(nil)

// backing is the page ownership of a Region.
type backing interface {
	// policy returns the policy this backing implements.
	policy() Policy

	// numPages returns the number of pages currently owned.
	numPages() uint64

	// release frees every owned page to pool and returns the number freed.
	// It is called exactly once.
	release(ctx context.Context, id uint64, pool memmap.PagePool) uint64
}

// demandBacking owns pages acquired one fault at a time.
type demandBacking struct {
	mu sync.Mutex

	// ledger holds one record per serviced fault. Protected by mu.
	ledger []PageRecord

	// dead is set by release. Protected by mu.
	dead bool
}

func (*demandBacking) policy() Policy {
	return PolicyDemand
}

func (b *demandBacking) numPages() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.ledger))
}

// record appends a serviced fault to the ledger.
func (b *demandBacking) record(id uint64, p memmap.Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		panic(fmt.Sprintf("region %d: fault recorded after teardown", id))
	}
	b.ledger = append(b.ledger, PageRecord{Page: p})
}

func (b *demandBacking) release(ctx context.Context, id uint64, pool memmap.PagePool) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = true
	var freed uint64
	for _, pr := range b.ledger {
		if err := pool.FreePage(pr.Page); err != nil {
			log.Warningf("Region %d: failed to free %v: %v", id, pr.Page, err)
			continue
		}
		Stats.PagesFreed.Increment()
		freed++
	}
	b.ledger = nil
	return freed
}

// prepagedBacking owns one block allocated at creation.
type prepagedBacking struct {
	block memmap.Block
}

func (*prepagedBacking) policy() Policy {
	return PolicyPrepage
}

func (b *prepagedBacking) numPages() uint64 {
	return b.block.NumPages()
}

func (b *prepagedBacking) release(ctx context.Context, id uint64, pool memmap.PagePool) uint64 {
	if err := pool.FreeBlock(b.block); err != nil {
		log.Warningf("Region %d: failed to free %v: %v", id, b.block, err)
		return 0
	}
	n := b.block.NumPages()
	Stats.PagesFreed.IncrementBy(n)
	return n
}

// ID returns the Region's identifier.
func (r *Region) ID() uint64 {
	return r.id
}

// Range returns the address range the Region was created for.
func (r *Region) Range() hostarch.AddrRange {
	return r.ar
}

// Perms returns the permissions of the Region's mappings.
func (r *Region) Perms() hostarch.AccessType {
	return r.perms
}

// Policy returns the policy the Region was created under.
func (r *Region) Policy() Policy {
	return r.backing.policy()
}

// NumPages returns the number of physical pages the Region owns.
func (r *Region) NumPages() uint64 {
	return r.backing.numPages()
}

// Block returns the block backing a pre-paged Region.
func (r *Region) Block() (memmap.Block, bool) {
	if b, ok := r.backing.(*prepagedBacking); ok {
		return b.block, true
	}
	return memmap.Block{}, false
}

// Pages returns a snapshot of the pages owned by a demand-paged Region, in
// fault order.
func (r *Region) Pages() []memmap.Page {
	b, ok := r.backing.(*demandBacking)
	if !ok {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pages := make([]memmap.Page, 0, len(b.ledger))
	for _, pr := range b.ledger {
		pages = append(pages, pr.Page)
	}
	return pages
}

// IncRef takes a reference on the Region for a new mapping.
//
// Preconditions: The caller must already hold a reference.
func (r *Region) IncRef() {
	r.Refs.IncRef(r)
}

// DecRef drops a reference on the Region. The caller that drops the last
// reference frees every page the Region owns.
func (r *Region) DecRef(ctx context.Context) {
	r.Refs.DecRef(r, func() {
		freed := r.backing.release(ctx, r.id, r.pool)
		log.Infof("Region %d (%v, %v) torn down, freed %d pages", r.id, r.ar, r.backing.policy(), freed)
	})
}

// RefType implements refs.CheckedObject.RefType.
func (r *Region) RefType() string {
	return "mm.Region"
}

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (r *Region) LeakMessage() string {
	return fmt.Sprintf("[mm.Region %d %v] reference count of %d instead of 0", r.id, r.ar, r.ReadRefs())
}

// LogRefs implements refs.CheckedObject.LogRefs.
func (r *Region) LogRefs() bool {
	return false
}

// String implements fmt.Stringer.String.
func (r *Region) String() string {
	return fmt.Sprintf("region %d %v", r.id, r.ar)
}
