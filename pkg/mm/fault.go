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
	"errors"
	"fmt"
	"time"

	"lazypage.dev/lazypage/pkg/errors/linuxerr"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/log"
	"lazypage.dev/lazypage/pkg/memmap"
)

// oomLog reports allocation failures on the fault path, which can repeat once
// per access while the pool is exhausted.
var oomLog = log.BasicRateLimitedLogger(time.Second)

// FaultController creates Regions and services faults on them.
type FaultController struct {
	pool   memmap.PagePool
	mapper memmap.AddressMapper
	policy Policy
}

// NewFaultController returns a FaultController that backs Regions with pages
// from pool, installs translations with mapper and applies policy to every
// Region it creates.
func NewFaultController(pool memmap.PagePool, mapper memmap.AddressMapper, policy Policy) *FaultController {
	return &FaultController{
		pool:   pool,
		mapper: mapper,
		policy: policy,
	}
}

// Policy returns the policy applied to new Regions.
func (fc *FaultController) Policy() Policy {
	return fc.policy
}

// CreateRegion creates a Region of length bytes for the page-aligned range ar.
// The returned Region holds one reference.
//
// Under PolicyDemand no pages are allocated. Under PolicyPrepage a block of
// BlockOrder(length) is allocated and every page of it that falls in ar is
// mapped; CreateRegion returns linuxerr.ENOMEM if the block cannot be
// allocated, and a *memmap.BusError if a mapping cannot be installed.
func (fc *FaultController) CreateRegion(ctx context.Context, length uint64, ar hostarch.AddrRange, perms hostarch.AccessType) (*Region, error) {
	if !ar.WellFormed() || !ar.IsPageAligned() || ar.Length() == 0 {
		return nil, fmt.Errorf("invalid region range %v: %w", ar, linuxerr.EINVAL)
	}
	r := &Region{
		id:    lastRegionID.Add(1),
		ar:    ar,
		perms: perms,
		pool:  fc.pool,
	}

	switch fc.policy {
	case PolicyDemand:
		r.backing = &demandBacking{}
	case PolicyPrepage:
		b, err := fc.prepage(ctx, r.id, length, ar, perms)
		if err != nil {
			return nil, err
		}
		r.backing = &prepagedBacking{block: b}
	default:
		panic(fmt.Sprintf("unknown policy %v", fc.policy))
	}

	r.InitRefs(r)
	log.Debugf("Created %v: %d bytes, %v, %v", r, length, perms, fc.policy)
	return r, nil
}

// prepage allocates and maps the block backing a pre-paged Region.
func (fc *FaultController) prepage(ctx context.Context, id uint64, length uint64, ar hostarch.AddrRange, perms hostarch.AccessType) (memmap.Block, error) {
	order := BlockOrder(length)
	b, err := fc.pool.AllocateBlock(order)
	if err != nil {
		oomLog.Infof("Region %d: cannot allocate block of order %d for %d bytes: %v", id, order, length, err)
		return memmap.Block{}, linuxerr.ENOMEM
	}
	Stats.PagesAllocated.IncrementBy(b.NumPages())

	// Pages of the block beyond ar stay owned but unmapped.
	n := min(b.NumPages(), ar.NumPages())
	for i := uint64(0); i < n; i++ {
		addr := ar.Start + hostarch.Addr(i<<hostarch.PageShift)
		if err := fc.mapper.InstallMapping(ctx, addr, b.Page(i), perms); err != nil {
			if ferr := fc.pool.FreeBlock(b); ferr != nil {
				log.Warningf("Region %d: failed to free %v: %v", id, b, ferr)
			} else {
				Stats.PagesFreed.IncrementBy(b.NumPages())
			}
			return memmap.Block{}, &memmap.BusError{Err: fmt.Errorf("mapping %v: %w", addr, err)}
		}
	}
	return b, nil
}

// HandleFault services a fault at addr in r.
//
// It returns nil if the page containing addr is now mapped, linuxerr.ENOMEM
// if no page could be allocated, and a *memmap.BusError if the fault cannot
// be serviced. Faults are not de-duplicated: each call under PolicyDemand
// allocates a fresh page.
//
// Preconditions: The caller must hold a reference on r.
func (fc *FaultController) HandleFault(ctx context.Context, r *Region, addr hostarch.Addr) error {
	if r.ReadRefs() <= 0 {
		panic(fmt.Sprintf("fault at %v on %v after teardown", addr, r))
	}
	b, ok := r.backing.(*demandBacking)
	if !ok {
		// A pre-paged region never faults on a mapped page.
		log.Debugf("Fault at %v on pre-paged %v", addr, r)
		return &memmap.BusError{Err: linuxerr.EFAULT}
	}
	if !r.ar.Contains(addr) {
		log.Debugf("Fault at %v outside of %v", addr, r)
		return &memmap.BusError{Err: linuxerr.EFAULT}
	}

	p, err := fc.pool.AllocatePage()
	if err != nil {
		oomLog.Infof("Region %d: cannot allocate page for fault at %v: %v", r.id, addr, err)
		return linuxerr.ENOMEM
	}
	if err := fc.mapper.InstallMapping(ctx, addr.RoundDown(), p, r.perms); err != nil {
		if ferr := fc.pool.FreePage(p); ferr != nil {
			log.Warningf("Region %d: failed to free %v: %v", r.id, p, ferr)
		}
		return &memmap.BusError{Err: err}
	}
	b.record(r.id, p)
	Stats.PagesAllocated.Increment()
	if log.IsLogging(log.Debug) {
		log.Debugf("Fault at %v on %v mapped %v", addr, r, p)
	}
	return nil
}

// FaultResultOf classifies an error returned by HandleFault.
func FaultResultOf(err error) memmap.FaultResult {
	if err == nil {
		return memmap.FaultMapped
	}
	var be *memmap.BusError
	if errors.As(err, &be) {
		return memmap.FaultSIGBUS
	}
	if linuxerr.Equals(linuxerr.ENOMEM, err) {
		return memmap.FaultOOM
	}
	return memmap.FaultSIGBUS
}
