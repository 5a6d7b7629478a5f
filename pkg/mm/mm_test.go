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
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"lazypage.dev/lazypage/pkg/errors/linuxerr"
	"lazypage.dev/lazypage/pkg/hostarch"
	"lazypage.dev/lazypage/pkg/memmap"
	"lazypage.dev/lazypage/pkg/sync"
)

// testPool is a memmap.PagePool that hands out increasing page numbers and
// records what is outstanding.
type testPool struct {
	mu        sync.Mutex
	limit     uint64
	next      memmap.Page
	live      map[memmap.Page]int
	allocs    int
	frees     int
	usedPages uint64
}

func newTestPool(limit uint64) *testPool {
	return &testPool{limit: limit, live: make(map[memmap.Page]int)}
}

func (p *testPool) AllocatePage() (memmap.Page, error) {
	b, err := p.AllocateBlock(0)
	return b.Start, err
}

func (p *testPool) AllocateBlock(order int) (memmap.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := uint64(1) << uint(order)
	if p.usedPages+n > p.limit {
		return memmap.Block{}, linuxerr.ENOMEM
	}
	// Keep blocks aligned to their size.
	start := (p.next + memmap.Page(n) - 1) &^ (memmap.Page(n) - 1)
	p.next = start + memmap.Page(n)
	p.live[start] = order
	p.usedPages += n
	p.allocs++
	return memmap.Block{Start: start, Order: order}, nil
}

func (p *testPool) FreePage(pg memmap.Page) error {
	return p.FreeBlock(memmap.Block{Start: pg})
}

func (p *testPool) FreeBlock(b memmap.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.live[b.Start]
	if !ok || order != b.Order {
		panic(fmt.Sprintf("bad free of %v", b))
	}
	delete(p.live, b.Start)
	p.usedPages -= b.NumPages()
	p.frees++
	return nil
}

func (p *testPool) outstanding() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usedPages
}

func (p *testPool) counts() (allocs, frees int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs, p.frees
}

// testMapper is a memmap.AddressMapper that records installed translations.
// Once failAfter installs have succeeded, every further install fails.
type testMapper struct {
	mu        sync.Mutex
	installed map[hostarch.Addr]memmap.Page
	calls     int
	failAfter int
}

var errInjected = errors.New("injected mapping failure")

func newTestMapper() *testMapper {
	return &testMapper{installed: make(map[hostarch.Addr]memmap.Page), failAfter: -1}
}

func (m *testMapper) InstallMapping(ctx context.Context, addr hostarch.Addr, p memmap.Page, perms hostarch.AccessType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("unaligned install at %v", addr))
	}
	if m.failAfter >= 0 && m.calls >= m.failAfter {
		return errInjected
	}
	m.calls++
	m.installed[addr] = p
	return nil
}

const testBase = hostarch.Addr(0x10000000)

func testRange(pages uint64) hostarch.AddrRange {
	return hostarch.AddrRange{Start: testBase, End: testBase + hostarch.Addr(pages*hostarch.PageSize)}
}

type statsDelta struct {
	allocated, freed uint64
}

func snapshotStats() statsDelta {
	return statsDelta{Stats.PagesAllocated.Value(), Stats.PagesFreed.Value()}
}

func (s statsDelta) since(before statsDelta) statsDelta {
	return statsDelta{s.allocated - before.allocated, s.freed - before.freed}
}

func createRegion(t *testing.T, fc *FaultController, pages uint64) *Region {
	t.Helper()
	r, err := fc.CreateRegion(context.Background(), pages*hostarch.PageSize, testRange(pages), hostarch.ReadWrite)
	if err != nil {
		t.Fatalf("CreateRegion(%d pages) failed: %v", pages, err)
	}
	return r
}

func TestRefcount(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(16)
	fc := NewFaultController(pool, newTestMapper(), PolicyDemand)
	r := createRegion(t, fc, 4)
	if got := r.ReadRefs(); got != 1 {
		t.Fatalf("new region has %d refs, want 1", got)
	}
	if err := fc.HandleFault(ctx, r, testBase); err != nil {
		t.Fatalf("HandleFault failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		r.IncRef()
	}
	if got := r.ReadRefs(); got != 4 {
		t.Errorf("after 3 opens: got %d refs, want 4", got)
	}
	for i := 0; i < 3; i++ {
		r.DecRef(ctx)
	}
	if got := r.ReadRefs(); got != 1 {
		t.Errorf("after 3 closes: got %d refs, want 1", got)
	}
	if _, frees := pool.counts(); frees != 0 {
		t.Errorf("pages freed while references remain: %d", frees)
	}

	r.DecRef(ctx)
	if got := pool.outstanding(); got != 0 {
		t.Errorf("after last close: %d pages outstanding, want 0", got)
	}
}

func TestDecRefUnderflowPanics(t *testing.T) {
	ctx := context.Background()
	fc := NewFaultController(newTestPool(1), newTestMapper(), PolicyDemand)
	r := createRegion(t, fc, 1)
	r.DecRef(ctx)
	defer func() {
		if recover() == nil {
			t.Errorf("DecRef on a dead region did not panic")
		}
	}()
	r.DecRef(ctx)
}

func TestDemandCreateAllocatesNothing(t *testing.T) {
	pool := newTestPool(16)
	mapper := newTestMapper()
	fc := NewFaultController(pool, mapper, PolicyDemand)
	r := createRegion(t, fc, 8)
	defer r.DecRef(context.Background())

	if allocs, _ := pool.counts(); allocs != 0 {
		t.Errorf("demand region creation allocated %d times", allocs)
	}
	if mapper.calls != 0 {
		t.Errorf("demand region creation installed %d mappings", mapper.calls)
	}
	if r.Policy() != PolicyDemand {
		t.Errorf("Policy: got %v, want %v", r.Policy(), PolicyDemand)
	}
}

func TestFaultsGrowLedger(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(64)
	mapper := newTestMapper()
	fc := NewFaultController(pool, mapper, PolicyDemand)
	r := createRegion(t, fc, 8)
	defer r.DecRef(ctx)

	before := snapshotStats()
	var want []memmap.Page
	for i := 0; i < 5; i++ {
		addr := testBase + hostarch.Addr(i)*hostarch.PageSize + 0x123
		if err := fc.HandleFault(ctx, r, addr); err != nil {
			t.Fatalf("HandleFault(%v) failed: %v", addr, err)
		}
		want = append(want, mapper.installed[addr.RoundDown()])
		if got := r.NumPages(); got != uint64(i+1) {
			t.Errorf("after %d faults: region owns %d pages", i+1, got)
		}
	}
	if diff := cmp.Diff(want, r.Pages()); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}
	if got := snapshotStats().since(before); got != (statsDelta{allocated: 5}) {
		t.Errorf("stats delta: got %+v, want 5 allocated", got)
	}
}

func TestRepeatedFaultAllocatesAgain(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(4)
	fc := NewFaultController(pool, newTestMapper(), PolicyDemand)
	r := createRegion(t, fc, 1)
	for i := 0; i < 3; i++ {
		if err := fc.HandleFault(ctx, r, testBase); err != nil {
			t.Fatalf("HandleFault %d failed: %v", i, err)
		}
	}
	if got := r.NumPages(); got != 3 {
		t.Errorf("region owns %d pages after 3 faults on one address, want 3", got)
	}
	r.DecRef(ctx)
	if got := pool.outstanding(); got != 0 {
		t.Errorf("%d pages outstanding after teardown", got)
	}
}

func TestOrder(t *testing.T) {
	for _, test := range []struct {
		pages uint64
		want  int
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{8, 3},
		{1024, 10},
		{1025, 11},
	} {
		if got := PageCountOrder(test.pages); got != test.want {
			t.Errorf("PageCountOrder(%d): got %d, want %d", test.pages, got, test.want)
		}
	}

	for _, test := range []struct {
		size uint64
		want int
	}{
		{0, 0},
		{1, 0},
		{hostarch.PageSize, 0},
		{hostarch.PageSize + 1, 1},
		{2 * hostarch.PageSize, 1},
		{3 * hostarch.PageSize, 2},
		{1024 * hostarch.PageSize, 10},
		{1024*hostarch.PageSize + 1, 11},
	} {
		if got := BlockOrder(test.size); got != test.want {
			t.Errorf("BlockOrder(%d): got %d, want %d", test.size, got, test.want)
		}
	}
}

func TestCloseFreesEveryFaultedPage(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{0, 1, 7} {
		t.Run(fmt.Sprintf("%d faults", n), func(t *testing.T) {
			pool := newTestPool(16)
			fc := NewFaultController(pool, newTestMapper(), PolicyDemand)
			r := createRegion(t, fc, 8)
			for i := 0; i < n; i++ {
				if err := fc.HandleFault(ctx, r, testBase+hostarch.Addr(i)*hostarch.PageSize); err != nil {
					t.Fatalf("HandleFault failed: %v", err)
				}
			}
			before := snapshotStats()
			r.DecRef(ctx)
			if got := snapshotStats().since(before); got.freed != uint64(n) {
				t.Errorf("teardown counted %d frees, want %d", got.freed, n)
			}
			if _, frees := pool.counts(); frees != n {
				t.Errorf("pool saw %d frees, want %d", frees, n)
			}
			if got := pool.outstanding(); got != 0 {
				t.Errorf("%d pages outstanding after teardown", got)
			}
		})
	}
}

func TestConcurrentCloseTearsDownOnce(t *testing.T) {
	ctx := context.Background()
	const (
		mappings = 32
		faults   = 6
	)
	pool := newTestPool(faults)
	fc := NewFaultController(pool, newTestMapper(), PolicyDemand)
	r := createRegion(t, fc, faults)
	for i := 0; i < faults; i++ {
		if err := fc.HandleFault(ctx, r, testBase+hostarch.Addr(i)*hostarch.PageSize); err != nil {
			t.Fatalf("HandleFault failed: %v", err)
		}
	}
	for i := 1; i < mappings; i++ {
		r.IncRef()
	}

	var g errgroup.Group
	for i := 0; i < mappings; i++ {
		g.Go(func() error {
			r.DecRef(ctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// testPool panics on a double free, so equal counts mean each page was
	// freed exactly once.
	if _, frees := pool.counts(); frees != faults {
		t.Errorf("pool saw %d frees, want %d", frees, faults)
	}
	if got := r.ReadRefs(); got != 0 {
		t.Errorf("region has %d refs after all closes", got)
	}
}

func TestConcurrentFaults(t *testing.T) {
	ctx := context.Background()
	const pages = 64
	pool := newTestPool(pages)
	fc := NewFaultController(pool, newTestMapper(), PolicyDemand)
	r := createRegion(t, fc, pages)

	var g errgroup.Group
	for i := 0; i < pages; i++ {
		addr := testBase + hostarch.Addr(i)*hostarch.PageSize
		g.Go(func() error {
			return fc.HandleFault(ctx, r, addr)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("HandleFault failed: %v", err)
	}
	if got := r.NumPages(); got != pages {
		t.Errorf("region owns %d pages, want %d", got, pages)
	}
	r.DecRef(ctx)
	if got := pool.outstanding(); got != 0 {
		t.Errorf("%d pages outstanding after teardown", got)
	}
}

func TestPrepage(t *testing.T) {
	ctx := context.Background()
	for _, test := range []struct {
		pages     uint64
		order     int
		installed int
	}{
		{pages: 1, order: 0, installed: 1},
		{pages: 3, order: 2, installed: 3},
		{pages: 4, order: 2, installed: 4},
		{pages: 5, order: 3, installed: 5},
	} {
		t.Run(fmt.Sprintf("%d pages", test.pages), func(t *testing.T) {
			pool := newTestPool(64)
			mapper := newTestMapper()
			fc := NewFaultController(pool, mapper, PolicyPrepage)

			before := snapshotStats()
			r := createRegion(t, fc, test.pages)
			b, ok := r.Block()
			if !ok {
				t.Fatalf("pre-paged region has no block")
			}
			if b.Order != test.order {
				t.Errorf("block order: got %d, want %d", b.Order, test.order)
			}
			wantPages := uint64(1) << uint(test.order)
			if got := pool.outstanding(); got != wantPages {
				t.Errorf("pool outstanding: got %d, want %d", got, wantPages)
			}
			if got := snapshotStats().since(before); got.allocated != wantPages {
				t.Errorf("PagesAllocated delta: got %d, want %d", got.allocated, wantPages)
			}
			if mapper.calls != test.installed {
				t.Errorf("installed %d mappings, want %d", mapper.calls, test.installed)
			}
			for i := 0; i < test.installed; i++ {
				addr := testBase + hostarch.Addr(i)*hostarch.PageSize
				if got, want := mapper.installed[addr], b.Page(uint64(i)); got != want {
					t.Errorf("mapping at %v: got %v, want %v", addr, got, want)
				}
			}

			allocs, _ := pool.counts()
			err := fc.HandleFault(ctx, r, testBase)
			if got := FaultResultOf(err); got != memmap.FaultSIGBUS {
				t.Errorf("fault on pre-paged region: got %v, want %v", got, memmap.FaultSIGBUS)
			}
			if got, _ := pool.counts(); got != allocs {
				t.Errorf("fault on pre-paged region allocated %d times", got-allocs)
			}

			before = snapshotStats()
			r.DecRef(ctx)
			if got := pool.outstanding(); got != 0 {
				t.Errorf("%d pages outstanding after teardown", got)
			}
			if got := snapshotStats().since(before); got.freed != wantPages {
				t.Errorf("PagesFreed delta: got %d, want %d", got.freed, wantPages)
			}
		})
	}
}

func TestPrepageOutOfMemory(t *testing.T) {
	pool := newTestPool(2)
	fc := NewFaultController(pool, newTestMapper(), PolicyPrepage)
	_, err := fc.CreateRegion(context.Background(), 3*hostarch.PageSize, testRange(3), hostarch.ReadWrite)
	if !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("CreateRegion: got err %v, want ENOMEM", err)
	}
}

func TestDemandOutOfMemory(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(1)
	fc := NewFaultController(pool, newTestMapper(), PolicyDemand)
	r := createRegion(t, fc, 2)
	defer r.DecRef(ctx)

	if err := fc.HandleFault(ctx, r, testBase); err != nil {
		t.Fatalf("first HandleFault failed: %v", err)
	}
	err := fc.HandleFault(ctx, r, testBase+hostarch.PageSize)
	if got := FaultResultOf(err); got != memmap.FaultOOM {
		t.Errorf("fault on exhausted pool: got %v (%v), want %v", got, err, memmap.FaultOOM)
	}
	if got := r.NumPages(); got != 1 {
		t.Errorf("region owns %d pages, want 1", got)
	}
}

func TestMappingFailureLeaksNothing(t *testing.T) {
	ctx := context.Background()
	t.Run("demand", func(t *testing.T) {
		pool := newTestPool(4)
		mapper := newTestMapper()
		mapper.failAfter = 0
		fc := NewFaultController(pool, mapper, PolicyDemand)
		r := createRegion(t, fc, 4)
		defer r.DecRef(ctx)

		err := fc.HandleFault(ctx, r, testBase)
		if got := FaultResultOf(err); got != memmap.FaultSIGBUS {
			t.Errorf("got %v, want %v", got, memmap.FaultSIGBUS)
		}
		if !errors.Is(err, errInjected) {
			t.Errorf("error %v does not wrap the mapping failure", err)
		}
		if got := pool.outstanding(); got != 0 {
			t.Errorf("%d pages leaked", got)
		}
		if got := r.NumPages(); got != 0 {
			t.Errorf("failed fault left %d ledger entries", got)
		}
	})
	t.Run("prepage", func(t *testing.T) {
		pool := newTestPool(8)
		mapper := newTestMapper()
		mapper.failAfter = 2
		fc := NewFaultController(pool, mapper, PolicyPrepage)
		_, err := fc.CreateRegion(ctx, 4*hostarch.PageSize, testRange(4), hostarch.ReadWrite)
		var be *memmap.BusError
		if !errors.As(err, &be) {
			t.Errorf("CreateRegion: got err %v, want *memmap.BusError", err)
		}
		if got := pool.outstanding(); got != 0 {
			t.Errorf("%d pages leaked", got)
		}
	})
}

func TestFaultOutsideRegion(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(4)
	fc := NewFaultController(pool, newTestMapper(), PolicyDemand)
	r := createRegion(t, fc, 1)
	defer r.DecRef(ctx)
	err := fc.HandleFault(ctx, r, testBase+hostarch.PageSize)
	if got := FaultResultOf(err); got != memmap.FaultSIGBUS {
		t.Errorf("got %v, want %v", got, memmap.FaultSIGBUS)
	}
	if allocs, _ := pool.counts(); allocs != 0 {
		t.Errorf("out of range fault allocated %d times", allocs)
	}
}

func TestFaultAfterTeardownPanics(t *testing.T) {
	ctx := context.Background()
	fc := NewFaultController(newTestPool(4), newTestMapper(), PolicyDemand)
	r := createRegion(t, fc, 1)
	r.DecRef(ctx)
	defer func() {
		if recover() == nil {
			t.Errorf("HandleFault on a dead region did not panic")
		}
	}()
	fc.HandleFault(ctx, r, testBase)
}

func TestCreateRegionInvalidRange(t *testing.T) {
	fc := NewFaultController(newTestPool(4), newTestMapper(), PolicyDemand)
	for _, ar := range []hostarch.AddrRange{
		{Start: testBase, End: testBase},
		{Start: testBase + 1, End: testBase + hostarch.PageSize},
		{Start: testBase + hostarch.PageSize, End: testBase},
	} {
		if _, err := fc.CreateRegion(context.Background(), hostarch.PageSize, ar, hostarch.Read); !linuxerr.Equals(linuxerr.EINVAL, err) {
			t.Errorf("CreateRegion(%v): got err %v, want EINVAL", ar, err)
		}
	}
}

func TestFaultResultOf(t *testing.T) {
	for _, test := range []struct {
		err  error
		want memmap.FaultResult
	}{
		{nil, memmap.FaultMapped},
		{linuxerr.ENOMEM, memmap.FaultOOM},
		{fmt.Errorf("wrapped: %w", linuxerr.ENOMEM), memmap.FaultOOM},
		{&memmap.BusError{Err: linuxerr.EFAULT}, memmap.FaultSIGBUS},
		{&memmap.BusError{Err: linuxerr.ENOMEM}, memmap.FaultSIGBUS},
		{errInjected, memmap.FaultSIGBUS},
	} {
		if got := FaultResultOf(test.err); got != test.want {
			t.Errorf("FaultResultOf(%v): got %v, want %v", test.err, got, test.want)
		}
	}
}
