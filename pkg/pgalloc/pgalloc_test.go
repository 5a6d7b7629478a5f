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

package pgalloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"lazypage.dev/lazypage/pkg/errors/linuxerr"
	"lazypage.dev/lazypage/pkg/memmap"
)

func newTestFile(t *testing.T, pages uint64) *MemoryFile {
	t.Helper()
	f, err := NewMemoryFile(MemoryFileOpts{Pages: pages})
	if err != nil {
		t.Fatalf("NewMemoryFile(%d) failed: %v", pages, err)
	}
	t.Cleanup(f.Destroy)
	return f
}

func freeStarts(f *MemoryFile) [][]memmap.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]memmap.Page, len(f.free))
	for k, tr := range f.free {
		tr.Ascend(func(p memmap.Page) bool {
			out[k] = append(out[k], p)
			return true
		})
	}
	return out
}

func TestNewMemoryFileCarving(t *testing.T) {
	for _, test := range []struct {
		name     string
		pages    uint64
		maxOrder int
		want     [][]memmap.Page
	}{
		{
			name:     "single page",
			pages:    1,
			maxOrder: 0,
			want:     [][]memmap.Page{{0}},
		},
		{
			name:     "power of two",
			pages:    8,
			maxOrder: 3,
			want:     [][]memmap.Page{nil, nil, nil, {0}},
		},
		{
			name:     "odd size",
			pages:    13,
			maxOrder: 3,
			want:     [][]memmap.Page{{12}, nil, {8}, {0}},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			f := newTestFile(t, test.pages)
			if got := f.MaxOrder(); got != test.maxOrder {
				t.Errorf("MaxOrder: got %d, want %d", got, test.maxOrder)
			}
			if diff := cmp.Diff(test.want, freeStarts(f)); diff != "" {
				t.Errorf("free lists mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestZeroPagesRejected(t *testing.T) {
	if _, err := NewMemoryFile(MemoryFileOpts{}); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("NewMemoryFile with no pages: got err %v, want EINVAL", err)
	}
}

func TestSplitAndCoalesce(t *testing.T) {
	f := newTestFile(t, 8)

	p0, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}
	if p0 != 0 {
		t.Errorf("first page: got %v, want pfn 0", p0)
	}
	want := [][]memmap.Page{{1}, {2}, {4}, nil}
	if diff := cmp.Diff(want, freeStarts(f)); diff != "" {
		t.Errorf("free lists after split mismatch (-want +got):\n%s", diff)
	}

	b, err := f.AllocateBlock(1)
	if err != nil {
		t.Fatalf("AllocateBlock(1) failed: %v", err)
	}
	if b.Start != 2 {
		t.Errorf("order 1 block: got %v, want start 2", b)
	}
	if got := f.Usage(); got != 3 {
		t.Errorf("Usage: got %d, want 3", got)
	}

	if err := f.FreePage(p0); err != nil {
		t.Fatalf("FreePage failed: %v", err)
	}
	if err := f.FreeBlock(b); err != nil {
		t.Fatalf("FreeBlock failed: %v", err)
	}
	want = [][]memmap.Page{nil, nil, nil, {0}}
	if diff := cmp.Diff(want, freeStarts(f)); diff != "" {
		t.Errorf("free lists after coalesce mismatch (-want +got):\n%s", diff)
	}
	if got := f.Usage(); got != 0 {
		t.Errorf("Usage: got %d, want 0", got)
	}
}

func TestBlockAlignment(t *testing.T) {
	f := newTestFile(t, 64)
	// Fragment the pool so that later blocks must come from split runs.
	if _, err := f.AllocatePage(); err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}
	for order := 0; order <= 4; order++ {
		b, err := f.AllocateBlock(order)
		if err != nil {
			t.Fatalf("AllocateBlock(%d) failed: %v", order, err)
		}
		if uint64(b.Start)%b.NumPages() != 0 {
			t.Errorf("block %v is not aligned to its size", b)
		}
	}
}

func TestOutOfMemory(t *testing.T) {
	f := newTestFile(t, 4)
	if _, err := f.AllocateBlock(3); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("AllocateBlock above max order: got err %v, want ENOMEM", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := f.AllocatePage(); err != nil {
			t.Fatalf("AllocatePage %d failed: %v", i, err)
		}
	}
	if _, err := f.AllocatePage(); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("AllocatePage on exhausted pool: got err %v, want ENOMEM", err)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	f := newTestFile(t, 2)
	p, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}
	if err := f.FreePage(p); err != nil {
		t.Fatalf("FreePage failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("second FreePage did not panic")
		}
	}()
	f.FreePage(p)
}

func TestFreeWrongOrderPanics(t *testing.T) {
	f := newTestFile(t, 4)
	b, err := f.AllocateBlock(1)
	if err != nil {
		t.Fatalf("AllocateBlock failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("FreeBlock with the wrong order did not panic")
		}
	}()
	f.FreeBlock(memmap.Block{Start: b.Start, Order: 0})
}

func TestFreeOutOfRange(t *testing.T) {
	f := newTestFile(t, 4)
	if err := f.FreePage(100); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("FreePage out of range: got err %v, want EINVAL", err)
	}
}

func TestReusedPagesAreZero(t *testing.T) {
	for _, disableDecommit := range []bool{false, true} {
		f, err := NewMemoryFile(MemoryFileOpts{Pages: 1, DisableDecommit: disableDecommit})
		if err != nil {
			t.Fatalf("NewMemoryFile failed: %v", err)
		}
		p, err := f.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage failed: %v", err)
		}
		bs, err := f.MapInternal(p)
		if err != nil {
			t.Fatalf("MapInternal failed: %v", err)
		}
		for i := range bs {
			bs[i] = 0xa5
		}
		if err := f.FreePage(p); err != nil {
			t.Fatalf("FreePage failed: %v", err)
		}
		p, err = f.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage failed: %v", err)
		}
		bs, _ = f.MapInternal(p)
		for i, c := range bs {
			if c != 0 {
				t.Errorf("DisableDecommit=%t: byte %d of reused page is %#x, want 0", disableDecommit, i, c)
				break
			}
		}
		f.FreePage(p)
		f.Destroy()
	}
}
