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

package atomicbitops

import (
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestConcurrentAdd(t *testing.T) {
	const (
		workers = 8
		adds    = 1000
	)
	var (
		i Int64
		u Uint64
		g errgroup.Group
	)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for n := 0; n < adds; n++ {
				i.Add(-1)
				u.Add(2)
			}
			return nil
		})
	}
	g.Wait()
	if got, want := i.Load(), int64(-workers*adds); got != want {
		t.Errorf("Int64 = %d, want %d", got, want)
	}
	if got, want := u.Load(), uint64(2*workers*adds); got != want {
		t.Errorf("Uint64 = %d, want %d", got, want)
	}
}

func TestCompareAndSwap(t *testing.T) {
	i := FromInt64(3)
	if i.CompareAndSwap(4, 5) {
		t.Errorf("CompareAndSwap(4, 5) succeeded with value 3")
	}
	if !i.CompareAndSwap(3, 5) {
		t.Errorf("CompareAndSwap(3, 5) failed with value 3")
	}
	if got := i.RacyLoad(); got != 5 {
		t.Errorf("value = %d, want 5", got)
	}
}

func TestBool(t *testing.T) {
	b := FromBool(true)
	if !b.Load() {
		t.Fatalf("FromBool(true).Load() = false")
	}
	if old := b.Swap(false); !old {
		t.Errorf("Swap(false) = false, want true")
	}
	if b.Swap(true) {
		t.Errorf("Swap(true) = true after storing false")
	}
	b.Store(false)
	if b.Load() {
		t.Errorf("Load() = true after Store(false)")
	}
}
