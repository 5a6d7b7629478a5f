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

package workload

import (
	"math/rand/v2"
)

// Quicksort sorts a in place with a randomized pivot.
func Quicksort(a *Array, rng *rand.Rand) {
	if a.Len() < 2 {
		return
	}
	quicksort(a, rng, 0, a.Len()-1)
}

// quicksort sorts the inclusive range [lo, hi]. It recurses into the smaller
// partition and loops on the larger one, so the stack stays logarithmic.
func quicksort(a *Array, rng *rand.Rand, lo, hi uint64) {
	for lo < hi && a.Err() == nil {
		p := partition(a, rng, lo, hi)
		if p-lo < hi-p {
			if p > lo {
				quicksort(a, rng, lo, p-1)
			}
			lo = p + 1
		} else {
			if p < hi {
				quicksort(a, rng, p+1, hi)
			}
			if p == 0 {
				return
			}
			hi = p - 1
		}
	}
}

// partition moves a random pivot to its final position in [lo, hi] and
// returns that position.
func partition(a *Array, rng *rand.Rand, lo, hi uint64) uint64 {
	a.Swap(lo+rng.Uint64N(hi-lo+1), hi)
	pivot := a.Get(hi)
	target := lo
	for i := lo; i < hi; i++ {
		if a.Get(i) <= pivot {
			a.Swap(target, i)
			target++
		}
	}
	a.Swap(target, hi)
	return target
}

// Sorted reports whether a is in non-decreasing order, and if not, the first
// index whose successor is smaller.
func Sorted(a *Array) (uint64, bool) {
	for i := uint64(0); i+1 < a.Len(); i++ {
		if a.Get(i) > a.Get(i+1) {
			return i, false
		}
	}
	return 0, true
}
