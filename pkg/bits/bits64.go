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

// Package bits holds the bit arithmetic used to size buddy blocks.
package bits

import (
	mathbits "math/bits"
)

// IsPowerOfTwo64 returns true if v is a power of 2. Zero is not.
func IsPowerOfTwo64(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// TrailingZeros64 returns the index of the least significant 1 bit in x, or
// 64 if x is 0.
func TrailingZeros64(x uint64) int {
	return mathbits.TrailingZeros64(x)
}

// MostSignificantOne64 returns the index of the most significant 1 bit in
// x, or 64 if x is 0.
func MostSignificantOne64(x uint64) int {
	if x == 0 {
		return 64
	}
	return 63 - mathbits.LeadingZeros64(x)
}
