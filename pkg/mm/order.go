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
	"lazypage.dev/lazypage/pkg/bits"
	"lazypage.dev/lazypage/pkg/hostarch"
)

// PageCountOrder returns the smallest k such that 2^k >= pages. It returns 0
// for 0 and 1.
func PageCountOrder(pages uint64) int {
	if pages <= 1 {
		return 0
	}
	if bits.IsPowerOfTwo64(pages) {
		return bits.TrailingZeros64(pages)
	}
	return bits.MostSignificantOne64(pages) + 1
}

// BlockOrder returns the order of the smallest block that backs size bytes.
func BlockOrder(size uint64) int {
	return PageCountOrder(hostarch.PagesOf(size))
}
