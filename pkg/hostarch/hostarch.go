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

// Package hostarch contains host arch address operations for user memory.
package hostarch

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the page size.
	PageSize = 1 << PageShift

	// PageMask is the page mask.
	PageMask = PageSize - 1
)

func init() {
	// Frames handed out by pgalloc are released to the host with madvise, which
	// only works if a frame covers whole host pages.
	if size := unix.Getpagesize(); size > PageSize || PageSize%size != 0 {
		panic(fmt.Sprintf("host page size %d is incompatible with page size %d", size, PageSize))
	}
}
