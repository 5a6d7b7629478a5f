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

package refs

import (
	"fmt"

	"lazypage.dev/lazypage/pkg/atomicbitops"
)

// Refs keeps a reference count using atomic operations and calls the
// destructor when the count reaches zero.
//
// Refs is meant to be embedded by the owning object, which implements
// CheckedObject (usually by forwarding RefType and LeakMessage) so that the
// leak checker can describe it.
//
// Don't add fields to this struct. It must stay the size of an int64.
type Refs struct {
	refCount atomicbitops.Int64
}

// InitRefs initializes r with one reference and, if enabled, activates leak
// checking for owner.
func (r *Refs) InitRefs(owner CheckedObject) {
	r.refCount.Store(1)
	Register(owner)
}

// ReadRefs returns the current number of references. The returned count is
// inherently racy and is unsafe to use without external synchronization.
func (r *Refs) ReadRefs() int64 {
	return r.refCount.Load()
}

// IncRef increments the reference count.
//
// Preconditions: The caller must already hold a reference.
//
//go:nosplit
func (r *Refs) IncRef(owner CheckedObject) {
	v := r.refCount.Add(1)
	LogIncRef(owner, v)
	if v <= 1 {
		panic(fmt.Sprintf("Incrementing non-positive count %p on %s", r, owner.RefType()))
	}
}

// DecRef decrements the reference count. The decrement and the test for zero
// are a single atomic operation, so exactly one caller observes the count
// reaching zero and runs destroy.
//
//go:nosplit
func (r *Refs) DecRef(owner CheckedObject, destroy func()) {
	v := r.refCount.Add(-1)
	LogDecRef(owner, v)
	switch {
	case v < 0:
		panic(fmt.Sprintf("Decrementing non-positive ref count %p, owned by %s", r, owner.RefType()))

	case v == 0:
		Unregister(owner)
		// Call the destructor.
		if destroy != nil {
			destroy()
		}
	}
}
