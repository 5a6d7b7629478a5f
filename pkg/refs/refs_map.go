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
	"sort"
	"strings"

	"lazypage.dev/lazypage/pkg/log"
	"lazypage.dev/lazypage/pkg/sync"
)

// CheckedObject is a reference-counted object the leak checker can track.
type CheckedObject interface {
	// RefType names the object's type in leak reports.
	RefType() string

	// LeakMessage describes the object when it is reported as leaked.
	LeakMessage() string

	// LogRefs enables logging of the object's reference changes.
	LogRefs() bool
}

// live holds every registered object that has not been destroyed. Objects
// are only registered while leak checking is enabled.
var live = struct {
	mu   sync.Mutex
	objs map[CheckedObject]struct{}
}{objs: make(map[CheckedObject]struct{})}

// LeakCheckEnabled returns whether objects are being tracked.
func LeakCheckEnabled() bool {
	return GetLeakMode() != NoLeakChecking
}

// Register starts tracking obj. Registering an object twice panics.
func Register(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	live.mu.Lock()
	_, dup := live.objs[obj]
	if !dup {
		live.objs[obj] = struct{}{}
	}
	live.mu.Unlock()
	if dup {
		panic(fmt.Sprintf("%s %p registered twice for leak checking", obj.RefType(), obj))
	}
	if obj.LogRefs() {
		logEvent(obj, "registered")
	}
}

// Unregister stops tracking obj, which must have been registered.
func Unregister(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	live.mu.Lock()
	_, ok := live.objs[obj]
	delete(live.objs, obj)
	live.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("%s %p destroyed but never registered for leak checking", obj.RefType(), obj))
	}
	if obj.LogRefs() {
		logEvent(obj, "unregistered")
	}
}

// LogIncRef logs that obj now has refs references.
func LogIncRef(obj CheckedObject, refs int64) {
	if LeakCheckEnabled() && obj.LogRefs() {
		logEvent(obj, fmt.Sprintf("IncRef to %d", refs))
	}
}

// LogDecRef logs that obj now has refs references.
func LogDecRef(obj CheckedObject, refs int64) {
	if LeakCheckEnabled() && obj.LogRefs() {
		logEvent(obj, fmt.Sprintf("DecRef to %d", refs))
	}
}

// LiveObjects returns the number of tracked objects.
func LiveObjects() int {
	live.mu.Lock()
	defer live.mu.Unlock()
	return len(live.objs)
}

// logEvent is only called after checking obj.LogRefs(), since it records a
// stack.
func logEvent(obj CheckedObject, msg string) {
	log.Infof("[%s %p] %s:\n%s", obj.RefType(), obj, msg, FormatStack(RecordStack()))
}

var checkOnce sync.Once

// DoLeakCheck reports every object still tracked, once per process. It is
// meant to run at exit, after every Region has been unmapped.
func DoLeakCheck() {
	if LeakCheckEnabled() {
		checkOnce.Do(doLeakCheck)
	}
}

// DoRepeatedLeakCheck is DoLeakCheck without the once-only guard.
func DoRepeatedLeakCheck() {
	if LeakCheckEnabled() {
		doLeakCheck()
	}
}

func doLeakCheck() {
	live.mu.Lock()
	msgs := make([]string, 0, len(live.objs))
	for obj := range live.objs {
		msgs = append(msgs, obj.LeakMessage())
	}
	live.mu.Unlock()
	if len(msgs) == 0 {
		return
	}
	sort.Strings(msgs)
	report := fmt.Sprintf("%d objects still referenced at exit:\n%s", len(msgs), strings.Join(msgs, "\n"))
	if GetLeakMode() == LeaksPanic {
		panic(report)
	}
	log.Warningf("%s", report)
}
