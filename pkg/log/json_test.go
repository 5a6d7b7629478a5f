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

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// Test that integers can be properly unmarshaled.
func TestUnmarshalFromInt(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{"0", Warning},
		{"1", Info},
		{"2", Debug},
		{`"debug"`, Debug},
	} {
		var lv Level
		if err := lv.UnmarshalJSON([]byte(tc.in)); err != nil {
			t.Errorf("error unmarshaling %s: %v", tc.in, err)
		}
		if lv != tc.want {
			t.Errorf("unmarshal %s got %v want %v", tc.in, lv, tc.want)
		}
	}
	var lv Level
	if err := lv.UnmarshalJSON([]byte("3")); err == nil {
		t.Errorf("unmarshal of unknown level succeeded")
	}
}

func TestJSONEmitters(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, tc := range []struct {
		name    string
		emitter func(w *Writer) Emitter
		key     string
	}{
		{"json", func(w *Writer) Emitter { return JSONEmitter{w} }, "msg"},
		{"json-k8s", func(w *Writer) Emitter { return K8sJSONEmitter{w} }, "log"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := &BasicLogger{Level: Info, Emitter: tc.emitter(&Writer{Next: &buf})}
			l.Emit(0, Warning, ts, "freed %d pages", 3)

			var got map[string]any
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("output %q is not json: %v", buf.String(), err)
			}
			msg, _ := got[tc.key].(string)
			if !strings.HasPrefix(msg, "json_test.go:") || !strings.HasSuffix(msg, "] freed 3 pages") {
				t.Errorf("%s: got %q, want caller-prefixed message", tc.key, msg)
			}
			if got["level"] != "warning" {
				t.Errorf("level: got %v, want warning", got["level"])
			}
			if got["time"] != "2026-03-04T05:06:07Z" {
				t.Errorf("time: got %v", got["time"])
			}
		})
	}
}
