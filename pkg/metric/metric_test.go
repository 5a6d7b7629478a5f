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

package metric

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/common/expfmt"
)

func TestNewUint64Metric(t *testing.T) {
	m, err := NewUint64Metric("/metric_test/counter", "A test counter.")
	if err != nil {
		t.Fatalf("NewUint64Metric: %v", err)
	}
	m.Increment()
	m.IncrementBy(4)
	if got := m.Value(); got != 5 {
		t.Errorf("Value() = %d, want 5", got)
	}

	if _, err := NewUint64Metric("/metric_test/counter", "again"); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate registration error = %v, want %v", err, ErrNameInUse)
	}
	for _, name := range []string{"", "/", "no_slash", "/Upper", "/dash-ed"} {
		if _, err := NewUint64Metric(name, ""); !errors.Is(err, ErrInvalidName) {
			t.Errorf("NewUint64Metric(%q) error = %v, want %v", name, err, ErrInvalidName)
		}
	}
}

func TestWritePrometheus(t *testing.T) {
	m := MustCreateNewUint64Metric("/metric_test/exported", "Exported counter.")
	m.IncrementBy(7)

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	families, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parsing exported metrics: %v", err)
	}
	mf, ok := families["metric_test_exported"]
	if !ok {
		t.Fatalf("metric_test_exported missing from %v", families)
	}
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Errorf("exported value = %v, want 7", got)
	}
	if got := Snapshot()["/metric_test/exported"]; got != 7 {
		t.Errorf("Snapshot value = %d, want 7", got)
	}
}
