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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"lazypage.dev/lazypage/lazyctl/flag"
	"lazypage.dev/lazypage/pkg/mm"
	"lazypage.dev/lazypage/pkg/refs"
)

func newTestFlags(t *testing.T) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if got := c.Policy(); got != mm.PolicyDemand {
		t.Errorf("Policy=%v, want: %v", got, mm.PolicyDemand)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newTestFlags(t)
	for name, val := range map[string]string{
		"prepage":       "true",
		"pool-pages":    "128",
		"debug":         "true",
		"ref-leak-mode": "panic",
		"log-format":    "logrus",
	} {
		if err := testFlags.Set(name, val); err != nil {
			t.Fatalf("Flag set %s=%s: %v", name, val, err)
		}
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Prepage:       true,
		PoolPages:     128,
		Debug:         true,
		LogFormat:     "logrus",
		ReferenceLeak: refs.LeaksPanic,
		ResultsDir:    "results",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if got := c.Policy(); got != mm.PolicyPrepage {
		t.Errorf("Policy=%v, want: %v", got, mm.PolicyPrepage)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := newTestFlags(t)
	testFlags.Set("debug", "true")
	testFlags.Set("prepage", "false") // Matches default value.
	testFlags.Set("pool-pages", "123")
	testFlags.Set("ref-leak-mode", "log-names")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	flags := c.ToFlags()
	t.Logf("Flags: %s", flags)
	fm := map[string]string{}
	for _, f := range flags {
		kv := strings.Split(f, "=")
		fm[kv[0]] = kv[1]
	}
	want := map[string]string{
		"--debug":         "true",
		"--pool-pages":    "123",
		"--ref-leak-mode": "log-names",
	}
	if diff := cmp.Diff(want, fm); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
}

// TestInvalidFlags checks that enum flags fail when value is not in enum set.
func TestInvalidFlags(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value string
		error string
	}{
		{
			name:  "ref-leak-mode",
			value: "invalid",
			error: "invalid ref leak mode",
		},
		{
			name:  "pool-pages",
			value: "-1",
			error: "parse error",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newTestFlags(t)
			if err := testFlags.Lookup(tc.name).Value.Set(tc.value); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("flagSet.Set(invalid) got error: %v, want: %v", err, tc.error)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value string
		error string
	}{
		{
			name:  "pool-pages",
			value: "0",
			error: "--pool-pages",
		},
		{
			name:  "log-format",
			value: "xml",
			error: "invalid log format",
		},
		{
			name:  "results-dir",
			value: "",
			error: "--results-dir",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newTestFlags(t)
			if err := testFlags.Set(tc.name, tc.value); err != nil {
				t.Fatalf("Flag set: %v", err)
			}
			if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() got error: %v, want: %v", err, tc.error)
			}
		})
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lazyctl.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
prepage = true
pool-pages = 512
log-format = "json"
ref-leak-mode = "log-names"
`)
	testFlags := newTestFlags(t)
	testFlags.Set("config", path)
	// Command line wins over the file.
	testFlags.Set("pool-pages", "64")

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		ConfigFile:    path,
		Prepage:       true,
		PoolPages:     64,
		LogFormat:     "json",
		ReferenceLeak: refs.LeaksLogWarning,
		ResultsDir:    "results",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		error   string
	}{
		{
			name:    "unknown setting",
			content: `colour = "blue"`,
			error:   `unknown setting "colour"`,
		},
		{
			name:    "nested config",
			content: `config = "other.toml"`,
			error:   `unknown setting "config"`,
		},
		{
			name:    "bad value",
			content: `ref-leak-mode = "sometimes"`,
			error:   "invalid ref leak mode",
		},
		{
			name:    "bad syntax",
			content: `pool-pages = `,
			error:   "reading config file",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newTestFlags(t)
			testFlags.Set("config", writeConfigFile(t, tc.content))
			if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() got error: %v, want: %v", err, tc.error)
			}
		})
	}
}

func TestConfigFileMissing(t *testing.T) {
	testFlags := newTestFlags(t)
	testFlags.Set("config", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := NewFromFlags(testFlags); err == nil {
		t.Errorf("NewFromFlags() with missing config file succeeded")
	}
}
