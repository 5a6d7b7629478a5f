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

// Package config provides basic infrastructure to set configuration settings
// for lazyctl. Each setting that can be changed from the command line must
// have a field in Config with a `flag:"name"` tag naming the flag.
package config

import (
	"fmt"
	"reflect"

	"lazypage.dev/lazypage/pkg/log"
	"lazypage.dev/lazypage/pkg/mm"
	"lazypage.dev/lazypage/pkg/refs"
)

// Config holds configuration that is not part of a command's own flags.
type Config struct {
	// ConfigFile is the path of a TOML file whose settings are used for any
	// flag not given on the command line.
	ConfigFile string `flag:"config"`

	// Prepage backs every region in full when it is mapped, instead of one
	// page per fault.
	Prepage bool `flag:"prepage"`

	// PoolPages is the number of physical pages available to the device.
	PoolPages uint64 `flag:"pool-pages"`

	// MaxTranslations bounds the device's page tables. Zero is unbounded.
	MaxTranslations uint64 `flag:"max-translations"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text, json, json-k8s or logrus.
	LogFormat string `flag:"log-format"`

	// AlsoLogToStderr allows lazyctl to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// ReferenceLeak sets the reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode"`

	// MetricsFile is the path the page counters are written to at exit, in
	// Prometheus text format. Empty disables it.
	MetricsFile string `flag:"metrics-file"`

	// ResultsDir is the directory benchmark results are appended under.
	ResultsDir string `flag:"results-dir"`
}

var logFormats = map[string]struct{}{
	"text":     {},
	"json":     {},
	"json-k8s": {},
	"logrus":   {},
}

func (c *Config) validate() error {
	if c.PoolPages == 0 {
		return fmt.Errorf("--pool-pages must be greater than zero")
	}
	if _, ok := logFormats[c.LogFormat]; !ok {
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', 'json-k8s' or 'logrus'", c.LogFormat)
	}
	if c.ResultsDir == "" {
		return fmt.Errorf("--results-dir must not be empty")
	}
	return nil
}

// Policy returns the paging policy selected by c.
func (c *Config) Policy() mm.Policy {
	if c.Prepage {
		return mm.PolicyPrepage
	}
	return mm.PolicyDemand
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s (--%s): %s", f.Name, name, getVal(obj.Field(i)))
	}
}
