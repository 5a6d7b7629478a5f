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
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"lazypage.dev/lazypage/lazyctl/flag"
	"lazypage.dev/lazypage/pkg/refs"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML file of flag settings, keyed by flag name. Flags given on the command line take precedence.")

	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr. %COMMAND% and %TIMESTAMP% are replaced by the subcommand and start time.")
	flagSet.String("log-format", "text", "log format: text (default), json, json-k8s or logrus.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
	flagSet.Var(leakModePtr(refs.NoLeakChecking), "ref-leak-mode", "sets reference leak check mode: disabled (default), log-names, panic.")
	flagSet.String("metrics-file", "", "file path where page counters are written in Prometheus text format on exit.")

	// Flags that control the paging device.
	flagSet.Bool("prepage", false, "back each mapping in full when it is created instead of one page per fault.")
	flagSet.Uint64("pool-pages", 1<<16, "number of physical pages available to the device.")
	flagSet.Uint64("max-translations", 0, "maximum number of page table entries. 0 means unbounded.")

	// Benchmark flags.
	flagSet.String("results-dir", "results", "directory benchmark results are appended under, one subdirectory per policy.")
}

// NewFromFlags creates a new Config with values coming from command line flags
// and, for flags not set on the command line, from the --config file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	if path := flag.Get(flagSet.Lookup("config").Value).(string); path != "" {
		if err := applyFile(flagSet, path); err != nil {
			return nil, err
		}
	}

	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(flag.Get(fl.Value))
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFile sets every flag named in the TOML file at path that was not set
// explicitly on flagSet.
func applyFile(flagSet *flag.FlagSet, path string) error {
	var values map[string]any
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "config" || !isConfigFlag(name) {
			return fmt.Errorf("config file %q: unknown setting %q", path, name)
		}
		if flag.IsSet(flagSet, name) {
			continue
		}
		v := fmt.Sprint(values[name])
		if err := flagSet.Lookup(name).Value.Set(v); err != nil {
			return fmt.Errorf("config file %q: setting %s=%q: %w", path, name, v, err)
		}
	}
	return nil
}

func isConfigFlag(name string) bool {
	st := reflect.TypeOf(Config{})
	for i := 0; i < st.NumField(); i++ {
		if n, ok := st.Field(i).Tag.Lookup("flag"); ok && n == name {
			return true
		}
	}
	return false
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}

func leakModePtr(v refs.LeakMode) *refs.LeakMode {
	return &v
}
