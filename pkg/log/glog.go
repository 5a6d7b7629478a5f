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
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter emits glog-style text lines:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// where L is D, I or W.
type GoogleEmitter struct {
	*Writer
}

// glogTime is the layout of the timestamp in a line header.
const glogTime = "0102 15:04:05.000000"

// pidField is the process ID, right-aligned to glog's seven columns.
var pidField = padLeft(strconv.Itoa(os.Getpid()), 7)

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func levelLetter(level Level) byte {
	switch level {
	case Debug:
		return 'D'
	case Info:
		return 'I'
	default:
		return 'W'
	}
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	h := make([]byte, 0, 64+len(format))
	h = append(h, levelLetter(level))
	h = timestamp.AppendFormat(h, glogTime)
	h = append(h, ' ')
	h = append(h, pidField...)
	h = append(h, ' ')

	file, line := "???", 0
	if _, f, l, ok := runtime.Caller(depth + 1); ok {
		file, line = filepath.Base(f), l
	}
	// The header becomes part of the format string.
	h = append(h, strings.ReplaceAll(file, "%", "%%")...)
	h = append(h, ':')
	h = strconv.AppendInt(h, int64(line), 10)
	h = append(h, "] "...)
	h = append(h, format...)
	h = append(h, '\n')

	g.Writer.Emit(depth+1, level, timestamp, string(h), args...)
}
