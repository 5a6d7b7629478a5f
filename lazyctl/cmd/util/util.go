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

// Package util groups a bunch of common helper functions used by commands.
package util

import (
	"fmt"
	"io"
	"os"
	"time"

	"lazypage.dev/lazypage/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages are
// consumed by the user and also logged.
var ErrorLogger io.Writer

// Infof writes message to log and stdout.
func Infof(format string, args ...any) {
	log.Infof(format, args...)
	fmt.Printf(format+"\n", args...)
}

// Errorf logs error to the error log (--log), to stderr, and debug logs. It
// returns the formatted error.
func Errorf(format string, args ...any) error {
	// If we're here, the user is going to see this message. Log it as
	// a warning and also write it to the error logger.
	log.Warningf(format, args...)
	writeError(format, args...)
	return fmt.Errorf(format, args...)
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	writeError(format, args...)
	// Return an error that is unlikely to be used by the application.
	os.Exit(128)
}

func writeError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if ErrorLogger != nil {
		fmt.Fprintf(ErrorLogger, "%s %s\n", time.Now().Format(time.RFC3339Nano), msg)
	}
	fmt.Fprintln(os.Stderr, msg)
}
