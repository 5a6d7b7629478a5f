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
	"time"

	"golang.org/x/time/rate"
)

// limitedLogger drops messages that arrive faster than its limiter allows.
// The limit is shared across levels.
type limitedLogger struct {
	// to is the destination, or nil for whatever Log() returns at the time
	// of the call.
	to      Logger
	limiter *rate.Limiter
}

func (l *limitedLogger) dest() Logger {
	if l.to != nil {
		return l.to
	}
	return Log()
}

// Debugf implements Logger.Debugf.
func (l *limitedLogger) Debugf(format string, v ...any) {
	if l.limiter.Allow() {
		l.dest().Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (l *limitedLogger) Infof(format string, v ...any) {
	if l.limiter.Allow() {
		l.dest().Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (l *limitedLogger) Warningf(format string, v ...any) {
	if l.limiter.Allow() {
		l.dest().Warningf(format, v...)
	}
}

// IsLogging implements Logger.IsLogging. It does not consume the limit.
func (l *limitedLogger) IsLogging(level Level) bool {
	return l.dest().IsLogging(level)
}

// BasicRateLimitedLogger is RateLimitedLogger for the global logger. It
// follows later calls to SetTarget and SetLevel.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(nil, every)
}

// RateLimitedLogger returns a Logger that passes at most one message per
// every to logger.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &limitedLogger{
		to:      logger,
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}
}
