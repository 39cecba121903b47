// Copyright (c) 2024 chunkserver contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package clog provides the process-wide structured logger used by every
// other package. There is one logger per process (not per job, unlike a
// transfer-engine style logger keyed by job ID) since the chunkserver core
// is a single long-lived daemon.
package clog

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"
)

type Level int

const (
	LogNone Level = iota
	LogPanic
	LogError
	LogWarning
	LogInfo
	LogDebug
)

func (l Level) String() string {
	switch l {
	case LogPanic:
		return "PANIC"
	case LogError:
		return "ERROR"
	case LogWarning:
		return "WARN"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	default:
		return "NONE"
	}
}

// ParseLevel maps the LOG_LEVEL config value (spec §6: "panic|error|warning
// |info|debug") to a Level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "panic":
		return LogPanic, nil
	case "error":
		return LogError, nil
	case "warning":
		return LogWarning, nil
	case "info":
		return LogInfo, nil
	case "debug":
		return LogDebug, nil
	default:
		return LogNone, fmt.Errorf("clog: unknown log level %q", s)
	}
}

// ILogger is implemented by the process logger and by any fake used in tests.
type ILogger interface {
	ShouldLog(level Level) bool
	Log(level Level, msg string)
	Logf(level Level, format string, args ...interface{})
	Panic(err error)
}

type logger struct {
	minimum Level
	file    *RotatingWriter
	std     *log.Logger
}

var std ILogger = &logger{minimum: LogInfo}

// Configure installs the process-wide logger. Call once at startup.
func Configure(minimum Level, logFilePath string, maxSize int64) error {
	l := &logger{minimum: minimum}
	if logFilePath != "" {
		w, err := NewRotatingWriter(logFilePath, maxSize)
		if err != nil {
			return err
		}
		l.file = w
		l.std = log.New(w, "", log.LstdFlags|log.LUTC)
	} else {
		l.std = log.New(os.Stderr, "", log.LstdFlags|log.LUTC)
	}
	l.std.Println("chunkserver starting, OS", runtime.GOOS, runtime.GOARCH, "time", time.Now().UTC().Format(time.RFC3339))
	std = l
	return nil
}

func (l *logger) ShouldLog(level Level) bool {
	if level == LogNone {
		return false
	}
	return level <= l.minimum
}

func (l *logger) Log(level Level, msg string) {
	if !l.ShouldLog(level) {
		return
	}
	l.std.Println(fmt.Sprintf("[%s] %s", level, msg))
}

func (l *logger) Logf(level Level, format string, args ...interface{}) {
	l.Log(level, fmt.Sprintf(format, args...))
}

func (l *logger) Panic(err error) {
	l.std.Println("[PANIC]", err)
	panic(err)
}

func ShouldLog(level Level) bool                        { return std.ShouldLog(level) }
func Log(level Level, msg string)                        { std.Log(level, msg) }
func Logf(level Level, format string, args ...interface{}) { std.Logf(level, format, args...) }
func Panic(err error)                                     { std.Panic(err) }
