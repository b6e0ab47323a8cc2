// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package logutil configures the process-wide zap logger from --log= command
// line options. Each option sets the threshold of one category, the first
// component of a logger's name, with "root" covering everything else.
package logutil

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RootCategory is the category of unnamed loggers and the fallback for
// categories without a threshold of their own.
const RootCategory = "root"

// DefaultLevel is the root threshold when no option sets one.
const DefaultLevel = zapcore.InfoLevel

// Levels holds per-category thresholds.
type Levels struct {
	Root       zapcore.Level
	ByCategory map[string]zapcore.Level
}

// ParseLevels parses options of the form "<category>.threshold=<level>".
// The SimGrid spellings "<category>.thres:<level>" and
// "<category>.threshold:<level>" are accepted too.
func ParseLevels(specs []string) (Levels, error) {
	levels := Levels{Root: DefaultLevel, ByCategory: make(map[string]zapcore.Level)}
	for _, spec := range specs {
		category, rest, ok := strings.Cut(spec, ".")
		if !ok || category == "" {
			return Levels{}, fmt.Errorf("log option %q: missing category", spec)
		}
		i := strings.IndexAny(rest, "=:")
		if i < 0 {
			return Levels{}, fmt.Errorf("log option %q: missing level", spec)
		}
		switch rest[:i] {
		case "threshold", "thres":
		default:
			return Levels{}, fmt.Errorf("log option %q: unknown setting %q", spec, rest[:i])
		}
		level, err := parseLevel(rest[i+1:])
		if err != nil {
			return Levels{}, fmt.Errorf("log option %q: %w", spec, err)
		}
		if category == RootCategory {
			levels.Root = level
		} else {
			levels.ByCategory[category] = level
		}
	}
	return levels, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "verbose", "trace":
		return zapcore.DebugLevel, nil
	case "critical":
		return zapcore.FatalLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return l, nil
}

// For returns the threshold that applies to a logger name.
func (l Levels) For(loggerName string) zapcore.Level {
	category, _, _ := strings.Cut(loggerName, ".")
	if level, ok := l.ByCategory[category]; ok {
		return level
	}
	return l.Root
}

func (l Levels) min() zapcore.Level {
	m := l.Root
	for _, level := range l.ByCategory {
		m = min(m, level)
	}
	return m
}

type filterCore struct {
	zapcore.Core
	levels Levels
	min    zapcore.Level
}

// Filter wraps core so that each entry is checked against the threshold of
// its logger's category.
func Filter(core zapcore.Core, levels Levels) zapcore.Core {
	return &filterCore{Core: core, levels: levels, min: levels.min()}
}

func (c *filterCore) Enabled(level zapcore.Level) bool {
	return level >= c.min && c.Core.Enabled(level)
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), levels: c.levels, min: c.min}
}

func (c *filterCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if entry.Level < c.levels.For(entry.LoggerName) {
		return ce
	}
	return c.Core.Check(entry, ce)
}

// InitLogger builds a console logger on standard error filtered by the
// given --log= option values and installs it as the global logger.
func InitLogger(specs []string) error {
	levels, err := ParseLevels(specs)
	if err != nil {
		return err
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		zapcore.DebugLevel,
	)
	zap.ReplaceGlobals(zap.New(Filter(core, levels), zap.AddCaller()))
	return nil
}

// GetLogger returns the global logger.
func GetLogger() *zap.Logger {
	return zap.L()
}
