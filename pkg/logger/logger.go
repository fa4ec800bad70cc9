// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	LogContainer     logContainer
	loggerInit       sync.Once
	simpleLoggerInit sync.Once
)

// Options selects where and how verbosely the broker logs. An empty File
// logs to the console only.
type Options struct {
	Level string
	File  string
}

type logContainer struct {
	logger       *zap.Logger
	simpleLogger *zap.SugaredLogger
}

// GetLogger returns the pointer to the logger and creates one if none exists
func (l *logContainer) GetLogger() *zap.Logger {
	loggerInit.Do(func() {
		l.logger = zap.New(root)
	})
	return l.logger
}

// GetSimpleLogger returns the pointer to the sugared logger and creates one
// if none exists
func (l *logContainer) GetSimpleLogger() *zap.SugaredLogger {
	simpleLoggerInit.Do(func() {
		l.simpleLogger = zap.New(root).Sugar()
	})
	return l.simpleLogger
}

// String mirrors zap.String
func (l *logContainer) String(key string, val string) zap.Field {
	return zap.String(key, val)
}

// Int mirrors zap.Int
func (l *logContainer) Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

// Configure replaces the cores behind every logger handed out so far.
// Package level loggers are created during init, long before flags and
// config files have been read, so they all write through root.
func Configure(o Options) error {
	level := zapcore.InfoLevel
	if o.Level != "" {
		if err := level.UnmarshalText([]byte(o.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %v", o.Level, err)
		}
	}
	core := getConsoleCore(level)
	if o.File != "" {
		w, err := getLogWriter(o.File)
		if err != nil {
			return err
		}
		core = zapcore.NewTee(core, zapcore.NewCore(getJsonEncoder(), w, level))
	}
	root.swap(core)
	return nil
}

func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getJsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.EpochTimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getLogWriter(path string) (zapcore.WriteSyncer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("unable to open logfile: %v", err)
	}
	return zapcore.AddSync(f), nil
}

func getConsoleCore(level zapcore.Level) zapcore.Core {
	return zapcore.NewCore(getConsoleEncoder(), zapcore.Lock(os.Stderr), level)
}

var root = newSwitchCore(getConsoleCore(zapcore.InfoLevel))

// switchCore forwards to whichever core was installed last.
type switchCore struct {
	cur atomic.Value
}

type coreBox struct {
	c zapcore.Core
}

func newSwitchCore(c zapcore.Core) *switchCore {
	s := &switchCore{}
	s.swap(c)
	return s
}

func (s *switchCore) swap(c zapcore.Core) {
	s.cur.Store(coreBox{c})
}

func (s *switchCore) core() zapcore.Core {
	return s.cur.Load().(coreBox).c
}

func (s *switchCore) Enabled(l zapcore.Level) bool {
	return s.core().Enabled(l)
}

func (s *switchCore) With(f []zapcore.Field) zapcore.Core {
	return &withCore{parent: s, fields: f}
}

func (s *switchCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return s.core().Check(e, ce)
}

func (s *switchCore) Write(e zapcore.Entry, f []zapcore.Field) error {
	return s.core().Write(e, f)
}

func (s *switchCore) Sync() error {
	return s.core().Sync()
}

// withCore keeps fields added with Logger.With attached across swaps.
type withCore struct {
	parent *switchCore
	fields []zapcore.Field
}

func (w *withCore) Enabled(l zapcore.Level) bool {
	return w.parent.Enabled(l)
}

func (w *withCore) With(f []zapcore.Field) zapcore.Core {
	fields := make([]zapcore.Field, 0, len(w.fields)+len(f))
	fields = append(fields, w.fields...)
	return &withCore{parent: w.parent, fields: append(fields, f...)}
}

func (w *withCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if w.Enabled(e.Level) {
		return ce.AddCore(e, w)
	}
	return ce
}

func (w *withCore) Write(e zapcore.Entry, f []zapcore.Field) error {
	fields := make([]zapcore.Field, 0, len(w.fields)+len(f))
	fields = append(fields, w.fields...)
	return w.parent.core().Write(e, append(fields, f...))
}

func (w *withCore) Sync() error {
	return w.parent.Sync()
}
