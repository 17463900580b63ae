// Copyright (c) 2019 Cable Television Laboratories, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a simple structured logging facade on top of zap.
// Context is passed as alternating key/value pairs, e.g.
//
//	log.Debug("Discarding packet", "ingress", 2, "err", err)
package log

import (
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

// Logger describes the logger interface.
type Logger interface {
	// New returns a child logger with the given context attached to every
	// entry.
	New(ctx ...interface{}) Logger
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Enabled(lvl Level) bool
}

// Level is the log level.
type Level = zapcore.Level

// The supported log levels.
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	ErrorLevel = zapcore.ErrorLevel
)

type logger struct {
	logger *zap.Logger
}

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{logger: l.logger.With(convertCtx(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...interface{}) {
	l.logger.Debug(msg, convertCtx(ctx)...)
}

func (l *logger) Info(msg string, ctx ...interface{}) {
	l.logger.Info(msg, convertCtx(ctx)...)
}

func (l *logger) Error(msg string, ctx ...interface{}) {
	l.logger.Error(msg, convertCtx(ctx)...)
}

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(lvl)
}

func convertCtx(ctx []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(ctx[i]), ctx[i+1]))
	}
	return fields
}

var root = &logger{logger: zap.NewNop()}

// Root returns the root logger. It never returns nil.
func Root() Logger {
	return root
}

// Debug logs at debug level on the root logger.
func Debug(msg string, ctx ...interface{}) {
	root.Debug(msg, ctx...)
}

// Info logs at info level on the root logger.
func Info(msg string, ctx ...interface{}) {
	root.Info(msg, ctx...)
}

// Error logs at error level on the root logger.
func Error(msg string, ctx ...interface{}) {
	root.Error(msg, ctx...)
}

// New returns a child of the root logger with the given context attached.
func New(ctx ...interface{}) Logger {
	return Root().New(ctx...)
}

// Config configures the logging subsystem.
type Config struct {
	// Level of console logging (debug|info|error).
	Level string `toml:"level,omitempty"`
	// Format of the console logging (human|json).
	Format string `toml:"format,omitempty"`
}

// InitDefaults populates unset fields in cfg to their default values.
func (c *Config) InitDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "human"
	}
}

// Validate validates the config.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "human", "json":
		return nil
	}
	return serrors.New("unknown log format", "format", c.Format)
}

func parseLevel(lvl string) (zapcore.Level, error) {
	switch strings.ToLower(lvl) {
	case "debug", "dbug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "error", "eror":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, serrors.New("unknown log level", "level", lvl)
	}
}

// Setup configures the root logger. It must be called before the root logger
// is used.
func Setup(cfg Config) error {
	cfg.InitDefaults()
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	encoding := "console"
	if cfg.Format == "json" {
		encoding = "json"
	}
	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		DisableStacktrace: true,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig(cfg.Format),
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	l, err := zc.Build()
	if err != nil {
		return serrors.Wrap("creating logger", err)
	}
	root = &logger{logger: l}
	return nil
}

func encoderConfig(format string) zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if format != "json" {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return ec
}

// Flush writes the logs to the underlying buffer.
func Flush() error {
	return root.logger.Sync()
}

// HandlePanic catches panics and logs them. Call in a defer at the top of
// every goroutine.
func HandlePanic() {
	if msg := recover(); msg != nil {
		root.logger.Error("Panic", zap.Any("msg", msg),
			zap.ByteString("stack", debug.Stack()))
		_ = Flush()
		panic(msg)
	}
}
