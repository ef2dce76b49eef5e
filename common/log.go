//  Copyright (c) 2017-2018 Uber Technologies, Inc.
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

package common

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a general logger interface
type Logger interface {
	// Log at debug level
	Debug(args ...interface{})

	// Log at debug level with fmt.Printf-like formatting
	Debugf(format string, args ...interface{})

	// Log at info level
	Info(args ...interface{})

	// Log at info level with fmt.Printf-like formatting
	Infof(format string, args ...interface{})

	// Log at warning level
	Warn(args ...interface{})

	// Log at warning level with fmt.Printf-like formatting
	Warnf(format string, args ...interface{})

	// Log at error level
	Error(args ...interface{})

	// Log at error level with fmt.Printf-like formatting
	Errorf(format string, args ...interface{})

	// Log at fatal level, then terminate process (irrecoverable)
	Fatal(args ...interface{})

	// Log at fatal level with fmt.Printf-like formatting, then terminate process (irrecoverable)
	Fatalf(format string, args ...interface{})

	// Return a logger with the specified key-value pair set, to be logged in a subsequent normal logging call
	With(args ...interface{}) Logger
}

// LoggerFactory hands out the loggers of the broker.
type LoggerFactory interface {
	// GetDefaultLogger returns the default logger.
	GetDefaultLogger() Logger
	// GetLogger returns the logger of a component, tagged with its name.
	GetLogger(name string) Logger
}

// ZapLoggerFactory builds named loggers from one zap config.
type ZapLoggerFactory struct {
	root   *zap.Logger
	config LoggingConfig
}

// NewLoggerFactory creates a factory writing json at debug level to stdout, for tests
// and tools.
func NewLoggerFactory() LoggerFactory {
	return &ZapLoggerFactory{root: zap.NewExample()}
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	err := l.UnmarshalText([]byte(level))
	return l, err
}

func buildZap(config LoggingConfig, level string) (*zap.Logger, error) {
	l, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.NewProductionConfig()
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(l)
	if config.Encoding != "" {
		zapConfig.Encoding = config.Encoding
	}
	return zapConfig.Build()
}

// NewLoggerFactoryFromConfig creates a factory from the logging section of the config.
func NewLoggerFactoryFromConfig(config LoggingConfig) (LoggerFactory, error) {
	root, err := buildZap(config, config.Level)
	if err != nil {
		return nil, err
	}
	return &ZapLoggerFactory{root: root, config: config}, nil
}

// GetDefaultLogger returns the root logger.
func (r *ZapLoggerFactory) GetDefaultLogger() Logger {
	return &ZapLogger{r.root.Sugar()}
}

// GetLogger returns a child of the root logger named name. The query logger may run at
// its own level.
func (r *ZapLoggerFactory) GetLogger(name string) Logger {
	logger := r.root
	if name == "query" && r.config.QueryLevel != "" {
		if built, err := buildZap(r.config, r.config.QueryLevel); err == nil {
			logger = built
		}
	}
	return &ZapLogger{logger.Named(name).Sugar()}
}

// ZapLogger is wrapper of zap
type ZapLogger struct {
	sugaredLogger *zap.SugaredLogger
}

// Debug is log at debug level
func (z *ZapLogger) Debug(args ...interface{}) {
	z.sugaredLogger.Debug(args...)
}

// Debugf is log at debug level with fmt.Printf-like formatting
func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.sugaredLogger.Debugf(format, args...)
}

// Info is log at info level
func (z *ZapLogger) Info(args ...interface{}) {
	z.sugaredLogger.Info(args...)
}

// Infof is log at info level with fmt.Printf-like formatting
func (z *ZapLogger) Infof(format string, args ...interface{}) {
	z.sugaredLogger.Infof(format, args...)
}

// Warn is log at warning level
func (z *ZapLogger) Warn(args ...interface{}) {
	z.sugaredLogger.Warn(args...)
}

// Warnf is log at warning level with fmt.Printf-like formatting
func (z *ZapLogger) Warnf(format string, args ...interface{}) {
	z.sugaredLogger.Warnf(format, args...)
}

// Error is log at error level
func (z *ZapLogger) Error(args ...interface{}) {
	z.sugaredLogger.Error(args...)
}

// Errorf is log at error level with fmt.Printf-like formatting
func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.sugaredLogger.Errorf(format, args...)
}

// Fatal is log at fatal level, then terminate process (irrecoverable)
func (z *ZapLogger) Fatal(args ...interface{}) {
	z.sugaredLogger.Fatal(args...)
}

// Fatalf is log at fatal level with fmt.Printf-like formatting, then terminate process (irrecoverable)
func (z *ZapLogger) Fatalf(format string, args ...interface{}) {
	z.sugaredLogger.Fatalf(format, args...)
}

// With returns a logger with the specified key-value pair set, to be logged in a subsequent normal logging call
func (z *ZapLogger) With(args ...interface{}) Logger {
	return &ZapLogger{
		z.sugaredLogger.With(args...),
	}
}
