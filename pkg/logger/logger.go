package logger

// logger module provides zap based logger used by client, CLI and server
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"fmt"
	"net/url"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used across the code base
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

// NewWithFile returns logger writing into daily rotated log files. The file
// name is derived from logFile via LogName. Empty logFile gives logger
// writing JSON records to stderr.
func NewWithFile(level, logFile string) (Logger, error) {
	sink := zapcore.Lock(os.Stderr)
	if logFile != "" {
		rl, err := rotatelogs.New(LogName(logFile), rotatelogs.WithMaxAge(7*24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("unable to create rotate logs for %s: %w", logFile, err)
		}
		sink = zapcore.AddSync(rotateLogWriter{RotateLogs: rl})
	}
	l, err := build(level, sink)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Nop returns logger which discards all records
func Nop() Logger {
	return &zapLogger{logger: zap.NewNop().Sugar()}
}

func build(level string, sink zapcore.WriteSyncer) (*zapLogger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, zap.NewAtomicLevelAt(lvl))
	return &zapLogger{logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()}, nil
}

// custom rotate logger which unescapes URL encoded content
type rotateLogWriter struct {
	RotateLogs *rotatelogs.RotateLogs
}

func (w rotateLogWriter) Write(data []byte) (int, error) {
	return w.RotateLogs.Write([]byte(unescape(data)))
}

func unescape(data []byte) string {
	s := string(data)
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

// LogName return proper log name based on given log file and either
// hostname or pod name (used in k8s environment).
func LogName(logFile string) string {
	hostname, _ := os.Hostname()
	if os.Getenv("MY_POD_NAME") != "" {
		hostname = os.Getenv("MY_POD_NAME")
	}
	if hostname != "" {
		return fmt.Sprintf("%s_%s", logFile, hostname) + "_%Y%m%d"
	}
	return logFile + "_%Y%m%d"
}

func (l *zapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Infow(msg, fields...)
}

func (l *zapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Errorw(msg, fields...)
}

func (l *zapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warnw(msg, fields...)
}

func (l *zapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debugw(msg, fields...)
}

func (l *zapLogger) Fatal(msg string, fields ...interface{}) {
	l.logger.Fatalw(msg, fields...)
}
