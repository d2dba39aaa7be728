// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusSink adapts a *logrus.Logger to the LogSink interface. Key/value pairs
// become logrus fields.
type LogrusSink struct {
	log *logrus.Logger
}

var _ LogSink = &LogrusSink{}

// NewLogrusSink wraps log. Level gating happens in Logger, so the logrus
// logger should be configured at DebugLevel to see debug messages.
func NewLogrusSink(log *logrus.Logger) *LogrusSink {
	return &LogrusSink{log: log}
}

func newJSONLogrus(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)
	return log
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}

// Info logs msg at logrus InfoLevel for level 0 and DebugLevel above that.
func (s *LogrusSink) Info(level int, msg string, keysAndValues ...interface{}) {
	entry := s.log.WithFields(fields(keysAndValues))
	if level > 0 {
		entry.Debug(msg)
		return
	}
	entry.Info(msg)
}

// Error logs msg with err attached at logrus ErrorLevel.
func (s *LogrusSink) Error(err error, msg string, keysAndValues ...interface{}) {
	s.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}
