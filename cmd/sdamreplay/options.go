// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"io"
	"os"
	"time"

	"github.com/ikmak/mongo-sdam/internal/logger"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/topology"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// options is the TOML options file. Durations use time.ParseDuration syntax.
type options struct {
	HeartbeatFrequency string     `toml:"heartbeatFrequency"`
	LocalThreshold     string     `toml:"localThreshold"`
	AppName            string     `toml:"appName"`
	Log                logOptions `toml:"log"`
}

// logOptions holds explicit log levels. Components left empty fall back to
// the MONGODB_LOG_* environment variables.
type logOptions struct {
	All               string `toml:"all"`
	Topology          string `toml:"topology"`
	ServerSelection   string `toml:"serverSelection"`
	MaxDocumentLength uint   `toml:"maxDocumentLength"`
}

func loadOptions(path string) (*options, error) {
	opts := &options{}
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading options")
	}
	if err := toml.Unmarshal(data, opts); err != nil {
		return nil, errors.Wrapf(err, "error parsing options %s", path)
	}
	return opts, nil
}

// loadEnv sets variables from an env file without overriding ones already
// set in the process environment.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "error loading env file %s", path)
	}
	return nil
}

func (o *options) componentLevels() map[logger.Component]logger.Level {
	levels := make(map[logger.Component]logger.Level)
	for comp, str := range map[logger.Component]string{
		logger.ComponentAll:             o.Log.All,
		logger.ComponentTopology:        o.Log.Topology,
		logger.ComponentServerSelection: o.Log.ServerSelection,
	} {
		if str != "" {
			levels[comp] = logger.ParseLevel(str)
		}
	}
	if len(levels) == 0 {
		return nil
	}
	return levels
}

func (o *options) newLogger(w io.Writer) (*logger.Logger, error) {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)

	return logger.New(logger.NewLogrusSink(log), o.Log.MaxDocumentLength, o.componentLevels())
}

func (o *options) topologyOptions(log *logger.Logger) ([]topology.Option, error) {
	opts := []topology.Option{topology.WithTopologyLogger(log)}

	if o.AppName != "" {
		opts = append(opts, topology.WithAppName(o.AppName))
	}
	if o.HeartbeatFrequency != "" {
		d, err := time.ParseDuration(o.HeartbeatFrequency)
		if err != nil {
			return nil, errors.Wrap(err, "invalid heartbeatFrequency")
		}
		opts = append(opts, topology.WithHeartbeatFrequency(d))
	}
	if o.LocalThreshold != "" {
		d, err := time.ParseDuration(o.LocalThreshold)
		if err != nil {
			return nil, errors.Wrap(err, "invalid localThreshold")
		}
		opts = append(opts, topology.WithLocalThreshold(d))
	}
	return opts, nil
}
