// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Command sdamreplay replays a scenario of recorded heartbeat replies through
// server discovery and prints the topology after each phase, together with
// the servers a selector would choose.
//
//	sdamreplay -scenario file.yaml [-config opts.toml] [-env .env] [-format json|table]
package main

import (
	"flag"
	"io"
	"os"

	"github.com/ikmak/mongo-sdam/internal/logger"
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/topology"
	"github.com/pkg/errors"
)

func main() {
	err := mainReal()
	if err != nil {
		os.Stderr.Write([]byte(err.Error() + "\n"))
		os.Exit(-1)
	}
}

func mainReal() error {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("sdamreplay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	scenarioPath := fs.String("scenario", "", "YAML scenario to replay")
	configPath := fs.String("config", "", "TOML options file")
	envPath := fs.String("env", "", "env file with MONGODB_LOG_* settings")
	format := fs.String("format", formatTable, "output format: json or table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *scenarioPath == "" {
		return errors.New("-scenario is required")
	}
	var write func(io.Writer, phaseResult) error
	switch *format {
	case formatJSON:
		write = writeJSON
	case formatTable:
		write = writeTable
	default:
		return errors.Errorf("unknown format %q", *format)
	}

	// The env file has to be loaded before the logger reads its levels.
	if err := loadEnv(*envPath); err != nil {
		return err
	}
	opts, err := loadOptions(*configPath)
	if err != nil {
		return err
	}
	log, err := opts.newLogger(stderr)
	if err != nil {
		return errors.Wrap(err, "error creating logger")
	}
	defer log.Close()

	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		return err
	}
	topoOpts, err := opts.topologyOptions(log)
	if err != nil {
		return err
	}
	cfg, err := topology.NewConfig(append(topoOpts, sc.topologyOptions()...)...)
	if err != nil {
		return errors.Wrap(err, "invalid scenario deployment")
	}
	r, err := topology.NewReplayer(cfg)
	if err != nil {
		return err
	}

	for i, ph := range sc.Phases {
		res, err := replayPhase(r, cfg, log, ph)
		if err != nil {
			return errors.Wrapf(err, "phase %d", i+1)
		}
		res.Index = i + 1
		if err := write(stdout, res); err != nil {
			return err
		}
	}
	return nil
}

func replayPhase(r *topology.Replayer, cfg *topology.Config, log *logger.Logger, ph phase) (phaseResult, error) {
	res := phaseResult{Description: ph.Description}

	for _, resp := range ph.Responses {
		addr := address.Address(resp.Host)

		var applyErr error
		if resp.Error != "" {
			_, applyErr = r.ApplyError(addr, errors.New(resp.Error))
		} else {
			reply, err := resp.document()
			if err != nil {
				return res, err
			}
			_, applyErr = r.Apply(addr, reply, resp.rtt())
		}
		// A rejected reply leaves the description unchanged; the replay goes on.
		if applyErr != nil {
			res.ApplyErrors = append(res.ApplyErrors, applyErr)
		}
	}
	res.Topology = r.Description()

	if ph.Select == nil {
		return res, nil
	}
	selector, name, err := ph.Select.selector(cfg.HeartbeatInterval)
	if err != nil {
		return res, errors.Wrap(err, "invalid selector")
	}
	res.Selector = name
	res.Selected, res.SelectErr = r.Select(selector)
	logSelection(log, name, res)

	return res, nil
}

func logSelection(log *logger.Logger, selector string, res phaseResult) {
	if !log.LevelComponentEnabled(logger.LevelInfo, logger.ComponentServerSelection) {
		return
	}

	sel := logger.ServerSelection{
		Selector:            selector,
		Operation:           "replay",
		TopologyDescription: log.Truncate(res.Topology.String()),
	}
	switch {
	case res.SelectErr != nil:
		log.Print(logger.LevelDebug, logger.ComponentServerSelection, logger.ServerSelectionFailed,
			logger.SerializeServerSelection(sel, logger.KeyFailure, res.SelectErr.Error())...)
	case len(res.Selected) == 0:
		log.Print(logger.LevelInfo, logger.ComponentServerSelection, logger.ServerSelectionWaiting,
			logger.SerializeServerSelection(sel)...)
	default:
		log.Print(logger.LevelDebug, logger.ComponentServerSelection, logger.ServerSelectionSucceeded,
			logger.SerializeServerSelection(sel, logger.KeyHosts, hosts(res.Selected))...)
	}
}

func hosts(servers []description.Server) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		out = append(out, s.Addr.String())
	}
	return out
}
