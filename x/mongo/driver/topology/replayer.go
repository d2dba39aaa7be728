// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"time"

	"github.com/ikmak/mongo-sdam/internal/logger"
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Replayer runs recorded hello replies through the same discovery rules a
// connected Topology applies to heartbeats, without opening any connection.
// It is not safe for concurrent use.
type Replayer struct {
	id  primitive.ObjectID
	cfg *Config
	fsm *fsm
}

// NewReplayer returns a Replayer seeded from cfg. Seeds that come from SRV
// records cannot be replayed.
func NewReplayer(cfg *Config) (*Replayer, error) {
	if cfg == nil {
		var err error
		cfg, err = NewConfig()
		if err != nil {
			return nil, err
		}
	}
	if cfg.SRVHost != "" {
		return nil, errors.New("cannot replay a topology seeded from SRV records")
	}

	return &Replayer{
		id:  primitive.NewObjectID(),
		cfg: cfg,
		fsm: initialFSM(cfg, cfg.SeedList),
	}, nil
}

// Description returns the current topology description.
func (r *Replayer) Description() description.Topology {
	return r.fsm.Topology
}

// Apply records reply as the outcome of a heartbeat to addr that took rtt. A
// zero rtt adds no round trip sample. Replies for addresses the topology does
// not hold are ignored, as are replies carrying an older topology version
// than the one already recorded for addr.
func (r *Replayer) Apply(addr address.Address, reply bson.Raw, rtt time.Duration) (description.Topology, error) {
	addr = addr.Canonicalize()
	prev, _ := r.fsm.Server(addr)

	desc := description.NewServer(addr, reply,
		description.WithHeartbeatInterval(r.cfg.HeartbeatInterval),
		description.WithRTTSamples(prev.RTTSamples))
	if rtt > 0 {
		desc = desc.AddRTTSample(rtt)
	}
	return r.apply(prev, desc)
}

// ApplyError records a failed heartbeat to addr.
func (r *Replayer) ApplyError(addr address.Address, err error) (description.Topology, error) {
	addr = addr.Canonicalize()
	prev, _ := r.fsm.Server(addr)

	return r.apply(prev, description.NewServerFromError(addr, err, nil))
}

// Select returns every server selector considers suitable in the current
// description. Unlike Topology.SelectServer it never waits: an empty result
// means a live topology would block until the description changes.
func (r *Replayer) Select(selector description.ServerSelector) ([]description.Server, error) {
	desc := r.fsm.Topology
	if desc.CompatibilityErr != nil {
		return nil, ServerSelectionError{Wrapped: desc.CompatibilityErr, Desc: desc}
	}

	suitable, err := selector.SelectServer(desc, desc.Servers, nil)
	if err != nil {
		return nil, ServerSelectionError{Wrapped: err, Desc: desc}
	}
	return suitable, nil
}

func (r *Replayer) apply(prev, desc description.Server) (description.Topology, error) {
	if !r.fsm.HasServer(desc.Addr) {
		return r.fsm.Topology, nil
	}
	if prev.TopologyVersion.CompareToIncoming(desc.TopologyVersion) > 0 {
		r.log(logger.TopologyUpdateRejected,
			logger.KeyPreviousDescription, prev.String(),
			logger.KeyNewDescription, desc.String())
		return r.fsm.Topology, nil
	}
	if len(desc.ClusterTime) > 0 && r.cfg.ClusterClock != nil {
		r.cfg.ClusterClock.AdvanceClusterTime(desc.ClusterTime)
	}

	before := r.fsm.Topology
	topo, _, err := r.fsm.apply(desc)
	if err != nil {
		return topo, errors.Wrapf(err, "error applying reply from %s", desc.Addr)
	}
	if !before.Equal(topo) {
		r.log(logger.TopologyDescriptionChanged,
			logger.KeyPreviousDescription, before.String(),
			logger.KeyNewDescription, topo.String())
	}
	return topo, nil
}

func (r *Replayer) log(msg string, keysAndValues ...interface{}) {
	if !r.cfg.Logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentTopology) {
		return
	}
	r.cfg.Logger.Print(logger.LevelDebug, logger.ComponentTopology, msg,
		logger.SerializeTopology(logger.Topology{ID: r.id, Message: msg}, keysAndValues...)...)
}
