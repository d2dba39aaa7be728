// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ikmak/mongo-sdam/internal/serverselector"
	"github.com/ikmak/mongo-sdam/mongo/readpref"
	"github.com/ikmak/mongo-sdam/tag"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/topology"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v2"
)

// scenario is a deployment and the heartbeat replies it sends, phase by
// phase.
type scenario struct {
	Description      string   `yaml:"description"`
	Seeds            []string `yaml:"seeds"`
	ReplicaSet       string   `yaml:"replicaSet"`
	DirectConnection bool     `yaml:"directConnection"`
	LoadBalanced     bool     `yaml:"loadBalanced"`
	Phases           []phase  `yaml:"phases"`
}

type phase struct {
	Description string      `yaml:"description"`
	Responses   []response  `yaml:"responses"`
	Select      *selectSpec `yaml:"select,omitempty"`
}

// response is one heartbeat outcome: either a hello reply or an error.
type response struct {
	Host  string        `yaml:"host"`
	Reply yaml.MapSlice `yaml:"reply"`
	Error string        `yaml:"error"`
	RTTMS int64         `yaml:"rttMS"`
}

type selectSpec struct {
	Mode                string              `yaml:"mode"`
	Write               bool                `yaml:"write"`
	TagSets             []map[string]string `yaml:"tagSets"`
	MaxStalenessSeconds int64               `yaml:"maxStalenessSeconds"`
}

func loadScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading scenario")
	}

	var s scenario
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, errors.Wrapf(err, "error parsing scenario %s", path)
	}
	if len(s.Seeds) == 0 {
		return nil, errors.Errorf("scenario %s has no seeds", path)
	}
	return &s, nil
}

func (s *scenario) topologyOptions() []topology.Option {
	opts := []topology.Option{topology.WithSeedList(s.Seeds...)}
	if s.ReplicaSet != "" {
		opts = append(opts, topology.WithReplicaSetName(s.ReplicaSet))
	}
	if s.DirectConnection {
		opts = append(opts, topology.WithDirectConnection(true))
	}
	if s.LoadBalanced {
		opts = append(opts, topology.WithLoadBalanced(true))
	}
	return opts
}

func (r response) rtt() time.Duration {
	return time.Duration(r.RTTMS) * time.Millisecond
}

// document converts the reply to BSON. Extended JSON style wrappers ($oid,
// $date, $timestamp) become the matching BSON types.
func (r response) document() (bson.Raw, error) {
	doc, err := convertMapSlice(r.Reply)
	if err != nil {
		return nil, errors.Wrapf(err, "error converting reply from %s", r.Host)
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error marshaling reply from %s", r.Host)
	}
	return raw, nil
}

func convertMapSlice(ms yaml.MapSlice) (interface{}, error) {
	if len(ms) == 1 {
		if special, ok, err := convertWrapper(ms[0]); ok || err != nil {
			return special, err
		}
	}

	doc := make(bson.D, 0, len(ms))
	for _, item := range ms {
		key, ok := item.Key.(string)
		if !ok {
			return nil, errors.Errorf("document key %v is not a string", item.Key)
		}
		val, err := convertValue(item.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", key)
		}
		doc = append(doc, bson.E{Key: key, Value: val})
	}
	return doc, nil
}

func convertWrapper(item yaml.MapItem) (interface{}, bool, error) {
	switch item.Key {
	case "$oid":
		hex, ok := item.Value.(string)
		if !ok {
			return nil, true, errors.New("$oid must be a string")
		}
		oid, err := primitive.ObjectIDFromHex(hex)
		return oid, true, err
	case "$date":
		ms, ok := item.Value.(int)
		if !ok {
			return nil, true, errors.New("$date must be milliseconds since the epoch")
		}
		return primitive.DateTime(ms), true, nil
	case "$timestamp":
		fields, ok := item.Value.(yaml.MapSlice)
		if !ok {
			return nil, true, errors.New("$timestamp must be a document")
		}
		var ts primitive.Timestamp
		for _, f := range fields {
			n, ok := f.Value.(int)
			if !ok {
				return nil, true, errors.Errorf("$timestamp field %v must be an integer", f.Key)
			}
			switch f.Key {
			case "t":
				ts.T = uint32(n)
			case "i":
				ts.I = uint32(n)
			}
		}
		return ts, true, nil
	}
	return nil, false, nil
}

func convertValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case yaml.MapSlice:
		return convertMapSlice(val)
	case []interface{}:
		arr := make(bson.A, 0, len(val))
		for i, elem := range val {
			converted, err := convertValue(elem)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			arr = append(arr, converted)
		}
		return arr, nil
	case int, int64, float64, bool, string, nil:
		return val, nil
	}
	return nil, fmt.Errorf("unsupported value %v of type %T", v, v)
}

// selector builds the selector a phase asks for. Reads go through the read
// preference and latency selectors; writes through the write selector.
func (s *selectSpec) selector(heartbeatInterval time.Duration) (description.ServerSelector, string, error) {
	if s.Write {
		return &serverselector.Write{}, "write", nil
	}

	mode := readpref.PrimaryMode
	if s.Mode != "" {
		var err error
		mode, err = readpref.ModeFromString(s.Mode)
		if err != nil {
			return nil, "", err
		}
	}

	var opts []readpref.Option
	if len(s.TagSets) > 0 {
		opts = append(opts, readpref.WithTagSets(tag.NewTagSetsFromMaps(s.TagSets)...))
	}
	if s.MaxStalenessSeconds > 0 {
		opts = append(opts, readpref.WithMaxStaleness(time.Duration(s.MaxStalenessSeconds)*time.Second))
	}
	rp, err := readpref.New(mode, opts...)
	if err != nil {
		return nil, "", err
	}
	rpSel, err := serverselector.NewReadPref(rp, heartbeatInterval)
	if err != nil {
		return nil, "", err
	}

	return &serverselector.Composite{
		Selectors: []description.ServerSelector{rpSel, &serverselector.Latency{}},
	}, rp.String(), nil
}
