// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v2"
)

const replicaSetScenario = "testdata/replica_set.yaml"

// clearLogEnv unsets the MONGODB_LOG_* variables for the test and restores
// them afterwards.
func clearLogEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"MONGODB_LOG_ALL",
		"MONGODB_LOG_TOPOLOGY",
		"MONGODB_LOG_SERVER_SELECTION",
		"MONGODB_LOG_CONNECTION",
		"MONGODB_LOG_PATH",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

// decodePhases splits the pretty JSON stream written by -format json.
func decodePhases(t *testing.T, out []byte) []phaseView {
	t.Helper()

	var phases []phaseView
	dec := json.NewDecoder(bytes.NewReader(out))
	for dec.More() {
		var v phaseView
		require.NoError(t, dec.Decode(&v))
		phases = append(phases, v)
	}
	return phases
}

func TestRun(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		clearLogEnv(t)
		var stdout, stderr bytes.Buffer

		err := run([]string{"-scenario", replicaSetScenario, "-format", "json"}, &stdout, &stderr)
		require.NoError(t, err, stderr.String())

		phases := decodePhases(t, stdout.Bytes())
		require.Len(t, phases, 3)

		first := phases[0]
		assert.Equal(t, 1, first.Phase)
		assert.Equal(t, "ReplicaSetWithPrimary", first.Kind)
		assert.Equal(t, "rs", first.SetName)
		assert.Equal(t, uint32(1), first.MaxSetVersion)
		assert.Equal(t, "000000000000000000000001", first.MaxElectionID)
		require.Len(t, first.Servers, 2)
		assert.Equal(t, "RSPrimary", first.Servers[0].Kind)
		assert.Equal(t, "5ms", first.Servers[0].RTT)
		assert.Equal(t, "Unknown", first.Servers[1].Kind)
		assert.Equal(t, "write", first.Selector)
		assert.Equal(t, []string{"a:27017"}, first.Selected)

		second := phases[1]
		assert.Equal(t, "RSSecondary", second.Servers[1].Kind)
		assert.Equal(t, []string{"b:27017"}, second.Selected)

		third := phases[2]
		assert.Equal(t, "ReplicaSetNoPrimary", third.Kind)
		assert.Equal(t, "Unknown", third.Servers[0].Kind)
		assert.Equal(t, "connection refused", third.Servers[0].Error)
		assert.Empty(t, third.Selected)
		assert.Empty(t, third.SelectionError)
	})
	t.Run("table", func(t *testing.T) {
		clearLogEnv(t)
		var stdout, stderr bytes.Buffer

		err := run([]string{"-scenario", replicaSetScenario}, &stdout, &stderr)
		require.NoError(t, err, stderr.String())

		out := stdout.String()
		assert.Contains(t, out, "Phase 1: primary reports the set")
		assert.Contains(t, out, "Topology: ReplicaSetWithPrimary (rs)")
		assert.Contains(t, out, "Selector write: 1 suitable")
		assert.Regexp(t, `Selector secondary\(tagSet=.*east.*\): 1 suitable`, out)
		assert.Contains(t, out, "Selector primary: no suitable server")
		assert.Contains(t, out, "RSPrimary")
		assert.Empty(t, stderr.String(), "logging is off by default")
	})
	t.Run("options and env file enable logging", func(t *testing.T) {
		clearLogEnv(t)
		var stdout, stderr bytes.Buffer

		err := run([]string{
			"-scenario", replicaSetScenario,
			"-config", "testdata/options.toml",
			"-env", "testdata/log.env",
		}, &stdout, &stderr)
		require.NoError(t, err)

		logs := stderr.String()
		assert.Contains(t, logs, "Topology description changed", "topology level comes from the env file")
		assert.Contains(t, logs, "Server selection succeeded", "selection level comes from the options file")
		assert.Contains(t, logs, "Waiting for suitable server to become available")
	})
	t.Run("errors", func(t *testing.T) {
		clearLogEnv(t)

		testCases := []struct {
			name string
			args []string
			want string
		}{
			{"no scenario", nil, "-scenario is required"},
			{"bad format", []string{"-scenario", replicaSetScenario, "-format", "xml"}, "unknown format"},
			{"missing scenario", []string{"-scenario", "testdata/missing.yaml"}, "error reading scenario"},
			{"missing options", []string{"-scenario", replicaSetScenario, "-config", "testdata/missing.toml"}, "error reading options"},
			{"missing env", []string{"-scenario", replicaSetScenario, "-env", "testdata/missing.env"}, "error loading env file"},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				var stdout, stderr bytes.Buffer
				err := run(tc.args, &stdout, &stderr)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.want)
			})
		}
	})
}

func TestLoadScenario(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "scenario.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("seeds are required", func(t *testing.T) {
		_, err := loadScenario(write(t, "phases: []\n"))
		assert.ErrorContains(t, err, "has no seeds")
	})
	t.Run("unknown fields are rejected", func(t *testing.T) {
		_, err := loadScenario(write(t, "seeds: [a]\nseedz: [b]\n"))
		assert.ErrorContains(t, err, "error parsing scenario")
	})
	t.Run("invalid deployment", func(t *testing.T) {
		clearLogEnv(t)
		path := write(t, "seeds: [a, b]\ndirectConnection: true\n")

		var stdout, stderr bytes.Buffer
		err := run([]string{"-scenario", path}, &stdout, &stderr)
		assert.ErrorContains(t, err, "invalid scenario deployment")
	})
}

func TestResponseDocument(t *testing.T) {
	var resp response
	require.NoError(t, yaml.Unmarshal([]byte(`
host: a:27017
reply:
  ok: 1
  hosts: [a, b]
  electionId: {$oid: "0000000000000000000000ff"}
  lastWrite:
    lastWriteDate: {$date: 1000}
  $clusterTime:
    clusterTime: {$timestamp: {t: 10, i: 2}}
`), &resp))

	raw, err := resp.document()
	require.NoError(t, err)

	oid, err := primitive.ObjectIDFromHex("0000000000000000000000ff")
	require.NoError(t, err)
	assert.Equal(t, oid, raw.Lookup("electionId").ObjectID())
	assert.Equal(t, int64(1000), raw.Lookup("lastWrite", "lastWriteDate").DateTime())
	ts, inc := raw.Lookup("$clusterTime", "clusterTime").Timestamp()
	assert.Equal(t, uint32(10), ts)
	assert.Equal(t, uint32(2), inc)

	hosts, err := raw.Lookup("hosts").Array().Values()
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "b", hosts[1].StringValue())

	t.Run("bad wrappers", func(t *testing.T) {
		for _, reply := range []string{
			`{electionId: {$oid: 5}}`,
			`{electionId: {$oid: "xyz"}}`,
			`{lastWriteDate: {$date: "yesterday"}}`,
			`{clusterTime: {$timestamp: 5}}`,
		} {
			var r response
			require.NoError(t, yaml.Unmarshal([]byte("reply: "+reply), &r))
			_, err := r.document()
			assert.Error(t, err, reply)
		}
	})
	t.Run("plain documents stay documents", func(t *testing.T) {
		var r response
		require.NoError(t, yaml.Unmarshal([]byte("reply: {tags: {dc: east}}"), &r))
		raw, err := r.document()
		require.NoError(t, err)

		assert.Equal(t, bson.TypeEmbeddedDocument, raw.Lookup("tags").Type)
		assert.Equal(t, "east", raw.Lookup("tags", "dc").StringValue())
	})
}
