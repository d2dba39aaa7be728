// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type mockLogSink struct {
	mu   sync.Mutex
	msgs []string
	lvls []int
	errs []error
}

func (s *mockLogSink) Info(level int, msg string, _ ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	s.lvls = append(s.lvls, level)
}

func (s *mockLogSink) Error(err error, msg string, _ ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	s.errs = append(s.errs, err)
}

func TestSelectComponentLevels(t *testing.T) {
	t.Run("explicit levels win over the environment", func(t *testing.T) {
		t.Setenv(mongoDBLogAllEnvVar, "")
		t.Setenv(mongoDBLogTopologyEnvVar, "info")

		got := selectComponentLevels(map[Component]Level{ComponentTopology: LevelDebug})
		assert.Equal(t, LevelDebug, got[ComponentTopology])
		assert.Equal(t, LevelOff, got[ComponentServerSelection])
	})
	t.Run("MONGODB_LOG_ALL applies to every component", func(t *testing.T) {
		t.Setenv(mongoDBLogAllEnvVar, "debug")
		t.Setenv(mongoDBLogTopologyEnvVar, "info")

		got := selectComponentLevels(nil)
		assert.Equal(t, LevelDebug, got[ComponentTopology])
		assert.Equal(t, LevelDebug, got[ComponentServerSelection])
		assert.Equal(t, LevelDebug, got[ComponentConnection])
	})
	t.Run("component variables", func(t *testing.T) {
		t.Setenv(mongoDBLogAllEnvVar, "")
		t.Setenv(mongoDBLogServerSelectionEnvVar, "TRACE")

		got := selectComponentLevels(nil)
		assert.Equal(t, LevelDebug, got[ComponentServerSelection])
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LevelInfo, ParseLevel("warn"))
	assert.Equal(t, LevelInfo, ParseLevel("Error"))
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelOff, ParseLevel("off"))
	assert.Equal(t, LevelOff, ParseLevel("loud"))
}

func TestLogger_Print(t *testing.T) {
	sink := &mockLogSink{}
	logger, err := New(sink, 0, map[Component]Level{
		ComponentTopology:        LevelDebug,
		ComponentServerSelection: LevelInfo,
	})
	require.NoError(t, err)

	logger.Print(LevelDebug, ComponentTopology, "a")
	logger.Print(LevelDebug, ComponentServerSelection, "dropped")
	logger.Print(LevelInfo, ComponentServerSelection, "b")
	logger.Error(errors.New("boom"), "c")

	assert.Equal(t, []string{"a", "b", "c"}, sink.msgs)
	assert.Equal(t, []int{1, 0}, sink.lvls)
	require.Len(t, sink.errs, 1)

	var nilLogger *Logger
	assert.False(t, nilLogger.LevelComponentEnabled(LevelInfo, ComponentTopology))
	nilLogger.Print(LevelInfo, ComponentTopology, "ignored")
	nilLogger.Error(errors.New("ignored"), "ignored")
	assert.NoError(t, nilLogger.Close())
}

func TestLogrusSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewLogrusSink(newJSONLogrus(&buf))

	id := primitive.NewObjectID()
	sink.Info(0, TopologyOpening, SerializeTopology(Topology{ID: id})...)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, TopologyOpening, entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, id.Hex(), entry[KeyTopologyID])

	buf.Reset()
	sink.Error(errors.New("boom"), SRVPollFailed, KeySRVHost, "example.com")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "example.com", entry[KeySRVHost])
}

func TestSerializeServer(t *testing.T) {
	t.Parallel()

	id := primitive.NewObjectID()
	kv := SerializeServer(Server{TopologyID: id, Message: TopologyServerOpening, Address: "a:27018"},
		KeyAwaited, true)

	assert.Equal(t, KeyValues{
		KeyMessage, TopologyServerOpening,
		KeyTopologyID, id.Hex(),
		KeyServerHost, "a",
		KeyServerPort, int64(27018),
		KeyAwaited, true,
	}, kv)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", truncate("abc", 0))
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
	assert.Equal(t, "✓...", truncate("✓✓", 4))

	logger := &Logger{MaxDocumentLength: 2}
	assert.Equal(t, "ab...", logger.Truncate("abcdef"))
}
