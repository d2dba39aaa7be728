// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ignoreUpdateTimes drops the fields stamped with the wall clock.
var ignoreUpdateTimes = cmpopts.IgnoreFields(description.Server{}, "LastUpdateTime")

func TestReplayer(t *testing.T) {
	t.Run("matches a connected topology", func(t *testing.T) {
		cfg, err := NewConfig(WithSeedList("a:27017"), WithReplicaSetName("rs"))
		require.NoError(t, err)
		r, err := NewReplayer(cfg)
		require.NoError(t, err)
		topo := newUnmonitoredTopology(t, WithSeedList("a:27017"), WithReplicaSetName("rs"))

		replies := []struct {
			addr   string
			fields bson.D
		}{
			{"a:27017", bson.D{
				{"isWritablePrimary", true},
				{"setName", "rs"},
				{"hosts", bson.A{"a:27017", "b:27017"}},
				{"setVersion", 1},
				{"electionId", electionID(1)},
			}},
			{"b:27017", bson.D{
				{"secondary", true},
				{"setName", "rs"},
				{"hosts", bson.A{"a:27017", "b:27017"}},
			}},
		}
		for _, reply := range replies {
			raw := helloReply(t, reply.fields)

			_, err := r.Apply(address.Address(reply.addr), raw, 0)
			require.NoError(t, err)
			topo.apply(description.NewServer(address.Address(reply.addr), raw,
				description.WithHeartbeatInterval(cfg.HeartbeatInterval)))
		}

		want := topo.Description()
		got := r.Description()
		if diff := cmp.Diff(want, got, ignoreUpdateTimes, cmpopts.EquateErrors()); diff != "" {
			t.Errorf("replayed description differs (-topology +replayer):\n%s", diff)
		}
		assert.Equal(t, description.ReplicaSetWithPrimary, got.Kind)
	})
	t.Run("round trip samples accumulate", func(t *testing.T) {
		r, err := NewReplayer(mustConfig(t, WithSeedList("a:27017")))
		require.NoError(t, err)

		mongos := helloReply(t, bson.D{{"msg", "isdbgrid"}})
		_, err = r.Apply("a:27017", mongos, 10*time.Millisecond)
		require.NoError(t, err)
		topo, err := r.Apply("a:27017", mongos, 30*time.Millisecond)
		require.NoError(t, err)

		s, ok := topo.Server("a:27017")
		require.True(t, ok)
		assert.Equal(t, 20*time.Millisecond, s.RoundTripTime())
	})
	t.Run("errors mark the server unknown", func(t *testing.T) {
		r, err := NewReplayer(mustConfig(t, WithSeedList("a:27017")))
		require.NoError(t, err)

		_, err = r.Apply("a:27017", helloReply(t, bson.D{{"msg", "isdbgrid"}}), 0)
		require.NoError(t, err)
		topo, err := r.ApplyError("a:27017", errors.New("connection reset"))
		require.NoError(t, err)

		s, _ := topo.Server("a:27017")
		assert.Equal(t, description.Unknown, s.Kind)
		assert.EqualError(t, s.LastError, "connection reset")
	})
	t.Run("older topology versions are ignored", func(t *testing.T) {
		r, err := NewReplayer(mustConfig(t, WithSeedList("a:27017")))
		require.NoError(t, err)
		pid := primitive.NewObjectID()
		reply := func(counter int64) bson.Raw {
			return helloReply(t, bson.D{
				{"msg", "isdbgrid"},
				{"topologyVersion", bson.D{{"processId", pid}, {"counter", counter}}},
			})
		}

		_, err = r.Apply("a:27017", reply(3), 0)
		require.NoError(t, err)
		topo, err := r.Apply("a:27017", reply(2), 0)
		require.NoError(t, err)

		s, _ := topo.Server("a:27017")
		assert.Equal(t, int64(3), s.TopologyVersion.Counter)
	})
	t.Run("cluster time is gossiped", func(t *testing.T) {
		clock := &session.ClusterClock{}
		r, err := NewReplayer(mustConfig(t, WithSeedList("a:27017"), WithClusterClock(clock)))
		require.NoError(t, err)

		_, err = r.Apply("a:27017", helloReply(t, bson.D{
			{"msg", "isdbgrid"},
			{"$clusterTime", bson.D{{"clusterTime", primitive.Timestamp{T: 5, I: 1}}}},
		}), 0)
		require.NoError(t, err)
		assert.NotNil(t, clock.GetClusterTime())
	})
	t.Run("set name required", func(t *testing.T) {
		r, err := NewReplayer(mustConfig(t, WithSeedList("a:27017", "b:27017")))
		require.NoError(t, err)

		_, err = r.Apply("a:27017", helloReply(t, bson.D{
			{"isWritablePrimary", true},
			{"setName", "rs"},
			{"hosts", bson.A{"a:27017", "b:27017"}},
		}), 0)
		require.NoError(t, err)
		r.fsm.SetName = ""

		before := r.Description()
		_, err = r.Apply("b:27017", helloReply(t, bson.D{
			{"secondary", true},
			{"setName", "rs"},
			{"hosts", bson.A{"a:27017", "b:27017"}},
		}), 0)
		assert.ErrorIs(t, err, description.ErrSetNameRequired)
		assert.True(t, before.Equal(r.Description()))
	})
	t.Run("select", func(t *testing.T) {
		r, err := NewReplayer(mustConfig(t, WithSeedList("a:27017", "b:27017"), WithReplicaSetName("rs")))
		require.NoError(t, err)

		got, err := r.Select(primarySelector())
		require.NoError(t, err)
		assert.Empty(t, got, "nothing is selectable before any reply")

		_, err = r.Apply("a:27017", helloReply(t, bson.D{
			{"isWritablePrimary", true},
			{"setName", "rs"},
			{"hosts", bson.A{"a:27017", "b:27017"}},
		}), 0)
		require.NoError(t, err)

		got, err = r.Select(primarySelector())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, address.Address("a:27017"), got[0].Addr)
	})
	t.Run("select on an incompatible topology", func(t *testing.T) {
		r, err := NewReplayer(mustConfig(t, WithSeedList("a:27017")))
		require.NoError(t, err)

		old, err := bson.Marshal(bson.D{{"ok", 1}, {"isWritablePrimary", true}, {"maxWireVersion", 2}})
		require.NoError(t, err)
		_, err = r.Apply("a:27017", old, 0)
		require.NoError(t, err)

		_, err = r.Select(primarySelector())
		var sse ServerSelectionError
		require.True(t, errors.As(err, &sse))
		assert.Equal(t, r.Description().CompatibilityErr, sse.Wrapped)
	})
	t.Run("SRV seeds are rejected", func(t *testing.T) {
		_, err := NewReplayer(mustConfig(t, WithSRV("db.example.com")))
		assert.Error(t, err)
	})
}

func mustConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()
	cfg, err := NewConfig(opts...)
	require.NoError(t, err)
	return cfg
}
