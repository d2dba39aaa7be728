// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"testing"

	"github.com/ikmak/mongo-sdam/internal/ptrutil"
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func helloReply(t *testing.T, fields bson.D) bson.Raw {
	t.Helper()

	doc := append(bson.D{
		{"ok", 1},
		{"minWireVersion", 6},
		{"maxWireVersion", 21},
	}, fields...)
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func serverFromHello(t *testing.T, addr string, fields bson.D) description.Server {
	t.Helper()
	return description.NewServer(address.Address(addr), helloReply(t, fields))
}

func seededFSM(seeds ...string) *fsm {
	f := newFSM()
	for _, seed := range seeds {
		f.addServer(address.Address(seed))
	}
	return f
}

func electionID(b byte) primitive.ObjectID {
	var oid primitive.ObjectID
	oid[len(oid)-1] = b
	return oid
}

func primaryCount(topo description.Topology) int {
	var n int
	for _, s := range topo.Servers {
		if s.Kind == description.RSPrimary {
			n++
		}
	}
	return n
}

func TestFSMReplicaSetDiscovery(t *testing.T) {
	f := seededFSM("a:27017")

	topo, _, err := f.apply(serverFromHello(t, "a:27017", bson.D{
		{"isWritablePrimary", true},
		{"setName", "rs"},
		{"hosts", bson.A{"a:27017", "b:27017"}},
	}))
	require.NoError(t, err)

	assert.Equal(t, description.ReplicaSetWithPrimary, topo.Kind)
	assert.Equal(t, "rs", topo.SetName)
	require.Len(t, topo.Servers, 2)
	b, ok := topo.Server("b:27017")
	require.True(t, ok)
	assert.Equal(t, description.Unknown, b.Kind)

	topo, _, err = f.apply(serverFromHello(t, "b:27017", bson.D{
		{"secondary", true},
		{"setName", "rs"},
		{"hosts", bson.A{"a:27017", "b:27017"}},
	}))
	require.NoError(t, err)

	a, _ := topo.Server("a:27017")
	b, _ = topo.Server("b:27017")
	assert.Equal(t, description.RSPrimary, a.Kind)
	assert.Equal(t, description.RSSecondary, b.Kind)
	assert.Equal(t, description.ReplicaSetWithPrimary, topo.Kind)
}

func TestFSMIgnoresServersOutsideTopology(t *testing.T) {
	f := seededFSM("a:27017")

	topo, _, err := f.apply(serverFromHello(t, "z:27017", bson.D{{"msg", "isdbgrid"}}))
	require.NoError(t, err)

	assert.Equal(t, description.TopologyKindUnknown, topo.Kind)
	assert.False(t, topo.HasServer("z:27017"))
}

func TestFSMStandalone(t *testing.T) {
	t.Run("single seed", func(t *testing.T) {
		f := seededFSM("a:27017")

		topo, _, err := f.apply(serverFromHello(t, "a:27017", nil))
		require.NoError(t, err)

		assert.Equal(t, description.Single, topo.Kind)
		assert.Len(t, topo.Servers, 1)
	})
	t.Run("multiple seeds", func(t *testing.T) {
		f := seededFSM("a:27017", "b:27017")

		topo, _, err := f.apply(serverFromHello(t, "a:27017", nil))
		require.NoError(t, err)

		assert.Equal(t, description.TopologyKindUnknown, topo.Kind)
		assert.False(t, topo.HasServer("a:27017"))
		assert.True(t, topo.HasServer("b:27017"))
	})
	t.Run("single never changes", func(t *testing.T) {
		f := seededFSM("a:27017")
		f.Kind = description.Single

		topo, _, err := f.apply(serverFromHello(t, "a:27017", bson.D{{"msg", "isdbgrid"}}))
		require.NoError(t, err)

		assert.Equal(t, description.Single, topo.Kind)
		s, _ := topo.Server("a:27017")
		assert.Equal(t, description.Mongos, s.Kind)
	})
}

func TestFSMSharded(t *testing.T) {
	f := seededFSM("a:27017", "b:27017", "c:27017")

	topo, _, err := f.apply(serverFromHello(t, "a:27017", bson.D{{"msg", "isdbgrid"}}))
	require.NoError(t, err)
	assert.Equal(t, description.Sharded, topo.Kind)

	topo, _, err = f.apply(serverFromHello(t, "b:27017", bson.D{
		{"isWritablePrimary", true},
		{"setName", "rs"},
	}))
	require.NoError(t, err)
	assert.Equal(t, description.Sharded, topo.Kind)
	assert.False(t, topo.HasServer("b:27017"))

	topo, _, err = f.apply(description.NewDefaultServer("c:27017"))
	require.NoError(t, err)
	assert.True(t, topo.HasServer("c:27017"))
}

func TestFSMPrimaryUniqueness(t *testing.T) {
	hosts := bson.A{"a:27017", "b:27017", "c:27017"}
	f := seededFSM("a:27017", "b:27017", "c:27017")

	reports := []struct {
		addr       string
		setVersion int32
		election   byte
	}{
		{"a:27017", 1, 1},
		{"b:27017", 1, 2},
		{"a:27017", 1, 1},
		{"c:27017", 2, 3},
		{"b:27017", 2, 3},
	}
	for _, r := range reports {
		topo, _, err := f.apply(serverFromHello(t, r.addr, bson.D{
			{"isWritablePrimary", true},
			{"setName", "rs"},
			{"hosts", hosts},
			{"setVersion", r.setVersion},
			{"electionId", electionID(r.election)},
		}))
		require.NoError(t, err)
		assert.LessOrEqual(t, primaryCount(topo), 1, "after report from %s", r.addr)
	}
}

func TestFSMStalePrimary(t *testing.T) {
	primary := func(addr string, setVersion int32, election byte) description.Server {
		return serverFromHello(t, addr, bson.D{
			{"isWritablePrimary", true},
			{"setName", "rs"},
			{"hosts", bson.A{"a:27017", "b:27017"}},
			{"setVersion", setVersion},
			{"electionId", electionID(election)},
		})
	}

	testCases := []struct {
		name       string
		setVersion int32
		election   byte
		accepted   bool
	}{
		{"older set version", 1, 9, false},
		{"older election id", 2, 4, false},
		{"same pair", 2, 5, true},
		{"newer election id", 2, 6, true},
		{"newer set version", 3, 5, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := seededFSM("a:27017", "b:27017")
			_, _, err := f.apply(primary("a:27017", 2, 5))
			require.NoError(t, err)

			topo, recorded, err := f.apply(primary("b:27017", tc.setVersion, tc.election))
			require.NoError(t, err)

			b, _ := topo.Server("b:27017")
			a, _ := topo.Server("a:27017")
			if tc.accepted {
				assert.Equal(t, description.RSPrimary, b.Kind)
				assert.Equal(t, description.Unknown, a.Kind)
				assert.Equal(t, electionID(tc.election), topo.MaxElectionID)
				return
			}
			assert.Equal(t, description.Unknown, recorded.Kind)
			assert.Equal(t, description.Unknown, b.Kind)
			assert.Equal(t, description.RSPrimary, a.Kind)
			assert.Equal(t, uint32(2), topo.MaxSetVersion)
			assert.Equal(t, electionID(5), topo.MaxElectionID)
		})
	}
}

func TestFSMPrimaryRemovesUnlistedServers(t *testing.T) {
	f := seededFSM("a:27017", "b:27017", "c:27017")

	topo, _, err := f.apply(serverFromHello(t, "a:27017", bson.D{
		{"isWritablePrimary", true},
		{"setName", "rs"},
		{"hosts", bson.A{"a:27017"}},
		{"passives", bson.A{"d:27017"}},
	}))
	require.NoError(t, err)

	var addrs []address.Address
	for _, s := range topo.Servers {
		addrs = append(addrs, s.Addr)
	}
	assert.ElementsMatch(t, []address.Address{"a:27017", "d:27017"}, addrs)
}

func TestFSMSetNameMismatch(t *testing.T) {
	f := seededFSM("a:27017", "b:27017")
	f.Kind = description.ReplicaSetNoPrimary
	f.SetName = "rs"

	topo, recorded, err := f.apply(serverFromHello(t, "b:27017", bson.D{
		{"secondary", true},
		{"setName", "other"},
	}))
	require.NoError(t, err)

	assert.Equal(t, description.Unknown, recorded.Kind)
	assert.Error(t, recorded.LastError)
	assert.True(t, topo.HasServer("b:27017"))
	assert.Equal(t, "rs", topo.SetName)
}

func TestFSMMemberReportsOtherAddress(t *testing.T) {
	f := seededFSM("a:27017", "b:27017")

	topo, _, err := f.apply(serverFromHello(t, "a:27017", bson.D{
		{"secondary", true},
		{"setName", "rs"},
		{"hosts", bson.A{"b:27017", "c:27017"}},
		{"me", "c:27017"},
	}))
	require.NoError(t, err)

	assert.Equal(t, description.ReplicaSetNoPrimary, topo.Kind)
	assert.False(t, topo.HasServer("a:27017"))
	assert.True(t, topo.HasServer("c:27017"))
}

func TestFSMSetNameRequired(t *testing.T) {
	f := seededFSM("a:27017", "b:27017")
	f.Kind = description.ReplicaSetWithPrimary
	before := f.Topology

	_, _, err := f.apply(serverFromHello(t, "b:27017", bson.D{
		{"secondary", true},
		{"setName", "rs"},
	}))
	assert.ErrorIs(t, err, description.ErrSetNameRequired)
	assert.Equal(t, before, f.Topology)
}

func TestFSMIdempotentApply(t *testing.T) {
	f := seededFSM("a:27017")
	s := serverFromHello(t, "a:27017", bson.D{
		{"isWritablePrimary", true},
		{"setName", "rs"},
		{"hosts", bson.A{"a:27017"}},
		{"setVersion", 1},
		{"electionId", electionID(1)},
	})

	first, _, err := f.apply(s)
	require.NoError(t, err)
	second, _, err := f.apply(s)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	a1, _ := first.Server("a:27017")
	a2, _ := second.Server("a:27017")
	assert.True(t, a1.Equal(a2))
}

func TestFSMCommonWireVersion(t *testing.T) {
	f := seededFSM("a:27017", "b:27017")

	topo, _, err := f.apply(serverFromHello(t, "a:27017", bson.D{{"msg", "isdbgrid"}, {"maxWireVersion", 17}}))
	require.NoError(t, err)
	require.NotNil(t, topo.CommonWireVersion)
	assert.Equal(t, int32(17), *topo.CommonWireVersion)

	topo, _, err = f.apply(serverFromHello(t, "b:27017", bson.D{{"msg", "isdbgrid"}, {"maxWireVersion", 21}}))
	require.NoError(t, err)
	assert.Equal(t, int32(17), *topo.CommonWireVersion)

	topo, _, err = f.apply(description.NewDefaultServer("b:27017"))
	require.NoError(t, err)
	assert.Equal(t, int32(17), *topo.CommonWireVersion)
}

func TestFSMCompatibility(t *testing.T) {
	testCases := []struct {
		name       string
		min, max   int32
		compatible bool
	}{
		{"within range", 6, 21, true},
		{"overlaps upper bound", 20, 30, true},
		{"too new", 26, 30, false},
		{"too old", 0, 6, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := seededFSM("a:27017", "b:27017")
			_, _, err := f.apply(serverFromHello(t, "a:27017", bson.D{{"msg", "isdbgrid"}}))
			require.NoError(t, err)
			assert.True(t, f.Compatible())

			topo, _, err := f.apply(serverFromHello(t, "b:27017", bson.D{
				{"msg", "isdbgrid"},
				{"minWireVersion", tc.min},
				{"maxWireVersion", tc.max},
			}))
			require.NoError(t, err)

			assert.Equal(t, tc.compatible, topo.Compatible())
			if !tc.compatible {
				assert.Contains(t, topo.CompatibilityErr.Error(), "server at b:27017")
			}
		})
	}

	t.Run("unknown servers are not checked", func(t *testing.T) {
		f := seededFSM("a:27017")
		s := description.NewDefaultServer("a:27017")
		s.WireVersion = &description.VersionRange{Min: 99, Max: 100}

		topo, _, err := f.apply(s)
		require.NoError(t, err)
		assert.True(t, topo.Compatible())
	})
}

func TestFSMSessionTimeout(t *testing.T) {
	tests := []struct {
		name    string
		servers []description.Server
		want    *int64
	}{
		{
			name: "empty",
			want: nil,
		},
		{
			name: "no readable servers",
			servers: []description.Server{
				{Addr: "a:27017", Kind: description.RSArbiter, SessionTimeoutMinutes: ptrutil.Ptr(int64(1))},
				{Addr: "b:27017", Kind: description.Unknown},
			},
			want: nil,
		},
		{
			name: "minimum of readable servers",
			servers: []description.Server{
				{Addr: "a:27017", Kind: description.RSPrimary, SessionTimeoutMinutes: ptrutil.Ptr(int64(30))},
				{Addr: "b:27017", Kind: description.RSSecondary, SessionTimeoutMinutes: ptrutil.Ptr(int64(10))},
				{Addr: "c:27017", Kind: description.RSArbiter, SessionTimeoutMinutes: ptrutil.Ptr(int64(1))},
			},
			want: ptrutil.Ptr(int64(10)),
		},
		{
			name: "readable server without session support",
			servers: []description.Server{
				{Addr: "a:27017", Kind: description.RSPrimary, SessionTimeoutMinutes: ptrutil.Ptr(int64(30))},
				{Addr: "b:27017", Kind: description.RSSecondary},
			},
			want: nil,
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, test.want, minSessionTimeout(test.servers))
		})
	}

	t.Run("recomputed after server removed", func(t *testing.T) {
		f := fsm{
			Topology: description.Topology{
				Kind:                  description.ReplicaSetWithPrimary,
				SetName:               "rs",
				SessionTimeoutMinutes: ptrutil.Ptr(int64(1)),
				Servers: []description.Server{
					{
						Addr:                  "host1:27017",
						Kind:                  description.RSPrimary,
						SetName:               "rs",
						SessionTimeoutMinutes: ptrutil.Ptr(int64(2)),
						Members:               []address.Address{"host1:27017", "host2:27017"},
					},
					{
						Addr:                  "host2:27017",
						Kind:                  description.RSSecondary,
						SetName:               "rs",
						SessionTimeoutMinutes: ptrutil.Ptr(int64(1)),
						Members:               []address.Address{"host1:27017", "host2:27017"},
					},
				},
			},
		}

		topo, _, err := f.apply(description.Server{
			Addr:                  "host1:27017",
			Kind:                  description.RSPrimary,
			SetName:               "rs",
			SessionTimeoutMinutes: ptrutil.Ptr(int64(2)),
			Members:               []address.Address{"host1:27017"},
		})
		require.NoError(t, err)

		require.Len(t, topo.Servers, 1)
		require.NotNil(t, topo.SessionTimeoutMinutes)
		assert.Equal(t, int64(2), *topo.SessionTimeoutMinutes)
	})
}
