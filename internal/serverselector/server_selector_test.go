// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package serverselector

import (
	"errors"
	"testing"
	"time"

	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/mongo/readpref"
	"github.com/ikmak/mongo-sdam/tag"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func server(addr string, kind description.ServerKind, rtt time.Duration, tags ...tag.Tag) description.Server {
	s := description.Server{
		Addr:          address.Address(addr),
		CanonicalAddr: address.Address(addr),
		Kind:          kind,
		Tags:          tags,
		WireVersion:   &description.VersionRange{Min: 0, Max: 21},
	}
	if rtt >= 0 {
		s = s.AddRTTSample(rtt)
	}
	return s
}

func addrs(servers []description.Server) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		out = append(out, string(s.Addr))
	}
	return out
}

var (
	primary    = server("p:27017", description.RSPrimary, 5*time.Millisecond, tag.Tag{Name: "dc", Value: "east"})
	secondary1 = server("s1:27017", description.RSSecondary, 10*time.Millisecond, tag.Tag{Name: "dc", Value: "east"})
	secondary2 = server("s2:27017", description.RSSecondary, 12*time.Millisecond, tag.Tag{Name: "dc", Value: "west"})
	farSecond  = server("s3:27017", description.RSSecondary, 80*time.Millisecond, tag.Tag{Name: "dc", Value: "west"})
	arbiter    = server("a:27017", description.RSArbiter, 1*time.Millisecond)
	unknown    = server("u:27017", description.Unknown, -1)

	rsWithPrimary = description.Topology{
		Kind:           description.ReplicaSetWithPrimary,
		Servers:        []description.Server{primary, secondary1, secondary2, farSecond, arbiter, unknown},
		LocalThreshold: 15 * time.Millisecond,
	}
	rsNoPrimary = description.Topology{
		Kind:           description.ReplicaSetNoPrimary,
		Servers:        []description.Server{secondary1, secondary2, farSecond, arbiter},
		LocalThreshold: 15 * time.Millisecond,
	}
)

func TestLatency(t *testing.T) {
	t.Parallel()

	topo := description.Topology{Kind: description.Sharded, LocalThreshold: 15 * time.Millisecond}
	candidates := []description.Server{
		server("a:27017", description.Mongos, 5*time.Millisecond),
		server("b:27017", description.Mongos, 12*time.Millisecond),
		server("c:27017", description.Mongos, 40*time.Millisecond),
	}

	t.Run("uses the topology threshold", func(t *testing.T) {
		t.Parallel()

		got, err := (&Latency{}).SelectServer(topo, candidates, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a:27017", "b:27017"}, addrs(got))
	})
	t.Run("explicit threshold", func(t *testing.T) {
		t.Parallel()

		got, err := (&Latency{Latency: 50 * time.Millisecond}).SelectServer(topo, candidates, nil)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})
	t.Run("negative disables", func(t *testing.T) {
		t.Parallel()

		got, err := (&Latency{Latency: -1}).SelectServer(topo, candidates, nil)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})
	t.Run("unmeasured servers", func(t *testing.T) {
		t.Parallel()

		unmeasured := []description.Server{
			server("a:27017", description.Mongos, -1),
			server("b:27017", description.Mongos, -1),
		}
		got, err := (&Latency{}).SelectServer(topo, unmeasured, nil)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		// The window starts at UnsetRTT, so fast measured servers stay in it
		// and a slow one falls out.
		mixed := append([]description.Server{server("d:27017", description.Mongos, -1)}, candidates...)
		got, err = (&Latency{}).SelectServer(topo, mixed, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"d:27017", "a:27017", "b:27017"}, addrs(got))
	})
}

func TestWrite(t *testing.T) {
	t.Parallel()

	got, err := (&Write{}).SelectServer(rsWithPrimary, rsWithPrimary.Servers, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p:27017"}, addrs(got))

	got, err = (&Write{}).SelectServer(rsNoPrimary, rsNoPrimary.Servers, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	sharded := description.Topology{Kind: description.Sharded, LocalThreshold: 15 * time.Millisecond}
	mongoses := []description.Server{
		server("a:27017", description.Mongos, 5*time.Millisecond),
		server("b:27017", description.Mongos, 6*time.Millisecond),
	}
	got, err = (&Write{}).SelectServer(sharded, mongoses, description.NewDeprioritizedServers("a:27017"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b:27017"}, addrs(got))

	got, err = (&Write{}).SelectServer(sharded, mongoses[:1], description.NewDeprioritizedServers("a:27017"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a:27017"}, addrs(got), "deprioritized servers are used when nothing else is left")
}

func TestReadPref_topologyKinds(t *testing.T) {
	t.Parallel()

	sel := &ReadPref{ReadPref: readpref.Secondary()}

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()

		got, err := sel.SelectServer(description.Topology{}, []description.Server{unknown}, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
	t.Run("single ignores mode", func(t *testing.T) {
		t.Parallel()

		standalone := server("a:27017", description.Standalone, time.Millisecond)
		topo := description.Topology{Kind: description.Single, Servers: []description.Server{standalone}}
		got, err := sel.SelectServer(topo, topo.Servers, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a:27017"}, addrs(got))

		topo.Servers = []description.Server{unknown}
		got, err = sel.SelectServer(topo, topo.Servers, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
	t.Run("load balanced", func(t *testing.T) {
		t.Parallel()

		lb := description.Server{Addr: "lb:27017", Kind: description.LoadBalancer}
		topo := description.Topology{Kind: description.LoadBalanced, Servers: []description.Server{lb}}
		got, err := sel.SelectServer(topo, topo.Servers, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"lb:27017"}, addrs(got))
	})
	t.Run("sharded", func(t *testing.T) {
		t.Parallel()

		topo := description.Topology{
			Kind:           description.Sharded,
			LocalThreshold: 15 * time.Millisecond,
			Servers: []description.Server{
				server("a:27017", description.Mongos, 5*time.Millisecond),
				server("b:27017", description.Mongos, 7*time.Millisecond),
				server("c:27017", description.Unknown, -1),
			},
		}
		got, err := sel.SelectServer(topo, topo.Servers, description.NewDeprioritizedServers("a:27017"))
		require.NoError(t, err)
		assert.Equal(t, []string{"b:27017"}, addrs(got))

		got, err = sel.SelectServer(topo, topo.Servers, description.NewDeprioritizedServers("a:27017", "b:27017"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a:27017", "b:27017"}, addrs(got))
	})
}

func TestReadPref_replicaSetModes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		rp            *readpref.ReadPref
		topo          description.Topology
		deprioritized []address.Address
		want          []string
	}{
		{"primary", readpref.Primary(), rsWithPrimary, nil, []string{"p:27017"}},
		{"primary deprioritized", readpref.Primary(), rsWithPrimary, []address.Address{"p:27017"}, []string{"p:27017"}},
		{"primary without primary", readpref.Primary(), rsNoPrimary, nil, []string{}},
		{"primaryPreferred", readpref.PrimaryPreferred(), rsWithPrimary, nil, []string{"p:27017"}},
		{
			"primaryPreferred with deprioritized primary",
			readpref.PrimaryPreferred(), rsWithPrimary, []address.Address{"p:27017"},
			[]string{"s1:27017", "s2:27017"},
		},
		{
			"primaryPreferred with everything deprioritized",
			readpref.PrimaryPreferred(), rsWithPrimary,
			[]address.Address{"p:27017", "s1:27017", "s2:27017", "s3:27017"},
			[]string{"p:27017"},
		},
		{"primaryPreferred without primary", readpref.PrimaryPreferred(), rsNoPrimary, nil, []string{"s1:27017", "s2:27017"}},
		{"secondary", readpref.Secondary(), rsWithPrimary, nil, []string{"s1:27017", "s2:27017"}},
		{
			"secondary avoids deprioritized",
			readpref.Secondary(), rsWithPrimary, []address.Address{"s1:27017", "s2:27017"},
			[]string{"s3:27017"},
		},
		{
			"secondary falls back to deprioritized",
			readpref.Secondary(), rsWithPrimary, []address.Address{"s1:27017", "s2:27017", "s3:27017"},
			[]string{"s1:27017", "s2:27017"},
		},
		{
			"secondary with tags",
			readpref.Secondary(readpref.WithTags("dc", "west")), rsWithPrimary, nil,
			[]string{"s2:27017"},
		},
		{
			"secondary with unmatched tags",
			readpref.Secondary(readpref.WithTags("dc", "north")), rsWithPrimary, nil,
			[]string{},
		},
		{
			"secondaryPreferred with unmatched tags",
			readpref.SecondaryPreferred(readpref.WithTags("dc", "north")), rsWithPrimary, nil,
			[]string{"p:27017"},
		},
		{
			"secondaryPreferred with deprioritized secondaries and primary",
			readpref.SecondaryPreferred(), rsWithPrimary,
			[]address.Address{"p:27017", "s1:27017", "s2:27017", "s3:27017"},
			[]string{"s1:27017", "s2:27017"},
		},
		{"nearest", readpref.Nearest(), rsWithPrimary, nil, []string{"p:27017", "s1:27017", "s2:27017"}},
		{
			"nearest with deprioritized primary",
			readpref.Nearest(), rsWithPrimary, []address.Address{"p:27017"},
			[]string{"s1:27017", "s2:27017"},
		},
		{
			"nearest with tag sets in order",
			readpref.Nearest(readpref.WithTagSets(
				tag.Set{{Name: "dc", Value: "north"}},
				tag.Set{{Name: "dc", Value: "east"}},
			)),
			rsWithPrimary, nil,
			[]string{"p:27017", "s1:27017"},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sel := &ReadPref{ReadPref: tc.rp}
			got, err := sel.SelectServer(tc.topo, tc.topo.Servers, description.NewDeprioritizedServers(tc.deprioritized...))
			require.NoError(t, err)
			assert.Equal(t, tc.want, addrs(got))
		})
	}
}

func TestReadPref_maxStaleness(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hb := 10 * time.Second
	withWrite := func(s description.Server, lag time.Duration) description.Server {
		s.LastUpdateTime = now
		s.LastWriteTime = now.Add(-lag)
		return s
	}

	rp := readpref.Secondary(readpref.WithMaxStaleness(100 * time.Second))

	t.Run("with primary", func(t *testing.T) {
		t.Parallel()

		topo := description.Topology{
			Kind:              description.ReplicaSetWithPrimary,
			HeartbeatInterval: hb,
			LocalThreshold:    time.Hour,
			Servers: []description.Server{
				withWrite(primary, 0),
				withWrite(secondary1, 50*time.Second), // 60s stale
				withWrite(secondary2, 95*time.Second), // 105s stale
				withWrite(farSecond, 90*time.Second),  // 100s stale
			},
		}
		got, err := (&ReadPref{ReadPref: rp}).SelectServer(topo, topo.Servers, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"s1:27017", "s3:27017"}, addrs(got))
	})
	t.Run("without primary", func(t *testing.T) {
		t.Parallel()

		topo := description.Topology{
			Kind:              description.ReplicaSetNoPrimary,
			HeartbeatInterval: hb,
			LocalThreshold:    time.Hour,
			Servers: []description.Server{
				withWrite(secondary1, 0),
				withWrite(secondary2, 91*time.Second),
				withWrite(farSecond, 90*time.Second),
			},
		}
		got, err := (&ReadPref{ReadPref: rp}).SelectServer(topo, topo.Servers, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"s1:27017", "s3:27017"}, addrs(got))
	})
	t.Run("heartbeat too slow for max staleness", func(t *testing.T) {
		t.Parallel()

		topo := rsWithPrimary
		topo.HeartbeatInterval = 95 * time.Second
		_, err := (&ReadPref{ReadPref: rp}).SelectServer(topo, topo.Servers, nil)
		assert.True(t, errors.Is(err, readpref.ErrInvalidArgument))
	})
}

func TestNewReadPref(t *testing.T) {
	t.Parallel()

	_, err := NewReadPref(readpref.Secondary(readpref.WithMaxStaleness(90*time.Second)), 10*time.Second)
	require.NoError(t, err)

	_, err = NewReadPref(readpref.Secondary(readpref.WithMaxStaleness(90*time.Second)), 81*time.Second)
	assert.True(t, errors.Is(err, readpref.ErrInvalidArgument))

	_, err = NewReadPref(readpref.Secondary(readpref.WithMaxStaleness(200*time.Second)), 81*time.Second)
	require.NoError(t, err)

	_, err = NewReadPref(nil, time.Second)
	assert.True(t, errors.Is(err, readpref.ErrInvalidArgument))
}

func TestSecondaryWritable(t *testing.T) {
	t.Parallel()

	rp := readpref.Secondary()

	got := SecondaryWritable(description.MinSecondaryWriteWireVersion-1, rp)
	assert.Equal(t, readpref.PrimaryMode, got.(*ReadPref).ReadPref.Mode())

	got = SecondaryWritable(description.MinSecondaryWriteWireVersion, nil)
	assert.Equal(t, readpref.PrimaryMode, got.(*ReadPref).ReadPref.Mode())

	got = SecondaryWritable(description.MinSecondaryWriteWireVersion, rp)
	assert.Equal(t, readpref.SecondaryMode, got.(*ReadPref).ReadPref.Mode())
}

func TestSameServer(t *testing.T) {
	t.Parallel()

	got, err := (&SameServer{Server: &secondary1}).SelectServer(rsWithPrimary, rsWithPrimary.Servers, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1:27017"}, addrs(got))

	got, err = (&SameServer{Server: &unknown}).SelectServer(rsWithPrimary, rsWithPrimary.Servers, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = (&SameServer{}).SelectServer(rsWithPrimary, rsWithPrimary.Servers, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestComposite(t *testing.T) {
	t.Parallel()

	sel := &Composite{Selectors: []description.ServerSelector{
		&ReadPref{ReadPref: readpref.Nearest()},
		description.ServerSelectorFunc(func(
			_ description.Topology, c []description.Server, _ *description.DeprioritizedServers,
		) ([]description.Server, error) {
			return c[:1], nil
		}),
	}}
	got, err := sel.SelectServer(rsWithPrimary, rsWithPrimary.Servers, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p:27017"}, addrs(got))

	failing := &Composite{Selectors: []description.ServerSelector{
		description.ServerSelectorFunc(func(
			description.Topology, []description.Server, *description.DeprioritizedServers,
		) ([]description.Server, error) {
			return nil, errors.New("boom")
		}),
		&Write{},
	}}
	_, err = failing.SelectServer(rsWithPrimary, rsWithPrimary.Servers, nil)
	assert.EqualError(t, err, "boom")
}
