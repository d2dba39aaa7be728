// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ikmak/mongo-sdam/internal/ptrutil"
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/tag"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UnsetRTT is the round trip time of a server that has no samples yet.
const UnsetRTT = -1 * time.Millisecond

// MaxRTTSamples bounds the round trip history carried by a Server.
const MaxRTTSamples = 10

// Server contains information about a node in a cluster. This is created from hello command responses. If the value
// of the Kind field is LoadBalancer, only the Addr and Kind fields will be set. All other fields will be set to the
// zero value of the field's type. MinRTT and RTT90 are only measured while the server is streaming.
type Server struct {
	Addr address.Address

	Arbiters          []string
	CanonicalAddr     address.Address
	ClusterTime       bson.Raw
	ElectionID        primitive.ObjectID
	HeartbeatInterval time.Duration
	Hosts             []string
	LastError         error
	LastUpdateTime    time.Time
	LastWriteTime     time.Time
	Members           []address.Address
	MinRTT            time.Duration
	Passives          []string
	Primary           address.Address
	RTT90             time.Duration
	RTTSamples        []time.Duration
	// SessionTimeoutMinutes is nil when the server does not support sessions.
	SessionTimeoutMinutes *int64
	SetName               string
	SetVersion            uint32
	Tags                  tag.Set
	TopologyVersion       *TopologyVersion
	Kind                  ServerKind
	WireVersion           *VersionRange
}

// ServerOption configures how a Server description is built.
type ServerOption func(*serverConfig)

type serverConfig struct {
	loadBalanced      bool
	rttSamples        []time.Duration
	heartbeatInterval time.Duration
	updateTime        time.Time
}

// WithLoadBalanced marks the server as sitting behind a load balancer. The
// reply, if any, is not consulted for the server's kind.
func WithLoadBalanced() ServerOption {
	return func(cfg *serverConfig) { cfg.loadBalanced = true }
}

// WithRTTSamples carries the round trip history of a previous description.
func WithRTTSamples(samples []time.Duration) ServerOption {
	return func(cfg *serverConfig) { cfg.rttSamples = samples }
}

// WithHeartbeatInterval records the interval the server is monitored on.
func WithHeartbeatInterval(interval time.Duration) ServerOption {
	return func(cfg *serverConfig) { cfg.heartbeatInterval = interval }
}

// WithUpdateTime overrides the time the description is stamped with.
func WithUpdateTime(t time.Time) ServerOption {
	return func(cfg *serverConfig) { cfg.updateTime = t }
}

func newServerConfig(opts []ServerOption) *serverConfig {
	cfg := &serverConfig{updateTime: time.Now().UTC()}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

func (cfg *serverConfig) base(addr address.Address) Server {
	desc := Server{
		Addr:              addr,
		CanonicalAddr:     addr,
		HeartbeatInterval: cfg.heartbeatInterval,
		LastUpdateTime:    cfg.updateTime,
	}
	if len(cfg.rttSamples) > 0 {
		desc.RTTSamples = append([]time.Duration(nil), cfg.rttSamples...)
	}
	return desc
}

// NewDefaultServer creates a new Unknown server description with the given address.
func NewDefaultServer(addr address.Address) Server {
	return NewServerFromError(addr, nil, nil)
}

// NewServerFromError creates a new Unknown server description with the given address and error.
func NewServerFromError(addr address.Address, err error, tv *TopologyVersion) Server {
	return Server{
		Addr:            addr,
		CanonicalAddr:   addr,
		LastError:       err,
		LastUpdateTime:  time.Now().UTC(),
		TopologyVersion: tv,
	}
}

// NewServer creates a new server description from the given hello command response. A nil response produces an
// Unknown description.
func NewServer(addr address.Address, response bson.Raw, opts ...ServerOption) Server {
	cfg := newServerConfig(opts)
	desc := cfg.base(addr)

	if cfg.loadBalanced {
		desc.Kind = LoadBalancer
		return desc
	}
	if len(response) == 0 {
		return desc
	}

	elements, err := response.Elements()
	if err != nil {
		desc.LastError = err
		return desc
	}

	var ok, sawOK bool
	var isReplicaSet, isWritablePrimary, hidden, secondary, arbiterOnly bool
	var msg, errmsg string
	var versionRange VersionRange
	for _, element := range elements {
		val := element.Value()
		switch key := element.Key(); key {
		case "ok":
			sawOK = true
			ok = truthy(val)
		case "errmsg":
			errmsg, _ = val.StringValueOK()
		case "isWritablePrimary", "ismaster":
			isWritablePrimary, err = boolField(key, val)
		case "secondary":
			secondary, err = boolField(key, val)
		case "arbiterOnly":
			arbiterOnly, err = boolField(key, val)
		case "hidden":
			hidden, err = boolField(key, val)
		case "isreplicaset":
			isReplicaSet, err = boolField(key, val)
		case "msg":
			msg, err = stringField(key, val)
		case "setName":
			desc.SetName, err = stringField(key, val)
		case "primary":
			var primary string
			primary, err = stringField(key, val)
			desc.Primary = address.Address(primary).Canonicalize()
		case "me":
			var me string
			me, err = stringField(key, val)
			desc.CanonicalAddr = address.Address(me).Canonicalize()
		case "setVersion":
			i64, isInt := val.AsInt64OK()
			switch {
			case !isInt:
				err = typeError(key, "an integer", val)
			case i64 < 0 || i64 > math.MaxUint32:
				err = fmt.Errorf("'%s' %d is out of range", key, i64)
			default:
				desc.SetVersion = uint32(i64)
			}
		case "electionId":
			var isOID bool
			desc.ElectionID, isOID = val.ObjectIDOK()
			if !isOID {
				err = typeError(key, "an objectID", val)
			}
		case "hosts":
			desc.Hosts, err = stringSlice(key, val)
		case "passives":
			desc.Passives, err = stringSlice(key, val)
		case "arbiters":
			desc.Arbiters, err = stringSlice(key, val)
		case "tags":
			var m map[string]string
			m, err = stringMap(key, val)
			desc.Tags = tag.NewTagSetFromMap(m)
		case "minWireVersion":
			var isInt bool
			versionRange.Min, isInt = val.AsInt32OK()
			if !isInt {
				err = typeError(key, "an integer", val)
			}
		case "maxWireVersion":
			var isInt bool
			versionRange.Max, isInt = val.AsInt32OK()
			if !isInt {
				err = typeError(key, "an integer", val)
			}
		case "topologyVersion":
			doc, isDoc := val.DocumentOK()
			if !isDoc {
				err = typeError(key, "a document", val)
				break
			}
			desc.TopologyVersion, err = NewTopologyVersion(doc)
		case "logicalSessionTimeoutMinutes":
			i64, isInt := val.AsInt64OK()
			if !isInt {
				if val.Type != bson.TypeNull {
					err = typeError(key, "an integer", val)
				}
				break
			}
			desc.SessionTimeoutMinutes = &i64
		case "lastWrite":
			lastWrite, isDoc := val.DocumentOK()
			if !isDoc {
				err = typeError(key, "a document", val)
				break
			}
			if dt, lookupErr := lastWrite.LookupErr("lastWriteDate"); lookupErr == nil {
				t, isTime := dt.TimeOK()
				if !isTime {
					err = typeError("lastWriteDate", "a datetime", dt)
					break
				}
				desc.LastWriteTime = t.UTC()
			}
		case "$clusterTime":
			doc, isDoc := val.DocumentOK()
			if !isDoc {
				err = typeError(key, "a document", val)
				break
			}
			desc.ClusterTime = append(bson.Raw(nil), doc...)
		}
		if err != nil {
			return cfg.failed(addr, err)
		}
	}

	if !sawOK || !ok {
		if errmsg == "" {
			errmsg = "not ok"
		}
		return cfg.failed(addr, errors.New(errmsg))
	}

	for i, host := range desc.Hosts {
		desc.Hosts[i] = strings.ToLower(host)
		desc.Members = append(desc.Members, address.Address(host).Canonicalize())
	}
	for i, passive := range desc.Passives {
		desc.Passives[i] = strings.ToLower(passive)
		desc.Members = append(desc.Members, address.Address(passive).Canonicalize())
	}
	for i, arbiter := range desc.Arbiters {
		desc.Arbiters[i] = strings.ToLower(arbiter)
		desc.Members = append(desc.Members, address.Address(arbiter).Canonicalize())
	}

	desc.WireVersion = &versionRange

	switch {
	case isReplicaSet:
		desc.Kind = RSGhost
	case msg == "isdbgrid":
		desc.Kind = Mongos
	case desc.SetName != "":
		switch {
		case hidden:
			desc.Kind = RSMember
		case isWritablePrimary:
			desc.Kind = RSPrimary
		case secondary:
			desc.Kind = RSSecondary
		case arbiterOnly:
			desc.Kind = RSArbiter
		default:
			desc.Kind = RSMember
		}
	default:
		desc.Kind = Standalone
	}

	return desc
}

// failed keeps the round trip history but discards anything learned from the
// reply.
func (cfg *serverConfig) failed(addr address.Address, err error) Server {
	desc := cfg.base(addr)
	desc.LastError = err
	return desc
}

func truthy(val bson.RawValue) bool {
	if b, ok := val.BooleanOK(); ok {
		return b
	}
	if f, ok := val.DoubleOK(); ok {
		return f != 0
	}
	if i, ok := val.AsInt64OK(); ok {
		return i != 0
	}
	return false
}

func typeError(key, want string, val bson.RawValue) error {
	return fmt.Errorf("expected '%s' to be %s but it's a BSON %s", key, want, val.Type)
}

func boolField(key string, val bson.RawValue) (bool, error) {
	b, ok := val.BooleanOK()
	if !ok {
		return false, typeError(key, "a boolean", val)
	}
	return b, nil
}

func stringField(key string, val bson.RawValue) (string, error) {
	s, ok := val.StringValueOK()
	if !ok {
		return "", typeError(key, "a string", val)
	}
	return s, nil
}

func stringSlice(key string, val bson.RawValue) ([]string, error) {
	arr, ok := val.ArrayOK()
	if !ok {
		return nil, typeError(key, "an array", val)
	}
	vals, err := arr.Values()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		s, ok := v.StringValueOK()
		if !ok {
			return nil, typeError(key, "an array of strings", val)
		}
		out = append(out, s)
	}
	return out, nil
}

func stringMap(key string, val bson.RawValue) (map[string]string, error) {
	doc, ok := val.DocumentOK()
	if !ok {
		return nil, typeError(key, "a document", val)
	}
	elements, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(elements))
	for _, element := range elements {
		s, ok := element.Value().StringValueOK()
		if !ok {
			return nil, fmt.Errorf("expected '%s' to be a document of strings but '%s' is a BSON %s",
				key, element.Key(), element.Value().Type)
		}
		m[element.Key()] = s
	}
	return m, nil
}

// AddRTTSample returns a copy of the description with the sample appended to
// its round trip history. The oldest sample is evicted once the history holds
// MaxRTTSamples.
func (s Server) AddRTTSample(rtt time.Duration) Server {
	samples := make([]time.Duration, 0, MaxRTTSamples)
	samples = append(samples, s.RTTSamples...)
	samples = append(samples, rtt)
	if len(samples) > MaxRTTSamples {
		samples = samples[len(samples)-MaxRTTSamples:]
	}
	s.RTTSamples = samples
	return s
}

// RoundTripTime is the mean of the round trip history, or UnsetRTT if there
// is none.
func (s Server) RoundTripTime() time.Duration {
	if len(s.RTTSamples) == 0 {
		return UnsetRTT
	}
	var sum time.Duration
	for _, sample := range s.RTTSamples {
		sum += sample
	}
	return sum / time.Duration(len(s.RTTSamples))
}

// DataBearing returns true if the server is a data bearing server.
func (s Server) DataBearing() bool {
	return s.Kind == RSPrimary ||
		s.Kind == RSSecondary ||
		s.Kind == Mongos ||
		s.Kind == Standalone ||
		s.Kind == LoadBalancer
}

// Writable reports whether writes may be sent to the server.
func (s Server) Writable() bool {
	return s.Kind == RSPrimary ||
		s.Kind == Standalone ||
		s.Kind == Mongos ||
		s.Kind == LoadBalancer
}

// Readable reports whether reads may be sent to the server.
func (s Server) Readable() bool {
	return s.Kind == RSSecondary || s.Writable()
}

// MaxWireVersion returns the upper bound of the server's wire version range,
// or zero when it is not known.
func (s Server) MaxWireVersion() int32 {
	if s.WireVersion == nil {
		return 0
	}
	return s.WireVersion.Max
}

// SetDefaultAddress fills in the address of a description built without one.
func (s Server) SetDefaultAddress(addr address.Address) Server {
	if s.Addr == "" {
		s.Addr = addr
	}
	if s.CanonicalAddr == "" {
		s.CanonicalAddr = addr
	}
	return s
}

// Equal compares two server descriptions and returns true if they are equal. Round trip times and update times are
// not part of the comparison.
func (s Server) Equal(other Server) bool {
	if s.CanonicalAddr.String() != other.CanonicalAddr.String() {
		return false
	}

	if !errorsEqual(s.LastError, other.LastError) {
		return false
	}

	if s.Kind != other.Kind {
		return false
	}

	if minWire(s) != minWire(other) {
		return false
	}

	if len(s.Hosts) != len(other.Hosts) {
		return false
	}
	for i := range s.Hosts {
		if s.Hosts[i] != other.Hosts[i] {
			return false
		}
	}

	if !s.Tags.Equal(other.Tags) {
		return false
	}

	if s.SetName != other.SetName || s.SetVersion != other.SetVersion {
		return false
	}

	if s.ElectionID != other.ElectionID {
		return false
	}

	if s.Primary.String() != other.Primary.String() {
		return false
	}

	if ptrutil.CompareInt64(s.SessionTimeoutMinutes, other.SessionTimeoutMinutes) != 0 {
		return false
	}

	return s.TopologyVersion.Equal(other.TopologyVersion)
}

func minWire(s Server) int32 {
	if s.WireVersion == nil {
		return 0
	}
	return s.WireVersion.Min
}

func errorsEqual(a, b error) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Error() == b.Error()
}

// String implements the Stringer interface
func (s Server) String() string {
	str := fmt.Sprintf("Addr: %s, Type: %s", s.Addr, s.Kind)
	if len(s.Tags) != 0 {
		str += fmt.Sprintf(", Tag sets: %s", s.Tags)
	}
	if s.Kind != Unknown {
		if rtt := s.RoundTripTime(); rtt != UnsetRTT {
			str += fmt.Sprintf(", Average RTT: %d", rtt)
		}
		if s.WireVersion != nil {
			str += fmt.Sprintf(", Wire versions: %s", s.WireVersion)
		}
	}
	if s.LastError != nil {
		str += fmt.Sprintf(", Last error: %s", s.LastError)
	}

	return str
}
