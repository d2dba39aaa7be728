// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session tracks state shared by every operation against one
// deployment.
package session

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// ClusterClock represents a logical clock for keeping track of cluster time.
// Values are $clusterTime documents of the form
// {clusterTime: <timestamp>, signature: {...}}.
type ClusterClock struct {
	clusterTime bson.Raw
	lock        sync.Mutex
}

// GetClusterTime returns the cluster's current time.
func (cc *ClusterClock) GetClusterTime() bson.Raw {
	var ct bson.Raw
	cc.lock.Lock()
	ct = cc.clusterTime
	cc.lock.Unlock()

	return ct
}

// AdvanceClusterTime updates the cluster's current time. Older or malformed
// values are ignored.
func (cc *ClusterClock) AdvanceClusterTime(clusterTime bson.Raw) {
	if len(clusterTime) == 0 {
		return
	}
	cc.lock.Lock()
	cc.clusterTime = MaxClusterTime(cc.clusterTime, clusterTime)
	cc.lock.Unlock()
}

// MaxClusterTime compares two $clusterTime documents by timestamp, then
// increment, and returns the greater. A document without a valid timestamp
// loses.
func MaxClusterTime(ct1, ct2 bson.Raw) bson.Raw {
	t1, i1, ok1 := clusterTimestamp(ct1)
	t2, i2, ok2 := clusterTimestamp(ct2)

	switch {
	case !ok1 && !ok2:
		return ct1
	case !ok1:
		return ct2
	case !ok2:
		return ct1
	}

	if t1 > t2 || (t1 == t2 && i1 >= i2) {
		return ct1
	}
	return ct2
}

func clusterTimestamp(ct bson.Raw) (uint32, uint32, bool) {
	if len(ct) == 0 {
		return 0, 0, false
	}
	val, err := ct.LookupErr("clusterTime")
	if err != nil {
		return 0, 0, false
	}
	return val.TimestampOK()
}
