// Copyright (C) MongoDB, Inc. 2021-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package operation builds the hello command documents used to monitor
// servers.
package operation

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/session"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

const maxClientMetadataSize = 512 // maximum size (bytes) of the client metadata document
const docElementSize = 7          // 7 bytes to append a document element
const stringElementSize = 7       // 7 bytes to append a string element
const int32ElementSize = 6        // 6 bytes to append an int32 element

// DriverName and DriverVersion identify this module in client metadata.
const (
	DriverName    = "mongo-sdam"
	DriverVersion = "0.3.0"
)

// Hello builds a hello command. The first hello sent on a connection is the
// handshake and carries client metadata; later heartbeats do not.
type Hello struct {
	appname         string
	clock           *session.ClusterClock
	topologyVersion *description.TopologyVersion
	maxAwaitTimeMS  *int64
	loadBalanced    bool
}

// NewHello constructs a Hello.
func NewHello() *Hello { return &Hello{} }

// AppName sets the application name in the client metadata.
func (h *Hello) AppName(appname string) *Hello {
	h.appname = appname
	return h
}

// ClusterClock sets the clock whose $clusterTime is gossiped with the command.
func (h *Hello) ClusterClock(clock *session.ClusterClock) *Hello {
	if h == nil {
		h = new(Hello)
	}

	h.clock = clock
	return h
}

// TopologyVersion sets the TopologyVersion to be used for heartbeats.
func (h *Hello) TopologyVersion(tv *description.TopologyVersion) *Hello {
	h.topologyVersion = tv
	return h
}

// MaxAwaitTimeMS sets the maximum time for the server to wait for topology changes during a heartbeat.
func (h *Hello) MaxAwaitTimeMS(awaitTime int64) *Hello {
	h.maxAwaitTimeMS = &awaitTime
	return h
}

// LoadBalanced specifies whether or not this command is being sent over a connection to a load balanced cluster.
func (h *Hello) LoadBalanced(lb bool) *Hello {
	h.loadBalanced = lb
	return h
}

// Awaitable reports whether the command asks the server to hold its reply
// until the topology changes.
func (h *Hello) Awaitable() bool {
	return h.topologyVersion != nil && h.maxAwaitTimeMS != nil
}

// Command returns the heartbeat form of the command.
func (h *Hello) Command() (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = h.appendCommand(dst)
	return bsoncore.AppendDocumentEnd(dst, idx)
}

// HandshakeCommand returns the command with client metadata attached.
func (h *Hello) HandshakeCommand() (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = h.appendCommand(dst)

	var err error
	dst, err = h.appendClient(dst, int32(len(dst))+maxClientMetadataSize)
	if err != nil {
		return nil, err
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

func (h *Hello) appendCommand(dst []byte) []byte {
	dst = bsoncore.AppendInt32Element(dst, "hello", 1)
	dst = bsoncore.AppendBooleanElement(dst, "helloOk", true)

	if tv := h.topologyVersion; tv != nil {
		var tvIdx int32

		tvIdx, dst = bsoncore.AppendDocumentElementStart(dst, "topologyVersion")
		dst = bsoncore.AppendObjectIDElement(dst, "processId", tv.ProcessID)
		dst = bsoncore.AppendInt64Element(dst, "counter", tv.Counter)
		dst, _ = bsoncore.AppendDocumentEnd(dst, tvIdx)
	}
	if h.maxAwaitTimeMS != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxAwaitTimeMS", *h.maxAwaitTimeMS)
	}
	if h.loadBalanced {
		// Only ever sent when true.
		dst = bsoncore.AppendBooleanElement(dst, "loadBalanced", true)
	}
	if h.clock != nil {
		if ct := h.clock.GetClusterTime(); len(ct) > 0 {
			dst = bsoncore.AppendDocumentElement(dst, "$clusterTime", ct)
		}
	}
	dst = bsoncore.AppendStringElement(dst, "$db", "admin")

	return dst
}

const (
	// FaaS environment variable names
	envVarAWSExecutionEnv        = "AWS_EXECUTION_ENV"
	envVarAWSLambdaRuntimeAPI    = "AWS_LAMBDA_RUNTIME_API"
	envVarFunctionsWorkerRuntime = "FUNCTIONS_WORKER_RUNTIME"
	envVarKService               = "K_SERVICE"
	envVarFunctionName           = "FUNCTION_NAME"
	envVarVercel                 = "VERCEL"
)

const (
	envVarAWSRegion                   = "AWS_REGION"
	envVarAWSLambdaFunctionMemorySize = "AWS_LAMBDA_FUNCTION_MEMORY_SIZE"
)

const awsLambdaPrefix = "AWS_Lambda_"

const (
	// FaaS environment names used by the client
	envNameAWSLambda = "aws.lambda"
	envNameAzureFunc = "azure.func"
	envNameGCPFunc   = "gcp.func"
	envNameVercel    = "vercel"
)

// FaaSEnvName returns the name of the function-as-a-service platform the
// process runs on, or "" when there is none or the environment is ambiguous.
func FaaSEnvName() string {
	envVars := []string{
		envVarAWSExecutionEnv,
		envVarAWSLambdaRuntimeAPI,
		envVarFunctionsWorkerRuntime,
		envVarKService,
		envVarFunctionName,
		envVarVercel,
	}

	names := make(map[string]struct{})
	for _, envVar := range envVars {
		val := os.Getenv(envVar)
		if val == "" {
			continue
		}

		var name string
		switch envVar {
		case envVarAWSExecutionEnv:
			if !strings.HasPrefix(val, awsLambdaPrefix) {
				continue
			}
			name = envNameAWSLambda
		case envVarAWSLambdaRuntimeAPI:
			name = envNameAWSLambda
		case envVarFunctionsWorkerRuntime:
			name = envNameAzureFunc
		case envVarKService, envVarFunctionName:
			name = envNameGCPFunc
		case envVarVercel:
			// Vercel runs on AWS Lambda; its own variable wins.
			return envNameVercel
		}
		names[name] = struct{}{}
	}

	if len(names) != 1 {
		return ""
	}
	for name := range names {
		return name
	}
	return ""
}

func appendStringElement(dst []byte, key, value string, maxLen int32) []byte {
	if int32(len(dst)+len(key)+len(value))+stringElementSize > maxLen {
		return dst
	}

	return bsoncore.AppendStringElement(dst, key, value)
}

func appendInt32Element(dst []byte, key string, value int32, maxLen int32) []byte {
	if int32(len(dst)+len(key))+int32ElementSize > maxLen {
		return dst
	}

	return bsoncore.AppendInt32Element(dst, key, value)
}

// appendClient appends the client metadata sub-document to dst. Keys that
// would push the document past maxLen are omitted.
func (h *Hello) appendClient(dst []byte, maxLen int32) ([]byte, error) {
	const key = "client"

	if int32(len(dst)+len(key))+docElementSize > maxLen {
		return dst, nil
	}

	idx, dst := bsoncore.AppendDocumentElementStart(dst, key)

	if h.appname != "" {
		aidx, adst := bsoncore.AppendDocumentElementStart(dst, "application")
		adst = appendStringElement(adst, "name", h.appname, maxLen)
		dst, _ = bsoncore.AppendDocumentEnd(adst, aidx)
	}

	didx, dst := bsoncore.AppendDocumentElementStart(dst, "driver")
	dst = appendStringElement(dst, "name", DriverName, maxLen)
	dst = appendStringElement(dst, "version", DriverVersion, maxLen)
	dst, _ = bsoncore.AppendDocumentEnd(dst, didx)

	oidx, dst := bsoncore.AppendDocumentElementStart(dst, "os")
	dst = appendStringElement(dst, "type", runtime.GOOS, maxLen)
	dst = appendStringElement(dst, "architecture", runtime.GOARCH, maxLen)
	dst, _ = bsoncore.AppendDocumentEnd(dst, oidx)

	if name := FaaSEnvName(); name != "" {
		eidx, edst := bsoncore.AppendDocumentElementStart(dst, "env")
		edst = appendStringElement(edst, "name", name, maxLen)
		if name == envNameAWSLambda {
			edst = appendStringElement(edst, "region", os.Getenv(envVarAWSRegion), maxLen)
			memSize, _ := strconv.Atoi(os.Getenv(envVarAWSLambdaFunctionMemorySize))
			edst = appendInt32Element(edst, "memory_mb", int32(memSize), maxLen)
		}
		dst, _ = bsoncore.AppendDocumentEnd(edst, eidx)
	}

	dst = appendStringElement(dst, "platform", runtime.Version(), maxLen)

	return bsoncore.AppendDocumentEnd(dst, idx)
}
