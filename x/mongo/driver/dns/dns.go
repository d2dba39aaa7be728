// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package dns resolves the SRV records that seed a topology.
package dns

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoRecords is returned when an SRV lookup finds no usable record.
var ErrNoRecords = errors.New("no SRV records found at host")

type lookup interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// Resolver resolves DNS records.
type Resolver struct {
	// Holds the resolver to use for DNS lookups
	Lookup lookup
}

// DefaultResolver uses the resolver from the net package.
var DefaultResolver = &Resolver{Lookup: net.DefaultResolver}

// Records is the outcome of an SRV lookup.
type Records struct {
	// Hosts are the host:port pairs of the records that share the parent
	// domain of the looked up name.
	Hosts []string

	// Rejected are the targets that did not share the parent domain.
	Rejected []string
}

// ValidateHost checks that host can be used as an SRV name.
func ValidateHost(host string) error {
	if strings.Contains(host, ",") {
		return errors.New("URI with SRV must include one and only one hostname")
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return errors.New("URI with SRV must not include a port number")
	}
	if len(strings.Split(strings.TrimSuffix(host, "."), ".")) < 3 {
		return errors.New("URI with SRV must include hostname, domain name, and tld")
	}
	return nil
}

// LookupHosts resolves the _<service>._tcp.<host> SRV records. Records whose
// target does not share the parent domain of host are returned as rejected
// rather than failing the lookup. ErrNoRecords is returned when nothing
// usable remains.
func (r *Resolver) LookupHosts(ctx context.Context, host, service string) (Records, error) {
	var records Records

	if err := ValidateHost(host); err != nil {
		return records, err
	}
	if service == "" {
		service = "mongodb"
	}

	_, srvs, err := r.Lookup.LookupSRV(ctx, service, "tcp", host)
	if err != nil {
		return records, errors.Wrapf(err, "error looking up SRV records for %q", host)
	}

	parent := strings.TrimSuffix(host, ".")
	for _, srv := range srvs {
		target := strings.TrimSuffix(srv.Target, ".")
		if !matchesParentDomain(target, parent) {
			records.Rejected = append(records.Rejected, target)
			continue
		}
		records.Hosts = append(records.Hosts, fmt.Sprintf("%s:%d", target, srv.Port))
	}

	if len(records.Hosts) == 0 {
		return records, ErrNoRecords
	}
	return records, nil
}

// matchesParentDomain reports whether target, with its first label removed,
// ends with parent's domain.
func matchesParentDomain(target, parent string) bool {
	targetLabels := strings.Split(strings.ToLower(target), ".")
	parentLabels := strings.Split(strings.ToLower(parent), ".")
	if len(targetLabels) < 2 || len(targetLabels) < len(parentLabels) {
		return false
	}

	suffix := "." + strings.Join(parentLabels[1:], ".")
	return strings.HasSuffix("."+strings.Join(targetLabels[1:], "."), suffix)
}
