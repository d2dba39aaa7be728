// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import "github.com/ikmak/mongo-sdam/x/mongo/driver/description"

type selectionResult struct {
	server *SelectedServer
	err    error
}

// selectionRequest is a SelectServer call waiting for a suitable server.
type selectionRequest struct {
	selector      description.ServerSelector
	deprioritized *description.DeprioritizedServers

	// result is buffered so the request can be resolved without the caller
	// waiting on it.
	result chan selectionResult
}

func newSelectionRequest(selector description.ServerSelector, deprioritized *description.DeprioritizedServers) *selectionRequest {
	return &selectionRequest{
		selector:      selector,
		deprioritized: deprioritized,
		result:        make(chan selectionResult, 1),
	}
}

func (r *selectionRequest) resolve(server *SelectedServer, err error) {
	r.result <- selectionResult{server: server, err: err}
}

// waitQueue holds selection requests in arrival order. It is not safe for
// concurrent use.
type waitQueue struct {
	requests []*selectionRequest
}

func (q *waitQueue) len() int {
	return len(q.requests)
}

func (q *waitQueue) push(r *selectionRequest) {
	q.requests = append(q.requests, r)
}

// remove takes r out of the queue and reports whether it was still queued.
func (q *waitQueue) remove(r *selectionRequest) bool {
	for i, queued := range q.requests {
		if queued == r {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return true
		}
	}
	return false
}

// process offers every request queued when it is called to try, oldest
// first. Requests try does not resolve keep their place in the queue.
func (q *waitQueue) process(try func(*selectionRequest) bool) {
	pending := q.requests
	q.requests = nil

	for _, r := range pending {
		if !try(r) {
			q.requests = append(q.requests, r)
		}
	}
}

// fail resolves every queued request with err.
func (q *waitQueue) fail(err error) {
	for _, r := range q.requests {
		r.resolve(nil, err)
	}
	q.requests = nil
}
