// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitQueue(t *testing.T) {
	t.Run("process is oldest first", func(t *testing.T) {
		var q waitQueue
		reqs := []*selectionRequest{
			newSelectionRequest(nil, nil),
			newSelectionRequest(nil, nil),
			newSelectionRequest(nil, nil),
		}
		for _, r := range reqs {
			q.push(r)
		}

		var order []*selectionRequest
		q.process(func(r *selectionRequest) bool {
			order = append(order, r)
			return r != reqs[1]
		})

		assert.Equal(t, reqs, order)
		require.Equal(t, 1, q.len())
		assert.Same(t, reqs[1], q.requests[0])
	})
	t.Run("requests pushed during process wait for the next pass", func(t *testing.T) {
		var q waitQueue
		q.push(newSelectionRequest(nil, nil))

		late := newSelectionRequest(nil, nil)
		calls := 0
		q.process(func(*selectionRequest) bool {
			calls++
			q.push(late)
			return true
		})

		assert.Equal(t, 1, calls)
		require.Equal(t, 1, q.len())
		assert.Same(t, late, q.requests[0])
	})
	t.Run("remove", func(t *testing.T) {
		var q waitQueue
		a, b := newSelectionRequest(nil, nil), newSelectionRequest(nil, nil)
		q.push(a)
		q.push(b)

		assert.True(t, q.remove(a))
		assert.False(t, q.remove(a))
		assert.Equal(t, 1, q.len())
		assert.Same(t, b, q.requests[0])
	})
	t.Run("fail resolves every request", func(t *testing.T) {
		var q waitQueue
		a, b := newSelectionRequest(nil, nil), newSelectionRequest(nil, nil)
		q.push(a)
		q.push(b)

		closed := errors.New("closed")
		q.fail(closed)

		assert.Equal(t, 0, q.len())
		for _, r := range []*selectionRequest{a, b} {
			res := <-r.result
			assert.Nil(t, res.server)
			assert.ErrorIs(t, res.err, closed)
		}
	})
}
