// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTTSampler(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		r := newRTTSampler(3)

		assert.Equal(t, time.Duration(0), r.average())
		assert.Equal(t, time.Duration(0), r.min())
		_, ok := r.last()
		assert.False(t, ok, "expected no last sample")
	})
	t.Run("min needs two samples", func(t *testing.T) {
		r := newRTTSampler(3)
		r.addSample(7)

		assert.Equal(t, time.Duration(0), r.min())
		assert.Equal(t, time.Duration(7), r.average())
	})
	t.Run("window evicts oldest", func(t *testing.T) {
		r := newRTTSampler(3)
		for _, d := range []time.Duration{1, 2, 3, 4} {
			r.addSample(d)
		}

		assert.Equal(t, time.Duration(3), r.average())
		assert.Equal(t, time.Duration(2), r.min())
		last, ok := r.last()
		assert.True(t, ok, "expected a last sample")
		assert.Equal(t, time.Duration(4), last)
	})
	t.Run("clear", func(t *testing.T) {
		r := newRTTSampler(3)
		r.addSample(5 * time.Millisecond)
		r.addSample(6 * time.Millisecond)
		r.clear()

		assert.Equal(t, time.Duration(0), r.average())
		_, ok := r.last()
		assert.False(t, ok, "expected no last sample after clear")

		r.addSample(9 * time.Millisecond)
		assert.Equal(t, 9*time.Millisecond, r.average())
	})
	t.Run("percentile", func(t *testing.T) {
		r := newRTTSampler(10)
		for i := 1; i <= 10; i++ {
			r.addSample(time.Duration(i) * time.Millisecond)
		}

		assert.Equal(t, time.Duration(0), r.percentile(90, 11))
		assert.Equal(t, 9*time.Millisecond, r.percentile(90, 10))
	})
	t.Run("default window", func(t *testing.T) {
		r := newRTTSampler(0)
		assert.Len(t, r.samples, defaultRTTSamples)
	})
}
