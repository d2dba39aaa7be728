// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"time"

	"github.com/montanaflynn/stats"
)

const defaultRTTSamples = 10

// rttSampler is a fixed-capacity circular buffer of round trip times. Clearing
// it only resets the cursor and length; the slots are overwritten as new
// samples arrive.
type rttSampler struct {
	samples []float64
	length  int
	cursor  int
}

func newRTTSampler(windowSize int) *rttSampler {
	if windowSize <= 0 {
		windowSize = defaultRTTSamples
	}
	return &rttSampler{samples: make([]float64, windowSize)}
}

func (r *rttSampler) addSample(rtt time.Duration) {
	r.samples[r.cursor] = float64(rtt)
	r.cursor = (r.cursor + 1) % len(r.samples)
	if r.length < len(r.samples) {
		r.length++
	}
}

// valid returns the populated slots. Once the buffer has wrapped every slot is
// populated, so the order of the returned samples is not meaningful.
func (r *rttSampler) valid() stats.Float64Data {
	return stats.Float64Data(r.samples[:r.length])
}

// min returns the smallest sample, or 0 when fewer than two samples have been
// recorded.
func (r *rttSampler) min() time.Duration {
	if r.length < 2 {
		return 0
	}
	m, err := r.valid().Min()
	if err != nil {
		return 0
	}
	return time.Duration(m)
}

// average returns the mean of the recorded samples, or 0 when there are none.
func (r *rttSampler) average() time.Duration {
	if r.length == 0 {
		return 0
	}
	m, err := r.valid().Mean()
	if err != nil {
		return 0
	}
	return time.Duration(m)
}

// percentile returns the given percentile of the recorded samples, or 0 when
// there are fewer than minSamples of them.
func (r *rttSampler) percentile(perc float64, minSamples int) time.Duration {
	if r.length == 0 || r.length < minSamples {
		return 0
	}
	p, err := r.valid().Percentile(perc)
	if err != nil {
		return 0
	}
	return time.Duration(p)
}

// last returns the most recently recorded sample.
func (r *rttSampler) last() (time.Duration, bool) {
	if r.length == 0 {
		return 0, false
	}
	idx := (r.cursor - 1 + len(r.samples)) % len(r.samples)
	return time.Duration(r.samples[idx]), true
}

func (r *rttSampler) clear() {
	r.length = 0
	r.cursor = 0
}
