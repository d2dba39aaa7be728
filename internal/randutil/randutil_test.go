// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package randutil

import (
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockedRand_concurrent(t *testing.T) {
	lr := NewCryptoSeededLockedRand()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				n := lr.Intn(3)
				assert.True(t, n >= 0 && n < 3)
			}
		}()
	}
	wg.Wait()
}

func TestLockedRand_Pick(t *testing.T) {
	lr := NewLockedRand(rand.NewSource(1))

	got := lr.Pick(5, 2)
	assert.Len(t, got, 2)
	assert.NotEqual(t, got[0], got[1])

	all := lr.Pick(3, 10)
	sort.Ints(all)
	assert.Equal(t, []int{0, 1, 2}, all)

	assert.Empty(t, lr.Pick(0, 1))
}
