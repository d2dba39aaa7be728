// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTagSet(t *testing.T) {
	t.Parallel()

	set, err := NewTagSet("a", "1", "b", "2")
	require.NoError(t, err)
	assert.Equal(t, Set{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, set)
	assert.Equal(t, "a=1,b=2", set.String())

	_, err = NewTagSet("a")
	assert.Error(t, err)
	_, err = NewTagSet("a", "1", "b")
	assert.Error(t, err)
}

func TestNewTagSetFromMap(t *testing.T) {
	t.Parallel()

	set := NewTagSetFromMap(map[string]string{"dc": "east", "rack": "2"})
	assert.Equal(t, Set{{Name: "dc", Value: "east"}, {Name: "rack", Value: "2"}}, set)

	sets := NewTagSetsFromMaps([]map[string]string{{"dc": "east"}, {}})
	require.Len(t, sets, 2)
	assert.Empty(t, sets[1])
}

func TestSet_ContainsAll(t *testing.T) {
	t.Parallel()

	server := Set{{Name: "dc", Value: "east"}, {Name: "rack", Value: "2"}}

	assert.True(t, server.Contains("dc", "east"))
	assert.False(t, server.Contains("dc", "west"))
	assert.True(t, server.ContainsAll(nil))
	assert.True(t, server.ContainsAll([]Tag{{Name: "rack", Value: "2"}}))
	assert.False(t, server.ContainsAll([]Tag{{Name: "rack", Value: "2"}, {Name: "dc", Value: "west"}}))
}

func TestSet_Equal(t *testing.T) {
	t.Parallel()

	a := Set{{Name: "dc", Value: "east"}, {Name: "rack", Value: "2"}}
	b := Set{{Name: "rack", Value: "2"}, {Name: "dc", Value: "east"}}

	assert.True(t, a.Equal(b))
	assert.True(t, Set(nil).Equal(Set{}))
	assert.False(t, a.Equal(a[:1]))
	assert.False(t, a.Equal(Set{{Name: "dc", Value: "east"}, {Name: "rack", Value: "3"}}))
}
