// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package tag provides the name/value labels that replica set members
// advertise and that read preferences match against.
package tag

import (
	"bytes"
	"fmt"
	"sort"
)

// Tag is a name/value pair.
type Tag struct {
	Name  string `yaml:"name" toml:"name"`
	Value string `yaml:"value" toml:"value"`
}

// String returns a human-readable description of the tag.
func (tag Tag) String() string {
	return fmt.Sprintf("%s=%s", tag.Name, tag.Value)
}

// Set is an ordered list of Tags.
type Set []Tag

// NewTagSet builds a Set from alternating names and values.
func NewTagSet(tags ...string) (Set, error) {
	length := len(tags)
	if length < 2 || length%2 != 0 {
		return nil, fmt.Errorf("an even number of tags must be specified")
	}

	set := make(Set, 0, length/2)
	for i := 1; i < length; i += 2 {
		set = append(set, Tag{Name: tags[i-1], Value: tags[i]})
	}

	return set, nil
}

// NewTagSetFromMap creates a tag set from a map. Tags are sorted by name so the
// result is deterministic.
func NewTagSetFromMap(m map[string]string) Set {
	set := make(Set, 0, len(m))
	for k, v := range m {
		set = append(set, Tag{Name: k, Value: v})
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Name < set[j].Name })

	return set
}

// NewTagSetsFromMaps creates a list of tag sets from a slice of maps.
func NewTagSetsFromMaps(maps []map[string]string) []Set {
	sets := make([]Set, 0, len(maps))
	for _, m := range maps {
		sets = append(sets, NewTagSetFromMap(m))
	}
	return sets
}

// Contains indicates whether the name/value pair exists in the tagset.
func (ts Set) Contains(name, value string) bool {
	for _, t := range ts {
		if t.Name == name && t.Value == value {
			return true
		}
	}

	return false
}

// ContainsAll indicates whether all the name/value pairs exist in the tagset.
func (ts Set) ContainsAll(other []Tag) bool {
	for _, ot := range other {
		if !ts.Contains(ot.Name, ot.Value) {
			return false
		}
	}

	return true
}

// Equal reports whether both sets hold the same name/value pairs, ignoring
// order.
func (ts Set) Equal(other Set) bool {
	return len(ts) == len(other) && ts.ContainsAll(other) && other.ContainsAll(ts)
}

// String returns a human-readable description of the tagset.
func (ts Set) String() string {
	var b bytes.Buffer
	for i, tag := range ts {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(tag.String())
	}
	return b.String()
}
