// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package ptrutil provides helpers for optional values held by pointer.
package ptrutil

// Ptr will return the memory location of the given value.
func Ptr[T any](val T) *T {
	return &val
}
