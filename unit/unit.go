// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package unit serializes test inputs and derives their content hash.
//
// The encoding is canonical JSON, so a value that survives a round trip keeps
// its hash, and corpus files stay readable.
package unit

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

func Marshal[T any](v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize unit: %w", err)
	}
	return data, nil
}

func Unmarshal[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to deserialize unit: %w", err)
	}
	return v, nil
}

// Hash is the xxhash64 of the canonical encoding of v.
func Hash[T any](v T) (uint64, error) {
	data, err := Marshal(v)
	if err != nil {
		return 0, err
	}
	return Sum(data), nil
}

// Sum hashes an already serialized unit.
func Sum(data []byte) uint64 { return xxhash.Sum64(data) }

// Key names a serialized unit in the output corpus.
func Key(data []byte) string { return FormatHash(Sum(data)) }

func FormatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// Clone deep-copies v through its encoding.
func Clone[T any](v T) (T, error) {
	data, err := Marshal(v)
	if err != nil {
		var zero T
		return zero, err
	}
	return Unmarshal[T](data)
}
