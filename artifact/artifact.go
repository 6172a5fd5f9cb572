// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package artifact describes the self-describing records written for new
// corpus members, crashes and timeouts, and how their file names are formed.
package artifact

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bradleyjkemp/fuzzcheck/coverage"
	"github.com/bradleyjkemp/fuzzcheck/unit"
)

type Kind uint8

const (
	KindUnit Kind = iota
	KindTimeout
	KindCrash
)

var kindNames = [...]string{
	KindUnit:    "unit",
	KindTimeout: "timeout",
	KindCrash:   "crash",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown artifact kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ContentSchema selects which fields an artifact record carries.
type ContentSchema struct {
	Unit       bool
	Features   bool
	Score      bool
	Complexity bool
	Hash       bool
	Kind       bool
}

var DefaultContentSchema = ContentSchema{
	Unit:       true,
	Features:   true,
	Score:      true,
	Complexity: true,
	Hash:       true,
	Kind:       true,
}

// ParseContentSchema parses a comma separated field list such as
// "unit,features,kind". The empty string and "all" select every field.
func ParseContentSchema(s string) (ContentSchema, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return DefaultContentSchema, nil
	}
	var cs ContentSchema
	for _, field := range strings.Split(s, ",") {
		switch strings.TrimSpace(field) {
		case "unit":
			cs.Unit = true
		case "features":
			cs.Features = true
		case "score":
			cs.Score = true
		case "complexity":
			cs.Complexity = true
		case "hash":
			cs.Hash = true
		case "kind":
			cs.Kind = true
		default:
			return ContentSchema{}, fmt.Errorf("unknown artifact content field %q", field)
		}
	}
	return cs, nil
}

func (cs ContentSchema) String() string {
	var fields []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{cs.Unit, "unit"},
		{cs.Features, "features"},
		{cs.Score, "score"},
		{cs.Complexity, "complexity"},
		{cs.Hash, "hash"},
		{cs.Kind, "kind"},
	} {
		if f.on {
			fields = append(fields, f.name)
		}
	}
	return strings.Join(fields, ",")
}

// Parts is everything known about a unit at the time it is saved.
type Parts struct {
	Unit       []byte
	Features   []coverage.Feature
	Score      float64
	Complexity float64
	Hash       uint64
	Kind       Kind
}

// Record is the on-disk form of an artifact. Fields left out by the content
// schema are absent from the encoding.
type Record struct {
	Unit       json.RawMessage    `json:"unit,omitempty"`
	Features   []coverage.Feature `json:"features,omitempty"`
	Score      *float64           `json:"score,omitempty"`
	Complexity *float64           `json:"complexity,omitempty"`
	Hash       string             `json:"hash,omitempty"`
	Kind       *Kind              `json:"kind,omitempty"`
}

func NewRecord(cs ContentSchema, p Parts) Record {
	var r Record
	if cs.Unit {
		r.Unit = p.Unit
	}
	if cs.Features {
		r.Features = p.Features
		if r.Features == nil {
			r.Features = []coverage.Feature{}
		}
	}
	if cs.Score {
		r.Score = &p.Score
	}
	if cs.Complexity {
		r.Complexity = &p.Complexity
	}
	if cs.Hash {
		r.Hash = unit.FormatHash(p.Hash)
	}
	if cs.Kind {
		r.Kind = &p.Kind
	}
	return r
}

func (r Record) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	return append(data, '\n'), nil
}

func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return r, nil
}
