// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bradleyjkemp/fuzzcheck/unit"
)

const DefaultNameSchema = "{kind}-{hash}{index}.json"

type atomKind uint8

const (
	atomLiteral atomKind = iota
	atomHash
	atomComplexity
	atomKindName
	atomIndex
)

var atomNames = map[string]atomKind{
	"hash":       atomHash,
	"complexity": atomComplexity,
	"kind":       atomKindName,
	"index":      atomIndex,
}

type atom struct {
	kind atomKind
	text string
}

// NameSchema is a parsed file name template.
type NameSchema struct {
	src   string
	atoms []atom
}

// Values fill the non-literal atoms of a NameSchema.
type Values struct {
	Hash       uint64
	Complexity float64
	Kind       Kind
}

// ParseNameSchema parses tmpl. Text in braces names an atom, anything else is
// copied verbatim.
func ParseNameSchema(tmpl string) (NameSchema, error) {
	if tmpl == "" {
		return NameSchema{}, errors.New("empty artifact name template")
	}
	if strings.ContainsRune(tmpl, filepath.Separator) || strings.ContainsRune(tmpl, '/') {
		return NameSchema{}, fmt.Errorf("artifact name template %q contains a path separator", tmpl)
	}
	s := NameSchema{src: tmpl}
	rest := tmpl
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			s.literal(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			s.literal(rest)
			break
		}
		end += open
		s.literal(rest[:open])
		name := rest[open+1 : end]
		k, ok := atomNames[name]
		if !ok {
			return NameSchema{}, fmt.Errorf("artifact name template %q: unknown atom {%s}", tmpl, name)
		}
		s.atoms = append(s.atoms, atom{kind: k})
		rest = rest[end+1:]
	}
	return s, nil
}

func MustParseNameSchema(tmpl string) NameSchema {
	s, err := ParseNameSchema(tmpl)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *NameSchema) literal(text string) {
	if text == "" {
		return
	}
	if n := len(s.atoms); n > 0 && s.atoms[n-1].kind == atomLiteral {
		s.atoms[n-1].text += text
		return
	}
	s.atoms = append(s.atoms, atom{kind: atomLiteral, text: text})
}

func (s NameSchema) String() string { return s.src }

// HasIndex reports whether names can be disambiguated.
func (s NameSchema) HasIndex() bool {
	for _, a := range s.atoms {
		if a.kind == atomIndex {
			return true
		}
	}
	return false
}

// Render produces the file name for v. Index 0 renders as nothing and any
// other index n as "-n".
func (s NameSchema) Render(v Values, index int) string {
	var b strings.Builder
	for _, a := range s.atoms {
		switch a.kind {
		case atomLiteral:
			b.WriteString(a.text)
		case atomHash:
			b.WriteString(unit.FormatHash(v.Hash))
		case atomComplexity:
			b.WriteString(strconv.FormatFloat(v.Complexity, 'f', -1, 64))
		case atomKindName:
			b.WriteString(v.Kind.String())
		case atomIndex:
			if index > 0 {
				b.WriteString("-" + strconv.Itoa(index))
			}
		}
	}
	return b.String()
}

// UniqueName returns the first rendering of v, by increasing index, that does
// not name an existing file in dir. Without an index atom the first rendering
// is returned as is.
func (s NameSchema) UniqueName(dir string, v Values) (string, error) {
	if !s.HasIndex() {
		return s.Render(v, 0), nil
	}
	for i := 0; ; i++ {
		name := s.Render(v, i)
		_, err := os.Lstat(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check artifact name %v: %w", name, err)
		}
	}
}
