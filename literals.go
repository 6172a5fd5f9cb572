// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"go/ast"
	"go/token"
	"sort"
	"strconv"

	"golang.org/x/tools/go/packages"
)

// gatherLiterals collects the string, character and integer literals of the
// instrumented packages. Integers are encoded little-endian in the smallest
// width that holds them. The result is sorted and quoted for Go source.
func (c *Context) gatherLiterals() []string {
	nolits := map[string]bool{
		"math":    true,
		"os":      true,
		"unicode": true,
	}

	lits := make(map[string]struct{})
	visit := func(pkg *packages.Package) {
		if c.isIgnored(pkg.PkgPath) || nolits[pkg.PkgPath] {
			return
		}
		for _, f := range pkg.Syntax {
			ast.Walk(&LiteralCollector{lits: lits}, f)
		}
	}

	packages.Visit(c.targetPackages, nil, visit)

	litsList := make([]string, 0, len(lits))
	for lit := range lits {
		litsList = append(litsList, strconv.Quote(lit))
	}
	sort.Strings(litsList)
	return litsList
}

type LiteralCollector struct {
	lits map[string]struct{}
}

func (lc *LiteralCollector) Visit(n ast.Node) (w ast.Visitor) {
	switch nn := n.(type) {
	default:
		return lc // recurse
	case *ast.ImportSpec:
		return nil
	case *ast.Field:
		return nil // ignore field tags
	case *ast.CallExpr:
		switch fn := nn.Fun.(type) {
		case *ast.Ident:
			if fn.Name == "panic" {
				return nil
			}
		case *ast.SelectorExpr:
			if id, ok := fn.X.(*ast.Ident); ok && (id.Name == "fmt" || id.Name == "errors") {
				return nil
			}
		}
		return lc
	case *ast.BasicLit:
		switch nn.Kind {
		case token.CHAR:
			if r, _, _, err := strconv.UnquoteChar(nn.Value[1:len(nn.Value)-1], '\''); err == nil {
				lc.lits[string(r)] = struct{}{}
			}
		case token.STRING:
			if s, err := strconv.Unquote(nn.Value); err == nil && s != "" {
				lc.lits[s] = struct{}{}
			}
		case token.INT:
			if v, ok := parseInt(nn.Value); ok {
				lc.lits[string(encodeInt(v))] = struct{}{}
			}
		}
		return nil
	}
}

func parseInt(lit string) (int64, bool) {
	v, err := strconv.ParseInt(lit, 0, 64)
	if err == nil {
		return v, true
	}
	u, err := strconv.ParseUint(lit, 0, 64)
	if err != nil {
		return 0, false
	}
	return int64(u), true
}

func encodeInt(v int64) []byte {
	var val []byte
	if v >= -(1<<7) && v < 1<<8 {
		val = append(val, byte(v))
	} else if v >= -(1<<15) && v < 1<<16 {
		val = append(val, byte(v), byte(v>>8))
	} else if v >= -(1<<31) && v < 1<<32 {
		val = append(val, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	} else {
		val = append(val, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
	}
	return val
}
