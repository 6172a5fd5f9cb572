// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const source = `package p

import "fmt"

func F(x int, s []byte) bool {
	if x == 42 {
		return true
	} else if len(s) > 3 && s[0] == 'a' {
		return false
	}
	fmt.Println("not a literal")
	return g(x) == 1
}

func g(x int) int {
	h := func() int { return -1 }
	if x != h() && 7 > 3 {
		return 300
	}
	return x
}

func FuzzThing(data []byte) bool { return len(data) > 0 }

func FuzzWrong(data []byte) int { return 0 }
`

func check(t *testing.T) (*token.FileSet, *ast.File, *types.Info, *types.Package) {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", source, parser.ParseComments)
	require.NoError(t, err)
	info := &types.Info{Types: make(map[ast.Expr]types.TypeAndValue)}
	conf := types.Config{Importer: fakeImporter{}}
	pkg, err := conf.Check("example.com/p", fset, []*ast.File{f}, info)
	require.NoError(t, err)
	return fset, f, info, pkg
}

// fakeImporter provides an fmt with just Println.
type fakeImporter struct{}

func (fakeImporter) Import(path string) (*types.Package, error) {
	pkg := types.NewPackage(path, "fmt")
	args := types.NewVar(token.NoPos, pkg, "a", types.NewSlice(types.Universe.Lookup("any").Type()))
	sig := types.NewSignatureType(nil, nil, nil, types.NewTuple(args), nil, true)
	pkg.Scope().Insert(types.NewFunc(token.NoPos, pkg, "Println", sig))
	pkg.MarkComplete()
	return pkg, nil
}

func calls(f *ast.File, name string) (n int) {
	ast.Inspect(f, func(node ast.Node) bool {
		if call, ok := node.(*ast.CallExpr); ok {
			if sel, ok := call.Fun.(*ast.SelectorExpr); ok && sel.Sel.Name == name {
				if id, ok := sel.X.(*ast.Ident); ok && id.Name == fuzzdepPkg {
					n++
				}
			}
		}
		return true
	})
	return n
}

func TestInstrument(t *testing.T) {
	fset, f, info, _ := check(t)
	buf := new(bytes.Buffer)
	require.NoError(t, instrument("example.com/p", "p.go", 0, fset, f, info, buf))

	out, err := parser.ParseFile(token.NewFileSet(), "p.go", buf.Bytes(), 0)
	require.NoError(t, err, buf.String())

	// Five function bodies; the if/else-if chain in F has three branches and
	// the if in g two.
	assert.Equal(t, 10, calls(out, "TracePCGuard"))
	// x == 42, s[0] == 'a'. len(s) and h() are calls, 7 > 3 is constant.
	assert.Equal(t, 2, calls(out, "TraceCmp8"))
	assert.Equal(t, 1, calls(out, "InitGuards"))

	var guards *ast.ArrayType
	ast.Inspect(out, func(node ast.Node) bool {
		if vs, ok := node.(*ast.ValueSpec); ok && vs.Names[0].Name == "_go_fuzz_guards_0" {
			guards = vs.Type.(*ast.ArrayType)
		}
		return true
	})
	require.NotNil(t, guards)
	assert.Equal(t, "10", guards.Len.(*ast.BasicLit).Value)

	imported := false
	for _, imp := range out.Imports {
		if imp.Path.Value == `"`+coveragePkg+`"` && imp.Name.Name == fuzzdepPkg {
			imported = true
		}
	}
	assert.True(t, imported)
}

func TestComparisonOperands(t *testing.T) {
	fset, f, info, _ := check(t)
	file := &File{fset: fset, pkg: "example.com/p", fullName: "p.go", astFile: f, info: info, guards: "g"}

	var cmps []*ast.BinaryExpr
	ast.Inspect(f, func(node ast.Node) bool {
		if be, ok := node.(*ast.BinaryExpr); ok && isComparison(be.Op) {
			cmps = append(cmps, be)
		}
		return true
	})
	require.NotEmpty(t, cmps)

	// x == 42
	x, ok := file.operand(cmps[0].X)
	require.True(t, ok)
	assert.IsType(t, &ast.CallExpr{}, x)
	lit, ok := file.operand(cmps[0].Y)
	require.True(t, ok)
	assert.Equal(t, "42", lit.(*ast.BasicLit).Value)

	// len(s) > 3
	_, ok = file.operand(cmps[1].X)
	assert.False(t, ok)
}

func TestNegativeConstantsFold(t *testing.T) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "n.go", "package n\nfunc f(x int8) bool { return x == -1 }\n", 0)
	require.NoError(t, err)
	info := &types.Info{Types: make(map[ast.Expr]types.TypeAndValue)}
	_, err = (&types.Config{}).Check("n", fset, []*ast.File{f}, info)
	require.NoError(t, err)

	var be *ast.BinaryExpr
	ast.Inspect(f, func(node ast.Node) bool {
		if b, ok := node.(*ast.BinaryExpr); ok {
			be = b
		}
		return true
	})
	file := &File{fset: fset, astFile: f, info: info}
	v, ok := file.operand(be.Y)
	require.True(t, ok)
	assert.Equal(t, "18446744073709551615", v.(*ast.BasicLit).Value)
}

func TestPure(t *testing.T) {
	for src, want := range map[string]bool{
		"x":         true,
		"a.b[i]":    true,
		"*p + 1":    true,
		"f(x)":      false,
		"<-ch":      false,
		"m[g()]":    false,
		"(x.y - 2)": true,
	} {
		e, err := parser.ParseExpr(src)
		require.NoError(t, err)
		assert.Equal(t, want, pure(e), src)
	}
}

func TestFuzzSignature(t *testing.T) {
	_, _, _, pkg := check(t)
	sig := func(name string) *types.Signature {
		return pkg.Scope().Lookup(name).Type().(*types.Signature)
	}
	assert.True(t, isFuzzSig(sig("FuzzThing")))
	assert.False(t, isFuzzSig(sig("FuzzWrong")))
	assert.False(t, isFuzzSig(sig("F")))

	assert.True(t, isFuzzFuncName("Fuzz"))
	assert.True(t, isFuzzFuncName("FuzzThing"))
	assert.False(t, isFuzzFuncName("Fuzzy"))
}

func TestLiterals(t *testing.T) {
	_, f, _, _ := check(t)
	lits := make(map[string]struct{})
	ast.Walk(&LiteralCollector{lits: lits}, f)

	for _, want := range []string{"a", "*", "\x2c\x01", "\x07"} {
		assert.Contains(t, lits, want)
	}
	assert.NotContains(t, lits, "not a literal")
	assert.NotContains(t, lits, "fmt")
}

func TestEncodeInt(t *testing.T) {
	assert.Equal(t, []byte{0xff}, encodeInt(-1))
	assert.Equal(t, []byte{0x00, 0x01}, encodeInt(256))
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x00}, encodeInt(1<<16))
	assert.Len(t, encodeInt(1<<40), 8)
}
