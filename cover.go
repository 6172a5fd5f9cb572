// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/printer"
	"go/token"
	"go/types"
	"io"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/tools/go/ast/astutil"
)

const (
	fuzzdepPkg  = "_go_fuzz_dep_"
	coveragePkg = "github.com/bradleyjkemp/fuzzcheck/coverage"
)

// instrument rewrites parsedFile so that it reports to the coverage package and
// prints the result to out. index must be unique among the files of pkg.
func instrument(pkg, fullName string, index int, fset *token.FileSet, parsedFile *ast.File, info *types.Info, out io.Writer) error {
	file := &File{
		fset:     fset,
		pkg:      pkg,
		fullName: fullName,
		astFile:  parsedFile,
		info:     info,
		guards:   fmt.Sprintf("_go_fuzz_guards_%d", index),
	}
	file.addImport(coveragePkg, fuzzdepPkg, "TracePCGuard")
	ast.Inspect(file.astFile, file.instrumentAST)
	file.addGuards()
	file.astFile.Comments = trimComments(file.astFile, fset)
	return file.print(out)
}

type File struct {
	fset     *token.FileSet
	pkg      string
	fullName string
	astFile  *ast.File
	info     *types.Info

	guards string // name of the guard array
	count  int
}

func (f *File) instrumentAST(node ast.Node) bool {
	switch n := node.(type) {
	case *ast.IfStmt:
		f.instrumentIf(n)

	case *ast.FuncDecl:
		if n.Body == nil {
			// this is just a function declaration, it is implemented elsewhere
			return false
		}
		n.Body.List = append([]ast.Stmt{f.newCounter()}, n.Body.List...)

	case *ast.FuncLit:
		n.Body.List = append([]ast.Stmt{f.newCounter()}, n.Body.List...)
	}

	return true
}

func (f *File) instrumentIf(n *ast.IfStmt) {
	n.Cond = f.traceComparisons(n.Cond)

	// Add counter to the start of the if block
	n.Body.List = append([]ast.Stmt{f.newCounter()}, n.Body.List...)

	// Make sure else statement exists
	if n.Else == nil {
		n.Else = &ast.BlockStmt{}
	}

	switch e := n.Else.(type) {
	case *ast.BlockStmt:
		e.List = append([]ast.Stmt{f.newCounter()}, e.List...)
	case *ast.IfStmt:
		// The else-if is visited by ast.Inspect on its own.
	default:
		panic(fmt.Sprintf("unexpected else type %T", e))
	}
}

// traceComparisons prefixes every integer comparison in cond with a call
// recording its operands:
//
//	x == 42  =>  (_go_fuzz_dep_.TraceCmp8(site, uint64(x), 42) && x == 42)
func (f *File) traceComparisons(cond ast.Expr) ast.Expr {
	return astutil.Apply(cond, nil, func(c *astutil.Cursor) bool {
		be, ok := c.Node().(*ast.BinaryExpr)
		if !ok || !isComparison(be.Op) {
			return true
		}
		x, okx := f.operand(be.X)
		y, oky := f.operand(be.Y)
		if !okx || !oky || (f.isConst(be.X) && f.isConst(be.Y)) {
			return true
		}
		call := &ast.CallExpr{
			Fun:  &ast.SelectorExpr{X: ast.NewIdent(fuzzdepPkg), Sel: ast.NewIdent("TraceCmp8")},
			Args: []ast.Expr{f.newSite(be.OpPos), x, y},
		}
		c.Replace(&ast.ParenExpr{X: &ast.BinaryExpr{X: call, Op: token.LAND, Y: be}})
		return true
	}).(ast.Expr)
}

func isComparison(op token.Token) bool {
	switch op {
	case token.EQL, token.NEQ, token.LSS, token.GTR, token.LEQ, token.GEQ:
		return true
	}
	return false
}

func (f *File) isConst(e ast.Expr) bool {
	tv, ok := f.info.Types[e]
	return ok && tv.Value != nil
}

// operand returns e converted to uint64 if it is an integer that can be
// evaluated twice without side effects.
func (f *File) operand(e ast.Expr) (ast.Expr, bool) {
	tv, ok := f.info.Types[e]
	if !ok || tv.Type == nil {
		return nil, false
	}
	basic, ok := tv.Type.Underlying().(*types.Basic)
	if !ok || basic.Info()&types.IsInteger == 0 {
		return nil, false
	}
	if tv.Value != nil {
		// Constants are folded here: uint64(-1) does not compile.
		v := constant.ToInt(tv.Value)
		if u, exact := constant.Uint64Val(v); exact {
			return &ast.BasicLit{Kind: token.INT, Value: strconv.FormatUint(u, 10)}, true
		}
		if i, exact := constant.Int64Val(v); exact {
			return &ast.BasicLit{Kind: token.INT, Value: strconv.FormatUint(uint64(i), 10)}, true
		}
		return nil, false
	}
	if !pure(e) {
		return nil, false
	}
	return &ast.CallExpr{Fun: ast.NewIdent("uint64"), Args: []ast.Expr{e}}, true
}

// pure reports whether evaluating e cannot have side effects.
func pure(e ast.Expr) bool {
	switch e := e.(type) {
	case *ast.Ident, *ast.BasicLit:
		return true
	case *ast.ParenExpr:
		return pure(e.X)
	case *ast.SelectorExpr:
		return pure(e.X)
	case *ast.StarExpr:
		return pure(e.X)
	case *ast.IndexExpr:
		return pure(e.X) && pure(e.Index)
	case *ast.UnaryExpr:
		return e.Op != token.ARROW && pure(e.X)
	case *ast.BinaryExpr:
		return pure(e.X) && pure(e.Y)
	}
	return false
}

func trimComments(file *ast.File, fset *token.FileSet) []*ast.CommentGroup {
	var comments []*ast.CommentGroup
	for _, group := range file.Comments {
		var list []*ast.Comment
		for _, comment := range group.List {
			if strings.HasPrefix(comment.Text, "//go:") && fset.Position(comment.Slash).Column == 1 {
				list = append(list, comment)
			}
		}
		if list != nil {
			comments = append(comments, &ast.CommentGroup{List: list})
		}
	}
	return comments
}

func (f *File) addImport(path, name, anyIdent string) {
	newImport := &ast.ImportSpec{
		Name: ast.NewIdent(name),
		Path: &ast.BasicLit{
			Kind:  token.STRING,
			Value: fmt.Sprintf("%q", path),
		},
	}
	impDecl := &ast.GenDecl{
		Tok: token.IMPORT,
		Specs: []ast.Spec{
			newImport,
		},
	}
	// Make the new import the first Decl in the file.
	astFile := f.astFile
	astFile.Decls = append(astFile.Decls, nil)
	copy(astFile.Decls[1:], astFile.Decls[0:])
	astFile.Decls[0] = impDecl
	astFile.Imports = append(astFile.Imports, newImport)

	// Now refer to the package, just in case it ends up unused.
	// That is, append to the end of the file the declaration
	//	var _ = _go_fuzz_dep_.TracePCGuard
	reference := &ast.GenDecl{
		Tok: token.VAR,
		Specs: []ast.Spec{
			&ast.ValueSpec{
				Names: []*ast.Ident{
					ast.NewIdent("_"),
				},
				Values: []ast.Expr{
					&ast.SelectorExpr{
						X:   ast.NewIdent(name),
						Sel: ast.NewIdent(anyIdent),
					},
				},
			},
		},
	}
	astFile.Decls = append(astFile.Decls, reference)
}

// addGuards declares the guard array and registers it from an init function:
//
//	var _go_fuzz_guards_0 [n]uint32
//	func init() { _go_fuzz_dep_.InitGuards(_go_fuzz_guards_0[:]) }
func (f *File) addGuards() {
	if f.count == 0 {
		return
	}
	decl := &ast.GenDecl{
		Tok: token.VAR,
		Specs: []ast.Spec{
			&ast.ValueSpec{
				Names: []*ast.Ident{ast.NewIdent(f.guards)},
				Type: &ast.ArrayType{
					Len: &ast.BasicLit{Kind: token.INT, Value: strconv.Itoa(f.count)},
					Elt: ast.NewIdent("uint32"),
				},
			},
		},
	}
	initFn := &ast.FuncDecl{
		Name: ast.NewIdent("init"),
		Type: &ast.FuncType{Params: &ast.FieldList{}},
		Body: &ast.BlockStmt{
			List: []ast.Stmt{
				&ast.ExprStmt{X: &ast.CallExpr{
					Fun:  &ast.SelectorExpr{X: ast.NewIdent(fuzzdepPkg), Sel: ast.NewIdent("InitGuards")},
					Args: []ast.Expr{&ast.SliceExpr{X: ast.NewIdent(f.guards)}},
				}},
			},
		},
	}
	f.astFile.Decls = append(f.astFile.Decls, decl, initFn)
}

// newCounter returns _go_fuzz_dep_.TracePCGuard(&_go_fuzz_guards_N[k]) for the
// next free slot k.
func (f *File) newCounter() ast.Stmt {
	idx := &ast.BasicLit{
		Kind:  token.INT,
		Value: strconv.Itoa(f.count),
	}
	f.count++
	guard := &ast.UnaryExpr{
		Op: token.AND,
		X: &ast.IndexExpr{
			X:     ast.NewIdent(f.guards),
			Index: idx,
		},
	}
	return &ast.ExprStmt{X: &ast.CallExpr{
		Fun:  &ast.SelectorExpr{X: ast.NewIdent(fuzzdepPkg), Sel: ast.NewIdent("TracePCGuard")},
		Args: []ast.Expr{guard},
	}}
}

// newSite identifies a comparison by its position in the original source.
func (f *File) newSite(pos token.Pos) ast.Expr {
	p := f.fset.Position(pos)
	site := xxhash.Sum64String(fmt.Sprintf("%s:%d:%d", f.pkg, p.Line, p.Column) + "/" + f.fullName)
	return &ast.BasicLit{Kind: token.INT, Value: strconv.FormatUint(site, 10)}
}

func (f *File) print(w io.Writer) error {
	cfg := printer.Config{
		Mode:     printer.SourcePos,
		Tabwidth: 8,
		Indent:   0,
	}
	return cfg.Fprint(w, f.fset, f.astFile)
}
