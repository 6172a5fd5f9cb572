// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// fuzzcheck-build instruments a package and the rest of its module for
// coverage and links it into a fuzz binary:
//
//	fuzzcheck-build [-o bin] [-preserve paths] [pkg] [worker args...]
//
// Every exported func FuzzXxx(data []byte) bool of pkg becomes a fuzz target,
// selected at run time with -func. Without -o the binary is built to a
// temporary file and run with the worker args.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"os/exec"
	"os/signal"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/tools/go/packages"

	"github.com/bradleyjkemp/fuzzcheck/logger"
)

const runnerPkg = "github.com/bradleyjkemp/fuzzcheck/runner"

var (
	flagOut      = flag.String("o", "", "if set, output the fuzzer binary to this file instead of running it")
	flagPreserve = flag.String("preserve", "", "a comma-separated list of import paths not to instrument")
	flagWork     = flag.Bool("work", false, "print the name of the temporary work directory and do not delete it")
	flagLogLevel = flag.String("log-level", "info", "debug, info, warn or error")
	shouldRun    = false
)

// basePackagesConfig returns a base golang.org/x/tools/go/packages.Config
// that clients can then modify and use for calls to go/packages.
func basePackagesConfig() *packages.Config {
	cfg := new(packages.Config)
	cfg.Env = os.Environ()
	return cfg
}

// main instruments the module's packages into a work directory, generates a
// main package registering the fuzz functions, and builds it with an overlay
// so that the sources on disk stay untouched.
func main() {
	flag.Parse()
	log, err := logger.New(*flagLogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	c := &Context{log: log.Named("build"), overlay: make(map[string]string)}

	pkg := "."
	var workerArgs []string
	if flag.NArg() > 0 {
		pkg, workerArgs = flag.Arg(0), flag.Args()[1:]
	}

	c.loadPkg(pkg)    // load and typecheck pkg
	c.calcIgnore()    // calculate set of packages to ignore
	c.findFuzzFuncs() // look for FuzzXxx in the root packages
	c.makeWorkdir()   // create workdir

	if *flagOut == "" {
		*flagOut = filepath.Join(c.workdir, c.targetPackages[0].Name+"-fuzz")
		shouldRun = true
	}

	// Literals are gathered while the AST is pristine: instrumentation
	// rewrites it in place.
	literals := c.gatherLiterals()
	c.instrumentPackages()
	c.writeMain(literals)
	c.build()

	if !shouldRun {
		c.cleanup()
		c.log.Info("built fuzz binary", zap.String("path", *flagOut))
		return
	}
	code := c.run(workerArgs)
	c.cleanup()
	os.Exit(code)
}

// Context holds state for a fuzzcheck-build run.
type Context struct {
	log *zap.Logger

	targetPackages []*packages.Package // typechecked root packages
	module         *packages.Module    // the main module

	ignore map[string]bool // set of packages to ignore during instrumentation
	funcs  []fuzzFunc

	workdir string
	overlay map[string]string // original file => instrumented copy
}

type fuzzFunc struct {
	PkgPath string
	Alias   string
	Name    string
}

func (f fuzzFunc) Key() string { return f.PkgPath + "." + f.Name }

// isIgnored reports whether pkg stays uninstrumented: it lives outside the main
// module, belongs to fuzzcheck itself or was named with -preserve.
func (c *Context) isIgnored(pkg string) bool {
	return c.ignore[pkg]
}

// loadPkg loads, parses, and typechecks pkg (the package containing the Fuzz
// functions), the runner, and their dependencies.
func (c *Context) loadPkg(pkg string) {
	// Load, parse, and type-check all packages.
	// We'll use the type information later.
	// This also provides better error messages in the case
	// of invalid code than trying to compile instrumented code.
	cfg := basePackagesConfig()
	cfg.Mode = packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
		packages.NeedImports | packages.NeedDeps | packages.NeedTypes | packages.NeedSyntax |
		packages.NeedTypesInfo | packages.NeedModule
	// use custom ParseFile in order to get comments
	cfg.ParseFile = func(fset *token.FileSet, filename string, src []byte) (*ast.File, error) {
		return parser.ParseFile(fset, filename, src, parser.ParseComments)
	}
	var err error
	c.targetPackages, err = packages.Load(cfg, pkg)
	if err != nil {
		c.failf("could not load packages: %v", err)
	}

	// Stop if any package had errors.
	if packages.PrintErrors(c.targetPackages) > 0 {
		c.failf("typechecking of %v failed", pkg)
	}
	if len(c.targetPackages) == 0 {
		c.failf("no packages matching %v", pkg)
	}
	c.module = c.targetPackages[0].Module
	if c.module == nil || !c.module.Main {
		c.failf("%v is not part of a module", pkg)
	}

	// The generated main imports the runner, so the module must depend on it.
	cfg = basePackagesConfig()
	cfg.Mode = packages.NeedName
	cfg.Dir = c.module.Dir
	runner, err := packages.Load(cfg, runnerPkg)
	if err != nil || packages.PrintErrors(runner) > 0 {
		c.failf("could not load %v, add it to %v: %v", runnerPkg, c.module.GoMod, err)
	}
}

// isFuzzSig reports whether sig is of the form
//
//	func FuzzFunc(data []byte) bool
func isFuzzSig(sig *types.Signature) bool {
	return sig.Recv() == nil && sig.TypeParams().Len() == 0 &&
		sig.Params().Len() == 1 && sig.Params().At(0).Type().String() == "[]byte" &&
		sig.Results().Len() == 1 && sig.Results().At(0).Type().String() == "bool"
}

func isFuzzFuncName(name string) bool {
	return isTest(name, "Fuzz")
}

// isTest is copied verbatim, along with its name,
// from GOROOT/src/cmd/go/internal/load/test.go.
// isTest tells whether name looks like a test (or benchmark, according to prefix).
// It is a Test (say) if there is a character after Test that is not a lower-case letter.
// We don't want TesticularCancer.
func isTest(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	if len(name) == len(prefix) { // "Test" is ok
		return true
	}
	rune, _ := utf8.DecodeRuneInString(name[len(prefix):])
	return !unicode.IsLower(rune)
}

func (c *Context) findFuzzFuncs() {
	for i, p := range c.targetPackages {
		if p.Name == "main" {
			c.log.Warn("skipping main package, it cannot be imported", zap.String("pkg", p.PkgPath))
			continue
		}
		scope := p.Types.Scope()
		for _, name := range scope.Names() {
			fn, ok := scope.Lookup(name).(*types.Func)
			if !ok || !fn.Exported() || !isFuzzFuncName(name) {
				continue
			}
			if !isFuzzSig(fn.Type().(*types.Signature)) {
				c.log.Warn("ignoring fuzz function with the wrong signature, want func(data []byte) bool",
					zap.String("func", p.PkgPath+"."+name))
				continue
			}
			c.funcs = append(c.funcs, fuzzFunc{
				PkgPath: p.PkgPath,
				Alias:   fmt.Sprintf("fuzz%d", i),
				Name:    name,
			})
		}
	}
	if len(c.funcs) == 0 {
		c.failf("no func FuzzXxx(data []byte) bool found")
	}
	for _, f := range c.funcs {
		c.log.Debug("found fuzz function", zap.String("func", f.Key()))
	}
}

// makeWorkdir creates the workdir, logging as requested.
func (c *Context) makeWorkdir() {
	var err error
	c.workdir, err = os.MkdirTemp("", "fuzzcheck-build")
	if err != nil {
		c.failf("failed to create temp dir: %v", err)
	}
	if *flagWork {
		c.log.Info("work directory", zap.String("path", c.workdir))
	}
}

func (c *Context) cleanup() {
	if c.workdir != "" && !*flagWork {
		os.RemoveAll(c.workdir)
	}
}

func (c *Context) calcIgnore() {
	c.ignore = map[string]bool{}
	packages.Visit(c.targetPackages, nil, func(p *packages.Package) {
		if p.Module == nil || !p.Module.Main || strings.HasPrefix(p.PkgPath, "github.com/bradleyjkemp/fuzzcheck/") {
			c.ignore[p.PkgPath] = true
		}
	})

	// Ignore any packages requested explicitly by the user.
	for _, path := range strings.Split(*flagPreserve, ",") {
		if path != "" {
			c.ignore[path] = true
		}
	}
}

// mainDir is where the generated main package lives. It only exists in the
// overlay, inside the module so that internal packages can be imported.
func (c *Context) mainDir() string {
	return filepath.Join(c.module.Dir, "internal", "fuzzcheckmain")
}

func (c *Context) mainPkg() string {
	return path.Join(c.module.Path, "internal", "fuzzcheckmain")
}

func (c *Context) instrumentPackages() {
	visit := func(pkg *packages.Package) {
		if c.isIgnored(pkg.PkgPath) {
			return
		}
		dir := filepath.Join(c.workdir, "src", filepath.FromSlash(pkg.PkgPath))
		c.mkdirAll(dir)

		for i, fullName := range pkg.CompiledGoFiles {
			if !strings.HasSuffix(fullName, ".go") || i >= len(pkg.Syntax) || importsC(pkg.Syntax[i]) {
				// cgo files are built as they are.
				continue
			}
			buf := new(bytes.Buffer)
			if err := instrument(pkg.PkgPath, fullName, i, pkg.Fset, pkg.Syntax[i], pkg.TypesInfo, buf); err != nil {
				c.failf("failed to instrument %v: %v", fullName, err)
			}
			outpath := filepath.Join(dir, filepath.Base(fullName))
			c.writeFile(outpath, buf.Bytes())
			c.overlay[fullName] = outpath
		}
		c.log.Debug("instrumented package", zap.String("pkg", pkg.PkgPath))
	}

	packages.Visit(c.targetPackages, nil, visit)
}

func importsC(f *ast.File) bool {
	for _, imp := range f.Imports {
		if imp.Path.Value == `"C"` {
			return true
		}
	}
	return false
}

func (c *Context) writeMain(literals []string) {
	buf := new(bytes.Buffer)
	aliases := map[string]string{}
	for _, f := range c.funcs {
		aliases[f.PkgPath] = f.Alias
	}
	var imports [][2]string
	for p, a := range aliases {
		imports = append(imports, [2]string{a, p})
	}
	sort.Slice(imports, func(i, j int) bool { return imports[i][1] < imports[j][1] })
	err := mainTmpl.Execute(buf, map[string]any{
		"Runner":   runnerPkg,
		"Imports":  imports,
		"Funcs":    c.funcs,
		"Literals": literals,
	})
	if err != nil {
		c.failf("failed to execute main template: %v", err)
	}
	src := filepath.Join(c.workdir, "main.go")
	c.writeFile(src, buf.Bytes())
	c.overlay[filepath.Join(c.mainDir(), "main.go")] = src
}

func (c *Context) build() {
	overlay, err := json.Marshal(struct{ Replace map[string]string }{c.overlay})
	if err != nil {
		c.failf("failed to encode overlay: %v", err)
	}
	overlayFile := filepath.Join(c.workdir, "overlay.json")
	c.writeFile(overlayFile, overlay)

	out, err := filepath.Abs(*flagOut)
	if err != nil {
		c.failf("bad output path: %v", err)
	}
	cmd := exec.Command("go", "build", "-overlay", overlayFile, "-o", out, c.mainPkg())
	cmd.Dir = c.module.Dir
	cmd.Env = os.Environ()
	c.log.Debug("building", zap.Strings("args", cmd.Args))
	if out, err := cmd.CombinedOutput(); err != nil {
		c.failf("failed to execute go build: %v\n%v", err, string(out))
	}
}

// run starts the fuzz binary and forwards interrupts to it. It returns the
// binary's exit code.
func (c *Context) run(args []string) int {
	cmd := exec.Command(*flagOut, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		c.failf("failed to start %v: %v", *flagOut, err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for sig := range sigs {
			cmd.Process.Signal(sig)
		}
	}()

	var ee *exec.ExitError
	if err := cmd.Wait(); errors.As(err, &ee) {
		return ee.ExitCode()
	} else if err != nil {
		c.failf("%v: %v", *flagOut, err)
	}
	return 0
}

func (c *Context) failf(str string, args ...interface{}) {
	c.cleanup()
	c.log.Fatal(fmt.Sprintf(str, args...))
}

func (c *Context) writeFile(name string, data []byte) {
	if err := os.WriteFile(name, data, 0o600); err != nil {
		c.failf("failed to write temp file: %v", err)
	}
}

func (c *Context) mkdirAll(dir string) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		c.failf("failed to create temp dir: %v", err)
	}
}

var mainTmpl = template.Must(template.New("main").Parse(`// Code generated by fuzzcheck-build. DO NOT EDIT.

package main

import (
	"{{.Runner}}"
{{range .Imports}}	{{index . 0}} "{{index . 1}}"
{{end}})

func main() {
	runner.MainBytes(map[string]func([]byte) bool{
{{range .Funcs}}		"{{.Key}}": {{.Alias}}.{{.Name}},
{{end}}	}, []string{
{{range .Literals}}		{{.}},
{{end}}	})
}
`))
