// Package transpile turns extended-syntax source files (JSX, TSX, modern
// module syntax) into a single engine-loadable script per page. Bundling is
// done by esbuild against the in-memory source registry, so no filesystem
// access happens at compile time.
package transpile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	_ "embed"

	esbuild "github.com/evanw/esbuild/pkg/api"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hostwire/jsrun/internal/core"
	"github.com/hostwire/jsrun/internal/registry"
)

//go:embed jsx.js
var jsxRuntimeJS string

// JSXRuntime returns the embedded JSX-to-string runtime evaluated into every
// worker VM at setup. Bundled pages reference it as globalThis.__jsx.
func JSXRuntime() string { return jsxRuntimeJS }

// PageModuleGlobal is where a compiled page bundle installs its default
// render function.
const PageModuleGlobal = "globalThis.__page_module__"

// cacheSize bounds the compiled-module LRU. Embedded registries rarely hold
// more than a few dozen pages, so evictions are a non-issue in practice.
const cacheSize = 256

// Module is the compiled form of one page entry file plus its transitive
// local imports. Immutable once built.
type Module struct {
	Path        string
	ContentHash string
	Code        string
	CompiledAt  time.Time
}

// Transpiler compiles page sources, memoizing results by (path, content
// hash). Safe for concurrent use from any worker: losing a compile race
// just discards a redundant result.
type Transpiler struct {
	reg      *registry.Registry
	cache    *lru.Cache[string, *Module]
	compiles atomic.Int64
	log      *zap.Logger
}

// New builds a Transpiler over the given registry.
func New(reg *registry.Registry, log *zap.Logger) (*Transpiler, error) {
	cache, err := lru.New[string, *Module](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating module cache: %w", err)
	}
	return &Transpiler{reg: reg, cache: cache, log: log}, nil
}

// Compile resolves entry against the registry and returns its compiled
// module. Compiling the same unchanged path twice is a cache hit with
// byte-identical code.
func (t *Transpiler) Compile(entry string) (*Module, error) {
	resolved, err := t.reg.Resolve(entry)
	if err != nil {
		return nil, err
	}
	src, err := t.reg.Get(resolved)
	if err != nil {
		return nil, err
	}

	hash := contentHash(src)
	key := resolved + "\x00" + hash
	if m, ok := t.cache.Get(key); ok {
		return m, nil
	}

	code, err := t.bundle(resolved)
	if err != nil {
		return nil, err
	}
	t.compiles.Add(1)

	m := &Module{
		Path:        resolved,
		ContentHash: hash,
		Code:        code,
		CompiledAt:  time.Now(),
	}
	t.cache.Add(key, m)
	t.log.Debug("compiled page module",
		zap.String("path", resolved), zap.String("hash", hash))
	return m, nil
}

// bundle runs esbuild over the entry file, resolving every import through
// the registry plugin and emitting one self-contained IIFE whose value is
// assigned to the page-module global. esbuild registers modules in
// dependency order, so imports are always available before their importers
// execute.
func (t *Transpiler) bundle(entry string) (string, error) {
	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints: []string{entry},
		Bundle:      true,
		Write:       false,
		Format:      esbuild.FormatIIFE,
		GlobalName:  PageModuleGlobal,
		Target:      esbuild.ES2020,
		Charset:     esbuild.CharsetUTF8,
		JSX:         esbuild.JSXTransform,
		JSXFactory:  "__jsx.h",
		JSXFragment: "__jsx.Fragment",
		LogLevel:    esbuild.LogLevelSilent,
		Plugins:     []esbuild.Plugin{t.registryPlugin()},
	})

	if len(result.Errors) > 0 {
		return "", transpileError(entry, result.Errors)
	}
	if len(result.OutputFiles) == 0 {
		return "", &core.TranspileError{Path: entry, Message: "bundling produced no output"}
	}

	code := string(result.OutputFiles[0].Contents)
	// esbuild places the default export under a .default property when
	// converting ESM to IIFE. Unwrap it so the worker can call the render
	// function directly.
	code += "\nif (" + PageModuleGlobal + " && " + PageModuleGlobal + ".default) " +
		PageModuleGlobal + " = " + PageModuleGlobal + ".default;\n"
	return code, nil
}

// registryPlugin resolves and loads every module from the in-memory
// registry. Relative specifiers resolve against the importer's directory;
// bare specifiers resolve against the registry root.
func (t *Transpiler) registryPlugin() esbuild.Plugin {
	return esbuild.Plugin{
		Name: "source-registry",
		Setup: func(pb esbuild.PluginBuild) {
			pb.OnResolve(esbuild.OnResolveOptions{Filter: `.*`},
				func(args esbuild.OnResolveArgs) (esbuild.OnResolveResult, error) {
					spec := args.Path
					if args.Kind != esbuild.ResolveEntryPoint &&
						(strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")) {
						spec = path.Join(path.Dir(args.Importer), spec)
					}
					resolved, err := t.reg.Resolve(spec)
					if err != nil {
						return esbuild.OnResolveResult{}, fmt.Errorf("module %q not found", args.Path)
					}
					return esbuild.OnResolveResult{Path: resolved, Namespace: "registry"}, nil
				})

			pb.OnLoad(esbuild.OnLoadOptions{Filter: `.*`, Namespace: "registry"},
				func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
					src, err := t.reg.Get(args.Path)
					if err != nil {
						return esbuild.OnLoadResult{}, err
					}
					contents := string(src)
					loader := loaderForPath(args.Path)
					return esbuild.OnLoadResult{Contents: &contents, Loader: loader}, nil
				})
		},
	}
}

// TransformFunction transpiles one inline function source (Config.Functions)
// based on its name's extension. Plain .js sources pass through untouched.
func TransformFunction(name, source string) (string, error) {
	loader := loaderForPath(name)
	if loader == esbuild.LoaderJS {
		return source, nil
	}
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:      loader,
		Target:      esbuild.ES2020,
		JSX:         esbuild.JSXTransform,
		JSXFactory:  "__jsx.h",
		JSXFragment: "__jsx.Fragment",
		LogLevel:    esbuild.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", transpileError(name, result.Errors)
	}
	return string(result.Code), nil
}

// PurgeCache drops every compiled module. Called when the registry snapshot
// is swapped: any transitive dependent of a changed file is conservatively
// treated as stale.
func (t *Transpiler) PurgeCache() {
	t.cache.Purge()
}

// CompileCount reports how many times the bundler actually ran, as opposed
// to serving a cached module.
func (t *Transpiler) CompileCount() int64 {
	return t.compiles.Load()
}

func loaderForPath(p string) esbuild.Loader {
	switch strings.ToLower(path.Ext(p)) {
	case ".jsx":
		return esbuild.LoaderJSX
	case ".tsx":
		return esbuild.LoaderTSX
	case ".ts":
		return esbuild.LoaderTS
	default:
		return esbuild.LoaderJS
	}
}

func transpileError(fallbackPath string, msgs []esbuild.Message) *core.TranspileError {
	first := msgs[0]
	p := fallbackPath
	if first.Location != nil && first.Location.File != "" {
		p = first.Location.File
	}
	text := first.Text
	if first.Location != nil {
		text = fmt.Sprintf("%s (line %d)", text, first.Location.Line)
	}
	if len(msgs) > 1 {
		text = fmt.Sprintf("%s (and %d more errors)", text, len(msgs)-1)
	}
	return &core.TranspileError{Path: p, Message: text}
}

func contentHash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:8])
}
