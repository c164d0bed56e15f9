// Package registry holds an immutable, path-addressable snapshot of the
// JavaScript/JSX source files available to the runtime. The snapshot is
// taken once at construction, so render jobs never touch the filesystem
// and can run concurrently without shared mutable file state.
package registry

import (
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/hostwire/jsrun/internal/core"
)

// resolveExtensions is the order in which extensionless imports and page
// names are matched against registry entries.
var resolveExtensions = []string{".jsx", ".tsx", ".js", ".ts"}

// Registry is a read-mostly snapshot of source files keyed by logical path
// (slash-separated, no leading "./"). The only mutation path is Swap, used
// by the live-reload watcher; plain embedded registries never change.
type Registry struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// FromFS walks fsys and snapshots every regular file into memory.
// A nil fsys yields an empty registry.
func FromFS(fsys fs.FS) (*Registry, error) {
	r := &Registry{files: map[string][]byte{}}
	if fsys == nil {
		return r, nil
	}
	files, err := snapshot(fsys)
	if err != nil {
		return nil, err
	}
	r.files = files
	return r, nil
}

func snapshot(fsys fs.FS) (map[string][]byte, error) {
	files := map[string][]byte{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		files[normalize(p)] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Get returns the contents of the file at the given logical path.
func (r *Registry) Get(p string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.files[normalize(p)]
	if !ok {
		return nil, &core.NotFoundError{Name: p}
	}
	return data, nil
}

// Resolve maps an import specifier or page path to a registry entry,
// trying the exact path first, then the known source extensions, then an
// index file inside a directory of that name.
func (r *Registry) Resolve(p string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p = normalize(p)
	if _, ok := r.files[p]; ok {
		return p, nil
	}
	for _, ext := range resolveExtensions {
		if _, ok := r.files[p+ext]; ok {
			return p + ext, nil
		}
	}
	for _, ext := range resolveExtensions {
		idx := path.Join(p, "index"+ext)
		if _, ok := r.files[idx]; ok {
			return idx, nil
		}
	}
	return "", &core.NotFoundError{Name: p}
}

// Paths returns the sorted logical paths in the snapshot.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.files))
	for p := range r.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of files in the snapshot.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// Swap replaces the snapshot with a fresh walk of fsys. Used by the
// live-reload watcher; callers are responsible for invalidating any
// compiled-module caches built against the old snapshot.
func (r *Registry) Swap(fsys fs.FS) error {
	files, err := snapshot(fsys)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.files = files
	r.mu.Unlock()
	return nil
}

// normalize strips a leading "./" and cleans the path so that relative
// import specifiers and walk results address the same entries.
func normalize(p string) string {
	p = strings.TrimPrefix(p, "./")
	return path.Clean(p)
}
