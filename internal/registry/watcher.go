package registry

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow coalesces bursts of filesystem events (editors often write
// a file several times in quick succession) into a single registry rebuild.
const debounceWindow = 100 * time.Millisecond

// Watcher rebuilds a directory-backed registry when files under the
// directory change. Invalidation is deliberately conservative: the whole
// snapshot is rebuilt and onChange is expected to purge every compiled
// module, so nothing is ever served against a stale import.
type Watcher struct {
	dir      string
	reg      *Registry
	onChange func()
	log      *zap.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching dir (recursively) and swaps the registry snapshot
// on changes. onChange runs after each successful swap.
func Watch(dir string, reg *Registry, onChange func(), log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:      dir,
		reg:      reg,
		onChange: onChange,
		log:      log,
		fsw:      fsw,
		done:     make(chan struct{}),
	}

	if err := w.addRecursive(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	var pending *time.Timer
	rebuild := make(chan struct{}, 1)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// New directories need their own watch.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(ev.Name)
				}
			}
			if pending == nil {
				pending = time.AfterFunc(debounceWindow, func() {
					select {
					case rebuild <- struct{}{}:
					default:
					}
				})
			} else {
				pending.Reset(debounceWindow)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("source watcher error", zap.Error(err))
		case <-rebuild:
			pending = nil
			if err := w.reg.Swap(os.DirFS(w.dir)); err != nil {
				w.log.Warn("rebuilding source snapshot", zap.Error(err))
				continue
			}
			w.log.Debug("source snapshot rebuilt", zap.String("dir", w.dir))
			if w.onChange != nil {
				w.onChange()
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
