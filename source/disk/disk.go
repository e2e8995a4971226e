// Package disk loads seeds from YAML files in a local directory.
package disk

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/source"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultDebounce is the default time to wait for file system events to
// settle before reloading.
var DefaultDebounce = 200 * time.Millisecond

// Loader loads seeds from all .yaml and .yml files in a directory tree.
type Loader struct {
	Dir string // Directory to load seeds from.

	// Debounce sets the delay between a file system event and a reload in
	// Watch. If not set, DefaultDebounce is used.
	Debounce time.Duration

	// Logger logs reloads. If not set, logs are discarded.
	Logger *zap.Logger
}

var _ source.Loader = (*Loader)(nil)

// Load reads all seeds in the directory. Files are read in lexical order. A
// ref that is defined in more than one file is an error.
func (l *Loader) Load(ctx context.Context) ([]seed.Seed, error) {
	var seeds []seed.Seed
	seen := make(map[seed.Ref]string)
	err := filepath.Walk(l.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.WithStack(err)
		}
		if !info.Mode().IsRegular() || !source.IsSeedFile(path) {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		ss, err := seed.Decode(f)
		if err != nil {
			return errors.Wrap(err, path)
		}
		for _, s := range ss {
			if prev, ok := seen[s.Ref]; ok {
				return errors.Errorf("%s: seed %s already defined in %s", path, s.Ref, prev)
			}
			seen[s.Ref] = path
		}
		seeds = append(seeds, ss...)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load seeds")
	}
	return seeds, nil
}

// Watch loads the directory and calls fn with the result. The directory is
// reloaded whenever a file in it changes, until the context is cancelled.
// Load errors are logged and the previous result is kept.
//
// Subdirectories created after Watch has started are not watched.
func (l *Loader) Watch(ctx context.Context, fn func([]seed.Seed)) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("dir", l.Dir))
	debounce := l.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer w.Close()

	if err := filepath.Walk(l.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.WithStack(err)
		}
		if !info.IsDir() {
			return nil
		}
		return errors.Wrapf(w.Add(path), "watch %s", path)
	}); err != nil {
		return err
	}

	seeds, err := l.Load(ctx)
	if err != nil {
		return err
	}
	fn(seeds)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			logger.Debug("File changed", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watch error", zap.Error(err))
		case <-timer.C:
			seeds, err := l.Load(ctx)
			if err != nil {
				logger.Error("Reload failed", zap.Error(err))
				continue
			}
			logger.Info("Reloaded seeds", zap.Int("count", len(seeds)))
			fn(seeds)
		}
	}
}
