package framecache

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports when a source video changes on disk. Caches are
// revalidated by Ensure, so a changed source is rebuilt the next time its
// page is shown.
type Watcher struct {
	fw       *fsnotify.Watcher
	sources  map[string]string // cleaned path -> configured path
	onChange func(source string)
	logger   zerolog.Logger
}

// NewWatcher watches the directories holding sources. Directories are
// watched rather than files so that replace-by-rename is seen too.
func NewWatcher(sources []string, onChange func(source string), logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		fw:       fw,
		sources:  make(map[string]string, len(sources)),
		onChange: onChange,
		logger:   logger,
	}
	dirs := make(map[string]bool)
	for _, s := range sources {
		abs, err := filepath.Abs(s)
		if err != nil {
			abs = filepath.Clean(s)
		}
		w.sources[abs] = s
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run delivers change notifications until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			src, ok := w.sources[filepath.Clean(ev.Name)]
			if !ok {
				continue
			}
			w.logger.Warn().Str("source", src).Str("op", ev.Op.String()).Msg("source video changed; cache will be rebuilt when the page is next shown")
			if w.onChange != nil {
				w.onChange(src)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("source watcher error")
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
