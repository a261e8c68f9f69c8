package population

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration file whenever it changes and hands the
// freshly resolved registry to onChange. The current registry stays in
// effect when a reload fails; the error is logged and the watcher keeps
// running. Watch blocks until ctx is done.
//
// Events are debounced briefly because editors and config management tools
// tend to emit several write events per save.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(*Registry)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: most tools replace config files by rename,
	// which drops a watch set on the file itself.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config.watch.error", slog.String("err", err.Error()))
		case <-pending:
			pending = nil
			reg, err := LoadFile(path)
			if err != nil {
				log.Error("config.reload.fail", slog.String("path", path), slog.String("err", err.Error()))
				continue
			}
			log.Info("config.reload.ok", slog.String("path", path), slog.Int("populations", len(reg.byName)))
			onChange(reg)
		}
	}
}
