package server

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchData calls onChange with the base name of any of files that is
// written or replaced. The parent directories are watched since the data
// files are replaced by rename. Events for one file within debounce are
// collapsed. It blocks until ctx is done.
func WatchData(ctx context.Context, files []string, debounce time.Duration, onChange func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	wanted := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		wanted[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		log.Printf("server: watching %s for data changes", dir)
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	last := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !wanted[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if t, seen := last[event.Name]; seen && time.Since(t) < debounce {
				continue
			}
			last[event.Name] = time.Now()
			onChange(filepath.Base(event.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Println("server: watcher error:", err)
		}
	}
}
