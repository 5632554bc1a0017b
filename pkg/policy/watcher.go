package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// LoadClassFile reads a JSON file mapping tool names to class names.
func LoadClassFile(path string) (map[string]Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse class file %s: %w", path, err)
	}

	classes := make(map[string]Class, len(raw))
	for name, value := range raw {
		class, err := ParseClass(value)
		if err != nil {
			return nil, fmt.Errorf("class file %s, tool %q: %w", path, name, err)
		}
		classes[name] = class
	}
	return classes, nil
}

// ClassWatcher hot-reloads the engine's class table when the class file
// changes on disk. A reload that fails to parse keeps the previous
// table.
type ClassWatcher struct {
	watcher  *fsnotify.Watcher
	engine   *Engine
	path     string
	logger   zerolog.Logger
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewClassWatcher starts watching the class file for the given engine.
func NewClassWatcher(engine *Engine, path string, logger zerolog.Logger) (*ClassWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors often replace the file by rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	cw := &ClassWatcher{
		watcher:  watcher,
		engine:   engine,
		path:     path,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

// Stop stops the watcher.
func (cw *ClassWatcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}

func (cw *ClassWatcher) run() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cw.logger.Debug().Str("file", cw.path).Str("op", event.Op.String()).Msg("Class file change detected")
				cw.scheduleReload()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error().Err(err).Msg("Class file watcher error")

		case <-cw.stopCh:
			return
		}
	}
}

func (cw *ClassWatcher) scheduleReload() {
	if cw.timer != nil {
		cw.timer.Stop()
	}

	cw.timer = time.AfterFunc(cw.debounce, func() {
		classes, err := LoadClassFile(cw.path)
		if err != nil {
			cw.logger.Warn().Err(err).Msg("Class file reload failed, keeping previous table")
			return
		}
		cw.engine.SetClasses(classes)
	})
}
