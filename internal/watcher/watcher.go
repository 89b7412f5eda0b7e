// Package watcher rebuilds the site when the playtime file or the catalogue
// changes.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// RebuildFunc runs one build. It is never called concurrently.
type RebuildFunc func(ctx context.Context) error

// Watcher debounces filesystem events into sequential rebuilds
type Watcher struct {
	playtimeFile string
	catalogueDir string
	debounce     time.Duration
	rebuild      RebuildFunc
	logger       *logrus.Logger

	fs *fsnotify.Watcher
}

// New creates a watcher for the playtime file and the catalogue tree
func New(playtimeFile, catalogueDir string, debounce time.Duration, rebuild RebuildFunc, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		playtimeFile: filepath.Clean(playtimeFile),
		catalogueDir: filepath.Clean(catalogueDir),
		debounce:     debounce,
		rebuild:      rebuild,
		logger:       logger,
	}
}

// Run performs an initial rebuild, then rebuilds after each burst of changes
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fs = fsw
	defer w.fs.Close()

	// The tracker replaces its file on save, so the directory is watched.
	if err := w.fs.Add(filepath.Dir(w.playtimeFile)); err != nil {
		w.logger.WithError(err).WithField("path", w.playtimeFile).Warn("Cannot watch playtime file")
	}
	if err := w.addTree(w.catalogueDir); err != nil {
		w.logger.WithError(err).WithField("path", w.catalogueDir).Warn("Cannot watch catalogue")
	}

	w.logger.WithFields(logrus.Fields{
		"playtime":  w.playtimeFile,
		"catalogue": w.catalogueDir,
		"debounce":  w.debounce,
	}).Info("File watcher started")

	w.runRebuild(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("File watcher error")

		case <-timer.C:
			w.runRebuild(ctx)
		}
	}
}

func (w *Watcher) runRebuild(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := w.rebuild(ctx); err != nil {
		w.logger.WithError(err).Error("Rebuild failed")
	}
}

// handleEvent reports whether the event should trigger a rebuild
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return false
	}
	if event.Op == fsnotify.Chmod {
		return false
	}

	name := filepath.Clean(event.Name)
	if name == w.playtimeFile {
		w.logger.WithField("op", event.Op.String()).Debug("Playtime data changed")
		return true
	}
	if !w.inCatalogue(name) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if err := w.addTree(name); err != nil {
				w.logger.WithError(err).WithField("directory", name).Warn("Cannot watch new directory")
			} else {
				w.logger.WithField("directory", name).Debug("Watching new directory")
			}
		}
	}
	w.logger.WithFields(logrus.Fields{"path": name, "op": event.Op.String()}).Debug("Catalogue changed")
	return true
}

func (w *Watcher) inCatalogue(path string) bool {
	rel, err := filepath.Rel(w.catalogueDir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// addTree adds dir and all its subdirectories
func (w *Watcher) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.fs.Add(path)
		}
		return nil
	})
}
