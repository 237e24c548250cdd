package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/blockgraph/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeCatalog ChangeType = iota
	ChangeTypeDocument
)

func (t ChangeType) String() string {
	if t == ChangeTypeCatalog {
		return "catalog"
	}
	return "document"
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// batchWindow groups the burst of events a single save produces
const batchWindow = 100 * time.Millisecond

// FileWatcher watches a served document and the block catalogs it
// depends on. Parent directories are watched rather than the files, so
// editors that save by renaming are still seen.
type FileWatcher struct {
	watcher     *fsnotify.Watcher
	document    string
	catalogs    map[string]bool // catalog files
	catalogDirs map[string]bool // directories whose *.toml files are catalogs
	events      chan ChangeEvent
	stopOnce    sync.Once
}

// NewFileWatcher creates a watcher for document (may be empty) and the
// given catalog files or directories.
func NewFileWatcher(document string, catalogs []string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher:     watcher,
		catalogs:    make(map[string]bool),
		catalogDirs: make(map[string]bool),
		events:      make(chan ChangeEvent, 100),
	}
	if document != "" {
		fw.document = filepath.Clean(document)
	}
	for _, c := range catalogs {
		c = filepath.Clean(c)
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			fw.catalogDirs[c] = true
		} else {
			fw.catalogs[c] = true
		}
	}
	return fw, nil
}

// Start begins watching for file changes
func (fw *FileWatcher) Start(ctx context.Context) error {
	dirs := make(map[string]bool)
	if fw.document != "" {
		dirs[filepath.Dir(fw.document)] = true
	}
	for c := range fw.catalogs {
		dirs[filepath.Dir(c)] = true
	}
	for d := range fw.catalogDirs {
		dirs[d] = true
	}
	if len(dirs) == 0 {
		return fmt.Errorf("nothing to watch")
	}

	for dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	logging.Info("started watching", "document", fw.document, "directories", len(dirs))

	// Process events
	go fw.processEvents(ctx)

	return nil
}

// classify maps a file system path to the kind of change it represents
func (fw *FileWatcher) classify(path string) (ChangeType, bool) {
	path = filepath.Clean(path)
	switch {
	case path == fw.document:
		return ChangeTypeDocument, true
	case fw.catalogs[path]:
		return ChangeTypeCatalog, true
	case fw.catalogDirs[filepath.Dir(path)] && strings.HasSuffix(path, ".toml"):
		return ChangeTypeCatalog, true
	}
	return 0, false
}

// processEvents processes file system events and batches them by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)

	// Batch events to avoid sending one event per write
	pending := make(map[ChangeType][]string)

	flushTimer := time.NewTimer(batchWindow)
	flushTimer.Stop()

	flush := func() {
		// Catalogs first: a document reload needs the new definitions
		for _, t := range []ChangeType{ChangeTypeCatalog, ChangeTypeDocument} {
			if paths := pending[t]; len(paths) > 0 {
				fw.events <- ChangeEvent{Type: t, Paths: paths, Timestamp: time.Now()}
			}
		}
		pending = make(map[ChangeType][]string)
	}

	for {
		select {
		case <-ctx.Done():
			fw.Stop()
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				flush()
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if t, ok := fw.classify(event.Name); ok {
				logging.Trace("file changed", "path", event.Name, "op", event.Op.String(), "type", t)
				pending[t] = appendUnique(pending[t], event.Name)
				flushTimer.Reset(batchWindow)
			}

		case <-flushTimer.C:
			flush()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

func appendUnique(paths []string, p string) []string {
	for _, q := range paths {
		if q == p {
			return paths
		}
	}
	return append(paths, p)
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop stops the file watcher. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		err = fw.watcher.Close()
	})
	return err
}
