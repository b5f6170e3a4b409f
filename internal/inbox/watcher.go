// Package inbox ingests files dropped into a local directory as dashboard
// inbox items. Anything saved into the drop folder (notes, forwarded mail
// exports, shared files) shows up on the dashboard for triage.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/foyerhq/foyer/internal/store"
)

const maxBodyBytes = 16 * 1024

// watched extensions; everything else in the drop dir is ignored
var ingestExts = map[string]bool{".md": true, ".txt": true, ".json": true}

// Watcher scans a drop directory and ingests new files into the store.
// Items are deduplicated by source path, so re-scans and duplicate
// fsnotify events are harmless.
type Watcher struct {
	Dir   string
	Store *store.Store
	Log   *slog.Logger

	// settle delay between a create event and the read, so writers
	// finish before we ingest
	settle time.Duration
}

func NewWatcher(dir string, st *store.Store, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{Dir: dir, Store: st, Log: log, settle: 200 * time.Millisecond}
}

// Run scans the directory once, then blocks ingesting new files until ctx
// is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}
	if err := w.Scan(); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}
	w.Log.Info("inbox watching", "dir", w.Dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			time.Sleep(w.settle)
			if err := w.ingest(ev.Name); err != nil {
				w.Log.Warn("inbox ingest failed", "file", ev.Name, "err", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.Warn("inbox watch error", "err", err)
		}
	}
}

// Scan ingests every eligible file currently in the drop directory.
func (w *Watcher) Scan() error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return fmt.Errorf("scan inbox dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := w.ingest(filepath.Join(w.Dir, e.Name())); err != nil {
			w.Log.Warn("inbox ingest failed", "file", e.Name(), "err", err)
		}
	}
	return nil
}

func (w *Watcher) ingest(path string) error {
	if !ingestExts[strings.ToLower(filepath.Ext(path))] {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if len(data) > maxBodyBytes {
		data = data[:maxBodyBytes]
	}

	name := filepath.Base(path)
	item := &store.InboxItem{
		ID:      uuid.New().String(),
		Source:  name,
		Subject: subjectFor(name, data),
		Body:    string(data),
	}
	if err := w.Store.InsertInboxItem(item); err != nil {
		return err
	}
	w.Log.Info("inbox item ingested", "source", name)
	return nil
}

// subjectFor derives a display subject: the first markdown heading or
// non-empty line, falling back to the file name.
func subjectFor(name string, data []byte) string {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			if len(line) > 120 {
				line = line[:120]
			}
			return line
		}
	}
	return name
}
