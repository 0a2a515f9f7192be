package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"reqstore/manifest"
	"reqstore/registry"
)

// Snapshotter stores manifest payloads picked up from the watched
// directory.
type Snapshotter interface {
	Snapshot(ctx context.Context, project, filename, format string, data []byte) (*registry.SnapshotResult, error)
}

// Watcher ingests manifest files dropped into a directory. The file stem
// names the project: billing.txt becomes a pip revision of project
// billing, training.yml a conda one.
type Watcher struct {
	Dir      string
	Registry Snapshotter
	Log      *logrus.Logger
}

// Run ingests the files already present in the directory, then watches
// for new ones until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.ingest(ctx, filepath.Join(w.Dir, entry.Name()))
		}
	}

	w.Log.Infof("Watching %s for manifest files", w.Dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.ingest(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.WithError(err).Error("watching manifest directory")
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	format := formatForPath(path)
	if format == "" {
		return
	}

	project := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if !registry.ValidProjectName(project) {
		w.Log.Warnf("Skipping %s: file stem is not a valid project name", filepath.Base(path))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.Log.WithError(err).Errorf("reading %s", path)
		return
	}
	// A create event often fires before the content lands. The write
	// event that follows picks the file up again.
	if len(data) == 0 {
		return
	}

	res, err := w.Registry.Snapshot(ctx, project, filepath.Base(path), format, data)
	if err != nil {
		w.Log.WithError(err).Errorf("storing manifest from %s", filepath.Base(path))
		return
	}
	if res.Created {
		w.Log.Infof("Ingested %s as revision %s of %s", filepath.Base(path), res.Manifest.ID, project)
	}
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return manifest.FormatPip
	case ".yml", ".yaml":
		return manifest.FormatConda
	default:
		return ""
	}
}
