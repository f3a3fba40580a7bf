package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Watcher re-reads the YAML file on filesystem change and delivers the
// updated configuration. Only the reloadable subset (the document root)
// is expected to take effect on a live server; sizing fields apply to
// the next start.
type Watcher struct {
	fw   *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching cfg.File. onChange runs on the watcher
// goroutine with a freshly parsed copy.
func Watch(cfg *Config, onChange func(*Config)) (*Watcher, error) {
	if cfg.File == "" {
		return nil, errors.New("no config file to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "fsnotify")
	}
	// Watch the directory: editors replace the file, which drops a
	// watch placed on the file itself.
	if err := fw.Add(filepath.Dir(cfg.File)); err != nil {
		fw.Close()
		return nil, errors.Wrap(err, "watch config dir")
	}
	w := &Watcher{fw: fw, done: make(chan struct{})}
	target := filepath.Clean(cfg.File)
	base := *cfg

	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				next := base
				if err := next.LoadFile(target); err != nil {
					logrus.WithError(err).Warn("config reload failed")
					continue
				}
				logrus.WithField("file", target).Info("config reloaded")
				onChange(&next)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("config watcher error")
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
