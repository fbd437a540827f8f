package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

var errWatcherClosed = errors.New("client: socket watcher closed")

// WaitForSocket blocks until a file exists at path or ctx ends. It does not
// dial; a socket file can exist before the daemon accepts on it.
func WaitForSocket(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if exists(path) {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	// the socket may have appeared between the first check and Add
	if exists(path) {
		return nil
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Clean(ev.Name) == path && ev.Has(fsnotify.Create) {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
