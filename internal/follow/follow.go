// Package follow tails a sink file the way `tail -F` does, printing each
// complete record as soon as it lands.
package follow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Options configures a Follower.
type Options struct {
	// FromStart prints what the file already holds before following it.
	FromStart bool
	Logger    *slog.Logger
}

// Follower copies complete lines appended to one file into a writer.
type Follower struct {
	path    string
	out     io.Writer
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	f       *os.File
	offset  int64
	pending []byte
}

// Open starts watching path. Lines written after Open returns are never
// missed. The file itself may not exist yet; it is picked up when created.
func Open(path string, out io.Writer, opts Options) (*Follower, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Watch the directory so a file that is removed and recreated is noticed.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	fl := &Follower{path: abs, out: out, logger: logger.With("path", abs), watcher: watcher}
	if err := fl.open(!opts.FromStart); err != nil {
		watcher.Close()
		return nil, err
	}
	return fl, nil
}

func (fl *Follower) open(atEnd bool) error {
	f, err := os.Open(fl.path)
	if errors.Is(err, fs.ErrNotExist) {
		fl.logger.Info("waiting for file to appear")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", fl.path, err)
	}

	fl.f, fl.offset, fl.pending = f, 0, nil
	if atEnd {
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			fl.f = nil
			return fmt.Errorf("stat %s: %w", fl.path, err)
		}
		fl.offset = fi.Size()
	}
	return nil
}

// Run follows the file until ctx ends. It returns nil on cancellation.
func (fl *Follower) Run(ctx context.Context) error {
	if err := fl.drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fl.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != fl.path {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				fl.closeFile()
				if err := fl.open(false); err != nil {
					return err
				}
				fl.logger.Info("file created, following from the start")
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				fl.closeFile()
				fl.logger.Info("file went away, waiting for it to return")
				continue
			}

			if err := fl.drain(); err != nil {
				return err
			}

		case err, ok := <-fl.watcher.Errors:
			if !ok {
				return nil
			}
			fl.logger.Warn("watch error", "error", err)
		}
	}
}

// drain copies everything past the current offset, holding back a trailing
// partial line until its newline arrives.
func (fl *Follower) drain() error {
	if fl.f == nil {
		return nil
	}

	fi, err := fl.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", fl.path, err)
	}
	if fi.Size() < fl.offset {
		fl.logger.Info("file truncated, following from the start")
		fl.offset, fl.pending = 0, nil
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := fl.f.ReadAt(buf, fl.offset)
		if n > 0 {
			fl.offset += int64(n)
			if werr := fl.emit(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", fl.path, err)
		}
	}
}

func (fl *Follower) emit(chunk []byte) error {
	fl.pending = append(fl.pending, chunk...)
	end := bytes.LastIndexByte(fl.pending, '\n')
	if end < 0 {
		return nil
	}
	if _, err := fl.out.Write(fl.pending[:end+1]); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fl.pending = append([]byte(nil), fl.pending[end+1:]...)
	return nil
}

func (fl *Follower) closeFile() {
	if fl.f != nil {
		fl.f.Close()
		fl.f = nil
	}
	fl.offset, fl.pending = 0, nil
}

// Close stops watching and releases the file.
func (fl *Follower) Close() error {
	fl.closeFile()
	return fl.watcher.Close()
}
