package cache

import (
	"context"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
)

// Writer fills a temporary file which Close renames into place. A reader
// sees the previous entry, or none, until then. A Writer is not safe for
// concurrent use.
type Writer struct {
	ctx     context.Context
	fs      billy.Filesystem
	file    billy.File
	temp    string
	target  string
	release func()
	logger  zerolog.Logger

	err    error
	closed bool
}

// discard returns a writer that drops everything, used when the entry is
// disabled or already being written by another request.
func discard() *Writer {
	return &Writer{closed: true}
}

// Discards is true when nothing will be stored.
func (w *Writer) Discards() bool {
	return w.file == nil
}

// Write appends to the temporary file. Once the context is done, every
// write fails and Close aborts.
func (w *Writer) Write(p []byte) (int, error) {
	if w.file == nil {
		return len(p), nil
	}
	if w.err != nil {
		return 0, w.err
	}
	if err := w.ctx.Err(); err != nil {
		w.err = err
		return 0, err
	}

	n, err := w.file.Write(p)
	if err != nil {
		w.err = UnavailableError{"write", w.temp, err}
	}
	return n, w.err
}

// Close publishes the entry, unless a write failed or the context is done
// in which case the temporary file is removed and the cause returned.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if w.err == nil {
		w.err = w.ctx.Err()
	}
	if w.err != nil {
		return w.abort(w.err)
	}

	w.closed = true
	defer w.release()

	if err := w.file.Close(); err != nil {
		w.remove()
		return UnavailableError{"close", w.temp, err}
	}
	if err := w.fs.Rename(w.temp, w.target); err != nil {
		w.remove()
		return UnavailableError{"rename", w.target, err}
	}

	w.logger.Debug().Str("path", w.target).Msg("cache entry published")
	return nil
}

// Abort removes the temporary file. It is a no-op after Close.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	return w.abort(nil)
}

func (w *Writer) abort(cause error) error {
	w.closed = true
	defer w.release()

	w.file.Close()
	if err := w.remove(); err != nil {
		return err
	}
	w.logger.Debug().Str("path", w.target).Msg("cache entry aborted")
	return cause
}

func (w *Writer) remove() error {
	if err := w.fs.Remove(w.temp); err != nil && !os.IsNotExist(err) {
		return UnavailableError{"remove", w.temp, err}
	}
	return nil
}
