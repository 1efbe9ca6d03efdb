// Package ioutilx provides gzip-transparent file open/create helpers,
// the same role csvh.OpenMaybeGz/CreateMaybeGz play throughout the
// teacher corpus, reimplemented locally so the core packages below
// don't need to special-case every caller of csvh directly.
package ioutilx

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"regexp"
)

var gzRe = regexp.MustCompile(`\.gz$`)

type Reader struct {
	fp *os.File
	*bufio.Reader
}

func (r *Reader) Close() error {
	return r.fp.Close()
}

func Open(path string) (*Reader, error) {
	fp, e := os.Open(path)
	if e != nil {
		return nil, e
	}
	return &Reader{fp, bufio.NewReader(fp)}, nil
}

type GzReader struct {
	r *Reader
	*gzip.Reader
}

func (r *GzReader) Close() error {
	var err error
	if e := r.Reader.Close(); err == nil {
		err = e
	}
	if e := r.r.Close(); err == nil {
		err = e
	}
	return err
}

func OpenGz(path string) (*GzReader, error) {
	r, e := Open(path)
	if e != nil {
		return nil, e
	}
	gr, e := gzip.NewReader(r)
	if e != nil {
		r.Close()
		return nil, e
	}
	return &GzReader{r, gr}, nil
}

// OpenMaybeGz opens path as a plain reader, falling back to gzip
// decompression whenever the name ends in ".gz" OR the content turns
// out to start with a gzip magic header regardless of extension —
// the reference FASTA and mappability inputs (spec.md §6) are each
// allowed to arrive compressed or not.
func OpenMaybeGz(path string) (io.ReadCloser, error) {
	if gzRe.MatchString(path) {
		return OpenGz(path)
	}

	r, e := Open(path)
	if e != nil {
		return nil, e
	}
	peek, e := r.Reader.Peek(2)
	if e == nil && len(peek) == 2 && peek[0] == 0x1f && peek[1] == 0x8b {
		gr, e := gzip.NewReader(r)
		if e != nil {
			r.Close()
			return nil, e
		}
		return &GzReader{r, gr}, nil
	}
	return r, nil
}

type Writer struct {
	fp *os.File
	*bufio.Writer
}

func (w *Writer) Close() error {
	var err error
	if e := w.Flush(); err == nil {
		err = e
	}
	if e := w.fp.Close(); err == nil {
		err = e
	}
	return err
}

func Create(path string) (*Writer, error) {
	fp, e := os.Create(path)
	if e != nil {
		return nil, e
	}
	return &Writer{fp, bufio.NewWriter(fp)}, nil
}

type GzWriter struct {
	w *Writer
	*gzip.Writer
}

func (w *GzWriter) Close() error {
	var err error
	if e := w.Writer.Close(); err == nil {
		err = e
	}
	if e := w.w.Close(); err == nil {
		err = e
	}
	return err
}

func CreateGz(path string) (*GzWriter, error) {
	w, e := Create(path)
	if e != nil {
		return nil, e
	}
	gw := gzip.NewWriter(w)
	return &GzWriter{w, gw}, nil
}

func CreateMaybeGz(path string) (io.WriteCloser, error) {
	if gzRe.MatchString(path) {
		return CreateGz(path)
	}
	return Create(path)
}

// CreateAtomic writes through a temporary file in the same directory
// as path and renames it into place on Commit, per spec.md §4.E/§4.I/§9:
// "write to temporary file, fsync, rename" / "write-then-rename for all
// persisted files; never overwrite in place".
type AtomicWriter struct {
	fp       *os.File
	finalPath string
	bw       *bufio.Writer
	done     bool
}

func CreateAtomic(path string) (*AtomicWriter, error) {
	fp, e := os.CreateTemp(dirOf(path), ".tmp-*")
	if e != nil {
		return nil, e
	}
	return &AtomicWriter{fp: fp, finalPath: path, bw: bufio.NewWriter(fp)}, nil
}

func (a *AtomicWriter) Write(p []byte) (int, error) {
	return a.bw.Write(p)
}

// Commit flushes, fsyncs, closes and renames the temporary file into
// place. A process crash leaves only the stale temp file behind (Abort
// removes it), never a partially-written final artifact.
func (a *AtomicWriter) Commit() error {
	if a.done {
		return nil
	}
	a.done = true
	if e := a.bw.Flush(); e != nil {
		os.Remove(a.fp.Name())
		a.fp.Close()
		return e
	}
	if e := a.fp.Sync(); e != nil {
		os.Remove(a.fp.Name())
		a.fp.Close()
		return e
	}
	if e := a.fp.Close(); e != nil {
		os.Remove(a.fp.Name())
		return e
	}
	return os.Rename(a.fp.Name(), a.finalPath)
}

// Abort discards the temporary file without touching the final path.
func (a *AtomicWriter) Abort() error {
	if a.done {
		return nil
	}
	a.done = true
	a.fp.Close()
	return os.Remove(a.fp.Name())
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
