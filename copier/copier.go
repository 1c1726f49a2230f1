// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

// Package copier copies files and directory trees out of a volume onto an
// afero.Fs.
//
// Every file is streamed in chunks straight to its destination. Failures are
// confined to the entry they happen on: an unreadable file is logged and the
// rest of its directory is still copied. A file that ends before its declared
// size is kept as it is, truncated artifacts are still evidence.
package copier

import (
	"crypto/md5"  // #nosec
	"crypto/sha1" // #nosec
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"log"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/forensicanalysis/imageextract/resolve"
	"github.com/forensicanalysis/imageextract/volume"
)

const (
	// ChunkSize is used for files with a known size.
	ChunkSize = 1024 * 1024
	// StreamChunkSize is used for files without size metadata.
	StreamChunkSize = 4096
	// MaxDepth limits recursion on looping directory structures.
	MaxDepth = 64
)

// Outcome is the result of copying a single file.
type Outcome struct {
	Source      string
	Destination string
	Saved       bool
	Bytes       int64
	Declared    int64
	Truncated   bool
	Hashes      map[string]string
	Err         string
}

// Result aggregates the outcomes of one Copy call.
type Result struct {
	// OK is true if a file was written or the destination directory was
	// created. An empty directory is still OK, use Files to tell them apart.
	OK       bool
	Files    int
	Failed   int
	Bytes    int64
	Outcomes []Outcome
}

func (r *Result) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Saved {
		r.Files++
		r.Bytes += o.Bytes
	} else {
		r.Failed++
	}
}

// Copier copies from FS into Dest.
type Copier struct {
	FS   volume.FileSystem
	Dest afero.Fs

	// OnLog receives diagnostics. If nil the standard logger is used.
	OnLog func(msg string)
	// OnFile is called once per leaf file.
	OnFile func(Outcome)
}

// New creates a Copier.
func New(fs volume.FileSystem, dest afero.Fs) *Copier {
	return &Copier{FS: fs, Dest: dest}
}

func (c *Copier) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if c.OnLog != nil {
		c.OnLog(msg)
		return
	}
	log.Print(msg)
}

// Copy copies logical to destination and reports whether anything was saved.
// A directory counts as saved once the destination directory exists.
func (c *Copier) Copy(logical, destination string) bool {
	return c.CopyResult(logical, destination).OK
}

// CopyResult is Copy with per file details.
func (c *Copier) CopyResult(logical, destination string) *Result {
	result := &Result{}
	resolved, err := resolve.Resolve(c.FS, logical)
	if err != nil {
		c.logf("MISSING %s: %s", logical, err)
		return result
	}
	result.OK = c.copy(resolved, destination, 0, result)
	return result
}

func (c *Copier) copy(source, destination string, depth int, result *Result) bool {
	entry, err := c.FS.Open(source)
	if err != nil {
		c.logf("could not open %s: %s", source, err)
		c.record(result, Outcome{Source: source, Destination: destination, Err: err.Error()})
		return false
	}

	switch e := entry.(type) {
	case volume.Directory:
		return c.copyDirectory(source, e, destination, depth, result)
	case volume.File:
		return c.copyFile(source, e, destination, result)
	default:
		c.logf("unsupported entry type %T for %s", entry, source)
		return false
	}
}

func (c *Copier) copyDirectory(source string, dir volume.Directory, destination string, depth int, result *Result) bool {
	if depth > MaxDepth {
		c.logf("maximum depth reached at %s", source)
		return false
	}

	if err := c.Dest.MkdirAll(destination, 0755); err != nil {
		c.logf("could not create %s: %s", destination, err)
		return false
	}

	entries, err := dir.Entries()
	if err != nil {
		c.logf("could not list %s: %s", source, err)
		return true
	}

	for _, entry := range entries {
		if volume.IsSynthetic(entry.Name) {
			continue
		}
		name := SafeName(entry.Name)
		if name == "" {
			c.logf("skipping unusable name %q in %s", entry.Name, source)
			continue
		}
		c.copy(resolve.Join(source, entry.Name), path.Join(destination, name), depth+1, result)
	}
	return true
}

func (c *Copier) copyFile(source string, file volume.File, destination string, result *Result) bool {
	outcome := Outcome{Source: source, Destination: destination, Declared: volume.UnknownSize}

	if err := c.Dest.MkdirAll(path.Dir(destination), 0755); err != nil {
		outcome.Err = err.Error()
		c.logf("could not create %s: %s", path.Dir(destination), err)
		c.record(result, outcome)
		return false
	}

	out, err := c.Dest.Create(destination)
	if err != nil {
		outcome.Err = err.Error()
		c.logf("could not create %s: %s", destination, err)
		c.record(result, outcome)
		return false
	}

	hashes := map[string]hash.Hash{
		"MD5":     md5.New(),  // #nosec
		"SHA-1":   sha1.New(), // #nosec
		"SHA-256": sha256.New(),
	}
	writers := []io.Writer{out}
	for _, h := range hashes {
		writers = append(writers, h)
	}
	w := io.MultiWriter(writers...)

	var n int64
	size, ok := file.Size()
	if ok {
		outcome.Declared = size
		n, err = copySized(w, file, size)
	} else {
		n, err = copyStream(w, file)
	}
	outcome.Bytes = n

	syncErr := out.Sync()
	closeErr := out.Close()

	switch {
	case err != nil:
		outcome.Err = err.Error()
		c.logf("could not read %s: %s", source, err)
		if n == 0 {
			_ = c.Dest.Remove(destination)
			c.record(result, outcome)
			return false
		}
	case closeErr != nil:
		outcome.Err = closeErr.Error()
		c.logf("could not write %s: %s", destination, closeErr)
		c.record(result, outcome)
		return false
	case syncErr != nil:
		c.logf("could not sync %s: %s", destination, syncErr)
	}

	if ok && n < size {
		outcome.Truncated = true
		c.logf("short read on %s: %d of %d bytes", source, n, size)
	}

	outcome.Saved = true
	outcome.Hashes = map[string]string{}
	for name, h := range hashes {
		outcome.Hashes[name] = fmt.Sprintf("%x", h.Sum(nil))
	}
	c.record(result, outcome)
	return true
}

func (c *Copier) record(result *Result, outcome Outcome) {
	result.add(outcome)
	if c.OnFile != nil {
		c.OnFile(outcome)
	}
}

// copySized reads up to size bytes in ChunkSize steps and stops at the first
// short read.
func copySized(w io.Writer, r io.ReaderAt, size int64) (int64, error) {
	chunk := int64(ChunkSize)
	if size < chunk {
		chunk = size
	}
	buf := make([]byte, chunk)

	var offset int64
	for offset < size {
		want := size - offset
		if want > chunk {
			want = chunk
		}
		n, err := r.ReadAt(buf[:want], offset)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return offset, errors.Wrap(werr, "write failed")
			}
			offset += int64(n)
		}
		if err != nil && err != io.EOF {
			return offset, err
		}
		if int64(n) < want {
			break
		}
	}
	return offset, nil
}

// copyStream reads StreamChunkSize blocks until a read returns no data.
func copyStream(w io.Writer, r io.ReaderAt) (int64, error) {
	buf := make([]byte, StreamChunkSize)

	var offset int64
	for {
		n, err := r.ReadAt(buf, offset)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return offset, errors.Wrap(werr, "write failed")
			}
			offset += int64(n)
		}
		if n == 0 || err == io.EOF {
			return offset, nil
		}
		if err != nil {
			return offset, err
		}
	}
}

// SafeName turns a name read from an image into a single path element for the
// destination. Separators are replaced, names that would leave the
// destination directory become empty.
func SafeName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "\x00", "_").Replace(name)
	if volume.IsSynthetic(name) {
		return ""
	}
	return name
}
