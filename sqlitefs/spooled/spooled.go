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

// Package spooled buffers a stream in memory until it grows past a limit and
// continues in a temporary file afterwards. Archive writers use it to hold
// the raw and the compressed form of an artifact until they know which one
// is smaller.
package spooled

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Buffer is written sequentially and read back once from the start.
type Buffer struct {
	fs    afero.Fs
	limit int64
	size  int64

	memory *bytes.Buffer
	file   afero.File

	reading bool
}

// New creates a Buffer that keeps up to limit bytes in memory and spills to
// a temporary file on fs.
func New(fs afero.Fs, limit int64) *Buffer {
	return &Buffer{fs: fs, limit: limit, memory: &bytes.Buffer{}}
}

// Spilled reports whether the data lives in a temporary file.
func (b *Buffer) Spilled() bool {
	return b.file != nil
}

// Size returns the number of bytes written.
func (b *Buffer) Size() int64 {
	return b.size
}

func (b *Buffer) Write(p []byte) (int, error) {
	if b.reading {
		return 0, errors.New("spooled: write after read")
	}
	if b.file == nil && b.size+int64(len(p)) > b.limit {
		if err := b.spill(); err != nil {
			return 0, err
		}
	}

	var n int
	var err error
	if b.file != nil {
		n, err = b.file.Write(p)
	} else {
		n, err = b.memory.Write(p)
	}
	b.size += int64(n)
	return n, err
}

func (b *Buffer) spill() (err error) {
	b.file, err = afero.TempFile(b.fs, "", "spooled")
	if err != nil {
		return errors.Wrap(err, "could not create spool file")
	}
	if _, err := io.Copy(b.file, b.memory); err != nil {
		return errors.Wrap(err, "could not fill spool file")
	}
	b.memory.Reset()
	return nil
}

// Read returns the written data from the beginning. Writing is not possible
// after the first read.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.file == nil {
		b.reading = true
		return b.memory.Read(p)
	}
	if !b.reading {
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		b.reading = true
	}
	return b.file.Read(p)
}

// Close drops the data and removes the temporary file.
func (b *Buffer) Close() error {
	b.memory.Reset()
	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	err := b.file.Close()
	b.file = nil
	if rerr := b.fs.Remove(name); rerr != nil && !os.IsNotExist(rerr) && err == nil {
		err = rerr
	}
	return err
}
