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

// Package volume describes the filesystems found inside an evidence image and
// selects the one that artifacts are extracted from.
//
// A FileSystem hands out Entry values that are either a File or a Directory.
// The decision is taken once from the filesystem metadata, callers switch on
// the concrete kind instead of trying to open a path twice.
package volume

import (
	"io"
)

// UnknownSize marks a DirEntry whose metadata carries no size.
const UnknownSize int64 = -1

// DirEntry is a single child of a directory listing. Listings may contain the
// synthetic "." and ".." entries, see IsSynthetic.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// FileSystem is a read only view of a filesystem inside an image. Paths are
// absolute and "/" delimited, the root is "/".
type FileSystem interface {
	ReadDir(path string) ([]DirEntry, error)
	Open(path string) (Entry, error)
}

// Entry is returned by FileSystem.Open. It is either a File or a Directory.
type Entry interface {
	Name() string
}

// File is a regular file (or a data stream) inside a FileSystem.
type File interface {
	Entry
	io.ReaderAt
	// Size returns the size recorded in the filesystem metadata. ok is false
	// if the metadata has no usable size.
	Size() (size int64, ok bool)
}

// Directory is a directory inside a FileSystem.
type Directory interface {
	Entry
	Entries() ([]DirEntry, error)
}

// Opener opens the filesystem that starts at byte offset inside r. It fails if
// the region does not hold a recognized filesystem.
type Opener func(r io.ReaderAt, offset int64) (FileSystem, error)

// IsSynthetic reports whether name is one of the "." and ".." entries.
func IsSynthetic(name string) bool {
	return name == "." || name == ".."
}
