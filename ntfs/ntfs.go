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

// Package ntfs exposes an NTFS volume inside an image as a volume.FileSystem.
//
// Parsing is done by go-ntfs. The parser panics on some kinds of damaged
// metadata; every call into it is guarded and the panic returned as an error.
package ntfs

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"www.velocidex.com/golang/go-ntfs/parser"

	"github.com/forensicanalysis/imageextract/resolve"
	"github.com/forensicanalysis/imageextract/volume"
)

const (
	rootMFT   = 5
	pageSize  = 0x1000
	cacheSize = 10000
)

// FS is an opened NTFS volume.
type FS struct {
	ctx *parser.NTFSContext

	mu    sync.Mutex
	cache map[string]int64
}

// Open parses the NTFS boot sector at offset. It matches volume.Opener.
func Open(r io.ReaderAt, offset int64) (fs volume.FileSystem, err error) {
	defer guard(&err)

	reader, err := parser.NewPagedReader(r, pageSize, cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create reader")
	}
	ctx, err := parser.GetNTFSContext(reader, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "no NTFS filesystem at offset %d", offset)
	}
	if _, err := ctx.GetMFT(rootMFT); err != nil {
		return nil, errors.Wrap(err, "could not read root directory")
	}
	return &FS{ctx: ctx, cache: map[string]int64{"/": rootMFT}}, nil
}

func guard(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("ntfs parser: %v", r)
	}
}

// lookup walks path from the root and returns the MFT id it names.
func (fs *FS) lookup(path string) (int64, error) {
	key := strings.ToLower(path)
	if key == "" {
		key = "/"
	}
	fs.mu.Lock()
	id, ok := fs.cache[key]
	fs.mu.Unlock()
	if ok {
		return id, nil
	}

	id = rootMFT
	current := "/"
	for _, component := range resolve.Split(path) {
		dir, err := fs.ctx.GetMFT(id)
		if err != nil {
			return 0, errors.Wrapf(err, "could not read %s", current)
		}

		found := false
		for _, record := range dir.Dir(fs.ctx) {
			file := record.File()
			if file.NameType().Name == "DOS" {
				continue
			}
			if strings.EqualFold(file.Name(), component) {
				id = int64(record.MftReference())
				found = true
				break
			}
		}
		if !found {
			return 0, errors.Errorf("%s not found in %s", component, current)
		}
		current = resolve.Join(current, component)
	}

	fs.mu.Lock()
	fs.cache[key] = id
	fs.mu.Unlock()
	return id, nil
}

// ReadDir lists path. Every MFT entry is listed once, short DOS names are not
// listed.
func (fs *FS) ReadDir(path string) (entries []volume.DirEntry, err error) {
	defer guard(&err)

	id, err := fs.lookup(path)
	if err != nil {
		return nil, err
	}
	dir, err := fs.ctx.GetMFT(id)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}

	seen := map[string]bool{}
	for _, info := range parser.ListDir(fs.ctx, dir) {
		if info == nil || seen[info.Name] {
			continue
		}
		seen[info.Name] = true
		size := volume.UnknownSize
		if !info.IsDir {
			size = info.Size
		}
		entries = append(entries, volume.DirEntry{Name: info.Name, IsDir: info.IsDir, Size: size})
	}
	return entries, nil
}

// Open returns a directory or a file. A path ending in ":stream" opens the
// named data stream.
func (fs *FS) Open(path string) (entry volume.Entry, err error) {
	defer guard(&err)

	name, stream := path, ""
	if i := strings.LastIndex(path, ":"); i > strings.LastIndex(path, "/") {
		name, stream = path[:i], path[i+1:]
	}

	id, err := fs.lookup(name)
	if err != nil {
		return nil, err
	}
	mft, err := fs.ctx.GetMFT(id)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", name)
	}

	isDir := id == rootMFT
	size := volume.UnknownSize
	for _, info := range parser.Stat(fs.ctx, mft) {
		if info == nil {
			continue
		}
		isDir = isDir || info.IsDir
		size = info.Size
		break
	}

	if isDir && stream == "" {
		return &directory{fs: fs, path: path}, nil
	}

	data, err := parser.GetDataForPath(fs.ctx, strings.ReplaceAll(path, "/", "\\"))
	if err != nil {
		return nil, errors.Wrapf(err, "could not open data of %s", path)
	}
	if stream != "" {
		size = volume.UnknownSize
	}
	return &file{name: resolve.Base(path), reader: data, size: size}, nil
}

type directory struct {
	fs   *FS
	path string
}

func (d *directory) Name() string { return resolve.Base(d.path) }

func (d *directory) Entries() ([]volume.DirEntry, error) {
	return d.fs.ReadDir(d.path)
}

type file struct {
	name   string
	reader io.ReaderAt
	size   int64
}

func (f *file) Name() string { return f.name }

func (f *file) Size() (int64, bool) {
	return f.size, f.size >= 0
}

func (f *file) ReadAt(p []byte, off int64) (n int, err error) {
	defer guard(&err)
	if f.size >= 0 && off >= f.size {
		return 0, io.EOF
	}
	n, err = f.reader.ReadAt(p, off)
	if f.size >= 0 && off+int64(n) > f.size {
		n = int(f.size - off)
		err = io.EOF
	}
	return n, err
}
