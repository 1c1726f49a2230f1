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

// Package memvolume provides an in-memory volume.FileSystem and synthetic disk
// images built from it. Files can be marked as damaged to mimic what real
// evidence looks like: unreadable, truncated or without size metadata.
package memvolume

import (
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/imageextract/volume"
)

type node struct {
	name     string
	dir      bool
	broken   bool
	children []*node

	data       []byte
	limit      int64
	noSize     bool
	unreadable bool
}

// FS is an in-memory filesystem. Names are case sensitive and children keep
// their insertion order, so lookups are deterministic.
type FS struct {
	root *node
}

// FileOption changes how a file behaves when it is read.
type FileOption func(*node)

// WithoutSize removes the size from the file metadata.
func WithoutSize() FileOption {
	return func(n *node) { n.noSize = true }
}

// Truncated makes the file yield only the first k bytes while its metadata
// still reports the full size.
func Truncated(k int64) FileOption {
	return func(n *node) { n.limit = k }
}

// Unreadable makes opening the file fail.
func Unreadable() FileOption {
	return func(n *node) { n.unreadable = true }
}

// New creates an empty filesystem.
func New() *FS {
	return &FS{root: &node{name: "/", dir: true}}
}

func split(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// AddDir creates the directory p and all missing parents.
func (fs *FS) AddDir(p string) *FS {
	fs.mkdirAll(split(p))
	return fs
}

func (fs *FS) mkdirAll(parts []string) *node {
	current := fs.root
	for _, part := range parts {
		next := current.child(part)
		if next == nil {
			next = &node{name: part, dir: true}
			current.children = append(current.children, next)
		}
		current = next
	}
	return current
}

// AddFile creates or replaces the file p. Parents are created as needed.
func (fs *FS) AddFile(p string, data []byte, opts ...FileOption) *FS {
	parts := split(p)
	if len(parts) == 0 {
		return fs
	}
	parent := fs.mkdirAll(parts[:len(parts)-1])
	f := parent.child(parts[len(parts)-1])
	if f == nil {
		f = &node{name: parts[len(parts)-1]}
		parent.children = append(parent.children, f)
	}
	f.data = data
	f.limit = -1
	for _, opt := range opts {
		opt(f)
	}
	return fs
}

// BreakDir creates the directory p and makes listing it fail.
func (fs *FS) BreakDir(p string) *FS {
	fs.mkdirAll(split(p)).broken = true
	return fs
}

func (fs *FS) lookup(p string) (*node, error) {
	current := fs.root
	for _, part := range split(p) {
		if !current.dir {
			return nil, errors.Wrapf(os.ErrInvalid, "%s is not a directory", current.name)
		}
		next := current.child(part)
		if next == nil {
			return nil, errors.Wrap(os.ErrNotExist, p)
		}
		current = next
	}
	return current, nil
}

// ReadDir lists p including the "." and ".." entries.
func (fs *FS) ReadDir(p string) ([]volume.DirEntry, error) {
	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if !n.dir {
		return nil, errors.Wrapf(os.ErrInvalid, "%s is not a directory", p)
	}
	if n.broken {
		return nil, errors.Errorf("corrupt index in %s", p)
	}
	return n.entries(), nil
}

func (n *node) entries() []volume.DirEntry {
	entries := []volume.DirEntry{{Name: ".", IsDir: true, Size: volume.UnknownSize}, {Name: "..", IsDir: true, Size: volume.UnknownSize}}
	for _, c := range n.children {
		size := volume.UnknownSize
		if !c.dir && !c.noSize {
			size = int64(len(c.data))
		}
		entries = append(entries, volume.DirEntry{Name: c.name, IsDir: c.dir, Size: size})
	}
	return entries
}

// Open returns a volume.Directory or a volume.File for p.
func (fs *FS) Open(p string) (volume.Entry, error) {
	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.dir {
		return &directory{node: n}, nil
	}
	if n.unreadable {
		return nil, errors.Wrapf(os.ErrPermission, "cannot open %s", p)
	}
	return &file{node: n}, nil
}

type directory struct {
	node *node
}

func (d *directory) Name() string { return d.node.name }

func (d *directory) Entries() ([]volume.DirEntry, error) {
	if d.node.broken {
		return nil, errors.Errorf("corrupt index in %s", d.node.name)
	}
	return d.node.entries(), nil
}

type file struct {
	node *node
}

func (f *file) Name() string { return f.node.name }

func (f *file) Size() (int64, bool) {
	if f.node.noSize {
		return 0, false
	}
	return int64(len(f.node.data)), true
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	end := int64(len(f.node.data))
	if f.node.limit >= 0 && f.node.limit < end {
		end = f.node.limit
	}
	if off >= end {
		return 0, io.EOF
	}
	n := copy(p, f.node.data[off:end])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Walk calls fn for every file in the filesystem with its absolute path.
func (fs *FS) Walk(fn func(p string, data []byte)) {
	var walk func(prefix string, n *node)
	walk = func(prefix string, n *node) {
		for _, c := range n.children {
			p := path.Join(prefix, c.name)
			if c.dir {
				walk(p, c)
				continue
			}
			fn(p, c.data)
		}
	}
	walk("/", fs.root)
}
