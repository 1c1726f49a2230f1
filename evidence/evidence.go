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

// Package evidence opens disk images that may be split into several segment
// files and presents them as a single byte range.
package evidence

import (
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var (
	// ErrNoSegments is returned if no segment file matches the image path.
	ErrNoSegments = errors.New("no image segments found")
	// ErrUnsupportedFormat is returned for container formats without a
	// registered reader.
	ErrUnsupportedFormat = errors.New("unsupported evidence container format")
)

// Image is an opened evidence container. Reads at or beyond Size return
// io.EOF and no data.
type Image interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// Opener opens an image from its ordered segments.
type Opener func(fs afero.Fs, segments []string) (Image, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

// containers are formats that need a dedicated reader.
var containers = map[string]bool{".e01": true, ".ewf": true, ".ex01": true}

// Register installs the reader for a file extension such as ".e01".
func Register(ext string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[strings.ToLower(ext)] = opener
}

func lookup(ext string) (Opener, bool) {
	openersMu.RLock()
	defer openersMu.RUnlock()
	opener, ok := openers[strings.ToLower(ext)]
	return opener, ok
}

var (
	numericSegment = regexp.MustCompile(`^\.\d{3,}$`)
	ewfSegment     = regexp.MustCompile(`(?i)^\.(e\d{2}|e[a-z][a-z])$`)
	ex01Segment    = regexp.MustCompile(`(?i)^\.ex\d{2}$`)
)

// Glob returns the ordered segments of the image that name belongs to. Split
// raw images are numbered .001, .002, ... and EWF images .E01 ... .E99,
// .EAA ... For any other name the image is a single file.
func Glob(fs afero.Fs, name string) ([]string, error) {
	if _, err := fs.Stat(name); err != nil {
		return nil, errors.Wrapf(ErrNoSegments, "%s: %s", name, err)
	}

	ext := path.Ext(name)
	var pattern *regexp.Regexp
	switch {
	case strings.EqualFold(ext, ".ewf"):
		return []string{name}, nil
	case numericSegment.MatchString(ext):
		pattern = numericSegment
	case ewfSegment.MatchString(ext):
		pattern = ewfSegment
	case ex01Segment.MatchString(ext):
		pattern = ex01Segment
	default:
		return []string{name}, nil
	}

	dir, base := path.Split(name)
	stem := strings.TrimSuffix(base, ext)
	if dir == "" {
		dir = "."
	}
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list %s", dir)
	}

	var segments []string
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		segmentExt := path.Ext(info.Name())
		if strings.TrimSuffix(info.Name(), segmentExt) != stem || !pattern.MatchString(segmentExt) {
			continue
		}
		segments = append(segments, path.Join(dir, info.Name()))
	}
	sort.Slice(segments, func(i, j int) bool {
		return segmentLess(path.Ext(segments[i]), path.Ext(segments[j]))
	})
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	return segments, nil
}

// segmentLess orders numeric extensions by value (.999 before .1000) and EWF
// extensions E01 ... E99 before EAA ... EZZ.
func segmentLess(a, b string) bool {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if alphaA, alphaB := isAlphaSegment(a), isAlphaSegment(b); alphaA != alphaB {
		return alphaB
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isAlphaSegment(ext string) bool {
	return len(ext) == 4 && ext[1] == 'E' && ext[2] >= 'A' && ext[2] <= 'Z'
}

// Open discovers the segments of name and opens them with the reader
// registered for the extension. Images without a container format are read
// as raw concatenated segments.
func Open(fs afero.Fs, name string) (Image, error) {
	segments, err := Glob(fs, name)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(path.Ext(name))
	if opener, ok := lookup(ext); ok {
		return opener(fs, segments)
	}
	if containers[ext] {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s", ext)
	}
	return OpenRaw(fs, segments)
}

type segment struct {
	file   afero.File
	offset int64
	size   int64
}

// Raw is a raw disk image made of concatenated segment files.
type Raw struct {
	segments []segment
	size     int64
}

// OpenRaw opens the segments as one continuous image.
func OpenRaw(fs afero.Fs, segments []string) (*Raw, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	raw := &Raw{}
	for _, name := range segments {
		f, err := fs.Open(name)
		if err != nil {
			raw.Close()
			return nil, errors.Wrapf(err, "could not open segment %s", name)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			raw.Close()
			return nil, errors.Wrapf(err, "could not stat segment %s", name)
		}
		raw.segments = append(raw.segments, segment{file: f, offset: raw.size, size: info.Size()})
		raw.size += info.Size()
	}
	return raw, nil
}

// Size returns the total size of all segments.
func (r *Raw) Size() int64 {
	return r.size
}

// ReadAt reads across segment boundaries.
func (r *Raw) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= r.size {
		return 0, io.EOF
	}

	read := 0
	for _, s := range r.segments {
		if read == len(p) {
			break
		}
		pos := off + int64(read)
		if pos >= s.offset+s.size || pos < s.offset {
			continue
		}
		want := len(p) - read
		if remaining := s.offset + s.size - pos; int64(want) > remaining {
			want = int(remaining)
		}
		n, err := s.file.ReadAt(p[read:read+want], pos-s.offset)
		read += n
		if err != nil && err != io.EOF {
			return read, errors.Wrap(err, "segment read failed")
		}
		if n < want {
			return read, io.EOF
		}
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

// Close closes all segment files.
func (r *Raw) Close() error {
	var first error
	for _, s := range r.segments {
		if err := s.file.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.segments = nil
	return first
}
