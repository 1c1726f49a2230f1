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

package evidence

import (
	"encoding/binary"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

func init() {
	Register(".e01", OpenEWF)
	Register(".ewf", OpenEWF)
}

const (
	ewfSignature      = "EVF\x09\x0d\x0a\xff\x00"
	ewfFileHeaderSize = 13
	ewfDescriptorSize = 76
	ewfVolumeSize     = 24
	ewfTableHeader    = 24

	ewfCompressed = 0x80000000
)

// ErrInvalidEWF is returned for segments that are not EWF-E01 files.
var ErrInvalidEWF = errors.New("invalid EWF segment")

type ewfChunk struct {
	segment    int
	offset     int64
	compressed bool
}

// EWF reads Expert Witness (EnCase E01) images. Chunks are decompressed on
// demand, the last one is cached.
type EWF struct {
	segments  []afero.File
	chunks    []ewfChunk
	chunkSize int64
	size      int64

	mu     sync.Mutex
	cached int
	cache  []byte
}

// OpenEWF opens the ordered segments of an E01 image.
func OpenEWF(fs afero.Fs, segments []string) (Image, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	e := &EWF{cached: -1}
	for i, name := range segments {
		f, err := fs.Open(name)
		if err != nil {
			e.Close()
			return nil, errors.Wrapf(err, "could not open segment %s", name)
		}
		e.segments = append(e.segments, f)
		if err := e.parseSegment(i); err != nil {
			e.Close()
			return nil, errors.Wrap(err, name)
		}
	}

	switch {
	case e.chunkSize == 0:
		e.Close()
		return nil, errors.Wrap(ErrInvalidEWF, "no volume section")
	case int64(len(e.chunks))*e.chunkSize < e.size:
		e.Close()
		return nil, errors.Wrapf(ErrInvalidEWF, "%d chunks do not cover %d bytes", len(e.chunks), e.size)
	}
	return e, nil
}

func (e *EWF) parseSegment(index int) error {
	f := e.segments[index]

	header := make([]byte, ewfFileHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return errors.Wrap(ErrInvalidEWF, "short file header")
	}
	if string(header[:8]) != ewfSignature {
		return errors.Wrap(ErrInvalidEWF, "wrong signature")
	}
	if number := int(binary.LittleEndian.Uint16(header[9:11])); number != index+1 {
		return errors.Wrapf(ErrInvalidEWF, "segment number %d, expected %d", number, index+1)
	}

	offset := int64(ewfFileHeaderSize)
	for {
		descriptor := make([]byte, ewfDescriptorSize)
		if _, err := f.ReadAt(descriptor, offset); err != nil {
			return errors.Wrapf(ErrInvalidEWF, "short section descriptor at %d", offset)
		}
		kind := strings.TrimRight(string(descriptor[:16]), "\x00")
		next := int64(binary.LittleEndian.Uint64(descriptor[16:24]))
		data := offset + ewfDescriptorSize

		switch kind {
		case "volume", "disk":
			if err := e.parseVolume(f, data); err != nil {
				return err
			}
		case "table":
			if err := e.parseTable(f, index, data); err != nil {
				return err
			}
		case "next", "done":
			return nil
		}

		if next <= offset {
			return errors.Wrapf(ErrInvalidEWF, "section %s at %d points backwards", kind, offset)
		}
		offset = next
	}
}

func (e *EWF) parseVolume(f afero.File, offset int64) error {
	volume := make([]byte, ewfVolumeSize)
	if _, err := f.ReadAt(volume, offset); err != nil {
		return errors.Wrap(ErrInvalidEWF, "short volume section")
	}
	sectorsPerChunk := int64(binary.LittleEndian.Uint32(volume[8:12]))
	bytesPerSector := int64(binary.LittleEndian.Uint32(volume[12:16]))
	sectors := int64(binary.LittleEndian.Uint64(volume[16:24]))
	if sectorsPerChunk == 0 || bytesPerSector == 0 {
		return errors.Wrap(ErrInvalidEWF, "empty chunk geometry")
	}
	e.chunkSize = sectorsPerChunk * bytesPerSector
	e.size = sectors * bytesPerSector
	return nil
}

// parseTable appends the chunk offsets of a table section. Offsets are
// relative to the base offset, the high bit marks compressed chunks.
func (e *EWF) parseTable(f afero.File, index int, offset int64) error {
	header := make([]byte, ewfTableHeader)
	if _, err := f.ReadAt(header, offset); err != nil {
		return errors.Wrap(ErrInvalidEWF, "short table header")
	}
	count := int64(binary.LittleEndian.Uint32(header[0:4]))
	base := int64(binary.LittleEndian.Uint64(header[8:16]))

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if count*4 > info.Size() {
		return errors.Wrapf(ErrInvalidEWF, "table with %d entries", count)
	}

	entries := make([]byte, count*4)
	if _, err := f.ReadAt(entries, offset+ewfTableHeader); err != nil {
		return errors.Wrap(ErrInvalidEWF, "short table")
	}
	for i := int64(0); i < count; i++ {
		entry := binary.LittleEndian.Uint32(entries[i*4:])
		e.chunks = append(e.chunks, ewfChunk{
			segment:    index,
			offset:     base + int64(entry&^ewfCompressed),
			compressed: entry&ewfCompressed != 0,
		})
	}
	return nil
}

// Size returns the media size from the volume section.
func (e *EWF) Size() int64 {
	return e.size
}

func (e *EWF) chunk(index int) ([]byte, error) {
	if index == e.cached {
		return e.cache, nil
	}

	c := e.chunks[index]
	f := e.segments[c.segment]
	data := make([]byte, e.chunkSize)
	if c.compressed {
		r, err := zlib.NewReader(io.NewSectionReader(f, c.offset, 1<<62))
		if err != nil {
			return nil, errors.Wrapf(err, "chunk %d", index)
		}
		n, err := io.ReadFull(r, data)
		r.Close()
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(err, "chunk %d", index)
		}
		data = data[:n]
	} else {
		n, err := f.ReadAt(data, c.offset)
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "chunk %d", index)
		}
		data = data[:n]
	}

	e.cached, e.cache = index, data
	return data, nil
}

// ReadAt reads the decompressed media data.
func (e *EWF) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= e.size {
		return 0, io.EOF
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	read := 0
	for read < len(p) && off+int64(read) < e.size {
		pos := off + int64(read)
		data, err := e.chunk(int(pos / e.chunkSize))
		if err != nil {
			return read, err
		}
		start := pos % e.chunkSize
		if start >= int64(len(data)) {
			return read, errors.Wrapf(io.ErrUnexpectedEOF, "chunk %d", pos/e.chunkSize)
		}
		end := int64(len(data))
		if limit := e.size - pos + start; end > limit {
			end = limit
		}
		read += copy(p[read:], data[start:end])
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

// Close closes all segment files.
func (e *EWF) Close() error {
	var first error
	for _, f := range e.segments {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	e.segments = nil
	e.cache = nil
	return first
}
