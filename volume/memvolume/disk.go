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

package memvolume

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/imageextract/volume"
)

// Magic marks the first bytes of a synthetic filesystem inside a Disk image.
var Magic = []byte("MEMVOLFS")

const sectorSize = 512

// ErrNotMemVolume is returned by the Disk opener for regions without Magic.
var ErrNotMemVolume = errors.New("not a memvolume filesystem")

type diskPartition struct {
	kind  byte
	start uint32
	count uint32
	fs    *FS
}

// Disk builds a synthetic MBR partitioned image whose partitions hold FS
// values. Bytes returns the raw image and Opener recognizes the filesystems
// inside it again.
type Disk struct {
	partitions    []diskPartition
	unpartitioned *FS
	sectors       uint32
	volumes       map[int64]*FS
}

// NewDisk creates an image of the given number of 512 byte sectors.
func NewDisk(sectors uint32) *Disk {
	return &Disk{sectors: sectors, volumes: map[int64]*FS{}}
}

// AddPartition adds a primary partition. fs may be nil for a partition that
// holds no recognizable filesystem.
func (d *Disk) AddPartition(kind byte, start, count uint32, fs *FS) *Disk {
	d.partitions = append(d.partitions, diskPartition{kind: kind, start: start, count: count, fs: fs})
	return d
}

// Unpartitioned places fs directly at offset 0, no partition table is written.
func (d *Disk) Unpartitioned(fs *FS) *Disk {
	d.unpartitioned = fs
	return d
}

// Bytes renders the image.
func (d *Disk) Bytes() []byte {
	image := make([]byte, int64(d.sectors)*sectorSize)
	d.volumes = map[int64]*FS{}

	if d.unpartitioned != nil {
		copy(image, Magic)
		d.volumes[0] = d.unpartitioned
		return image
	}

	for i, p := range d.partitions {
		if i >= 4 {
			break
		}
		entry := image[446+i*16 : 446+(i+1)*16]
		entry[4] = p.kind
		binary.LittleEndian.PutUint32(entry[8:12], p.start)
		binary.LittleEndian.PutUint32(entry[12:16], p.count)

		offset := int64(p.start) * sectorSize
		if p.fs != nil && offset+int64(len(Magic)) <= int64(len(image)) {
			copy(image[offset:], Magic)
			d.volumes[offset] = p.fs
		}
	}
	image[510], image[511] = 0x55, 0xaa
	return image
}

// Opener returns a volume.Opener that finds the filesystems written by Bytes.
func (d *Disk) Opener() volume.Opener {
	return func(r io.ReaderAt, offset int64) (volume.FileSystem, error) {
		header := make([]byte, len(Magic))
		n, _ := r.ReadAt(header, offset)
		if n != len(header) || !bytes.Equal(header, Magic) {
			return nil, ErrNotMemVolume
		}
		fs, ok := d.volumes[offset]
		if !ok {
			return nil, ErrNotMemVolume
		}
		return fs, nil
	}
}
