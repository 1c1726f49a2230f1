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

package volume

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoUsableVolume is returned if no region of the image holds a filesystem
// that can be opened.
var ErrNoUsableVolume = errors.New("no usable filesystem found in the image")

// OffsetZero is the description of a filesystem found at the start of an
// image without a partition table.
const OffsetZero = "offset 0"

var windowsMarkers = []string{"Windows", "Users", "Documents and Settings"}

// Descriptor identifies the filesystem chosen for an extraction run.
type Descriptor struct {
	Offset      int64
	Description string
	FileSystem  FileSystem
}

// Select picks the filesystem to extract from.
//
// A filesystem directly at offset 0 wins. Otherwise the first partition
// whose root has a Windows, Users or Documents and Settings directory is
// returned, and failing that the first partition that could be opened at all.
// Partitions whose filesystem cannot be opened or whose root cannot be listed
// are skipped.
func Select(r io.ReaderAt, size int64, open Opener) (*Descriptor, error) {
	if fs, err := open(r, 0); err == nil {
		return &Descriptor{Offset: 0, Description: OffsetZero, FileSystem: fs}, nil
	}

	partitions, err := Partitions(r, size)
	if err != nil {
		return nil, errors.Wrap(ErrNoUsableVolume, err.Error())
	}

	var fallback *Descriptor
	for _, partition := range partitions {
		if partition.SectorCount == 0 || partition.StartSector == 0 {
			continue
		}
		fs, err := open(r, partition.Offset())
		if err != nil {
			continue
		}
		candidate := &Descriptor{
			Offset:      partition.Offset(),
			Description: partition.Description,
			FileSystem:  fs,
		}
		windows, err := hasWindowsLayout(fs)
		if err != nil {
			continue
		}
		if windows {
			return candidate, nil
		}
		if fallback == nil {
			fallback = candidate
		}
	}

	if fallback == nil {
		return nil, ErrNoUsableVolume
	}
	return fallback, nil
}

func hasWindowsLayout(fs FileSystem) (bool, error) {
	entries, err := fs.ReadDir("/")
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		for _, marker := range windowsMarkers {
			if strings.EqualFold(entry.Name, marker) {
				return true, nil
			}
		}
	}
	return false, nil
}
