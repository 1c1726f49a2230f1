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
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ewfSection(kind string, next, size int64) []byte {
	d := make([]byte, ewfDescriptorSize)
	copy(d, kind)
	binary.LittleEndian.PutUint64(d[16:], uint64(next))
	binary.LittleEndian.PutUint64(d[24:], uint64(size))
	return d
}

// writeEWF stores media as an E01 image with perSegment chunks per segment.
// Even chunks are zlib compressed, odd ones are stored with a checksum
// trailer.
func writeEWF(t *testing.T, fs afero.Fs, stem string, media []byte, chunkSize, perSegment int) []string {
	var chunks [][]byte
	for off := 0; off < len(media); off += chunkSize {
		end := off + chunkSize
		if end > len(media) {
			end = len(media)
		}
		chunks = append(chunks, media[off:end])
	}

	var names []string
	for segment := 0; segment*perSegment < len(chunks); segment++ {
		first := segment * perSegment
		last := first + perSegment
		if last > len(chunks) {
			last = len(chunks)
		}

		var out bytes.Buffer
		out.WriteString(ewfSignature)
		out.WriteByte(1)
		require.NoError(t, binary.Write(&out, binary.LittleEndian, uint16(segment+1)))
		out.Write([]byte{0, 0})

		if segment == 0 {
			volume := make([]byte, 94)
			binary.LittleEndian.PutUint32(volume[4:], uint32(len(chunks)))
			binary.LittleEndian.PutUint32(volume[8:], uint32(chunkSize/512))
			binary.LittleEndian.PutUint32(volume[12:], 512)
			binary.LittleEndian.PutUint64(volume[16:], uint64(len(media)/512))
			start := int64(out.Len())
			size := int64(ewfDescriptorSize + len(volume))
			out.Write(ewfSection("volume", start+size, size))
			out.Write(volume)
		}

		var sectors bytes.Buffer
		var offsets []uint32
		for i, chunk := range chunks[first:last] {
			offset := uint32(ewfDescriptorSize + sectors.Len())
			if (first+i)%2 == 0 {
				w := zlib.NewWriter(&sectors)
				_, err := w.Write(chunk)
				require.NoError(t, err)
				require.NoError(t, w.Close())
				offset |= ewfCompressed
			} else {
				sectors.Write(chunk)
				sectors.Write([]byte{0, 0, 0, 0})
			}
			offsets = append(offsets, offset)
		}
		sectorsStart := int64(out.Len())
		size := int64(ewfDescriptorSize + sectors.Len())
		out.Write(ewfSection("sectors", sectorsStart+size, size))
		out.Write(sectors.Bytes())

		table := make([]byte, ewfTableHeader, ewfTableHeader+4*len(offsets)+4)
		binary.LittleEndian.PutUint32(table[0:], uint32(len(offsets)))
		binary.LittleEndian.PutUint64(table[8:], uint64(sectorsStart))
		for _, offset := range offsets {
			table = binary.LittleEndian.AppendUint32(table, offset)
		}
		table = append(table, 0, 0, 0, 0)
		for _, kind := range []string{"table", "table2"} {
			start := int64(out.Len())
			size := int64(ewfDescriptorSize + len(table))
			out.Write(ewfSection(kind, start+size, size))
			out.Write(table)
		}

		end := "next"
		if last == len(chunks) {
			end = "done"
		}
		start := int64(out.Len())
		out.Write(ewfSection(end, start, ewfDescriptorSize))

		name := stem + ".E" + string(rune('0'+(segment+1)/10)) + string(rune('0'+(segment+1)%10))
		require.NoError(t, afero.WriteFile(fs, name, out.Bytes(), 0644))
		names = append(names, name)
	}
	return names
}

func media(sectors int) []byte {
	data := make([]byte, sectors*512)
	for i := range data {
		data[i] = byte(i * 7 % 251)
	}
	return data
}

func TestOpenEWF(t *testing.T) {
	fs := afero.NewMemMapFs()
	want := media(10)
	segments := writeEWF(t, fs, "/img/disk", want, 1024, 2)
	require.Len(t, segments, 3)

	found, err := Glob(fs, "/img/disk.E01")
	require.NoError(t, err)
	assert.Equal(t, segments, found)

	image, err := Open(fs, "/img/disk.E01")
	require.NoError(t, err)
	defer image.Close()
	assert.Equal(t, int64(len(want)), image.Size())

	tests := []struct {
		name    string
		offset  int64
		length  int
		wantN   int
		wantErr error
	}{
		{"first chunk", 0, 100, 100, nil},
		{"uncompressed chunk", 1100, 200, 200, nil},
		{"across chunks", 1000, 100, 100, nil},
		{"across segments", 2000, 2500, 2500, nil},
		{"whole image", 0, len(want), len(want), nil},
		{"short at end", int64(len(want)) - 10, 20, 10, io.EOF},
		{"beyond end", int64(len(want)), 20, 0, io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := make([]byte, tt.length)
			n, err := image.ReadAt(p, tt.offset)
			assert.Equal(t, tt.wantErr, err)
			require.Equal(t, tt.wantN, n)
			assert.True(t, bytes.Equal(want[tt.offset:tt.offset+int64(n)], p[:n]))
		})
	}
}

func TestOpenEWF_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		create func(t *testing.T, fs afero.Fs) []string
	}{
		{"wrong signature", func(t *testing.T, fs afero.Fs) []string {
			_ = afero.WriteFile(fs, "/img/disk.E01", bytes.Repeat([]byte("EVF"), 100), 0644)
			return []string{"/img/disk.E01"}
		}},
		{"missing segment", func(t *testing.T, fs afero.Fs) []string {
			segments := writeEWF(t, fs, "/img/disk", media(10), 1024, 2)
			return []string{segments[0], segments[2]}
		}},
		{"missing table", func(t *testing.T, fs afero.Fs) []string {
			segments := writeEWF(t, fs, "/img/disk", media(10), 1024, 2)
			return segments[:2]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			_, err := OpenEWF(fs, tt.create(t, fs))
			assert.ErrorIs(t, err, ErrInvalidEWF)
		})
	}
}
