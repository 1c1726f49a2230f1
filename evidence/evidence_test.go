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
	"fmt"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentFs(t *testing.T, files map[string]string) afero.Fs {
	fs := afero.NewMemMapFs()
	for name, data := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(data), 0644))
	}
	return fs
}

func TestGlob(t *testing.T) {
	fs := segmentFs(t, map[string]string{
		"/img/disk.raw":   "",
		"/img/disk.001":   "",
		"/img/disk.003":   "",
		"/img/disk.002":   "",
		"/img/disk.E01":   "",
		"/img/disk.EAA":   "",
		"/img/disk.E10":   "",
		"/img/disk.E02":   "",
		"/img/other.002":  "",
		"/img/disk.E01.1": "",
	})

	tests := []struct {
		name    string
		image   string
		want    []string
		wantErr error
	}{
		{"single file", "/img/disk.raw", []string{"/img/disk.raw"}, nil},
		{"split raw", "/img/disk.002", []string{"/img/disk.001", "/img/disk.002", "/img/disk.003"}, nil},
		{"ewf", "/img/disk.E01", []string{"/img/disk.E01", "/img/disk.E02", "/img/disk.E10", "/img/disk.EAA"}, nil},
		{"missing", "/img/nope.raw", nil, ErrNoSegments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Glob(fs, tt.image)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGlob_ManySegments(t *testing.T) {
	fs := afero.NewMemMapFs()
	for i := 1; i <= 1000; i++ {
		require.NoError(t, afero.WriteFile(fs, fmt.Sprintf("/e/disk.%03d", i), nil, 0644))
	}

	segments, err := Glob(fs, "/e/disk.001")
	require.NoError(t, err)
	require.Len(t, segments, 1000)
	assert.Equal(t, "/e/disk.001", segments[0])
	assert.Equal(t, "/e/disk.999", segments[998])
	assert.Equal(t, "/e/disk.1000", segments[999])
}

func TestRaw_ReadAt(t *testing.T) {
	fs := segmentFs(t, map[string]string{
		"/img/disk.001": "aaaa",
		"/img/disk.002": "bbbb",
		"/img/disk.003": "cc",
	})
	image, err := Open(fs, "/img/disk.001")
	require.NoError(t, err)
	defer image.Close()

	assert.Equal(t, int64(10), image.Size())

	tests := []struct {
		name    string
		length  int
		offset  int64
		want    string
		wantErr error
	}{
		{"first segment", 3, 0, "aaa", nil},
		{"across segments", 6, 2, "aabbbb", nil},
		{"whole image", 10, 0, "aaaabbbbcc", nil},
		{"short at end", 5, 8, "cc", io.EOF},
		{"at end", 4, 10, "", io.EOF},
		{"beyond end", 4, 100, "", io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := make([]byte, tt.length)
			n, err := image.ReadAt(p, tt.offset)
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.want, string(p[:n]))
		})
	}
}

type fakeImage struct {
	segments []string
}

func (f *fakeImage) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }
func (f *fakeImage) Size() int64 { return 0 }
func (f *fakeImage) Close() error { return nil }

func TestOpen_Containers(t *testing.T) {
	fs := segmentFs(t, map[string]string{
		"/img/disk.E01":  "EVF",
		"/img/disk.Ex01": "EVF2",
		"/img/disk.AFF4": "",
	})

	_, err := Open(fs, "/img/disk.E01")
	assert.ErrorIs(t, err, ErrInvalidEWF)
	_, err = Open(fs, "/img/disk.Ex01")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	Register(".aff4", func(fs afero.Fs, segments []string) (Image, error) {
		return &fakeImage{segments: segments}, nil
	})
	image, err := Open(fs, "/img/disk.AFF4")
	require.NoError(t, err)
	assert.Equal(t, []string{"/img/disk.AFF4"}, image.(*fakeImage).segments)

	_, err = OpenRaw(fs, nil)
	assert.ErrorIs(t, err, ErrNoSegments)
}
