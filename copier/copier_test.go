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

package copier

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/imageextract/volume/memvolume"
)

func newCopier(fs *memvolume.FS) (*Copier, afero.Fs, *[]string) {
	dest := afero.NewMemMapFs()
	var logs []string
	c := New(fs, dest)
	c.OnLog = func(msg string) { logs = append(logs, msg) }
	return c, dest, &logs
}

func TestCopy_File(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), ChunkSize/8+3)

	tests := []struct {
		name          string
		opts          []memvolume.FileOption
		wantBytes     []byte
		wantTruncated bool
	}{
		{"sized", nil, data, false},
		{"truncated", []memvolume.FileOption{memvolume.Truncated(1000)}, data[:1000], true},
		{"without size", []memvolume.FileOption{memvolume.WithoutSize()}, data, false},
		{"without size truncated", []memvolume.FileOption{memvolume.WithoutSize(), memvolume.Truncated(5000)}, data[:5000], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memvolume.New().AddFile("/Windows/System32/config/SYSTEM", data, tt.opts...)
			c, dest, _ := newCopier(fs)

			result := c.CopyResult("/windows/system32/config/system", "/registry/System/SYSTEM")
			require.True(t, result.OK)
			assert.Equal(t, 1, result.Files)
			assert.Equal(t, int64(len(tt.wantBytes)), result.Bytes)

			got, err := afero.ReadFile(dest, "/registry/System/SYSTEM")
			require.NoError(t, err)
			assert.Equal(t, tt.wantBytes, got)

			require.Len(t, result.Outcomes, 1)
			outcome := result.Outcomes[0]
			assert.Equal(t, "/Windows/System32/config/SYSTEM", outcome.Source)
			assert.Equal(t, tt.wantTruncated, outcome.Truncated)
			assert.Equal(t, fmt.Sprintf("%x", sha256.Sum256(tt.wantBytes)), outcome.Hashes["SHA-256"])
		})
	}
}

func TestCopy_Empty(t *testing.T) {
	c, dest, _ := newCopier(memvolume.New().AddFile("/empty.log", nil))

	assert.True(t, c.Copy("/empty.log", "/out/empty.log"))
	info, err := dest.Stat("/out/empty.log")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestCopy_Missing(t *testing.T) {
	c, dest, logs := newCopier(memvolume.New().AddDir("/Windows"))

	assert.False(t, c.Copy("/Windows/Prefetch", "/prefetch"))
	exists, err := afero.DirExists(dest, "/prefetch")
	require.NoError(t, err)
	assert.False(t, exists)
	require.Len(t, *logs, 1)
	assert.Contains(t, (*logs)[0], "MISSING /Windows/Prefetch")
}

func TestCopy_Unreadable(t *testing.T) {
	c, _, _ := newCopier(memvolume.New().AddFile("/pagefile.sys", []byte("x"), memvolume.Unreadable()))

	result := c.CopyResult("/pagefile.sys", "/pagefile.sys")
	assert.False(t, result.OK)
	assert.Equal(t, 1, result.Failed)
	assert.NotEmpty(t, result.Outcomes[0].Err)
}

func TestCopy_Directory(t *testing.T) {
	fs := memvolume.New().
		AddFile("/Windows/Prefetch/A.pf", []byte("a")).
		AddFile("/Windows/Prefetch/B.pf", []byte("b"), memvolume.Unreadable()).
		AddFile("/Windows/Prefetch/C.pf", []byte("c")).
		AddFile("/Windows/Prefetch/sub/D.pf", []byte("d")).
		AddFile("/Windows/Prefetch/sub/E.pf", []byte("e"), memvolume.Unreadable()).
		AddFile("/Windows/Prefetch/bad:name", []byte("f")).
		BreakDir("/Windows/Prefetch/broken")
	c, dest, _ := newCopier(fs)

	var seen []string
	c.OnFile = func(o Outcome) { seen = append(seen, o.Source) }

	result := c.CopyResult("/Windows/Prefetch", "/prefetch")
	require.True(t, result.OK)
	assert.Equal(t, 4, result.Files)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, seen, 6)

	want := map[string]string{
		"/prefetch/A.pf":     "a",
		"/prefetch/C.pf":     "c",
		"/prefetch/sub/D.pf": "d",
		"/prefetch/bad_name": "f",
	}
	for name, data := range want {
		got, err := afero.ReadFile(dest, name)
		require.NoError(t, err, name)
		assert.Equal(t, data, string(got))
	}
	for _, name := range []string{"/prefetch/B.pf", "/prefetch/sub/E.pf"} {
		exists, err := afero.Exists(dest, name)
		require.NoError(t, err)
		assert.False(t, exists, name)
	}
	exists, err := afero.DirExists(dest, "/prefetch/broken")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCopy_EmptyDirectory(t *testing.T) {
	c, dest, _ := newCopier(memvolume.New().AddDir("/Windows/System32/winevt/Logs"))

	result := c.CopyResult("/Windows/System32/winevt/Logs", "/eventlogs")
	assert.True(t, result.OK)
	assert.Equal(t, 0, result.Files)
	exists, err := afero.DirExists(dest, "/eventlogs")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"NTUSER.DAT", "NTUSER.DAT"},
		{"$UsnJrnl:$J", "$UsnJrnl_$J"},
		{`a\b/c`, "a_b_c"},
		{"a\x00b", "a_b"},
		{".", ""},
		{"..", ""},
		{"...", "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeName(tt.name))
		})
	}
}
