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

package ntfs

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_NoFilesystem(t *testing.T) {
	tests := []struct {
		name   string
		image  []byte
		offset int64
	}{
		{"zeros", make([]byte, 64*1024), 0},
		{"zeros at offset", make([]byte, 64*1024), 4096},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := Open(bytes.NewReader(tt.image), tt.offset)
			assert.Error(t, err)
			assert.Nil(t, fs)
		})
	}
}

func TestGuard(t *testing.T) {
	f := func() (err error) {
		defer guard(&err)
		panic("index out of range")
	}
	err := f()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index out of range")

	g := func() (err error) {
		defer guard(&err)
		return errors.New("plain")
	}
	assert.EqualError(t, g(), "plain")
}
