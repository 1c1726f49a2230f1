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

package manifest

import (
	"crypto/md5"  // #nosec
	"crypto/sha1" // #nosec
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

// ignored are files that belong to the manifest itself.
var ignored = map[string]bool{
	"/" + Name:              true,
	"/" + Name + "-wal":     true,
	"/" + Name + "-shm":     true,
	"/" + Name + "-journal": true,
}

// Validate checks every element against the files on Fs: existence, size
// and hashes. Files on Fs without an element and elements without a file
// are reported as well.
func (m *Manifest) Validate() (flaws []string, err error) {
	flaws = []string{}
	expectedFiles := map[string]bool{}

	elements, err := m.All()
	if err != nil {
		return nil, err
	}
	for _, element := range elements {
		elementFlaws, expected, err := m.validateElement(element)
		if err != nil {
			return nil, err
		}
		flaws = append(flaws, elementFlaws...)
		if expected != "" {
			expectedFiles[expected] = true
		}
	}

	foundFiles := map[string]bool{}
	var additionalFiles []string
	err = afero.Walk(m.Fs, "/", func(path string, info os.FileInfo, err error) error {
		path = "/" + strings.TrimLeft(filepath.ToSlash(path), "/")
		if info == nil || info.IsDir() || ignored[path] {
			return nil
		}

		foundFiles[path] = true
		if _, ok := expectedFiles[path]; !ok {
			additionalFiles = append(additionalFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(additionalFiles) > 0 {
		sort.Strings(additionalFiles)
		flaws = append(flaws, fmt.Sprintf("additional files: ('%s')", strings.Join(additionalFiles, "', '")))
	}

	var missingFiles []string
	for expectedFile := range expectedFiles {
		if _, ok := foundFiles[expectedFile]; !ok {
			missingFiles = append(missingFiles, expectedFile)
		}
	}

	if len(missingFiles) > 0 {
		sort.Strings(missingFiles)
		flaws = append(flaws, fmt.Sprintf("missing files: ('%s')", strings.Join(missingFiles, "', '")))
	}
	return flaws, nil
}

func (m *Manifest) validateElement(element JSONElement) (flaws []string, expected string, err error) {
	flaws, err = validateSchema(element)
	if err != nil {
		return nil, "", err
	}

	exportPath := gjson.GetBytes(element, "export_path")
	if !exportPath.Exists() {
		return flaws, "", nil
	}
	if strings.Contains(exportPath.String(), "..") {
		return append(flaws, fmt.Sprintf("'..' in %s", exportPath.String())), "", nil
	}

	name := "/" + strings.TrimLeft(exportPath.String(), "/")
	exists, err := afero.Exists(m.Fs, name)
	if err != nil {
		return nil, "", err
	}
	if !exists {
		return flaws, name, nil
	}

	if size := gjson.GetBytes(element, "size"); size.Exists() {
		info, err := m.Fs.Stat(name)
		if err != nil {
			return nil, "", err
		}
		if size.Int() != info.Size() {
			flaws = append(flaws, fmt.Sprintf("wrong size for %s (is %d, expected %d)", name, info.Size(), size.Int()))
		}
	}

	var hashErr error
	gjson.GetBytes(element, "hashes").ForEach(func(algorithm, value gjson.Result) bool {
		var h hash.Hash
		switch algorithm.String() {
		case "MD5":
			h = md5.New() // #nosec
		case "SHA1", "SHA-1":
			h = sha1.New() // #nosec
		case "SHA-256":
			h = sha256.New()
		default:
			flaws = append(flaws, fmt.Sprintf("unsupported hash %s for %s", algorithm.String(), name))
			return true
		}

		f, err := m.Fs.Open(name)
		if err != nil {
			hashErr = err
			return false
		}
		_, err = io.Copy(h, f)
		f.Close() // nolint:errcheck
		if err != nil {
			hashErr = err
			return false
		}

		if fmt.Sprintf("%x", h.Sum(nil)) != value.String() {
			flaws = append(flaws, fmt.Sprintf("hashvalue mismatch %s for %s", algorithm.String(), name))
		}
		return true
	})
	if hashErr != nil {
		return nil, "", hashErr
	}

	return flaws, name, nil
}
