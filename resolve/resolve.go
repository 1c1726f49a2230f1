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

// Package resolve maps case-insensitive logical paths to the exact spelling
// used on a volume.
//
// Windows filesystems are case insensitive but the names stored on disk are
// not normalized, so "/WINDOWS/system32" and "/Windows/System32" name the same
// directory. Resolve walks the path one component at a time and replaces every
// component with the name found on disk. If a directory holds more than one
// case-insensitive match the first listed entry wins.
package resolve

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/imageextract/volume"
)

// PathNotFoundError names the first component of a logical path that has no
// match in its parent directory.
type PathNotFoundError struct {
	Component string
	Parent    string
	Err       error
}

func (e *PathNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s not found in %s: %s", e.Component, e.Parent, e.Err)
	}
	return fmt.Sprintf("%s not found in %s", e.Component, e.Parent)
}

func (e *PathNotFoundError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is caused by a PathNotFoundError.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*PathNotFoundError)
	return ok
}

// Split breaks a logical path into its non-empty components.
func Split(logical string) []string {
	var components []string
	for _, component := range strings.Split(logical, "/") {
		if component != "" {
			components = append(components, component)
		}
	}
	return components
}

// Join appends name to the resolved directory parent.
func Join(parent, name string) string {
	if parent == "" || parent == "/" {
		return "/" + name
	}
	return strings.TrimRight(parent, "/") + "/" + name
}

// Match returns the first entry whose name equals name case-insensitively.
// The "." and ".." entries never match.
func Match(entries []volume.DirEntry, name string) (volume.DirEntry, bool) {
	for _, entry := range entries {
		if volume.IsSynthetic(entry.Name) {
			continue
		}
		if strings.EqualFold(entry.Name, name) {
			return entry, true
		}
	}
	return volume.DirEntry{}, false
}

// Resolve returns logical with every component replaced by its on-disk
// spelling. The root resolves to "/" without touching the filesystem. A
// trailing ":stream" on the last component names an alternate data stream and
// is kept verbatim.
func Resolve(fs volume.FileSystem, logical string) (string, error) {
	components := Split(logical)
	if len(components) == 0 {
		return "/", nil
	}

	stream := ""
	last := components[len(components)-1]
	if i := strings.Index(last, ":"); i > 0 {
		components[len(components)-1], stream = last[:i], last[i:]
	}

	current := "/"
	for _, component := range components {
		entries, err := fs.ReadDir(current)
		if err != nil {
			return "", &PathNotFoundError{Component: component, Parent: current, Err: err}
		}
		entry, ok := Match(entries, component)
		if !ok {
			return "", &PathNotFoundError{Component: component, Parent: current}
		}
		current = Join(current, entry.Name)
	}
	return current + stream, nil
}

// Base returns the last component of a resolved path.
func Base(resolved string) string {
	components := Split(resolved)
	if len(components) == 0 {
		return "/"
	}
	return components[len(components)-1]
}
