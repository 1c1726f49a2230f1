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
	"log"
	"path"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/stoewer/go-strcase"

	"github.com/forensicanalysis/imageextract/copier"
)

// JSONElement is a single entry in the database.
type JSONElement []byte

// File implements a STIX 2.1 File Object
type File struct {
	ID         string                 `json:"id"`
	Artifact   string                 `json:"artifact,omitempty"`
	Type       string                 `json:"type"`
	Hashes     map[string]interface{} `json:"hashes,omitempty"`
	Size       float64                `json:"size,omitempty"`
	Name       string                 `json:"name"`
	Origin     map[string]interface{} `json:"origin,omitempty"`
	ExportPath string                 `json:"export_path,omitempty"`
	Errors     []interface{}          `json:"errors,omitempty"`
}

// NewFile creates a new STIX 2.1 File Object.
func NewFile() *File {
	return &File{ID: "file--" + uuid.New().String(), Type: "file"}
}

// AddError adds an error string to a File and returns this File.
func (i *File) AddError(err string) *File {
	log.Print(err)
	i.Errors = append(i.Errors, err)
	return i
}

// FromOutcome describes a copied file. volume is the description of the
// filesystem the file was read from.
func FromOutcome(artifact, volume string, outcome copier.Outcome) *File {
	file := NewFile()
	file.Artifact = artifact
	file.Name = path.Base(outcome.Destination)
	file.Size = float64(outcome.Bytes)
	file.ExportPath = strings.TrimLeft(outcome.Destination, "/")
	file.Origin = map[string]interface{}{"path": outcome.Source, "volume": volume}
	if len(outcome.Hashes) > 0 {
		file.Hashes = map[string]interface{}{}
		for algorithm, value := range outcome.Hashes {
			file.Hashes[algorithm] = value
		}
	}
	if outcome.Truncated {
		file.Errors = append(file.Errors, "short read: file is truncated")
	}
	if outcome.Err != "" {
		file.Errors = append(file.Errors, outcome.Err)
	}
	return file
}

var hashes = map[string]bool{
	"MD5":        true,
	"MD6":        true,
	"RIPEMD-160": true,
	"SHA-1":      true,
	"SHA-224":    true,
	"SHA-256":    true,
	"SHA-384":    true,
	"SHA-512":    true,
	"SHA3-224":   true,
	"SHA3-256":   true,
	"SHA3-384":   true,
	"SHA3-512":   true,
	"SSDEEP":     true,
	"WHIRLPOOL":  true,
}

// lower converts the keys produced by structs.Map to snake case and drops
// empty values. Hash algorithm names are kept as they are.
func lower(f interface{}) interface{} {
	switch f := f.(type) {
	case []interface{}:
		for i := range f {
			if !isEmptyValue(reflect.ValueOf(f[i])) {
				f[i] = lower(f[i])
			}
		}
		return f
	case map[string]interface{}:
		lf := make(map[string]interface{}, len(f))
		for k, v := range f {
			if !isEmptyValue(reflect.ValueOf(v)) {
				if _, ok := hashes[k]; ok {
					lf[k] = lower(v)
				} else {
					lf[strcase.SnakeCase(k)] = lower(v)
				}
			}
		}
		return lf
	default:
		return f
	}
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	case reflect.Invalid:
		return true
	}
	return false
}

// Record inserts an element for every saved file of a copy.
func (m *Manifest) Record(artifact, volume string, outcomes []copier.Outcome) error {
	for _, outcome := range outcomes {
		if !outcome.Saved {
			continue
		}
		if _, err := m.InsertFile(FromOutcome(artifact, volume, outcome)); err != nil {
			return err
		}
	}
	return nil
}
