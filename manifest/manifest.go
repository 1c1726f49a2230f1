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

// Package manifest records the files an extraction run saved.
//
// The manifest is an SQLite database (item.db) next to the extracted files.
// It holds one STIX 2.1 style file element per saved file, with its size,
// hashes and the path it was read from. Validate compares the manifest with
// the files that are actually present.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"github.com/fatih/structs"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Name is the file name of the manifest inside an output folder.
const Name = "item.db"

const manifestVersion = 1
const applicationID = 1768777592

var (
	// ErrManifestExists is returned by Create if the file already exists.
	ErrManifestExists = errors.New("manifest already exists")
	// ErrManifestNotExists is returned by Open if there is no manifest.
	ErrManifestNotExists = errors.New("manifest does not exist")
	// ErrElementNotExists is returned by Get for unknown ids.
	ErrElementNotExists = errors.New("element does not exist")
)

// Manifest stores file elements in an SQLite database. The files themselves
// are looked up on Fs.
type Manifest struct {
	Fs     afero.Fs
	cursor *sqlite.Conn
	owned  bool
}

// Create creates a new manifest at url.
func Create(url string, fs afero.Fs) (*Manifest, error) {
	if exists(url) {
		return nil, errors.Wrap(ErrManifestExists, url)
	}
	return open(url, fs)
}

// Open opens an existing manifest.
func Open(url string, fs afero.Fs) (*Manifest, error) {
	if !exists(url) {
		return nil, errors.Wrap(ErrManifestNotExists, url)
	}
	return open(url, fs)
}

// New opens the manifest at url or creates it.
func New(url string, fs afero.Fs) (*Manifest, error) {
	return open(url, fs)
}

func exists(url string) bool {
	_, err := os.Stat(url)
	return err == nil
}

func open(url string, fs afero.Fs) (*Manifest, error) {
	if url != ":memory:" {
		if err := os.MkdirAll(path.Dir(url), 0750); err != nil {
			return nil, err
		}
	}

	cursor, err := sqlite.OpenConn(url, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", url)
	}
	m, err := NewCursor(cursor, fs)
	if err != nil {
		cursor.Close()
		return nil, err
	}
	m.owned = true
	return m, nil
}

// NewCursor uses an open connection, e.g. the one of an sqlar archive the
// files are written to.
func NewCursor(cursor *sqlite.Conn, fs afero.Fs) (*Manifest, error) {
	m := &Manifest{Fs: fs, cursor: cursor}

	created, err := m.hasTable()
	if err != nil {
		return nil, err
	}

	if !created {
		if err := setPragma(cursor, "application_id", applicationID); err != nil {
			return nil, err
		}
		if err := setPragma(cursor, "user_version", manifestVersion); err != nil {
			return nil, err
		}
		err = m.exec("CREATE TABLE IF NOT EXISTS `elements` (" +
			"id TEXT PRIMARY KEY, export_path TEXT UNIQUE, json TEXT NOT NULL, insert_time TEXT)")
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	id, err := pragma(cursor, "application_id")
	if err != nil {
		return nil, err
	}
	if id != applicationID {
		return nil, fmt.Errorf("wrong file format (application_id is %d, requires %d)", id, applicationID)
	}
	version, err := pragma(cursor, "user_version")
	if err != nil {
		return nil, err
	}
	if version != manifestVersion {
		return nil, fmt.Errorf("wrong file format (user_version is %d, requires %d)", version, manifestVersion)
	}
	return m, nil
}

func (m *Manifest) hasTable() (bool, error) {
	stmt, err := m.cursor.Prepare("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'elements'")
	if err != nil {
		return false, err
	}
	hasRow, err := stmt.Step()
	if err != nil {
		stmt.Finalize()
		return false, err
	}
	return hasRow, stmt.Finalize()
}

func pragma(conn *sqlite.Conn, name string) (int64, error) {
	stmt, err := conn.Prepare("PRAGMA " + name)
	if err != nil {
		return 0, err
	}
	_, err = stmt.Step()
	if err != nil {
		return 0, err
	}
	i := stmt.GetInt64(name)
	return i, stmt.Finalize()
}

func setPragma(conn *sqlite.Conn, name string, i int64) error {
	stmt, err := conn.Prepare("PRAGMA " + name + " = " + fmt.Sprint(i))
	if err != nil {
		return err
	}
	_, err = stmt.Step()
	if err != nil {
		return err
	}
	return stmt.Finalize()
}

// InsertFile adds or replaces the element for the file's export path and
// returns its id. Saving the same output path twice keeps one element.
func (m *Manifest) InsertFile(file *File) (string, error) {
	if file.ID == "" {
		file.ID = NewFile().ID
	}
	if file.Type == "" {
		file.Type = "file"
	}
	if strings.Contains(file.ExportPath, "..") {
		return "", errors.Errorf("'..' in %s", file.ExportPath)
	}

	element := lower(structs.Map(file)).(map[string]interface{})
	b, err := json.Marshal(element)
	if err != nil {
		return "", err
	}

	stmt := m.cursor.Prep("INSERT OR REPLACE INTO `elements` (id, export_path, json, insert_time) VALUES ($id, $path, $json, $time)")
	stmt.SetText("$id", file.ID)
	if file.ExportPath == "" {
		stmt.SetNull("$path")
	} else {
		stmt.SetText("$path", file.ExportPath)
	}
	stmt.SetText("$json", string(b))
	stmt.SetText("$time", time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	if _, err := stmt.Step(); err != nil {
		_ = stmt.Reset()
		return "", errors.Wrap(err, "could not insert element")
	}
	return file.ID, stmt.Reset()
}

// Get retrieves a single element.
func (m *Manifest) Get(id string) (JSONElement, error) {
	stmt := m.cursor.Prep("SELECT json FROM `elements` WHERE id = $id")
	stmt.SetText("$id", id)
	elements, err := rowsToElements(stmt)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, errors.Wrap(ErrElementNotExists, id)
	}
	return elements[0], nil
}

// ByExportPath returns the element that describes the file at exportPath.
func (m *Manifest) ByExportPath(exportPath string) (JSONElement, error) {
	stmt := m.cursor.Prep("SELECT json FROM `elements` WHERE export_path = $path")
	stmt.SetText("$path", strings.TrimLeft(exportPath, "/"))
	elements, err := rowsToElements(stmt)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, errors.Wrap(ErrElementNotExists, exportPath)
	}
	return elements[0], nil
}

// All returns every element ordered by export path.
func (m *Manifest) All() ([]JSONElement, error) {
	stmt := m.cursor.Prep("SELECT json FROM `elements` ORDER BY export_path")
	return rowsToElements(stmt)
}

// Close closes the database if it was opened by this package.
func (m *Manifest) Close() error {
	if !m.owned {
		return nil
	}
	return m.cursor.Close()
}

func rowsToElements(stmt *sqlite.Stmt) (elements []JSONElement, err error) {
	elements = []JSONElement{}
	for {
		if hasRow, err := stmt.Step(); err != nil {
			_ = stmt.Reset()
			return nil, err
		} else if !hasRow {
			break
		}
		elements = append(elements, JSONElement(stmt.GetText("json")))
	}
	return elements, stmt.Reset()
}

func (m *Manifest) exec(query string) error {
	stmt, err := m.cursor.Prepare(query)
	if err != nil {
		return err
	}

	_, err = stmt.Step()
	if err != nil {
		return err
	}

	return stmt.Finalize()
}
