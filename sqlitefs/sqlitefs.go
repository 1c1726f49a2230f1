// Package sqlitefs implements an afero.Fs on top of an SQLite archive. Files
// are stored in the sqlar table, so archives can also be read with
// "sqlite3 -A".
package sqlitefs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"github.com/spf13/afero"
)

// FS is an afero.Fs writing into the sqlar table of an SQLite database.
type FS struct {
	cursor *sqlite.Conn
	owned  bool
}

var _ afero.Fs = &FS{}

const table = `CREATE TABLE IF NOT EXISTS sqlar(
  name TEXT PRIMARY KEY,  -- name of the file
  mode INT,               -- access permissions
  mtime INT,              -- last modification time
  sz INT,                 -- original file size
  data BLOB               -- compressed content
);`

// New opens or creates the archive at url.
func New(url string) (*FS, error) {
	cursor, err := sqlite.OpenConn(url, 0)
	if err != nil {
		return nil, err
	}

	fs, err := NewCursor(cursor)
	if err != nil {
		cursor.Close()
		return nil, err
	}
	fs.owned = true
	return fs, nil
}

// NewCursor uses an open connection, e.g. one shared with a manifest. Close
// does not close a connection passed in here.
func NewCursor(cursor *sqlite.Conn) (*FS, error) {
	fs := &FS{cursor: cursor}
	stmt, err := fs.cursor.Prepare(table)
	if err != nil {
		return nil, err
	}
	if _, err := stmt.Step(); err != nil {
		_ = stmt.Finalize()
		return nil, err
	}
	return fs, stmt.Finalize()
}

func (fs *FS) Chmod(name string, mode os.FileMode) error {
	name = normalizeFilename(name)
	stmt := fs.cursor.Prep("UPDATE sqlar SET mode = $mode WHERE name = $name")
	stmt.SetText("$name", name)
	stmt.SetInt64("$mode", int64(mode))
	return exec(stmt)
}

// Chown is a no-op, sqlar has no owner columns.
func (fs *FS) Chown(name string, uid, gid int) error {
	return nil
}

func (fs *FS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	name = normalizeFilename(name)
	stmt := fs.cursor.Prep("UPDATE sqlar SET mtime = $mtime WHERE name = $name")
	stmt.SetText("$name", name)
	stmt.SetInt64("$mtime", mtime.Unix())
	return exec(stmt)
}

func (fs *FS) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *FS) Mkdir(name string, perm os.FileMode) error {
	name = normalizeFilename(name)
	if info, err := fs.Stat(name); err == nil {
		if info.IsDir() {
			return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
		}
		return &os.PathError{Op: "mkdir", Path: name, Err: ErrNotDirectory}
	}
	return fs.insertDir(name, perm, "INSERT")
}

func (fs *FS) insertDir(name string, perm os.FileMode, verb string) error {
	stmt := fs.cursor.Prep(verb + ` INTO sqlar (name, mode, mtime, sz, data) VALUES ($name, $mode, $mtime, $sz, $data)`)

	stmt.SetText("$name", name)
	stmt.SetInt64("$mode", int64(os.ModeDir|perm))
	stmt.SetInt64("$mtime", time.Now().Unix())
	stmt.SetInt64("$sz", 0)
	stmt.SetNull("$data")

	return exec(stmt)
}

func (fs *FS) MkdirAll(p string, perm os.FileMode) error {
	p = normalizeFilename(p)
	all := "/"
	if err := fs.insertDir(all, perm, "INSERT OR IGNORE"); err != nil {
		return err
	}
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		all = path.Join(all, part)
		info, err := fs.Stat(all)
		if err == nil {
			if !info.IsDir() {
				return &os.PathError{Op: "mkdir", Path: all, Err: ErrNotDirectory}
			}
			continue
		}
		if err := fs.insertDir(all, perm, "INSERT OR IGNORE"); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) Name() string {
	return "SQLiteFS"
}

func (fs *FS) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	name = normalizeFilename(name)

	if flag&os.O_CREATE != 0 {
		id, err := fs.createFile(name, perm)
		if err != nil {
			return nil, err
		}
		return newWriteItem(fs, id, name)
	}
	if flag&(os.O_RDWR|os.O_WRONLY) != 0 {
		return nil, ErrNotImplemented
	}

	stmt := fs.cursor.Prep(`SELECT rowid, mode, mtime, sz, length(data) stored, data IS NULL dataNull FROM sqlar WHERE name = $name`)
	stmt.SetText("$name", name)

	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	} else if !hasRow {
		_ = stmt.Reset()
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}

	id := stmt.GetInt64("rowid")
	stored := stmt.GetInt64("stored")
	info := rowInfo(stmt, name)

	err = stmt.Reset()
	if err != nil {
		return nil, err
	}

	var children []os.FileInfo
	if info.dir {
		children, err = fs.selectChildren(name)
		if err != nil {
			return nil, err
		}
	}

	return newReadItem(fs, id, name, info, stored, children)
}

func rowInfo(stmt *sqlite.Stmt, name string) *Info {
	size := stmt.GetInt64("sz")
	mode := os.FileMode(stmt.GetInt64("mode"))
	return &Info{
		name:  path.Base(name),
		sz:    size,
		mode:  mode,
		mtime: time.Unix(stmt.GetInt64("mtime"), 0),
		dir:   mode.IsDir() || (size == 0 && stmt.GetInt64("dataNull") == 1),
	}
}

func (fs *FS) selectChildren(name string) ([]os.FileInfo, error) {
	stmt := fs.cursor.Prep(`SELECT name, mode, mtime, sz, data IS NULL dataNull FROM sqlar WHERE substr(name, 1, length($prefix)) = $prefix ORDER BY name`)
	stmt.SetText("$prefix", strings.TrimRight(name, "/")+"/")

	var children []os.FileInfo
	for {
		hasChildRow, err := stmt.Step()
		if err != nil {
			_ = stmt.Reset()
			return nil, err
		} else if !hasChildRow {
			break
		}
		childName := stmt.GetText("name")
		if childName == name || strings.Contains(strings.Trim(childName[len(name):], "/"), "/") {
			continue
		}
		children = append(children, rowInfo(stmt, childName))
	}

	return children, stmt.Reset()
}

func (fs *FS) createFile(name string, perm os.FileMode) (int64, error) {
	stmt := fs.cursor.Prep(`INSERT OR REPLACE INTO sqlar (name, mode, mtime, sz, data) VALUES ($name, $mode, $mtime, $sz, zeroblob(0))`)

	stmt.SetText("$name", name)
	stmt.SetInt64("$mode", int64(perm))
	stmt.SetInt64("$mtime", time.Now().Unix())
	stmt.SetInt64("$sz", 0)

	err := exec(stmt)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return fs.cursor.LastInsertRowID(), nil
}

func (fs *FS) Remove(name string) error {
	name = normalizeFilename(name)
	stmt := fs.cursor.Prep(`DELETE FROM sqlar WHERE name = $name`)
	stmt.SetText("$name", name)
	return exec(stmt)
}

func (fs *FS) RemoveAll(path string) error {
	path = normalizeFilename(path)
	stmt := fs.cursor.Prep(`DELETE FROM sqlar WHERE name = $name OR substr(name, 1, length($prefix)) = $prefix`)
	stmt.SetText("$name", path)
	stmt.SetText("$prefix", strings.TrimRight(path, "/")+"/")
	return exec(stmt)
}

func (fs *FS) Rename(oldname, newname string) error {
	oldname = normalizeFilename(oldname)
	newname = normalizeFilename(newname)

	stmt := fs.cursor.Prep("UPDATE sqlar SET name = $newname WHERE name = $oldname")
	stmt.SetText("$oldname", oldname)
	stmt.SetText("$newname", newname)
	return exec(stmt)
}

func (fs *FS) Stat(name string) (os.FileInfo, error) {
	name = normalizeFilename(name)

	stmt := fs.cursor.Prep("SELECT name, mode, mtime, sz, data IS NULL dataNull FROM sqlar WHERE name = $name")
	stmt.SetText("$name", name)

	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	} else if !hasRow {
		_ = stmt.Reset()
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}

	info := rowInfo(stmt, name)
	return info, stmt.Reset()
}

// Close closes the connection if it was opened by New.
func (fs *FS) Close() error {
	if !fs.owned {
		return nil
	}
	return fs.cursor.Close()
}

// Info describes an sqlar entry.
type Info struct {
	sz    int64
	mtime time.Time
	mode  os.FileMode
	dir   bool
	name  string
}

func (i *Info) Name() string { // base name of the file
	return i.name
}
func (i *Info) Size() int64 { // length in bytes for regular files; system-dependent for others
	return i.sz
}
func (i *Info) Mode() os.FileMode { // file mode bits
	if i.dir {
		return i.mode | os.ModeDir
	}
	return i.mode
}
func (i *Info) ModTime() time.Time { // modification time
	return i.mtime
}
func (i *Info) IsDir() bool { // abbreviation for Mode().IsDir()
	return i.dir
}
func (i *Info) Sys() interface{} { // underlying data source (can return nil)
	return nil
}

func exec(stmt *sqlite.Stmt) error {
	_, err := stmt.Step()
	if err != nil {
		_ = stmt.Reset()
		return err
	}
	return stmt.Reset()
}

func normalizeFilename(name string) string {
	if name == "." || name == "" || name == "/" {
		return "/"
	}
	name = filepath.ToSlash(name)
	name = "/" + strings.Trim(name, "/")
	return name
}
