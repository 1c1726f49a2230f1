package sqlitefs

import (
	"errors"
	"io"
	"os"
	"path"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"

	"github.com/forensicanalysis/imageextract/sqlitefs/spooled"
)

var (
	// ErrNotImplemented is returned for random access and in place updates.
	ErrNotImplemented = errors.New("not implemented")
	// ErrNotDirectory is returned if a path component is a file.
	ErrNotDirectory = errors.New("not a directory")
)

// spoolSize is the amount of data a writer keeps in memory per buffer.
const spoolSize = 16 * 1024 * 1024

type item struct {
	fs   *FS
	path string

	// reader item
	reader io.Reader
	info   os.FileInfo
	data   io.ReadCloser

	children []os.FileInfo
	offset   int

	// writer item
	id         int64
	raw        *spooled.Buffer
	compressed *spooled.Buffer
	zlib       *zlib.Writer
	size       int64
	closed     bool
}

func newWriteItem(fs *FS, id int64, path string) (*item, error) {
	i := &item{fs: fs, id: id, path: path}
	i.raw = spooled.New(afero.NewOsFs(), spoolSize)
	i.compressed = spooled.New(afero.NewOsFs(), spoolSize)
	i.zlib = zlib.NewWriter(i.compressed)
	return i, nil
}

// newReadItem opens the blob of a file. As in sqlar, a blob as long as the
// original size is stored uncompressed, anything else is zlib data.
func newReadItem(fs *FS, id int64, path string, info os.FileInfo, stored int64, children []os.FileInfo) (*item, error) {
	i := &item{fs: fs, path: path, info: info, children: children}

	if !info.IsDir() {
		var err error
		i.data, err = i.fs.cursor.OpenBlob("", "sqlar", "data", id, false)
		if err != nil {
			return nil, err
		}

		if stored == info.Size() {
			i.reader = i.data
		} else {
			i.reader, err = zlib.NewReader(i.data)
			if err != nil {
				i.data.Close()
				return nil, err
			}
		}
	}

	return i, nil
}

func (i *item) Name() string {
	return path.Base(i.path)
}

func (i *item) Read(p []byte) (n int, err error) {
	if i.reader == nil {
		return 0, ErrNotImplemented
	}
	return i.reader.Read(p)
}

func (i *item) ReadAt(p []byte, off int64) (n int, err error) {
	return 0, ErrNotImplemented
}

func (i *item) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrNotImplemented
}

func (i *item) Readdir(count int) ([]os.FileInfo, error) {
	if count <= 0 {
		rest := i.children[i.offset:]
		i.offset = len(i.children)
		return rest, nil
	}
	if i.offset >= len(i.children) {
		return nil, io.EOF
	}
	end := i.offset + count
	if end > len(i.children) {
		end = len(i.children)
	}
	rest := i.children[i.offset:end]
	i.offset = end
	return rest, nil
}

func (i *item) Readdirnames(n int) ([]string, error) {
	infos, err := i.Readdir(n)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, err
}

func (i *item) Stat() (os.FileInfo, error) {
	if i.info == nil {
		return i.fs.Stat(i.path)
	}
	return i.info, nil
}

func (i *item) Write(p []byte) (n int, err error) {
	if i.raw == nil {
		return 0, ErrNotImplemented
	}
	if n, err = i.raw.Write(p); err != nil {
		return n, err
	}
	if _, err = i.zlib.Write(p); err != nil {
		return 0, err
	}
	i.size += int64(n)
	return n, nil
}

func (i *item) WriteAt(p []byte, off int64) (n int, err error) {
	return 0, ErrNotImplemented
}

func (i *item) WriteString(s string) (ret int, err error) {
	return i.Write([]byte(s))
}

func (i *item) Close() error {
	if i.data != nil {
		if closer, ok := i.reader.(io.Closer); ok && i.reader != io.Reader(i.data) {
			if err := closer.Close(); err != nil {
				return err
			}
		}
		return i.data.Close()
	}
	if i.raw == nil || i.closed {
		return nil
	}
	i.closed = true
	defer i.raw.Close()
	defer i.compressed.Close()

	if err := i.zlib.Close(); err != nil {
		return err
	}

	source := i.raw
	compressedSize := i.compressed.Size()
	storedSize := i.size
	if compressedSize < i.size {
		source, storedSize = i.compressed, compressedSize
	}

	stmt := i.fs.cursor.Prep(`UPDATE sqlar SET sz = $sz, data = $data WHERE rowid = $id`)
	stmt.SetInt64("$id", i.id)
	stmt.SetZeroBlob("$data", storedSize)
	stmt.SetInt64("$sz", i.size)
	if err := exec(stmt); err != nil {
		return err
	}

	if storedSize == 0 {
		return nil
	}

	blob, err := i.fs.cursor.OpenBlob("", "sqlar", "data", i.id, true)
	if err != nil {
		return err
	}

	if _, err = io.Copy(blob, source); err != nil {
		blob.Close()
		return err
	}
	return blob.Close()
}

func (i *item) Truncate(size int64) error {
	return ErrNotImplemented
}

// Sync is a no-op, data is written to the archive on Close.
func (i *item) Sync() error {
	return nil
}
