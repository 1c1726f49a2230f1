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

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/imageextract/manifest"
	"github.com/forensicanalysis/imageextract/volume/memvolume"
)

var sourceFiles = map[string]string{
	"/Windows/System32/config/SYSTEM": "regf system hive",
	"/Users/alice/NTUSER.DAT":         "regf alice hive",
	"/Windows/Prefetch/FOO.pf":        "MAM prefetch data",
}

// writeImage writes a single partition image and makes the extract command
// recognize its filesystem.
func writeImage(t *testing.T) string {
	fs := memvolume.New()
	for name, data := range sourceFiles {
		fs.AddFile(name, []byte(data))
	}
	disk := memvolume.NewDisk(4096).AddPartition(0x07, 2048, 2048, fs)

	image := filepath.Join(t.TempDir(), "disk.raw")
	require.NoError(t, os.WriteFile(image, disk.Bytes(), 0644))

	previous := openFileSystem
	openFileSystem = disk.Opener()
	t.Cleanup(func() { openFileSystem = previous })
	return image
}

func execute(c *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetArgs(args)
	c.SilenceUsage = true
	c.SilenceErrors = true
	err := c.Execute()
	return out.String(), err
}

func TestExtract_Folder(t *testing.T) {
	image := writeImage(t)
	output := filepath.Join(t.TempDir(), "case")

	report, err := execute(Extract(), image, "--output", output, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, report, "Saved artifacts: 3")
	assert.Contains(t, report, "Files: 3")

	expected := map[string]string{
		"registry/System/SYSTEM":            sourceFiles["/Windows/System32/config/SYSTEM"],
		"registry/PerUser/alice/NTUSER.DAT": sourceFiles["/Users/alice/NTUSER.DAT"],
		"prefetch/FOO.pf":                   sourceFiles["/Windows/Prefetch/FOO.pf"],
	}
	var found []string
	err = filepath.Walk(output, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || strings.HasPrefix(info.Name(), manifest.Name) {
			return err
		}
		rel, err := filepath.Rel(output, p)
		found = append(found, filepath.ToSlash(rel))
		return err
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"registry/System/SYSTEM", "registry/PerUser/alice/NTUSER.DAT", "prefetch/FOO.pf"}, found)

	for name, data := range expected {
		b, err := os.ReadFile(filepath.Join(output, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, data, string(b), name)
	}

	out, err := execute(Validate(), output)
	assert.NoError(t, err)
	assert.Empty(t, out)

	require.NoError(t, os.WriteFile(filepath.Join(output, "prefetch", "FOO.pf"), []byte("changed"), 0644))
	out, err = execute(Validate(), output)
	assert.Error(t, err)
	assert.Contains(t, out, "wrong size for /prefetch/FOO.pf")
	assert.Contains(t, out, "hashvalue mismatch MD5 for /prefetch/FOO.pf")

	_, err = execute(Validate(), "--no-fail", output)
	assert.NoError(t, err)
}

func TestExtract_Rerun(t *testing.T) {
	image := writeImage(t)
	output := filepath.Join(t.TempDir(), "case")

	_, err := execute(Extract(), image, "--output", output, "--quiet")
	require.NoError(t, err)
	_, err = execute(Extract(), image, "--output", output, "--quiet")
	require.NoError(t, err)

	out, err := execute(Validate(), output)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestExtract_Archive(t *testing.T) {
	image := writeImage(t)
	dir := t.TempDir()
	archive := filepath.Join(dir, "case.sqlar")

	_, err := execute(Extract(), image, "--archive", archive, "--quiet")
	require.NoError(t, err)

	out, err := execute(Ls(), archive)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/prefetch/FOO.pf",
		"/registry/PerUser/alice/NTUSER.DAT",
		"/registry/System/SYSTEM",
	}, strings.Fields(out))

	out, err = execute(Validate(), archive)
	assert.NoError(t, err)
	assert.Empty(t, out)

	unpacked := filepath.Join(dir, "unpacked")
	_, err = execute(Unpack(), "--prefix-artifact", "--output", unpacked, archive)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(unpacked, "SYSTEM", "registry", "System", "SYSTEM"))
	require.NoError(t, err)
	assert.Equal(t, sourceFiles["/Windows/System32/config/SYSTEM"], string(b))

	flat := filepath.Join(dir, "flat")
	_, err = execute(Unpack(), "--mode", "basename", "--output", flat, archive)
	require.NoError(t, err)
	b, err = os.ReadFile(filepath.Join(flat, "NTUSER.DAT"))
	require.NoError(t, err)
	assert.Equal(t, sourceFiles["/Users/alice/NTUSER.DAT"], string(b))
}

func TestPack(t *testing.T) {
	image := writeImage(t)
	dir := t.TempDir()
	output := filepath.Join(dir, "case")
	_, err := execute(Extract(), image, "--output", output, "--manifest=false", "--quiet")
	require.NoError(t, err)

	archive := filepath.Join(dir, "case.sqlar")
	_, err = execute(Pack(), archive, filepath.Join(output, "registry"))
	require.NoError(t, err)

	out, err := execute(Ls(), archive)
	require.NoError(t, err)
	assert.Contains(t, out, "/registry/System/SYSTEM")
	assert.NotContains(t, out, "FOO.pf")
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    func(t *testing.T) []string
		wantErr string
	}{
		{"missing image", func(t *testing.T) []string {
			return []string{filepath.Join(t.TempDir(), "nope.raw"), "--quiet"}
		}, "could not open image"},
		{"empty image", func(t *testing.T) []string {
			image := filepath.Join(t.TempDir(), "zero.raw")
			require.NoError(t, os.WriteFile(image, make([]byte, 4096), 0644))
			previous := openFileSystem
			openFileSystem = memvolume.NewDisk(8).Opener()
			t.Cleanup(func() { openFileSystem = previous })
			return []string{image, "--output", filepath.Join(t.TempDir(), "out"), "--quiet"}
		}, "no usable filesystem"},
		{"broken catalog", func(t *testing.T) []string {
			catalogFile := filepath.Join(t.TempDir(), "broken.toml")
			require.NoError(t, os.WriteFile(catalogFile, []byte("[[target]]\nfoo = 1\n"), 0644))
			return []string{"disk.raw", "--catalog", catalogFile, "--quiet"}
		}, "could not decode catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(Extract(), tt.args(t)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCatalog(t *testing.T) {
	catalogFile := filepath.Join(t.TempDir(), "extra.toml")
	extra := `[[target]]
category = "custom"
label = "hosts"
kind = "file"
candidates = ["/Windows/System32/drivers/etc/hosts"]
dest = "custom"
`
	require.NoError(t, os.WriteFile(catalogFile, []byte(extra), 0644))

	out, err := execute(Catalog(), "--catalog", catalogFile)
	require.NoError(t, err)
	assert.Contains(t, out, "$UsnJrnl:$J")
	assert.Contains(t, out, "Chrome")
	assert.Contains(t, out, "hosts")
}
