// Copyright (c) 2019 Siemens AG
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
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"crawshaw.io/sqlite"
	"github.com/forensicanalysis/fsdoublestar"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/forensicanalysis/imageextract/manifest"
	"github.com/forensicanalysis/imageextract/sqlitefs"
)

// Pack is the imageextract pack commandline subcommand
func Pack() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <archive> <file>...",
		Short: "Add files or an output folder to the sqlite archive",
		Args:  cobra.MinimumNArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			srcFS := afero.NewOsFs()
			destFS, err := sqlitefs.New(args[0])
			if err != nil {
				return err
			}
			defer destFS.Close()

			for _, arg := range args[1:] {
				fmt.Fprintln(cmd.OutOrStdout(), "pack", filepath.ToSlash(arg))
				err = copyItem(srcFS, destFS, arg, filepath.ToSlash(arg))
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// copyItem copies a file or a directory tree between filesystems.
func copyItem(srcFS, destFS afero.Fs, src, dest string) error {
	return afero.Walk(srcFS, src, func(srcPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, srcPath)
		if err != nil {
			return err
		}
		target := path.Join(dest, filepath.ToSlash(rel))
		if info.IsDir() {
			return destFS.MkdirAll(target, 0755)
		}
		return copyFile(srcFS, destFS, srcPath, target)
	})
}

func copyFile(srcFS, destFS afero.Fs, src, dest string) error {
	if err := destFS.MkdirAll(path.Dir(dest), 0755); err != nil {
		return err
	}
	in, err := srcFS.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := destFS.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func first(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[:n]
}

func last(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[len(s)-n:]
}

func splitExt(filePath string) (nameOnly, ext string) {
	ext = path.Ext(filePath)
	nameOnly = filePath[:len(filePath)-len(ext)]
	return nameOnly, ext
}

func normalizeFilePath(filePath string) string {
	maxLength := 64
	maxSegmentLength := 4
	filePath = strings.TrimLeft(filePath, "/")
	pathSegments := strings.Split(filePath, "/")
	normalizedFilePath := strings.Join(pathSegments, "_")

	// get first 4 letters of every directory, while longer than maxLength
	for i := 0; i < len(pathSegments)-1 && len(normalizedFilePath) > maxLength; i++ {
		pathSegments[i] = first(pathSegments[i], maxSegmentLength)
		normalizedFilePath = strings.Join(pathSegments, "_")
	}

	if len(normalizedFilePath) > maxLength {
		// if still to long get first maxSegmentLength letters of filename + extension
		nameOnly, ext := splitExt(pathSegments[len(pathSegments)-1])
		pathSegments[len(pathSegments)-1] = first(nameOnly, maxSegmentLength) + ext
		normalizedFilePath = strings.Join(pathSegments, "_")
	}

	return last(normalizedFilePath, maxLength)
}

// Unpack is the imageextract unpack commandline subcommand
func Unpack() *cobra.Command {
	var prefix bool
	var mode, output string
	unpackCmd := &cobra.Command{
		Use:   "unpack <archive>",
		Short: "Extract files from the sqlite archive",
		Args:  cobra.ExactArgs(1), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := sqlite.OpenConn(args[0], 0)
			if err != nil {
				return err
			}
			defer conn.Close()

			srcFS, err := sqlitefs.NewCursor(conn)
			if err != nil {
				return err
			}

			var m *manifest.Manifest
			if prefix {
				m, err = manifest.NewCursor(conn, srcFS)
				if err != nil {
					return err
				}
			}

			if err := os.MkdirAll(output, 0755); err != nil {
				return err
			}
			destFS := afero.NewBasePathFs(afero.NewOsFs(), output)

			return afero.Walk(srcFS, "/", func(srcPath string, info os.FileInfo, err error) error {
				if err != nil {
					log.Println(err)
				}
				if err != nil || info == nil || info.IsDir() {
					return nil
				}

				fullPath := filepath.ToSlash(srcPath)
				dest := destinationPath(fullPath, mode, m)

				fmt.Fprintf(cmd.OutOrStdout(), "unpack '%s' to '%s'\n", fullPath, dest)
				return copyFile(srcFS, destFS, fullPath, dest)
			})
		},
	}

	usage := `define the export filename and folder structure. can be one of:
folder (e.g. 'registry/PerUser/alice/NTUSER.DAT')
compact (e.g. 'regi_PerU_alice_NTUSER.DAT' for long paths)
basename (e.g. 'NTUSER.DAT')
`
	unpackCmd.Flags().StringVar(&mode, "mode", "folder", usage)
	usage = `create a folder for every artifact (e.g. 'SYSTEM/SYSTEM')
`
	unpackCmd.Flags().BoolVar(&prefix, "prefix-artifact", false, usage)
	unpackCmd.Flags().StringVarP(&output, "output", "o", ".", "destination folder")

	return unpackCmd
}

func destinationPath(fullPath string, mode string, m *manifest.Manifest) string {
	var dest string
	switch mode {
	case "basename":
		dest = path.Base(fullPath)
	case "compact":
		dest = normalizeFilePath(fullPath)
	case "folder":
		fallthrough
	default:
		dest = strings.TrimLeft(fullPath, "/")
	}

	if m != nil {
		dest = path.Join(artifactByPath(m, fullPath), dest)
	}
	return dest
}

func artifactByPath(m *manifest.Manifest, srcPath string) string {
	element, err := m.ByExportPath(srcPath)
	if err != nil {
		return ""
	}
	artifact := gjson.GetBytes(element, "artifact")
	if artifact.Exists() {
		return copierSafe(artifact.String())
	}
	return ""
}

func copierSafe(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(name)
}

// Ls is the imageextract ls commandline subcommand
func Ls() *cobra.Command {
	var pattern string
	lsCommand := &cobra.Command{
		Use:   "ls <archive|output folder>",
		Short: "List extracted files",
		Args:  requireOneOutput,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fs afero.Fs
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if info.IsDir() {
				fs = afero.NewBasePathFs(afero.NewOsFs(), args[0])
			} else {
				archive, err := sqlitefs.New(args[0])
				if err != nil {
					return err
				}
				defer archive.Close()
				fs = archive
			}

			if pattern != "" {
				// io/fs paths are unrooted
				matches, err := fsdoublestar.Glob(afero.NewIOFS(fs), strings.TrimLeft(pattern, "/"))
				if err != nil {
					return err
				}
				for _, match := range matches {
					if info, err := fs.Stat(match); err != nil || info.IsDir() {
						continue
					}
					fmt.Fprintln(cmd.OutOrStdout(), "/"+filepath.ToSlash(match))
				}
				return nil
			}

			return afero.Walk(fs, "/", func(path string, info os.FileInfo, err error) error {
				if err != nil || info == nil || info.IsDir() {
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), filepath.ToSlash(path))
				return nil
			})
		},
	}
	lsCommand.Flags().StringVar(&pattern, "pattern", "", "only list files matching this glob, e.g. '/registry/**'")
	return lsCommand
}
