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
	"path/filepath"
	"time"

	"crawshaw.io/sqlite"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/imageextract"
	"github.com/forensicanalysis/imageextract/catalog"
	"github.com/forensicanalysis/imageextract/manifest"
	"github.com/forensicanalysis/imageextract/ntfs"
	"github.com/forensicanalysis/imageextract/sqlitefs"
	"github.com/forensicanalysis/imageextract/volume"
)

// openFileSystem opens the filesystems inside images.
var openFileSystem volume.Opener = ntfs.Open

// Extract is the imageextract extract commandline subcommand
func Extract() *cobra.Command {
	var output, archive, logFile string
	var catalogs []string
	var writeManifest, quiet bool

	extractCommand := &cobra.Command{
		Use:   "extract <image>",
		Short: "Extract forensic artifacts from a disk image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			closer, err := setupLogging(cmd.ErrOrStderr(), logFile, quiet)
			if err != nil {
				return err
			}
			defer closer.Close()

			c, err := loadCatalog(catalogs)
			if err != nil {
				return err
			}

			sink, err := openSink(args[0], output, archive, writeManifest)
			if err != nil {
				return err
			}
			defer sink.Close()

			volumeDescription := ""
			var recordErr error
			report, err := imageextract.Extract(args[0], sink.root, imageextract.Options{
				OnLog:          func(msg string) { log.Print(msg) },
				Catalog:        c,
				Output:         sink.fs,
				OpenFileSystem: openFileSystem,
				OnProgress: func(e imageextract.Event) {
					switch e.Outcome {
					case imageextract.Selected:
						volumeDescription = e.Source
					case imageextract.Saved:
						if sink.manifest == nil || recordErr != nil {
							return
						}
						recordErr = sink.manifest.Record(e.Target, volumeDescription, e.Files)
					}
				},
			})
			if err != nil {
				return err
			}
			if recordErr != nil {
				return errors.Wrap(recordErr, "could not write manifest")
			}

			printReport(cmd.OutOrStdout(), report, sink.location)
			return nil
		},
	}
	extractCommand.Flags().StringVarP(&output, "output", "o", "", "output folder (default <image>_artifacts_<time> next to the image)")
	extractCommand.Flags().StringVar(&archive, "archive", "", "write into this sqlite archive instead of a folder")
	extractCommand.Flags().BoolVar(&writeManifest, "manifest", true, "record saved files with hashes in "+manifest.Name)
	extractCommand.Flags().StringArrayVar(&catalogs, "catalog", nil, "additional catalog file (toml), can be repeated")
	extractCommand.Flags().StringVar(&logFile, "log-file", "", "also log to this file")
	extractCommand.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not log to stderr")
	return extractCommand
}

func loadCatalog(files []string) (*catalog.Catalog, error) {
	c := catalog.Default()
	for _, file := range files {
		extra, err := catalog.Load(afero.NewOsFs(), file)
		if err != nil {
			return nil, err
		}
		if err := c.Merge(extra); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// sink is where a run writes to: a folder or an sqlite archive, optionally
// with a manifest.
type sink struct {
	fs       afero.Fs
	root     string
	location string
	manifest *manifest.Manifest
	conn     *sqlite.Conn
}

func openSink(image, output, archive string, withManifest bool) (*sink, error) {
	if archive != "" {
		conn, err := sqlite.OpenConn(archive, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "could not open %s", archive)
		}
		s := &sink{conn: conn, location: archive}
		s.fs, err = sqlitefs.NewCursor(conn)
		if err != nil {
			s.Close()
			return nil, err
		}
		if withManifest {
			s.manifest, err = manifest.NewCursor(conn, s.fs)
			if err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil
	}

	if output == "" {
		output = imageextract.DefaultOutput(image, time.Now())
	}
	if err := os.MkdirAll(output, 0755); err != nil {
		return nil, err
	}
	s := &sink{
		fs:       afero.NewBasePathFs(afero.NewOsFs(), output),
		root:     output,
		location: output,
	}
	if withManifest {
		var err error
		s.manifest, err = manifest.New(filepath.Join(output, manifest.Name), s.fs)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *sink) Close() error {
	var err error
	if s.manifest != nil {
		err = s.manifest.Close()
	}
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func printReport(w io.Writer, report *imageextract.Report, location string) {
	rows := [][]string{
		{"Image", report.Image},
		{"Volume", fmt.Sprintf("%s (offset %d)", report.Volume.Description, report.Volume.Offset)},
		{"Output", location},
		{"Saved artifacts", fmt.Sprint(report.Saved)},
		{"Missing artifacts", fmt.Sprint(report.Missing)},
		{"Files", fmt.Sprint(report.Files)},
		{"Bytes", humanize.Bytes(uint64(report.Bytes))},
		{"Duration", report.Finished.Sub(report.Started).Round(time.Millisecond).String()},
	}

	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		fmt.Fprintln(w, renderTable([]string{"Run", report.RunID}, rows, nil))
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s: %s\n", row[0], row[1])
	}
}
