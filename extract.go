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

package imageextract

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/forensicanalysis/imageextract/catalog"
	"github.com/forensicanalysis/imageextract/copier"
	"github.com/forensicanalysis/imageextract/evidence"
	"github.com/forensicanalysis/imageextract/ntfs"
	"github.com/forensicanalysis/imageextract/volume"
)

// Outcome is the state a target reached.
type Outcome string

// Run and target states.
const (
	Started  Outcome = "started"
	Selected Outcome = "volume selected"
	Saved    Outcome = "saved"
	Missing  Outcome = "missing"
	Complete Outcome = "complete"
	Failed   Outcome = "failed"
)

// Event is emitted through Options.OnProgress at run start, once the volume
// is selected, for every target and at run end. A run that started ends with
// either Complete or Failed.
type Event struct {
	RunID       string
	Category    string
	Target      string
	Outcome     Outcome
	Source      string
	Destination string
	Files       []copier.Outcome
	Err         string
}

// Report summarizes a finished run.
type Report struct {
	RunID    string
	Image    string
	Volume   volume.Descriptor
	Saved    int
	Missing  int
	Files    int
	Bytes    int64
	Started  time.Time
	Finished time.Time
}

// Options configures Extract. The zero value extracts the default catalog
// from NTFS volumes to the local disk.
type Options struct {
	OnLog      func(msg string)
	OnProgress func(Event)

	Catalog *catalog.Catalog
	// SourceFs holds the image segments.
	SourceFs afero.Fs
	// Output receives the artifacts. If set, outputRoot is ignored.
	Output afero.Fs
	// OpenFileSystem opens a filesystem inside the image.
	OpenFileSystem volume.Opener
}

// ImageOpenError is returned if the image cannot be opened.
type ImageOpenError struct {
	Path string
	Err  error
}

func (e *ImageOpenError) Error() string {
	return fmt.Sprintf("could not open image %s: %s", e.Path, e.Err)
}

func (e *ImageOpenError) Unwrap() error { return e.Err }

// Cause lets errors.Cause see the underlying error.
func (e *ImageOpenError) Cause() error { return e.Err }

type run struct {
	id      string
	opts    Options
	fs      volume.FileSystem
	out     afero.Fs
	report  *Report
	current string
}

func (r *run) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if r.opts.OnLog != nil {
		r.opts.OnLog(msg)
		return
	}
	log.Print(msg)
}

func (r *run) emit(e Event) {
	e.RunID = r.id
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(e)
	}
}

// Extract copies all catalog targets from the image at imagePath to
// outputRoot. Missing or damaged artifacts are logged and reported as events;
// only a failure to open the image or to find a usable volume is returned as
// an error. Output that was written stays in place in either case.
func Extract(imagePath, outputRoot string, opts Options) (*Report, error) {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.SourceFs == nil {
		opts.SourceFs = afero.NewOsFs()
	}
	if opts.OpenFileSystem == nil {
		opts.OpenFileSystem = ntfs.Open
	}
	r := &run{
		id:     uuid.New().String(),
		opts:   opts,
		report: &Report{Image: imagePath, Started: time.Now()},
	}
	r.report.RunID = r.id

	image, err := evidence.Open(opts.SourceFs, imagePath)
	if err != nil {
		return nil, &ImageOpenError{Path: imagePath, Err: err}
	}
	defer image.Close()
	r.logf("Opened image: %s", imagePath)
	r.emit(Event{Outcome: Started, Source: imagePath})

	descriptor, err := volume.Select(image, image.Size(), opts.OpenFileSystem)
	if err != nil {
		return nil, r.fail(err)
	}
	r.fs = descriptor.FileSystem
	r.report.Volume = *descriptor
	r.logf("Filesystem opened at byte offset: %d (%s)", descriptor.Offset, descriptor.Description)
	r.emit(Event{Outcome: Selected, Source: descriptor.Description})

	r.out = opts.Output
	if r.out == nil {
		if err := os.MkdirAll(outputRoot, 0755); err != nil {
			return nil, r.fail(errors.Wrapf(err, "could not create %s", outputRoot))
		}
		r.out = afero.NewBasePathFs(afero.NewOsFs(), outputRoot)
	}

	for _, target := range opts.Catalog.System() {
		r.extract(target)
	}
	r.extractUsers()

	r.report.Finished = time.Now()
	r.logf("Extraction complete.")
	r.emit(Event{Outcome: Complete})
	return r.report, nil
}

// fail ends a started run with a Failed event.
func (r *run) fail(err error) error {
	r.report.Finished = time.Now()
	r.logf("Extraction failed: %s", err)
	r.emit(Event{Outcome: Failed, Err: err.Error()})
	return err
}

// DefaultOutput returns the output folder used when none is given: a sibling
// of the image named after its stem and the current time.
func DefaultOutput(imagePath string, now time.Time) string {
	base := filepath.Base(imagePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(imagePath), fmt.Sprintf("%s_artifacts_%s", stem, now.Format("20060102_150405")))
}
