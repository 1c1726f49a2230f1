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

// Package imageextract extracts forensic artifacts from Windows disk images.
//
// Extract opens a possibly segmented image, picks the filesystem that looks
// like a Windows system volume and copies every target of an artifact catalog
// out of it: registry hives, filesystem metadata, event logs, prefetch files,
// browser profiles and per user hives. Paths are resolved case insensitively
// against the names stored on disk.
//
// Output layout
//
// The output tree has a fixed layout:
//     output/
//     ├── registry
//     │   ├── System
//     │   └── PerUser/<account>
//     ├── filesystem
//     ├── eventlogs
//     ├── prefetch
//     ├── browser/<browser>/<account>
//     └── item.db (optional manifest)
//
// A missing or unreadable artifact never stops a run. It is logged and
// reported as an Event, everything that could be copied is kept.
package imageextract
