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

// Package imageextract implements the imageextract command line tool that
// copies Windows forensic artifacts out of disk images.
//     extract   Extract artifacts from a raw or split image
//     validate  Check an output folder or archive against its manifest
//     catalog   List the artifacts that are extracted
//     element   Query the manifest (get, path, select, all)
//     pack      Add files to an sqlite archive
//     unpack    Extract files from an sqlite archive
//     ls        List extracted files
//
// Usage
//
// Extract into a timestamped folder next to the image
//     imageextract extract disk.raw
// Extract split images and add custom targets
//     imageextract extract --catalog mytargets.toml --output case42 disk.001
// Extract into an archive
//     imageextract extract --archive case42.sqlar disk.raw
//
// Inspect the output
//     imageextract validate case42
//     imageextract element select SYSTEM case42
//     imageextract unpack --mode compact --output flat case42.sqlar
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forensicanalysis/imageextract/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "imageextract",
		Short: "Extract forensic artifacts from disk images",
	}
	rootCmd.AddCommand(cmd.Commands()...)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}
