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

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/forensicanalysis/imageextract/manifest"
)

// Element is the imageextract element commandline subcommand
func Element() *cobra.Command {
	elementCommand := &cobra.Command{
		Use:   "element",
		Short: "Query the manifest of an output folder or archive",
	}
	elementCommand.AddCommand(getCommand(), pathCommand(), selectCommand(), allCommand())
	return elementCommand
}

func getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id> <output folder|archive>",
		Short: "Retrieve a single element",
		Args:  cobra.ExactArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := openManifest(args[1])
			if err != nil {
				return err
			}
			defer closer()
			element, err := m.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", element)
			return nil
		},
	}
}

func pathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path <export path> <output folder|archive>",
		Short: "Retrieve the element of an extracted file",
		Args:  cobra.ExactArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := openManifest(args[1])
			if err != nil {
				return err
			}
			defer closer()
			element, err := m.ByExportPath(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", element)
			return nil
		},
	}
}

func selectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "select <artifact> <output folder|archive>",
		Short: "Retrieve all elements of an artifact",
		Args:  cobra.ExactArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := openManifest(args[1])
			if err != nil {
				return err
			}
			defer closer()
			elements, err := m.All()
			if err != nil {
				return err
			}
			var selected []manifest.JSONElement
			for _, element := range elements {
				if gjson.GetBytes(element, "artifact").String() == args[0] {
					selected = append(selected, element)
				}
			}
			printElements(cmd.OutOrStdout(), selected)
			return nil
		},
	}
}

func allCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "all <output folder|archive>",
		Short: "Retrieve all elements",
		Args:  cobra.ExactArgs(1), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := openManifest(args[0])
			if err != nil {
				return err
			}
			defer closer()
			elements, err := m.All()
			if err != nil {
				return err
			}
			printElements(cmd.OutOrStdout(), elements)
			return nil
		},
	}
}

func printElements(w io.Writer, elements []manifest.JSONElement) {
	fmt.Fprint(w, "[")
	for i, element := range elements {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprintf(w, "%s", element)
	}
	fmt.Fprintln(w, "]")
}
