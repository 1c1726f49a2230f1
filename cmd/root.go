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
	"os"
	"path/filepath"
	"strings"

	"crawshaw.io/sqlite"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/imageextract/manifest"
	"github.com/forensicanalysis/imageextract/sqlitefs"
)

// Validate is the imageextract validate commandline subcommand
func Validate() *cobra.Command {
	var noFail bool
	validateCommand := &cobra.Command{
		Use:   "validate <output folder|archive>",
		Short: "Check extracted files against the manifest",
		Args:  requireOneOutput,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := openManifest(args[0])
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), err)
				return err
			}
			defer closer()

			valErr, err := m.Validate()
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), err)
				return err
			}
			if len(valErr) > 0 {
				for i, v := range valErr {
					valErr[i] = strings.Replace(v, "\"", "\\\"", -1)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[\"%s\"]\n", strings.Join(valErr, "\", \""))
				if noFail {
					return nil
				}
				return errors.Errorf("%d flaws found", len(valErr))
			}
			return nil
		},
	}
	validateCommand.Flags().BoolVar(&noFail, "no-fail", false, "return exit code 0")
	return validateCommand
}

// openManifest opens the manifest of an output folder or an archive.
func openManifest(location string) (*manifest.Manifest, func(), error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, nil, err
	}

	if info.IsDir() {
		fs := afero.NewBasePathFs(afero.NewOsFs(), location)
		m, err := manifest.Open(filepath.Join(location, manifest.Name), fs)
		if err != nil {
			return nil, nil, err
		}
		return m, func() { m.Close() }, nil
	}

	conn, err := sqlite.OpenConn(location, 0)
	if err != nil {
		return nil, nil, err
	}
	fs, err := sqlitefs.NewCursor(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	m, err := manifest.NewCursor(conn, fs)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return m, func() { conn.Close() }, nil
}

// Catalog is the imageextract catalog commandline subcommand
func Catalog() *cobra.Command {
	var catalogs []string
	catalogCommand := &cobra.Command{
		Use:   "catalog",
		Short: "List the artifacts that are extracted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(catalogs)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, t := range c.Targets {
				scope := "system"
				if t.PerUser {
					scope = "user"
				}
				fallback := ""
				if t.Search != nil {
					fallback = fmt.Sprintf("%s %q in %s", t.Search.Mode, t.Search.Match, strings.Join(t.Search.Parents, ", "))
				}
				rows = append(rows, []string{
					t.Category, t.Label, string(t.Kind), scope,
					strings.Join(t.Candidates, "\n"), fallback, t.Dest,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Category", "Label", "Kind", "Scope", "Candidates", "Search", "Destination"},
				rows, nil,
			))
			return nil
		},
	}
	catalogCommand.Flags().StringArrayVar(&catalogs, "catalog", nil, "additional catalog file (toml), can be repeated")
	return catalogCommand
}

// Commands returns all imageextract subcommands.
func Commands() []*cobra.Command {
	return []*cobra.Command{Extract(), Validate(), Catalog(), Element(), Pack(), Unpack(), Ls()}
}

func requireOneOutput(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("requires exactly one output folder or archive")
	}
	for _, arg := range args {
		if _, err := os.Stat(arg); os.IsNotExist(err) {
			return errors.Wrap(os.ErrNotExist, arg)
		}
	}
	return nil
}
