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

// Package catalog holds the list of artifacts an extraction run pursues.
//
// The catalog is data: every target is an ordered list of candidate paths
// plus an optional search fallback, so a new artifact is a new TOML entry
// and not new control flow. The built in catalog is embedded from
// default.toml, user catalogs are appended to it.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/imdario/mergo"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

//go:embed default.toml
var defaultCatalog []byte

// Kind tells how a target is copied.
type Kind string

const (
	// File targets are single files.
	File Kind = "file"
	// Directory targets are copied recursively.
	Directory Kind = "directory"
)

// Search modes.
const (
	Prefix   = "prefix"
	Equal    = "equal"
	Contains = "contains"
)

// Search describes the fallback used when no candidate of a target exists:
// the children of each parent that match are tried, joined with SubPath.
type Search struct {
	Parents []string `toml:"parents"`
	Match   string   `toml:"match"`
	Mode    string   `toml:"mode"`
	SubPath string   `toml:"sub_path"`
}

// Matches reports whether the directory entry name fits the search. The
// comparison lower-cases both sides with Unicode case mapping.
func (s *Search) Matches(name string) bool {
	name = strings.ToLower(name)
	match := strings.ToLower(s.Match)
	switch s.Mode {
	case Equal:
		return name == match
	case Contains:
		return strings.Contains(name, match)
	default:
		return strings.HasPrefix(name, match)
	}
}

// Target is a single artifact.
type Target struct {
	Category   string   `toml:"category"`
	Label      string   `toml:"label"`
	Kind       Kind     `toml:"kind"`
	Candidates []string `toml:"candidates"`
	Dest       string   `toml:"dest"`
	// Name overrides the output file name of file targets.
	Name    string  `toml:"name,omitempty"`
	PerUser bool    `toml:"per_user,omitempty"`
	Search  *Search `toml:"search,omitempty"`
}

// Expand returns a copy of a per user target with {home} and {user}
// substituted in candidates and dest.
func (t Target) Expand(home, user string) Target {
	r := strings.NewReplacer("{home}", strings.TrimRight(home, "/"), "{user}", user)
	expanded := t
	expanded.Candidates = make([]string, len(t.Candidates))
	for i, candidate := range t.Candidates {
		expanded.Candidates[i] = r.Replace(candidate)
	}
	expanded.Dest = r.Replace(t.Dest)
	expanded.Label = r.Replace(t.Label)
	if t.Search != nil {
		search := *t.Search
		search.Parents = make([]string, len(t.Search.Parents))
		for i, parent := range t.Search.Parents {
			search.Parents[i] = r.Replace(parent)
		}
		expanded.Search = &search
	}
	return expanded
}

// Users configures the per user enumeration.
type Users struct {
	Containers []string `toml:"containers"`
	Exclude    []string `toml:"exclude"`
}

// Catalog is an ordered list of targets.
type Catalog struct {
	Users   Users    `toml:"users"`
	Targets []Target `toml:"target"`
}

// Default returns a fresh copy of the built in catalog.
func Default() *Catalog {
	c, err := Parse(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %s", err))
	}
	return c
}

// Parse decodes and validates a catalog. Unknown keys are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	c := &Catalog{}
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		return nil, errors.Wrap(err, "could not decode catalog")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads a catalog file from fs.
func Load(fs afero.Fs, name string) (*Catalog, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open catalog %s", name)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return c, nil
}

// Validate checks that every target can be run.
func (c *Catalog) Validate() error {
	for i, t := range c.Targets {
		name := t.Label
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		switch {
		case t.Label == "":
			return errors.Errorf("target %s: missing label", name)
		case t.Kind != File && t.Kind != Directory:
			return errors.Errorf("target %s: unknown kind %q", name, t.Kind)
		case len(t.Candidates) == 0 && t.Search == nil:
			return errors.Errorf("target %s: no candidates and no search", name)
		case t.Dest == "" && t.Kind == Directory:
			return errors.Errorf("target %s: directory targets need a dest", name)
		case strings.Contains(t.Dest, ".."):
			return errors.Errorf("target %s: dest must not contain ..", name)
		case strings.Contains(t.Name, "/"):
			return errors.Errorf("target %s: name must not contain /", name)
		}
		if !t.PerUser {
			for _, candidate := range t.Candidates {
				if strings.Contains(candidate, "{home}") || strings.Contains(candidate, "{user}") {
					return errors.Errorf("target %s: placeholders need per_user", name)
				}
			}
		}
		if t.Search != nil {
			switch t.Search.Mode {
			case "", Prefix, Equal, Contains:
			default:
				return errors.Errorf("target %s: unknown search mode %q", name, t.Search.Mode)
			}
			if len(t.Search.Parents) == 0 || t.Search.Match == "" {
				return errors.Errorf("target %s: search needs parents and match", name)
			}
		}
	}
	return nil
}

// Merge appends the targets of other. Users settings of other replace the
// current ones if set.
func (c *Catalog) Merge(other *Catalog) error {
	if other == nil {
		return nil
	}
	if err := mergo.Merge(&c.Users, other.Users, mergo.WithOverride); err != nil {
		return errors.Wrap(err, "could not merge users settings")
	}
	c.Targets = append(c.Targets, other.Targets...)
	return nil
}

// System returns the targets that are not per user, in catalog order.
func (c *Catalog) System() []Target {
	var targets []Target
	for _, t := range c.Targets {
		if !t.PerUser {
			targets = append(targets, t)
		}
	}
	return targets
}

// PerUser returns the per user targets, in catalog order.
func (c *Catalog) PerUser() []Target {
	var targets []Target
	for _, t := range c.Targets {
		if t.PerUser {
			targets = append(targets, t)
		}
	}
	return targets
}

// Excluded reports whether the account is a shared or synthetic profile.
func (c *Catalog) Excluded(account string) bool {
	for _, exclude := range c.Users.Exclude {
		if strings.EqualFold(exclude, account) {
			return true
		}
	}
	return false
}
