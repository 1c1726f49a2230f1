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

package catalog

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	var labels []string
	for _, target := range c.System() {
		assert.False(t, target.PerUser)
		labels = append(labels, target.Label)
	}
	assert.Contains(t, labels, "SYSTEM")
	assert.Contains(t, labels, "$UsnJrnl:$J")
	assert.Contains(t, labels, "Prefetch")

	for _, target := range c.PerUser() {
		assert.True(t, target.PerUser)
	}
	assert.NotEmpty(t, c.PerUser())

	// Default returns a fresh copy every time.
	c.Targets = nil
	assert.NotEmpty(t, Default().Targets)
}

func TestExpand(t *testing.T) {
	target := Target{
		Category:   "browser",
		Label:      "Chrome",
		Kind:       Directory,
		PerUser:    true,
		Candidates: []string{"{home}/AppData/Local/Google/Chrome/User Data/Default"},
		Dest:       "browser/Chrome/{user}",
		Search:     &Search{Parents: []string{"{home}/AppData"}, Match: "local", Mode: Equal},
	}

	expanded := target.Expand("/Users/alice/", "alice")
	assert.Equal(t, []string{"/Users/alice/AppData/Local/Google/Chrome/User Data/Default"}, expanded.Candidates)
	assert.Equal(t, "browser/Chrome/alice", expanded.Dest)
	assert.Equal(t, []string{"/Users/alice/AppData"}, expanded.Search.Parents)

	assert.Equal(t, "{home}/AppData/Local/Google/Chrome/User Data/Default", target.Candidates[0])
	assert.Equal(t, "{home}/AppData", target.Search.Parents[0])
}

func TestSearch_Matches(t *testing.T) {
	tests := []struct {
		name   string
		search Search
		entry  string
		want   bool
	}{
		{"prefix", Search{Match: "$usnjrnl", Mode: Prefix}, "$UsnJrnl", true},
		{"prefix longer", Search{Match: "$usnjrnl", Mode: Prefix}, "$UsnJrnl_old", true},
		{"prefix default mode", Search{Match: "$usnjrnl"}, "$USNJRNL", true},
		{"prefix miss", Search{Match: "$usnjrnl", Mode: Prefix}, "$Secure", false},
		{"equal", Search{Match: "prefetch", Mode: Equal}, "PreFetch", true},
		{"equal miss", Search{Match: "prefetch", Mode: Equal}, "Prefetch.old", false},
		{"contains", Search{Match: "fetch", Mode: Contains}, "PREFETCH", true},
		{"unicode", Search{Match: "ärger", Mode: Equal}, "ÄRGER", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.search.Matches(tt.entry))
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
		wantErr string
	}{
		{"valid", `
[users]
exclude = ["Guest"]

[[target]]
category = "custom"
label = "hosts"
kind = "file"
candidates = ["/Windows/System32/drivers/etc/hosts"]
dest = "custom"

[[target]]
category = "custom"
label = "tasks"
kind = "directory"
dest = "custom/tasks"

[target.search]
parents = ["/Windows"]
match = "tasks"
mode = "equal"
`, ""},
		{"unknown field", "[[target]]\nlabel = \"x\"\ncolor = \"red\"\n", "could not decode catalog"},
		{"missing label", "[[target]]\nkind = \"file\"\ncandidates = [\"/x\"]\n", "missing label"},
		{"unknown kind", "[[target]]\nlabel = \"x\"\nkind = \"link\"\ncandidates = [\"/x\"]\n", "unknown kind"},
		{"no candidates", "[[target]]\nlabel = \"x\"\nkind = \"file\"\n", "no candidates and no search"},
		{"directory without dest", "[[target]]\nlabel = \"x\"\nkind = \"directory\"\ncandidates = [\"/x\"]\n", "need a dest"},
		{"dest escapes", "[[target]]\nlabel = \"x\"\nkind = \"file\"\ncandidates = [\"/x\"]\ndest = \"../x\"\n", "must not contain .."},
		{"name with slash", "[[target]]\nlabel = \"x\"\nkind = \"file\"\ncandidates = [\"/x\"]\nname = \"a/b\"\n", "must not contain /"},
		{"placeholder without per_user", "[[target]]\nlabel = \"x\"\nkind = \"file\"\ncandidates = [\"{home}/x\"]\n", "need per_user"},
		{"bad search mode", "[[target]]\nlabel = \"x\"\nkind = \"file\"\n[target.search]\nparents = [\"/\"]\nmatch = \"x\"\nmode = \"regex\"\n", "unknown search mode"},
		{"search without parents", "[[target]]\nlabel = \"x\"\nkind = \"file\"\n[target.search]\nmatch = \"x\"\n", "needs parents and match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(strings.NewReader(tt.catalog))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.Targets, 2)
			assert.Equal(t, []string{"Guest"}, c.Users.Exclude)
			assert.Equal(t, Equal, c.Targets[1].Search.Mode)
		})
	}
}

func TestLoadAndMerge(t *testing.T) {
	fs := afero.NewMemMapFs()
	extra := "[users]\nexclude = [\"Guest\"]\n\n[[target]]\ncategory = \"custom\"\nlabel = \"hosts\"\nkind = \"file\"\ncandidates = [\"/Windows/System32/drivers/etc/hosts\"]\n"
	require.NoError(t, afero.WriteFile(fs, "/extra.toml", []byte(extra), 0644))

	other, err := Load(fs, "/extra.toml")
	require.NoError(t, err)

	c := Default()
	before := len(c.Targets)
	containers := c.Users.Containers
	require.NoError(t, c.Merge(other))

	assert.Len(t, c.Targets, before+1)
	assert.Equal(t, "hosts", c.Targets[before].Label)
	assert.Equal(t, containers, c.Users.Containers)
	assert.True(t, c.Excluded("guest"))
	assert.False(t, c.Excluded("Public"))

	_, err = Load(fs, "/missing.toml")
	assert.Error(t, err)
}

func TestMerge_Users(t *testing.T) {
	tests := []struct {
		name           string
		other          Users
		wantContainers []string
		wantExclude    []string
	}{
		{"nothing set", Users{}, []string{"/Users"}, []string{"Public"}},
		{"containers set", Users{Containers: []string{"/Profiles"}}, []string{"/Profiles"}, []string{"Public"}},
		{"both set", Users{Containers: []string{"/Profiles"}, Exclude: []string{"Guest"}}, []string{"/Profiles"}, []string{"Guest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Catalog{Users: Users{Containers: []string{"/Users"}, Exclude: []string{"Public"}}}
			require.NoError(t, c.Merge(&Catalog{Users: tt.other}))
			assert.Equal(t, tt.wantContainers, c.Users.Containers)
			assert.Equal(t, tt.wantExclude, c.Users.Exclude)
		})
	}
	assert.NoError(t, Default().Merge(nil))
}

func TestExcluded(t *testing.T) {
	c := Default()
	for _, account := range []string{"Public", "public", "All Users", "Default", "DEFAULT USER", ".", ".."} {
		assert.True(t, c.Excluded(account), account)
	}
	assert.False(t, c.Excluded("alice"))
}
