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
	"path"
	"strings"

	"github.com/forensicanalysis/imageextract/catalog"
	"github.com/forensicanalysis/imageextract/copier"
	"github.com/forensicanalysis/imageextract/resolve"
)

var categoryNames = map[string]string{
	"registry":   "registry hives",
	"filesystem": "filesystem artifacts",
	"eventlogs":  "Windows Event Logs",
	"prefetch":   "Prefetch",
	"browser":    "browser profiles",
	"users":      "per user artifacts",
}

func (r *run) enter(category string) {
	if category == r.current {
		return
	}
	r.current = category
	name, ok := categoryNames[category]
	if !ok {
		name = category
	}
	r.logf("Extracting %s...", name)
}

// extract tries every candidate of the target, then its search fallback, and
// stops at the first path that could be copied.
func (r *run) extract(target catalog.Target) bool {
	r.enter(target.Category)

	for _, candidate := range target.Candidates {
		if r.try(target, candidate) {
			return true
		}
	}

	if target.Search != nil {
		for _, candidate := range r.search(target.Search) {
			if r.try(target, candidate) {
				return true
			}
		}
	}

	r.report.Missing++
	r.logf("MISSING %s", target.Label)
	r.emit(Event{Category: target.Category, Target: target.Label, Outcome: Missing, Destination: target.Dest})
	return false
}

// try copies a single candidate path. Candidates that do not resolve are
// skipped silently, the target logs its miss once all are exhausted.
func (r *run) try(target catalog.Target, candidate string) bool {
	resolved, err := resolve.Resolve(r.fs, candidate)
	if err != nil {
		return false
	}

	destination := target.Dest
	if target.Kind == catalog.File {
		name := target.Name
		if name == "" {
			name = copier.SafeName(resolve.Base(resolved))
		}
		destination = path.Join(target.Dest, name)
	}

	c := copier.New(r.fs, r.out)
	c.OnLog = func(msg string) { r.logf("%s", msg) }
	result := c.CopyResult(resolved, path.Join("/", destination))
	if !result.OK {
		return false
	}

	r.report.Saved++
	r.report.Files += result.Files
	r.report.Bytes += result.Bytes
	r.logf("SAVED %s -> %s", target.Label, destination)
	r.emit(Event{
		Category:    target.Category,
		Target:      target.Label,
		Outcome:     Saved,
		Source:      resolved,
		Destination: destination,
		Files:       result.Outcomes,
	})
	return true
}

// search lists the children of every search parent and returns the matching
// ones joined with the sub path, in listing order.
func (r *run) search(s *catalog.Search) []string {
	var candidates []string
	for _, parent := range s.Parents {
		resolved, err := resolve.Resolve(r.fs, parent)
		if err != nil {
			continue
		}
		entries, err := r.fs.ReadDir(resolved)
		if err != nil {
			r.logf("could not list %s: %s", resolved, err)
			continue
		}
		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." || !s.Matches(entry.Name) {
				continue
			}
			candidate := resolve.Join(resolved, entry.Name)
			if s.SubPath != "" {
				candidate = resolve.Join(candidate, strings.Trim(s.SubPath, "/"))
			}
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

// allUsers stands in for the account name when no account could be listed.
const allUsers = "*"

// extractUsers runs the per user targets for every account in the first
// users container found.
func (r *run) extractUsers() {
	targets := r.opts.Catalog.PerUser()
	if len(targets) == 0 {
		return
	}
	r.enter("users")

	container := ""
	for _, candidate := range r.opts.Catalog.Users.Containers {
		resolved, err := resolve.Resolve(r.fs, candidate)
		if err == nil {
			container = resolved
			break
		}
	}
	if container == "" {
		r.logf("Users folder not found, skipping per user artifacts.")
		r.missUsers(targets, "users folder not found")
		return
	}

	entries, err := r.fs.ReadDir(container)
	if err != nil {
		r.logf("could not list %s: %s", container, err)
		r.missUsers(targets, err.Error())
		return
	}

	for _, entry := range entries {
		if !entry.IsDir || r.opts.Catalog.Excluded(entry.Name) || copier.SafeName(entry.Name) == "" {
			continue
		}
		home := resolve.Join(container, entry.Name)
		user := copier.SafeName(entry.Name)
		r.logf("Extracting artifacts of user %s...", entry.Name)
		r.current = ""
		for _, target := range targets {
			r.extract(target.Expand(home, user))
		}
	}
}

// missUsers reports every per user target as missing for all accounts.
func (r *run) missUsers(targets []catalog.Target, reason string) {
	for _, target := range targets {
		target = target.Expand("", allUsers)
		r.report.Missing++
		r.logf("MISSING %s", target.Label)
		r.emit(Event{Category: target.Category, Target: target.Label, Outcome: Missing, Err: reason})
	}
}
