package manifest

import (
	"sort"
	"strings"
)

// ChangedRequirement pairs the two declarations of a requirement whose
// constraint changed between revisions.
type ChangedRequirement struct {
	Name string      `json:"name"`
	From Requirement `json:"from"`
	To   Requirement `json:"to"`
}

// Changes summarizes the requirement level difference between two
// manifests.
type Changes struct {
	Added   []Requirement        `json:"added,omitempty"`
	Removed []Requirement        `json:"removed,omitempty"`
	Changed []ChangedRequirement `json:"changed,omitempty"`
}

// Empty reports whether the two sides declare the same requirements.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares two requirement sets by canonical name. A requirement
// counts as changed when its specifier, extras or marker differ. Results
// are sorted by name.
func Diff(from, to []Requirement) Changes {
	fromByName := byCanonical(from)
	toByName := byCanonical(to)

	var ch Changes
	for name, req := range toByName {
		old, ok := fromByName[name]
		if !ok {
			ch.Added = append(ch.Added, req)
			continue
		}
		if !sameConstraint(old, req) {
			ch.Changed = append(ch.Changed, ChangedRequirement{Name: name, From: old, To: req})
		}
	}
	for name, req := range fromByName {
		if _, ok := toByName[name]; !ok {
			ch.Removed = append(ch.Removed, req)
		}
	}

	sort.Slice(ch.Added, func(i, j int) bool { return ch.Added[i].Canonical() < ch.Added[j].Canonical() })
	sort.Slice(ch.Removed, func(i, j int) bool { return ch.Removed[i].Canonical() < ch.Removed[j].Canonical() })
	sort.Slice(ch.Changed, func(i, j int) bool { return ch.Changed[i].Name < ch.Changed[j].Name })
	return ch
}

// byCanonical keeps the first declaration when a name repeats.
func byCanonical(reqs []Requirement) map[string]Requirement {
	m := make(map[string]Requirement, len(reqs))
	for _, req := range reqs {
		if _, ok := m[req.Canonical()]; !ok {
			m[req.Canonical()] = req
		}
	}
	return m
}

func sameConstraint(a, b Requirement) bool {
	return a.SpecifierString() == b.SpecifierString() &&
		a.Marker == b.Marker &&
		strings.Join(a.Extras, ",") == strings.Join(b.Extras, ",")
}
