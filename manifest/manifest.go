// Package manifest reads, edits and compares pinned Python dependency
// manifests: pip requirements files and conda environment files.
package manifest

import (
	"regexp"
	"strings"
)

// Manifest formats.
const (
	FormatPip   = "pip"
	FormatConda = "conda"
)

var canonicalRe = regexp.MustCompile(`[-_.]+`)

// CanonicalName normalizes a package name the way package indexes do:
// runs of dots, dashes and underscores collapse to a single dash and the
// result is lowercased.
func CanonicalName(name string) string {
	return strings.ToLower(canonicalRe.ReplaceAllString(name, "-"))
}

// Comparison is a single version clause of a specifier, such as ">=1.2".
type Comparison struct {
	Op      string `json:"op"`
	Version string `json:"version"`
}

// Requirement is one dependency declaration from a manifest.
type Requirement struct {
	Name      string       `json:"name"`
	Extras    []string     `json:"extras,omitempty"`
	Specifier []Comparison `json:"specifier,omitempty"`
	Marker    string       `json:"marker,omitempty"`
	Comment   string       `json:"comment,omitempty"`
	Section   string       `json:"section,omitempty"`
	Line      int          `json:"line"`
}

// Canonical returns the normalized form of the requirement name.
func (r Requirement) Canonical() string {
	return CanonicalName(r.Name)
}

// Pinned reports the exact version the requirement is pinned to. It is
// false when the specifier is anything other than a single == or ===
// clause on a concrete version.
func (r Requirement) Pinned() (string, bool) {
	if len(r.Specifier) != 1 {
		return "", false
	}
	c := r.Specifier[0]
	if c.Op != "==" && c.Op != "===" {
		return "", false
	}
	if strings.HasSuffix(c.Version, ".*") {
		return "", false
	}
	return c.Version, true
}

// SpecifierString renders the specifier clauses in their written order,
// for example "==1.2.3" or ">=1.0,<2.0".
func (r Requirement) SpecifierString() string {
	parts := make([]string, 0, len(r.Specifier))
	for _, c := range r.Specifier {
		parts = append(parts, c.Op+c.Version)
	}
	return strings.Join(parts, ",")
}

// String renders the requirement as a single manifest line.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[")
		b.WriteString(strings.Join(r.Extras, ","))
		b.WriteString("]")
	}
	b.WriteString(r.SpecifierString())
	if r.Marker != "" {
		b.WriteString(" ; ")
		b.WriteString(r.Marker)
	}
	if r.Comment != "" {
		b.WriteString("  # ")
		b.WriteString(r.Comment)
	}
	return b.String()
}

// LineKind says what a manifest line holds.
type LineKind int

const (
	LineBlank LineKind = iota
	LineComment
	LineRequirement
)

// Line is one physical line of a manifest. Raw keeps the text exactly as
// read, so lines that are never edited survive a parse and render round
// trip byte for byte.
type Line struct {
	Kind LineKind
	Raw  string
	Req  *Requirement
}

// File is a parsed pip manifest with its line structure intact.
type File struct {
	Name  string
	Lines []Line
}

// Requirements returns the requirement entries in file order.
func (f *File) Requirements() []Requirement {
	var reqs []Requirement
	for _, ln := range f.Lines {
		if ln.Kind == LineRequirement && ln.Req != nil {
			reqs = append(reqs, *ln.Req)
		}
	}
	return reqs
}

// Get looks up a requirement by name. Names are compared in canonical
// form, so Get("Django") finds a "django" line.
func (f *File) Get(name string) (Requirement, bool) {
	if i, ok := f.find(name); ok {
		return *f.Lines[i].Req, true
	}
	return Requirement{}, false
}

func (f *File) find(name string) (int, bool) {
	want := CanonicalName(name)
	for i, ln := range f.Lines {
		if ln.Kind == LineRequirement && ln.Req != nil && ln.Req.Canonical() == want {
			return i, true
		}
	}
	return 0, false
}

// String renders the manifest. Output ends with a trailing newline
// unless the file is empty.
func (f *File) String() string {
	if len(f.Lines) == 0 {
		return ""
	}
	var b strings.Builder
	for _, ln := range f.Lines {
		b.WriteString(ln.Raw)
		b.WriteByte('\n')
	}
	return b.String()
}

// renumber recomputes line numbers and section labels after the line
// slice changed.
func (f *File) renumber() {
	section := ""
	for i := range f.Lines {
		ln := &f.Lines[i]
		switch ln.Kind {
		case LineComment:
			section = commentText(ln.Raw)
		case LineRequirement:
			if ln.Req != nil {
				ln.Req.Line = i + 1
				ln.Req.Section = section
			}
		}
	}
}

func commentText(raw string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "#"))
}
